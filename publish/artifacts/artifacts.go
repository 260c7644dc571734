// Package artifacts reads compiled contract artifacts produced by Hardhat or
// Foundry and binds their bytecode to the checked-in contract descriptors.
package artifacts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/moc-protocol/protocol/publish"
)

var (
	ErrNotFound    = errors.New("artifact not found")
	ErrAmbiguous   = errors.New("artifact name is ambiguous")
	ErrABIMismatch = errors.New("artifact abi does not match binding")
)

// Artifact is a compiled contract.
type Artifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     Bytecode        `json:"bytecode"`
}

// Bytecode handles both artifact formats:
// - Hardhat: "bytecode": "0x6080..."
// - Foundry: "bytecode": {"object": "0x6080..."}
type Bytecode []byte

func (b *Bytecode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*b = common.FromHex(s)
		return nil
	}
	var obj struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("bytecode must be a string or an object: %w", err)
	}
	*b = common.FromHex(obj.Object)
	return nil
}

// Store indexes every artifact file under a directory by contract name.
type Store struct {
	dir   string
	paths map[string][]string
}

// Open walks dir and indexes <Name>.json files. Hardhat debug files and
// build-info are skipped.
func Open(dir string) (*Store, error) {
	s := &Store{dir: dir, paths: make(map[string][]string)}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		base := d.Name()
		if !strings.HasSuffix(base, ".json") || strings.HasSuffix(base, ".dbg.json") {
			return nil
		}
		contract := strings.TrimSuffix(base, ".json")
		s.paths[contract] = append(s.paths[contract], path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("index artifacts in %s: %w", dir, err)
	}
	return s, nil
}

func (s *Store) Dir() string { return s.dir }

// Names lists indexed contract names in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.paths))
	for name := range s.paths {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) Load(name string) (*Artifact, error) {
	paths := s.paths[name]
	switch len(paths) {
	case 0:
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, name, s.dir)
	case 1:
	default:
		return nil, fmt.Errorf("%w: %s (%s)", ErrAmbiguous, name, strings.Join(paths, ", "))
	}

	raw, err := os.ReadFile(paths[0])
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", name, err)
	}
	if a.ContractName == "" {
		a.ContractName = name
	}
	return &a, nil
}

// Bind returns d with bytecode taken from the artifact of the same name.
// Descriptors that already embed bytecode are checked but not replaced.
func (s *Store) Bind(d *publish.Descriptor) (*publish.Descriptor, error) {
	a, err := s.Load(d.Name())
	if err != nil {
		return nil, err
	}
	if err := Compare(d.Interface(), a.ABI); err != nil {
		return nil, fmt.Errorf("%s: %w", d.Name(), err)
	}
	if d.HasBytecode() {
		return d, nil
	}
	if len(a.Bytecode) == 0 {
		return nil, fmt.Errorf("artifact %s has empty bytecode (abstract contract or interface?)", d.Name())
	}
	return d.WithBytecode(a.Bytecode), nil
}

// Compare checks that an artifact ABI exposes exactly the constructor,
// methods and events of the binding ABI.
func Compare(binding abi.ABI, artifactABI json.RawMessage) error {
	parsed, err := abi.JSON(bytes.NewReader(artifactABI))
	if err != nil {
		return fmt.Errorf("parse artifact abi: %w", err)
	}

	if got, want := argTypes(parsed.Constructor.Inputs), argTypes(binding.Constructor.Inputs); got != want {
		return fmt.Errorf("%w: constructor(%s) != constructor(%s)", ErrABIMismatch, got, want)
	}
	if got, want := methodSet(parsed), methodSet(binding); got != want {
		return fmt.Errorf("%w: methods [%s] != [%s]", ErrABIMismatch, got, want)
	}
	if got, want := eventSet(parsed), eventSet(binding); got != want {
		return fmt.Errorf("%w: events [%s] != [%s]", ErrABIMismatch, got, want)
	}
	return nil
}

func argTypes(args abi.Arguments) string {
	types := make([]string, len(args))
	for i, arg := range args {
		types[i] = arg.Type.String()
	}
	return strings.Join(types, ",")
}

func methodSet(a abi.ABI) string {
	sigs := make([]string, 0, len(a.Methods))
	for _, m := range a.Methods {
		sigs = append(sigs, m.Sig+"->("+argTypes(m.Outputs)+")"+m.StateMutability)
	}
	sort.Strings(sigs)
	return strings.Join(sigs, " ")
}

func eventSet(a abi.ABI) string {
	sigs := make([]string, 0, len(a.Events))
	for _, e := range a.Events {
		sigs = append(sigs, e.Sig)
	}
	sort.Strings(sigs)
	return strings.Join(sigs, " ")
}
