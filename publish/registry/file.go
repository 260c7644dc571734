package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	completedFile = ".completed.json"
	lockFile      = ".lock"

	lockWait  = 5 * time.Second
	lockRetry = 100 * time.Millisecond
)

// FileStore writes one JSON file per deployment under <root>/<network>,
// the layout hardhat-deploy uses, plus a completion index. An exclusive
// lock file is held until Close.
type FileStore struct {
	dir  string
	lock *flock.Flock

	mu sync.Mutex
}

func OpenFileStore(ctx context.Context, root, network string) (*FileStore, error) {
	if root == "" {
		root = "deployments"
	}
	if network == "" {
		return nil, errors.New("file registry requires a network name")
	}
	if err := checkName(network); err != nil {
		return nil, err
	}
	dir := filepath.Join(root, network)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	lockCtx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, lockRetry)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("lock registry %s: %w", dir, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}
	return &FileStore{dir: dir, lock: lock}, nil
}

func (s *FileStore) Dir() string { return s.dir }

// checkName keeps name a single file inside the registry directory.
func checkName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return nil
}

func (s *FileStore) path(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name+".json"), nil
}

func (s *FileStore) Get(_ context.Context, name string) (Record, error) {
	path, err := s.path(name)
	if err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var r Record
	if err := readJSON(path, &r); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return Record{}, err
	}
	return r, nil
}

func (s *FileStore) Save(_ context.Context, rec Record) error {
	if rec.Name == "" {
		return errors.New("record has no name")
	}
	path, err := s.path(rec.Name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(path, rec)
}

func (s *FileStore) List(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	var out []Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		var r Record
		if err := readJSON(filepath.Join(s.dir, name), &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *FileStore) IsComplete(_ context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	marks, err := s.completed()
	if err != nil {
		return false, err
	}
	_, ok := marks[taskID]
	return ok, nil
}

func (s *FileStore) MarkComplete(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	marks, err := s.completed()
	if err != nil {
		return err
	}
	marks[taskID] = time.Now().UTC()
	return writeJSON(filepath.Join(s.dir, completedFile), marks)
}

func (s *FileStore) completed() (map[string]time.Time, error) {
	marks := make(map[string]time.Time)
	err := readJSON(filepath.Join(s.dir, completedFile), &marks)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return marks, nil
}

func (s *FileStore) Close() error {
	return s.lock.Unlock()
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// writeJSON replaces path atomically.
func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
