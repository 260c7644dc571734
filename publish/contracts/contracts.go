// Package contracts maps contract type names to their bindings.
package contracts

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/moc-protocol/protocol/publish"
	"github.com/moc-protocol/protocol/publish/artifacts"
	"github.com/moc-protocol/protocol/publish/contracts/erc1967factory"
	"github.com/moc-protocol/protocol/publish/contracts/moccacoinbase"
	"github.com/moc-protocol/protocol/publish/contracts/mocrc20"
	"github.com/moc-protocol/protocol/publish/contracts/priceprovidermock"
)

var ErrUnknownContract = errors.New("unknown contract type")

var bindings = map[string]*publish.Descriptor{
	erc1967factory.Name():    erc1967factory.Descriptor(),
	moccacoinbase.Name():     moccacoinbase.Descriptor(),
	mocrc20.Name():           mocrc20.Descriptor(),
	priceprovidermock.Name(): priceprovidermock.Descriptor(),
}

// Names lists every bound contract type.
func Names() []string {
	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog resolves contract types to deployable descriptors, filling in
// bytecode from an artifact store when the binding does not embed it.
type Catalog struct {
	store *artifacts.Store

	mu    sync.Mutex
	bound map[string]*publish.Descriptor
}

// NewCatalog returns a catalog. store may be nil, in which case only
// bindings with embedded bytecode are deployable.
func NewCatalog(store *artifacts.Store) *Catalog {
	return &Catalog{store: store, bound: make(map[string]*publish.Descriptor)}
}

func (c *Catalog) Lookup(contract string) (*publish.Descriptor, error) {
	d, ok := bindings[contract]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, contract)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.bound[contract]; ok {
		return b, nil
	}
	if c.store == nil {
		if !d.HasBytecode() {
			return nil, fmt.Errorf("%w: %s (no artifacts directory configured)", publish.ErrNoBytecode, contract)
		}
		c.bound[contract] = d
		return d, nil
	}
	b, err := c.store.Bind(d)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) && d.HasBytecode() {
			c.bound[contract] = d
			return d, nil
		}
		return nil, err
	}
	c.bound[contract] = b
	return b, nil
}

// VerifyResult is the outcome of checking one binding against its artifact.
type VerifyResult struct {
	Contract string `json:"contract"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// Verify checks every binding that has an artifact. Bindings without an
// artifact pass only if they embed bytecode.
func (c *Catalog) Verify() []VerifyResult {
	names := Names()
	out := make([]VerifyResult, 0, len(names))
	for _, name := range names {
		r := VerifyResult{Contract: name, OK: true}
		if _, err := c.Lookup(name); err != nil {
			r.OK = false
			r.Error = err.Error()
		}
		out = append(out, r)
	}
	return out
}
