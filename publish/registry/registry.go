// Package registry persists deployment records and task completion marks
// so repeated runs against a live network are idempotent.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("deployment not found")
	ErrLocked   = errors.New("registry is locked by another run")
	ErrBadName  = errors.New("invalid deployment name")
)

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Record describes one deployed contract. For proxied deployments Address is
// the proxy and Implementation the logic contract behind it.
type Record struct {
	Name           string          `json:"name"`
	Contract       string          `json:"contract"`
	Address        common.Address  `json:"address"`
	TxHash         common.Hash     `json:"tx_hash"`
	Deployer       common.Address  `json:"deployer"`
	Args           hexutil.Bytes   `json:"args"`
	BytecodeHash   common.Hash     `json:"bytecode_hash"`
	BlockNumber    uint64          `json:"block_number"`
	GasUsed        uint64          `json:"gas_used"`
	Implementation *common.Address `json:"implementation,omitempty"`
	RunID          uuid.UUID       `json:"run_id"`
	DeployedAt     time.Time       `json:"deployed_at"`
}

// Matches reports whether r was produced from the same creation bytecode
// and constructor arguments.
func (r Record) Matches(bytecodeHash common.Hash, args []byte) bool {
	return r.BytecodeHash == bytecodeHash && bytes.Equal(r.Args, args)
}

func (r Record) clone() Record {
	c := r
	c.Args = bytes.Clone(r.Args)
	if r.Implementation != nil {
		impl := *r.Implementation
		c.Implementation = &impl
	}
	return c
}

// Store is scoped to a single network.
type Store interface {
	Get(ctx context.Context, name string) (Record, error)
	Save(ctx context.Context, rec Record) error
	List(ctx context.Context) ([]Record, error)
	IsComplete(ctx context.Context, taskID string) (bool, error)
	MarkComplete(ctx context.Context, taskID string) error
	Close() error
}

type Options struct {
	Backend string
	Network string
	Dir     string
	DSN     string
}

// Open returns the store selected by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		return OpenFileStore(ctx, opts.Dir, opts.Network)
	case BackendPostgres:
		return OpenPostgresStore(ctx, opts.DSN, opts.Network)
	default:
		return nil, fmt.Errorf("unknown registry backend %q", opts.Backend)
	}
}
