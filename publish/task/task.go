// Package task runs deployment tasks in dependency order and records which
// ones are complete so reruns against a live network skip them.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/moc-protocol/protocol/publish/contracts"
	"github.com/moc-protocol/protocol/publish/params"
)

var (
	ErrUnknownContract   = contracts.ErrUnknownContract
	ErrDuplicateTask     = errors.New("duplicate task id")
	ErrUnknownDependency = errors.New("unknown task dependency")
	ErrUnknownTag        = errors.New("no task matches tag")
	ErrCycle             = errors.New("task dependency cycle")
	ErrUnknownAccount    = errors.New("unknown named account")
	ErrArgs              = errors.New("invalid constructor arguments")
	ErrNoCode            = errors.New("no contract code at address")
)

// DefaultSender is the named account tasks deploy from unless told
// otherwise.
const DefaultSender = "deployer"

// Completion tells the runner whether a finished task may run again.
type Completion int

const (
	// AlwaysRerun leaves the task unmarked; the next run executes it again.
	AlwaysRerun Completion = iota
	// RunOnceMarkComplete records the task so later runs skip it.
	RunOnceMarkComplete
)

func (c Completion) String() string {
	switch c {
	case AlwaysRerun:
		return "always-rerun"
	case RunOnceMarkComplete:
		return "run-once"
	default:
		return fmt.Sprintf("completion(%d)", int(c))
	}
}

// Network describes the chain a run targets. Live networks keep their state
// between runs; local dev chains are reset.
type Network struct {
	Name    string
	ChainID int64
	Live    bool
}

// CompletionFor is RunOnceMarkComplete exactly when n is live.
func CompletionFor(n Network) Completion {
	if n.Live {
		return RunOnceMarkComplete
	}
	return AlwaysRerun
}

// NamedAccounts resolves role names such as "deployer" to addresses.
type NamedAccounts map[string]common.Address

func (a NamedAccounts) Resolve(name string) (common.Address, error) {
	addr, ok := a[name]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownAccount, name)
	}
	return addr, nil
}

// Env is what a task sees while it runs.
type Env struct {
	Network     Network
	Accounts    NamedAccounts
	Deployments *Deployments
	Params      params.Bundle
	Log         *slog.Logger
}

type Task struct {
	ID           string
	Tags         []string
	Dependencies []string
	Run          func(ctx context.Context, env *Env) (Completion, error)
}

func (t Task) matches(name string) bool {
	return t.ID == name || slices.Contains(t.Tags, name)
}
