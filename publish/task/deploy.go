package task

import (
	"context"
	"fmt"
)

// DeploySpec is the common shape of a task that deploys one contract.
type DeploySpec struct {
	// Name is the deployment name and, unless ID is set, the task ID.
	Name         string
	ID           string
	Contract     string
	Tags         []string
	Dependencies []string
	// From is the named account that sends the transaction.
	From     string
	GasLimit uint64
	Args     []any
	// ArgsFunc computes constructor args from the environment, typically
	// from earlier deployments or the parameter bundle. It takes
	// precedence over Args.
	ArgsFunc func(ctx context.Context, env *Env) ([]any, error)
	// Proxy, when set, deploys behind an ERC1967 proxy.
	Proxy func(ctx context.Context, env *Env) (*ProxyOptions, error)
}

// Deploy builds a Task from a DeploySpec. The task reports CompletionFor the
// active network.
func Deploy(spec DeploySpec) Task {
	id := spec.ID
	if id == "" {
		id = spec.Name
	}
	from := spec.From
	if from == "" {
		from = DefaultSender
	}

	return Task{
		ID:           id,
		Tags:         spec.Tags,
		Dependencies: spec.Dependencies,
		Run: func(ctx context.Context, env *Env) (Completion, error) {
			sender, err := env.Accounts.Resolve(from)
			if err != nil {
				return AlwaysRerun, err
			}

			args := spec.Args
			if spec.ArgsFunc != nil {
				if args, err = spec.ArgsFunc(ctx, env); err != nil {
					return AlwaysRerun, fmt.Errorf("%w: %s: %w", ErrArgs, spec.Name, err)
				}
			}

			opts := DeployOptions{
				Contract: spec.Contract,
				From:     sender,
				GasLimit: spec.GasLimit,
				Args:     args,
			}
			if spec.Proxy != nil {
				if opts.Proxy, err = spec.Proxy(ctx, env); err != nil {
					return AlwaysRerun, err
				}
			}

			res, err := env.Deployments.Deploy(ctx, spec.Name, opts)
			if err != nil {
				return AlwaysRerun, err
			}
			env.Log.Info(spec.Name+" deployed", "address", res.Address.Hex(), "new", res.Deployed)
			return CompletionFor(env.Network), nil
		},
	}
}
