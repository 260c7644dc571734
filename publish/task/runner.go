package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/moc-protocol/protocol/publish/registry"
)

// Report summarizes a run.
type Report struct {
	Network     string            `json:"network"`
	RunID       uuid.UUID         `json:"run_id"`
	Executed    []string          `json:"executed"`
	Skipped     []string          `json:"skipped"`
	Deployments []registry.Record `json:"deployments"`
}

// Runner executes registered tasks sequentially.
type Runner struct {
	tasks []Task
	index map[string]int
	log   *slog.Logger
}

func NewRunner(log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{index: make(map[string]int), log: log}
}

// Register adds tasks in order. Registration order breaks ties between
// tasks that do not depend on each other.
func (r *Runner) Register(tasks ...Task) error {
	for _, t := range tasks {
		if t.ID == "" {
			return errors.New("task has no id")
		}
		if t.Run == nil {
			return fmt.Errorf("task %s has no run function", t.ID)
		}
		if _, ok := r.index[t.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
		}
		r.index[t.ID] = len(r.tasks)
		r.tasks = append(r.tasks, t)
	}
	return nil
}

// Tasks returns every registered task in registration order.
func (r *Runner) Tasks() []Task {
	return append([]Task(nil), r.tasks...)
}

// resolve returns the indexes of every task whose ID or tags match name.
func (r *Runner) resolve(name string) []int {
	var out []int
	for i, t := range r.tasks {
		if t.matches(name) {
			out = append(out, i)
		}
	}
	return out
}

// Plan selects the tasks matching tags (all tasks when empty), adds their
// transitive dependencies and orders them so dependencies run first.
func (r *Runner) Plan(tags ...string) ([]Task, error) {
	var roots []int
	if len(tags) == 0 {
		for i := range r.tasks {
			roots = append(roots, i)
		}
	} else {
		seen := make(map[int]bool)
		for _, tag := range tags {
			matched := r.resolve(tag)
			if len(matched) == 0 {
				return nil, fmt.Errorf("%w: %s", ErrUnknownTag, tag)
			}
			for _, i := range matched {
				if !seen[i] {
					seen[i] = true
					roots = append(roots, i)
				}
			}
		}
		slices.Sort(roots)
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(r.tasks))
	var order []Task

	var visit func(i int, path []string) error
	visit = func(i int, path []string) error {
		t := r.tasks[i]
		switch state[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: %v -> %s", ErrCycle, path, t.ID)
		}
		state[i] = visiting
		path = append(path, t.ID)
		for _, dep := range t.Dependencies {
			matched := r.resolve(dep)
			if len(matched) == 0 {
				return fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, t.ID, dep)
			}
			for _, j := range matched {
				if j == i {
					continue
				}
				if err := visit(j, path); err != nil {
					return err
				}
			}
		}
		state[i] = done
		order = append(order, t)
		return nil
	}

	for _, i := range roots {
		if err := visit(i, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Run executes the planned tasks. Tasks already marked complete in the
// registry are skipped; tasks returning RunOnceMarkComplete are marked.
// The first error stops the run.
func (r *Runner) Run(ctx context.Context, env *Env, tags ...string) (Report, error) {
	report := Report{
		Network:  env.Network.Name,
		RunID:    env.Deployments.RunID(),
		Executed: []string{},
		Skipped:  []string{},
	}

	plan, err := r.Plan(tags...)
	if err != nil {
		return report, err
	}

	store := env.Deployments.Registry()
	for _, t := range plan {
		log := r.log.With("network", env.Network.Name, "task", t.ID)

		complete, err := store.IsComplete(ctx, t.ID)
		if err != nil {
			return report, fmt.Errorf("task %s: %w", t.ID, err)
		}
		if complete {
			log.Info("skipping completed task")
			report.Skipped = append(report.Skipped, t.ID)
			continue
		}

		taskEnv := *env
		taskEnv.Log = log
		log.Debug("running task")
		completion, err := t.Run(ctx, &taskEnv)
		if err != nil {
			report.Deployments = env.Deployments.Touched()
			return report, fmt.Errorf("task %s: %w", t.ID, err)
		}
		if completion == RunOnceMarkComplete {
			if err := store.MarkComplete(ctx, t.ID); err != nil {
				return report, fmt.Errorf("task %s: %w", t.ID, err)
			}
		}
		log.Debug("task finished", "completion", completion.String())
		report.Executed = append(report.Executed, t.ID)
	}

	report.Deployments = env.Deployments.Touched()
	return report, nil
}
