// Package hooks runs the user-defined shell commands configured for each
// pipeline phase.
package hooks

import (
	"context"
	"time"

	"github.com/imyashkale/deployer/internal/deployerr"
	"github.com/imyashkale/deployer/internal/logger"
	"github.com/imyashkale/deployer/internal/models"
	"github.com/imyashkale/deployer/internal/shell"
)

// Timeout bounds every single hook
const Timeout = 5 * time.Minute

// Runner executes hook lists
type Runner struct {
	runner shell.Runner
	dir    string
	dryRun bool
}

// NewRunner creates a hook runner executing commands in dir
func NewRunner(runner shell.Runner, dir string, dryRun bool) *Runner {
	return &Runner{runner: runner, dir: dir, dryRun: dryRun}
}

// Run executes hooks in order. The first failure stops the phase and is
// returned as a *deployerr.HookError.
func (r *Runner) Run(ctx context.Context, phase models.HookPhase, hooks []models.HookSpec) error {
	if len(hooks) == 0 {
		return nil
	}

	for i, hook := range hooks {
		name := hook.Name
		if name == "" {
			name = string(phase)
		}
		entry := logger.WithFields(map[string]interface{}{
			"phase": string(phase),
			"hook":  name,
			"index": i,
		})

		if r.dryRun {
			entry.WithField("command", hook.Command).Info("Dry run: skipping hook")
			continue
		}

		entry.Info("Running hook")
		start := time.Now()
		res, err := r.runner.Run(ctx, shell.Command{
			Name:    "sh",
			Args:    []string{"-c", hook.Command},
			Dir:     r.dir,
			Timeout: Timeout,
		})
		if err != nil {
			output := shell.OutputOf(err)
			entry.WithFields(map[string]interface{}{
				"error":  err.Error(),
				"output": output,
			}).Error("Hook failed")
			return &deployerr.HookError{
				Phase:   string(phase),
				Name:    name,
				Command: hook.Command,
				Output:  output,
				Err:     err,
			}
		}
		entry.WithFields(map[string]interface{}{
			"duration_ms": time.Since(start).Milliseconds(),
			"output":      res.Output(),
		}).Debug("Hook completed")
	}
	return nil
}

// Phases binds a target's hook set to a runner
type Phases struct {
	runner *Runner
	set    models.HookSet
}

// NewPhases creates a phase runner for set. A nil runner makes every phase a no-op.
func NewPhases(runner *Runner, set models.HookSet) *Phases {
	return &Phases{runner: runner, set: set}
}

// Run executes the hooks configured for phase
func (p *Phases) Run(ctx context.Context, phase models.HookPhase) error {
	if p == nil || p.runner == nil {
		return nil
	}
	return p.runner.Run(ctx, phase, p.set.For(phase))
}
