package executor

import (
	"context"
	"fmt"
	"os"

	"github.com/ShayCichocki/theoremlib/internal/ctxlog"
	"github.com/ShayCichocki/theoremlib/internal/exec"
)

// Process runs each job as a local subprocess in a fresh temporary directory.
// It gives no isolation beyond the directory and is meant for development
// and single-host deployments. Env.Image and Env.Network are ignored.
type Process struct {
	runner exec.CommandRunner
	// BaseDir is where per-job directories are created; empty uses os.TempDir.
	BaseDir string
}

// NewProcess creates a process executor using runner.
func NewProcess(runner exec.CommandRunner) *Process {
	if runner == nil {
		runner = exec.NewRunner()
	}
	return &Process{runner: runner}
}

// Run implements Executor.
func (p *Process) Run(ctx context.Context, env Env) (ExitResult, error) {
	if len(env.Command) == 0 {
		return ExitResult{}, fmt.Errorf("%w: %s: empty command", ErrSpawn, env.Name)
	}

	dir, err := os.MkdirTemp(p.BaseDir, env.Name+"-")
	if err != nil {
		return ExitResult{}, fmt.Errorf("%w: workdir for %s: %v", ErrSpawn, env.Name, err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			ctxlog.FromContext(ctx).Error("remove job directory", "env", env.Name, "dir", dir, "error", err)
		}
	}()

	res, err := p.runner.RunEnv(ctx, dir, env.Vars, env.Command[0], env.Command[1:]...)
	if ctx.Err() != nil {
		return timedOut(string(res.Output)), nil
	}
	if err != nil {
		return ExitResult{}, fmt.Errorf("%w: %s: %v", ErrSpawn, env.Name, err)
	}
	return ExitResult{ExitCode: res.ExitCode, Logs: string(res.Output)}, nil
}

// Ping implements Executor.
func (p *Process) Ping(context.Context) error {
	return nil
}

// Compile-time verification that Process implements Executor.
var _ Executor = (*Process)(nil)
