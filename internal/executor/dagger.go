package executor

import (
	"context"
	"fmt"
	"io"
	"sort"

	"dagger.io/dagger"

	"github.com/ShayCichocki/theoremlib/internal/ctxlog"
)

// Dagger runs each job in a container built by a dedicated Dagger engine
// session. The session is closed when the job ends. The engine cannot attach
// containers to a named network, so New refuses a dagger backend configured
// with one.
type Dagger struct {
	logOutput io.Writer
	connect   func(ctx context.Context, opts ...dagger.ClientOpt) (*dagger.Client, error)
}

// NewDagger creates a Dagger executor. Engine progress goes to logOutput when non-nil.
func NewDagger(logOutput io.Writer) *Dagger {
	return &Dagger{logOutput: logOutput, connect: dagger.Connect}
}

func (d *Dagger) open(ctx context.Context) (*dagger.Client, error) {
	var opts []dagger.ClientOpt
	if d.logOutput != nil {
		opts = append(opts, dagger.WithLogOutput(d.logOutput))
	}
	return d.connect(ctx, opts...)
}

// Run implements Executor. Dagger does not expose the exit status of a
// failed exec, so any failure is reported as exit code 1.
func (d *Dagger) Run(ctx context.Context, env Env) (ExitResult, error) {
	client, err := d.open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return timedOut(""), nil
		}
		return ExitResult{}, fmt.Errorf("%w: connect engine for %s: %v", ErrSpawn, env.Name, err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			ctxlog.FromContext(ctx).Error("close dagger session", "env", env.Name, "error", err)
		}
	}()

	c := client.Container().From(env.Image).WithEnvVariable("THEOREMLIB_ENV", env.Name)
	keys := make([]string, 0, len(env.Vars))
	for k := range env.Vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c = c.WithEnvVariable(k, env.Vars[k])
	}

	run := c.WithExec(env.Command)
	stdout, err := run.Stdout(ctx)
	if ctx.Err() != nil {
		return timedOut(stdout), nil
	}
	if err != nil {
		return ExitResult{ExitCode: 1, Logs: err.Error()}, nil
	}

	stderr, err := run.Stderr(ctx)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("read dagger stderr", "env", env.Name, "error", err)
	}
	return ExitResult{ExitCode: 0, Logs: stdout + stderr}, nil
}

// Ping implements Executor by opening and closing an engine session.
func (d *Dagger) Ping(ctx context.Context) error {
	client, err := d.open(ctx)
	if err != nil {
		return err
	}
	return client.Close()
}

// Compile-time verification that Dagger implements Executor.
var _ Executor = (*Dagger)(nil)
