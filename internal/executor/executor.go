// Package executor runs one job inside an ephemeral, isolated environment and
// guarantees the environment is torn down whatever the outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// ErrSpawn wraps failures to create or start an environment.
var ErrSpawn = errors.New("spawn environment")

// DefaultTeardownTimeout bounds environment removal after the job context ends.
const DefaultTeardownTimeout = 30 * time.Second

// Env describes an environment to run.
type Env struct {
	// Name must be unique across concurrent jobs.
	Name    string
	Image   string
	Network string
	Command []string
	Vars    map[string]string
}

// ExitResult is what the caller learns about a finished environment.
type ExitResult struct {
	ExitCode int
	Logs     string
	TimedOut bool
}

// Success reports whether the job succeeded. Exit 0 is the only success criterion.
func (r ExitResult) Success() bool {
	return !r.TimedOut && r.ExitCode == 0
}

func timedOut(logs string) ExitResult {
	return ExitResult{ExitCode: models.ExitCodeTimeout, Logs: logs, TimedOut: true}
}

// Executor spawns environments.
type Executor interface {
	// Run blocks until the environment exits or ctx ends. When ctx ends the
	// result is ExitCodeTimeout with TimedOut set and a nil error. A non-nil
	// error means orchestration failed; spawn failures wrap ErrSpawn.
	Run(ctx context.Context, env Env) (ExitResult, error)
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

// EnvName builds the per-job environment name.
func EnvName(project string, kind models.JobKind, jobID string) string {
	return fmt.Sprintf("%s-%s-task-%s", project, kind, jobID)
}

// JobVars returns the variables every job environment receives.
func JobVars(job models.Job) map[string]string {
	return map[string]string{
		"URL":         job.Ref.SourceURL,
		"COMMIT_HASH": job.Ref.Revision,
		"JOB_ID":      job.ID,
	}
}

// teardownContext returns a context that survives cancellation of parent
// but is bounded by timeout.
func teardownContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTeardownTimeout
	}
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
