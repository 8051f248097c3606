package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/theoremlib/internal/exec"
)

// ExecRunner implements Operations by shelling out to git.
type ExecRunner struct {
	runner exec.CommandRunner
}

// NewRunner creates a git runner. A nil runner uses os/exec.
func NewRunner(runner exec.CommandRunner) *ExecRunner {
	if runner == nil {
		runner = exec.NewRunner()
	}
	return &ExecRunner{runner: runner}
}

// run executes a git command in dir and returns its trimmed output.
func (r *ExecRunner) run(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := r.runner.Run(ctx, dir, "git", args...)
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// Clone clones url into dir.
func (r *ExecRunner) Clone(ctx context.Context, url, dir string) error {
	_, err := r.run(ctx, "", "clone", "--quiet", url, dir)
	return err
}

// Checkout switches dir to a detached revision.
func (r *ExecRunner) Checkout(ctx context.Context, dir, revision string) error {
	_, err := r.run(ctx, dir, "-c", "advice.detachedHead=false", "checkout", "--quiet", revision)
	return err
}

// Head returns the full hash of HEAD.
func (r *ExecRunner) Head(ctx context.Context, dir string) (string, error) {
	return r.run(ctx, dir, "rev-parse", "HEAD")
}
