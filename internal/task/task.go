// Package task implements the programs that run inside job environments.
//
// Each program reads its artifact from the environment, clones it at the
// requested revision into a scratch directory, does its work, and exits 0 on
// success. The worker only observes the exit code and the log stream.
package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ShayCichocki/theoremlib/internal/ctxlog"
	"github.com/ShayCichocki/theoremlib/internal/exec"
	"github.com/ShayCichocki/theoremlib/internal/git"
	"github.com/ShayCichocki/theoremlib/internal/manifest"
	"github.com/ShayCichocki/theoremlib/internal/paper"
	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// Params identifies the artifact a task works on.
type Params struct {
	SourceURL string
	Revision  string
	JobID     string
}

// Key returns the artifact key.
func (p Params) Key() models.ArtifactKey {
	return models.ArtifactKey{SourceURL: p.SourceURL, Revision: p.Revision}
}

// ParamsFromEnv reads URL, COMMIT_HASH and the optional JOB_ID.
func ParamsFromEnv(getenv func(string) string) (Params, error) {
	p := Params{
		SourceURL: getenv("URL"),
		Revision:  getenv("COMMIT_HASH"),
		JobID:     getenv("JOB_ID"),
	}
	if p.SourceURL == "" || p.Revision == "" {
		return Params{}, errors.New("URL and COMMIT_HASH environment variables must be set")
	}
	return p, nil
}

// Timeouts bound each external step.
type Timeouts struct {
	Clone time.Duration
	Build time.Duration
	Latex time.Duration
}

// DefaultTimeouts returns the step limits: 10 minutes per git operation and
// pdflatex pass, 30 minutes for lake build.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Clone: 10 * time.Minute,
		Build: 30 * time.Minute,
		Latex: 10 * time.Minute,
	}
}

// Runner executes tasks.
type Runner struct {
	Git      git.Operations
	Cmd      exec.CommandRunner
	Sink     paper.Sink
	Out      io.Writer
	Timeouts Timeouts
	// TempDir is where scratch checkouts are created; empty uses os.TempDir.
	TempDir string
}

// NewRunner returns a runner backed by os/exec that prints results to out.
func NewRunner(out io.Writer, sink paper.Sink) *Runner {
	cmd := exec.NewRunner()
	return &Runner{
		Git:      git.NewRunner(cmd),
		Cmd:      cmd,
		Sink:     sink,
		Out:      out,
		Timeouts: DefaultTimeouts(),
	}
}

// Run performs the task for kind. A nil error means the program should exit 0.
func (r *Runner) Run(ctx context.Context, kind models.JobKind, p Params) error {
	ctx = ctxlog.With(ctx, "kind", kind, "artifact", p.Key().String())
	logger := ctxlog.FromContext(ctx)
	logger.Info("task starting", "task_id", p.JobID)

	dir, err := os.MkdirTemp(r.TempDir, "theoremlib-"+string(kind)+"-")
	if err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	repo := filepath.Join(dir, "repo")
	if err := r.checkout(ctx, p, repo); err != nil {
		return err
	}

	switch kind {
	case models.JobKindIndex:
		err = r.index(ctx, repo)
	case models.JobKindVerify:
		err = r.verify(ctx, repo)
	case models.JobKindCompile:
		err = r.compile(ctx, repo, p)
	default:
		err = fmt.Errorf("unknown task kind %q", kind)
	}
	if err != nil {
		logger.Error("task failed", "error", err)
		return err
	}
	logger.Info("task succeeded")
	return nil
}

func (r *Runner) checkout(ctx context.Context, p Params, repo string) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("cloning repository")

	cloneCtx, cancel := context.WithTimeout(ctx, r.Timeouts.Clone)
	defer cancel()
	if err := r.Git.Clone(cloneCtx, p.SourceURL, repo); err != nil {
		return fmt.Errorf("clone: %w", err)
	}

	checkoutCtx, cancel := context.WithTimeout(ctx, r.Timeouts.Clone)
	defer cancel()
	if err := r.Git.Checkout(checkoutCtx, repo, p.Revision); err != nil {
		return fmt.Errorf("checkout %s: %w", p.Revision, err)
	}
	logger.Info("checked out revision")
	return nil
}

// index validates the declared manifest and prints the result line.
func (r *Runner) index(ctx context.Context, repo string) error {
	logger := ctxlog.FromContext(ctx)

	deps, err := manifest.LoadProject(repo)
	var verrs manifest.ValidationErrors
	if errors.As(err, &verrs) {
		for _, v := range verrs {
			logger.Error("manifest validation error", "index", v.Index, "error", v.Message)
		}
	}
	if err != nil {
		return err
	}

	logger.Info("validated dependencies", "count", len(deps))
	return WriteIndexResult(r.Out, deps)
}

// verify runs the proof checker.
func (r *Runner) verify(ctx context.Context, repo string) error {
	buildCtx, cancel := context.WithTimeout(ctx, r.Timeouts.Build)
	defer cancel()

	res, err := r.Cmd.RunEnv(buildCtx, repo, nil, "lake", "build")
	ctxlog.FromContext(ctx).Info("lake build finished", "exit_code", res.ExitCode, "output", string(res.Output))
	if err != nil {
		return fmt.Errorf("lake build: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("lake build exited with code %d", res.ExitCode)
	}
	return nil
}

// compile runs pdflatex twice so references resolve, then uploads main.pdf.
func (r *Runner) compile(ctx context.Context, repo string, p Params) error {
	logger := ctxlog.FromContext(ctx)
	latexDir := filepath.Join(repo, "latex-source")
	if info, err := os.Stat(latexDir); err != nil || !info.IsDir() {
		return fmt.Errorf("latex-source directory not found in repository")
	}

	var last exec.Result
	for pass := 1; pass <= 2; pass++ {
		passCtx, cancel := context.WithTimeout(ctx, r.Timeouts.Latex)
		res, err := r.Cmd.RunEnv(passCtx, latexDir, nil, "pdflatex", "-interaction=nonstopmode", "main.tex")
		cancel()
		logger.Info("pdflatex pass finished", "pass", pass, "exit_code", res.ExitCode, "output", string(res.Output))
		if err != nil {
			return fmt.Errorf("pdflatex pass %d: %w", pass, err)
		}
		last = res
	}

	pdfPath := filepath.Join(latexDir, paper.FileName)
	if _, err := os.Stat(pdfPath); err != nil || last.ExitCode != 0 {
		return fmt.Errorf("latex compilation failed with exit code %d", last.ExitCode)
	}

	if r.Sink == nil {
		logger.Info("no paper sink configured, skipping upload")
		return nil
	}
	f, err := os.Open(pdfPath)
	if err != nil {
		return fmt.Errorf("open compiled paper: %w", err)
	}
	defer f.Close()
	if err := r.Sink.Put(ctx, p.Key(), f); err != nil {
		return err
	}
	logger.Info("uploaded paper")
	return nil
}
