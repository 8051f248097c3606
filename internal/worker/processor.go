package worker

import (
	"context"
	"errors"

	"github.com/ShayCichocki/theoremlib/internal/callback"
	"github.com/ShayCichocki/theoremlib/internal/config"
	"github.com/ShayCichocki/theoremlib/internal/ctxlog"
	"github.com/ShayCichocki/theoremlib/internal/executor"
	"github.com/ShayCichocki/theoremlib/internal/graph"
	"github.com/ShayCichocki/theoremlib/internal/status"
	"github.com/ShayCichocki/theoremlib/internal/task"
	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// Processor runs the lifecycle of a single job.
type Processor struct {
	project  string
	cfg      config.ExecutorConfig
	executor executor.Executor
	status   status.Store
	graph    callback.Graph
}

// NewProcessor creates a processor. project prefixes environment names.
func NewProcessor(project string, cfg config.ExecutorConfig, exec executor.Executor, statusStore status.Store, g callback.Graph) *Processor {
	return &Processor{
		project:  project,
		cfg:      cfg,
		executor: exec,
		status:   statusStore,
		graph:    g,
	}
}

// Process runs job and returns its terminal status. It never returns an
// error: every failure is terminal fail and is logged.
func (p *Processor) Process(ctx context.Context, job models.Job) models.JobStatus {
	ctx = ctxlog.With(ctx,
		"job_id", job.ID,
		"kind", job.Kind,
		"source_url", job.Ref.SourceURL,
		"revision", job.Ref.Revision,
	)
	logger := ctxlog.FromContext(ctx)

	p.setStatus(ctx, job, models.JobStatusRunning)

	res, err := p.run(ctx, job)
	final := models.JobStatusFail
	switch {
	case err != nil:
		logger.Error("environment failed", "error", err, "spawn", errors.Is(err, executor.ErrSpawn))
	case res.Success():
		final = models.JobStatusSuccess
		logger.Debug("environment logs", "logs", res.Logs)
	default:
		logger.Info("environment logs", "logs", res.Logs)
	}
	logger.Info("job finished", "status", final, "exit_code", res.ExitCode, "timed_out", res.TimedOut)

	p.setStatus(ctx, job, final)
	p.notify(ctx, job, final, res.Logs)
	return final
}

func (p *Processor) run(ctx context.Context, job models.Job) (executor.ExitResult, error) {
	env := executor.EnvFor(p.project, p.cfg, job)
	runCtx := ctx
	if timeout := p.cfg.Kind(job.Kind).Timeout; timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ctxlog.FromContext(ctx).Info("starting environment", "env", env.Name, "image", env.Image)
	return p.executor.Run(runCtx, env)
}

func (p *Processor) setStatus(ctx context.Context, job models.Job, s models.JobStatus) {
	err := p.status.Set(ctx, job.Subject(), status.Entry{Status: s, JobID: job.ID})
	switch {
	case errors.Is(err, status.ErrStale):
		ctxlog.FromContext(ctx).Warn("job status already past this write", "status", s)
	case err != nil:
		ctxlog.FromContext(ctx).Error("failed to write job status", "status", s, "error", err)
	}
}

// notify delivers the kind-specific graph callback.
func (p *Processor) notify(ctx context.Context, job models.Job, final models.JobStatus, logs string) {
	if p.graph == nil {
		return
	}
	value := models.ValidityInvalid
	if final == models.JobStatusSuccess {
		value = models.ValidityValid
	}

	if job.Kind == models.JobKindIndex && final == models.JobStatusSuccess {
		deps, err := task.ParseIndexResult(logs)
		if err != nil {
			ctxlog.FromContext(ctx).Error("index job succeeded without a usable result", "error", err)
			return
		}
		callback.Notify(ctx, "record-index", func(ctx context.Context) error {
			_, err := p.graph.RecordIndex(ctx, graph.IndexResult{
				Source:       job.Ref,
				Dependencies: deps,
				Valid:        true,
			})
			return err
		})
		return
	}

	callback.Notify(ctx, "set-flag", func(ctx context.Context) error {
		return p.graph.SetFlag(ctx, job.Ref, job.Kind.Flag(), value)
	})
}
