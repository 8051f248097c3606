package callback

import (
	"context"
	"strings"

	"github.com/ShayCichocki/theoremlib/internal/ctxlog"
	"github.com/ShayCichocki/theoremlib/internal/graph"
	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// SubmitFunc queues an index job for an artifact.
type SubmitFunc func(ctx context.Context, key models.ArtifactKey) (string, error)

// Local applies callbacks to an in-process graph store. It backs the
// /internal endpoints of the API and the all-in-one deployment.
type Local struct {
	store  graph.Store
	submit SubmitFunc
}

// NewLocal wraps store. When submit is non-nil, dependencies first seen by
// an index callback are queued for indexing themselves.
func NewLocal(store graph.Store, submit SubmitFunc) *Local {
	return &Local{store: store, submit: submit}
}

// RecordIndex implements Graph.
func (l *Local) RecordIndex(ctx context.Context, result graph.IndexResult) ([]models.ArtifactKey, error) {
	created, err := l.store.RecordIndex(ctx, result)
	if err != nil {
		return nil, err
	}
	logger := ctxlog.FromContext(ctx).With("artifact", result.Source.String())
	logger.Info("recorded index result", "dependencies", len(result.Dependencies), "created", len(created), "valid", result.Valid)

	if cycle, err := l.store.FindCycle(ctx, result.Source); err != nil {
		logger.Warn("cycle check failed", "error", err)
	} else if cycle != nil {
		logger.Warn("dependency cycle detected", "cycle", cycleString(cycle))
	}

	if l.submit != nil {
		for _, dep := range created {
			jobID, err := l.submit(ctx, dep)
			if err != nil {
				logger.Error("submit dependency for indexing", "dependency", dep.String(), "error", err)
				continue
			}
			logger.Info("submitted dependency for indexing", "dependency", dep.String(), "task_id", jobID)
		}
	}
	return created, nil
}

// SetFlag implements Graph.
func (l *Local) SetFlag(ctx context.Context, key models.ArtifactKey, flag models.FlagName, value models.Validity) error {
	return l.store.SetFlag(ctx, key, flag, value)
}

func cycleString(cycle []models.ArtifactKey) string {
	parts := make([]string, len(cycle))
	for i, k := range cycle {
		parts[i] = k.String()
	}
	return strings.Join(parts, " -> ")
}

// Compile-time verification that Local implements Graph.
var _ Graph = (*Local)(nil)
