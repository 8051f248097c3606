// Package callback delivers job outcomes to the dependency graph.
//
// Callbacks are best-effort: a failed delivery is logged and dropped, so the
// graph converges eventually rather than transactionally with job status.
package callback

import (
	"context"
	"time"

	"github.com/ShayCichocki/theoremlib/internal/ctxlog"
	"github.com/ShayCichocki/theoremlib/internal/graph"
	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// Graph is the status-update surface of the dependency graph service.
type Graph interface {
	// RecordIndex stores an index outcome and returns the dependencies it created.
	RecordIndex(ctx context.Context, result graph.IndexResult) ([]models.ArtifactKey, error)
	// SetFlag overwrites one validity flag on an existing artifact.
	SetFlag(ctx context.Context, key models.ArtifactKey, flag models.FlagName, value models.Validity) error
}

// IndexRequest is the body of an index callback.
type IndexRequest struct {
	models.ArtifactKey
	Dependencies []models.ArtifactKey `json:"dependencies"`
	Valid        bool                 `json:"valid"`
}

// Result converts the request into a graph write.
func (r IndexRequest) Result() graph.IndexResult {
	return graph.IndexResult{Source: r.ArtifactKey, Dependencies: r.Dependencies, Valid: r.Valid}
}

// NewIndexRequest is the inverse of Result.
func NewIndexRequest(result graph.IndexResult) IndexRequest {
	deps := result.Dependencies
	if deps == nil {
		deps = []models.ArtifactKey{}
	}
	return IndexRequest{ArtifactKey: result.Source, Dependencies: deps, Valid: result.Valid}
}

// IndexResponse lists artifacts first seen by an index callback.
type IndexResponse struct {
	Created []models.ArtifactKey `json:"created"`
}

// FlagRequest is the body of a flag callback.
type FlagRequest struct {
	models.ArtifactKey
	Flag  models.FlagName `json:"flag"`
	Value models.Validity `json:"value"`
}

// Notify runs fn and logs, rather than returns, any failure.
func Notify(ctx context.Context, action string, fn func(ctx context.Context) error) {
	start := time.Now()
	logger := ctxlog.FromContext(ctx)
	if err := fn(ctx); err != nil {
		logger.Error("callback failed", "action", action, "duration", time.Since(start), "error", err)
		return
	}
	logger.Debug("callback delivered", "action", action, "duration", time.Since(start))
}
