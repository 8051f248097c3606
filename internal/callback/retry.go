package callback

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"

	"github.com/ShayCichocki/theoremlib/internal/ctxlog"
	"github.com/ShayCichocki/theoremlib/internal/graph"
	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// Retrying retries failed callbacks with exponential backoff. NotFound is
// never retried. With MaxRetries 0 each callback is attempted exactly once.
type Retrying struct {
	next       Graph
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

// NewRetrying wraps next.
func NewRetrying(next Graph, maxRetries uint64) *Retrying {
	return &Retrying{
		next:       next,
		maxRetries: maxRetries,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

func (r *Retrying) do(ctx context.Context, action string, op func() error) error {
	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), r.maxRetries), ctx)
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, graph.ErrNotFound) {
			return backoff.Permanent(err)
		}
		if uint64(attempt) <= r.maxRetries {
			ctxlog.FromContext(ctx).Warn("callback attempt failed", "action", action, "attempt", attempt, "error", err)
		}
		return err
	}, b)
}

// RecordIndex implements Graph.
func (r *Retrying) RecordIndex(ctx context.Context, result graph.IndexResult) ([]models.ArtifactKey, error) {
	var created []models.ArtifactKey
	err := r.do(ctx, "record_index", func() error {
		var err error
		created, err = r.next.RecordIndex(ctx, result)
		return err
	})
	return created, err
}

// SetFlag implements Graph.
func (r *Retrying) SetFlag(ctx context.Context, key models.ArtifactKey, flag models.FlagName, value models.Validity) error {
	return r.do(ctx, "set_flag", func() error {
		return r.next.SetFlag(ctx, key, flag, value)
	})
}

// Compile-time verification that Retrying implements Graph.
var _ Graph = (*Retrying)(nil)
