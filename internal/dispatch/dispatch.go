// Package dispatch turns requests into queued jobs.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/theoremlib/internal/ctxlog"
	"github.com/ShayCichocki/theoremlib/internal/queue"
	"github.com/ShayCichocki/theoremlib/internal/status"
	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// ErrDispatch is returned when the broker did not accept a job.
var ErrDispatch = errors.New("dispatch failed")

// Upserter creates artifact nodes on first reference.
type Upserter interface {
	Upsert(ctx context.Context, key models.ArtifactKey) (models.ArtifactRef, error)
}

// Dispatcher publishes jobs and records their queued status.
type Dispatcher struct {
	broker    queue.Broker
	status    status.Store
	artifacts Upserter

	now   func() time.Time
	newID func() string
}

// New creates a dispatcher. artifacts may be nil when only Enqueue is used.
func New(broker queue.Broker, statusStore status.Store, artifacts Upserter) *Dispatcher {
	return &Dispatcher{
		broker:    broker,
		status:    statusStore,
		artifacts: artifacts,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Enqueue publishes a job and waits for the broker to confirm it. Only then
// is the job recorded as queued; a failed status write is logged because the
// job is already in flight. A worker may have advanced the job before the
// confirm arrived, in which case the store refuses the queued write.
func (d *Dispatcher) Enqueue(ctx context.Context, kind models.JobKind, ref models.ArtifactKey) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("enqueue: unknown job kind %q", kind)
	}
	if err := ref.Validate(); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}

	job := models.Job{
		ID:         d.newID(),
		Kind:       kind,
		Ref:        ref,
		Status:     models.JobStatusQueued,
		EnqueuedAt: d.now().UTC(),
	}
	logger := ctxlog.FromContext(ctx).With("task_id", job.ID, "kind", kind, "artifact", ref.String())

	if err := d.broker.Publish(ctx, queue.NewMessage(job)); err != nil {
		logger.Error("publish job", "error", err)
		return "", fmt.Errorf("%w: %s %s: %v", ErrDispatch, kind, ref, err)
	}

	err := d.status.Set(ctx, job.Subject(), status.Entry{Status: models.JobStatusQueued, JobID: job.ID})
	switch {
	case errors.Is(err, status.ErrStale):
		logger.Debug("job started before its queued status was recorded")
	case err != nil:
		logger.Error("record queued status", "error", err)
	}
	logger.Info("job queued")
	return job.ID, nil
}

// SubmitIndex registers ref as an artifact and queues its index job. The
// verify and compile jobs for the same revision are queued alongside it
// without waiting for indexing; their failures are logged only.
func (d *Dispatcher) SubmitIndex(ctx context.Context, ref models.ArtifactKey) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	if d.artifacts != nil {
		if _, err := d.artifacts.Upsert(ctx, ref); err != nil {
			return "", fmt.Errorf("submit %s: %w", ref, err)
		}
	}

	var jobID string
	var g errgroup.Group
	g.Go(func() error {
		id, err := d.Enqueue(ctx, models.JobKindIndex, ref)
		jobID = id
		return err
	})
	for _, kind := range []models.JobKind{models.JobKindVerify, models.JobKindCompile} {
		g.Go(func() error {
			if _, err := d.Enqueue(ctx, kind, ref); err != nil {
				ctxlog.FromContext(ctx).Error("queue follow-on job", "kind", kind, "artifact", ref.String(), "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return jobID, nil
}

// Status returns the last known status of the kind job for ref.
// Unknown and expired subjects yield status.ErrNotFound.
func (d *Dispatcher) Status(ctx context.Context, kind models.JobKind, ref models.ArtifactKey) (status.Entry, error) {
	if !kind.Valid() {
		return status.Entry{}, fmt.Errorf("status: unknown job kind %q", kind)
	}
	return d.status.Get(ctx, models.SubjectKey(kind, ref))
}
