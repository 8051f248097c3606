package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/theoremlib/internal/config"
	"github.com/ShayCichocki/theoremlib/internal/executor"
	"github.com/ShayCichocki/theoremlib/internal/queue"
	"github.com/ShayCichocki/theoremlib/internal/status"
	"github.com/ShayCichocki/theoremlib/internal/worker"
	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// holdExecutor blocks every run until release is closed.
type holdExecutor struct {
	release chan struct{}
}

func (h holdExecutor) Run(ctx context.Context, _ executor.Env) (executor.ExitResult, error) {
	select {
	case <-h.release:
	case <-ctx.Done():
	}
	return executor.ExitResult{}, nil
}

func (holdExecutor) Ping(context.Context) error { return nil }

func TestRunningJobs(t *testing.T) {
	b := queue.NewMemoryBroker()
	defer b.Close()
	exec := holdExecutor{release: make(chan struct{})}
	pool := worker.NewPool(worker.PoolConfig{
		Broker:      b,
		Processor:   worker.NewProcessor("theoremlib", config.ExecutorConfig{Backend: "process"}, exec, status.NewMemoryStore(0), nil),
		Concurrency: map[models.JobKind]int{models.JobKindVerify: 1},
	})
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	assert.Empty(t, runningJobs(pool))

	job := models.Job{
		ID:   "job-7",
		Kind: models.JobKindVerify,
		Ref:  models.ArtifactKey{SourceURL: "http://git-server/base.git", Revision: "b1"},
	}
	require.NoError(t, b.Publish(context.Background(), queue.NewMessage(job)))

	require.Eventually(t, func() bool {
		return len(runningJobs(pool)) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"verify/job-7"}, runningJobs(pool))

	close(exec.release)
	require.Eventually(t, func() bool {
		return len(runningJobs(pool)) == 0
	}, 5*time.Second, 10*time.Millisecond)
}
