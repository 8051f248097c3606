package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ShayCichocki/theoremlib/internal/config"
	"github.com/ShayCichocki/theoremlib/internal/ctxlog"
	"github.com/ShayCichocki/theoremlib/internal/queue"
	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// PoolConfig contains configuration options for the Pool.
type PoolConfig struct {
	Broker    queue.Broker
	Processor *Processor
	// Concurrency is the number of workers per job kind. Kinds absent from
	// the map get no workers.
	Concurrency map[models.JobKind]int
	// SignalsDir is watched for the drain file. Empty disables draining.
	SignalsDir string
}

// Pool manages worker goroutines.
type Pool struct {
	cfg PoolConfig

	// busy tracks in-flight jobs by worker ID
	busy map[string]models.Job
	mu   sync.RWMutex

	drainOnce sync.Once
	drained   chan struct{}
	watcher   *DrainWatcher

	// ctx and cancel for pool lifecycle
	ctx    context.Context
	cancel context.CancelFunc

	// wg tracks running workers
	wg sync.WaitGroup
}

// NewPool creates a new Pool.
func NewPool(cfg PoolConfig) *Pool {
	return &Pool{
		cfg:     cfg,
		busy:    make(map[string]models.Job),
		drained: make(chan struct{}),
	}
}

// Concurrency resolves the configured per-kind worker counts, keeping only
// kinds. An empty kinds list keeps every kind.
func Concurrency(cfg config.WorkerConfig, kinds []models.JobKind) (map[models.JobKind]int, error) {
	if len(kinds) == 0 {
		kinds = models.AllJobKinds
	}
	out := make(map[models.JobKind]int, len(kinds))
	for _, kind := range kinds {
		if !kind.Valid() {
			return nil, fmt.Errorf("unknown job kind %q", kind)
		}
		if n := cfg.Concurrency[string(kind)]; n > 0 {
			out[kind] = n
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no workers configured")
	}
	return out, nil
}

// Start subscribes every worker and begins consuming. The pool runs until
// ctx is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) error {
	if p.cfg.Broker == nil || p.cfg.Processor == nil {
		return fmt.Errorf("broker and processor are required")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	kinds := make([]models.JobKind, 0, len(p.cfg.Concurrency))
	for kind := range p.cfg.Concurrency {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	type worker struct {
		id   string
		kind models.JobKind
		sub  *queue.Subscription
	}
	var workers []worker
	for _, kind := range kinds {
		for i := 0; i < p.cfg.Concurrency[kind]; i++ {
			sub, err := p.cfg.Broker.Subscribe(p.ctx, kind)
			if err != nil {
				for _, w := range workers {
					_ = w.sub.Close()
				}
				p.cancel()
				return fmt.Errorf("subscribe %s worker: %w", kind, err)
			}
			workers = append(workers, worker{id: uuid.New().String()[:8], kind: kind, sub: sub})
		}
	}

	if p.cfg.SignalsDir != "" {
		watcher, err := NewDrainWatcher(p.cfg.SignalsDir)
		if err != nil {
			ctxlog.FromContext(ctx).Warn("drain signal disabled", "dir", p.cfg.SignalsDir, "error", err)
		} else {
			p.watcher = watcher
			go func() {
				select {
				case <-watcher.Drained():
					ctxlog.FromContext(ctx).Info("drain signal received", "dir", p.cfg.SignalsDir)
					p.Drain()
				case <-p.ctx.Done():
				}
			}()
		}
	}

	for _, w := range workers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.work(w.id, w.kind, w.sub)
		}()
	}
	ctxlog.FromContext(ctx).Info("worker pool started", "workers", len(workers))
	return nil
}

// work consumes deliveries until the pool drains or stops.
func (p *Pool) work(id string, kind models.JobKind, sub *queue.Subscription) {
	defer sub.Close()
	ctx := ctxlog.With(p.ctx, "worker", id)
	logger := ctxlog.FromContext(ctx)
	logger.Debug("worker started", "kind", kind)

	for {
		select {
		case <-p.drained:
			logger.Debug("worker drained")
			return
		case <-p.ctx.Done():
			return
		case d, ok := <-sub.Deliveries():
			if !ok {
				return
			}
			p.handle(ctx, id, d)
		}
	}
}

// handle runs one delivery to completion. The job is detached from pool
// cancellation; only its own timeout ends it early.
func (p *Pool) handle(ctx context.Context, id string, d queue.Delivery) {
	logger := ctxlog.FromContext(ctx)
	job := d.Message.Job()

	p.mu.Lock()
	p.busy[id] = job
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.busy, id)
		p.mu.Unlock()
	}()

	p.cfg.Processor.Process(context.WithoutCancel(ctx), job)

	if err := d.Ack(); err != nil {
		logger.Error("failed to ack job", "job_id", job.ID, "error", err)
	}
}

// Drain stops workers from taking new jobs. In-flight jobs finish.
func (p *Pool) Drain() {
	p.drainOnce.Do(func() { close(p.drained) })
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Stop cancels the subscriptions and waits for in-flight jobs to complete.
func (p *Pool) Stop() error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	p.wg.Wait()
	if p.watcher != nil {
		p.watcher.Close()
		p.watcher = nil
	}
	return nil
}

// Count returns the number of jobs currently running.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.busy)
}

// Running returns the jobs currently running, ordered by job ID.
func (p *Pool) Running() []models.Job {
	p.mu.RLock()
	jobs := make([]models.Job, 0, len(p.busy))
	for _, job := range p.busy {
		jobs = append(jobs, job)
	}
	p.mu.RUnlock()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}
