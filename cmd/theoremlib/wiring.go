package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ShayCichocki/theoremlib/internal/api"
	"github.com/ShayCichocki/theoremlib/internal/callback"
	"github.com/ShayCichocki/theoremlib/internal/config"
	"github.com/ShayCichocki/theoremlib/internal/dispatch"
	"github.com/ShayCichocki/theoremlib/internal/graph"
	"github.com/ShayCichocki/theoremlib/internal/health"
	"github.com/ShayCichocki/theoremlib/internal/queue"
	"github.com/ShayCichocki/theoremlib/internal/status"
)

// backends holds the shared infrastructure a process talks to.
type backends struct {
	graph      *graph.DB
	status     status.Store
	broker     queue.Broker
	dispatcher *dispatch.Dispatcher
	closers    []func() error
}

// openBackends connects to the status store and broker, and opens the graph
// database when withGraph is set.
func openBackends(cfg *config.Config, withGraph bool) (*backends, error) {
	b := &backends{}

	switch cfg.Status.Backend {
	case "memory":
		b.status = status.NewMemoryStore(cfg.Status.TTL)
	default:
		rs := status.NewRedisStore(status.RedisOptions{
			Addr:     cfg.Status.Addr,
			Password: cfg.Status.Password,
			DB:       cfg.Status.DB,
			Prefix:   cfg.ProjectName + ":",
			TTL:      cfg.Status.TTL,
		})
		b.status = rs
		b.closers = append(b.closers, rs.Close)
	}

	switch cfg.Queue.Backend {
	case "memory":
		b.broker = queue.NewMemoryBroker()
	default:
		broker, err := queue.DialAMQP(cfg.Queue.URL, cfg.ProjectName, cfg.Queue.PublishTimeout)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect to broker: %w", err)
		}
		b.broker = broker
	}
	b.closers = append(b.closers, b.broker.Close)

	if withGraph {
		db, err := graph.Open(cfg.Graph.Driver, cfg.Graph.Path)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("open graph: %w", err)
		}
		if err := db.Migrate(); err != nil {
			_ = db.Close()
			b.Close()
			return nil, fmt.Errorf("migrate graph: %w", err)
		}
		b.graph = db
		b.closers = append(b.closers, db.Close)
		b.dispatcher = dispatch.New(b.broker, b.status, db)
	}
	return b, nil
}

// callbackGraph returns the graph surface workers report into: the remote
// graph service when callback.graph_url is set, otherwise the local database.
func (b *backends) callbackGraph(cfg *config.Config) (callback.Graph, error) {
	if cfg.Callback.GraphURL != "" {
		client := callback.NewHTTPClient(cfg.Callback.GraphURL, cfg.Callback.Timeout)
		return callback.NewRetrying(client, cfg.Callback.MaxRetries), nil
	}
	if b.graph == nil {
		return nil, errors.New("callback.graph_url is empty and no local graph is open")
	}
	return callback.NewLocal(b.graph, b.dispatcher.SubmitIndex), nil
}

// checkers builds health probes for every backend in use.
func (b *backends) checkers(cfg *config.Config) []health.Checker {
	var cs []health.Checker
	if b.graph != nil {
		cs = append(cs, health.NewPingChecker("graph", b.graph, health.DefaultTimeout))
	}
	cs = append(cs,
		health.NewPingChecker("status", b.status, health.DefaultTimeout),
		health.NewPingChecker("queue", b.broker, health.DefaultTimeout),
	)
	if cfg.Callback.GraphURL != "" {
		cs = append(cs, health.NewHTTPChecker("graph-service", cfg.Callback.GraphURL, health.DefaultTimeout))
	}
	return cs
}

// Close releases backends in reverse order of opening.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			slog.Warn("close backend", "error", err)
		}
	}
	b.closers = nil
}

// newClient builds an API client from --api or services.api.
func newClient(cfg *config.Config) *api.Client {
	base := apiURL
	if base == "" {
		base = cfg.Services.API
	}
	return api.NewClient(base, 30*time.Second)
}

// clientContext bounds a single client command.
func clientContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, time.Minute)
}
