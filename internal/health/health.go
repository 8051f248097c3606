// Package health probes the services and stores theoremlib depends on.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 5 * time.Second

// CorrelationHeader carries the request correlation id between services.
const CorrelationHeader = "X-Correlation-ID"

// Status is the outcome of one check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusTimeout   Status = "timeout"
)

// Result is one dependency's health. ResponseTimeMS is nil on timeout.
type Result struct {
	Status         Status `json:"status"`
	ResponseTimeMS *int64 `json:"response_time_ms,omitempty"`
}

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

// Pinger is implemented by every store, broker and executor backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker checks a dependency through its Ping method.
type PingChecker struct {
	name    string
	pinger  Pinger
	timeout time.Duration
}

// NewPingChecker returns a checker named name. A zero timeout uses DefaultTimeout.
func NewPingChecker(name string, p Pinger, timeout time.Duration) *PingChecker {
	return &PingChecker{name: name, pinger: p, timeout: timeout}
}

// Name implements Checker.
func (c *PingChecker) Name() string { return c.name }

// Check implements Checker.
func (c *PingChecker) Check(ctx context.Context) Result {
	return measure(ctx, c.timeout, c.pinger.Ping)
}

// HTTPChecker checks a peer service's /health endpoint.
type HTTPChecker struct {
	name    string
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPChecker returns a checker for the service at baseURL.
func NewHTTPChecker(name, baseURL string, timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		timeout: timeout,
	}
}

// Name implements Checker.
func (c *HTTPChecker) Name() string { return c.name }

// Check implements Checker. Any 2xx response is healthy.
func (c *HTTPChecker) Check(ctx context.Context) Result {
	return measure(ctx, c.timeout, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
		if err != nil {
			return err
		}
		req.Header.Set(CorrelationHeader, uuid.NewString())
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("health returned %s", resp.Status)
		}
		return nil
	})
}

func measure(ctx context.Context, timeout time.Duration, fn func(context.Context) error) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start).Milliseconds()

	switch {
	case err == nil:
		return Result{Status: StatusHealthy, ResponseTimeMS: &elapsed}
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		return Result{Status: StatusTimeout}
	default:
		return Result{Status: StatusUnhealthy, ResponseTimeMS: &elapsed}
	}
}

// Report is the body of a /health response.
type Report struct {
	// Status describes the service itself. Unhealthy dependencies are
	// reported but do not change it.
	Status       Status            `json:"status"`
	Service      string            `json:"service"`
	Dependencies map[string]Result `json:"dependencies"`
}

// Healthy reports whether every dependency is healthy.
func (r Report) Healthy() bool {
	for _, res := range r.Dependencies {
		if res.Status != StatusHealthy {
			return false
		}
	}
	return true
}

// Aggregate runs every checker concurrently.
func Aggregate(ctx context.Context, service string, checkers ...Checker) Report {
	report := Report{
		Status:       StatusHealthy,
		Service:      service,
		Dependencies: make(map[string]Result, len(checkers)),
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range checkers {
		g.Go(func() error {
			res := c.Check(ctx)
			mu.Lock()
			report.Dependencies[c.Name()] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return report
}
