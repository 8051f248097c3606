package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/theoremlib/internal/dispatch"
	"github.com/ShayCichocki/theoremlib/internal/graph"
	"github.com/ShayCichocki/theoremlib/internal/health"
	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// StatusError is a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("api returned %d: %s", e.Code, e.Message)
}

// Is maps 404 to graph.ErrNotFound and 503 to dispatch.ErrDispatch.
func (e *StatusError) Is(target error) bool {
	switch target {
	case graph.ErrNotFound:
		return e.Code == http.StatusNotFound
	case dispatch.ErrDispatch:
		return e.Code == http.StatusServiceUnavailable
	}
	return false
}

// Client talks to a theoremlib API server.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Submit queues ref for indexing, verification and compilation.
func (c *Client) Submit(ctx context.Context, ref models.ArtifactKey) (SubmitResponse, error) {
	var resp SubmitResponse
	err := c.do(ctx, http.MethodPost, PathProjects, nil, ref, &resp)
	return resp, err
}

// Status returns the job status for kind and ref. A subject with no status
// is reported as StatusNotFound, not as an error.
func (c *Client) Status(ctx context.Context, kind models.JobKind, ref models.ArtifactKey) (StatusResponse, error) {
	q := refQuery(ref)
	q.Set("kind", string(kind))

	var resp StatusResponse
	err := c.do(ctx, http.MethodGet, PathStatus, q, nil, &resp)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return StatusResponse{Status: StatusNotFound}, nil
	}
	return resp, err
}

// Artifacts lists every artifact.
func (c *Client) Artifacts(ctx context.Context) ([]models.ArtifactRef, error) {
	var refs []models.ArtifactRef
	err := c.do(ctx, http.MethodGet, PathProjects, nil, nil, &refs)
	return refs, err
}

// Dependencies lists the dependencies of ref.
func (c *Client) Dependencies(ctx context.Context, ref models.ArtifactKey, transitive bool) ([]DependencyInfo, error) {
	q := refQuery(ref)
	q.Set("transitive", strconv.FormatBool(transitive))

	var deps []DependencyInfo
	err := c.do(ctx, http.MethodGet, PathDependencies, q, nil, &deps)
	return deps, err
}

// Dependents lists the artifacts that directly depend on ref.
func (c *Client) Dependents(ctx context.Context, ref models.ArtifactKey) ([]DependencyInfo, error) {
	var deps []DependencyInfo
	err := c.do(ctx, http.MethodGet, PathDependents, refQuery(ref), nil, &deps)
	return deps, err
}

// Connect records that src depends on dst. Both must exist.
func (c *Client) Connect(ctx context.Context, src, dst models.ArtifactKey) error {
	return c.do(ctx, http.MethodPost, PathDependencies, nil, ConnectRequest{Source: src, Target: dst}, nil)
}

// Health fetches the server's health report.
func (c *Client) Health(ctx context.Context) (health.Report, error) {
	var report health.Report
	err := c.do(ctx, http.MethodGet, PathHealth, nil, nil, &report)
	return report, err
}

func refQuery(ref models.ArtifactKey) url.Values {
	return url.Values{
		"repo_url": {ref.SourceURL},
		"commit":   {ref.Revision},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(health.CorrelationHeader, uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Code: resp.StatusCode}
		var er ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &er) == nil && er.Message != "" {
			se.Message = er.Message
		} else {
			se.Message = strings.TrimSpace(string(data))
		}
		return se
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
