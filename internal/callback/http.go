package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ShayCichocki/theoremlib/internal/graph"
	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// Callback endpoint paths on the graph service.
const (
	PathIndex = "/internal/projects"
	PathFlags = "/internal/flags"
)

// HTTPClient delivers callbacks to a remote graph service.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client for the graph service at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// RecordIndex implements Graph.
func (c *HTTPClient) RecordIndex(ctx context.Context, result graph.IndexResult) ([]models.ArtifactKey, error) {
	var resp IndexResponse
	if err := c.post(ctx, PathIndex, NewIndexRequest(result), &resp); err != nil {
		return nil, err
	}
	return resp.Created, nil
}

// SetFlag implements Graph.
func (c *HTTPClient) SetFlag(ctx context.Context, key models.ArtifactKey, flag models.FlagName, value models.Validity) error {
	return c.post(ctx, PathFlags, FlagRequest{ArtifactKey: key, Flag: flag, Value: value}, nil)
}

// post sends body as JSON and decodes a 2xx response into out when non-nil.
// A 404 is reported as graph.ErrNotFound.
func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("post %s: %w", path, graph.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("post %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Compile-time verification that HTTPClient implements Graph.
var _ Graph = (*HTTPClient)(nil)
