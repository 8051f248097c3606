package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/theoremlib/internal/callback"
	"github.com/ShayCichocki/theoremlib/internal/dispatch"
	"github.com/ShayCichocki/theoremlib/internal/graph"
	"github.com/ShayCichocki/theoremlib/internal/health"
	"github.com/ShayCichocki/theoremlib/internal/queue"
	"github.com/ShayCichocki/theoremlib/internal/status"
	"github.com/ShayCichocki/theoremlib/pkg/models"
)

var (
	base     = models.ArtifactKey{SourceURL: "http://git-server/base.git", Revision: "b1"}
	algebra  = models.ArtifactKey{SourceURL: "http://git-server/algebra.git", Revision: "a1"}
	advanced = models.ArtifactKey{SourceURL: "http://git-server/advanced.git", Revision: "v1"}
)

type fixture struct {
	db     *graph.DB
	broker *queue.MemoryBroker
	status *status.MemoryStore
	srv    *httptest.Server
	client *Client
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newFixture(t *testing.T, broker queue.Broker) *fixture {
	t.Helper()
	db, err := graph.Open(graph.DriverSQLite, filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	mem := queue.NewMemoryBroker()
	t.Cleanup(func() { mem.Close() })
	if broker == nil {
		broker = mem
	}
	st := status.NewMemoryStore(0)
	d := dispatch.New(broker, st, db)

	s := NewServer(ServerConfig{
		Dispatcher:   d,
		Graph:        db,
		Callback:     callback.NewLocal(db, d.SubmitIndex),
		PaperBaseURL: "http://pdf-service/",
		Checkers: []health.Checker{
			health.NewPingChecker("graph", db, time.Second),
			health.NewPingChecker("status", st, time.Second),
		},
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &fixture{db: db, broker: mem, status: st, srv: srv, client: NewClient(srv.URL, 5*time.Second)}
}

func (f *fixture) upsert(t *testing.T, keys ...models.ArtifactKey) {
	t.Helper()
	for _, k := range keys {
		_, err := f.db.Upsert(context.Background(), k)
		require.NoError(t, err)
	}
}

func TestSubmitProject(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	resp, err := f.client.Submit(ctx, base)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, "queued", resp.Status)

	// The root exists immediately and all three jobs were queued.
	_, err = f.db.Get(ctx, base)
	require.NoError(t, err)
	for _, kind := range models.AllJobKinds {
		assert.Equal(t, 1, f.broker.Pending(kind), kind)
	}

	st, err := f.client.Status(ctx, models.JobKindIndex, base)
	require.NoError(t, err)
	assert.Equal(t, StatusResponse{Status: "queued", TaskID: resp.TaskID}, st)
}

func TestSubmitProject_Errors(t *testing.T) {
	t.Run("invalid body", func(t *testing.T) {
		f := newFixture(t, nil)
		resp, err := http.Post(f.srv.URL+PathProjects, "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var er ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&er))
		assert.Equal(t, "Bad Request", er.Error)
		assert.NotEmpty(t, er.Message)
	})

	t.Run("missing commit", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.client.Submit(context.Background(), models.ArtifactKey{SourceURL: "x"})
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusBadRequest, se.Code)
	})

	t.Run("broker unavailable", func(t *testing.T) {
		closed := queue.NewMemoryBroker()
		require.NoError(t, closed.Close())
		f := newFixture(t, closed)

		_, err := f.client.Submit(context.Background(), base)
		require.Error(t, err)
		assert.True(t, errors.Is(err, dispatch.ErrDispatch))
	})
}

func TestGetStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	st, err := f.client.Status(ctx, models.JobKindVerify, base)
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, st.Status)

	require.NoError(t, f.status.Set(ctx, models.SubjectKey(models.JobKindVerify, base),
		status.Entry{Status: models.JobStatusSuccess, JobID: "j1"}))
	st, err = f.client.Status(ctx, models.JobKindVerify, base)
	require.NoError(t, err)
	assert.Equal(t, StatusResponse{Status: "success", TaskID: "j1"}, st)

	// Corrupt entries self-heal to not_found.
	f.status.SetRaw(models.SubjectKey(models.JobKindCompile, base), []byte("{garbage"))
	st, err = f.client.Status(ctx, models.JobKindCompile, base)
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, st.Status)

	resp, err := http.Get(f.srv.URL + PathStatus + "?repo_url=a&commit=b&kind=lint")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListProjects(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	refs, err := f.client.Artifacts(ctx)
	require.NoError(t, err)
	assert.NotNil(t, refs)
	assert.Empty(t, refs)

	f.upsert(t, base, advanced, algebra)
	refs, err = f.client.Artifacts(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, advanced, refs[0].Key())
	assert.Equal(t, algebra, refs[1].Key())
	assert.Equal(t, base, refs[2].Key())
	assert.Equal(t, models.ValidityUnknown, refs[0].ProofStatus)
}

func TestDependencies(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.upsert(t, base, algebra, advanced)
	require.NoError(t, f.client.Connect(ctx, advanced, base))
	require.NoError(t, f.client.Connect(ctx, advanced, algebra))
	require.NoError(t, f.client.Connect(ctx, algebra, base))

	deps, err := f.client.Dependencies(ctx, advanced, true)
	require.NoError(t, err)
	require.Len(t, deps, 2)
	assert.Equal(t, algebra, deps[0].Key())
	assert.Equal(t, base, deps[1].Key())
	assert.Equal(t, "http://pdf-service/aHR0cDovL2dpdC1zZXJ2ZXIvYmFzZS5naXQ=/b1/main.pdf", deps[1].PaperURL)

	deps, err = f.client.Dependencies(ctx, algebra, false)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, base, deps[0].Key())

	_, err = f.client.Dependencies(ctx, models.ArtifactKey{SourceURL: "nope", Revision: "1"}, true)
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestDependencies_DefaultsToTransitive(t *testing.T) {
	f := newFixture(t, nil)
	f.upsert(t, base, algebra, advanced)
	ctx := context.Background()
	require.NoError(t, f.db.Connect(ctx, advanced, algebra))
	require.NoError(t, f.db.Connect(ctx, algebra, base))

	resp, err := http.Get(f.srv.URL + PathDependencies + "?" + refQuery(advanced).Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var deps []DependencyInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&deps))
	assert.Len(t, deps, 2)
}

func TestConnect_MissingTarget(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.upsert(t, advanced)

	err := f.client.Connect(ctx, advanced, base)
	assert.ErrorIs(t, err, graph.ErrNotFound)

	deps, err := f.db.DirectDependencies(ctx, advanced)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestInternalCallbacks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.upsert(t, advanced)

	g := callback.NewHTTPClient(f.srv.URL, 5*time.Second)
	created, err := g.RecordIndex(ctx, graph.IndexResult{
		Source:       advanced,
		Dependencies: []models.ArtifactKey{base, algebra},
		Valid:        true,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.ArtifactKey{base, algebra}, created)

	// Newly discovered dependencies are submitted for indexing.
	assert.Equal(t, 2, f.broker.Pending(models.JobKindIndex))

	require.NoError(t, g.SetFlag(ctx, advanced, models.FlagProof, models.ValidityValid))
	ref, err := f.db.Get(ctx, advanced)
	require.NoError(t, err)
	assert.Equal(t, models.ValidityValid, ref.ProofStatus)
	assert.Equal(t, models.ValidityValid, ref.DependenciesStatus)

	err = g.SetFlag(ctx, models.ArtifactKey{SourceURL: "nope", Revision: "1"}, models.FlagPaper, models.ValidityValid)
	assert.ErrorIs(t, err, graph.ErrNotFound)

	err = g.SetFlag(ctx, advanced, "bogus", models.ValidityValid)
	require.Error(t, err)
	assert.NotErrorIs(t, err, graph.ErrNotFound)
}

func TestDependents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.upsert(t, base, algebra, advanced)
	require.NoError(t, f.db.Connect(ctx, advanced, base))
	require.NoError(t, f.db.Connect(ctx, algebra, base))
	require.NoError(t, f.db.Connect(ctx, advanced, algebra))

	deps, err := f.client.Dependents(ctx, base)
	require.NoError(t, err)
	require.Len(t, deps, 2)
	assert.Equal(t, advanced, deps[0].Key())
	assert.Equal(t, algebra, deps[1].Key())
	assert.Equal(t, "http://pdf-service/aHR0cDovL2dpdC1zZXJ2ZXIvYWR2YW5jZWQuZ2l0/v1/main.pdf", deps[0].PaperURL)

	deps, err = f.client.Dependents(ctx, advanced)
	require.NoError(t, err)
	assert.Empty(t, deps)

	_, err = f.client.Dependents(ctx, models.ArtifactKey{SourceURL: "nope", Revision: "1"})
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestRecordIndex_InvalidDependency(t *testing.T) {
	f := newFixture(t, nil)
	f.upsert(t, advanced)

	body, err := json.Marshal(callback.NewIndexRequest(graph.IndexResult{
		Source:       advanced,
		Dependencies: []models.ArtifactKey{base, {SourceURL: "http://git-server/algebra.git"}},
		Valid:        true,
	}))
	require.NoError(t, err)

	resp, err := http.Post(f.srv.URL+callback.PathIndex, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var e ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.Contains(t, e.Message, "dependency 1")

	_, err = f.db.Get(context.Background(), base)
	assert.ErrorIs(t, err, graph.ErrNotFound)
	assert.Equal(t, 0, f.broker.Pending(models.JobKindIndex))
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	report, err := f.client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, health.StatusHealthy, report.Status)
	assert.Equal(t, "theoremlib", report.Service)
	assert.Equal(t, health.StatusHealthy, report.Dependencies["graph"].Status)
	assert.Equal(t, health.StatusHealthy, report.Dependencies["status"].Status)
}

func TestHealth_DependencyDownStillServes(t *testing.T) {
	s := NewServer(ServerConfig{
		Service: "graph-service",
		Checkers: []health.Checker{
			health.NewPingChecker("neo", pingFunc(func(context.Context) error { return errors.New("down") }), time.Second),
		},
	})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, PathHealth, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var report health.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, health.StatusHealthy, report.Status)
	assert.Equal(t, health.StatusUnhealthy, report.Dependencies["neo"].Status)
}

func TestCorrelationID(t *testing.T) {
	s := NewServer(ServerConfig{})
	h := s.Handler()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, PathHealth, nil)
	req.Header.Set(health.CorrelationHeader, "abc-123")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(health.CorrelationHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, PathHealth, nil))
	assert.Len(t, rec.Header().Get(health.CorrelationHeader), 36)
}

func TestMethodNotAllowed(t *testing.T) {
	s := NewServer(ServerConfig{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, PathProjects, bytes.NewReader(nil)))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestListenAndServe_Shutdown(t *testing.T) {
	s := NewServer(ServerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0", time.Second) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
