// Package api is the REST binding of theoremlib: the public project and
// status endpoints, the internal callback endpoints workers report to, and a
// client for both.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ShayCichocki/theoremlib/internal/callback"
	"github.com/ShayCichocki/theoremlib/internal/ctxlog"
	"github.com/ShayCichocki/theoremlib/internal/dispatch"
	"github.com/ShayCichocki/theoremlib/internal/graph"
	"github.com/ShayCichocki/theoremlib/internal/health"
	"github.com/ShayCichocki/theoremlib/internal/paper"
	"github.com/ShayCichocki/theoremlib/internal/status"
	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// Route paths.
const (
	PathProjects     = "/projects"
	PathDependencies = "/projects/dependencies"
	PathDependents   = "/projects/dependents"
	PathStatus       = "/status"
	PathHealth       = "/health"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Dispatcher queues jobs and reports their status.
type Dispatcher interface {
	SubmitIndex(ctx context.Context, ref models.ArtifactKey) (string, error)
	Status(ctx context.Context, kind models.JobKind, ref models.ArtifactKey) (status.Entry, error)
}

// GraphReader is the part of the graph store the public endpoints use.
type GraphReader interface {
	ListArtifacts(ctx context.Context) ([]models.ArtifactRef, error)
	Dependencies(ctx context.Context, key models.ArtifactKey, transitive bool) ([]models.ArtifactRef, error)
	Dependents(ctx context.Context, key models.ArtifactKey) ([]models.ArtifactRef, error)
	Connect(ctx context.Context, src, dst models.ArtifactKey) error
}

// ServerConfig wires a Server.
type ServerConfig struct {
	// Service names this process in health reports.
	Service    string
	Dispatcher Dispatcher
	Graph      GraphReader
	// Callback handles the internal endpoints.
	Callback callback.Graph
	// PaperBaseURL prefixes paper_url in dependency listings.
	PaperBaseURL string
	Checkers     []health.Checker
	Logger       *slog.Logger
}

// Server serves the REST API.
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger
}

// NewServer creates a server.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Service == "" {
		cfg.Service = "theoremlib"
	}
	return &Server{cfg: cfg, logger: logger}
}

// Handler returns the routed handler wrapped in the correlation middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+PathProjects, s.submitProject)
	mux.HandleFunc("GET "+PathProjects, s.listProjects)
	mux.HandleFunc("GET "+PathDependencies, s.listDependencies)
	mux.HandleFunc("POST "+PathDependencies, s.connectDependency)
	mux.HandleFunc("GET "+PathDependents, s.listDependents)
	mux.HandleFunc("GET "+PathStatus, s.getStatus)
	mux.HandleFunc("POST "+callback.PathIndex, s.recordIndex)
	mux.HandleFunc("POST "+callback.PathFlags, s.setFlag)
	mux.HandleFunc("GET "+PathHealth, s.health)
	return s.correlate(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server starting", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down api server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api server: %w", err)
	}
	return nil
}

func (s *Server) submitProject(w http.ResponseWriter, r *http.Request) {
	var ref models.ArtifactKey
	if !s.decode(w, r, &ref) {
		return
	}
	if err := ref.Validate(); err != nil {
		s.error(w, r, err, http.StatusBadRequest)
		return
	}

	ctxlog.FromContext(r.Context()).Info("received project", "artifact", ref.String())
	id, err := s.cfg.Dispatcher.SubmitIndex(r.Context(), ref)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.json(w, r, http.StatusAccepted, SubmitResponse{TaskID: id, Status: string(models.JobStatusQueued)})
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	refs, err := s.cfg.Graph.ListArtifacts(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if refs == nil {
		refs = []models.ArtifactRef{}
	}
	s.json(w, r, http.StatusOK, refs)
}

// listDependencies returns the transitive closure by default; pass
// transitive=false for direct dependencies only.
func (s *Server) listDependencies(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.queryRef(w, r)
	if !ok {
		return
	}
	transitive := true
	if v := r.URL.Query().Get("transitive"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.error(w, r, fmt.Errorf("invalid transitive value %q", v), http.StatusBadRequest)
			return
		}
		transitive = b
	}

	refs, err := s.cfg.Graph.Dependencies(r.Context(), ref, transitive)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.json(w, r, http.StatusOK, s.withPapers(refs))
}

// listDependents returns the artifacts that directly depend on the queried one.
func (s *Server) listDependents(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.queryRef(w, r)
	if !ok {
		return
	}
	refs, err := s.cfg.Graph.Dependents(r.Context(), ref)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.json(w, r, http.StatusOK, s.withPapers(refs))
}

func (s *Server) withPapers(refs []models.ArtifactRef) []DependencyInfo {
	out := make([]DependencyInfo, 0, len(refs))
	for _, ref := range refs {
		out = append(out, DependencyInfo{
			ArtifactRef: ref,
			PaperURL:    paper.URL(s.cfg.PaperBaseURL, ref.Key()),
		})
	}
	return out
}

func (s *Server) connectDependency(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if !s.decode(w, r, &req) {
		return
	}
	for _, key := range []models.ArtifactKey{req.Source, req.Target} {
		if err := key.Validate(); err != nil {
			s.error(w, r, err, http.StatusBadRequest)
			return
		}
	}
	if err := s.cfg.Graph.Connect(r.Context(), req.Source, req.Target); err != nil {
		s.fail(w, r, err)
		return
	}
	s.json(w, r, http.StatusOK, MessageResponse{Success: true, Message: "dependency connected"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.queryRef(w, r)
	if !ok {
		return
	}
	kind := models.JobKindIndex
	if v := r.URL.Query().Get("kind"); v != "" {
		k, err := models.ParseJobKind(v)
		if err != nil {
			s.error(w, r, err, http.StatusBadRequest)
			return
		}
		kind = k
	}

	entry, err := s.cfg.Dispatcher.Status(r.Context(), kind, ref)
	if errors.Is(err, status.ErrNotFound) {
		s.json(w, r, http.StatusNotFound, StatusResponse{Status: StatusNotFound})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.json(w, r, http.StatusOK, StatusResponse{Status: string(entry.Status), TaskID: entry.JobID})
}

func (s *Server) recordIndex(w http.ResponseWriter, r *http.Request) {
	var req callback.IndexRequest
	if !s.decode(w, r, &req) {
		return
	}
	result := req.Result()
	if err := result.Source.Validate(); err != nil {
		s.error(w, r, err, http.StatusBadRequest)
		return
	}
	for i, dep := range result.Dependencies {
		if err := dep.Validate(); err != nil {
			s.error(w, r, fmt.Errorf("dependency %d: %w", i, err), http.StatusBadRequest)
			return
		}
	}

	created, err := s.cfg.Callback.RecordIndex(r.Context(), result)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if created == nil {
		created = []models.ArtifactKey{}
	}
	s.json(w, r, http.StatusAccepted, callback.IndexResponse{Created: created})
}

func (s *Server) setFlag(w http.ResponseWriter, r *http.Request) {
	var req callback.FlagRequest
	if !s.decode(w, r, &req) {
		return
	}
	switch {
	case !req.Flag.Valid():
		s.error(w, r, fmt.Errorf("unknown flag %q", req.Flag), http.StatusBadRequest)
		return
	case !req.Value.Valid():
		s.error(w, r, fmt.Errorf("invalid flag value %q", req.Value), http.StatusBadRequest)
		return
	}

	if err := s.cfg.Callback.SetFlag(r.Context(), req.ArtifactKey, req.Flag, req.Value); err != nil {
		s.fail(w, r, err)
		return
	}
	s.json(w, r, http.StatusOK, MessageResponse{Success: true, Message: string(req.Flag) + " updated"})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	report := health.Aggregate(r.Context(), s.cfg.Service, s.cfg.Checkers...)
	s.json(w, r, http.StatusOK, report)
}

// queryRef reads repo_url and commit from the query string.
func (s *Server) queryRef(w http.ResponseWriter, r *http.Request) (models.ArtifactKey, bool) {
	q := r.URL.Query()
	ref := models.ArtifactKey{SourceURL: q.Get("repo_url"), Revision: q.Get("commit")}
	if err := ref.Validate(); err != nil {
		s.error(w, r, err, http.StatusBadRequest)
		return ref, false
	}
	return ref, true
}

// Helper methods

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.error(w, r, fmt.Errorf("decode request: %w", err), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) json(w http.ResponseWriter, r *http.Request, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		ctxlog.FromContext(r.Context()).Error("failed to encode response", "error", err)
	}
}

// fail maps a domain error to its HTTP status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.error(w, r, err, statusFor(err))
}

func (s *Server) error(w http.ResponseWriter, r *http.Request, err error, code int) {
	logger := ctxlog.FromContext(r.Context())
	if code >= 500 {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", code, "error", err)
	} else {
		logger.Info("request rejected", "method", r.Method, "path", r.URL.Path, "status", code, "error", err)
	}
	s.json(w, r, code, ErrorResponse{Error: http.StatusText(code), Message: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, graph.ErrNotFound), errors.Is(err, status.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrDispatch):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
