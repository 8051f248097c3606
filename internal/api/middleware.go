package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/theoremlib/internal/ctxlog"
	"github.com/ShayCichocki/theoremlib/internal/health"
)

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// correlate reuses the caller's correlation id or mints one, echoes it on
// the response and attaches it to the request logger.
func (s *Server) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(health.CorrelationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(health.CorrelationHeader, id)

		logger := s.logger.With("correlation_id", id)
		ctx := ctxlog.WithLogger(r.Context(), logger)

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		logger.Debug("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.code,
			"duration", time.Since(start),
		)
	})
}
