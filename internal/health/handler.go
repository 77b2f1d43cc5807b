package health

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/baechuer/real-time-ressys/services/push-service/internal/audit"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/logger"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/metrics"
)

// StatusReader resolves a trace id to its latest audit record.
type StatusReader interface {
	LatestByTraceID(ctx context.Context, traceID string) (*audit.Record, error)
}

type errResponse struct {
	Error string `json:"error"`
}

// NewRouter wires the worker's HTTP surface: health, delivery status lookup
// and Prometheus metrics.
func NewRouter(checker *Checker, statuses StatusReader) *chi.Mux {
	log := logger.WithComponent("http")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		resp := checker.Check(req.Context())
		if resp.Status == StatusUnhealthy {
			render.Status(req, http.StatusServiceUnavailable)
		}
		render.JSON(w, req, resp)
	})

	r.Get("/api/v1/push/status/{trace_id}", func(w http.ResponseWriter, req *http.Request) {
		traceID := chi.URLParam(req, "trace_id")
		if traceID == "" {
			render.Status(req, http.StatusBadRequest)
			render.JSON(w, req, errResponse{Error: "trace_id is required"})
			return
		}

		record, err := statuses.LatestByTraceID(req.Context(), traceID)
		if err != nil {
			log.Error().Err(err).Str("trace_id", traceID).Msg("status lookup failed")
			render.Status(req, http.StatusInternalServerError)
			render.JSON(w, req, errResponse{Error: "status lookup failed"})
			return
		}
		if record == nil {
			render.Status(req, http.StatusNotFound)
			render.JSON(w, req, errResponse{Error: "no delivery record for trace_id"})
			return
		}
		render.JSON(w, req, record)
	})

	r.Handle("/metrics", metrics.Handler())

	return r
}
