package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"dataproc/internal/http/handlers/health"
	"dataproc/internal/http/handlers/worker"
	"dataproc/internal/http/responses"
	"dataproc/internal/logging"
)

func NewRouter(
	logger logging.Logger,
	healthHandler *health.Handler,
	workerHandler *worker.Handler,
) chi.Router {
	r := chi.NewRouter()

	useBaseMiddlewares(r, logger)

	r.Get("/healthz", healthHandler.Check)

	r.Route("/api/v1/worker", func(r chi.Router) {
		r.Get("/stats", workerHandler.Stats)
		r.Get("/dead-letters", workerHandler.DeadLetters)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		responses.WriteNotFound(w, r)
	})

	return r
}
