package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"dataproc/internal/logging"
)

func requestLogger(logger logging.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			// health probes are frequent and uninteresting
			log := logger.Info
			if r.URL.Path == "/healthz" && ww.Status() == http.StatusOK {
				log = logger.Debug
			}
			log("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_ip", r.RemoteAddr,
			)
		}

		return http.HandlerFunc(fn)
	}
}
