package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"vidpipe/internal/logging"
	"vidpipe/internal/metrics"
	"vidpipe/internal/services"
)

// observe tags the request context with the request id, then logs and counts
// the request by route pattern once it completes.
func (h *handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := services.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		r = r.WithContext(ctx)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		metrics.RecordAPIRequest(route, strconv.Itoa(status))
		logging.WithContext(ctx, h.logger).Debug("request served",
			logging.String("method", r.Method),
			logging.String("route", route),
			logging.Int("status", status),
			logging.Duration("elapsed", time.Since(start)),
		)
	})
}

// routePattern returns the matched chi pattern so metric labels stay bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
