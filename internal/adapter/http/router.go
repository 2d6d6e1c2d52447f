package http

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/YelzhanWeb/printforge/internal/adapter/logger"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// NewRouter assembles the order-service API. Business routes require a
// bearer token; /metrics and /healthz do not.
func NewRouter(orders *CustomOrderHandler, tracking *TrackingHandler, auth func(http.Handler) http.Handler, health HealthCheck, logger logger.Logger) http.Handler {
	mux := http.NewServeMux()

	orders.Register(mux, auth)
	tracking.Register(mux, auth)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := health(ctx); err != nil {
				logger.Error("health_check_failed", "Dependency unavailable", RequestIDFrom(r.Context()), nil, err)
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return LoggingMiddleware(logger)(RecoveryMiddleware(logger)(mux))
}
