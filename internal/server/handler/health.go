package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthCheckTimeout bounds the combined dependency probes so a hung
// backend cannot stall the endpoint.
const healthCheckTimeout = 2 * time.Second

// HealthHandler probes the backing stores and reports per-dependency status.
type HealthHandler struct {
	pingers map[string]func(context.Context) error
	logger  *slog.Logger
}

// NewHealthHandler builds a HealthHandler over named ping functions, one per
// backend (postgres, redis, s3 when archiving is enabled).
func NewHealthHandler(pingers map[string]func(context.Context) error, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		pingers: pingers,
		logger:  logger.With(slog.String("component", "health_handler")),
	}
}

// HealthCheck reports overall and per-dependency status. Any failing probe
// degrades the response to 503 so load balancers stop routing here.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	checks := make(map[string]string, len(h.pingers))
	for name, ping := range h.pingers {
		if err := ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "dependency unhealthy",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			checks[name] = "unreachable"
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"service":   "hashmarket",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
