package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashbrotherhood/hashmarket/internal/service"
)

// TelemetryService defines what the proxy handler needs from the service
// layer.
type TelemetryService interface {
	Ingest(ctx context.Context, in service.IngestInput) error
	Disconnect(ctx context.Context, orderCode string) error
}

// ProxyHandler serves the HMAC-authenticated callbacks from the mining
// proxy. Responses are fire-and-forget acknowledgements; the proxy does not
// retry on a 2xx.
type ProxyHandler struct {
	telemetry TelemetryService
	logger    *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(telemetry TelemetryService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{telemetry: telemetry, logger: logger}
}

// Samples ingests one telemetry report.
// POST /api/proxy/samples
func (h *ProxyHandler) Samples(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Worker        string  `json:"worker"`
		Timestamp     int64   `json:"timestamp"`
		Hashrate      float64 `json:"hashrate"`
		AcceptedDelta int64   `json:"accepted_delta"`
		RejectedDelta int64   `json:"rejected_delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Worker == "" {
		writeError(w, http.StatusBadRequest, "worker is required")
		return
	}

	var ts time.Time
	if req.Timestamp > 0 {
		ts = time.Unix(req.Timestamp, 0).UTC()
	}

	if err := h.telemetry.Ingest(r.Context(), service.IngestInput{
		OrderCode:     req.Worker,
		Timestamp:     ts,
		Hashrate:      req.Hashrate,
		AcceptedDelta: req.AcceptedDelta,
		RejectedDelta: req.RejectedDelta,
	}); err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Disconnect records the proxy losing a worker.
// POST /api/proxy/disconnect
func (h *ProxyHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Worker string `json:"worker"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Worker == "" {
		writeError(w, http.StatusBadRequest, "worker is required")
		return
	}

	if err := h.telemetry.Disconnect(r.Context(), req.Worker); err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
