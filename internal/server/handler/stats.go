package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hashbrotherhood/hashmarket/internal/service"
)

// StatsService defines the public counters read side.
type StatsService interface {
	Platform(ctx context.Context) (service.PlatformStats, error)
}

// StatsHandler serves the public marketplace counters.
type StatsHandler struct {
	stats  StatsService
	logger *slog.Logger
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(stats StatsService, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{stats: stats, logger: logger}
}

// Platform returns the public counters.
// GET /api/stats/platform
func (h *StatsHandler) Platform(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Platform(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
