package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
	"github.com/hashbrotherhood/hashmarket/internal/service"
)

// SettlementService defines what the admin handler needs for settling orders.
type SettlementService interface {
	Settle(ctx context.Context, orderID string, action domain.AdminAction, payoutPercent int, note string) (domain.Order, error)
}

// DisputeAdmin is the admin slice of the dispute service.
type DisputeAdmin interface {
	Resolve(ctx context.Context, disputeID string, resolution domain.DisputeResolution, payoutPercent int, note string) (domain.Dispute, error)
	ListOpen(ctx context.Context) ([]domain.Dispute, error)
}

// ReviewService defines the read side of the admin surface.
type ReviewService interface {
	Queue(ctx context.Context) ([]domain.Order, error)
	Dashboard(ctx context.Context) (service.DashboardStats, error)
}

// AccountAdmin is the admin slice of the account service.
type AccountAdmin interface {
	Ban(ctx context.Context, wallet string, banned bool, reason string) error
}

// AdminHandler serves the settlement and moderation endpoints. All routes
// sit behind the admin API-key middleware.
type AdminHandler struct {
	settlement SettlementService
	disputes   DisputeAdmin
	review     ReviewService
	accounts   AccountAdmin
	logger     *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	settlement SettlementService,
	disputes DisputeAdmin,
	review ReviewService,
	accounts AccountAdmin,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		settlement: settlement,
		disputes:   disputes,
		review:     review,
		accounts:   accounts,
		logger:     logger,
	}
}

type disputeResponse struct {
	ID            string                  `json:"id"`
	OrderID       string                  `json:"order_id"`
	OrderCode     string                  `json:"order_code"`
	OpenerWallet  string                  `json:"opener_wallet"`
	Reason        string                  `json:"reason"`
	Description   string                  `json:"description,omitempty"`
	Status        string                  `json:"status"`
	Snapshot      domain.TelemetrySummary `json:"telemetry_snapshot"`
	Resolution    string                  `json:"resolution,omitempty"`
	PayoutPercent int                     `json:"payout_percent,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	ResolvedAt    *time.Time              `json:"resolved_at,omitempty"`
}

func toDisputeResponse(d domain.Dispute) disputeResponse {
	return disputeResponse{
		ID:            d.ID,
		OrderID:       d.OrderID,
		OrderCode:     d.OrderCode,
		OpenerWallet:  d.OpenerWallet,
		Reason:        string(d.Reason),
		Description:   d.Description,
		Status:        string(d.Status),
		Snapshot:      d.Snapshot,
		Resolution:    string(d.Resolution),
		PayoutPercent: d.PayoutPercent,
		CreatedAt:     d.CreatedAt,
		ResolvedAt:    d.ResolvedAt,
	}
}

// Settle applies an admin decision to a delivering order.
// POST /api/admin/orders/{id}/settle
func (h *AdminHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action        string `json:"action"`
		PayoutPercent int    `json:"payout_percent"`
		Note          string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.settlement.Settle(r.Context(), pathParam(r, "id"),
		domain.AdminAction(req.Action), req.PayoutPercent, req.Note)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// ReviewQueue returns delivering orders awaiting settlement.
// GET /api/admin/review-queue
func (h *AdminHandler) ReviewQueue(w http.ResponseWriter, r *http.Request) {
	orders, err := h.review.Queue(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

// ListDisputes returns open disputes, oldest first.
// GET /api/admin/disputes
func (h *AdminHandler) ListDisputes(w http.ResponseWriter, r *http.Request) {
	disputes, err := h.disputes.ListOpen(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	out := make([]disputeResponse, 0, len(disputes))
	for _, d := range disputes {
		out = append(out, toDisputeResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"disputes": out})
}

// ResolveDispute applies the admin's binding outcome.
// POST /api/admin/disputes/{id}/resolve
func (h *AdminHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Resolution    string `json:"resolution"`
		PayoutPercent int    `json:"payout_percent"`
		Note          string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	dispute, err := h.disputes.Resolve(r.Context(), pathParam(r, "id"),
		domain.DisputeResolution(req.Resolution), req.PayoutPercent, req.Note)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(dispute))
}

// Ban soft-disables (or re-enables) an account.
// POST /api/admin/accounts/{wallet}/ban
func (h *AdminHandler) Ban(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Banned *bool  `json:"banned"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	banned := true
	if req.Banned != nil {
		banned = *req.Banned
	}

	wallet := pathParam(r, "wallet")
	if err := h.accounts.Ban(r.Context(), wallet, banned, req.Reason); err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"wallet": wallet,
		"banned": banned,
	})
}

// Dashboard returns the admin counters.
// GET /api/admin/dashboard
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.review.Dashboard(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
