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

// OrderService defines what the order handler needs from the service layer.
type OrderService interface {
	Create(ctx context.Context, in service.CreateOrderInput) (domain.Order, error)
	Get(ctx context.Context, id, wallet string) (domain.Order, error)
	ListByWallet(ctx context.Context, wallet, role string, opts domain.ListOpts) ([]domain.Order, error)
	ConfirmDelivery(ctx context.Context, id, wallet string) (domain.Order, error)
	Rate(ctx context.Context, orderID, wallet string, score int, comment string) (domain.Rating, error)
}

// DisputeOpener is the slice of the dispute service the order routes need.
type DisputeOpener interface {
	Open(ctx context.Context, in service.OpenDisputeInput) (domain.Dispute, error)
}

// OrderHandler serves the buyer/seller order endpoints.
type OrderHandler struct {
	orders   OrderService
	disputes DisputeOpener
	logger   *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders OrderService, disputes DisputeOpener, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, disputes: disputes, logger: logger}
}

type orderResponse struct {
	ID             string  `json:"id"`
	Code           string  `json:"code"`
	ListingID      int64   `json:"listing_id"`
	BuyerWallet    string  `json:"buyer_wallet"`
	SellerWallet   string  `json:"seller_wallet"`
	Algorithm      string  `json:"algorithm"`
	Hashrate       float64 `json:"hashrate"`
	HashrateUnit   string  `json:"hashrate_unit"`
	Hours          int     `json:"hours"`
	PricePerHour   float64 `json:"price_per_hour"`
	Subtotal       float64 `json:"subtotal"`
	Commission     float64 `json:"commission"`
	TotalPaid      float64 `json:"total_paid"`
	Status         string  `json:"status"`
	BuyerConfirmed bool    `json:"buyer_confirmed"`
	AdminAction    string  `json:"admin_action,omitempty"`
	Payout         float64 `json:"payout,omitempty"`
	Refund         float64 `json:"refund,omitempty"`

	Telemetry domain.TelemetrySummary `json:"telemetry"`

	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	ExpectedEndAt *time.Time `json:"expected_end_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
}

func toOrderResponse(o domain.Order) orderResponse {
	return orderResponse{
		ID:             o.ID,
		Code:           o.Code,
		ListingID:      o.ListingID,
		BuyerWallet:    o.BuyerWallet,
		SellerWallet:   o.SellerWallet,
		Algorithm:      o.Algorithm,
		Hashrate:       o.Hashrate,
		HashrateUnit:   o.HashrateUnit,
		Hours:          o.Hours,
		PricePerHour:   domain.USDT(o.PricePerHourTicks),
		Subtotal:       o.Subtotal(),
		Commission:     domain.USDT(o.CommissionTicks),
		TotalPaid:      o.TotalPaid(),
		Status:         string(o.Status),
		BuyerConfirmed: o.BuyerConfirmed,
		AdminAction:    string(o.AdminAction),
		Payout:         domain.USDT(o.PayoutTicks),
		Refund:         domain.USDT(o.RefundTicks),
		Telemetry:      o.Telemetry,
		CreatedAt:      o.CreatedAt,
		StartedAt:      o.StartedAt,
		ExpectedEndAt:  o.ExpectedEndAt,
		CompletedAt:    o.CompletedAt,
		CancelledAt:    o.CancelledAt,
	}
}

// Create funds a new rental order.
// POST /api/orders
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet    string `json:"wallet"`
		ListingID int64  `json:"listing_id"`
		Hours     int    `json:"hours"`
		domain.PoolParams
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.orders.Create(r.Context(), service.CreateOrderInput{
		BuyerWallet: req.Wallet,
		ListingID:   req.ListingID,
		Hours:       req.Hours,
		Pool:        req.PoolParams,
	})
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

// Get returns one order for a party to it.
// GET /api/orders/{id}?wallet=
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Get(r.Context(), pathParam(r, "id"), r.URL.Query().Get("wallet"))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// ListByWallet returns the wallet's orders.
// GET /api/accounts/{wallet}/orders?role=buyer|seller
func (h *OrderHandler) ListByWallet(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListByWallet(r.Context(), pathParam(r, "wallet"),
		r.URL.Query().Get("role"), parseListOpts(r))
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

// Confirm is the buyer's delivery acknowledgement.
// POST /api/orders/{id}/confirm
func (h *OrderHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet string `json:"wallet"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.orders.ConfirmDelivery(r.Context(), pathParam(r, "id"), req.Wallet)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// Dispute contests the order's delivery.
// POST /api/orders/{id}/dispute
func (h *OrderHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet      string `json:"wallet"`
		Reason      string `json:"reason"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	dispute, err := h.disputes.Open(r.Context(), service.OpenDisputeInput{
		OrderID:     pathParam(r, "id"),
		Wallet:      req.Wallet,
		Reason:      domain.DisputeReason(req.Reason),
		Description: req.Description,
	})
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeResponse(dispute))
}

// Rate records a post-completion score.
// POST /api/orders/{id}/rate
func (h *OrderHandler) Rate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet  string `json:"wallet"`
		Score   int    `json:"score"`
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rating, err := h.orders.Rate(r.Context(), pathParam(r, "id"), req.Wallet, req.Score, req.Comment)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"order_id": rating.OrderID,
		"score":    rating.Score,
		"role":     rating.Role,
	})
}
