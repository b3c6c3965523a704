package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// CreateOrderInput is the buyer's rental request.
type CreateOrderInput struct {
	BuyerWallet string
	ListingID   int64
	Hours       int
	Pool        domain.PoolParams
}

// OrderService drives the order lifecycle from creation through buyer
// confirmation. Settlement lives in SettlementService; the split keeps the
// money-moving path behind the redis lock.
type OrderService struct {
	orders   domain.OrderStore
	listings domain.ListingStore
	accounts domain.AccountStore
	ratings  domain.RatingStore
	ledger   domain.Ledger
	bus      domain.SignalBus
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewOrderService creates an OrderService with all required dependencies.
func NewOrderService(
	orders domain.OrderStore,
	listings domain.ListingStore,
	accounts domain.AccountStore,
	ratings domain.RatingStore,
	ledger domain.Ledger,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		orders:   orders,
		listings: listings,
		accounts: accounts,
		ratings:  ratings,
		ledger:   ledger,
		bus:      bus,
		audit:    audit,
		logger:   logger.With(slog.String("component", "order_service")),
	}
}

// newOrderCode derives the short human-facing code, which doubles as the
// worker id the proxy reports under.
func newOrderCode(id uuid.UUID) string {
	return "HM-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:10])
}

// Create validates the rental request, snapshots the listing's terms, and
// funds the order through the ledger. The order is born paid; the
// pending→paid edge collapses into the creation transaction.
func (s *OrderService) Create(ctx context.Context, in CreateOrderInput) (domain.Order, error) {
	w, err := domain.NormalizeWallet(in.BuyerWallet)
	if err != nil {
		return domain.Order{}, err
	}
	buyer, err := s.accounts.GetByWallet(ctx, w)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: create: %w", err)
	}
	if buyer.IsBanned {
		return domain.Order{}, domain.ErrAccountBanned
	}

	listing, err := s.listings.GetByID(ctx, in.ListingID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: create: %w", err)
	}
	if listing.Status != domain.ListingStatusActive {
		return domain.Order{}, domain.Validationf("listing_id", "listing %d is not available", in.ListingID)
	}
	if listing.SellerID == buyer.ID {
		return domain.Order{}, domain.Validationf("listing_id", "cannot rent your own listing")
	}
	if in.Hours < listing.MinHours || in.Hours > listing.MaxHours {
		return domain.Order{}, domain.Validationf("hours",
			"must be between %d and %d", listing.MinHours, listing.MaxHours)
	}
	if in.Pool.Host == "" {
		return domain.Order{}, domain.Validationf("pool_host", "required")
	}
	if in.Pool.Port <= 0 || in.Pool.Port > 65535 {
		return domain.Order{}, domain.Validationf("pool_port", "must be in 1..65535")
	}
	if in.Pool.Wallet == "" {
		return domain.Order{}, domain.Validationf("pool_wallet", "required")
	}

	subtotal, commission, total := domain.OrderAmounts(listing.PricePerHourTicks, in.Hours)

	id := uuid.New()
	order := domain.Order{
		ID:           id.String(),
		Code:         newOrderCode(id),
		ListingID:    listing.ID,
		BuyerID:      buyer.ID,
		BuyerWallet:  buyer.Wallet,
		SellerID:     listing.SellerID,
		SellerWallet: listing.SellerWallet,

		Algorithm:    listing.Algorithm,
		Hashrate:     listing.Hashrate,
		HashrateUnit: listing.HashrateUnit,
		Hours:        in.Hours,

		PricePerHourTicks: listing.PricePerHourTicks,
		SubtotalTicks:     subtotal,
		CommissionTicks:   commission,
		TotalPaidTicks:    total,

		Pool: in.Pool,
	}
	if order.Pool.Worker == "" {
		order.Pool.Worker = order.Code
	}

	created, err := s.ledger.Reserve(ctx, order)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: reserve %s: %w", order.ID, err)
	}

	s.publishOrderEvent(ctx, "order_created", created)

	if auditErr := s.audit.Log(ctx, "order_created", map[string]any{
		"order_id": created.ID,
		"code":     created.Code,
		"buyer":    created.BuyerWallet,
		"seller":   created.SellerWallet,
		"total":    created.TotalPaid(),
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("order_id", created.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order created",
		slog.String("order_id", created.ID),
		slog.String("code", created.Code),
		slog.Float64("total", created.TotalPaid()),
	)
	return created, nil
}

// Get returns one order. The caller's wallet must be a party to the order;
// an empty wallet is treated as an internal (admin) read.
func (s *OrderService) Get(ctx context.Context, id, wallet string) (domain.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: get %s: %w", id, err)
	}
	if wallet != "" {
		w, err := domain.NormalizeWallet(wallet)
		if err != nil {
			return domain.Order{}, err
		}
		if order.BuyerWallet != w && order.SellerWallet != w {
			return domain.Order{}, domain.ErrForbidden
		}
	}
	return order, nil
}

// ListByWallet returns the wallet's orders in the given role.
func (s *OrderService) ListByWallet(ctx context.Context, wallet, role string, opts domain.ListOpts) ([]domain.Order, error) {
	w, err := domain.NormalizeWallet(wallet)
	if err != nil {
		return nil, err
	}
	acct, err := s.accounts.GetByWallet(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("order_service: list %s: %w", w, err)
	}
	orders, err := s.orders.ListByAccount(ctx, acct.ID, role, opts)
	if err != nil {
		return nil, fmt.Errorf("order_service: list %s: %w", w, err)
	}
	return orders, nil
}

// ConfirmDelivery is the buyer's acknowledgement that delivery happened. It
// moves active→delivering; losing the race to the expiry sweeper is not an
// error, the order is in the review queue either way.
func (s *OrderService) ConfirmDelivery(ctx context.Context, id, wallet string) (domain.Order, error) {
	order, err := s.Get(ctx, id, wallet)
	if err != nil {
		return domain.Order{}, err
	}
	w, err := domain.NormalizeWallet(wallet)
	if err != nil {
		return domain.Order{}, err
	}
	if order.BuyerWallet != w {
		return domain.Order{}, domain.ErrForbidden
	}

	confirmed, err := s.orders.ConfirmDelivery(ctx, id, time.Now().UTC())
	if err == domain.ErrInvalidStateTransition && order.Status == domain.OrderStatusDelivering {
		return order, nil
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: confirm %s: %w", id, err)
	}

	s.publishOrderEvent(ctx, "order_delivering", confirmed)
	s.logger.InfoContext(ctx, "buyer confirmed delivery",
		slog.String("order_id", id),
	)
	return confirmed, nil
}

// Rate records a 1..5 score between the parties of a completed order and
// refreshes the rated account's rolling average.
func (s *OrderService) Rate(ctx context.Context, orderID, wallet string, score int, comment string) (domain.Rating, error) {
	if score < 1 || score > 5 {
		return domain.Rating{}, domain.Validationf("score", "must be in 1..5")
	}
	w, err := domain.NormalizeWallet(wallet)
	if err != nil {
		return domain.Rating{}, err
	}
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return domain.Rating{}, fmt.Errorf("order_service: rate %s: %w", orderID, err)
	}
	if order.Status != domain.OrderStatusCompleted {
		return domain.Rating{}, domain.Validationf("order_id", "only completed orders can be rated")
	}

	rating := domain.Rating{OrderID: orderID, Score: score, Comment: comment}
	switch w {
	case order.BuyerWallet:
		rating.RaterID = order.BuyerID
		rating.RatedID = order.SellerID
		rating.Role = "buyer_rates_seller"
	case order.SellerWallet:
		rating.RaterID = order.SellerID
		rating.RatedID = order.BuyerID
		rating.Role = "seller_rates_buyer"
	default:
		return domain.Rating{}, domain.ErrForbidden
	}

	saved, err := s.ratings.Upsert(ctx, rating)
	if err != nil {
		return domain.Rating{}, fmt.Errorf("order_service: rate %s: %w", orderID, err)
	}

	avg, count, err := s.ratings.AverageFor(ctx, rating.RatedID, rating.Role)
	if err != nil {
		return domain.Rating{}, fmt.Errorf("order_service: rate %s: %w", orderID, err)
	}
	if err := s.accounts.UpdateRating(ctx, rating.RatedID, rating.Role, avg, count); err != nil {
		return domain.Rating{}, fmt.Errorf("order_service: rate %s: %w", orderID, err)
	}

	s.logger.InfoContext(ctx, "order rated",
		slog.String("order_id", orderID),
		slog.String("role", rating.Role),
		slog.Int("score", score),
	)
	return saved, nil
}

func (s *OrderService) publishOrderEvent(ctx context.Context, event string, o domain.Order) {
	evt, _ := json.Marshal(map[string]string{
		"event":    event,
		"order_id": o.ID,
		"code":     o.Code,
		"status":   string(o.Status),
	})
	if err := s.bus.Publish(ctx, "orders", evt); err != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("event", event),
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}
}
