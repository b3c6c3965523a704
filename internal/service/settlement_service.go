package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// SettlementService is the only caller of Ledger.Release. Every settlement
// runs under a per-order redis lock so a double-clicked admin action, or two
// admin processes, cannot race each other into the release transaction.
type SettlementService struct {
	orders   domain.OrderStore
	ledger   domain.Ledger
	locks    domain.LockManager
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier Notifier
	lockTTL  time.Duration
	logger   *slog.Logger
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(
	orders domain.OrderStore,
	ledger domain.Ledger,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier Notifier,
	lockTTL time.Duration,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		orders:   orders,
		ledger:   ledger,
		locks:    locks,
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		lockTTL:  lockTTL,
		logger:   logger.With(slog.String("component", "settlement_service")),
	}
}

// split maps an admin action onto the exact three-way division of the
// escrowed amount. Commission is retained by the platform on every outcome.
func split(order domain.Order, action domain.AdminAction, payoutPercent int) (payout, refund, commission int64, err error) {
	commission = order.CommissionTicks
	switch action {
	case domain.AdminActionApprove:
		return order.SubtotalTicks, 0, commission, nil
	case domain.AdminActionReject:
		return 0, order.SubtotalTicks, commission, nil
	case domain.AdminActionPartial:
		payout, refund, err = domain.SettlementSplit(order.SubtotalTicks, payoutPercent)
		return payout, refund, commission, err
	default:
		return 0, 0, 0, domain.Validationf("action", "unknown action %q", action)
	}
}

// Settle applies an admin decision to a delivering order. Repeats return
// ErrOrderAlreadySettled; a concurrent settle returns ErrLockHeld.
func (s *SettlementService) Settle(ctx context.Context, orderID string, action domain.AdminAction, payoutPercent int, note string) (domain.Order, error) {
	return s.settleFrom(ctx, orderID, domain.OrderStatusDelivering, action, payoutPercent, note)
}

// settleFrom runs the locked release from the given source status. The
// dispute resolver reuses it with source `dispute`.
func (s *SettlementService) settleFrom(ctx context.Context, orderID string, from domain.OrderStatus, action domain.AdminAction, payoutPercent int, note string) (domain.Order, error) {
	unlock, err := s.locks.Acquire(ctx, "settle:"+orderID, s.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.Order{}, domain.ErrLockHeld
		}
		return domain.Order{}, fmt.Errorf("settlement_service: lock %s: %w", orderID, err)
	}
	defer unlock()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("settlement_service: get %s: %w", orderID, err)
	}
	if order.Status.Terminal() {
		return domain.Order{}, domain.ErrOrderAlreadySettled
	}
	if order.Status != from {
		return domain.Order{}, domain.ErrInvalidStateTransition
	}

	payout, refund, commission, err := split(order, action, payoutPercent)
	if err != nil {
		return domain.Order{}, err
	}

	// Reject means delivery never counted and the order cancels. Approve and
	// partial are both acceptance outcomes, so the order completes even at a
	// zero-percent payout and stays ratable.
	to := domain.OrderStatusCompleted
	if action == domain.AdminActionReject {
		to = domain.OrderStatusCancelled
	}

	settled, err := s.ledger.Release(ctx, domain.Settlement{
		OrderID:         orderID,
		FromStatus:      from,
		ToStatus:        to,
		Action:          action,
		Note:            note,
		PayoutTicks:     payout,
		RefundTicks:     refund,
		CommissionTicks: commission,
	})
	if err != nil {
		if errors.Is(err, domain.ErrLedgerInvariantViolation) {
			s.logger.ErrorContext(ctx, "ledger invariant violation",
				slog.String("order_id", orderID),
				slog.Int64("payout", payout),
				slog.Int64("refund", refund),
				slog.Int64("commission", commission),
			)
			if s.notifier != nil {
				msg := fmt.Sprintf("order %s: payout %d + refund %d + commission %d does not consume escrow",
					order.Code, payout, refund, commission)
				_ = s.notifier.Notify(ctx, "ledger_integrity", "Ledger invariant violation", msg)
			}
		}
		return domain.Order{}, fmt.Errorf("settlement_service: release %s: %w", orderID, err)
	}

	evt, _ := json.Marshal(map[string]string{
		"event":    "order_settled",
		"order_id": settled.ID,
		"code":     settled.Code,
		"status":   string(settled.Status),
		"action":   string(action),
	})
	if pubErr := s.bus.Publish(ctx, "orders", evt); pubErr != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("order_id", orderID),
			slog.String("error", pubErr.Error()),
		)
	}

	if auditErr := s.audit.Log(ctx, "order_settled", map[string]any{
		"order_id":   settled.ID,
		"code":       settled.Code,
		"action":     string(action),
		"payout":     domain.USDT(payout),
		"refund":     domain.USDT(refund),
		"commission": domain.USDT(commission),
		"note":       note,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("order_id", orderID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order settled",
		slog.String("order_id", settled.ID),
		slog.String("action", string(action)),
		slog.Float64("payout", domain.USDT(payout)),
		slog.Float64("refund", domain.USDT(refund)),
	)
	return settled, nil
}
