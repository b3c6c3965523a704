package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// OpenDisputeInput is a party's request to contest delivery.
type OpenDisputeInput struct {
	OrderID     string
	Wallet      string
	Reason      domain.DisputeReason
	Description string
}

// DisputeService handles opening and resolving disputes. Resolution settles
// through SettlementService so the release path is identical to the review
// queue's.
type DisputeService struct {
	disputes   domain.DisputeStore
	orders     domain.OrderStore
	settlement *SettlementService
	bus        domain.SignalBus
	audit      domain.AuditStore
	logger     *slog.Logger
}

// NewDisputeService creates a DisputeService.
func NewDisputeService(
	disputes domain.DisputeStore,
	orders domain.OrderStore,
	settlement *SettlementService,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *DisputeService {
	return &DisputeService{
		disputes:   disputes,
		orders:     orders,
		settlement: settlement,
		bus:        bus,
		audit:      audit,
		logger:     logger.With(slog.String("component", "dispute_service")),
	}
}

// Open contests an order's delivery. The telemetry summary is frozen onto
// the dispute row at this moment; later samples cannot change the evidence.
func (s *DisputeService) Open(ctx context.Context, in OpenDisputeInput) (domain.Dispute, error) {
	if !domain.ValidDisputeReason(in.Reason) {
		return domain.Dispute{}, domain.Validationf("reason", "unknown reason %q", in.Reason)
	}
	w, err := domain.NormalizeWallet(in.Wallet)
	if err != nil {
		return domain.Dispute{}, err
	}

	order, err := s.orders.GetByID(ctx, in.OrderID)
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("dispute_service: open %s: %w", in.OrderID, err)
	}
	if order.BuyerWallet != w && order.SellerWallet != w {
		return domain.Dispute{}, domain.ErrForbidden
	}
	if !order.Status.Disputable() {
		if order.Status.Terminal() {
			return domain.Dispute{}, domain.ErrOrderAlreadySettled
		}
		return domain.Dispute{}, domain.ErrInvalidStateTransition
	}

	openerID := order.BuyerID
	if w == order.SellerWallet {
		openerID = order.SellerID
	}

	// The dispute row and the order edge commit together: the store's
	// partial unique index is the one-open-dispute guard, and losing the
	// race against a concurrent settle leaves no dispute row behind.
	dispute, err := s.disputes.Open(ctx, domain.Dispute{
		ID:          uuid.New().String(),
		OrderID:     order.ID,
		OpenerID:    openerID,
		Reason:      in.Reason,
		Description: in.Description,
		Snapshot:    order.Telemetry,
	}, order.Status)
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("dispute_service: open %s: %w", in.OrderID, err)
	}

	evt, _ := json.Marshal(map[string]string{
		"event":      "dispute_opened",
		"dispute_id": dispute.ID,
		"order_id":   order.ID,
		"code":       order.Code,
		"reason":     string(in.Reason),
	})
	if pubErr := s.bus.Publish(ctx, "disputes", evt); pubErr != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("dispute_id", dispute.ID),
			slog.String("error", pubErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "dispute opened",
		slog.String("dispute_id", dispute.ID),
		slog.String("order_id", order.ID),
		slog.String("reason", string(in.Reason)),
	)
	return dispute, nil
}

// Resolve applies the admin's binding outcome. The dispute closes exactly
// once; the escrow release reuses the settlement path with source status
// `dispute`.
func (s *DisputeService) Resolve(ctx context.Context, disputeID string, resolution domain.DisputeResolution, payoutPercent int, note string) (domain.Dispute, error) {
	if !domain.ValidDisputeResolution(resolution) {
		return domain.Dispute{}, domain.Validationf("resolution", "unknown resolution %q", resolution)
	}

	dispute, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("dispute_service: resolve %s: %w", disputeID, err)
	}
	if dispute.Status == domain.DisputeStatusResolved {
		return domain.Dispute{}, domain.ErrDisputeAlreadyResolved
	}

	var action domain.AdminAction
	switch resolution {
	case domain.ResolutionFullPayout:
		action = domain.AdminActionApprove
		payoutPercent = 100
	case domain.ResolutionFullRefund:
		action = domain.AdminActionReject
		payoutPercent = 0
	case domain.ResolutionPartial:
		action = domain.AdminActionPartial
	}

	if _, err := s.settlement.settleFrom(ctx, dispute.OrderID, domain.OrderStatusDispute, action, payoutPercent, note); err != nil {
		if !errors.Is(err, domain.ErrOrderAlreadySettled) {
			return domain.Dispute{}, fmt.Errorf("dispute_service: resolve %s: %w", disputeID, err)
		}
		// The escrow already released, typically because an earlier resolve
		// crashed between the release and the record update. Closing the
		// record without moving money makes the retry converge.
		s.logger.WarnContext(ctx, "order already settled, closing dispute record",
			slog.String("dispute_id", disputeID),
			slog.String("order_id", dispute.OrderID),
		)
	}

	resolved, err := s.disputes.Resolve(ctx, disputeID, resolution, note, payoutPercent, time.Now().UTC())
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("dispute_service: resolve %s: %w", disputeID, err)
	}

	evt, _ := json.Marshal(map[string]string{
		"event":      "dispute_resolved",
		"dispute_id": resolved.ID,
		"order_id":   resolved.OrderID,
		"resolution": string(resolution),
	})
	if pubErr := s.bus.Publish(ctx, "disputes", evt); pubErr != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("dispute_id", disputeID),
			slog.String("error", pubErr.Error()),
		)
	}

	if auditErr := s.audit.Log(ctx, "dispute_resolved", map[string]any{
		"dispute_id":     resolved.ID,
		"order_id":       resolved.OrderID,
		"resolution":     string(resolution),
		"payout_percent": payoutPercent,
		"note":           note,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("dispute_id", disputeID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "dispute resolved",
		slog.String("dispute_id", disputeID),
		slog.String("resolution", string(resolution)),
	)
	return resolved, nil
}

// ListOpen returns open disputes for the admin view, oldest first.
func (s *DisputeService) ListOpen(ctx context.Context) ([]domain.Dispute, error) {
	disputes, err := s.disputes.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispute_service: list open: %w", err)
	}
	return disputes, nil
}
