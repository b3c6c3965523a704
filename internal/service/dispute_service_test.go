package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

func TestOpenDisputeFreezesSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.createOrder(t)
	active := env.activateOrder(t, order, time.Now().UTC().Add(-30*time.Minute))

	dispute, err := env.disputeSvc.Open(ctx, OpenDisputeInput{
		OrderID:     order.ID,
		Wallet:      buyerWallet,
		Reason:      domain.DisputeReasonLowHashrate,
		Description: "half the promised rate",
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusOpen, dispute.Status)
	assert.Equal(t, env.buyer.ID, dispute.OpenerID)
	assert.Equal(t, active.Telemetry.SampleCount, dispute.Snapshot.SampleCount)
	assert.Equal(t, active.Telemetry.AvgHashrate, dispute.Snapshot.AvgHashrate)

	moved, err := env.orders.GetByID(ctx, order.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDispute, moved.Status)

	assert.True(t, env.bus.hasEvent("disputes", "dispute_opened"))

	// Later samples cannot change the frozen evidence.
	err = env.telemetrySvc.Ingest(ctx, IngestInput{OrderCode: order.Code, Hashrate: 500})
	assert.NoError(t, err)
	same, err := env.disputes.GetByID(ctx, dispute.ID)
	assert.NoError(t, err)
	assert.Equal(t, dispute.Snapshot.AvgHashrate, same.Snapshot.AvgHashrate)
}

func TestOpenDisputeBySeller(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t)

	// paid orders are disputable too, for example on a buyer going dark.
	dispute, err := env.disputeSvc.Open(context.Background(), OpenDisputeInput{
		OrderID: order.ID,
		Wallet:  sellerWallet,
		Reason:  domain.DisputeReasonOther,
	})
	assert.NoError(t, err)
	assert.Equal(t, env.seller.ID, dispute.OpenerID)
}

func TestOpenDisputeRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.createOrder(t)

	_, err := env.disputeSvc.Open(ctx, OpenDisputeInput{
		OrderID: order.ID,
		Wallet:  buyerWallet,
		Reason:  domain.DisputeReason("vibes"),
	})
	assert.True(t, domain.IsValidation(err), "expected validation error, got %v", err)

	_, err = env.disputeSvc.Open(ctx, OpenDisputeInput{
		OrderID: order.ID,
		Wallet:  otherWallet,
		Reason:  domain.DisputeReasonOffline,
	})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestOpenDisputeOnSettledOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.deliveringOrder(t)
	_, err := env.settlementSvc.Settle(ctx, order.ID, domain.AdminActionApprove, 0, "")
	assert.NoError(t, err)

	_, err = env.disputeSvc.Open(ctx, OpenDisputeInput{
		OrderID: order.ID,
		Wallet:  buyerWallet,
		Reason:  domain.DisputeReasonLowHashrate,
	})
	assert.ErrorIs(t, err, domain.ErrOrderAlreadySettled)
}

func TestOpenDisputeOnlyOneOpen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.createOrder(t)

	_, err := env.disputeSvc.Open(ctx, OpenDisputeInput{
		OrderID: order.ID,
		Wallet:  buyerWallet,
		Reason:  domain.DisputeReasonOffline,
	})
	assert.NoError(t, err)

	// The order is now in dispute, which is not disputable again.
	_, err = env.disputeSvc.Open(ctx, OpenDisputeInput{
		OrderID: order.ID,
		Wallet:  sellerWallet,
		Reason:  domain.DisputeReasonOther,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

// settleDuringOpenDisputes settles the order after the service has read it
// but before the store writes the dispute, reproducing a concurrent admin
// approve.
type settleDuringOpenDisputes struct {
	*fakeDisputeStore
	settle func(ctx context.Context, orderID string)
}

func (s *settleDuringOpenDisputes) Open(ctx context.Context, d domain.Dispute, from domain.OrderStatus) (domain.Dispute, error) {
	s.settle(ctx, d.OrderID)
	return s.fakeDisputeStore.Open(ctx, d, from)
}

func TestOpenDisputeLosesSettlementRace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.deliveringOrder(t)

	racing := &settleDuringOpenDisputes{
		fakeDisputeStore: env.disputes,
		settle: func(ctx context.Context, orderID string) {
			_, err := env.settlementSvc.Settle(ctx, orderID, domain.AdminActionApprove, 0, "")
			assert.NoError(t, err)
		},
	}
	svc := NewDisputeService(racing, env.orders, env.settlementSvc, env.bus, env.audit, testLogger())

	_, err := svc.Open(ctx, OpenDisputeInput{
		OrderID: order.ID,
		Wallet:  buyerWallet,
		Reason:  domain.DisputeReasonLowHashrate,
	})
	assert.ErrorIs(t, err, domain.ErrOrderAlreadySettled)

	// Losing the race must not leave an open dispute on the settled order.
	open, err := env.disputes.ListOpen(ctx)
	assert.NoError(t, err)
	assert.Empty(t, open)

	settled, err := env.orders.GetByID(ctx, order.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, settled.Status)
}

func TestResolveDispute(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name       string
		resolution domain.DisputeResolution
		percent    int
		wantStatus domain.OrderStatus
		wantPayout func(o domain.Order) int64
	}{
		{
			name:       "full payout",
			resolution: domain.ResolutionFullPayout,
			wantStatus: domain.OrderStatusCompleted,
			wantPayout: func(o domain.Order) int64 { return o.SubtotalTicks },
		},
		{
			name:       "full refund",
			resolution: domain.ResolutionFullRefund,
			wantStatus: domain.OrderStatusCancelled,
			wantPayout: func(o domain.Order) int64 { return 0 },
		},
		{
			name:       "partial",
			resolution: domain.ResolutionPartial,
			percent:    40,
			wantStatus: domain.OrderStatusCompleted,
			wantPayout: func(o domain.Order) int64 { return o.SubtotalTicks * 40 / 100 },
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			order := env.createOrder(t)
			dispute, err := env.disputeSvc.Open(ctx, OpenDisputeInput{
				OrderID: order.ID,
				Wallet:  buyerWallet,
				Reason:  domain.DisputeReasonLowHashrate,
			})
			assert.NoError(t, err)

			resolved, err := env.disputeSvc.Resolve(ctx, dispute.ID, tc.resolution, tc.percent, "reviewed evidence")
			assert.NoError(t, err)
			assert.Equal(t, domain.DisputeStatusResolved, resolved.Status)
			assert.Equal(t, tc.resolution, resolved.Resolution)
			assert.NotNil(t, resolved.ResolvedAt)

			settled, err := env.orders.GetByID(ctx, order.ID)
			assert.NoError(t, err)
			assert.Equal(t, tc.wantStatus, settled.Status)
			assert.Equal(t, tc.wantPayout(order), settled.PayoutTicks)

			assert.True(t, env.bus.hasEvent("disputes", "dispute_resolved"))
			assert.True(t, env.audit.has("dispute_resolved"))
		})
	}
}

func TestResolveDisputeAfterEscrowReleased(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.createOrder(t)
	dispute, err := env.disputeSvc.Open(ctx, OpenDisputeInput{
		OrderID: order.ID,
		Wallet:  buyerWallet,
		Reason:  domain.DisputeReasonLowHashrate,
	})
	assert.NoError(t, err)

	// Simulate a resolve that released escrow but crashed before closing
	// the dispute record. The order is terminal, the dispute still open.
	_, err = env.orders.Transition(ctx, order.ID, domain.OrderStatusDispute, domain.OrderStatusCompleted, time.Now().UTC())
	assert.NoError(t, err)

	// The retry closes the record without a second escrow release.
	resolved, err := env.disputeSvc.Resolve(ctx, dispute.ID, domain.ResolutionFullPayout, 0, "retry after crash")
	assert.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusResolved, resolved.Status)

	after, err := env.orders.GetByID(ctx, order.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, after.Status)
	assert.Equal(t, int64(0), after.PayoutTicks)

	open, err := env.disputeSvc.ListOpen(ctx)
	assert.NoError(t, err)
	assert.Empty(t, open)
}

func TestResolveDisputeTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.createOrder(t)
	dispute, err := env.disputeSvc.Open(ctx, OpenDisputeInput{
		OrderID: order.ID,
		Wallet:  buyerWallet,
		Reason:  domain.DisputeReasonWrongPool,
	})
	assert.NoError(t, err)

	_, err = env.disputeSvc.Resolve(ctx, dispute.ID, domain.ResolutionFullRefund, 0, "")
	assert.NoError(t, err)

	_, err = env.disputeSvc.Resolve(ctx, dispute.ID, domain.ResolutionFullPayout, 0, "")
	assert.ErrorIs(t, err, domain.ErrDisputeAlreadyResolved)
}

func TestResolveUnknownResolution(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.disputeSvc.Resolve(context.Background(), "any", domain.DisputeResolution("split_the_baby"), 0, "")
	assert.True(t, domain.IsValidation(err), "expected validation error, got %v", err)
}

func TestListOpenDisputes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.createOrder(t)
	dispute, err := env.disputeSvc.Open(ctx, OpenDisputeInput{
		OrderID: order.ID,
		Wallet:  buyerWallet,
		Reason:  domain.DisputeReasonOffline,
	})
	assert.NoError(t, err)

	open, err := env.disputeSvc.ListOpen(ctx)
	assert.NoError(t, err)
	if assert.Len(t, open, 1) {
		assert.Equal(t, dispute.ID, open[0].ID)
	}

	_, err = env.disputeSvc.Resolve(ctx, dispute.ID, domain.ResolutionFullRefund, 0, "")
	assert.NoError(t, err)

	open, err = env.disputeSvc.ListOpen(ctx)
	assert.NoError(t, err)
	assert.Empty(t, open)
}
