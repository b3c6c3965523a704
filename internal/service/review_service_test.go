package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

func TestReviewQueue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.deliveringOrder(t)

	queue, err := env.reviewSvc.Queue(ctx)
	assert.NoError(t, err)
	if assert.Len(t, queue, 1) {
		assert.Equal(t, order.ID, queue[0].ID)
		// Evidence rides on the order row.
		assert.Equal(t, int64(1), queue[0].Telemetry.SampleCount)
	}

	_, err = env.settlementSvc.Settle(ctx, order.ID, domain.AdminActionApprove, 0, "")
	assert.NoError(t, err)

	queue, err = env.reviewSvc.Queue(ctx)
	assert.NoError(t, err)
	assert.Empty(t, queue)
}

func TestDashboardCounters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// One delivering order, settled below; one paid order in dispute.
	delivering := env.deliveringOrder(t)
	assert.NoError(t, env.listings.UpdateStatus(ctx, env.listing.ID, domain.ListingStatusRented, domain.ListingStatusActive))
	disputed := env.createOrder(t)
	_, err := env.disputeSvc.Open(ctx, OpenDisputeInput{
		OrderID: disputed.ID,
		Wallet:  buyerWallet,
		Reason:  domain.DisputeReasonOffline,
	})
	assert.NoError(t, err)

	stats, err := env.reviewSvc.Dashboard(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), stats.ActiveOrders)
	assert.Equal(t, int64(1), stats.PendingReview)
	assert.Equal(t, int64(1), stats.OpenDisputes)
	assert.Equal(t, int64(0), stats.PendingWithdrawals)
	assert.Equal(t, 0.0, stats.CommissionEarned)

	_, err = env.settlementSvc.Settle(ctx, delivering.ID, domain.AdminActionApprove, 0, "")
	assert.NoError(t, err)

	stats, err = env.reviewSvc.Dashboard(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), stats.PendingReview)
	// Commission realizes on settlement.
	assert.Equal(t, domain.USDT(delivering.CommissionTicks), stats.CommissionEarned)
}

func TestPlatformCounters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.createOrder(t)
	env.activateOrder(t, order, time.Now().UTC())

	stats, err := env.reviewSvc.Platform(ctx)
	assert.NoError(t, err)
	// Platform sentinel plus the seeded buyer and seller.
	assert.Equal(t, int64(3), stats.Accounts)
	// The single listing is rented while the order runs.
	assert.Equal(t, int64(0), stats.ActiveListings)
	assert.Equal(t, int64(1), stats.OrdersTotal)
	assert.Equal(t, int64(1), stats.OrdersActive)
	assert.Equal(t, domain.USDT(order.TotalPaidTicks), stats.VolumeTraded)
}
