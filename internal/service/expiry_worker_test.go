package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

func TestSweepMovesOverdueOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.createOrder(t)
	// Started 20h ago on a 10h rental: the window closed 10h ago.
	env.activateOrder(t, order, time.Now().UTC().Add(-20*time.Hour))

	worker := NewExpiryWorker(env.orders, env.bus, time.Minute, testLogger())
	assert.NoError(t, worker.Sweep(ctx))

	moved, err := env.orders.GetByID(ctx, order.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivering, moved.Status)
	assert.NotNil(t, moved.ReviewAt)
	// Sweeper-expired orders carry no buyer acknowledgement.
	assert.False(t, moved.BuyerConfirmed)
	assert.True(t, env.bus.hasEvent("orders", "order_delivering"))
}

func TestSweepLeavesRunningOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.createOrder(t)
	env.activateOrder(t, order, time.Now().UTC().Add(-time.Hour))

	worker := NewExpiryWorker(env.orders, env.bus, time.Minute, testLogger())
	assert.NoError(t, worker.Sweep(ctx))

	still, err := env.orders.GetByID(ctx, order.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.OrderStatusActive, still.Status)
}

// staleOverdueStore replays a stale overdue snapshot, standing in for orders
// that moved between the sweeper's read and its CAS.
type staleOverdueStore struct {
	*fakeOrderStore
	stale []domain.Order
}

func (s *staleOverdueStore) ListOverdue(ctx context.Context, now time.Time) ([]domain.Order, error) {
	return s.stale, nil
}

func TestSweepToleratesLostRaces(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Buyer confirmed between the sweeper's read and its transition.
	confirmed := env.deliveringOrder(t)

	// Relist so a second order fits on the same listing.
	assert.NoError(t, env.listings.UpdateStatus(ctx, env.listing.ID, domain.ListingStatusRented, domain.ListingStatusActive))

	// Admin settled in the same window.
	settledSrc := env.deliveringOrder(t)
	settled, err := env.settlementSvc.Settle(ctx, settledSrc.ID, domain.AdminActionApprove, 0, "")
	assert.NoError(t, err)

	stale := []domain.Order{confirmed, settled}
	for i := range stale {
		stale[i].Status = domain.OrderStatusActive
	}
	store := &staleOverdueStore{fakeOrderStore: env.orders, stale: stale}

	worker := NewExpiryWorker(store, env.bus, time.Minute, testLogger())
	assert.NoError(t, worker.Sweep(ctx))

	// Neither order moved; the settled one keeps its terminal state.
	got, err := env.orders.GetByID(ctx, confirmed.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivering, got.Status)

	got, err = env.orders.GetByID(ctx, settled.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, got.Status)
}
