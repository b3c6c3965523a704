package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to OrderStatus }{
		{OrderStatusPending, OrderStatusPaid},
		{OrderStatusPaid, OrderStatusActive},
		{OrderStatusPaid, OrderStatusDispute},
		{OrderStatusActive, OrderStatusDelivering},
		{OrderStatusActive, OrderStatusDispute},
		{OrderStatusDelivering, OrderStatusCompleted},
		{OrderStatusDelivering, OrderStatusCancelled},
		{OrderStatusDelivering, OrderStatusDispute},
		{OrderStatusDispute, OrderStatusCompleted},
		{OrderStatusDispute, OrderStatusCancelled},
	}
	for _, tc := range legal {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	illegal := []struct{ from, to OrderStatus }{
		{OrderStatusPaid, OrderStatusCompleted},
		{OrderStatusActive, OrderStatusCompleted},
		{OrderStatusCompleted, OrderStatusCancelled},
		{OrderStatusCancelled, OrderStatusCompleted},
		{OrderStatusCompleted, OrderStatusDispute},
		{OrderStatusDelivering, OrderStatusActive},
		{OrderStatusDispute, OrderStatusDelivering},
	}
	for _, tc := range illegal {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}
}

func TestTerminalAndDisputable(t *testing.T) {
	assert.True(t, OrderStatusCompleted.Terminal())
	assert.True(t, OrderStatusCancelled.Terminal())
	assert.False(t, OrderStatusDispute.Terminal())
	assert.False(t, OrderStatusDelivering.Terminal())

	assert.True(t, OrderStatusPaid.Disputable())
	assert.True(t, OrderStatusActive.Disputable())
	assert.True(t, OrderStatusDelivering.Disputable())
	assert.False(t, OrderStatusDispute.Disputable())
	assert.False(t, OrderStatusCompleted.Disputable())
}

func TestOverdue(t *testing.T) {
	now := time.Now()
	end := now.Add(-time.Minute)

	o := Order{Status: OrderStatusActive, ExpectedEndAt: &end}
	assert.True(t, o.Overdue(now))

	future := now.Add(time.Hour)
	o.ExpectedEndAt = &future
	assert.False(t, o.Overdue(now))

	o.ExpectedEndAt = &end
	o.Status = OrderStatusDelivering
	assert.False(t, o.Overdue(now))
}

func TestNormalizeWallet(t *testing.T) {
	w, err := NormalizeWallet("0xAbCd000000000000000000000000000000001234")
	assert.NoError(t, err)
	assert.Equal(t, "0xabcd000000000000000000000000000000001234", w)

	_, err = NormalizeWallet("not-a-wallet")
	assert.Error(t, err)
	assert.True(t, IsValidation(err))

	w, err = NormalizeWallet(PlatformWallet)
	assert.NoError(t, err)
	assert.Equal(t, PlatformWallet, w)
}
