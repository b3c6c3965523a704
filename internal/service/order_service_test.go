package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

func TestCreateOrderSnapshotsListingTerms(t *testing.T) {
	env := newTestEnv(t)

	order := env.createOrder(t)

	assert.Equal(t, domain.OrderStatusPaid, order.Status)
	assert.Equal(t, env.listing.ID, order.ListingID)
	assert.Equal(t, env.buyer.ID, order.BuyerID)
	assert.Equal(t, env.seller.ID, order.SellerID)
	assert.Equal(t, "sha256", order.Algorithm)
	assert.Equal(t, 200.0, order.Hashrate)
	assert.Equal(t, 10, order.Hours)

	// 2 USDT/h * 10h = 20 USDT subtotal, 3% commission on top.
	assert.Equal(t, int64(20*domain.TicksPerUSDT), order.SubtotalTicks)
	assert.Equal(t, domain.Commission(order.SubtotalTicks), order.CommissionTicks)
	assert.Equal(t, order.SubtotalTicks+order.CommissionTicks, order.TotalPaidTicks)

	assert.True(t, strings.HasPrefix(order.Code, "HM-"))
	assert.Len(t, order.Code, 13)
	// Worker id defaults to the order code so proxy reports route back.
	assert.Equal(t, order.Code, order.Pool.Worker)

	// Listing is off the market while rented.
	listing, err := env.listings.GetByID(context.Background(), env.listing.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.ListingStatusRented, listing.Status)

	assert.True(t, env.bus.hasEvent("orders", "order_created"))
	assert.True(t, env.audit.has("order_created"))
}

func TestCreateOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pool := domain.PoolParams{Host: "stratum.pool.example", Port: 3333, Wallet: "bc1q"}

	cases := []struct {
		name  string
		in    CreateOrderInput
		field string
	}{
		{
			name:  "self rent",
			in:    CreateOrderInput{BuyerWallet: sellerWallet, ListingID: env.listing.ID, Hours: 10, Pool: pool},
			field: "listing_id",
		},
		{
			name:  "hours below minimum",
			in:    CreateOrderInput{BuyerWallet: buyerWallet, ListingID: env.listing.ID, Hours: 1, Pool: pool},
			field: "hours",
		},
		{
			name:  "hours above maximum",
			in:    CreateOrderInput{BuyerWallet: buyerWallet, ListingID: env.listing.ID, Hours: 72, Pool: pool},
			field: "hours",
		},
		{
			name:  "missing pool host",
			in:    CreateOrderInput{BuyerWallet: buyerWallet, ListingID: env.listing.ID, Hours: 10, Pool: domain.PoolParams{Port: 3333, Wallet: "bc1q"}},
			field: "pool_host",
		},
		{
			name:  "pool port out of range",
			in:    CreateOrderInput{BuyerWallet: buyerWallet, ListingID: env.listing.ID, Hours: 10, Pool: domain.PoolParams{Host: "h", Port: 70000, Wallet: "bc1q"}},
			field: "pool_port",
		},
		{
			name:  "missing pool wallet",
			in:    CreateOrderInput{BuyerWallet: buyerWallet, ListingID: env.listing.ID, Hours: 10, Pool: domain.PoolParams{Host: "h", Port: 3333}},
			field: "pool_wallet",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.orderSvc.Create(ctx, tc.in)
			assert.True(t, domain.IsValidation(err), "expected validation error, got %v", err)
			var verr *domain.ValidationError
			if assert.ErrorAs(t, err, &verr) {
				assert.Equal(t, tc.field, verr.Field)
			}
		})
	}
}

func TestCreateOrderBannedBuyer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	assert.NoError(t, env.accounts.SetBanned(ctx, buyerWallet, true, "chargeback abuse"))

	_, err := env.orderSvc.Create(ctx, CreateOrderInput{
		BuyerWallet: buyerWallet,
		ListingID:   env.listing.ID,
		Hours:       10,
		Pool:        domain.PoolParams{Host: "h", Port: 3333, Wallet: "bc1q"},
	})
	assert.ErrorIs(t, err, domain.ErrAccountBanned)
}

func TestCreateOrderListingUnavailable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// First rental takes the listing off the market.
	env.createOrder(t)

	_, err := env.orderSvc.Create(ctx, CreateOrderInput{
		BuyerWallet: buyerWallet,
		ListingID:   env.listing.ID,
		Hours:       10,
		Pool:        domain.PoolParams{Host: "h", Port: 3333, Wallet: "bc1q"},
	})
	assert.True(t, domain.IsValidation(err), "expected validation error, got %v", err)
}

func TestCreateOrderInsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.insufficient = true

	_, err := env.orderSvc.Create(context.Background(), CreateOrderInput{
		BuyerWallet: buyerWallet,
		ListingID:   env.listing.ID,
		Hours:       10,
		Pool:        domain.PoolParams{Host: "h", Port: 3333, Wallet: "bc1q"},
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestGetOrderPartyCheck(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.createOrder(t)

	got, err := env.orderSvc.Get(ctx, order.ID, buyerWallet)
	assert.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = env.orderSvc.Get(ctx, order.ID, sellerWallet)
	assert.NoError(t, err)

	_, err = env.orderSvc.Get(ctx, order.ID, otherWallet)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	// Empty wallet is the internal admin read.
	_, err = env.orderSvc.Get(ctx, order.ID, "")
	assert.NoError(t, err)
}

func TestConfirmDelivery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.createOrder(t)
	env.activateOrder(t, order, time.Now().UTC())

	confirmed, err := env.orderSvc.ConfirmDelivery(ctx, order.ID, buyerWallet)
	assert.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivering, confirmed.Status)
	assert.True(t, confirmed.BuyerConfirmed)
	assert.NotNil(t, confirmed.ReviewAt)
	assert.True(t, env.bus.hasEvent("orders", "order_delivering"))
}

func TestConfirmDeliveryBuyerOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.createOrder(t)
	env.activateOrder(t, order, time.Now().UTC())

	_, err := env.orderSvc.ConfirmDelivery(ctx, order.ID, sellerWallet)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestConfirmDeliveryAfterSweeperWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.createOrder(t)
	active := env.activateOrder(t, order, time.Now().UTC())

	// The expiry sweeper already moved the order to delivering.
	_, err := env.orders.Transition(ctx, active.ID, domain.OrderStatusActive, domain.OrderStatusDelivering, time.Now().UTC())
	assert.NoError(t, err)

	confirmed, err := env.orderSvc.ConfirmDelivery(ctx, order.ID, buyerWallet)
	assert.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivering, confirmed.Status)
}

func TestConfirmDeliveryNotActive(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t)

	// Still paid, no telemetry yet.
	_, err := env.orderSvc.ConfirmDelivery(context.Background(), order.ID, buyerWallet)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestRate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.deliveringOrder(t)
	_, err := env.settlementSvc.Settle(ctx, order.ID, domain.AdminActionApprove, 0, "looks good")
	assert.NoError(t, err)

	rating, err := env.orderSvc.Rate(ctx, order.ID, buyerWallet, 5, "solid delivery")
	assert.NoError(t, err)
	assert.Equal(t, env.buyer.ID, rating.RaterID)
	assert.Equal(t, env.seller.ID, rating.RatedID)
	assert.Equal(t, "buyer_rates_seller", rating.Role)

	seller, err := env.accounts.GetByID(ctx, env.seller.ID)
	assert.NoError(t, err)
	assert.Equal(t, 5.0, seller.SellerRating)
	assert.Equal(t, 1, seller.SellerRatings)

	// Seller rates back; the buyer's average moves, not the seller's.
	rating, err = env.orderSvc.Rate(ctx, order.ID, sellerWallet, 4, "")
	assert.NoError(t, err)
	assert.Equal(t, "seller_rates_buyer", rating.Role)

	buyer, err := env.accounts.GetByID(ctx, env.buyer.ID)
	assert.NoError(t, err)
	assert.Equal(t, 4.0, buyer.BuyerRating)
	assert.Equal(t, 1, buyer.BuyerRatings)
}

func TestRateRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.deliveringOrder(t)

	// Not completed yet.
	_, err := env.orderSvc.Rate(ctx, order.ID, buyerWallet, 5, "")
	assert.True(t, domain.IsValidation(err), "expected validation error, got %v", err)

	_, err = env.settlementSvc.Settle(ctx, order.ID, domain.AdminActionApprove, 0, "")
	assert.NoError(t, err)

	_, err = env.orderSvc.Rate(ctx, order.ID, buyerWallet, 0, "")
	assert.True(t, domain.IsValidation(err), "expected validation error, got %v", err)

	_, err = env.orderSvc.Rate(ctx, order.ID, buyerWallet, 6, "")
	assert.True(t, domain.IsValidation(err), "expected validation error, got %v", err)

	_, err = env.orderSvc.Rate(ctx, order.ID, otherWallet, 3, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestListByWallet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.createOrder(t)

	asBuyer, err := env.orderSvc.ListByWallet(ctx, buyerWallet, "buyer", domain.ListOpts{Limit: 10})
	assert.NoError(t, err)
	if assert.Len(t, asBuyer, 1) {
		assert.Equal(t, order.ID, asBuyer[0].ID)
	}

	asSeller, err := env.orderSvc.ListByWallet(ctx, sellerWallet, "seller", domain.ListOpts{Limit: 10})
	assert.NoError(t, err)
	assert.Len(t, asSeller, 1)

	none, err := env.orderSvc.ListByWallet(ctx, sellerWallet, "buyer", domain.ListOpts{Limit: 10})
	assert.NoError(t, err)
	assert.Empty(t, none)
}
