package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// DashboardStats is the admin overview read model.
type DashboardStats struct {
	ActiveOrders       int64   `json:"active_orders"`
	PendingReview      int64   `json:"pending_review"`
	OpenDisputes       int64   `json:"open_disputes"`
	PendingWithdrawals int64   `json:"pending_withdrawals"`
	CommissionEarned   float64 `json:"commission_earned"`
}

// PlatformStats is the public marketplace counters read model.
type PlatformStats struct {
	Accounts       int64   `json:"accounts"`
	ActiveListings int64   `json:"active_listings"`
	OrdersTotal    int64   `json:"orders_total"`
	OrdersActive   int64   `json:"orders_active"`
	VolumeTraded   float64 `json:"volume_traded"`
}

// ReviewService serves the settlement review queue and the read-only
// dashboards. Pure queries; the telemetry summary rides on the order rows.
type ReviewService struct {
	orders   domain.OrderStore
	accounts domain.AccountStore
	listings domain.ListingStore
	disputes domain.DisputeStore
	journal  domain.JournalStore
	logger   *slog.Logger
}

// NewReviewService creates a ReviewService.
func NewReviewService(
	orders domain.OrderStore,
	accounts domain.AccountStore,
	listings domain.ListingStore,
	disputes domain.DisputeStore,
	journal domain.JournalStore,
	logger *slog.Logger,
) *ReviewService {
	return &ReviewService{
		orders:   orders,
		accounts: accounts,
		listings: listings,
		disputes: disputes,
		journal:  journal,
		logger:   logger.With(slog.String("component", "review_service")),
	}
}

// Queue returns delivering orders awaiting settlement, oldest review entry
// first, each carrying its folded telemetry evidence.
func (s *ReviewService) Queue(ctx context.Context) ([]domain.Order, error) {
	orders, err := s.orders.ListDelivering(ctx)
	if err != nil {
		return nil, fmt.Errorf("review_service: queue: %w", err)
	}
	return orders, nil
}

// Dashboard returns the admin counters.
func (s *ReviewService) Dashboard(ctx context.Context) (DashboardStats, error) {
	var stats DashboardStats
	var err error

	if stats.ActiveOrders, err = s.orders.CountByStatus(ctx,
		domain.OrderStatusPaid, domain.OrderStatusActive); err != nil {
		return DashboardStats{}, fmt.Errorf("review_service: dashboard: %w", err)
	}
	if stats.PendingReview, err = s.orders.CountByStatus(ctx, domain.OrderStatusDelivering); err != nil {
		return DashboardStats{}, fmt.Errorf("review_service: dashboard: %w", err)
	}
	if stats.OpenDisputes, err = s.disputes.CountOpen(ctx); err != nil {
		return DashboardStats{}, fmt.Errorf("review_service: dashboard: %w", err)
	}
	if stats.PendingWithdrawals, err = s.journal.CountPendingWithdrawals(ctx); err != nil {
		return DashboardStats{}, fmt.Errorf("review_service: dashboard: %w", err)
	}
	commission, err := s.orders.SumCommission(ctx)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("review_service: dashboard: %w", err)
	}
	stats.CommissionEarned = domain.USDT(commission)

	return stats, nil
}

// Platform returns the public marketplace counters.
func (s *ReviewService) Platform(ctx context.Context) (PlatformStats, error) {
	var stats PlatformStats
	var err error

	if stats.Accounts, err = s.accounts.Count(ctx); err != nil {
		return PlatformStats{}, fmt.Errorf("review_service: platform: %w", err)
	}
	if stats.ActiveListings, err = s.listings.CountByStatus(ctx, domain.ListingStatusActive); err != nil {
		return PlatformStats{}, fmt.Errorf("review_service: platform: %w", err)
	}
	if stats.OrdersTotal, err = s.orders.CountByStatus(ctx); err != nil {
		return PlatformStats{}, fmt.Errorf("review_service: platform: %w", err)
	}
	if stats.OrdersActive, err = s.orders.CountByStatus(ctx,
		domain.OrderStatusPaid, domain.OrderStatusActive, domain.OrderStatusDelivering); err != nil {
		return PlatformStats{}, fmt.Errorf("review_service: platform: %w", err)
	}
	volume, err := s.orders.SumVolume(ctx)
	if err != nil {
		return PlatformStats{}, fmt.Errorf("review_service: platform: %w", err)
	}
	stats.VolumeTraded = domain.USDT(volume)

	return stats, nil
}
