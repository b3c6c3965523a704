package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `o.id, o.code, o.listing_id,
	o.buyer_id, b.wallet, o.seller_id, s.wallet,
	o.algorithm, o.hashrate, o.hashrate_unit, o.hours,
	o.price_per_hour_ticks, o.subtotal_ticks, o.commission_ticks, o.total_paid_ticks,
	o.pool_host, o.pool_port, o.pool_wallet, o.pool_worker, o.pool_password,
	o.status, o.buyer_confirmed, o.admin_action, o.admin_note,
	o.payout_ticks, o.refund_ticks,
	o.current_hashrate, o.avg_hashrate, o.hashrate_accuracy, o.uptime_percent,
	o.shares_accepted, o.shares_rejected, o.sample_count,
	o.weighted_sum, o.weighted_duration, o.first_sample_at, o.last_sample_at,
	o.created_at, o.paid_at, o.started_at, o.expected_end_at, o.review_at,
	o.completed_at, o.cancelled_at, o.last_disconnect_at`

const orderFromJoin = `FROM orders o
	JOIN accounts b ON b.id = o.buyer_id
	JOIN accounts s ON s.id = o.seller_id`

func scanOrder(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	err := scanner.Scan(
		&o.ID, &o.Code, &o.ListingID,
		&o.BuyerID, &o.BuyerWallet, &o.SellerID, &o.SellerWallet,
		&o.Algorithm, &o.Hashrate, &o.HashrateUnit, &o.Hours,
		&o.PricePerHourTicks, &o.SubtotalTicks, &o.CommissionTicks, &o.TotalPaidTicks,
		&o.Pool.Host, &o.Pool.Port, &o.Pool.Wallet, &o.Pool.Worker, &o.Pool.Password,
		&o.Status, &o.BuyerConfirmed, &o.AdminAction, &o.AdminNote,
		&o.PayoutTicks, &o.RefundTicks,
		&o.Telemetry.CurrentHashrate, &o.Telemetry.AvgHashrate,
		&o.Telemetry.HashrateAccuracy, &o.Telemetry.UptimePercent,
		&o.Telemetry.SharesAccepted, &o.Telemetry.SharesRejected, &o.Telemetry.SampleCount,
		&o.Telemetry.WeightedSum, &o.Telemetry.WeightedDuration,
		&o.Telemetry.FirstSampleAt, &o.Telemetry.LastSampleAt,
		&o.CreatedAt, &o.PaidAt, &o.StartedAt, &o.ExpectedEndAt, &o.ReviewAt,
		&o.CompletedAt, &o.CancelledAt, &o.LastDisconnectAt,
	)
	return o, err
}

// GetByID retrieves an order by uuid.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` `+orderFromJoin+` WHERE o.id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// GetByCode retrieves an order by its short code (the proxy worker id).
func (s *OrderStore) GetByCode(ctx context.Context, code string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` `+orderFromJoin+` WHERE o.code = $1`, code)
	o, err := scanOrder(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order by code %s: %w", code, err)
	}
	return o, nil
}

// ListByAccount returns the account's orders in the given role ("buyer",
// "seller", or any other value for both sides), newest first.
func (s *OrderStore) ListByAccount(ctx context.Context, accountID int64, role string, opts domain.ListOpts) ([]domain.Order, error) {
	var cond string
	switch role {
	case "buyer":
		cond = `o.buyer_id = $1`
	case "seller":
		cond = `o.seller_id = $1`
	default:
		cond = `(o.buyer_id = $1 OR o.seller_id = $1)`
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` `+orderFromJoin+`
		 WHERE `+cond+`
		 ORDER BY o.created_at DESC LIMIT $2 OFFSET $3`,
		accountID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for account %d: %w", accountID, err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// Transition applies a status CAS with the timestamp side effects of the
// edge. Zero rows affected means the order moved under us.
func (s *OrderStore) Transition(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) (domain.Order, error) {
	set := `status = $1, updated_at = $2`
	switch to {
	case domain.OrderStatusDelivering:
		set += `, review_at = COALESCE(review_at, $2)`
	case domain.OrderStatusCompleted:
		set += `, completed_at = $2`
	case domain.OrderStatusCancelled:
		set += `, cancelled_at = $2`
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET `+set+` WHERE id = $3 AND status = $4`,
		to, at, id, from)
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: order %s %s->%s: %w", id, from, to, err)
	}
	if tag.RowsAffected() == 0 {
		cur, err := s.GetByID(ctx, id)
		if err != nil {
			return domain.Order{}, err
		}
		if cur.Status.Terminal() {
			return domain.Order{}, domain.ErrOrderAlreadySettled
		}
		return domain.Order{}, domain.ErrInvalidStateTransition
	}
	return s.GetByID(ctx, id)
}

// MarkActivated applies paid→active and records the delivery window.
func (s *OrderStore) MarkActivated(ctx context.Context, id string, startedAt, expectedEndAt time.Time) (domain.Order, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET status = $1, started_at = $2, expected_end_at = $3,
			updated_at = NOW()
		WHERE id = $4 AND status = $5`,
		domain.OrderStatusActive, startedAt, expectedEndAt,
		id, domain.OrderStatusPaid)
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: activate order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Order{}, domain.ErrInvalidStateTransition
	}
	return s.GetByID(ctx, id)
}

// ConfirmDelivery applies active→delivering with buyer_confirmed set. The
// CAS loses gracefully to the expiry sweeper; callers treat
// ErrInvalidStateTransition on an already-delivering order as success.
func (s *OrderStore) ConfirmDelivery(ctx context.Context, id string, at time.Time) (domain.Order, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET status = $1, buyer_confirmed = TRUE,
			review_at = COALESCE(review_at, $2), updated_at = $2
		WHERE id = $3 AND status = $4`,
		domain.OrderStatusDelivering, at, id, domain.OrderStatusActive)
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: confirm delivery %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		cur, err := s.GetByID(ctx, id)
		if err != nil {
			return domain.Order{}, err
		}
		if cur.Status.Terminal() {
			return domain.Order{}, domain.ErrOrderAlreadySettled
		}
		return domain.Order{}, domain.ErrInvalidStateTransition
	}
	return s.GetByID(ctx, id)
}

// UpdateTelemetry persists the folded summary. Samples arrive sequentially
// per order, so last writer wins is acceptable.
func (s *OrderStore) UpdateTelemetry(ctx context.Context, id string, sum domain.TelemetrySummary) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET
			current_hashrate = $1, avg_hashrate = $2, hashrate_accuracy = $3,
			uptime_percent = $4, shares_accepted = $5, shares_rejected = $6,
			sample_count = $7, weighted_sum = $8, weighted_duration = $9,
			first_sample_at = $10, last_sample_at = $11, updated_at = NOW()
		WHERE id = $12`,
		sum.CurrentHashrate, sum.AvgHashrate, sum.HashrateAccuracy,
		sum.UptimePercent, sum.SharesAccepted, sum.SharesRejected,
		sum.SampleCount, sum.WeightedSum, sum.WeightedDuration,
		sum.FirstSampleAt, sum.LastSampleAt, id)
	if err != nil {
		return fmt.Errorf("postgres: update telemetry %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkDisconnected records a proxy disconnect event on the order.
func (s *OrderStore) MarkDisconnected(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET last_disconnect_at = $1, current_hashrate = 0,
			updated_at = NOW()
		WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("postgres: mark disconnected %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListDelivering returns the review queue: orders awaiting settlement,
// oldest entry first.
func (s *OrderStore) ListDelivering(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` `+orderFromJoin+`
		 WHERE o.status = $1
		 ORDER BY o.review_at ASC NULLS LAST`, domain.OrderStatusDelivering)
	if err != nil {
		return nil, fmt.Errorf("postgres: list delivering: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ListOverdue returns active orders whose rental window has elapsed.
func (s *OrderStore) ListOverdue(ctx context.Context, now time.Time) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` `+orderFromJoin+`
		 WHERE o.status = $1 AND o.expected_end_at <= $2
		 ORDER BY o.expected_end_at ASC`, domain.OrderStatusActive, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list overdue: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ListSettledBefore returns terminal orders settled before the cutoff,
// candidates for cold archival.
func (s *OrderStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` `+orderFromJoin+`
		 WHERE o.status IN ($1, $2)
		   AND COALESCE(o.completed_at, o.cancelled_at) < $3
		 ORDER BY COALESCE(o.completed_at, o.cancelled_at) ASC`,
		domain.OrderStatusCompleted, domain.OrderStatusCancelled, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// CountByStatus counts orders in any of the given statuses.
func (s *OrderStore) CountByStatus(ctx context.Context, statuses ...domain.OrderStatus) (int64, error) {
	if len(statuses) == 0 {
		var n int64
		if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n); err != nil {
			return 0, fmt.Errorf("postgres: count orders: %w", err)
		}
		return n, nil
	}

	strs := make([]string, len(statuses))
	for i, st := range statuses {
		strs[i] = string(st)
	}
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE status = ANY($1)`, strs).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count orders by status: %w", err)
	}
	return n, nil
}

// SumCommission totals commission earned on settled orders.
func (s *OrderStore) SumCommission(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(commission_ticks), 0) FROM orders
		WHERE status IN ($1, $2)`,
		domain.OrderStatusCompleted, domain.OrderStatusCancelled).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum commission: %w", err)
	}
	return n, nil
}

// SumVolume totals the escrowed value of all non-pending orders.
func (s *OrderStore) SumVolume(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_paid_ticks), 0) FROM orders
		WHERE status <> $1`, domain.OrderStatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum volume: %w", err)
	}
	return n, nil
}

func collectOrders(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

var _ domain.OrderStore = (*OrderStore)(nil)
