package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// DisputeStore implements domain.DisputeStore using PostgreSQL.
type DisputeStore struct {
	pool *pgxpool.Pool
}

// NewDisputeStore creates a new DisputeStore backed by the given pool.
func NewDisputeStore(pool *pgxpool.Pool) *DisputeStore {
	return &DisputeStore{pool: pool}
}

const disputeSelectCols = `d.id, d.order_id, o.code, d.opener_id, a.wallet,
	d.reason, d.description, d.status,
	d.snap_avg_hashrate, d.snap_hashrate_accuracy, d.snap_uptime_percent,
	d.snap_shares_accepted, d.snap_shares_rejected, d.snap_sample_count,
	d.resolution, d.resolution_note, d.payout_percent,
	d.resolved_at, d.created_at`

const disputeFromJoin = `FROM disputes d
	JOIN orders o ON o.id = d.order_id
	JOIN accounts a ON a.id = d.opener_id`

func scanDispute(scanner interface{ Scan(dest ...any) error }) (domain.Dispute, error) {
	var d domain.Dispute
	err := scanner.Scan(
		&d.ID, &d.OrderID, &d.OrderCode, &d.OpenerID, &d.OpenerWallet,
		&d.Reason, &d.Description, &d.Status,
		&d.Snapshot.AvgHashrate, &d.Snapshot.HashrateAccuracy, &d.Snapshot.UptimePercent,
		&d.Snapshot.SharesAccepted, &d.Snapshot.SharesRejected, &d.Snapshot.SampleCount,
		&d.Resolution, &d.ResolutionNote, &d.PayoutPercent,
		&d.ResolvedAt, &d.CreatedAt,
	)
	return d, err
}

// Open inserts an open dispute with its frozen telemetry snapshot and moves
// the order into dispute in the same transaction, so a dispute row can never
// exist open on an order that kept settling. The partial unique index on open
// disputes makes a second open attempt surface as ErrDisputeAlreadyOpen.
func (s *DisputeStore) Open(ctx context.Context, d domain.Dispute, from domain.OrderStatus) (domain.Dispute, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("postgres: begin open dispute: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO disputes (id, order_id, opener_id, reason, description, status,
			snap_avg_hashrate, snap_hashrate_accuracy, snap_uptime_percent,
			snap_shares_accepted, snap_shares_rejected, snap_sample_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.OrderID, d.OpenerID, d.Reason, d.Description, domain.DisputeStatusOpen,
		d.Snapshot.AvgHashrate, d.Snapshot.HashrateAccuracy, d.Snapshot.UptimePercent,
		d.Snapshot.SharesAccepted, d.Snapshot.SharesRejected, d.Snapshot.SampleCount,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.Dispute{}, domain.ErrDisputeAlreadyOpen
		}
		return domain.Dispute{}, fmt.Errorf("postgres: create dispute for order %s: %w", d.OrderID, err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE orders SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		domain.OrderStatusDispute, time.Now().UTC(), d.OrderID, from)
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("postgres: order %s %s->dispute: %w", d.OrderID, from, err)
	}
	if tag.RowsAffected() == 0 {
		// The order moved between the caller's read and here. Rolling back
		// drops the insert; report where the order went.
		var cur domain.OrderStatus
		if err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, d.OrderID).Scan(&cur); err != nil {
			if err == pgx.ErrNoRows {
				return domain.Dispute{}, domain.ErrNotFound
			}
			return domain.Dispute{}, fmt.Errorf("postgres: order %s status: %w", d.OrderID, err)
		}
		if cur.Terminal() {
			return domain.Dispute{}, domain.ErrOrderAlreadySettled
		}
		return domain.Dispute{}, domain.ErrInvalidStateTransition
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Dispute{}, fmt.Errorf("postgres: commit open dispute: %w", err)
	}
	return s.GetByID(ctx, d.ID)
}

// GetByID retrieves a dispute by uuid.
func (s *DisputeStore) GetByID(ctx context.Context, id string) (domain.Dispute, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+disputeSelectCols+` `+disputeFromJoin+` WHERE d.id = $1`, id)
	d, err := scanDispute(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Dispute{}, domain.ErrNotFound
		}
		return domain.Dispute{}, fmt.Errorf("postgres: get dispute %s: %w", id, err)
	}
	return d, nil
}

// GetOpenByOrder retrieves the single open dispute on an order, if any.
func (s *DisputeStore) GetOpenByOrder(ctx context.Context, orderID string) (domain.Dispute, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+disputeSelectCols+` `+disputeFromJoin+`
		 WHERE d.order_id = $1 AND d.status = $2`,
		orderID, domain.DisputeStatusOpen)
	d, err := scanDispute(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Dispute{}, domain.ErrNoOpenDispute
		}
		return domain.Dispute{}, fmt.Errorf("postgres: open dispute for order %s: %w", orderID, err)
	}
	return d, nil
}

// Resolve closes an open dispute exactly once. The status guard in the WHERE
// clause makes a repeated resolve a no-op that we report as already resolved.
func (s *DisputeStore) Resolve(ctx context.Context, id string, resolution domain.DisputeResolution, note string, payoutPercent int, at time.Time) (domain.Dispute, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE disputes SET status = $1, resolution = $2, resolution_note = $3,
			payout_percent = $4, resolved_at = $5
		WHERE id = $6 AND status = $7`,
		domain.DisputeStatusResolved, resolution, note,
		payoutPercent, at, id, domain.DisputeStatusOpen)
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("postgres: resolve dispute %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return domain.Dispute{}, err
		}
		return domain.Dispute{}, domain.ErrDisputeAlreadyResolved
	}
	return s.GetByID(ctx, id)
}

// ListOpen returns all open disputes, oldest first.
func (s *DisputeStore) ListOpen(ctx context.Context) ([]domain.Dispute, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+disputeSelectCols+` `+disputeFromJoin+`
		 WHERE d.status = $1
		 ORDER BY d.created_at ASC`, domain.DisputeStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open disputes: %w", err)
	}
	defer rows.Close()

	var disputes []domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan dispute: %w", err)
		}
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}

// CountOpen returns the number of open disputes.
func (s *DisputeStore) CountOpen(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM disputes WHERE status = $1`,
		domain.DisputeStatusOpen).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count open disputes: %w", err)
	}
	return n, nil
}

var _ domain.DisputeStore = (*DisputeStore)(nil)
