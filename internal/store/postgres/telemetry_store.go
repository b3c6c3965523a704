package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// TelemetryStore implements domain.TelemetryStore using PostgreSQL. Samples
// are append-only evidence; there is no update path.
type TelemetryStore struct {
	pool *pgxpool.Pool
}

// NewTelemetryStore creates a new TelemetryStore backed by the given pool.
func NewTelemetryStore(pool *pgxpool.Pool) *TelemetryStore {
	return &TelemetryStore{pool: pool}
}

// Append inserts one raw sample.
func (s *TelemetryStore) Append(ctx context.Context, sample domain.TelemetrySample) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO telemetry_samples (order_id, ts, hashrate, accepted_delta, rejected_delta)
		VALUES ($1, $2, $3, $4, $5)`,
		sample.OrderID, sample.Timestamp, sample.Hashrate,
		sample.AcceptedDelta, sample.RejectedDelta)
	if err != nil {
		return fmt.Errorf("postgres: append sample for order %s: %w", sample.OrderID, err)
	}
	return nil
}

// ListByOrder returns an order's samples in chronological order.
func (s *TelemetryStore) ListByOrder(ctx context.Context, orderID string, opts domain.ListOpts) ([]domain.TelemetrySample, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, ts, hashrate, accepted_delta, rejected_delta
		FROM telemetry_samples
		WHERE order_id = $1
		ORDER BY ts ASC LIMIT $2 OFFSET $3`,
		orderID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list samples for order %s: %w", orderID, err)
	}
	defer rows.Close()

	var samples []domain.TelemetrySample
	for rows.Next() {
		var sm domain.TelemetrySample
		if err := rows.Scan(&sm.ID, &sm.OrderID, &sm.Timestamp,
			&sm.Hashrate, &sm.AcceptedDelta, &sm.RejectedDelta); err != nil {
			return nil, fmt.Errorf("postgres: scan sample: %w", err)
		}
		samples = append(samples, sm)
	}
	return samples, rows.Err()
}

var _ domain.TelemetryStore = (*TelemetryStore)(nil)
