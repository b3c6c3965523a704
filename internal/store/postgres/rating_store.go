package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// RatingStore implements domain.RatingStore using PostgreSQL.
type RatingStore struct {
	pool *pgxpool.Pool
}

// NewRatingStore creates a new RatingStore backed by the given pool.
func NewRatingStore(pool *pgxpool.Pool) *RatingStore {
	return &RatingStore{pool: pool}
}

// Upsert inserts a rating or overwrites an earlier one by the same rater on
// the same order.
func (s *RatingStore) Upsert(ctx context.Context, r domain.Rating) (domain.Rating, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO ratings (order_id, rater_id, rated_id, role, score, comment)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id, rater_id) DO UPDATE
			SET score = EXCLUDED.score, comment = EXCLUDED.comment
		RETURNING id, created_at`,
		r.OrderID, r.RaterID, r.RatedID, r.Role, r.Score, r.Comment,
	)
	if err := row.Scan(&r.ID, &r.CreatedAt); err != nil {
		return domain.Rating{}, fmt.Errorf("postgres: upsert rating for order %s: %w", r.OrderID, err)
	}
	return r, nil
}

// AverageFor recomputes the rolling average for one account in one role.
func (s *RatingStore) AverageFor(ctx context.Context, ratedID int64, role string) (float64, int, error) {
	var avg float64
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(score), 0), COUNT(*)
		FROM ratings WHERE rated_id = $1 AND role = $2`,
		ratedID, role).Scan(&avg, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("postgres: average rating for %d: %w", ratedID, err)
	}
	return avg, count, nil
}

var _ domain.RatingStore = (*RatingStore)(nil)
