package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a new ListingStore backed by the given pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

const listingSelectCols = `l.id, l.seller_id, a.wallet, l.title, l.description,
	l.algorithm, l.hashrate, l.hashrate_unit, l.price_per_hour_ticks,
	l.min_hours, l.max_hours, l.hardware_info, l.region, l.status,
	l.created_at, l.updated_at`

func scanListing(scanner interface{ Scan(dest ...any) error }) (domain.Listing, error) {
	var l domain.Listing
	err := scanner.Scan(
		&l.ID, &l.SellerID, &l.SellerWallet, &l.Title, &l.Description,
		&l.Algorithm, &l.Hashrate, &l.HashrateUnit, &l.PricePerHourTicks,
		&l.MinHours, &l.MaxHours, &l.HardwareInfo, &l.Region, &l.Status,
		&l.CreatedAt, &l.UpdatedAt,
	)
	return l, err
}

// Create inserts a new listing.
func (s *ListingStore) Create(ctx context.Context, l domain.Listing) (domain.Listing, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO listings (seller_id, title, description, algorithm,
			hashrate, hashrate_unit, price_per_hour_ticks,
			min_hours, max_hours, hardware_info, region, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`,
		l.SellerID, l.Title, l.Description, l.Algorithm,
		l.Hashrate, l.HashrateUnit, l.PricePerHourTicks,
		l.MinHours, l.MaxHours, l.HardwareInfo, l.Region, l.Status,
	)
	if err := row.Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return domain.Listing{}, fmt.Errorf("postgres: create listing: %w", err)
	}
	return l, nil
}

// GetByID retrieves a listing with its seller's wallet joined in.
func (s *ListingStore) GetByID(ctx context.Context, id int64) (domain.Listing, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+listingSelectCols+`
		FROM listings l JOIN accounts a ON a.id = l.seller_id
		WHERE l.id = $1`, id)
	l, err := scanListing(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %d: %w", id, err)
	}
	return l, nil
}

// Update rewrites the seller-editable fields of a listing.
func (s *ListingStore) Update(ctx context.Context, l domain.Listing) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE listings SET title = $1, description = $2, algorithm = $3,
			hashrate = $4, hashrate_unit = $5, price_per_hour_ticks = $6,
			min_hours = $7, max_hours = $8, hardware_info = $9, region = $10,
			status = $11, updated_at = NOW()
		WHERE id = $12`,
		l.Title, l.Description, l.Algorithm,
		l.Hashrate, l.HashrateUnit, l.PricePerHourTicks,
		l.MinHours, l.MaxHours, l.HardwareInfo, l.Region,
		l.Status, l.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update listing %d: %w", l.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus applies an optimistic status flip. Zero rows affected means
// another writer already moved the listing, which surfaces as
// ErrInvalidStateTransition.
func (s *ListingStore) UpdateStatus(ctx context.Context, id int64, from, to domain.ListingStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE listings SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		to, id, from)
	if err != nil {
		return fmt.Errorf("postgres: listing %d status %s->%s: %w", id, from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidStateTransition
	}
	return nil
}

// ListBySeller returns all of a seller's listings, newest first.
func (s *ListingStore) ListBySeller(ctx context.Context, sellerID int64) ([]domain.Listing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+listingSelectCols+`
		FROM listings l JOIN accounts a ON a.id = l.seller_id
		WHERE l.seller_id = $1
		ORDER BY l.created_at DESC`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings for seller %d: %w", sellerID, err)
	}
	defer rows.Close()
	return collectListings(rows)
}

// Browse returns listings matching the optional filters, newest first. Empty
// filter values are ignored.
func (s *ListingStore) Browse(ctx context.Context, f domain.ListingFilter, opts domain.ListOpts) ([]domain.Listing, error) {
	query := `
		SELECT ` + listingSelectCols + `
		FROM listings l JOIN accounts a ON a.id = l.seller_id
		WHERE l.status = 'active'`
	args := []any{}
	if f.Algorithm != "" {
		args = append(args, f.Algorithm)
		query += ` AND l.algorithm = $` + strconv.Itoa(len(args))
	}
	if f.Region != "" {
		args = append(args, f.Region)
		query += ` AND l.region = $` + strconv.Itoa(len(args))
	}
	if f.MaxPriceTicks > 0 {
		args = append(args, f.MaxPriceTicks)
		query += ` AND l.price_per_hour_ticks <= $` + strconv.Itoa(len(args))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += ` ORDER BY l.created_at DESC LIMIT $` + strconv.Itoa(len(args))
	args = append(args, opts.Offset)
	query += ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: browse listings: %w", err)
	}
	defer rows.Close()
	return collectListings(rows)
}

// CountByStatus returns how many listings are in the given status.
func (s *ListingStore) CountByStatus(ctx context.Context, status domain.ListingStatus) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM listings WHERE status = $1`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count listings %s: %w", status, err)
	}
	return n, nil
}

func collectListings(rows pgx.Rows) ([]domain.Listing, error) {
	var listings []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

var _ domain.ListingStore = (*ListingStore)(nil)
