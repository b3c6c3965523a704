package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const accountSelectCols = `id, wallet, username,
	available_ticks, escrow_ticks, pending_ticks,
	total_earned_ticks, total_spent_ticks,
	seller_rating, seller_ratings, buyer_rating, buyer_ratings,
	orders_as_buyer, orders_as_seller,
	is_verified, is_banned, ban_reason, created_at, last_seen_at`

func scanAccount(scanner interface{ Scan(dest ...any) error }) (domain.Account, error) {
	var a domain.Account
	err := scanner.Scan(
		&a.ID, &a.Wallet, &a.Username,
		&a.AvailableTicks, &a.EscrowTicks, &a.PendingTicks,
		&a.TotalEarnedTicks, &a.TotalSpentTicks,
		&a.SellerRating, &a.SellerRatings, &a.BuyerRating, &a.BuyerRatings,
		&a.OrdersAsBuyer, &a.OrdersAsSeller,
		&a.IsVerified, &a.IsBanned, &a.BanReason, &a.CreatedAt, &a.LastSeenAt,
	)
	return a, err
}

// Create inserts a new account for a wallet seen for the first time.
func (s *AccountStore) Create(ctx context.Context, acct domain.Account) (domain.Account, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (wallet, username)
		VALUES ($1, $2)
		RETURNING `+accountSelectCols,
		acct.Wallet, acct.Username,
	)
	created, err := scanAccount(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.Account{}, domain.ErrAlreadyExists
		}
		return domain.Account{}, fmt.Errorf("postgres: create account %s: %w", acct.Wallet, err)
	}
	return created, nil
}

// GetByWallet retrieves an account by its wallet address.
func (s *AccountStore) GetByWallet(ctx context.Context, wallet string) (domain.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM accounts WHERE wallet = $1`, wallet)
	a, err := scanAccount(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", wallet, err)
	}
	return a, nil
}

// GetByID retrieves an account by its numeric id.
func (s *AccountStore) GetByID(ctx context.Context, id int64) (domain.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %d: %w", id, err)
	}
	return a, nil
}

// TouchLastSeen updates the last-seen timestamp on login.
func (s *AccountStore) TouchLastSeen(ctx context.Context, wallet string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET last_seen_at = NOW() WHERE wallet = $1`, wallet)
	if err != nil {
		return fmt.Errorf("postgres: touch last seen %s: %w", wallet, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetBanned soft-disables (or re-enables) an account.
func (s *AccountStore) SetBanned(ctx context.Context, wallet string, banned bool, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET is_banned = $1, ban_reason = $2 WHERE wallet = $3`,
		banned, reason, wallet)
	if err != nil {
		return fmt.Errorf("postgres: set banned %s: %w", wallet, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateRating writes the recomputed rolling average for one rating role.
func (s *AccountStore) UpdateRating(ctx context.Context, accountID int64, role string, avg float64, count int) error {
	var query string
	switch role {
	case "buyer_rates_seller":
		query = `UPDATE accounts SET seller_rating = $1, seller_ratings = $2 WHERE id = $3`
	case "seller_rates_buyer":
		query = `UPDATE accounts SET buyer_rating = $1, buyer_ratings = $2 WHERE id = $3`
	default:
		return domain.Validationf("role", "unknown rating role %q", role)
	}

	tag, err := s.pool.Exec(ctx, query, avg, count, accountID)
	if err != nil {
		return fmt.Errorf("postgres: update rating %d: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns accounts ordered by creation time, newest first.
func (s *AccountStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Account, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountSelectCols+` FROM accounts
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Count returns the total number of accounts.
func (s *AccountStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count accounts: %w", err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.AccountStore = (*AccountStore)(nil)
