package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// JournalStore implements domain.JournalStore using PostgreSQL. Journal rows
// are written inside ledger transactions; this type only reads them.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a new JournalStore backed by the given pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

const txSelectCols = `id, account_id, type, amount_ticks, fee_ticks,
	COALESCE(order_id::text, ''), COALESCE(tx_hash, ''), to_address,
	status, requires_admin, created_at, confirmed_at`

func scanTransaction(scanner interface{ Scan(dest ...any) error }) (domain.Transaction, error) {
	var t domain.Transaction
	err := scanner.Scan(
		&t.ID, &t.AccountID, &t.Type, &t.AmountTicks, &t.FeeTicks,
		&t.OrderID, &t.TxHash, &t.ToAddress,
		&t.Status, &t.RequiresAdmin, &t.CreatedAt, &t.ConfirmedAt,
	)
	return t, err
}

// GetByTxHash finds a journal entry by its external chain reference.
func (s *JournalStore) GetByTxHash(ctx context.Context, txHash string) (domain.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+txSelectCols+` FROM transactions WHERE tx_hash = $1`, txHash)
	t, err := scanTransaction(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Transaction{}, domain.ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("postgres: get transaction by hash: %w", err)
	}
	return t, nil
}

// ListByAccount returns an account's journal entries, newest first.
func (s *JournalStore) ListByAccount(ctx context.Context, accountID int64, opts domain.ListOpts) ([]domain.Transaction, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+txSelectCols+` FROM transactions
		 WHERE account_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		accountID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions for account %d: %w", accountID, err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// CountPendingWithdrawals counts withdrawals waiting on admin approval.
func (s *JournalStore) CountPendingWithdrawals(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE type = $1 AND status = $2`,
		domain.TxWithdraw, domain.TxStatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count pending withdrawals: %w", err)
	}
	return n, nil
}

var _ domain.JournalStore = (*JournalStore)(nil)
