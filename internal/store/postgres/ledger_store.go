package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// LedgerStore implements domain.Ledger. Every method runs as a single
// database transaction: account rows are locked FOR UPDATE in ascending id
// order so concurrent settlements cannot deadlock, and no partial balance
// move can ever be observed.
type LedgerStore struct {
	pool   *pgxpool.Pool
	orders *OrderStore
}

// NewLedgerStore creates a new LedgerStore backed by the given pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool, orders: NewOrderStore(pool)}
}

type lockedAccount struct {
	id        int64
	available int64
	escrow    int64
	pending   int64
}

// lockAccounts acquires row locks on the given account ids in ascending
// order and returns their balances keyed by id.
func lockAccounts(ctx context.Context, tx pgx.Tx, ids ...int64) (map[int64]lockedAccount, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	out := make(map[int64]lockedAccount, len(sorted))
	for _, id := range sorted {
		if _, done := out[id]; done {
			continue
		}
		var a lockedAccount
		err := tx.QueryRow(ctx, `
			SELECT id, available_ticks, escrow_ticks, pending_ticks
			FROM accounts WHERE id = $1 FOR UPDATE`, id).
			Scan(&a.id, &a.available, &a.escrow, &a.pending)
		if err != nil {
			if err == pgx.ErrNoRows {
				return nil, domain.ErrNotFound
			}
			return nil, fmt.Errorf("postgres: lock account %d: %w", id, err)
		}
		out[id] = a
	}
	return out, nil
}

func lockAccountByWallet(ctx context.Context, tx pgx.Tx, wallet string) (lockedAccount, error) {
	var a lockedAccount
	err := tx.QueryRow(ctx, `
		SELECT id, available_ticks, escrow_ticks, pending_ticks
		FROM accounts WHERE wallet = $1 FOR UPDATE`, wallet).
		Scan(&a.id, &a.available, &a.escrow, &a.pending)
	if err != nil {
		if err == pgx.ErrNoRows {
			return lockedAccount{}, domain.ErrNotFound
		}
		return lockedAccount{}, fmt.Errorf("postgres: lock account %s: %w", wallet, err)
	}
	return a, nil
}

func journal(ctx context.Context, tx pgx.Tx, t domain.Transaction) error {
	var orderID any
	if t.OrderID != "" {
		orderID = t.OrderID
	}
	var txHash any
	if t.TxHash != "" {
		txHash = t.TxHash
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO transactions (account_id, type, amount_ticks, fee_ticks,
			order_id, tx_hash, to_address, status, requires_admin, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.AccountID, t.Type, t.AmountTicks, t.FeeTicks,
		orderID, txHash, t.ToAddress, t.Status, t.RequiresAdmin, t.ConfirmedAt)
	return err
}

// Reserve atomically funds a new order: the buyer's available balance moves
// to escrow, the order row is inserted as paid, the listing flips to rented,
// and the lock is journaled.
func (l *LedgerStore) Reserve(ctx context.Context, order domain.Order) (domain.Order, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: begin reserve: %w", err)
	}
	defer tx.Rollback(ctx)

	var buyerID int64
	if err := tx.QueryRow(ctx,
		`SELECT id FROM accounts WHERE wallet = $1`, order.BuyerWallet).
		Scan(&buyerID); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: buyer account %s: %w", order.BuyerWallet, err)
	}

	// Both rows lock in ascending id order, same as Release, so a reserve
	// and a settlement touching the same pair cannot deadlock each other.
	accts, err := lockAccounts(ctx, tx, buyerID, order.SellerID)
	if err != nil {
		return domain.Order{}, err
	}
	if accts[buyerID].available < order.TotalPaidTicks {
		return domain.Order{}, domain.ErrInsufficientFunds
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET
			available_ticks = available_ticks - $1,
			escrow_ticks = escrow_ticks + $1,
			orders_as_buyer = orders_as_buyer + 1
		WHERE id = $2`,
		order.TotalPaidTicks, buyerID); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: debit buyer %d: %w", buyerID, err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET orders_as_seller = orders_as_seller + 1
		WHERE id = $1`, order.SellerID); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: bump seller %d: %w", order.SellerID, err)
	}

	// The listing must still be rentable; losing this race rolls everything
	// back, including the balance move above.
	tag, err := tx.Exec(ctx, `
		UPDATE listings SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		domain.ListingStatusRented, order.ListingID, domain.ListingStatusActive)
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: rent listing %d: %w", order.ListingID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Order{}, domain.ErrInvalidStateTransition
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO orders (id, code, listing_id, buyer_id, seller_id,
			algorithm, hashrate, hashrate_unit, hours,
			price_per_hour_ticks, subtotal_ticks, commission_ticks, total_paid_ticks,
			pool_host, pool_port, pool_wallet, pool_worker, pool_password,
			status, created_at, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $20)`,
		order.ID, order.Code, order.ListingID, buyerID, order.SellerID,
		order.Algorithm, order.Hashrate, order.HashrateUnit, order.Hours,
		order.PricePerHourTicks, order.SubtotalTicks, order.CommissionTicks, order.TotalPaidTicks,
		order.Pool.Host, order.Pool.Port, order.Pool.Wallet, order.Pool.Worker, order.Pool.Password,
		domain.OrderStatusPaid, now); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.Order{}, domain.ErrAlreadyExists
		}
		return domain.Order{}, fmt.Errorf("postgres: insert order %s: %w", order.ID, err)
	}

	if err := journal(ctx, tx, domain.Transaction{
		AccountID:   buyerID,
		Type:        domain.TxEscrowLock,
		AmountTicks: order.TotalPaidTicks,
		OrderID:     order.ID,
		Status:      domain.TxStatusConfirmed,
		ConfirmedAt: &now,
	}); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: journal escrow lock %s: %w", order.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: commit reserve %s: %w", order.ID, err)
	}
	return l.orders.GetByID(ctx, order.ID)
}

// Release applies a settlement: the status edge plus the exact three-way
// split of the escrowed amount. This is the only path by which funds leave
// escrow.
func (l *LedgerStore) Release(ctx context.Context, s domain.Settlement) (domain.Order, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: begin release: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		buyerID, sellerID int64
		listingID         int64
		totalPaid         int64
		status            domain.OrderStatus
	)
	err = tx.QueryRow(ctx, `
		SELECT buyer_id, seller_id, listing_id, total_paid_ticks, status
		FROM orders WHERE id = $1 FOR UPDATE`, s.OrderID).
		Scan(&buyerID, &sellerID, &listingID, &totalPaid, &status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: lock order %s: %w", s.OrderID, err)
	}
	if status.Terminal() {
		return domain.Order{}, domain.ErrOrderAlreadySettled
	}
	if status != s.FromStatus || !domain.CanTransition(s.FromStatus, s.ToStatus) {
		return domain.Order{}, domain.ErrInvalidStateTransition
	}

	if s.PayoutTicks < 0 || s.RefundTicks < 0 || s.CommissionTicks < 0 ||
		s.PayoutTicks+s.RefundTicks+s.CommissionTicks != totalPaid {
		return domain.Order{}, domain.ErrLedgerInvariantViolation
	}

	var platformID int64
	if err := tx.QueryRow(ctx,
		`SELECT id FROM accounts WHERE wallet = $1`, domain.PlatformWallet).
		Scan(&platformID); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: platform account: %w", err)
	}

	accts, err := lockAccounts(ctx, tx, buyerID, sellerID, platformID)
	if err != nil {
		return domain.Order{}, err
	}
	if accts[buyerID].escrow < totalPaid {
		return domain.Order{}, domain.ErrLedgerInvariantViolation
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET
			escrow_ticks = escrow_ticks - $1,
			available_ticks = available_ticks + $2,
			total_spent_ticks = total_spent_ticks + $1 - $2
		WHERE id = $3`,
		totalPaid, s.RefundTicks, buyerID); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: settle buyer %d: %w", buyerID, err)
	}
	if s.PayoutTicks > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE accounts SET
				available_ticks = available_ticks + $1,
				total_earned_ticks = total_earned_ticks + $1
			WHERE id = $2`,
			s.PayoutTicks, sellerID); err != nil {
			return domain.Order{}, fmt.Errorf("postgres: settle seller %d: %w", sellerID, err)
		}
	}
	if s.CommissionTicks > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE accounts SET
				available_ticks = available_ticks + $1,
				total_earned_ticks = total_earned_ticks + $1
			WHERE id = $2`,
			s.CommissionTicks, platformID); err != nil {
			return domain.Order{}, fmt.Errorf("postgres: settle platform: %w", err)
		}
	}

	set := `status = $1, admin_action = $2, admin_note = $3,
		payout_ticks = $4, refund_ticks = $5, updated_at = $6`
	if s.ToStatus == domain.OrderStatusCompleted {
		set += `, completed_at = $6`
	} else {
		set += `, cancelled_at = $6`
	}
	if _, err := tx.Exec(ctx,
		`UPDATE orders SET `+set+` WHERE id = $7`,
		s.ToStatus, s.Action, s.Note, s.PayoutTicks, s.RefundTicks, now, s.OrderID); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: finalize order %s: %w", s.OrderID, err)
	}

	// Return the listing to the market. A listing the seller removed or
	// paused mid-rental stays where the seller left it.
	if _, err := tx.Exec(ctx, `
		UPDATE listings SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		domain.ListingStatusActive, listingID, domain.ListingStatusRented); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: release listing %d: %w", listingID, err)
	}

	legs := []domain.Transaction{}
	if s.PayoutTicks > 0 {
		legs = append(legs, domain.Transaction{
			AccountID: sellerID, Type: domain.TxPayout,
			AmountTicks: s.PayoutTicks, OrderID: s.OrderID,
		})
	}
	if s.RefundTicks > 0 {
		legs = append(legs, domain.Transaction{
			AccountID: buyerID, Type: domain.TxEscrowRefund,
			AmountTicks: s.RefundTicks, OrderID: s.OrderID,
		})
	}
	if s.CommissionTicks > 0 {
		legs = append(legs, domain.Transaction{
			AccountID: platformID, Type: domain.TxCommission,
			AmountTicks: s.CommissionTicks, OrderID: s.OrderID,
		})
	}
	for _, leg := range legs {
		leg.Status = domain.TxStatusConfirmed
		leg.ConfirmedAt = &now
		if err := journal(ctx, tx, leg); err != nil {
			return domain.Order{}, fmt.Errorf("postgres: journal %s leg %s: %w", leg.Type, s.OrderID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: commit release %s: %w", s.OrderID, err)
	}
	return l.orders.GetByID(ctx, s.OrderID)
}

// Deposit credits available balance for a confirmed external transfer. The
// unique index on tx_hash makes a replayed hash fail the journal insert,
// which rolls back the credit.
func (l *LedgerStore) Deposit(ctx context.Context, wallet, txHash string, amountTicks int64) (domain.Account, error) {
	if amountTicks <= 0 {
		return domain.Account{}, domain.Validationf("amount", "deposit must be positive")
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: begin deposit: %w", err)
	}
	defer tx.Rollback(ctx)

	acct, err := lockAccountByWallet(ctx, tx, wallet)
	if err != nil {
		return domain.Account{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET available_ticks = available_ticks + $1
		WHERE id = $2`, amountTicks, acct.id); err != nil {
		return domain.Account{}, fmt.Errorf("postgres: credit deposit %s: %w", wallet, err)
	}

	now := time.Now().UTC()
	if err := journal(ctx, tx, domain.Transaction{
		AccountID:   acct.id,
		Type:        domain.TxDeposit,
		AmountTicks: amountTicks,
		TxHash:      txHash,
		Status:      domain.TxStatusConfirmed,
		ConfirmedAt: &now,
	}); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.Account{}, domain.ErrDuplicateDeposit
		}
		return domain.Account{}, fmt.Errorf("postgres: journal deposit %s: %w", wallet, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Account{}, fmt.Errorf("postgres: commit deposit %s: %w", wallet, err)
	}
	return NewAccountStore(l.pool).GetByWallet(ctx, wallet)
}

// Withdraw debits the amount plus the flat fee and journals the request.
// The fee is platform revenue and moves to the platform account inside the
// same transaction, so only the withdrawn amount ever leaves the book.
// Above the admin threshold the funds park in pending until approved.
func (l *LedgerStore) Withdraw(ctx context.Context, wallet, toAddress string, amountTicks int64) (domain.Transaction, error) {
	if amountTicks <= 0 {
		return domain.Transaction{}, domain.Validationf("amount", "withdrawal must be positive")
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("postgres: begin withdraw: %w", err)
	}
	defer tx.Rollback(ctx)

	var acctID int64
	if err := tx.QueryRow(ctx,
		`SELECT id FROM accounts WHERE wallet = $1`, wallet).
		Scan(&acctID); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Transaction{}, domain.ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("postgres: account %s: %w", wallet, err)
	}
	var platformID int64
	if err := tx.QueryRow(ctx,
		`SELECT id FROM accounts WHERE wallet = $1`, domain.PlatformWallet).
		Scan(&platformID); err != nil {
		return domain.Transaction{}, fmt.Errorf("postgres: platform account: %w", err)
	}

	accts, err := lockAccounts(ctx, tx, acctID, platformID)
	if err != nil {
		return domain.Transaction{}, err
	}

	total := amountTicks + domain.WithdrawFeeTicks
	if accts[acctID].available < total {
		return domain.Transaction{}, domain.ErrInsufficientFunds
	}

	requiresAdmin := amountTicks > domain.WithdrawAdminThresholdTicks
	now := time.Now().UTC()

	entry := domain.Transaction{
		AccountID:     acctID,
		Type:          domain.TxWithdraw,
		AmountTicks:   amountTicks,
		FeeTicks:      domain.WithdrawFeeTicks,
		ToAddress:     toAddress,
		RequiresAdmin: requiresAdmin,
		CreatedAt:     now,
	}
	if requiresAdmin {
		entry.Status = domain.TxStatusPending
		if _, err := tx.Exec(ctx, `
			UPDATE accounts SET
				available_ticks = available_ticks - $1,
				pending_ticks = pending_ticks + $2
			WHERE id = $3`, total, amountTicks, acctID); err != nil {
			return domain.Transaction{}, fmt.Errorf("postgres: park withdrawal %s: %w", wallet, err)
		}
	} else {
		entry.Status = domain.TxStatusConfirmed
		entry.ConfirmedAt = &now
		if _, err := tx.Exec(ctx, `
			UPDATE accounts SET available_ticks = available_ticks - $1
			WHERE id = $2`, total, acctID); err != nil {
			return domain.Transaction{}, fmt.Errorf("postgres: debit withdrawal %s: %w", wallet, err)
		}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET
			available_ticks = available_ticks + $1,
			total_earned_ticks = total_earned_ticks + $1
		WHERE id = $2`, domain.WithdrawFeeTicks, platformID); err != nil {
		return domain.Transaction{}, fmt.Errorf("postgres: credit withdrawal fee: %w", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO transactions (account_id, type, amount_ticks, fee_ticks,
			to_address, status, requires_admin, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		entry.AccountID, entry.Type, entry.AmountTicks, entry.FeeTicks,
		entry.ToAddress, entry.Status, entry.RequiresAdmin, entry.ConfirmedAt)
	if err := row.Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return domain.Transaction{}, fmt.Errorf("postgres: journal withdrawal %s: %w", wallet, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Transaction{}, fmt.Errorf("postgres: commit withdraw %s: %w", wallet, err)
	}
	return entry, nil
}

var _ domain.Ledger = (*LedgerStore)(nil)
