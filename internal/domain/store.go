package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// AccountStore persists accounts. Balance fields are read here but mutated
// only through the Ledger.
type AccountStore interface {
	Create(ctx context.Context, acct Account) (Account, error)
	GetByWallet(ctx context.Context, wallet string) (Account, error)
	GetByID(ctx context.Context, id int64) (Account, error)
	TouchLastSeen(ctx context.Context, wallet string) error
	SetBanned(ctx context.Context, wallet string, banned bool, reason string) error
	UpdateRating(ctx context.Context, accountID int64, role string, avg float64, count int) error
	List(ctx context.Context, opts ListOpts) ([]Account, error)
	Count(ctx context.Context) (int64, error)
}

// ListingFilter narrows a marketplace browse. Zero values are ignored.
type ListingFilter struct {
	Algorithm     string
	Region        string
	MaxPriceTicks int64
}

// ListingStore persists hashrate listings.
type ListingStore interface {
	Create(ctx context.Context, l Listing) (Listing, error)
	GetByID(ctx context.Context, id int64) (Listing, error)
	Update(ctx context.Context, l Listing) error
	// UpdateStatus applies an optimistic status flip and reports
	// ErrInvalidStateTransition when the current status differs from `from`.
	UpdateStatus(ctx context.Context, id int64, from, to ListingStatus) error
	ListBySeller(ctx context.Context, sellerID int64) ([]Listing, error)
	Browse(ctx context.Context, f ListingFilter, opts ListOpts) ([]Listing, error)
	CountByStatus(ctx context.Context, status ListingStatus) (int64, error)
}

// OrderStore persists rental orders. All writes go through the state machine.
type OrderStore interface {
	GetByID(ctx context.Context, id string) (Order, error)
	GetByCode(ctx context.Context, code string) (Order, error)
	ListByAccount(ctx context.Context, accountID int64, role string, opts ListOpts) ([]Order, error)
	// Transition applies an optimistic status CAS and the timestamp side
	// effects of the edge. Zero rows affected surfaces as
	// ErrInvalidStateTransition (or ErrOrderAlreadySettled for terminal
	// targets); the caller decides how to report it.
	Transition(ctx context.Context, id string, from, to OrderStatus, at time.Time) (Order, error)
	// MarkActivated applies paid→active with delivery window bookkeeping.
	MarkActivated(ctx context.Context, id string, startedAt, expectedEndAt time.Time) (Order, error)
	// ConfirmDelivery applies active→delivering with buyer_confirmed set.
	ConfirmDelivery(ctx context.Context, id string, at time.Time) (Order, error)
	// UpdateTelemetry persists the folded summary; last-writer-wins is fine.
	UpdateTelemetry(ctx context.Context, id string, sum TelemetrySummary) error
	MarkDisconnected(ctx context.Context, id string, at time.Time) error
	ListDelivering(ctx context.Context) ([]Order, error)
	ListOverdue(ctx context.Context, now time.Time) ([]Order, error)
	ListSettledBefore(ctx context.Context, before time.Time) ([]Order, error)
	CountByStatus(ctx context.Context, statuses ...OrderStatus) (int64, error)
	SumCommission(ctx context.Context) (int64, error)
	SumVolume(ctx context.Context) (int64, error)
}

// DisputeStore persists disputes.
type DisputeStore interface {
	// Open atomically inserts the dispute row and moves the order from the
	// given status into dispute. When the order moved first, nothing is
	// inserted and the order edge's error comes back (ErrOrderAlreadySettled
	// or ErrInvalidStateTransition). A second open attempt on the same order
	// returns ErrDisputeAlreadyOpen.
	Open(ctx context.Context, d Dispute, from OrderStatus) (Dispute, error)
	GetByID(ctx context.Context, id string) (Dispute, error)
	GetOpenByOrder(ctx context.Context, orderID string) (Dispute, error)
	// Resolve closes an open dispute exactly once; a second attempt returns
	// ErrDisputeAlreadyResolved.
	Resolve(ctx context.Context, id string, resolution DisputeResolution, note string, payoutPercent int, at time.Time) (Dispute, error)
	ListOpen(ctx context.Context) ([]Dispute, error)
	CountOpen(ctx context.Context) (int64, error)
}

// TelemetryStore persists raw samples (append-only).
type TelemetryStore interface {
	Append(ctx context.Context, s TelemetrySample) error
	ListByOrder(ctx context.Context, orderID string, opts ListOpts) ([]TelemetrySample, error)
}

// JournalStore persists the append-only transaction journal.
type JournalStore interface {
	GetByTxHash(ctx context.Context, txHash string) (Transaction, error)
	ListByAccount(ctx context.Context, accountID int64, opts ListOpts) ([]Transaction, error)
	CountPendingWithdrawals(ctx context.Context) (int64, error)
}

// RatingStore persists post-completion ratings.
type RatingStore interface {
	Upsert(ctx context.Context, r Rating) (Rating, error)
	AverageFor(ctx context.Context, ratedID int64, role string) (avg float64, count int, err error)
}

// AuditEntry is a single admin audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of admin decisions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Ledger owns every balance mutation. Implementations must make each call a
// single all-or-nothing unit: concurrent operations on the same account are
// linearized, and no call ever partially applies.
type Ledger interface {
	// Reserve atomically funds a new order: debit buyer available, credit
	// buyer escrow by the order total, persist the order as paid, flip the
	// listing to rented, and journal the lock. ErrInsufficientFunds when the
	// buyer cannot cover total_paid.
	Reserve(ctx context.Context, order Order) (Order, error)
	// Release is the sole path by which escrowed funds leave escrow. It
	// applies the settlement's status edge and moves payout/refund/commission
	// to their resting balances. ErrLedgerInvariantViolation when the split
	// does not exactly consume the reserved amount or any leg is negative.
	Release(ctx context.Context, s Settlement) (Order, error)
	// Deposit credits available balance for a confirmed external transfer.
	// ErrDuplicateDeposit when the tx hash was already recorded.
	Deposit(ctx context.Context, wallet, txHash string, amountTicks int64) (Account, error)
	// Withdraw debits available balance (amount plus flat fee) and journals
	// the request; above the admin threshold the journal row stays pending.
	Withdraw(ctx context.Context, wallet, toAddress string, amountTicks int64) (Transaction, error)
}
