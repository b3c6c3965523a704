package domain

import "time"

// TransactionType labels a journal entry. Every balance change in the system
// writes one, making the ledger auditable end to end.
type TransactionType string

const (
	TxDeposit      TransactionType = "deposit"
	TxWithdraw     TransactionType = "withdraw"
	TxEscrowLock   TransactionType = "escrow_lock"
	TxEscrowRefund TransactionType = "escrow_refund"
	TxPayout       TransactionType = "payout"
	TxCommission   TransactionType = "commission"
)

// TransactionStatus tracks journal entry confirmation.
type TransactionStatus string

const (
	TxStatusPending    TransactionStatus = "pending"
	TxStatusProcessing TransactionStatus = "processing"
	TxStatusConfirmed  TransactionStatus = "confirmed"
)

// Transaction is an append-only journal row for one balance movement.
type Transaction struct {
	ID          int64
	AccountID   int64
	Type        TransactionType
	AmountTicks int64
	FeeTicks    int64
	OrderID     string // empty for deposits/withdrawals
	TxHash      string // external chain reference, deposits only
	ToAddress   string // withdrawal destination
	Status      TransactionStatus
	// RequiresAdmin marks withdrawals above the approval threshold.
	RequiresAdmin bool
	CreatedAt     time.Time
	ConfirmedAt   *time.Time
}

// Rating is a post-completion score between the two parties of an order.
type Rating struct {
	ID        int64
	OrderID   string
	RaterID   int64
	RatedID   int64
	Role      string // buyer_rates_seller | seller_rates_buyer
	Score     int    // 1..5
	Comment   string
	CreatedAt time.Time
}
