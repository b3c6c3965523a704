package domain

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PlatformWallet is the reserved account that accrues commission. It exists
// so that the conservation invariant is a plain sum over the accounts table.
const PlatformWallet = "platform"

// Account is a wallet-keyed participant. Balances are fixed-point ticks and
// change only through Ledger operations, never by direct mutation.
type Account struct {
	ID               int64
	Wallet           string // lowercased hex address, unique
	Username         string
	AvailableTicks   int64
	EscrowTicks      int64
	PendingTicks     int64
	TotalEarnedTicks int64
	TotalSpentTicks  int64
	SellerRating     float64
	SellerRatings    int
	BuyerRating      float64
	BuyerRatings     int
	OrdersAsBuyer    int
	OrdersAsSeller   int
	IsVerified       bool
	IsBanned         bool
	BanReason        string
	CreatedAt        time.Time
	LastSeenAt       time.Time
}

// Available returns the spendable balance as a display float.
func (a Account) Available() float64 { return USDT(a.AvailableTicks) }

// Escrow returns the escrowed balance as a display float.
func (a Account) Escrow() float64 { return USDT(a.EscrowTicks) }

// NormalizeWallet lowercases a wallet address and validates its shape.
// The platform sentinel is accepted as-is.
func NormalizeWallet(wallet string) (string, error) {
	w := strings.ToLower(strings.TrimSpace(wallet))
	if w == PlatformWallet {
		return w, nil
	}
	if !common.IsHexAddress(w) {
		return "", Validationf("wallet_address", "not a valid address: %q", wallet)
	}
	return w, nil
}

// BalanceSnapshot is the read model returned by balance queries.
type BalanceSnapshot struct {
	Wallet           string  `json:"wallet"`
	Available        float64 `json:"balance_available"`
	Escrow           float64 `json:"balance_escrow"`
	Pending          float64 `json:"balance_pending"`
	TotalEarned      float64 `json:"total_earned"`
	TotalSpent       float64 `json:"total_spent"`
}

// Snapshot converts the ledger fields into the display read model.
func (a Account) Snapshot() BalanceSnapshot {
	return BalanceSnapshot{
		Wallet:      a.Wallet,
		Available:   USDT(a.AvailableTicks),
		Escrow:      USDT(a.EscrowTicks),
		Pending:     USDT(a.PendingTicks),
		TotalEarned: USDT(a.TotalEarnedTicks),
		TotalSpent:  USDT(a.TotalSpentTicks),
	}
}
