package domain

import "fmt"

// Monetary amounts are fixed-point int64 ticks: 1 tick = 1e-6 USDT. All
// balance arithmetic happens in ticks; floats exist only for display.

// TicksPerUSDT is the fixed-point scale for ledger amounts.
const TicksPerUSDT int64 = 1_000_000

// CommissionRateBps is the platform commission in basis points (3%).
const CommissionRateBps int64 = 300

// CommissionRetainedAlways pins the settlement policy: the platform keeps the
// commission on every outcome, including reject and full_refund. Changing
// this requires a data migration for historical journal rows, not a flag flip.
const CommissionRetainedAlways = true

// WithdrawFeeTicks is the flat fee charged on every withdrawal (0.50 USDT).
const WithdrawFeeTicks int64 = 500_000

// WithdrawAdminThresholdTicks is the amount above which a withdrawal waits
// for explicit admin approval (500 USDT).
const WithdrawAdminThresholdTicks int64 = 500 * 1_000_000

// USDT renders a tick amount as a display float.
func USDT(ticks int64) float64 {
	return float64(ticks) / float64(TicksPerUSDT)
}

// TicksFromUSDT converts a display amount to ticks, truncating beyond the
// smallest currency unit.
func TicksFromUSDT(v float64) int64 {
	return int64(v * float64(TicksPerUSDT))
}

// Commission returns the platform fee for a subtotal, rounded down to the
// smallest currency unit.
func Commission(subtotal int64) int64 {
	return subtotal * CommissionRateBps / 10_000
}

// OrderAmounts derives the money fields of an order from the snapshotted
// hourly price and the rented duration.
func OrderAmounts(pricePerHour int64, hours int) (subtotal, commission, total int64) {
	subtotal = pricePerHour * int64(hours)
	commission = Commission(subtotal)
	return subtotal, commission, subtotal + commission
}

// SettlementSplit divides an order subtotal between seller payout and buyer
// refund for a payout percent in [0,100]. Integer arithmetic guarantees
// payout+refund == subtotal exactly; the remainder of the division goes to
// the refund side.
func SettlementSplit(subtotal int64, payoutPercent int) (payout, refund int64, err error) {
	if payoutPercent < 0 || payoutPercent > 100 {
		return 0, 0, Validationf("payout_percent", "must be between 0 and 100, got %d", payoutPercent)
	}
	if subtotal < 0 {
		return 0, 0, fmt.Errorf("%w: negative subtotal %d", ErrLedgerInvariantViolation, subtotal)
	}
	payout = subtotal * int64(payoutPercent) / 100
	refund = subtotal - payout
	return payout, refund, nil
}
