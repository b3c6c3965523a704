package domain

import "time"

// DisputeReason is the enumerated ground for contesting delivery.
type DisputeReason string

const (
	DisputeReasonLowHashrate DisputeReason = "low_hashrate"
	DisputeReasonOffline     DisputeReason = "offline"
	DisputeReasonWrongPool   DisputeReason = "wrong_pool"
	DisputeReasonWrongWallet DisputeReason = "wrong_wallet"
	DisputeReasonOther       DisputeReason = "other"
)

// ValidDisputeReason reports whether r is an accepted reason code.
func ValidDisputeReason(r DisputeReason) bool {
	switch r {
	case DisputeReasonLowHashrate, DisputeReasonOffline, DisputeReasonWrongPool,
		DisputeReasonWrongWallet, DisputeReasonOther:
		return true
	}
	return false
}

// DisputeResolution is the admin's binding outcome.
type DisputeResolution string

const (
	ResolutionFullRefund DisputeResolution = "full_refund"
	ResolutionFullPayout DisputeResolution = "full_payout"
	ResolutionPartial    DisputeResolution = "partial"
)

// ValidDisputeResolution reports whether r is an accepted resolution.
func ValidDisputeResolution(r DisputeResolution) bool {
	switch r {
	case ResolutionFullRefund, ResolutionFullPayout, ResolutionPartial:
		return true
	}
	return false
}

// DisputeStatus tracks the dispute lifecycle: open until resolved exactly once.
type DisputeStatus string

const (
	DisputeStatusOpen     DisputeStatus = "open"
	DisputeStatusResolved DisputeStatus = "resolved"
)

// Dispute contests delivery on an order. At most one open dispute exists per
// order. The telemetry snapshot is frozen at open time so later samples
// cannot be gamed into the evidence.
type Dispute struct {
	ID           string // uuid
	OrderID      string
	OrderCode    string
	OpenerID     int64
	OpenerWallet string
	Reason       DisputeReason
	Description  string
	Status       DisputeStatus

	// Frozen telemetry evidence at open time.
	Snapshot TelemetrySummary

	Resolution     DisputeResolution
	ResolutionNote string
	PayoutPercent  int
	ResolvedAt     *time.Time
	CreatedAt      time.Time
}
