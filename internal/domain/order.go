package domain

import "time"

// OrderStatus is the primary order state.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusActive     OrderStatus = "active"
	OrderStatusDelivering OrderStatus = "delivering"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusDispute    OrderStatus = "dispute"
)

// Terminal reports whether the status is a final resting state. Terminal
// orders are immutable.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// Disputable reports whether a dispute may be opened from this status.
func (s OrderStatus) Disputable() bool {
	switch s {
	case OrderStatusPaid, OrderStatusActive, OrderStatusDelivering:
		return true
	}
	return false
}

// transitions enumerates the legal state machine edges. Settlement edges
// (delivering/dispute to a terminal state) are applied only through the
// ledger release transaction.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusPaid},
	OrderStatusPaid:       {OrderStatusActive, OrderStatusDispute},
	OrderStatusActive:     {OrderStatusDelivering, OrderStatusDispute},
	OrderStatusDelivering: {OrderStatusCompleted, OrderStatusCancelled, OrderStatusDispute},
	OrderStatusDispute:    {OrderStatusCompleted, OrderStatusCancelled},
}

// CanTransition reports whether from→to is a legal edge.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AdminAction is the settlement decision on a delivering order.
type AdminAction string

const (
	AdminActionApprove AdminAction = "approve"
	AdminActionPartial AdminAction = "partial"
	AdminActionReject  AdminAction = "reject"
)

// PoolParams are the buyer-supplied delivery-connection parameters. They are
// opaque to the engine and handed to the external proxy verbatim.
type PoolParams struct {
	Host     string `json:"pool_host"`
	Port     int    `json:"pool_port"`
	Wallet   string `json:"pool_wallet"`
	Worker   string `json:"pool_worker"`
	Password string `json:"pool_password"`
}

// TelemetrySummary is the folded delivery-quality evidence carried on an
// order. It is read-only input to settlement, never a trigger for it.
type TelemetrySummary struct {
	CurrentHashrate  float64 `json:"current_hashrate"`
	AvgHashrate      float64 `json:"avg_hashrate"`
	HashrateAccuracy float64 `json:"hashrate_accuracy"` // delivered vs promised, capped at 100
	UptimePercent    float64 `json:"uptime_percent"`
	SharesAccepted   int64   `json:"shares_accepted"`
	SharesRejected   int64   `json:"shares_rejected"`
	SampleCount      int64   `json:"sample_count"`

	// fold state for the time-weighted average; not part of the read model
	WeightedSum      float64    `json:"-"`
	WeightedDuration float64    `json:"-"`
	FirstSampleAt    *time.Time `json:"-"`
	LastSampleAt     *time.Time `json:"-"`
}

// Order is a single rental. Money fields are snapshotted at creation and
// never track later listing changes; mutation happens only through the state
// machine.
type Order struct {
	ID           string // uuid
	Code         string // short human-facing code, also the proxy worker id
	ListingID    int64
	BuyerID      int64
	BuyerWallet  string
	SellerID     int64
	SellerWallet string

	Algorithm    string
	Hashrate     float64
	HashrateUnit string
	Hours        int

	PricePerHourTicks int64
	SubtotalTicks     int64
	CommissionTicks   int64
	TotalPaidTicks    int64

	Pool      PoolParams
	Telemetry TelemetrySummary

	Status         OrderStatus
	BuyerConfirmed bool

	AdminAction  AdminAction
	AdminNote    string
	PayoutTicks  int64
	RefundTicks  int64

	CreatedAt        time.Time
	PaidAt           *time.Time
	StartedAt        *time.Time
	ExpectedEndAt    *time.Time
	ReviewAt         *time.Time // set once on entering delivering; queue order
	CompletedAt      *time.Time
	CancelledAt      *time.Time
	LastDisconnectAt *time.Time
}

// Subtotal returns the display subtotal.
func (o Order) Subtotal() float64 { return USDT(o.SubtotalTicks) }

// TotalPaid returns the display escrowed total (subtotal + commission).
func (o Order) TotalPaid() float64 { return USDT(o.TotalPaidTicks) }

// Overdue reports whether the rented duration has fully elapsed.
func (o Order) Overdue(now time.Time) bool {
	return o.Status == OrderStatusActive && o.ExpectedEndAt != nil && !now.Before(*o.ExpectedEndAt)
}

// Settlement describes one ledger release: the status edge to apply and the
// exact split of the escrowed funds. Payout+Refund+Commission must equal the
// amount reserved for the order.
type Settlement struct {
	OrderID         string
	FromStatus      OrderStatus
	ToStatus        OrderStatus
	Action          AdminAction
	Note            string
	PayoutTicks     int64
	RefundTicks     int64
	CommissionTicks int64
}
