package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// In-memory store fakes. They implement the domain interfaces with the same
// error contracts as the Postgres stores so services can be exercised without
// a database.

type fakeAccountStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]domain.Account
}

func newFakeAccountStore() *fakeAccountStore {
	s := &fakeAccountStore{byID: make(map[int64]domain.Account)}
	// Platform account is seeded by the schema in production.
	_, _ = s.Create(context.Background(), domain.Account{Wallet: domain.PlatformWallet})
	return s
}

func (s *fakeAccountStore) Create(ctx context.Context, acct domain.Account) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.byID {
		if a.Wallet == acct.Wallet {
			return domain.Account{}, domain.ErrAlreadyExists
		}
	}
	s.nextID++
	acct.ID = s.nextID
	acct.CreatedAt = time.Now().UTC()
	s.byID[acct.ID] = acct
	return acct, nil
}

func (s *fakeAccountStore) GetByWallet(ctx context.Context, wallet string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.byID {
		if a.Wallet == wallet {
			return a, nil
		}
	}
	return domain.Account{}, domain.ErrNotFound
}

func (s *fakeAccountStore) GetByID(ctx context.Context, id int64) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *fakeAccountStore) TouchLastSeen(ctx context.Context, wallet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.byID {
		if a.Wallet == wallet {
			a.LastSeenAt = time.Now().UTC()
			s.byID[id] = a
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *fakeAccountStore) SetBanned(ctx context.Context, wallet string, banned bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.byID {
		if a.Wallet == wallet {
			a.IsBanned = banned
			a.BanReason = reason
			s.byID[id] = a
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *fakeAccountStore) UpdateRating(ctx context.Context, accountID int64, role string, avg float64, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[accountID]
	if !ok {
		return domain.ErrNotFound
	}
	switch role {
	case "buyer_rates_seller":
		a.SellerRating = avg
		a.SellerRatings = count
	case "seller_rates_buyer":
		a.BuyerRating = avg
		a.BuyerRatings = count
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	s.byID[accountID] = a
	return nil
}

func (s *fakeAccountStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Account, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeAccountStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.byID)), nil
}

type fakeListingStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]domain.Listing
}

func newFakeListingStore() *fakeListingStore {
	return &fakeListingStore{byID: make(map[int64]domain.Listing)}
}

func (s *fakeListingStore) Create(ctx context.Context, l domain.Listing) (domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	l.ID = s.nextID
	l.CreatedAt = time.Now().UTC()
	s.byID[l.ID] = l
	return l, nil
}

func (s *fakeListingStore) GetByID(ctx context.Context, id int64) (domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.byID[id]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

func (s *fakeListingStore) Update(ctx context.Context, l domain.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[l.ID]
	if !ok {
		return domain.ErrNotFound
	}
	l.CreatedAt = cur.CreatedAt
	l.UpdatedAt = time.Now().UTC()
	s.byID[l.ID] = l
	return nil
}

func (s *fakeListingStore) UpdateStatus(ctx context.Context, id int64, from, to domain.ListingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	if l.Status != from {
		return domain.ErrInvalidStateTransition
	}
	l.Status = to
	s.byID[id] = l
	return nil
}

func (s *fakeListingStore) ListBySeller(ctx context.Context, sellerID int64) ([]domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Listing
	for _, l := range s.byID {
		if l.SellerID == sellerID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeListingStore) Browse(ctx context.Context, f domain.ListingFilter, opts domain.ListOpts) ([]domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Listing
	for _, l := range s.byID {
		if l.Status != domain.ListingStatusActive {
			continue
		}
		if f.Algorithm != "" && l.Algorithm != f.Algorithm {
			continue
		}
		if f.Region != "" && l.Region != f.Region {
			continue
		}
		if f.MaxPriceTicks > 0 && l.PricePerHourTicks > f.MaxPriceTicks {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeListingStore) CountByStatus(ctx context.Context, status domain.ListingStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, l := range s.byID {
		if l.Status == status {
			n++
		}
	}
	return n, nil
}

type fakeOrderStore struct {
	mu   sync.Mutex
	byID map[string]domain.Order
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{byID: make(map[string]domain.Order)}
}

func (s *fakeOrderStore) put(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[o.ID] = o
}

func (s *fakeOrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *fakeOrderStore) GetByCode(ctx context.Context, code string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.byID {
		if o.Code == code {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrNotFound
}

func (s *fakeOrderStore) ListByAccount(ctx context.Context, accountID int64, role string, opts domain.ListOpts) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.byID {
		switch role {
		case "buyer":
			if o.BuyerID == accountID {
				out = append(out, o)
			}
		case "seller":
			if o.SellerID == accountID {
				out = append(out, o)
			}
		default:
			if o.BuyerID == accountID || o.SellerID == accountID {
				out = append(out, o)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeOrderStore) Transition(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	if o.Status != from {
		if o.Status.Terminal() {
			return domain.Order{}, domain.ErrOrderAlreadySettled
		}
		return domain.Order{}, domain.ErrInvalidStateTransition
	}
	if !domain.CanTransition(from, to) {
		return domain.Order{}, domain.ErrInvalidStateTransition
	}
	o.Status = to
	switch to {
	case domain.OrderStatusDelivering:
		if o.ReviewAt == nil {
			o.ReviewAt = &at
		}
	case domain.OrderStatusCompleted:
		o.CompletedAt = &at
	case domain.OrderStatusCancelled:
		o.CancelledAt = &at
	}
	s.byID[id] = o
	return o, nil
}

func (s *fakeOrderStore) MarkActivated(ctx context.Context, id string, startedAt, expectedEndAt time.Time) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	if o.Status != domain.OrderStatusPaid {
		return domain.Order{}, domain.ErrInvalidStateTransition
	}
	o.Status = domain.OrderStatusActive
	o.StartedAt = &startedAt
	o.ExpectedEndAt = &expectedEndAt
	s.byID[id] = o
	return o, nil
}

func (s *fakeOrderStore) ConfirmDelivery(ctx context.Context, id string, at time.Time) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	if o.Status != domain.OrderStatusActive {
		if o.Status.Terminal() {
			return domain.Order{}, domain.ErrOrderAlreadySettled
		}
		return domain.Order{}, domain.ErrInvalidStateTransition
	}
	o.Status = domain.OrderStatusDelivering
	o.BuyerConfirmed = true
	if o.ReviewAt == nil {
		o.ReviewAt = &at
	}
	s.byID[id] = o
	return o, nil
}

func (s *fakeOrderStore) UpdateTelemetry(ctx context.Context, id string, sum domain.TelemetrySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Telemetry = sum
	s.byID[id] = o
	return nil
}

func (s *fakeOrderStore) MarkDisconnected(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.LastDisconnectAt = &at
	o.Telemetry.CurrentHashrate = 0
	s.byID[id] = o
	return nil
}

func (s *fakeOrderStore) ListDelivering(ctx context.Context) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.byID {
		if o.Status == domain.OrderStatusDelivering {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *fakeOrderStore) ListOverdue(ctx context.Context, now time.Time) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.byID {
		if o.Overdue(now) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *fakeOrderStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.byID {
		var settledAt *time.Time
		if o.CompletedAt != nil {
			settledAt = o.CompletedAt
		} else if o.CancelledAt != nil {
			settledAt = o.CancelledAt
		}
		if settledAt != nil && settledAt.Before(before) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *fakeOrderStore) CountByStatus(ctx context.Context, statuses ...domain.OrderStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(statuses) == 0 {
		return int64(len(s.byID)), nil
	}
	var n int64
	for _, o := range s.byID {
		for _, st := range statuses {
			if o.Status == st {
				n++
				break
			}
		}
	}
	return n, nil
}

func (s *fakeOrderStore) SumCommission(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, o := range s.byID {
		if o.Status.Terminal() {
			sum += o.CommissionTicks
		}
	}
	return sum, nil
}

func (s *fakeOrderStore) SumVolume(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, o := range s.byID {
		if o.Status != domain.OrderStatusPending {
			sum += o.TotalPaidTicks
		}
	}
	return sum, nil
}

type fakeDisputeStore struct {
	mu     sync.Mutex
	byID   map[string]domain.Dispute
	orders *fakeOrderStore
}

func newFakeDisputeStore(orders *fakeOrderStore) *fakeDisputeStore {
	return &fakeDisputeStore{byID: make(map[string]domain.Dispute), orders: orders}
}

func (s *fakeDisputeStore) Open(ctx context.Context, d domain.Dispute, from domain.OrderStatus) (domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.OrderID == d.OrderID && existing.Status == domain.DisputeStatusOpen {
			return domain.Dispute{}, domain.ErrDisputeAlreadyOpen
		}
	}
	// The order edge and the insert succeed or fail together, like the
	// transactional store.
	if _, err := s.orders.Transition(ctx, d.OrderID, from, domain.OrderStatusDispute, time.Now().UTC()); err != nil {
		return domain.Dispute{}, err
	}
	d.Status = domain.DisputeStatusOpen
	d.CreatedAt = time.Now().UTC()
	s.byID[d.ID] = d
	return d, nil
}

func (s *fakeDisputeStore) GetByID(ctx context.Context, id string) (domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return domain.Dispute{}, domain.ErrNotFound
	}
	return d, nil
}

func (s *fakeDisputeStore) GetOpenByOrder(ctx context.Context, orderID string) (domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.byID {
		if d.OrderID == orderID && d.Status == domain.DisputeStatusOpen {
			return d, nil
		}
	}
	return domain.Dispute{}, domain.ErrNoOpenDispute
}

func (s *fakeDisputeStore) Resolve(ctx context.Context, id string, resolution domain.DisputeResolution, note string, payoutPercent int, at time.Time) (domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return domain.Dispute{}, domain.ErrNotFound
	}
	if d.Status == domain.DisputeStatusResolved {
		return domain.Dispute{}, domain.ErrDisputeAlreadyResolved
	}
	d.Status = domain.DisputeStatusResolved
	d.Resolution = resolution
	d.ResolutionNote = note
	d.PayoutPercent = payoutPercent
	d.ResolvedAt = &at
	s.byID[id] = d
	return d, nil
}

func (s *fakeDisputeStore) ListOpen(ctx context.Context) ([]domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Dispute
	for _, d := range s.byID {
		if d.Status == domain.DisputeStatusOpen {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeDisputeStore) CountOpen(ctx context.Context) (int64, error) {
	open, _ := s.ListOpen(ctx)
	return int64(len(open)), nil
}

type fakeTelemetryStore struct {
	mu      sync.Mutex
	samples []domain.TelemetrySample
}

func (s *fakeTelemetryStore) Append(ctx context.Context, sample domain.TelemetrySample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample.ID = int64(len(s.samples) + 1)
	s.samples = append(s.samples, sample)
	return nil
}

func (s *fakeTelemetryStore) ListByOrder(ctx context.Context, orderID string, opts domain.ListOpts) ([]domain.TelemetrySample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TelemetrySample
	for _, sm := range s.samples {
		if sm.OrderID == orderID {
			out = append(out, sm)
		}
	}
	return out, nil
}

type fakeJournalStore struct {
	mu      sync.Mutex
	entries []domain.Transaction
}

func (s *fakeJournalStore) GetByTxHash(ctx context.Context, txHash string) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.entries {
		if t.TxHash == txHash {
			return t, nil
		}
	}
	return domain.Transaction{}, domain.ErrNotFound
}

func (s *fakeJournalStore) ListByAccount(ctx context.Context, accountID int64, opts domain.ListOpts) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transaction
	for _, t := range s.entries {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeJournalStore) CountPendingWithdrawals(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.entries {
		if t.Type == domain.TxWithdraw && t.Status == domain.TxStatusPending {
			n++
		}
	}
	return n, nil
}

type fakeRatingStore struct {
	mu      sync.Mutex
	ratings map[string]domain.Rating // key: orderID|raterID
}

func newFakeRatingStore() *fakeRatingStore {
	return &fakeRatingStore{ratings: make(map[string]domain.Rating)}
}

func (s *fakeRatingStore) Upsert(ctx context.Context, r domain.Rating) (domain.Rating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s|%d", r.OrderID, r.RaterID)
	r.ID = int64(len(s.ratings) + 1)
	r.CreatedAt = time.Now().UTC()
	s.ratings[key] = r
	return r, nil
}

func (s *fakeRatingStore) AverageFor(ctx context.Context, ratedID int64, role string) (float64, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum, count int
	for _, r := range s.ratings {
		if r.RatedID == ratedID && r.Role == role {
			sum += r.Score
			count++
		}
	}
	if count == 0 {
		return 0, 0, nil
	}
	return float64(sum) / float64(count), count, nil
}

type fakeAuditStore struct {
	mu     sync.Mutex
	events []string
}

func (s *fakeAuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *fakeAuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (s *fakeAuditStore) has(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == event {
			return true
		}
	}
	return false
}

// fakeLedger applies balance-free settlement semantics on top of the order
// store: the same status edges and split invariants, without account rows.
type fakeLedger struct {
	orders       *fakeOrderStore
	listings     *fakeListingStore
	insufficient bool
}

func (l *fakeLedger) Reserve(ctx context.Context, order domain.Order) (domain.Order, error) {
	if l.insufficient {
		return domain.Order{}, domain.ErrInsufficientFunds
	}
	if l.listings != nil {
		if err := l.listings.UpdateStatus(ctx, order.ListingID, domain.ListingStatusActive, domain.ListingStatusRented); err != nil {
			return domain.Order{}, err
		}
	}
	now := time.Now().UTC()
	order.Status = domain.OrderStatusPaid
	order.CreatedAt = now
	order.PaidAt = &now
	l.orders.put(order)
	return order, nil
}

func (l *fakeLedger) Release(ctx context.Context, s domain.Settlement) (domain.Order, error) {
	order, err := l.orders.GetByID(ctx, s.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status.Terminal() {
		return domain.Order{}, domain.ErrOrderAlreadySettled
	}
	if order.Status != s.FromStatus {
		return domain.Order{}, domain.ErrInvalidStateTransition
	}
	if s.PayoutTicks < 0 || s.RefundTicks < 0 || s.CommissionTicks < 0 {
		return domain.Order{}, domain.ErrLedgerInvariantViolation
	}
	if s.PayoutTicks+s.RefundTicks+s.CommissionTicks != order.TotalPaidTicks {
		return domain.Order{}, domain.ErrLedgerInvariantViolation
	}

	settled, err := l.orders.Transition(ctx, s.OrderID, s.FromStatus, s.ToStatus, time.Now().UTC())
	if err != nil {
		return domain.Order{}, err
	}
	settled.AdminAction = s.Action
	settled.AdminNote = s.Note
	settled.PayoutTicks = s.PayoutTicks
	settled.RefundTicks = s.RefundTicks
	l.orders.put(settled)
	if l.listings != nil {
		_ = l.listings.UpdateStatus(ctx, settled.ListingID, domain.ListingStatusRented, domain.ListingStatusActive)
	}
	return settled, nil
}

func (l *fakeLedger) Deposit(ctx context.Context, wallet, txHash string, amountTicks int64) (domain.Account, error) {
	return domain.Account{Wallet: wallet, AvailableTicks: amountTicks}, nil
}

func (l *fakeLedger) Withdraw(ctx context.Context, wallet, toAddress string, amountTicks int64) (domain.Transaction, error) {
	tx := domain.Transaction{
		Type:        domain.TxWithdraw,
		AmountTicks: amountTicks,
		FeeTicks:    domain.WithdrawFeeTicks,
		ToAddress:   toAddress,
		Status:      domain.TxStatusConfirmed,
		CreatedAt:   time.Now().UTC(),
	}
	if amountTicks > domain.WithdrawAdminThresholdTicks {
		tx.Status = domain.TxStatusPending
		tx.RequiresAdmin = true
	}
	return tx, nil
}

type fakeLockManager struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLockManager() *fakeLockManager {
	return &fakeLockManager{held: make(map[string]bool)}
}

func (m *fakeLockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, key)
	}, nil
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: make(map[string][][]byte)}
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *fakeBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

func (b *fakeBus) hasEvent(channel, event string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	needle := `"event":"` + event + `"`
	for _, p := range b.published[channel] {
		if strings.Contains(string(p), needle) {
			return true
		}
	}
	return false
}

type fakeTelemetryCache struct {
	mu   sync.Mutex
	last map[string]float64
}

func newFakeTelemetryCache() *fakeTelemetryCache {
	return &fakeTelemetryCache{last: make(map[string]float64)}
}

func (c *fakeTelemetryCache) SetCurrent(ctx context.Context, orderID string, hashrate float64, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[orderID] = hashrate
	return nil
}

func (c *fakeTelemetryCache) GetCurrent(ctx context.Context, orderID string) (float64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.last[orderID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return v, time.Now().UTC(), nil
}

const (
	buyerWallet  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	sellerWallet = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	otherWallet  = "0xcccccccccccccccccccccccccccccccccccccccc"
)

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) Notify(ctx context.Context, event, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *fakeNotifier) has(event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

// testEnv wires every service against the in-memory fakes with a buyer, a
// seller, and one active listing already seeded.
type testEnv struct {
	accounts *fakeAccountStore
	listings *fakeListingStore
	orders   *fakeOrderStore
	disputes *fakeDisputeStore
	samples  *fakeTelemetryStore
	journal  *fakeJournalStore
	ratings  *fakeRatingStore
	audit    *fakeAuditStore
	ledger   *fakeLedger
	locks    *fakeLockManager
	bus      *fakeBus
	cache    *fakeTelemetryCache
	notifier *fakeNotifier

	buyer   domain.Account
	seller  domain.Account
	listing domain.Listing

	orderSvc      *OrderService
	settlementSvc *SettlementService
	disputeSvc    *DisputeService
	telemetrySvc  *TelemetryService
	accountSvc    *AccountService
	listingSvc    *ListingService
	reviewSvc     *ReviewService
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	env := &testEnv{
		accounts: newFakeAccountStore(),
		listings: newFakeListingStore(),
		orders: newFakeOrderStore(),
		samples:  &fakeTelemetryStore{},
		journal:  &fakeJournalStore{},
		ratings:  newFakeRatingStore(),
		audit:    &fakeAuditStore{},
		locks:    newFakeLockManager(),
		bus:      newFakeBus(),
		cache:    newFakeTelemetryCache(),
		notifier: &fakeNotifier{},
	}
	env.disputes = newFakeDisputeStore(env.orders)
	env.ledger = &fakeLedger{orders: env.orders, listings: env.listings}

	var err error
	env.buyer, err = env.accounts.Create(ctx, domain.Account{Wallet: buyerWallet})
	if err != nil {
		t.Fatalf("seed buyer: %v", err)
	}
	env.seller, err = env.accounts.Create(ctx, domain.Account{Wallet: sellerWallet})
	if err != nil {
		t.Fatalf("seed seller: %v", err)
	}
	env.listing, err = env.listings.Create(ctx, domain.Listing{
		SellerID:          env.seller.ID,
		SellerWallet:      env.seller.Wallet,
		Title:             "Antminer S21 rack",
		Algorithm:         "sha256",
		Hashrate:          200,
		HashrateUnit:      "TH/s",
		PricePerHourTicks: 2 * domain.TicksPerUSDT,
		MinHours:          2,
		MaxHours:          48,
		Region:            "eu-west",
		Status:            domain.ListingStatusActive,
	})
	if err != nil {
		t.Fatalf("seed listing: %v", err)
	}

	logger := testLogger()
	env.orderSvc = NewOrderService(env.orders, env.listings, env.accounts, env.ratings, env.ledger, env.bus, env.audit, logger)
	env.settlementSvc = NewSettlementService(env.orders, env.ledger, env.locks, env.bus, env.audit, env.notifier, 15*time.Second, logger)
	env.disputeSvc = NewDisputeService(env.disputes, env.orders, env.settlementSvc, env.bus, env.audit, logger)
	env.telemetrySvc = NewTelemetryService(env.orders, env.samples, env.cache, env.bus, env.notifier, 5*time.Minute, 50, logger)
	env.accountSvc = NewAccountService(env.accounts, env.journal, env.ledger, env.audit, logger)
	env.listingSvc = NewListingService(env.listings, env.accounts, logger)
	env.reviewSvc = NewReviewService(env.orders, env.accounts, env.listings, env.disputes, env.journal, logger)
	return env
}

// createOrder places a 10 hour rental on the seeded listing.
func (env *testEnv) createOrder(t *testing.T) domain.Order {
	t.Helper()
	order, err := env.orderSvc.Create(context.Background(), CreateOrderInput{
		BuyerWallet: buyerWallet,
		ListingID:   env.listing.ID,
		Hours:       10,
		Pool: domain.PoolParams{
			Host:   "stratum.pool.example",
			Port:   3333,
			Wallet: "bc1qexamplepayout",
		},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

// activateOrder pushes a first telemetry sample so the order goes active.
func (env *testEnv) activateOrder(t *testing.T, order domain.Order, at time.Time) domain.Order {
	t.Helper()
	err := env.telemetrySvc.Ingest(context.Background(), IngestInput{
		OrderCode: order.Code,
		Timestamp: at,
		Hashrate:  order.Hashrate,
	})
	if err != nil {
		t.Fatalf("activate order: %v", err)
	}
	active, err := env.orders.GetByID(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	return active
}

// deliveringOrder walks a fresh order to the delivering state via buyer
// confirmation.
func (env *testEnv) deliveringOrder(t *testing.T) domain.Order {
	t.Helper()
	order := env.createOrder(t)
	env.activateOrder(t, order, time.Now().UTC().Add(-time.Hour))
	confirmed, err := env.orderSvc.ConfirmDelivery(context.Background(), order.ID, buyerWallet)
	if err != nil {
		t.Fatalf("confirm delivery: %v", err)
	}
	return confirmed
}
