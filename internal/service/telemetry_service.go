package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// minSamplesForAlert avoids alerting on a freshly connected rig whose average
// has not stabilized yet.
const minSamplesForAlert = 5

// IngestInput is one proxy report. The proxy identifies the rental by its
// order code (the worker id it sees on the stratum connection).
type IngestInput struct {
	OrderCode     string
	Timestamp     time.Time
	Hashrate      float64
	AcceptedDelta int64
	RejectedDelta int64
}

// TelemetryService folds proxy reports into per-order delivery evidence. It
// never moves money and never applies settlement transitions; its only state
// machine effect is activating a paid order on first contact.
type TelemetryService struct {
	orders   domain.OrderStore
	samples  domain.TelemetryStore
	cache    domain.TelemetryCache
	bus      domain.SignalBus
	notifier Notifier

	sampleInterval   time.Duration
	lowAccuracyAlert float64

	logger *slog.Logger
}

// NewTelemetryService creates a TelemetryService. sampleInterval is the
// proxy's nominal reporting cadence; lowAccuracyAlert is the accuracy percent
// below which the ops notifier fires (0 disables alerts).
func NewTelemetryService(
	orders domain.OrderStore,
	samples domain.TelemetryStore,
	cache domain.TelemetryCache,
	bus domain.SignalBus,
	notifier Notifier,
	sampleInterval time.Duration,
	lowAccuracyAlert float64,
	logger *slog.Logger,
) *TelemetryService {
	return &TelemetryService{
		orders:           orders,
		samples:          samples,
		cache:            cache,
		bus:              bus,
		notifier:         notifier,
		sampleInterval:   sampleInterval,
		lowAccuracyAlert: lowAccuracyAlert,
		logger:           logger.With(slog.String("component", "telemetry_service")),
	}
}

// Ingest appends one sample and folds it into the order's summary. The first
// sample on a paid order activates it and starts the delivery window.
func (s *TelemetryService) Ingest(ctx context.Context, in IngestInput) error {
	order, err := s.orders.GetByCode(ctx, in.OrderCode)
	if err != nil {
		return fmt.Errorf("telemetry_service: ingest %s: %w", in.OrderCode, err)
	}
	if order.Status.Terminal() {
		// Late report after settlement; evidence window is closed.
		s.logger.DebugContext(ctx, "sample on settled order dropped",
			slog.String("order_id", order.ID),
		)
		return nil
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	if order.Status == domain.OrderStatusPaid {
		endAt := ts.Add(time.Duration(order.Hours) * time.Hour)
		activated, err := s.orders.MarkActivated(ctx, order.ID, ts, endAt)
		if err == domain.ErrInvalidStateTransition {
			// Concurrent first sample won the activation; re-read and go on.
			activated, err = s.orders.GetByID(ctx, order.ID)
		}
		if err != nil {
			return fmt.Errorf("telemetry_service: activate %s: %w", order.ID, err)
		}
		order = activated
		s.publishEvent(ctx, "order_active", order.ID, order.Code, 0)
		s.logger.InfoContext(ctx, "order activated by first sample",
			slog.String("order_id", order.ID),
			slog.String("code", order.Code),
		)
	}

	sample := domain.TelemetrySample{
		OrderID:       order.ID,
		Timestamp:     ts,
		Hashrate:      in.Hashrate,
		AcceptedDelta: in.AcceptedDelta,
		RejectedDelta: in.RejectedDelta,
	}
	if err := s.samples.Append(ctx, sample); err != nil {
		return fmt.Errorf("telemetry_service: append %s: %w", order.ID, err)
	}

	prevAccuracy := order.Telemetry.HashrateAccuracy
	sum := domain.FoldSample(order.Telemetry, sample, order.Hashrate, s.sampleInterval)
	if err := s.orders.UpdateTelemetry(ctx, order.ID, sum); err != nil {
		return fmt.Errorf("telemetry_service: fold %s: %w", order.ID, err)
	}

	if err := s.cache.SetCurrent(ctx, order.ID, in.Hashrate, ts); err != nil {
		s.logger.WarnContext(ctx, "telemetry cache write failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}

	s.publishEvent(ctx, "telemetry", order.ID, order.Code, in.Hashrate)
	s.maybeAlertLowAccuracy(ctx, order, prevAccuracy, sum)
	return nil
}

// Disconnect records the proxy losing the rig. Evidence only: the order
// keeps its status and the review queue sees the gap in uptime.
func (s *TelemetryService) Disconnect(ctx context.Context, orderCode string) error {
	order, err := s.orders.GetByCode(ctx, orderCode)
	if err != nil {
		return fmt.Errorf("telemetry_service: disconnect %s: %w", orderCode, err)
	}
	if order.Status.Terminal() {
		return nil
	}

	now := time.Now().UTC()
	if err := s.orders.MarkDisconnected(ctx, order.ID, now); err != nil {
		return fmt.Errorf("telemetry_service: disconnect %s: %w", order.ID, err)
	}
	if err := s.cache.SetCurrent(ctx, order.ID, 0, now); err != nil {
		s.logger.WarnContext(ctx, "telemetry cache write failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}

	s.publishEvent(ctx, "proxy_disconnect", order.ID, order.Code, 0)
	s.logger.InfoContext(ctx, "proxy disconnected",
		slog.String("order_id", order.ID),
		slog.String("code", order.Code),
	)
	return nil
}

// Samples returns an order's raw samples in chronological order.
func (s *TelemetryService) Samples(ctx context.Context, orderID string, opts domain.ListOpts) ([]domain.TelemetrySample, error) {
	samples, err := s.samples.ListByOrder(ctx, orderID, opts)
	if err != nil {
		return nil, fmt.Errorf("telemetry_service: samples %s: %w", orderID, err)
	}
	return samples, nil
}

// maybeAlertLowAccuracy fires the ops notifier once when the time-weighted
// accuracy first drops below the configured floor.
func (s *TelemetryService) maybeAlertLowAccuracy(ctx context.Context, order domain.Order, prevAccuracy float64, sum domain.TelemetrySummary) {
	if s.notifier == nil || s.lowAccuracyAlert <= 0 {
		return
	}
	if sum.SampleCount < minSamplesForAlert {
		return
	}
	if sum.HashrateAccuracy >= s.lowAccuracyAlert || prevAccuracy < s.lowAccuracyAlert {
		return
	}
	msg := fmt.Sprintf("order %s delivering %.1f%% of promised hashrate (avg %.2f %s, promised %.2f %s)",
		order.Code, sum.HashrateAccuracy,
		sum.AvgHashrate, order.HashrateUnit,
		order.Hashrate, order.HashrateUnit)
	if err := s.notifier.Notify(ctx, "low_accuracy", "Low hashrate delivery", msg); err != nil {
		s.logger.WarnContext(ctx, "low accuracy alert failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *TelemetryService) publishEvent(ctx context.Context, event, orderID, code string, hashrate float64) {
	evt, _ := json.Marshal(map[string]any{
		"event":    event,
		"order_id": orderID,
		"code":     code,
		"hashrate": hashrate,
	})
	if err := s.bus.Publish(ctx, "telemetry", evt); err != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("event", event),
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}
}
