package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// ExpiryWorker sweeps active orders whose rental window has elapsed into the
// review queue. It races the buyer's confirm on the same CAS edge, so each
// order is enqueued exactly once no matter who wins.
type ExpiryWorker struct {
	orders   domain.OrderStore
	bus      domain.SignalBus
	interval time.Duration
	logger   *slog.Logger
}

// NewExpiryWorker creates an ExpiryWorker ticking at the given interval.
func NewExpiryWorker(orders domain.OrderStore, bus domain.SignalBus, interval time.Duration, logger *slog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		orders:   orders,
		bus:      bus,
		interval: interval,
		logger:   logger.With(slog.String("component", "expiry_worker")),
	}
}

// Run sweeps until the context is cancelled.
func (w *ExpiryWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.InfoContext(ctx, "expiry worker started",
		slog.Duration("interval", w.interval),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "expiry worker stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				w.logger.ErrorContext(ctx, "sweep failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Sweep moves every overdue active order to delivering. Losing a CAS to a
// concurrent buyer confirm is expected and not an error.
func (w *ExpiryWorker) Sweep(ctx context.Context) error {
	now := time.Now().UTC()
	overdue, err := w.orders.ListOverdue(ctx, now)
	if err != nil {
		return err
	}

	for _, order := range overdue {
		moved, err := w.orders.Transition(ctx, order.ID,
			domain.OrderStatusActive, domain.OrderStatusDelivering, now)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidStateTransition) ||
				errors.Is(err, domain.ErrOrderAlreadySettled) {
				continue
			}
			w.logger.ErrorContext(ctx, "expire transition failed",
				slog.String("order_id", order.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		evt, _ := json.Marshal(map[string]string{
			"event":    "order_delivering",
			"order_id": moved.ID,
			"code":     moved.Code,
			"status":   string(moved.Status),
		})
		if pubErr := w.bus.Publish(ctx, "orders", evt); pubErr != nil {
			w.logger.WarnContext(ctx, "publish event failed",
				slog.String("order_id", moved.ID),
				slog.String("error", pubErr.Error()),
			)
		}

		w.logger.InfoContext(ctx, "order expired into review queue",
			slog.String("order_id", moved.ID),
			slog.String("code", moved.Code),
		)
	}
	return nil
}
