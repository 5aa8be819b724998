package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

const (
	defaultInterval   = time.Second
	defaultBatchSize  = 50
	publishTimeout    = 5 * time.Second
	maxRetryDelay     = time.Minute
	maxBackoffAttempt = 6
)

// Record is an outbox row claimed for delivery.
type Record struct {
	ID        int64
	EventType string
	Payload   []byte
	Attempts  int
}

// Store is the outbox table.
type Store interface {
	// Claim locks up to limit due records and hides them from other
	// dispatchers until the lease expires.
	Claim(ctx context.Context, limit int, lease time.Duration) ([]Record, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, nextRetry time.Time) error
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Dispatcher polls the outbox and publishes due records.
type Dispatcher struct {
	store     Store
	publisher Publisher
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(store Store, publisher Publisher, cfg DispatcherConfig) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		now:       time.Now,
	}
}

// Run dispatches until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	lg := zctx.From(ctx).Named("outbox")
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			lg.Error("Outbox dispatch failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce publishes one batch and returns the number of records sent.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	records, err := d.store.Claim(ctx, d.batchSize, publishTimeout*6)
	if err != nil {
		return 0, errors.Wrap(err, "claim")
	}

	lg := zctx.From(ctx)
	sent := 0
	for _, rec := range records {
		if err := d.publish(ctx, rec); err != nil {
			lg.Warn("Publish event failed",
				zap.Int64("record_id", rec.ID),
				zap.String("event_type", rec.EventType),
				zap.Int("attempts", rec.Attempts+1),
				zap.Error(err),
			)
			if err := d.store.MarkFailed(ctx, rec.ID, d.now().Add(retryDelay(rec.Attempts+1))); err != nil {
				return sent, errors.Wrap(err, "mark failed")
			}
			continue
		}
		if err := d.store.MarkSent(ctx, rec.ID); err != nil {
			return sent, errors.Wrap(err, "mark sent")
		}
		sent++
	}
	return sent, nil
}

func (d *Dispatcher) publish(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return d.publisher.Publish(ctx, rec.EventType, rec.Payload)
}

// retryDelay is 2^attempts seconds, capped at one minute.
func retryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > maxBackoffAttempt {
		attempts = maxBackoffAttempt
	}
	delay := time.Duration(1<<attempts) * time.Second
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}
