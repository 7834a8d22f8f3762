package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
	"github.com/atvirokodosprendimai/keyledger/internal/core/ports"
)

const defaultMaxRetry = 5

// OutboxDispatcher drains committed outbox rows to the publisher. Delivery is
// at least once; a row is only marked dispatched after Publish returned nil.
type OutboxDispatcher struct {
	repo      ports.OutboxRepository
	publisher ports.EventPublisher
	log       logrus.FieldLogger
	interval  time.Duration
	batchSize int
	maxRetry  int

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dispatchSuccessTotal atomic.Int64
	dispatchFailureTotal atomic.Int64
	dispatchDeadTotal    atomic.Int64
}

type OutboxDispatcherMetrics struct {
	DispatchSuccessTotal int64
	DispatchFailureTotal int64
	DispatchDeadTotal    int64
}

type OutboxDispatcherOptions struct {
	Interval  time.Duration
	BatchSize int
	MaxRetry  int
}

func NewOutboxDispatcher(repo ports.OutboxRepository, publisher ports.EventPublisher, log logrus.FieldLogger, opts OutboxDispatcherOptions) *OutboxDispatcher {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = defaultMaxRetry
	}
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return &OutboxDispatcher{
		repo:      repo,
		publisher: publisher,
		log:       log.WithField("component", "outbox"),
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		maxRetry:  opts.MaxRetry,
	}
}

func (d *OutboxDispatcher) Start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.wg.Add(1)
	go d.loop(ctx)
}

func (d *OutboxDispatcher) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}

func (d *OutboxDispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.DispatchBatch(ctx); err != nil && ctx.Err() == nil {
			d.log.WithError(err).Warn("outbox dispatch batch failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchBatch publishes one batch of due rows.
func (d *OutboxDispatcher) DispatchBatch(ctx context.Context) error {
	events, err := d.repo.FetchPending(ctx, d.batchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		var envelope domain.EventEnvelope
		if err := json.Unmarshal(event.PayloadJSON, &envelope); err != nil {
			if markErr := d.markFailure(ctx, event, fmt.Sprintf("decode payload: %v", err)); markErr != nil {
				return markErr
			}
			d.dispatchFailureTotal.Add(1)
			continue
		}

		if err := d.publisher.Publish(ctx, event.Topic, envelope); err != nil {
			d.log.WithFields(logrus.Fields{
				"event_id": event.EventID,
				"topic":    event.Topic,
				"attempt":  event.Attempts + 1,
			}).WithError(err).Debug("publish failed")
			if markErr := d.markFailure(ctx, event, err.Error()); markErr != nil {
				return markErr
			}
			d.dispatchFailureTotal.Add(1)
			continue
		}

		if err := d.repo.MarkDispatched(ctx, event.ID); err != nil {
			return err
		}
		d.dispatchSuccessTotal.Add(1)
	}

	return nil
}

func (d *OutboxDispatcher) markFailure(ctx context.Context, event domain.OutboxEvent, errMsg string) error {
	attempts := event.Attempts + 1
	if attempts >= d.maxRetry {
		if err := d.repo.MarkDead(ctx, event.ID, attempts, errMsg); err != nil {
			return err
		}
		d.log.WithFields(logrus.Fields{
			"event_id": event.EventID,
			"topic":    event.Topic,
			"attempts": attempts,
		}).Error("outbox event moved to dead letter")
		d.dispatchDeadTotal.Add(1)
		return nil
	}
	next := time.Now().UTC().Add(backoffDuration(attempts)).Format(time.RFC3339Nano)
	return d.repo.MarkFailed(ctx, event.ID, attempts, next, errMsg)
}

func (d *OutboxDispatcher) Metrics() OutboxDispatcherMetrics {
	return OutboxDispatcherMetrics{
		DispatchSuccessTotal: d.dispatchSuccessTotal.Load(),
		DispatchFailureTotal: d.dispatchFailureTotal.Load(),
		DispatchDeadTotal:    d.dispatchDeadTotal.Load(),
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	d := time.Duration(attempt*attempt) * time.Second
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}
