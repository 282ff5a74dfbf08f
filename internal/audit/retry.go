package audit

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/riverrun-io/caseflow/model"
)

// RetryConfig controls how failed appends are retried.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// RetryWriter decorates a Log so that a failed Append never surfaces to the
// caller: the record is queued and retried with exponential backoff by a
// background worker until durably written. The queue is unbounded — a record
// for a committed state change is never dropped while the writer is running;
// memory growth during a long outage is the accepted cost of that guarantee.
type RetryWriter struct {
	inner  Log
	logger *zap.Logger
	cfg    RetryConfig

	mu      sync.Mutex
	cond    *sync.Cond
	pending []model.TransitionRecord
	closed  bool
	wg      sync.WaitGroup
}

// NewRetryWriter creates a RetryWriter and starts its background worker.
func NewRetryWriter(inner Log, logger *zap.Logger, cfg RetryConfig) *RetryWriter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 2 * time.Second
	}
	w := &RetryWriter{
		inner:  inner,
		logger: logger,
		cfg:    cfg,
	}
	w.cond = sync.NewCond(&w.mu)
	w.wg.Add(1)
	go w.worker()
	return w
}

// Append writes the record, queueing it for retry on failure. It never
// returns an error for a queueable failure.
func (w *RetryWriter) Append(ctx context.Context, record model.TransitionRecord) error {
	if err := w.inner.Append(ctx, record); err != nil {
		w.logger.Warn("audit append failed, queueing for retry",
			zap.String("record_id", record.ID),
			zap.String("case_id", record.CaseID),
			zap.Error(err),
		)
		w.enqueue(record)
	}
	return nil
}

// History delegates to the wrapped log.
func (w *RetryWriter) History(ctx context.Context, tenantID, caseID string, limit int) ([]model.TransitionRecord, error) {
	return w.inner.History(ctx, tenantID, caseID, limit)
}

// Close stops the background worker. Queued records that have not been
// written yet are flushed with one final attempt each.
func (w *RetryWriter) Close() {
	w.mu.Lock()
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
	w.wg.Wait()
}

// QueueDepth returns the number of records still awaiting a durable write.
func (w *RetryWriter) QueueDepth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *RetryWriter) enqueue(record model.TransitionRecord) {
	w.mu.Lock()
	w.pending = append(w.pending, record)
	w.cond.Signal()
	w.mu.Unlock()
}

func (w *RetryWriter) worker() {
	defer w.wg.Done()
	for {
		w.mu.Lock()
		for len(w.pending) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.pending) == 0 {
			w.mu.Unlock()
			return
		}
		record := w.pending[0]
		w.pending = w.pending[1:]
		closing := w.closed
		w.mu.Unlock()

		if closing {
			// Shutdown flush: one attempt per record, no backoff.
			if err := w.inner.Append(context.Background(), record); err != nil {
				w.logger.Error("audit record lost at shutdown",
					zap.String("record_id", record.ID),
					zap.Error(err),
				)
			}
			continue
		}
		w.retryAppend(record)
	}
}

func (w *RetryWriter) retryAppend(record model.TransitionRecord) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.InitialInterval
	b.MaxInterval = w.cfg.MaxInterval
	b.MaxElapsedTime = 0

	op := func() error {
		return w.inner.Append(context.Background(), record)
	}
	err := backoff.Retry(op, backoff.WithMaxRetries(b, uint64(w.cfg.MaxAttempts)))
	if err == nil {
		return
	}

	// Still failing after the retry budget: put it back and let a later
	// cycle try again once the store recovers.
	w.logger.Error("audit append still failing, requeueing",
		zap.String("record_id", record.ID),
		zap.String("case_id", record.CaseID),
		zap.Error(err),
	)
	w.enqueue(record)
}
