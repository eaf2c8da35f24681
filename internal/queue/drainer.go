package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"catalog-sync/internal/domain"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Storefront applies one staged update downstream
type Storefront interface {
	Apply(ctx context.Context, entry domain.QueueEntry) error
}

// Limiter paces batches. Wait blocks until the next batch may start.
type Limiter interface {
	Wait(ctx context.Context) error
}

// IsRetryable reports whether a downstream failure is worth retrying.
// Errors that do not say otherwise are treated as transient.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// DrainerConfig holds the consumer-side knobs
type DrainerConfig struct {
	BatchSize    int
	Workers      int
	StaleAfter   time.Duration
	PollInterval time.Duration
}

// BatchResult counts the outcome of one drained batch
type BatchResult struct {
	Claimed      int
	Completed    int
	Retried      int
	Superseded   int
	DeadLettered int
}

func (r BatchResult) add(status domain.QueueStatus) BatchResult {
	switch status {
	case domain.StatusCompleted:
		r.Completed++
	case domain.StatusPending:
		r.Retried++
	case domain.StatusFailed:
		r.Superseded++
	case domain.StatusDeadLetter:
		r.DeadLettered++
	}
	return r
}

// Drainer claims batches from the queue and applies them to the storefront
type Drainer struct {
	queue      UpdateQueue
	storefront Storefront
	limiter    Limiter
	cfg        DrainerConfig
	logger     *zap.Logger
}

func NewDrainer(queue UpdateQueue, storefront Storefront, limiter Limiter, cfg DrainerConfig, logger *zap.Logger) *Drainer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	return &Drainer{
		queue:      queue,
		storefront: storefront,
		limiter:    limiter,
		cfg:        cfg,
		logger:     logger,
	}
}

// DrainOnce waits for the limiter, claims one batch and settles every entry in it
func (d *Drainer) DrainOnce(ctx context.Context) (BatchResult, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return BatchResult{}, err
	}

	entries, err := d.queue.ClaimBatch(ctx, d.cfg.BatchSize)
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to claim batch: %w", err)
	}

	result := BatchResult{Claimed: len(entries)}
	if len(entries) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	var settleErrs []error

	p := pool.New().WithMaxGoroutines(d.cfg.Workers)
	for _, entry := range entries {
		p.Go(func() {
			status, err := d.settle(ctx, entry)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				settleErrs = append(settleErrs, err)
				return
			}
			result = result.add(status)
		})
	}
	p.Wait()

	d.logger.Info("Batch drained",
		zap.Int("claimed", result.Claimed),
		zap.Int("completed", result.Completed),
		zap.Int("retried", result.Retried),
		zap.Int("superseded", result.Superseded),
		zap.Int("dead_lettered", result.DeadLettered),
	)

	return result, errors.Join(settleErrs...)
}

func (d *Drainer) settle(ctx context.Context, entry domain.QueueEntry) (domain.QueueStatus, error) {
	applyErr := d.storefront.Apply(ctx, entry)
	if applyErr == nil {
		if err := d.queue.Complete(ctx, entry.ID); err != nil {
			return "", fmt.Errorf("failed to complete entry %s: %w", entry.ID, err)
		}
		return domain.StatusCompleted, nil
	}

	retryable := IsRetryable(applyErr)
	status, err := d.queue.Fail(ctx, entry.ID, applyErr.Error(), retryable)
	if err != nil {
		return "", fmt.Errorf("failed to record failure for entry %s: %w", entry.ID, err)
	}

	fields := []zap.Field{
		zap.String("entry_id", entry.ID.String()),
		zap.String("product_key", entry.ProductKey),
		zap.String("update_type", string(entry.Type)),
		zap.String("status", string(status)),
		zap.Error(applyErr),
	}
	if status == domain.StatusDeadLetter {
		d.logger.Error("Queue entry dead lettered", fields...)
	} else {
		d.logger.Warn("Storefront update failed", fields...)
	}

	return status, nil
}

// Run drains until ctx is cancelled. Entries left in flight by a crashed
// consumer are released on every idle poll.
func (d *Drainer) Run(ctx context.Context) error {
	d.releaseStale(ctx)

	for {
		result, err := d.DrainOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			d.logger.Error("Drain failed", zap.Error(err))
		}

		if result.Claimed > 0 && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d.cfg.PollInterval):
			d.releaseStale(ctx)
		}
	}
}

func (d *Drainer) releaseStale(ctx context.Context) {
	if d.cfg.StaleAfter <= 0 {
		return
	}
	released, err := d.queue.ReleaseStale(ctx, d.cfg.StaleAfter)
	if err != nil {
		d.logger.Error("Failed to release stale entries", zap.Error(err))
		return
	}
	if released > 0 {
		d.logger.Warn("Released stale in-flight entries", zap.Int("released", released))
	}
}
