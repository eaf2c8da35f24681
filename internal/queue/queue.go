// Package queue stages storefront updates and drains them downstream.
package queue

import (
	"context"
	"errors"
	"time"

	"catalog-sync/internal/domain"

	"github.com/google/uuid"
)

var (
	ErrEntryNotFound      = errors.New("queue entry not found")
	ErrEntryNotInFlight   = errors.New("queue entry is not in flight")
	ErrEntryNotDeadLetter = errors.New("queue entry is not dead lettered")
	ErrPendingExists      = errors.New("a pending entry already exists for this product and update type")
)

// DefaultMaxAttempts is the retry budget when none is configured
const DefaultMaxAttempts = 5

// Request asks for an update to be staged
type Request struct {
	ProductKey string
	ExternalID string
	Type       domain.UpdateType
	Payload    string
}

// EnqueueResult counts what an enqueue batch did
type EnqueueResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// Total returns the number of requests applied
func (r EnqueueResult) Total() int { return r.Created + r.Updated }

// Add accumulates another result
func (r EnqueueResult) Add(o EnqueueResult) EnqueueResult {
	return EnqueueResult{Created: r.Created + o.Created, Updated: r.Updated + o.Updated}
}

// UpdateQueue is a deduplicated queue with at most one pending entry per
// (product key, update type). Implementations must make Enqueue batches
// atomic and ClaimBatch safe against concurrent consumers.
type UpdateQueue interface {
	// Enqueue stages all requests or none. A request for a key that already
	// has a pending entry overwrites its payload and keeps its enqueue time.
	Enqueue(ctx context.Context, reqs []Request) (EnqueueResult, error)
	// ClaimBatch moves up to max of the oldest pending entries to in flight,
	// skipping keys that already have an entry in flight
	ClaimBatch(ctx context.Context, max int) ([]domain.QueueEntry, error)
	Complete(ctx context.Context, id uuid.UUID) error
	// Fail records a failed attempt and returns the entry's resulting status.
	// A retryable failure ends as failed when a later entry exists for the key.
	Fail(ctx context.Context, id uuid.UUID, cause string, retryable bool) (domain.QueueStatus, error)
	// Requeue gives a dead letter a fresh retry budget
	Requeue(ctx context.Context, id uuid.UUID) error
	// ReleaseStale returns entries claimed longer than olderThan ago to pending
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error)
	Stats(ctx context.Context) (domain.QueueStats, error)
	DeadLetters(ctx context.Context, limit int) ([]domain.QueueEntry, error)
}
