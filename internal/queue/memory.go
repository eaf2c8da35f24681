package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"catalog-sync/internal/domain"

	"github.com/google/uuid"
)

type memoryEntry struct {
	domain.QueueEntry
	seq uint64
}

// MemoryQueue is an in-process UpdateQueue guarded by a single mutex
type MemoryQueue struct {
	mu          sync.Mutex
	entries     map[uuid.UUID]*memoryEntry
	pending     map[domain.DedupKey]uuid.UUID
	seq         uint64
	maxAttempts int
	now         func() time.Time
}

// NewMemoryQueue creates an empty in-memory queue
func NewMemoryQueue(maxAttempts int) *MemoryQueue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &MemoryQueue{
		entries:     make(map[uuid.UUID]*memoryEntry),
		pending:     make(map[domain.DedupKey]uuid.UUID),
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, reqs []Request) (EnqueueResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var res EnqueueResult
	now := q.now()
	for _, req := range reqs {
		key := domain.DedupKey{ProductKey: req.ProductKey, Type: req.Type}

		if id, ok := q.pending[key]; ok {
			e := q.entries[id]
			e.Payload = req.Payload
			e.ExternalID = req.ExternalID
			res.Updated++
			continue
		}

		q.seq++
		e := &memoryEntry{
			QueueEntry: domain.QueueEntry{
				ID:         uuid.New(),
				ProductKey: req.ProductKey,
				ExternalID: req.ExternalID,
				Type:       req.Type,
				Payload:    req.Payload,
				Status:     domain.StatusPending,
				EnqueuedAt: now,
			},
			seq: q.seq,
		}
		q.entries[e.ID] = e
		q.pending[key] = e.ID
		res.Created++
	}

	return res, nil
}

func (q *MemoryQueue) ClaimBatch(ctx context.Context, max int) ([]domain.QueueEntry, error) {
	if max <= 0 {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	// A key with a delivery in flight waits until that delivery resolves
	busy := make(map[domain.DedupKey]struct{})
	for _, e := range q.entries {
		if e.Status == domain.StatusInFlight {
			busy[e.Key()] = struct{}{}
		}
	}

	candidates := make([]*memoryEntry, 0, len(q.pending))
	for key, id := range q.pending {
		if _, ok := busy[key]; ok {
			continue
		}
		candidates = append(candidates, q.entries[id])
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		return a.seq < b.seq
	})
	if len(candidates) > max {
		candidates = candidates[:max]
	}

	now := q.now()
	claimed := make([]domain.QueueEntry, 0, len(candidates))
	for _, e := range candidates {
		e.Status = domain.StatusInFlight
		e.ClaimedAt = &now
		delete(q.pending, e.Key())
		claimed = append(claimed, e.QueueEntry)
	}

	return claimed, nil
}

func (q *MemoryQueue) Complete(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.inFlight(id)
	if err != nil {
		return err
	}

	now := q.now()
	e.Status = domain.StatusCompleted
	e.FinishedAt = &now
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, id uuid.UUID, cause string, retryable bool) (domain.QueueStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.inFlight(id)
	if err != nil {
		return "", err
	}

	now := q.now()
	e.AttemptCount++
	e.LastError = cause
	e.ClaimedAt = nil

	switch {
	case !retryable || e.AttemptCount > q.maxAttempts:
		e.Status = domain.StatusDeadLetter
		e.FinishedAt = &now
	case q.superseded(e):
		// A fresher value was staged while this one was in flight
		e.Status = domain.StatusFailed
		e.FinishedAt = &now
	default:
		e.Status = domain.StatusPending
		q.pending[e.Key()] = e.ID
	}

	return e.Status, nil
}

func (q *MemoryQueue) Requeue(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	if e.Status != domain.StatusDeadLetter {
		return ErrEntryNotDeadLetter
	}
	if q.hasPending(e.Key()) {
		return ErrPendingExists
	}

	q.seq++
	e.seq = q.seq
	e.Status = domain.StatusPending
	e.AttemptCount = 0
	e.EnqueuedAt = q.now()
	e.ClaimedAt = nil
	e.FinishedAt = nil
	q.pending[e.Key()] = e.ID
	return nil
}

func (q *MemoryQueue) ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	cutoff := now.Add(-olderThan)
	released := 0
	for _, e := range q.entries {
		if e.Status != domain.StatusInFlight || e.ClaimedAt == nil || !e.ClaimedAt.Before(cutoff) {
			continue
		}
		e.ClaimedAt = nil
		if q.superseded(e) {
			e.Status = domain.StatusFailed
			e.LastError = "abandoned while in flight"
			e.FinishedAt = &now
			continue
		}
		e.Status = domain.StatusPending
		q.pending[e.Key()] = e.ID
		released++
	}
	return released, nil
}

func (q *MemoryQueue) Stats(ctx context.Context) (domain.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := make(domain.QueueStats)
	for _, e := range q.entries {
		if stats[e.Type] == nil {
			stats[e.Type] = make(map[domain.QueueStatus]int)
		}
		stats[e.Type][e.Status]++
	}
	return stats, nil
}

func (q *MemoryQueue) DeadLetters(ctx context.Context, limit int) ([]domain.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []domain.QueueEntry
	for _, e := range q.entries {
		if e.Status == domain.StatusDeadLetter {
			out = append(out, e.QueueEntry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FinishedAt.After(*out[j].FinishedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Entries returns a copy of every entry, oldest first
func (q *MemoryQueue) Entries() []domain.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	all := make([]*memoryEntry, 0, len(q.entries))
	for _, e := range q.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	out := make([]domain.QueueEntry, len(all))
	for i, e := range all {
		out[i] = e.QueueEntry
	}
	return out
}

func (q *MemoryQueue) inFlight(id uuid.UUID) (*memoryEntry, error) {
	e, ok := q.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	if e.Status != domain.StatusInFlight {
		return nil, ErrEntryNotInFlight
	}
	return e, nil
}

// superseded reports whether a later entry exists for the same key in any status
func (q *MemoryQueue) superseded(e *memoryEntry) bool {
	if q.hasPending(e.Key()) {
		return true
	}
	for _, other := range q.entries {
		if other.seq > e.seq && other.Key() == e.Key() {
			return true
		}
	}
	return false
}

func (q *MemoryQueue) hasPending(key domain.DedupKey) bool {
	_, ok := q.pending[key]
	return ok
}
