package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"catalog-sync/internal/domain"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

// clock is a manually advanced time source
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(maxAttempts int) (*MemoryQueue, *clock) {
	c := newClock()
	q := NewMemoryQueue(maxAttempts)
	q.now = c.Now
	return q, c
}

func priceReq(key, payload string) Request {
	return Request{ProductKey: key, ExternalID: "ext-" + key, Type: domain.UpdatePrice, Payload: payload}
}

func pendingFor(q *MemoryQueue, key string, t domain.UpdateType) []domain.QueueEntry {
	var out []domain.QueueEntry
	for _, e := range q.Entries() {
		if e.ProductKey == key && e.Type == t && e.Status == domain.StatusPending {
			out = append(out, e)
		}
	}
	return out
}

// Feature: catalog-sync, Property 10: Repeated enqueues leave one pending entry with the last payload
func TestProperty_DedupKeepsOnePendingEntry(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("exactly one pending entry holds the last payload", prop.ForAll(
		func(payloads []string) bool {
			if len(payloads) == 0 {
				return true
			}
			q, c := newTestQueue(5)
			ctx := context.Background()

			var firstEnqueuedAt time.Time
			for i, p := range payloads {
				if _, err := q.Enqueue(ctx, []Request{priceReq("A", p)}); err != nil {
					return false
				}
				if i == 0 {
					firstEnqueuedAt = c.Now()
				}
				c.Advance(time.Minute)
			}

			pending := pendingFor(q, "A", domain.UpdatePrice)
			return len(pending) == 1 &&
				pending[0].Payload == payloads[len(payloads)-1] &&
				pending[0].EnqueuedAt.Equal(firstEnqueuedAt)
		},
		gen.SliceOf(gen.NumString()),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestEnqueueCountsCreatedAndUpdated(t *testing.T) {
	q, _ := newTestQueue(5)
	ctx := context.Background()

	res, err := q.Enqueue(ctx, []Request{
		priceReq("A", "1.00"),
		priceReq("A", "2.00"),
		{ProductKey: "A", Type: domain.UpdateStock, Payload: "3"},
	})
	require.NoError(t, err)
	require.Equal(t, EnqueueResult{Created: 2, Updated: 1}, res)
	require.Len(t, q.Entries(), 2)
}

func TestEnqueueWhileInFlightCreatesNewPending(t *testing.T) {
	q, _ := newTestQueue(5)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []Request{priceReq("A", "1.00")})
	require.NoError(t, err)

	claimed, err := q.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	_, err = q.Enqueue(ctx, []Request{priceReq("A", "2.00")})
	require.NoError(t, err)

	entries := q.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, domain.StatusInFlight, entries[0].Status)
	require.Equal(t, "1.00", entries[0].Payload, "in-flight payload must not change")
	require.Equal(t, domain.StatusPending, entries[1].Status)
	require.Equal(t, "2.00", entries[1].Payload)
}

func TestClaimBatchTakesOldestFirst(t *testing.T) {
	q, c := newTestQueue(5)
	ctx := context.Background()

	for _, k := range []string{"C", "A", "B"} {
		_, err := q.Enqueue(ctx, []Request{priceReq(k, "1")})
		require.NoError(t, err)
		c.Advance(time.Second)
	}

	first, err := q.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, "C", first[0].ProductKey)
	require.Equal(t, "A", first[1].ProductKey)
	require.NotNil(t, first[0].ClaimedAt)

	rest, err := q.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, "B", rest[0].ProductKey)

	none, err := q.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	require.Empty(t, none)
}

// Feature: catalog-sync, Property 11: Concurrent claims never share an entry
func TestProperty_ConcurrentClaimsAreExclusive(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("no entry is claimed twice", prop.ForAll(
		func(entries int, consumers int, batch int) bool {
			q, _ := newTestQueue(5)
			ctx := context.Background()

			reqs := make([]Request, entries)
			for i := range reqs {
				reqs[i] = priceReq(fmt.Sprintf("K%d", i), "1")
			}
			if _, err := q.Enqueue(ctx, reqs); err != nil {
				return false
			}

			var mu sync.Mutex
			claimed := make(map[uuid.UUID]int)
			var wg sync.WaitGroup
			for c := 0; c < consumers; c++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						got, err := q.ClaimBatch(ctx, batch)
						if err != nil || len(got) == 0 {
							return
						}
						mu.Lock()
						for _, e := range got {
							claimed[e.ID]++
						}
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			if len(claimed) != entries {
				return false
			}
			for _, n := range claimed {
				if n != 1 {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 200),
		gen.IntRange(2, 8),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestFailRetriesUntilDeadLetter(t *testing.T) {
	q, _ := newTestQueue(2)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []Request{priceReq("A", "1")})
	require.NoError(t, err)

	var statuses []domain.QueueStatus
	for i := 0; i < 3; i++ {
		claimed, err := q.ClaimBatch(ctx, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		status, err := q.Fail(ctx, claimed[0].ID, "storefront returned 503", true)
		require.NoError(t, err)
		statuses = append(statuses, status)
	}

	require.Equal(t, []domain.QueueStatus{domain.StatusPending, domain.StatusPending, domain.StatusDeadLetter}, statuses)

	claimed, err := q.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, claimed, "dead letters must not be claimed")

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Equal(t, 3, dead[0].AttemptCount)
	require.Equal(t, "storefront returned 503", dead[0].LastError)
}

func TestNonRetryableFailureDeadLettersImmediately(t *testing.T) {
	q, _ := newTestQueue(5)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []Request{priceReq("A", "1")})
	require.NoError(t, err)
	claimed, err := q.ClaimBatch(ctx, 1)
	require.NoError(t, err)

	status, err := q.Fail(ctx, claimed[0].ID, "unknown product", false)
	require.NoError(t, err)
	require.Equal(t, domain.StatusDeadLetter, status)
}

func TestRetryIsSupersededByFresherPendingEntry(t *testing.T) {
	q, _ := newTestQueue(5)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []Request{priceReq("A", "1")})
	require.NoError(t, err)
	claimed, err := q.ClaimBatch(ctx, 1)
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, []Request{priceReq("A", "2")})
	require.NoError(t, err)

	status, err := q.Fail(ctx, claimed[0].ID, "timeout", true)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, status)

	pending := pendingFor(q, "A", domain.UpdatePrice)
	require.Len(t, pending, 1)
	require.Equal(t, "2", pending[0].Payload)
}

func TestClaimBatchSkipsKeysInFlight(t *testing.T) {
	q, c := newTestQueue(5)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []Request{priceReq("A", "10.00")})
	require.NoError(t, err)
	older, err := q.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, older, 1)

	c.Advance(time.Second)
	_, err = q.Enqueue(ctx, []Request{priceReq("A", "12.00"), priceReq("B", "3.00")})
	require.NoError(t, err)

	batch, err := q.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, "B", batch[0].ProductKey, "A waits for its in-flight delivery")

	require.NoError(t, q.Complete(ctx, older[0].ID))

	fresh, err := q.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	require.Equal(t, "12.00", fresh[0].Payload)
}

func TestRetryIsSupersededByLaterEntryInAnyStatus(t *testing.T) {
	q, c := newTestQueue(5)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []Request{priceReq("A", "10.00"), priceReq("B", "3.00")})
	require.NoError(t, err)
	older, err := q.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, older, 2)

	_, err = q.Enqueue(ctx, []Request{priceReq("A", "12.00"), priceReq("B", "4.00")})
	require.NoError(t, err)

	// Another consumer already delivered the later values
	q.mu.Lock()
	for key, id := range q.pending {
		e := q.entries[id]
		e.Status = domain.StatusCompleted
		delete(q.pending, key)
	}
	q.mu.Unlock()

	var a, b domain.QueueEntry
	for _, e := range older {
		if e.ProductKey == "A" {
			a = e
		} else {
			b = e
		}
	}

	status, err := q.Fail(ctx, a.ID, "timeout", true)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, status)

	c.Advance(time.Hour)
	released, err := q.ReleaseStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	require.Zero(t, released)
	require.Equal(t, 1, countStatus(q, b.ProductKey, domain.StatusFailed))

	none, err := q.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, none, "older values must not be delivered after later ones")
}

func countStatus(q *MemoryQueue, key string, status domain.QueueStatus) int {
	n := 0
	for _, e := range q.Entries() {
		if e.ProductKey == key && e.Status == status {
			n++
		}
	}
	return n
}

func TestCompleteRequiresInFlight(t *testing.T) {
	q, _ := newTestQueue(5)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []Request{priceReq("A", "1")})
	require.NoError(t, err)
	id := q.Entries()[0].ID

	require.ErrorIs(t, q.Complete(ctx, id), ErrEntryNotInFlight)
	require.ErrorIs(t, q.Complete(ctx, uuid.New()), ErrEntryNotFound)

	_, err = q.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, id))
	require.ErrorIs(t, q.Complete(ctx, id), ErrEntryNotInFlight)

	_, err = q.Fail(ctx, id, "late", true)
	require.True(t, errors.Is(err, ErrEntryNotInFlight))
}

func TestRequeueHonoursDedup(t *testing.T) {
	q, _ := newTestQueue(5)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []Request{priceReq("A", "1")})
	require.NoError(t, err)
	claimed, err := q.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	_, err = q.Fail(ctx, claimed[0].ID, "bad request", false)
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, []Request{priceReq("A", "2")})
	require.NoError(t, err)
	require.ErrorIs(t, q.Requeue(ctx, claimed[0].ID), ErrPendingExists)

	fresh, err := q.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, fresh[0].ID))

	require.NoError(t, q.Requeue(ctx, claimed[0].ID))
	require.ErrorIs(t, q.Requeue(ctx, claimed[0].ID), ErrEntryNotDeadLetter)

	pending := pendingFor(q, "A", domain.UpdatePrice)
	require.Len(t, pending, 1)
	require.Equal(t, 0, pending[0].AttemptCount)
}

func TestReleaseStale(t *testing.T) {
	q, c := newTestQueue(5)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []Request{priceReq("A", "1"), priceReq("B", "1")})
	require.NoError(t, err)
	_, err = q.ClaimBatch(ctx, 2)
	require.NoError(t, err)

	c.Advance(10 * time.Minute)
	released, err := q.ReleaseStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	require.Zero(t, released)

	_, err = q.Enqueue(ctx, []Request{priceReq("B", "2")})
	require.NoError(t, err)

	c.Advance(10 * time.Minute)
	released, err = q.ReleaseStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, released)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats[domain.UpdatePrice][domain.StatusPending])
	require.Equal(t, 1, stats[domain.UpdatePrice][domain.StatusFailed])
	require.Zero(t, stats.Count(domain.StatusInFlight))
}
