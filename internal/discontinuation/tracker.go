// Package discontinuation detects products that stay absent from the catalog
// across consecutive daily snapshots.
package discontinuation

import (
	"sort"
	"time"

	"catalog-sync/internal/domain"
)

// Tracker applies snapshot windows to the persisted ledger
type Tracker struct {
	threshold         int
	descriptionColumn string
}

// NewTracker creates a tracker reporting keys once they are absent from
// threshold consecutive snapshots
func NewTracker(threshold int, descriptionColumn string) *Tracker {
	if threshold < 1 {
		threshold = 1
	}
	return &Tracker{threshold: threshold, descriptionColumn: descriptionColumn}
}

type sighting struct {
	record domain.ProductRecord
	at     time.Time
}

// Update applies the window snapshots captured at or after the ledger
// watermark, oldest first, and returns the new ledger with the keys that
// crossed the threshold during this call. Any such snapshot resets the keys it
// lists; only the first snapshot of a day counts absences. The input ledger is
// not modified.
func (t *Tracker) Update(window []*domain.Snapshot, ledger domain.DiscontinuationLedger) (domain.DiscontinuationLedger, []string) {
	next := ledger.Clone()

	ordered := make([]*domain.Snapshot, 0, len(window))
	for _, s := range window {
		if s != nil {
			ordered = append(ordered, s)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CapturedAt.Before(ordered[j].CapturedAt)
	})

	// A key is known once it is tracked or has been seen; it cannot be absent before that
	known := make(map[string]struct{}, len(next.States))
	for key := range next.States {
		known[key] = struct{}{}
	}
	seen := make(map[string]sighting)

	var newly []string
	for _, snap := range ordered {
		present := make(map[string]struct{}, snap.Len())
		for _, rec := range snap.Records {
			present[rec.Key] = struct{}{}
			known[rec.Key] = struct{}{}
			seen[rec.Key] = sighting{record: rec, at: snap.CapturedAt}
		}

		if snap.CapturedAt.Before(next.Watermark) {
			continue
		}
		for key := range present {
			delete(next.States, key)
		}
		// Absences count once per day; a later capture on a counted day only resets
		if !counts(snap, next.Watermark) {
			next.Watermark = snap.CapturedAt
			continue
		}

		for key := range known {
			if _, ok := present[key]; ok {
				continue
			}

			state, tracked := next.States[key]
			if !tracked {
				state = t.seed(key, seen[key])
			}
			state.ConsecutiveAbsences++
			if state.ConsecutiveAbsences >= t.threshold && !state.Reported {
				state.Reported = true
				newly = append(newly, key)
			}
			next.States[key] = state
		}

		next.Watermark = snap.CapturedAt
	}

	sort.Strings(newly)
	return next, newly
}

// counts reports whether snap falls on a later day than the watermark
func counts(snap *domain.Snapshot, watermark time.Time) bool {
	if watermark.IsZero() {
		return true
	}
	return snap.Day() > domain.DayKey(watermark)
}

func (t *Tracker) seed(key string, last sighting) domain.DiscontinuationState {
	return domain.DiscontinuationState{
		Key:            key,
		LastKnownPrice: last.record.Price,
		LastKnownStock: last.record.Stock,
		LastSeenAt:     last.at,
		Description:    last.record.Attribute(t.descriptionColumn),
	}
}

// Tracked returns the ledger states sorted by key, longest absences first
func Tracked(ledger domain.DiscontinuationLedger) []domain.DiscontinuationState {
	out := make([]domain.DiscontinuationState, 0, len(ledger.States))
	for _, s := range ledger.States {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConsecutiveAbsences != out[j].ConsecutiveAbsences {
			return out[i].ConsecutiveAbsences > out[j].ConsecutiveAbsences
		}
		return out[i].Key < out[j].Key
	})
	return out
}
