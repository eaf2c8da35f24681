// Package changes classifies per-product differences between two snapshots.
package changes

import (
	"time"

	"catalog-sync/internal/domain"
)

// Detector diffs snapshots. Prices are compared after rounding to Precision
// decimal places so representation noise never shows up as a change.
type Detector struct {
	precision int32
	now       func() time.Time
}

func NewDetector(precision int32) *Detector {
	return &Detector{precision: precision, now: time.Now}
}

// Diff returns exactly one record per key present in either snapshot:
// current row order first, then removed keys in previous row order.
func (d *Detector) Diff(current, previous *domain.Snapshot) []domain.ChangeRecord {
	detectedAt := d.now()
	prevIndex := previous.Index()
	seen := make(map[string]struct{}, current.Len())

	out := make([]domain.ChangeRecord, 0, current.Len())

	if current != nil {
		for _, rec := range current.Records {
			if _, dup := seen[rec.Key]; dup {
				continue
			}
			seen[rec.Key] = struct{}{}

			newValues := &domain.Values{Price: rec.Price.Round(d.precision), Stock: rec.Stock}
			change := domain.ChangeRecord{Key: rec.Key, New: newValues, DetectedAt: detectedAt}

			i, ok := prevIndex[rec.Key]
			if !ok {
				change.Kind = domain.ChangeNew
				out = append(out, change)
				continue
			}

			old := previous.Records[i]
			change.Old = &domain.Values{Price: old.Price.Round(d.precision), Stock: old.Stock}
			change.Kind = classify(
				!change.Old.Price.Equal(change.New.Price),
				change.Old.Stock != change.New.Stock,
			)
			out = append(out, change)
		}
	}

	if previous != nil {
		for i, rec := range previous.Records {
			if _, ok := seen[rec.Key]; ok {
				continue
			}
			// Only the first occurrence of a duplicated key counts
			if prevIndex[rec.Key] != i {
				continue
			}
			out = append(out, domain.ChangeRecord{
				Key:        rec.Key,
				Kind:       domain.ChangeRemoved,
				Old:        &domain.Values{Price: rec.Price.Round(d.precision), Stock: rec.Stock},
				DetectedAt: detectedAt,
			})
		}
	}

	return out
}

func classify(priceDiffers, stockDiffers bool) domain.ChangeKind {
	switch {
	case priceDiffers && stockDiffers:
		return domain.ChangeBothChanged
	case priceDiffers:
		return domain.ChangePriceChanged
	case stockDiffers:
		return domain.ChangeStockChanged
	default:
		return domain.ChangeUnchanged
	}
}

// Summarize counts records per kind
func Summarize(records []domain.ChangeRecord) domain.ChangeSummary {
	var s domain.ChangeSummary
	for _, r := range records {
		switch r.Kind {
		case domain.ChangeNew:
			s.New++
		case domain.ChangeRemoved:
			s.Removed++
		case domain.ChangePriceChanged:
			s.PriceChanged++
		case domain.ChangeStockChanged:
			s.StockChanged++
		case domain.ChangeBothChanged:
			s.BothChanged++
		case domain.ChangeUnchanged:
			s.Unchanged++
		}
	}
	return s
}

// Filter returns the records of the given kinds, preserving order
func Filter(records []domain.ChangeRecord, kinds ...domain.ChangeKind) []domain.ChangeRecord {
	want := make(map[domain.ChangeKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []domain.ChangeRecord
	for _, r := range records {
		if want[r.Kind] {
			out = append(out, r)
		}
	}
	return out
}
