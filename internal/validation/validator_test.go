package validation

import (
	"fmt"
	"testing"

	"catalog-sync/internal/domain"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

var columns = []string{"REFERENCIA", "PRECIO", "STOCK"}

func snapshotOf(total, zeroStock int) *domain.Snapshot {
	snap := &domain.Snapshot{Columns: columns}
	for i := 0; i < total; i++ {
		stock := int64(10)
		if i < zeroStock {
			stock = 0
		}
		snap.Records = append(snap.Records, domain.ProductRecord{
			Key:   fmt.Sprintf("P%04d", i),
			Price: decimal.NewFromInt(9),
			Stock: stock,
		})
	}
	return snap
}

func hasCode(report domain.ValidationReport, code string) bool {
	for _, v := range report.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

func TestZeroStockThresholdIsStrict(t *testing.T) {
	v := New(DefaultOptions())

	tests := []struct {
		name      string
		zeroStock int
		wantFatal bool
	}{
		{"39 percent passes", 39, false},
		{"40 percent passes", 40, false},
		{"41 percent aborts", 41, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := v.Validate(snapshotOf(100, tt.zeroStock), nil)
			if got := hasCode(report, CodeMassStockZero); got != tt.wantFatal {
				t.Errorf("mass_stock_zero = %v, want %v (stats %+v)", got, tt.wantFatal, report.Stats)
			}
			if tt.wantFatal && len(report.Blocking(false)) == 0 {
				t.Error("expected the violation to block an unforced run")
			}
			if len(report.Blocking(true)) != 0 {
				t.Error("threshold violations must be waived by force")
			}
		})
	}
}

// Feature: catalog-sync, Property 6: Zero stock share above the limit is fatal
func TestProperty_ZeroStockShareAboveLimitIsFatal(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("mass_stock_zero fires exactly when the zero stock share exceeds the limit", prop.ForAll(
		func(total int, zeroStock int, limit float64) bool {
			if zeroStock > total {
				zeroStock = total
			}
			opts := DefaultOptions()
			opts.MaxZeroStockPct = limit

			report := New(opts).Validate(snapshotOf(total, zeroStock), nil)
			want := float64(zeroStock)*100/float64(total) > limit
			return hasCode(report, CodeMassStockZero) == want
		},
		gen.IntRange(1, 300),
		gen.IntRange(0, 300),
		gen.Float64Range(0, 100),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestCountDeltaAgainstPrevious(t *testing.T) {
	v := New(DefaultOptions())

	tests := []struct {
		name      string
		previous  *domain.Snapshot
		current   int
		wantFatal bool
	}{
		{"first run skips the check", nil, 50, false},
		{"empty previous skips the check", snapshotOf(0, 0), 50, false},
		{"growth within limit", snapshotOf(100, 0), 110, false},
		{"growth above limit", snapshotOf(100, 0), 111, true},
		{"shrink above limit", snapshotOf(100, 0), 89, true},
		{"shrink within limit", snapshotOf(100, 0), 90, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := v.Validate(snapshotOf(tt.current, 0), tt.previous)
			if got := hasCode(report, CodeProductCountDelta); got != tt.wantFatal {
				t.Errorf("product_count_delta = %v, want %v (stats %+v)", got, tt.wantFatal, report.Stats)
			}
		})
	}
}

func TestZeroPriceIsOnlyAWarning(t *testing.T) {
	snap := snapshotOf(10, 0)
	snap.Records[0].Price = decimal.Zero
	snap.Records[1].Price = decimal.NewFromInt(-1)

	report := New(DefaultOptions()).Validate(snap, nil)

	if report.HasFatal() {
		t.Fatalf("zero prices must never be fatal: %+v", report.Violations)
	}
	if report.Stats.ZeroPrice != 2 {
		t.Errorf("expected 2 zero price products, got %d", report.Stats.ZeroPrice)
	}
	if len(report.Warnings()) != 1 || report.Warnings()[0].Code != CodeZeroPrice {
		t.Errorf("expected one aggregated zero_price warning, got %+v", report.Warnings())
	}

	opts := DefaultOptions()
	opts.ZeroPriceWarning = false
	report = New(opts).Validate(snap, nil)
	if len(report.Warnings()) != 0 {
		t.Errorf("warning toggle off should suppress the warning, got %+v", report.Warnings())
	}
	if report.Stats.ZeroPrice != 2 {
		t.Errorf("zero price count must be kept with the toggle off, got %d", report.Stats.ZeroPrice)
	}
}

func TestStructuralViolationsAreNeverWaived(t *testing.T) {
	tests := []struct {
		name string
		snap *domain.Snapshot
		code string
	}{
		{
			name: "missing stock column",
			snap: &domain.Snapshot{Columns: []string{"REFERENCIA", "PRECIO"}},
			code: CodeMissingColumn,
		},
		{
			name: "duplicate key",
			snap: func() *domain.Snapshot {
				s := snapshotOf(3, 0)
				s.Records[2].Key = s.Records[0].Key
				return s
			}(),
			code: CodeDuplicateKey,
		},
		{
			name: "unparseable row",
			snap: func() *domain.Snapshot {
				s := snapshotOf(3, 0)
				s.Malformed = []domain.RowError{{Line: 4, Column: "PRECIO", Value: "abc", Reason: "invalid price"}}
				return s
			}(),
			code: CodeMalformedRow,
		},
		{
			name: "no products",
			snap: snapshotOf(0, 0),
			code: CodeEmptySnapshot,
		},
	}

	v := New(DefaultOptions())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := v.Validate(tt.snap, nil)
			if !hasCode(report, tt.code) {
				t.Fatalf("expected %s, got %+v", tt.code, report.Violations)
			}
			if len(report.Blocking(true)) == 0 {
				t.Error("structural violations must block even forced runs")
			}
		})
	}
}

// Feature: catalog-sync, Property 7: Validation does not mutate its inputs
func TestProperty_ValidateDoesNotMutateInputs(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("records are unchanged after validation", prop.ForAll(
		func(total, zeroStock int) bool {
			current := snapshotOf(total, zeroStock)
			previous := snapshotOf(total/2, 0)
			before := fmt.Sprintf("%v|%v", current.Records, previous.Records)

			New(DefaultOptions()).Validate(current, previous)

			return fmt.Sprintf("%v|%v", current.Records, previous.Records) == before
		},
		gen.IntRange(0, 50),
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
