// Package validation checks a catalog snapshot before it is allowed to drive updates.
package validation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"catalog-sync/internal/domain"
)

// Violation codes
const (
	CodeMissingColumn     = "missing_column"
	CodeMalformedRow      = "malformed_row"
	CodeDuplicateKey      = "duplicate_key"
	CodeEmptySnapshot     = "empty_snapshot"
	CodeZeroPrice         = "zero_price"
	CodeMassStockZero     = "mass_stock_zero"
	CodeProductCountDelta = "product_count_delta"
)

// Options configures the validator thresholds. Percentages are 0-100.
type Options struct {
	KeyColumn        string
	PriceColumn      string
	StockColumn      string
	ZeroPriceWarning bool
	MaxZeroStockPct  float64
	MaxCountDeltaPct float64
}

// DefaultOptions returns the thresholds used when nothing is configured
func DefaultOptions() Options {
	return Options{
		KeyColumn:        "REFERENCIA",
		PriceColumn:      "PRECIO",
		StockColumn:      "STOCK",
		ZeroPriceWarning: true,
		MaxZeroStockPct:  40,
		MaxCountDeltaPct: 10,
	}
}

// maxListed caps how many offending rows or keys a single message names
const maxListed = 10

// Validator runs structural and statistical checks on snapshots
type Validator struct {
	opts Options
}

func New(opts Options) *Validator {
	return &Validator{opts: opts}
}

// Validate checks current, optionally against previous. It never fails for
// data quality problems; everything is reported as violations.
func (v *Validator) Validate(current, previous *domain.Snapshot) domain.ValidationReport {
	var report domain.ValidationReport

	if current == nil {
		report.Violations = append(report.Violations, fatal(domain.ClassStructural, CodeEmptySnapshot, "no snapshot to validate"))
		return report
	}

	missing := v.missingColumns(current)
	if len(missing) > 0 {
		report.Violations = append(report.Violations, fatal(domain.ClassStructural, CodeMissingColumn,
			fmt.Sprintf("required columns missing: %s", strings.Join(missing, ", "))))
		return report
	}

	if len(current.Malformed) > 0 {
		report.Violations = append(report.Violations, fatal(domain.ClassStructural, CodeMalformedRow,
			fmt.Sprintf("%d rows could not be parsed: %s", len(current.Malformed), describeRows(current.Malformed))))
	}

	if dups := duplicateKeys(current); len(dups) > 0 {
		report.Violations = append(report.Violations, fatal(domain.ClassStructural, CodeDuplicateKey,
			fmt.Sprintf("%d duplicate product keys: %s", len(dups), listed(dups))))
	}

	stats := domain.ValidationStats{Total: current.Len()}
	if stats.Total == 0 {
		report.Violations = append(report.Violations, fatal(domain.ClassStructural, CodeEmptySnapshot, "snapshot contains no products"))
	}

	for _, rec := range current.Records {
		if rec.Price.Sign() <= 0 {
			stats.ZeroPrice++
		}
		if rec.Stock == 0 {
			stats.ZeroStock++
		}
	}
	stats.ZeroPricePct = percent(stats.ZeroPrice, stats.Total)
	stats.ZeroStockPct = percent(stats.ZeroStock, stats.Total)

	if stats.ZeroPrice > 0 && v.opts.ZeroPriceWarning {
		report.Violations = append(report.Violations, domain.Violation{
			Severity: domain.SeverityWarning,
			Class:    domain.ClassQuality,
			Code:     CodeZeroPrice,
			Message:  fmt.Sprintf("%d products have a price of zero or less (%.1f%%)", stats.ZeroPrice, stats.ZeroPricePct),
		})
	}

	if stats.Total > 0 && stats.ZeroStockPct > v.opts.MaxZeroStockPct {
		report.Violations = append(report.Violations, fatal(domain.ClassThreshold, CodeMassStockZero,
			fmt.Sprintf("%.1f%% of products have zero stock (limit %.1f%%)", stats.ZeroStockPct, v.opts.MaxZeroStockPct)))
	}

	// First runs have nothing to compare against
	if previous.Len() > 0 {
		stats.PreviousTotal = previous.Len()
		stats.CountDelta = stats.Total - stats.PreviousTotal
		stats.CountDeltaPct = percent(stats.CountDelta, stats.PreviousTotal)

		if math.Abs(stats.CountDeltaPct) > v.opts.MaxCountDeltaPct {
			report.Violations = append(report.Violations, fatal(domain.ClassThreshold, CodeProductCountDelta,
				fmt.Sprintf("product count changed by %+.1f%% (%d -> %d, limit %.1f%%)",
					stats.CountDeltaPct, stats.PreviousTotal, stats.Total, v.opts.MaxCountDeltaPct)))
		}
	}

	report.Stats = stats
	return report
}

func (v *Validator) missingColumns(s *domain.Snapshot) []string {
	var missing []string
	for _, col := range []string{v.opts.KeyColumn, v.opts.PriceColumn, v.opts.StockColumn} {
		if !s.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	return missing
}

func duplicateKeys(s *domain.Snapshot) []string {
	seen := make(map[string]int, s.Len())
	var dups []string
	for _, rec := range s.Records {
		seen[rec.Key]++
		if seen[rec.Key] == 2 {
			dups = append(dups, rec.Key)
		}
	}
	sort.Strings(dups)
	return dups
}

func describeRows(rows []domain.RowError) string {
	parts := make([]string, 0, maxListed)
	for i, r := range rows {
		if i == maxListed {
			parts = append(parts, "...")
			break
		}
		parts = append(parts, fmt.Sprintf("line %d %s=%q (%s)", r.Line, r.Column, r.Value, r.Reason))
	}
	return strings.Join(parts, "; ")
}

func listed(keys []string) string {
	if len(keys) > maxListed {
		return strings.Join(keys[:maxListed], ", ") + ", ..."
	}
	return strings.Join(keys, ", ")
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) * 100 / float64(whole)
}

func fatal(class domain.ViolationClass, code, msg string) domain.Violation {
	return domain.Violation{Severity: domain.SeverityFatal, Class: class, Code: code, Message: msg}
}
