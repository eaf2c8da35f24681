// Package catalog turns vendor feeds into domain snapshots.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"catalog-sync/internal/domain"

	"github.com/shopspring/decimal"
)

// Layout names the columns that carry the fields the sync engine needs
type Layout struct {
	KeyColumn         string
	PriceColumn       string
	StockColumn       string
	DescriptionColumn string
}

// Required returns the columns a snapshot must carry
func (l Layout) Required() []string {
	return []string{l.KeyColumn, l.PriceColumn, l.StockColumn}
}

// StructuralError reports input that could not be read as a table at all
type StructuralError struct {
	Source string
	Err    error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("unreadable %s input: %v", e.Source, e.Err)
}

func (e *StructuralError) Unwrap() error { return e.Err }

// IsStructural reports whether err is (or wraps) a StructuralError
func IsStructural(err error) bool {
	var se *StructuralError
	return errors.As(err, &se)
}

// ParseCSV reads a CSV catalog. Rows whose price or stock cannot be parsed
// are kept in Snapshot.Malformed instead of failing the whole read.
func ParseCSV(r io.Reader, layout Layout, id string, capturedAt time.Time) (*domain.Snapshot, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &StructuralError{Source: "csv", Err: errors.New("missing header row")}
	}
	if err != nil {
		return nil, &StructuralError{Source: "csv", Err: err}
	}

	var rows [][]string
	var lines []int
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &StructuralError{Source: "csv", Err: err}
		}
		line, _ := reader.FieldPos(0)
		rows = append(rows, row)
		lines = append(lines, line)
	}

	return build(header, rows, lines, layout, id, capturedAt), nil
}

// WriteCSV serializes a snapshot using its original column order
func WriteCSV(w io.Writer, snap *domain.Snapshot) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(snap.Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	row := make([]string, len(snap.Columns))
	for _, rec := range snap.Records {
		for i, col := range snap.Columns {
			row[i] = rec.Attribute(col)
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write record %s: %w", rec.Key, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// build turns raw rows into a snapshot. lines holds the source line of each
// row; when nil the row position is used.
func build(header []string, rows [][]string, lines []int, layout Layout, id string, capturedAt time.Time) *domain.Snapshot {
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
	}

	snap := &domain.Snapshot{
		ID:         id,
		CapturedAt: capturedAt,
		Columns:    columns,
	}

	// The validator reports missing columns; there is nothing to parse without them
	for _, col := range layout.Required() {
		if !snap.HasColumn(col) {
			return snap
		}
	}

	for i, row := range rows {
		line := i + 2
		if lines != nil {
			line = lines[i]
		}
		if isBlank(row) {
			continue
		}

		attrs := make(map[string]string, len(columns))
		for j, col := range columns {
			if j < len(row) {
				attrs[col] = strings.TrimSpace(row[j])
			} else {
				attrs[col] = ""
			}
		}

		key := attrs[layout.KeyColumn]
		if key == "" {
			snap.Malformed = append(snap.Malformed, domain.RowError{
				Line: line, Column: layout.KeyColumn, Reason: "empty product key",
			})
			continue
		}

		price, err := parsePrice(attrs[layout.PriceColumn])
		if err != nil {
			snap.Malformed = append(snap.Malformed, domain.RowError{
				Line: line, Column: layout.PriceColumn, Value: attrs[layout.PriceColumn], Reason: err.Error(),
			})
			continue
		}

		stock, err := parseStock(attrs[layout.StockColumn])
		if err != nil {
			snap.Malformed = append(snap.Malformed, domain.RowError{
				Line: line, Column: layout.StockColumn, Value: attrs[layout.StockColumn], Reason: err.Error(),
			})
			continue
		}

		snap.Records = append(snap.Records, domain.ProductRecord{
			Key:        key,
			Price:      price,
			Stock:      stock,
			Attributes: attrs,
			Line:       line,
		})
	}

	return snap
}

func parsePrice(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, errors.New("empty price")
	}
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", ".")
	}
	price, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price: %w", err)
	}
	return price, nil
}

func parseStock(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	stock, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid stock: %w", err)
	}
	if stock < 0 {
		return 0, errors.New("negative stock")
	}
	return stock, nil
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
