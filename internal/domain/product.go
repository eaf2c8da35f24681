package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductRecord represents one row of a vendor catalog snapshot
type ProductRecord struct {
	Key        string            `json:"key"`
	Price      decimal.Decimal   `json:"price"`
	Stock      int64             `json:"stock"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Line       int               `json:"line"`
}

// Attribute returns a raw column value, or "" when the column is absent
func (p ProductRecord) Attribute(column string) string {
	if p.Attributes == nil {
		return ""
	}
	return p.Attributes[column]
}

// RowError describes a row that could not be turned into a ProductRecord
type RowError struct {
	Line   int    `json:"line"`
	Column string `json:"column"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// Snapshot is a captured catalog. It is never mutated after it has been built.
type Snapshot struct {
	ID         string          `json:"id"`
	CapturedAt time.Time       `json:"captured_at"`
	Columns    []string        `json:"columns"`
	Records    []ProductRecord `json:"records"`
	Malformed  []RowError      `json:"malformed,omitempty"`
}

// Len returns the number of parsed records
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// HasColumn reports whether the snapshot header carries the given column
func (s *Snapshot) HasColumn(column string) bool {
	for _, c := range s.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Index maps product keys to their first position in Records
func (s *Snapshot) Index() map[string]int {
	idx := make(map[string]int, s.Len())
	if s == nil {
		return idx
	}
	for i, r := range s.Records {
		if _, ok := idx[r.Key]; !ok {
			idx[r.Key] = i
		}
	}
	return idx
}

// Day returns the calendar bucket the snapshot belongs to (YYYYMMDD)
func (s *Snapshot) Day() string {
	return DayKey(s.CapturedAt)
}

// DayKey formats t as the date bucket used for snapshot directories
func DayKey(t time.Time) string {
	return t.Format("20060102")
}
