package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChangeKind classifies how a product differs between two snapshots
type ChangeKind string

const (
	ChangeNew          ChangeKind = "new"
	ChangeRemoved      ChangeKind = "removed"
	ChangePriceChanged ChangeKind = "price_changed"
	ChangeStockChanged ChangeKind = "stock_changed"
	ChangeBothChanged  ChangeKind = "both_changed"
	ChangeUnchanged    ChangeKind = "unchanged"
)

// Values is the price/stock pair compared by the change detector
type Values struct {
	Price decimal.Decimal `json:"price"`
	Stock int64           `json:"stock"`
}

// ChangeRecord is the classification of a single product key.
// Old is nil for new products and New is nil for removed ones.
type ChangeRecord struct {
	Key        string     `json:"key"`
	Kind       ChangeKind `json:"kind"`
	Old        *Values    `json:"old,omitempty"`
	New        *Values    `json:"new,omitempty"`
	DetectedAt time.Time  `json:"detected_at"`
}

// PriceChanged reports whether the record carries a price update
func (c ChangeRecord) PriceChanged() bool {
	return c.Kind == ChangePriceChanged || c.Kind == ChangeBothChanged
}

// StockChanged reports whether the record carries a stock update
func (c ChangeRecord) StockChanged() bool {
	return c.Kind == ChangeStockChanged || c.Kind == ChangeBothChanged
}

// ChangeSummary counts change records per kind
type ChangeSummary struct {
	New          int `json:"new"`
	Removed      int `json:"removed"`
	PriceChanged int `json:"price_changed"`
	StockChanged int `json:"stock_changed"`
	BothChanged  int `json:"both_changed"`
	Unchanged    int `json:"unchanged"`
}

// Prices returns the number of records with a price difference
func (s ChangeSummary) Prices() int { return s.PriceChanged + s.BothChanged }

// Stocks returns the number of records with a stock difference
func (s ChangeSummary) Stocks() int { return s.StockChanged + s.BothChanged }
