package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UpdateType is the kind of downstream update a queue entry carries
type UpdateType string

const (
	UpdatePrice UpdateType = "price"
	UpdateStock UpdateType = "stock"
)

// QueueStatus is the lifecycle state of a queue entry
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusInFlight   QueueStatus = "in_flight"
	StatusCompleted  QueueStatus = "completed"
	StatusFailed     QueueStatus = "failed"
	StatusDeadLetter QueueStatus = "dead_letter"
)

// DedupKey identifies the pending slot an entry occupies
type DedupKey struct {
	ProductKey string
	Type       UpdateType
}

// QueueEntry represents a staged storefront update
type QueueEntry struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	ProductKey   string      `json:"product_key" db:"product_key"`
	ExternalID   string      `json:"external_id" db:"external_id"`
	Type         UpdateType  `json:"update_type" db:"update_type"`
	Payload      string      `json:"payload" db:"payload"`
	Status       QueueStatus `json:"status" db:"status"`
	AttemptCount int         `json:"attempt_count" db:"attempt_count"`
	LastError    string      `json:"last_error,omitempty" db:"last_error"`
	EnqueuedAt   time.Time   `json:"enqueued_at" db:"enqueued_at"`
	ClaimedAt    *time.Time  `json:"claimed_at,omitempty" db:"claimed_at"`
	FinishedAt   *time.Time  `json:"finished_at,omitempty" db:"finished_at"`
}

// Key returns the entry's dedup key
func (e QueueEntry) Key() DedupKey {
	return DedupKey{ProductKey: e.ProductKey, Type: e.Type}
}

// PricePayload renders a price as a queue payload at the given precision
func PricePayload(price decimal.Decimal, precision int32) string {
	return price.StringFixed(precision)
}

// StockPayload renders a stock level as a queue payload
func StockPayload(stock int64) string {
	return strconv.FormatInt(stock, 10)
}

// QueueStats counts entries per update type and status
type QueueStats map[UpdateType]map[QueueStatus]int

// Count returns the number of entries in the given status across all types
func (s QueueStats) Count(status QueueStatus) int {
	total := 0
	for _, byStatus := range s {
		total += byStatus[status]
	}
	return total
}
