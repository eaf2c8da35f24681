package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscontinuationState tracks how long a product has been missing from the catalog
type DiscontinuationState struct {
	Key                 string          `json:"key" db:"product_key"`
	ConsecutiveAbsences int             `json:"consecutive_absences" db:"consecutive_absences"`
	LastKnownPrice      decimal.Decimal `json:"last_known_price" db:"last_known_price"`
	LastKnownStock      int64           `json:"last_known_stock" db:"last_known_stock"`
	LastSeenAt          time.Time       `json:"last_seen_at" db:"last_seen_at"`
	Description         string          `json:"description" db:"description"`
	Reported            bool            `json:"reported" db:"reported"`
}

// DiscontinuationLedger is the persisted tracker state.
// Watermark is the capture time of the last snapshot applied.
type DiscontinuationLedger struct {
	Watermark time.Time
	States    map[string]DiscontinuationState
}

// Clone returns a deep copy so callers can mutate without touching the original
func (l DiscontinuationLedger) Clone() DiscontinuationLedger {
	states := make(map[string]DiscontinuationState, len(l.States))
	for k, v := range l.States {
		states[k] = v
	}
	return DiscontinuationLedger{Watermark: l.Watermark, States: states}
}
