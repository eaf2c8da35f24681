package orchestrator

import (
	"fmt"

	"catalog-sync/internal/domain"
)

// Mode selects between a normal diff-driven run and a forced full enqueue
type Mode string

const (
	ModeNormal Mode = ""
	ModeAll    Mode = "all"
	ModePrices Mode = "prices"
	ModeStock  Mode = "stock"
)

// ParseMode accepts the values of the --force flag
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNormal, ModeAll, ModePrices, ModeStock:
		return Mode(s), nil
	default:
		return ModeNormal, fmt.Errorf("unknown force mode %q (want all, prices or stock)", s)
	}
}

// Forced reports whether change detection is bypassed
func (m Mode) Forced() bool { return m != ModeNormal }

func (m Mode) String() string {
	if m == ModeNormal {
		return "normal"
	}
	return string(m)
}

// Types returns the update types a full enqueue produces in this mode
func (m Mode) Types() []domain.UpdateType {
	switch m {
	case ModePrices:
		return []domain.UpdateType{domain.UpdatePrice}
	case ModeStock:
		return []domain.UpdateType{domain.UpdateStock}
	default:
		return []domain.UpdateType{domain.UpdatePrice, domain.UpdateStock}
	}
}
