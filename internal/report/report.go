// Package report renders run results and delivers them to operators.
package report

import (
	"time"

	"catalog-sync/internal/domain"
	"catalog-sync/internal/queue"

	"github.com/google/uuid"
)

// Outcome is the terminal state of a run
type Outcome string

const (
	OutcomeDone    Outcome = "done"
	OutcomeAborted Outcome = "aborted"
)

// StageTiming records how long one stage took
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// RunReport is the structured result of one sync run
type RunReport struct {
	RunID       uuid.UUID `json:"run_id"`
	Mode        string    `json:"mode"`
	Outcome     Outcome   `json:"outcome"`
	FailedStage string    `json:"failed_stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`

	SnapshotID     string `json:"snapshot_id,omitempty"`
	PreviousID     string `json:"previous_id,omitempty"`
	ReusedSnapshot bool   `json:"reused_snapshot"`
	FirstRun       bool   `json:"first_run"`

	Validation domain.ValidationReport `json:"validation"`
	Changes    domain.ChangeSummary    `json:"changes"`
	Staged     queue.StageResult       `json:"staged"`

	Discontinued []domain.DiscontinuationState `json:"discontinued,omitempty"`
	Tracked      int                           `json:"tracked_absences"`

	Queue       domain.QueueStats   `json:"queue,omitempty"`
	DeadLetters []domain.QueueEntry `json:"dead_letters,omitempty"`

	Stages []StageTiming `json:"stages"`
}

// Succeeded reports whether the run reached Done
func (r *RunReport) Succeeded() bool { return r.Outcome == OutcomeDone }

// Duration returns the wall time of the run
func (r *RunReport) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// PricePct returns price changes as a share of the current catalog
func (r *RunReport) PricePct() float64 {
	return pct(r.Changes.Prices(), r.Validation.Stats.Total)
}

// StockPct returns stock changes as a share of the current catalog
func (r *RunReport) StockPct() float64 {
	return pct(r.Changes.Stocks(), r.Validation.Stats.Total)
}

func pct(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) * 100 / float64(whole)
}
