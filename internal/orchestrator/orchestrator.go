// Package orchestrator drives one catalog sync run through its stages:
// acquire, validate, detect or force-enqueue, track discontinuation, report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalog-sync/internal/changes"
	"catalog-sync/internal/discontinuation"
	"catalog-sync/internal/domain"
	"catalog-sync/internal/queue"
	"catalog-sync/internal/report"
	"catalog-sync/internal/snapshot"
	"catalog-sync/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stage names
const (
	StageAcquire           = "acquire_snapshot"
	StageValidate          = "validate"
	StageDetectChanges     = "detect_changes"
	StageForcedFullEnqueue = "forced_full_enqueue"
	StageTrack             = "track_discontinuation"
	StageReport            = "report"
)

var ErrValidationFailed = errors.New("snapshot failed validation")

// SnapshotStore archives captures and serves the baselines a run compares against
type SnapshotStore interface {
	Today(ctx context.Context) (*domain.Snapshot, error)
	Previous(ctx context.Context) (*domain.Snapshot, error)
	Window(ctx context.Context, days int, before time.Time) ([]*domain.Snapshot, error)
	Archive(ctx context.Context, snap *domain.Snapshot) error
	MarkSuccessful(ctx context.Context, snap *domain.Snapshot) error
	Cleanup(ctx context.Context, retentionDays int) (int, error)
}

// Downloader captures a fresh snapshot from the vendor
type Downloader interface {
	Fetch(ctx context.Context) (*domain.Snapshot, error)
}

// LedgerRepository loads and atomically replaces the discontinuation ledger
type LedgerRepository interface {
	Load(ctx context.Context) (domain.DiscontinuationLedger, error)
	Save(ctx context.Context, ledger domain.DiscontinuationLedger) error
}

// RunRecorder keeps the run history
type RunRecorder interface {
	Record(ctx context.Context, r *report.RunReport) error
}

// StageError carries the stage a run aborted in
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Config holds the thresholds and sizes a run needs
type Config struct {
	Validation            validation.Options
	PricePrecision        int32
	DiscontinuedWindow    int
	DiscontinuedThreshold int
	DescriptionColumn     string
	RetentionDays         int
	DeadLetterLimit       int
}

// Deps are the collaborators a run talks to. Runs may be nil.
type Deps struct {
	Store      SnapshotStore
	Downloader Downloader
	Queue      queue.UpdateQueue
	Directory  queue.Directory
	Ledger     LedgerRepository
	Runs       RunRecorder
	Notifier   report.Notifier
}

type Orchestrator struct {
	deps      Deps
	cfg       Config
	validator *validation.Validator
	detector  *changes.Detector
	tracker   *discontinuation.Tracker
	stager    *queue.Stager
	logger    *zap.Logger
	now       func() time.Time
}

func New(deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.DiscontinuedWindow < 1 {
		cfg.DiscontinuedWindow = 1
	}
	if cfg.DeadLetterLimit <= 0 {
		cfg.DeadLetterLimit = 50
	}
	return &Orchestrator{
		deps:      deps,
		cfg:       cfg,
		validator: validation.New(cfg.Validation),
		detector:  changes.NewDetector(cfg.PricePrecision),
		tracker:   discontinuation.NewTracker(cfg.DiscontinuedThreshold, cfg.DescriptionColumn),
		stager:    queue.NewStager(deps.Queue, deps.Directory, cfg.PricePrecision),
		logger:    logger,
		now:       time.Now,
	}
}

// run carries state between stages
type run struct {
	mode     Mode
	report   *report.RunReport
	current  *domain.Snapshot
	previous *domain.Snapshot
}

// Run executes one sync. The returned report is always populated; the error
// is a *StageError when the run aborted.
func (o *Orchestrator) Run(ctx context.Context, mode Mode) (*report.RunReport, error) {
	r := &run{
		mode: mode,
		report: &report.RunReport{
			RunID:     uuid.New(),
			Mode:      mode.String(),
			StartedAt: o.now(),
		},
	}

	log := o.logger.With(zap.String("run_id", r.report.RunID.String()), zap.String("mode", mode.String()))
	log.Info("Starting catalog sync")

	err := o.execute(ctx, r, log)

	r.report.FinishedAt = o.now()
	if err != nil {
		r.report.Outcome = report.OutcomeAborted
		r.report.Error = err.Error()
		var stageErr *StageError
		if errors.As(err, &stageErr) {
			r.report.FailedStage = stageErr.Stage
		}
		log.Error("Catalog sync aborted", zap.String("stage", r.report.FailedStage), zap.Error(err))
	} else {
		r.report.Outcome = report.OutcomeDone
		log.Info("Catalog sync done",
			zap.Int("enqueued", r.report.Staged.Enqueued.Total()),
			zap.Int("discontinued", len(r.report.Discontinued)),
			zap.Duration("duration", r.report.Duration()))
	}

	o.finish(ctx, r.report, log)
	return r.report, err
}

func (o *Orchestrator) execute(ctx context.Context, r *run, log *zap.Logger) error {
	if err := o.stage(r, log, StageAcquire, func() error { return o.acquire(ctx, r) }); err != nil {
		return err
	}
	if err := o.stage(r, log, StageValidate, func() error { return o.validate(ctx, r, log) }); err != nil {
		return err
	}

	name := StageDetectChanges
	if r.mode.Forced() {
		name = StageForcedFullEnqueue
	}
	if err := o.stage(r, log, name, func() error { return o.stageUpdates(ctx, r) }); err != nil {
		return err
	}

	if err := o.stage(r, log, StageTrack, func() error { return o.track(ctx, r) }); err != nil {
		return err
	}
	return o.stage(r, log, StageReport, func() error { return o.collect(ctx, r, log) })
}

func (o *Orchestrator) stage(r *run, log *zap.Logger, name string, fn func() error) error {
	start := o.now()
	err := fn()
	elapsed := o.now().Sub(start)
	r.report.Stages = append(r.report.Stages, report.StageTiming{Stage: name, Duration: elapsed})

	if err != nil {
		return &StageError{Stage: name, Err: err}
	}
	log.Debug("Stage completed", zap.String("stage", name), zap.Duration("duration", elapsed))
	return nil
}

func (o *Orchestrator) acquire(ctx context.Context, r *run) error {
	if !r.mode.Forced() {
		snap, err := o.deps.Store.Today(ctx)
		switch {
		case err == nil:
			r.current = snap
			r.report.ReusedSnapshot = true
		case !errors.Is(err, snapshot.ErrNoSnapshot):
			return fmt.Errorf("failed to look up today's snapshot: %w", err)
		}
	}

	if r.current == nil {
		snap, err := o.deps.Downloader.Fetch(ctx)
		if err != nil {
			return fmt.Errorf("failed to download catalog: %w", err)
		}
		r.current = snap
	}
	r.report.SnapshotID = r.current.ID

	previous, err := o.deps.Store.Previous(ctx)
	switch {
	case err == nil:
		r.previous = previous
		r.report.PreviousID = previous.ID
	case errors.Is(err, snapshot.ErrNoSnapshot):
		r.report.FirstRun = true
	default:
		return fmt.Errorf("failed to load previous snapshot: %w", err)
	}
	return nil
}

func (o *Orchestrator) validate(ctx context.Context, r *run, log *zap.Logger) error {
	result := o.validator.Validate(r.current, r.previous)
	r.report.Validation = result

	for _, w := range result.Warnings() {
		log.Warn("Validation warning", zap.String("code", w.Code), zap.String("message", w.Message))
	}

	blocking := result.Blocking(r.mode.Forced())
	if len(blocking) == 0 {
		if result.HasFatal() {
			log.Warn("Threshold violations waived by forced mode")
		}
		return nil
	}

	msgs := make([]string, len(blocking))
	for i, v := range blocking {
		msgs[i] = v.Message
	}
	return fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(msgs, "; "))
}

// stageUpdates decides which keys need which updates and hands them to enqueueFor
func (o *Orchestrator) stageUpdates(ctx context.Context, r *run) error {
	if r.mode.Forced() || r.previous == nil {
		keys := make([]string, 0, r.current.Len())
		for _, rec := range r.current.Records {
			keys = append(keys, rec.Key)
		}
		if !r.mode.Forced() {
			r.report.Changes = domain.ChangeSummary{New: len(keys)}
		}
		reason := "first_run"
		if r.mode.Forced() {
			reason = "forced_" + r.mode.String()
		}
		return o.enqueueFor(ctx, r, keys, func(string) []domain.UpdateType { return r.mode.Types() }, reason)
	}

	records := o.detector.Diff(r.current, r.previous)
	r.report.Changes = changes.Summarize(records)

	wanted := make(map[string][]domain.UpdateType)
	var keys []string
	for _, rec := range records {
		types := typesFor(rec.Kind)
		if len(types) == 0 {
			continue
		}
		wanted[rec.Key] = types
		keys = append(keys, rec.Key)
	}
	return o.enqueueFor(ctx, r, keys, func(key string) []domain.UpdateType { return wanted[key] }, "diff")
}

// enqueueFor stages the chosen update types for each key of the current
// snapshot in one queue batch
func (o *Orchestrator) enqueueFor(ctx context.Context, r *run, keys []string, types func(string) []domain.UpdateType, reason string) error {
	index := r.current.Index()
	updates := make([]queue.Update, 0, len(keys))
	for _, key := range keys {
		i, ok := index[key]
		if !ok {
			continue
		}
		t := types(key)
		if len(t) == 0 {
			continue
		}
		updates = append(updates, queue.Update{Record: r.current.Records[i], Types: t})
	}

	staged, err := o.stager.Stage(ctx, updates)
	if err != nil {
		return err
	}
	r.report.Staged = staged

	o.logger.Info("Updates staged",
		zap.String("reason", reason),
		zap.Int("products", len(updates)),
		zap.Int("created", staged.Enqueued.Created),
		zap.Int("updated", staged.Enqueued.Updated),
		zap.Int("unmapped", len(staged.Unmapped)))
	return nil
}

func typesFor(kind domain.ChangeKind) []domain.UpdateType {
	switch kind {
	case domain.ChangeNew, domain.ChangeBothChanged:
		return []domain.UpdateType{domain.UpdatePrice, domain.UpdateStock}
	case domain.ChangePriceChanged:
		return []domain.UpdateType{domain.UpdatePrice}
	case domain.ChangeStockChanged:
		return []domain.UpdateType{domain.UpdateStock}
	default:
		return nil
	}
}

func (o *Orchestrator) track(ctx context.Context, r *run) error {
	window, err := o.deps.Store.Window(ctx, o.cfg.DiscontinuedWindow-1, r.current.CapturedAt)
	if err != nil {
		return fmt.Errorf("failed to load snapshot window: %w", err)
	}
	window = append(window, r.current)

	ledger, err := o.deps.Ledger.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load discontinuation ledger: %w", err)
	}

	next, newly := o.tracker.Update(window, ledger)
	if err := o.deps.Ledger.Save(ctx, next); err != nil {
		return fmt.Errorf("failed to save discontinuation ledger: %w", err)
	}

	for _, key := range newly {
		r.report.Discontinued = append(r.report.Discontinued, next.States[key])
	}
	r.report.Tracked = len(next.States)
	return nil
}

func (o *Orchestrator) collect(ctx context.Context, r *run, log *zap.Logger) error {
	if !r.report.ReusedSnapshot {
		if err := o.deps.Store.Archive(ctx, r.current); err != nil {
			return fmt.Errorf("failed to archive snapshot: %w", err)
		}
		r.report.SnapshotID = r.current.ID
	}
	if err := o.deps.Store.MarkSuccessful(ctx, r.current); err != nil {
		return fmt.Errorf("failed to mark snapshot successful: %w", err)
	}

	stats, err := o.deps.Queue.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue stats: %w", err)
	}
	r.report.Queue = stats

	dead, err := o.deps.Queue.DeadLetters(ctx, o.cfg.DeadLetterLimit)
	if err != nil {
		return fmt.Errorf("failed to list dead letters: %w", err)
	}
	r.report.DeadLetters = dead

	if o.cfg.RetentionDays > 0 {
		removed, err := o.deps.Store.Cleanup(ctx, o.cfg.RetentionDays)
		if err != nil {
			log.Warn("Snapshot cleanup failed", zap.Error(err))
		} else if removed > 0 {
			log.Info("Removed expired snapshot days", zap.Int("removed", removed))
		}
	}
	return nil
}

// finish records and announces the run. Failures here never change the outcome.
func (o *Orchestrator) finish(ctx context.Context, rep *report.RunReport, log *zap.Logger) {
	if o.deps.Runs != nil {
		if err := o.deps.Runs.Record(ctx, rep); err != nil {
			log.Error("Failed to record run", zap.Error(err))
		}
	}
	if o.deps.Notifier != nil {
		if err := o.deps.Notifier.Send(ctx, rep); err != nil {
			log.Error("Failed to send run report", zap.Error(err))
		}
	}
}
