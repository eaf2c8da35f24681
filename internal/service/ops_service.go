package service

import (
	"context"
	"errors"
	"fmt"

	"catalog-sync/internal/domain"
	"catalog-sync/internal/queue"
	"catalog-sync/internal/report"
	"catalog-sync/internal/repository"

	"github.com/google/uuid"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// QueueSummary is the queue overview served to operators
type QueueSummary struct {
	Stats      domain.QueueStats `json:"stats"`
	Pending    int               `json:"pending"`
	InFlight   int               `json:"in_flight"`
	DeadLetter int               `json:"dead_letter"`
	Variants   int               `json:"variants"`
}

// RequeueResult reports a bulk requeue. Skipped entries already have a
// newer pending update for the same product and type.
type RequeueResult struct {
	Requeued int      `json:"requeued"`
	Skipped  []string `json:"skipped,omitempty"`
}

// Mapping links one catalog product key to a storefront variant
type Mapping struct {
	ProductKey string `json:"product_key" validate:"required,max=255"`
	ExternalID string `json:"external_id" validate:"required,max=255"`
}

// OpsService defines the operator actions exposed by the ops API
type OpsService interface {
	QueueSummary(ctx context.Context) (*QueueSummary, error)
	DeadLetters(ctx context.Context, limit int) ([]domain.QueueEntry, error)
	Requeue(ctx context.Context, id uuid.UUID) error
	RequeueAll(ctx context.Context, limit int) (*RequeueResult, error)
	RecentRuns(ctx context.Context, limit int) ([]*report.RunReport, error)
	ImportMappings(ctx context.Context, mappings []Mapping) (int, error)
}

type opsService struct {
	queue    queue.UpdateQueue
	runs     repository.RunRepository
	variants repository.VariantRepository
}

// NewOpsService creates a new instance of OpsService
func NewOpsService(q queue.UpdateQueue, runs repository.RunRepository, variants repository.VariantRepository) OpsService {
	return &opsService{queue: q, runs: runs, variants: variants}
}

func (s *opsService) QueueSummary(ctx context.Context) (*QueueSummary, error) {
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	variants, err := s.variants.Count(ctx)
	if err != nil {
		return nil, err
	}

	return &QueueSummary{
		Stats:      stats,
		Pending:    stats.Count(domain.StatusPending),
		InFlight:   stats.Count(domain.StatusInFlight),
		DeadLetter: stats.Count(domain.StatusDeadLetter),
		Variants:   variants,
	}, nil
}

func (s *opsService) DeadLetters(ctx context.Context, limit int) ([]domain.QueueEntry, error) {
	return s.queue.DeadLetters(ctx, clampLimit(limit))
}

func (s *opsService) Requeue(ctx context.Context, id uuid.UUID) error {
	return s.queue.Requeue(ctx, id)
}

// RequeueAll moves up to limit dead letters back to pending. Entries whose
// key already has a pending update are left dead and listed as skipped.
func (s *opsService) RequeueAll(ctx context.Context, limit int) (*RequeueResult, error) {
	dead, err := s.queue.DeadLetters(ctx, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	result := &RequeueResult{}
	for _, e := range dead {
		err := s.queue.Requeue(ctx, e.ID)
		switch {
		case err == nil:
			result.Requeued++
		case errors.Is(err, queue.ErrPendingExists):
			result.Skipped = append(result.Skipped, e.ID.String())
		default:
			return result, fmt.Errorf("failed to requeue %s: %w", e.ID, err)
		}
	}
	return result, nil
}

func (s *opsService) RecentRuns(ctx context.Context, limit int) ([]*report.RunReport, error) {
	return s.runs.Recent(ctx, clampLimit(limit))
}

func (s *opsService) ImportMappings(ctx context.Context, mappings []Mapping) (int, error) {
	byKey := make(map[string]string, len(mappings))
	for _, m := range mappings {
		byKey[m.ProductKey] = m.ExternalID
	}
	return s.variants.Upsert(ctx, byKey)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
