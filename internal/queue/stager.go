package queue

import (
	"context"
	"fmt"

	"catalog-sync/internal/domain"
)

// Directory resolves catalog product keys to storefront identifiers.
// Keys without a mapping are absent from the result.
type Directory interface {
	ResolveMany(ctx context.Context, keys []string) (map[string]string, error)
}

// StaticDirectory is a fixed key to external id mapping
type StaticDirectory map[string]string

func (d StaticDirectory) ResolveMany(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if id, ok := d[k]; ok {
			out[k] = id
		}
	}
	return out, nil
}

// Update asks for the given update types of one product to be staged
type Update struct {
	Record domain.ProductRecord
	Types  []domain.UpdateType
}

// StageResult describes one staging call
type StageResult struct {
	Enqueued EnqueueResult             `json:"enqueued"`
	ByType   map[domain.UpdateType]int `json:"by_type"`
	Unmapped []string                  `json:"unmapped,omitempty"`
}

// Stager turns product updates into queue requests
type Stager struct {
	queue     UpdateQueue
	directory Directory
	precision int32
}

func NewStager(queue UpdateQueue, directory Directory, precision int32) *Stager {
	return &Stager{queue: queue, directory: directory, precision: precision}
}

// Stage resolves every product through the directory and enqueues the
// requested updates in a single batch. Products the storefront does not
// know are skipped and reported as unmapped.
func (s *Stager) Stage(ctx context.Context, updates []Update) (StageResult, error) {
	result := StageResult{ByType: make(map[domain.UpdateType]int)}
	if len(updates) == 0 {
		return result, nil
	}

	keys := make([]string, 0, len(updates))
	seen := make(map[string]struct{}, len(updates))
	for _, u := range updates {
		if _, ok := seen[u.Record.Key]; ok {
			continue
		}
		seen[u.Record.Key] = struct{}{}
		keys = append(keys, u.Record.Key)
	}

	resolved, err := s.directory.ResolveMany(ctx, keys)
	if err != nil {
		return result, fmt.Errorf("failed to resolve product keys: %w", err)
	}

	reqs := make([]Request, 0, len(updates)*2)
	unmapped := make(map[string]struct{})
	for _, u := range updates {
		externalID, ok := resolved[u.Record.Key]
		if !ok {
			if _, dup := unmapped[u.Record.Key]; !dup {
				unmapped[u.Record.Key] = struct{}{}
				result.Unmapped = append(result.Unmapped, u.Record.Key)
			}
			continue
		}
		for _, t := range u.Types {
			reqs = append(reqs, Request{
				ProductKey: u.Record.Key,
				ExternalID: externalID,
				Type:       t,
				Payload:    s.payload(u.Record, t),
			})
			result.ByType[t]++
		}
	}

	if len(reqs) == 0 {
		return result, nil
	}

	result.Enqueued, err = s.queue.Enqueue(ctx, reqs)
	if err != nil {
		return StageResult{}, fmt.Errorf("failed to enqueue updates: %w", err)
	}
	return result, nil
}

func (s *Stager) payload(rec domain.ProductRecord, t domain.UpdateType) string {
	if t == domain.UpdatePrice {
		return domain.PricePayload(rec.Price, s.precision)
	}
	return domain.StockPayload(rec.Stock)
}
