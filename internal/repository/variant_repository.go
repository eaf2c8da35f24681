package repository

import (
	"context"
	"database/sql"
	"fmt"

	"catalog-sync/internal/queue"
)

// VariantRepository maps catalog product keys to storefront variant ids
type VariantRepository interface {
	queue.Directory
	Upsert(ctx context.Context, mappings map[string]string) (int, error)
	Count(ctx context.Context) (int, error)
}

type variantRepository struct {
	db *sql.DB
}

// NewVariantRepository creates a new variant mapping repository
func NewVariantRepository(db *sql.DB) VariantRepository {
	return &variantRepository{db: db}
}

func (r *variantRepository) ResolveMany(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_key, external_id FROM variant_mappings WHERE product_key = ANY($1)
	`, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, externalID string
		if err := rows.Scan(&key, &externalID); err != nil {
			return nil, fmt.Errorf("failed to scan variant mapping: %w", err)
		}
		out[key] = externalID
	}
	return out, rows.Err()
}

func (r *variantRepository) Upsert(ctx context.Context, mappings map[string]string) (int, error) {
	if len(mappings) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO variant_mappings (product_key, external_id, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (product_key) DO UPDATE
		SET external_id = EXCLUDED.external_id, updated_at = NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare variant upsert: %w", err)
	}
	defer stmt.Close()

	for key, externalID := range mappings {
		if _, err := stmt.ExecContext(ctx, key, externalID); err != nil {
			return 0, fmt.Errorf("failed to upsert variant %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit variants: %w", err)
	}
	return len(mappings), nil
}

func (r *variantRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM variant_mappings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count variants: %w", err)
	}
	return n, nil
}
