package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"catalog-sync/internal/domain"
)

// DiscontinuationRepository persists the absence ledger
type DiscontinuationRepository interface {
	Load(ctx context.Context) (domain.DiscontinuationLedger, error)
	Save(ctx context.Context, ledger domain.DiscontinuationLedger) error
}

type discontinuationRepository struct {
	db *sql.DB
}

// NewDiscontinuationRepository creates a new discontinuation repository
func NewDiscontinuationRepository(db *sql.DB) DiscontinuationRepository {
	return &discontinuationRepository{db: db}
}

func (r *discontinuationRepository) Load(ctx context.Context) (domain.DiscontinuationLedger, error) {
	ledger := domain.DiscontinuationLedger{States: make(map[string]domain.DiscontinuationState)}

	err := r.db.QueryRowContext(ctx, `SELECT applied_at FROM discontinuation_watermark WHERE id = 1`).Scan(&ledger.Watermark)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return ledger, fmt.Errorf("failed to load watermark: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_key, consecutive_absences, last_known_price, last_known_stock,
		       last_seen_at, description, reported
		FROM discontinuation_states
	`)
	if err != nil {
		return ledger, fmt.Errorf("failed to load discontinuation states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s        domain.DiscontinuationState
			lastSeen sql.NullTime
		)
		err := rows.Scan(
			&s.Key,
			&s.ConsecutiveAbsences,
			&s.LastKnownPrice,
			&s.LastKnownStock,
			&lastSeen,
			&s.Description,
			&s.Reported,
		)
		if err != nil {
			return ledger, fmt.Errorf("failed to scan discontinuation state: %w", err)
		}
		if lastSeen.Valid {
			s.LastSeenAt = lastSeen.Time
		}
		ledger.States[s.Key] = s
	}
	if err := rows.Err(); err != nil {
		return ledger, fmt.Errorf("failed to read discontinuation states: %w", err)
	}

	return ledger, nil
}

// Save replaces the stored ledger with the given one in a single transaction
func (r *discontinuationRepository) Save(ctx context.Context, ledger domain.DiscontinuationLedger) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM discontinuation_states`); err != nil {
		return fmt.Errorf("failed to clear discontinuation states: %w", err)
	}

	if len(ledger.States) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO discontinuation_states
				(product_key, consecutive_absences, last_known_price, last_known_stock,
				 last_seen_at, description, reported, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare state insert: %w", err)
		}
		defer stmt.Close()

		for _, s := range ledger.States {
			var lastSeen *time.Time
			if !s.LastSeenAt.IsZero() {
				lastSeen = &s.LastSeenAt
			}
			_, err := stmt.ExecContext(ctx,
				s.Key,
				s.ConsecutiveAbsences,
				s.LastKnownPrice,
				s.LastKnownStock,
				lastSeen,
				s.Description,
				s.Reported,
			)
			if err != nil {
				return fmt.Errorf("failed to save state for %s: %w", s.Key, err)
			}
		}
	}

	if ledger.Watermark.IsZero() {
		_, err = tx.ExecContext(ctx, `DELETE FROM discontinuation_watermark`)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO discontinuation_watermark (id, applied_at) VALUES (1, $1)
			ON CONFLICT (id) DO UPDATE SET applied_at = EXCLUDED.applied_at
		`, ledger.Watermark)
	}
	if err != nil {
		return fmt.Errorf("failed to save watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger: %w", err)
	}
	return nil
}
