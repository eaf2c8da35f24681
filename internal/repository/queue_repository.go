package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"catalog-sync/internal/domain"
	"catalog-sync/internal/queue"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const queueColumns = `id, seq, product_key, external_id, update_type, payload, status,
	attempt_count, last_error, enqueued_at, claimed_at, finished_at`

type queueRepository struct {
	db          *sql.DB
	maxAttempts int
}

// NewQueueRepository creates a Postgres backed UpdateQueue
func NewQueueRepository(db *sql.DB, maxAttempts int) queue.UpdateQueue {
	if maxAttempts <= 0 {
		maxAttempts = queue.DefaultMaxAttempts
	}
	return &queueRepository{db: db, maxAttempts: maxAttempts}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (domain.QueueEntry, int64, error) {
	var e domain.QueueEntry
	var seq int64
	err := row.Scan(
		&e.ID,
		&seq,
		&e.ProductKey,
		&e.ExternalID,
		&e.Type,
		&e.Payload,
		&e.Status,
		&e.AttemptCount,
		&e.LastError,
		&e.EnqueuedAt,
		&e.ClaimedAt,
		&e.FinishedAt,
	)
	return e, seq, err
}

// Enqueue upserts every request in one transaction. The partial unique index
// on pending entries turns a second enqueue into a payload overwrite.
func (r *queueRepository) Enqueue(ctx context.Context, reqs []queue.Request) (queue.EnqueueResult, error) {
	var res queue.EnqueueResult
	if len(reqs) == 0 {
		return res, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO update_queue (id, product_key, external_id, update_type, payload, status, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', NOW())
		ON CONFLICT (product_key, update_type) WHERE status = 'pending'
		DO UPDATE SET payload = EXCLUDED.payload, external_id = EXCLUDED.external_id
		RETURNING (xmax = 0) AS inserted
	`)
	if err != nil {
		return res, fmt.Errorf("failed to prepare enqueue: %w", err)
	}
	defer stmt.Close()

	for _, req := range reqs {
		var inserted bool
		err := stmt.QueryRowContext(ctx, uuid.New(), req.ProductKey, req.ExternalID, req.Type, req.Payload).Scan(&inserted)
		if err != nil {
			return queue.EnqueueResult{}, fmt.Errorf("failed to enqueue %s/%s: %w", req.ProductKey, req.Type, err)
		}
		if inserted {
			res.Created++
		} else {
			res.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return queue.EnqueueResult{}, fmt.Errorf("failed to commit enqueue: %w", err)
	}
	return res, nil
}

// ClaimBatch locks the oldest pending rows, skipping rows another consumer
// holds and keys with a delivery in flight, and flips them to in flight in
// the same statement
func (r *queueRepository) ClaimBatch(ctx context.Context, max int) ([]domain.QueueEntry, error) {
	if max <= 0 {
		return nil, nil
	}

	query := `
		UPDATE update_queue
		SET status = 'in_flight', claimed_at = NOW()
		WHERE id IN (
			SELECT p.id FROM update_queue p
			WHERE p.status = 'pending'
			  AND NOT EXISTS (
				SELECT 1 FROM update_queue f
				WHERE f.product_key = p.product_key
				  AND f.update_type = p.update_type
				  AND f.status = 'in_flight'
			  )
			ORDER BY p.enqueued_at, p.seq
			LIMIT $1
			FOR UPDATE OF p SKIP LOCKED
		)
		AND status = 'pending'
		RETURNING ` + queueColumns

	rows, err := r.db.QueryContext(ctx, query, max)
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}
	defer rows.Close()

	type claimed struct {
		entry domain.QueueEntry
		seq   int64
	}
	var batch []claimed
	for rows.Next() {
		e, seq, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed entry: %w", err)
		}
		batch = append(batch, claimed{entry: e, seq: seq})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read claimed entries: %w", err)
	}

	// RETURNING order is unspecified
	sort.Slice(batch, func(i, j int) bool {
		a, b := batch[i], batch[j]
		if !a.entry.EnqueuedAt.Equal(b.entry.EnqueuedAt) {
			return a.entry.EnqueuedAt.Before(b.entry.EnqueuedAt)
		}
		return a.seq < b.seq
	})

	out := make([]domain.QueueEntry, len(batch))
	for i, c := range batch {
		out[i] = c.entry
	}
	return out, nil
}

func (r *queueRepository) Complete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE update_queue
		SET status = 'completed', finished_at = NOW()
		WHERE id = $1 AND status = 'in_flight'
	`, id)
	if err != nil {
		return fmt.Errorf("failed to complete entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return r.missingOr(ctx, id, queue.ErrEntryNotInFlight)
	}
	return nil
}

func (r *queueRepository) Fail(ctx context.Context, id uuid.UUID, cause string, retryable bool) (domain.QueueStatus, error) {
	status, err := r.fail(ctx, id, cause, retryable)
	if isUniqueViolation(err) {
		// A pending entry for the same key committed concurrently; retry sees it
		status, err = r.fail(ctx, id, cause, retryable)
	}
	return status, err
}

func (r *queueRepository) fail(ctx context.Context, id uuid.UUID, cause string, retryable bool) (domain.QueueStatus, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		status     domain.QueueStatus
		attempts   int
		productKey string
		updateType domain.UpdateType
		seq        int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT status, attempt_count, product_key, update_type, seq
		FROM update_queue WHERE id = $1
		FOR UPDATE
	`, id).Scan(&status, &attempts, &productKey, &updateType, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return "", queue.ErrEntryNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load entry: %w", err)
	}
	if status != domain.StatusInFlight {
		return "", queue.ErrEntryNotInFlight
	}

	attempts++
	next := domain.StatusPending
	switch {
	case !retryable || attempts > r.maxAttempts:
		next = domain.StatusDeadLetter
	default:
		newer, err := supersededBy(ctx, tx, productKey, updateType, seq)
		if err != nil {
			return "", err
		}
		if newer {
			next = domain.StatusFailed
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE update_queue
		SET status = $2,
		    attempt_count = $3,
		    last_error = $4,
		    claimed_at = NULL,
		    finished_at = CASE WHEN $2 = 'pending' THEN NULL ELSE NOW() END
		WHERE id = $1
	`, id, next, attempts, cause)
	if err != nil {
		return "", fmt.Errorf("failed to record failure: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit failure: %w", err)
	}
	return next, nil
}

func (r *queueRepository) Requeue(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		status     domain.QueueStatus
		productKey string
		updateType domain.UpdateType
	)
	err = tx.QueryRowContext(ctx, `
		SELECT status, product_key, update_type FROM update_queue WHERE id = $1 FOR UPDATE
	`, id).Scan(&status, &productKey, &updateType)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.ErrEntryNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load entry: %w", err)
	}
	if status != domain.StatusDeadLetter {
		return queue.ErrEntryNotDeadLetter
	}

	exists, err := pendingExists(ctx, tx, productKey, updateType)
	if err != nil {
		return err
	}
	if exists {
		return queue.ErrPendingExists
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE update_queue
		SET status = 'pending', attempt_count = 0, enqueued_at = NOW(), claimed_at = NULL, finished_at = NULL,
		    seq = nextval(pg_get_serial_sequence('update_queue', 'seq'))
		WHERE id = $1
	`, id)
	if isUniqueViolation(err) {
		return queue.ErrPendingExists
	}
	if err != nil {
		return fmt.Errorf("failed to requeue entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit requeue: %w", err)
	}
	return nil
}

// ReleaseStale returns abandoned in-flight entries to pending, or marks them
// superseded when a later entry exists for the same key
func (r *queueRepository) ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, product_key, update_type, seq FROM update_queue
		WHERE status = 'in_flight' AND claimed_at < NOW() - make_interval(secs => $1)
		ORDER BY enqueued_at, seq
		FOR UPDATE SKIP LOCKED
	`, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to find stale entries: %w", err)
	}

	type stale struct {
		id         uuid.UUID
		productKey string
		updateType domain.UpdateType
		seq        int64
	}
	var found []stale
	for rows.Next() {
		var s stale
		if err := rows.Scan(&s.id, &s.productKey, &s.updateType, &s.seq); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan stale entry: %w", err)
		}
		found = append(found, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read stale entries: %w", err)
	}

	released := 0
	for _, s := range found {
		newer, err := supersededBy(ctx, tx, s.productKey, s.updateType, s.seq)
		if err != nil {
			return 0, err
		}

		if newer {
			_, err = tx.ExecContext(ctx, `
				UPDATE update_queue
				SET status = 'failed', claimed_at = NULL, finished_at = NOW(), last_error = 'abandoned while in flight'
				WHERE id = $1
			`, s.id)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE update_queue SET status = 'pending', claimed_at = NULL WHERE id = $1
			`, s.id)
			released++
		}
		if err != nil {
			return 0, fmt.Errorf("failed to release entry %s: %w", s.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit release: %w", err)
	}
	return released, nil
}

func (r *queueRepository) Stats(ctx context.Context) (domain.QueueStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT update_type, status, COUNT(*) FROM update_queue GROUP BY update_type, status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(domain.QueueStats)
	for rows.Next() {
		var (
			t      domain.UpdateType
			status domain.QueueStatus
			count  int
		)
		if err := rows.Scan(&t, &status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		if stats[t] == nil {
			stats[t] = make(map[domain.QueueStatus]int)
		}
		stats[t][status] = count
	}
	return stats, rows.Err()
}

func (r *queueRepository) DeadLetters(ctx context.Context, limit int) ([]domain.QueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM update_queue
		WHERE status = 'dead_letter'
		ORDER BY finished_at DESC, seq DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()

	var out []domain.QueueEntry
	for rows.Next() {
		e, _, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *queueRepository) missingOr(ctx context.Context, id uuid.UUID, otherwise error) error {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM update_queue WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up entry: %w", err)
	}
	if !exists {
		return queue.ErrEntryNotFound
	}
	return otherwise
}

func pendingExists(ctx context.Context, tx *sql.Tx, productKey string, updateType domain.UpdateType) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM update_queue
			WHERE product_key = $1 AND update_type = $2 AND status = 'pending'
		)
	`, productKey, updateType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pending entry: %w", err)
	}
	return exists, nil
}

// supersededBy reports whether the key has a pending entry or any entry
// staged after seq
func supersededBy(ctx context.Context, tx *sql.Tx, productKey string, updateType domain.UpdateType, seq int64) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM update_queue
			WHERE product_key = $1 AND update_type = $2
			  AND (status = 'pending' OR seq > $3)
		)
	`, productKey, updateType, seq).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check newer entries: %w", err)
	}
	return exists, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
