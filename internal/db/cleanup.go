package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reelpipe/reelpipe/internal/models"
)

const cleanupColumns = `
	id, project_id, asset_type, asset_url, scheduled_deletion_at,
	status, attempts, max_attempts, error_message, created_at
`

func scanCleanupEntry(row interface{ Scan(...any) error }) (*models.CleanupQueueEntry, error) {
	e := &models.CleanupQueueEntry{}
	err := row.Scan(
		&e.ID, &e.ProjectID, &e.AssetType, &e.AssetURL, &e.ScheduledDeletionAt,
		&e.Status, &e.Attempts, &e.MaxAttempts, &e.ErrorMessage, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (db *DB) CreateCleanupEntry(ctx context.Context, e *models.CleanupQueueEntry) error {
	query := `
		INSERT INTO cleanup_queue (
			id, project_id, asset_type, asset_url, scheduled_deletion_at,
			status, attempts, max_attempts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		e.ID, e.ProjectID, e.AssetType, e.AssetURL, e.ScheduledDeletionAt,
		e.Status, e.Attempts, e.MaxAttempts,
	).Scan(&e.CreatedAt)
}

// DueCleanupEntries returns all pending entries whose scheduled deletion
// time has passed.
func (db *DB) DueCleanupEntries(ctx context.Context, now time.Time) ([]models.CleanupQueueEntry, error) {
	query := `SELECT ` + cleanupColumns + `
		FROM cleanup_queue
		WHERE status = 'pending' AND scheduled_deletion_at <= $1
		ORDER BY scheduled_deletion_at ASC`

	rows, err := db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due cleanup entries: %w", err)
	}
	defer rows.Close()

	var entries []models.CleanupQueueEntry
	for rows.Next() {
		e, err := scanCleanupEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cleanup entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (db *DB) CompleteCleanupEntry(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE cleanup_queue
		SET status = 'completed', error_message = NULL
		WHERE id = $1 AND status = 'pending'
	`

	_, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to complete cleanup entry: %w", err)
	}
	return nil
}

// RecordCleanupFailure increments attempts and reschedules the entry, or
// marks it failed once the budget is exhausted. Failed deletions get the
// same bounded backoff as the render and webhook queues.
func (db *DB) RecordCleanupFailure(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error {
	query := `
		UPDATE cleanup_queue
		SET attempts = attempts + 1,
		    error_message = $1,
		    status = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'pending' END,
		    scheduled_deletion_at = CASE WHEN attempts + 1 >= max_attempts THEN scheduled_deletion_at ELSE $2 END
		WHERE id = $3 AND status = 'pending' AND attempts < max_attempts
	`

	_, err := db.ExecContext(ctx, query, errMsg, retryAt, id)
	if err != nil {
		return fmt.Errorf("failed to record cleanup failure: %w", err)
	}
	return nil
}
