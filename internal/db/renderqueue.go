package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reelpipe/reelpipe/internal/faults"
	"github.com/reelpipe/reelpipe/internal/models"
)

const renderEntryColumns = `
	id, project_id, aspect_ratio, burn_subtitles, subtitle_style,
	status, priority, attempts, max_attempts, next_retry_at,
	output_url, error_message, created_at, updated_at
`

func scanRenderEntry(row interface{ Scan(...any) error }) (*models.RenderQueueEntry, error) {
	e := &models.RenderQueueEntry{}
	err := row.Scan(
		&e.ID, &e.ProjectID, &e.AspectRatio, &e.BurnSubtitles, &e.SubtitleStyle,
		&e.Status, &e.Priority, &e.Attempts, &e.MaxAttempts, &e.NextRetryAt,
		&e.OutputURL, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (db *DB) CreateRenderEntry(ctx context.Context, e *models.RenderQueueEntry) error {
	query := `
		INSERT INTO render_queue (
			id, project_id, aspect_ratio, burn_subtitles, subtitle_style,
			status, priority, attempts, max_attempts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		e.ID, e.ProjectID, e.AspectRatio, e.BurnSubtitles, e.SubtitleStyle,
		e.Status, e.Priority, e.Attempts, e.MaxAttempts,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
}

func (db *DB) GetRenderEntry(ctx context.Context, id uuid.UUID) (*models.RenderQueueEntry, error) {
	query := `SELECT ` + renderEntryColumns + ` FROM render_queue WHERE id = $1`

	e, err := scanRenderEntry(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &faults.NotFoundError{Entity: "render job", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get render entry: %w", err)
	}
	return e, nil
}

// ClaimNextRenderEntry atomically claims the highest-priority due pending
// entry, moving it to processing. FOR UPDATE SKIP LOCKED guarantees that
// concurrent workers each claim a distinct row; the losing worker simply
// sees no row. Returns nil, nil when the queue is empty.
func (db *DB) ClaimNextRenderEntry(ctx context.Context) (*models.RenderQueueEntry, error) {
	query := `
		WITH next_entry AS (
			SELECT id
			FROM render_queue
			WHERE status = 'pending'
			  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
			ORDER BY priority DESC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE render_queue
		SET status = 'processing', updated_at = NOW()
		WHERE id IN (SELECT id FROM next_entry) AND status = 'pending'
		RETURNING ` + renderEntryColumns

	e, err := scanRenderEntry(db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim render entry: %w", err)
	}
	return e, nil
}

func (db *DB) CompleteRenderEntry(ctx context.Context, id uuid.UUID, outputURL string) error {
	query := `
		UPDATE render_queue
		SET status = 'completed', output_url = $1, error_message = NULL, updated_at = NOW()
		WHERE id = $2 AND status = 'processing'
	`

	res, err := db.ExecContext(ctx, query, outputURL, id)
	if err != nil {
		return fmt.Errorf("failed to complete render entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("render entry %s was not processing, cannot complete", id)
	}
	return nil
}

// RecordRenderFailure increments attempts and either reschedules the entry
// (pending with a future next_retry_at) or, once the budget is exhausted,
// marks it terminally failed. The attempts ≤ max_attempts invariant is
// enforced by the single conditional UPDATE.
func (db *DB) RecordRenderFailure(ctx context.Context, id uuid.UUID, errMsg string, nextRetryAt time.Time) (*models.RenderQueueEntry, error) {
	query := `
		UPDATE render_queue
		SET attempts = attempts + 1,
		    error_message = $1,
		    status = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'pending' END,
		    next_retry_at = CASE WHEN attempts + 1 >= max_attempts THEN NULL ELSE $2 END,
		    updated_at = NOW()
		WHERE id = $3 AND status = 'processing' AND attempts < max_attempts
		RETURNING ` + renderEntryColumns

	e, err := scanRenderEntry(db.QueryRowContext(ctx, query, errMsg, nextRetryAt, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("render entry %s was not processing or already exhausted", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record render failure: %w", err)
	}
	return e, nil
}

func (db *DB) ListRenderEntriesByProject(ctx context.Context, projectID uuid.UUID) ([]models.RenderQueueEntry, error) {
	query := `SELECT ` + renderEntryColumns + `
		FROM render_queue
		WHERE project_id = $1
		ORDER BY created_at DESC`

	rows, err := db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query render entries: %w", err)
	}
	defer rows.Close()

	var entries []models.RenderQueueEntry
	for rows.Next() {
		e, err := scanRenderEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan render entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
