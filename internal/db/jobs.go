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

func (db *DB) CreateGenerationJob(ctx context.Context, job *models.GenerationJob) error {
	query := `
		INSERT INTO generation_jobs (
			id, user_id, prompt, template_id, target_duration_seconds,
			aspect_ratio, voice_id, burn_subtitles, webhook_url, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		job.ID, job.UserID, job.Prompt, job.TemplateID, job.TargetDuration,
		job.AspectRatio, job.VoiceID, job.BurnSubtitles, job.WebhookURL, job.Status,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (db *DB) GetGenerationJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	query := `
		SELECT
			id, user_id, prompt, template_id, target_duration_seconds,
			aspect_ratio, voice_id, burn_subtitles, webhook_url, status,
			final_artifact_url, error_message, cancel_requested,
			created_at, updated_at, completed_at
		FROM generation_jobs
		WHERE id = $1
	`

	job := &models.GenerationJob{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.UserID, &job.Prompt, &job.TemplateID, &job.TargetDuration,
		&job.AspectRatio, &job.VoiceID, &job.BurnSubtitles, &job.WebhookURL, &job.Status,
		&job.FinalArtifactURL, &job.ErrorMessage, &job.CancelRequested,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)

	if err == sql.ErrNoRows {
		return nil, &faults.NotFoundError{Entity: "generation job", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get generation job: %w", err)
	}

	return job, nil
}

// TransitionJobStatus moves a job to the next pipeline stage. The conditional
// WHERE clause enforces the terminal-state invariant at the store: a
// completed or failed job is never transitioned again.
func (db *DB) TransitionJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	query := `
		UPDATE generation_jobs
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status NOT IN ('completed', 'failed')
	`

	res, err := db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to transition job status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s is terminal or missing, cannot transition to %s", id, status)
	}
	return nil
}

func (db *DB) CompleteGenerationJob(ctx context.Context, id uuid.UUID, finalURL string) error {
	query := `
		UPDATE generation_jobs
		SET status = $1, final_artifact_url = $2, completed_at = $3, updated_at = NOW()
		WHERE id = $4 AND status NOT IN ('completed', 'failed')
	`

	res, err := db.ExecContext(ctx, query, models.JobStatusCompleted, finalURL, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s is terminal or missing, cannot complete", id)
	}
	return nil
}

func (db *DB) FailGenerationJob(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE generation_jobs
		SET status = $1, error_message = $2, completed_at = $3, updated_at = NOW()
		WHERE id = $4 AND status NOT IN ('completed', 'failed')
	`

	_, err := db.ExecContext(ctx, query, models.JobStatusFailed, message, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// RequestJobCancel flags a job for cooperative cancellation. The orchestrator
// observes the flag at the next stage boundary.
func (db *DB) RequestJobCancel(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE generation_jobs
		SET cancel_requested = TRUE, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
	`

	res, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to request cancel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &faults.NotFoundError{Entity: "cancellable job", ID: id.String()}
	}
	return nil
}

// JobCancelRequested reads the cancellation flag for a stage-boundary check.
func (db *DB) JobCancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	var cancelled bool
	err := db.QueryRowContext(ctx,
		`SELECT cancel_requested FROM generation_jobs WHERE id = $1`, id,
	).Scan(&cancelled)
	if err == sql.ErrNoRows {
		return false, &faults.NotFoundError{Entity: "generation job", ID: id.String()}
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return cancelled, nil
}
