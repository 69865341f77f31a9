package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reelpipe/reelpipe/internal/models"
)

const webhookColumns = `
	id, project_id, url, payload, status, attempts, max_attempts,
	next_retry_at, response_status, response_body, sent_at,
	created_at, updated_at
`

func scanWebhook(row interface{ Scan(...any) error }) (*models.WebhookDelivery, error) {
	d := &models.WebhookDelivery{}
	err := row.Scan(
		&d.ID, &d.ProjectID, &d.URL, &d.Payload, &d.Status, &d.Attempts, &d.MaxAttempts,
		&d.NextRetryAt, &d.ResponseStatus, &d.ResponseBody, &d.SentAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (db *DB) CreateWebhookDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	query := `
		INSERT INTO webhook_deliveries (
			id, project_id, url, payload, status, attempts, max_attempts
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		d.ID, d.ProjectID, d.URL, d.Payload, d.Status, d.Attempts, d.MaxAttempts,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
}

// ClaimDueWebhook atomically claims one pending delivery whose retry time
// has arrived, using the same skip-locked discipline as the render queue so
// concurrent dispatchers never double-send a delivery that is mid-flight.
// The claim keeps status pending (the delivery is not a state machine stage)
// but bumps next_retry_at far enough out that a crashed dispatcher's claim
// expires. Returns nil, nil when nothing is due.
func (db *DB) ClaimDueWebhook(ctx context.Context, leaseFor time.Duration) (*models.WebhookDelivery, error) {
	query := `
		WITH due AS (
			SELECT id
			FROM webhook_deliveries
			WHERE status = 'pending'
			  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE webhook_deliveries
		SET next_retry_at = NOW() + $1 * INTERVAL '1 second', updated_at = NOW()
		WHERE id IN (SELECT id FROM due)
		RETURNING ` + webhookColumns

	d, err := scanWebhook(db.QueryRowContext(ctx, query, int(leaseFor.Seconds())))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim webhook delivery: %w", err)
	}
	return d, nil
}

// MarkWebhookSent records a successful 2xx delivery.
func (db *DB) MarkWebhookSent(ctx context.Context, id uuid.UUID, responseStatus int, responseBody string) error {
	query := `
		UPDATE webhook_deliveries
		SET status = 'sent', attempts = attempts + 1, response_status = $1,
		    response_body = $2, sent_at = NOW(), next_retry_at = NULL, updated_at = NOW()
		WHERE id = $3 AND status = 'pending'
	`

	_, err := db.ExecContext(ctx, query, responseStatus, responseBody, id)
	if err != nil {
		return fmt.Errorf("failed to mark webhook sent: %w", err)
	}
	return nil
}

// RecordWebhookFailure increments attempts, stores the response for
// observability, and either schedules the next retry or marks the delivery
// terminally failed once attempts reach max_attempts. responseStatus is nil
// for transport-level errors.
func (db *DB) RecordWebhookFailure(ctx context.Context, id uuid.UUID, responseStatus *int, responseBody string, nextRetryAt time.Time) (*models.WebhookDelivery, error) {
	query := `
		UPDATE webhook_deliveries
		SET attempts = attempts + 1,
		    response_status = $1,
		    response_body = $2,
		    status = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'pending' END,
		    next_retry_at = CASE WHEN attempts + 1 >= max_attempts THEN NULL ELSE $3 END,
		    updated_at = NOW()
		WHERE id = $4 AND status = 'pending' AND attempts < max_attempts
		RETURNING ` + webhookColumns

	d, err := scanWebhook(db.QueryRowContext(ctx, query, responseStatus, responseBody, nextRetryAt, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("webhook delivery %s was not pending or already exhausted", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record webhook failure: %w", err)
	}
	return d, nil
}

// CancelWebhooksForProject halts retries for every pending delivery of a
// project, e.g. when the project is deleted.
func (db *DB) CancelWebhooksForProject(ctx context.Context, projectID uuid.UUID) (int64, error) {
	query := `
		UPDATE webhook_deliveries
		SET status = 'cancelled', next_retry_at = NULL, updated_at = NOW()
		WHERE project_id = $1 AND status = 'pending'
	`

	res, err := db.ExecContext(ctx, query, projectID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel webhook deliveries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (db *DB) ListWebhooksByProject(ctx context.Context, projectID uuid.UUID) ([]models.WebhookDelivery, error) {
	query := `SELECT ` + webhookColumns + `
		FROM webhook_deliveries
		WHERE project_id = $1
		ORDER BY created_at DESC`

	rows, err := db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []models.WebhookDelivery
	for rows.Next() {
		d, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook delivery: %w", err)
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, rows.Err()
}
