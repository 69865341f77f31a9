package webhook

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/reelpipe/reelpipe/internal/models"
	"github.com/reelpipe/reelpipe/internal/retry"
	"github.com/rs/zerolog"
)

const maxResponseBodyBytes = 1024

// Store is the durable delivery queue. Satisfied by *db.DB.
type Store interface {
	ClaimDueWebhook(ctx context.Context, leaseFor time.Duration) (*models.WebhookDelivery, error)
	MarkWebhookSent(ctx context.Context, id uuid.UUID, responseStatus int, responseBody string) error
	RecordWebhookFailure(ctx context.Context, id uuid.UUID, responseStatus *int, responseBody string, nextRetryAt time.Time) (*models.WebhookDelivery, error)
	CancelWebhooksForProject(ctx context.Context, projectID uuid.UUID) (int64, error)
}

// Dispatcher delivers queued webhooks with at-least-once semantics. A
// delivery is retried on any non-2xx response or transport error with
// exponential backoff until its attempt budget runs out, after which it
// is failed forever. Cancelling a project halts its pending deliveries.
type Dispatcher struct {
	store       Store
	httpClient  *http.Client
	sweepPeriod time.Duration
	backoff     retry.Policy
	log         zerolog.Logger
}

func NewDispatcher(store Store, requestTimeout, sweepPeriod time.Duration, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:       store,
		httpClient:  &http.Client{Timeout: requestTimeout},
		sweepPeriod: sweepPeriod,
		backoff:     retry.Policy{BaseDelay: 30 * time.Second, MaxDelay: 30 * time.Minute},
		log:         log.With().Str("component", "webhook").Logger(),
	}
}

// Run sweeps for due deliveries until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info().Dur("period", d.sweepPeriod).Msg("webhook dispatcher started")

	ticker := time.NewTicker(d.sweepPeriod)
	defer ticker.Stop()

	for {
		d.drain(ctx)

		select {
		case <-ctx.Done():
			d.log.Info().Msg("webhook dispatcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// drain delivers every currently due webhook.
func (d *Dispatcher) drain(ctx context.Context) {
	// The claim lease must outlive the HTTP timeout or a slow endpoint
	// lets a second dispatcher double-send.
	lease := d.httpClient.Timeout * 2
	for {
		if ctx.Err() != nil {
			return
		}
		delivery, err := d.store.ClaimDueWebhook(ctx, lease)
		if err != nil {
			d.log.Error().Err(err).Msg("webhook claim failed")
			return
		}
		if delivery == nil {
			return
		}
		d.Deliver(ctx, delivery)
	}
}

// Deliver attempts one claimed delivery and records the outcome.
func (d *Dispatcher) Deliver(ctx context.Context, delivery *models.WebhookDelivery) {
	log := d.log.With().Str("delivery_id", delivery.ID.String()).
		Str("project_id", delivery.ProjectID.String()).
		Int("attempt", delivery.Attempts+1).Logger()

	status, body, err := d.post(ctx, delivery)
	if err == nil && status >= 200 && status < 300 {
		if err := d.store.MarkWebhookSent(ctx, delivery.ID, status, body); err != nil {
			log.Error().Err(err).Msg("failed to mark webhook sent")
			return
		}
		log.Info().Int("status", status).Msg("webhook delivered")
		return
	}

	var responseStatus *int
	if err == nil {
		responseStatus = &status
		log.Warn().Int("status", status).Msg("webhook endpoint rejected delivery")
	} else {
		body = err.Error()
		log.Warn().Err(err).Msg("webhook delivery failed")
	}

	// Backoff grows with the attempt number so retry times are strictly
	// increasing across a delivery's lifetime.
	nextRetryAt := time.Now().Add(d.backoff.Delay(delivery.Attempts + 1))
	updated, recErr := d.store.RecordWebhookFailure(ctx, delivery.ID, responseStatus, body, nextRetryAt)
	if recErr != nil {
		log.Error().Err(recErr).Msg("failed to record webhook failure")
		return
	}
	if updated.Status == models.WebhookStatusFailed {
		log.Error().Int("attempts", updated.Attempts).Msg("webhook failed permanently")
	}
}

// CancelForProject halts all pending deliveries for a project.
func (d *Dispatcher) CancelForProject(ctx context.Context, projectID uuid.UUID) (int64, error) {
	n, err := d.store.CancelWebhooksForProject(ctx, projectID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.log.Info().Str("project_id", projectID.String()).Int64("cancelled", n).
			Msg("pending webhooks cancelled")
	}
	return n, nil
}

func (d *Dispatcher) post(ctx context.Context, delivery *models.WebhookDelivery) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", delivery.ID.String())

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	return resp.StatusCode, string(body), nil
}
