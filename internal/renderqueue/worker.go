package renderqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reelpipe/reelpipe/internal/faults"
	"github.com/reelpipe/reelpipe/internal/models"
	"github.com/reelpipe/reelpipe/internal/pipeline"
	"github.com/reelpipe/reelpipe/internal/retry"
	"github.com/reelpipe/reelpipe/internal/services"
	"github.com/rs/zerolog"
)

// Store is the durable queue surface. Satisfied by *db.DB, where the
// claim is an atomic compare-and-set under FOR UPDATE SKIP LOCKED.
type Store interface {
	CreateRenderEntry(ctx context.Context, e *models.RenderQueueEntry) error
	GetRenderEntry(ctx context.Context, id uuid.UUID) (*models.RenderQueueEntry, error)
	ClaimNextRenderEntry(ctx context.Context) (*models.RenderQueueEntry, error)
	CompleteRenderEntry(ctx context.Context, id uuid.UUID, outputURL string) error
	RecordRenderFailure(ctx context.Context, id uuid.UUID, errMsg string, nextRetryAt time.Time) (*models.RenderQueueEntry, error)
	ListProjectScenes(ctx context.Context, projectID uuid.UUID) ([]models.ProjectScene, error)
}

// Renderer re-composes a project's staged scenes into a deliverable.
// Satisfied by *pipeline.Stitcher.
type Renderer interface {
	Stitch(ctx context.Context, projectID string, staged []pipeline.StagedScene, aspectRatio string, burnSubtitles bool, style services.SubtitleStyle, outputSuffix string) (*pipeline.StitchResult, error)
}

// Worker drains the render queue. Entries are claimed one at a time per
// worker goroutine; the store's claim guarantees no entry is processed
// twice concurrently even across processes.
type Worker struct {
	store        Store
	renderer     Renderer
	workers      int
	pollInterval time.Duration
	maxAttempts  int
	backoff      retry.Policy
	renderBudget time.Duration
	log          zerolog.Logger
}

func NewWorker(store Store, renderer Renderer, workers int, pollInterval time.Duration, maxAttempts int, renderBudget time.Duration, log zerolog.Logger) *Worker {
	if workers < 1 {
		workers = 1
	}
	return &Worker{
		store:        store,
		renderer:     renderer,
		workers:      workers,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		backoff:      retry.Policy{MaxAttempts: maxAttempts, BaseDelay: 30 * time.Second, MaxDelay: 10 * time.Minute},
		renderBudget: renderBudget,
		log:          log.With().Str("component", "renderqueue").Logger(),
	}
}

// CreateRenderJob enqueues a secondary export for an already generated
// project. Validation fails before anything is persisted.
func (w *Worker) CreateRenderJob(ctx context.Context, req *models.CreateRenderRequest) (*models.RenderQueueEntry, error) {
	if _, _, err := pipeline.CropDimensions(1920, 1080, req.AspectRatio); err != nil {
		return nil, err
	}

	// A project with no staged scenes has nothing to render.
	if _, err := w.store.ListProjectScenes(ctx, req.ProjectID); err != nil {
		return nil, err
	}

	entry := &models.RenderQueueEntry{
		ID:            uuid.New(),
		ProjectID:     req.ProjectID,
		AspectRatio:   req.AspectRatio,
		BurnSubtitles: req.BurnSubtitles,
		SubtitleStyle: req.SubtitleStyle,
		Status:        models.RenderStatusPending,
		Priority:      req.Priority,
		MaxAttempts:   w.maxAttempts,
	}
	if err := w.store.CreateRenderEntry(ctx, entry); err != nil {
		return nil, err
	}

	w.log.Info().Str("render_id", entry.ID.String()).Str("project_id", req.ProjectID.String()).
		Int("priority", entry.Priority).Msg("render enqueued")

	return entry, nil
}

// GetRenderJobStatus returns the current state of a render entry.
func (w *Worker) GetRenderJobStatus(ctx context.Context, id uuid.UUID) (*models.RenderQueueEntry, error) {
	return w.store.GetRenderEntry(ctx, id)
}

// Run starts the worker pool and blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w.loop(ctx, n)
		}(i)
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context, n int) {
	log := w.log.With().Int("worker", n).Logger()
	log.Info().Msg("render worker started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		// Drain everything claimable before sleeping.
		for {
			entry, err := w.store.ClaimNextRenderEntry(ctx)
			if err != nil {
				log.Error().Err(err).Msg("claim failed")
				break
			}
			if entry == nil {
				break
			}
			w.process(ctx, entry, log)
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("render worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// process runs one claimed entry to a terminal or rescheduled state.
func (w *Worker) process(ctx context.Context, entry *models.RenderQueueEntry, log zerolog.Logger) {
	log = log.With().Str("render_id", entry.ID.String()).Str("project_id", entry.ProjectID.String()).Logger()
	log.Info().Int("attempt", entry.Attempts+1).Int("max", entry.MaxAttempts).Msg("rendering")

	renderCtx, cancel := context.WithTimeout(ctx, w.renderBudget)
	result, err := w.render(renderCtx, entry)
	cancel()

	if err != nil {
		nextRetryAt := time.Now().Add(w.backoff.Delay(entry.Attempts + 1))
		updated, recErr := w.store.RecordRenderFailure(ctx, entry.ID, faults.UserMessage(err), nextRetryAt)
		if recErr != nil {
			log.Error().Err(recErr).Msg("failed to record render failure")
			return
		}
		if updated != nil && updated.Status == models.RenderStatusFailed {
			log.Error().Err(err).Int("attempts", updated.Attempts).Msg("render failed permanently")
		} else {
			log.Warn().Err(err).Time("next_retry", nextRetryAt).Msg("render failed, rescheduled")
		}
		return
	}

	if err := w.store.CompleteRenderEntry(ctx, entry.ID, result.FinalURL); err != nil {
		log.Error().Err(err).Msg("failed to record render completion")
		return
	}
	log.Info().Str("output", result.FinalURL).Msg("render completed")
}

func (w *Worker) render(ctx context.Context, entry *models.RenderQueueEntry) (*pipeline.StitchResult, error) {
	records, err := w.store.ListProjectScenes(ctx, entry.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("staged scenes unavailable: %w", err)
	}

	style := services.DefaultSubtitleStyle()
	if entry.SubtitleStyle != nil {
		style = pipeline.SubtitleStyleFor(*entry.SubtitleStyle)
	}

	suffix := "_" + entry.ID.String()
	return w.renderer.Stitch(ctx, entry.ProjectID.String(), pipeline.StagedFromRecords(records),
		entry.AspectRatio, entry.BurnSubtitles, style, suffix)
}
