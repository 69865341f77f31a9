package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/reelpipe/reelpipe/internal/faults"
	"github.com/reelpipe/reelpipe/internal/models"
	"github.com/reelpipe/reelpipe/internal/planner"
	"github.com/reelpipe/reelpipe/internal/storage"
	"github.com/reelpipe/reelpipe/internal/styles"
	"github.com/rs/zerolog"
)

// JobStore is the persistence surface the orchestrator drives. Satisfied
// by *db.DB.
type JobStore interface {
	GetGenerationJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
	TransitionJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error
	CompleteGenerationJob(ctx context.Context, id uuid.UUID, finalURL string) error
	FailGenerationJob(ctx context.Context, id uuid.UUID, message string) error
	JobCancelRequested(ctx context.Context, id uuid.UUID) (bool, error)
	SaveProjectScenes(ctx context.Context, projectID uuid.UUID, scenes []models.ProjectScene) error
	CreateWebhookDelivery(ctx context.Context, d *models.WebhookDelivery) error
	CreateCleanupEntry(ctx context.Context, e *models.CleanupQueueEntry) error
}

// Timeouts bound each pipeline stage independently so one stuck provider
// cannot hold a worker slot forever.
type Timeouts struct {
	Planning   time.Duration
	Generation time.Duration
	Staging    time.Duration
	Stitching  time.Duration
}

// Orchestrator runs one generation job end to end: plan, generate, stage,
// stitch, finish. Cancellation is cooperative and checked at every stage
// boundary; work already in flight inside a stage runs to completion.
type Orchestrator struct {
	store          JobStore
	resolver       *styles.Resolver
	planner        *planner.Planner
	generator      *AssetGenerator
	stager         *Stager
	stitcher       *Stitcher
	objects        storage.Client
	timeouts       Timeouts
	webhookRetries int
	cleanupRetries int
	log            zerolog.Logger
}

func NewOrchestrator(store JobStore, resolver *styles.Resolver, plan *planner.Planner, generator *AssetGenerator, stager *Stager, stitcher *Stitcher, objects storage.Client, timeouts Timeouts, webhookRetries, cleanupRetries int, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:          store,
		resolver:       resolver,
		planner:        plan,
		generator:      generator,
		stager:         stager,
		stitcher:       stitcher,
		objects:        objects,
		timeouts:       timeouts,
		webhookRetries: webhookRetries,
		cleanupRetries: cleanupRetries,
		log:            log.With().Str("component", "orchestrator").Logger(),
	}
}

// cancelledError reports a cooperative stop at a stage boundary.
type cancelledError struct{ jobID uuid.UUID }

func (e *cancelledError) Error() string {
	return fmt.Sprintf("job %s cancelled by user", e.jobID)
}

// ProcessJob drives one dequeued job. Errors are absorbed into the job
// record and the webhook; the queue loop never retries a job itself.
func (o *Orchestrator) ProcessJob(ctx context.Context, jobID uuid.UUID) {
	log := o.log.With().Str("job_id", jobID.String()).Logger()

	job, err := o.store.GetGenerationJob(ctx, jobID)
	if err != nil {
		log.Error().Err(err).Msg("dequeued job not loadable")
		return
	}
	if job.Status.Terminal() {
		log.Warn().Str("status", string(job.Status)).Msg("dequeued job already terminal, skipping")
		return
	}

	start := time.Now()
	if err := o.runStages(ctx, job, log); err != nil {
		o.failJob(ctx, job, err, log)
		return
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("job completed")
}

func (o *Orchestrator) runStages(ctx context.Context, job *models.GenerationJob, log zerolog.Logger) error {
	// Scripting
	if err := o.checkpoint(ctx, job, models.JobStatusScripting); err != nil {
		return err
	}

	style, script, err := o.planStage(ctx, job)
	if err != nil {
		return err
	}
	log.Info().Int("scenes", len(script.Scenes)).Msg("script ready")

	// Asset generation
	if err := o.checkpoint(ctx, job, models.JobStatusGeneratingAssets); err != nil {
		return err
	}

	genCtx, cancel := context.WithTimeout(ctx, o.timeouts.Generation)
	outcome, err := o.generator.GenerateAssets(genCtx, script, style, job.AspectRatio)
	cancel()
	if err != nil {
		return err
	}

	// Staging
	if err := o.checkpoint(ctx, job, models.JobStatusStaging); err != nil {
		return err
	}

	stageCtx, cancel := context.WithTimeout(ctx, o.timeouts.Staging)
	staged, _ := o.stager.StageAssets(stageCtx, job.ID.String(), outcome.Usable)
	cancel()
	if len(staged) == 0 {
		return fmt.Errorf("no scene could be staged")
	}
	if err := o.store.SaveProjectScenes(ctx, job.ID, RecordsFromStaged(job.ID, staged)); err != nil {
		return err
	}

	// Stitching
	if err := o.checkpoint(ctx, job, models.JobStatusStitching); err != nil {
		return err
	}

	stitchCtx, cancel := context.WithTimeout(ctx, o.timeouts.Stitching)
	result, err := o.stitcher.Stitch(stitchCtx, job.ID.String(), staged, job.AspectRatio, job.BurnSubtitles, SubtitleStyleFor(style.Name), "")
	cancel()
	if err != nil {
		return err
	}

	if err := o.store.CompleteGenerationJob(ctx, job.ID, result.FinalURL); err != nil {
		return err
	}
	job.Status = models.JobStatusCompleted
	job.FinalArtifactURL = &result.FinalURL

	o.finishArtifacts(ctx, job, staged, result, log)
	o.enqueueWebhook(ctx, job, result.FinalURL, "", log)
	return nil
}

// checkpoint observes the cancellation flag, then advances the job. Both
// sides run against the conditional-update store so a concurrently
// terminal job halts the pipeline instead of being resurrected.
func (o *Orchestrator) checkpoint(ctx context.Context, job *models.GenerationJob, next models.JobStatus) error {
	cancelled, err := o.store.JobCancelRequested(ctx, job.ID)
	if err != nil {
		return err
	}
	if cancelled {
		return &cancelledError{jobID: job.ID}
	}
	if err := o.store.TransitionJobStatus(ctx, job.ID, next); err != nil {
		return err
	}
	job.Status = next
	return nil
}

func (o *Orchestrator) planStage(ctx context.Context, job *models.GenerationJob) (*models.TemplateStyle, *models.VideoScript, error) {
	planCtx, cancel := context.WithTimeout(ctx, o.timeouts.Planning)
	defer cancel()

	style, err := o.resolver.Resolve(planCtx, job.TemplateID)
	if err != nil {
		return nil, nil, err
	}
	if job.VoiceID != nil && *job.VoiceID != "" {
		style.VoiceID = *job.VoiceID
	}

	script, err := o.planner.PlanScript(planCtx, job.Prompt, job.TargetDuration, style)
	if err != nil {
		return nil, nil, err
	}
	return style, script, nil
}

// finishArtifacts deletes intermediates right away and schedules the
// final video for deletion after its retention window. Deletion failures
// here are logged, not fatal: the sweep retries orphans.
func (o *Orchestrator) finishArtifacts(ctx context.Context, job *models.GenerationJob, staged []StagedScene, result *StitchResult, log zerolog.Logger) {
	for _, path := range IntermediatePaths(staged) {
		if err := o.objects.Delete(ctx, path); err != nil {
			assetType := models.AssetIntermediateAudio
			if strings.HasSuffix(path, ".mp4") {
				assetType = models.AssetIntermediateVideo
			}
			log.Warn().Err(err).Str("object", path).Msg("intermediate delete failed, queueing for sweep")
			o.scheduleCleanup(ctx, job.ID, assetType, o.objects.PublicURL(path), time.Now(), log)
		}
	}

	retention := time.Duration(models.AssetFinalVideo.RetentionHours()) * time.Hour
	o.scheduleCleanup(ctx, job.ID, models.AssetFinalVideo, result.FinalURL, time.Now().Add(retention), log)
}

func (o *Orchestrator) scheduleCleanup(ctx context.Context, projectID uuid.UUID, assetType models.CleanupAssetType, url string, deleteAt time.Time, log zerolog.Logger) {
	entry := &models.CleanupQueueEntry{
		ID:                  uuid.New(),
		ProjectID:           projectID,
		AssetType:           assetType,
		AssetURL:            url,
		ScheduledDeletionAt: deleteAt,
		Status:              models.CleanupStatusPending,
		MaxAttempts:         o.cleanupRetries,
	}
	if err := o.store.CreateCleanupEntry(ctx, entry); err != nil {
		log.Error().Err(err).Str("asset_url", url).Msg("failed to schedule cleanup")
	}
}

func (o *Orchestrator) enqueueWebhook(ctx context.Context, job *models.GenerationJob, finalURL, errMsg string, log zerolog.Logger) {
	if job.WebhookURL == nil || *job.WebhookURL == "" {
		return
	}

	payload, err := json.Marshal(models.WebhookPayload{
		ProjectID:        job.ID,
		Status:           job.Status,
		FinalArtifactURL: finalURL,
		Error:            errMsg,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal webhook payload")
		return
	}

	delivery := &models.WebhookDelivery{
		ID:          uuid.New(),
		ProjectID:   job.ID,
		URL:         *job.WebhookURL,
		Payload:     payload,
		Status:      models.WebhookStatusPending,
		MaxAttempts: o.webhookRetries,
	}
	if err := o.store.CreateWebhookDelivery(ctx, delivery); err != nil {
		log.Error().Err(err).Msg("failed to enqueue webhook delivery")
	}
}

func (o *Orchestrator) failJob(ctx context.Context, job *models.GenerationJob, cause error, log zerolog.Logger) {
	if _, ok := cause.(*cancelledError); ok {
		log.Info().Msg("job cancelled at stage boundary")
		if err := o.store.FailGenerationJob(ctx, job.ID, "cancelled by user"); err != nil {
			log.Error().Err(err).Msg("failed to record cancellation")
		}
		job.Status = models.JobStatusFailed
		o.enqueueWebhook(ctx, job, "", "cancelled by user", log)
		return
	}

	message := faults.UserMessage(cause)
	log.Error().Err(cause).Str("user_message", message).Msg("job failed")

	if err := o.store.FailGenerationJob(ctx, job.ID, message); err != nil {
		log.Error().Err(err).Msg("failed to record job failure")
	}
	job.Status = models.JobStatusFailed
	o.enqueueWebhook(ctx, job, "", message, log)
}
