package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/reelpipe/reelpipe/internal/faults"
	"github.com/reelpipe/reelpipe/internal/models"
	"github.com/reelpipe/reelpipe/internal/planner"
	"github.com/reelpipe/reelpipe/internal/services"
	"github.com/reelpipe/reelpipe/internal/styles"
	"github.com/rs/zerolog"
)

type fakeJobStore struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]*models.GenerationJob
	transitions []models.JobStatus
	scenes      map[uuid.UUID][]models.ProjectScene
	webhooks    []*models.WebhookDelivery
	cleanups    []*models.CleanupQueueEntry
	cancelled   map[uuid.UUID]bool
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		jobs:      map[uuid.UUID]*models.GenerationJob{},
		scenes:    map[uuid.UUID][]models.ProjectScene{},
		cancelled: map[uuid.UUID]bool{},
	}
}

func (f *fakeJobStore) GetGenerationJob(_ context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, &faults.NotFoundError{Entity: "generation job", ID: id.String()}
	}
	copied := *job
	return &copied, nil
}

func (f *fakeJobStore) TransitionJobStatus(_ context.Context, id uuid.UUID, status models.JobStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[id]
	if job.Status.Terminal() {
		return errors.New("terminal job cannot transition")
	}
	job.Status = status
	f.transitions = append(f.transitions, status)
	return nil
}

func (f *fakeJobStore) CompleteGenerationJob(_ context.Context, id uuid.UUID, finalURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[id]
	if job.Status.Terminal() {
		return errors.New("terminal job cannot complete")
	}
	job.Status = models.JobStatusCompleted
	job.FinalArtifactURL = &finalURL
	return nil
}

func (f *fakeJobStore) FailGenerationJob(_ context.Context, id uuid.UUID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[id]
	if job.Status.Terminal() {
		return nil
	}
	job.Status = models.JobStatusFailed
	job.ErrorMessage = &message
	return nil
}

func (f *fakeJobStore) JobCancelRequested(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled[id], nil
}

func (f *fakeJobStore) SaveProjectScenes(_ context.Context, projectID uuid.UUID, scenes []models.ProjectScene) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scenes[projectID] = scenes
	return nil
}

func (f *fakeJobStore) CreateWebhookDelivery(_ context.Context, d *models.WebhookDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhooks = append(f.webhooks, d)
	return nil
}

func (f *fakeJobStore) CreateCleanupEntry(_ context.Context, e *models.CleanupQueueEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, e)
	return nil
}

type scriptModelStub struct {
	err error
}

func (s *scriptModelStub) DraftScript(_ context.Context, _ string, sceneCount, _ int, _ models.Pacing) (*models.ScriptDraft, error) {
	if s.err != nil {
		return nil, s.err
	}
	draft := &models.ScriptDraft{Title: "Test Video"}
	for i := 0; i < sceneCount; i++ {
		draft.Scenes = append(draft.Scenes, models.DraftScene{
			Narration: "Some narration text.",
			Visual:    "A wide shot of a city street",
		})
	}
	return draft, nil
}

type fakeTemplates struct{ style *models.TemplateStyle }

func (f *fakeTemplates) GetTemplateStyle(_ context.Context, id uuid.UUID) (*models.TemplateStyle, error) {
	if f.style == nil {
		return nil, &faults.NotFoundError{Entity: "template", ID: id.String()}
	}
	copied := *f.style
	return &copied, nil
}

type orchestratorFixture struct {
	orch   *Orchestrator
	store  *fakeJobStore
	object *fakeStore
	runner *recordingRunner
	job    *models.GenerationJob
}

func newOrchestratorFixture(t *testing.T, model planner.ScriptModel, templates styles.TemplateStore) *orchestratorFixture {
	t.Helper()

	jobStore := newFakeJobStore()
	objects := newFakeStore()
	runner := &recordingRunner{}
	ff := services.NewFFmpegService(t.TempDir(), runner, zerolog.Nop())

	timeouts := Timeouts{
		Planning:   time.Second,
		Generation: time.Second,
		Staging:    time.Second,
		Stitching:  time.Second,
	}

	orch := NewOrchestrator(
		jobStore,
		styles.NewResolver(templates, zerolog.Nop()),
		planner.NewPlanner(model, zerolog.Nop()),
		newGenerator(&fakeTTS{}, &fakeSceneVideo{returnData: true}, false),
		NewStager(objects, zerolog.Nop()),
		NewStitcher(ff, objects, zerolog.Nop()),
		objects,
		timeouts,
		5, 3,
		zerolog.Nop(),
	)

	webhook := "https://caller.example/hook"
	job := &models.GenerationJob{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		Prompt:         strings.TrimSpace(strings.Repeat("word ", 40)),
		TemplateID:     uuid.New(),
		TargetDuration: 45,
		AspectRatio:    "9:16",
		BurnSubtitles:  true,
		WebhookURL:     &webhook,
		Status:         models.JobStatusQueued,
	}
	jobStore.jobs[job.ID] = job

	return &orchestratorFixture{orch: orch, store: jobStore, object: objects, runner: runner, job: job}
}

func defaultTemplates() *fakeTemplates {
	return &fakeTemplates{style: &models.TemplateStyle{
		Name: "cinematic", VoiceID: "voice-1", MotionStrength: 2,
	}}
}

func TestProcessJobHappyPath(t *testing.T) {
	fx := newOrchestratorFixture(t, &scriptModelStub{}, defaultTemplates())

	fx.orch.ProcessJob(context.Background(), fx.job.ID)

	job := fx.store.jobs[fx.job.ID]
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s, want completed (err=%v)", job.Status, job.ErrorMessage)
	}
	if job.FinalArtifactURL == nil || !strings.Contains(*job.FinalArtifactURL, "_final.mp4") {
		t.Errorf("final artifact URL = %v", job.FinalArtifactURL)
	}

	want := []models.JobStatus{
		models.JobStatusScripting,
		models.JobStatusGeneratingAssets,
		models.JobStatusStaging,
		models.JobStatusStitching,
	}
	if len(fx.store.transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", fx.store.transitions, want)
	}
	for i, s := range want {
		if fx.store.transitions[i] != s {
			t.Errorf("transition %d = %s, want %s", i, fx.store.transitions[i], s)
		}
	}

	if len(fx.store.scenes[fx.job.ID]) != 3 {
		t.Errorf("persisted scenes = %d, want 3", len(fx.store.scenes[fx.job.ID]))
	}
}

func TestProcessJobUsesTemplateSubtitleStyle(t *testing.T) {
	fx := newOrchestratorFixture(t, &scriptModelStub{}, &fakeTemplates{style: &models.TemplateStyle{
		Name: "bold", VoiceID: "voice-1", MotionStrength: 2,
	}})

	fx.orch.ProcessJob(context.Background(), fx.job.ID)

	job := fx.store.jobs[fx.job.ID]
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s, want completed (err=%v)", job.Status, job.ErrorMessage)
	}

	if fx.runner.assContent == "" {
		t.Fatal("no subtitle file was burned in")
	}
	// The bold template captions at size 84, not the default 64.
	if !strings.Contains(fx.runner.assContent, "Style: Default,Noto Sans,84,") {
		t.Errorf("burned subtitles do not use the bold template style:\n%s", fx.runner.assContent)
	}
}

func TestProcessJobSchedulesRetentionAndWebhook(t *testing.T) {
	fx := newOrchestratorFixture(t, &scriptModelStub{}, defaultTemplates())

	before := time.Now()
	fx.orch.ProcessJob(context.Background(), fx.job.ID)

	var finalEntry *models.CleanupQueueEntry
	for _, e := range fx.store.cleanups {
		if e.AssetType == models.AssetFinalVideo {
			finalEntry = e
		}
	}
	if finalEntry == nil {
		t.Fatal("no final-video cleanup entry scheduled")
	}

	wantEarliest := before.Add(24 * time.Hour)
	if finalEntry.ScheduledDeletionAt.Before(wantEarliest.Add(-time.Minute)) ||
		finalEntry.ScheduledDeletionAt.After(time.Now().Add(24*time.Hour).Add(time.Minute)) {
		t.Errorf("final video deletion at %v, want ~24h out", finalEntry.ScheduledDeletionAt)
	}

	// Intermediates were deleted synchronously, not queued.
	for _, e := range fx.store.cleanups {
		if e.AssetType != models.AssetFinalVideo {
			t.Errorf("intermediate queued for deferred cleanup: %s", e.AssetURL)
		}
	}
	var deletedNarration bool
	for _, path := range fx.object.deleted {
		if strings.Contains(path, "narration") {
			deletedNarration = true
		}
	}
	if !deletedNarration {
		t.Error("staged narration intermediates not deleted after stitch")
	}

	if len(fx.store.webhooks) != 1 {
		t.Fatalf("webhooks = %d, want 1", len(fx.store.webhooks))
	}
	wh := fx.store.webhooks[0]
	if !strings.Contains(string(wh.Payload), `"completed"`) {
		t.Errorf("webhook payload = %s", wh.Payload)
	}
}

func TestProcessJobCancelledAtBoundary(t *testing.T) {
	fx := newOrchestratorFixture(t, &scriptModelStub{}, defaultTemplates())
	fx.store.cancelled[fx.job.ID] = true

	fx.orch.ProcessJob(context.Background(), fx.job.ID)

	job := fx.store.jobs[fx.job.ID]
	if job.Status != models.JobStatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.ErrorMessage == nil || !strings.Contains(*job.ErrorMessage, "cancelled") {
		t.Errorf("error message = %v", job.ErrorMessage)
	}
	if len(fx.store.transitions) != 0 {
		t.Errorf("cancelled job advanced stages: %v", fx.store.transitions)
	}
	if len(fx.store.webhooks) != 1 {
		t.Errorf("webhooks = %d, want 1 failure notification", len(fx.store.webhooks))
	}
}

func TestProcessJobPlanningFailure(t *testing.T) {
	model := &scriptModelStub{err: &faults.PlanningError{Reason: "model returned garbage"}}
	fx := newOrchestratorFixture(t, model, defaultTemplates())

	fx.orch.ProcessJob(context.Background(), fx.job.ID)

	job := fx.store.jobs[fx.job.ID]
	if job.Status != models.JobStatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.FinalArtifactURL != nil {
		t.Error("failed job must not carry a final artifact")
	}
	if len(fx.store.scenes[fx.job.ID]) != 0 {
		t.Error("no scenes should be staged for a job that failed planning")
	}
}

func TestProcessJobUnknownTemplateFailsFast(t *testing.T) {
	fx := newOrchestratorFixture(t, &scriptModelStub{}, &fakeTemplates{})

	fx.orch.ProcessJob(context.Background(), fx.job.ID)

	job := fx.store.jobs[fx.job.ID]
	if job.Status != models.JobStatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
}

func TestProcessJobSkipsTerminal(t *testing.T) {
	fx := newOrchestratorFixture(t, &scriptModelStub{}, defaultTemplates())
	fx.store.jobs[fx.job.ID].Status = models.JobStatusCompleted

	fx.orch.ProcessJob(context.Background(), fx.job.ID)

	if len(fx.store.transitions) != 0 {
		t.Errorf("terminal job was re-run: %v", fx.store.transitions)
	}
}
