package renderqueue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/reelpipe/reelpipe/internal/faults"
	"github.com/reelpipe/reelpipe/internal/models"
	"github.com/reelpipe/reelpipe/internal/pipeline"
	"github.com/reelpipe/reelpipe/internal/services"
	"github.com/rs/zerolog"
)

// memStore mirrors the durable queue's claim semantics: one claimer wins
// a pending, due entry; everything else sees nothing.
type memStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*models.RenderQueueEntry
	scenes  map[uuid.UUID][]models.ProjectScene
	claims  []uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{
		entries: map[uuid.UUID]*models.RenderQueueEntry{},
		scenes:  map[uuid.UUID][]models.ProjectScene{},
	}
}

func (m *memStore) CreateRenderEntry(_ context.Context, e *models.RenderQueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.CreatedAt = time.Now()
	copied := *e
	m.entries[e.ID] = &copied
	return nil
}

func (m *memStore) GetRenderEntry(_ context.Context, id uuid.UUID) (*models.RenderQueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, &faults.NotFoundError{Entity: "render entry", ID: id.String()}
	}
	copied := *e
	return &copied, nil
}

func (m *memStore) ClaimNextRenderEntry(_ context.Context) (*models.RenderQueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []*models.RenderQueueEntry
	now := time.Now()
	for _, e := range m.entries {
		if e.Status != models.RenderStatusPending {
			continue
		}
		if e.NextRetryAt != nil && e.NextRetryAt.After(now) {
			continue
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	winner := candidates[0]
	winner.Status = models.RenderStatusProcessing
	m.claims = append(m.claims, winner.ID)
	copied := *winner
	return &copied, nil
}

func (m *memStore) CompleteRenderEntry(_ context.Context, id uuid.UUID, outputURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	if e.Status != models.RenderStatusProcessing {
		return errors.New("entry not processing")
	}
	e.Status = models.RenderStatusCompleted
	e.OutputURL = &outputURL
	return nil
}

func (m *memStore) RecordRenderFailure(_ context.Context, id uuid.UUID, errMsg string, nextRetryAt time.Time) (*models.RenderQueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	if e.Status != models.RenderStatusProcessing || e.Attempts >= e.MaxAttempts {
		return nil, errors.New("entry not retryable")
	}
	e.Attempts++
	e.ErrorMessage = &errMsg
	if e.Attempts >= e.MaxAttempts {
		e.Status = models.RenderStatusFailed
		e.NextRetryAt = nil
	} else {
		e.Status = models.RenderStatusPending
		e.NextRetryAt = &nextRetryAt
	}
	copied := *e
	return &copied, nil
}

func (m *memStore) ListProjectScenes(_ context.Context, projectID uuid.UUID) ([]models.ProjectScene, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	scenes, ok := m.scenes[projectID]
	if !ok {
		return nil, &faults.NotFoundError{Entity: "project scenes", ID: projectID.String()}
	}
	return scenes, nil
}

type fakeRenderer struct {
	mu    sync.Mutex
	calls int
	fail  int // fail this many calls before succeeding
}

func (f *fakeRenderer) Stitch(_ context.Context, projectID string, _ []pipeline.StagedScene, _ string, _ bool, _ services.SubtitleStyle, suffix string) (*pipeline.StitchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail > 0 {
		f.fail--
		return nil, errors.New("composition failed")
	}
	return &pipeline.StitchResult{
		FinalURL:        "https://store.example/" + projectID + "/final" + suffix + ".mp4",
		FinalObjectPath: projectID + "/final" + suffix + ".mp4",
	}, nil
}

func seedProject(store *memStore) uuid.UUID {
	projectID := uuid.New()
	store.scenes[projectID] = []models.ProjectScene{
		{ProjectID: projectID, Index: 0, DurationSeconds: 15, NarrationURL: "u", NarrationPath: "p", VisualURL: "v", VisualPath: "q"},
	}
	return projectID
}

func newTestWorker(store *memStore, renderer Renderer, maxAttempts int) *Worker {
	return NewWorker(store, renderer, 1, 10*time.Millisecond, maxAttempts, time.Second, zerolog.Nop())
}

func TestCreateRenderJobValidates(t *testing.T) {
	store := newMemStore()
	w := newTestWorker(store, &fakeRenderer{}, 3)

	projectID := seedProject(store)

	if _, err := w.CreateRenderJob(context.Background(), &models.CreateRenderRequest{
		ProjectID: projectID, AspectRatio: "4:3",
	}); err == nil {
		t.Error("unsupported aspect ratio accepted")
	}

	if _, err := w.CreateRenderJob(context.Background(), &models.CreateRenderRequest{
		ProjectID: uuid.New(), AspectRatio: "9:16",
	}); err == nil {
		t.Error("render accepted for project with no staged scenes")
	}

	entry, err := w.CreateRenderJob(context.Background(), &models.CreateRenderRequest{
		ProjectID: projectID, AspectRatio: "9:16", Priority: 5,
	})
	if err != nil {
		t.Fatalf("CreateRenderJob error: %v", err)
	}
	if entry.Status != models.RenderStatusPending || entry.MaxAttempts != 3 {
		t.Errorf("entry = %+v", entry)
	}
}

func TestClaimExclusivity(t *testing.T) {
	store := newMemStore()
	projectID := seedProject(store)

	w := newTestWorker(store, &fakeRenderer{}, 3)
	entry, err := w.CreateRenderJob(context.Background(), &models.CreateRenderRequest{
		ProjectID: projectID, AspectRatio: "16:9",
	})
	if err != nil {
		t.Fatal(err)
	}

	// Many concurrent claimers; exactly one may win the single entry.
	var wg sync.WaitGroup
	wins := make(chan *models.RenderQueueEntry, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := store.ClaimNextRenderEntry(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			if got != nil {
				wins <- got
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners int
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Fatalf("claims = %d, want exactly 1", winners)
	}

	got, _ := store.GetRenderEntry(context.Background(), entry.ID)
	if got.Status != models.RenderStatusProcessing {
		t.Errorf("claimed entry status = %s", got.Status)
	}
}

func TestClaimOrderPriorityThenAge(t *testing.T) {
	store := newMemStore()
	projectID := seedProject(store)
	w := newTestWorker(store, &fakeRenderer{}, 3)

	lowOld, _ := w.CreateRenderJob(context.Background(), &models.CreateRenderRequest{ProjectID: projectID, AspectRatio: "16:9", Priority: 1})
	time.Sleep(2 * time.Millisecond)
	highNew, _ := w.CreateRenderJob(context.Background(), &models.CreateRenderRequest{ProjectID: projectID, AspectRatio: "16:9", Priority: 9})
	time.Sleep(2 * time.Millisecond)
	highNewer, _ := w.CreateRenderJob(context.Background(), &models.CreateRenderRequest{ProjectID: projectID, AspectRatio: "16:9", Priority: 9})

	var order []uuid.UUID
	for {
		e, err := store.ClaimNextRenderEntry(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if e == nil {
			break
		}
		order = append(order, e.ID)
	}

	want := []uuid.UUID{highNew.ID, highNewer.ID, lowOld.ID}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("claim order = %v, want %v", order, want)
		}
	}
}

func TestProcessCompletesEntry(t *testing.T) {
	store := newMemStore()
	projectID := seedProject(store)
	renderer := &fakeRenderer{}
	w := newTestWorker(store, renderer, 3)

	entry, _ := w.CreateRenderJob(context.Background(), &models.CreateRenderRequest{ProjectID: projectID, AspectRatio: "9:16"})

	claimed, _ := store.ClaimNextRenderEntry(context.Background())
	w.process(context.Background(), claimed, zerolog.Nop())

	got, _ := store.GetRenderEntry(context.Background(), entry.ID)
	if got.Status != models.RenderStatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.OutputURL == nil {
		t.Fatal("no output URL recorded")
	}
}

func TestAttemptsNeverExceedBudgetAndTerminalStaysTerminal(t *testing.T) {
	store := newMemStore()
	projectID := seedProject(store)
	renderer := &fakeRenderer{fail: 100}
	w := newTestWorker(store, renderer, 3)

	entry, _ := w.CreateRenderJob(context.Background(), &models.CreateRenderRequest{ProjectID: projectID, AspectRatio: "9:16"})

	// Drive claims until the queue refuses to hand the entry out again.
	for i := 0; i < 10; i++ {
		claimed, err := store.ClaimNextRenderEntry(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if claimed == nil {
			// Not due yet or terminal; force due retries to be claimable.
			e, _ := store.GetRenderEntry(context.Background(), entry.ID)
			if e.Status == models.RenderStatusFailed {
				break
			}
			store.mu.Lock()
			past := time.Now().Add(-time.Second)
			store.entries[entry.ID].NextRetryAt = &past
			store.mu.Unlock()
			continue
		}
		w.process(context.Background(), claimed, zerolog.Nop())
	}

	got, _ := store.GetRenderEntry(context.Background(), entry.ID)
	if got.Status != models.RenderStatusFailed {
		t.Fatalf("status = %s, want failed after budget exhaustion", got.Status)
	}
	if got.Attempts != got.MaxAttempts {
		t.Errorf("attempts = %d, want exactly %d", got.Attempts, got.MaxAttempts)
	}

	// A terminal entry is never claimable again.
	if claimed, _ := store.ClaimNextRenderEntry(context.Background()); claimed != nil {
		t.Errorf("terminal entry reclaimed: %+v", claimed)
	}
	renderer.mu.Lock()
	defer renderer.mu.Unlock()
	if renderer.calls != got.MaxAttempts {
		t.Errorf("renderer called %d times, want %d", renderer.calls, got.MaxAttempts)
	}
}

func TestFailureSchedulesLaterRetry(t *testing.T) {
	store := newMemStore()
	projectID := seedProject(store)
	w := newTestWorker(store, &fakeRenderer{fail: 1}, 3)

	entry, _ := w.CreateRenderJob(context.Background(), &models.CreateRenderRequest{ProjectID: projectID, AspectRatio: "9:16"})

	claimed, _ := store.ClaimNextRenderEntry(context.Background())
	before := time.Now()
	w.process(context.Background(), claimed, zerolog.Nop())

	got, _ := store.GetRenderEntry(context.Background(), entry.ID)
	if got.Status != models.RenderStatusPending {
		t.Fatalf("status = %s, want pending for retry", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.After(before) {
		t.Errorf("next retry %v not in the future", got.NextRetryAt)
	}

	// Not claimable until the retry time arrives.
	if claimed, _ := store.ClaimNextRenderEntry(context.Background()); claimed != nil {
		t.Error("entry claimed before its retry time")
	}
}
