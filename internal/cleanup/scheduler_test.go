package cleanup

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/reelpipe/reelpipe/internal/models"
	"github.com/rs/zerolog"
)

type memStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*models.CleanupQueueEntry
}

func newMemStore() *memStore {
	return &memStore{entries: map[uuid.UUID]*models.CleanupQueueEntry{}}
}

func (m *memStore) add(assetType models.CleanupAssetType, url string, dueAt time.Time, maxAttempts int) *models.CleanupQueueEntry {
	e := &models.CleanupQueueEntry{
		ID:                  uuid.New(),
		ProjectID:           uuid.New(),
		AssetType:           assetType,
		AssetURL:            url,
		ScheduledDeletionAt: dueAt,
		Status:              models.CleanupStatusPending,
		MaxAttempts:         maxAttempts,
	}
	m.entries[e.ID] = e
	return e
}

func (m *memStore) DueCleanupEntries(_ context.Context, now time.Time) ([]models.CleanupQueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []models.CleanupQueueEntry
	for _, e := range m.entries {
		if e.Status == models.CleanupStatusPending && !e.ScheduledDeletionAt.After(now) {
			due = append(due, *e)
		}
	}
	return due, nil
}

func (m *memStore) CompleteCleanupEntry(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id].Status = models.CleanupStatusCompleted
	return nil
}

func (m *memStore) RecordCleanupFailure(_ context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	e.Attempts++
	e.ErrorMessage = &errMsg
	if e.Attempts >= e.MaxAttempts {
		e.Status = models.CleanupStatusFailed
	} else {
		e.ScheduledDeletionAt = retryAt
	}
	return nil
}

type fakeObjects struct {
	mu       sync.Mutex
	deleted  []string
	failPath map[string]error
}

func (f *fakeObjects) Delete(_ context.Context, objectPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failPath[objectPath]; ok {
		return err
	}
	f.deleted = append(f.deleted, objectPath)
	return nil
}

func (f *fakeObjects) ObjectPathFromURL(publicURL string) (string, error) {
	const prefix = "https://store.example/public/"
	if !strings.HasPrefix(publicURL, prefix) {
		return "", errors.New("not a bucket URL")
	}
	return strings.TrimPrefix(publicURL, prefix), nil
}

func TestSweepDeletesDueFinalVideo(t *testing.T) {
	store := newMemStore()
	objects := &fakeObjects{failPath: map[string]error{}}
	s := NewScheduler(store, objects, time.Minute, zerolog.Nop())

	created := time.Now()
	deadline := created.Add(24 * time.Hour)
	entry := store.add(models.AssetFinalVideo, "https://store.example/public/p/p_final.mp4", deadline, 3)

	// Before the retention deadline nothing happens.
	s.Sweep(context.Background(), deadline.Add(-time.Minute))
	if store.entries[entry.ID].Status != models.CleanupStatusPending {
		t.Fatal("entry processed before its deadline")
	}
	if len(objects.deleted) != 0 {
		t.Fatal("object deleted before its deadline")
	}

	// At T+24h the final video goes away.
	s.Sweep(context.Background(), deadline)
	if store.entries[entry.ID].Status != models.CleanupStatusCompleted {
		t.Fatalf("status = %s, want completed", store.entries[entry.ID].Status)
	}
	if len(objects.deleted) != 1 || objects.deleted[0] != "p/p_final.mp4" {
		t.Errorf("deleted = %v", objects.deleted)
	}
}

func TestSweepRetriesBoundedThenFails(t *testing.T) {
	store := newMemStore()
	objects := &fakeObjects{failPath: map[string]error{
		"p/p_final.mp4": errors.New("storage unavailable"),
	}}
	s := NewScheduler(store, objects, time.Minute, zerolog.Nop())

	entry := store.add(models.AssetFinalVideo, "https://store.example/public/p/p_final.mp4", time.Now().Add(-time.Hour), 3)

	var deadlines []time.Time
	for i := 0; i < 5; i++ {
		// Sweep far in the future so rescheduled entries are always due.
		s.Sweep(context.Background(), time.Now().Add(1000*time.Hour))
		e := store.entries[entry.ID]
		if e.Status == models.CleanupStatusFailed {
			break
		}
		deadlines = append(deadlines, e.ScheduledDeletionAt)
	}

	e := store.entries[entry.ID]
	if e.Status != models.CleanupStatusFailed {
		t.Fatalf("status = %s, want failed after budget", e.Status)
	}
	if e.Attempts != e.MaxAttempts {
		t.Errorf("attempts = %d, want %d", e.Attempts, e.MaxAttempts)
	}
	if e.ErrorMessage == nil || !strings.Contains(*e.ErrorMessage, "storage unavailable") {
		t.Errorf("error message = %v", e.ErrorMessage)
	}

	// Each retry was pushed further out.
	for i := 1; i < len(deadlines); i++ {
		if !deadlines[i].After(deadlines[i-1]) {
			t.Errorf("retry deadlines not increasing: %v", deadlines)
		}
	}

	// Terminal entries are skipped by later sweeps.
	s.Sweep(context.Background(), time.Now().Add(2000*time.Hour))
	if store.entries[entry.ID].Attempts != e.MaxAttempts {
		t.Error("terminal entry retried")
	}
}

func TestSweepBadURLCountsAsFailure(t *testing.T) {
	store := newMemStore()
	objects := &fakeObjects{failPath: map[string]error{}}
	s := NewScheduler(store, objects, time.Minute, zerolog.Nop())

	entry := store.add(models.AssetIntermediateAudio, "https://elsewhere.example/x.mp3", time.Now().Add(-time.Minute), 2)

	s.Sweep(context.Background(), time.Now())

	e := store.entries[entry.ID]
	if e.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", e.Attempts)
	}
	if len(objects.deleted) != 0 {
		t.Error("nothing should be deleted for an unmappable URL")
	}
}
