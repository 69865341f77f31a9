package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/reelpipe/reelpipe/internal/models"
	"github.com/reelpipe/reelpipe/internal/services"
	"github.com/rs/zerolog"
)

type fakeStore struct {
	uploads   map[string][]byte
	failPaths map[string]error
	deleted   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploads: map[string][]byte{}, failPaths: map[string]error{}}
}

func (f *fakeStore) Upload(_ context.Context, objectPath string, data []byte, _ string) error {
	if err, ok := f.failPaths[objectPath]; ok {
		return err
	}
	f.uploads[objectPath] = data
	return nil
}

func (f *fakeStore) Download(_ context.Context, objectPath string) ([]byte, error) {
	data, ok := f.uploads[objectPath]
	if !ok {
		return nil, fmt.Errorf("object %s not found", objectPath)
	}
	return data, nil
}

func (f *fakeStore) Delete(_ context.Context, objectPath string) error {
	f.deleted = append(f.deleted, objectPath)
	delete(f.uploads, objectPath)
	return nil
}

func (f *fakeStore) PublicURL(objectPath string) string {
	return "https://store.example/public/" + objectPath
}

func sceneAsset(idx int, visualURI string, visualData []byte) SceneAsset {
	return SceneAsset{
		Scene: models.Scene{
			Index:           idx,
			NarrationText:   fmt.Sprintf("narration %d", idx),
			VisualPrompt:    fmt.Sprintf("visual %d", idx),
			DurationSeconds: 15,
		},
		Narration: &services.TTSResponse{AudioData: []byte("mp3"), DurationMs: 5000, Format: "mp3"},
		Visual:    &services.SceneVideoResult{URI: visualURI, Data: visualData},
	}
}

func TestStageAssetsNaming(t *testing.T) {
	store := newFakeStore()
	s := NewStager(store, zerolog.Nop())

	staged, _ := s.StageAssets(context.Background(), "proj-1", []SceneAsset{
		sceneAsset(0, "https://cdn.provider/clip0.mp4", nil),
		sceneAsset(1, "", []byte("rawvideo")),
	})

	if len(staged) != 2 {
		t.Fatalf("staged = %d, want 2", len(staged))
	}

	if _, ok := store.uploads["proj-1/proj-1_scene_0_narration.mp3"]; !ok {
		t.Errorf("narration for scene 0 not uploaded under deterministic name, got: %v", keys(store.uploads))
	}
	if _, ok := store.uploads["proj-1/proj-1_scene_1_visual.mp4"]; !ok {
		t.Errorf("byte visual for scene 1 not uploaded, got: %v", keys(store.uploads))
	}

	// Provider-hosted clip passes through without a copy.
	if staged[0].VisualURL != "https://cdn.provider/clip0.mp4" {
		t.Errorf("hosted visual URL = %q", staged[0].VisualURL)
	}
	if staged[0].VisualPath != "" {
		t.Errorf("hosted visual should not record a bucket path, got %q", staged[0].VisualPath)
	}
	if !strings.Contains(staged[1].VisualURL, "proj-1_scene_1_visual.mp4") {
		t.Errorf("uploaded visual URL = %q", staged[1].VisualURL)
	}
}

func TestStageAssetsDropsFailedScene(t *testing.T) {
	store := newFakeStore()
	store.failPaths["proj-1/proj-1_scene_1_narration.mp3"] = errors.New("storage down")
	s := NewStager(store, zerolog.Nop())

	staged, results := s.StageAssets(context.Background(), "proj-1", []SceneAsset{
		sceneAsset(0, "https://cdn.provider/c0.mp4", nil),
		sceneAsset(1, "https://cdn.provider/c1.mp4", nil),
		sceneAsset(2, "https://cdn.provider/c2.mp4", nil),
	})

	if len(staged) != 2 {
		t.Fatalf("staged = %d, want 2 (scene 1 dropped)", len(staged))
	}
	for _, ss := range staged {
		if ss.Scene.Index == 1 {
			t.Error("failed scene 1 must not be staged")
		}
	}

	var sawFailure bool
	for _, r := range results {
		if r.SceneIndex == 1 && !r.Success {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Error("staging failure for scene 1 not reported in results")
	}
}

func TestStageAssetsVisualFailureRemovesNarration(t *testing.T) {
	store := newFakeStore()
	store.failPaths["proj-1/proj-1_scene_0_visual.mp4"] = errors.New("storage down")
	s := NewStager(store, zerolog.Nop())

	staged, results := s.StageAssets(context.Background(), "proj-1", []SceneAsset{
		sceneAsset(0, "", []byte("rawvideo")),
	})

	if len(staged) != 0 {
		t.Fatalf("staged = %d, want 0", len(staged))
	}

	// The narration upload succeeded before the visual failed; the dropped
	// scene must not leave it behind in the bucket.
	narrationPath := "proj-1/proj-1_scene_0_narration.mp3"
	if _, ok := store.uploads[narrationPath]; ok {
		t.Errorf("orphan narration %s left in bucket", narrationPath)
	}
	var sawDelete bool
	for _, p := range store.deleted {
		if p == narrationPath {
			sawDelete = true
		}
	}
	if !sawDelete {
		t.Errorf("narration %s not deleted, deleted = %v", narrationPath, store.deleted)
	}

	var sawVisualFailure bool
	for _, r := range results {
		if r.Kind == models.AssetKindVisual && !r.Success {
			sawVisualFailure = true
		}
	}
	if !sawVisualFailure {
		t.Error("visual staging failure not reported in results")
	}
}

func TestIntermediatePaths(t *testing.T) {
	staged := []StagedScene{
		{NarrationPath: "p/a.mp3", VisualPath: ""},
		{NarrationPath: "p/b.mp3", VisualPath: "p/b.mp4"},
	}
	got := IntermediatePaths(staged)
	want := []string{"p/a.mp3", "p/b.mp3", "p/b.mp4"}
	if len(got) != len(want) {
		t.Fatalf("paths = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func keys(m map[string][]byte) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}
