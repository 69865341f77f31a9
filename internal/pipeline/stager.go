package pipeline

import (
	"context"

	"github.com/reelpipe/reelpipe/internal/models"
	"github.com/reelpipe/reelpipe/internal/storage"
	"github.com/rs/zerolog"
)

// StagedScene is a scene whose media now lives at stable URLs: narration
// always in our bucket, the visual either in our bucket (when the provider
// returned raw bytes) or at the provider's hosted URL.
type StagedScene struct {
	Scene         models.Scene
	NarrationURL  string
	NarrationPath string
	VisualURL     string
	VisualPath    string // empty when the visual is provider-hosted
}

// Stager persists generated media under deterministic per-project object
// names so renders can be re-run from staged assets without regenerating.
type Stager struct {
	store storage.Client
	log   zerolog.Logger
}

func NewStager(store storage.Client, log zerolog.Logger) *Stager {
	return &Stager{
		store: store,
		log:   log.With().Str("component", "stager").Logger(),
	}
}

// StageAssets uploads each usable scene's media. Staging is best-effort
// per scene: a failed upload drops that scene from the stitch set rather
// than failing the job, and the failure is reported in the returned
// results for observability.
func (s *Stager) StageAssets(ctx context.Context, projectID string, assets []SceneAsset) ([]StagedScene, []models.SceneAssetResult) {
	var staged []StagedScene
	var results []models.SceneAssetResult

	for _, asset := range assets {
		idx := asset.Scene.Index

		narrationPath := storage.ScenePath(projectID, idx, string(models.AssetKindNarration), asset.Narration.Format)
		if err := s.store.Upload(ctx, narrationPath, asset.Narration.AudioData, "audio/mpeg"); err != nil {
			s.log.Warn().Err(err).Int("scene", idx).Msg("narration staging failed, scene dropped")
			results = append(results, models.SceneAssetResult{
				SceneIndex: idx, Kind: models.AssetKindNarration, Success: false, Err: err.Error(),
			})
			continue
		}

		ss := StagedScene{
			Scene:         asset.Scene,
			NarrationURL:  s.store.PublicURL(narrationPath),
			NarrationPath: narrationPath,
		}
		results = append(results, models.SceneAssetResult{
			SceneIndex: idx, Kind: models.AssetKindNarration, Success: true, URI: ss.NarrationURL,
		})

		switch {
		case asset.Visual.URI != "":
			// Provider-hosted clip, no copy needed.
			ss.VisualURL = asset.Visual.URI
		default:
			visualPath := storage.ScenePath(projectID, idx, string(models.AssetKindVisual), "mp4")
			if err := s.store.Upload(ctx, visualPath, asset.Visual.Data, "video/mp4"); err != nil {
				s.log.Warn().Err(err).Int("scene", idx).Msg("visual staging failed, scene dropped")
				results = append(results, models.SceneAssetResult{
					SceneIndex: idx, Kind: models.AssetKindVisual, Success: false, Err: err.Error(),
				})
				// The dropped scene's narration is already in the bucket and
				// will never reach IntermediatePaths; remove it now.
				if delErr := s.store.Delete(ctx, narrationPath); delErr != nil {
					s.log.Warn().Err(delErr).Int("scene", idx).Msg("orphan narration delete failed")
				}
				continue
			}
			ss.VisualURL = s.store.PublicURL(visualPath)
			ss.VisualPath = visualPath
		}

		results = append(results, models.SceneAssetResult{
			SceneIndex: idx, Kind: models.AssetKindVisual, Success: true, URI: ss.VisualURL,
		})
		staged = append(staged, ss)
	}

	s.log.Info().Int("staged", len(staged)).Int("dropped", len(assets)-len(staged)).
		Msg("scene assets staged")

	return staged, results
}

// IntermediatePaths lists every object the stager wrote for these scenes.
// Used by cleanup to delete intermediates once the final video exists.
func IntermediatePaths(staged []StagedScene) []string {
	var paths []string
	for _, ss := range staged {
		if ss.NarrationPath != "" {
			paths = append(paths, ss.NarrationPath)
		}
		if ss.VisualPath != "" {
			paths = append(paths, ss.VisualPath)
		}
	}
	return paths
}
