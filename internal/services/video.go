package services

import "context"

// ---------------------------------------------------------------------------
// SceneVideoService — common interface for scene-visual synthesis providers.
// ---------------------------------------------------------------------------

// SceneVideoResult carries a generated scene clip. Providers that host the
// output (xAI) set URI and the stager passes it through unchanged; providers
// that return raw content (Veo) set Data and the stager uploads it.
type SceneVideoResult struct {
	URI  string
	Data []byte
}

// SceneVideoService generates one visual clip for a scene.
type SceneVideoService interface {
	GenerateSceneVideo(ctx context.Context, prompt string, durationSec int, aspectRatio string) (*SceneVideoResult, error)
}
