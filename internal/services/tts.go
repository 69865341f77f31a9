package services

import (
	"context"

	"github.com/reelpipe/reelpipe/internal/models"
)

// ---------------------------------------------------------------------------
// TTSService — common interface for narration synthesis providers.
// The pipeline depends on this interface so a provider can be swapped or
// faked in tests without touching the orchestration code.
// ---------------------------------------------------------------------------

// TTSResponse is the common response type from any narration provider.
type TTSResponse struct {
	AudioData  []byte
	DurationMs int
	Format     string // "mp3", "wav", etc.
}

// TTSService synthesizes narration audio for a single scene.
type TTSService interface {
	// GenerateSpeech converts text to audio. voiceID selects the template's
	// (or caller-overridden) voice; pacing nudges the delivery speed.
	GenerateSpeech(ctx context.Context, text, voiceID string, pacing models.Pacing) (*TTSResponse, error)
}
