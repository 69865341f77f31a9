package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/reelpipe/reelpipe/internal/faults"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Veo Video Generation Service
// Uses the Google Gen AI SDK for text-to-video scene clips. Unlike the xAI
// path, Veo does not host results for us: the finished clip is downloaded
// and returned as raw bytes for the stager to upload.
// ---------------------------------------------------------------------------

const (
	defaultVeoModel    = "veo-3.1-generate-preview"
	veoPollInterval    = 10 * time.Second
	veoMaxPollDuration = 5 * time.Minute
)

// VeoService handles scene video generation via Google's Veo models.
// It is the alternate provider, selected when xAI is disabled.
type VeoService struct {
	apiKey string
	model  string
	log    zerolog.Logger
}

var _ SceneVideoService = (*VeoService)(nil)

// NewVeoService creates a new Veo video generation service.
// An empty model defaults to veo-3.1-generate-preview.
func NewVeoService(apiKey, model string, log zerolog.Logger) *VeoService {
	if model == "" {
		model = defaultVeoModel
	}
	return &VeoService{
		apiKey: apiKey,
		model:  model,
		log:    log.With().Str("component", "veo").Logger(),
	}
}

// buildVeoPrompt adds motion guidance to the raw scene prompt. Veo tends
// toward dramatic camera work; short-form vertical video reads better with
// restrained, grounded movement.
func buildVeoPrompt(rawPrompt string) string {
	return fmt.Sprintf(`%s

Motion direction: natural, realistic movement with a steady camera. Favor gentle motion over dramatic or exaggerated action. Avoid sudden jerky movements, unrealistic morphing, or overly dramatic camera swoops.

No generated audio or dialogue. Silent video only.`, rawPrompt)
}

// GenerateSceneVideo generates one scene clip and returns its raw MP4 bytes.
//
// The async operation is polled internally with a 5 minute bound. This
// blocks the calling goroutine, which fits the fan-out architecture where
// each scene is generated in its own goroutine.
func (s *VeoService) GenerateSceneVideo(ctx context.Context, prompt string, durationSec int, aspectRatio string) (*SceneVideoResult, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	enhancedPrompt := buildVeoPrompt(prompt)

	config := &genai.GenerateVideosConfig{
		AspectRatio:      aspectRatio,
		PersonGeneration: "allow_adult",
		NumberOfVideos:   1,
	}
	if durationSec > 0 {
		config.DurationSeconds = genai.Ptr(int32(durationSec))
	}

	s.log.Debug().Str("model", s.model).Int("prompt_len", len(prompt)).
		Str("aspect", aspectRatio).Msg("starting scene video generation")

	operation, err := client.Models.GenerateVideos(ctx, s.model, enhancedPrompt, nil, config)
	if err != nil {
		return nil, fmt.Errorf("failed to start video generation: %w", err)
	}

	s.log.Debug().Str("operation", operation.Name).Msg("operation started")

	deadline := time.Now().Add(veoMaxPollDuration)
	pollCount := 0
	for !operation.Done {
		if time.Now().After(deadline) {
			return nil, &faults.TimeoutError{Operation: "scene video generation",
				Err: fmt.Errorf("still running after %v (%d polls)", veoMaxPollDuration, pollCount)}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("video generation cancelled: %w", ctx.Err())
		case <-time.After(veoPollInterval):
		}

		pollCount++
		operation, err = client.Operations.GetVideosOperation(ctx, operation, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to poll operation (attempt %d): %w", pollCount, err)
		}
	}

	if len(operation.Error) > 0 {
		errJSON, _ := json.Marshal(operation.Error)
		return nil, &faults.ProviderError{Provider: "veo", Kind: faults.KindServer,
			Err: fmt.Errorf("operation failed: %s", string(errJSON))}
	}

	if operation.Response == nil {
		return nil, &faults.ProviderError{Provider: "veo", Kind: faults.KindServer,
			Err: fmt.Errorf("no response in completed operation after %d polls (operation: %s)", pollCount, operation.Name)}
	}

	// Responsible AI safety filters can silently drop videos; surface the reason.
	if operation.Response.RAIMediaFilteredCount > 0 {
		reasons := "unknown"
		if len(operation.Response.RAIMediaFilteredReasons) > 0 {
			reasons = strings.Join(operation.Response.RAIMediaFilteredReasons, ", ")
		}
		return nil, &faults.ProviderError{Provider: "veo", Kind: faults.KindServer,
			Err: fmt.Errorf("video blocked by safety filters: %d filtered, reasons: %s", operation.Response.RAIMediaFilteredCount, reasons)}
	}

	if len(operation.Response.GeneratedVideos) == 0 {
		return nil, &faults.ProviderError{Provider: "veo", Kind: faults.KindServer,
			Err: fmt.Errorf("no videos in response")}
	}

	video := operation.Response.GeneratedVideos[0]
	if video.Video == nil {
		return nil, &faults.ProviderError{Provider: "veo", Kind: faults.KindServer,
			Err: fmt.Errorf("generated video object is nil")}
	}

	downloadURI := genai.NewDownloadURIFromVideo(video.Video)
	videoBytes, err := client.Files.Download(ctx, downloadURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download generated video: %w", err)
	}
	if len(videoBytes) == 0 {
		return nil, &faults.ProviderError{Provider: "veo", Kind: faults.KindServer,
			Err: fmt.Errorf("downloaded video is empty")}
	}

	s.log.Debug().Int("bytes", len(videoBytes)).Int("polls", pollCount).Msg("scene video downloaded")

	return &SceneVideoResult{Data: videoBytes}, nil
}
