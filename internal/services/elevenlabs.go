package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/reelpipe/reelpipe/internal/faults"
	"github.com/reelpipe/reelpipe/internal/models"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// ElevenLabs Text-to-Speech Service
// Converts scene narration into speech audio via the ElevenLabs REST API.
// Model: eleven_flash_v2_5 (fast, 32 languages, ~75ms latency)
// ---------------------------------------------------------------------------

const (
	elevenLabsBaseURL      = "https://api.elevenlabs.io"
	elevenLabsDefaultModel = "eleven_flash_v2_5"
	elevenLabsOutputFormat = "mp3_44100_128"
)

// ElevenLabsService handles narration synthesis via the ElevenLabs API.
type ElevenLabsService struct {
	apiKey  string
	modelID string
	client  *http.Client
	log     zerolog.Logger
}

// Ensure ElevenLabsService implements TTSService at compile time.
var _ TTSService = (*ElevenLabsService)(nil)

func NewElevenLabsService(apiKey string, timeout time.Duration, log zerolog.Logger) *ElevenLabsService {
	return &ElevenLabsService{
		apiKey:  apiKey,
		modelID: elevenLabsDefaultModel,
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "elevenlabs").Logger(),
	}
}

type elevenLabsRequest struct {
	Text          string                   `json:"text"`
	ModelID       string                   `json:"model_id"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
	Speed         *float64                 `json:"speed,omitempty"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

// speedFor maps the template's pacing onto a delivery speed multiplier.
func speedFor(pacing models.Pacing) float64 {
	switch pacing {
	case models.PacingSlow:
		return 0.85
	case models.PacingFast:
		return 1.1
	default:
		return 1.0
	}
}

// GenerateSpeech converts text to speech using ElevenLabs.
func (s *ElevenLabsService) GenerateSpeech(ctx context.Context, text, voiceID string, pacing models.Pacing) (*TTSResponse, error) {
	if voiceID == "" {
		return nil, &faults.ValidationError{Field: "voice_id", Reason: "empty"}
	}

	speed := speedFor(pacing)
	reqBody := elevenLabsRequest{
		Text:    text,
		ModelID: s.modelID,
		Speed:   &speed,
		VoiceSettings: &elevenLabsVoiceSettings{
			Stability:       0.60, // moderate stability, some emotional range
			SimilarityBoost: 0.80,
			Style:           0.35,
			UseSpeakerBoost: true,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ElevenLabs request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		elevenLabsBaseURL, voiceID, elevenLabsOutputFormat)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create ElevenLabs request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.apiKey)

	s.log.Debug().Str("voice", voiceID).Int("text_len", len(text)).Float64("speed", speed).
		Msg("generating narration")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &faults.ProviderError{Provider: "elevenlabs", Kind: faults.KindConnection, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, faults.FromHTTPStatus("elevenlabs", resp.StatusCode, truncate(string(body), 200))
	}

	// The response body is the audio file itself.
	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &faults.ProviderError{Provider: "elevenlabs", Kind: faults.KindConnection, Err: err}
	}
	if len(audioData) == 0 {
		return nil, &faults.ProviderError{Provider: "elevenlabs", Kind: faults.KindServer,
			Err: fmt.Errorf("empty audio response")}
	}

	durationMs := estimateSpeechDuration(text, speed)
	s.log.Debug().Int("bytes", len(audioData)).Int("estimated_ms", durationMs).Msg("narration generated")

	return &TTSResponse{
		AudioData:  audioData,
		DurationMs: durationMs,
		Format:     "mp3",
	}, nil
}

// estimateSpeechDuration approximates spoken duration: ~150 words per minute
// at speed 1.0. ElevenLabs does not return duration for this endpoint.
func estimateSpeechDuration(text string, speed float64) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	baseMs := float64(words) / 150.0 * 60_000.0
	return int(baseMs / speed)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
