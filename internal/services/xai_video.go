package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/reelpipe/reelpipe/internal/faults"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// xAI Grok Imagine Video Generation Service
// Generates scene clips from text prompts via the xAI REST API.
// Follows a deferred request pattern: submit generation → poll by request_id.
// The completed response carries a hosted URL, which is returned as-is so
// the stager can pass it through without re-uploading.
// ---------------------------------------------------------------------------

const (
	xaiBaseURL           = "https://api.x.ai/v1"
	xaiVideoModel        = "grok-imagine-video"
	xaiInitialDelay      = 15 * time.Second // videos typically take 30-40s
	xaiPollMinInterval   = 5 * time.Second
	xaiPollMaxInterval   = 20 * time.Second
	xaiPollBackoffFactor = 1.5
	xaiMinDuration       = 1
	xaiMaxDuration       = 15
	xaiDefaultResolution = "720p"
)

// XAIVideoService handles scene video generation via xAI Grok Imagine.
type XAIVideoService struct {
	apiKey      string
	httpClient  *http.Client
	maxPollTime time.Duration
	log         zerolog.Logger
}

var _ SceneVideoService = (*XAIVideoService)(nil)

// NewXAIVideoService creates a new xAI video generation service.
// maxPollTime bounds the whole submit+poll cycle per scene.
func NewXAIVideoService(apiKey string, maxPollTime time.Duration, log zerolog.Logger) *XAIVideoService {
	return &XAIVideoService{
		apiKey:      apiKey,
		maxPollTime: maxPollTime,
		httpClient: &http.Client{
			Timeout: 30 * time.Second, // per HTTP call, not the poll cycle
		},
		log: log.With().Str("component", "xai_video").Logger(),
	}
}

type xaiGenerationRequest struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model"`
	Duration    int    `json:"duration,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
}

type xaiGenerationResponse struct {
	RequestID string `json:"request_id"`
}

// xaiVideoResult is the response from GET /v1/videos/{request_id}.
//
// xAI returns different shapes per state:
//   - Pending:   {"status":"pending"}
//   - Completed: {"video":{"url":"...","duration":8},"model":"..."} (no status field)
//   - Failed:    {"status":"failed","error":"..."}
type xaiVideoResult struct {
	Status string          `json:"status"`
	Video  *xaiVideoOutput `json:"video,omitempty"`
	Model  string          `json:"model,omitempty"`
	Error  string          `json:"error"`
}

type xaiVideoOutput struct {
	URL      string `json:"url"`
	Duration int    `json:"duration"`
}

// GenerateSceneVideo generates one scene clip and returns its hosted URL.
// durationSec is clamped to xAI's 1-15s range.
func (s *XAIVideoService) GenerateSceneVideo(ctx context.Context, prompt string, durationSec int, aspectRatio string) (*SceneVideoResult, error) {
	if durationSec < xaiMinDuration {
		durationSec = xaiMinDuration
	}
	if durationSec > xaiMaxDuration {
		durationSec = xaiMaxDuration
	}

	reqBody := xaiGenerationRequest{
		Prompt:      prompt,
		Model:       xaiVideoModel,
		Duration:    durationSec,
		AspectRatio: aspectRatio,
		Resolution:  xaiDefaultResolution,
	}

	s.log.Debug().Int("prompt_len", len(prompt)).Int("duration_s", durationSec).
		Str("aspect", aspectRatio).Msg("submitting scene video generation")

	requestID, err := s.submitGeneration(ctx, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to submit scene video generation: %w", err)
	}

	s.log.Debug().Str("request_id", requestID).Msg("generation submitted, polling")

	result, err := s.pollForResult(ctx, requestID)
	if err != nil {
		return nil, err
	}

	s.log.Debug().Str("request_id", requestID).Int("duration_s", result.Video.Duration).
		Msg("scene video ready")

	return &SceneVideoResult{URI: result.Video.URL}, nil
}

func (s *XAIVideoService) submitGeneration(ctx context.Context, reqBody xaiGenerationRequest) (string, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, xaiBaseURL+"/videos/generations", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", &faults.ProviderError{Provider: "xai", Kind: faults.KindConnection, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &faults.ProviderError{Provider: "xai", Kind: faults.KindConnection, Err: err}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", faults.FromHTTPStatus("xai", resp.StatusCode, truncate(string(body), 200))
	}

	var genResp xaiGenerationResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return "", fmt.Errorf("failed to parse generation response: %w (body: %s)", err, truncate(string(body), 200))
	}
	if genResp.RequestID == "" {
		return "", &faults.ProviderError{Provider: "xai", Kind: faults.KindServer,
			Err: fmt.Errorf("no request_id in generation response")}
	}

	return genResp.RequestID, nil
}

// pollForResult polls GET /v1/videos/{request_id} until the video is ready,
// the generation fails, or the configured bound elapses. Poll intervals grow
// from 5s by 1.5x up to a 20s cap; the first poll waits 15s since earlier
// polls are guaranteed "pending".
func (s *XAIVideoService) pollForResult(ctx context.Context, requestID string) (*xaiVideoResult, error) {
	deadline := time.Now().Add(s.maxPollTime)

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("scene video generation cancelled: %w", ctx.Err())
	case <-time.After(xaiInitialDelay):
	}

	interval := xaiPollMinInterval
	for attempt := 1; ; attempt++ {
		result, err := s.getResult(ctx, requestID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll scene video (attempt %d): %w", attempt, err)
		}

		switch {
		case result.Video != nil && result.Video.URL != "":
			return result, nil
		case result.Status == "failed":
			return nil, &faults.ProviderError{Provider: "xai", Kind: faults.KindServer,
				Err: fmt.Errorf("generation failed: %s", result.Error)}
		}

		if time.Now().After(deadline) {
			return nil, &faults.TimeoutError{Operation: "scene video generation",
				Err: fmt.Errorf("still pending after %v (%d polls)", s.maxPollTime, attempt)}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("scene video generation cancelled: %w", ctx.Err())
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * xaiPollBackoffFactor)
		if interval > xaiPollMaxInterval {
			interval = xaiPollMaxInterval
		}
	}
}

func (s *XAIVideoService) getResult(ctx context.Context, requestID string) (*xaiVideoResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, xaiBaseURL+"/videos/"+requestID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &faults.ProviderError{Provider: "xai", Kind: faults.KindConnection, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &faults.ProviderError{Provider: "xai", Kind: faults.KindConnection, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, faults.FromHTTPStatus("xai", resp.StatusCode, truncate(string(body), 200))
	}

	var result xaiVideoResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse poll response: %w", err)
	}
	return &result, nil
}
