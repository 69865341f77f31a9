package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/reelpipe/reelpipe/internal/faults"
	"github.com/reelpipe/reelpipe/internal/models"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIService generates structured video scripts via JSON-mode chat
// completions. It is the production implementation of the planner's
// script model.
type OpenAIService struct {
	client *openai.Client
	model  string
	log    zerolog.Logger
}

// NewOpenAIService creates the script model client. An empty model
// defaults to gpt-5-mini.
func NewOpenAIService(apiKey, model string, log zerolog.Logger) *OpenAIService {
	if model == "" {
		model = "gpt-5-mini"
	}
	return &OpenAIService{
		client: openai.NewClient(apiKey),
		model:  model,
		log:    log.With().Str("component", "openai").Logger(),
	}
}

// DraftScript asks the model for a script draft with exactly sceneCount
// scenes, each sized for secondsPerScene of spoken narration.
func (s *OpenAIService) DraftScript(ctx context.Context, prompt string, sceneCount, secondsPerScene int, pacing models.Pacing) (*models.ScriptDraft, error) {
	systemPrompt := buildScriptSystemPrompt(sceneCount, secondsPerScene, pacing)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Write the video script for this idea: %q", prompt),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 1.0,
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, &faults.PlanningError{Reason: "no response from script model"}
	}

	rawContent := resp.Choices[0].Message.Content

	var draft models.ScriptDraft
	if err := json.Unmarshal([]byte(rawContent), &draft); err != nil {
		s.log.Warn().Err(err).Str("raw", truncate(rawContent, 2000)).Msg("script draft parse failed")
		return nil, &faults.PlanningError{Reason: fmt.Sprintf("malformed script draft: %v", err)}
	}

	if len(draft.Scenes) == 0 {
		s.log.Warn().Str("raw", truncate(rawContent, 2000)).Msg("script draft has no scenes")
		return nil, &faults.PlanningError{Reason: "script draft has no scenes"}
	}
	for i, scene := range draft.Scenes {
		if strings.TrimSpace(scene.Narration) == "" {
			return nil, &faults.PlanningError{Reason: fmt.Sprintf("scene %d has empty narration", i)}
		}
		if strings.TrimSpace(scene.Visual) == "" {
			return nil, &faults.PlanningError{Reason: fmt.Sprintf("scene %d has empty visual prompt", i)}
		}
	}

	s.log.Debug().Int("scenes", len(draft.Scenes)).Str("title", draft.Title).Msg("script draft generated")

	return &draft, nil
}

func buildScriptSystemPrompt(sceneCount, secondsPerScene int, pacing models.Pacing) string {
	pacingDesc := "a measured, natural pace"
	switch pacing {
	case models.PacingSlow:
		pacingDesc = "a slow, deliberate, contemplative pace"
	case models.PacingFast:
		pacingDesc = "a quick, energetic, punchy pace"
	}

	return fmt.Sprintf(`You are an expert short-form video scriptwriter.

Your task is to write a video script divided into EXACTLY %d scenes. Each scene's narration should take about %d seconds to read aloud at %s.

WRITING PROCESS:
Before writing any individual scene, mentally compose the ENTIRE narrative as one flowing story. Only then divide it into scenes. Each scene should feel like a natural breath in a continuous story, and read back-to-back the scenes must sound like one person telling one cohesive story.

Guidelines:
- Open with a strong hook that creates genuine curiosity
- Build momentum across scenes
- End with a satisfying conclusion that feels earned, not abrupt
- Write conversationally, to be LISTENED to, not read. Use contractions and short sentences.
- Avoid jargon and complex clauses that trip up speech synthesis.

For each scene also write a "visual" field: a complete, detailed scene description for an AI video generator. Include the subject, the setting, the lighting, and the motion you want to see, written in present tense as a continuous action. Do NOT include audio cues or on-screen text.

Respond with a JSON object of this exact shape:
{
  "title": "short title for the video",
  "scenes": [
    {"narration": "spoken narration text", "visual": "visual scene description"}
  ]
}

The "scenes" array MUST contain exactly %d entries. Every field MUST be non-empty.`, sceneCount, secondsPerScene, pacingDesc, sceneCount)
}
