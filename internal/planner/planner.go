package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/reelpipe/reelpipe/internal/faults"
	"github.com/reelpipe/reelpipe/internal/models"
	"github.com/rs/zerolog"
)

// Scene count bounds for short-form output. Fewer than three scenes reads
// as a slideshow; more than four starves each scene of narration time.
const (
	minScenes        = 3
	maxScenes        = 4
	wordsPerScene    = 50
	defaultDuration  = 45
	minTotalDuration = 15
	maxTotalDuration = 120
)

// ScriptModel produces a structured script draft from a prompt. The
// production implementation is the OpenAI JSON-mode client.
type ScriptModel interface {
	DraftScript(ctx context.Context, prompt string, sceneCount, secondsPerScene int, pacing models.Pacing) (*models.ScriptDraft, error)
}

// Planner turns a user prompt plus a resolved style into a scene-by-scene
// video script with exact durations.
type Planner struct {
	model ScriptModel
	log   zerolog.Logger
}

func NewPlanner(model ScriptModel, log zerolog.Logger) *Planner {
	return &Planner{
		model: model,
		log:   log.With().Str("component", "planner").Logger(),
	}
}

// SceneCountFor returns the number of scenes for a prompt: one scene per
// 50 words, clamped to [3, 4].
func SceneCountFor(prompt string) int {
	words := len(strings.Fields(prompt))
	n := (words + wordsPerScene - 1) / wordsPerScene
	if n < minScenes {
		n = minScenes
	}
	if n > maxScenes {
		n = maxScenes
	}
	return n
}

// SceneDurations splits totalSeconds across n scenes. Every scene gets the
// floor share; the integer remainder goes to the last scene so the sum is
// exactly totalSeconds.
func SceneDurations(totalSeconds, n int) []int {
	base := totalSeconds / n
	durations := make([]int, n)
	for i := range durations {
		durations[i] = base
	}
	durations[n-1] += totalSeconds - base*n
	return durations
}

// PlanScript generates the full script for a job. The draft comes from the
// language model; scene count, durations, and visual prompt augmentation
// are enforced here so provider creativity can't break the output contract.
func (p *Planner) PlanScript(ctx context.Context, prompt string, targetDurationSec int, style *models.TemplateStyle) (*models.VideoScript, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, &faults.ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	if targetDurationSec == 0 {
		targetDurationSec = defaultDuration
	}
	if targetDurationSec < minTotalDuration || targetDurationSec > maxTotalDuration {
		return nil, &faults.ValidationError{Field: "target_duration_seconds",
			Reason: fmt.Sprintf("must be between %d and %d", minTotalDuration, maxTotalDuration)}
	}

	n := SceneCountFor(prompt)
	durations := SceneDurations(targetDurationSec, n)

	draft, err := p.model.DraftScript(ctx, prompt, n, durations[0], style.Pacing)
	if err != nil {
		return nil, err
	}

	// Models occasionally ignore the scene count instruction. Trim extras;
	// too few scenes means the draft can't fill the duration plan.
	if len(draft.Scenes) < n {
		return nil, &faults.PlanningError{
			Reason: fmt.Sprintf("model returned %d scenes, need %d", len(draft.Scenes), n),
		}
	}
	draft.Scenes = draft.Scenes[:n]

	scenes := make([]models.Scene, n)
	for i, ds := range draft.Scenes {
		scenes[i] = models.Scene{
			Index:           i,
			NarrationText:   strings.TrimSpace(ds.Narration),
			VisualPrompt:    augmentVisualPrompt(ds.Visual, style),
			DurationSeconds: durations[i],
		}
	}

	script := &models.VideoScript{
		Title:                draft.Title,
		TotalDurationSeconds: targetDurationSec,
		Scenes:               scenes,
	}

	p.log.Info().Int("scenes", n).Int("total_s", targetDurationSec).
		Str("title", script.Title).Msg("script planned")

	return script, nil
}

// augmentVisualPrompt applies the template's visual identity to a raw scene
// prompt. The style suffix and negative prompt come from the template so
// every scene of a project renders in one consistent look.
func augmentVisualPrompt(visual string, style *models.TemplateStyle) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(visual))

	if style.VisualStyleSuffix != "" {
		sb.WriteString(". ")
		sb.WriteString(strings.TrimSpace(style.VisualStyleSuffix))
	}
	if style.VisualNegativePrompt != "" {
		sb.WriteString(". Avoid: ")
		sb.WriteString(strings.TrimSpace(style.VisualNegativePrompt))
	}
	if style.MotionStrength > 0 {
		sb.WriteString(fmt.Sprintf(". Camera motion intensity: %d of 4.", style.MotionStrength))
	}

	return sb.String()
}
