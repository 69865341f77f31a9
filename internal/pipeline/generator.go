package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/reelpipe/reelpipe/internal/faults"
	"github.com/reelpipe/reelpipe/internal/models"
	"github.com/reelpipe/reelpipe/internal/retry"
	"github.com/reelpipe/reelpipe/internal/services"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// SceneAsset bundles the generated media for one fully successful scene.
type SceneAsset struct {
	Scene     models.Scene
	Narration *services.TTSResponse
	Visual    *services.SceneVideoResult
}

// GenerationOutcome is the settled result of a full fan-out: every usable
// scene plus the flat per-task results for observability and staging.
type GenerationOutcome struct {
	Usable       []SceneAsset
	Results      []models.SceneAssetResult
	FailedScenes []int
}

// AssetGenerator fans out narration and visual generation across all
// scenes. Every task settles; nothing short-circuits a sibling, so one
// provider hiccup can't waste the money already spent on other scenes.
type AssetGenerator struct {
	tts          services.TTSService
	video        services.SceneVideoService
	retryPolicy  retry.Policy
	ttsTimeout   time.Duration
	videoTimeout time.Duration
	allowPartial bool
	log          zerolog.Logger
}

func NewAssetGenerator(tts services.TTSService, video services.SceneVideoService, retryPolicy retry.Policy, ttsTimeout, videoTimeout time.Duration, allowPartial bool, log zerolog.Logger) *AssetGenerator {
	return &AssetGenerator{
		tts:          tts,
		video:        video,
		retryPolicy:  retryPolicy,
		ttsTimeout:   ttsTimeout,
		videoTimeout: videoTimeout,
		allowPartial: allowPartial,
		log:          log.With().Str("component", "generator").Logger(),
	}
}

// GenerateAssets runs 2N generation tasks (narration and visual per scene)
// concurrently and partitions the settled results. A scene is usable only
// when both of its tasks succeeded.
//
// When partial scenes are disallowed, any failed scene fails the whole
// call with a PartialFailure describing which scenes were lost. When
// allowed, the call succeeds as long as at least one scene is usable.
func (g *AssetGenerator) GenerateAssets(ctx context.Context, script *models.VideoScript, style *models.TemplateStyle, aspectRatio string) (*GenerationOutcome, error) {
	n := len(script.Scenes)
	if n == 0 {
		return nil, &faults.ValidationError{Field: "scenes", Reason: "script has no scenes"}
	}

	narrations := make([]*services.TTSResponse, n)
	visuals := make([]*services.SceneVideoResult, n)
	narrationErrs := make([]error, n)
	visualErrs := make([]error, n)

	// Task funcs always return nil so the group settles everything;
	// failures land in the index-addressed error slices.
	group, groupCtx := errgroup.WithContext(ctx)

	for i, scene := range script.Scenes {
		i, scene := i, scene

		group.Go(func() error {
			narrationErrs[i] = retry.Do(groupCtx, g.retryPolicy, fmt.Sprintf("narration scene %d", i), func(ctx context.Context) error {
				callCtx, cancel := context.WithTimeout(ctx, g.ttsTimeout)
				defer cancel()

				resp, err := g.tts.GenerateSpeech(callCtx, scene.NarrationText, style.VoiceID, style.Pacing)
				if err != nil {
					return err
				}
				narrations[i] = resp
				return nil
			})
			return nil
		})

		group.Go(func() error {
			visualErrs[i] = retry.Do(groupCtx, g.retryPolicy, fmt.Sprintf("visual scene %d", i), func(ctx context.Context) error {
				callCtx, cancel := context.WithTimeout(ctx, g.videoTimeout)
				defer cancel()

				result, err := g.video.GenerateSceneVideo(callCtx, scene.VisualPrompt, scene.DurationSeconds, aspectRatio)
				if err != nil {
					return err
				}
				visuals[i] = result
				return nil
			})
			return nil
		})
	}

	group.Wait()

	outcome := &GenerationOutcome{}
	for i, scene := range script.Scenes {
		outcome.Results = append(outcome.Results,
			taskResult(i, models.AssetKindNarration, narrationErrs[i]),
			taskResult(i, models.AssetKindVisual, visualErrs[i]))

		if narrationErrs[i] == nil && visualErrs[i] == nil {
			outcome.Usable = append(outcome.Usable, SceneAsset{
				Scene:     scene,
				Narration: narrations[i],
				Visual:    visuals[i],
			})
		} else {
			outcome.FailedScenes = append(outcome.FailedScenes, i)
			g.log.Warn().Int("scene", i).
				AnErr("narration_err", narrationErrs[i]).
				AnErr("visual_err", visualErrs[i]).
				Msg("scene generation failed")
		}
	}
	sort.Ints(outcome.FailedScenes)

	g.log.Info().Int("usable", len(outcome.Usable)).Int("failed", len(outcome.FailedScenes)).
		Msg("asset generation settled")

	if len(outcome.FailedScenes) > 0 {
		partial := &faults.PartialFailure{FailedScenes: outcome.FailedScenes, TotalScenes: n}
		if !g.allowPartial || len(outcome.Usable) == 0 {
			return outcome, partial
		}
	}

	return outcome, nil
}

func taskResult(sceneIndex int, kind models.AssetKind, err error) models.SceneAssetResult {
	r := models.SceneAssetResult{SceneIndex: sceneIndex, Kind: kind, Success: err == nil}
	if err != nil {
		r.Err = err.Error()
	}
	return r
}
