package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/reelpipe/reelpipe/internal/faults"
	"github.com/reelpipe/reelpipe/internal/models"
	"github.com/reelpipe/reelpipe/internal/services"
	"github.com/reelpipe/reelpipe/internal/storage"
	"github.com/rs/zerolog"
)

// Stage tags carried by StageFailure so callers and operators can see
// exactly where a stitch died.
const (
	StageConcat     = "concat"
	StageMergeAudio = "merge_narration"
	StageMux        = "mux"
	StageSubtitles  = "subtitles"
)

// StitchResult is the uploaded final artifact.
type StitchResult struct {
	FinalURL        string
	FinalObjectPath string
}

// Stitcher assembles staged scenes into the final video. The stages run
// strictly in order and there is no internal retry: a failed stage fails
// the whole stitch, and recovery is a whole-job retry at a higher level.
// No partial artifact is ever uploaded.
type Stitcher struct {
	ffmpeg     *services.FFmpegService
	store      storage.Client
	httpClient *http.Client
	log        zerolog.Logger
}

func NewStitcher(ffmpeg *services.FFmpegService, store storage.Client, log zerolog.Logger) *Stitcher {
	return &Stitcher{
		ffmpeg: ffmpeg,
		store:  store,
		httpClient: &http.Client{
			Transport: &http.Transport{MaxIdleConnsPerHost: 4},
		},
		log: log.With().Str("component", "stitcher").Logger(),
	}
}

// Stitch runs concat, narration merge, mux, and subtitle/composition
// stages over the staged scenes, then uploads the final MP4.
//
// outputSuffix distinguishes artifacts when one project is rendered more
// than once (the primary pipeline passes "", renders pass "_<render id>").
func (s *Stitcher) Stitch(ctx context.Context, projectID string, staged []StagedScene, aspectRatio string, burnSubtitles bool, subtitleStyle services.SubtitleStyle, outputSuffix string) (*StitchResult, error) {
	if len(staged) == 0 {
		return nil, &faults.ValidationError{Field: "scenes", Reason: "nothing to stitch"}
	}

	var tempFiles []string
	defer func() { s.ffmpeg.Cleanup(tempFiles...) }()

	track := func(path string) string {
		tempFiles = append(tempFiles, path)
		return path
	}

	// Fetch staged media into the workspace. Counted against the concat
	// stage since that is the first consumer.
	var clipPaths, audioPaths []string
	for _, ss := range staged {
		clipPath := track(s.ffmpeg.TempPath(fmt.Sprintf("%s_clip_%d%s.mp4", projectID, ss.Scene.Index, outputSuffix)))
		if err := s.fetch(ctx, ss.VisualURL, ss.VisualPath, clipPath); err != nil {
			return nil, &faults.StageFailure{Stage: StageConcat, Err: fmt.Errorf("fetch scene %d clip: %w", ss.Scene.Index, err)}
		}
		clipPaths = append(clipPaths, clipPath)

		audioPath := track(s.ffmpeg.TempPath(fmt.Sprintf("%s_audio_%d%s.mp3", projectID, ss.Scene.Index, outputSuffix)))
		if err := s.fetch(ctx, ss.NarrationURL, ss.NarrationPath, audioPath); err != nil {
			return nil, &faults.StageFailure{Stage: StageMergeAudio, Err: fmt.Errorf("fetch scene %d narration: %w", ss.Scene.Index, err)}
		}
		audioPaths = append(audioPaths, audioPath)
	}

	// Stage 1: concatenate scene clips into one silent video.
	concatPath := track(s.ffmpeg.TempPath(fmt.Sprintf("%s_concat%s.mp4", projectID, outputSuffix)))
	if err := s.concatFiles(ctx, clipPaths, concatPath, projectID+"_clips"+outputSuffix+".txt", &tempFiles, true); err != nil {
		return nil, &faults.StageFailure{Stage: StageConcat, Err: err}
	}

	// Stage 2: merge per-scene narration into one continuous track.
	narrationPath := track(s.ffmpeg.TempPath(fmt.Sprintf("%s_narration%s.mp3", projectID, outputSuffix)))
	if err := s.concatFiles(ctx, audioPaths, narrationPath, projectID+"_audio"+outputSuffix+".txt", &tempFiles, false); err != nil {
		return nil, &faults.StageFailure{Stage: StageMergeAudio, Err: err}
	}

	// Stage 3: mux the narration under the concatenated video.
	muxPath := track(s.ffmpeg.TempPath(fmt.Sprintf("%s_muxed%s.mp4", projectID, outputSuffix)))
	muxArgs := []string{
		"-i", concatPath,
		"-i", narrationPath,
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-y",
		muxPath,
	}
	if err := s.ffmpeg.Run(ctx, muxArgs); err != nil {
		return nil, &faults.StageFailure{Stage: StageMux, Err: fmt.Errorf("ffmpeg mux failed: %w", err)}
	}

	// Stage 4: final composition, cropping to the delivery aspect ratio
	// and burning subtitles when requested.
	srcW, srcH, err := s.ffmpeg.GetVideoDimensions(ctx, muxPath)
	if err != nil {
		return nil, &faults.StageFailure{Stage: StageSubtitles, Err: err}
	}

	subtitlePath := ""
	if burnSubtitles {
		cropW, cropH, err := CropDimensions(srcW, srcH, aspectRatio)
		if err != nil {
			return nil, &faults.StageFailure{Stage: StageSubtitles, Err: err}
		}
		subtitlePath = track(s.ffmpeg.TempPath(fmt.Sprintf("%s_subs%s.ass", projectID, outputSuffix)))
		scenes := make([]models.Scene, len(staged))
		for i, ss := range staged {
			scenes[i] = ss.Scene
		}
		if err := services.GenerateSceneSubtitles(scenes, subtitleStyle, cropW, cropH, subtitlePath); err != nil {
			return nil, &faults.StageFailure{Stage: StageSubtitles, Err: err}
		}
	}

	finalPath := track(s.ffmpeg.TempPath(fmt.Sprintf("%s_final%s.mp4", projectID, outputSuffix)))
	spec, err := BuildRenderSpec(muxPath, finalPath, srcW, srcH, aspectRatio, subtitlePath)
	if err != nil {
		return nil, &faults.StageFailure{Stage: StageSubtitles, Err: err}
	}
	if err := s.ffmpeg.Run(ctx, spec.Args); err != nil {
		return nil, &faults.StageFailure{Stage: StageSubtitles, Err: fmt.Errorf("ffmpeg composition failed: %w", err)}
	}

	finalData, err := os.ReadFile(finalPath)
	if err != nil {
		return nil, &faults.StageFailure{Stage: StageSubtitles, Err: fmt.Errorf("read final artifact: %w", err)}
	}

	objectPath := storage.FinalPath(projectID, outputSuffix)
	if err := s.store.Upload(ctx, objectPath, finalData, "video/mp4"); err != nil {
		return nil, fmt.Errorf("failed to upload final artifact: %w", err)
	}

	result := &StitchResult{
		FinalURL:        s.store.PublicURL(objectPath),
		FinalObjectPath: objectPath,
	}

	s.log.Info().Str("project_id", projectID).Str("object", objectPath).
		Int("scenes", len(staged)).Int("bytes", len(finalData)).Msg("final video stitched")

	return result, nil
}

// concatFiles runs the ffmpeg concat demuxer over inputs. reencodeVideo
// forces a uniform H.264 stream when clips may differ in encoding
// parameters; audio merges always stream-copy.
func (s *Stitcher) concatFiles(ctx context.Context, inputs []string, outputPath, listName string, tempFiles *[]string, reencodeVideo bool) error {
	listPath, err := s.ffmpeg.WriteConcatList(inputs, listName)
	if err != nil {
		return err
	}
	*tempFiles = append(*tempFiles, listPath)

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
	}
	if reencodeVideo {
		args = append(args, "-c:v", "libx264", "-pix_fmt", "yuv420p", "-an")
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args, "-y", outputPath)

	if err := s.ffmpeg.Run(ctx, args); err != nil {
		return fmt.Errorf("ffmpeg concat failed: %w", err)
	}
	return nil
}

// fetch writes a staged object to a local path. Bucket-owned objects go
// through the storage client; provider-hosted clips are fetched over HTTP.
func (s *Stitcher) fetch(ctx context.Context, url, objectPath, destPath string) error {
	if objectPath != "" {
		data, err := s.store.Download(ctx, objectPath)
		if err != nil {
			return err
		}
		return os.WriteFile(destPath, data, 0644)
	}

	if !strings.HasPrefix(url, "http") {
		return fmt.Errorf("unsupported staged asset location %q", url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create fetch request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &faults.ProviderError{Provider: "asset host", Kind: faults.KindConnection, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return faults.FromHTTPStatus("asset host", resp.StatusCode, "")
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("failed to download asset: %w", err)
	}
	return nil
}

// StagedFromRecords rebuilds the stitcher's input from persisted scene
// rows, used by the render worker.
func StagedFromRecords(records []models.ProjectScene) []StagedScene {
	staged := make([]StagedScene, len(records))
	for i, r := range records {
		staged[i] = StagedScene{
			Scene: models.Scene{
				Index:           r.Index,
				NarrationText:   r.NarrationText,
				VisualPrompt:    r.VisualPrompt,
				DurationSeconds: r.DurationSeconds,
			},
			NarrationURL:  r.NarrationURL,
			NarrationPath: r.NarrationPath,
			VisualURL:     r.VisualURL,
			VisualPath:    r.VisualPath,
		}
	}
	return staged
}

// RecordsFromStaged is the inverse, used after staging to persist scenes.
func RecordsFromStaged(projectID uuid.UUID, staged []StagedScene) []models.ProjectScene {
	records := make([]models.ProjectScene, len(staged))
	for i, ss := range staged {
		records[i] = models.ProjectScene{
			ProjectID:       projectID,
			Index:           ss.Scene.Index,
			NarrationText:   ss.Scene.NarrationText,
			VisualPrompt:    ss.Scene.VisualPrompt,
			DurationSeconds: ss.Scene.DurationSeconds,
			NarrationURL:    ss.NarrationURL,
			NarrationPath:   ss.NarrationPath,
			VisualURL:       ss.VisualURL,
			VisualPath:      ss.VisualPath,
		}
	}
	return records
}
