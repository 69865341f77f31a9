package services

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// FFmpeg execution
// All media work shells out to ffmpeg/ffprobe with argv-style argument
// lists, never shell strings. The CommandRunner seam lets stitcher tests
// assert on the exact invocations without spawning processes.
// ---------------------------------------------------------------------------

// CommandRunner executes an external command and waits for it.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string) error
	Output(ctx context.Context, name string, args []string) ([]byte, error)
}

// ExecRunner runs commands via os/exec. Stderr goes to the process stderr
// so ffmpeg diagnostics show up in container logs.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func (ExecRunner) Output(ctx context.Context, name string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.Output()
}

// FFmpegService owns the temp workspace and the probe helpers shared by
// the stitching stages.
type FFmpegService struct {
	tempDir string
	runner  CommandRunner
	log     zerolog.Logger
}

func NewFFmpegService(tempDir string, runner CommandRunner, log zerolog.Logger) *FFmpegService {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		panic(fmt.Sprintf("failed to create temp dir: %v", err))
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &FFmpegService{
		tempDir: tempDir,
		runner:  runner,
		log:     log.With().Str("component", "ffmpeg").Logger(),
	}
}

// Run executes ffmpeg with the given argument list.
func (s *FFmpegService) Run(ctx context.Context, args []string) error {
	return s.runner.Run(ctx, "ffmpeg", args)
}

// WriteConcatList writes an ffmpeg concat-demuxer list file for the given
// clip paths and returns its path. The caller removes it via Cleanup.
func (s *FFmpegService) WriteConcatList(clipPaths []string, name string) (string, error) {
	if len(clipPaths) == 0 {
		return "", fmt.Errorf("no clips to concatenate")
	}

	listPath := filepath.Join(s.tempDir, name)
	f, err := os.Create(listPath)
	if err != nil {
		return "", fmt.Errorf("failed to create concat list: %w", err)
	}
	defer f.Close()

	for _, path := range clipPaths {
		if _, err := fmt.Fprintf(f, "file '%s'\n", path); err != nil {
			return "", fmt.Errorf("failed to write concat list: %w", err)
		}
	}
	return listPath, nil
}

// GetMediaDuration returns the duration of an audio or video file in
// milliseconds using ffprobe.
func (s *FFmpegService) GetMediaDuration(ctx context.Context, mediaPath string) (int, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		mediaPath,
	}

	output, err := s.runner.Output(ctx, "ffprobe", args)
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var durationSec float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &durationSec); err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}

	return int(durationSec * 1000), nil
}

// GetVideoDimensions returns the pixel width and height of a video file.
func (s *FFmpegService) GetVideoDimensions(ctx context.Context, videoPath string) (int, int, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		videoPath,
	}

	output, err := s.runner.Output(ctx, "ffprobe", args)
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe dimensions failed: %w", err)
	}

	var w, h int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%dx%d", &w, &h); err != nil {
		return 0, 0, fmt.Errorf("failed to parse dimensions: %w", err)
	}
	return w, h, nil
}

// TempPath returns a path for a working file inside the temp directory.
func (s *FFmpegService) TempPath(filename string) string {
	return filepath.Join(s.tempDir, filename)
}

// WriteTempFile writes data to a file in the temp directory and returns
// its path.
func (s *FFmpegService) WriteTempFile(filename string, data []byte) (string, error) {
	path := s.TempPath(filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	return path, nil
}

// Cleanup removes temporary files, ignoring missing ones.
func (s *FFmpegService) Cleanup(paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		os.Remove(path)
	}
}
