package pipeline

import (
	"fmt"
	"strings"

	"github.com/reelpipe/reelpipe/internal/faults"
	"github.com/reelpipe/reelpipe/internal/services"
)

// ---------------------------------------------------------------------------
// Render spec builder
// Pure construction of the final-composition ffmpeg invocation. No file
// system or process access happens here, which keeps the aspect-ratio and
// filter-ordering rules testable as plain functions.
// ---------------------------------------------------------------------------

// RenderSpec is a fully built ffmpeg invocation for the final composition
// pass. Args is ready for exec without shell interpretation.
type RenderSpec struct {
	InputPath    string
	OutputPath   string
	SubtitlePath string
	CropWidth    int
	CropHeight   int
	Args         []string
}

// CropDimensions returns the centered crop size for a target aspect ratio
// applied to a srcWidth x srcHeight frame.
//
//	16:9  source passes through untouched
//	9:16  width becomes floor(height*9/16), full height kept
//	1:1   both sides become min(width, height)
func CropDimensions(srcWidth, srcHeight int, aspectRatio string) (int, int, error) {
	switch aspectRatio {
	case "16:9":
		return srcWidth, srcHeight, nil
	case "9:16":
		return srcHeight * 9 / 16, srcHeight, nil
	case "1:1":
		side := srcWidth
		if srcHeight < side {
			side = srcHeight
		}
		return side, side, nil
	default:
		return 0, 0, &faults.ValidationError{Field: "aspect_ratio",
			Reason: fmt.Sprintf("unsupported value %q", aspectRatio)}
	}
}

// SubtitleStyleFor maps a template name to its caption styling. Unknown
// templates fall back to the default look.
func SubtitleStyleFor(templateName string) services.SubtitleStyle {
	style := services.DefaultSubtitleStyle()
	switch strings.ToLower(templateName) {
	case "bold":
		style.FontSize = 84
		style.Outline = 6
		style.Uppercase = true
	case "minimal":
		style.FontSize = 48
		style.Outline = 2
	}
	return style
}

// BuildRenderSpec constructs the final composition command: an optional
// centered crop to the target aspect ratio, then optional subtitle burn-in.
// The crop always precedes the subtitle filter so captions are positioned
// on the delivered frame, never cropped away.
//
// Output is always H.264 video with AAC audio regardless of source codecs.
func BuildRenderSpec(inputPath, outputPath string, srcWidth, srcHeight int, aspectRatio, subtitlePath string) (*RenderSpec, error) {
	cropW, cropH, err := CropDimensions(srcWidth, srcHeight, aspectRatio)
	if err != nil {
		return nil, err
	}

	var filters []string
	if cropW != srcWidth || cropH != srcHeight {
		filters = append(filters, fmt.Sprintf("crop=%d:%d", cropW, cropH))
	}
	if subtitlePath != "" {
		filters = append(filters, fmt.Sprintf("ass='%s'", escapeFilterPath(subtitlePath)))
	}

	args := []string{"-i", inputPath}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}
	args = append(args,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-b:a", "192k",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-y",
		outputPath,
	)

	return &RenderSpec{
		InputPath:    inputPath,
		OutputPath:   outputPath,
		SubtitlePath: subtitlePath,
		CropWidth:    cropW,
		CropHeight:   cropH,
		Args:         args,
	}, nil
}

// escapeFilterPath escapes characters ffmpeg filter syntax treats
// specially: backslashes, colons, and single quotes.
func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "\\\\")
	path = strings.ReplaceAll(path, ":", "\\:")
	path = strings.ReplaceAll(path, "'", "'\\''")
	return path
}
