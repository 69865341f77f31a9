package services

import (
	"fmt"
	"os"
	"strings"

	"github.com/reelpipe/reelpipe/internal/models"
)

// ---------------------------------------------------------------------------
// ASS Subtitle Generator
//
// Generates burn-in captions in ASS (Advanced SubStation Alpha) format from
// the script's scenes. Each scene's narration is split into short caption
// lines and spread evenly across the scene's duration, offset by the scene's
// start within the final video.
// ---------------------------------------------------------------------------

const (
	captionWordsPerLine = 4

	// ASS colors are in &HAABBGGRR format (hex, BGR not RGB)
	assColorWhite     = "&H00FFFFFF"
	assColorBlack     = "&H00000000"
	assColorSemiBlack = "&H80000000"
)

// SubtitleStyle controls the look of burned-in captions. Resolved per
// template by the render spec builder.
type SubtitleStyle struct {
	FontName     string
	FontSize     int
	PrimaryColor string // &HAABBGGRR
	OutlineColor string // &HAABBGGRR
	Outline      int
	MarginV      int
	Uppercase    bool
}

// DefaultSubtitleStyle is used when a template carries no caption styling.
func DefaultSubtitleStyle() SubtitleStyle {
	return SubtitleStyle{
		FontName:     "Noto Sans",
		FontSize:     64,
		PrimaryColor: assColorWhite,
		OutlineColor: assColorBlack,
		Outline:      3,
		MarginV:      120,
	}
}

// GenerateSceneSubtitles writes an ASS subtitle file covering every scene.
// playResX/playResY must match the output canvas so positioning holds after
// any crop.
func GenerateSceneSubtitles(scenes []models.Scene, style SubtitleStyle, playResX, playResY int, outputPath string) error {
	if len(scenes) == 0 {
		return fmt.Errorf("no scenes to generate subtitles from")
	}

	var sb strings.Builder

	sb.WriteString("[Script Info]\n")
	sb.WriteString("ScriptType: v4.00+\n")
	sb.WriteString(fmt.Sprintf("PlayResX: %d\n", playResX))
	sb.WriteString(fmt.Sprintf("PlayResY: %d\n", playResY))
	sb.WriteString("WrapStyle: 0\n")
	sb.WriteString("ScaledBorderAndShadow: yes\n")
	sb.WriteString("\n")

	sb.WriteString("[V4+ Styles]\n")
	sb.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	sb.WriteString(fmt.Sprintf(
		"Style: Default,%s,%d,%s,%s,%s,%s,-1,0,0,0,100,100,2,0,1,%d,0,2,40,40,%d,1\n",
		style.FontName, style.FontSize,
		style.PrimaryColor,
		style.PrimaryColor,
		style.OutlineColor,
		assColorSemiBlack,
		style.Outline,
		style.MarginV,
	))
	sb.WriteString("\n")

	sb.WriteString("[Events]\n")
	sb.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")

	sceneStart := 0.0
	for _, scene := range scenes {
		duration := float64(scene.DurationSeconds)
		lines := splitCaptionLines(scene.NarrationText, captionWordsPerLine)
		if len(lines) == 0 {
			sceneStart += duration
			continue
		}

		perLine := duration / float64(len(lines))
		for i, line := range lines {
			text := line
			if style.Uppercase {
				text = strings.ToUpper(text)
			}
			start := sceneStart + float64(i)*perLine
			end := start + perLine
			sb.WriteString(fmt.Sprintf(
				"Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
				formatASSTime(start),
				formatASSTime(end),
				escapeASSText(text),
			))
		}

		sceneStart += duration
	}

	if err := os.WriteFile(outputPath, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write ASS subtitle file: %w", err)
	}
	return nil
}

// splitCaptionLines breaks narration into short caption lines. It prefers
// sentence boundaries so captions read naturally at a glance.
func splitCaptionLines(text string, wordsPerLine int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	var current []string
	for _, word := range words {
		current = append(current, word)
		isSentenceEnd := strings.ContainsAny(word, ".!?")
		if len(current) >= wordsPerLine || (isSentenceEnd && len(current) >= 2) {
			lines = append(lines, strings.Join(current, " "))
			current = nil
		}
	}
	if len(current) > 0 {
		lines = append(lines, strings.Join(current, " "))
	}
	return lines
}

// escapeASSText neutralizes characters with meaning in ASS dialogue text.
func escapeASSText(text string) string {
	text = strings.ReplaceAll(text, "\\", "\\\\")
	text = strings.ReplaceAll(text, "{", "(")
	text = strings.ReplaceAll(text, "}", ")")
	text = strings.ReplaceAll(text, "\n", " ")
	return text
}

// formatASSTime converts seconds to ASS timestamp format H:MM:SS.CC.
func formatASSTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}

	hours := int(seconds) / 3600
	minutes := (int(seconds) % 3600) / 60
	secs := int(seconds) % 60
	centiseconds := int((seconds - float64(int(seconds))) * 100)

	return fmt.Sprintf("%d:%02d:%02d.%02d", hours, minutes, secs, centiseconds)
}
