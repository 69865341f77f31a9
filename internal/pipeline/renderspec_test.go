package pipeline

import (
	"reflect"
	"strings"
	"testing"
)

func TestCropDimensions(t *testing.T) {
	cases := []struct {
		aspect         string
		srcW, srcH     int
		wantW, wantH   int
	}{
		{"16:9", 1920, 1080, 1920, 1080},
		{"9:16", 1920, 1080, 607, 1080},
		{"9:16", 1280, 720, 405, 720},
		{"1:1", 1920, 1080, 1080, 1080},
		{"1:1", 1080, 1920, 1080, 1080},
	}

	for _, tc := range cases {
		w, h, err := CropDimensions(tc.srcW, tc.srcH, tc.aspect)
		if err != nil {
			t.Fatalf("CropDimensions(%d,%d,%q) error: %v", tc.srcW, tc.srcH, tc.aspect, err)
		}
		if w != tc.wantW || h != tc.wantH {
			t.Errorf("CropDimensions(%d,%d,%q) = %dx%d, want %dx%d",
				tc.srcW, tc.srcH, tc.aspect, w, h, tc.wantW, tc.wantH)
		}
	}
}

func TestCropDimensionsUnsupportedAspect(t *testing.T) {
	if _, _, err := CropDimensions(1920, 1080, "4:3"); err == nil {
		t.Fatal("expected error for unsupported aspect ratio")
	}
}

func TestBuildRenderSpecLandscapePassthrough(t *testing.T) {
	spec, err := BuildRenderSpec("in.mp4", "out.mp4", 1920, 1080, "16:9", "")
	if err != nil {
		t.Fatalf("BuildRenderSpec error: %v", err)
	}

	joined := strings.Join(spec.Args, " ")
	if strings.Contains(joined, "crop=") {
		t.Errorf("16:9 output must not crop, got args: %v", spec.Args)
	}
	if strings.Contains(joined, "-vf") {
		t.Errorf("no filters expected without crop or subtitles, got args: %v", spec.Args)
	}
}

func TestBuildRenderSpecCropBeforeSubtitles(t *testing.T) {
	spec, err := BuildRenderSpec("in.mp4", "out.mp4", 1920, 1080, "9:16", "/tmp/subs.ass")
	if err != nil {
		t.Fatalf("BuildRenderSpec error: %v", err)
	}

	var vf string
	for i, a := range spec.Args {
		if a == "-vf" && i+1 < len(spec.Args) {
			vf = spec.Args[i+1]
		}
	}
	if vf == "" {
		t.Fatalf("no -vf in args: %v", spec.Args)
	}

	cropIdx := strings.Index(vf, "crop=607:1080")
	assIdx := strings.Index(vf, "ass=")
	if cropIdx == -1 {
		t.Fatalf("expected crop=607:1080 in filter %q", vf)
	}
	if assIdx == -1 {
		t.Fatalf("expected ass filter in %q", vf)
	}
	if cropIdx > assIdx {
		t.Errorf("crop must precede subtitle burn-in, got %q", vf)
	}
}

func TestBuildRenderSpecCodecs(t *testing.T) {
	spec, err := BuildRenderSpec("in.mp4", "out.mp4", 1920, 1080, "1:1", "")
	if err != nil {
		t.Fatalf("BuildRenderSpec error: %v", err)
	}

	joined := strings.Join(spec.Args, " ")
	for _, want := range []string{"-c:v libx264", "-c:a aac", "-pix_fmt yuv420p"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %v", want, spec.Args)
		}
	}
}

func TestBuildRenderSpecDeterministic(t *testing.T) {
	a, err := BuildRenderSpec("in.mp4", "out.mp4", 1920, 1080, "9:16", "/tmp/subs.ass")
	if err != nil {
		t.Fatalf("BuildRenderSpec error: %v", err)
	}
	b, err := BuildRenderSpec("in.mp4", "out.mp4", 1920, 1080, "9:16", "/tmp/subs.ass")
	if err != nil {
		t.Fatalf("BuildRenderSpec error: %v", err)
	}
	if !reflect.DeepEqual(a.Args, b.Args) {
		t.Errorf("identical inputs produced different args:\n%v\n%v", a.Args, b.Args)
	}
}

func TestEscapeFilterPath(t *testing.T) {
	got := escapeFilterPath(`C:\media\o'neil.ass`)
	if strings.Contains(got, `C:\media`) {
		t.Errorf("colon or backslash left unescaped: %q", got)
	}
}
