package strata

import (
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeLabel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hello", "hello"},
		{"after-spawn", "after-spawn"},
		{"frame.01", "frame.01"},
		{"has spaces", "has_spaces"},
		{"path/to/thing", "path_to_thing"},
		{"back\\slash", "back_slash"},
		{"special!@#$%", "special_____"},
		{"", "unlabeled"},
		{"   ", "unlabeled"},
		{"MixedCase123", "MixedCase123"},
	}
	for _, tt := range tests {
		got := sanitizeLabel(tt.in)
		if got != tt.want {
			t.Errorf("sanitizeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestScreenshotQueueAppend(t *testing.T) {
	s, _ := newTestStage(t, testOptions())
	s.Screenshot("a")
	s.Screenshot("b")
	s.Screenshot("c")
	if len(s.screenshots) != 3 {
		t.Fatalf("queue len = %d, want 3", len(s.screenshots))
	}
	if s.screenshots[0] != "a" || s.screenshots[1] != "b" || s.screenshots[2] != "c" {
		t.Errorf("queue = %v, want [a b c]", s.screenshots)
	}
}

func TestScreenshotDirDefault(t *testing.T) {
	if dir := DefaultOptions().ScreenshotDir; dir != "screenshots" {
		t.Errorf("ScreenshotDir = %q, want %q", dir, "screenshots")
	}
}

func TestScreenshotWritesPNG(t *testing.T) {
	opts := testOptions()
	opts.ScreenshotDir = filepath.Join(t.TempDir(), "shots")
	opts.ClearColor = Color{1, 0, 0, 1}
	s, dev := newTestStage(t, opts)
	target := newTarget(t, dev, 4, 3)

	s.Screenshot("boss fight")
	runFrame(s, target)

	files, err := filepath.Glob(filepath.Join(opts.ScreenshotDir, "*_boss_fight.png"))
	if err != nil || len(files) != 1 {
		t.Fatalf("screenshot files = %v (err %v), want 1", files, err)
	}
	f, err := os.Open(files[0])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 3 {
		t.Errorf("image size = %v, want 4x3", b)
	}
	r, g, b, a := img.At(1, 1).RGBA()
	if r>>8 != 255 || g != 0 || b != 0 || a>>8 != 255 {
		t.Errorf("pixel = (%d, %d, %d, %d), want opaque red", r>>8, g>>8, b>>8, a>>8)
	}
	if len(s.screenshots) != 0 {
		t.Error("queue should be empty after the frame")
	}
}

func TestScreenshotOnlyOnce(t *testing.T) {
	opts := testOptions()
	opts.ScreenshotDir = t.TempDir()
	s, dev := newTestStage(t, opts)
	target := newTarget(t, dev, 2, 2)

	s.Screenshot("once")
	runFrame(s, target)
	runFrame(s, target)

	entries, err := os.ReadDir(opts.ScreenshotDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), "_once.png") {
		t.Errorf("entries = %v, want one *_once.png", entries)
	}
}

func TestUnpremultipliedImage(t *testing.T) {
	img := unpremultipliedImage(2, 1, []byte{64, 32, 0, 128, 10, 20, 30, 255})
	want := []byte{127, 63, 0, 128, 10, 20, 30, 255}
	for i := range want {
		if img.Pix[i] != want[i] {
			t.Fatalf("pix = %v, want %v", img.Pix, want)
		}
	}
}
