package strata

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Screenshot queues a labeled capture of the next rendered frame. The PNG is
// written to Options.ScreenshotDir with a timestamped file name once Render
// has drawn the frame. Safe to call from Update or Render.
func (s *Stage) Screenshot(label string) {
	s.screenshots = append(s.screenshots, label)
}

// flushScreenshots reads target back and writes one PNG per queued label.
func (s *Stage) flushScreenshots(target GPUTexture) {
	if len(s.screenshots) == 0 {
		return
	}
	labels := s.screenshots
	s.screenshots = s.screenshots[:0]

	dir := s.opts.ScreenshotDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Error("screenshot directory", "dir", dir, "error", err)
		return
	}
	w, h := target.Size()
	if w <= 0 || h <= 0 {
		logger.Warn("screenshot of empty target skipped", "w", w, "h", h)
		return
	}
	pix := make([]byte, 4*w*h)
	if err := s.dev.ReadPixels(target, pix); err != nil {
		logger.Error("screenshot read back failed", "error", err)
		return
	}
	img := unpremultipliedImage(w, h, pix)

	stamp := time.Now().Format("20060102_150405")
	for _, label := range labels {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", stamp, sanitizeLabel(label)))
		if err := writePNG(path, img); err != nil {
			logger.Error("screenshot write failed", "path", path, "error", err)
			continue
		}
		logger.Info("screenshot written", "path", path)
	}
}

// unpremultipliedImage converts premultiplied RGBA pixels to straight-alpha
// NRGBA.
func unpremultipliedImage(w, h int, pix []byte) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i+3 < len(pix); i += 4 {
		r, g, b, a := pix[i], pix[i+1], pix[i+2], pix[i+3]
		if a > 0 && a < 255 {
			r = uint8(min(int(r)*255/int(a), 255))
			g = uint8(min(int(g)*255/int(a), 255))
			b = uint8(min(int(b)*255/int(a), 255))
		}
		img.Pix[i] = r
		img.Pix[i+1] = g
		img.Pix[i+2] = b
		img.Pix[i+3] = a
	}
	return img
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// sanitizeLabel replaces characters that are unsafe in file names with
// underscores. Empty labels become "unlabeled".
func sanitizeLabel(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "unlabeled"
	}
	var b strings.Builder
	b.Grow(len(label))
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
