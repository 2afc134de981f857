package strata

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// manualLoader is a Loader whose loads complete when the test says so.
type manualLoader struct {
	calls    int
	canceled int
	pending  []LoadCallback
}

func newManualLoader() *manualLoader {
	return &manualLoader{}
}

func (l *manualLoader) loader() Loader {
	return func(cb LoadCallback, _ *TextureSource, _ bool) func() {
		l.calls++
		l.pending = append(l.pending, cb)
		return func() { l.canceled++ }
	}
}

// complete delivers w x h opaque white pixels to the i-th load.
func (l *manualLoader) complete(i, w, h int) {
	l.pending[i](nil, &PixelData{Pix: solidPixels(w, h, 255, 255, 255, 255), Width: w, Height: h, PremultiplyAlpha: true})
}

// fail delivers err to the i-th load.
func (l *manualLoader) fail(i int, err error) {
	l.pending[i](err, nil)
}

func TestTextureLoadSync(t *testing.T) {
	s, dev := newTestStage(t, testOptions())
	tex := s.NewTexture("px", PixelsLoader(2, 2, solidPixels(2, 2, 255, 0, 0, 255), true))
	src := tex.Source()

	src.Load(true)
	if !src.Loaded() || src.Loading() {
		t.Fatalf("loaded=%v loading=%v, want loaded", src.Loaded(), src.Loading())
	}
	if w, h := src.Size(); w != 2 || h != 2 {
		t.Errorf("Size = %dx%d, want 2x2", w, h)
	}
	if w, h := tex.Size(); w != 2 || h != 2 {
		t.Errorf("texture Size = %dx%d, want 2x2", w, h)
	}
	if len(dev.writes) != 1 {
		t.Errorf("writes = %d, want 1", len(dev.writes))
	}
	if s.TextureMemory() != 4 {
		t.Errorf("TextureMemory = %d, want 4", s.TextureMemory())
	}
}

func TestTextureLoadAsyncAppliedOnUpdate(t *testing.T) {
	s, _ := newTestStage(t, testOptions())
	ld := newManualLoader()
	src := s.NewTexture("async", ld.loader()).Source()
	loaded := 0
	src.OnLoad(func(*TextureSource) { loaded++ })

	src.Load(false)
	if !src.Loading() || src.LoadingSince().IsZero() {
		t.Fatal("load should be in flight")
	}
	src.Load(false)
	if ld.calls != 1 {
		t.Errorf("calls = %d, want 1 while loading", ld.calls)
	}

	ld.complete(0, 4, 4)
	if src.Loaded() {
		t.Fatal("results apply on the next update, not in the callback")
	}
	s.Update()
	if !src.Loaded() || loaded != 1 {
		t.Errorf("loaded=%v OnLoad calls=%d, want true and 1", src.Loaded(), loaded)
	}
	if !src.LoadingSince().IsZero() {
		t.Error("LoadingSince should be zero after the load")
	}
}

func TestTextureLoadFromOtherGoroutine(t *testing.T) {
	s, _ := newTestStage(t, testOptions())
	ld := newManualLoader()
	src := s.NewTexture("bg", ld.loader()).Source()
	src.Load(false)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ld.complete(0, 4, 4)
	}()
	wg.Wait()

	s.Update()
	if !src.Loaded() {
		t.Error("result from another goroutine should apply on update")
	}
}

func TestTextureReloadIgnoresStaleResult(t *testing.T) {
	s, _ := newTestStage(t, testOptions())
	ld := newManualLoader()
	src := s.NewTexture("stale", ld.loader()).Source()

	src.Load(false)
	src.Reload()
	if ld.calls != 2 || ld.canceled != 1 {
		t.Fatalf("calls=%d canceled=%d, want 2 and 1", ld.calls, ld.canceled)
	}

	ld.complete(0, 4, 4)
	s.Update()
	if src.Loaded() || !src.Loading() {
		t.Fatal("stale result should be dropped")
	}

	ld.complete(1, 8, 8)
	s.Update()
	if w, _ := src.Size(); !src.Loaded() || w != 8 {
		t.Errorf("loaded=%v w=%d, want the second result", src.Loaded(), w)
	}
}

func TestTextureReloadKeepsPixelsUntilReplaced(t *testing.T) {
	s, dev := newTestStage(t, testOptions())
	ld := newManualLoader()
	src := s.NewTexture("re", ld.loader()).Source()
	src.Load(false)
	ld.complete(0, 4, 4)
	s.Update()
	gpu := src.gpu

	src.Reload()
	if !src.Loaded() || src.gpu != gpu {
		t.Fatal("source should keep drawing its pixels during a reload")
	}
	ld.complete(1, 4, 4)
	s.Update()
	if src.gpu != gpu {
		t.Error("same-size reload should reuse the GPU texture")
	}
	if len(dev.writes) != 2 {
		t.Errorf("writes = %d, want 2", len(dev.writes))
	}

	src.Reload()
	ld.complete(2, 8, 8)
	s.Update()
	if src.gpu == gpu || !dev.created[1].deleted {
		t.Error("resized reload should replace the GPU texture")
	}
	if s.TextureMemory() != 64 {
		t.Errorf("TextureMemory = %d, want 64", s.TextureMemory())
	}
}

func TestTextureCanceledResultIgnored(t *testing.T) {
	s, _ := newTestStage(t, testOptions())
	ld := newManualLoader()
	src := s.NewTexture("cancel", ld.loader()).Source()
	src.Load(false)

	s.textures.cancel(src)
	if src.Loading() || ld.canceled != 1 {
		t.Fatalf("loading=%v canceled=%d, want false and 1", src.Loading(), ld.canceled)
	}
	ld.complete(0, 4, 4)
	s.Update()
	if src.Loaded() {
		t.Error("result of a canceled load should be ignored")
	}
}

func TestTextureLoadError(t *testing.T) {
	s, _ := newTestStage(t, testOptions())
	ld := newManualLoader()
	tex := s.NewTexture("broken", ld.loader())
	sprite := NewSprite("sprite", tex)
	var nodeErr, srcErr error
	sprite.OnTextureError(func(err error) { nodeErr = err })
	tex.Source().OnError(func(err error) { srcErr = err })
	s.Root().AddChild(sprite)

	boom := errors.New("boom")
	ld.fail(0, boom)
	s.Update()

	if !errors.Is(tex.Source().Err(), boom) {
		t.Errorf("Err = %v, want wrapped boom", tex.Source().Err())
	}
	if !errors.Is(nodeErr, boom) || !errors.Is(srcErr, boom) {
		t.Errorf("listeners got node=%v source=%v", nodeErr, srcErr)
	}
	if tex.Source().Loaded() {
		t.Error("failed source should not be loaded")
	}
}

func TestTextureLoadErrorLogLevel(t *testing.T) {
	buf := captureLog(t, slog.LevelWarn)
	s, _ := newTestStage(t, testOptions())
	ld := newManualLoader()
	quiet := s.NewTexture("quiet", ld.loader()).Source()
	watched := s.NewTexture("watched", ld.loader()).Source()
	watched.OnError(func(error) {})
	quiet.Load(false)
	watched.Load(false)

	ld.fail(0, errors.New("boom"))
	ld.fail(1, errors.New("boom"))
	s.Update()

	out := buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "key=quiet") {
		t.Errorf("an unhandled failure should log an error, got: %q", out)
	}
	if !strings.Contains(out, "level=WARN msg=\"texture load failed\" key=watched") {
		t.Errorf("a handled failure should log a warning, got: %q", out)
	}
}

func TestTextureLoadedNotifiesViews(t *testing.T) {
	s, dev := newTestStage(t, testOptions())
	ld := newManualLoader()
	tex := s.NewTexture("view", ld.loader())
	sprite := NewSprite("sprite", tex)
	got := 0
	sprite.OnTextureLoaded(func(*Node) { got++ })
	s.Root().AddChild(sprite)

	target := newTarget(t, dev, 100, 100)
	runFrame(s, target)
	if len(quadOps(s.Operations())) != 0 {
		t.Fatal("unloaded sprite should not draw")
	}

	ld.complete(0, 6, 3)
	runFrame(s, target)
	if got != 1 {
		t.Errorf("OnTextureLoaded calls = %d, want 1", got)
	}
	if w, h := sprite.RenderSize(); w != 6 || h != 3 {
		t.Errorf("sprite size = %vx%v, want texture size 6x3", w, h)
	}
	if len(quadOps(s.Operations())) != 1 {
		t.Error("loaded sprite should draw")
	}
}

func TestTextureUploadErrors(t *testing.T) {
	tests := []struct {
		name string
		ld   Loader
		want error
	}{
		{"zero size", PixelsLoader(0, 0, nil, true), ErrZeroSize},
		{"too large", PixelsLoader(2048, 2048, nil, true), ErrTextureTooLarge},
		{"no loader", nil, ErrNoLoader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStage(t, testOptions())
			src := s.NewTexture(tt.name, tt.ld).Source()
			src.Load(true)
			if !errors.Is(src.Err(), tt.want) {
				t.Errorf("Err = %v, want %v", src.Err(), tt.want)
			}
		})
	}
}

func TestTextureUploadBadLength(t *testing.T) {
	s, _ := newTestStage(t, testOptions())
	src := s.NewTexture("short", PixelsLoader(2, 2, make([]byte, 3), true)).Source()
	src.Load(true)
	if src.Err() == nil || src.Loaded() {
		t.Error("short pixel data should fail")
	}
}

func TestTextureStraightAlphaPremultiplied(t *testing.T) {
	s, dev := newTestStage(t, testOptions())
	src := s.NewTexture("straight", PixelsLoader(1, 1, []byte{255, 255, 255, 128}, false)).Source()
	src.Load(true)
	if len(dev.writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(dev.writes))
	}
	pix := dev.writes[0].pix
	if pix[0] != 128 || pix[1] != 128 || pix[2] != 128 || pix[3] != 128 {
		t.Errorf("pixel = %v, want premultiplied [128 128 128 128]", pix)
	}
}

func TestTextureStraightAlphaReloadKeepsPixels(t *testing.T) {
	s, dev := newTestStage(t, testOptions())
	pix := []byte{200, 100, 50, 128}
	src := s.NewTexture("straight", PixelsLoader(1, 1, pix, false)).Source()
	src.Load(true)
	if len(dev.writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(dev.writes))
	}
	first := append([]byte(nil), dev.writes[0].pix...)

	src.Reload()
	s.Update()
	if len(dev.writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(dev.writes))
	}
	if got := dev.writes[1].pix; !bytes.Equal(got, first) {
		t.Errorf("reloaded pixel = %v, want %v", got, first)
	}
	if !bytes.Equal(pix, []byte{200, 100, 50, 128}) {
		t.Errorf("caller pixels modified to %v", pix)
	}
}

func TestPremultiply(t *testing.T) {
	pix := []byte{200, 100, 50, 255, 200, 100, 50, 0, 255, 255, 255, 51}
	premultiply(pix)
	want := []byte{200, 100, 50, 255, 0, 0, 0, 0, 51, 51, 51, 51}
	for i := range want {
		if pix[i] != want[i] {
			t.Fatalf("premultiply = %v, want %v", pix, want)
		}
	}
}

func TestTextureGCFreesIdleSources(t *testing.T) {
	opts := testOptions()
	opts.TextureMemory = 100
	s, _ := newTestStage(t, opts)
	a := s.NewTexture("a", PixelsLoader(8, 8, solidPixels(8, 8, 1, 1, 1, 255), true)).Source()
	b := s.NewTexture("b", PixelsLoader(8, 8, solidPixels(8, 8, 1, 1, 1, 255), true)).Source()
	a.Load(true)
	b.Load(true)
	if s.TextureMemory() != 128 {
		t.Fatalf("TextureMemory = %d, want 128", s.TextureMemory())
	}

	s.Update()
	if a.Loaded() || !b.Loaded() {
		t.Errorf("loaded a=%v b=%v, want only b", a.Loaded(), b.Loaded())
	}
	if s.TextureMemory() != 64 {
		t.Errorf("TextureMemory = %d, want 64", s.TextureMemory())
	}
}

func TestTextureGCKeepsDisplayedSources(t *testing.T) {
	opts := testOptions()
	opts.TextureMemory = 100
	s, _ := newTestStage(t, opts)
	a := s.NewTexture("a", PixelsLoader(8, 8, solidPixels(8, 8, 1, 1, 1, 255), true))
	b := s.NewTexture("b", PixelsLoader(8, 8, solidPixels(8, 8, 1, 1, 1, 255), true)).Source()
	a.Source().Load(true)
	b.Load(true)
	s.Root().AddChild(NewSprite("view", a))

	s.Update()
	if !a.Source().Loaded() || b.Loaded() {
		t.Errorf("loaded a=%v b=%v, want only a", a.Source().Loaded(), b.Loaded())
	}
}

func TestTextureFreedSourceReloadsWhenDisplayed(t *testing.T) {
	opts := testOptions()
	opts.TextureMemory = 10
	s, _ := newTestStage(t, opts)
	ld := newManualLoader()
	tex := s.NewTexture("again", ld.loader())
	tex.Source().Load(false)
	ld.complete(0, 8, 8)
	s.Update()
	if tex.Source().Loaded() {
		t.Fatal("idle source over budget should be freed")
	}

	s.Root().AddChild(NewSprite("view", tex))
	if ld.calls != 2 {
		t.Errorf("calls = %d, want a second load", ld.calls)
	}
}

func TestImagePixelsWithMaxSize(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 40, 20))
	d := imagePixels(img, buildLoaderOptions([]LoaderOption{WithMaxSize(10)}))
	if d.Width != 10 || d.Height != 5 {
		t.Errorf("size = %dx%d, want 10x5", d.Width, d.Height)
	}
	if len(d.Pix) != 4*10*5 || !d.PremultiplyAlpha {
		t.Error("pixels should be premultiplied RGBA of the scaled size")
	}
	if d.HasAlpha {
		t.Error("gray image is opaque")
	}
}

func TestImagePixelsTallImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 100))
	d := imagePixels(img, buildLoaderOptions([]LoaderOption{WithMaxSize(50)}))
	if d.Width != 5 || d.Height != 50 {
		t.Errorf("size = %dx%d, want 5x50", d.Width, d.Height)
	}
}

func TestImageLoader(t *testing.T) {
	s, _ := newTestStage(t, testOptions())
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.Set(0, 0, color.NRGBA{255, 0, 0, 255})
	src := s.NewTexture("img", ImageLoader(img)).Source()
	src.Load(true)
	if w, h := src.Size(); !src.Loaded() || w != 3 || h != 2 {
		t.Errorf("loaded=%v size=%dx%d, want 3x2", src.Loaded(), w, h)
	}
}

func TestFileLoaderSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tile.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 5, 7))); err != nil {
		t.Fatal(err)
	}
	f.Close()

	s, _ := newTestStage(t, testOptions())
	src := s.NewTexture("file", FileLoader(path)).Source()
	src.Load(true)
	if w, h := src.Size(); !src.Loaded() || w != 5 || h != 7 {
		t.Errorf("loaded=%v size=%dx%d err=%v, want 5x7", src.Loaded(), w, h, src.Err())
	}
}

func TestFileLoaderMissingFile(t *testing.T) {
	s, _ := newTestStage(t, testOptions())
	src := s.NewTexture("missing", FileLoader(filepath.Join(t.TempDir(), "nope.png"))).Source()
	src.Load(true)
	if !errors.Is(src.Err(), os.ErrNotExist) {
		t.Errorf("Err = %v, want not exist", src.Err())
	}
}

func TestFSLoader(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "a.png"))
	if err != nil {
		t.Fatal(err)
	}
	png.Encode(f, image.NewRGBA(image.Rect(0, 0, 2, 2)))
	f.Close()

	s, _ := newTestStage(t, testOptions())
	src := s.NewTexture("fs", FSLoader(os.DirFS(dir), "a.png")).Source()
	src.Load(true)
	if !src.Loaded() {
		t.Errorf("FSLoader should load, err = %v", src.Err())
	}
}
