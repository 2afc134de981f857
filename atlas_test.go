package strata

import (
	"fmt"
	"math/rand"
	"testing"
)

func TestAtlasTreeInsertPacksLeftToRight(t *testing.T) {
	tree := newAtlasTree(64)
	a := tree.insert(10, 10)
	b := tree.insert(10, 10)
	if a == nil || b == nil {
		t.Fatal("insert failed")
	}
	if a.x != 0 || a.y != 0 {
		t.Errorf("a at (%d,%d), want (0,0)", a.x, a.y)
	}
	if b.x != 10 || b.y != 0 {
		t.Errorf("b at (%d,%d), want (10,0)", b.x, b.y)
	}
	if got := tree.freeArea(); got != 64*64-200 {
		t.Errorf("freeArea = %d, want %d", got, 64*64-200)
	}
}

func TestAtlasTreeBestFit(t *testing.T) {
	tree := newAtlasTree(100)
	tree.insert(100, 10)
	tree.insert(50, 50)
	// Free leaves: 50x50 at (50,10) and 100x40 at (0,60).
	n := tree.insert(40, 40)
	if n == nil || n.x != 50 || n.y != 10 {
		t.Errorf("40x40 placed at %+v, want (50,10)", n)
	}
}

func TestAtlasTreeRejects(t *testing.T) {
	tree := newAtlasTree(32)
	if tree.insert(33, 1) != nil || tree.insert(1, 33) != nil {
		t.Error("oversized insert should fail")
	}
	if tree.insert(0, 5) != nil {
		t.Error("empty insert should fail")
	}
	if tree.insert(32, 32) == nil {
		t.Fatal("full-size insert should succeed")
	}
	if tree.insert(1, 1) != nil {
		t.Error("insert into a full tree should fail")
	}
	if tree.root.maxH != 0 {
		t.Errorf("maxH = %d, want 0", tree.root.maxH)
	}
	tree.reset()
	if tree.freeArea() != 32*32 {
		t.Error("reset should free the whole surface")
	}
}

func newAtlasSource(t *testing.T, dev *fakeDevice, key string, w, h int) *TextureSource {
	t.Helper()
	gpu, err := dev.NewTexture(w, h)
	if err != nil {
		t.Fatal(err)
	}
	return &TextureSource{key: key, w: w, h: h, gpu: gpu, loaded: true}
}

func TestAtlasAddAndUpload(t *testing.T) {
	dev := newFakeDevice()
	a := newTextureAtlas(dev, 64, 1024, 10, 0)
	s := newAtlasSource(t, dev, "s", 8, 8)

	if !a.add(s) {
		t.Fatal("add failed")
	}
	if !s.inAtlas || !s.atlasPending || s.InAtlas() {
		t.Error("a placed source should wait for its upload")
	}
	if a.add(s) {
		t.Error("adding twice should be refused")
	}

	if err := a.flush(1); err != nil {
		t.Fatal(err)
	}
	if a.tex == nil {
		t.Fatal("flush should allocate the surface")
	}
	if !s.InAtlas() {
		t.Error("source should be in the atlas after the upload")
	}
	if len(dev.draws) != 1 {
		t.Fatalf("draws = %d, want 1", len(dev.draws))
	}
	d := dev.draws[0]
	if d.dst != a.tex || d.src != s.gpu {
		t.Error("upload should copy from the source into the atlas")
	}
	if len(d.verts) != 36 || d.indices != 54 || d.opts.Blend != BlendNone {
		t.Errorf("verts=%d indices=%d blend=%v, want 36, 54 and BlendNone", len(d.verts), d.indices, d.opts.Blend)
	}
	if v := d.verts[0]; v.DstX != 1 || v.DstY != 1 || v.SrcX != 0 || v.SrcY != 0 {
		t.Errorf("image top-left = %+v", v)
	}
	if v := d.verts[2]; v.DstX != 9 || v.DstY != 9 || v.SrcX != 8 || v.SrcY != 8 {
		t.Errorf("image bottom-right = %+v", v)
	}
	// Left border: one column stretched from the first source column.
	if v := d.verts[4]; v.DstX != 0 || v.DstY != 1 || v.SrcX != 0 {
		t.Errorf("left border top-left = %+v", v)
	}
}

func TestAtlasFits(t *testing.T) {
	dev := newFakeDevice()
	a := newTextureAtlas(dev, 64, 1024, 10, 0)
	tests := []struct {
		w, h int
		want bool
	}{
		{8, 8, true},
		{32, 32, true},
		{40, 40, false},
		{63, 1, false},
		{62, 1, true},
		{0, 4, false},
	}
	for _, tt := range tests {
		if got := a.fits(&TextureSource{w: tt.w, h: tt.h}); got != tt.want {
			t.Errorf("fits(%dx%d) = %v, want %v", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestAtlasUploadsPerFrame(t *testing.T) {
	dev := newFakeDevice()
	a := newTextureAtlas(dev, 64, 1024, 2, 0)
	srcs := []*TextureSource{
		newAtlasSource(t, dev, "a", 4, 4),
		newAtlasSource(t, dev, "b", 4, 4),
		newAtlasSource(t, dev, "c", 4, 4),
	}
	for _, s := range srcs {
		a.add(s)
	}
	a.flush(1)
	if len(dev.draws) != 2 || len(a.uploads) != 1 || a.uploads[0] != srcs[2] {
		t.Fatalf("draws = %d, queued = %d, want 2 and c", len(dev.draws), len(a.uploads))
	}
	if srcs[2].InAtlas() {
		t.Error("queued source should keep drawing from its own texture")
	}
	a.flush(2)
	if len(dev.draws) != 3 || !srcs[2].InAtlas() {
		t.Error("second flush should upload the rest")
	}
}

func TestAtlasRemoveCountsWaste(t *testing.T) {
	dev := newFakeDevice()
	a := newTextureAtlas(dev, 64, 1024, 10, 0)
	s := newAtlasSource(t, dev, "s", 8, 8)
	a.add(s)

	a.removeActiveTextureSource(s)
	if s.inAtlas || s.atlasPending {
		t.Error("removed source should leave the atlas")
	}
	if len(a.active) != 0 || len(a.uploads) != 0 {
		t.Error("removed source should not stay queued")
	}
	if a.wasted != 100 {
		t.Errorf("wasted = %d, want 100", a.wasted)
	}
	if a.shouldDefragment(1) {
		t.Error("small waste alone should not trigger a defragmentation")
	}
}

func TestAtlasDefragmentRepacks(t *testing.T) {
	dev := newFakeDevice()
	a := newTextureAtlas(dev, 64, 1024, 10, 0)
	var srcs []*TextureSource
	for _, k := range []string{"a", "b", "c", "d"} {
		s := newAtlasSource(t, dev, k, 30, 30)
		if !a.add(s) {
			t.Fatalf("add %s failed", k)
		}
		srcs = append(srcs, s)
	}
	a.flush(1)

	extra := newAtlasSource(t, dev, "e", 30, 30)
	if a.add(extra) {
		t.Fatal("a full atlas should refuse e")
	}
	if !a.defragNeeded {
		t.Error("a failed insert should request a defragmentation")
	}

	a.removeActiveTextureSource(srcs[1])
	dev.resetCalls()
	a.flush(2)
	if a.defrags != 1 || a.wasted != 0 {
		t.Fatalf("defrags = %d, wasted = %d, want 1 and 0", a.defrags, a.wasted)
	}
	if len(dev.clears) != 1 || dev.clears[0] != a.tex {
		t.Error("defragmentation should clear the surface")
	}
	if len(dev.draws) != 3 {
		t.Errorf("reuploads = %d, want 3", len(dev.draws))
	}
	want := map[*TextureSource][2]int{srcs[0]: {0, 0}, srcs[2]: {32, 0}, srcs[3]: {0, 32}}
	for s, pos := range want {
		if s.atlasX != pos[0] || s.atlasY != pos[1] || !s.InAtlas() {
			t.Errorf("%s at (%d,%d) in=%v, want %v", s.key, s.atlasX, s.atlasY, s.InAtlas(), pos)
		}
	}
	if !a.add(extra) || extra.atlasX != 32 || extra.atlasY != 32 {
		t.Errorf("e should fit the reclaimed space, got (%d,%d)", extra.atlasX, extra.atlasY)
	}
}

func TestAtlasDefragmentMinFrames(t *testing.T) {
	dev := newFakeDevice()
	a := newTextureAtlas(dev, 64, 1024, 10, 60)
	s := newAtlasSource(t, dev, "s", 30, 30)
	a.add(s)
	a.removeActiveTextureSource(s)

	if !a.shouldDefragment(0) {
		t.Fatal("the first pass should not wait")
	}
	a.flush(0)
	s2 := newAtlasSource(t, dev, "s2", 30, 30)
	a.add(s2)
	a.removeActiveTextureSource(s2)
	if a.shouldDefragment(30) {
		t.Error("a pass within min frames of the last should wait")
	}
	if !a.shouldDefragment(60) {
		t.Error("a pass after min frames should run")
	}
}

func TestAtlasFailedUploadFallsBack(t *testing.T) {
	dev := newFakeDevice()
	a := newTextureAtlas(dev, 64, 1024, 10, 0)
	s := newAtlasSource(t, dev, "s", 8, 8)
	a.add(s)
	dev.DeleteTexture(s.gpu)

	if err := a.flush(1); err != nil {
		t.Fatal(err)
	}
	if s.inAtlas || len(a.active) != 0 || a.wasted != 100 {
		t.Error("a failed upload should drop the source from the atlas")
	}
}

func TestAtlasDestroy(t *testing.T) {
	dev := newFakeDevice()
	a := newTextureAtlas(dev, 64, 1024, 10, 0)
	s := newAtlasSource(t, dev, "s", 8, 8)
	a.add(s)
	a.flush(1)
	tex := a.tex.(*fakeTexture)

	a.destroy()
	if !tex.deleted || a.tex != nil {
		t.Error("destroy should free the surface")
	}
	if s.inAtlas {
		t.Error("destroy should release its sources")
	}
}

func TestStageAtlasBatchesTextures(t *testing.T) {
	opts := testOptions()
	opts.UseAtlas = true
	s, dev := newTestStage(t, opts)
	target := newTarget(t, dev, 100, 100)

	for _, k := range []string{"red", "blue"} {
		tex := s.NewTexture(k, PixelsLoader(8, 8, solidPixels(8, 8, 255, 0, 0, 255), true))
		s.Root().AddChild(NewSprite(k, tex))
	}
	runFrame(s, target)
	runFrame(s, target)
	dev.resetCalls()
	runFrame(s, target)

	if !s.TextureSource("red").InAtlas() || !s.TextureSource("blue").InAtlas() {
		t.Fatal("both sources should be packed")
	}
	if len(dev.draws) != 1 {
		t.Fatalf("draws = %d, want 1", len(dev.draws))
	}
	if dev.draws[0].src != s.atlas.tex {
		t.Error("the batch should sample the atlas")
	}
	if len(dev.draws[0].verts) != 8 {
		t.Errorf("verts = %d, want 8", len(dev.draws[0].verts))
	}
}

func TestAtlasSparseFillRepacksEverySource(t *testing.T) {
	dev := newFakeDevice()
	const size = 256
	a := newTextureAtlas(dev, size, size*size, 1000, 0)
	rng := rand.New(rand.NewSource(11))

	var srcs []*TextureSource
	area := 0
	for i := 0; ; i++ {
		w, h := 1+rng.Intn(14), 1+rng.Intn(14)
		if area+(w+2)*(h+2) >= size*size/16 {
			break
		}
		area += (w + 2) * (h + 2)
		s := newAtlasSource(t, dev, fmt.Sprintf("s%d", i), w, h)
		if !a.add(s) {
			t.Fatalf("add %s (%dx%d) failed at %d of %d pixels", s.key, w, h, area, size*size)
		}
		srcs = append(srcs, s)
	}

	var kept []*TextureSource
	for i, s := range srcs {
		if i%3 == 0 {
			a.removeActiveTextureSource(s)
		} else {
			kept = append(kept, s)
		}
	}
	a.defragment(1)

	if len(a.active) != len(kept) {
		t.Fatalf("active = %d, want %d", len(a.active), len(kept))
	}
	for i, s := range kept {
		if !s.inAtlas {
			t.Fatalf("%s lost by the defragmentation", s.key)
		}
		r := Rect{float64(s.atlasX), float64(s.atlasY), float64(s.w + 2), float64(s.h + 2)}
		if r.X+r.Width > size || r.Y+r.Height > size {
			t.Errorf("%s placed outside the surface at %v", s.key, r)
		}
		for _, o := range kept[:i] {
			or := Rect{float64(o.atlasX), float64(o.atlasY), float64(o.w + 2), float64(o.h + 2)}
			if r.X < or.X+or.Width && or.X < r.X+r.Width && r.Y < or.Y+or.Height && or.Y < r.Y+r.Height {
				t.Errorf("%s overlaps %s", s.key, o.key)
			}
		}
	}
}
