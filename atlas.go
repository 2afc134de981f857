package strata

import (
	"fmt"
	"sort"

	"github.com/hajimehoshi/ebiten/v2"
)

// textureAtlas packs small texture sources into one shared surface so nodes
// displaying different images can share a quad operation.
//
// Every placement reserves a 1px border on each side. Uploads copy the
// source into the placement and repeat its edge pixels into the border, so
// bilinear sampling at frame edges never reads a neighbour.
//
// Only sources displayed by an active node stay in the atlas. Removed
// placements are not reused; their area counts as wasted until the next
// defragmentation repacks every active source.
type textureAtlas struct {
	dev  Device
	size int
	tex  GPUTexture
	tree *atlasTree

	active  []*TextureSource
	uploads []*TextureSource

	wasted       int
	defragNeeded bool
	lastDefrag   int64

	maxPixels  int
	maxUploads int
	minFrames  int64

	verts []ebiten.Vertex

	// defrags counts defragmentation passes.
	defrags int
}

func newTextureAtlas(dev Device, size, maxPixels, maxUploads, minFrames int) *textureAtlas {
	return &textureAtlas{
		dev:        dev,
		size:       size,
		tree:       newAtlasTree(size),
		maxPixels:  maxPixels,
		maxUploads: maxUploads,
		minFrames:  int64(minFrames),
		lastDefrag: -int64(minFrames),
	}
}

// fits reports whether s may be packed at all.
func (a *textureAtlas) fits(s *TextureSource) bool {
	return s.w > 0 && s.h > 0 && s.w*s.h <= a.maxPixels && s.w+2 <= a.size && s.h+2 <= a.size
}

// add places s and queues its upload. It reports false, and flags the atlas
// for defragmentation, when no free rectangle fits; s is then drawn from its
// own texture.
func (a *textureAtlas) add(s *TextureSource) bool {
	if s.inAtlas || !a.fits(s) {
		return false
	}
	if !a.place(s) {
		a.defragNeeded = true
		logger.Warn("texture atlas full", "key", s.key, "w", s.w, "h", s.h, "wasted", a.wasted)
		return false
	}
	a.active = append(a.active, s)
	return true
}

// place inserts s into the tree and queues its upload.
func (a *textureAtlas) place(s *TextureSource) bool {
	node := a.tree.insert(s.w+2, s.h+2)
	if node == nil {
		return false
	}
	s.inAtlas = true
	s.atlasPending = true
	s.atlasX, s.atlasY = node.x, node.y
	a.uploads = append(a.uploads, s)
	return true
}

// removeActiveTextureSource untracks s and cancels its pending upload. Its
// placement becomes wasted area.
func (a *textureAtlas) removeActiveTextureSource(s *TextureSource) {
	if !s.inAtlas {
		return
	}
	a.active = removeSource(a.active, s)
	if s.atlasPending {
		a.uploads = removeSource(a.uploads, s)
	}
	a.wasted += (s.w + 2) * (s.h + 2)
	s.inAtlas = false
	s.atlasPending = false
	s.markViews()
}

func removeSource(list []*TextureSource, s *TextureSource) []*TextureSource {
	for i, v := range list {
		if v == s {
			copy(list[i:], list[i+1:])
			list[len(list)-1] = nil
			return list[:len(list)-1]
		}
	}
	return list
}

// shouldDefragment reports whether a defragmentation pass is due: there is
// wasted space to reclaim, an insertion failed or the waste exceeds an
// eighth of the surface, and enough frames passed since the last pass.
func (a *textureAtlas) shouldDefragment(frame int64) bool {
	if a.wasted == 0 || frame-a.lastDefrag < a.minFrames {
		return false
	}
	return a.defragNeeded || a.wasted > a.size*a.size/8
}

// defragment resets the tree and repacks every active source, tallest
// first. The surface is cleared and every source uploaded again.
func (a *textureAtlas) defragment(frame int64) {
	a.tree.reset()
	a.uploads = a.uploads[:0]
	sources := a.active
	sort.SliceStable(sources, func(i, j int) bool { return sources[i].h > sources[j].h })
	kept := sources[:0]
	lost := 0
	for _, s := range sources {
		s.inAtlas = false
		s.atlasPending = false
		if a.place(s) {
			kept = append(kept, s)
		} else {
			lost++
		}
		s.markViews()
	}
	for i := len(kept); i < len(sources); i++ {
		sources[i] = nil
	}
	a.active = kept
	a.wasted = 0
	a.defragNeeded = false
	a.lastDefrag = frame
	a.defrags++
	if a.tex != nil {
		a.dev.Clear(a.tex)
	}
	logger.Info("texture atlas defragmented", "sources", len(kept), "free", a.tree.freeArea())
	if lost > 0 {
		logger.Warn("texture atlas could not repack every source", "unplaced", lost)
	}
}

// flush defragments when due and uploads at most maxUploads queued
// sources. Sources still queued keep drawing from their own texture.
func (a *textureAtlas) flush(frame int64) error {
	if a.shouldDefragment(frame) {
		a.defragment(frame)
	}
	if len(a.uploads) == 0 {
		return nil
	}
	if a.tex == nil {
		tex, err := a.dev.NewTexture(a.size, a.size)
		if err != nil {
			return fmt.Errorf("strata: allocate atlas: %w", err)
		}
		a.tex = tex
	}
	n := min(len(a.uploads), a.maxUploads)
	batch := a.uploads[:n]
	for _, s := range batch {
		if err := a.upload(s); err != nil {
			logger.Error("atlas upload failed", "key", s.key, "error", err)
			// The source keeps drawing from its own texture.
			a.active = removeSource(a.active, s)
			a.wasted += (s.w + 2) * (s.h + 2)
			s.inAtlas = false
		}
		s.atlasPending = false
		s.markViews()
	}
	rest := copy(a.uploads, a.uploads[n:])
	for i := rest; i < len(a.uploads); i++ {
		a.uploads[i] = nil
	}
	a.uploads = a.uploads[:rest]
	return nil
}

// blitRect is a float32 rectangle in texels.
type blitRect struct{ x, y, w, h float32 }

// upload copies s into its placement as nine quads: the image itself, its
// four edges stretched one pixel outward and its four corner pixels.
func (a *textureAtlas) upload(s *TextureSource) error {
	w, h := float32(s.w), float32(s.h)
	x, y := float32(s.atlasX), float32(s.atlasY)
	ix, iy := x+1, y+1
	quads := [9][2]blitRect{
		// {dst, src}
		{{ix, iy, w, h}, {0, 0, w, h}},
		{{x, iy, 1, h}, {0, 0, 1, h}},
		{{ix + w, iy, 1, h}, {w - 1, 0, 1, h}},
		{{ix, y, w, 1}, {0, 0, w, 1}},
		{{ix, iy + h, w, 1}, {0, h - 1, w, 1}},
		{{x, y, 1, 1}, {0, 0, 1, 1}},
		{{ix + w, y, 1, 1}, {w - 1, 0, 1, 1}},
		{{x, iy + h, 1, 1}, {0, h - 1, 1, 1}},
		{{ix + w, iy + h, 1, 1}, {w - 1, h - 1, 1, 1}},
	}
	if cap(a.verts) < 36 {
		a.verts = make([]ebiten.Vertex, 36)
	}
	v := a.verts[:36]
	for i, q := range quads {
		d, sr := q[0], q[1]
		setVertex(&v[i*4+0], d.x, d.y, sr.x, sr.y, ColorWhite, 1)
		setVertex(&v[i*4+1], d.x+d.w, d.y, sr.x+sr.w, sr.y, ColorWhite, 1)
		setVertex(&v[i*4+2], d.x+d.w, d.y+d.h, sr.x+sr.w, sr.y+sr.h, ColorWhite, 1)
		setVertex(&v[i*4+3], d.x, d.y+d.h, sr.x, sr.y+sr.h, ColorWhite, 1)
	}
	return a.dev.DrawTriangles(a.tex, s.gpu, v, quadIndices(9), DrawOptions{Blend: BlendNone})
}

// destroy frees the surface.
func (a *textureAtlas) destroy() {
	if a.tex != nil {
		a.dev.DeleteTexture(a.tex)
		a.tex = nil
	}
	for _, s := range a.active {
		s.inAtlas = false
		s.atlasPending = false
	}
	a.active = nil
	a.uploads = nil
}
