package strata

import "time"

// TextureSource is one loadable image shared by every Texture cut from it.
// Sources are keyed by a lookup id on their stage, so nodes that display the
// same image share one GPU texture.
//
// A source is loaded when the first active node displays it and its pending
// load is canceled when the last one stops doing so. Sources without active
// views stay resident until the stage's texture memory budget is exceeded.
type TextureSource struct {
	key     string
	loader  Loader
	manager *textureManager

	w, h int
	gpu  GPUTexture

	views []*Node
	// idleSince is the frame the last view went away.
	idleSince int64

	// pinned sources belong to a Canvas: never loaded, freed or packed.
	pinned bool

	loaded       bool
	loading      bool
	loadingSince time.Time
	loadToken    uint64
	cancel       func()
	err          error

	// Atlas placement. Coordinates are the top-left of the bleed border.
	inAtlas      bool
	atlasPending bool
	atlasX       int
	atlasY       int

	onLoad  emitter[*TextureSource]
	onError emitter[error]
}

// Key returns the lookup id the source was created with.
func (s *TextureSource) Key() string { return s.key }

// Size returns the pixel size of the loaded image, or zero before it loads.
func (s *TextureSource) Size() (w, h int) { return s.w, s.h }

// Loaded reports whether pixel data is resident on the GPU.
func (s *TextureSource) Loaded() bool { return s.loaded }

// Loading reports whether a load is in flight.
func (s *TextureSource) Loading() bool { return s.loading }

// LoadingSince returns when the in-flight load started. It is the zero time
// when nothing is loading.
func (s *TextureSource) LoadingSince() time.Time {
	if !s.loading {
		return time.Time{}
	}
	return s.loadingSince
}

// Err returns the error of the last failed load, or nil.
func (s *TextureSource) Err() error { return s.err }

// NumViews returns the number of active nodes displaying the source.
func (s *TextureSource) NumViews() int { return len(s.views) }

// InAtlas reports whether the source is drawn from the shared atlas.
func (s *TextureSource) InAtlas() bool { return s.inAtlas && !s.atlasPending }

// OnLoad registers fn to run each time the source finishes loading.
func (s *TextureSource) OnLoad(fn func(*TextureSource)) (off func()) {
	return s.onLoad.on(fn)
}

// OnError registers fn to run each time a load of the source fails.
func (s *TextureSource) OnError(fn func(error)) (off func()) {
	return s.onError.on(fn)
}

// Load starts loading the source even if no node displays it yet. With
// sync, loaders that support it deliver the pixels before Load returns.
// Load does nothing while a load is already in flight.
func (s *TextureSource) Load(sync bool) {
	s.manager.load(s, sync)
}

// Reload fetches the pixels again. Nodes keep drawing the current pixels
// until the new ones arrive. Any in-flight load is canceled first.
func (s *TextureSource) Reload() {
	s.manager.cancel(s)
	s.err = nil
	s.manager.load(s, false)
}

// addView counts n as displaying the source. The first view triggers a load
// or, for a loaded source, its atlas placement.
func (s *TextureSource) addView(n *Node) {
	s.views = append(s.views, n)
	if len(s.views) == 1 {
		s.manager.activated(s)
	}
}

// removeView uncounts n. The last view cancels a pending load and removes
// the source from the atlas.
func (s *TextureSource) removeView(n *Node) {
	for i, v := range s.views {
		if v == n {
			copy(s.views[i:], s.views[i+1:])
			s.views[len(s.views)-1] = nil
			s.views = s.views[:len(s.views)-1]
			break
		}
	}
	if len(s.views) == 0 {
		s.manager.deactivated(s)
	}
}

// markViews flags every view for a redraw, after its pixels or atlas
// coordinates changed.
func (s *TextureSource) markViews() {
	for _, v := range s.views {
		v.markRenderUpdates()
		v.markHasUpdates()
	}
}

// Texture is a rectangular frame within a TextureSource. Nodes display
// Textures; many Textures may share one source, as with sprite sheets.
type Texture struct {
	source *TextureSource
	// Frame within the source. A zero size covers the whole source.
	x, y, w, h int
}

// Source returns the shared source of the texture.
func (t *Texture) Source() *TextureSource { return t.source }

// Frame returns the frame rectangle within the source, in pixels.
func (t *Texture) Frame() (x, y, w, h int) {
	w, h = t.Size()
	return t.x, t.y, w, h
}

// Size returns the frame size. A whole-source texture has the source size,
// which is zero until the source loads.
func (t *Texture) Size() (w, h int) {
	w, h = t.w, t.h
	if w == 0 {
		w = t.source.w - t.x
	}
	if h == 0 {
		h = t.source.h - t.y
	}
	return max(w, 0), max(h, 0)
}

// SubTexture returns a texture showing the frame x, y, w, h of t's frame.
func (t *Texture) SubTexture(x, y, w, h int) *Texture {
	return &Texture{source: t.source, x: t.x + x, y: t.y + y, w: w, h: h}
}

// drawable returns the GPU texture and texel rectangle to draw the frame
// with. Sources placed in the atlas draw from the atlas surface once their
// upload has run.
func (t *Texture) drawable() (tex GPUTexture, u0, v0, u1, v1 float32, ok bool) {
	s := t.source
	if !s.loaded || s.gpu == nil {
		return nil, 0, 0, 0, 0, false
	}
	w, h := t.Size()
	if w == 0 || h == 0 {
		return nil, 0, 0, 0, 0, false
	}
	x0, y0 := float32(t.x), float32(t.y)
	tex = s.gpu
	if a := s.manager.atlas; a != nil && s.inAtlas && !s.atlasPending && a.tex != nil {
		tex = a.tex
		x0 += float32(s.atlasX + 1)
		y0 += float32(s.atlasY + 1)
	}
	return tex, x0, y0, x0 + float32(w), y0 + float32(h), true
}
