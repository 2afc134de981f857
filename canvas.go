package strata

import (
	"fmt"

	"github.com/hajimehoshi/ebiten/v2"
)

// Canvas is a persistent offscreen texture drawn by the caller. Unlike
// pooled render targets used internally, a Canvas is owned by the caller and
// is NOT recycled between frames. Its source is never freed by the texture
// budget and never packed into the atlas.
//
// Drawing into a canvas shows up on the next rendered frame. Call
// Invalidate after drawing when a lazy texturizer above a displaying node
// must redraw its cached result.
type Canvas struct {
	src *TextureSource
	tex *Texture
}

// NewCanvas creates a w x h canvas registered under key.
func (s *Stage) NewCanvas(key string, w, h int) (*Canvas, error) {
	if _, ok := s.textures.sources[key]; ok {
		return nil, fmt.Errorf("strata: new canvas: key %q already in use", key)
	}
	src := s.textures.source(key, nil)
	src.pinned = true
	c := &Canvas{src: src, tex: &Texture{source: src}}
	if err := c.Resize(w, h); err != nil {
		delete(s.textures.sources, key)
		return nil, err
	}
	return c, nil
}

// Texture returns a texture showing the whole canvas.
func (c *Canvas) Texture() *Texture { return c.tex }

// Size returns the canvas size in pixels.
func (c *Canvas) Size() (w, h int) { return c.src.Size() }

// Image returns the underlying *ebiten.Image for direct manipulation, or nil
// when the stage does not draw through Ebitengine.
func (c *Canvas) Image() *ebiten.Image {
	if t, ok := c.src.gpu.(*ebitenTexture); ok {
		return t.img
	}
	return nil
}

// Clear fills the canvas with transparent black.
func (c *Canvas) Clear() {
	c.src.manager.dev.Clear(c.src.gpu)
}

// Fill fills the entire canvas with the given color.
func (c *Canvas) Fill(col Color) {
	c.src.manager.dev.Fill(c.src.gpu, col)
}

// WritePixels replaces the canvas content with premultiplied RGBA pixels.
func (c *Canvas) WritePixels(pix []byte) error {
	return c.src.manager.dev.WritePixels(c.src.gpu, pix)
}

// DrawTexture draws a loaded texture onto the canvas with its top-left at
// (x, y). Textures that are not loaded yet draw nothing.
func (c *Canvas) DrawTexture(t *Texture, x, y float64, blend BlendMode) error {
	src, u0, v0, u1, v1, ok := t.drawable()
	if !ok {
		return nil
	}
	w, h := t.Size()
	fx, fy := float32(x), float32(y)
	fw, fh := float32(w), float32(h)
	var v [4]ebiten.Vertex
	setVertex(&v[0], fx, fy, u0, v0, ColorWhite, 1)
	setVertex(&v[1], fx+fw, fy, u1, v0, ColorWhite, 1)
	setVertex(&v[2], fx+fw, fy+fh, u1, v1, ColorWhite, 1)
	setVertex(&v[3], fx, fy+fh, u0, v1, ColorWhite, 1)
	return c.src.manager.dev.DrawTriangles(c.src.gpu, src, v[:], quadIndices(1), DrawOptions{Blend: blend})
}

// Invalidate marks every node displaying the canvas as changed.
func (c *Canvas) Invalidate() {
	c.src.markViews()
}

// Resize replaces the canvas with a cleared texture of the given size.
func (c *Canvas) Resize(w, h int) error {
	m := c.src.manager
	if w <= 0 || h <= 0 {
		return fmt.Errorf("strata: resize canvas %q: %w", c.src.key, ErrZeroSize)
	}
	if w > m.maxTextureSize || h > m.maxTextureSize {
		return fmt.Errorf("strata: resize canvas %q (%dx%d): %w", c.src.key, w, h, ErrTextureTooLarge)
	}
	tex, err := m.dev.NewTexture(w, h)
	if err != nil {
		return fmt.Errorf("strata: resize canvas %q: %w", c.src.key, err)
	}
	m.releaseGPU(c.src)
	c.src.gpu = tex
	c.src.w, c.src.h = w, h
	c.src.loaded = true
	m.memory += w * h
	for _, v := range c.src.views {
		v.setRecalc(recalcDimensions)
	}
	return nil
}

// Dispose frees the canvas texture and unregisters its key. Nodes still
// displaying it draw nothing.
func (c *Canvas) Dispose() {
	m := c.src.manager
	m.releaseGPU(c.src)
	c.src.loaded = false
	c.src.markViews()
	delete(m.sources, c.src.key)
}
