package strata

import (
	"fmt"
	"image"

	"github.com/hajimehoshi/ebiten/v2"
)

// ebitenTexture wraps an *ebiten.Image as a GPUTexture.
type ebitenTexture struct {
	img *ebiten.Image
}

// Size returns the image bounds size.
func (t *ebitenTexture) Size() (w, h int) {
	b := t.img.Bounds()
	return b.Dx(), b.Dy()
}

// Image returns the underlying Ebitengine image.
func (t *ebitenTexture) Image() *ebiten.Image { return t.img }

// WrapImage adapts an Ebitengine image, such as the screen, as a render
// target for Stage.Render.
func WrapImage(img *ebiten.Image) GPUTexture {
	return &ebitenTexture{img: img}
}

// ebitenDevice implements Device on Ebitengine images.
type ebitenDevice struct {
	maxTextureSize int
}

// NewEbitenDevice returns the Ebitengine device. Textures larger than
// maxTextureSize on either edge are refused.
func NewEbitenDevice(maxTextureSize int) Device {
	return &ebitenDevice{maxTextureSize: maxTextureSize}
}

func (d *ebitenDevice) MaxTextureSize() int { return d.maxTextureSize }

func (d *ebitenDevice) NewTexture(w, h int) (GPUTexture, error) {
	if w <= 0 || h <= 0 {
		return nil, ErrZeroSize
	}
	if w > d.maxTextureSize || h > d.maxTextureSize {
		return nil, fmt.Errorf("strata: new texture %dx%d: %w", w, h, ErrTextureTooLarge)
	}
	img := ebiten.NewImageWithOptions(image.Rect(0, 0, w, h), &ebiten.NewImageOptions{Unmanaged: true})
	return &ebitenTexture{img: img}, nil
}

func (d *ebitenDevice) WritePixels(tex GPUTexture, pix []byte) error {
	t, ok := tex.(*ebitenTexture)
	if !ok {
		return ErrForeignTexture
	}
	w, h := t.Size()
	if len(pix) != 4*w*h {
		return fmt.Errorf("strata: write pixels: got %d bytes for %dx%d", len(pix), w, h)
	}
	t.img.WritePixels(pix)
	return nil
}

func (d *ebitenDevice) ReadPixels(tex GPUTexture, pix []byte) error {
	t, ok := tex.(*ebitenTexture)
	if !ok {
		return ErrForeignTexture
	}
	w, h := t.Size()
	if len(pix) != 4*w*h {
		return fmt.Errorf("strata: read pixels: got %d bytes for %dx%d", len(pix), w, h)
	}
	t.img.ReadPixels(pix)
	return nil
}

func (d *ebitenDevice) Clear(tex GPUTexture) {
	if t, ok := tex.(*ebitenTexture); ok {
		t.img.Clear()
	}
}

func (d *ebitenDevice) Fill(tex GPUTexture, c Color) {
	if t, ok := tex.(*ebitenTexture); ok {
		t.img.Fill(c.rgba())
	}
}

func (d *ebitenDevice) DeleteTexture(tex GPUTexture) {
	if t, ok := tex.(*ebitenTexture); ok && t.img != nil {
		t.img.Deallocate()
		t.img = nil
	}
}

func (d *ebitenDevice) DrawTriangles(dst, src GPUTexture, vertices []ebiten.Vertex, indices []uint32, opts DrawOptions) error {
	dt, ok := dst.(*ebitenTexture)
	if !ok {
		return ErrForeignTexture
	}
	st, ok := src.(*ebitenTexture)
	if !ok {
		return ErrForeignTexture
	}
	target := dt.img
	if opts.Scissor != nil {
		target = target.SubImage(*opts.Scissor).(*ebiten.Image)
	}
	var triOp ebiten.DrawTrianglesOptions
	triOp.Blend = opts.Blend.EbitenBlend()
	triOp.ColorScaleMode = ebiten.ColorScaleModePremultipliedAlpha
	target.DrawTriangles32(vertices, indices, st.img, &triOp)
	return nil
}
