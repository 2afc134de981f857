package strata

import (
	"image"
	"math"

	"github.com/hajimehoshi/ebiten/v2"
)

// GPUTexture is a texture handle owned by a Device.
type GPUTexture interface {
	// Size returns the texture dimensions in pixels.
	Size() (w, h int)
}

// DrawOptions controls a single DrawTriangles call on a Device.
type DrawOptions struct {
	Blend BlendMode
	// Scissor, when non-nil, restricts drawing to this pixel rectangle of
	// the destination.
	Scissor *image.Rectangle
}

// Device is the GPU context a Stage renders with. Vertices use the
// interleaved position/texcoord/color layout of ebiten.Vertex; source
// coordinates are in texels and colors are premultiplied.
//
// The Ebitengine implementation is returned by NewEbitenDevice.
type Device interface {
	// NewTexture allocates a cleared w x h texture.
	NewTexture(w, h int) (GPUTexture, error)
	// WritePixels replaces the texture content with premultiplied RGBA pixels.
	WritePixels(tex GPUTexture, pix []byte) error
	// ReadPixels copies the premultiplied RGBA content of the texture into pix.
	ReadPixels(tex GPUTexture, pix []byte) error
	// Clear fills the texture with transparent black.
	Clear(tex GPUTexture)
	// Fill fills the texture with a solid color.
	Fill(tex GPUTexture, c Color)
	// DeleteTexture releases the texture. It must not be used afterwards.
	DeleteTexture(tex GPUTexture)
	// DrawTriangles draws indexed triangles sampling src into dst.
	DrawTriangles(dst, src GPUTexture, vertices []ebiten.Vertex, indices []uint32, opts DrawOptions) error
	// MaxTextureSize is the largest edge length NewTexture accepts.
	MaxTextureSize() int
}

// scissorRect converts a clip rectangle in target pixels to the integer
// rectangle handed to the device, rounding outward.
func scissorRect(r Rect) image.Rectangle {
	x0 := int(math.Floor(r.X))
	y0 := int(math.Floor(r.Y))
	x1 := int(math.Ceil(r.X + r.Width))
	y1 := int(math.Ceil(r.Y + r.Height))
	return image.Rect(x0, y0, x1, y1)
}
