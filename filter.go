package strata

import (
	"fmt"
	"math"

	"github.com/hajimehoshi/ebiten/v2"
)

// Filter is a visual effect applied to a node's rendered subtree. A node
// with filters renders its subtree to a texture first; each filter then
// draws its input into a cleared texture of the same size.
type Filter interface {
	// Apply renders src into dst with the filter effect.
	Apply(dev Device, src, dst GPUTexture) error
}

// FilterFunc adapts a function to the Filter interface.
type FilterFunc func(dev Device, src, dst GPUTexture) error

// Apply calls f.
func (f FilterFunc) Apply(dev Device, src, dst GPUTexture) error { return f(dev, src, dst) }

// ebitenImages unwraps the images of a filter pass. The built-in filters
// only run on the Ebitengine device.
func ebitenImages(src, dst GPUTexture) (*ebiten.Image, *ebiten.Image, error) {
	s, ok := src.(*ebitenTexture)
	if !ok {
		return nil, nil, ErrForeignTexture
	}
	d, ok := dst.(*ebitenTexture)
	if !ok {
		return nil, nil, ErrForeignTexture
	}
	return s.img, d.img, nil
}

// scratchTexture is a device texture a filter keeps between passes. It is
// reallocated when the requested size or device changes.
type scratchTexture struct {
	dev  Device
	tex  GPUTexture
	img  *ebiten.Image
	w, h int
}

// image returns the w x h scratch image. Its content is whatever the last
// pass left.
func (s *scratchTexture) image(dev Device, w, h int) (*ebiten.Image, error) {
	if s.tex != nil && (s.dev != dev || s.w != w || s.h != h) {
		s.release()
	}
	if s.tex != nil {
		return s.img, nil
	}
	tex, err := dev.NewTexture(w, h)
	if err != nil {
		return nil, fmt.Errorf("strata: filter scratch texture: %w", err)
	}
	et, ok := tex.(*ebitenTexture)
	if !ok {
		dev.DeleteTexture(tex)
		return nil, ErrForeignTexture
	}
	s.dev, s.tex, s.img, s.w, s.h = dev, tex, et.img, w, h
	return s.img, nil
}

func (s *scratchTexture) release() {
	if s.tex != nil {
		s.dev.DeleteTexture(s.tex)
	}
	*s = scratchTexture{}
}

// drawScaled stretches src over the whole of dst.
func drawScaled(dst, src *ebiten.Image, op *ebiten.DrawImageOptions, filter ebiten.Filter) {
	sb, db := src.Bounds(), dst.Bounds()
	op.GeoM.Reset()
	op.ColorScale.Reset()
	op.GeoM.Scale(float64(db.Dx())/float64(sb.Dx()), float64(db.Dy())/float64(sb.Dy()))
	op.Filter = filter
	dst.DrawImage(src, op)
}

// storeColor writes c premultiplied into a vec4 uniform buffer.
func storeColor(dst *[4]float32, c Color) {
	dst[0], dst[1], dst[2], dst[3] = c.premultiplied(1)
}

// Kage sources of the built-in filters. Ebitengine images hold
// premultiplied alpha; shaders that work on color un-premultiply first.

const colorMatrixShaderSrc = `//kage:unit pixels
package main

var Matrix [20]float

func Fragment(dst vec4, src vec2, color vec4) vec4 {
	p := imageSrc0At(src)
	if p.a > 0 {
		p.rgb /= p.a
	}
	out := vec4(
		dot(vec4(Matrix[0], Matrix[1], Matrix[2], Matrix[3]), p)+Matrix[4],
		dot(vec4(Matrix[5], Matrix[6], Matrix[7], Matrix[8]), p)+Matrix[9],
		dot(vec4(Matrix[10], Matrix[11], Matrix[12], Matrix[13]), p)+Matrix[14],
		dot(vec4(Matrix[15], Matrix[16], Matrix[17], Matrix[18]), p)+Matrix[19],
	)
	out = clamp(out, vec4(0), vec4(1))
	return vec4(out.rgb*out.a, out.a)
}
`

const edgeOutlineShaderSrc = `//kage:unit pixels
package main

var EdgeColor vec4

func neighborAlpha(pos vec2) float {
	return max(
		max(imageSrc0At(pos+vec2(1, 0)).a, imageSrc0At(pos-vec2(1, 0)).a),
		max(imageSrc0At(pos+vec2(0, 1)).a, imageSrc0At(pos-vec2(0, 1)).a),
	)
}

func Fragment(dst vec4, src vec2, color vec4) vec4 {
	p := imageSrc0At(src)
	if p.a > 0 {
		return p
	}
	if neighborAlpha(src) > 0 {
		return EdgeColor
	}
	return vec4(0)
}
`

const edgeInlineShaderSrc = `//kage:unit pixels
package main

var EdgeColor vec4

func neighborAlpha(pos vec2) float {
	return min(
		min(imageSrc0At(pos+vec2(1, 0)).a, imageSrc0At(pos-vec2(1, 0)).a),
		min(imageSrc0At(pos+vec2(0, 1)).a, imageSrc0At(pos-vec2(0, 1)).a),
	)
}

func Fragment(dst vec4, src vec2, color vec4) vec4 {
	p := imageSrc0At(src)
	if p.a == 0 {
		return vec4(0)
	}
	if neighborAlpha(src) == 0 {
		return EdgeColor
	}
	return p
}
`

const paletteShaderSrc = `//kage:unit pixels
package main

var PaletteSize float
var CycleOffset float
var TexWidth float

func Fragment(dst vec4, src vec2, color vec4) vec4 {
	p := imageSrc0At(src)
	if p.a == 0 {
		return vec4(0)
	}
	p.rgb /= p.a
	lum := dot(p.rgb, vec3(0.299, 0.587, 0.114))
	idx := mod(lum*(PaletteSize-1)+CycleOffset, PaletteSize)
	entry := imageSrc1At(vec2((idx+0.5)/PaletteSize*TexWidth, 0.5))
	if entry.a > 0 {
		entry.rgb /= entry.a
	}
	return vec4(entry.rgb*p.a, p.a)
}
`

// lazyShader compiles its Kage source on first use. A failed compile is
// logged once with the numbered source and reported on every later use.
type lazyShader struct {
	name   string
	src    string
	shader *ebiten.Shader
	err    error
}

func (l *lazyShader) get() (*ebiten.Shader, error) {
	if l.shader == nil && l.err == nil {
		sh, err := ebiten.NewShader([]byte(l.src))
		if err != nil {
			l.err = fmt.Errorf("strata: compile %s shader: %w", l.name, err)
			logger.Error("shader compile failed", "shader", l.name, "error", err, "source", numberedSource([]byte(l.src)))
			return nil, l.err
		}
		l.shader = sh
	}
	return l.shader, l.err
}

var (
	colorMatrixShader = &lazyShader{name: "color matrix", src: colorMatrixShaderSrc}
	edgeOutlineShader = &lazyShader{name: "edge outline", src: edgeOutlineShaderSrc}
	edgeInlineShader  = &lazyShader{name: "edge inline", src: edgeInlineShaderSrc}
	paletteShader     = &lazyShader{name: "palette", src: paletteShaderSrc}
)

// shaderPass draws a source image through a built-in shader at the
// source's size. The uniform map is reused across frames.
type shaderPass struct {
	op       ebiten.DrawRectShaderOptions
	uniforms map[string]any
}

func (p *shaderPass) run(l *lazyShader, src, dst, extra *ebiten.Image) error {
	shader, err := l.get()
	if err != nil {
		return err
	}
	b := src.Bounds()
	p.op.Images[0] = src
	p.op.Images[1] = extra
	p.op.Uniforms = p.uniforms
	dst.DrawRectShader(b.Dx(), b.Dy(), shader, &p.op)
	return nil
}

// --- ColorMatrixFilter ---

// ColorMatrixFilter transforms straight-alpha colors by a 4x5 matrix in
// row-major order: [Rr, Rg, Rb, Ra, Roffset, Gr, ...].
type ColorMatrixFilter struct {
	Matrix [20]float64

	matrix [20]float32
	pass   shaderPass
}

// identity3 is the color part of the identity matrix.
var identity3 = [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

// colorMatrix builds a matrix that maps RGB through rgb, adds offset to
// each color channel and keeps alpha.
func colorMatrix(rgb [3][3]float64, offset float64) [20]float64 {
	var m [20]float64
	for row := range rgb {
		copy(m[row*5:row*5+3], rgb[row][:])
		m[row*5+4] = offset
	}
	m[18] = 1
	return m
}

// NewColorMatrixFilter returns a filter set to the identity.
func NewColorMatrixFilter() *ColorMatrixFilter {
	f := &ColorMatrixFilter{Matrix: colorMatrix(identity3, 0)}
	f.pass.uniforms = map[string]any{"Matrix": f.matrix[:]}
	return f
}

// SetBrightness offsets every color channel by b, in [-1, 1].
func (f *ColorMatrixFilter) SetBrightness(b float64) {
	f.Matrix = colorMatrix(identity3, b)
}

// SetContrast scales colors around mid gray. 1 is unchanged, 0 is flat gray.
func (f *ColorMatrixFilter) SetContrast(c float64) {
	f.Matrix = colorMatrix([3][3]float64{{c, 0, 0}, {0, c, 0}, {0, 0, c}}, (1-c)/2)
}

// SetSaturation blends colors with their luminance. 1 is unchanged, 0 is
// grayscale.
func (f *ColorMatrixFilter) SetSaturation(s float64) {
	lr, lg, lb := (1-s)*0.299, (1-s)*0.587, (1-s)*0.114
	f.Matrix = colorMatrix([3][3]float64{
		{lr + s, lg, lb},
		{lr, lg + s, lb},
		{lr, lg, lb + s},
	}, 0)
}

// Apply draws src through the matrix into dst.
func (f *ColorMatrixFilter) Apply(_ Device, srcTex, dstTex GPUTexture) error {
	src, dst, err := ebitenImages(srcTex, dstTex)
	if err != nil {
		return err
	}
	for i, v := range f.Matrix {
		f.matrix[i] = float32(v)
	}
	return f.pass.run(colorMatrixShader, src, dst, nil)
}

// --- BlurFilter ---

// BlurFilter approximates a blur of Radius pixels by halving the image
// log2(Radius) times and scaling it back up with linear filtering.
type BlurFilter struct {
	Radius int

	chain []scratchTexture
	op    ebiten.DrawImageOptions
}

// NewBlurFilter returns a blur filter. Negative radii are treated as 0.
func NewBlurFilter(radius int) *BlurFilter {
	return &BlurFilter{Radius: max(radius, 0)}
}

// Apply blurs src into dst. The intermediate textures come from dev and
// are kept for the next frame.
func (f *BlurFilter) Apply(dev Device, srcTex, dstTex GPUTexture) error {
	src, dst, err := ebitenImages(srcTex, dstTex)
	if err != nil {
		return err
	}
	if f.Radius <= 0 {
		drawScaled(dst, src, &f.op, ebiten.FilterNearest)
		return nil
	}

	passes := max(1, int(math.Ceil(math.Log2(float64(f.Radius)))))
	for len(f.chain) > passes {
		f.chain[len(f.chain)-1].release()
		f.chain = f.chain[:len(f.chain)-1]
	}
	for len(f.chain) < passes {
		f.chain = append(f.chain, scratchTexture{})
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	cur := src
	for i := range f.chain {
		w, h = max(w/2, 1), max(h/2, 1)
		img, err := f.chain[i].image(dev, w, h)
		if err != nil {
			return err
		}
		img.Clear()
		drawScaled(img, cur, &f.op, ebiten.FilterLinear)
		cur = img
	}
	for i := passes - 2; i >= 0; i-- {
		img := f.chain[i].img
		img.Clear()
		drawScaled(img, cur, &f.op, ebiten.FilterLinear)
		cur = img
	}
	drawScaled(dst, cur, &f.op, ebiten.FilterLinear)
	return nil
}

// Release frees the intermediate textures.
func (f *BlurFilter) Release() {
	for i := range f.chain {
		f.chain[i].release()
	}
	f.chain = f.chain[:0]
}

// --- OutlineFilter ---

// OutlineFilter draws the source tinted with Color at the eight neighbor
// offsets of Thickness pixels, then the source itself on top.
type OutlineFilter struct {
	Thickness int
	Color     Color

	op ebiten.DrawImageOptions
}

// NewOutlineFilter returns an outline filter.
func NewOutlineFilter(thickness int, c Color) *OutlineFilter {
	return &OutlineFilter{Thickness: thickness, Color: c}
}

// Apply draws the outline and the source into dst.
func (f *OutlineFilter) Apply(_ Device, srcTex, dstTex GPUTexture) error {
	src, dst, err := ebitenImages(srcTex, dstTex)
	if err != nil {
		return err
	}
	t := float64(f.Thickness)
	r, g, b, a := f.Color.premultiplied(1)
	op := &f.op
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			op.GeoM.Reset()
			op.ColorScale.Reset()
			op.GeoM.Translate(float64(dx)*t, float64(dy)*t)
			op.ColorScale.Scale(r, g, b, a)
			dst.DrawImage(src, op)
		}
	}
	op.GeoM.Reset()
	op.ColorScale.Reset()
	dst.DrawImage(src, op)
	return nil
}

// --- Pixel-perfect edge filters ---

// edgePass runs one of the edge shaders with a color uniform.
type edgePass struct {
	color [4]float32
	pass  shaderPass
}

func (e *edgePass) init() {
	e.pass.uniforms = map[string]any{"EdgeColor": e.color[:]}
}

func (e *edgePass) apply(l *lazyShader, c Color, srcTex, dstTex GPUTexture) error {
	src, dst, err := ebitenImages(srcTex, dstTex)
	if err != nil {
		return err
	}
	storeColor(&e.color, c)
	return e.pass.run(l, src, dst, nil)
}

// PixelPerfectOutlineFilter paints transparent pixels that touch an opaque
// pixel horizontally or vertically with Color, a one pixel outline.
type PixelPerfectOutlineFilter struct {
	Color Color
	edge  edgePass
}

// NewPixelPerfectOutlineFilter returns a one pixel outline filter.
func NewPixelPerfectOutlineFilter(c Color) *PixelPerfectOutlineFilter {
	f := &PixelPerfectOutlineFilter{Color: c}
	f.edge.init()
	return f
}

// Apply draws src with its outline into dst.
func (f *PixelPerfectOutlineFilter) Apply(_ Device, src, dst GPUTexture) error {
	return f.edge.apply(edgeOutlineShader, f.Color, src, dst)
}

// PixelPerfectInlineFilter paints opaque pixels that touch a transparent
// pixel horizontally or vertically with Color.
type PixelPerfectInlineFilter struct {
	Color Color
	edge  edgePass
}

// NewPixelPerfectInlineFilter returns a one pixel inline filter.
func NewPixelPerfectInlineFilter(c Color) *PixelPerfectInlineFilter {
	f := &PixelPerfectInlineFilter{Color: c}
	f.edge.init()
	return f
}

// Apply draws src with its recolored edge into dst.
func (f *PixelPerfectInlineFilter) Apply(_ Device, src, dst GPUTexture) error {
	return f.edge.apply(edgeInlineShader, f.Color, src, dst)
}

// --- PaletteFilter ---

// PaletteFilter maps each pixel's luminance to one of 256 palette colors.
// CycleOffset shifts the lookup, for palette cycling.
type PaletteFilter struct {
	Palette     [256]Color
	CycleOffset float64

	paletteDirty bool
	lookup       scratchTexture
	pix          []byte
	pass         shaderPass
}

// NewPaletteFilter returns a palette filter holding a grayscale ramp.
func NewPaletteFilter() *PaletteFilter {
	f := &PaletteFilter{paletteDirty: true}
	f.pass.uniforms = map[string]any{"PaletteSize": float32(256)}
	for i := range f.Palette {
		v := float64(i) / 255
		f.Palette[i] = Color{v, v, v, 1}
	}
	return f
}

// SetPalette replaces the palette.
func (f *PaletteFilter) SetPalette(palette [256]Color) {
	f.Palette = palette
	f.paletteDirty = true
}

// lookupImage returns the palette as a w x h texture. Shader sources must
// share one size, so the 256 entries are stretched across each row.
func (f *PaletteFilter) lookupImage(dev Device, w, h int) (*ebiten.Image, error) {
	stale := f.paletteDirty || f.lookup.tex == nil || f.lookup.dev != dev || f.lookup.w != w || f.lookup.h != h
	img, err := f.lookup.image(dev, w, h)
	if err != nil || !stale {
		return img, err
	}
	need := 4 * w * h
	if cap(f.pix) < need {
		f.pix = make([]byte, need)
	}
	pix := f.pix[:need]
	for x := 0; x < w; x++ {
		idx := min(int((float64(x)+0.5)*256/float64(w)), 255)
		r, g, b, a := f.Palette[idx].premultiplied(1)
		pix[4*x] = byte(r*255 + 0.5)
		pix[4*x+1] = byte(g*255 + 0.5)
		pix[4*x+2] = byte(b*255 + 0.5)
		pix[4*x+3] = byte(a*255 + 0.5)
	}
	for y := 1; y < h; y++ {
		copy(pix[4*w*y:], pix[:4*w])
	}
	if err := dev.WritePixels(f.lookup.tex, pix); err != nil {
		return nil, err
	}
	f.paletteDirty = false
	return img, nil
}

// Apply remaps src through the palette into dst.
func (f *PaletteFilter) Apply(dev Device, srcTex, dstTex GPUTexture) error {
	src, dst, err := ebitenImages(srcTex, dstTex)
	if err != nil {
		return err
	}
	b := src.Bounds()
	lookup, err := f.lookupImage(dev, b.Dx(), b.Dy())
	if err != nil {
		return err
	}
	f.pass.uniforms["CycleOffset"] = float32(f.CycleOffset)
	f.pass.uniforms["TexWidth"] = float32(b.Dx())
	return f.pass.run(paletteShader, src, dst, lookup)
}

// Release frees the palette texture.
func (f *PaletteFilter) Release() {
	f.lookup.release()
	f.paletteDirty = true
}

// --- CustomShaderFilter ---

// CustomShaderFilter runs a caller-compiled Kage shader. The filter input
// is bound as image 0; Images[1] and Images[2] are passed through and must
// match the input size. Images[0] is ignored.
type CustomShaderFilter struct {
	Shader   *ebiten.Shader
	Uniforms map[string]any
	Images   [3]*ebiten.Image

	op ebiten.DrawRectShaderOptions
}

// NewCustomShaderFilter returns a filter running shader.
func NewCustomShaderFilter(shader *ebiten.Shader) *CustomShaderFilter {
	return &CustomShaderFilter{Shader: shader, Uniforms: make(map[string]any)}
}

// Apply runs the shader over src into dst.
func (f *CustomShaderFilter) Apply(_ Device, srcTex, dstTex GPUTexture) error {
	src, dst, err := ebitenImages(srcTex, dstTex)
	if err != nil {
		return err
	}
	if f.Shader == nil {
		return ErrProgramUnusable
	}
	f.op.Images[0] = src
	f.op.Images[1] = f.Images[1]
	f.op.Images[2] = f.Images[2]
	f.op.Uniforms = f.Uniforms
	b := src.Bounds()
	dst.DrawRectShader(b.Dx(), b.Dy(), f.Shader, &f.op)
	return nil
}
