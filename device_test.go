package strata

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/hajimehoshi/ebiten/v2"
)

const epsilon = 1e-9

func approxEqual(a, b, eps float64) bool {
	return math.Abs(a-b) < eps
}

// --- Fake device ---

// fakeTexture is a GPUTexture of fakeDevice. Pixels are kept only for
// textures written with WritePixels.
type fakeTexture struct {
	id      int
	w, h    int
	pix     []byte
	deleted bool
	fill    Color
}

func (t *fakeTexture) Size() (w, h int) { return t.w, t.h }

// drawCall records one DrawTriangles call.
type drawCall struct {
	dst, src *fakeTexture
	verts    []ebiten.Vertex
	indices  int
	opts     DrawOptions
}

// fakeDevice implements Device in memory and records every call.
type fakeDevice struct {
	maxTex int

	created []*fakeTexture
	deleted int
	clears  []*fakeTexture
	fills   []*fakeTexture
	writes  []*fakeTexture
	draws   []drawCall

	// failNew makes NewTexture fail.
	failNew bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{maxTex: 4096}
}

func (d *fakeDevice) MaxTextureSize() int { return d.maxTex }

func (d *fakeDevice) NewTexture(w, h int) (GPUTexture, error) {
	if d.failNew {
		return nil, errors.New("fake: out of memory")
	}
	if w <= 0 || h <= 0 {
		return nil, ErrZeroSize
	}
	if w > d.maxTex || h > d.maxTex {
		return nil, ErrTextureTooLarge
	}
	t := &fakeTexture{id: len(d.created) + 1, w: w, h: h}
	d.created = append(d.created, t)
	return t, nil
}

func (d *fakeDevice) WritePixels(tex GPUTexture, pix []byte) error {
	t := tex.(*fakeTexture)
	if len(pix) != 4*t.w*t.h {
		return errors.New("fake: bad pixel length")
	}
	t.pix = append(t.pix[:0], pix...)
	d.writes = append(d.writes, t)
	return nil
}

func (d *fakeDevice) ReadPixels(tex GPUTexture, pix []byte) error {
	t := tex.(*fakeTexture)
	if len(pix) != 4*t.w*t.h {
		return errors.New("fake: bad pixel length")
	}
	if t.pix != nil {
		copy(pix, t.pix)
		return nil
	}
	r, g, b, a := t.fill.premultiplied(1)
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i] = uint8(r * 255)
		pix[i+1] = uint8(g * 255)
		pix[i+2] = uint8(b * 255)
		pix[i+3] = uint8(a * 255)
	}
	return nil
}

func (d *fakeDevice) Clear(tex GPUTexture) {
	t := tex.(*fakeTexture)
	t.fill = Color{}
	t.pix = nil
	d.clears = append(d.clears, t)
}

func (d *fakeDevice) Fill(tex GPUTexture, c Color) {
	t := tex.(*fakeTexture)
	t.fill = c
	t.pix = nil
	d.fills = append(d.fills, t)
}

func (d *fakeDevice) DeleteTexture(tex GPUTexture) {
	t := tex.(*fakeTexture)
	t.deleted = true
	d.deleted++
}

func (d *fakeDevice) DrawTriangles(dst, src GPUTexture, vertices []ebiten.Vertex, indices []uint32, opts DrawOptions) error {
	dt, st := dst.(*fakeTexture), src.(*fakeTexture)
	if dt.deleted || st.deleted {
		return errors.New("fake: draw with deleted texture")
	}
	if opts.Scissor != nil {
		s := *opts.Scissor
		opts.Scissor = &s
	}
	d.draws = append(d.draws, drawCall{
		dst:     dt,
		src:     st,
		verts:   append([]ebiten.Vertex(nil), vertices...),
		indices: len(indices),
		opts:    opts,
	})
	return nil
}

// live returns the number of created textures not deleted yet.
func (d *fakeDevice) live() int {
	n := 0
	for _, t := range d.created {
		if !t.deleted {
			n++
		}
	}
	return n
}

// resetCalls forgets recorded draw, clear and fill calls.
func (d *fakeDevice) resetCalls() {
	d.draws = nil
	d.clears = nil
	d.fills = nil
	d.writes = nil
}

// --- Fake program ---

// fakeProgram records the executor's calls. Programs with the same group
// report HasSameProgram for each other.
type fakeProgram struct {
	group string
	merge bool
	fail  bool

	uses, stops int
	draws       []int
}

func (p *fakeProgram) UseProgram()                     { p.uses++ }
func (p *fakeProgram) StopProgram()                    { p.stops++ }
func (p *fakeProgram) SetupUniforms(op *QuadOperation) {}
func (p *fakeProgram) SupportsMerging() bool           { return p.merge }

func (p *fakeProgram) HasSameProgram(other Program) bool {
	o, ok := other.(*fakeProgram)
	return ok && o.group == p.group
}

func (p *fakeProgram) Draw(op *QuadOperation) error {
	p.draws = append(p.draws, op.Length)
	if p.fail {
		return errors.New("fake: draw failed")
	}
	return nil
}

// --- Helpers ---

func testOptions() Options {
	opts := DefaultOptions()
	opts.Width = 100
	opts.Height = 100
	opts.QuadCapacity = 256
	opts.MaxTextureSize = 1024
	opts.AtlasSize = 64
	opts.AtlasMaxTexturePixels = 32 * 32
	opts.AtlasDefragMinFrames = 0
	return opts
}

func newTestStage(t *testing.T, opts Options) (*Stage, *fakeDevice) {
	t.Helper()
	dev := newFakeDevice()
	s, err := NewStageWithDevice(dev, opts)
	if err != nil {
		t.Fatalf("NewStageWithDevice: %v", err)
	}
	return s, dev
}

// runFrame runs Update and Render into target.
func runFrame(s *Stage, target GPUTexture) {
	s.Update()
	s.Render(target)
}

func newTarget(t *testing.T, dev *fakeDevice, w, h int) *fakeTexture {
	t.Helper()
	tex, err := dev.NewTexture(w, h)
	if err != nil {
		t.Fatalf("NewTexture: %v", err)
	}
	return tex.(*fakeTexture)
}

// solidPixels returns w*h premultiplied pixels of one color.
func solidPixels(w, h int, r, g, b, a byte) []byte {
	pix := make([]byte, 4*w*h)
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = r, g, b, a
	}
	return pix
}

// quadOps returns the quad operations of ops.
func quadOps(ops []Operation) []*QuadOperation {
	var out []*QuadOperation
	for _, op := range ops {
		if q, ok := op.(*QuadOperation); ok {
			out = append(out, q)
		}
	}
	return out
}

// --- scissorRect ---

func TestScissorRectRoundsOutward(t *testing.T) {
	tests := []struct {
		name string
		in   Rect
		want image.Rectangle
	}{
		{"integral", Rect{10, 20, 30, 40}, image.Rect(10, 20, 40, 60)},
		{"fractional", Rect{10.5, 20.25, 5, 5}, image.Rect(10, 20, 16, 26)},
		{"negative", Rect{-1.5, -0.5, 1, 1}, image.Rect(-2, -1, 0, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scissorRect(tt.in); got != tt.want {
				t.Errorf("scissorRect(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
