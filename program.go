package strata

import (
	"fmt"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
)

// Program draws quad operations. The executor calls UseProgram when the
// program becomes active, SetupUniforms and Draw once per operation run and
// StopProgram when another program takes over.
//
// Consecutive operations of different programs are drawn as one run when
// the active program reports HasSameProgram for the next one and the next
// one reports SupportsMerging.
type Program interface {
	UseProgram()
	StopProgram()
	SetupUniforms(op *QuadOperation)
	Draw(op *QuadOperation) error
	HasSameProgram(other Program) bool
	SupportsMerging() bool
}

// QuadProgram is the default program: it draws textured, colored quads with
// a fixed blend mode through Device.DrawTriangles.
type QuadProgram struct {
	blend BlendMode
}

// NewQuadProgram returns a program drawing with the given blend mode.
func NewQuadProgram(blend BlendMode) *QuadProgram {
	return &QuadProgram{blend: blend}
}

// Blend returns the program's blend mode.
func (p *QuadProgram) Blend() BlendMode { return p.blend }

func (p *QuadProgram) UseProgram()                    {}
func (p *QuadProgram) StopProgram()                   {}
func (p *QuadProgram) SetupUniforms(op *QuadOperation) {}

// SupportsMerging reports true; quad programs have no per-owner state.
func (p *QuadProgram) SupportsMerging() bool { return true }

// HasSameProgram reports whether other is a quad program with the same blend.
func (p *QuadProgram) HasSameProgram(other Program) bool {
	o, ok := other.(*QuadProgram)
	return ok && o.blend == p.blend
}

// Draw submits the operation's quads, one draw call per run of quads that
// share a source texture.
func (p *QuadProgram) Draw(op *QuadOperation) error {
	verts := op.Vertices()
	opts := DrawOptions{Blend: p.blend, Scissor: op.ScissorRect()}
	start := 0
	for start < op.Length {
		tex := op.Texture(start)
		end := start + 1
		for end < op.Length && op.Texture(end) == tex {
			end++
		}
		if err := op.Device().DrawTriangles(op.Target(), tex, verts[start*4:end*4], quadIndices(end-start), opts); err != nil {
			return err
		}
		start = end
	}
	return nil
}

// UniformFunc returns the uniforms of a shader program for one operation.
// The operation's Owner identifies the node that set the program.
type UniformFunc func(op *QuadOperation) map[string]any

// ShaderProgram draws quads with a Kage shader. The source texture of each
// quad is bound as image 0; vertex source coordinates are in texels, so
// shaders use //kage:unit pixels.
//
// The shader is compiled on first use. A compile failure is logged with the
// numbered source and the program stays unusable: its operations draw
// nothing and the rest of the frame is unaffected.
type ShaderProgram struct {
	src      []byte
	uniforms UniformFunc
	blend    BlendMode

	shader   *ebiten.Shader
	compiled bool
	err      error

	curUniforms map[string]any
	indices     []uint16
}

// NewShaderProgram creates a program from Kage source. uniforms may be nil.
func NewShaderProgram(src []byte, uniforms UniformFunc) *ShaderProgram {
	return &ShaderProgram{src: src, uniforms: uniforms}
}

// SetBlend sets the blend mode used when drawing.
func (p *ShaderProgram) SetBlend(b BlendMode) { p.blend = b }

// UseProgram compiles the shader on first use.
func (p *ShaderProgram) UseProgram() {
	if p.compiled {
		return
	}
	p.compiled = true
	sh, err := ebiten.NewShader(p.src)
	if err != nil {
		p.err = err
		logger.Error("shader compile failed", "error", err, "source", numberedSource(p.src))
		return
	}
	p.shader = sh
}

func (p *ShaderProgram) StopProgram() {}

// SetupUniforms evaluates the uniform function for op.
func (p *ShaderProgram) SetupUniforms(op *QuadOperation) {
	if p.uniforms == nil {
		p.curUniforms = nil
		return
	}
	p.curUniforms = p.uniforms(op)
}

// HasSameProgram reports whether other is this very program.
func (p *ShaderProgram) HasSameProgram(other Program) bool {
	o, ok := other.(*ShaderProgram)
	return ok && o == p
}

// SupportsMerging reports false when uniforms depend on the operation.
func (p *ShaderProgram) SupportsMerging() bool { return p.uniforms == nil }

// Err returns the compile error, if any.
func (p *ShaderProgram) Err() error { return p.err }

// maxShaderQuads bounds one DrawTrianglesShader call, whose indices are 16 bit.
const maxShaderQuads = 16383

// Draw submits the operation's quads through the shader.
func (p *ShaderProgram) Draw(op *QuadOperation) error {
	if p.shader == nil {
		return ErrProgramUnusable
	}
	dst, ok := op.Target().(*ebitenTexture)
	if !ok {
		return ErrForeignTexture
	}
	target := dst.img
	if s := op.ScissorRect(); s != nil {
		target = target.SubImage(*s).(*ebiten.Image)
	}
	verts := op.Vertices()
	var opts ebiten.DrawTrianglesShaderOptions
	opts.Uniforms = p.curUniforms
	opts.Blend = p.blend.EbitenBlend()
	start := 0
	for start < op.Length {
		tex := op.Texture(start)
		end := start + 1
		for end < op.Length && end-start < maxShaderQuads && op.Texture(end) == tex {
			end++
		}
		src, ok := tex.(*ebitenTexture)
		if !ok {
			return ErrForeignTexture
		}
		opts.Images[0] = src.img
		target.DrawTrianglesShader(verts[start*4:end*4], p.quadIndices16(end-start), p.shader, &opts)
		start = end
	}
	return nil
}

// quadIndices16 returns 16-bit indices for n quads.
func (p *ShaderProgram) quadIndices16(n int) []uint16 {
	if len(p.indices) < n*6 {
		p.indices = make([]uint16, n*6)
		for i, v := range quadIndices(n) {
			p.indices[i] = uint16(v)
		}
	}
	return p.indices[:n*6]
}

// numberedSource prefixes every source line with its line number.
func numberedSource(src []byte) string {
	var b strings.Builder
	for i, line := range strings.Split(string(src), "\n") {
		fmt.Fprintf(&b, "%4d: %s\n", i+1, line)
	}
	return b.String()
}
