package strata

import (
	"image"

	"github.com/hajimehoshi/ebiten/v2"
)

// Operation is one step of a built frame: either a run of quads or a filter
// pass. The executor runs operations in order.
type Operation interface {
	operation()
}

// RenderTextureInfo describes one offscreen pass.
type RenderTextureInfo struct {
	// Width and Height are the target size in pixels.
	Width, Height int
	// Texture is the target. For a reused pass it is the texture of the
	// single source the pass would have copied.
	Texture GPUTexture
	// Empty is true until a quad or filter writes into the pass.
	Empty bool
	// Cleared is set by the executor once the texture was cleared for the
	// current execution.
	Cleared bool
	// Reused is true when the pass was skipped and Texture belongs to a
	// texture source rather than the render texture pool.
	Reused bool
}

// QuadOperation is an ordered run of quads sharing program, program owner,
// render target and scissor rectangle.
type QuadOperation struct {
	Program Program
	// Owner is the node that set Program, or nil for the stage default.
	Owner *Node
	// RenderTexture is the offscreen target, or nil for the stage target.
	RenderTexture *RenderTextureInfo
	// Scissor restricts drawing to a rectangle of the target, or is nil.
	Scissor *Rect
	// Index is the first quad in the shared buffer, Length the quad count.
	Index, Length int

	quads  *quadBuffer
	dev    Device
	target GPUTexture
}

func (*QuadOperation) operation() {}

// Device returns the device the operation executes on.
func (op *QuadOperation) Device() Device { return op.dev }

// Target returns the texture the operation draws into. Set by the executor.
func (op *QuadOperation) Target() GPUTexture { return op.target }

// Vertices returns the 4*Length vertices of the operation in upper-left,
// upper-right, bottom-right, bottom-left order per quad.
func (op *QuadOperation) Vertices() []ebiten.Vertex {
	return op.quads.vertices[op.Index*4 : (op.Index+op.Length)*4]
}

// Texture returns the source texture of the i-th quad of the operation.
func (op *QuadOperation) Texture(i int) GPUTexture {
	return op.quads.textures[op.Index+i]
}

// ScissorRect returns the scissor in integer target pixels, or nil.
func (op *QuadOperation) ScissorRect() *image.Rectangle {
	if op.Scissor == nil {
		return nil
	}
	r := scissorRect(*op.Scissor)
	return &r
}

// sameTarget reports whether op and other draw into the same target with the
// same scissor.
func (op *QuadOperation) sameTarget(other *QuadOperation) bool {
	if op.RenderTexture != other.RenderTexture {
		return false
	}
	if (op.Scissor == nil) != (other.Scissor == nil) {
		return false
	}
	return op.Scissor == nil || *op.Scissor == *other.Scissor
}

// FilterOperation runs Filter from Source into Target.
type FilterOperation struct {
	Filter Filter
	Owner  *Node
	Source *RenderTextureInfo
	Target *RenderTextureInfo
}

func (*FilterOperation) operation() {}

// quadBuffer is the shared vertex storage of a frame: four vertices and one
// source texture per quad.
type quadBuffer struct {
	vertices []ebiten.Vertex
	textures []GPUTexture
	count    int
	capacity int
}

func newQuadBuffer(capacity int) *quadBuffer {
	return &quadBuffer{
		vertices: make([]ebiten.Vertex, capacity*4),
		textures: make([]GPUTexture, capacity),
		capacity: capacity,
	}
}

// full reports whether no quad fits anymore.
func (b *quadBuffer) full() bool {
	return b.count >= b.capacity
}

// quadIndexCache holds the static index pattern 0,1,2,0,2,3 (+4 per quad).
var quadIndexCache []uint32

// quadIndices returns indices for n consecutive quads starting at vertex 0.
func quadIndices(n int) []uint32 {
	if need := n * 6; len(quadIndexCache) < need {
		grown := make([]uint32, need)
		for q := 0; q < n; q++ {
			base := uint32(q * 4)
			i := q * 6
			grown[i+0] = base + 0
			grown[i+1] = base + 1
			grown[i+2] = base + 2
			grown[i+3] = base + 0
			grown[i+4] = base + 2
			grown[i+5] = base + 3
		}
		quadIndexCache = grown
	}
	return quadIndexCache[:n*6]
}
