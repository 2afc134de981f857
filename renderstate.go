package strata

import "github.com/hajimehoshi/ebiten/v2"

// renderState accumulates quads and operations while a frame is built.
// Batching keys are compared lazily: a setter only flags the state dirty
// and the next quad decides whether the open operation can continue.
type renderState struct {
	quads *quadBuffer
	ops   []Operation
	infos []*RenderTextureInfo

	defaultProgram Program
	dev            Device
	pool           *renderTexturePool
	white          GPUTexture
	maxTextureSize int

	cur   *QuadOperation
	dirty bool

	program    Program
	owner      *Node
	target     *RenderTextureInfo
	scissor    Rect
	hasScissor bool

	dropped int
}

func newRenderState(dev Device, pool *renderTexturePool, capacity, maxTextureSize int, def Program) *renderState {
	return &renderState{
		quads:          newQuadBuffer(capacity),
		dev:            dev,
		pool:           pool,
		maxTextureSize: maxTextureSize,
		defaultProgram: def,
		program:        def,
	}
}

// reset prepares for building a new frame.
func (r *renderState) reset() {
	for i := range r.ops {
		r.ops[i] = nil
	}
	r.ops = r.ops[:0]
	for i := range r.infos {
		r.infos[i] = nil
	}
	r.infos = r.infos[:0]
	for i := 0; i < r.quads.count; i++ {
		r.quads.textures[i] = nil
	}
	r.quads.count = 0
	r.cur = nil
	r.dirty = true
	r.program = r.defaultProgram
	r.owner = nil
	r.target = nil
	r.hasScissor = false
	r.dropped = 0
}

// setProgram selects the program for following quads. Nil selects the
// stage default.
func (r *renderState) setProgram(p Program, owner *Node) {
	if p == nil {
		p = r.defaultProgram
		owner = nil
	}
	if p != r.program || owner != r.owner {
		r.program = p
		r.owner = owner
		r.dirty = true
	}
}

// setRenderTarget selects the target for following quads; nil is the stage
// target.
func (r *renderState) setRenderTarget(info *RenderTextureInfo) {
	if info != r.target {
		r.target = info
		r.dirty = true
	}
}

// setScissor selects the scissor rectangle for following quads.
func (r *renderState) setScissor(s *Rect) {
	if s == nil {
		if r.hasScissor {
			r.hasScissor = false
			r.dirty = true
		}
		return
	}
	if !r.hasScissor || r.scissor != *s {
		r.scissor = *s
		r.hasScissor = true
		r.dirty = true
	}
}

// newRenderTextureInfo registers an offscreen pass.
func (r *renderState) newRenderTextureInfo(w, h int, tex GPUTexture) *RenderTextureInfo {
	info := &RenderTextureInfo{Width: w, Height: h, Texture: tex, Empty: true}
	r.infos = append(r.infos, info)
	return info
}

// addQuad reserves the next quad slot for tex and returns its four
// vertices. It returns nil when the buffer is full; the quad is dropped.
func (r *renderState) addQuad(tex GPUTexture) []ebiten.Vertex {
	if r.quads.full() {
		if r.dropped == 0 {
			logger.Warn("quad buffer full, dropping quads", "capacity", r.quads.capacity)
		}
		r.dropped++
		return nil
	}
	if r.dirty || r.cur == nil {
		r.openOperation()
	}
	i := r.quads.count
	r.quads.count++
	r.quads.textures[i] = tex
	r.cur.Length++
	if r.target != nil {
		r.target.Empty = false
	}
	return r.quads.vertices[i*4 : i*4+4]
}

// openOperation closes the current operation and starts one with the
// current batching keys.
func (r *renderState) openOperation() {
	r.closeOperation()
	op := &QuadOperation{
		Program:       r.program,
		Owner:         r.owner,
		RenderTexture: r.target,
		Index:         r.quads.count,
		quads:         r.quads,
		dev:           r.dev,
	}
	if r.hasScissor {
		s := r.scissor
		op.Scissor = &s
	}
	r.cur = op
	r.dirty = false
}

// closeOperation pushes the current operation if it holds quads.
func (r *renderState) closeOperation() {
	if r.cur != nil && r.cur.Length > 0 {
		r.ops = append(r.ops, r.cur)
	}
	r.cur = nil
	r.dirty = true
}

// addFilter appends a filter pass after everything emitted so far.
func (r *renderState) addFilter(f Filter, owner *Node, src, dst *RenderTextureInfo) {
	r.closeOperation()
	r.ops = append(r.ops, &FilterOperation{Filter: f, Owner: owner, Source: src, Target: dst})
	dst.Empty = false
}

// rollback removes every quad emitted after quad index start. Only quads of
// the open operation can be removed.
func (r *renderState) rollback(start int) {
	for i := start; i < r.quads.count; i++ {
		r.quads.textures[i] = nil
	}
	r.quads.count = start
	if r.cur != nil {
		r.cur.Length = start - r.cur.Index
		if r.cur.Length <= 0 {
			r.cur = nil
		}
	}
	r.dirty = true
}

// finish closes the last operation and returns the built list.
func (r *renderState) finish() []Operation {
	r.closeOperation()
	return r.ops
}
