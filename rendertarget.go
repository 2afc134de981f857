package strata

// --- Render texture pool ---

// pooledTexture is one offscreen texture owned by the pool.
type pooledTexture struct {
	tex       GPUTexture
	w, h      int
	inUse     bool
	lastFrame int64
}

// renderTexturePool keeps offscreen textures alive across frames so
// render-to-texture passes do not allocate and free GPU memory every frame.
// Lookup is a linear search for an exact size match; the pool is small.
type renderTexturePool struct {
	dev     Device
	entries []*pooledTexture

	// frame is the current frame number, used to tag released textures.
	frame int64
	// maxAge frees textures unused for more frames than this.
	maxAge int64
	// maxPixels is a soft budget over all pooled textures.
	maxPixels int
	pixels    int
}

func newRenderTexturePool(dev Device, maxAge, maxPixels int) *renderTexturePool {
	return &renderTexturePool{dev: dev, maxAge: int64(maxAge), maxPixels: maxPixels}
}

// allocate returns a free texture of exactly w x h, creating one if none is
// pooled. Going over the pixel budget sweeps every idle texture first.
func (p *renderTexturePool) allocate(w, h int) (GPUTexture, error) {
	for _, e := range p.entries {
		if !e.inUse && e.w == w && e.h == h {
			e.inUse = true
			e.lastFrame = p.frame
			return e.tex, nil
		}
	}
	if p.maxPixels > 0 && p.pixels+w*h > p.maxPixels {
		p.sweep(0)
		if p.pixels+w*h > p.maxPixels {
			logger.Warn("render texture pool over budget",
				"pixels", p.pixels+w*h, "budget", p.maxPixels, "textures", len(p.entries)+1)
		}
	}
	tex, err := p.dev.NewTexture(w, h)
	if err != nil {
		return nil, err
	}
	p.entries = append(p.entries, &pooledTexture{tex: tex, w: w, h: h, inUse: true, lastFrame: p.frame})
	p.pixels += w * h
	return tex, nil
}

// release returns tex to the pool, tagged with the current frame. Textures
// the pool does not own are ignored.
func (p *renderTexturePool) release(tex GPUTexture) {
	if e := p.find(tex); e != nil {
		e.inUse = false
		e.lastFrame = p.frame
	}
}

// touch refreshes the age of tex without changing its state. Used when a
// frame reuses the previous operation list.
func (p *renderTexturePool) touch(tex GPUTexture) {
	if e := p.find(tex); e != nil {
		e.lastFrame = p.frame
	}
}

func (p *renderTexturePool) find(tex GPUTexture) *pooledTexture {
	if tex == nil {
		return nil
	}
	for _, e := range p.entries {
		if e.tex == tex {
			return e
		}
	}
	return nil
}

// sweep frees idle textures last used more than maxAge frames ago.
// Textures released during the current frame always survive, since the
// frame's operations may still sample them.
func (p *renderTexturePool) sweep(maxAge int64) {
	kept := p.entries[:0]
	freed := 0
	for _, e := range p.entries {
		if !e.inUse && e.lastFrame < p.frame && p.frame-e.lastFrame > maxAge {
			p.dev.DeleteTexture(e.tex)
			p.pixels -= e.w * e.h
			freed++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(p.entries); i++ {
		p.entries[i] = nil
	}
	p.entries = kept
	if freed > 0 {
		logger.Info("render texture pool swept", "freed", freed, "remaining", len(p.entries))
	}
}

// advance moves the pool to frame and frees textures past their age.
func (p *renderTexturePool) advance(frame int64) {
	p.frame = frame
	p.sweep(p.maxAge)
}

// destroy frees every pooled texture, in use or not.
func (p *renderTexturePool) destroy() {
	for _, e := range p.entries {
		p.dev.DeleteTexture(e.tex)
	}
	p.entries = nil
	p.pixels = 0
}

// --- Texturizer ---

// Texturizer controls rendering a node's subtree into a texture before it
// is drawn as a single quad. Obtain it with Node.Texturizer.
type Texturizer struct {
	node     *Node
	enabled  bool
	lazy     bool
	colorize bool

	cache *RenderTextureInfo
	pool  *renderTexturePool
}

// Texturizer returns the node's texturizer, creating it on first use.
func (n *Node) Texturizer() *Texturizer {
	if n.texturizer == nil {
		n.texturizer = &Texturizer{node: n}
	}
	return n.texturizer
}

// Enabled reports whether the subtree is rendered to a texture.
func (t *Texturizer) Enabled() bool { return t.enabled }

// SetEnabled turns render-to-texture on or off for the node.
func (t *Texturizer) SetEnabled(v bool) {
	if t.enabled == v {
		return
	}
	n := t.node
	wasZ := n.isZContext()
	t.enabled = v
	n.zContextStatusChanged(wasZ)
	if !v {
		t.releaseCache()
	}
	n.setRecalc(recalcRenderContext | recalcClip)
	n.markRenderUpdates()
}

// Lazy reports whether the result is kept across frames.
func (t *Texturizer) Lazy() bool { return t.lazy }

// SetLazy keeps the rendered texture across frames and redraws it only
// when something in the subtree changes.
func (t *Texturizer) SetLazy(v bool) {
	if t.lazy == v {
		return
	}
	t.lazy = v
	if !v {
		t.releaseCache()
	}
	t.node.markRenderUpdates()
	t.node.markHasUpdates()
}

// Colorize reports whether the node's colors tint the result.
func (t *Texturizer) Colorize() bool { return t.colorize }

// SetColorize draws the result tinted by the node's corner colors, while
// the node's own texture is drawn untinted into it.
func (t *Texturizer) SetColorize(v bool) {
	if t.colorize == v {
		return
	}
	t.colorize = v
	t.node.markRenderUpdates()
	t.node.markHasUpdates()
}

// releaseCache returns the kept result to the pool.
func (t *Texturizer) releaseCache() {
	if t.cache == nil {
		return
	}
	if !t.cache.Reused && t.pool != nil {
		t.pool.release(t.cache.Texture)
	}
	t.cache = nil
}

// rttCapable reports whether the node may render its subtree to a texture.
// Such nodes are z-contexts.
func (n *Node) rttCapable() bool {
	return (n.texturizer != nil && n.texturizer.enabled) ||
		len(n.filters) > 0 ||
		(n.clipping && n.clipToTexture)
}

// needsRenderToTexture reports whether the node renders to a texture this
// frame. A clip-to-texture node only does so while its clip is not an
// axis-aligned rectangle.
func (n *Node) needsRenderToTexture() bool {
	if (n.texturizer != nil && n.texturizer.enabled) || len(n.filters) > 0 {
		return true
	}
	if n.clipping && n.clipToTexture {
		m := n.renderTransform
		return isComplex(m) || m[0] < 0 || m[3] < 0
	}
	return false
}
