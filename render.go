package strata

import (
	"math"

	"github.com/hajimehoshi/ebiten/v2"
)

// build walks the tree from root in paint order and returns the operations
// that draw it.
func (r *renderState) build(root *Node) []Operation {
	r.reset()
	r.renderNode(root)
	ops := r.finish()
	if r.dropped > 0 {
		logger.Warn("quads dropped this frame", "dropped", r.dropped)
	}
	return ops
}

// renderNode emits the node and its paint-ordered subtree.
func (r *renderState) renderNode(n *Node) {
	if n.worldAlpha == 0 {
		return
	}
	if n.rtt {
		r.renderToTexture(n)
		n.renderUpdates = false
		return
	}
	if n.clipState != clipEmpty {
		r.renderSelf(n, n.renderTransform, n.renderAlpha, n.scissor(), n.clipPoly, false)
	}
	r.renderChildren(n)
	n.renderUpdates = false
}

// renderChildren emits the children of n. A z-context with z-indexed
// members paints its sorted list; otherwise children paint in order and
// z-indexed ones are left to the context that lists them.
func (r *renderState) renderChildren(n *Node) {
	if ctx := n.zCtx; ctx != nil && ctx.usage > 0 {
		for _, c := range ctx.list {
			r.renderNode(c)
		}
		return
	}
	for _, c := range n.children {
		if c.zIndex == 0 {
			r.renderNode(c)
		}
	}
}

// nodeTexture returns the texture a node draws and the texel rectangle
// within it.
func (r *renderState) nodeTexture(n *Node) (tex GPUTexture, u0, v0, u1, v1 float32, ok bool) {
	if n.texture != nil {
		return n.texture.drawable()
	}
	if n.rect && r.white != nil {
		return r.white, 0, 0, 1, 1, true
	}
	return nil, 0, 0, 0, 0, false
}

// renderSelf emits the node's own quad with render matrix m and alpha.
// white replaces the corner colors.
func (r *renderState) renderSelf(n *Node, m [6]float64, alpha float64, scissor *Rect, clipPoly polygon, white bool) {
	tex, u0, v0, u1, v1, ok := r.nodeTexture(n)
	if !ok {
		return
	}
	w, h := n.renderWidth, n.renderHeight
	if w <= 0 || h <= 0 {
		return
	}
	colors := [4]Color{n.colorUL, n.colorUR, n.colorBR, n.colorBL}
	if white {
		colors = [4]Color{ColorWhite, ColorWhite, ColorWhite, ColorWhite}
	}
	r.setProgram(n.activeProgram(), n.programOwner)
	r.setScissor(scissor)
	if len(clipPoly) >= 3 {
		r.emitPolygon(tex, m, w, h, u0, v0, u1, v1, &colors, alpha, clipPoly)
		return
	}
	r.emitQuad(tex, m, w, h, u0, v0, u1, v1, &colors, alpha)
}

// emitQuad writes a w x h quad transformed by m. Corner order is
// upper-left, upper-right, bottom-right, bottom-left.
func (r *renderState) emitQuad(tex GPUTexture, m [6]float64, w, h float64, u0, v0, u1, v1 float32, colors *[4]Color, alpha float64) {
	v := r.addQuad(tex)
	if v == nil {
		return
	}
	if !isComplex(m) {
		x0 := float32(m[4])
		y0 := float32(m[5])
		x1 := float32(m[0]*w + m[4])
		y1 := float32(m[3]*h + m[5])
		setVertex(&v[0], x0, y0, u0, v0, colors[0], alpha)
		setVertex(&v[1], x1, y0, u1, v0, colors[1], alpha)
		setVertex(&v[2], x1, y1, u1, v1, colors[2], alpha)
		setVertex(&v[3], x0, y1, u0, v1, colors[3], alpha)
		return
	}
	ulx, uly := transformPoint(m, 0, 0)
	urx, ury := transformPoint(m, w, 0)
	brx, bry := transformPoint(m, w, h)
	blx, bly := transformPoint(m, 0, h)
	setVertex(&v[0], float32(ulx), float32(uly), u0, v0, colors[0], alpha)
	setVertex(&v[1], float32(urx), float32(ury), u1, v0, colors[1], alpha)
	setVertex(&v[2], float32(brx), float32(bry), u1, v1, colors[2], alpha)
	setVertex(&v[3], float32(blx), float32(bly), u0, v1, colors[3], alpha)
}

// emitPolygon draws the part of a w x h quad (transformed by m) covered by
// the convex polygon poly, as a fan of ceil((k-2)/2) quads for k points.
// Texture coordinates and colors are interpolated at every point.
func (r *renderState) emitPolygon(tex GPUTexture, m [6]float64, w, h float64, u0, v0, u1, v1 float32, colors *[4]Color, alpha float64, poly polygon) {
	inv := invertAffine(m)
	k := len(poly)
	for q := 0; 2*q+2 < k; q++ {
		v := r.addQuad(tex)
		if v == nil {
			return
		}
		idx := [4]int{0, 2*q + 1, 2*q + 2, min(2*q+3, k-1)}
		for i, pi := range idx {
			p := poly[pi]
			lx, ly := transformPoint(inv, p.X, p.Y)
			fx, fy := lx/w, ly/h
			u := u0 + (u1-u0)*float32(fx)
			vv := v0 + (v1-v0)*float32(fy)
			setVertex(&v[i], float32(p.X), float32(p.Y), u, vv, bilinear(colors, fx, fy), alpha)
		}
	}
}

// bilinear interpolates the corner colors at fractional position (fx, fy).
func bilinear(c *[4]Color, fx, fy float64) Color {
	top := lerpColor(c[0], c[1], fx)
	bottom := lerpColor(c[3], c[2], fx)
	return lerpColor(top, bottom, fy)
}

func lerpColor(a, b Color, t float64) Color {
	return Color{
		R: a.R + (b.R-a.R)*t,
		G: a.G + (b.G-a.G)*t,
		B: a.B + (b.B-a.B)*t,
		A: a.A + (b.A-a.A)*t,
	}
}

// setVertex fills one vertex with a premultiplied color.
func setVertex(v *ebiten.Vertex, x, y, u, vv float32, c Color, alpha float64) {
	v.DstX, v.DstY = x, y
	v.SrcX, v.SrcY = u, vv
	v.ColorR, v.ColorG, v.ColorB, v.ColorA = c.premultiplied(alpha)
}

// renderTextureSize returns the offscreen size for a node, capped at the
// maximum texture size.
func (r *renderState) renderTextureSize(n *Node) (w, h int) {
	w = int(math.Ceil(n.renderWidth))
	h = int(math.Ceil(n.renderHeight))
	return min(w, r.maxTextureSize), min(h, r.maxTextureSize)
}

// renderToTexture renders the node and its subtree into an offscreen
// texture, runs the node's filters on it and emits one quad sampling the
// result into the enclosing target.
func (r *renderState) renderToTexture(n *Node) {
	w, h := r.renderTextureSize(n)
	if w <= 0 || h <= 0 {
		return
	}
	tz := n.texturizer
	lazy := tz != nil && tz.enabled && tz.lazy
	if lazy && tz.cache != nil && !n.renderUpdates && tz.cache.Width == w && tz.cache.Height == h {
		r.emitComposite(n, tz.cache)
		return
	}

	tex, err := r.pool.allocate(w, h)
	if err != nil {
		logger.Error("render texture allocation failed", "node", n.Name, "w", w, "h", h, "error", err)
		return
	}
	info := r.newRenderTextureInfo(w, h, tex)
	prevTarget := r.target
	r.setRenderTarget(info)
	start := r.quads.count
	colorize := tz != nil && tz.colorize
	r.renderSelf(n, identityTransform, 1, nil, nil, colorize)
	r.renderChildren(n)
	r.setRenderTarget(prevTarget)

	if src := r.reusableTexture(start, info); src != nil {
		r.rollback(start)
		r.pool.release(info.Texture)
		info.Texture = src
		info.Reused = true
		info.Empty = false
	}
	if info.Empty {
		if !info.Reused {
			r.pool.release(info.Texture)
		}
		if lazy {
			tz.releaseCache()
		}
		return
	}

	result := info
	if len(n.filters) > 0 {
		result = r.applyFilters(n, info)
		if result == nil {
			return
		}
	}
	if lazy {
		if tz.cache != result {
			tz.releaseCache()
		}
		tz.cache = result
		tz.pool = r.pool
	} else if !result.Reused {
		// Later passes of this frame that reuse the texture execute after
		// the quad below has sampled it.
		r.pool.release(result.Texture)
	}
	r.emitComposite(n, result)
}

// reusableTexture returns the source texture when the pass started at quad
// start holds nothing but one untinted, unclipped full-size copy of a
// texture exactly the size of the pass. Drawing that texture directly is
// equivalent to drawing the pass.
func (r *renderState) reusableTexture(start int, info *RenderTextureInfo) GPUTexture {
	op := r.cur
	if r.quads.count != start+1 || op == nil || op.Index != start || op.RenderTexture != info {
		return nil
	}
	if op.Program != r.defaultProgram || op.Scissor != nil {
		return nil
	}
	tex := r.quads.textures[start]
	if tw, th := tex.Size(); tw != info.Width || th != info.Height {
		return nil
	}
	w, h := float32(info.Width), float32(info.Height)
	want := [4][2]float32{{0, 0}, {w, 0}, {w, h}, {0, h}}
	for i, v := range r.quads.vertices[start*4 : start*4+4] {
		if v.DstX != want[i][0] || v.DstY != want[i][1] || v.SrcX != want[i][0] || v.SrcY != want[i][1] {
			return nil
		}
		if v.ColorR != 1 || v.ColorG != 1 || v.ColorB != 1 || v.ColorA != 1 {
			return nil
		}
	}
	return tex
}

// applyFilters runs the node's filter chain over src. Passes alternate
// between a result and a temporary texture, ordered so the last pass lands
// in the result. The temporary and src are released right after the chain.
func (r *renderState) applyFilters(n *Node, src *RenderTextureInfo) *RenderTextureInfo {
	w, h := src.Width, src.Height
	count := len(n.filters)
	resTex, err := r.pool.allocate(w, h)
	if err != nil {
		logger.Error("filter texture allocation failed", "node", n.Name, "error", err)
		r.releaseInfo(src)
		return nil
	}
	result := r.newRenderTextureInfo(w, h, resTex)
	var temp *RenderTextureInfo
	if count > 1 {
		tmpTex, err := r.pool.allocate(w, h)
		if err != nil {
			logger.Error("filter texture allocation failed", "node", n.Name, "error", err)
			r.releaseInfo(src)
			r.releaseInfo(result)
			return nil
		}
		temp = r.newRenderTextureInfo(w, h, tmpTex)
	}
	prev := src
	for i, f := range n.filters {
		dst := result
		if (count-1-i)%2 != 0 {
			dst = temp
		}
		r.addFilter(f, n, prev, dst)
		prev = dst
	}
	if temp != nil {
		r.releaseInfo(temp)
	}
	r.releaseInfo(src)
	return result
}

// releaseInfo returns a pass texture to the pool unless it is borrowed.
func (r *renderState) releaseInfo(info *RenderTextureInfo) {
	if !info.Reused {
		r.pool.release(info.Texture)
	}
}

// emitComposite draws an offscreen result as the node's quad in the
// enclosing target.
func (r *renderState) emitComposite(n *Node, info *RenderTextureInfo) {
	if n.clipState == clipEmpty {
		return
	}
	colors := [4]Color{ColorWhite, ColorWhite, ColorWhite, ColorWhite}
	if n.texturizer != nil && n.texturizer.colorize {
		colors = [4]Color{n.colorUL, n.colorUR, n.colorBR, n.colorBL}
	}
	w, h := float64(info.Width), float64(info.Height)
	r.setProgram(n.activeProgram(), n.programOwner)
	r.setScissor(n.scissor())
	if len(n.clipPoly) >= 3 {
		r.emitPolygon(info.Texture, n.renderTransform, w, h, 0, 0, float32(w), float32(h), &colors, n.renderAlpha, n.clipPoly)
		return
	}
	r.emitQuad(info.Texture, n.renderTransform, w, h, 0, 0, float32(w), float32(h), &colors, n.renderAlpha)
}
