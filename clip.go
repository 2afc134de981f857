package strata

// clipRegion is the area descendants of a clipping node may draw into,
// expressed in the coordinates of the current render target. Axis-aligned
// regions are kept as a rectangle and applied as a scissor; rotated or
// skewed regions are convex polygons that quads are cut against.
type clipRegion struct {
	empty  bool
	square bool
	rect   Rect
	poly   polygon
}

// asPolygon returns the region as a polygon, converting rectangles into buf.
func (c *clipRegion) asPolygon(buf *polygon) polygon {
	if c.square {
		*buf = rectPolygon(c.rect, *buf)
		return *buf
	}
	return c.poly
}

// clipState classifies a node's own quad against its inherited clip region.
type clipState uint8

const (
	clipNone     clipState = iota // no clipping ancestor
	clipNoEffect                  // the quad lies fully inside the region
	clipPartial                   // the quad crosses the region boundary
	clipEmpty                     // nothing of the quad is visible
)

// clipScratch holds temporary polygons for clip computation. Update runs on
// one goroutine, so a single buffer set is shared.
var clipScratch struct {
	own, quad, clip polygon
}

// quadRegion returns the node's own bounds (0, 0, w, h) in render
// coordinates. When the render transform neither rotates, skews nor mirrors
// the result is square.
func (n *Node) quadRegion(r *clipRegion) {
	m := n.renderTransform
	w, h := n.renderWidth, n.renderHeight
	if !isComplex(m) && m[0] >= 0 && m[3] >= 0 {
		r.square = true
		r.rect = Rect{X: m[4], Y: m[5], Width: m[0] * w, Height: m[3] * h}
		r.poly = r.poly[:0]
		r.empty = r.rect.IsEmpty()
		return
	}
	r.square = false
	ulx, uly := transformPoint(m, 0, 0)
	urx, ury := transformPoint(m, w, 0)
	brx, bry := transformPoint(m, w, h)
	blx, bly := transformPoint(m, 0, h)
	r.poly = append(r.poly[:0], Vec2{ulx, uly}, Vec2{urx, ury}, Vec2{brx, bry}, Vec2{blx, bly})
	r.poly.normalize()
	r.rect = r.poly.bounds()
	r.empty = r.poly.isEmpty()
}

// intersectRegion stores a ∩ b in dst. An empty input yields an empty
// result without any geometry work.
func intersectRegion(dst, a, b *clipRegion) {
	if a.empty || b.empty {
		dst.empty = true
		dst.square = true
		dst.rect = Rect{}
		dst.poly = dst.poly[:0]
		return
	}
	if a.square && b.square {
		dst.square = true
		dst.rect = a.rect.Intersect(b.rect)
		dst.poly = dst.poly[:0]
		dst.empty = dst.rect.IsEmpty()
		return
	}
	pa := a.asPolygon(&clipScratch.clip)
	pb := b.asPolygon(&clipScratch.quad)
	dst.poly = clipPolygon(pa, pb, dst.poly)
	dst.square = false
	dst.empty = dst.poly.isEmpty()
	dst.rect = dst.poly.bounds()
}

// updateClip recomputes the node's clip state and the region its children
// inherit. Regions are in render-target coordinates, so a node rendered to
// a texture starts a fresh region for its children.
func (n *Node) updateClip() {
	var inherited *clipRegion
	if p := n.parent; p != nil {
		inherited = p.childClip
	}
	n.clip = inherited
	n.clipPoly = n.clipPoly[:0]

	var own clipRegion
	if inherited != nil && inherited.empty {
		// Nothing of the subtree shows; skip the geometry.
		own.empty = true
		n.clipBounds = Rect{}
		n.clipState = clipEmpty
	} else {
		own.poly = clipScratch.own
		n.quadRegion(&own)
		clipScratch.own = own.poly
		n.clipBounds = own.rect
		n.classifyClip(inherited, &own)
	}

	switch {
	case n.rtt:
		if n.clipping {
			n.ownClip.empty = n.renderWidth <= 0 || n.renderHeight <= 0
			n.ownClip.square = true
			n.ownClip.rect = Rect{Width: n.renderWidth, Height: n.renderHeight}
			n.ownClip.poly = n.ownClip.poly[:0]
			n.childClip = &n.ownClip
		} else {
			n.childClip = nil
		}
	case n.clipping:
		if inherited == nil {
			poly := append(n.ownClip.poly[:0], own.poly...)
			n.ownClip = own
			n.ownClip.poly = poly
		} else {
			intersectRegion(&n.ownClip, inherited, &own)
		}
		n.childClip = &n.ownClip
	default:
		n.childClip = inherited
	}
}

// scissor returns the rectangle the node's quads are scissored to, or nil.
func (n *Node) scissor() *Rect {
	if n.clipState != clipPartial || n.clip == nil || !n.clip.square {
		return nil
	}
	return &n.clip.rect
}

// classifyClip sets the node's clip state from the inherited region and
// the node's own quad region.
func (n *Node) classifyClip(inherited, own *clipRegion) {
	switch {
	case inherited == nil:
		n.clipState = clipNone
	case inherited.square && own.square:
		switch {
		case inherited.rect.ContainsRect(own.rect):
			n.clipState = clipNoEffect
		default:
			inter := inherited.rect.Intersect(own.rect)
			n.clipBounds = inter
			if inter.IsEmpty() {
				n.clipState = clipEmpty
			} else {
				n.clipState = clipPartial
			}
		}
	default:
		clipPoly := inherited.asPolygon(&clipScratch.clip)
		quad := own.asPolygon(&clipScratch.quad)
		if clipPoly.containsAll(quad) {
			n.clipState = clipNoEffect
			break
		}
		n.clipPoly = clipPolygon(quad, clipPoly, n.clipPoly)
		if n.clipPoly.isEmpty() {
			n.clipState = clipEmpty
			n.clipPoly = n.clipPoly[:0]
			break
		}
		n.clipState = clipPartial
		n.clipBounds = n.clipPoly.bounds()
		if inherited.square {
			// Scissoring covers it; no need to cut the quad.
			n.clipPoly = n.clipPoly[:0]
		}
	}
}
