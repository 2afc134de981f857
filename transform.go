package strata

import "math"

// identityTransform is the identity affine matrix.
var identityTransform = [6]float64{1, 0, 0, 1, 0, 0}

// alphaEpsilon is the world alpha below which a node counts as invisible.
// Flooring to exactly 0 keeps denormals out of the tree and lets
// visibility tests compare against 0.
const alphaEpsilon = 1e-14

// computeLocalTransform computes the local affine matrix from the node's
// transform properties. Returns [a, b, c, d, tx, ty].
//
// Composition order:
//
//	Translate(-PivotX, -PivotY) -> Scale -> Skew -> Rotate -> Translate(X - mount*w, Y - mount*h)
func computeLocalTransform(n *Node) [6]float64 {
	sx := n.scaleX
	sy := n.scaleY

	px := n.pivotX
	py := n.pivotY
	x := n.x - n.mountX*n.renderWidth
	y := n.y - n.mountY*n.renderHeight

	if n.rotation == 0 && n.skewX == 0 && n.skewY == 0 {
		return [6]float64{sx, 0, 0, sy, x - px*sx + px, y - py*sy + py}
	}

	sin, cos := math.Sincos(n.rotation)

	var tanSkewX, tanSkewY float64
	if n.skewX != 0 {
		tanSkewX = math.Tan(n.skewX)
	}
	if n.skewY != 0 {
		tanSkewY = math.Tan(n.skewY)
	}

	// After Scale * Translate(-pivot):
	//   a=sx, b=0, c=0, d=sy, tx=-px*sx, ty=-py*sy
	//
	// After Skew:
	a := sx
	b := tanSkewY * sx
	c := tanSkewX * sy
	d := sy

	preTx := -px*sx - tanSkewX*py*sy
	preTy := -tanSkewY*px*sx - py*sy

	// After Rotate:
	ra := cos*a - sin*b
	rb := sin*a + cos*b
	rc := cos*c - sin*d
	rd := sin*c + cos*d
	rtx := cos*preTx - sin*preTy
	rty := sin*preTx + cos*preTy

	// After Translate(X, Y), with the pivot mapped back onto the position.
	return [6]float64{ra, rb, rc, rd, rtx + x + px, rty + y + py}
}

// multiplyAffine multiplies two 2D affine matrices: result = parent * child.
//
//	Matrix layout: [a, b, c, d, tx, ty]
//	| a  c  tx |
//	| b  d  ty |
//	| 0  0   1 |
func multiplyAffine(p, c [6]float64) [6]float64 {
	return [6]float64{
		p[0]*c[0] + p[2]*c[1],
		p[1]*c[0] + p[3]*c[1],
		p[0]*c[2] + p[2]*c[3],
		p[1]*c[2] + p[3]*c[3],
		p[0]*c[4] + p[2]*c[5] + p[4],
		p[1]*c[4] + p[3]*c[5] + p[5],
	}
}

// isComplex reports whether the matrix rotates or skews.
func isComplex(m [6]float64) bool {
	return m[1] != 0 || m[2] != 0
}

// composeAffine returns parent * child. When neither matrix rotates or skews
// only the diagonal terms are multiplied.
func composeAffine(p, c [6]float64) [6]float64 {
	if isComplex(p) || isComplex(c) {
		return multiplyAffine(p, c)
	}
	return [6]float64{
		p[0] * c[0], 0, 0, p[3] * c[3],
		p[0]*c[4] + p[4],
		p[3]*c[5] + p[5],
	}
}

// invertAffine computes the inverse of a 2D affine matrix.
// Returns the identity matrix if the matrix is singular (determinant ≈ 0).
func invertAffine(m [6]float64) [6]float64 {
	det := m[0]*m[3] - m[2]*m[1]
	if det > -1e-12 && det < 1e-12 {
		return identityTransform
	}
	invDet := 1.0 / det
	a := m[3] * invDet
	b := -m[1] * invDet
	c := -m[2] * invDet
	d := m[0] * invDet
	return [6]float64{
		a, b, c, d,
		-(a*m[4] + c*m[5]),
		-(b*m[4] + d*m[5]),
	}
}

// transformPoint applies an affine matrix to a point.
func transformPoint(m [6]float64, x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

// update refreshes the node's derived state and recurses into children.
// inherited holds the bits the parent recomputed this pass. Nodes without
// own or inherited changes are skipped unless an ancestor z-context needs
// fresh tree order for sorting.
func (n *Node) update(fc *frameContext, inherited recalcBits) {
	recalc := n.recalc | inherited
	forced := fc.treeOrderForce > 0
	if recalc == 0 && !n.hasUpdates && !forced {
		return
	}
	n.treeOrder = fc.nextTreeOrder()

	if recalc&recalcDimensions != 0 {
		if n.updateDimensions() {
			recalc |= recalcTranslate | recalcClip | recalcRenderContext
		}
	}

	p := n.parent
	parentAlpha, parentWorld := 1.0, identityTransform
	parentRenderAlpha, parentRender := 1.0, identityTransform
	if p != nil {
		parentAlpha, parentWorld = p.worldAlpha, p.worldTransform
		parentRenderAlpha, parentRender = p.childRenderContext()
	}

	if recalc&recalcAlpha != 0 {
		n.worldAlpha = parentAlpha * n.localAlpha
		if n.worldAlpha < alphaEpsilon {
			n.worldAlpha = 0
		}
	}
	if n.recalc&(recalcTranslate|recalcTransform) != 0 || recalc&recalcDimensions != 0 {
		n.localTransform = computeLocalTransform(n)
	}
	if recalc&(recalcTranslate|recalcTransform) != 0 {
		n.worldTransform = composeAffine(parentWorld, n.localTransform)
	}
	if recalc&(recalcAlpha|recalcTranslate|recalcTransform|recalcRenderContext) != 0 {
		n.renderAlpha = parentRenderAlpha * n.localAlpha
		if n.renderAlpha < alphaEpsilon {
			n.renderAlpha = 0
		}
		n.renderTransform = composeAffine(parentRender, n.localTransform)
		if rtt := n.needsRenderToTexture(); rtt != n.rtt {
			n.rtt = rtt
			recalc |= recalcRenderContext | recalcClip
		}
	}
	if recalc&(recalcClip|recalcTranslate|recalcTransform|recalcRenderContext) != 0 {
		n.updateClip()
	}

	n.recalc = 0
	n.hasUpdates = false
	childBits := (recalc & childRecalc) | n.pendingChildRecalc
	n.pendingChildRecalc = 0

	ctx := n.zCtx
	sorting := ctx != nil && ctx.usage > 0 && ctx.sortDirty
	if sorting {
		fc.treeOrderForce++
	}
	if n.worldAlpha > 0 || fc.treeOrderForce > 0 {
		if n.worldAlpha == 0 {
			childBits |= childRecalc
		}
		for _, c := range n.children {
			c.update(fc, childBits)
		}
	} else {
		n.pendingChildRecalc = childBits
		// Children attached while hidden still carry their old alpha.
		for _, c := range n.children {
			c.zeroWorldAlpha()
		}
	}
	if sorting {
		fc.treeOrderForce--
		ctx.sortZIndexedChildren()
	}
}

// zeroWorldAlpha sets the world alpha of a subtree under an invisible
// ancestor to 0 without recomputing anything else.
func (n *Node) zeroWorldAlpha() {
	if n.worldAlpha == 0 {
		return
	}
	n.worldAlpha = 0
	n.renderAlpha = 0
	n.recalc |= recalcAlpha
	for _, c := range n.children {
		c.zeroWorldAlpha()
	}
}

// updateDimensions refreshes the render size from the explicit size and the
// texture. It reports whether the size changed.
func (n *Node) updateDimensions() bool {
	w, h := n.w, n.h
	if n.texture != nil {
		tw, th := n.texture.Size()
		if w == 0 {
			w = float64(tw)
		}
		if h == 0 {
			h = float64(th)
		}
	}
	if w == n.renderWidth && h == n.renderHeight {
		return false
	}
	n.renderWidth, n.renderHeight = w, h
	return true
}

// childRenderContext returns the alpha and matrix children compose their
// render context with. Below a node rendered to a texture, children are
// drawn relative to that node.
func (n *Node) childRenderContext() (float64, [6]float64) {
	if n.rtt {
		return 1, identityTransform
	}
	return n.renderAlpha, n.renderTransform
}

// --- Coordinate conversion ---

// WorldToLocal converts a world-space point to this node's local coordinate space.
func (n *Node) WorldToLocal(wx, wy float64) (lx, ly float64) {
	inv := invertAffine(n.worldTransform)
	return transformPoint(inv, wx, wy)
}

// LocalToWorld converts a local-space point to world-space.
func (n *Node) LocalToWorld(lx, ly float64) (wx, wy float64) {
	return transformPoint(n.worldTransform, lx, ly)
}
