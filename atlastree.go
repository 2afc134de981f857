package strata

// atlasNode is a rectangle of the atlas surface. A free leaf has no
// children and used == false. Placing a texture marks the node used and
// splits the rest of it into a right strip (as tall as the placement) and a
// down strip (full width). Nodes are never merged; only reset clears them.
type atlasNode struct {
	x, y, w, h  int
	used        bool
	right, down *atlasNode
	parent      *atlasNode
	// maxH is the tallest free leaf in this subtree. Searches skip subtrees
	// that cannot fit the requested height.
	maxH int
}

// atlasTree is a guillotine bin packer over a square surface.
type atlasTree struct {
	size int
	root *atlasNode
}

func newAtlasTree(size int) *atlasTree {
	t := &atlasTree{size: size}
	t.reset()
	return t
}

// reset drops every placement, leaving one free rectangle over the surface.
func (t *atlasTree) reset() {
	t.root = &atlasNode{w: t.size, h: t.size, maxH: t.size}
}

// insert places a w x h rectangle in the free leaf of smallest area that
// fits it. It returns nil when no leaf fits.
func (t *atlasTree) insert(w, h int) *atlasNode {
	if w <= 0 || h <= 0 {
		return nil
	}
	best := t.findBest(t.root, w, h, nil)
	if best == nil {
		return nil
	}
	t.split(best, w, h)
	return best
}

// findBest returns the smallest free leaf in n's subtree that fits w x h,
// or best if none is smaller.
func (t *atlasTree) findBest(n *atlasNode, w, h int, best *atlasNode) *atlasNode {
	if n == nil || n.maxH < h {
		return best
	}
	if !n.used {
		if n.w >= w && n.h >= h && (best == nil || n.w*n.h < best.w*best.h) {
			return n
		}
		return best
	}
	best = t.findBest(n.right, w, h, best)
	return t.findBest(n.down, w, h, best)
}

// split marks n used for a w x h placement and creates the remainder strips.
func (t *atlasTree) split(n *atlasNode, w, h int) {
	n.used = true
	if n.w > w {
		n.right = &atlasNode{x: n.x + w, y: n.y, w: n.w - w, h: h, parent: n}
		n.right.maxH = n.right.h
	}
	if n.h > h {
		n.down = &atlasNode{x: n.x, y: n.y + h, w: n.w, h: n.h - h, parent: n}
		n.down.maxH = n.down.h
	}
	for p := n; p != nil; p = p.parent {
		m := 0
		if p.right != nil {
			m = max(m, p.right.maxH)
		}
		if p.down != nil {
			m = max(m, p.down.maxH)
		}
		if p.maxH == m && p != n {
			break
		}
		p.maxH = m
	}
}

// freeArea returns the total area of free leaves.
func (t *atlasTree) freeArea() int {
	var walk func(n *atlasNode) int
	walk = func(n *atlasNode) int {
		if n == nil {
			return 0
		}
		if !n.used {
			return n.w * n.h
		}
		return walk(n.right) + walk(n.down)
	}
	return walk(t.root)
}
