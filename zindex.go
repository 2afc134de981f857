package strata

// zContext is the stacking state of a node that starts an independent paint
// order. While explicit members exist, list holds the owner's direct
// children with a zero z-index plus every descendant with a nonzero z-index
// whose nearest z-context is the owner, sorted by (zIndex, treeOrder).
type zContext struct {
	owner     *Node
	usage     int
	list      []*Node
	sortDirty bool
}

// add inserts m into the context. The first explicit member snapshots the
// owner's implicit children so the list is complete.
func (z *zContext) add(m *Node, explicit bool) {
	if explicit {
		if z.usage == 0 {
			for _, c := range z.owner.children {
				if c.zIndex == 0 && c.zOwner == nil {
					z.list = append(z.list, c)
					c.zOwner = z
				}
			}
		}
		z.usage++
	} else if z.usage == 0 || m.zOwner == z {
		return
	}
	z.list = append(z.list, m)
	m.zOwner = z
	z.markSortDirty()
}

// remove takes m out of the context. When the last explicit member leaves,
// the list is dropped entirely.
func (z *zContext) remove(m *Node, explicit bool) {
	for i, c := range z.list {
		if c == m {
			copy(z.list[i:], z.list[i+1:])
			z.list[len(z.list)-1] = nil
			z.list = z.list[:len(z.list)-1]
			break
		}
	}
	m.zOwner = nil
	if !explicit {
		return
	}
	z.usage--
	if z.usage <= 0 {
		z.usage = 0
		z.reset()
	}
	z.owner.markRenderUpdates()
	z.owner.markHasUpdates()
}

// reset unlinks every member and drops the list.
func (z *zContext) reset() {
	for _, c := range z.list {
		c.zOwner = nil
	}
	z.list = nil
	z.sortDirty = false
}

// explicitMembers returns a copy of the members with a nonzero z-index.
func (z *zContext) explicitMembers() []*Node {
	var out []*Node
	for _, c := range z.list {
		if c.zIndex != 0 {
			out = append(out, c)
		}
	}
	return out
}

// markSortDirty schedules a re-sort during the next update pass.
func (z *zContext) markSortDirty() {
	z.sortDirty = true
	z.owner.markHasUpdates()
	z.owner.markRenderUpdates()
}

// sortZIndexedChildren orders the list by z-index, then by tree order.
// Insertion sort: the list is usually nearly sorted from the previous frame,
// and it is stable.
func (z *zContext) sortZIndexedChildren() {
	l := z.list
	for i := 1; i < len(l); i++ {
		m := l[i]
		j := i - 1
		for j >= 0 && zLess(m, l[j]) {
			l[j+1] = l[j]
			j--
		}
		l[j+1] = m
	}
	z.sortDirty = false
}

func zLess(a, b *Node) bool {
	if a.zIndex != b.zIndex {
		return a.zIndex < b.zIndex
	}
	return a.treeOrder < b.treeOrder
}

// --- Node z-index API ---

// ZIndex returns the node's z-index.
func (n *Node) ZIndex() int { return n.zIndex }

// SetZIndex sets the stacking index. Zero paints the node in child order.
// A nonzero index lifts the node into the sorted list of its nearest
// z-context ancestor, where lower indexes paint first and ties keep tree
// order; the node also starts a z-context of its own.
func (n *Node) SetZIndex(z int) {
	if n.zIndex == z {
		return
	}
	old := n.zIndex
	if n.parent == nil {
		n.zIndex = z
		return
	}
	if old != 0 && z != 0 {
		n.zIndex = z
		if n.zOwner != nil {
			n.zOwner.markSortDirty()
		}
		return
	}
	wasZ := n.isZContext()
	if n.zOwner != nil {
		n.zOwner.remove(n, old != 0)
	}
	n.zIndex = z
	n.zContextStatusChanged(wasZ)
	n.zJoin()
	n.markRenderUpdates()
	n.markHasUpdates()
}

// ForceZContext reports whether the node always starts a z-context.
func (n *Node) ForceZContext() bool { return n.forceZContext }

// SetForceZContext makes the node start a z-context even with a zero
// z-index, so z-indexed descendants stack within it.
func (n *Node) SetForceZContext(v bool) {
	if n.forceZContext == v {
		return
	}
	wasZ := n.isZContext()
	n.forceZContext = v
	n.zContextStatusChanged(wasZ)
}

// IsZContext reports whether the node starts its own stacking context.
func (n *Node) IsZContext() bool { return n.zCtx != nil }

// isZContext derives z-context status from the node's properties.
func (n *Node) isZContext() bool {
	return n.forceZContext || n.zIndex != 0 || n.isRoot || n.parent == nil || n.rttCapable()
}

// nearestZContext returns the context of n or of its nearest ancestor that
// is one.
func (n *Node) nearestZContext() *zContext {
	for p := n; p != nil; p = p.parent {
		if p.zCtx != nil {
			return p.zCtx
		}
	}
	return nil
}

// zContextStatusChanged enables or disables n's own context after a
// property change, moving explicit descendants between contexts.
func (n *Node) zContextStatusChanged(wasZ bool) {
	isZ := n.isZContext()
	if isZ == wasZ || n.parent == nil {
		return
	}
	prev := n.parent.nearestZContext()
	if isZ {
		n.enableZContext(prev)
	} else {
		n.disableZContext(prev)
	}
}

// enableZContext creates n's context and takes over the explicit members of
// prev that are descendants of n.
func (n *Node) enableZContext(prev *zContext) {
	n.zCtx = &zContext{owner: n}
	if prev == nil {
		return
	}
	for _, m := range prev.explicitMembers() {
		if m != n && isAncestor(n, m) {
			prev.remove(m, true)
			n.zCtx.add(m, true)
		}
	}
}

// disableZContext hands n's explicit members over to target and drops n's
// context.
func (n *Node) disableZContext(target *zContext) {
	ctx := n.zCtx
	n.zCtx = nil
	if ctx == nil {
		return
	}
	members := ctx.explicitMembers()
	ctx.reset()
	ctx.usage = 0
	if target == nil {
		return
	}
	for _, m := range members {
		target.add(m, true)
	}
}

// zJoin adds an attached node to the context that paints it.
func (n *Node) zJoin() {
	p := n.parent
	if p == nil || n.zOwner != nil {
		return
	}
	if n.zIndex != 0 {
		if ctx := p.nearestZContext(); ctx != nil {
			ctx.add(n, true)
		}
		return
	}
	if p.zCtx != nil {
		p.zCtx.add(n, false)
	}
}

// zAttached runs after n got a parent: n, parentless until now, may stop
// being a context, and joins its new stacking context.
func (n *Node) zAttached() {
	if n.zCtx != nil && !n.isZContext() {
		n.disableZContext(n.parent.nearestZContext())
	}
	n.zJoin()
}

// zDetaching runs before n loses its parent. n leaves its context and, if
// it was not a context itself, takes back its explicit descendants from the
// ancestor context that held them.
func (n *Node) zDetaching() {
	if n.zOwner != nil {
		n.zOwner.remove(n, n.zIndex != 0)
	}
	if n.zCtx == nil {
		n.detachPrev = n.parent.nearestZContext()
	}
}

// zDetached completes zDetaching once the parent link is cut.
func (n *Node) zDetached() {
	if n.zCtx == nil {
		n.enableZContext(n.detachPrev)
	}
	n.detachPrev = nil
}
