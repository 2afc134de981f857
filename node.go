package strata

// recalcBits records which derived values of a node must be recomputed on the
// next update pass. Bits set on a node are inherited by its children.
type recalcBits uint8

const (
	recalcAlpha recalcBits = 1 << iota
	recalcTranslate
	recalcTransform
	recalcClip
	recalcDimensions
	recalcRenderContext

	recalcAll = recalcAlpha | recalcTranslate | recalcTransform | recalcClip | recalcDimensions | recalcRenderContext
)

// childRecalc masks the bits a parent hands down to its children.
// Dimensions are local to a node.
const childRecalc = recalcAlpha | recalcTranslate | recalcTransform | recalcClip | recalcRenderContext

// --- ID counter ---

// nodeIDCounter is a plain counter (not atomic; strata is single-threaded).
var nodeIDCounter uint32

func nextNodeID() uint32 {
	nodeIDCounter++
	return nodeIDCounter
}

// --- Node ---

// Node is the scene graph element. A single flat struct is used for all
// node kinds: containers, rectangles and textured sprites differ only in
// which fields are set.
//
// Properties are unexported and changed through setters. Each setter skips
// equal values, marks the derived state that must be recomputed and flags
// the stage so a frame without changes does no work.
type Node struct {
	// Identity
	ID       uint32
	Name     string
	UserData any

	// Hierarchy. parent is a back reference; the parent's children slice owns
	// the node.
	stage    *Stage
	parent   *Node
	children []*Node
	isRoot   bool

	// Transform (local)
	x, y           float64
	scaleX, scaleY float64
	rotation       float64
	skewX, skewY   float64
	pivotX, pivotY float64
	mountX, mountY float64
	w, h           float64

	// Appearance
	alpha                              float64
	visible                            bool
	colorUL, colorUR, colorBR, colorBL Color
	rect                               bool
	texture                            *Texture
	program                            Program
	programOwner                       *Node

	// Stacking
	zIndex        int
	forceZContext bool
	zCtx          *zContext // non-nil while this node is a z-context
	zOwner        *zContext // the context whose sorted list holds this node
	detachPrev    *zContext
	treeOrder     uint32

	// Clipping
	clipping      bool
	clipToTexture bool
	clipParent    *Node

	// Render to texture
	texturizer *Texturizer
	filters    []Filter

	// Derived state, maintained by update.
	recalc             recalcBits
	pendingChildRecalc recalcBits
	hasUpdates         bool
	renderUpdates      bool
	active             bool
	localAlpha         float64
	localTransform     [6]float64
	worldAlpha         float64
	worldTransform     [6]float64
	renderAlpha        float64
	renderTransform    [6]float64
	renderWidth        float64
	renderHeight       float64
	rtt                bool
	clip               *clipRegion
	childClip          *clipRegion
	ownClip            clipRegion
	clipState          clipState
	clipBounds         Rect
	clipPoly           polygon

	onTextureLoaded emitter[*Node]
	onTextureError  emitter[error]

	destroyed bool
}

// nodeDefaults sets the common default field values shared by all constructors.
func nodeDefaults(n *Node) {
	n.ID = nextNodeID()
	n.scaleX = 1
	n.scaleY = 1
	n.alpha = 1
	n.localAlpha = 1
	n.visible = true
	n.colorUL = ColorWhite
	n.colorUR = ColorWhite
	n.colorBR = ColorWhite
	n.colorBL = ColorWhite
	n.localTransform = identityTransform
	n.worldTransform = identityTransform
	n.renderTransform = identityTransform
	n.recalc = recalcAll
	n.hasUpdates = true
	n.renderUpdates = true
	// Parentless nodes are z-contexts.
	n.zCtx = &zContext{owner: n}
}

// NewNode creates a container node with no visual representation.
func NewNode(name string) *Node {
	n := &Node{Name: name}
	nodeDefaults(n)
	return n
}

// NewRect creates a node that draws a solid w x h rectangle in color c.
func NewRect(name string, w, h float64, c Color) *Node {
	n := NewNode(name)
	n.rect = true
	n.w, n.h = w, h
	n.colorUL, n.colorUR, n.colorBR, n.colorBL = c, c, c, c
	return n
}

// NewSprite creates a node that displays tex. The node takes the texture's
// size unless an explicit size is set.
func NewSprite(name string, tex *Texture) *Node {
	n := NewNode(name)
	n.texture = tex
	return n
}

// --- Tree manipulation ---

// AddChild appends child to this node's children.
// If child already has a parent, it is removed from that parent first.
// Panics if child is nil or child is an ancestor of this node (cycle).
func (n *Node) AddChild(child *Node) {
	index := len(n.children)
	if child != nil && child.parent == n {
		index--
	}
	n.AddChildAt(child, index)
}

// AddChildAt inserts child at the given index.
// Same reparenting and cycle-check behavior as AddChild. When child is
// already a child of n, index refers to the list without child.
func (n *Node) AddChildAt(child *Node, index int) {
	if child == nil {
		panic("strata: cannot add nil child")
	}
	if n.debugMode() {
		debugCheckDestroyed(n, "AddChildAt (parent)")
		debugCheckDestroyed(child, "AddChildAt (child)")
	}
	if isAncestor(child, n) {
		panic("strata: adding child would create a cycle")
	}
	if child.isRoot {
		panic("strata: the stage root cannot be a child")
	}
	if child.parent != nil {
		child.parent.detachChild(child)
	}
	if index < 0 || index > len(n.children) {
		panic("strata: child index out of range")
	}
	n.children = append(n.children, nil)
	copy(n.children[index+1:], n.children[index:])
	n.children[index] = child
	n.attachChild(child)
	if n.debugMode() {
		debugCheckTreeDepth(child)
		debugCheckChildCount(n)
	}
}

// RemoveChild detaches child from this node.
// Panics if child's parent is not n.
func (n *Node) RemoveChild(child *Node) {
	if child == nil || child.parent != n {
		panic("strata: child's parent is not this node")
	}
	n.detachChild(child)
}

// RemoveChildAt removes and returns the child at the given index.
func (n *Node) RemoveChildAt(index int) *Node {
	if index < 0 || index >= len(n.children) {
		panic("strata: child index out of range")
	}
	child := n.children[index]
	n.detachChild(child)
	return child
}

// RemoveFromParent detaches this node from its parent.
// No-op if this node has no parent.
func (n *Node) RemoveFromParent() {
	if n.parent == nil {
		return
	}
	n.parent.detachChild(n)
}

// RemoveChildren detaches all children from this node.
// Children are not destroyed.
func (n *Node) RemoveChildren() {
	for len(n.children) > 0 {
		n.detachChild(n.children[len(n.children)-1])
	}
}

// Children returns the child list. The returned slice MUST NOT be mutated by the caller.
func (n *Node) Children() []*Node {
	return n.children
}

// NumChildren returns the number of children.
func (n *Node) NumChildren() int {
	return len(n.children)
}

// ChildAt returns the child at the given index.
func (n *Node) ChildAt(index int) *Node {
	return n.children[index]
}

// Parent returns the parent node, or nil.
func (n *Node) Parent() *Node {
	return n.parent
}

// Stage returns the stage this node is attached to, or nil.
func (n *Node) Stage() *Stage {
	return n.stage
}

// SetChildIndex moves child to a new index among its siblings.
func (n *Node) SetChildIndex(child *Node, index int) {
	if child.parent != n {
		panic("strata: child's parent is not this node")
	}
	nc := len(n.children)
	if index < 0 || index >= nc {
		panic("strata: child index out of range")
	}
	oldIndex := n.childIndex(child)
	if oldIndex == index {
		return
	}
	// Shift elements to fill the gap and open the target slot.
	if oldIndex < index {
		copy(n.children[oldIndex:], n.children[oldIndex+1:index+1])
	} else {
		copy(n.children[index+1:], n.children[index:oldIndex])
	}
	n.children[index] = child
	n.childOrderChanged()
}

// childIndex returns the index of child in n.children, or -1.
func (n *Node) childIndex(child *Node) int {
	for i, c := range n.children {
		if c == child {
			return i
		}
	}
	return -1
}

// attachChild wires child into n after it has been placed in n.children.
func (n *Node) attachChild(child *Node) {
	child.parent = n
	child.zAttached()
	child.updateClipParent()
	child.updateProgramOwner()
	child.setStage(n.stage)
	child.updateActive()
	child.setRecalc(recalcAll)
	n.childOrderChanged()
}

// detachChild unlinks child from n. The subtree keeps its own state and can
// be attached elsewhere.
func (n *Node) detachChild(child *Node) {
	if i := n.childIndex(child); i >= 0 {
		copy(n.children[i:], n.children[i+1:])
		n.children[len(n.children)-1] = nil
		n.children = n.children[:len(n.children)-1]
	}
	child.zDetaching()
	child.parent = nil
	child.zDetached()
	child.updateClipParent()
	child.updateProgramOwner()
	child.setStage(nil)
	child.updateActive()
	child.setRecalc(recalcAll)
	n.markRenderUpdates()
	n.markHasUpdates()
}

// childOrderChanged invalidates paint order after the child list changed.
func (n *Node) childOrderChanged() {
	if ctx := n.nearestZContext(); ctx != nil && ctx.usage > 0 {
		ctx.markSortDirty()
	}
	n.markRenderUpdates()
	n.markHasUpdates()
}

// setStage records the stage on the subtree.
func (n *Node) setStage(s *Stage) {
	if n.stage == s {
		return
	}
	n.stage = s
	for _, c := range n.children {
		c.setStage(s)
	}
}

// --- Dirty marking ---

// setRecalc adds bits to the node's pending recalculation set and schedules
// an update pass.
func (n *Node) setRecalc(bits recalcBits) {
	n.recalc |= bits
	n.markHasUpdates()
	if bits&(recalcAlpha|recalcTranslate|recalcTransform) != 0 && n.parent != nil {
		// The node's own pixels are unchanged; only enclosing passes redraw.
		n.parent.markRenderUpdates()
	} else {
		n.markRenderUpdates()
	}
}

// markHasUpdates flags the path from n to the root as needing an update
// pass. The walk stops at the first ancestor already flagged.
func (n *Node) markHasUpdates() {
	n.hasUpdates = true
	for p := n.parent; p != nil && !p.hasUpdates; p = p.parent {
		p.hasUpdates = true
	}
	if n.stage != nil {
		n.stage.frame.hasUpdates = true
	}
}

// markRenderUpdates flags n and every ancestor as having changed pixels, so
// cached render-to-texture results along the chain are redrawn.
func (n *Node) markRenderUpdates() {
	for p := n; p != nil; p = p.parent {
		p.renderUpdates = true
	}
	if n.stage != nil {
		n.stage.frame.renderNeeded = true
	}
}

// --- Transform property setters ---

// X returns the local x position.
func (n *Node) X() float64 { return n.x }

// Y returns the local y position.
func (n *Node) Y() float64 { return n.y }

// SetPosition sets the node's local X and Y.
func (n *Node) SetPosition(x, y float64) {
	if n.x == x && n.y == y {
		return
	}
	n.x, n.y = x, y
	n.setRecalc(recalcTranslate)
}

// Scale returns the local scale factors.
func (n *Node) Scale() (sx, sy float64) { return n.scaleX, n.scaleY }

// SetScale sets the node's ScaleX and ScaleY.
func (n *Node) SetScale(sx, sy float64) {
	if n.scaleX == sx && n.scaleY == sy {
		return
	}
	n.scaleX, n.scaleY = sx, sy
	n.setRecalc(recalcTransform)
}

// Rotation returns the local rotation in radians.
func (n *Node) Rotation() float64 { return n.rotation }

// SetRotation sets the node's rotation (in radians).
func (n *Node) SetRotation(r float64) {
	if n.rotation == r {
		return
	}
	n.rotation = r
	n.setRecalc(recalcTransform)
}

// Skew returns the local skew angles in radians.
func (n *Node) Skew() (sx, sy float64) { return n.skewX, n.skewY }

// SetSkew sets the node's SkewX and SkewY (in radians).
func (n *Node) SetSkew(sx, sy float64) {
	if n.skewX == sx && n.skewY == sy {
		return
	}
	n.skewX, n.skewY = sx, sy
	n.setRecalc(recalcTransform)
}

// Pivot returns the pivot in local pixels.
func (n *Node) Pivot() (px, py float64) { return n.pivotX, n.pivotY }

// SetPivot sets the point, in local pixels, that scale, skew and rotation
// are applied around. The pivot itself does not move the node.
func (n *Node) SetPivot(px, py float64) {
	if n.pivotX == px && n.pivotY == py {
		return
	}
	n.pivotX, n.pivotY = px, py
	n.setRecalc(recalcTransform)
}

// Mount returns the mount point as a fraction of the node's size.
func (n *Node) Mount() (mx, my float64) { return n.mountX, n.mountY }

// SetMount shifts the node by a fraction of its own size, so that (0.5, 0.5)
// centers it on its position.
func (n *Node) SetMount(mx, my float64) {
	if n.mountX == mx && n.mountY == my {
		return
	}
	n.mountX, n.mountY = mx, my
	n.setRecalc(recalcTranslate)
}

// Size returns the explicitly set size. Zero components follow the texture.
func (n *Node) Size() (w, h float64) { return n.w, n.h }

// SetSize sets the node's width and height. A zero component makes the node
// take that dimension from its texture.
func (n *Node) SetSize(w, h float64) {
	if w < 0 || h < 0 {
		logger.Warn("negative node size ignored", "node", n.Name, "w", w, "h", h)
		return
	}
	if n.w == w && n.h == h {
		return
	}
	n.w, n.h = w, h
	n.setRecalc(recalcDimensions)
}

// RenderSize returns the size the node is drawn at, as of the last update.
func (n *Node) RenderSize() (w, h float64) { return n.renderWidth, n.renderHeight }

// --- Appearance ---

// Alpha returns the local alpha.
func (n *Node) Alpha() float64 { return n.alpha }

// SetAlpha sets the node's local alpha, clamped to [0, 1].
func (n *Node) SetAlpha(a float64) {
	if a < 0 {
		a = 0
	} else if a > 1 {
		a = 1
	}
	if n.alpha == a {
		return
	}
	n.alpha = a
	n.visibilityChanged()
}

// Visible reports whether the node is shown.
func (n *Node) Visible() bool { return n.visible }

// SetVisible shows or hides the node and its subtree.
func (n *Node) SetVisible(v bool) {
	if n.visible == v {
		return
	}
	n.visible = v
	n.visibilityChanged()
}

// visibilityChanged refreshes local alpha and the active flag after alpha
// or visible changed.
func (n *Node) visibilityChanged() {
	la := n.alpha
	if !n.visible {
		la = 0
	}
	if la != n.localAlpha {
		n.localAlpha = la
		n.setRecalc(recalcAlpha)
	}
	n.updateActive()
}

// WorldAlpha returns the alpha composed with all ancestors, as of the last update.
func (n *Node) WorldAlpha() float64 { return n.worldAlpha }

// WorldTransform returns the world affine matrix [a, b, c, d, tx, ty], as of
// the last update.
func (n *Node) WorldTransform() [6]float64 { return n.worldTransform }

// SetColor sets all four corner colors.
func (n *Node) SetColor(c Color) {
	n.SetCornerColors(c, c, c, c)
}

// SetCornerColors sets the upper-left, upper-right, bottom-right and
// bottom-left colors. Colors are interpolated across the quad.
func (n *Node) SetCornerColors(ul, ur, br, bl Color) {
	if n.colorUL == ul && n.colorUR == ur && n.colorBR == br && n.colorBL == bl {
		return
	}
	n.colorUL, n.colorUR, n.colorBR, n.colorBL = ul, ur, br, bl
	n.markRenderUpdates()
	n.markHasUpdates()
}

// CornerColors returns the upper-left, upper-right, bottom-right and
// bottom-left colors.
func (n *Node) CornerColors() (ul, ur, br, bl Color) {
	return n.colorUL, n.colorUR, n.colorBR, n.colorBL
}

// SetRect makes the node draw a solid rectangle of its size when it has no
// texture.
func (n *Node) SetRect(rect bool) {
	if n.rect == rect {
		return
	}
	n.rect = rect
	n.markRenderUpdates()
	n.markHasUpdates()
}

// Texture returns the displayed texture, or nil.
func (n *Node) Texture() *Texture { return n.texture }

// SetTexture changes the displayed texture. While the node is active the
// texture's source is counted as in use and loaded on demand.
func (n *Node) SetTexture(t *Texture) {
	if n.texture == t {
		return
	}
	prev := n.texture
	n.texture = t
	if n.active {
		if t != nil {
			t.source.addView(n)
		}
		if prev != nil {
			prev.source.removeView(n)
		}
	}
	n.setRecalc(recalcDimensions)
}

// Program returns the program explicitly set on this node, or nil.
func (n *Node) Program() Program { return n.program }

// SetProgram sets the raster program for this node and every descendant
// that does not set its own. Nil restores the inherited program.
func (n *Node) SetProgram(p Program) {
	if n.program == p {
		return
	}
	n.program = p
	n.updateProgramOwner()
	n.markRenderUpdates()
	n.markHasUpdates()
}

// activeProgram returns the program this node draws with, or nil for the
// stage default.
func (n *Node) activeProgram() Program {
	if n.programOwner == nil {
		return nil
	}
	return n.programOwner.program
}

// updateProgramOwner recomputes the nearest node that sets a program for
// the subtree.
func (n *Node) updateProgramOwner() {
	var owner *Node
	if n.program != nil {
		owner = n
	} else if n.parent != nil {
		owner = n.parent.programOwner
	}
	if owner == n.programOwner {
		return
	}
	n.programOwner = owner
	for _, c := range n.children {
		c.updateProgramOwner()
	}
}

// --- Clipping ---

// Clipping reports whether the node clips its descendants to its bounds.
func (n *Node) Clipping() bool { return n.clipping }

// SetClipping makes descendants draw only inside this node's bounds.
func (n *Node) SetClipping(clip bool) {
	if n.clipping == clip {
		return
	}
	wasZ := n.isZContext()
	n.clipping = clip
	n.zContextStatusChanged(wasZ)
	for _, c := range n.children {
		c.updateClipParent()
	}
	n.setRecalc(recalcClip | recalcRenderContext)
}

// ClipToTexture reports whether a rotated or skewed clip renders the subtree
// to a texture.
func (n *Node) ClipToTexture() bool { return n.clipToTexture }

// SetClipToTexture makes a clipping node that is rotated or skewed render
// its subtree into a texture, rather than cutting every descendant quad
// against the clip polygon.
func (n *Node) SetClipToTexture(v bool) {
	if n.clipToTexture == v {
		return
	}
	wasZ := n.isZContext()
	n.clipToTexture = v
	n.zContextStatusChanged(wasZ)
	n.setRecalc(recalcClip | recalcRenderContext)
}

// ClipParent returns the nearest clipping ancestor, or nil.
func (n *Node) ClipParent() *Node { return n.clipParent }

// updateClipParent recomputes the nearest clipping ancestor for the subtree.
func (n *Node) updateClipParent() {
	var cp *Node
	if p := n.parent; p != nil {
		if p.clipping {
			cp = p
		} else {
			cp = p.clipParent
		}
	}
	if cp == n.clipParent {
		return
	}
	n.clipParent = cp
	n.recalc |= recalcClip
	for _, c := range n.children {
		c.updateClipParent()
	}
}

// ClipBounds returns the bounding box of the visible part of the node's own
// quad in its render target, and false when nothing of it is visible. Valid
// after an update.
func (n *Node) ClipBounds() (Rect, bool) {
	if n.clipState == clipEmpty {
		return Rect{}, false
	}
	return n.clipBounds, true
}

// --- Render to texture ---

// Filters returns the filter chain.
func (n *Node) Filters() []Filter { return n.filters }

// SetFilters sets the filters applied, in order, to the node's rendered
// subtree. A non-empty chain renders the subtree to a texture first.
func (n *Node) SetFilters(filters ...Filter) {
	if len(filters) == 0 && len(n.filters) == 0 {
		return
	}
	wasZ := n.isZContext()
	n.filters = append(n.filters[:0:0], filters...)
	n.zContextStatusChanged(wasZ)
	n.setRecalc(recalcRenderContext | recalcClip)
	n.markRenderUpdates()
}

// --- Active state ---

// Active reports whether the node is attached to a stage and visible
// through its whole ancestor chain. Active nodes hold their texture source
// in use.
func (n *Node) Active() bool { return n.active }

// computeActive derives the active flag from local state and the parent.
func (n *Node) computeActive() bool {
	if n.stage == nil || !n.visible || n.alpha <= 0 || n.destroyed {
		return false
	}
	if n.isRoot {
		return true
	}
	return n.parent != nil && n.parent.active
}

// updateActive recomputes the active flag and propagates transitions to the
// subtree.
func (n *Node) updateActive() {
	want := n.computeActive()
	if want == n.active {
		return
	}
	n.active = want
	if want {
		if n.texture != nil {
			n.texture.source.addView(n)
		}
	} else {
		if n.texture != nil {
			n.texture.source.removeView(n)
		}
	}
	for _, c := range n.children {
		c.updateActive()
	}
}

// --- Events ---

// OnTextureLoaded registers fn to be called when the displayed texture
// finishes loading. It returns a function that unregisters fn.
func (n *Node) OnTextureLoaded(fn func(*Node)) (off func()) {
	return n.onTextureLoaded.on(fn)
}

// OnTextureError registers fn to be called when the displayed texture fails
// to load. The node then draws nothing until a new texture is set or the
// load is retried.
func (n *Node) OnTextureError(fn func(error)) (off func()) {
	return n.onTextureError.on(fn)
}

// textureLoaded is called by the source for every active view.
func (n *Node) textureLoaded() {
	n.setRecalc(recalcDimensions)
	n.onTextureLoaded.emit(n)
}

// textureFailed is called by the source for every active view.
func (n *Node) textureFailed(err error) {
	n.markRenderUpdates()
	n.markHasUpdates()
	n.onTextureError.emit(err)
}

// --- Destruction ---

// Destroy removes this node from its parent and releases the subtree. A
// destroyed node must not be used again.
func (n *Node) Destroy() {
	if n.destroyed {
		return
	}
	if n.isRoot {
		panic("strata: the stage root is destroyed with its stage")
	}
	n.RemoveFromParent()
	n.destroy()
}

func (n *Node) destroy() {
	for _, c := range n.children {
		c.destroy()
	}
	n.destroyed = true
	n.updateActive()
	if n.texturizer != nil {
		n.texturizer.releaseCache()
	}
	n.children = nil
	n.parent = nil
	n.texture = nil
	n.program = nil
	n.programOwner = nil
	n.filters = nil
	n.clipParent = nil
	n.clip = nil
	n.childClip = nil
	n.UserData = nil
	n.onTextureLoaded.clear()
	n.onTextureError.clear()
}

// IsDestroyed returns true if this node has been destroyed.
func (n *Node) IsDestroyed() bool {
	return n.destroyed
}

// --- Helpers ---

// isAncestor reports whether candidate is node or an ancestor of node.
func isAncestor(candidate, node *Node) bool {
	for p := node; p != nil; p = p.parent {
		if p == candidate {
			return true
		}
	}
	return false
}

// debugMode reports whether the node's stage runs with debug checks.
func (n *Node) debugMode() bool {
	return n.stage != nil && n.stage.debug
}
