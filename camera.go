package strata

import (
	"math"

	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
)

// Camera shows a world node through a viewport. Update writes the view
// onto the node's pivot, position, scale and rotation with the regular
// setters, so a camera that did not move costs no recomputation.
//
// Children of the world node are placed in world coordinates. Nothing else
// should transform the world node.
type Camera struct {
	// X and Y are the world point shown at the viewport center.
	X, Y float64
	// Zoom scales the view; above 1 zooms in.
	Zoom float64
	// Rotation turns the view clockwise, in radians.
	Rotation float64
	// Viewport is the area, in the world node's parent space, the view is
	// centered in.
	Viewport Rect

	// BoundsEnabled keeps the visible area inside Bounds.
	BoundsEnabled bool
	Bounds        Rect

	world  *Node
	follow *cameraFollow
	scroll *cameraScroll

	view, inverse [6]float64
	dirty         bool
}

// cameraFollow is the target set by Camera.Follow.
type cameraFollow struct {
	target *Node
	offset Vec2
	lerp   float64
}

// cameraScroll runs the per-axis tweens of Camera.ScrollTo.
type cameraScroll struct {
	x, y         *gween.Tween
	xDone, yDone bool
}

// step advances both tweens by dt and reports the new position and whether
// both finished.
func (s *cameraScroll) step(dt float32, x, y float64) (float64, float64, bool) {
	if !s.xDone {
		v, done := s.x.Update(dt)
		x, s.xDone = float64(v), done
	}
	if !s.yDone {
		v, done := s.y.Update(dt)
		y, s.yDone = float64(v), done
	}
	return x, y, s.xDone && s.yDone
}

// NewCamera returns a camera driving world, centered on the world origin.
// The view is applied on the first Update.
func NewCamera(world *Node, viewport Rect) *Camera {
	return &Camera{Zoom: 1, Viewport: viewport, world: world, dirty: true}
}

// World returns the node the camera drives.
func (c *Camera) World() *Node { return c.world }

// Follow tracks node, a descendant of the world node, plus an offset.
// Each Update moves the camera the lerp fraction of the remaining
// distance; 1 snaps.
func (c *Camera) Follow(node *Node, offsetX, offsetY, lerp float64) {
	c.follow = &cameraFollow{target: node, offset: Vec2{offsetX, offsetY}, lerp: lerp}
}

// Unfollow stops tracking.
func (c *Camera) Unfollow() {
	c.follow = nil
}

// ScrollTo moves the camera to (x, y) over duration seconds along easeFn.
func (c *Camera) ScrollTo(x, y float64, duration float32, easeFn ease.TweenFunc) {
	c.scroll = &cameraScroll{
		x: gween.New(float32(c.X), float32(x), duration, easeFn),
		y: gween.New(float32(c.Y), float32(y), duration, easeFn),
	}
}

// Scrolling reports whether a ScrollTo is in progress.
func (c *Camera) Scrolling() bool { return c.scroll != nil }

// SetBounds restricts the visible area to bounds.
func (c *Camera) SetBounds(bounds Rect) {
	c.BoundsEnabled = true
	c.Bounds = bounds
}

// ClearBounds lifts the restriction set by SetBounds.
func (c *Camera) ClearBounds() {
	c.BoundsEnabled = false
}

// Update advances follow, scroll and bounds clamping by dt seconds and
// applies the view to the world node. Call it once per frame before
// Stage.Update.
func (c *Camera) Update(dt float32) {
	if c.world == nil || c.world.IsDestroyed() {
		return
	}
	if f := c.follow; f != nil {
		if f.target.IsDestroyed() {
			c.follow = nil
		} else {
			// The target's world position already includes the current view.
			tx, ty := c.world.WorldToLocal(f.target.LocalToWorld(0, 0))
			c.X += (tx + f.offset.X - c.X) * f.lerp
			c.Y += (ty + f.offset.Y - c.Y) * f.lerp
		}
	}
	if c.scroll != nil {
		var done bool
		c.X, c.Y, done = c.scroll.step(dt, c.X, c.Y)
		if done {
			c.scroll = nil
		}
	}
	if c.BoundsEnabled {
		c.clampToBounds()
	}
	c.apply()
}

// center returns the viewport center.
func (c *Camera) center() (float64, float64) {
	return c.Viewport.X + c.Viewport.Width/2, c.Viewport.Y + c.Viewport.Height/2
}

// apply writes the view onto the world node. With the pivot on the camera
// position, the node's local transform equals the view matrix.
func (c *Camera) apply() {
	cx, cy := c.center()
	c.world.SetPivot(c.X, c.Y)
	c.world.SetPosition(cx-c.X, cy-c.Y)
	c.world.SetScale(c.Zoom, c.Zoom)
	c.world.SetRotation(-c.Rotation)
	c.dirty = true
}

func (c *Camera) clampToBounds() {
	halfW := c.Viewport.Width / (2 * c.Zoom)
	halfH := c.Viewport.Height / (2 * c.Zoom)
	c.X = clampAxis(c.X, c.Bounds.X, c.Bounds.Width, halfW)
	c.Y = clampAxis(c.Y, c.Bounds.Y, c.Bounds.Height, halfH)
}

// clampAxis keeps pos at least half away from both ends of
// [start, start+length]. A range shorter than the view centers pos.
func clampAxis(pos, start, length, half float64) float64 {
	if length < 2*half {
		return start + length/2
	}
	return math.Max(start+half, math.Min(pos, start+length-half))
}

// computeViewMatrix returns
// Translate(center) * Rotate(-Rotation) * Scale(Zoom) * Translate(-X, -Y),
// recomputing it and its inverse when dirty.
func (c *Camera) computeViewMatrix() [6]float64 {
	if !c.dirty {
		return c.view
	}
	c.dirty = false
	cx, cy := c.center()
	sin, cos := math.Sincos(-c.Rotation)
	z := c.Zoom
	rotScale := [6]float64{z * cos, z * sin, -z * sin, z * cos, cx, cy}
	c.view = multiplyAffine(rotScale, [6]float64{1, 0, 0, 1, -c.X, -c.Y})
	c.inverse = invertAffine(c.view)
	return c.view
}

// MarkDirty recomputes the view matrix on next use. Call it after setting
// X, Y, Zoom or Rotation without an Update.
func (c *Camera) MarkDirty() {
	c.dirty = true
}

// WorldToScreen maps a world point into the viewport's parent space.
func (c *Camera) WorldToScreen(wx, wy float64) (sx, sy float64) {
	return transformPoint(c.computeViewMatrix(), wx, wy)
}

// ScreenToWorld maps a point of the viewport's parent space into the world.
func (c *Camera) ScreenToWorld(sx, sy float64) (wx, wy float64) {
	c.computeViewMatrix()
	return transformPoint(c.inverse, sx, sy)
}

// VisibleBounds returns the world-space bounding box of the viewport.
func (c *Camera) VisibleBounds() Rect {
	c.computeViewMatrix()
	var buf [4]Vec2
	corners := rectPolygon(c.Viewport, buf[:0])
	for i, p := range corners {
		x, y := transformPoint(c.inverse, p.X, p.Y)
		corners[i] = Vec2{x, y}
	}
	return corners.bounds()
}
