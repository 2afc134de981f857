package strata

import (
	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
)

// TweenGroup animates up to 4 node properties simultaneously. Create one via
// the convenience constructors (TweenPosition, TweenScale, TweenColor,
// TweenAlpha, TweenRotation) and call Update(dt) each frame. Values are
// written through the node's setters, so only changed properties are
// recomputed. If the target node is destroyed, the group stops immediately.
//
// There is no global animation manager; callers run Update themselves.
type TweenGroup struct {
	tweens [4]*gween.Tween
	count  int
	apply  func(v [4]float64)
	target *Node
	Done   bool

	onComplete func()
}

func newTweenGroup(node *Node, from, to []float64, duration float32, fn ease.TweenFunc, apply func(v [4]float64)) *TweenGroup {
	g := &TweenGroup{count: len(from), target: node, apply: apply}
	for i := range from {
		g.tweens[i] = gween.New(float32(from[i]), float32(to[i]), duration, fn)
	}
	return g
}

// OnComplete registers fn to run once, on the Update that finishes the group.
func (g *TweenGroup) OnComplete(fn func()) *TweenGroup {
	g.onComplete = fn
	return g
}

// Update advances all tweens by dt seconds and applies the values to the
// target. If the target node has been destroyed, Done is set to true and no
// writes occur.
func (g *TweenGroup) Update(dt float32) {
	if g.Done {
		return
	}
	if g.target == nil || g.target.IsDestroyed() {
		g.Done = true
		return
	}

	var vals [4]float64
	allDone := true
	for i := 0; i < g.count; i++ {
		val, finished := g.tweens[i].Update(dt)
		vals[i] = float64(val)
		if !finished {
			allDone = false
		}
	}
	g.apply(vals)
	g.Done = allDone
	if g.Done && g.onComplete != nil {
		g.onComplete()
	}
}

// Reset rewinds every tween to its start.
func (g *TweenGroup) Reset() {
	for i := 0; i < g.count; i++ {
		g.tweens[i].Reset()
	}
	g.Done = false
}

// TweenPosition animates the node's position to (toX, toY).
func TweenPosition(node *Node, toX, toY float64, duration float32, fn ease.TweenFunc) *TweenGroup {
	return newTweenGroup(node,
		[]float64{node.x, node.y}, []float64{toX, toY}, duration, fn,
		func(v [4]float64) { node.SetPosition(v[0], v[1]) })
}

// TweenScale animates the node's scale to (toSX, toSY).
func TweenScale(node *Node, toSX, toSY float64, duration float32, fn ease.TweenFunc) *TweenGroup {
	return newTweenGroup(node,
		[]float64{node.scaleX, node.scaleY}, []float64{toSX, toSY}, duration, fn,
		func(v [4]float64) { node.SetScale(v[0], v[1]) })
}

// TweenColor animates all four components of the node's color to the
// target color, starting from the upper-left corner color. Every corner
// receives the interpolated color.
func TweenColor(node *Node, to Color, duration float32, fn ease.TweenFunc) *TweenGroup {
	from := node.colorUL
	return newTweenGroup(node,
		[]float64{from.R, from.G, from.B, from.A}, []float64{to.R, to.G, to.B, to.A}, duration, fn,
		func(v [4]float64) { node.SetColor(Color{v[0], v[1], v[2], v[3]}) })
}

// TweenAlpha animates the node's alpha to the target value.
func TweenAlpha(node *Node, to float64, duration float32, fn ease.TweenFunc) *TweenGroup {
	return newTweenGroup(node,
		[]float64{node.alpha}, []float64{to}, duration, fn,
		func(v [4]float64) { node.SetAlpha(v[0]) })
}

// TweenRotation animates the node's rotation, in radians, to the target
// value.
func TweenRotation(node *Node, to float64, duration float32, fn ease.TweenFunc) *TweenGroup {
	return newTweenGroup(node,
		[]float64{node.rotation}, []float64{to}, duration, fn,
		func(v [4]float64) { node.SetRotation(v[0]) })
}
