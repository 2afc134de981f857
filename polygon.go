package strata

import "math"

// polygon is a convex polygon with positive signed area (counter-clockwise
// in a y-up frame). Clip regions that are rotated or skewed are polygons.
type polygon []Vec2

// polyEpsilon is the area below which a clipped polygon counts as empty.
const polyEpsilon = 1e-9

// signedArea returns the shoelace area; positive for the winding clip
// polygons are normalized to.
func (p polygon) signedArea() float64 {
	var s float64
	for i := range p {
		j := i + 1
		if j == len(p) {
			j = 0
		}
		s += p[i].X*p[j].Y - p[j].X*p[i].Y
	}
	return s / 2
}

// area returns the absolute area.
func (p polygon) area() float64 {
	return math.Abs(p.signedArea())
}

// normalize reverses p in place if its winding is negative.
func (p polygon) normalize() polygon {
	if p.signedArea() < 0 {
		for i, j := 0, len(p)-1; i < j; i, j = i+1, j-1 {
			p[i], p[j] = p[j], p[i]
		}
	}
	return p
}

// contains reports whether pt lies inside or on the edge of p.
func (p polygon) contains(pt Vec2) bool {
	if len(p) < 3 {
		return false
	}
	for i := range p {
		j := i + 1
		if j == len(p) {
			j = 0
		}
		if cross(p[i], p[j], pt) < -polyEpsilon {
			return false
		}
	}
	return true
}

// containsAll reports whether every point of q lies inside p.
func (p polygon) containsAll(q polygon) bool {
	for _, pt := range q {
		if !p.contains(pt) {
			return false
		}
	}
	return true
}

// bounds returns the axis-aligned bounding box.
func (p polygon) bounds() Rect {
	if len(p) == 0 {
		return Rect{}
	}
	minX, minY := p[0].X, p[0].Y
	maxX, maxY := minX, minY
	for _, v := range p[1:] {
		minX = math.Min(minX, v.X)
		minY = math.Min(minY, v.Y)
		maxX = math.Max(maxX, v.X)
		maxY = math.Max(maxY, v.Y)
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// isEmpty reports whether the polygon has no area.
func (p polygon) isEmpty() bool {
	return len(p) < 3 || p.area() < polyEpsilon
}

// rectPolygon returns the corners of r in upper-left, upper-right,
// bottom-right, bottom-left order.
func rectPolygon(r Rect, out polygon) polygon {
	return append(out[:0],
		Vec2{r.X, r.Y},
		Vec2{r.X + r.Width, r.Y},
		Vec2{r.X + r.Width, r.Y + r.Height},
		Vec2{r.X, r.Y + r.Height},
	)
}

// cross returns the z component of (b-a) x (pt-a). Positive when pt is on
// the inner side of edge a->b of a normalized polygon.
func cross(a, b, pt Vec2) float64 {
	return (b.X-a.X)*(pt.Y-a.Y) - (b.Y-a.Y)*(pt.X-a.X)
}

// clipPolygon intersects subject with the convex polygon clip using
// Sutherland–Hodgman: subject is cut against each edge of clip in turn. The
// result is appended to out[:0] and is convex when subject is convex.
func clipPolygon(subject, clip, out polygon) polygon {
	out = append(out[:0], subject...)
	if len(clip) < 3 {
		return out[:0]
	}
	var in polygon
	for i := range clip {
		if len(out) == 0 {
			break
		}
		a := clip[i]
		b := clip[(i+1)%len(clip)]
		in = append(in[:0], out...)
		out = out[:0]
		prev := in[len(in)-1]
		prevSide := cross(a, b, prev)
		for _, cur := range in {
			curSide := cross(a, b, cur)
			if curSide >= 0 {
				if prevSide < 0 {
					out = append(out, intersectEdge(prev, cur, prevSide, curSide))
				}
				out = append(out, cur)
			} else if prevSide >= 0 {
				out = append(out, intersectEdge(prev, cur, prevSide, curSide))
			}
			prev, prevSide = cur, curSide
		}
	}
	return out
}

// intersectEdge returns the point on segment p->q where the signed side
// distance crosses zero.
func intersectEdge(p, q Vec2, sp, sq float64) Vec2 {
	t := sp / (sp - sq)
	return Vec2{p.X + (q.X-p.X)*t, p.Y + (q.Y-p.Y)*t}
}
