package geometry

import (
	"math"
	"slices"

	"github.com/golang/geo/r2"
)

// Intersects reports whether a and b share at least one point.
// Boundaries count as part of a geometry.
func Intersects(a, b *Geometry) bool {
	if a.IsEmpty() || b.IsEmpty() || !a.bounds.Intersects(b.bounds) {
		return false
	}
	return partsIntersect(&a.parts, &b.parts)
}

// Contains reports whether no point of b lies outside a and at least one
// point of the interior of b lies in the interior of a. A point on the
// boundary of a polygon is therefore not contained by it.
func Contains(a, b *Geometry) bool {
	if a.IsEmpty() || b.IsEmpty() || !a.bounds.Contains(b.bounds) {
		return false
	}

	switch {
	case len(a.parts.polys) > 0:
		return polygonsContain(&a.parts, &b.parts)
	case len(a.parts.lines) > 0:
		return linesContain(&a.parts, &b.parts)
	default:
		if len(b.parts.polys) > 0 || len(b.parts.lines) > 0 {
			return false
		}
		for _, p := range b.parts.points {
			if !containsPoint(a.parts.points, p) {
				return false
			}
		}
		return true
	}
}

func polygonsContain(a, b *parts) bool {
	interior := false
	for _, p := range b.points {
		if !a.coversPoint(p) {
			return false
		}
		interior = interior || !a.onAnyRing(p)
	}

	// Every piece of b between two crossings of a's boundary must stay in a.
	ok := true
	b.eachSegment(func(p1, p2 r2.Point) bool {
		if !a.coversPoint(p1) || !a.coversPoint(p2) {
			ok = false
			return false
		}
		eachPieceMidpoint(p1, p2, a, func(m r2.Point) bool {
			if !a.coversPoint(m) && !a.nearRing(m) {
				ok = false
				return false
			}
			interior = interior || !a.nearRing(m)
			return true
		})
		return ok
	})
	if !ok {
		return false
	}
	if len(b.polys) == 0 {
		return interior
	}

	// The boundary of a must not pass through the interior of b, as it does
	// when b encloses a hole of a.
	enclosed := false
	a.eachRingSegment(func(q1, q2 r2.Point) bool {
		enclosed = b.inInterior(q1)
		if !enclosed {
			eachPieceMidpoint(q1, q2, b, func(m r2.Point) bool {
				enclosed = b.inInterior(m)
				return !enclosed
			})
		}
		return !enclosed
	})
	if enclosed {
		return false
	}

	// Each polygon of b now lies either inside a or in one of its holes.
	for _, poly := range b.polys {
		ip, ok := polygonInteriorPoint(poly)
		if !ok {
			continue
		}
		if !a.coversPoint(ip) {
			return false
		}
		interior = true
	}
	return interior
}

func linesContain(a, b *parts) bool {
	if len(b.polys) > 0 {
		return false
	}
	boundary := a.lineBoundary()

	interior := false
	for _, p := range b.points {
		if !a.onAnySegment(p) {
			return false
		}
		interior = interior || !containsPoint(boundary, p)
	}

	ok := true
	b.eachSegment(func(p1, p2 r2.Point) bool {
		if !a.onAnySegment(p1) || !a.onAnySegment(p2) {
			ok = false
			return false
		}
		eachPieceMidpoint(p1, p2, a, func(m r2.Point) bool {
			if !a.nearSegment(m) {
				ok = false
				return false
			}
			interior = interior || !containsPoint(boundary, m)
			return true
		})
		return ok
	})
	return ok && interior
}

// Within reports whether a lies within b.
func Within(a, b *Geometry) bool { return Contains(b, a) }

// Distance returns the minimum Euclidean distance between a and b.
// It returns +Inf when either geometry is empty.
func Distance(a, b *Geometry) float64 {
	if a.IsEmpty() || b.IsEmpty() {
		return math.Inf(1)
	}
	if Intersects(a, b) {
		return 0
	}
	return math.Min(vertexDistance(&a.parts, &b.parts), vertexDistance(&b.parts, &a.parts))
}

// WithinDistance reports whether Distance(a, b) <= d.
func WithinDistance(a, b *Geometry, d float64) bool {
	if a.IsEmpty() || b.IsEmpty() || d < 0 {
		return false
	}
	if RectDistance(a.bounds, b.bounds) > d {
		return false
	}
	return Distance(a, b) <= d
}

// RectDistance returns the minimum distance between two rectangles.
func RectDistance(a, b r2.Rect) float64 {
	dx := math.Max(0, math.Max(a.X.Lo-b.X.Hi, b.X.Lo-a.X.Hi))
	dy := math.Max(0, math.Max(a.Y.Lo-b.Y.Hi, b.Y.Lo-a.Y.Hi))
	return math.Hypot(dx, dy)
}

func partsIntersect(a, b *parts) bool {
	hit := false
	a.eachSegment(func(p1, p2 r2.Point) bool {
		b.eachSegment(func(q1, q2 r2.Point) bool {
			hit = segmentsIntersect(p1, p2, q1, q2)
			return !hit
		})
		return !hit
	})
	if hit {
		return true
	}

	for _, p := range a.points {
		if b.touchesPoint(p) {
			return true
		}
	}
	for _, p := range b.points {
		if a.touchesPoint(p) {
			return true
		}
	}

	// Without edge crossings, one shape can still lie entirely inside a polygon
	// of the other; testing one vertex per component is enough.
	return anyComponentInside(a, b) || anyComponentInside(b, a)
}

func anyComponentInside(a, b *parts) bool {
	if len(b.polys) == 0 {
		return false
	}
	for _, l := range a.lines {
		if len(l) > 0 && b.coversPoint(l[0]) {
			return true
		}
	}
	for _, poly := range a.polys {
		if len(poly) > 0 && len(poly[0]) > 0 && b.coversPoint(poly[0][0]) {
			return true
		}
	}
	return false
}

// touchesPoint reports whether p lies on any point, segment or polygon area.
func (ps *parts) touchesPoint(p r2.Point) bool {
	return containsPoint(ps.points, p) || ps.onAnySegment(p) || ps.coversPoint(p)
}

// coversPoint reports whether p lies inside or on the boundary of a polygon.
func (ps *parts) coversPoint(p r2.Point) bool {
	for _, poly := range ps.polys {
		if polygonCovers(poly, p) {
			return true
		}
	}
	return false
}

// inInterior reports whether p lies inside a polygon and off every ring.
func (ps *parts) inInterior(p r2.Point) bool {
	return ps.coversPoint(p) && !ps.nearRing(p)
}

func (ps *parts) onAnyRing(p r2.Point) bool {
	found := false
	ps.eachRingSegment(func(q1, q2 r2.Point) bool {
		found = onSegment(q1, q2, p)
		return !found
	})
	return found
}

// nearRing is onAnyRing with a tolerance for computed points.
func (ps *parts) nearRing(p r2.Point) bool {
	found := false
	ps.eachRingSegment(func(q1, q2 r2.Point) bool {
		found = nearSegment(q1, q2, p)
		return !found
	})
	return found
}

func (ps *parts) nearSegment(p r2.Point) bool {
	found := false
	ps.eachSegment(func(q1, q2 r2.Point) bool {
		found = nearSegment(q1, q2, p)
		return !found
	})
	return found
}

// lineBoundary returns the endpoints of open lines that occur an odd number
// of times.
func (ps *parts) lineBoundary() []r2.Point {
	counts := make(map[r2.Point]int)
	for _, l := range ps.lines {
		if len(l) < 2 || l[0] == l[len(l)-1] {
			continue
		}
		counts[l[0]]++
		counts[l[len(l)-1]]++
	}
	var boundary []r2.Point
	for p, n := range counts {
		if n%2 == 1 {
			boundary = append(boundary, p)
		}
	}
	return boundary
}

func (ps *parts) onAnySegment(p r2.Point) bool {
	found := false
	ps.eachSegment(func(q1, q2 r2.Point) bool {
		found = onSegment(q1, q2, p)
		return !found
	})
	return found
}

// eachSegment visits line segments and polygon ring segments until fn returns false.
func (ps *parts) eachSegment(fn func(p1, p2 r2.Point) bool) {
	for _, l := range ps.lines {
		if !eachPair(l, fn) {
			return
		}
	}
	ps.eachRingSegment(fn)
}

func (ps *parts) eachRingSegment(fn func(p1, p2 r2.Point) bool) {
	for _, poly := range ps.polys {
		for _, ring := range poly {
			if !eachPair(ring, fn) {
				return
			}
		}
	}
}

func (ps *parts) eachVertex(fn func(p r2.Point) bool) {
	for _, p := range ps.points {
		if !fn(p) {
			return
		}
	}
	for _, l := range ps.lines {
		for _, p := range l {
			if !fn(p) {
				return
			}
		}
	}
	for _, poly := range ps.polys {
		for _, ring := range poly {
			for _, p := range ring {
				if !fn(p) {
					return
				}
			}
		}
	}
}

func eachPair(pts []r2.Point, fn func(p1, p2 r2.Point) bool) bool {
	if len(pts) == 1 {
		return fn(pts[0], pts[0])
	}
	for i := 1; i < len(pts); i++ {
		if !fn(pts[i-1], pts[i]) {
			return false
		}
	}
	return true
}

// vertexDistance is the minimum distance from any vertex of a to any point or
// segment of b. Together with the symmetric call it yields the distance
// between non-intersecting shapes.
func vertexDistance(a, b *parts) float64 {
	best := math.Inf(1)
	a.eachVertex(func(p r2.Point) bool {
		for _, q := range b.points {
			best = math.Min(best, p.Sub(q).Norm())
		}
		b.eachSegment(func(q1, q2 r2.Point) bool {
			best = math.Min(best, pointSegmentDistance(p, q1, q2))
			return best > 0
		})
		return best > 0
	})
	return best
}

// polygonCovers applies the even-odd rule to the exterior ring and the holes.
func polygonCovers(rings [][]r2.Point, p r2.Point) bool {
	if len(rings) == 0 || !ringCovers(rings[0], p) {
		return false
	}
	for _, hole := range rings[1:] {
		if ringCovers(hole, p) && !onRing(hole, p) {
			return false
		}
	}
	return true
}

func ringCovers(ring []r2.Point, p r2.Point) bool {
	if onRing(ring, p) {
		return true
	}
	inside := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			x := (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y) + a.X
			if p.X < x {
				inside = !inside
			}
		}
	}
	return inside
}

func onRing(ring []r2.Point, p r2.Point) bool {
	return !eachPair(ring, func(a, b r2.Point) bool { return !onSegment(a, b, p) })
}

func containsPoint(pts []r2.Point, p r2.Point) bool {
	for _, q := range pts {
		if q == p {
			return true
		}
	}
	return false
}

func orientation(a, b, c r2.Point) float64 {
	return b.Sub(a).Cross(c.Sub(a))
}

func onSegment(a, b, p r2.Point) bool {
	if orientation(a, b, p) != 0 {
		return false
	}
	return math.Min(a.X, b.X) <= p.X && p.X <= math.Max(a.X, b.X) &&
		math.Min(a.Y, b.Y) <= p.Y && p.Y <= math.Max(a.Y, b.Y)
}

func segmentsIntersect(p1, p2, q1, q2 r2.Point) bool {
	d1 := orientation(q1, q2, p1)
	d2 := orientation(q1, q2, p2)
	d3 := orientation(p1, p2, q1)
	d4 := orientation(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return onSegment(q1, q2, p1) || onSegment(q1, q2, p2) ||
		onSegment(p1, p2, q1) || onSegment(p1, p2, q2)
}

// properlyCross reports an intersection at a single interior point of both segments.
func properlyCross(p1, p2, q1, q2 r2.Point) bool {
	d1 := orientation(q1, q2, p1)
	d2 := orientation(q1, q2, p2)
	d3 := orientation(p1, p2, q1)
	d4 := orientation(p1, p2, q2)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

// eachPieceMidpoint splits p1p2 wherever it meets a segment of cuts and
// visits the midpoint of every piece until fn returns false.
func eachPieceMidpoint(p1, p2 r2.Point, cuts *parts, fn func(m r2.Point) bool) {
	d := p2.Sub(p1)
	l2 := d.Dot(d)
	if l2 == 0 {
		fn(p1)
		return
	}
	ts := []float64{0, 1}
	at := func(q r2.Point) {
		if onSegment(p1, p2, q) {
			ts = append(ts, q.Sub(p1).Dot(d)/l2)
		}
	}
	cuts.eachSegment(func(q1, q2 r2.Point) bool {
		if properlyCross(p1, p2, q1, q2) {
			e := q2.Sub(q1)
			ts = append(ts, q1.Sub(p1).Cross(e)/d.Cross(e))
			return true
		}
		at(q1)
		at(q2)
		return true
	})
	slices.Sort(ts)
	for i := 1; i < len(ts); i++ {
		if ts[i] <= ts[i-1] {
			continue
		}
		if !fn(p1.Add(d.Mul((ts[i-1] + ts[i]) / 2))) {
			return
		}
	}
}

// polygonInteriorPoint returns a point strictly inside the polygon. The scan
// line runs through the widest gap between vertex ordinates so that it meets
// no vertex.
func polygonInteriorPoint(rings [][]r2.Point) (r2.Point, bool) {
	var ys []float64
	for _, ring := range rings {
		for _, p := range ring {
			ys = append(ys, p.Y)
		}
	}
	slices.Sort(ys)
	y, gap := 0.0, 0.0
	for i := 1; i < len(ys); i++ {
		if g := ys[i] - ys[i-1]; g > gap {
			y, gap = (ys[i]+ys[i-1])/2, g
		}
	}
	if gap == 0 {
		return r2.Point{}, false
	}

	var xs []float64
	for _, ring := range rings {
		for i := 1; i < len(ring); i++ {
			a, b := ring[i-1], ring[i]
			if (a.Y > y) != (b.Y > y) {
				xs = append(xs, (b.X-a.X)*(y-a.Y)/(b.Y-a.Y)+a.X)
			}
		}
	}
	slices.Sort(xs)
	best, width := r2.Point{}, 0.0
	for i := 1; i < len(xs); i += 2 {
		if w := xs[i] - xs[i-1]; w > width {
			best, width = r2.Point{X: (xs[i] + xs[i-1]) / 2, Y: y}, w
		}
	}
	return best, width > 0
}

func nearSegment(a, b, p r2.Point) bool {
	scale := math.Max(math.Max(math.Abs(a.X), math.Abs(a.Y)), math.Max(math.Abs(b.X), math.Abs(b.Y)))
	return pointSegmentDistance(p, a, b) <= 1e-9*(1+scale)
}

func pointSegmentDistance(p, a, b r2.Point) float64 {
	ab := b.Sub(a)
	l2 := ab.Dot(ab)
	if l2 == 0 {
		return p.Sub(a).Norm()
	}
	t := math.Max(0, math.Min(1, p.Sub(a).Dot(ab)/l2))
	return p.Sub(a.Add(ab.Mul(t))).Norm()
}
