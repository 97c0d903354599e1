// Package geometry provides the planar geometry values carried by join pages.
//
// A Geometry wraps a github.com/twpayne/go-geom value together with its
// bounding rectangle (github.com/golang/geo/r2) and a flattened view of its
// points, segments and polygon rings used by the predicates in this package.
//
// Supported geometry types are Point, LineString, Polygon and their Multi*
// variants. Only the first two ordinates of each coordinate are used.
package geometry

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/golang/geo/r2"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geom/encoding/wkt"
)

var (
	// ErrUnsupportedType is returned for geometry types the join cannot index.
	ErrUnsupportedType = errors.New("unsupported geometry type")

	// ErrInvalidGeometry is returned when a geometry cannot be decoded.
	ErrInvalidGeometry = errors.New("invalid geometry")
)

// Geometry is an immutable planar geometry.
type Geometry struct {
	t      geom.T
	bounds r2.Rect
	parts  parts
}

// parts is the flattened representation used by predicates.
type parts struct {
	points []r2.Point
	lines  [][]r2.Point
	polys  [][][]r2.Point // polygon -> rings (exterior first) -> closed ring coords
}

// New wraps a go-geom value.
func New(t geom.T) (*Geometry, error) {
	if t == nil {
		return nil, errors.Wrap(ErrInvalidGeometry, "nil geometry")
	}

	g := &Geometry{t: t, bounds: r2.EmptyRect()}

	switch v := t.(type) {
	case *geom.Point:
		if !v.Empty() {
			g.parts.points = toPoints(v.FlatCoords(), v.Stride())
		}
	case *geom.MultiPoint:
		g.parts.points = toPoints(v.FlatCoords(), v.Stride())
	case *geom.LineString:
		if v.NumCoords() > 0 {
			g.parts.lines = [][]r2.Point{toPoints(v.FlatCoords(), v.Stride())}
		}
	case *geom.MultiLineString:
		g.parts.lines = splitRings(v.FlatCoords(), v.Stride(), v.Ends())
	case *geom.Polygon:
		if rings := splitRings(v.FlatCoords(), v.Stride(), v.Ends()); len(rings) > 0 {
			g.parts.polys = [][][]r2.Point{rings}
		}
	case *geom.MultiPolygon:
		flat, stride, offset := v.FlatCoords(), v.Stride(), 0
		for _, ends := range v.Endss() {
			if len(ends) == 0 {
				continue
			}
			rings := splitRings(flat[offset:ends[len(ends)-1]], stride, shiftEnds(ends, offset))
			g.parts.polys = append(g.parts.polys, rings)
			offset = ends[len(ends)-1]
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedType, "%T", t)
	}

	for _, p := range g.parts.points {
		g.bounds = g.bounds.AddPoint(p)
	}
	for _, l := range g.parts.lines {
		for _, p := range l {
			g.bounds = g.bounds.AddPoint(p)
		}
	}
	for _, poly := range g.parts.polys {
		// Holes lie inside the exterior ring.
		for _, p := range poly[0] {
			g.bounds = g.bounds.AddPoint(p)
		}
	}

	return g, nil
}

// NewPoint returns a point geometry.
func NewPoint(x, y float64) *Geometry {
	g, _ := New(geom.NewPointFlat(geom.XY, []float64{x, y}))
	return g
}

// NewEnvelope returns the axis-aligned rectangle polygon spanning the given corners.
func NewEnvelope(minX, minY, maxX, maxY float64) *Geometry {
	flat := []float64{minX, minY, maxX, minY, maxX, maxY, minX, maxY, minX, minY}
	g, _ := New(geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}))
	return g
}

// ParseWKT decodes a geometry from Well Known Text.
func ParseWKT(s string) (*Geometry, error) {
	t, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: parse wkt %q: %w", ErrInvalidGeometry, s, err)
	}
	return New(t)
}

// MustParseWKT is like ParseWKT but panics on error. Intended for tests and fixtures.
func MustParseWKT(s string) *Geometry {
	g, err := ParseWKT(s)
	if err != nil {
		panic(err)
	}
	return g
}

// FromWKB decodes a geometry from Well Known Binary.
func FromWKB(data []byte) (*Geometry, error) {
	t, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode wkb: %w", ErrInvalidGeometry, err)
	}
	return New(t)
}

// WKB encodes the geometry as little-endian Well Known Binary.
func (g *Geometry) WKB() ([]byte, error) {
	return wkb.Marshal(g.t, binary.LittleEndian)
}

// WKT encodes the geometry as Well Known Text.
func (g *Geometry) WKT() string {
	s, err := wkt.Marshal(g.t)
	if err != nil {
		return ""
	}
	return s
}

// String implements fmt.Stringer.
func (g *Geometry) String() string { return g.WKT() }

// T returns the underlying go-geom value.
func (g *Geometry) T() geom.T { return g.t }

// Bounds returns the bounding rectangle. Empty geometries have an empty rectangle.
func (g *Geometry) Bounds() r2.Rect { return g.bounds }

// IsEmpty reports whether the geometry has no coordinates.
func (g *Geometry) IsEmpty() bool { return g.bounds.IsEmpty() }

// NumCoords returns the number of coordinates.
func (g *Geometry) NumCoords() int {
	if g.t.Stride() == 0 {
		return 0
	}
	return len(g.t.FlatCoords()) / g.t.Stride()
}

// SizeInBytes approximates the retained size of the geometry.
func (g *Geometry) SizeInBytes() int64 {
	// Flat coordinates are held twice: once by go-geom, once as r2 points.
	return 96 + int64(len(g.t.FlatCoords()))*8*2
}

// Equal reports whether both geometries have identical coordinates and structure.
func (g *Geometry) Equal(o *Geometry) bool {
	if g == nil || o == nil {
		return g == o
	}
	return g.WKT() == o.WKT()
}

func toPoints(flat []float64, stride int) []r2.Point {
	if stride < 2 {
		return nil
	}
	pts := make([]r2.Point, 0, len(flat)/stride)
	for i := 0; i+1 < len(flat); i += stride {
		x, y := flat[i], flat[i+1]
		if math.IsNaN(x) || math.IsNaN(y) {
			continue
		}
		pts = append(pts, r2.Point{X: x, Y: y})
	}
	return pts
}

func splitRings(flat []float64, stride int, ends []int) [][]r2.Point {
	rings := make([][]r2.Point, 0, len(ends))
	start := 0
	for _, end := range ends {
		if end > start {
			rings = append(rings, toPoints(flat[start:end], stride))
		}
		start = end
	}
	return rings
}

func shiftEnds(ends []int, offset int) []int {
	out := make([]int, len(ends))
	for i, e := range ends {
		out[i] = e - offset
	}
	return out
}
