package testutil

import (
	"math"
	"math/rand"
	"slices"
	"sync"

	"github.com/hupe1980/geojoin/geometry"
	"github.com/hupe1980/geojoin/page"
	"github.com/hupe1980/geojoin/spatial"
)

// Pair is one matching (probe id, build id) combination.
type Pair struct {
	Probe int64
	Build int64
}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// UniformPoints returns num points uniformly distributed in [0, extent)².
func (r *RNG) UniformPoints(num int, extent float64) []*geometry.Geometry {
	r.mu.Lock()
	defer r.mu.Unlock()

	points := make([]*geometry.Geometry, num)
	for i := range points {
		points[i] = geometry.NewPoint(r.rand.Float64()*extent, r.rand.Float64()*extent)
	}
	return points
}

// UniformBoxes returns num axis-aligned boxes with their lower corner in
// [0, extent)² and edges in (0, maxEdge].
func (r *RNG) UniformBoxes(num int, extent, maxEdge float64) []*geometry.Geometry {
	r.mu.Lock()
	defer r.mu.Unlock()

	boxes := make([]*geometry.Geometry, num)
	for i := range boxes {
		x, y := r.rand.Float64()*extent, r.rand.Float64()*extent
		w := (1 - r.rand.Float64()) * maxEdge
		h := (1 - r.rand.Float64()) * maxEdge
		boxes[i] = geometry.NewEnvelope(x, y, x+w, y+h)
	}
	return boxes
}

// ClusteredPoints returns num points around cluster centers in [0, extent)².
// Clusters are picked with a Zipf distribution, so a few clusters hold most
// points. spread is the maximum offset from the center on each axis.
func (r *RNG) ClusteredPoints(num int, extent float64, clusters int, spread float64) []*geometry.Geometry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if clusters <= 0 {
		clusters = 1
	}
	centers := make([][2]float64, clusters)
	for i := range centers {
		centers[i] = [2]float64{r.rand.Float64() * extent, r.rand.Float64() * extent}
	}

	points := make([]*geometry.Geometry, num)
	for i := range points {
		c := centers[r.zipfLocked(clusters, 1.2)]
		dx := (r.rand.Float64()*2 - 1) * spread
		dy := (r.rand.Float64()*2 - 1) * spread
		points[i] = geometry.NewPoint(c[0]+dx, c[1]+dy)
	}
	return points
}

// Zipf returns a Zipfian-distributed value in [0, n).
// Uses Zipf's law: P(k) ∝ 1/k^s where s is the skew parameter.
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zipfLocked(n, s)
}

// zipfLocked is the internal implementation (caller must hold lock).
func (r *RNG) zipfLocked(n int, s float64) int {
	if n <= 1 {
		return 0
	}

	var hns float64
	for i := 1; i <= n; i++ {
		hns += 1.0 / math.Pow(float64(i), s)
	}

	u := r.rand.Float64() * hns
	var cumulative float64
	for k := 1; k <= n; k++ {
		cumulative += 1.0 / math.Pow(float64(k), s)
		if u <= cumulative {
			return k - 1
		}
	}

	return n - 1
}

// GeometryTypes are the channel types of pages built by GeometryPages.
var GeometryTypes = []page.Type{page.TypeBigint, page.TypeGeometry}

// GeometryPages packs geoms into pages of at most pageSize rows with the
// channels (id bigint, geom geometry). The id of a row is its index in geoms.
func GeometryPages(geoms []*geometry.Geometry, pageSize int) []*page.Page {
	if pageSize <= 0 {
		pageSize = len(geoms)
	}
	var pages []*page.Page
	for start := 0; start < len(geoms); start += pageSize {
		end := min(start+pageSize, len(geoms))
		ids := make([]int64, end-start)
		for i := range ids {
			ids[i] = int64(start + i)
		}
		pages = append(pages, page.MustNewPage(
			page.NewLongBlock(ids, nil),
			page.NewGeometryBlock(geoms[start:end]),
		))
	}
	return pages
}

// Partition deals pages round-robin into n partitions.
func Partition(pages []*page.Page, n int) [][]*page.Page {
	if n <= 0 {
		n = 1
	}
	parts := make([][]*page.Page, n)
	for i, p := range pages {
		parts[i%n] = append(parts[i%n], p)
	}
	return parts
}

// NestedLoopJoin returns every (probe, build) index pair satisfying rel,
// sorted by probe then build. It is the brute-force reference for index
// based joins.
func NestedLoopJoin(build, probe []*geometry.Geometry, rel spatial.Relation, radius float64) []Pair {
	var pairs []Pair
	for p, pg := range probe {
		if pg == nil || pg.IsEmpty() {
			continue
		}
		for b, bg := range build {
			if bg == nil || bg.IsEmpty() {
				continue
			}
			if rel.Matches(bg, pg, radius) {
				pairs = append(pairs, Pair{Probe: int64(p), Build: int64(b)})
			}
		}
	}
	return pairs
}

// CollectPairs reads (probe id, build id) pairs from pages whose channels
// probeChannel and buildChannel hold bigint ids. The result is sorted.
func CollectPairs(pages []*page.Page, probeChannel, buildChannel int) []Pair {
	var pairs []Pair
	for _, p := range pages {
		for pos := range p.PositionCount() {
			probe, _ := page.ValueAt[int64](p.Block(probeChannel), pos)
			build, _ := page.ValueAt[int64](p.Block(buildChannel), pos)
			pairs = append(pairs, Pair{Probe: probe, Build: build})
		}
	}
	SortPairs(pairs)
	return pairs
}

// SortPairs orders pairs by probe then build.
func SortPairs(pairs []Pair) {
	slices.SortFunc(pairs, func(a, b Pair) int {
		if a.Probe != b.Probe {
			return cmpInt64(a.Probe, b.Probe)
		}
		return cmpInt64(a.Build, b.Build)
	})
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
