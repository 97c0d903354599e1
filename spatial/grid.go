package spatial

import (
	"math"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/golang/geo/r2"
	"github.com/google/btree"

	"github.com/hupe1980/geojoin/geometry"
	"github.com/hupe1980/geojoin/page"
)

// cellKey orders cells row-major so one row is a contiguous btree range.
type cellKey struct {
	y, x int32
}

func (k cellKey) less(o cellKey) bool {
	if k.y != o.y {
		return k.y < o.y
	}
	return k.x < o.x
}

type gridCell struct {
	key     cellKey
	members *roaring.Bitmap
}

// entry is one indexed build row.
type entry struct {
	page   int32
	pos    int32
	geom   *geometry.Geometry
	bounds r2.Rect // expanded by radius
	radius float64
}

var bitmapPool = sync.Pool{
	New: func() any { return roaring.New() },
}

// GridIndex is a uniform grid over the extent of the build geometries.
//
// Only occupied cells are stored, keyed in a btree. Geometries whose bounds
// cover more than MaxCellsPerEntry cells are kept in an overflow set that
// every lookup scans.
type GridIndex struct {
	cfg         BuildConfig
	outputTypes []page.Type

	pages   []*page.Page
	entries []entry

	extent   r2.Rect
	cellSize float64
	nx, ny   int32

	cells    *btree.BTreeG[*gridCell]
	overflow *roaring.Bitmap

	size int64
}

var _ Index = (*GridIndex)(nil)

func newGridIndex(cfg BuildConfig, pages []*page.Page, entries []entry, opts BuildOptions) *GridIndex {
	idx := &GridIndex{
		cfg:         cfg,
		outputTypes: cfg.OutputTypes(),
		pages:       pages,
		entries:     entries,
		extent:      r2.EmptyRect(),
		cells: btree.NewG(opts.BTreeDegree, func(a, b *gridCell) bool {
			return a.key.less(b.key)
		}),
		overflow: roaring.New(),
	}

	for i := range entries {
		idx.extent = idx.extent.AddRect(entries[i].bounds)
	}
	if len(entries) == 0 {
		idx.computeSize()
		return idx
	}

	idx.cellSize = chooseCellSize(idx.extent, len(entries), opts.CellSize)
	idx.nx = gridDim(idx.extent.X.Length(), idx.cellSize)
	idx.ny = gridDim(idx.extent.Y.Length(), idx.cellSize)

	probe := &gridCell{}
	for id := range entries {
		x0, y0, x1, y1 := idx.cellRange(entries[id].bounds)
		if int(x1-x0+1)*int(y1-y0+1) > opts.MaxCellsPerEntry {
			idx.overflow.Add(uint32(id))
			continue
		}
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				probe.key = cellKey{y: y, x: x}
				c, ok := idx.cells.Get(probe)
				if !ok {
					c = &gridCell{key: probe.key, members: roaring.New()}
					idx.cells.ReplaceOrInsert(c)
				}
				c.members.Add(uint32(id))
			}
		}
	}
	idx.cells.Ascend(func(c *gridCell) bool {
		c.members.RunOptimize()
		return true
	})
	idx.computeSize()
	return idx
}

// maxGridDim bounds the cells per axis, and with it the directory rows one
// lookup visits.
const maxGridDim = 1 << 12

func chooseCellSize(extent r2.Rect, n int, explicit float64) float64 {
	w, h := extent.X.Length(), extent.Y.Length()
	size := explicit
	if !(size > 0) || math.IsInf(size, 1) {
		size = math.Sqrt(w * h / float64(n))
		if size == 0 || math.IsNaN(size) {
			size = math.Max(w, h) / float64(n)
		}
	}
	if minSize := math.Max(w, h) / maxGridDim; size < minSize {
		size = minSize
	}
	if size == 0 || math.IsNaN(size) || math.IsInf(size, 0) {
		size = 1
	}
	return size
}

func gridDim(length, cellSize float64) int32 {
	d := math.Floor(length/cellSize) + 1
	if d > maxGridDim {
		return maxGridDim
	}
	return int32(d)
}

// cellRange returns the inclusive cell range covered by r, clamped to the grid.
func (idx *GridIndex) cellRange(r r2.Rect) (x0, y0, x1, y1 int32) {
	cell := func(v, lo float64, n int32) int32 {
		c := math.Floor((v - lo) / idx.cellSize)
		if c < 0 {
			return 0
		}
		if c >= float64(n) {
			return n - 1
		}
		return int32(c)
	}
	x0 = cell(r.X.Lo, idx.extent.X.Lo, idx.nx)
	x1 = cell(r.X.Hi, idx.extent.X.Lo, idx.nx)
	y0 = cell(r.Y.Lo, idx.extent.Y.Lo, idx.ny)
	y1 = cell(r.Y.Hi, idx.extent.Y.Lo, idx.ny)
	return x0, y0, x1, y1
}

func (idx *GridIndex) computeSize() {
	size := int64(len(idx.entries)) * 64
	for _, p := range idx.pages {
		size += p.SizeInBytes()
	}
	idx.cells.Ascend(func(c *gridCell) bool {
		size += 48 + int64(c.members.GetSizeInBytes())
		return true
	})
	size += int64(idx.overflow.GetSizeInBytes())
	idx.size = size
}

// FindCandidates implements Index. Candidates are the rows whose bounds
// overlap the probe bounds and that satisfy the relation, in build order.
func (idx *GridIndex) FindCandidates(dst []int, position int, probe *page.Page, geometryChannel int) []int {
	dst = dst[:0]
	g, ok := page.ValueAt[*geometry.Geometry](probe.Block(geometryChannel), position)
	if !ok || g == nil || g.IsEmpty() || len(idx.entries) == 0 {
		return dst
	}
	r := g.Bounds()
	if !idx.extent.Intersects(r) {
		return dst
	}

	bm := bitmapPool.Get().(*roaring.Bitmap)
	defer func() {
		bm.Clear()
		bitmapPool.Put(bm)
	}()
	bm.Or(idx.overflow)

	x0, y0, x1, y1 := idx.cellRange(r)
	lo, hi := &gridCell{}, &gridCell{}
	for y := y0; y <= y1; y++ {
		lo.key = cellKey{y: y, x: x0}
		hi.key = cellKey{y: y, x: x1 + 1}
		idx.cells.AscendRange(lo, hi, func(c *gridCell) bool {
			bm.Or(c.members)
			return true
		})
	}

	it := bm.Iterator()
	for it.HasNext() {
		id := int(it.Next())
		e := &idx.entries[id]
		if e.bounds.Intersects(r) && idx.cfg.Relation.Matches(e.geom, g, e.radius) {
			dst = append(dst, id)
		}
	}
	return dst
}

// IsEligible implements Index. Candidates already satisfy the spatial
// relation; only the join filter remains.
func (idx *GridIndex) IsEligible(candidate, position int, probe *page.Page) bool {
	if idx.cfg.Filter == nil {
		return true
	}
	e := &idx.entries[candidate]
	return idx.cfg.Filter(idx.pages[e.page], int(e.pos), probe, position)
}

// AppendTo implements Index.
func (idx *GridIndex) AppendTo(candidate int, pb *page.PageBuilder, outputChannelOffset int) {
	e := &idx.entries[candidate]
	src := idx.pages[e.page]
	for i, ch := range idx.cfg.OutputChannels {
		idx.outputTypes[i].AppendTo(src.Block(ch), int(e.pos), pb.BlockBuilder(outputChannelOffset+i))
	}
}

// OutputTypes implements Index.
func (idx *GridIndex) OutputTypes() []page.Type { return idx.outputTypes }

// PositionCount implements Index.
func (idx *GridIndex) PositionCount() int { return len(idx.entries) }

// SizeInBytes implements Index.
func (idx *GridIndex) SizeInBytes() int64 { return idx.size }

// CellCount returns the number of occupied grid cells.
func (idx *GridIndex) CellCount() int { return idx.cells.Len() }

// OverflowCount returns the number of rows scanned by every lookup.
func (idx *GridIndex) OverflowCount() int { return int(idx.overflow.GetCardinality()) }
