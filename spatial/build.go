package spatial

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/geojoin/geometry"
	"github.com/hupe1980/geojoin/page"
)

// ErrIndexBuild marks failures while building an index.
var ErrIndexBuild = errors.New("spatial index build failed")

// BuildOptions tunes index construction.
type BuildOptions struct {
	// CellSize is the grid cell edge length. If 0, it is derived from the
	// extent and the number of rows.
	CellSize float64

	// MaxCellsPerEntry is the number of cells a row may cover before it is
	// moved to the overflow set.
	MaxCellsPerEntry int

	// BTreeDegree is the degree of the cell directory.
	BTreeDegree int

	// Concurrency bounds the number of pages decoded in parallel.
	Concurrency int

	// Logger receives build progress. Nil disables logging.
	Logger *slog.Logger
}

// DefaultBuildOptions are used when no options are given.
var DefaultBuildOptions = BuildOptions{
	MaxCellsPerEntry: 256,
	BTreeDegree:      16,
}

// Build indexes the rows of pages according to cfg.
//
// Rows with a null or empty geometry, or with a null, negative or NaN radius,
// are not indexed.
func Build(ctx context.Context, pages []*page.Page, cfg BuildConfig, optFns ...func(o *BuildOptions)) (*GridIndex, error) {
	opts := DefaultBuildOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxCellsPerEntry <= 0 {
		opts.MaxCellsPerEntry = DefaultBuildOptions.MaxCellsPerEntry
	}
	if opts.BTreeDegree < 2 {
		opts.BTreeDegree = DefaultBuildOptions.BTreeDegree
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexBuild, err)
	}

	start := time.Now()

	perPage := make([][]entry, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, p := range pages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := p.CheckTypes(cfg.Types); err != nil {
				return errors.Wrapf(err, "build page %d", i)
			}
			perPage[i] = extractEntries(int32(i), p, &cfg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexBuild, err)
	}

	var n int
	for _, es := range perPage {
		n += len(es)
	}
	if uint64(n) > math.MaxUint32 {
		return nil, errors.Wrapf(ErrIndexBuild, "too many rows: %d", n)
	}
	entries := make([]entry, 0, n)
	for _, es := range perPage {
		entries = append(entries, es...)
	}

	idx := newGridIndex(cfg, pages, entries, opts)

	if opts.Logger != nil {
		opts.Logger.Debug("spatial index built",
			slog.Int("pages", len(pages)),
			slog.Int("rows", len(entries)),
			slog.Int("cells", idx.CellCount()),
			slog.Int("overflow", idx.OverflowCount()),
			slog.Float64("cell_size", idx.cellSize),
			slog.Int64("size_bytes", idx.SizeInBytes()),
			slog.Duration("duration", time.Since(start)),
		)
	}
	return idx, nil
}

func extractEntries(pageIdx int32, p *page.Page, cfg *BuildConfig) []entry {
	geoms := p.Block(cfg.GeometryChannel)
	var radii page.Block
	if cfg.RadiusChannel != NoChannel {
		radii = p.Block(cfg.RadiusChannel)
	}

	entries := make([]entry, 0, p.PositionCount())
	for pos := range p.PositionCount() {
		g, ok := page.ValueAt[*geometry.Geometry](geoms, pos)
		if !ok || g == nil || g.IsEmpty() {
			continue
		}
		radius := cfg.Radius
		if radii != nil {
			r, ok := page.ValueAt[float64](radii, pos)
			if !ok || r < 0 || math.IsNaN(r) {
				continue
			}
			radius = r
		}
		bounds := g.Bounds()
		if cfg.Relation == WithinDistance {
			bounds = bounds.ExpandedByMargin(radius)
		}
		entries = append(entries, entry{
			page:   pageIdx,
			pos:    int32(pos),
			geom:   g,
			bounds: bounds,
			radius: radius,
		})
	}
	return entries
}
