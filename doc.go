// Package geojoin provides a vectorized spatial join for pull-based
// columnar pipelines.
//
// The build side is indexed once and shared by any number of probe
// operators. Each probe operator streams probe pages through the index and
// emits one output row per matching (probe, build) pair. Probe operators
// yield cooperatively, resume mid-page, and account for the memory their
// lookups retain.
//
// # Quick Start
//
//	j, _ := geojoin.New(geojoin.Config{
//	    BuildTypes:           []page.Type{page.TypeVarchar, page.TypeGeometry},
//	    BuildGeometryChannel: 1,
//	    BuildOutputChannels:  []int{0},
//	    RadiusChannel:        geojoin.NoChannel,
//	    ProbeTypes:           []page.Type{page.TypeBigint, page.TypeGeometry},
//	    ProbeGeometryChannel: 1,
//	    ProbeOutputChannels:  []int{0},
//	    Relation:             geojoin.Contains,
//	})
//
//	res, _ := j.Execute(ctx, [][]*page.Page{zones}, [][]*page.Page{points})
//	for _, p := range res.Pages() {
//	    // (point id, zone name) rows
//	}
//
// # Relations
//
//	geojoin.Intersects     // build and probe share a point
//	geojoin.Contains       // build contains probe
//	geojoin.Within         // build lies within probe
//	geojoin.WithinDistance // distance(build, probe) <= radius
//
// The radius of WithinDistance is either constant (Config.Radius) or read
// from a double build channel (Config.RadiusChannel).
//
// # Partitions
//
// Execute runs one driver per build partition and one per probe partition,
// all concurrently. Output pages are returned per probe partition; within a
// partition they follow probe row order and, for each probe row, index
// order.
//
// # Resource Limits
//
//	j, _ := geojoin.New(cfg,
//	    geojoin.WithMemoryLimit(64<<20),    // index plus in-flight lookups
//	    geojoin.WithMaxConcurrentBuilds(2), // background index builds
//	    geojoin.WithQuantum(50*time.Millisecond),
//	)
//
// Exceeding the memory limit fails the join with ErrMemoryLimitExceeded.
//
// # Observability
//
//	metrics := &geojoin.BasicMetricsCollector{}
//	j, _ := geojoin.New(cfg,
//	    geojoin.WithLogger(geojoin.NewJSONLogger(slog.LevelInfo)),
//	    geojoin.WithMetricsCollector(metrics),
//	)
//
// The metrics package provides a Prometheus collector.
//
// # Lower-level API
//
// The page, spatial, operator and driver packages expose the building
// blocks Execute is assembled from: columnar pages, the shared index
// factory, the pull-based operators, and the cooperative driver loop.
package geojoin
