// Package testutil provides testing utilities for geojoin.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating random geometries, packing them into
// pages, and computing exact join results by brute force.
//
// # Random Geometry Generation
//
//	rng := testutil.NewRNG(seed)
//	pts := rng.UniformPoints(1000, 100)        // points in [0,100)²
//	boxes := rng.UniformBoxes(50, 100, 10)     // boxes with edges up to 10
//	hot := rng.ClusteredPoints(1000, 100, 8, 1) // Zipf-skewed clusters
//
// # Pages
//
//	pages := testutil.GeometryPages(pts, 256) // (id bigint, geom geometry) pages
//	parts := testutil.Partition(pages, 4)
//
// # Exact Join (Ground Truth)
//
//	pairs := testutil.NestedLoopJoin(buildGeoms, probeGeoms, spatial.Intersects, 0)
package testutil
