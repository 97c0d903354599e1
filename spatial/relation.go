package spatial

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/geojoin/geometry"
)

// Relation is the spatial predicate joining a build row to a probe row.
type Relation uint8

const (
	// Intersects matches when the geometries share at least one point.
	Intersects Relation = iota
	// Contains matches when the build geometry contains the probe geometry.
	Contains
	// Within matches when the build geometry lies within the probe geometry.
	Within
	// WithinDistance matches when the geometries are at most the radius apart.
	WithinDistance
)

// String returns the relation name.
func (r Relation) String() string {
	switch r {
	case Intersects:
		return "intersects"
	case Contains:
		return "contains"
	case Within:
		return "within"
	case WithinDistance:
		return "within_distance"
	default:
		return "unknown"
	}
}

// ParseRelation resolves a relation by name (case-insensitive).
func ParseRelation(name string) (Relation, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_") {
	case "intersects", "st_intersects":
		return Intersects, nil
	case "contains", "st_contains":
		return Contains, nil
	case "within", "st_within":
		return Within, nil
	case "within_distance", "distance", "st_dwithin":
		return WithinDistance, nil
	default:
		return Intersects, errors.Newf("unknown spatial relation %q", name)
	}
}

// Matches evaluates the exact relation between a build and a probe geometry.
func (r Relation) Matches(build, probe *geometry.Geometry, radius float64) bool {
	switch r {
	case Intersects:
		return geometry.Intersects(build, probe)
	case Contains:
		return geometry.Contains(build, probe)
	case Within:
		return geometry.Within(build, probe)
	case WithinDistance:
		return geometry.WithinDistance(build, probe, radius)
	default:
		return false
	}
}
