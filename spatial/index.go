// Package spatial provides the spatial index consulted by the join probe
// operator and the factory that shares one index among many operators.
//
// The index answers two questions for a probe row: which build rows might
// match (FindCandidates, a bounding-box scan refined by the spatial relation)
// and whether a given candidate truly matches (IsEligible, the optional
// non-spatial join filter).
package spatial

import (
	"github.com/cockroachdb/errors"

	"github.com/hupe1980/geojoin/page"
)

// NoChannel marks an unused channel reference.
const NoChannel = -1

// Index is a read-only spatial index over build-side rows.
// Implementations must be safe for concurrent use once published.
type Index interface {
	// FindCandidates appends to dst[:0] the build rows that might match the
	// probe row at position and returns the result. The probe geometry is
	// read from geometryChannel.
	FindCandidates(dst []int, position int, probe *page.Page, geometryChannel int) []int

	// IsEligible reports whether candidate truly matches the probe row.
	IsEligible(candidate, position int, probe *page.Page) bool

	// AppendTo writes the build output channels of candidate into pb,
	// starting at outputChannelOffset. The caller declares the position.
	AppendTo(candidate int, pb *page.PageBuilder, outputChannelOffset int)

	// OutputTypes returns the types written by AppendTo.
	OutputTypes() []page.Type

	// PositionCount returns the number of indexed build rows.
	PositionCount() int

	// SizeInBytes approximates the retained size of the index.
	SizeInBytes() int64
}

// JoinFilter is an additional non-spatial predicate evaluated for each
// spatially matching pair.
type JoinFilter func(build *page.Page, buildPosition int, probe *page.Page, probePosition int) bool

// BuildConfig describes the build side of a spatial join.
type BuildConfig struct {
	// Types are the channel types of the build pages.
	Types []page.Type

	// GeometryChannel holds the build geometry.
	GeometryChannel int

	// RadiusChannel holds a per-row double radius for WithinDistance,
	// or NoChannel to use Radius.
	RadiusChannel int

	// Radius is the constant radius for WithinDistance.
	Radius float64

	// OutputChannels are the build channels emitted for each match.
	OutputChannels []int

	// Relation is the spatial predicate.
	Relation Relation

	// Filter is an optional non-spatial predicate.
	Filter JoinFilter
}

// Validate checks channel references against Types.
func (c *BuildConfig) Validate() error {
	if c.GeometryChannel < 0 || c.GeometryChannel >= len(c.Types) {
		return errors.Newf("geometry channel %d out of range [0,%d)", c.GeometryChannel, len(c.Types))
	}
	if c.Types[c.GeometryChannel] != page.TypeGeometry {
		return errors.Newf("geometry channel %d has type %s", c.GeometryChannel, c.Types[c.GeometryChannel])
	}
	if c.Relation > WithinDistance {
		return errors.Newf("unknown relation %d", c.Relation)
	}
	if c.RadiusChannel != NoChannel {
		if c.Relation != WithinDistance {
			return errors.Newf("radius channel requires %s, relation is %s", WithinDistance, c.Relation)
		}
		if c.RadiusChannel < 0 || c.RadiusChannel >= len(c.Types) {
			return errors.Newf("radius channel %d out of range [0,%d)", c.RadiusChannel, len(c.Types))
		}
		if c.Types[c.RadiusChannel] != page.TypeDouble {
			return errors.Newf("radius channel %d has type %s, expected double", c.RadiusChannel, c.Types[c.RadiusChannel])
		}
	}
	if c.Radius < 0 {
		return errors.Newf("negative radius %g", c.Radius)
	}
	for _, ch := range c.OutputChannels {
		if ch < 0 || ch >= len(c.Types) {
			return errors.Newf("output channel %d out of range [0,%d)", ch, len(c.Types))
		}
	}
	return nil
}

// OutputTypes returns the types of OutputChannels.
func (c *BuildConfig) OutputTypes() []page.Type {
	types := make([]page.Type, len(c.OutputChannels))
	for i, ch := range c.OutputChannels {
		types[i] = c.Types[ch]
	}
	return types
}
