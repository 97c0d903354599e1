package page

import (
	"github.com/cockroachdb/errors"
)

// BuilderOptions bounds the pages produced by a PageBuilder.
type BuilderOptions struct {
	// MaxPositions is the number of positions at which the builder is full.
	MaxPositions int

	// MaxBytes is the retained size at which the builder is full.
	MaxBytes int64
}

// DefaultBuilderOptions are used when no options are given.
var DefaultBuilderOptions = BuilderOptions{
	MaxPositions: 1024,
	MaxBytes:     1 << 20,
}

// PageBuilder accumulates rows channel by channel.
//
// Callers declare a position, then append exactly one value to every
// channel's BlockBuilder. Once IsFull reports true the builder must be built
// and reset before more positions are declared.
type PageBuilder struct {
	types             []Type
	builders          []BlockBuilder
	declaredPositions int
	opts              BuilderOptions
}

// NewPageBuilder returns an empty builder for the given channel types.
func NewPageBuilder(types []Type, optFns ...func(o *BuilderOptions)) *PageBuilder {
	opts := DefaultBuilderOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxPositions <= 0 {
		opts.MaxPositions = DefaultBuilderOptions.MaxPositions
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultBuilderOptions.MaxBytes
	}

	pb := &PageBuilder{
		types:    append([]Type(nil), types...),
		builders: make([]BlockBuilder, len(types)),
		opts:     opts,
	}
	for i, t := range types {
		pb.builders[i] = t.NewBlockBuilder(opts.MaxPositions)
	}
	return pb
}

// Types returns the channel types.
func (pb *PageBuilder) Types() []Type { return pb.types }

// Options returns the capacity policy.
func (pb *PageBuilder) Options() BuilderOptions { return pb.opts }

// DeclarePosition starts a new row.
func (pb *PageBuilder) DeclarePosition() { pb.declaredPositions++ }

// BlockBuilder returns the builder of a channel.
func (pb *PageBuilder) BlockBuilder(channel int) BlockBuilder { return pb.builders[channel] }

// PositionCount returns the number of declared positions.
func (pb *PageBuilder) PositionCount() int { return pb.declaredPositions }

// IsEmpty reports whether no position has been declared.
func (pb *PageBuilder) IsEmpty() bool { return pb.declaredPositions == 0 }

// IsFull reports whether the capacity policy is exhausted.
func (pb *PageBuilder) IsFull() bool {
	return pb.declaredPositions >= pb.opts.MaxPositions || pb.SizeInBytes() >= pb.opts.MaxBytes
}

// SizeInBytes returns the retained size of all channel builders.
func (pb *PageBuilder) SizeInBytes() int64 {
	var size int64
	for _, b := range pb.builders {
		size += b.SizeInBytes()
	}
	return size
}

// Build returns the accumulated rows as a Page.
// Every channel must hold exactly one value per declared position.
func (pb *PageBuilder) Build() (*Page, error) {
	if len(pb.builders) == 0 {
		return NewEmptyPage(pb.declaredPositions), nil
	}
	blocks := make([]Block, len(pb.builders))
	for i, b := range pb.builders {
		if b.PositionCount() != pb.declaredPositions {
			return nil, errors.AssertionFailedf(
				"channel %d has %d values, %d positions declared", i, b.PositionCount(), pb.declaredPositions)
		}
		blocks[i] = b.Build()
	}
	return &Page{blocks: blocks, positionCount: pb.declaredPositions}, nil
}

// Reset empties the builder. Pages built earlier are not affected.
func (pb *PageBuilder) Reset() {
	for _, b := range pb.builders {
		b.Reset()
	}
	pb.declaredPositions = 0
}
