// Package page implements the columnar data unit moved between operators.
//
// A Page is an immutable, positionally addressed set of Blocks that all hold
// the same number of positions. Operators produce pages through a PageBuilder,
// which bounds the page by position count and byte size.
//
//	pb := page.NewPageBuilder([]page.Type{page.TypeBigint, page.TypeVarchar})
//	pb.DeclarePosition()
//	pb.BlockBuilder(0).(*page.LongBlockBuilder).Append(42)
//	pb.BlockBuilder(1).(*page.VarcharBlockBuilder).Append("answer")
//	p, err := pb.Build()
package page

import (
	"github.com/cockroachdb/errors"
)

// ErrPositionCountMismatch is returned when blocks of a page disagree on length.
var ErrPositionCountMismatch = errors.New("block position counts differ")

// Page is an immutable set of equally sized blocks.
type Page struct {
	blocks        []Block
	positionCount int
}

// NewPage returns a page over blocks. All blocks must have the same position count.
func NewPage(blocks ...Block) (*Page, error) {
	if len(blocks) == 0 {
		return &Page{}, nil
	}
	n := blocks[0].PositionCount()
	for i, b := range blocks[1:] {
		if b.PositionCount() != n {
			return nil, errors.Wrapf(ErrPositionCountMismatch, "channel %d has %d positions, channel 0 has %d", i+1, b.PositionCount(), n)
		}
	}
	return &Page{blocks: blocks, positionCount: n}, nil
}

// MustNewPage is like NewPage but panics on error. Intended for tests and fixtures.
func MustNewPage(blocks ...Block) *Page {
	p, err := NewPage(blocks...)
	if err != nil {
		panic(err)
	}
	return p
}

// NewEmptyPage returns a page with positionCount positions and no channels.
func NewEmptyPage(positionCount int) *Page {
	return &Page{positionCount: positionCount}
}

// PositionCount returns the number of rows.
func (p *Page) PositionCount() int { return p.positionCount }

// ChannelCount returns the number of blocks.
func (p *Page) ChannelCount() int { return len(p.blocks) }

// Block returns the block of a channel.
func (p *Page) Block(channel int) Block { return p.blocks[channel] }

// Types returns the type of each channel.
func (p *Page) Types() []Type {
	types := make([]Type, len(p.blocks))
	for i, b := range p.blocks {
		types[i] = b.Type()
	}
	return types
}

// SizeInBytes approximates the retained size of all blocks.
func (p *Page) SizeInBytes() int64 {
	var size int64
	for _, b := range p.blocks {
		size += b.SizeInBytes()
	}
	return size
}

// CheckTypes verifies that the page has exactly the given channel types.
func (p *Page) CheckTypes(types []Type) error {
	if len(p.blocks) != len(types) {
		return errors.Newf("page has %d channels, expected %d", len(p.blocks), len(types))
	}
	for i, b := range p.blocks {
		if b.Type() != types[i] {
			return errors.Newf("channel %d has type %s, expected %s", i, b.Type(), types[i])
		}
	}
	return nil
}
