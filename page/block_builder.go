package page

import "github.com/hupe1980/geojoin/geometry"

// BlockBuilder accumulates the values of one output channel.
type BlockBuilder interface {
	Type() Type
	PositionCount() int
	AppendNull()
	SizeInBytes() int64
	// Build returns the accumulated values as a Block.
	// The builder must be Reset before it is reused.
	Build() Block
	Reset()
}

// ValueBlockBuilder builds a ValueBlock[T].
type ValueBlockBuilder[T any] struct {
	typ      Type
	values   []T
	nulls    []bool
	hasNull  bool
	size     int64
	sizeOf   func(T) int64
	expected int
}

// Typed builder aliases.
type (
	LongBlockBuilder     = ValueBlockBuilder[int64]
	DoubleBlockBuilder   = ValueBlockBuilder[float64]
	BooleanBlockBuilder  = ValueBlockBuilder[bool]
	VarcharBlockBuilder  = ValueBlockBuilder[string]
	GeometryBlockBuilder = ValueBlockBuilder[*geometry.Geometry]
)

func newValueBlockBuilder[T any](typ Type, expected int, sizeOf func(T) int64) *ValueBlockBuilder[T] {
	return &ValueBlockBuilder[T]{
		typ:      typ,
		values:   make([]T, 0, expected),
		nulls:    make([]bool, 0, expected),
		sizeOf:   sizeOf,
		expected: expected,
	}
}

// Append adds a non-null value.
func (b *ValueBlockBuilder[T]) Append(v T) {
	b.values = append(b.values, v)
	b.nulls = append(b.nulls, false)
	b.size += b.sizeOf(v) + 1
}

// AppendNull implements BlockBuilder.
func (b *ValueBlockBuilder[T]) AppendNull() {
	var zero T
	b.values = append(b.values, zero)
	b.nulls = append(b.nulls, true)
	b.hasNull = true
	b.size++
}

// Type implements BlockBuilder.
func (b *ValueBlockBuilder[T]) Type() Type { return b.typ }

// PositionCount implements BlockBuilder.
func (b *ValueBlockBuilder[T]) PositionCount() int { return len(b.values) }

// SizeInBytes implements BlockBuilder.
func (b *ValueBlockBuilder[T]) SizeInBytes() int64 { return b.size }

// Build implements BlockBuilder.
func (b *ValueBlockBuilder[T]) Build() Block {
	vb := &ValueBlock[T]{typ: b.typ, values: b.values, size: b.size}
	if b.hasNull {
		vb.nulls = b.nulls
	}
	return vb
}

// Reset implements BlockBuilder. Built blocks keep their backing arrays.
func (b *ValueBlockBuilder[T]) Reset() {
	b.values = make([]T, 0, b.expected)
	b.nulls = make([]bool, 0, b.expected)
	b.hasNull = false
	b.size = 0
}
