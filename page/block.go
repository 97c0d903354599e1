package page

import (
	"github.com/hupe1980/geojoin/geometry"
)

// Block is a read-only column of a Page.
type Block interface {
	// Type returns the value type of the block.
	Type() Type
	// PositionCount returns the number of values, including nulls.
	PositionCount() int
	// IsNull reports whether the value at position is null.
	IsNull(position int) bool
	// SizeInBytes approximates the retained size of the block.
	SizeInBytes() int64
}

// ValueBlock is a Block backed by a slice of T.
type ValueBlock[T any] struct {
	typ    Type
	values []T
	nulls  []bool // nil when the block has no nulls
	size   int64
}

// Typed block aliases.
type (
	LongBlock     = ValueBlock[int64]
	DoubleBlock   = ValueBlock[float64]
	BooleanBlock  = ValueBlock[bool]
	VarcharBlock  = ValueBlock[string]
	GeometryBlock = ValueBlock[*geometry.Geometry]
)

// NewLongBlock returns a bigint block. nulls may be nil.
func NewLongBlock(values []int64, nulls []bool) *LongBlock {
	return newValueBlock(TypeBigint, values, nulls, fixedSize[int64](8))
}

// NewDoubleBlock returns a double block. nulls may be nil.
func NewDoubleBlock(values []float64, nulls []bool) *DoubleBlock {
	return newValueBlock(TypeDouble, values, nulls, fixedSize[float64](8))
}

// NewBooleanBlock returns a boolean block. nulls may be nil.
func NewBooleanBlock(values []bool, nulls []bool) *BooleanBlock {
	return newValueBlock(TypeBoolean, values, nulls, fixedSize[bool](1))
}

// NewVarcharBlock returns a varchar block. nulls may be nil.
func NewVarcharBlock(values []string, nulls []bool) *VarcharBlock {
	return newValueBlock(TypeVarchar, values, nulls, varcharSize)
}

// NewGeometryBlock returns a geometry block. Nil geometries are nulls.
func NewGeometryBlock(values []*geometry.Geometry) *GeometryBlock {
	var nulls []bool
	for i, g := range values {
		if g == nil {
			if nulls == nil {
				nulls = make([]bool, len(values))
			}
			nulls[i] = true
		}
	}
	return newValueBlock(TypeGeometry, values, nulls, geometrySize)
}

func newValueBlock[T any](typ Type, values []T, nulls []bool, sizeOf func(T) int64) *ValueBlock[T] {
	if nulls != nil && len(nulls) != len(values) {
		panic("page: nulls and values differ in length")
	}
	b := &ValueBlock[T]{typ: typ, values: values, nulls: nulls}
	for i, v := range values {
		if nulls == nil || !nulls[i] {
			b.size += sizeOf(v)
		}
	}
	b.size += int64(len(nulls))
	return b
}

// Type implements Block.
func (b *ValueBlock[T]) Type() Type { return b.typ }

// PositionCount implements Block.
func (b *ValueBlock[T]) PositionCount() int { return len(b.values) }

// IsNull implements Block.
func (b *ValueBlock[T]) IsNull(position int) bool {
	return b.nulls != nil && b.nulls[position]
}

// SizeInBytes implements Block.
func (b *ValueBlock[T]) SizeInBytes() int64 { return b.size }

// Value returns the value at position. The result is the zero value for nulls.
func (b *ValueBlock[T]) Value(position int) T { return b.values[position] }

// ValueAt returns the value at position of block if it is non-null and of type T.
func ValueAt[T any](block Block, position int) (T, bool) {
	var zero T
	vb, ok := block.(*ValueBlock[T])
	if !ok || vb.IsNull(position) {
		return zero, false
	}
	return vb.values[position], true
}
