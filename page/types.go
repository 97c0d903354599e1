package page

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/geojoin/geometry"
)

// Type identifies the value type of a channel.
type Type uint8

// Supported value types.
const (
	TypeUnknown Type = iota
	TypeBigint
	TypeDouble
	TypeBoolean
	TypeVarchar
	TypeGeometry
)

// ErrUnknownType is returned when a type name cannot be resolved.
var ErrUnknownType = errors.New("unknown type")

// String returns the SQL-ish name of the type.
func (t Type) String() string {
	switch t {
	case TypeBigint:
		return "bigint"
	case TypeDouble:
		return "double"
	case TypeBoolean:
		return "boolean"
	case TypeVarchar:
		return "varchar"
	case TypeGeometry:
		return "geometry"
	default:
		return "unknown"
	}
}

// ParseType resolves a type by name (case-insensitive).
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bigint", "int", "long":
		return TypeBigint, nil
	case "double", "float":
		return TypeDouble, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	case "varchar", "string", "text":
		return TypeVarchar, nil
	case "geometry", "wkt":
		return TypeGeometry, nil
	default:
		return TypeUnknown, errors.Wrapf(ErrUnknownType, "%q", name)
	}
}

// NewBlockBuilder returns an empty builder for values of this type.
func (t Type) NewBlockBuilder(expectedEntries int) BlockBuilder {
	switch t {
	case TypeBigint:
		return newValueBlockBuilder[int64](t, expectedEntries, fixedSize[int64](8))
	case TypeDouble:
		return newValueBlockBuilder[float64](t, expectedEntries, fixedSize[float64](8))
	case TypeBoolean:
		return newValueBlockBuilder[bool](t, expectedEntries, fixedSize[bool](1))
	case TypeVarchar:
		return newValueBlockBuilder[string](t, expectedEntries, varcharSize)
	case TypeGeometry:
		return newValueBlockBuilder[*geometry.Geometry](t, expectedEntries, geometrySize)
	default:
		panic(errors.AssertionFailedf("no block builder for type %s", t))
	}
}

// AppendTo copies the value at position of block into bb.
// block and bb must both hold values of type t.
func (t Type) AppendTo(block Block, position int, bb BlockBuilder) {
	if block.IsNull(position) {
		bb.AppendNull()
		return
	}
	switch t {
	case TypeBigint:
		appendValue[int64](block, position, bb)
	case TypeDouble:
		appendValue[float64](block, position, bb)
	case TypeBoolean:
		appendValue[bool](block, position, bb)
	case TypeVarchar:
		appendValue[string](block, position, bb)
	case TypeGeometry:
		appendValue[*geometry.Geometry](block, position, bb)
	default:
		panic(errors.AssertionFailedf("cannot append values of type %s", t))
	}
}

// Format renders the value at position as text. Nulls render as "NULL".
func (t Type) Format(block Block, position int) string {
	if block.IsNull(position) {
		return "NULL"
	}
	switch t {
	case TypeBigint:
		return strconv.FormatInt(block.(*LongBlock).Value(position), 10)
	case TypeDouble:
		return strconv.FormatFloat(block.(*DoubleBlock).Value(position), 'g', -1, 64)
	case TypeBoolean:
		return strconv.FormatBool(block.(*BooleanBlock).Value(position))
	case TypeVarchar:
		return block.(*VarcharBlock).Value(position)
	case TypeGeometry:
		return block.(*GeometryBlock).Value(position).WKT()
	default:
		return "?"
	}
}

func appendValue[T any](block Block, position int, bb BlockBuilder) {
	bb.(*ValueBlockBuilder[T]).Append(block.(*ValueBlock[T]).Value(position))
}

func fixedSize[T any](n int64) func(T) int64 {
	return func(T) int64 { return n }
}

func varcharSize(s string) int64 { return 16 + int64(len(s)) }

func geometrySize(g *geometry.Geometry) int64 {
	if g == nil {
		return 8
	}
	return 8 + g.SizeInBytes()
}
