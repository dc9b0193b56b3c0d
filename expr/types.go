// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package expr

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/dchest/siphash"
	"golang.org/x/exp/slices"
)

// Kind is the scalar (or composite) kind of a Type,
// independent of its nullability.
type Kind int

const (
	// Poison is the error kind substituted when type
	// derivation fails; it suppresses cascading
	// diagnostics downstream (see Common).
	Poison Kind = iota
	Bool
	Int16
	Int32
	Int64
	Float32
	Float64
	Decimal
	String
	Bytes
	Date
	Time
	Timestamp
	// Row is the composite kind: an ordered sequence
	// of named, typed fields. Field order is significant;
	// positional operations (ORDER BY ordinal, pivot
	// column merging) depend on it.
	Row
)

func (k Kind) String() string {
	switch k {
	case Poison:
		return "<error>"
	case Bool:
		return "bool"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Decimal:
		return "decimal"
	case String:
		return "string"
	case Bytes:
		return "bytes"
	case Date:
		return "date"
	case Time:
		return "time"
	case Timestamp:
		return "timestamp"
	case Row:
		return "row"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Integer returns whether the kind is in the integer family.
func (k Kind) Integer() bool {
	return k >= Int16 && k <= Int64
}

// Numeric returns whether the kind participates in
// arithmetic promotion.
func (k Kind) Numeric() bool {
	return k >= Int16 && k <= Decimal
}

// Ordered returns whether values of this kind admit
// a total order usable for ORDER BY and window frames.
func (k Kind) Ordered() bool {
	return k != Poison && k != Row
}

// Field is one named member of a Row type.
type Field struct {
	Name string
	Type Type
}

// Type is a nullable or non-nullable scalar or row type.
//
// Nullability is a property of the type, not the value:
// a non-nullable type can never hold an absent value, and
// the Literal constructor enforces that invariant.
type Type struct {
	Kind     Kind
	Nullable bool
	// Fields is non-nil iff Kind == Row.
	Fields []Field
}

// TypeOf is shorthand for Type{Kind: k}.
func TypeOf(k Kind) Type { return Type{Kind: k} }

// NullableOf is shorthand for Type{Kind: k, Nullable: true}.
func NullableOf(k Kind) Type { return Type{Kind: k, Nullable: true} }

// RowOf constructs a Row type from fields.
func RowOf(fields ...Field) Type {
	return Type{Kind: Row, Fields: fields}
}

// PoisonType is the error type substituted for failed
// type derivations.
var PoisonType = Type{Kind: Poison}

// AsNullable returns t with the nullability flag set.
func (t Type) AsNullable() Type {
	t.Nullable = true
	return t
}

// AsNonNullable returns t with the nullability flag cleared.
func (t Type) AsNonNullable() Type {
	t.Nullable = false
	return t
}

// IsPoison returns whether t is the error type
// (or a row containing one).
func (t Type) IsPoison() bool {
	if t.Kind == Poison {
		return true
	}
	for i := range t.Fields {
		if t.Fields[i].Type.IsPoison() {
			return true
		}
	}
	return false
}

// Equal compares types structurally: kind, nullability,
// and (for rows) every nested field name and type.
func (t Type) Equal(other Type) bool {
	if t.Kind != other.Kind || t.Nullable != other.Nullable {
		return false
	}
	return slices.EqualFunc(t.Fields, other.Fields, func(a, b Field) bool {
		return a.Name == b.Name && a.Type.Equal(b.Type)
	})
}

// Field returns the i'th field of a Row type.
// It panics if t is not a row or i is out of range;
// lowering only produces in-range positional references.
func (t Type) Field(i int) Field {
	if t.Kind != Row {
		panic("expr: Field() on non-row type " + t.String())
	}
	return t.Fields[i]
}

// Arity returns the number of fields of a Row type,
// or zero for scalars.
func (t Type) Arity() int { return len(t.Fields) }

func (t Type) String() string {
	var sb strings.Builder
	t.text(&sb)
	return sb.String()
}

func (t Type) text(dst *strings.Builder) {
	if t.Kind == Row {
		dst.WriteByte('{')
		for i := range t.Fields {
			if i > 0 {
				dst.WriteString(", ")
			}
			dst.WriteString(t.Fields[i].Name)
			dst.WriteString(": ")
			t.Fields[i].Type.text(dst)
		}
		dst.WriteByte('}')
	} else {
		dst.WriteString(t.Kind.String())
	}
	if t.Nullable {
		dst.WriteByte('?')
	}
}

// Compatible returns whether values of type a and b can be
// combined (unioned, compared) under ordinary typing rules,
// ignoring nullability.
func Compatible(a, b Type) bool {
	if a.Kind == Poison || b.Kind == Poison {
		// poison is compatible with everything so that
		// one TypeMismatch doesn't cascade
		return true
	}
	if a.Kind == Row && b.Kind == Row {
		if len(a.Fields) != len(b.Fields) {
			return false
		}
		for i := range a.Fields {
			if !Compatible(a.Fields[i].Type, b.Fields[i].Type) {
				return false
			}
		}
		return true
	}
	if a.Kind == b.Kind {
		return true
	}
	return a.Kind.Numeric() && b.Kind.Numeric()
}

// ErrTypeMismatch is the error wrapped by Common when
// the two kinds cannot be unified.
type ErrTypeMismatch struct {
	Left, Right Type
}

func (e *ErrTypeMismatch) Error() string {
	return fmt.Sprintf("incompatible types %s and %s", e.Left, e.Right)
}

// Common computes the least upper bound of a and b: the
// type used when unioning the branches of a set operation
// or combining literal operand types. The result is
// nullable if either input is.
//
// If the kinds are incompatible, Common returns PoisonType
// and a *ErrTypeMismatch; the caller reports it through the
// diagnostics collaborator and keeps compiling.
func Common(a, b Type) (Type, error) {
	if a.Kind == Poison {
		return a, nil
	}
	if b.Kind == Poison {
		return b, nil
	}
	nullable := a.Nullable || b.Nullable
	if a.Kind == Row && b.Kind == Row {
		if len(a.Fields) != len(b.Fields) {
			return PoisonType, &ErrTypeMismatch{a, b}
		}
		fields := make([]Field, len(a.Fields))
		for i := range a.Fields {
			ft, err := Common(a.Fields[i].Type, b.Fields[i].Type)
			if err != nil {
				return PoisonType, &ErrTypeMismatch{a, b}
			}
			// field names follow the left branch, like the
			// column names of the first SELECT in a UNION
			fields[i] = Field{Name: a.Fields[i].Name, Type: ft}
		}
		return Type{Kind: Row, Nullable: nullable, Fields: fields}, nil
	}
	if a.Kind == b.Kind {
		return Type{Kind: a.Kind, Nullable: nullable, Fields: a.Fields}, nil
	}
	if a.Kind.Numeric() && b.Kind.Numeric() {
		k := a.Kind
		if b.Kind > k {
			k = b.Kind
		}
		return Type{Kind: k, Nullable: nullable}, nil
	}
	return PoisonType, &ErrTypeMismatch{a, b}
}

// type hashing keys, fixed so that hashes are
// stable across processes
const (
	hashK0 = 0x7a696e63 // "zinc"
	hashK1 = 0x74797065 // "type"
)

// Hash returns a structural hash of t: equal types hash
// equally. It is used to memoize rewrite results and to
// compare operator output schemas cheaply during fusion.
func (t Type) Hash() uint64 {
	var buf []byte
	buf = t.appendHash(buf)
	return siphash.Hash(hashK0, hashK1, buf)
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func (t Type) appendHash(buf []byte) []byte {
	buf = appendU32(buf, uint32(t.Kind))
	if t.Nullable {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendU32(buf, uint32(len(t.Fields)))
	for i := range t.Fields {
		buf = appendU32(buf, uint32(len(t.Fields[i].Name)))
		buf = append(buf, t.Fields[i].Name...)
		buf = t.Fields[i].Type.appendHash(buf)
	}
	return buf
}
