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

// Package zset implements weighted multisets of rows
// (Z-sets): every row carries an integer weight, positive
// for presence and negative for retraction. A Z-set with
// only unit weights is a set; one with only positive
// weights is a bag; mixed signs represent a change.
package zset

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Row is one tuple of column values in the interpreter's
// runtime representation: nil, bool, int64, float64,
// string, or []byte.
type Row []interface{}

// Clone returns a copy of the row.
func (r Row) Clone() Row {
	return append(Row(nil), r...)
}

// Key returns a deterministic encoding of the row,
// usable as a map key. Two rows encode equally iff their
// values are equal position by position.
func (r Row) Key() string {
	var sb strings.Builder
	for _, v := range r {
		switch v := v.(type) {
		case nil:
			sb.WriteByte('n')
		case bool:
			if v {
				sb.WriteString("b1")
			} else {
				sb.WriteString("b0")
			}
		case int64:
			sb.WriteByte('i')
			sb.WriteString(strconv.FormatInt(v, 10))
		case float64:
			sb.WriteByte('f')
			sb.WriteString(strconv.FormatUint(math.Float64bits(v), 16))
		case string:
			sb.WriteByte('s')
			sb.WriteString(strconv.Itoa(len(v)))
			sb.WriteByte(':')
			sb.WriteString(v)
		case []byte:
			sb.WriteByte('y')
			sb.WriteString(strconv.Itoa(len(v)))
			sb.WriteByte(':')
			sb.Write(v)
		default:
			panic(fmt.Sprintf("zset: unsupported value %T", v))
		}
		sb.WriteByte(';')
	}
	return sb.String()
}

func (r Row) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, v := range r {
		if i > 0 {
			sb.WriteString(", ")
		}
		if v == nil {
			sb.WriteString("null")
		} else {
			fmt.Fprintf(&sb, "%v", v)
		}
	}
	sb.WriteByte(')')
	return sb.String()
}

type entry struct {
	row Row
	w   int64
}

// ZSet is a weighted multiset of rows. The zero value is
// not usable; call New.
type ZSet struct {
	m map[string]entry
}

// New returns an empty Z-set.
func New() *ZSet {
	return &ZSet{m: make(map[string]entry)}
}

// Of builds a Z-set holding the given rows, each at weight w.
func Of(w int64, rows ...Row) *ZSet {
	z := New()
	for _, r := range rows {
		z.Add(r, w)
	}
	return z
}

// Add adds w to the weight of row r; entries that reach
// weight zero are removed.
func (z *ZSet) Add(r Row, w int64) {
	if w == 0 {
		return
	}
	k := r.Key()
	e, ok := z.m[k]
	if !ok {
		z.m[k] = entry{row: r.Clone(), w: w}
		return
	}
	e.w += w
	if e.w == 0 {
		delete(z.m, k)
	} else {
		z.m[k] = e
	}
}

// Weight returns the weight of row r, zero if absent.
func (z *ZSet) Weight(r Row) int64 {
	return z.m[r.Key()].w
}

// Len returns the number of rows with nonzero weight.
func (z *ZSet) Len() int { return len(z.m) }

// IsEmpty reports whether no row has nonzero weight.
func (z *ZSet) IsEmpty() bool { return len(z.m) == 0 }

// Each calls fn for every row in deterministic (key) order.
func (z *ZSet) Each(fn func(r Row, w int64)) {
	keys := maps.Keys(z.m)
	slices.Sort(keys)
	for _, k := range keys {
		fn(z.m[k].row, z.m[k].w)
	}
}

// Merge adds every entry of o into z.
func (z *ZSet) Merge(o *ZSet) {
	for k, e := range o.m {
		cur, ok := z.m[k]
		if !ok {
			z.m[k] = e
			continue
		}
		cur.w += e.w
		if cur.w == 0 {
			delete(z.m, k)
		} else {
			z.m[k] = cur
		}
	}
}

// Clone returns a copy of z. Rows are shared; they are
// treated as immutable.
func (z *ZSet) Clone() *ZSet {
	out := &ZSet{m: make(map[string]entry, len(z.m))}
	for k, e := range z.m {
		out.m[k] = e
	}
	return out
}

// Neg returns -z.
func (z *ZSet) Neg() *ZSet {
	out := &ZSet{m: make(map[string]entry, len(z.m))}
	for k, e := range z.m {
		out.m[k] = entry{row: e.row, w: -e.w}
	}
	return out
}

// Distinct returns the set of rows with positive weight,
// each at weight one.
func (z *ZSet) Distinct() *ZSet {
	out := New()
	for k, e := range z.m {
		if e.w > 0 {
			out.m[k] = entry{row: e.row, w: 1}
		}
	}
	return out
}

// Positive reports whether every weight is positive.
func (z *ZSet) Positive() bool {
	for _, e := range z.m {
		if e.w < 0 {
			return false
		}
	}
	return true
}

// Add returns a + b.
func Add(a, b *ZSet) *ZSet {
	out := a.Clone()
	out.Merge(b)
	return out
}

// Sub returns a - b.
func Sub(a, b *ZSet) *ZSet {
	out := a.Clone()
	out.Merge(b.Neg())
	return out
}

// Min returns the pointwise minimum of a and b, with
// absent rows at weight zero. Only rows present in both
// with positive weight survive; a negative weight on
// either side wins over absence on the other.
func Min(a, b *ZSet) *ZSet {
	out := New()
	for k, e := range a.m {
		w := e.w
		if bw := b.m[k].w; bw < w {
			w = bw
		}
		if w != 0 {
			out.m[k] = entry{row: e.row, w: w}
		}
	}
	for k, e := range b.m {
		if _, ok := a.m[k]; ok {
			continue
		}
		if e.w < 0 {
			out.m[k] = e
		}
	}
	return out
}

// Equal reports whether a and b hold the same rows at the
// same weights.
func (z *ZSet) Equal(o *ZSet) bool {
	if len(z.m) != len(o.m) {
		return false
	}
	for k, e := range z.m {
		if o.m[k].w != e.w {
			return false
		}
	}
	return true
}

func (z *ZSet) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	z.Each(func(r Row, w int64) {
		if !first {
			sb.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&sb, "%s->%+d", r, w)
	})
	sb.WriteByte('}')
	return sb.String()
}
