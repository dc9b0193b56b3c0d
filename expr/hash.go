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
	"math"

	"github.com/dchest/siphash"
)

// node tags for hashing; distinct from Kind values so a
// literal never collides with a bare type
const (
	tagLiteral = 101
	tagColumn  = 102
	tagCall    = 103
	tagRowFunc = 104
)

// Hash returns a structural siphash of n. Equal nodes hash
// equally; the circuit dedup pass and rewrite memoization
// rely on this together with Equals.
func Hash(n Node) uint64 {
	return siphash.Hash(hashK0, hashK1, n.appendHash(nil))
}

// AppendHash appends the structural hash input of n to buf.
// Callers use it to fold expression identity into a larger
// hashed structure.
func AppendHash(buf []byte, n Node) []byte {
	return n.appendHash(buf)
}

func (l *Literal) appendHash(buf []byte) []byte {
	buf = append(buf, tagLiteral)
	buf = l.T.appendHash(buf)
	switch v := l.Value.(type) {
	case nil:
		buf = append(buf, 0)
	case bool:
		if v {
			buf = append(buf, 1, 1)
		} else {
			buf = append(buf, 1, 0)
		}
	case int64:
		buf = append(buf, 2)
		buf = appendU32(buf, uint32(v))
		buf = appendU32(buf, uint32(uint64(v)>>32))
	case float64:
		bits := math.Float64bits(v)
		buf = append(buf, 3)
		buf = appendU32(buf, uint32(bits))
		buf = appendU32(buf, uint32(bits>>32))
	case string:
		buf = append(buf, 4)
		buf = appendU32(buf, uint32(len(v)))
		buf = append(buf, v...)
	case []byte:
		buf = append(buf, 5)
		buf = appendU32(buf, uint32(len(v)))
		buf = append(buf, v...)
	}
	return buf
}

func (c *Column) appendHash(buf []byte) []byte {
	buf = append(buf, tagColumn)
	buf = appendU32(buf, uint32(c.Index))
	return c.T.appendHash(buf)
}

func (c *Call) appendHash(buf []byte) []byte {
	buf = append(buf, tagCall)
	buf = appendU32(buf, uint32(c.Op))
	buf = c.T.appendHash(buf)
	buf = appendU32(buf, uint32(len(c.Args)))
	for i := range c.Args {
		buf = c.Args[i].appendHash(buf)
	}
	return buf
}

func (f *RowFunc) appendHash(buf []byte) []byte {
	buf = append(buf, tagRowFunc)
	buf = f.In.appendHash(buf)
	return f.Body.appendHash(buf)
}
