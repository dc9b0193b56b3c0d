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

package circuit

import (
	"github.com/SnellerInc/zinc/expr"

	"github.com/dchest/siphash"
)

// deindexPass canonicalizes every Deindex into the Map with
// the same row function. After this pass no Deindex remains,
// so the later passes only ever see one projection shape.
type deindexPass struct{}

func (deindexPass) Name() string { return "deindex" }

func (deindexPass) Rewrite(cl *Clone, op Op) Handle {
	if d, ok := op.(*Deindex); ok {
		return cl.Emit(&Map{In: d.In, Fn: d.Fn})
	}
	return cl.Emit(op)
}

// foldPass simplifies every expression payload. Simplify is
// idempotent, so the pass is too.
type foldPass struct{}

func (foldPass) Name() string { return "fold" }

func (foldPass) Rewrite(cl *Clone, op Op) Handle {
	return cl.Emit(op.mapExprs(expr.Simplify))
}

// fusePass merges adjacent operators that compute together:
//
//   - Map over Map composes into one Map when the inner
//     projection is a row constructor (or the identity);
//   - an identity Map that keeps the field names disappears;
//   - Filter over Filter conjoins the predicates;
//   - a Filter whose predicate folded to TRUE disappears;
//   - Integrate over Differentiate (and the reverse)
//     cancels out.
type fusePass struct{}

func (fusePass) Name() string { return "fuse" }

func (fusePass) Rewrite(cl *Clone, op Op) Handle {
	switch op := op.(type) {
	case *Map:
		if op.Fn.IsIdentity() && op.Fn.Type().Equal(cl.Out(op.In).OutType()) {
			return op.In
		}
		if prev, ok := cl.Out(op.In).(*Map); ok {
			if fn := composeFuncs(op.Fn, prev.Fn); fn != nil {
				return cl.Emit(&Map{In: prev.In, Fn: fn})
			}
		}
	case *Filter:
		if lit, ok := op.Pred.Body.(*expr.Literal); ok {
			if v, ok := lit.Value.(bool); ok && v {
				return op.In
			}
		}
		if prev, ok := cl.Out(op.In).(*Filter); ok {
			both := mustCall(expr.OpAnd, prev.Pred.Body, op.Pred.Body)
			return cl.Emit(&Filter{
				In:   prev.In,
				Pred: expr.NewRowFunc(prev.Pred.In, expr.Simplify(both)),
				Out:  op.Out,
			})
		}
	case *Integrate:
		if prev, ok := cl.Out(op.In).(*Differentiate); ok {
			return prev.In
		}
	case *Differentiate:
		if prev, ok := cl.Out(op.In).(*Integrate); ok {
			return prev.In
		}
	}
	return cl.Emit(op)
}

// composeFuncs inlines inner into outer, yielding the single
// row function computing outer(inner(row)), or nil when the
// inner body is not a row constructor and the columns of its
// output cannot be named individually.
func composeFuncs(outer, inner *expr.RowFunc) *expr.RowFunc {
	if inner.IsIdentity() {
		return expr.NewRowFunc(inner.In, outer.Body)
	}
	mk, ok := inner.Body.(*expr.Call)
	if !ok || mk.Op != expr.OpMakeRow {
		return nil
	}
	body := expr.RewriteFunc(outer.Body, func(n expr.Node) expr.Node {
		if c, ok := n.(*expr.Column); ok {
			return mk.Args[c.Index]
		}
		return n
	})
	return expr.NewRowFunc(inner.In, expr.Simplify(body))
}

// dedupPass merges structurally identical operators: same
// shape, same payload, same (already-rewritten) inputs.
// Candidates are bucketed by siphash and confirmed with a
// structural comparison. Sinks keep view identity and Delay
// keeps its own state, so neither is merged.
type dedupPass struct {
	seen map[uint64][]Handle
}

func newDedup() *dedupPass {
	return &dedupPass{seen: make(map[uint64][]Handle)}
}

func (*dedupPass) Name() string { return "dedup" }

const (
	hashK0 = 0x7a696e63 // "zinc"
	hashK1 = 0x6369726b
)

func (d *dedupPass) Rewrite(cl *Clone, op Op) Handle {
	switch op.(type) {
	case *Sink, *Delay:
		return cl.Emit(op)
	}
	sum := siphash.Hash(hashK0, hashK1, op.appendHash(nil))
	for _, h := range d.seen[sum] {
		if cl.Out(h).equals(op) {
			return h
		}
	}
	h := cl.Emit(op)
	d.seen[sum] = append(d.seen[sum], h)
	return h
}
