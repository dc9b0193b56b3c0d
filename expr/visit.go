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

// Visitor is the read-only traversal contract.
//
// A Visitor's Visit method is invoked for each node
// encountered by Walk. If the returned visitor w is
// not nil, Walk visits each child of the node with w,
// followed by a call of w.Visit(nil).
//
// (see also: ast.Visitor)
type Visitor interface {
	Visit(Node) Visitor
}

// Rewriter accepts a Node and produces a replacement
// (or its argument, unchanged). This is the "inner"
// instantiation of the clone-and-replace framework;
// the circuit package provides the outer one.
type Rewriter interface {
	// Rewrite is applied to nodes in depth-first
	// postorder; each node is replaced by the
	// returned value.
	Rewrite(Node) Node

	// Walk is called in preorder and the returned
	// Rewriter is used for the children of the node.
	// If it returns nil, traversal does not proceed
	// past the node (the subtree is kept as-is except
	// for the final Rewrite of the node itself).
	Walk(Node) Rewriter
}

// nonleaf is implemented by nodes with children.
// rewrite must return a fresh node when any child
// changed and the receiver when none did; shared
// subtrees are never mutated in place.
type nonleaf interface {
	rewrite(r Rewriter) Node
}

// Rewrite applies r in depth-first postorder and
// returns the replacement tree.
func Rewrite(r Rewriter, n Node) Node {
	if n == nil {
		return nil
	}
	if nl, ok := n.(nonleaf); ok {
		if rc := r.Walk(n); rc != nil {
			n = nl.rewrite(rc)
		}
	}
	return r.Rewrite(n)
}

// Walk traverses the tree in depth-first order,
// starting with v.Visit(n).
func Walk(v Visitor, n Node) {
	if n == nil {
		return
	}
	w := v.Visit(n)
	if w != nil {
		n.walk(w)
		w.Visit(nil)
	}
}

// visitfn adapts a function to the Visitor interface;
// returning false stops descent into the subtree.
type visitfn func(Node) bool

func (v visitfn) Visit(n Node) Visitor {
	if n == nil || !v(n) {
		return nil
	}
	return v
}

// VisitFunc walks n, calling fn for every node; if fn
// returns false the node's subtree is skipped.
func VisitFunc(n Node, fn func(Node) bool) {
	Walk(visitfn(fn), n)
}

// rewritefn adapts a function to the Rewriter interface.
type rewritefn func(Node) Node

func (r rewritefn) Rewrite(n Node) Node { return r(n) }
func (r rewritefn) Walk(Node) Rewriter  { return r }

// RewriteFunc applies fn to every node in postorder.
func RewriteFunc(n Node, fn func(Node) Node) Node {
	return Rewrite(rewritefn(fn), n)
}
