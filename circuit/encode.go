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
	"encoding/json"
	"fmt"
	"io"

	"github.com/SnellerInc/zinc/expr"

	"github.com/klauspost/compress/zstd"
)

// wireCircuit is the serialized form handed to the code
// generator: one JSON document, zstd-compressed. Expression
// payloads travel as their textual rendering; the generator
// re-parses them against the declared row types.
type wireCircuit struct {
	ID      string       `json:"id"`
	Ops     []wireOp     `json:"ops"`
	Outputs []wireOutput `json:"outputs"`
}

type wireOutput struct {
	View string `json:"view"`
	Sink Handle `json:"sink"`
}

type wireOp struct {
	Op     string   `json:"op"`
	Inputs []Handle `json:"inputs,omitempty"`
	Type   string   `json:"type"`

	Table     string    `json:"table,omitempty"`
	Columns   []wireCol `json:"columns,omitempty"`
	Fn        string    `json:"fn,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	LeftKey   []int     `json:"leftKey,omitempty"`
	RightKey  []int     `json:"rightKey,omitempty"`
	GroupBy   []int     `json:"groupBy,omitempty"`
	Aggs      []string  `json:"aggs,omitempty"`
	Partition []int     `json:"partition,omitempty"`
	Order     []wireKey `json:"order,omitempty"`
	Funcs     []string  `json:"funcs,omitempty"`
	View      string    `json:"view,omitempty"`
}

type wireCol struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	PrimaryKey bool   `json:"primaryKey,omitempty"`
	Lateness   string `json:"lateness,omitempty"`
}

type wireKey struct {
	Col  int  `json:"col"`
	Desc bool `json:"desc,omitempty"`
}

// Encode writes the circuit to dst as zstd-compressed JSON.
func (c *Circuit) Encode(dst io.Writer) error {
	doc := wireCircuit{
		ID:  c.ID.String(),
		Ops: make([]wireOp, 0, c.Len()),
	}
	c.Walk(func(_ Handle, op Op) {
		doc.Ops = append(doc.Ops, wireOf(op))
	})
	for _, o := range c.outputs {
		doc.Outputs = append(doc.Outputs, wireOutput{View: o.View, Sink: o.Sink})
	}
	zw, err := zstd.NewWriter(dst)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(zw).Encode(&doc); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func wireOf(op Op) wireOp {
	w := wireOp{
		Inputs: op.Inputs(),
		Type:   op.OutType().String(),
	}
	switch op := op.(type) {
	case *Source:
		w.Op = "source"
		w.Table = op.Table
		w.Inputs = nil
		for i := range op.Columns {
			col := wireCol{
				Name:       op.Columns[i].Name,
				Type:       op.Columns[i].Type.String(),
				PrimaryKey: op.Columns[i].PrimaryKey,
			}
			if op.Columns[i].Lateness != nil {
				col.Lateness = expr.ToString(op.Columns[i].Lateness)
			}
			w.Columns = append(w.Columns, col)
		}
	case *Map:
		w.Op = "map"
		w.Fn = expr.ToString(op.Fn)
	case *Filter:
		w.Op = "filter"
		w.Fn = expr.ToString(op.Pred)
	case *Join:
		w.Op = "join"
		w.Kind = op.Kind.String()
		w.LeftKey = op.LeftKey
		w.RightKey = op.RightKey
		if op.On != nil {
			w.Fn = expr.ToString(op.On)
		}
	case *Aggregate:
		w.Op = "aggregate"
		w.GroupBy = op.GroupBy
		for i := range op.Aggs {
			w.Aggs = append(w.Aggs, describeAgg(&op.Aggs[i]))
		}
	case *Distinct:
		w.Op = "distinct"
	case *Window:
		w.Op = "window"
		w.Partition = op.PartitionBy
		for _, k := range op.OrderBy {
			w.Order = append(w.Order, wireKey{Col: k.Col, Desc: k.Desc})
		}
		for i := range op.Funcs {
			w.Funcs = append(w.Funcs, describeWindowFunc(&op.Funcs[i]))
		}
	case *SetOp:
		w.Op = "setop"
		w.Kind = op.Kind.String()
	case *Deindex:
		w.Op = "deindex"
		w.Fn = expr.ToString(op.Fn)
	case *Delay:
		w.Op = "delay"
	case *Integrate:
		w.Op = "integrate"
	case *Differentiate:
		w.Op = "differentiate"
	case *Sink:
		w.Op = "sink"
		w.View = op.View
	default:
		panic(fmt.Sprintf("unhandled operator %T", op))
	}
	return w
}
