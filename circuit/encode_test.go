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
	"bytes"
	"encoding/json"
	"testing"

	"github.com/SnellerInc/zinc/expr"
	"github.com/SnellerInc/zinc/plan"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeWire(t *testing.T, c *Circuit) wireCircuit {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, c.Encode(&buf))
	zr, err := zstd.NewReader(&buf)
	require.NoError(t, err)
	defer zr.Close()
	var doc wireCircuit
	require.NoError(t, json.NewDecoder(zr).Decode(&doc))
	return doc
}

func TestEncode(t *testing.T) {
	tbl := eventsTable()
	rt := tbl.RowType()
	a := &plan.Aggregate{
		Input:   &plan.Scan{Table: tbl},
		GroupBy: []int{1},
		Aggs:    []plan.AggExpr{{Op: plan.AggSum, Arg: expr.ColumnOf(rt, 2), Name: "total"}},
	}
	c, _ := mustBuild(t, oneView(tbl, a, true))

	doc := decodeWire(t, c)
	assert.Equal(t, c.ID.String(), doc.ID)
	require.Len(t, doc.Ops, c.Len())

	var kinds []string
	for i := range doc.Ops {
		kinds = append(kinds, doc.Ops[i].Op)
	}
	assert.Equal(t, []string{"source", "aggregate", "deindex", "integrate", "sink"}, kinds)

	src := doc.Ops[0]
	assert.Equal(t, "events", src.Table)
	assert.Empty(t, src.Inputs)
	require.Len(t, src.Columns, 4)
	assert.Equal(t, "id", src.Columns[0].Name)
	assert.True(t, src.Columns[0].PrimaryKey)
	assert.Equal(t, "string?", src.Columns[3].Type)

	agg := doc.Ops[1]
	assert.Equal(t, []int{1}, agg.GroupBy)
	require.Len(t, agg.Aggs, 1)
	assert.Contains(t, agg.Aggs[0], "sum(")
	assert.Equal(t, []Handle{0}, agg.Inputs)

	sink := doc.Ops[len(doc.Ops)-1]
	assert.Equal(t, "v", sink.View)
	require.Len(t, doc.Outputs, 1)
	assert.Equal(t, "v", doc.Outputs[0].View)
	assert.Equal(t, Handle(len(doc.Ops)-1), doc.Outputs[0].Sink)
}

func TestEncodeDeterministic(t *testing.T) {
	tbl := eventsTable()
	c, _ := mustBuild(t, oneView(tbl, &plan.Scan{Table: tbl}, false))
	var a, b bytes.Buffer
	require.NoError(t, c.Encode(&a))
	require.NoError(t, c.Encode(&b))
	assert.Equal(t, a.Bytes(), b.Bytes())
}
