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

// Package schema loads table declarations from YAML or JSON
// definition files and turns them into the typed table
// definitions the planner consumes.
package schema

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/SnellerInc/zinc/expr"
	"github.com/SnellerInc/zinc/plan"

	"sigs.k8s.io/yaml"
)

// Column is one declared table column.
type Column struct {
	// Name is the column name; it must be unique within
	// the table.
	Name string `json:"name"`
	// Type is the textual type, e.g. "int64" or "string?".
	// A trailing '?' marks the column nullable.
	Type string `json:"type"`
	// PrimaryKey marks the column as part of the table's
	// primary key. Deletes may then be addressed by key
	// alone.
	PrimaryKey bool `json:"primaryKey,omitempty"`
	// Lateness bounds how far out-of-order values of this
	// column may arrive, in the column's own units. Only
	// meaningful on ordered columns.
	Lateness *int64 `json:"lateness,omitempty"`
}

// Table is one declared table.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Definition is the root of a definition file: the set of
// base tables a program may read.
type Definition struct {
	Tables []Table `json:"tables"`
}

// just pick an upper limit to prevent runaway input
const maxDefSize = 1024 * 1024

// DecodeDefinition decodes a definition from src. The input
// may be YAML or JSON; unknown fields are rejected so typos
// in a definition file fail loudly.
func DecodeDefinition(src io.Reader) (*Definition, error) {
	buf, err := io.ReadAll(io.LimitReader(src, maxDefSize+1))
	if err != nil {
		return nil, err
	}
	if len(buf) > maxDefSize {
		return nil, fmt.Errorf("definition exceeds %d bytes", maxDefSize)
	}
	d := new(Definition)
	if err := yaml.UnmarshalStrict(buf, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Compile resolves the textual column types and returns the
// planner-facing table definitions.
func (d *Definition) Compile() ([]*plan.TableDef, error) {
	out := make([]*plan.TableDef, 0, len(d.Tables))
	names := make(map[string]bool, len(d.Tables))
	for i := range d.Tables {
		t, err := compileTable(&d.Tables[i])
		if err != nil {
			return nil, err
		}
		if names[t.Name] {
			return nil, fmt.Errorf("table %q declared twice", t.Name)
		}
		names[t.Name] = true
		out = append(out, t)
	}
	return out, nil
}

func compileTable(t *Table) (*plan.TableDef, error) {
	if t.Name == "" {
		return nil, errors.New("table with no name")
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("table %q has no columns", t.Name)
	}
	def := &plan.TableDef{
		Name:    t.Name,
		Columns: make([]plan.ColumnDef, len(t.Columns)),
	}
	seen := make(map[string]bool, len(t.Columns))
	for i := range t.Columns {
		c := &t.Columns[i]
		if seen[c.Name] {
			return nil, fmt.Errorf("table %q: column %q declared twice", t.Name, c.Name)
		}
		seen[c.Name] = true
		typ, err := ParseType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("table %q, column %q: %w", t.Name, c.Name, err)
		}
		if c.PrimaryKey && typ.Nullable {
			return nil, fmt.Errorf("table %q: primary key column %q cannot be nullable", t.Name, c.Name)
		}
		def.Columns[i] = plan.ColumnDef{
			Name:       c.Name,
			Type:       typ,
			PrimaryKey: c.PrimaryKey,
		}
		if c.Lateness != nil {
			if *c.Lateness < 0 {
				return nil, fmt.Errorf("table %q, column %q: negative lateness", t.Name, c.Name)
			}
			def.Columns[i].Lateness = expr.Integer(*c.Lateness)
		}
	}
	return def, nil
}

var kindNames = map[string]expr.Kind{
	"bool":      expr.Bool,
	"int16":     expr.Int16,
	"int32":     expr.Int32,
	"int64":     expr.Int64,
	"float32":   expr.Float32,
	"float64":   expr.Float64,
	"decimal":   expr.Decimal,
	"string":    expr.String,
	"bytes":     expr.Bytes,
	"date":      expr.Date,
	"time":      expr.Time,
	"timestamp": expr.Timestamp,
}

// ParseType parses a textual column type: a scalar kind
// name with an optional trailing '?' for nullability.
func ParseType(s string) (expr.Type, error) {
	name := s
	nullable := false
	if strings.HasSuffix(name, "?") {
		name = name[:len(name)-1]
		nullable = true
	}
	k, ok := kindNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return expr.PoisonType, fmt.Errorf("unknown type %q", s)
	}
	return expr.Type{Kind: k, Nullable: nullable}, nil
}
