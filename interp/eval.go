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

package interp

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/SnellerInc/zinc/expr"
	"github.com/SnellerInc/zinc/zset"
)

// Eval evaluates n against one input row. Values use the
// interpreter's runtime representation (nil, bool, int64,
// float64, string, []byte); a nil result is SQL NULL.
func Eval(n expr.Node, row zset.Row) (interface{}, error) {
	switch n := n.(type) {
	case *expr.Literal:
		return n.Value, nil
	case *expr.Column:
		if n.Index < 0 || n.Index >= len(row) {
			return nil, fmt.Errorf("column %d out of range for %d-column row", n.Index, len(row))
		}
		return row[n.Index], nil
	case *expr.RowFunc:
		return Eval(n.Body, row)
	case *expr.Call:
		return evalCall(n, row)
	default:
		return nil, fmt.Errorf("cannot evaluate %T", n)
	}
}

// EvalFunc applies a row transform and returns the output
// row.
func EvalFunc(f *expr.RowFunc, row zset.Row) (zset.Row, error) {
	v, err := Eval(f.Body, row)
	if err != nil {
		return nil, err
	}
	out, ok := v.(zset.Row)
	if !ok {
		return nil, fmt.Errorf("row transform produced %T, not a row", v)
	}
	return out, nil
}

// EvalPred evaluates a predicate; NULL counts as FALSE, so
// a row whose predicate is unknown never reaches the
// output.
func EvalPred(f *expr.RowFunc, row zset.Row) (bool, error) {
	v, err := Eval(f.Body, row)
	if err != nil {
		return false, err
	}
	if v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("predicate produced %T, not a boolean", v)
	}
	return b, nil
}

func evalCall(c *expr.Call, row zset.Row) (interface{}, error) {
	switch c.Op {
	case expr.OpAnd, expr.OpOr:
		return evalLogic(c, row)
	case expr.OpCoalesce:
		for _, a := range c.Args {
			v, err := Eval(a, row)
			if err != nil {
				return nil, err
			}
			if v != nil {
				return v, nil
			}
		}
		return nil, nil
	case expr.OpCase:
		return evalCase(c, row)
	case expr.OpMakeRow:
		out := make(zset.Row, len(c.Args))
		for i, a := range c.Args {
			v, err := Eval(a, row)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	args := make([]interface{}, len(c.Args))
	for i, a := range c.Args {
		v, err := Eval(a, row)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	switch c.Op {
	case expr.OpIsNull:
		return args[0] == nil, nil
	case expr.OpNot:
		if args[0] == nil {
			return nil, nil
		}
		return !args[0].(bool), nil
	case expr.OpCast:
		return evalCast(args[0], c.Type().Kind)
	case expr.OpNeg:
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case int64:
			return -v, nil
		case float64:
			return -v, nil
		}
		return nil, fmt.Errorf("cannot negate %T", args[0])
	case expr.OpAdd, expr.OpSub, expr.OpMul, expr.OpDiv, expr.OpMod:
		return evalArith(c.Op, args[0], args[1])
	case expr.OpEq, expr.OpNe, expr.OpLt, expr.OpLe, expr.OpGt, expr.OpGe:
		if args[0] == nil || args[1] == nil {
			return nil, nil
		}
		cmp, err := compareValues(args[0], args[1])
		if err != nil {
			return nil, err
		}
		switch c.Op {
		case expr.OpEq:
			return cmp == 0, nil
		case expr.OpNe:
			return cmp != 0, nil
		case expr.OpLt:
			return cmp < 0, nil
		case expr.OpLe:
			return cmp <= 0, nil
		case expr.OpGt:
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	}
	return nil, fmt.Errorf("cannot evaluate operator %s", c.Op)
}

// evalLogic implements three-valued AND/OR: the absorbing
// element wins over NULL, NULL wins over the neutral one.
func evalLogic(c *expr.Call, row zset.Row) (interface{}, error) {
	and := c.Op == expr.OpAnd
	sawNull := false
	for _, a := range c.Args {
		v, err := Eval(a, row)
		if err != nil {
			return nil, err
		}
		if v == nil {
			sawNull = true
			continue
		}
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("logic over %T", v)
		}
		if b != and {
			// FALSE under AND, TRUE under OR
			return b, nil
		}
	}
	if sawNull {
		return nil, nil
	}
	return and, nil
}

// evalCase scans (cond, value) pairs; a trailing odd
// argument is the ELSE branch. A NULL condition does not
// match.
func evalCase(c *expr.Call, row zset.Row) (interface{}, error) {
	n := len(c.Args)
	for i := 0; i+1 < n; i += 2 {
		v, err := Eval(c.Args[i], row)
		if err != nil {
			return nil, err
		}
		if b, ok := v.(bool); ok && b {
			return Eval(c.Args[i+1], row)
		}
	}
	if n%2 == 1 {
		return Eval(c.Args[n-1], row)
	}
	return nil, nil
}

func evalArith(op expr.Op, a, b interface{}) (interface{}, error) {
	if a == nil || b == nil {
		return nil, nil
	}
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		switch op {
		case expr.OpAdd:
			return ai + bi, nil
		case expr.OpSub:
			return ai - bi, nil
		case expr.OpMul:
			return ai * bi, nil
		case expr.OpDiv:
			if bi == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return ai / bi, nil
		case expr.OpMod:
			if bi == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return ai % bi, nil
		}
	}
	af, err := toFloat(a)
	if err != nil {
		return nil, err
	}
	bf, err := toFloat(b)
	if err != nil {
		return nil, err
	}
	switch op {
	case expr.OpAdd:
		return af + bf, nil
	case expr.OpSub:
		return af - bf, nil
	case expr.OpMul:
		return af * bf, nil
	case expr.OpDiv:
		if bf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return af / bf, nil
	case expr.OpMod:
		return math.Mod(af, bf), nil
	}
	return nil, fmt.Errorf("bad arithmetic operator %s", op)
}

func toFloat(v interface{}) (float64, error) {
	switch v := v.(type) {
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	}
	return 0, fmt.Errorf("%T is not numeric", v)
}

// compareValues orders two non-nil values of the same
// class; mixed int/float compare as floats.
func compareValues(a, b interface{}) (int, error) {
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		if !ok {
			break
		}
		switch {
		case av == bv:
			return 0, nil
		case bv:
			return -1, nil
		default:
			return 1, nil
		}
	case string:
		bv, ok := b.(string)
		if !ok {
			break
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		default:
			return 0, nil
		}
	case []byte:
		bv, ok := b.([]byte)
		if !ok {
			break
		}
		return bytes.Compare(av, bv), nil
	case int64, float64:
		af, err := toFloat(a)
		if err != nil {
			break
		}
		bf, err := toFloat(b)
		if err != nil {
			break
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}
	return 0, fmt.Errorf("cannot compare %T and %T", a, b)
}

func evalCast(v interface{}, to expr.Kind) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch to {
	case expr.Int16, expr.Int32, expr.Int64:
		switch v := v.(type) {
		case int64:
			return v, nil
		case float64:
			return int64(v), nil
		case string:
			i, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot cast %q to integer", v)
			}
			return i, nil
		case bool:
			if v {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case expr.Float32, expr.Float64, expr.Decimal:
		switch v := v.(type) {
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot cast %q to float", v)
			}
			return f, nil
		}
	case expr.String:
		switch v := v.(type) {
		case string:
			return v, nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		case float64:
			return strconv.FormatFloat(v, 'g', -1, 64), nil
		case bool:
			return strconv.FormatBool(v), nil
		}
	case expr.Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case expr.Date, expr.Time, expr.Timestamp:
		// temporal values travel as int64 internally
		if i, ok := v.(int64); ok {
			return i, nil
		}
	}
	return nil, fmt.Errorf("cannot cast %T to %s", v, to)
}
