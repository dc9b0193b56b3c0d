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

package zset

import (
	"testing"
)

func row(vals ...interface{}) Row { return Row(vals) }

func TestAddRemovesZeroWeights(t *testing.T) {
	z := New()
	z.Add(row(int64(1), "a"), 2)
	z.Add(row(int64(1), "a"), -2)
	if !z.IsEmpty() {
		t.Fatalf("expected empty set, got %s", z)
	}
	z.Add(row(int64(1), "a"), -1)
	if w := z.Weight(row(int64(1), "a")); w != -1 {
		t.Errorf("weight %d", w)
	}
}

func TestRowKeyDistinguishesTypes(t *testing.T) {
	pairs := [][2]Row{
		{row(int64(1)), row(float64(1))},
		{row("1"), row(int64(1))},
		{row(nil), row(false)},
		{row("a", "b"), row("ab")},
		{row([]byte("x")), row("x")},
	}
	for i := range pairs {
		a, b := pairs[i][0].Key(), pairs[i][1].Key()
		if a == b {
			t.Errorf("rows %v and %v collide on key %q", pairs[i][0], pairs[i][1], a)
		}
	}
}

func TestAddSubLinear(t *testing.T) {
	a := Of(1, row(int64(1)), row(int64(2)))
	b := Of(1, row(int64(2)), row(int64(3)))
	sum := Add(a, b)
	if sum.Weight(row(int64(2))) != 2 || sum.Len() != 3 {
		t.Errorf("sum %s", sum)
	}
	diff := Sub(sum, b)
	if !diff.Equal(a) {
		t.Errorf("sub did not invert add: %s", diff)
	}
	if !Add(a, a.Neg()).Equal(New()) {
		t.Errorf("a + (-a) must be empty")
	}
}

func TestMin(t *testing.T) {
	a := New()
	a.Add(row(int64(1)), 3)
	a.Add(row(int64(2)), 1)
	a.Add(row(int64(4)), -2)
	b := New()
	b.Add(row(int64(1)), 1)
	b.Add(row(int64(3)), 5)
	b.Add(row(int64(4)), 1)
	m := Min(a, b)
	if w := m.Weight(row(int64(1))); w != 1 {
		t.Errorf("min weight %d", w)
	}
	if w := m.Weight(row(int64(2))); w != 0 {
		t.Errorf("one-sided positive row must vanish, got %d", w)
	}
	if w := m.Weight(row(int64(4))); w != -2 {
		t.Errorf("negative weight must survive min, got %d", w)
	}
}

func TestDistinct(t *testing.T) {
	z := New()
	z.Add(row("a"), 5)
	z.Add(row("b"), 1)
	z.Add(row("c"), -3)
	d := z.Distinct()
	if d.Weight(row("a")) != 1 || d.Weight(row("b")) != 1 {
		t.Errorf("distinct %s", d)
	}
	if d.Weight(row("c")) != 0 {
		t.Errorf("negative rows must not appear in distinct output")
	}
	if !d.Equal(d.Distinct()) {
		t.Errorf("distinct must be idempotent")
	}
}

func TestEachDeterministic(t *testing.T) {
	z := New()
	for i := int64(0); i < 20; i++ {
		z.Add(row(i, "x"), i+1)
	}
	collect := func() []string {
		var out []string
		z.Each(func(r Row, w int64) {
			out = append(out, r.Key())
		})
		return out
	}
	first := collect()
	for n := 0; n < 3; n++ {
		again := collect()
		for i := range first {
			if again[i] != first[i] {
				t.Fatalf("iteration order changed at %d: %q vs %q", i, again[i], first[i])
			}
		}
	}
}

func TestCloneIsolated(t *testing.T) {
	a := Of(1, row(int64(1)))
	b := a.Clone()
	b.Add(row(int64(1)), 1)
	if a.Weight(row(int64(1))) != 1 {
		t.Errorf("clone aliases source")
	}
}
