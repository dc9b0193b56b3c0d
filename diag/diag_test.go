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

package diag

import (
	"strings"
	"testing"
)

func TestSink(t *testing.T) {
	s := new(Sink)
	if !s.Ok() {
		t.Fatal("empty sink should be ok")
	}
	Warnf(s, NoSpan, "watch out for %q", "x")
	if !s.Ok() || s.ErrCount() != 0 {
		t.Errorf("warnings must not count as errors")
	}
	Errorf(s, Span{Start: 3, End: 9}, "bad input")
	Unsupportedf(s, NoSpan, "LATERAL flatten")
	if s.Ok() || s.ErrCount() != 2 {
		t.Errorf("ErrCount = %d, want 2", s.ErrCount())
	}
	msgs := s.Messages()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[1].Span != (Span{Start: 3, End: 9}) {
		t.Errorf("span %v", msgs[1].Span)
	}
	if got := msgs[2].Err.Error(); !strings.HasPrefix(got, "not yet implemented: ") {
		t.Errorf("unsupported message %q", got)
	}

	var sb strings.Builder
	s.WriteTo(&sb)
	out := sb.String()
	if !strings.Contains(out, "[3:9] error: bad input") {
		t.Errorf("rendering:\n%s", out)
	}
	if !strings.Contains(out, "<unknown> warning:") {
		t.Errorf("rendering:\n%s", out)
	}
}
