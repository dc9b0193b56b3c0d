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

// Package diag implements the diagnostics collaborator
// shared by every compilation stage.
//
// The compiler never terminates the host process; every
// problem it finds is appended to a Reporter and compilation
// continues as far as it usefully can. A caller inspects the
// accumulated messages after the pipeline has run and decides
// what to do with them.
package diag

import (
	"fmt"
	"io"
	"strings"
)

// Severity classifies a diagnostic message.
type Severity int

const (
	// Warning diagnostics are informational and
	// never block circuit emission.
	Warning Severity = iota
	// Error diagnostics prevent the compiled circuit
	// from being handed to the code generator.
	Error
	// Fatal diagnostics additionally stop the current
	// compilation unit; they indicate the validated-plan
	// contract was broken upstream.
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Span is a half-open byte range into the original
// query text. The compiler only threads spans through;
// it never inspects the source itself.
type Span struct {
	Start, End int
}

// NoSpan is the zero Span, used when a diagnostic has
// no useful source location (e.g. synthesized operators).
var NoSpan Span

func (s Span) String() string {
	if s == NoSpan {
		return "<unknown>"
	}
	return fmt.Sprintf("[%d:%d]", s.Start, s.End)
}

// Message is one accumulated diagnostic.
type Message struct {
	Severity Severity
	Span     Span
	Err      error
}

func (m *Message) String() string {
	return fmt.Sprintf("%s %s: %s", m.Span, m.Severity, m.Err)
}

// Reporter receives diagnostics from the compiler.
//
// Implementations must not panic and must tolerate
// being called repeatedly after an Error or Fatal
// message; the compiler decides when to stop.
type Reporter interface {
	Report(s Severity, at Span, err error)
}

// Sink is the standard Reporter: an append-only
// accumulator. It is single-writer within one
// compilation (compilation is synchronous) and is
// not safe for concurrent use.
type Sink struct {
	msgs []Message
	errs int
}

// Report implements Reporter.
func (s *Sink) Report(sev Severity, at Span, err error) {
	if sev >= Error {
		s.errs++
	}
	s.msgs = append(s.msgs, Message{Severity: sev, Span: at, Err: err})
}

// Messages returns the accumulated diagnostics in the
// order they were reported.
func (s *Sink) Messages() []Message { return s.msgs }

// ErrCount returns the number of Error-or-worse
// diagnostics reported so far.
func (s *Sink) ErrCount() int { return s.errs }

// Ok returns true if no Error-or-worse diagnostic
// has been reported.
func (s *Sink) Ok() bool { return s.errs == 0 }

// WriteTo writes a plaintext rendering of every message to dst.
func (s *Sink) WriteTo(dst io.Writer) (int64, error) {
	var sb strings.Builder
	for i := range s.msgs {
		sb.WriteString(s.msgs[i].String())
		sb.WriteByte('\n')
	}
	n, err := io.WriteString(dst, sb.String())
	return int64(n), err
}

// Errorf reports an Error-severity diagnostic.
func Errorf(r Reporter, at Span, f string, args ...interface{}) {
	r.Report(Error, at, fmt.Errorf(f, args...))
}

// Warnf reports a Warning-severity diagnostic.
func Warnf(r Reporter, at Span, f string, args ...interface{}) {
	r.Report(Warning, at, fmt.Errorf(f, args...))
}

// Unsupportedf reports the "not yet implemented" class of
// diagnostic: a construct the grammar accepts but the
// lowering has no rule for. These are always errors; the
// compiler fails closed rather than emitting a circuit
// with undefined behavior.
func Unsupportedf(r Reporter, at Span, f string, args ...interface{}) {
	r.Report(Error, at, fmt.Errorf("not yet implemented: "+f, args...))
}
