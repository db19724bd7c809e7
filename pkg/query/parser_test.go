/*
Copyright 2023 The Sunwet Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package query

import (
	"errors"
	"testing"
)

func mustParse(t *testing.T, src string) *Query {
	t.Helper()
	q, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	return q
}

func wantErrorKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("got %v (%T), want a *CompileError", err, err)
	}
	if ce.Kind != kind {
		t.Fatalf("got error kind %v, want %v (err: %v)", ce.Kind, kind, ce)
	}
}

func TestParseChainShapes(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"bare root", `"v" { => x }`},
		{"forward move", `"v" -> "p" { => x }`},
		{"backward move", `"album" <- "is" { => id }`},
		{"nested subchain", `"album" <- "is" { => id -> "name" { => name } }`},
		{"search root", `search("beatles") { => hit }`},
		{"recurse", `"a" ** { -> "p" } { => x }`},
		{"and junction", `"v" & { -> "p1" } & { -> "p2" } { => x }`},
		{"or junction", `"v" | { -> "p1" } | { -> "p2" } { => x }`},
		{"exists filter", `"v" -> "p" (? -> "flag") { => x }`},
		{"not exists filter", `"v" -> "p" (!? -> "flag") { => x }`},
		{"filter with comparison", `"v" -> "p" (? -> "count" >= 3) { => x }`},
		{"filter with like", `"v" -> "p" (? -> "name" ~ "abc") { => x }`},
		{"filter junction", `"v" -> "p" (? -> "a" & ? -> "b") { => x }`},
		{"first and sort", `"v" -> "p" desc first { => x }`},
		{"parameter root", `$start -> "p" { => x }`},
		{"parameter predicate", `"v" -> $pred { => x }`},
		{"top sort", `"v" -> "p" { => x } sort desc x`},
		{"top sort multi", `"v" -> "p" { => x -> "q" { => y } } sort asc x, desc y`},
		{"shuffle", `"v" -> "p" { => x } sort random`},
		{"whitespace free", `"v"->"p"{=>x}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mustParse(t, tt.src)
		})
	}
}

func TestParseSyntaxErrors(t *testing.T) {
	tests := []string{
		`"v" -> { => x }`,              // move without predicate
		`"v" -> "p" { => }`,            // bind without name
		`"v" -> "p" { => x `,           // unterminated tail
		`"v" & { -> "p" } { => x }`,    // junction with a single branch
		`"v" -> "p" (-> "q") { => x }`, // filter without ? or !?
		`"v" =! "p" { => x }`,          // garbage operator
		`"v" { => x } trailing`,
	}
	for _, src := range tests {
		if _, err := Parse(src); err == nil {
			t.Errorf("Parse(%q) succeeded, want syntax error", src)
		} else {
			wantErrorKind(t, err, ErrSyntax)
		}
	}
}

func TestParseEmptyChain(t *testing.T) {
	_, err := Parse(`{ => x }`)
	wantErrorKind(t, err, ErrEmptyChain)

	_, err = Parse(`"v" -> "p" (? ) { => x }`)
	wantErrorKind(t, err, ErrEmptyChain)
}

func TestParseDuplicateBind(t *testing.T) {
	_, err := Parse(`"v" -> "p" { => x -> "q" { => x } }`)
	wantErrorKind(t, err, ErrDuplicateBind)

	_, err = Parse(`"v" { => x => x }`)
	wantErrorKind(t, err, ErrDuplicateBind)
}

func TestAnalyzeUnknownParameter(t *testing.T) {
	q := mustParse(t, `$start -> $pred { => x }`)
	err := Analyze(q, map[string]bool{"start": true})
	wantErrorKind(t, err, ErrUnknownParameter)

	if err := Analyze(q, map[string]bool{"start": true, "pred": true}); err != nil {
		t.Fatalf("Analyze with all parameters supplied: %v", err)
	}
}

func TestAnalyzePlural(t *testing.T) {
	q := mustParse(t, `"v" -> "p" { => many -> "q" first { => one } }`)
	if err := Analyze(q, nil); err != nil {
		t.Fatal(err)
	}
	if !q.Chain.Plural {
		t.Error("outer chain without first should be plural")
	}
	if q.Chain.Subchains[0].Plural {
		t.Error("subchain guarded by first should be singular")
	}
}

func TestParsedStepDetails(t *testing.T) {
	q := mustParse(t, `"v" -> "p" asc first { => x }`)
	steps := q.Chain.Head.Steps
	if len(steps) != 1 {
		t.Fatalf("got %d steps, want 1", len(steps))
	}
	s := steps[0]
	if s.Kind != StepMove || s.Dir != MoveForward || s.Predicate.Literal != "p" {
		t.Errorf("move step parsed wrong: %+v", s)
	}
	if s.Sort != SortAsc || !s.First {
		t.Errorf("sort/first modifiers parsed wrong: sort=%v first=%v", s.Sort, s.First)
	}
}
