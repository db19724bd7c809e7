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
	"context"
	"testing"

	"sunwet.dev/sunwet/pkg/graphdb"
	"sunwet.dev/sunwet/pkg/triple"
)

func testEnv(t *testing.T) (*graphdb.DB, *Env) {
	t.Helper()
	db, err := graphdb.Open(graphdb.Config{Driver: "sqlite3", DSN: "file::memory:?cache=shared"})
	if err != nil {
		t.Fatalf("graphdb.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, &Env{DB: db, Params: map[string]triple.Node{}}
}

func mustTestValue(t *testing.T, v interface{}) triple.Node {
	t.Helper()
	n, err := triple.NewValue(v)
	if err != nil {
		t.Fatalf("triple.NewValue(%v): %v", v, err)
	}
	return n
}

func compileAndRun(t *testing.T, env *Env, src string) Result {
	t.Helper()
	q, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	if err := Analyze(q, nil); err != nil {
		t.Fatalf("Analyze(%q): %v", src, err)
	}
	res, err := Execute(context.Background(), env, q, Page{})
	if err != nil {
		t.Fatalf("Execute(%q): %v", src, err)
	}
	return res
}

// TestAlbumNameLookup commits a typed entity and reads it back through
// a backward move plus a nested name subchain.
func TestAlbumNameLookup(t *testing.T) {
	db, env := testEnv(t)
	ctx := context.Background()

	a := mustTestValue(t, "a")
	album, err := triple.NewValue("album")
	if err != nil {
		t.Fatal(err)
	}
	name, err := triple.NewValue("Album A")
	if err != nil {
		t.Fatal(err)
	}

	add := []triple.Triple{
		{Subject: a, Predicate: "is", Object: album},
		{Subject: a, Predicate: "name", Object: name},
	}
	if _, err := db.ApplyCommit(ctx, 1000, "seed", add, nil, nil); err != nil {
		t.Fatal(err)
	}

	res := compileAndRun(t, env, `"album" <- "is" { => id -> "name" { => name } }`)
	if len(res.Rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(res.Rows))
	}
	rec := res.Rows[0].Record
	var gotID, gotName string
	rec["id"].Scalar.Value(&gotID)
	rec["name"].Scalar.Value(&gotName)
	if gotID != "a" || gotName != "Album A" {
		t.Fatalf("got {id:%q name:%q}, want {id:a name:Album A}", gotID, gotName)
	}
}

// TestRootLiteral covers property 4: `"v" { => x }` returns exactly one
// record with x = v.
func TestRootLiteral(t *testing.T) {
	_, env := testEnv(t)
	res := compileAndRun(t, env, `"v" { => x }`)
	if len(res.Rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(res.Rows))
	}
	var got string
	res.Rows[0].Record["x"].Scalar.Value(&got)
	if got != "v" {
		t.Fatalf("got x=%q, want v", got)
	}
}

// TestMoveForward covers property 5.
func TestMoveForward(t *testing.T) {
	db, env := testEnv(t)
	ctx := context.Background()
	v := mustTestValue(t, "v")
	o1 := mustTestValue(t, "o1")
	o2 := mustTestValue(t, "o2")
	add := []triple.Triple{
		{Subject: v, Predicate: "p", Object: o1},
		{Subject: v, Predicate: "p", Object: o2},
	}
	if _, err := db.ApplyCommit(ctx, 1000, "seed", add, nil, nil); err != nil {
		t.Fatal(err)
	}

	res := compileAndRun(t, env, `"v" -> "p" { => x }`)
	if len(res.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(res.Rows))
	}
}

// TestRecursiveClosure covers property 6: the closure includes the root.
func TestRecursiveClosure(t *testing.T) {
	db, env := testEnv(t)
	ctx := context.Background()
	a := mustTestValue(t, "a")
	b := mustTestValue(t, "b")
	c := mustTestValue(t, "c")
	add := []triple.Triple{
		{Subject: a, Predicate: "p", Object: b},
		{Subject: b, Predicate: "p", Object: c},
	}
	if _, err := db.ApplyCommit(ctx, 1000, "seed", add, nil, nil); err != nil {
		t.Fatal(err)
	}

	res := compileAndRun(t, env, `"a" ** { -> "p" } { => x }`)
	if len(res.Rows) != 3 {
		t.Fatalf("got %d rows, want 3 (a, b, c)", len(res.Rows))
	}
}

// TestJunctionIntersectAndUnion covers property 7.
func TestJunctionIntersectAndUnion(t *testing.T) {
	db, env := testEnv(t)
	ctx := context.Background()
	v := mustTestValue(t, "v")
	o1 := mustTestValue(t, "o1")
	o2 := mustTestValue(t, "o2")
	o3 := mustTestValue(t, "o3")
	add := []triple.Triple{
		{Subject: v, Predicate: "p1", Object: o1},
		{Subject: v, Predicate: "p1", Object: o2},
		{Subject: v, Predicate: "p2", Object: o2},
		{Subject: v, Predicate: "p2", Object: o3},
	}
	if _, err := db.ApplyCommit(ctx, 1000, "seed", add, nil, nil); err != nil {
		t.Fatal(err)
	}

	and := compileAndRun(t, env, `"v" & { -> "p1" } & { -> "p2" } { => x }`)
	if len(and.Rows) != 1 {
		t.Fatalf("AND: got %d rows, want 1 (o2)", len(and.Rows))
	}

	or := compileAndRun(t, env, `"v" | { -> "p1" } | { -> "p2" } { => x }`)
	if len(or.Rows) != 3 {
		t.Fatalf("OR: got %d rows, want 3 (o1,o2,o3)", len(or.Rows))
	}
}

// TestFirstStep covers property 8 / scenario S5.
func TestFirstStep(t *testing.T) {
	db, env := testEnv(t)
	ctx := context.Background()
	x := mustTestValue(t, "x")
	y1 := mustTestValue(t, "y1")
	y2 := mustTestValue(t, "y2")
	add := []triple.Triple{
		{Subject: x, Predicate: "p", Object: y1},
		{Subject: x, Predicate: "p", Object: y2},
	}
	if _, err := db.ApplyCommit(ctx, 1000, "seed", add, nil, nil); err != nil {
		t.Fatal(err)
	}

	res := compileAndRun(t, env, `"x" -> "p" first { => y }`)
	if len(res.Rows) != 1 {
		t.Fatalf("got %d rows, want 1 (first truncates fan-out)", len(res.Rows))
	}
}

// TestNotExistsFilter covers property 9.
func TestNotExistsFilter(t *testing.T) {
	db, env := testEnv(t)
	ctx := context.Background()
	a := mustTestValue(t, "a")
	b := mustTestValue(t, "b")
	flag, err := triple.NewValue(true)
	if err != nil {
		t.Fatal(err)
	}
	add := []triple.Triple{
		{Subject: a, Predicate: "p", Object: a},
		{Subject: a, Predicate: "flagged", Object: flag},
		{Subject: b, Predicate: "p", Object: b},
	}
	if _, err := db.ApplyCommit(ctx, 1000, "seed", add, nil, nil); err != nil {
		t.Fatal(err)
	}

	yes := compileAndRun(t, env, `"a" -> "p" (? -> "flagged") { => x }`)
	if len(yes.Rows) != 1 {
		t.Fatalf("?: got %d rows, want 1", len(yes.Rows))
	}
	no := compileAndRun(t, env, `"b" -> "p" (!? -> "flagged") { => x }`)
	if len(no.Rows) != 1 {
		t.Fatalf("!?: got %d rows, want 1", len(no.Rows))
	}
	noneMatch := compileAndRun(t, env, `"a" -> "p" (!? -> "flagged") { => x }`)
	if len(noneMatch.Rows) != 0 {
		t.Fatalf("!? on a flagged node: got %d rows, want 0", len(noneMatch.Rows))
	}
}

// TestPaginationCursor pages through a sorted result set with the
// opaque last-row-key cursor.
func TestPaginationCursor(t *testing.T) {
	db, env := testEnv(t)
	ctx := context.Background()
	v := mustTestValue(t, "v")
	var add []triple.Triple
	for i := 0; i < 5; i++ {
		o, err := triple.NewValue(i)
		if err != nil {
			t.Fatal(err)
		}
		add = append(add, triple.Triple{Subject: v, Predicate: "p", Object: o})
	}
	if _, err := db.ApplyCommit(ctx, 1000, "seed", add, nil, nil); err != nil {
		t.Fatal(err)
	}

	q, err := Parse(`"v" -> "p" { => x } sort asc x`)
	if err != nil {
		t.Fatal(err)
	}
	if err := Analyze(q, nil); err != nil {
		t.Fatal(err)
	}

	page1, err := Execute(ctx, env, q, Page{Count: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page1.Rows) != 2 || !page1.HasNextKey {
		t.Fatalf("page1: got %d rows, hasNext=%v", len(page1.Rows), page1.HasNextKey)
	}

	page2, err := Execute(ctx, env, q, Page{Count: 2, Key: page1.NextKey})
	if err != nil {
		t.Fatal(err)
	}
	if len(page2.Rows) != 2 {
		t.Fatalf("page2: got %d rows, want 2", len(page2.Rows))
	}

	var firstOfPage1, firstOfPage2 int
	page1.Rows[0].Record["x"].Scalar.Value(&firstOfPage1)
	page2.Rows[0].Record["x"].Scalar.Value(&firstOfPage2)
	if firstOfPage1 != 0 || firstOfPage2 != 2 {
		t.Fatalf("pagination order broken: page1[0]=%d page2[0]=%d", firstOfPage1, firstOfPage2)
	}
}
