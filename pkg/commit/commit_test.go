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

package commit

import (
	"context"
	"testing"

	"sunwet.dev/sunwet/pkg/fhash"
	"sunwet.dev/sunwet/pkg/graphdb"
	"sunwet.dev/sunwet/pkg/triple"
)

type fakeStore struct {
	present map[string]bool
}

func (f *fakeStore) Exists(h fhash.Hash) (bool, int64, error) {
	return f.present[h.String()], 1, nil
}

type fakeNotifier struct {
	notified []fhash.Hash
}

func (f *fakeNotifier) Notify(h fhash.Hash) {
	f.notified = append(f.notified, h)
}

func testDB(t *testing.T) *graphdb.DB {
	t.Helper()
	db, err := graphdb.Open(graphdb.Config{Driver: "sqlite3", DSN: "file::memory:?cache=shared"})
	if err != nil {
		t.Fatalf("graphdb.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustValue(t *testing.T, v interface{}) triple.Node {
	t.Helper()
	n, err := triple.NewValue(v)
	if err != nil {
		t.Fatalf("triple.NewValue(%v): %v", v, err)
	}
	return n
}

func mustHash(t *testing.T, seed byte) fhash.Hash {
	t.Helper()
	digest := make([]byte, 32)
	digest[0] = seed
	h, err := fhash.FromDigest(fhash.SHA256, digest)
	if err != nil {
		t.Fatalf("fhash.FromDigest: %v", err)
	}
	return h
}

// TestApplyReportsIncompleteFiles covers the "files not yet
// uploaded are reported back as incomplete".
func TestApplyReportsIncompleteFiles(t *testing.T) {
	db := testDB(t)
	present := mustHash(t, 1)
	missing := mustHash(t, 2)
	store := &fakeStore{present: map[string]bool{present.String(): true}}
	notify := &fakeNotifier{}

	a := mustValue(t, "a")
	req := Request{
		Add:     []triple.Triple{{Subject: a, Predicate: "is", Object: a}},
		Files:   []FileDecl{{Hash: present, Size: 1, Mimetype: "text/plain"}, {Hash: missing, Size: 2, Mimetype: "text/plain"}},
		Comment: "seed",
	}

	resp, err := Apply(context.Background(), db, store, notify, req)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if resp.CommitID == 0 {
		t.Fatal("expected a nonzero commit id")
	}
	if len(resp.Incomplete) != 1 || resp.Incomplete[0].String() != missing.String() {
		t.Fatalf("got incomplete=%v, want [%v]", resp.Incomplete, missing)
	}
	if len(notify.notified) != 2 {
		t.Fatalf("expected both declared files notified, got %d", len(notify.notified))
	}
}

// TestDiff covers the merge-commit reconciliation that
// prepare-merge-commit relies on.
func TestDiff(t *testing.T) {
	a, b, c := mustValue(t, "a"), mustValue(t, "b"), mustValue(t, "c")
	desired := []triple.Triple{
		{Subject: a, Predicate: "p", Object: b},
		{Subject: a, Predicate: "p", Object: c},
	}
	observed := []triple.Triple{
		{Subject: a, Predicate: "p", Object: b},
	}

	add, remove := Diff(desired, observed)
	if len(add) != 1 || add[0].Object.Key() != c.Key() {
		t.Fatalf("got add=%v, want one triple to c", add)
	}
	if len(remove) != 0 {
		t.Fatalf("got remove=%v, want none", remove)
	}

	add, remove = Diff(observed, desired)
	if len(add) != 0 {
		t.Fatalf("got add=%v, want none", add)
	}
	if len(remove) != 1 || remove[0].Object.Key() != c.Key() {
		t.Fatalf("got remove=%v, want one triple to c", remove)
	}
}
