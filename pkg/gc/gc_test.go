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

package gc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sunwet.dev/sunwet/pkg/fhash"
	"sunwet.dev/sunwet/pkg/filestore"
	"sunwet.dev/sunwet/pkg/graphdb"
	"sunwet.dev/sunwet/pkg/triple"
)

func testDB(t *testing.T) *graphdb.DB {
	t.Helper()
	db, err := graphdb.Open(graphdb.Config{Driver: "sqlite3", DSN: "file::memory:?cache=shared"})
	if err != nil {
		t.Fatalf("graphdb.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testStore(t *testing.T) *filestore.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := filestore.New(filepath.Join(dir, "persistent"), filepath.Join(dir, "cache"))
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	return s
}

func writeAt(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestSweepBlobDirDropsOrphans(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	store := testStore(t)

	withMeta := mustHash(t, "a")
	orphan := mustHash(t, "b")

	withPath, err := store.FilePath(withMeta)
	if err != nil {
		t.Fatal(err)
	}
	writeAt(t, withPath, time.Now())
	orphanPath, err := store.FilePath(orphan)
	if err != nil {
		t.Fatal(err)
	}
	writeAt(t, orphanPath, time.Now())

	subj := mustValue(t, "f")
	fileNode := triple.NewFile(withMeta)
	add := []triple.Triple{{Subject: subj, Predicate: "has", Object: fileNode}}
	files := []graphdb.FileMeta{{Hash: withMeta, Size: 1, Mimetype: "text/plain"}}
	if _, err := db.ApplyCommit(ctx, 1000, "seed", add, nil, files); err != nil {
		t.Fatal(err)
	}

	deleted, err := sweepBlobDir(ctx, db, store.FilesRoot(), Config{}.withDefaults())
	if err != nil {
		t.Fatalf("sweepBlobDir: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("got %d deleted, want 1", deleted)
	}
	if _, err := os.Stat(orphanPath); !os.IsNotExist(err) {
		t.Fatalf("orphan blob still present: %v", err)
	}
	if _, err := os.Stat(withPath); err != nil {
		t.Fatalf("referenced blob was wrongly deleted: %v", err)
	}
}

func TestSweepStageDirAge(t *testing.T) {
	store := testStore(t)
	now := time.Now()

	oldPath := filepath.Join(store.StageRoot(), "sha256_old")
	writeAt(t, oldPath, now.Add(-4*24*time.Hour))
	freshPath := filepath.Join(store.StageRoot(), "sha256_fresh")
	writeAt(t, freshPath, now)

	deleted, err := sweepStageDir(store.StageRoot(), now, 3*24*time.Hour)
	if err != nil {
		t.Fatalf("sweepStageDir: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("got %d deleted, want 1", deleted)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatal("stale stage file still present")
	}
	if _, err := os.Stat(freshPath); err != nil {
		t.Fatal("fresh stage file wrongly deleted")
	}
}

func TestSweepGenfilesDirDropsOrphans(t *testing.T) {
	store := testStore(t)
	base := mustHash(t, "c")

	keptGen, err := store.GenfilePath(base, "transcode:video/webm")
	if err != nil {
		t.Fatal(err)
	}
	writeAt(t, keptGen, time.Now())

	basePath, err := store.FilePath(base)
	if err != nil {
		t.Fatal(err)
	}
	writeAt(t, basePath, time.Now())

	orphanBase := mustHash(t, "d")
	orphanGen, err := store.GenfilePath(orphanBase, "transcode:video/webm")
	if err != nil {
		t.Fatal(err)
	}
	writeAt(t, orphanGen, time.Now())

	deleted, err := sweepGenfilesDir(context.Background(), store, Config{}.withDefaults())
	if err != nil {
		t.Fatalf("sweepGenfilesDir: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("got %d deleted, want 1", deleted)
	}
	if _, err := os.Stat(orphanGen); !os.IsNotExist(err) {
		t.Fatal("orphan generated file still present")
	}
	if _, err := os.Stat(keptGen); err != nil {
		t.Fatal("generated file for a present base blob was wrongly deleted")
	}
}

func mustHash(t *testing.T, seed string) fhash.Hash {
	t.Helper()
	digest := make([]byte, 32)
	copy(digest, []byte(seed))
	h, err := fhash.FromDigest(fhash.SHA256, digest)
	if err != nil {
		t.Fatalf("fhash.FromDigest: %v", err)
	}
	return h
}

func mustValue(t *testing.T, v interface{}) triple.Node {
	t.Helper()
	n, err := triple.NewValue(v)
	if err != nil {
		t.Fatalf("triple.NewValue(%v): %v", v, err)
	}
	return n
}
