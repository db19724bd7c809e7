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

package upload

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"io"
	"math/rand"
	"os"
	"testing"

	"sunwet.dev/sunwet/pkg/fhash"
	"sunwet.dev/sunwet/pkg/filestore"
)

func testMachine(t *testing.T, sizeOf SizeLookup) (*Machine, *filestore.Store) {
	t.Helper()
	root := t.TempDir()
	store, err := filestore.New(root, root)
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	return New(store, sizeOf), store
}

func hashOf(t *testing.T, data []byte) fhash.Hash {
	t.Helper()
	sum := sha256.Sum256(data)
	h, err := fhash.FromDigest(fhash.SHA256, sum[:])
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func readStored(t *testing.T, store *filestore.Store, h fhash.Hash) []byte {
	t.Helper()
	f, _, err := store.Open(h)
	if err != nil {
		t.Fatalf("opening stored blob: %v", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// TestChunkingInvariance uploads the same content in several chunkings,
// including out-of-order offsets, and expects identical stored bytes
// every time.
func TestChunkingInvariance(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	data := make([]byte, 300<<10)
	rnd.Read(data)

	type chunk struct{ offset, length int64 }
	chunkings := map[string][]chunk{
		"one shot": {{0, int64(len(data))}},
		"even": {
			{0, 100 << 10},
			{100 << 10, 100 << 10},
			{200 << 10, 100 << 10},
		},
		"uneven tail": {
			{0, 256 << 10},
			{256 << 10, 44 << 10},
		},
		"out of order": {
			{200 << 10, 100 << 10},
			{0, 100 << 10},
			{100 << 10, 100 << 10},
		},
	}

	for name, chunks := range chunkings {
		t.Run(name, func(t *testing.T) {
			m, store := testMachine(t, nil)
			h := hashOf(t, data)
			for _, c := range chunks {
				body := bytes.NewReader(data[c.offset : c.offset+c.length])
				if err := m.WriteChunk(h, c.offset, c.length, body); err != nil {
					t.Fatalf("WriteChunk(%d, %d): %v", c.offset, c.length, err)
				}
			}
			res, err := m.Finish(h)
			if err != nil {
				t.Fatalf("Finish: %v", err)
			}
			if !res.Done {
				t.Fatalf("Finish: done=false, want true")
			}
			if got := readStored(t, store, h); !bytes.Equal(got, data) {
				t.Fatalf("stored bytes differ from input (%d vs %d bytes)", len(got), len(data))
			}
		})
	}
}

// TestFinishIdempotent covers the finish protocol's repeat calls: a
// second finish with no stage file reports done when the blob already
// landed.
func TestFinishIdempotent(t *testing.T) {
	m, _ := testMachine(t, nil)
	data := []byte("idempotent finish")
	h := hashOf(t, data)

	if err := m.WriteChunk(h, 0, int64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatal(err)
	}
	res, err := m.Finish(h)
	if err != nil || !res.Done {
		t.Fatalf("first Finish = (%v, %v), want (done, nil)", res, err)
	}

	res, err = m.Finish(h)
	if err != nil || !res.Done {
		t.Fatalf("repeat Finish = (%v, %v), want (done, nil)", res, err)
	}
}

func TestFinishNothingStaged(t *testing.T) {
	m, _ := testMachine(t, nil)
	h := hashOf(t, []byte("never uploaded"))
	res, err := m.Finish(h)
	if err != nil {
		t.Fatalf("Finish with nothing staged: %v", err)
	}
	if res.Done {
		t.Fatalf("Finish with nothing staged reported done")
	}
}

// TestHashMismatchDiscardsStage: a finish whose rehash disagrees with
// the claimed hash removes the stage file and reports done=false.
func TestHashMismatchDiscardsStage(t *testing.T) {
	m, store := testMachine(t, nil)
	claimed := hashOf(t, []byte("what the client claimed"))
	actual := []byte("what actually got uploaded")

	if err := m.WriteChunk(claimed, 0, int64(len(actual)), bytes.NewReader(actual)); err != nil {
		t.Fatal(err)
	}
	res, err := m.Finish(claimed)
	if !errors.Is(err, filestore.ErrHashMismatch) {
		t.Fatalf("Finish error = %v, want ErrHashMismatch", err)
	}
	if res.Done {
		t.Fatalf("mismatched finish reported done")
	}

	stagePath, err := store.StagePath(claimed)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stagePath); !os.IsNotExist(err) {
		t.Fatalf("stage file survived a hash mismatch")
	}
}

// TestRetrySameOffset re-writes an already-written chunk; a retried
// offset must leave the staged bytes unchanged.
func TestRetrySameOffset(t *testing.T) {
	m, store := testMachine(t, nil)
	data := []byte("0123456789abcdef")
	h := hashOf(t, data)

	if err := m.WriteChunk(h, 0, 8, bytes.NewReader(data[:8])); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteChunk(h, 8, 8, bytes.NewReader(data[8:])); err != nil {
		t.Fatal(err)
	}
	// Retry of the first chunk after it's already down.
	if err := m.WriteChunk(h, 0, 8, bytes.NewReader(data[:8])); err != nil {
		t.Fatal(err)
	}

	res, err := m.Finish(h)
	if err != nil || !res.Done {
		t.Fatalf("Finish = (%v, %v), want (done, nil)", res, err)
	}
	if got := readStored(t, store, h); !bytes.Equal(got, data) {
		t.Fatalf("stored bytes corrupted by retried chunk: %q", got)
	}
}

func TestOffsetBounds(t *testing.T) {
	declared := int64(10)
	sizeOf := func(fhash.Hash) (int64, bool, error) { return declared, true, nil }
	m, _ := testMachine(t, sizeOf)
	h := hashOf(t, []byte("bounded"))

	if err := m.WriteChunk(h, 8, 4, bytes.NewReader(make([]byte, 4))); err != ErrOffsetOutOfRange {
		t.Fatalf("overlong chunk: got %v, want ErrOffsetOutOfRange", err)
	}
	if err := m.WriteChunk(h, 6, 4, bytes.NewReader(make([]byte, 4))); err != nil {
		t.Fatalf("in-bounds chunk rejected: %v", err)
	}
}
