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

package replay

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff"

	"sunwet.dev/sunwet/pkg/commit"
	"sunwet.dev/sunwet/pkg/fhash"
)

type fakeTransport struct {
	mu          sync.Mutex
	commits     []commit.Request
	chunks      map[string][]byte
	finishCalls map[string]int
	failCommits int // fail this many Commit calls before succeeding
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{chunks: map[string][]byte{}, finishCalls: map[string]int{}}
}

func (f *fakeTransport) Commit(ctx context.Context, req commit.Request) (commit.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCommits > 0 {
		f.failCommits--
		return commit.Response{}, io.ErrUnexpectedEOF
	}
	f.commits = append(f.commits, req)
	var incomplete []fhash.Hash
	for _, file := range req.Files {
		incomplete = append(incomplete, file.Hash)
	}
	return commit.Response{Incomplete: incomplete}, nil
}

func (f *fakeTransport) UploadChunk(ctx context.Context, h fhash.Hash, offset int64, r io.Reader, length int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := f.chunks[h.String()]
	need := int(offset) + len(data)
	if len(buf) < need {
		grown := make([]byte, need)
		copy(grown, buf)
		buf = grown
	}
	copy(buf[offset:], data)
	f.chunks[h.String()] = buf
	return nil
}

func (f *fakeTransport) UploadFinish(ctx context.Context, h fhash.Hash) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishCalls[h.String()]++
	return true, nil
}

func hashOf(t *testing.T, data []byte) fhash.Hash {
	t.Helper()
	sum := sha256.Sum256(data)
	h, err := fhash.FromDigest(fhash.SHA256, sum[:])
	if err != nil {
		t.Fatalf("FromDigest: %v", err)
	}
	return h
}

func TestEnqueueAndDrain(t *testing.T) {
	root := t.TempDir()
	data := []byte("hello world, this is file content")
	h := hashOf(t, data)

	req := commit.Request{
		Files:   []commit.FileDecl{{Hash: h, Size: int64(len(data)), Mimetype: "text/plain"}},
		Comment: "test commit",
	}
	key, err := Enqueue(root, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), req, []PendingFile{{Hash: h, Data: data}})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, key, commitFilename)); err != nil {
		t.Fatalf("commit.json missing: %v", err)
	}

	ft := newFakeTransport()
	q, err := Open(root, ft)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	q.Sleep = func(time.Duration) {}

	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if len(ft.commits) != 1 {
		t.Fatalf("got %d commits posted, want 1", len(ft.commits))
	}
	if !bytes.Equal(ft.chunks[h.String()], data) {
		t.Fatalf("uploaded bytes = %q, want %q", ft.chunks[h.String()], data)
	}
	if ft.finishCalls[h.String()] == 0 {
		t.Fatal("UploadFinish was never called")
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.IsDir() && e.Name() == key {
			t.Fatal("drained directory should have been removed")
		}
	}
}

func TestDrainStopsAtFirstFailure(t *testing.T) {
	root := t.TempDir()
	data := []byte("x")
	h := hashOf(t, data)
	req := commit.Request{Files: []commit.FileDecl{{Hash: h, Size: 1, Mimetype: "text/plain"}}}

	key1, err := Enqueue(root, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), req, []PendingFile{{Hash: h, Data: data}})
	if err != nil {
		t.Fatalf("Enqueue 1: %v", err)
	}
	key2, err := Enqueue(root, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), req, []PendingFile{{Hash: h, Data: data}})
	if err != nil {
		t.Fatalf("Enqueue 2: %v", err)
	}
	if key1 >= key2 {
		t.Fatalf("expected key1 < key2 for timestamp ordering, got %q, %q", key1, key2)
	}

	ft := newFakeTransport()
	// Every Commit call fails, so drainOne for key1 exhausts its retries
	// and Drain must stop before ever touching key2.
	ft.failCommits = 1 << 30
	q, err := Open(root, ft)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	q.Sleep = func(time.Duration) {}
	q.NewBackOff = func() backoff.BackOff {
		b := backoff.NewConstantBackOff(time.Millisecond)
		return backoff.WithMaxRetries(b, 2)
	}

	err = q.Drain(context.Background())
	if err == nil {
		t.Fatal("expected Drain to report the persistent failure")
	}

	if _, err := os.Stat(filepath.Join(root, key2, commitFilename)); err != nil {
		t.Fatalf("key2's commit.json should still be on disk untouched: %v", err)
	}
}
