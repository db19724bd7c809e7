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

// Package replay implements the client-side offline replay queue:
// when the server can't be reached, a commit's payload and file bytes
// persist to a per-commit directory keyed by submission timestamp
// (commit.json plus one file per declared hash), and a later drain
// replays those directories in order -- POST the commit, chunk-upload
// every file the response reports incomplete, poll finish until done,
// delete the directory only on full success. The next directory is not
// touched until the current one succeeds.
//
// The drain holds an advisory file lock (github.com/gofrs/flock) so
// two client processes sharing a filesystem can't double-drain, and
// retries a failing directory with exponential backoff before giving
// up on the whole drain.
package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"

	"sunwet.dev/sunwet/pkg/commit"
	"sunwet.dev/sunwet/pkg/fhash"
)

const (
	commitFilename = "commit.json"
	lockName       = "online.lock"
	chunkSize      = 8 << 20
	finishPollWait = time.Second
)

// Transport is what Queue needs from the server connection: submitting a
// commit and driving the chunked upload protocol for
// whatever files the commit reports incomplete.
type Transport interface {
	Commit(ctx context.Context, req commit.Request) (commit.Response, error)
	UploadChunk(ctx context.Context, h fhash.Hash, offset int64, r io.Reader, length int64) error
	UploadFinish(ctx context.Context, h fhash.Hash) (done bool, err error)
}

// Queue is the on-disk replay queue rooted at Dir.
type Queue struct {
	Dir       string
	Transport Transport
	lock      *flock.Flock

	// PollWait is the delay between UploadFinish polls; overridable for
	// tests. Zero uses finishPollWait.
	PollWait time.Duration
	// Sleep is used instead of time.Sleep for PollWait waits, so tests
	// can run without wall-clock delay.
	Sleep func(time.Duration)

	// NewBackOff builds the retry schedule for a single directory's
	// drain attempt; overridable for tests. Nil uses a real exponential
	// backoff capped at 10 retries (11 attempts in all).
	NewBackOff func() backoff.BackOff
}

// Open returns a Queue rooted at dir, creating it if necessary.
func Open(dir string, t Transport) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("replay: creating queue root %s: %w", dir, err)
	}
	return &Queue{
		Dir:       dir,
		Transport: t,
		lock:      flock.New(filepath.Join(dir, lockName)),
	}, nil
}

func (q *Queue) pollWait() time.Duration {
	if q.PollWait > 0 {
		return q.PollWait
	}
	return finishPollWait
}

func (q *Queue) sleep(d time.Duration) {
	if q.Sleep != nil {
		q.Sleep(d)
		return
	}
	time.Sleep(d)
}

// PendingFile is a file to persist alongside a commit, keyed by hash.
type PendingFile struct {
	Hash fhash.Hash
	Data []byte
}

// Enqueue persists req and its files to a new per-commit directory keyed
// by the current time, for later draining. It returns the
// directory's key (its base name).
func Enqueue(root string, now time.Time, req commit.Request, files []PendingFile) (string, error) {
	key := now.UTC().Format(time.RFC3339Nano)
	dir := filepath.Join(root, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("replay: creating commit dir: %w", err)
	}
	b, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("replay: marshaling commit: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, commitFilename), b, 0o644); err != nil {
		return "", fmt.Errorf("replay: writing commit.json: %w", err)
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, fileName(f.Hash)), f.Data, 0o644); err != nil {
			return "", fmt.Errorf("replay: writing file %s: %w", f.Hash, err)
		}
	}
	return key, nil
}

func fileName(h fhash.Hash) string {
	return string(h.Algo()) + "_" + h.Digest()
}

// Drain acquires the queue's exclusion lock and replays every pending
// commit directory in timestamp order, stopping (without touching
// later directories) at the first one that still fails after
// retrying.
func (q *Queue) Drain(ctx context.Context) error {
	if err := q.lock.Lock(); err != nil {
		return fmt.Errorf("replay: acquiring online lock: %w", err)
	}
	defer q.lock.Unlock()

	keys, err := q.pendingKeys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := q.drainOne(ctx, key); err != nil {
			return fmt.Errorf("replay: draining %s: %w", key, err)
		}
	}
	return nil
}

func (q *Queue) pendingKeys() ([]string, error) {
	entries, err := os.ReadDir(q.Dir)
	if err != nil {
		return nil, fmt.Errorf("replay: listing queue root: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			keys = append(keys, e.Name())
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// drainOne replays a single directory, retrying the whole operation
// (commit + every incomplete file's upload + finish poll) with backoff
// until it succeeds or the schedule from NewBackOff runs out; with the
// default schedule it gives up after 10 retries and returns the last
// error. ctx is checked only before the first attempt.
func (q *Queue) drainOne(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	newBackOff := q.NewBackOff
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff { return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 10) }
	}
	op := func() error { return q.replayDir(ctx, key) }
	return backoff.Retry(op, newBackOff())
}

func (q *Queue) replayDir(ctx context.Context, key string) error {
	dir := filepath.Join(q.Dir, key)
	raw, err := os.ReadFile(filepath.Join(dir, commitFilename))
	if err != nil {
		return fmt.Errorf("reading commit.json: %w", err)
	}
	var req commit.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decoding commit.json: %w", err)
	}
	resp, err := q.Transport.Commit(ctx, req)
	if err != nil {
		return fmt.Errorf("posting commit: %w", err)
	}
	for _, h := range resp.Incomplete {
		if err := q.uploadFile(ctx, dir, h); err != nil {
			return err
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing drained commit dir: %w", err)
	}
	return nil
}

func (q *Queue) uploadFile(ctx context.Context, dir string, h fhash.Hash) error {
	path := filepath.Join(dir, fileName(h))
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading pending file %s: %w", h, err)
	}
	size := int64(len(data))
	for offset := int64(0); offset < size || size == 0; offset += chunkSize {
		length := int64(chunkSize)
		if offset+length > size {
			length = size - offset
		}
		chunk := data[offset : offset+length]
		if err := q.Transport.UploadChunk(ctx, h, offset, bytes.NewReader(chunk), length); err != nil {
			return fmt.Errorf("uploading chunk at offset %d: %w", offset, err)
		}
		if size == 0 {
			break
		}
	}
	for {
		done, err := q.Transport.UploadFinish(ctx, h)
		if err != nil {
			return fmt.Errorf("finishing upload: %w", err)
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		q.sleep(q.pollWait())
	}
}
