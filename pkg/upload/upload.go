/*
Copyright 2011 Google Inc.

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

// Package upload implements the chunked, resumable upload state
// machine (Idle -> Staging -> Finishing -> Finalized | Failed): chunk
// writes are serialized per hash, and a process-wide guard set makes
// the finish step single-writer per hash.
package upload

import (
	"fmt"
	"io"
	"os"
	"sync"

	"sunwet.dev/sunwet/pkg/fhash"
	"sunwet.dev/sunwet/pkg/filestore"
)

// ErrBusy describes a finish request that arrives while another
// finalizer for the same hash is already in flight. Finish does not
// return it: it reports that case as FinishResult{Done: false} with a
// nil error.
var ErrBusy = fmt.Errorf("upload: another finalize is already in progress for this hash")

// ErrOffsetOutOfRange is returned when a chunk's offset+length would
// exceed the declared size for the hash.
var ErrOffsetOutOfRange = fmt.Errorf("upload: chunk offset+length exceeds declared size")

// SizeLookup resolves the mime-declared size for a hash from the meta
// table, so chunk writes can be bounds-checked. Implemented by
// graphdb.DB in production; a plain func makes upload package-testable
// without a live DB.
type SizeLookup func(h fhash.Hash) (size int64, ok bool, err error)

// Machine coordinates chunked uploads into a filestore.Store. It is
// safe for concurrent use; one Machine is shared by all HTTP handlers
// for a server process.
type Machine struct {
	store       *filestore.Store
	sizeOf      SizeLookup
	finishingMu sync.Mutex
	finishing   map[fhash.Hash]bool // guards concurrent Finish calls per hash

	chunkMu sync.Mutex
	chunk   map[fhash.Hash]*sync.Mutex // per-hash serialization of chunk writes
}

// New returns a Machine backed by store, consulting sizeOf for the
// declared size of uploads in progress.
func New(store *filestore.Store, sizeOf SizeLookup) *Machine {
	return &Machine{
		store:     store,
		sizeOf:    sizeOf,
		finishing: make(map[fhash.Hash]bool),
		chunk:     make(map[fhash.Hash]*sync.Mutex),
	}
}

func (m *Machine) chunkLock(h fhash.Hash) *sync.Mutex {
	m.chunkMu.Lock()
	defer m.chunkMu.Unlock()
	l, ok := m.chunk[h]
	if !ok {
		l = &sync.Mutex{}
		m.chunk[h] = l
	}
	return l
}

// WriteChunk writes length bytes from r into the stage file for h at
// offset. Concurrent WriteChunk calls for the same hash are serialized;
// calls for different hashes proceed independently.
func (m *Machine) WriteChunk(h fhash.Hash, offset int64, length int64, r io.Reader) error {
	if m.sizeOf != nil {
		if declared, ok, err := m.sizeOf(h); err != nil {
			return fmt.Errorf("upload: looking up declared size: %w", err)
		} else if ok && offset+length > declared {
			return ErrOffsetOutOfRange
		}
	}

	lock := m.chunkLock(h)
	lock.Lock()
	defer lock.Unlock()

	path, err := m.store.StagePath(h)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("upload: opening stage file: %w", err)
	}
	defer f.Close()
	if _, err := f.Seek(offset, 0); err != nil {
		return fmt.Errorf("upload: seeking stage file: %w", err)
	}
	if _, err := io.CopyN(f, r, length); err != nil && err != io.EOF {
		return fmt.Errorf("upload: writing stage chunk: %w", err)
	}
	return f.Sync()
}

// FinishResult is the response shape for an upload-finish request.
type FinishResult struct {
	Done bool
}

// Finish verifies and promotes the staged upload for h. It is
// idempotent: a finish with nothing staged reports done iff the blob
// already landed, and concurrent finishes for the same hash see the
// guard and report not-done until the in-progress finalizer completes.
func (m *Machine) Finish(h fhash.Hash) (FinishResult, error) {
	m.finishingMu.Lock()
	if m.finishing[h] {
		m.finishingMu.Unlock()
		return FinishResult{Done: false}, nil
	}
	m.finishing[h] = true
	m.finishingMu.Unlock()
	defer func() {
		m.finishingMu.Lock()
		delete(m.finishing, h)
		m.finishingMu.Unlock()
	}()

	stagePath, err := m.store.StagePath(h)
	if err != nil {
		return FinishResult{}, err
	}
	stageFile, err := os.Open(stagePath)
	if os.IsNotExist(err) {
		exists, _, statErr := m.store.Exists(h)
		if statErr != nil {
			return FinishResult{}, statErr
		}
		return FinishResult{Done: exists}, nil
	} else if err != nil {
		return FinishResult{}, fmt.Errorf("upload: opening stage file: %w", err)
	}

	gotHash, _, err := filestore.HashStream(stageFile)
	stageFile.Close()
	if err != nil {
		return FinishResult{}, fmt.Errorf("upload: rehashing stage file: %w", err)
	}
	if gotHash != h {
		// Consistency failure: discard the stage file and report failure;
		// client is expected to re-upload.
		os.Remove(stagePath)
		return FinishResult{Done: false}, filestore.ErrHashMismatch
	}

	destPath, err := m.store.FilePath(h)
	if err != nil {
		return FinishResult{}, err
	}
	if err := filestore.FinalizeRename(stagePath, destPath); err != nil {
		return FinishResult{}, fmt.Errorf("upload: finalizing: %w", err)
	}
	return FinishResult{Done: true}, nil
}
