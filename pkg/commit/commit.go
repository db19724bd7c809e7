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

// Package commit applies a client-submitted commit to the graph and
// reports which of its declared files are not yet present in file
// storage. It is a thin orchestration layer over graphdb.ApplyCommit;
// the interesting graph-state logic lives in graphdb/write.go.
package commit

import (
	"context"
	"fmt"
	"time"

	"sunwet.dev/sunwet/pkg/fhash"
	"sunwet.dev/sunwet/pkg/graphdb"
	"sunwet.dev/sunwet/pkg/triple"
)

// FileDecl is one file a commit declares: a hash plus the
// size/mimetype meta row recorded for it.
type FileDecl struct {
	Hash     fhash.Hash
	Size     int64
	Mimetype string
}

// Request is a commit as submitted by a client: the add/remove triple
// sets, any newly-declared files, and a human-readable description.
type Request struct {
	Add     []triple.Triple
	Remove  []triple.Triple
	Files   []FileDecl
	Comment string
}

// Response reports what the commit produced: its assigned commit ID,
// and which declared files are not yet backed by an uploaded blob.
type Response struct {
	CommitID   int64
	Incomplete []fhash.Hash
}

// Notifier is told about every file a commit declares, regardless of
// whether it is already present, so a caller (e.g. the generator
// pipeline) can kick off work the moment a commit references a hash.
type Notifier interface {
	Notify(h fhash.Hash)
}

// Store reports whether a file's blob has reached file storage yet.
// filestore.Store satisfies this directly.
type Store interface {
	Exists(h fhash.Hash) (bool, int64, error)
}

// Apply commits req against db, then checks each declared file's
// presence in store, reporting any that are missing. notify may be nil.
func Apply(ctx context.Context, db *graphdb.DB, store Store, notify Notifier, req Request) (Response, error) {
	now := time.Now().UTC().UnixMicro()

	files := make([]graphdb.FileMeta, len(req.Files))
	for i, f := range req.Files {
		files[i] = graphdb.FileMeta{Hash: f.Hash, Size: f.Size, Mimetype: f.Mimetype}
	}

	result, err := db.ApplyCommit(ctx, now, req.Comment, req.Add, req.Remove, files)
	if err != nil {
		return Response{}, fmt.Errorf("commit: applying: %w", err)
	}

	var incomplete []fhash.Hash
	for _, f := range req.Files {
		present, _, err := store.Exists(f.Hash)
		if err != nil {
			return Response{}, fmt.Errorf("commit: checking file presence: %w", err)
		}
		if !present {
			incomplete = append(incomplete, f.Hash)
		}
		if notify != nil {
			notify.Notify(f.Hash)
		}
	}

	return Response{CommitID: result.CommitID, Incomplete: incomplete}, nil
}
