/*
Copyright 2012 The Camlistore Authors.

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

package graphdb

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"sunwet.dev/sunwet/pkg/fhash"
	"sunwet.dev/sunwet/pkg/triple"
)

// writeMu serializes writers on the SQLite backend, which returns
// "database is locked" under concurrent write transactions; it is a
// no-op for the MySQL backend, whose server handles its own locking.
var writeMu sync.Mutex

// FileMeta is a file's declared attributes, written to the meta table
// alongside the commit that first references the file.
type FileMeta struct {
	Hash     fhash.Hash
	Size     int64
	Mimetype string
}

// CommitResult reports what a commit actually changed.
type CommitResult struct {
	CommitID  int64
	Timestamp int64
	Changed   int // number of triple rows actually written (post-dedup)
}

// ApplyCommit is the transactional write step of a commit: allocate a
// commit row -- commit ids are simply the commit's UTC-microsecond
// timestamp -- then for each add/remove triple, compare against the
// live state and write a new row only when that changes the live state
// (duplicate/no-op changes are elided; reasserting an already-live
// triple writes nothing). Meta rows for the commit's files are
// upserted in the same transaction.
//
// timestampMicros and description are supplied by the caller (pkg/commit)
// so that this function stays pure data-layer and testable without a
// wall clock.
func (db *DB) ApplyCommit(ctx context.Context, timestampMicros int64, description string, add, remove []triple.Triple, files []FileMeta) (CommitResult, error) {
	if db.dialect == DialectSQLite {
		writeMu.Lock()
		defer writeMu.Unlock()
	}

	tx, err := db.beginTx(ctx)
	if err != nil {
		return CommitResult{}, fmt.Errorf("graphdb: beginning commit transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO commit_log (id, timestamp, description) VALUES (?, ?, ?)`,
		timestampMicros, timestampMicros, description,
	); err != nil {
		return CommitResult{}, fmt.Errorf("graphdb: writing commit row: %w", err)
	}

	changed := 0
	for _, t := range add {
		wrote, err := applyTripleChange(ctx, tx, t, true, timestampMicros, timestampMicros)
		if err != nil {
			return CommitResult{}, err
		}
		if wrote {
			changed++
		}
	}
	for _, t := range remove {
		wrote, err := applyTripleChange(ctx, tx, t, false, timestampMicros, timestampMicros)
		if err != nil {
			return CommitResult{}, err
		}
		if wrote {
			changed++
		}
	}

	for _, f := range files {
		if err := upsertMeta(ctx, tx, db.dialect, f.Hash, f.Mimetype, f.Size); err != nil {
			return CommitResult{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return CommitResult{}, fmt.Errorf("graphdb: committing: %w", err)
	}
	committed = true

	return CommitResult{CommitID: timestampMicros, Timestamp: timestampMicros, Changed: changed}, nil
}

// applyTripleChange writes a new row for t's (s,p,o) key with the given
// exists value, unless the live state already agrees with it.
func applyTripleChange(ctx context.Context, tx *sql.Tx, t triple.Triple, wantExists bool, timestamp, commitID int64) (bool, error) {
	subject, object := t.Subject.Key(), t.Object.Key()

	live, found, err := currentState(ctx, tx, subject, t.Predicate, object)
	if err != nil {
		return false, err
	}
	// A key with no prior row at all has no live state, so it is never
	// "live" -- a remove of a triple that never existed must elide the
	// same way a remove of a present-but-absent triple does.
	effectiveLive := found && live
	if effectiveLive == wantExists {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO triple (subject, predicate, object, timestamp, exists_flag, commit_id) VALUES (?, ?, ?, ?, ?, ?)`,
		subject, t.Predicate, object, timestamp, boolToInt(wantExists), commitID,
	); err != nil {
		return false, fmt.Errorf("graphdb: writing triple row: %w", err)
	}
	return true, nil
}

// currentState returns the live exists-flag for a (subject, predicate,
// object) key: the value held by the row with the maximum timestamp.
func currentState(ctx context.Context, q querier, subject, predicate, object string) (exists bool, found bool, err error) {
	var flag int
	err = q.QueryRowContext(ctx,
		`SELECT exists_flag FROM triple WHERE subject = ? AND predicate = ? AND object = ? ORDER BY timestamp DESC LIMIT 1`,
		subject, predicate, object,
	).Scan(&flag)
	if err == sql.ErrNoRows {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("graphdb: reading current triple state: %w", err)
	}
	return flag != 0, true, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// upsertMeta writes or refreshes a file's meta row.
func upsertMeta(ctx context.Context, tx *sql.Tx, d Dialect, h fhash.Hash, mimetype string, size int64) error {
	node := triple.NewFile(h).Key()
	if d == DialectMySQL {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO meta (node, mimetype, size) VALUES (?, ?, ?)
			 ON DUPLICATE KEY UPDATE mimetype = VALUES(mimetype), size = VALUES(size)`,
			node, mimetype, size,
		)
		if err != nil {
			return fmt.Errorf("graphdb: upserting meta row: %w", err)
		}
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO meta (node, mimetype, size) VALUES (?, ?, ?)
		 ON CONFLICT(node) DO UPDATE SET mimetype = excluded.mimetype, size = excluded.size`,
		node, mimetype, size,
	)
	if err != nil {
		return fmt.Errorf("graphdb: upserting meta row: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
