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
	"strings"

	"sunwet.dev/sunwet/pkg/fhash"
	"sunwet.dev/sunwet/pkg/triple"
)

// CurrentState reports the live exists-flag for a (subject, predicate,
// object) key, outside of any write transaction. The query compiler
// uses the triple table directly for bulk reads; this is for the
// single-key lookups the commit and CLI "get-node" paths need.
func (db *DB) CurrentState(ctx context.Context, subject triple.Node, predicate string, object triple.Node) (exists bool, found bool, err error) {
	return currentState(ctx, db.sqldb, subject.Key(), predicate, object.Key())
}

// TriplesAround returns every live triple with node as its subject or
// as its object, backing the "get_triples_around" API kind and the
// CLI's get-node: a one-hop neighborhood view of a node, as opposed to
// History's full version log of a single subject. Uses the same
// latest-row-per-key CTE as Search.
func (db *DB) TriplesAround(ctx context.Context, node triple.Node) ([]triple.Triple, error) {
	key := node.Key()
	rows, err := db.sqldb.QueryContext(ctx, `
WITH live AS (
  SELECT subject, predicate, object,
    ROW_NUMBER() OVER (PARTITION BY subject, predicate, object ORDER BY timestamp DESC) AS rn,
    exists_flag
  FROM triple
)
SELECT subject, predicate, object FROM live WHERE rn = 1 AND exists_flag = 1 AND (subject = ? OR object = ?)
`, key, key)
	if err != nil {
		return nil, fmt.Errorf("graphdb: triples-around scan: %w", err)
	}
	defer rows.Close()

	var out []triple.Triple
	for rows.Next() {
		var subjKey, predicate, objKey string
		if err := rows.Scan(&subjKey, &predicate, &objKey); err != nil {
			return nil, fmt.Errorf("graphdb: scanning triples-around row: %w", err)
		}
		subj, err := triple.ParseKey(subjKey)
		if err != nil {
			return nil, fmt.Errorf("graphdb: parsing triples-around subject: %w", err)
		}
		obj, err := triple.ParseKey(objKey)
		if err != nil {
			return nil, fmt.Errorf("graphdb: parsing triples-around object: %w", err)
		}
		out = append(out, triple.Triple{Subject: subj, Predicate: predicate, Object: obj})
	}
	return out, rows.Err()
}

// Meta is a file's declared attributes as stored in the meta table.
type Meta struct {
	Mimetype string
	Size     int64
}

// GetMeta returns h's meta row, if one exists.
func (db *DB) GetMeta(ctx context.Context, h fhash.Hash) (Meta, bool, error) {
	var m Meta
	err := db.sqldb.QueryRowContext(ctx,
		`SELECT mimetype, size FROM meta WHERE node = ?`, triple.NewFile(h).Key(),
	).Scan(&m.Mimetype, &m.Size)
	if err == sql.ErrNoRows {
		return Meta{}, false, nil
	}
	if err != nil {
		return Meta{}, false, fmt.Errorf("graphdb: reading meta row: %w", err)
	}
	return m, true, nil
}

// FileSize implements pkg/upload.SizeLookup's shape for wiring at server
// startup (upload.New(store, db.FileSize)); it looks up the declared
// size from the meta table written at commit time.
func (db *DB) FileSize(h fhash.Hash) (int64, bool, error) {
	m, ok, err := db.GetMeta(context.Background(), h)
	return m.Size, ok, err
}

// ListAllFiles returns every hash with a meta row, for the generator
// pipeline's "sweep all files" job.
func (db *DB) ListAllFiles(ctx context.Context) ([]fhash.Hash, error) {
	rows, err := db.sqldb.QueryContext(ctx, `SELECT node FROM meta ORDER BY node`)
	if err != nil {
		return nil, fmt.Errorf("graphdb: listing meta nodes: %w", err)
	}
	defer rows.Close()

	var out []fhash.Hash
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("graphdb: scanning meta node: %w", err)
		}
		n, err := triple.ParseKey(key)
		if err != nil {
			return nil, fmt.Errorf("graphdb: parsing meta node: %w", err)
		}
		if !n.IsFile() {
			continue
		}
		out = append(out, n.File())
	}
	return out, rows.Err()
}

// Gen is one derived-artifact record from the gen table.
type Gen struct {
	Gentype  string
	Mimetype string
}

// ListGen returns every derived artifact recorded for h.
func (db *DB) ListGen(ctx context.Context, h fhash.Hash) ([]Gen, error) {
	rows, err := db.sqldb.QueryContext(ctx,
		`SELECT gentype, mimetype FROM gen WHERE node = ? ORDER BY gentype`, triple.NewFile(h).Key(),
	)
	if err != nil {
		return nil, fmt.Errorf("graphdb: listing gen rows: %w", err)
	}
	defer rows.Close()

	var out []Gen
	for rows.Next() {
		var g Gen
		if err := rows.Scan(&g.Gentype, &g.Mimetype); err != nil {
			return nil, fmt.Errorf("graphdb: scanning gen row: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GetGen returns the gen row for one (hash, gentype) derivation, used
// by the file handler to serve a generated artifact with its own
// mimetype rather than the source file's.
func (db *DB) GetGen(ctx context.Context, h fhash.Hash, gentype string) (Gen, bool, error) {
	g := Gen{Gentype: gentype}
	err := db.sqldb.QueryRowContext(ctx,
		`SELECT mimetype FROM gen WHERE node = ? AND gentype = ?`, triple.NewFile(h).Key(), gentype,
	).Scan(&g.Mimetype)
	if err == sql.ErrNoRows {
		return Gen{}, false, nil
	}
	if err != nil {
		return Gen{}, false, fmt.Errorf("graphdb: reading gen row: %w", err)
	}
	return g, true, nil
}

// HasGen reports whether a (hash, gentype) derivation has already been
// recorded, the idempotency check pkg/generate makes before deriving.
func (db *DB) HasGen(ctx context.Context, h fhash.Hash, gentype string) (bool, error) {
	var one int
	err := db.sqldb.QueryRowContext(ctx,
		`SELECT 1 FROM gen WHERE node = ? AND gentype = ?`, triple.NewFile(h).Key(), gentype,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("graphdb: checking gen row: %w", err)
	}
	return true, nil
}

// PutGen records that h now has a derived artifact of the given
// gentype and mimetype.
func (db *DB) PutGen(ctx context.Context, h fhash.Hash, gentype, mimetype string) error {
	node := triple.NewFile(h).Key()
	var err error
	if db.dialect == DialectMySQL {
		_, err = db.sqldb.ExecContext(ctx,
			`INSERT INTO gen (node, gentype, mimetype) VALUES (?, ?, ?)
			 ON DUPLICATE KEY UPDATE mimetype = VALUES(mimetype)`,
			node, gentype, mimetype,
		)
	} else {
		_, err = db.sqldb.ExecContext(ctx,
			`INSERT INTO gen (node, gentype, mimetype) VALUES (?, ?, ?)
			 ON CONFLICT(node, gentype) DO UPDATE SET mimetype = excluded.mimetype`,
			node, gentype, mimetype,
		)
	}
	if err != nil {
		return fmt.Errorf("graphdb: writing gen row: %w", err)
	}
	return nil
}

// Search implements the query compiler's `search(s)` root: every File
// or Value node that is the subject or object of a live triple and
// whose stored key text contains s. A plain SQL LIKE scan over the
// triple table's own columns, no separate full-text index; substring
// semantics are the contract, an index would only be an optimization.
func (db *DB) Search(ctx context.Context, substr string) ([]triple.Node, error) {
	pattern := "%" + escapeLike(substr) + "%"
	rows, err := db.sqldb.QueryContext(ctx, `
WITH live AS (
  SELECT subject, object,
    ROW_NUMBER() OVER (PARTITION BY subject, predicate, object ORDER BY timestamp DESC) AS rn,
    exists_flag
  FROM triple
)
SELECT subject FROM live WHERE rn = 1 AND exists_flag = 1 AND subject LIKE ? ESCAPE '\'
UNION
SELECT object FROM live WHERE rn = 1 AND exists_flag = 1 AND object LIKE ? ESCAPE '\'
`, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("graphdb: search scan: %w", err)
	}
	defer rows.Close()

	var out []triple.Node
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("graphdb: scanning search result: %w", err)
		}
		n, err := triple.ParseKey(key)
		if err != nil {
			return nil, fmt.Errorf("graphdb: parsing search result node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// escapeLike escapes SQL LIKE metacharacters so substr is matched
// literally rather than as a pattern.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Commit is one row of the commit log.
type Commit struct {
	ID          int64
	Timestamp   int64
	Description string
}

// GetCommit returns a single commit row, used by the CLI "history"
// subcommand to resolve a commit id to its description.
func (db *DB) GetCommit(ctx context.Context, id int64) (Commit, bool, error) {
	var c Commit
	err := db.sqldb.QueryRowContext(ctx,
		`SELECT id, timestamp, description FROM commit_log WHERE id = ?`, id,
	).Scan(&c.ID, &c.Timestamp, &c.Description)
	if err == sql.ErrNoRows {
		return Commit{}, false, nil
	}
	if err != nil {
		return Commit{}, false, fmt.Errorf("graphdb: reading commit row: %w", err)
	}
	return c, true, nil
}

// HistoryEntry is one version of a triple, in the form the "history"
// API kind and CLI subcommand render.
type HistoryEntry struct {
	Predicate string
	Object    triple.Node
	Timestamp int64
	Exists    bool
	CommitID  int64
}

// History returns every version of every (subject, predicate, *) triple
// for subject, oldest first, regardless of live state -- the raw
// version log the "history" operation surfaces.
func (db *DB) History(ctx context.Context, subject triple.Node) ([]HistoryEntry, error) {
	rows, err := db.sqldb.QueryContext(ctx,
		`SELECT predicate, object, timestamp, exists_flag, commit_id FROM triple
		 WHERE subject = ? ORDER BY timestamp ASC, predicate ASC`,
		subject.Key(),
	)
	if err != nil {
		return nil, fmt.Errorf("graphdb: reading history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e       HistoryEntry
			objKey  string
			existsV int
		)
		if err := rows.Scan(&e.Predicate, &objKey, &e.Timestamp, &existsV, &e.CommitID); err != nil {
			return nil, fmt.Errorf("graphdb: scanning history row: %w", err)
		}
		obj, err := triple.ParseKey(objKey)
		if err != nil {
			return nil, fmt.Errorf("graphdb: parsing history object node: %w", err)
		}
		e.Object = obj
		e.Exists = existsV != 0
		out = append(out, e)
	}
	return out, rows.Err()
}
