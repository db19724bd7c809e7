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
	"sort"

	"sunwet.dev/sunwet/pkg/fhash"
	"sunwet.dev/sunwet/pkg/triple"
)

// tripleKey identifies a (subject, predicate, object) row family.
type tripleKey struct {
	subject, predicate, object string
}

// tripleVersion is one row of a key's history, read for the sweep.
type tripleVersion struct {
	timestamp int64
	exists    bool
}

// TripleSweep is GC's triple phase: for each (s,p,o) key, keep every
// row newer than epoch, plus the single newest row older than epoch as
// a baseline; drop the rest. A key whose newest row overall is an
// exists=false tombstone older than epoch is dropped entirely.
//
// This is done key-by-key in Go rather than as one exotic SQL
// statement; the row volume a daily sweep sees doesn't justify the
// harder-to-audit query.
func (db *DB) TripleSweep(ctx context.Context, epochMicros int64) (dropped int, err error) {
	rows, err := db.sqldb.QueryContext(ctx,
		`SELECT subject, predicate, object, timestamp, exists_flag FROM triple ORDER BY subject, predicate, object, timestamp`,
	)
	if err != nil {
		return 0, fmt.Errorf("graphdb: reading triples for sweep: %w", err)
	}

	byKey := make(map[tripleKey][]tripleVersion)
	var order []tripleKey
	for rows.Next() {
		var subj, pred, obj string
		var ts int64
		var existsFlag int
		if err := rows.Scan(&subj, &pred, &obj, &ts, &existsFlag); err != nil {
			rows.Close()
			return 0, fmt.Errorf("graphdb: scanning triple for sweep: %w", err)
		}
		k := tripleKey{subj, pred, obj}
		if _, seen := byKey[k]; !seen {
			order = append(order, k)
		}
		byKey[k] = append(byKey[k], tripleVersion{timestamp: ts, exists: existsFlag != 0})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	tx, err := db.beginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("graphdb: beginning sweep transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	for _, k := range order {
		versions := byKey[k]
		sort.Slice(versions, func(i, j int) bool { return versions[i].timestamp < versions[j].timestamp })
		newest := versions[len(versions)-1]

		if newest.timestamp < epochMicros && !newest.exists {
			res, err := tx.ExecContext(ctx,
				`DELETE FROM triple WHERE subject = ? AND predicate = ? AND object = ?`,
				k.subject, k.predicate, k.object,
			)
			if err != nil {
				return 0, fmt.Errorf("graphdb: dropping tombstone key: %w", err)
			}
			n, _ := res.RowsAffected()
			dropped += int(n)
			continue
		}

		var baselineTS int64
		haveBaseline := false
		for _, v := range versions {
			if v.timestamp < epochMicros && v.timestamp > baselineTS {
				baselineTS = v.timestamp
				haveBaseline = true
			}
		}
		if !haveBaseline {
			continue
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM triple WHERE subject = ? AND predicate = ? AND object = ? AND timestamp < ? AND timestamp <> ?`,
			k.subject, k.predicate, k.object, epochMicros, baselineTS,
		)
		if err != nil {
			return 0, fmt.Errorf("graphdb: dropping superseded rows: %w", err)
		}
		n, _ := res.RowsAffected()
		dropped += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("graphdb: committing sweep: %w", err)
	}
	committed = true
	return dropped, nil
}

// MetaSweep is GC's meta phase: drop meta rows whose node is
// not the subject or object of any *live* triple (the row with the
// maximum timestamp for its key, with exists_flag = 1) -- a node that
// only appears in tombstoned or superseded history no longer counts.
func (db *DB) MetaSweep(ctx context.Context) (dropped int, err error) {
	res, err := db.sqldb.ExecContext(ctx, `
		DELETE FROM meta WHERE node NOT IN (
			SELECT subject FROM triple t1
			WHERE t1.exists_flag = 1 AND t1.timestamp = (
				SELECT MAX(t2.timestamp) FROM triple t2
				WHERE t2.subject = t1.subject AND t2.predicate = t1.predicate AND t2.object = t1.object
			)
			UNION
			SELECT object FROM triple t1
			WHERE t1.exists_flag = 1 AND t1.timestamp = (
				SELECT MAX(t2.timestamp) FROM triple t2
				WHERE t2.subject = t1.subject AND t2.predicate = t1.predicate AND t2.object = t1.object
			)
		)`,
	)
	if err != nil {
		return 0, fmt.Errorf("graphdb: meta sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GenSweep is GC's gen phase: drop gen rows for nodes with
// no meta row (i.e. the underlying file is itself gone).
func (db *DB) GenSweep(ctx context.Context) (dropped int, err error) {
	res, err := db.sqldb.ExecContext(ctx, `DELETE FROM gen WHERE node NOT IN (SELECT node FROM meta)`)
	if err != nil {
		return 0, fmt.Errorf("graphdb: gen sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CommitSweep is GC's commit-log phase: drop commit rows no triple
// references anymore, once the triple sweep has run.
func (db *DB) CommitSweep(ctx context.Context) (dropped int, err error) {
	res, err := db.sqldb.ExecContext(ctx, `DELETE FROM commit_log WHERE id NOT IN (SELECT DISTINCT commit_id FROM triple)`)
	if err != nil {
		return 0, fmt.Errorf("graphdb: commit sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// HasMeta reports whether h has a meta row, the check the blob and
// genfile sweeps make while walking their directory trees.
func (db *DB) HasMeta(ctx context.Context, h fhash.Hash) (bool, error) {
	var one int
	err := db.sqldb.QueryRowContext(ctx, `SELECT 1 FROM meta WHERE node = ?`, triple.NewFile(h).Key()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("graphdb: checking meta row: %w", err)
	}
	return true, nil
}
