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

// requiredSchemaVersion is checked against the meta_version row on
// open: bump it whenever createTableStatements changes in an
// incompatible way.
const requiredSchemaVersion = 1

// createTableStatements returns the DDL for a fresh database, in the
// dialect d. The table and column layout is the same in both dialects
// ; only datatypes differ, since MySQL needs a bounded
// VARCHAR to index a text column the way SQLite's untyped TEXT does not.
func createTableStatements(d Dialect) []string {
	text := "TEXT"
	bigint := "INTEGER"
	pragma := ""
	if d == DialectMySQL {
		text = "VARCHAR(767)"
		bigint = "BIGINT"
		pragma = " DEFAULT CHARACTER SET binary"
	}

	return []string{
		`CREATE TABLE meta_version (
 metakey VARCHAR(255) NOT NULL PRIMARY KEY,
 value VARCHAR(255) NOT NULL
)` + pragma,

		// triple: the time-versioned (s,p,o) log. subject and object
		// hold a Node's canonical JSON text (triple.Node.Key), so
		// equality joins compare as plain text equality.
		`CREATE TABLE triple (
 subject VARCHAR(767) NOT NULL,
 predicate VARCHAR(767) NOT NULL,
 object VARCHAR(767) NOT NULL,
 timestamp ` + bigint + ` NOT NULL,
 exists_flag INTEGER NOT NULL,
 commit_id ` + bigint + ` NOT NULL,
 PRIMARY KEY (subject, predicate, object, timestamp)
)` + pragma,

		`CREATE INDEX idx_triple_ops ON triple (object, predicate, subject)`,
		`CREATE INDEX idx_triple_pso ON triple (predicate, subject, object)`,
		`CREATE INDEX idx_triple_pos ON triple (predicate, object, subject)`,
		`CREATE INDEX idx_triple_commit ON triple (commit_id)`,

		// meta: per-file attributes, one row per file node referenced by
		// at least one triple.
		`CREATE TABLE meta (
 node ` + text + ` NOT NULL PRIMARY KEY,
 mimetype VARCHAR(255) NOT NULL,
 size ` + bigint + ` NOT NULL
)` + pragma,

		// gen: derived-artifact records, keyed by (node, gentype).
		`CREATE TABLE gen (
 node ` + text + ` NOT NULL,
 gentype VARCHAR(255) NOT NULL,
 mimetype VARCHAR(255) NOT NULL,
 PRIMARY KEY (node, gentype)
)` + pragma,

		`CREATE TABLE commit_log (
 id ` + bigint + ` NOT NULL PRIMARY KEY,
 timestamp ` + bigint + ` NOT NULL,
 description TEXT NOT NULL
)` + pragma,
	}
}
