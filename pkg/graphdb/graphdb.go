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

// Package graphdb implements the time-versioned triple store, the
// per-file meta and gen tables, and the commit log, over database/sql.
// It is a thin layer that owns schema creation and the transactional
// write path, and otherwise hands its *sql.DB straight to callers
// (here, the query compiler in pkg/query) so they can run their own
// generated SQL against it.
//
// Two drivers are registered: github.com/mattn/go-sqlite3 for the
// default, single-file deployment, and github.com/go-sql-driver/mysql
// as an alternate backend for installations that already run MySQL.
package graphdb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect names one of the two supported SQL backends.
type Dialect string

const (
	DialectSQLite Dialect = "sqlite3"
	DialectMySQL  Dialect = "mysql"
)

// Config selects a backend and its connection string, read from the
// server's jsonconfig document.
type Config struct {
	Driver string // "sqlite3" or "mysql"
	DSN    string
}

// DB is a handle on a graphdb database. It is safe for concurrent use;
// database/sql already pools and serializes as needed.
type DB struct {
	sqldb   *sql.DB
	dialect Dialect
}

// Open opens (and, if the database is empty, initializes) a graphdb
// database per cfg. It mirrors sqlite.newKeyValueFromConfig's
// stat-then-init-then-check-version sequence.
func Open(cfg Config) (*DB, error) {
	dialect := Dialect(cfg.Driver)
	switch dialect {
	case DialectSQLite, DialectMySQL:
	default:
		return nil, fmt.Errorf("graphdb: unsupported driver %q (want %q or %q)", cfg.Driver, DialectSQLite, DialectMySQL)
	}

	sqldb, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("graphdb: opening %s database: %w", cfg.Driver, err)
	}
	db := &DB{sqldb: sqldb, dialect: dialect}

	if err := db.ensureSchema(); err != nil {
		sqldb.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error { return db.sqldb.Close() }

// SQLDB exposes the underlying pool for pkg/query's compiled SQL to run
// against directly; both registered drivers accept "?" placeholders, so
// the compiler needs no dialect awareness beyond what Dialect reports.
func (db *DB) SQLDB() *sql.DB { return db.sqldb }

// Dialect reports which backend db was opened against.
func (db *DB) Dialect() Dialect { return db.dialect }

func (db *DB) ensureSchema() error {
	version, err := db.schemaVersion()
	if err == nil {
		if version != requiredSchemaVersion {
			return fmt.Errorf("graphdb: database schema version is %d; want %d (re-init with a fresh database file?)", version, requiredSchemaVersion)
		}
		return nil
	}

	for _, stmt := range createTableStatements(db.dialect) {
		if _, err := db.sqldb.Exec(stmt); err != nil {
			return fmt.Errorf("graphdb: creating schema: %w\n%s", err, stmt)
		}
	}
	if _, err := db.sqldb.Exec(`INSERT INTO meta_version (metakey, value) VALUES ('version', ?)`, fmt.Sprint(requiredSchemaVersion)); err != nil {
		return fmt.Errorf("graphdb: recording schema version: %w", err)
	}
	return nil
}

func (db *DB) schemaVersion() (int, error) {
	var version int
	err := db.sqldb.QueryRow(`SELECT value FROM meta_version WHERE metakey = 'version'`).Scan(&version)
	return version, err
}

// beginTx starts a transaction, used by the write path in write.go and
// the sweep primitives in sweep.go.
func (db *DB) beginTx(ctx context.Context) (*sql.Tx, error) {
	return db.sqldb.BeginTx(ctx, nil)
}
