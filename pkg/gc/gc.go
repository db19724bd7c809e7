/*
Copyright 2014 The Camlistore Authors

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

// Package gc implements the daily sweep that reconciles the
// triple/meta/gen/commit tables against each other and against the
// three on-disk file trees. The table-level phases
// (triple/meta/gen/commit) are graphdb's own read-then-delete
// primitives (sweep.go); this package adds the three filesystem walks
// and sequences all seven phases in order. There is no mark-from-roots
// traversal here: every phase is a concrete "does this row/file have a
// referent" check against a named table or tree, and the disk and DB
// are allowed to drift between sweeps -- GC is what reconciles them in
// both directions.
package gc

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"sunwet.dev/sunwet/pkg/fhash"
	"sunwet.dev/sunwet/pkg/filestore"
	"sunwet.dev/sunwet/pkg/graphdb"
)

// Config tunes the sweep phases; the zero Config is valid and fills
// in the defaults below.
type Config struct {
	Epoch       time.Duration // triple-sweep epoch age; default 365 days
	StageMaxAge time.Duration // stage-file max age; default 3 days
	WalkBatch   int           // filesystem walk batch size; default 1000
	Concurrency int           // bounded concurrency for per-file meta lookups; default 4
}

func (c Config) withDefaults() Config {
	if c.Epoch == 0 {
		c.Epoch = 365 * 24 * time.Hour
	}
	if c.StageMaxAge == 0 {
		c.StageMaxAge = 3 * 24 * time.Hour
	}
	if c.WalkBatch == 0 {
		c.WalkBatch = 1000
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
	return c
}

// Report totals what one Run call swept, for logging and tests.
type Report struct {
	TriplesDropped  int
	MetaDropped     int
	GenDropped      int
	CommitsDropped  int
	FilesDeleted    int
	GenfilesDeleted int
	StageDeleted    int
}

// Run executes the seven sweep phases in order against now (the clock
// is a parameter so tests don't need to fake wall time). Each phase
// logs its own per-file failures and continues; Run itself returns an
// error only for a whole-phase failure such as the database going
// away.
func Run(ctx context.Context, db *graphdb.DB, store *filestore.Store, now time.Time, cfg Config) (Report, error) {
	cfg = cfg.withDefaults()
	var rep Report
	var err error

	epochMicros := now.Add(-cfg.Epoch).UnixMicro()
	if rep.TriplesDropped, err = db.TripleSweep(ctx, epochMicros); err != nil {
		return rep, fmt.Errorf("gc: triple sweep: %w", err)
	}
	if rep.MetaDropped, err = db.MetaSweep(ctx); err != nil {
		return rep, fmt.Errorf("gc: meta sweep: %w", err)
	}
	if rep.GenDropped, err = db.GenSweep(ctx); err != nil {
		return rep, fmt.Errorf("gc: gen sweep: %w", err)
	}
	if rep.CommitsDropped, err = db.CommitSweep(ctx); err != nil {
		return rep, fmt.Errorf("gc: commit sweep: %w", err)
	}
	if rep.FilesDeleted, err = sweepBlobDir(ctx, db, store.FilesRoot(), cfg); err != nil {
		return rep, fmt.Errorf("gc: blob sweep: %w", err)
	}
	if rep.GenfilesDeleted, err = sweepGenfilesDir(ctx, store, cfg); err != nil {
		return rep, fmt.Errorf("gc: generated sweep: %w", err)
	}
	if rep.StageDeleted, err = sweepStageDir(store.StageRoot(), now, cfg.StageMaxAge); err != nil {
		return rep, fmt.Errorf("gc: stage sweep: %w", err)
	}
	return rep, nil
}

// walkHashedFiles walks root (shaped <root>/<algo>/<xx>/<yy>/<hex>[...])
// and calls fn with each (algo, hex, full path) triple. Directory-shape
// mistakes (an unreadable entry, a name that doesn't parse) are logged
// and skipped rather than aborting the whole walk.
func walkHashedFiles(root string, fn func(algo, hexDigest, path string)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Printf("gc: walking %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 4 {
			log.Printf("gc: unexpected path shape under %s: %s", root, rel)
			return nil
		}
		algo := parts[0]
		base := parts[3]
		hexDigest, _, _ := strings.Cut(base, ".") // genfiles carry a ".<gentype>" suffix
		fn(algo, hexDigest, path)
		return nil
	})
}

// sweepBlobDir implements phase 5: walk the files tree in
// cfg.WalkBatch batches, looking up meta presence with cfg.Concurrency
// bounded concurrency, deleting any blob whose hash has no meta row.
func sweepBlobDir(ctx context.Context, db *graphdb.DB, root string, cfg Config) (int, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return 0, nil
	}

	type candidate struct {
		hash fhash.Hash
		path string
	}
	var batch []candidate
	deleted := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Concurrency)
		results := make([]bool, len(batch))
		for i, c := range batch {
			i, c := i, c
			g.Go(func() error {
				has, err := db.HasMeta(gctx, c.hash)
				if err != nil {
					return err
				}
				results[i] = has
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for i, c := range batch {
			if results[i] {
				continue
			}
			if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
				log.Printf("gc: removing orphan blob %s: %v", c.path, err)
				continue
			}
			deleted++
		}
		batch = batch[:0]
		return nil
	}

	var walkErr error
	err := walkHashedFiles(root, func(algo, hexDigest, path string) {
		if walkErr != nil {
			return
		}
		h, err := fhash.Parse(algo + ":" + hexDigest)
		if err != nil {
			log.Printf("gc: unparseable blob path %s: %v", path, err)
			return
		}
		batch = append(batch, candidate{hash: h, path: path})
		if len(batch) >= cfg.WalkBatch {
			if err := flush(); err != nil {
				walkErr = err
			}
		}
	})
	if err != nil {
		return deleted, err
	}
	if walkErr != nil {
		return deleted, walkErr
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// sweepGenfilesDir implements phase 6: delete any generated artifact
// whose base hash no longer has a blob in files_dir.
func sweepGenfilesDir(ctx context.Context, store *filestore.Store, cfg Config) (int, error) {
	root := store.GenfilesRoot()
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return 0, nil
	}

	deleted := 0
	err := walkHashedFiles(root, func(algo, hexDigest, path string) {
		h, err := fhash.Parse(algo + ":" + hexDigest)
		if err != nil {
			log.Printf("gc: unparseable generated path %s: %v", path, err)
			return
		}
		present, _, err := store.Exists(h)
		if err != nil {
			log.Printf("gc: checking base blob for %s: %v", path, err)
			return
		}
		if present {
			return
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("gc: removing orphan generated file %s: %v", path, err)
			return
		}
		deleted++
	})
	return deleted, err
}

// sweepStageDir implements phase 7: delete stage files older than
// maxAge.
func sweepStageDir(root string, now time.Time, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("gc: reading stage dir: %w", err)
	}

	deleted := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			log.Printf("gc: stat'ing stage entry %s: %v", e.Name(), err)
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		path := filepath.Join(root, e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("gc: removing stale stage file %s: %v", path, err)
			continue
		}
		deleted++
	}
	return deleted, nil
}
