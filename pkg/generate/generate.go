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

// Package generate derives playable/displayable
// artifacts from stored files. A single consumer drains a
// channel of file-hash work items -- an item with All set means "sweep
// every file with a meta row" -- deciding, from each file's declared
// mimetype, which gentypes to produce, and skipping any (hash, gentype)
// pair that already has a gen row and an on-disk file.
//
// The single-consumer channel keeps derivations strictly sequential;
// singleflight still guards a (hash, gentype) pair because the commit
// handler's nudge and the upload-finish nudge can both enqueue the same
// hash while one derivation for it is still draining through the channel.
package generate

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"sunwet.dev/sunwet/pkg/fhash"
	"sunwet.dev/sunwet/pkg/filestore"
	"sunwet.dev/sunwet/pkg/graphdb"
)

// Job is one unit of generator work: derive for a single hash, or (All)
// sweep every file the meta table knows about.
type Job struct {
	Hash fhash.Hash
	All  bool
}

// Config tunes the pipeline; the zero Config fills in the defaults
// below.
type Config struct {
	// SubprocessTimeout bounds a single ffmpeg invocation. Default 1h.
	SubprocessTimeout time.Duration
	// QueueSize bounds the work channel. Default 256.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.SubprocessTimeout == 0 {
		c.SubprocessTimeout = time.Hour
	}
	if c.QueueSize == 0 {
		c.QueueSize = 256
	}
	return c
}

// Pipeline is the generator's single job queue and consumer loop.
type Pipeline struct {
	db    *graphdb.DB
	store *filestore.Store
	cfg   Config
	jobs  chan Job
	group singleflight.Group
	enc   Encoder
}

// New builds a Pipeline. enc may be nil to use DefaultEncoder.
func New(db *graphdb.DB, store *filestore.Store, enc Encoder, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	if enc == nil {
		enc = DefaultEncoder{}
	}
	return &Pipeline{
		db:    db,
		store: store,
		cfg:   cfg,
		jobs:  make(chan Job, cfg.QueueSize),
		enc:   enc,
	}
}

// Enqueue requests derivation for a single file, fed after an upload
// finishes.
func (p *Pipeline) Enqueue(h fhash.Hash) {
	p.jobs <- Job{Hash: h}
}

// SweepAll requests a full pass over every file with a meta row, fed at
// server startup.
func (p *Pipeline) SweepAll() {
	p.jobs <- Job{All: true}
}

// Run drains the job queue until ctx is canceled. It is meant to run in
// its own goroutine for the lifetime of the server.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-p.jobs:
			if job.All {
				p.sweepAll(ctx)
				continue
			}
			p.processFile(ctx, job.Hash)
		}
	}
}

func (p *Pipeline) sweepAll(ctx context.Context) {
	hashes, err := p.db.ListAllFiles(ctx)
	if err != nil {
		log.Printf("generate: listing files for sweep: %v", err)
		return
	}
	for _, h := range hashes {
		p.processFile(ctx, h)
	}
}

// processFile decides and runs every derivation a file's mimetype
// warrants. The errgroup is limited to one goroutine, so a file's
// gentypes (e.g. the webm transcode and then its subtitle tracks) run
// one at a time in the order they are planned; the generator is also
// single-hash-at-a-time overall because the channel consumer is
// sequential.
func (p *Pipeline) processFile(ctx context.Context, h fhash.Hash) {
	meta, ok, err := p.db.GetMeta(ctx, h)
	if err != nil {
		log.Printf("generate: looking up meta for %s: %v", h, err)
		return
	}
	if !ok {
		return // meta gone: nothing to derive from (gc will drop any stray gen rows)
	}

	derivations := planDerivations(meta.Mimetype)
	if len(derivations) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(1)
	for _, d := range derivations {
		d := d
		g.Go(func() error {
			p.deriveOnce(gctx, h, meta.Mimetype, d)
			return nil
		})
	}
	if strings.HasPrefix(meta.Mimetype, "video/") {
		g.Go(func() error {
			p.deriveSubtitles(gctx, h)
			return nil
		})
	}
	_ = g.Wait() // deriveOnce swallows its own errors
}

// deriveSubtitles extracts every embedded subtitle track carrying a
// language tag, one vtt gentype per language. Track
// discovery is a probe step, not itself subject to the (hash,gentype)
// singleflight guard; each extracted language then runs through the
// same deriveOnce idempotency path as every other derivation.
func (p *Pipeline) deriveSubtitles(ctx context.Context, h fhash.Hash) {
	src, cleanup, err := p.openSource(h)
	if err != nil {
		log.Printf("generate: opening source for subtitle probe of %s: %v", h, err)
		return
	}
	langs, err := p.enc.ListSubtitleLanguages(ctx, src, p.cfg.SubprocessTimeout)
	cleanup()
	if err != nil {
		log.Printf("generate: probing subtitle tracks for %s: %v", h, err)
		return
	}
	for _, lang := range langs {
		p.deriveOnce(ctx, h, "", subtitleDerivation{lang: lang})
	}
}

// openSource materializes the stored blob as a local file path an
// external encoder subprocess can read by path, returning a cleanup
// func that releases the open handle backing it.
func (p *Pipeline) openSource(h fhash.Hash) (string, func(), error) {
	path, err := p.store.FilePath(h)
	if err != nil {
		return "", nil, fmt.Errorf("generate: resolving source path: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("generate: opening source blob: %w", err)
	}
	return path, func() { f.Close() }, nil
}

// tempPath allocates a not-yet-existing path under the store's temp
// area for a derivation's output, named for traceability during
// debugging.
func (p *Pipeline) tempPath(h fhash.Hash, ext string) (string, error) {
	dir := filepath.Join(p.store.TempRoot(), "generate")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("generate: creating temp dir: %w", err)
	}
	f, err := os.CreateTemp(dir, fmt.Sprintf("%s-*.%s", h.Digest(), ext))
	if err != nil {
		return "", fmt.Errorf("generate: creating temp output: %w", err)
	}
	path := f.Name()
	f.Close()
	return path, nil
}

// deriveOnce runs one derivation for (h, gentype) under a
// per-(hash,gentype) singleflight guard, skipping the work entirely if
// a gen row and its backing file already exist.
func (p *Pipeline) deriveOnce(ctx context.Context, h fhash.Hash, mimetype string, d derivation) {
	key := h.String() + "\x00" + d.gentype(mimetype)
	_, _, _ = p.group.Do(key, func() (interface{}, error) {
		gentype := d.gentype(mimetype)

		has, err := p.db.HasGen(ctx, h, gentype)
		if err != nil {
			log.Printf("generate: checking gen row for %s %s: %v", h, gentype, err)
			return nil, nil
		}
		if has && p.generatedFileExists(h, gentype) {
			return nil, nil // gen row + on-disk file: already derived
		}

		out, outMime, err := d.run(ctx, p, h, mimetype)
		if err != nil {
			log.Printf("generate: deriving %s for %s: %v", gentype, h, err)
			return nil, nil
		}
		defer out.cleanup()

		dst, err := p.store.GenfilePath(h, gentype)
		if err != nil {
			log.Printf("generate: resolving destination for %s %s: %v", h, gentype, err)
			return nil, nil
		}
		if err := filestore.FinalizeRename(out.path, dst); err != nil {
			log.Printf("generate: finalizing %s for %s: %v", gentype, h, err)
			return nil, nil
		}
		if err := p.db.PutGen(ctx, h, gentype, outMime); err != nil {
			log.Printf("generate: recording gen row for %s %s: %v", h, gentype, err)
		}
		return nil, nil
	})
}

func (p *Pipeline) generatedFileExists(h fhash.Hash, gentype string) bool {
	f, _, err := p.store.OpenGenerated(h, gentype)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// derivation is one candidate artifact kind a mimetype may warrant.
// gentype may depend on data only discoverable at run time (the vtt
// language tag), so it takes the base mimetype rather than being a
// constant string.
type derivation interface {
	gentype(mimetype string) string
	run(ctx context.Context, p *Pipeline, h fhash.Hash, mimetype string) (tempOutput, string, error)
}

func fmtGentype(prefix, suffix string) string {
	if suffix == "" {
		return prefix
	}
	return fmt.Sprintf("%s:%s", prefix, suffix)
}
