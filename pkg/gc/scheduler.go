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

package gc

import (
	"context"
	"log"
	"time"

	"sunwet.dev/sunwet/pkg/filestore"
	"sunwet.dev/sunwet/pkg/graphdb"
)

// Scheduler runs Run once a day as an in-process loop, so a
// deployment needs no external cron entry.
type Scheduler struct {
	db      *graphdb.DB
	store   *filestore.Store
	cfg     Config
	trigger chan struct{}
}

// NewScheduler builds a Scheduler; call Run to start its loop.
func NewScheduler(db *graphdb.DB, store *filestore.Store, cfg Config) *Scheduler {
	return &Scheduler{db: db, store: store, cfg: cfg, trigger: make(chan struct{}, 1)}
}

// Trigger requests an out-of-band sweep, coalesced with any pending
// request.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run blocks, sweeping once per 24h tick or Trigger call, until ctx is
// canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		case <-s.trigger:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Scheduler) sweepOnce(ctx context.Context) {
	rep, err := Run(ctx, s.db, s.store, time.Now(), s.cfg)
	if err != nil {
		log.Printf("gc: sweep failed: %v", err)
		return
	}
	log.Printf("gc: swept triples=%d meta=%d gen=%d commits=%d files=%d genfiles=%d stage=%d",
		rep.TriplesDropped, rep.MetaDropped, rep.GenDropped, rep.CommitsDropped,
		rep.FilesDeleted, rep.GenfilesDeleted, rep.StageDeleted)
}
