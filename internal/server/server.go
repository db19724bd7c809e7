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

// Package server wires the storage, query, upload, generator, GC,
// access and playback components together behind the HTTP/websocket
// surface. "run-server" in cmd/sunwet is a thin caller over New/Run.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"sunwet.dev/sunwet/pkg/access"
	"sunwet.dev/sunwet/pkg/config"
	"sunwet.dev/sunwet/pkg/filestore"
	"sunwet.dev/sunwet/pkg/gc"
	"sunwet.dev/sunwet/pkg/generate"
	"sunwet.dev/sunwet/pkg/graphdb"
	"sunwet.dev/sunwet/pkg/playback"
	"sunwet.dev/sunwet/pkg/upload"
	"sunwet.dev/sunwet/pkg/webserver"
)

// Server owns every live component a running sunwet process needs and
// dispatches HTTP/websocket requests against them.
type Server struct {
	cfg   config.Config
	db    *graphdb.DB
	store *filestore.Store

	upload   *upload.Machine
	generate *generate.Pipeline
	gc       *gc.Scheduler
	access   *access.Resolver
	verifier *access.TokenVerifier
	hub      *playback.Hub

	web *webserver.Server
}

// New builds a Server from cfg, opening the database and file store
// and wiring the generator/GC/access/playback components, but does not
// start listening.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	db, err := graphdb.Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	store, err := filestore.New(cfg.PersistentRoot, cfg.CacheRoot)
	if err != nil {
		db.Close()
		return nil, err
	}

	gen := generate.New(db, store, nil, cfg.Generate)
	gcSched := gc.NewScheduler(db, store, cfg.GC)

	worldGrants := access.LimitedGrants(cfg.PublicGrants...)
	resolver, err := access.NewResolver(staticUserConfigProvider(cfg.Users), worldGrants, cfg.Access)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		db:       db,
		store:    store,
		upload:   upload.New(store, sizeLookup(db)),
		generate: gen,
		gc:       gcSched,
		access:   resolver,
		hub:      playback.NewHub(cfg.Playback),
		web:      webserver.New(),
	}

	if cfg.OIDCIssuer != "" {
		verifier, err := access.NewTokenVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("server: %w", err)
		}
		s.verifier = verifier
	}

	s.registerRoutes()
	return s, nil
}

func sizeLookup(db *graphdb.DB) upload.SizeLookup {
	return db.FileSize
}

// Run starts the generator pipeline, the GC scheduler, and the HTTP
// listener, blocking until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 2)
	go func() { errc <- s.generate.Run(ctx) }()
	s.generate.SweepAll()
	go s.gc.Run(ctx)

	if err := s.web.Listen(s.cfg.Listen); err != nil {
		return err
	}
	go s.web.Serve()
	log.Printf("server: listening on %s", s.cfg.Listen)

	select {
	case <-ctx.Done():
		return s.db.Close()
	case err := <-errc:
		closeErr := s.db.Close()
		if err != nil {
			return err
		}
		return closeErr
	}
}

func (s *Server) registerRoutes() {
	s.web.HandleFunc("/api", s.handleAPI)
	s.web.HandleFunc("/file/", s.handleFile)
	s.web.HandleFunc("/static/", s.handleStatic)
	s.web.HandleFunc("/oidc", s.handleOIDCCallback)
	s.web.HandleFunc("/logout", s.handleLogout)
	s.web.HandleFunc("/main/", s.handlePrimaryWS)
	s.web.HandleFunc("/link/", s.handleLinkWS)
}

func writeError(w http.ResponseWriter, code int, err error) {
	http.Error(w, err.Error(), code)
}
