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

// Package config loads the server's on-disk configuration file into
// the Config components understood by graphdb, filestore, generate,
// gc, access and playback. There is no rewriting pass: the file's
// shape maps onto the components directly, so pkg/jsonconfig is used
// on its own.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"sunwet.dev/sunwet/pkg/access"
	"sunwet.dev/sunwet/pkg/formcommit"
	"sunwet.dev/sunwet/pkg/gc"
	"sunwet.dev/sunwet/pkg/generate"
	"sunwet.dev/sunwet/pkg/graphdb"
	"sunwet.dev/sunwet/pkg/jsonconfig"
	"sunwet.dev/sunwet/pkg/osutil"
	"sunwet.dev/sunwet/pkg/playback"
)

// Config is the fully-parsed server configuration.
type Config struct {
	Listen         string
	PersistentRoot string
	CacheRoot      string
	StaticDir      string

	DB graphdb.Config

	OIDCIssuer   string
	OIDCClientID string

	AdminTokens  []string
	PublicGrants []string // menu item ids granted to the Public identity
	// Users maps an OIDC subject claim to the ids it is granted. This
	// stands in for an external user-config store; a deployment with a
	// real claims backend can swap access.UserConfigProvider for one.
	Users map[string][]string

	GC gc.Config

	Generate generate.Config

	Access   access.Config
	Playback playback.Config

	// Views maps a view id (a menu leaf) to its query-language source
	// text, for the "view_query" API kind. View rendering is the
	// client's job; resolving the id to query text is the server's.
	Views map[string]string
	// Forms maps a form id to its definition, for the "form_commit"
	// API kind.
	Forms map[string]formcommit.Form
	Menu  access.MenuNode
}

// Load reads and validates the jsonconfig document at path.
func Load(path string) (Config, error) {
	obj, err := jsonconfig.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return FromObj(obj)
}

// FromObj builds a Config from an already-parsed jsonconfig.Obj, so
// tests can construct one without touching the filesystem.
func FromObj(obj jsonconfig.Obj) (Config, error) {
	cfg := Config{
		Listen:         obj.OptionalString("listen", ":8080"),
		PersistentRoot: obj.OptionalString("persistentRoot", osutil.PersistentDir()),
		CacheRoot:      obj.OptionalString("cacheRoot", osutil.CacheDir()),
		StaticDir:      obj.OptionalString("staticDir", ""),
		AdminTokens:    obj.OptionalList("adminTokens"),
		PublicGrants:   obj.OptionalList("publicGrants"),
	}

	db := obj.RequiredObject("db")
	cfg.DB = graphdb.Config{
		Driver: db.OptionalString("driver", "sqlite3"),
		DSN:    db.RequiredString("dsn"),
	}

	oidcObj := obj.OptionalObject("oidc")
	if len(oidcObj) > 0 {
		cfg.OIDCIssuer = oidcObj.RequiredString("issuer")
		cfg.OIDCClientID = oidcObj.RequiredString("clientId")
	}

	gcObj := obj.OptionalObject("gc")
	cfg.GC = gc.Config{
		Epoch:       days(gcObj.OptionalInt("epochDays", 365)),
		StageMaxAge: days(gcObj.OptionalInt("stageMaxAgeDays", 3)),
		WalkBatch:   gcObj.OptionalInt("walkBatch", 1000),
		Concurrency: gcObj.OptionalInt("concurrency", 4),
	}
	genObj := obj.OptionalObject("generate")
	cfg.Generate = generate.Config{
		SubprocessTimeout: time.Duration(genObj.OptionalInt("subprocessTimeoutSeconds", 3600)) * time.Second,
		QueueSize:         genObj.OptionalInt("queueSize", 256),
	}

	accessObj := obj.OptionalObject("access")
	cfg.Access = access.Config{
		CacheTTL: time.Duration(accessObj.OptionalInt("cacheTTLSeconds", 300)) * time.Second,
	}

	pbObj := obj.OptionalObject("playback")
	cfg.Playback = playback.Config{
		DelayFactor:    float64(pbObj.OptionalInt("delayFactorPct", 500)) / 100,
		BarrierTimeout: time.Duration(pbObj.OptionalInt("barrierTimeoutSeconds", 30)) * time.Second,
	}

	cfg.Users = parseUsers(obj.OptionalObject("users"))

	viewsObj := obj.OptionalObject("views")
	cfg.Views = make(map[string]string, len(viewsObj))
	for id, raw := range viewsObj {
		if s, ok := raw.(string); ok {
			cfg.Views[id] = s
		}
	}

	formsObj := obj.OptionalObject("forms")
	forms, err := decodeForms(formsObj)
	if err != nil {
		return Config{}, fmt.Errorf("config: decoding forms: %w", err)
	}
	cfg.Forms = forms

	if menuObj := obj.OptionalObject("menu"); len(menuObj) > 0 {
		menu, err := decodeMenu(menuObj)
		if err != nil {
			return Config{}, fmt.Errorf("config: decoding menu: %w", err)
		}
		cfg.Menu = menu
	}

	// Sub-objects collect their own errors and unknown keys; Validate
	// on the root doesn't see them.
	for name, sub := range map[string]jsonconfig.Obj{
		"db": db, "oidc": oidcObj, "gc": gcObj, "generate": genObj, "access": accessObj, "playback": pbObj,
	} {
		if err := sub.Validate(); err != nil {
			return Config{}, fmt.Errorf("config: %q section: %w", name, err)
		}
	}
	if err := obj.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// decodeForms re-marshals the raw {form_id: {...}} object through
// encoding/json into formcommit.Form, since jsonconfig.Obj's accessors
// only cover scalars/lists/strings, not arbitrarily nested structures.
func decodeForms(obj jsonconfig.Obj) (map[string]formcommit.Form, error) {
	forms := make(map[string]formcommit.Form, len(obj))
	for id, raw := range obj {
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("form %q: %w", id, err)
		}
		var f formcommit.Form
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("form %q: %w", id, err)
		}
		if f.ID == "" {
			f.ID = id
		}
		forms[id] = f
	}
	return forms, nil
}

func decodeMenu(obj jsonconfig.Obj) (access.MenuNode, error) {
	b, err := json.Marshal(map[string]interface{}(obj))
	if err != nil {
		return access.MenuNode{}, err
	}
	var n access.MenuNode
	if err := json.Unmarshal(b, &n); err != nil {
		return access.MenuNode{}, err
	}
	return n, nil
}

// parseUsers reads {"userID": ["grant1", "grant2"], ...} directly,
// bypassing jsonconfig.Obj's scalar-only accessors since it has no
// helper for a map of lists.
func parseUsers(obj jsonconfig.Obj) map[string][]string {
	users := make(map[string][]string, len(obj))
	for userID, raw := range obj {
		items, ok := raw.([]interface{})
		if !ok {
			continue
		}
		var grants []string
		for _, item := range items {
			if s, ok := item.(string); ok {
				grants = append(grants, s)
			}
		}
		users[userID] = grants
	}
	return users
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }
