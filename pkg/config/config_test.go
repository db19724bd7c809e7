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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sunwet.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFullDocument(t *testing.T) {
	path := writeConfig(t, `{
	"listen": ":9090",
	"persistentRoot": "/srv/sunwet",
	"cacheRoot": "/var/cache/sunwet",
	"db": {"driver": "sqlite3", "dsn": "/srv/sunwet/server.sqlite3"},
	"adminTokens": ["tok1"],
	"publicGrants": ["home"],
	"users": {"alice": ["albums", "artists"]},
	"gc": {"epochDays": 30},
	"generate": {"subprocessTimeoutSeconds": 60},
	"playback": {"delayFactorPct": 300},
	"views": {"albums": "\"album\" <- \"is\" { => id }"},
	"forms": {"add-album": {"fields": [{"name": "id", "kind": "id"}], "templates": []}},
	"menu": {"ID": "root", "Label": "Root", "Children": [{"ID": "albums", "Label": "Albums"}]}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("Listen = %q, want :9090", cfg.Listen)
	}
	if cfg.DB.Driver != "sqlite3" || cfg.DB.DSN != "/srv/sunwet/server.sqlite3" {
		t.Errorf("DB = %+v", cfg.DB)
	}
	if len(cfg.AdminTokens) != 1 || cfg.AdminTokens[0] != "tok1" {
		t.Errorf("AdminTokens = %v", cfg.AdminTokens)
	}
	if got := cfg.Users["alice"]; len(got) != 2 || got[0] != "albums" {
		t.Errorf("Users[alice] = %v", got)
	}
	if cfg.GC.Epoch != 30*24*time.Hour {
		t.Errorf("GC.Epoch = %v, want 720h", cfg.GC.Epoch)
	}
	if cfg.Generate.SubprocessTimeout != time.Minute {
		t.Errorf("Generate.SubprocessTimeout = %v, want 1m", cfg.Generate.SubprocessTimeout)
	}
	if cfg.Playback.DelayFactor != 3 {
		t.Errorf("Playback.DelayFactor = %v, want 3", cfg.Playback.DelayFactor)
	}
	if _, ok := cfg.Views["albums"]; !ok {
		t.Error("views.albums missing")
	}
	form, ok := cfg.Forms["add-album"]
	if !ok || form.ID != "add-album" || len(form.Fields) != 1 {
		t.Errorf("Forms[add-album] = %+v, ok=%v", form, ok)
	}
	if cfg.Menu.ID != "root" || len(cfg.Menu.Children) != 1 {
		t.Errorf("Menu = %+v", cfg.Menu)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `{
	"db": {"driver": "sqlite3", "dsn": "x"},
	"listne": ":8080"
}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an unknown-key error for the misspelled field")
	}
}

func TestLoadRequiresDSN(t *testing.T) {
	path := writeConfig(t, `{"db": {"driver": "sqlite3"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a missing db.dsn")
	}
}
