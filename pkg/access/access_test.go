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

package access

import (
	"context"
	"sync/atomic"
	"testing"
)

type fakeProvider struct {
	fetches int32
	grants  Grants
	err     error
}

func (f *fakeProvider) FetchUserConfig(ctx context.Context, userID string) (UserConfig, error) {
	atomic.AddInt32(&f.fetches, 1)
	if f.err != nil {
		return UserConfig{}, f.err
	}
	return UserConfig{Grants: f.grants}, nil
}

func TestResolveTokenAndPublic(t *testing.T) {
	r, err := NewResolver(&fakeProvider{}, LimitedGrants("home"), Config{})
	if err != nil {
		t.Fatal(err)
	}

	g, err := r.Resolve(context.Background(), TokenIdentity(AdminGrants()))
	if err != nil || !g.Admin {
		t.Fatalf("token identity: got %+v, err %v", g, err)
	}

	g, err = r.Resolve(context.Background(), PublicIdentity())
	if err != nil || !g.Contains("home") || g.Contains("admin-only") {
		t.Fatalf("public identity: got %+v, err %v", g, err)
	}
}

// TestResolveUserCaches covers the User-identity path's "fetch a user-config
// (cached)".
func TestResolveUserCaches(t *testing.T) {
	provider := &fakeProvider{grants: LimitedGrants("albums")}
	r, err := NewResolver(provider, Grants{}, Config{})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		g, err := r.Resolve(context.Background(), UserIdentity("u1"))
		if err != nil {
			t.Fatal(err)
		}
		if !g.Contains("albums") {
			t.Fatalf("iteration %d: got %+v", i, g)
		}
	}
	if atomic.LoadInt32(&provider.fetches) != 1 {
		t.Fatalf("got %d fetches, want 1 (cached)", provider.fetches)
	}

	r.Invalidate("u1")
	if _, err := r.Resolve(context.Background(), UserIdentity("u1")); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&provider.fetches) != 2 {
		t.Fatalf("got %d fetches after invalidate, want 2", provider.fetches)
	}
}

// TestFilterMenu covers the menu visibility rules.
func TestFilterMenu(t *testing.T) {
	tree := MenuNode{
		ID:    "root",
		Label: "root",
		Children: []MenuNode{
			{ID: "albums", Label: "Albums"},
			{
				ID: "admin", Label: "Admin",
				Children: []MenuNode{
					{ID: "users", Label: "Users"},
					{ID: "settings", Label: "Settings"},
				},
			},
		},
	}

	visible, ok := FilterMenu(tree, LimitedGrants("albums"))
	if !ok {
		t.Fatal("expected root to remain visible")
	}
	if len(visible.Children) != 1 || visible.Children[0].ID != "albums" {
		t.Fatalf("got children %+v, want only albums", visible.Children)
	}

	visible, ok = FilterMenu(tree, LimitedGrants("users"))
	if !ok {
		t.Fatal("expected root to remain visible")
	}
	if len(visible.Children) != 1 || visible.Children[0].ID != "admin" || len(visible.Children[0].Children) != 1 {
		t.Fatalf("got %+v, want only admin/users pruned", visible.Children)
	}

	_, ok = FilterMenu(tree, Grants{})
	if ok {
		t.Fatal("expected root to be invisible with no grants at all")
	}

	full, ok := FilterMenu(tree, AdminGrants())
	if !ok || len(full.Children) != 2 {
		t.Fatalf("admin should see everything, got %+v", full)
	}
}
