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

package formcommit

import (
	"testing"
	"time"

	"sunwet.dev/sunwet/pkg/query"
	"sunwet.dev/sunwet/pkg/triple"
)

func mustValue(t *testing.T, v interface{}) triple.Node {
	t.Helper()
	n, err := triple.NewValue(v)
	if err != nil {
		t.Fatalf("triple.NewValue(%v): %v", v, err)
	}
	return n
}

func TestBuildCartesianProduct(t *testing.T) {
	form := Form{
		Fields: []Field{{Name: "album", Kind: FieldPlain}, {Name: "tracks", Kind: FieldPlain}},
		Templates: []Template{
			{
				Subject:   FieldSlot("album"),
				Predicate: InlineSlot(mustValue(t, "has_track")),
				Object:    FieldSlot("tracks"),
			},
		},
	}
	values := map[string]query.TreeNode{
		"album": query.NewScalar(mustValue(t, "album-1")),
		"tracks": query.NewArray([]query.TreeNode{
			query.NewScalar(mustValue(t, "track-1")),
			query.NewScalar(mustValue(t, "track-2")),
		}),
	}

	res, err := Build(nil, form, values, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(res.Triples) != 2 {
		t.Fatalf("got %d triples, want 2 (cartesian product of 1 subject x 2 objects)", len(res.Triples))
	}
	for _, tr := range res.Triples {
		if tr.Predicate != "has_track" {
			t.Fatalf("predicate = %q, want has_track", tr.Predicate)
		}
	}
}

func TestBuildSpecialFields(t *testing.T) {
	fixedID := "11111111-1111-1111-1111-111111111111"
	fixedNow := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	b := &Builder{
		Now:   func() time.Time { return fixedNow },
		NewID: func() string { return fixedID },
	}
	form := Form{
		Fields: []Field{
			{Name: "id", Kind: FieldID},
			{Name: "created", Kind: FieldDatetimeNow},
		},
		Templates: []Template{
			{Subject: FieldSlot("id"), Predicate: InlineSlot(mustValue(t, "is")), Object: InlineSlot(mustValue(t, "album"))},
			{Subject: FieldSlot("id"), Predicate: InlineSlot(mustValue(t, "created_at")), Object: FieldSlot("created")},
		},
	}
	res, err := Build(b, form, map[string]query.TreeNode{}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(res.Triples) != 2 {
		t.Fatalf("got %d triples, want 2", len(res.Triples))
	}
	wantID := mustValue(t, fixedID)
	if !res.Triples[0].Subject.Equal(wantID) {
		t.Fatalf("subject = %v, want generated id %v", res.Triples[0].Subject, wantID)
	}
	wantCreated := mustValue(t, fixedNow.Format(time.RFC3339))
	if !res.Triples[1].Object.Equal(wantCreated) {
		t.Fatalf("object = %v, want %v", res.Triples[1].Object, wantCreated)
	}
}

func TestBuildPredicateMustBeString(t *testing.T) {
	form := Form{
		Fields: []Field{{Name: "pred", Kind: FieldPlain}},
		Templates: []Template{
			{Subject: InlineSlot(mustValue(t, "a")), Predicate: FieldSlot("pred"), Object: InlineSlot(mustValue(t, "b"))},
		},
	}
	values := map[string]query.TreeNode{"pred": query.NewScalar(mustValue(t, 42))}
	if _, err := Build(nil, form, values, nil); err == nil {
		t.Fatal("expected error for non-string predicate field")
	}
}
