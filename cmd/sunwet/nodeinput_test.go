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

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"sunwet.dev/sunwet/pkg/triple"
)

func TestRawNodeUploadRoundTrip(t *testing.T) {
	var n rawNode
	if err := json.Unmarshal([]byte(`{"upload":"cover.jpg"}`), &n); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if n.Upload != "cover.jpg" {
		t.Fatalf("Upload = %q, want cover.jpg", n.Upload)
	}

	out, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"upload":"cover.jpg"}` {
		t.Fatalf("marshal = %s", out)
	}
}

func TestRawNodeWireNodeRoundTrip(t *testing.T) {
	var n rawNode
	if err := json.Unmarshal([]byte(`{"t":"v","v":"hello"}`), &n); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if n.Upload != "" {
		t.Fatalf("Upload = %q, want empty", n.Upload)
	}
	want, err := triple.NewValue("hello")
	if err != nil {
		t.Fatalf("triple.NewValue: %v", err)
	}
	if n.Node.Key() != want.Key() {
		t.Fatalf("Node = %+v, want %+v", n.Node, want)
	}
}

func TestUploadResolverDedupesByPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cover.jpg")
	if err := os.WriteFile(path, []byte("fake jpeg bytes"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	in := commitInput{
		Add: []rawTriple{
			{Subject: rawNode{Upload: path}, Predicate: "is", Object: rawNode{Node: mustValueNode(t, "image")}},
			{Subject: rawNode{Upload: path}, Predicate: "name", Object: rawNode{Node: mustValueNode(t, "cover")}},
		},
	}

	u := newUploadResolver()
	req, err := u.build(in)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(req.Files) != 1 {
		t.Fatalf("Files = %d entries, want 1 (same path hashed twice)", len(req.Files))
	}
	if len(req.Add) != 2 {
		t.Fatalf("Add = %d triples, want 2", len(req.Add))
	}
	if req.Add[0].Subject.Key() != req.Add[1].Subject.Key() {
		t.Fatalf("both triples should resolve the same upload to the same File node")
	}
	if _, ok := u.pathByHash[req.Files[0].Hash]; !ok {
		t.Fatalf("pathByHash missing entry for resolved upload")
	}
}

func TestUploadResolverDeclaredFilesNotDuplicated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	u := newUploadResolver()
	if _, err := u.resolve(rawNode{Upload: path}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(u.files) != 1 {
		t.Fatalf("files = %d, want 1", len(u.files))
	}

	// Re-resolving the same path must not append a second FileDecl or
	// re-hash the bytes.
	if _, err := u.resolve(rawNode{Upload: path}); err != nil {
		t.Fatalf("resolve (second): %v", err)
	}
	if len(u.files) != 1 {
		t.Fatalf("files after re-resolve = %d, want 1", len(u.files))
	}
}

func mustValueNode(t *testing.T, v interface{}) triple.Node {
	t.Helper()
	n, err := triple.NewValue(v)
	if err != nil {
		t.Fatalf("triple.NewValue(%v): %v", v, err)
	}
	return n
}
