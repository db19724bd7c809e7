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
	"fmt"
	"net/http"
	"os"

	"sunwet.dev/sunwet/pkg/commit"
	"sunwet.dev/sunwet/pkg/fhash"
	"sunwet.dev/sunwet/pkg/triple"
)

// rawNode is the CLI's own input shape for a node, extending the wire
// format (triple.Node's {"t":"f"|"v","v":...}) with one CLI-only
// convenience: {"upload": "<local path>"}, a pseudo-node the "commit"
// subcommand resolves by hashing the named local file and pushing its
// bytes via the chunked upload protocol.
type rawNode struct {
	Upload string
	Node   triple.Node
}

func (n *rawNode) UnmarshalJSON(data []byte) error {
	var withUpload struct {
		Upload string `json:"upload"`
	}
	if err := json.Unmarshal(data, &withUpload); err == nil && withUpload.Upload != "" {
		n.Upload = withUpload.Upload
		return nil
	}
	return n.Node.UnmarshalJSON(data)
}

func (n rawNode) MarshalJSON() ([]byte, error) {
	if n.Upload != "" {
		return json.Marshal(struct {
			Upload string `json:"upload"`
		}{n.Upload})
	}
	return n.Node.MarshalJSON()
}

// rawTriple is one (subject, predicate, object) entry in a CLI commit
// input file, with subject/object in rawNode form.
type rawTriple struct {
	Subject   rawNode `json:"subject"`
	Predicate string  `json:"predicate"`
	Object    rawNode `json:"object"`
}

// commitInput is the JSON shape the "commit" subcommand reads: a
// commit request whose triples may reference local files via
// {"upload": path} instead of an already-hashed File node.
type commitInput struct {
	Add     []rawTriple       `json:"add"`
	Remove  []rawTriple       `json:"remove"`
	Files   []commit.FileDecl `json:"files"`
	Comment string            `json:"comment"`
}

// uploadResolver hashes each distinct local path referenced by a
// commitInput's Upload nodes exactly once, building the triple list
// plus the FileDecl/path-by-hash maps "commit" needs to drive the
// chunked upload protocol after the commit itself is accepted.
type uploadResolver struct {
	byPath     map[string]fhash.Hash
	pathByHash map[fhash.Hash]string
	files      []commit.FileDecl
}

func newUploadResolver() *uploadResolver {
	return &uploadResolver{
		byPath:     map[string]fhash.Hash{},
		pathByHash: map[fhash.Hash]string{},
	}
}

func (u *uploadResolver) resolve(n rawNode) (triple.Node, error) {
	if n.Upload == "" {
		return n.Node, nil
	}
	if h, ok := u.byPath[n.Upload]; ok {
		return triple.NewFile(h), nil
	}
	f, err := os.Open(n.Upload)
	if err != nil {
		return triple.Node{}, fmt.Errorf("opening upload %q: %w", n.Upload, err)
	}
	defer f.Close()
	h, size, err := fhash.HashStream(f)
	if err != nil {
		return triple.Node{}, fmt.Errorf("hashing upload %q: %w", n.Upload, err)
	}
	mimetype, err := sniffMimetype(n.Upload)
	if err != nil {
		return triple.Node{}, err
	}
	u.byPath[n.Upload] = h
	u.pathByHash[h] = n.Upload
	u.files = append(u.files, commit.FileDecl{Hash: h, Size: size, Mimetype: mimetype})
	return triple.NewFile(h), nil
}

func sniffMimetype(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening upload %q: %w", path, err)
	}
	defer f.Close()
	var buf [512]byte
	n, err := f.Read(buf[:])
	if err != nil && n == 0 {
		return "application/octet-stream", nil
	}
	return http.DetectContentType(buf[:n]), nil
}

func (u *uploadResolver) resolveTriples(in []rawTriple) ([]triple.Triple, error) {
	out := make([]triple.Triple, 0, len(in))
	for _, rt := range in {
		s, err := u.resolve(rt.Subject)
		if err != nil {
			return nil, err
		}
		o, err := u.resolve(rt.Object)
		if err != nil {
			return nil, err
		}
		out = append(out, triple.Triple{Subject: s, Predicate: rt.Predicate, Object: o})
	}
	return out, nil
}

// build turns in into a commit.Request, resolving every Upload node and
// appending the files it declares to in.Files (deduplicating declared
// files by hash against anything already resolved from an upload).
func (u *uploadResolver) build(in commitInput) (commit.Request, error) {
	add, err := u.resolveTriples(in.Add)
	if err != nil {
		return commit.Request{}, err
	}
	remove, err := u.resolveTriples(in.Remove)
	if err != nil {
		return commit.Request{}, err
	}
	files := append([]commit.FileDecl{}, in.Files...)
	seen := map[fhash.Hash]bool{}
	for _, f := range files {
		seen[f.Hash] = true
	}
	for _, f := range u.files {
		if !seen[f.Hash] {
			files = append(files, f)
			seen[f.Hash] = true
		}
	}
	return commit.Request{Add: add, Remove: remove, Files: files, Comment: in.Comment}, nil
}
