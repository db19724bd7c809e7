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

// Package formcommit expands a form's output templates plus a
// submitted field-value map into a triple list: each template position
// resolves to an inline value or a named field's value, a scalar field
// contributes one node while an array field fans out, and each
// template emits the Cartesian product of its subject and object
// multi-values. The Id and DatetimeNow field kinds are computed
// server-side rather than supplied by the client.
package formcommit

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"sunwet.dev/sunwet/pkg/commit"
	"sunwet.dev/sunwet/pkg/fhash"
	"sunwet.dev/sunwet/pkg/query"
	"sunwet.dev/sunwet/pkg/triple"
)

// FieldKind discriminates the special field types; a Plain field's
// value comes entirely from the client-submitted value map.
type FieldKind string

const (
	FieldPlain       FieldKind = "plain"
	FieldID          FieldKind = "id"
	FieldDatetimeNow FieldKind = "datetime_now"
	FieldFile        FieldKind = "file"
)

// Field declares one named input a Form's templates may reference.
type Field struct {
	Name string    `json:"name"`
	Kind FieldKind `json:"kind"`
}

// Slot is one position (subject, predicate, or object) of an output
// template: either an inline literal or a reference to a named field.
// The JSON tags let a Slot be loaded straight out of the server's
// config document (pkg/config); only one of Inline/Field is ever set.
type Slot struct {
	Inline *triple.Node `json:"inline,omitempty"`
	Field  string       `json:"field,omitempty"`
}

func InlineSlot(n triple.Node) Slot { return Slot{Inline: &n} }
func FieldSlot(name string) Slot    { return Slot{Field: name} }

func (s Slot) isInline() bool { return s.Inline != nil }

// Template is one output triple template.
type Template struct {
	Subject   Slot `json:"subject"`
	Predicate Slot `json:"predicate"`
	Object    Slot `json:"object"`
}

// Form is a form definition: its declared fields plus the output
// templates to expand against a submitted value map.
type Form struct {
	ID        string     `json:"id"`
	Fields    []Field    `json:"fields"`
	Templates []Template `json:"templates"`
}

// FileDecl mirrors commit.FileDecl: a File-field value also needs to
// contribute to the commit's declared-files list, since a form's file
// inputs "fan into both the triple list (as File nodes) and the
// companion files list for the commit".
type FileDecl = commit.FileDecl

// Result is what Build produces: the triples to add, plus any files
// declared by File-kind fields, ready to embed in a commit.Request.
type Result struct {
	Triples []triple.Triple
	Files   []FileDecl
}

// FileMeta is the size/mimetype metadata a caller supplies alongside a
// File-kind field's node values; the node alone only carries the hash,
// and the commit's Files declaration also needs size and mimetype.
type FileMeta struct {
	Size     int64
	Mimetype string
}

// Builder evaluates forms. Now/NewID are overridable for tests; the
// zero Builder uses real time and random UUIDs.
type Builder struct {
	Now   func() time.Time
	NewID func() string
}

// NewBuilder returns a Builder wired to the real clock and a real UUID
// generator (google/uuid).
func NewBuilder() *Builder {
	return &Builder{
		Now:   time.Now,
		NewID: func() string { return uuid.New().String() },
	}
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *Builder) newID() string {
	if b.NewID != nil {
		return b.NewID()
	}
	return uuid.New().String()
}

// Build expands form against values (the client-submitted
// {field_name: TreeNode} map) and fileMeta (size/mimetype for any
// File-kind field's nodes, keyed by hash) into the triple set and file
// declarations for a commit.
func Build(b *Builder, form Form, values map[string]query.TreeNode, fileMeta map[fhash.Hash]FileMeta) (Result, error) {
	if b == nil {
		b = NewBuilder()
	}
	resolved := make(map[string]query.TreeNode, len(values)+len(form.Fields))
	for k, v := range values {
		resolved[k] = v
	}

	fileFields := make(map[string]bool)
	for _, f := range form.Fields {
		switch f.Kind {
		case FieldID:
			n, err := triple.NewValue(b.newID())
			if err != nil {
				return Result{}, fmt.Errorf("formcommit: building id field %q: %w", f.Name, err)
			}
			resolved[f.Name] = query.NewScalar(n)
		case FieldDatetimeNow:
			n, err := triple.NewValue(b.now().UTC().Format(time.RFC3339))
			if err != nil {
				return Result{}, fmt.Errorf("formcommit: building datetime_now field %q: %w", f.Name, err)
			}
			resolved[f.Name] = query.NewScalar(n)
		case FieldFile:
			fileFields[f.Name] = true
		case FieldPlain:
		default:
			return Result{}, fmt.Errorf("formcommit: field %q has unknown kind %q", f.Name, f.Kind)
		}
	}

	var result Result
	seenFiles := make(map[fhash.Hash]bool)
	for i, t := range form.Templates {
		subjects, err := getData(t.Subject, resolved)
		if err != nil {
			return Result{}, fmt.Errorf("formcommit: template %d subject: %w", i, err)
		}
		predicate, err := getPredicate(t.Predicate, resolved)
		if err != nil {
			return Result{}, fmt.Errorf("formcommit: template %d predicate: %w", i, err)
		}
		objects, err := getData(t.Object, resolved)
		if err != nil {
			return Result{}, fmt.Errorf("formcommit: template %d object: %w", i, err)
		}
		for _, s := range subjects {
			for _, o := range objects {
				result.Triples = append(result.Triples, triple.Triple{Subject: s, Predicate: predicate, Object: o})
			}
		}
		if t.Subject.Field != "" && fileFields[t.Subject.Field] {
			appendFileDecls(&result, subjects, fileMeta, seenFiles)
		}
		if t.Object.Field != "" && fileFields[t.Object.Field] {
			appendFileDecls(&result, objects, fileMeta, seenFiles)
		}
	}
	return result, nil
}

func appendFileDecls(result *Result, nodes []triple.Node, fileMeta map[fhash.Hash]FileMeta, seen map[fhash.Hash]bool) {
	for _, n := range nodes {
		if !n.IsFile() {
			continue
		}
		h := n.File()
		if seen[h] {
			continue
		}
		meta, ok := fileMeta[h]
		if !ok {
			continue
		}
		seen[h] = true
		result.Files = append(result.Files, FileDecl{Hash: h, Size: meta.Size, Mimetype: meta.Mimetype})
	}
}

// getData resolves a subject/object Slot into its multi-value node
// list: a scalar field contributes one node, an array field fans out,
// an inline value is a singleton.
func getData(s Slot, resolved map[string]query.TreeNode) ([]triple.Node, error) {
	if s.isInline() {
		return []triple.Node{*s.Inline}, nil
	}
	tn, ok := resolved[s.Field]
	if !ok {
		return nil, fmt.Errorf("formcommit: no value supplied for field %q", s.Field)
	}
	return treeNodeToNodes(tn)
}

func treeNodeToNodes(tn query.TreeNode) ([]triple.Node, error) {
	switch tn.Kind {
	case query.TreeScalar:
		return []triple.Node{tn.Scalar}, nil
	case query.TreeArray:
		nodes := make([]triple.Node, 0, len(tn.Array))
		for _, item := range tn.Array {
			if item.Kind != query.TreeScalar {
				return nil, fmt.Errorf("formcommit: nested non-scalar value in form field array")
			}
			nodes = append(nodes, item.Scalar)
		}
		return nodes, nil
	default:
		return nil, fmt.Errorf("formcommit: record-shaped value cannot be used as a form field")
	}
}

// getPredicate resolves the predicate Slot, which must resolve to
// exactly one string-valued node.
func getPredicate(s Slot, resolved map[string]query.TreeNode) (string, error) {
	if s.isInline() {
		var str string
		if !s.Inline.IsValue() {
			return "", fmt.Errorf("formcommit: inline predicate is not a string")
		}
		if err := s.Inline.Value(&str); err != nil {
			return "", fmt.Errorf("formcommit: inline predicate is not a string: %w", err)
		}
		return str, nil
	}
	tn, ok := resolved[s.Field]
	if !ok {
		return "", fmt.Errorf("formcommit: no value supplied for predicate field %q", s.Field)
	}
	if tn.Kind != query.TreeScalar || !tn.Scalar.IsValue() {
		return "", fmt.Errorf("formcommit: field %q must be a string to be used as a predicate", s.Field)
	}
	var str string
	if err := tn.Scalar.Value(&str); err != nil {
		return "", fmt.Errorf("formcommit: field %q must be a string to be used as a predicate: %w", s.Field, err)
	}
	return str, nil
}
