/*
Copyright 2013 The Camlistore Authors.

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

// Package triple defines Node, the element type of subjects and objects
// in the graph store, and Triple, a single (subject, predicate, object)
// fact. Node values support a total order (see Compare) because that
// order governs query sort output.
package triple

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"sunwet.dev/sunwet/pkg/fhash"
)

// Kind discriminates the two Node shapes.
type Kind int

const (
	KindFile Kind = iota
	KindValue
)

// Node is one of:
//   - File(file_hash) -- a reference to file-store content
//   - Value(json_scalar) -- any JSON value except null, arrays, and
//     objects at value position
//
// Node is comparable with == (its fields are all comparable) so it can
// be used as a map key; that's relied on heavily by the query executor's
// dedup/grouping logic.
type Node struct {
	kind Kind
	file fhash.Hash
	// value holds the canonical JSON text of the scalar (see
	// canonicalJSON), so that equal scalars always compare and hash
	// equal regardless of input key order / formatting -- values here
	// are always scalars (bool, number, string), never array/object.
	value string
}

// ErrInvalidValue is returned when constructing a Value node from an
// unsupported JSON shape (null, array, object); unsupported shapes are
// rejected at ingest rather than at query time.
var ErrInvalidValue = errors.New("triple: node value must be a non-null JSON scalar (bool, number, or string)")

// NewFile builds a File node.
func NewFile(h fhash.Hash) Node {
	if !h.Valid() {
		panic("triple.NewFile: invalid hash")
	}
	return Node{kind: KindFile, file: h}
}

// NewValue builds a Value node from an arbitrary Go value by round-
// tripping it through encoding/json, rejecting null/array/object shapes.
func NewValue(v interface{}) (Node, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Node{}, fmt.Errorf("triple: marshaling node value: %w", err)
	}
	return NewValueFromJSON(raw)
}

// NewValueFromJSON builds a Value node from already-encoded JSON text,
// canonicalizing it (numbers/strings are re-encoded; object/array/null
// are rejected).
func NewValueFromJSON(raw []byte) (Node, error) {
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return Node{}, fmt.Errorf("triple: decoding node value: %w", err)
	}
	switch generic.(type) {
	case nil:
		return Node{}, ErrInvalidValue
	case []interface{}, map[string]interface{}:
		return Node{}, ErrInvalidValue
	}
	canon, err := json.Marshal(generic)
	if err != nil {
		return Node{}, fmt.Errorf("triple: canonicalizing node value: %w", err)
	}
	return Node{kind: KindValue, value: string(canon)}, nil
}

// IsFile reports whether n is a File node.
func (n Node) IsFile() bool { return n.kind == KindFile }

// IsValue reports whether n is a Value node.
func (n Node) IsValue() bool { return n.kind == KindValue }

// File returns n's file hash; it panics if n is not a File node.
func (n Node) File() fhash.Hash {
	if n.kind != KindFile {
		panic("triple.Node.File: not a File node")
	}
	return n.file
}

// ValueJSON returns the canonical JSON text of a Value node; it panics
// if n is not a Value node.
func (n Node) ValueJSON() string {
	if n.kind != KindValue {
		panic("triple.Node.ValueJSON: not a Value node")
	}
	return n.value
}

// Value decodes a Value node into v (as encoding/json.Unmarshal would).
// On a File node it returns a JSON decoding error.
func (n Node) Value(v interface{}) error {
	return json.Unmarshal([]byte(n.value), v)
}

// key returns the text this node is stored and joined on at rest: the
// canonical JSON serialization used by both File and Value nodes. This
// is what equality joins in the compiled SQL compare.
func (n Node) key() string {
	b, err := json.Marshal(serdeNode{kind: n.kind, file: n.file, value: n.value})
	if err != nil {
		panic(err) // serdeNode's MarshalJSON never errors for a valid Node
	}
	return string(b)
}

// Key returns the node's canonical storage key -- the text form used
// for equality joins and as the triple table's column values.
func (n Node) Key() string { return n.key() }

// ParseKey is the inverse of Key/MarshalJSON: it parses the on-disk
// representation back into a Node.
func ParseKey(s string) (Node, error) {
	var n Node
	if err := n.UnmarshalJSON([]byte(s)); err != nil {
		return Node{}, err
	}
	return n, nil
}

func (n Node) String() string {
	if n.kind == KindFile {
		return "file:" + n.file.String()
	}
	return "value:" + n.value
}

// Equal reports structural equality. Node's fields are all comparable,
// so == works too; Equal exists for readability at call sites.
func (n Node) Equal(o Node) bool { return n == o }

type serdeNode struct {
	kind  Kind
	file  fhash.Hash
	value string
}

type wireNode struct {
	T string          `json:"t"`
	V json.RawMessage `json:"v"`
}

func (n serdeNode) MarshalJSON() ([]byte, error) {
	switch n.kind {
	case KindFile:
		fb, err := n.file.MarshalJSON()
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireNode{T: "f", V: fb})
	default:
		return json.Marshal(wireNode{T: "v", V: json.RawMessage(n.value)})
	}
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("triple: decoding node key: %w", err)
	}
	switch w.T {
	case "f":
		var h fhash.Hash
		if err := h.UnmarshalJSON(w.V); err != nil {
			return err
		}
		*n = Node{kind: KindFile, file: h}
		return nil
	case "v":
		decoded, err := NewValueFromJSON(w.V)
		if err != nil {
			return err
		}
		*n = decoded
		return nil
	default:
		return fmt.Errorf("triple: unknown node key tag %q", w.T)
	}
}

func (n Node) MarshalJSON() ([]byte, error) {
	return serdeNode{kind: n.kind, file: n.file, value: n.value}.MarshalJSON()
}

// Triple is a single (subject, predicate, object) fact.
type Triple struct {
	Subject   Node
	Predicate string
	Object    Node
}

func (t Triple) String() string {
	return fmt.Sprintf("(%s, %s, %s)", t.Subject, t.Predicate, t.Object)
}
