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

package query

import (
	"bytes"
	"encoding/json"
	"fmt"

	"sunwet.dev/sunwet/pkg/triple"
)

// TreeNodeKind discriminates TreeNode's three shapes.
type TreeNodeKind int

const (
	TreeScalar TreeNodeKind = iota
	TreeArray
	TreeRecord
)

// TreeNode is the executor's output shape: a scalar node, an array of
// TreeNodes (a plural binding), or a record of named TreeNodes (a
// chain's tail binds plus its subchains' binds). The same shape goes
// out on the wire and comes back in as form-field values.
type TreeNode struct {
	Kind   TreeNodeKind
	Scalar triple.Node
	Array  []TreeNode
	Record map[string]TreeNode
}

func NewScalar(n triple.Node) TreeNode { return TreeNode{Kind: TreeScalar, Scalar: n} }
func NewArray(items []TreeNode) TreeNode {
	return TreeNode{Kind: TreeArray, Array: items}
}
func NewRecord(fields map[string]TreeNode) TreeNode {
	return TreeNode{Kind: TreeRecord, Record: fields}
}

func (n TreeNode) MarshalJSON() ([]byte, error) {
	switch n.Kind {
	case TreeScalar:
		return n.Scalar.MarshalJSON()
	case TreeArray:
		if n.Array == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(n.Array)
	case TreeRecord:
		return json.Marshal(n.Record)
	default:
		return nil, fmt.Errorf("query: invalid TreeNode kind %d", n.Kind)
	}
}

// UnmarshalJSON inverts MarshalJSON: an array is a TreeArray, the
// two-key {"t":..,"v":..} node wire shape is a TreeScalar, and any
// other object is a TreeRecord. A record can never collide with the
// scalar shape because bind names come from IDENT tokens while "t"
// alone isn't enough -- the object must have exactly the node wire
// form's two keys with a recognized tag to be read as a scalar.
func (n *TreeNode) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("query: empty TreeNode value")
	}
	switch trimmed[0] {
	case '[':
		var items []TreeNode
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*n = NewArray(items)
		return nil
	case '{':
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &keys); err != nil {
			return err
		}
		if tag, ok := keys["t"]; ok && len(keys) == 2 {
			if _, ok := keys["v"]; ok && (string(tag) == `"f"` || string(tag) == `"v"`) {
				var scalar triple.Node
				if err := scalar.UnmarshalJSON(trimmed); err != nil {
					return err
				}
				*n = NewScalar(scalar)
				return nil
			}
		}
		fields := make(map[string]TreeNode, len(keys))
		for name, raw := range keys {
			var field TreeNode
			if err := field.UnmarshalJSON(raw); err != nil {
				return fmt.Errorf("query: field %q: %w", name, err)
			}
			fields[name] = field
		}
		*n = NewRecord(fields)
		return nil
	default:
		return fmt.Errorf("query: a TreeNode must be an array, a record, or a node object")
	}
}
