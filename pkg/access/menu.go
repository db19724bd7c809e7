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

// MenuNode is one node of the server's configured menu tree: a leaf
// names a view or form by id, a section groups children.
type MenuNode struct {
	ID       string
	Label    string
	Children []MenuNode
}

func (n MenuNode) isLeaf() bool { return len(n.Children) == 0 }

// FilterMenu returns the subtree of root visible under grants: a leaf
// is visible iff grants is Admin or contains its id; a section is
// visible iff it has any visible descendant. Returns
// (MenuNode{}, false) if root itself is not visible.
func FilterMenu(root MenuNode, grants Grants) (MenuNode, bool) {
	if root.isLeaf() {
		if grants.Contains(root.ID) {
			return root, true
		}
		return MenuNode{}, false
	}

	var kept []MenuNode
	for _, child := range root.Children {
		if visible, ok := FilterMenu(child, grants); ok {
			kept = append(kept, visible)
		}
	}
	if len(kept) == 0 {
		return MenuNode{}, false
	}
	return MenuNode{ID: root.ID, Label: root.Label, Children: kept}, true
}
