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

// NodeText renders a Node as display/searchable text, for the
// search(...) root and the "~" like filter suffix: a File node renders
// as its hash string, a string Value renders as itself, and any other
// scalar Value renders as its JSON text.
package query

import (
	"strings"

	"sunwet.dev/sunwet/pkg/triple"
)

func NodeText(n triple.Node) string {
	if n.IsFile() {
		return n.File().String()
	}
	var s string
	if err := n.Value(&s); err == nil {
		return s
	}
	return n.ValueJSON()
}

// likeMatch implements the "~" filter suffix: a case-sensitive
// substring match against the candidate's rendered text. The grammar
// defines no wildcard syntax, so "like" means plain "contains".
func likeMatch(pattern string, n triple.Node) bool {
	return strings.Contains(NodeText(n), pattern)
}
