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

// defaultviews.go holds the built-in named queries: a handful of
// canonical chain queries usable when no user-defined view config is
// present, so a fresh deployment has something to browse with before
// anyone hand-authors a view config.
package query

import "fmt"

// DefaultView is one built-in named query.
type DefaultView struct {
	Name        string
	Description string
	Query       string
}

// DefaultViews lists the server's built-in views, in registration order.
// "recent" surfaces anything recently committed regardless of type;
// "albums" and "artists" look an entity set up by its "is" type and
// resolve each entry's display name through the "name" predicate.
var DefaultViews = []DefaultView{
	{
		Name:        "albums",
		Description: "every node typed album, with its display name",
		Query:       `"album" <- "is" { => id -> "name" first { => name } }`,
	},
	{
		Name:        "artists",
		Description: "every node typed artist, with its display name",
		Query:       `"artist" <- "is" { => id -> "name" first { => name } }`,
	},
	{
		Name:        "recent",
		Description: "every committed subject, sorted by bound id descending",
		Query:       `search("") { => id } sort desc id`,
	},
}

// LookupDefaultView resolves a view name to its registered query text,
// the fallback consulted when no server-local view config overrides it.
func LookupDefaultView(name string) (DefaultView, error) {
	for _, v := range DefaultViews {
		if v.Name == name {
			return v, nil
		}
	}
	return DefaultView{}, fmt.Errorf("query: no default view named %q", name)
}
