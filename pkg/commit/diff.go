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

package commit

import "sunwet.dev/sunwet/pkg/triple"

// Diff computes, from a desired triple set and the currently observed
// one, the add/remove pair that would reconcile observed into desired.
// The CLI's prepare-merge-commit subcommand uses this so a caller can
// describe the graph state it wants rather than hand-writing an
// add/remove list itself.
func Diff(desired, observed []triple.Triple) (add, remove []triple.Triple) {
	desiredSet := map[string]bool{}
	for _, t := range desired {
		desiredSet[tripleKey(t)] = true
	}
	observedSet := map[string]bool{}
	for _, t := range observed {
		observedSet[tripleKey(t)] = true
	}

	// Walk the input slices, not the sets, so output order follows input
	// order and repeated prepare-merge-commit runs stay diffable.
	seen := map[string]bool{}
	for _, t := range desired {
		k := tripleKey(t)
		if !observedSet[k] && !seen[k] {
			seen[k] = true
			add = append(add, t)
		}
	}
	seen = map[string]bool{}
	for _, t := range observed {
		k := tripleKey(t)
		if !desiredSet[k] && !seen[k] {
			seen[k] = true
			remove = append(remove, t)
		}
	}
	return add, remove
}

func tripleKey(t triple.Triple) string {
	return t.Subject.Key() + "\x00" + t.Predicate + "\x00" + t.Object.Key()
}
