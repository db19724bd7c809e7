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
	"testing"

	"sunwet.dev/sunwet/pkg/triple"
)

// TestCommitOutputFeedsCommitInput confirms a prepare-*'s commitOutput
// serializes into exactly the shape commitInput expects to read back,
// since the documented workflow is piping one into the other without a
// reshaping step in between.
func TestCommitOutputFeedsCommitInput(t *testing.T) {
	a, err := triple.NewValue("a")
	if err != nil {
		t.Fatalf("triple.NewValue: %v", err)
	}
	album, err := triple.NewValue("album")
	if err != nil {
		t.Fatalf("triple.NewValue: %v", err)
	}

	out := commitOutput{
		Add: toRawTriples([]triple.Triple{
			{Subject: a, Predicate: "is", Object: album},
		}),
		Comment: "add a",
	}

	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal commitOutput: %v", err)
	}

	var in commitInput
	if err := json.Unmarshal(raw, &in); err != nil {
		t.Fatalf("unmarshal into commitInput: %v", err)
	}
	if len(in.Add) != 1 {
		t.Fatalf("Add = %d triples, want 1", len(in.Add))
	}
	if in.Add[0].Predicate != "is" {
		t.Fatalf("Predicate = %q, want is", in.Add[0].Predicate)
	}
	if in.Add[0].Subject.Node.Key() != a.Key() {
		t.Fatalf("Subject = %+v, want %+v", in.Add[0].Subject.Node, a)
	}
	if in.Comment != "add a" {
		t.Fatalf("Comment = %q, want %q", in.Comment, "add a")
	}
}

func TestToRawTriplesPreservesOrder(t *testing.T) {
	a, _ := triple.NewValue("a")
	b, _ := triple.NewValue("b")
	ts := []triple.Triple{
		{Subject: a, Predicate: "p1", Object: b},
		{Subject: b, Predicate: "p2", Object: a},
	}
	raw := toRawTriples(ts)
	if len(raw) != 2 || raw[0].Predicate != "p1" || raw[1].Predicate != "p2" {
		t.Fatalf("toRawTriples reordered or dropped triples: %+v", raw)
	}
}
