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

package triple

import (
	"crypto/sha256"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"sunwet.dev/sunwet/pkg/fhash"
)

func mustValue(t *testing.T, v interface{}) Node {
	t.Helper()
	n, err := NewValue(v)
	if err != nil {
		t.Fatalf("NewValue(%v): %v", v, err)
	}
	return n
}

func testFileNode(t *testing.T, seed byte) Node {
	t.Helper()
	sum := sha256.Sum256([]byte{seed})
	h, err := fhash.FromDigest(fhash.SHA256, sum[:])
	if err != nil {
		t.Fatal(err)
	}
	return NewFile(h)
}

func TestNewValueRejectsNonScalars(t *testing.T) {
	for _, raw := range []string{`null`, `[1,2]`, `{"a":1}`} {
		if _, err := NewValueFromJSON([]byte(raw)); err == nil {
			t.Errorf("NewValueFromJSON(%s) succeeded, want rejection", raw)
		}
	}
}

func TestKeyRoundTrip(t *testing.T) {
	nodes := []Node{
		mustValue(t, "hello"),
		mustValue(t, ""),
		mustValue(t, true),
		mustValue(t, false),
		mustValue(t, 0),
		mustValue(t, -17),
		mustValue(t, 3.25),
		mustValue(t, uint64(1<<63)),
		testFileNode(t, 1),
	}
	for _, n := range nodes {
		parsed, err := ParseKey(n.Key())
		if err != nil {
			t.Errorf("ParseKey(Key(%s)): %v", n, err)
			continue
		}
		if parsed != n {
			t.Errorf("round trip changed %s into %s", n, parsed)
		}
	}
}

func TestCanonicalization(t *testing.T) {
	// Distinct textual encodings of the same scalar must produce equal
	// nodes, since equality joins compare stored key text.
	a, err := NewValueFromJSON([]byte(`"x"`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewValueFromJSON([]byte(` "x" `))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("whitespace variant produced a different node: %s vs %s", a, b)
	}
}

func TestCompareDiscriminantAndClasses(t *testing.T) {
	file := testFileNode(t, 2)
	boolean := mustValue(t, false)
	number := mustValue(t, 5)
	str := mustValue(t, "5")

	// File < Value; within Value: bool < number < string.
	ordered := []Node{file, boolean, number, str}
	for i := 0; i < len(ordered); i++ {
		for j := 0; j < len(ordered); j++ {
			got := Compare(ordered[i], ordered[j])
			want := 0
			if i < j {
				want = -1
			} else if i > j {
				want = 1
			}
			if got != want {
				t.Errorf("Compare(%s, %s) = %d, want %d", ordered[i], ordered[j], got, want)
			}
		}
	}
}

func TestCompareNumbers(t *testing.T) {
	tests := []struct {
		a, b interface{}
		want int
	}{
		{1, 2, -1},
		{2, 1, 1},
		{2, 2, 0},
		{-3, -2, -1},
		// Numeric class ordering: non-negative integers sort before
		// negative integers, which sort before floats.
		{7, -1, -1},
		{-1, 1.5, -1},
		{1.5, 2.5, -1},
		{uint64(1) << 60, (uint64(1) << 60) + 1, -1},
	}
	for _, tt := range tests {
		a, b := mustValue(t, tt.a), mustValue(t, tt.b)
		if got := Compare(a, b); got != tt.want {
			t.Errorf("Compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

// TestCompareTotalOrder checks antisymmetry and transitivity over a
// randomized node population, the property-test half of the ordering
// requirement.
func TestCompareTotalOrder(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	var nodes []Node
	for i := 0; i < 40; i++ {
		switch rnd.Intn(4) {
		case 0:
			nodes = append(nodes, mustValue(t, rnd.Intn(2) == 0))
		case 1:
			nodes = append(nodes, mustValue(t, rnd.Int63n(1e6)-5e5))
		case 2:
			nodes = append(nodes, mustValue(t, fmt.Sprintf("s%d", rnd.Intn(100))))
		case 3:
			nodes = append(nodes, testFileNode(t, byte(rnd.Intn(256))))
		}
	}

	for _, a := range nodes {
		for _, b := range nodes {
			if Compare(a, b) != -Compare(b, a) {
				t.Fatalf("antisymmetry violated for %s / %s", a, b)
			}
			if a == b && Compare(a, b) != 0 {
				t.Fatalf("equal nodes compare nonzero: %s", a)
			}
			for _, c := range nodes {
				if Compare(a, b) <= 0 && Compare(b, c) <= 0 && Compare(a, c) > 0 {
					t.Fatalf("transitivity violated for %s <= %s <= %s", a, b, c)
				}
			}
		}
	}

	// Sorting must be stable in outcome regardless of input order.
	shuffled := append([]Node{}, nodes...)
	rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	sort.Slice(nodes, func(i, j int) bool { return Less(nodes[i], nodes[j]) })
	sort.Slice(shuffled, func(i, j int) bool { return Less(shuffled[i], shuffled[j]) })
	for i := range nodes {
		if nodes[i] != shuffled[i] {
			t.Fatalf("sort outcome depends on input order at index %d: %s vs %s", i, nodes[i], shuffled[i])
		}
	}
}
