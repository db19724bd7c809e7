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

package triple

import (
	"bytes"
	"encoding/json"
	"math/big"
)

// Compare implements the total order on nodes: discriminant first
// (File < Value), then lexicographic on the underlying value; JSON
// numbers compare by numeric class (unsigned integer < signed integer
// < float) and then by value within the class. It returns -1, 0, or 1.
// This order is what query sort output is defined against, so it must
// stay stable across releases.
func Compare(a, b Node) int {
	if a.kind != b.kind {
		if a.kind == KindFile {
			return -1
		}
		return 1
	}
	if a.kind == KindFile {
		return compareFile(a.file.String(), b.file.String())
	}
	return compareJSON([]byte(a.value), []byte(b.value))
}

func compareFile(a, b string) int {
	return bytes.Compare([]byte(a), []byte(b))
}

// scalarPriority ranks the scalar classes bool < number < string,
// restricted to the shapes NewValueFromJSON ever admits.
func scalarPriority(raw []byte) int {
	if len(raw) == 0 {
		return -1
	}
	switch raw[0] {
	case 't', 'f':
		return 1
	case '"':
		return 3
	default:
		return 2 // number
	}
}

func compareJSON(a, b []byte) int {
	pa, pb := scalarPriority(a), scalarPriority(b)
	if pa != pb {
		if pa < pb {
			return -1
		}
		return 1
	}
	switch pa {
	case 1:
		av, bv := string(a) == "true", string(b) == "true"
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	case 3:
		var as, bs string
		_ = json.Unmarshal(a, &as)
		_ = json.Unmarshal(b, &bs)
		return bytes.Compare([]byte(as), []byte(bs))
	default:
		return compareNumber(a, b)
	}
}

type numClass int

const (
	classU64 numClass = iota
	classI64
	classF64
)

// classify buckets a number literal into its tightest representation:
// non-negative integer, negative integer, or float.
func classify(raw []byte) (numClass, *big.Int, float64) {
	var i big.Int
	if _, ok := i.SetString(string(raw), 10); ok {
		if i.Sign() >= 0 {
			return classU64, &i, 0
		}
		return classI64, &i, 0
	}
	var f big.Float
	f.SetString(string(raw))
	fv, _ := f.Float64()
	return classF64, nil, fv
}

func compareNumber(a, b []byte) int {
	ca, ia, fa := classify(a)
	cb, ib, fb := classify(b)
	if ca != cb {
		if ca < cb {
			return -1
		}
		return 1
	}
	switch ca {
	case classU64, classI64:
		return ia.Cmp(ib)
	default:
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
}

// Less reports whether a sorts strictly before b under Compare. It
// exists so Node slices can be handed to sort.Slice directly.
func Less(a, b Node) bool { return Compare(a, b) < 0 }
