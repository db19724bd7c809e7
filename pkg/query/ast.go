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

// Package query implements the path-query language: parsing query text
// into the Chain/Step/FilterExpr AST below, compiling each step to SQL
// over the triple table, and shaping the resulting rows into TreeNode
// records.
//
// compile.go turns each step into a single compiled SQL statement: a
// move is a live-triple join, "** { steps }" is a WITH RECURSIVE
// closure, "& {..}"/"| {..}" is a real INTERSECT/UNION of the branches'
// row sets, and first/sort are a ROW_NUMBER() window and an ORDER BY
// folded into that same statement. exec.go runs those statements in
// chain order and shapes the resulting rows into records; it only
// falls back to evaluating a sub-expression in Go where the step
// itself is Go-evaluated (an existence filter's subchain) or where a
// richer junction branch can't be inlined into one flat join chain, in
// which case its own output still gets fed back into the surrounding
// statement's set combinator.
package query

import "sunwet.dev/sunwet/pkg/triple"

// MoveDirection is the direction a move step follows a predicate edge.
type MoveDirection int

const (
	MoveForward  MoveDirection = iota // "-> p"
	MoveBackward                      // "<- p"
)

// JunctionType combines independently-evaluated branches.
type JunctionType int

const (
	JunctionAnd JunctionType = iota
	JunctionOr
)

// SortDir orders a step's fan-out, or a top-level result sort.
type SortDir int

const (
	SortNone SortDir = iota
	SortAsc
	SortDesc
)

// StrValue is either a string literal or a "$name" parameter reference,
// used wherever the grammar needs a predicate name or like-pattern.
type StrValue struct {
	Literal     string
	Parameter   string
	IsParameter bool
}

// Value is either a JSON-scalar literal or a "$name" parameter
// reference, used as a root value or a filter comparison operand.
type Value struct {
	Literal     triple.Node
	Parameter   string
	IsParameter bool
}

// CompareOp is a filter_suffix comparison operator.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
)

// FilterSuffix narrows a `(? ...)`/`(!? ...)` filter from a plain
// existence check to a comparison against the subchain's results.
type FilterSuffix struct {
	IsLike  bool
	Like    StrValue
	HasCmp  bool
	CmpOp   CompareOp
	CmpWith Value
}

// ExistsType distinguishes "?" from "!?".
type ExistsType int

const (
	MustExist ExistsType = iota
	MustNotExist
)

// FilterExpr is either an existence check or a junction of sub-filters.
// Exactly one of the two groups of fields is meaningful, discriminated
// by Kind; filters never need dynamic dispatch beyond "is it Exists or
// Junction", so a kind tag beats an interface per variant.
type FilterExpr struct {
	Kind FilterExprKind

	// Kind == FilterExists
	ExistsType ExistsType
	Subchain   ChainHead
	Suffix     *FilterSuffix

	// Kind == FilterJunction
	JunctionType JunctionType
	Subexprs     []*FilterExpr
}

type FilterExprKind int

const (
	FilterExists FilterExprKind = iota
	FilterJunction
)

// StepKind discriminates the step alternatives: a predicate move, a
// recursive closure, or a junction.
type StepKind int

const (
	StepMove StepKind = iota
	StepRecurse
	StepJunction
)

// Step is one element of a chain's step* sequence.
type Step struct {
	Kind StepKind

	// Kind == StepMove
	Dir       MoveDirection
	Predicate StrValue
	Filter    *FilterExpr

	// Kind == StepRecurse
	RecurseSteps []Step

	// Kind == StepJunction
	JunctionType   JunctionType
	JunctionChains []ChainHead

	// Common to every step kind.
	Sort  SortDir
	First bool
}

// ChainRootKind discriminates a chain head's optional root.
type ChainRootKind int

const (
	RootNone ChainRootKind = iota
	RootValue
	RootSearch
)

// ChainHead is a chain's root plus step sequence -- what the grammar
// calls `head`, and what a filter/recurse/junction subchain is (since
// those never carry a tail of their own).
type ChainHead struct {
	RootKind   ChainRootKind
	RootValue  Value
	RootSearch StrValue
	Steps      []Step
}

// Chain is a full chain: a head plus its tail (an optional bind name
// and/or nested child chains).
type Chain struct {
	Head      ChainHead
	Bind      string
	HasBind   bool
	Subchains []Chain

	// Plural is computed by analyze.go: true iff no step in this
	// chain's own head bore "first", in which case the binding
	// surfaces as an array rather than a scalar.
	Plural bool
}

// TopSortField is one field of the query-level `sort asc/desc name,
// ...` clause, ordering the final result rows by a bound field's value.
type TopSortField struct {
	Dir   SortDir
	Field string
}

// TopSort is the query-level sort clause: either an explicit list of
// (direction, field) pairs, or a request for a random shuffle (handled
// via the executor's pagination seed).
type TopSort struct {
	Fields  []TopSortField
	Shuffle bool
}

// Query is a fully-parsed path query: a root chain plus an optional
// top-level sort.
type Query struct {
	Chain Chain
	Sort  TopSort
}
