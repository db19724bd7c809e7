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

// exec.go is the executor half: it walks a parsed and analyzed Query
// against an Env (a graphdb handle plus the request's parameter map),
// evaluating root/step/tail by calling into compile.go's compiled-SQL
// step primitives, then shapes the resulting node sets into TreeNode
// records. Pagination (seeded shuffle, opaque cursor) is applied once
// at the very end, over the fully materialized row list; this is a
// single-process, single-node store and the row counts stay
// correspondingly modest.
package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"sunwet.dev/sunwet/pkg/graphdb"
	"sunwet.dev/sunwet/pkg/triple"
)

// Env bundles the state the executor needs beyond the parsed query:
// the graph database to query and the request's resolved parameter map
// (the query text's "$name" references).
type Env struct {
	DB     *graphdb.DB
	Params map[string]triple.Node
}

// Page is a pagination request: Count bounds the number of
// rows returned; HasSeed requests a deterministic seeded shuffle before
// slicing; Key is the opaque cursor returned as Result.NextKey by a
// previous call, resuming just after that row.
type Page struct {
	Count   int
	HasSeed bool
	Seed    int64
	Key     string
}

// Result is one page of query output.
type Result struct {
	Rows       []TreeNode
	NextKey    string
	HasNextKey bool
}

// Execute runs q against env, shaping the results into records and
// applying the query-level sort and the request's pagination.
func Execute(ctx context.Context, env *Env, q *Query, page Page) (Result, error) {
	rows, err := buildChainRows(ctx, env, &q.Chain, nil)
	if err != nil {
		return Result{}, err
	}

	records := make([]TreeNode, len(rows))
	keyed := make([]string, len(rows))
	for i, r := range rows {
		records[i] = NewRecord(r)
		keyed[i] = rowKey(records[i])
	}

	if len(q.Sort.Fields) > 0 {
		if err := sortRecordsByFields(records, keyed, q.Sort.Fields); err != nil {
			return Result{}, err
		}
	} else if q.Sort.Shuffle && page.HasSeed {
		shuffleRecords(records, keyed, page.Seed)
	}

	return paginate(records, keyed, page), nil
}

// paginate slices the fully-ordered record list down to one page,
// resuming after page.Key if present and reporting the next cursor.
func paginate(records []TreeNode, keys []string, page Page) Result {
	start := 0
	if page.Key != "" {
		for i, k := range keys {
			if k == page.Key {
				start = i + 1
				break
			}
		}
	}
	if start >= len(records) {
		return Result{Rows: []TreeNode{}}
	}

	end := len(records)
	if page.Count > 0 && start+page.Count < end {
		end = start + page.Count
	}

	res := Result{Rows: append([]TreeNode{}, records[start:end]...)}
	if end < len(records) {
		res.NextKey = keys[end-1]
		res.HasNextKey = true
	}
	return res
}

// rowKey derives the opaque, deterministic per-row key pagination and
// the seeded shuffle hash on.
// Record field maps serialize with sorted keys (encoding/json's default
// for Go maps), so this is stable across calls for identical data.
func rowKey(rec TreeNode) string {
	b, err := json.Marshal(rec)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func shuffleRecords(records []TreeNode, keys []string, seed int64) {
	type scored struct {
		rec   TreeNode
		key   string
		score uint64
	}
	sc := make([]scored, len(records))
	for i := range records {
		sc[i] = scored{rec: records[i], key: keys[i], score: seededHash(seed, keys[i])}
	}
	sort.SliceStable(sc, func(i, j int) bool { return sc[i].score < sc[j].score })
	for i := range sc {
		records[i] = sc[i].rec
		keys[i] = sc[i].key
	}
}

// seededHash combines a request seed with a row key into a pseudo-random
// but fully deterministic ordering score (FNV-1a over seed||key).
func seededHash(seed int64, key string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < 8; i++ {
		h ^= uint64(byte(seed >> (8 * i)))
		h *= prime64
	}
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= prime64
	}
	return h
}

func sortRecordsByFields(records []TreeNode, keys []string, fields []TopSortField) error {
	sort.SliceStable(records, func(i, j int) bool {
		for _, f := range fields {
			vi, oki := records[i].Record[f.Field]
			vj, okj := records[j].Record[f.Field]
			if !oki || !okj || vi.Kind != TreeScalar || vj.Kind != TreeScalar {
				continue
			}
			c := triple.Compare(vi.Scalar, vj.Scalar)
			if f.Dir == SortDesc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	// keys must track the reordered records for pagination cursors to
	// remain meaningful; recompute rather than trying to co-sort a
	// parallel slice, since sort.SliceStable only permutes one slice.
	for i := range records {
		keys[i] = rowKey(records[i])
	}
	return nil
}

// buildChainRows evaluates chain c starting from seed (the caller's
// current set; ignored if c.Head carries its own root, per the grammar's
// `head := root? step*`), then shapes each resulting node into a record:
// c's own bind (if any) plus every subchain's contribution, recursively.
// Subchains are evaluated once per element of c's own result set, one
// nested record per current-set element.
func buildChainRows(ctx context.Context, env *Env, c *Chain, seed []elem) ([]map[string]TreeNode, error) {
	elems, err := evalChainHeadFrom(ctx, env, c.Head, seed)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]TreeNode, 0, len(elems))
	for _, e := range elems {
		row := map[string]TreeNode{}
		if c.HasBind {
			row[c.Bind] = NewScalar(e.node)
		}
		for i := range c.Subchains {
			sub := &c.Subchains[i]
			subSeed := []elem{{node: e.node, group: 0}}
			subRows, err := buildChainRows(ctx, env, sub, subSeed)
			if err != nil {
				return nil, err
			}
			mergeSubRowsInto(row, sub, subRows)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// mergeSubRowsInto folds a subchain's per-element rows into the parent
// row: a plural subchain contributes each of its field names as an array, aligned by
// position across subRows; a singular subchain contributes its first
// row's fields directly (there should be at most one by construction,
// but a malformed graph that fans out under a non-"first" step is
// tolerated by just taking the first).
func mergeSubRowsInto(parent map[string]TreeNode, sub *Chain, subRows []map[string]TreeNode) {
	names := map[string]bool{}
	collectChainFieldNames(sub, names)

	if sub.Plural {
		for name := range names {
			arr := make([]TreeNode, 0, len(subRows))
			for _, r := range subRows {
				if v, ok := r[name]; ok {
					arr = append(arr, v)
				}
			}
			parent[name] = NewArray(arr)
		}
		return
	}

	for name := range names {
		if len(subRows) == 0 {
			continue
		}
		if v, ok := subRows[0][name]; ok {
			parent[name] = v
		}
	}
}

// collectChainFieldNames gathers every bind name a chain (and its
// subchains, recursively) can contribute, so mergeSubRowsInto can emit
// an (empty) array for a plural field with zero matches rather than
// silently dropping the key.
func collectChainFieldNames(c *Chain, out map[string]bool) {
	if c.HasBind {
		out[c.Bind] = true
	}
	for i := range c.Subchains {
		collectChainFieldNames(&c.Subchains[i], out)
	}
}

// evalChainHeadFrom evaluates a ChainHead: if it carries its own root
// (a literal value or a search), that root reseeds the current set
// entirely, broadcast across every group present in seed (so a filter
// or junction branch with an explicit root still produces one
// independent result per input element); otherwise seed is used as-is.
func evalChainHeadFrom(ctx context.Context, env *Env, h ChainHead, seed []elem) ([]elem, error) {
	in := seed
	if h.RootKind != RootNone {
		rootNodes, err := evalRoot(ctx, env, h)
		if err != nil {
			return nil, err
		}
		groups := distinctGroups(seed)
		if len(groups) == 0 {
			groups = []int{0}
		}
		in = make([]elem, 0, len(groups)*len(rootNodes))
		for _, g := range groups {
			for _, n := range rootNodes {
				in = append(in, elem{node: n, group: g})
			}
		}
	}
	return applySteps(ctx, env, h.Steps, in)
}

func distinctGroups(in []elem) []int {
	seen := map[int]bool{}
	var out []int
	for _, e := range in {
		if !seen[e.group] {
			seen[e.group] = true
			out = append(out, e.group)
		}
	}
	return out
}

// evalRoot resolves a chain head's root into the node set that seeds
// its step pipeline.
func evalRoot(ctx context.Context, env *Env, h ChainHead) ([]triple.Node, error) {
	switch h.RootKind {
	case RootValue:
		n, err := resolveValue(env, h.RootValue)
		if err != nil {
			return nil, err
		}
		return []triple.Node{n}, nil
	case RootSearch:
		s, err := resolveStr(env, h.RootSearch)
		if err != nil {
			return nil, err
		}
		return env.DB.Search(ctx, s)
	default:
		return nil, nil
	}
}

// applySteps runs a step sequence against in, left to right, threading
// the current set through each step's move/recurse/junction. Each
// step's own "first"/sort_step modifier is compiled directly into that
// step's SQL rather than applied as a separate Go pass afterward --
// the one exception is a move step that also carries a filter, where
// the filter (evaluated in Go against the moved-to set) must run
// before first/sort can apply, so that case folds first/sort into a
// second, small compiled statement over the already-filtered set
// instead.
func applySteps(ctx context.Context, env *Env, steps []Step, in []elem) ([]elem, error) {
	cur := in
	for _, s := range steps {
		var (
			out []elem
			err error
		)
		switch s.Kind {
		case StepMove:
			pred, perr := resolveStr(env, s.Predicate)
			if perr != nil {
				return nil, perr
			}
			stepSort, stepFirst := s.Sort, s.First
			if s.Filter != nil {
				stepSort, stepFirst = SortNone, false
			}
			if s.Dir == MoveForward {
				out, err = moveForward(ctx, env.DB, pred, cur, stepSort, stepFirst)
			} else {
				out, err = moveBackward(ctx, env.DB, pred, cur, stepSort, stepFirst)
			}
			if err != nil {
				return nil, err
			}
			if s.Filter != nil {
				out, err = filterElems(ctx, env, s.Filter, out)
				if err != nil {
					return nil, err
				}
				out, err = applyFirstSortSQL(ctx, env.DB, out, s.Sort, s.First)
				if err != nil {
					return nil, err
				}
			}
		case StepRecurse:
			out, err = recurseToFixedPoint(ctx, env, s.RecurseSteps, cur, s.Sort, s.First)
			if err != nil {
				return nil, err
			}
		case StepJunction:
			out, err = junction(ctx, env, s.JunctionType, s.JunctionChains, cur, s.Sort, s.First)
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("query: unknown step kind %d", s.Kind)
		}

		cur = out
	}
	return cur, nil
}

// filterElems applies a step's "(filter_expr)" to a move step's output,
// keeping only the elements whose filter mask is true.
func filterElems(ctx context.Context, env *Env, f *FilterExpr, in []elem) ([]elem, error) {
	mask, err := evalFilterMask(ctx, env, f, in)
	if err != nil {
		return nil, err
	}
	out := make([]elem, 0, len(in))
	for i, e := range in {
		if mask[i] {
			out = append(out, e)
		}
	}
	return out, nil
}

// evalFilterMask evaluates f against every element of in independently,
// returning a same-length boolean mask.
func evalFilterMask(ctx context.Context, env *Env, f *FilterExpr, in []elem) ([]bool, error) {
	switch f.Kind {
	case FilterExists:
		return evalExistsMask(ctx, env, f, in)
	case FilterJunction:
		masks := make([][]bool, len(f.Subexprs))
		for i, sub := range f.Subexprs {
			m, err := evalFilterMask(ctx, env, sub, in)
			if err != nil {
				return nil, err
			}
			masks[i] = m
		}
		out := make([]bool, len(in))
		for i := range in {
			if f.JunctionType == JunctionAnd {
				v := true
				for _, m := range masks {
					v = v && m[i]
				}
				out[i] = v
			} else {
				v := false
				for _, m := range masks {
					v = v || m[i]
				}
				out[i] = v
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("query: unknown filter kind %d", f.Kind)
	}
}

func evalExistsMask(ctx context.Context, env *Env, f *FilterExpr, in []elem) ([]bool, error) {
	localIn := make([]elem, len(in))
	for i, e := range in {
		localIn[i] = elem{node: e.node, group: i}
	}
	result, err := evalChainHeadFrom(ctx, env, f.Subchain, localIn)
	if err != nil {
		return nil, err
	}

	byGroup := map[int][]triple.Node{}
	for _, r := range result {
		byGroup[r.group] = append(byGroup[r.group], r.node)
	}

	var (
		cmpWith triple.Node
		like    string
	)
	if f.Suffix != nil {
		if f.Suffix.IsLike {
			like, err = resolveStr(env, f.Suffix.Like)
			if err != nil {
				return nil, err
			}
		} else if f.Suffix.HasCmp {
			cmpWith, err = resolveValue(env, f.Suffix.CmpWith)
			if err != nil {
				return nil, err
			}
		}
	}

	mask := make([]bool, len(in))
	for i := range in {
		nodes := byGroup[i]
		pass := false
		switch {
		case f.Suffix == nil:
			pass = len(nodes) > 0
		case f.Suffix.IsLike:
			for _, n := range nodes {
				if likeMatch(like, n) {
					pass = true
					break
				}
			}
		case f.Suffix.HasCmp:
			for _, n := range nodes {
				if compareMatches(f.Suffix.CmpOp, n, cmpWith) {
					pass = true
					break
				}
			}
		}
		if f.ExistsType == MustNotExist {
			pass = !pass
		}
		mask[i] = pass
	}
	return mask, nil
}

func compareMatches(op CompareOp, n, target triple.Node) bool {
	c := triple.Compare(n, target)
	switch op {
	case OpEq:
		return c == 0
	case OpNeq:
		return c != 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	default:
		return false
	}
}

// resolveValue resolves a root/filter-suffix Value to a concrete Node,
// looking parameters up in env.Params.
func resolveValue(env *Env, v Value) (triple.Node, error) {
	if !v.IsParameter {
		return v.Literal, nil
	}
	n, ok := env.Params[v.Parameter]
	if !ok {
		return triple.Node{}, fmt.Errorf("query: missing parameter $%s", v.Parameter)
	}
	return n, nil
}

// resolveStr resolves a StrValue (predicate name or like-pattern) to a
// Go string.
func resolveStr(env *Env, v StrValue) (string, error) {
	if !v.IsParameter {
		return v.Literal, nil
	}
	n, ok := env.Params[v.Parameter]
	if !ok {
		return "", fmt.Errorf("query: missing parameter $%s", v.Parameter)
	}
	if n.IsFile() {
		return "", fmt.Errorf("query: parameter $%s is a file reference, not a string", v.Parameter)
	}
	var s string
	if err := n.Value(&s); err != nil {
		return "", fmt.Errorf("query: parameter $%s is not a string: %w", v.Parameter, err)
	}
	return s, nil
}
