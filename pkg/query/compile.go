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

// compile.go is the compiler half: it turns one step (a move, a
// recursive closure, or a junction) into a single compiled SQL
// statement with a parameter list, and runs it through graphdb's pool
// -- a chain's "move forward" becomes a join against a live-triple
// view, "** { steps }" becomes a WITH RECURSIVE closure over that
// view, and "& {..} & {..}"/"| {..} | {..}" becomes real
// INTERSECT/UNION of each branch's (grp, node) rows. first/sort are
// folded into the same statement as a ROW_NUMBER() window and an ORDER
// BY, rather than a second pass in Go. Recursion and inline junction
// branches are restricted to plain move chains; anything richer falls
// back to evaluating the branch on its own and feeding the result back
// in as the VALUES side of the same combinator.
package query

import (
	"context"
	"fmt"
	"strings"

	"sunwet.dev/sunwet/pkg/graphdb"
	"sunwet.dev/sunwet/pkg/triple"
)

// elem is one member of a chain's current set, paired with the index
// (into the slice that fed the step that produced it) it fans out from.
// group bookkeeping only matters within the one step that produced it --
// "first" and sort_step both operate relative to the step's own input,
// not the chain's original root.
type elem struct {
	node  triple.Node
	group int
}

// liveCTE is the shared "one row per (subject,predicate,object) key, at
// its maximum timestamp" view every step query joins against -- the
// same window-function shape pkg/graphdb/read.go uses for its own
// latest-row lookups.
const liveCTE = `live AS (
  SELECT subject, predicate, object, exists_flag, timestamp,
    ROW_NUMBER() OVER (PARTITION BY subject, predicate, object ORDER BY timestamp DESC) AS rn
  FROM triple
)`

// groupValuesClause renders in as a "VALUES (grp, key), ..." table
// value constructor, the SQL-level stand-in for a batch of Go values --
// MySQL requires each row wrapped in ROW(...) where SQLite accepts a
// bare tuple list, so the two placeholder forms are the one spot this
// package still needs graphdb.Dialect for (graphdb.SQLDB's doc comment
// already notes placeholders are otherwise dialect-agnostic).
func groupValuesClause(dialect graphdb.Dialect, in []elem) (string, []interface{}) {
	if len(in) == 0 {
		return emptyGroupValues, nil
	}
	row := "(?,?)"
	if dialect == graphdb.DialectMySQL {
		row = "ROW(?,?)"
	}
	parts := make([]string, len(in))
	args := make([]interface{}, 0, len(in)*2)
	for i, e := range in {
		parts[i] = row
		args = append(args, e.group, e.node.Key())
	}
	return "VALUES " + strings.Join(parts, ","), args
}

// emptyGroupValues stands in for a zero-row (grp, node) table: a
// table-value-constructor can't express zero rows directly, so this is
// a constant-false SELECT instead, typed the same as a real VALUES row.
const emptyGroupValues = `SELECT 0 AS grp, '' AS node WHERE 1 = 0`

// orderByClause renders an ORDER BY expression list approximating
// triple.Compare's total order over a column holding a
// node's canonical Key() text: discriminant (File < Value), then
// scalar-priority class (bool < number < string), matching
// triple.Node.Key()'s fixed `{"t":"X","v":` prefix -- the kind tag
// sits at byte offset 7, the value's own leading byte at offset 14.
// Bool and string values already compare correctly as text once
// grouped into their class; numbers are compared as REAL, which is
// exact for typical data but loses precision beyond float64's
// 53-bit mantissa for very large integers -- triple.Compare itself
// uses arbitrary-precision big.Int for that tier, a guarantee this SQL
// approximation does not reproduce. The raw column text is appended
// last as a final, fully deterministic tie-break.
func orderByClause(col string, dir SortDir) string {
	valByte := fmt.Sprintf("substr(%s, 14, 1)", col)
	discriminant := fmt.Sprintf("(CASE WHEN substr(%s, 7, 1) = 'f' THEN 0 ELSE 1 END)", col)
	class := fmt.Sprintf("(CASE WHEN %s IN ('t','f') THEN 0 WHEN %s = '\"' THEN 2 ELSE 1 END)", valByte, valByte)
	numeric := fmt.Sprintf("(CASE WHEN %s NOT IN ('t','f','\"') THEN CAST(substr(%s, 14) AS REAL) END)", valByte, col)

	terms := []string{discriminant, class, numeric, col}
	suffix := ""
	if dir == SortDesc {
		suffix = " DESC"
	}
	for i, t := range terms {
		terms[i] = t + suffix
	}
	return strings.Join(terms, ", ")
}

// wrapGroupFinal wraps a (grp, node) CTE named fromName with a step's
// own first/sort modifiers, compiled as a ROW_NUMBER() window and an ORDER BY rather
// than evaluated in a second Go pass over the fetched rows. Distinct
// groups keep their grp-ascending order either way, the same "groups
// stay in their original relative order, elements within a group get
// reordered" semantics the step modifiers describe.
func wrapGroupFinal(fromName string, first bool, sort SortDir) string {
	effSort := sort
	if effSort == SortNone {
		effSort = SortAsc
	}
	order := orderByClause("node", effSort)

	if first {
		return fmt.Sprintf(`SELECT grp, node FROM (
  SELECT grp, node, ROW_NUMBER() OVER (PARTITION BY grp ORDER BY %s) AS rn
  FROM %s
) AS picked WHERE rn = 1 ORDER BY grp ASC`, order, fromName)
	}
	if sort != SortNone {
		return fmt.Sprintf(`SELECT grp, node FROM %s ORDER BY grp ASC, %s`, fromName, order)
	}
	return fmt.Sprintf(`SELECT grp, node FROM %s ORDER BY grp ASC`, fromName)
}

// runGroupNodeQuery executes a compiled (grp, node) statement and
// parses its rows back into elems -- the one place C4 actually talks
// to the database for a step's result, regardless of which of
// move/recurseToFixedPoint/junction/applyFirstSortSQL compiled it.
func runGroupNodeQuery(ctx context.Context, db *graphdb.DB, q string, args []interface{}) ([]elem, error) {
	rows, err := db.SQLDB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query: compiled step query: %w", err)
	}
	defer rows.Close()

	var out []elem
	for rows.Next() {
		var grp int
		var key string
		if err := rows.Scan(&grp, &key); err != nil {
			return nil, fmt.Errorf("query: scanning compiled step result: %w", err)
		}
		n, err := triple.ParseKey(key)
		if err != nil {
			return nil, fmt.Errorf("query: parsing compiled step result node: %w", err)
		}
		out = append(out, elem{node: n, group: grp})
	}
	return out, rows.Err()
}

// moveForward batches "-> predicate" over every element of in, folding
// the step's own first/sort into the same compiled statement.
func moveForward(ctx context.Context, db *graphdb.DB, predicate string, in []elem, sort SortDir, first bool) ([]elem, error) {
	return move(ctx, db, predicate, in, true, sort, first)
}

// moveBackward batches "<- predicate" the same way, following edges
// against their direction.
func moveBackward(ctx context.Context, db *graphdb.DB, predicate string, in []elem, sort SortDir, first bool) ([]elem, error) {
	return move(ctx, db, predicate, in, false, sort, first)
}

// move compiles a whole "move" step -- live-triple lookup, the input
// set's fan-out, and first/sort -- into one statement. Only rows with
// exists=true at their maximum timestamp are considered live.
func move(ctx context.Context, db *graphdb.DB, predicate string, in []elem, forward bool, sort SortDir, first bool) ([]elem, error) {
	if len(in) == 0 {
		return nil, nil
	}

	pivotCol, otherCol := "subject", "object"
	if !forward {
		pivotCol, otherCol = "object", "subject"
	}

	valuesSQL, args := groupValuesClause(db.Dialect(), in)
	args = append(args, predicate)

	q := fmt.Sprintf(`
WITH input(grp, pivot) AS (%s),
ranked AS (
  SELECT subject, predicate, object, exists_flag, timestamp,
    ROW_NUMBER() OVER (PARTITION BY subject, predicate, object ORDER BY timestamp DESC) AS rn
  FROM triple
  WHERE predicate = ? AND %s IN (SELECT pivot FROM input)
),
liveval AS (
  SELECT %s AS pivot, %s AS node FROM ranked WHERE rn = 1 AND exists_flag = 1
),
result(grp, node) AS (
  SELECT input.grp, liveval.node FROM input JOIN liveval ON liveval.pivot = input.pivot
)
%s`, valuesSQL, pivotCol, pivotCol, otherCol, wrapGroupFinal("result", first, sort))

	return runGroupNodeQuery(ctx, db, q, args)
}

// applyFirstSortSQL folds a step's first/sort into a tiny compiled
// statement over an already-fetched elem set -- used only where a
// move step carries its own filter, since first/sort
// apply after filtering, not before (a filter can drop the very
// element "first" would otherwise have picked).
func applyFirstSortSQL(ctx context.Context, db *graphdb.DB, in []elem, sort SortDir, first bool) ([]elem, error) {
	if sort == SortNone && !first {
		return in, nil
	}
	if len(in) == 0 {
		return in, nil
	}
	valuesSQL, args := groupValuesClause(db.Dialect(), in)
	q := fmt.Sprintf("WITH result(grp, node) AS (%s)\n%s", valuesSQL, wrapGroupFinal("result", first, sort))
	return runGroupNodeQuery(ctx, db, q, args)
}

// moveChainJoins builds the join clauses that walk a sequence of plain
// move steps forward from startExpr, against the shared live view --
// the one piece of SQL shape reused both by a recursive closure's own
// per-round expansion and by a junction branch that is itself nothing
// but a move chain. It rejects anything else (a filter, a nested
// recurse/junction, or the step's own first/sort) because a recursive
// CTE's self-reference rule and a junction's set-combinator both need
// each branch to be a single flat join chain; those richer shapes are
// evaluated by the ordinary Go-side step walk instead and fed back in
// as values (see junction below).
func moveChainJoins(steps []Step, env *Env, startExpr string) (joins string, finalExpr string, args []interface{}, err error) {
	if len(steps) == 0 {
		return "", "", nil, fmt.Errorf("query: an inline move chain needs at least one step")
	}
	prev := startExpr
	var parts []string
	for i, st := range steps {
		if st.Kind != StepMove || st.Filter != nil || st.Sort != SortNone || st.First {
			return "", "", nil, fmt.Errorf("query: only a plain move (no filter, first, or sort) can be inlined here")
		}
		pred, perr := resolveStr(env, st.Predicate)
		if perr != nil {
			return "", "", nil, perr
		}
		alias := fmt.Sprintf("s%d", i)
		col, other := "subject", "object"
		if st.Dir == MoveBackward {
			col, other = "object", "subject"
		}
		parts = append(parts, fmt.Sprintf(
			"JOIN live %s ON %s.%s = %s AND %s.predicate = ? AND %s.rn = 1 AND %s.exists_flag = 1",
			alias, alias, col, prev, alias, alias, alias))
		args = append(args, pred)
		prev = alias + "." + other
	}
	return strings.Join(parts, "\n  "), prev, args, nil
}

// recurseToFixedPoint implements "** { steps }" as a single WITH
// RECURSIVE statement: the anchor term is the input set itself (the
// root is always included in the closure), the recursive term walks
// steps once more from each already-reached node, and plain UNION (not
// UNION ALL) is what makes the recursion terminate on a graph with
// cycles -- relational fixed-point iteration instead of a Go
// frontier/seen-map loop.
func recurseToFixedPoint(ctx context.Context, env *Env, steps []Step, in []elem, sort SortDir, first bool) ([]elem, error) {
	if len(in) == 0 {
		return nil, nil
	}

	joins, finalExpr, joinArgs, err := moveChainJoins(steps, env, "c.node")
	if err != nil {
		return nil, fmt.Errorf("query: recursion body must be a plain move chain: %w", err)
	}

	valuesSQL, seedArgs := groupValuesClause(env.DB.Dialect(), in)

	q := fmt.Sprintf(`
WITH RECURSIVE
%s,
seed(grp, node) AS (%s),
closure(grp, node) AS (
  SELECT grp, node FROM seed
  UNION
  SELECT c.grp, %s FROM closure c
  %s
)
%s`, liveCTE, valuesSQL, finalExpr, joins, wrapGroupFinal("closure", first, sort))

	args := append(append([]interface{}{}, seedArgs...), joinArgs...)
	return runGroupNodeQuery(ctx, env.DB, q, args)
}

// junction implements "& {..} & {..}" / "| {..} | {..}": every branch
// is compiled into a (grp, node) CTE and the branches are combined with
// a genuine SQL INTERSECT (AND) or UNION (OR) over those (grp, node)
// pairs -- intersecting/unioning whole (group, node) tuples is exactly
// "per input element, intersect/union the branches' node sets", since
// a node only survives an INTERSECT if every branch produced it under
// the same grp.
//
// A branch that is itself a plain move chain is inlined the same way
// recursion's recursive term is; a branch with its own root, filter,
// or nested recursion/junction is evaluated with the ordinary Go-side
// step walk and its output fed back in as the branch's VALUES side, so
// the combinator itself is always real SQL no matter how rich a branch
// is.
func junction(ctx context.Context, env *Env, kind JunctionType, branches []ChainHead, in []elem, sort SortDir, first bool) ([]elem, error) {
	if len(branches) == 0 || len(in) == 0 {
		return nil, nil
	}

	ctes := []string{liveCTE}
	valuesSQL, args := groupValuesClause(env.DB.Dialect(), in)
	ctes = append(ctes, fmt.Sprintf("seed(grp, node) AS (%s)", valuesSQL))

	var branchNames []string
	for i, branch := range branches {
		name := fmt.Sprintf("branch%d", i)
		branchNames = append(branchNames, name)

		if branch.RootKind == RootNone {
			joins, finalExpr, joinArgs, err := moveChainJoins(branch.Steps, env, "seed.node")
			if err == nil {
				ctes = append(ctes, fmt.Sprintf(
					"%s(grp, node) AS (\n  SELECT seed.grp, %s FROM seed\n  %s\n)", name, finalExpr, joins))
				args = append(args, joinArgs...)
				continue
			}
		}

		out, err := evalChainHeadFrom(ctx, env, branch, append([]elem{}, in...))
		if err != nil {
			return nil, err
		}
		rowsSQL, rowArgs := groupValuesClause(env.DB.Dialect(), out)
		ctes = append(ctes, fmt.Sprintf("%s(grp, node) AS (%s)", name, rowsSQL))
		args = append(args, rowArgs...)
	}

	combinator := "INTERSECT"
	if kind == JunctionOr {
		combinator = "UNION"
	}
	parts := make([]string, len(branchNames))
	for i, name := range branchNames {
		parts[i] = fmt.Sprintf("SELECT grp, node FROM %s", name)
	}
	combined := strings.Join(parts, "\n"+combinator+"\n")

	q := fmt.Sprintf("WITH %s,\ncombined(grp, node) AS (\n%s\n)\n%s",
		strings.Join(ctes, ",\n"), combined, wrapGroupFinal("combined", first, sort))

	return runGroupNodeQuery(ctx, env.DB, q, args)
}
