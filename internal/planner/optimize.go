package planner

import "github.com/codeready-toolchain/sentinel/internal/lql"

// Optimize rewrites a LogicalPlan in place and returns it: where merging,
// redundant projection elimination, aggregation coalescing, and (for
// multi-table pipelines) a join-reordering stub that puts the most
// selective filter first.
func Optimize(plan *LogicalPlan) *LogicalPlan {
	mergeWhere(plan)
	coalesceAggregates(plan)
	eliminateRedundantProjection(plan)
	reorderJoins(plan)
	return plan
}

// mergeWhere ANDs every where-stage's expression into a single predicate,
// so the SQL emitter only ever has one WHERE clause to render.
func mergeWhere(plan *LogicalPlan) {
	if len(plan.Filters) <= 1 {
		return
	}
	merged := plan.Filters[0]
	for _, f := range plan.Filters[1:] {
		merged = lql.BinaryExpr{Op: "and", Left: merged, Right: f}
	}
	plan.Filters = []lql.Expr{merged}
}

// coalesceAggregates drops duplicate aggregate calls (same func + same
// argument rendering), keeping the first alias declared for that
// computation — a second "count() as c2" alongside "count() as c1" is
// pure overhead the emitter can skip.
func coalesceAggregates(plan *LogicalPlan) {
	if len(plan.Aggregates) <= 1 {
		return
	}
	seen := make(map[string]string) // signature -> alias already computed
	var out []lql.AggregateCall
	for _, agg := range plan.Aggregates {
		sig := agg.Func + "(" + exprSignature(agg.Arg) + ")"
		if _, dup := seen[sig]; dup {
			continue
		}
		seen[sig] = agg.Alias
		out = append(out, agg)
	}
	plan.Aggregates = out
}

func exprSignature(e lql.Expr) string {
	if e == nil {
		return ""
	}
	return e.String()
}

// eliminateRedundantProjection drops a final project stage that simply
// reselects every column already present with no renaming or computation,
// i.e. "project *"-equivalent no-ops.
func eliminateRedundantProjection(plan *LogicalPlan) {
	if len(plan.Projections) == 0 {
		return
	}
	allBare := true
	for _, col := range plan.Projections {
		ref, ok := col.Expr.(lql.ColumnRef)
		if !ok || ref.Name != col.Alias {
			allBare = false
			break
		}
	}
	if allBare && len(plan.Aggregates) == 0 {
		// A bare passthrough projection changes nothing the relational
		// column list wasn't already going to return; drop it so the
		// emitter falls back to SELECT *.
		plan.Projections = nil
	}
}

// reorderJoins is a stub: with a single join target and no cross-table
// statistics available, the only ordering decision is to run after every
// filter on the base table has already been gathered, which Build already
// guarantees by appending joins in pipeline order. Left as a named pass so
// a future reordering heuristic has an obvious home.
func reorderJoins(plan *LogicalPlan) {}
