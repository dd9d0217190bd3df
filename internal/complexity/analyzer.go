// Package complexity implements the Complexity Analyzer and per-user Rate
// Limiter: scores a logical plan against a fixed point table, rejects plans
// whose resource estimate or structural limits exceed configured ceilings,
// and throttles how often a user may submit queries (especially "complex"
// ones).
package complexity

import (
	"fmt"

	"github.com/codeready-toolchain/sentinel/internal/apperrors"
	"github.com/codeready-toolchain/sentinel/internal/config"
	"github.com/codeready-toolchain/sentinel/internal/planner"
)

// Score is the complexity analyzer's verdict.
type Score struct {
	Points    int
	Rows      int64
	Cost      float64
	IsComplex bool // crosses complexity_threshold, subject to the stricter per-hour limit
}

// Analyzer scores plans against a fixed point table:
//
//	base scan                    1 point
//	each WHERE predicate         1 point
//	each join                   10 points
//	each aggregate               3 points
//	group-by (flat surcharge)    5 points
//	each sort column              2 points
//	unbounded/near-max limit      5 points
type Analyzer struct {
	cfg config.QueryConfig
}

// New builds an Analyzer bound to the query engine's configured limits.
func New(cfg config.QueryConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Analyze scores plan and validates it against the structural and
// composite-score limits.
func (a *Analyzer) Analyze(plan *planner.LogicalPlan) (Score, error) {
	if len(plan.Joins) > a.cfg.MaxJoins {
		return Score{}, apperrors.Policy(
			[]string{"reduce the number of join stages", fmt.Sprintf("limit is %d", a.cfg.MaxJoins)},
			"query uses %d joins, exceeding the limit of %d", len(plan.Joins), a.cfg.MaxJoins)
	}
	if len(plan.Aggregates) > a.cfg.MaxAggregations {
		return Score{}, apperrors.Policy(
			[]string{"reduce the number of summarize aggregates"},
			"query uses %d aggregates, exceeding the limit of %d", len(plan.Aggregates), a.cfg.MaxAggregations)
	}

	points := 1 // base scan
	points += len(plan.Filters)
	points += 10 * len(plan.Joins)
	points += 3 * len(plan.Aggregates)
	if len(plan.GroupBy) > 0 {
		points += 5
	}
	points += 2 * len(plan.Sort)
	if plan.Limit < 0 || plan.Limit > a.cfg.MaxRows {
		points += 5
	}

	cost := planner.Estimate(plan)

	if points > a.cfg.ComplexityScoreLimit {
		return Score{}, apperrors.Policy(
			[]string{"add more selective filters", "reduce joins or aggregates", "add a top/limit clause"},
			"query complexity score %d exceeds the limit of %d", points, a.cfg.ComplexityScoreLimit)
	}
	if cost.EstimatedRows > int64(a.cfg.MaxRows) && plan.Limit < 0 {
		return Score{}, apperrors.Policy(
			[]string{fmt.Sprintf("add a top/limit clause under %d rows", a.cfg.MaxRows)},
			"query has no row limit and an estimated result of %d rows", cost.EstimatedRows)
	}

	return Score{
		Points:    points,
		Rows:      cost.EstimatedRows,
		Cost:      cost.EstimatedCost,
		IsComplex: points >= a.cfg.ComplexityThreshold,
	}, nil
}
