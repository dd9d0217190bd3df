package planner

// Cost is the planner's fixed-formula cost estimate: a heuristic figure,
// not one derived from live table statistics.
type Cost struct {
	EstimatedRows int64
	EstimatedCost float64 // abstract unit, larger is more expensive
}

const baseTableRows = 10_000_000 // assumed order-of-magnitude size of "logs"

// Estimate produces a deterministic cost figure from the plan's shape:
// every filter narrows the assumed row estimate by a fixed selectivity
// factor, every join multiplies cost, every aggregation adds a fixed
// grouping surcharge.
func Estimate(plan *LogicalPlan) Cost {
	rows := float64(baseTableRows)
	cost := float64(baseTableRows) // full scan baseline

	const filterSelectivity = 0.1
	for range plan.Filters {
		rows *= filterSelectivity
	}

	for range plan.Joins {
		cost *= 2.5
		rows *= 0.5
	}

	if len(plan.Aggregates) > 0 {
		cost += rows * 0.2
		rows = rows * 0.05
		if len(plan.GroupBy) == 0 {
			rows = 1
		}
	}

	if len(plan.Sort) > 0 {
		cost += rows * 0.1 // sort surcharge, proportional to the post-filter row estimate
	}

	if plan.Limit >= 0 && float64(plan.Limit) < rows {
		rows = float64(plan.Limit)
	}

	return Cost{EstimatedRows: int64(rows), EstimatedCost: cost}
}
