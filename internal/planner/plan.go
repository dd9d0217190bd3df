// Package planner implements the LQL logical plan, optimizer, and SQL
// emitter: translates a parsed lql.Query into a LogicalPlan, rewrites it
// (filter push-down, redundant projection elimination, aggregation
// coalescing, where merging), then emits SQL against the relational
// "logs" table.
package planner

import (
	"fmt"
	"strings"

	"github.com/codeready-toolchain/sentinel/internal/apperrors"
	"github.com/codeready-toolchain/sentinel/internal/lql"
)

// knownColumns is the logs table's queryable surface, used for semantic
// validation of unqualified column references and for the "fields.*"
// passthrough into the JSONB column.
var knownColumns = map[string]bool{
	"id": true, "timestamp": true, "ingested_at": true, "source": true, "event_id": true,
	"severity": true, "category": true, "message": true, "host_hostname": true, "host_ip": true,
	"user_name": true, "user_id": true, "user_domain": true,
	"process_name": true, "process_pid": true, "process_cmdline": true,
	"net_src_ip": true, "net_src_port": true, "net_dst_ip": true, "net_dst_port": true,
	"file_path": true, "file_hash": true, "registry_key": true, "registry_value": true,
	"tags": true, "risk_score": true, "mitre_techniques": true,
}

// LogicalPlan is the optimizer's intermediate representation, one step
// removed from both the LQL AST and the emitted SQL.
type LogicalPlan struct {
	Source      string
	Filters     []lql.Expr // merged into a single AND by the time of emission
	Extensions  []lql.ProjectColumn
	Projections []lql.ProjectColumn
	Aggregates  []lql.AggregateCall
	GroupBy     []string
	Sort        []lql.SortColumn
	Limit       int
	Joins       []lql.JoinStage

	// computedColumns tracks aliases introduced by project/extend/summarize
	// so later stages (sort, top) can reference them.
	computedColumns map[string]bool
}

// Build translates a parsed Query into a LogicalPlan, validating column
// references against the known schema.
func Build(q *lql.Query) (*LogicalPlan, error) {
	if q.Source != "logs" {
		return nil, apperrors.Validation("unknown source table %q", q.Source)
	}
	plan := &LogicalPlan{Source: q.Source, Limit: -1, computedColumns: map[string]bool{}}

	for _, stage := range q.Stages {
		switch s := stage.(type) {
		case lql.WhereStage:
			if err := validateExpr(s.Expr, plan.computedColumns); err != nil {
				return nil, err
			}
			plan.Filters = append(plan.Filters, s.Expr)
		case lql.ExtendStage:
			for _, col := range s.Columns {
				if err := validateExpr(col.Expr, plan.computedColumns); err != nil {
					return nil, err
				}
				plan.Extensions = append(plan.Extensions, col)
				plan.computedColumns[col.Alias] = true
			}
		case lql.ProjectStage:
			for _, col := range s.Columns {
				if err := validateExpr(col.Expr, plan.computedColumns); err != nil {
					return nil, err
				}
			}
			plan.Projections = s.Columns
		case lql.SummarizeStage:
			for _, agg := range s.Aggregates {
				if agg.Arg != nil {
					if err := validateExpr(agg.Arg, plan.computedColumns); err != nil {
						return nil, err
					}
				}
				plan.computedColumns[agg.Alias] = true
			}
			for _, g := range s.GroupBy {
				if !isKnownColumn(g, plan.computedColumns) {
					return nil, apperrors.Validation("unknown group-by column %q", g)
				}
			}
			plan.Aggregates = s.Aggregates
			plan.GroupBy = s.GroupBy
		case lql.SortStage:
			for _, c := range s.Columns {
				if !isKnownColumn(c.Column, plan.computedColumns) {
					return nil, apperrors.Validation("unknown sort column %q", c.Column)
				}
			}
			plan.Sort = s.Columns
		case lql.TopStage:
			plan.Limit = s.Count
			if s.By != nil {
				if !isKnownColumn(s.By.Column, plan.computedColumns) {
					return nil, apperrors.Validation("unknown top-by column %q", s.By.Column)
				}
				plan.Sort = []lql.SortColumn{*s.By}
			}
		case lql.JoinStage:
			if s.RightTable != "logs" {
				return nil, apperrors.Validation("unknown join table %q", s.RightTable)
			}
			plan.Joins = append(plan.Joins, s)
		default:
			return nil, apperrors.Validation("unsupported pipeline stage %q", stage.Kind())
		}
	}
	return plan, nil
}

func isKnownColumn(name string, computed map[string]bool) bool {
	if knownColumns[name] || computed[name] {
		return true
	}
	return strings.HasPrefix(name, "fields.")
}

func validateExpr(e lql.Expr, computed map[string]bool) error {
	switch v := e.(type) {
	case lql.ColumnRef:
		if !isKnownColumn(v.Name, computed) {
			return apperrors.Validation("unknown column %q", v.Name)
		}
	case lql.BinaryExpr:
		if err := validateExpr(v.Left, computed); err != nil {
			return err
		}
		return validateExpr(v.Right, computed)
	case lql.UnaryExpr:
		return validateExpr(v.Expr, computed)
	case lql.FuncCall:
		for _, a := range v.Args {
			if err := validateExpr(a, computed); err != nil {
				return err
			}
		}
	case lql.ListExpr:
		for _, item := range v.Items {
			if err := validateExpr(item, computed); err != nil {
				return err
			}
		}
	case lql.Literal:
		// always valid
	default:
		return apperrors.Internal("", nil, "unrecognized expression node %T", e)
	}
	return nil
}

// String renders a compact debug form of the plan.
func (p *LogicalPlan) String() string {
	return fmt.Sprintf("LogicalPlan{source=%s filters=%d aggs=%d joins=%d limit=%d}",
		p.Source, len(p.Filters), len(p.Aggregates), len(p.Joins), p.Limit)
}
