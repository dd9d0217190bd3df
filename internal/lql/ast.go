// Package lql implements the LQL (Kusto-style pipelined query language)
// lexer, parser, and AST. A query is a source table followed by a
// pipeline of operators chained with "|".
package lql

import "fmt"

// NodeKind enumerates the pipeline-stage kinds the parser recognizes.
type NodeKind string

const (
	NodeSource    NodeKind = "source"
	NodeWhere     NodeKind = "where"
	NodeProject   NodeKind = "project"
	NodeExtend    NodeKind = "extend"
	NodeSummarize NodeKind = "summarize"
	NodeSort      NodeKind = "sort"
	NodeTop       NodeKind = "top"
	NodeJoin      NodeKind = "join"
	NodeTimeRange NodeKind = "timerange"
)

// Query is the full parsed pipeline: a source table plus an ordered list of
// pipeline stages.
type Query struct {
	Source string
	Stages []Stage
}

// Stage is one pipeline operator.
type Stage interface {
	Kind() NodeKind
	String() string
}

// WhereStage filters rows by a boolean Expr.
type WhereStage struct {
	Expr Expr
}

func (WhereStage) Kind() NodeKind   { return NodeWhere }
func (s WhereStage) String() string { return fmt.Sprintf("where %s", s.Expr) }

// TimeRangeStage restricts the scan to [Since, Until) and is always
// synthesized for the mandatory time bound: every query must resolve to
// a bounded time range before execution.
type TimeRangeStage struct {
	Field string
	Since Expr
	Until Expr
}

func (TimeRangeStage) Kind() NodeKind { return NodeTimeRange }
func (s TimeRangeStage) String() string {
	return fmt.Sprintf("timerange(%s, %s, %s)", s.Field, s.Since, s.Until)
}

// ProjectStage selects and optionally renames columns.
type ProjectStage struct {
	Columns []ProjectColumn
}

// ProjectColumn is "alias = expr" or a bare column reference.
type ProjectColumn struct {
	Alias string
	Expr  Expr
}

func (ProjectStage) Kind() NodeKind { return NodeProject }
func (s ProjectStage) String() string {
	return fmt.Sprintf("project(%d cols)", len(s.Columns))
}

// ExtendStage appends computed columns without dropping existing ones.
type ExtendStage struct {
	Columns []ProjectColumn
}

func (ExtendStage) Kind() NodeKind { return NodeExtend }
func (s ExtendStage) String() string {
	return fmt.Sprintf("extend(%d cols)", len(s.Columns))
}

// AggregateCall is one "agg(expr) as alias" term of a summarize stage.
type AggregateCall struct {
	Func  string // count, sum, avg, min, max, dcount
	Arg   Expr   // nil for count()
	Alias string
}

// SummarizeStage computes aggregates, optionally grouped by a set of
// columns.
type SummarizeStage struct {
	Aggregates []AggregateCall
	GroupBy    []string
}

func (SummarizeStage) Kind() NodeKind { return NodeSummarize }
func (s SummarizeStage) String() string {
	return fmt.Sprintf("summarize(%d aggs by %v)", len(s.Aggregates), s.GroupBy)
}

// SortStage orders rows by one or more columns.
type SortStage struct {
	Columns []SortColumn
}

// SortColumn is one "col asc|desc" term.
type SortColumn struct {
	Column string
	Desc   bool
}

func (SortStage) Kind() NodeKind   { return NodeSort }
func (s SortStage) String() string { return fmt.Sprintf("sort(%d cols)", len(s.Columns)) }

// TopStage limits result rows, optionally after an implicit sort.
type TopStage struct {
	Count int
	By    *SortColumn
}

func (TopStage) Kind() NodeKind   { return NodeTop }
func (s TopStage) String() string { return fmt.Sprintf("top %d", s.Count) }

// JoinStage joins the pipeline's current result against another source
// table.
type JoinStage struct {
	Kind_      string // inner, left
	RightTable string
	LeftKey    string
	RightKey   string
}

func (JoinStage) Kind() NodeKind { return NodeJoin }
func (s JoinStage) String() string {
	return fmt.Sprintf("join %s %s on %s==%s", s.Kind_, s.RightTable, s.LeftKey, s.RightKey)
}
