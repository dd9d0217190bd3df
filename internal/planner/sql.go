package planner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/codeready-toolchain/sentinel/internal/apperrors"
	"github.com/codeready-toolchain/sentinel/internal/lql"
)

// renderLiteral renders a literal value as an inline, properly quoted and
// escaped SQL literal.
func renderLiteral(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return quoteLiteral(t), nil
	case bool:
		if t {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int:
		return strconv.Itoa(t), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	default:
		return quoteLiteral(fmt.Sprintf("%v", t)), nil
	}
}

// Emitted is a ready-to-execute SQL statement. Args is carried for callers
// that want a uniform (SQL, Args) execution shape, but Emit never produces
// bind placeholders itself: every literal is rendered inline as a quoted,
// escaped SQL literal, so Args is always empty.
type Emitted struct {
	SQL  string
	Args []any
}

// Emit renders plan as a single SQL statement against the "logs" table:
// identifiers are double-quoted, literals are quoted and escaped inline
// rather than bound as parameters, and LQL operators map onto their
// Postgres equivalents.
func Emit(plan *LogicalPlan) (Emitted, error) {
	e := &emitter{}

	selectClause, err := e.selectClause(plan)
	if err != nil {
		return Emitted{}, err
	}

	var sb strings.Builder
	sb.WriteString(selectClause)
	sb.WriteString(" FROM ")
	sb.WriteString(quoteIdent(plan.Source))

	for _, j := range plan.Joins {
		joinKind := "JOIN"
		if j.Kind_ == "left" {
			joinKind = "LEFT JOIN"
		}
		fmt.Fprintf(&sb, " %s %s ON %s.%s = %s.%s",
			joinKind, quoteIdent(j.RightTable),
			quoteIdent(plan.Source), quoteIdent(j.LeftKey),
			quoteIdent(j.RightTable), quoteIdent(j.RightKey))
	}

	if len(plan.Filters) > 0 {
		clause, err := e.renderExpr(plan.Filters[0])
		if err != nil {
			return Emitted{}, err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(clause)
	}

	if len(plan.Aggregates) > 0 && len(plan.GroupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		parts := make([]string, len(plan.GroupBy))
		for i, g := range plan.GroupBy {
			parts[i] = columnExpr(g)
		}
		sb.WriteString(strings.Join(parts, ", "))
	}

	if len(plan.Sort) > 0 {
		sb.WriteString(" ORDER BY ")
		parts := make([]string, len(plan.Sort))
		for i, s := range plan.Sort {
			dir := "ASC"
			if s.Desc {
				dir = "DESC"
			}
			parts[i] = fmt.Sprintf("%s %s", columnExpr(s.Column), dir)
		}
		sb.WriteString(strings.Join(parts, ", "))
	}

	if plan.Limit >= 0 {
		fmt.Fprintf(&sb, " LIMIT %d", plan.Limit)
	}

	return Emitted{SQL: sb.String()}, nil
}

type emitter struct{}

func (e *emitter) selectClause(plan *LogicalPlan) (string, error) {
	var parts []string

	for _, agg := range plan.Aggregates {
		rendered, err := e.renderAggregate(agg)
		if err != nil {
			return "", err
		}
		parts = append(parts, rendered)
	}
	for _, g := range plan.GroupBy {
		parts = append(parts, fmt.Sprintf("%s AS %s", columnExpr(g), quoteIdent(g)))
	}
	for _, col := range plan.Extensions {
		rendered, err := e.renderExpr(col.Expr)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("%s AS %s", rendered, quoteIdent(col.Alias)))
	}
	if len(plan.Aggregates) == 0 {
		for _, col := range plan.Projections {
			rendered, err := e.renderExpr(col.Expr)
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf("%s AS %s", rendered, quoteIdent(col.Alias)))
		}
	}

	if len(parts) == 0 {
		return "SELECT *", nil
	}
	return "SELECT " + strings.Join(parts, ", "), nil
}

func (e *emitter) renderAggregate(agg lql.AggregateCall) (string, error) {
	sqlFunc, ok := map[string]string{
		"count": "COUNT", "sum": "SUM", "avg": "AVG", "min": "MIN", "max": "MAX", "dcount": "COUNT",
	}[agg.Func]
	if !ok {
		return "", apperrors.Validation("unknown aggregate function %q", agg.Func)
	}
	arg := "*"
	if agg.Arg != nil {
		rendered, err := e.renderExpr(agg.Arg)
		if err != nil {
			return "", err
		}
		arg = rendered
	}
	if agg.Func == "dcount" {
		arg = "DISTINCT " + arg
	}
	return fmt.Sprintf("%s(%s) AS %s", sqlFunc, arg, quoteIdent(agg.Alias)), nil
}

func (e *emitter) renderExpr(expr lql.Expr) (string, error) {
	switch v := expr.(type) {
	case lql.Literal:
		return renderLiteral(v.Value)
	case lql.ColumnRef:
		return columnExpr(v.Name), nil
	case lql.UnaryExpr:
		inner, err := e.renderExpr(v.Expr)
		if err != nil {
			return "", err
		}
		if v.Op == "not" {
			return fmt.Sprintf("(NOT %s)", inner), nil
		}
		return fmt.Sprintf("(-%s)", inner), nil
	case lql.ListExpr:
		parts := make([]string, len(v.Items))
		for i, item := range v.Items {
			rendered, err := e.renderExpr(item)
			if err != nil {
				return "", err
			}
			parts[i] = rendered
		}
		return "(" + strings.Join(parts, ", ") + ")", nil
	case lql.FuncCall:
		return e.renderFuncCall(v)
	case lql.BinaryExpr:
		return e.renderBinary(v)
	default:
		return "", apperrors.Internal("", nil, "cannot emit SQL for expression node %T", expr)
	}
}

func (e *emitter) renderFuncCall(f lql.FuncCall) (string, error) {
	switch f.Name {
	case "strlen":
		arg, err := e.renderExpr(f.Args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("LENGTH(%s)", arg), nil
	case "tolower":
		arg, err := e.renderExpr(f.Args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("LOWER(%s)", arg), nil
	case "toupper":
		arg, err := e.renderExpr(f.Args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("UPPER(%s)", arg), nil
	case "ago":
		if len(f.Args) != 1 {
			return "", apperrors.Validation("ago() takes exactly one duration argument")
		}
		lit, ok := f.Args[0].(lql.Literal)
		if !ok {
			return "", apperrors.Validation("ago() argument must be a literal duration")
		}
		return fmt.Sprintf("(now() - %s::interval)", quoteLiteral(fmt.Sprintf("%v", lit.Value))), nil
	default:
		return "", apperrors.Validation("unknown function %q", f.Name)
	}
}

func (e *emitter) renderBinary(b lql.BinaryExpr) (string, error) {
	switch b.Op {
	case "and":
		left, err := e.renderExpr(b.Left)
		if err != nil {
			return "", err
		}
		right, err := e.renderExpr(b.Right)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s AND %s)", left, right), nil
	case "or":
		left, err := e.renderExpr(b.Left)
		if err != nil {
			return "", err
		}
		right, err := e.renderExpr(b.Right)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s OR %s)", left, right), nil
	case "==", "!=", "<", "<=", ">", ">=", "+", "-", "*", "/":
		left, err := e.renderExpr(b.Left)
		if err != nil {
			return "", err
		}
		right, err := e.renderExpr(b.Right)
		if err != nil {
			return "", err
		}
		op := b.Op
		if op == "==" {
			op = "="
		}
		return fmt.Sprintf("(%s %s %s)", left, op, right), nil
	case "contains", "startswith", "endswith":
		return e.renderLike(b)
	case "in":
		left, err := e.renderExpr(b.Left)
		if err != nil {
			return "", err
		}
		right, err := e.renderExpr(b.Right)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s IN %s)", left, right), nil
	default:
		return "", apperrors.Validation("unknown operator %q", b.Op)
	}
}

// renderLike implements contains/startswith/endswith as a case-insensitive
// ILIKE. The wildcard "%" is kept in its own quoted literal and joined to
// the (separately quoted and escaped) needle with the SQL "||" concatenation
// operator, so a needle containing "%" or a quote cannot change the shape
// of the pattern: only quoteLiteral's escaping decides what the needle
// literal contains.
func (e *emitter) renderLike(b lql.BinaryExpr) (string, error) {
	left, err := e.renderExpr(b.Left)
	if err != nil {
		return "", err
	}
	lit, ok := b.Right.(lql.Literal)
	if !ok {
		return "", apperrors.Validation("%s requires a string literal operand", b.Op)
	}
	needle, ok := lit.Value.(string)
	if !ok {
		return "", apperrors.Validation("%s requires a string literal operand", b.Op)
	}
	quotedNeedle := quoteLiteral(needle)

	var segments []string
	switch b.Op {
	case "contains":
		segments = []string{"'%'", quotedNeedle, "'%'"}
	case "startswith":
		segments = []string{quotedNeedle, "'%'"}
	case "endswith":
		segments = []string{"'%'", quotedNeedle}
	}
	return fmt.Sprintf("(%s ILIKE %s)", left, strings.Join(segments, " || ")), nil
}

// columnExpr renders a column reference, routing "fields.X" through the
// JSONB ->> operator against the logs.fields column.
func columnExpr(name string) string {
	if strings.HasPrefix(name, "fields.") {
		key := strings.TrimPrefix(name, "fields.")
		return fmt.Sprintf("(fields ->> %s)", quoteLiteral(key))
	}
	return quoteIdent(name)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
