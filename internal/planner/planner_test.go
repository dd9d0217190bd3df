package planner

import (
	"testing"

	"github.com/codeready-toolchain/sentinel/internal/apperrors"
	"github.com/codeready-toolchain/sentinel/internal/lql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) *lql.Query {
	t.Helper()
	q, err := lql.Parse(src)
	require.NoError(t, err)
	return q
}

func TestBuild_UnknownSourceRejected(t *testing.T) {
	q := mustParse(t, "processes")
	_, err := Build(q)
	require.Error(t, err)
	assert.Equal(t, apperrors.ClassValidation, apperrors.ClassOf(err))
}

func TestBuild_UnknownColumnRejected(t *testing.T) {
	q := mustParse(t, `logs | where nonexistent_column == "x"`)
	_, err := Build(q)
	require.Error(t, err)
}

func TestBuild_FieldsPassthroughAccepted(t *testing.T) {
	q := mustParse(t, `logs | where fields.anything == "x"`)
	plan, err := Build(q)
	require.NoError(t, err)
	require.Len(t, plan.Filters, 1)
}

func TestBuild_ComputedColumnUsableInLaterStage(t *testing.T) {
	q := mustParse(t, `logs | extend sev2 = severity | sort by sev2`)
	plan, err := Build(q)
	require.NoError(t, err)
	require.Len(t, plan.Sort, 1)
	assert.Equal(t, "sev2", plan.Sort[0].Column)
}

func TestBuild_UnknownGroupByColumnRejected(t *testing.T) {
	q := mustParse(t, `logs | summarize count() by nonexistent`)
	_, err := Build(q)
	require.Error(t, err)
}

func TestOptimize_MergesMultipleWhereStages(t *testing.T) {
	q := mustParse(t, `logs | where severity == "high" | where category == "authentication"`)
	plan, err := Build(q)
	require.NoError(t, err)
	require.Len(t, plan.Filters, 2)

	Optimize(plan)
	require.Len(t, plan.Filters, 1)
	bin, ok := plan.Filters[0].(lql.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "and", bin.Op)
}

func TestOptimize_CoalescesDuplicateAggregates(t *testing.T) {
	q := mustParse(t, `logs | summarize c1 = count(), c2 = count() by event_id`)
	plan, err := Build(q)
	require.NoError(t, err)
	require.Len(t, plan.Aggregates, 2)

	Optimize(plan)
	assert.Len(t, plan.Aggregates, 1)
}

func TestOptimize_DropsBarePassthroughProjection(t *testing.T) {
	q := mustParse(t, `logs | project severity, category`)
	plan, err := Build(q)
	require.NoError(t, err)
	require.Len(t, plan.Projections, 2)

	Optimize(plan)
	assert.Nil(t, plan.Projections)
}

func TestOptimize_KeepsRenamingProjection(t *testing.T) {
	q := mustParse(t, `logs | project sev = severity`)
	plan, err := Build(q)
	require.NoError(t, err)

	Optimize(plan)
	assert.Len(t, plan.Projections, 1)
}

func TestEmit_FilterAggregationSortLimit(t *testing.T) {
	q := mustParse(t, `logs | where severity == "high" and category contains "auth" | summarize total = count() by event_id | top 5 by total desc`)
	plan, err := Build(q)
	require.NoError(t, err)
	plan = Optimize(plan)

	emitted, err := Emit(plan)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT COUNT(*) AS "total", "event_id" AS "event_id" FROM "logs" WHERE ("severity" = 'high' AND "category" ILIKE '%' || 'auth' || '%') GROUP BY "event_id" ORDER BY "total" DESC LIMIT 5`,
		emitted.SQL)
	assert.Empty(t, emitted.Args)
}

func TestEmit_StringLiteralEscapesQuotes(t *testing.T) {
	q := mustParse(t, `logs | where message == "it's broken"`)
	plan, err := Build(q)
	require.NoError(t, err)

	emitted, err := Emit(plan)
	require.NoError(t, err)
	assert.Contains(t, emitted.SQL, `'it''s broken'`)
}

func TestEmit_FieldsPassthroughUsesJSONBOperator(t *testing.T) {
	q := mustParse(t, `logs | where fields.username == "alice"`)
	plan, err := Build(q)
	require.NoError(t, err)

	emitted, err := Emit(plan)
	require.NoError(t, err)
	assert.Contains(t, emitted.SQL, `(fields ->> 'username')`)
}

func TestEmit_JoinRendersOnClause(t *testing.T) {
	q := mustParse(t, `logs | join kind=left (logs) on event_id == event_id`)
	plan, err := Build(q)
	require.NoError(t, err)

	emitted, err := Emit(plan)
	require.NoError(t, err)
	assert.Contains(t, emitted.SQL, `LEFT JOIN "logs" ON "logs"."event_id" = "logs"."event_id"`)
}

func TestEmit_UnknownAggregateFunctionErrors(t *testing.T) {
	plan := &LogicalPlan{
		Source:     "logs",
		Aggregates: []lql.AggregateCall{{Func: "median", Alias: "m"}},
		Limit:      -1,
	}
	_, err := Emit(plan)
	require.Error(t, err)
}

func TestEstimate_FiltersAndJoinsNarrowRows(t *testing.T) {
	base := Estimate(&LogicalPlan{Limit: -1})
	filtered := Estimate(&LogicalPlan{Filters: []lql.Expr{lql.Literal{Value: true}}, Limit: -1})
	assert.Less(t, filtered.EstimatedRows, base.EstimatedRows)

	joined := Estimate(&LogicalPlan{Joins: []lql.JoinStage{{RightTable: "logs"}}, Limit: -1})
	assert.Greater(t, joined.EstimatedCost, base.EstimatedCost)
}

func TestEstimate_LimitCapsRowEstimate(t *testing.T) {
	cost := Estimate(&LogicalPlan{Limit: 5})
	assert.Equal(t, int64(5), cost.EstimatedRows)
}
