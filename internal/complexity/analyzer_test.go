package complexity

import (
	"testing"

	"github.com/codeready-toolchain/sentinel/internal/config"
	"github.com/codeready-toolchain/sentinel/internal/lql"
	"github.com/codeready-toolchain/sentinel/internal/planner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCfg() config.QueryConfig {
	return config.QueryConfig{
		MaxRows:              5000,
		MaxJoins:             5,
		MaxAggregations:      10,
		ComplexityScoreLimit: 100,
		ComplexityThreshold:  50,
	}
}

func TestAnalyze_SimpleScanIsNotComplex(t *testing.T) {
	a := New(testCfg())
	plan := &planner.LogicalPlan{Source: "logs", Limit: 100}

	score, err := a.Analyze(plan)
	require.NoError(t, err)
	assert.Equal(t, 1, score.Points)
	assert.False(t, score.IsComplex)
}

func TestAnalyze_JoinsOverLimitRejected(t *testing.T) {
	cfg := testCfg()
	cfg.MaxJoins = 1
	a := New(cfg)
	plan := &planner.LogicalPlan{
		Source: "logs",
		Joins:  []lql.JoinStage{{}, {}},
		Limit:  100,
	}

	_, err := a.Analyze(plan)
	assert.Error(t, err)
}

func TestAnalyze_AggregatesOverLimitRejected(t *testing.T) {
	cfg := testCfg()
	cfg.MaxAggregations = 1
	a := New(cfg)
	plan := &planner.LogicalPlan{
		Source:     "logs",
		Aggregates: []lql.AggregateCall{{}, {}},
		Limit:      100,
	}

	_, err := a.Analyze(plan)
	assert.Error(t, err)
}

func TestAnalyze_NoLimitOnLargeEstimateRejected(t *testing.T) {
	a := New(testCfg())
	plan := &planner.LogicalPlan{Source: "logs", Limit: -1}

	_, err := a.Analyze(plan)
	assert.Error(t, err)
}

func TestAnalyze_ComplexityScoreCrossesThreshold(t *testing.T) {
	a := New(testCfg())
	plan := &planner.LogicalPlan{
		Source:     "logs",
		Filters:    []lql.Expr{lql.Literal{}, lql.Literal{}},
		Joins:      []lql.JoinStage{{}, {}, {}},
		Aggregates: []lql.AggregateCall{{}},
		GroupBy:    []string{"host"},
		Sort:       []lql.SortColumn{{}},
		Limit:      100,
	}

	score, err := a.Analyze(plan)
	require.NoError(t, err)
	// 1 base + 2 filters + 30 joins + 3 aggregate + 5 group-by + 2 sort = 43
	assert.Equal(t, 43, score.Points)
	assert.False(t, score.IsComplex)
}
