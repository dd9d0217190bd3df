package ruleeval

import (
	"testing"
	"time"

	"github.com/codeready-toolchain/sentinel/internal/buffer"
	"github.com/codeready-toolchain/sentinel/internal/eventmodel"
	"github.com/codeready-toolchain/sentinel/internal/rulecache"
	"github.com/codeready-toolchain/sentinel/internal/rulemodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkEvaluator() *Evaluator {
	return New(buffer.New(1000, time.Hour), rulecache.New(time.Minute))
}

func mkLeaf(field string, op rulemodel.Operator, value any) *rulemodel.Condition {
	return &rulemodel.Condition{Field: field, Operator: op, Value: value, IsRequired: true}
}

func mkOptionalLeaf(field string, op rulemodel.Operator, value any) *rulemodel.Condition {
	return &rulemodel.Condition{Field: field, Operator: op, Value: value, IsRequired: false}
}

func mkEvent(source, eventID string, overrides func(*eventmodel.Event)) eventmodel.Event {
	e := eventmodel.Event{
		ID:         "ev-1",
		Source:     eventmodel.Source(source),
		EventID:    eventID,
		Severity:   eventmodel.SeverityHigh,
		Category:   "authentication",
		Timestamp:  time.Now(),
		IngestedAt: time.Now(),
		Host:       eventmodel.Host{Hostname: "host-1"},
		User:       &eventmodel.User{Name: "alice"},
	}
	if overrides != nil {
		overrides(&e)
	}
	return e
}

func TestEvaluateConditions_Leaf(t *testing.T) {
	ev := mkEvaluator()
	e := mkEvent("windows_event", "4624", nil)

	tests := []struct {
		name string
		cond *rulemodel.Condition
		want bool
	}{
		{"eq match", mkLeaf("event_id", rulemodel.OpEq, "4624"), true},
		{"eq mismatch", mkLeaf("event_id", rulemodel.OpEq, "9999"), false},
		{"neq", mkLeaf("event_id", rulemodel.OpNeq, "9999"), true},
		{"contains", mkLeaf("user.name", rulemodel.OpContains, "lic"), true},
		{"startswith", mkLeaf("user.name", rulemodel.OpStartsWith, "ali"), true},
		{"endswith", mkLeaf("user.name", rulemodel.OpEndsWith, "ce"), true},
		{"regex match", mkLeaf("event_id", rulemodel.OpRegex, "^46[0-9]{2}$"), true},
		{"regex no match", mkLeaf("event_id", rulemodel.OpRegex, "^99"), false},
		{"in set", mkLeaf("severity", rulemodel.OpIn, []any{"high", "critical"}), true},
		{"not_in set", mkLeaf("severity", rulemodel.OpNotIn, []any{"low", "info"}), true},
		{"is_null on absent field", mkLeaf("process.name", rulemodel.OpIsNull, nil), true},
		{"is_not_null on present field", mkLeaf("user.name", rulemodel.OpIsNotNull, nil), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ev.EvaluateConditions(tt.cond, e))
		})
	}
}

func TestEvaluateConditions_Combinators(t *testing.T) {
	ev := mkEvaluator()
	e := mkEvent("windows_event", "4624", nil)

	and := &rulemodel.Condition{
		Combinator: rulemodel.CombAnd,
		Children: []*rulemodel.Condition{
			mkLeaf("event_id", rulemodel.OpEq, "4624"),
			mkLeaf("user.name", rulemodel.OpEq, "alice"),
		},
	}
	assert.True(t, ev.EvaluateConditions(and, e))

	andFail := &rulemodel.Condition{
		Combinator: rulemodel.CombAnd,
		Children: []*rulemodel.Condition{
			mkLeaf("event_id", rulemodel.OpEq, "4624"),
			mkLeaf("user.name", rulemodel.OpEq, "bob"),
		},
	}
	assert.False(t, ev.EvaluateConditions(andFail, e))

	or := &rulemodel.Condition{
		Combinator: rulemodel.CombOr,
		Children: []*rulemodel.Condition{
			mkLeaf("event_id", rulemodel.OpEq, "0000"),
			mkLeaf("user.name", rulemodel.OpEq, "alice"),
		},
	}
	assert.True(t, ev.EvaluateConditions(or, e))

	not := &rulemodel.Condition{
		Combinator: rulemodel.CombNot,
		Children:   []*rulemodel.Condition{mkLeaf("event_id", rulemodel.OpEq, "0000")},
	}
	assert.True(t, ev.EvaluateConditions(not, e))
}

func TestEvaluateConditions_AllOptionalAndRequiresAtLeastOneMatch(t *testing.T) {
	ev := mkEvaluator()
	e := mkEvent("windows_event", "4624", nil)

	noneMatch := &rulemodel.Condition{
		Combinator: rulemodel.CombAnd,
		Children: []*rulemodel.Condition{
			mkOptionalLeaf("event_id", rulemodel.OpEq, "0000"),
			mkOptionalLeaf("user.name", rulemodel.OpEq, "bob"),
		},
	}
	assert.False(t, ev.EvaluateConditions(noneMatch, e))

	oneMatches := &rulemodel.Condition{
		Combinator: rulemodel.CombAnd,
		Children: []*rulemodel.Condition{
			mkOptionalLeaf("event_id", rulemodel.OpEq, "0000"),
			mkOptionalLeaf("user.name", rulemodel.OpEq, "alice"),
		},
	}
	assert.True(t, ev.EvaluateConditions(oneMatches, e))

	mixedRequiredStillBlocks := &rulemodel.Condition{
		Combinator: rulemodel.CombAnd,
		Children: []*rulemodel.Condition{
			mkLeaf("event_id", rulemodel.OpEq, "0000"), // required, fails
			mkOptionalLeaf("user.name", rulemodel.OpEq, "alice"),
		},
	}
	assert.False(t, ev.EvaluateConditions(mixedRequiredStillBlocks, e))
}

func TestEvaluate_CachesResult(t *testing.T) {
	ev := mkEvaluator()
	e := mkEvent("windows_event", "4624", nil)
	rule := &rulemodel.Rule{
		ID:       "rule-1",
		Severity: rulemodel.SeverityHigh,
		Conditions: mkLeaf("event_id", rulemodel.OpEq, "4624"),
	}
	now := time.Now()

	first := ev.Evaluate(rule, e, now)
	require.True(t, first.Matched)
	require.Greater(t, first.Confidence, 0.0)

	cached, ok := ev.cache.Get(rule.ID, string(e.Source), e.EventID, now.Add(time.Second))
	require.True(t, ok)
	assert.Equal(t, first.Matched, cached.Matched)
	assert.Equal(t, first.Confidence, cached.Confidence)

	second := ev.Evaluate(rule, e, now.Add(time.Second))
	assert.Equal(t, first.Matched, second.Matched)
	assert.Equal(t, first.Confidence, second.Confidence)
}

func TestEvaluate_Aggregation(t *testing.T) {
	buf := buffer.New(1000, time.Hour)
	cache := rulecache.New(time.Minute)
	ev := New(buf, cache)

	base := time.Now()
	for i := 0; i < 5; i++ {
		buf.Insert(mkEvent("windows_event", "4625", func(e *eventmodel.Event) {
			e.ID = "fail-" + string(rune('a'+i))
			e.Timestamp = base.Add(time.Duration(i) * time.Second)
			e.IngestedAt = e.Timestamp
		}))
	}

	rule := &rulemodel.Rule{
		ID:                "brute-force",
		Severity:          rulemodel.SeverityCritical,
		TimeWindowMinutes: 5,
		Conditions:        mkLeaf("event_id", rulemodel.OpEq, "4625"),
		Aggregation: &rulemodel.Aggregation{
			Field:      "event_id",
			Op:         rulemodel.AggCount,
			Threshold:  3,
			Comparator: rulemodel.OpGte,
		},
	}

	trigger := mkEvent("windows_event", "4625", func(e *eventmodel.Event) {
		e.ID = "fail-trigger"
		e.Timestamp = base.Add(10 * time.Second)
		e.IngestedAt = e.Timestamp
	})

	result := ev.Evaluate(rule, trigger, base.Add(10*time.Second))
	assert.True(t, result.Matched)
	assert.Greater(t, result.Confidence, 0.0)
}

func TestEvaluate_AggregationBelowThresholdDoesNotMatch(t *testing.T) {
	buf := buffer.New(1000, time.Hour)
	ev := New(buf, rulecache.New(time.Minute))
	base := time.Now()

	buf.Insert(mkEvent("windows_event", "4625", func(e *eventmodel.Event) {
		e.ID = "only-one"
		e.Timestamp = base
		e.IngestedAt = base
	}))

	rule := &rulemodel.Rule{
		ID:                "brute-force-2",
		Severity:          rulemodel.SeverityCritical,
		TimeWindowMinutes: 5,
		Conditions:        mkLeaf("event_id", rulemodel.OpEq, "4625"),
		Aggregation: &rulemodel.Aggregation{
			Field:      "event_id",
			Op:         rulemodel.AggCount,
			Threshold:  3,
			Comparator: rulemodel.OpGte,
		},
	}

	result := ev.Evaluate(rule, mkEvent("windows_event", "4625", nil), base)
	assert.False(t, result.Matched)
	assert.Equal(t, 0.0, result.Confidence)
}

func TestConfidenceFor_WeightsBySeverity(t *testing.T) {
	critical := &rulemodel.Rule{Severity: rulemodel.SeverityCritical}
	low := &rulemodel.Rule{Severity: rulemodel.SeverityLow}

	cCritical := confidenceFor(critical, true, 1, 1)
	cLow := confidenceFor(low, true, 1, 1)
	assert.Greater(t, cCritical, cLow)

	assert.Equal(t, 0.0, confidenceFor(critical, false, 1, 1))
	assert.Equal(t, 0.0, confidenceFor(critical, true, 0, 0))
}

func TestEvaluateConditions_BadRegexIsMemoizedAndFails(t *testing.T) {
	ev := mkEvaluator()
	e := mkEvent("windows_event", "4624", nil)
	cond := mkLeaf("event_id", rulemodel.OpRegex, "(unterminated")

	assert.False(t, ev.EvaluateConditions(cond, e))
	// second call exercises the reBad memoization path
	assert.False(t, ev.EvaluateConditions(cond, e))
}
