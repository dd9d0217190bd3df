package incident

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/codeready-toolchain/sentinel/internal/eventmodel"
	"github.com/codeready-toolchain/sentinel/internal/rulemodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	byDedupKey map[string]*rulemodel.Incident
	upserted   []*rulemodel.Incident
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byDedupKey: make(map[string]*rulemodel.Incident)}
}

func (r *fakeRepo) FindOpenByDedupKey(_ context.Context, _ string, dedupKey string) (*rulemodel.Incident, error) {
	return r.byDedupKey[dedupKey], nil
}

func (r *fakeRepo) Upsert(_ context.Context, inc *rulemodel.Incident) error {
	r.byDedupKey[inc.DedupKey] = inc
	r.upserted = append(r.upserted, inc)
	return nil
}

type recordingExecutor struct {
	calls []rulemodel.Action
	err   error
}

func (e *recordingExecutor) Execute(_ context.Context, action rulemodel.Action, _ *rulemodel.Incident) error {
	e.calls = append(e.calls, action)
	return e.err
}

func mkEvent(id, hostname, user string) eventmodel.Event {
	return eventmodel.Event{
		ID:   id,
		Host: eventmodel.Host{Hostname: hostname},
		User: &eventmodel.User{Name: user},
	}
}

func TestRecordRuleMatch_CreatesNewIncident(t *testing.T) {
	repo := newFakeRepo()
	m := New(repo, nil)
	rule := &rulemodel.Rule{ID: "rule-1", Type: "authentication", Severity: rulemodel.SeverityHigh, TimeWindowMinutes: 30}
	now := time.Now()

	inc, err := m.RecordRuleMatch(context.Background(), rule, mkEvent("ev-1", "host-1", "alice"), 0.8, now)
	require.NoError(t, err)
	assert.Equal(t, rulemodel.IncidentOpen, inc.Status)
	assert.Equal(t, 1, inc.EventCount)
	assert.Len(t, inc.EventLinks, 1)
	assert.Contains(t, inc.AffectedAssets, "host-1")
}

func TestRecordRuleMatch_MergesSecondMatchWithinWindow(t *testing.T) {
	repo := newFakeRepo()
	m := New(repo, nil)
	rule := &rulemodel.Rule{ID: "rule-1", TimeWindowMinutes: 30}
	now := time.Now()

	first, err := m.RecordRuleMatch(context.Background(), rule, mkEvent("ev-1", "host-1", "alice"), 0.8, now)
	require.NoError(t, err)

	second, err := m.RecordRuleMatch(context.Background(), rule, mkEvent("ev-2", "host-1", "alice"), 0.6, now.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.EventCount)
	assert.Len(t, second.EventLinks, 2)
	assert.ElementsMatch(t, []string{"host-1", "user:alice"}, second.AffectedAssets)
}

func TestRecordRuleMatch_OpensNewIncidentAfterWindowExpires(t *testing.T) {
	repo := newFakeRepo()
	m := New(repo, nil)
	rule := &rulemodel.Rule{ID: "rule-1", TimeWindowMinutes: 5}
	now := time.Now()

	first, err := m.RecordRuleMatch(context.Background(), rule, mkEvent("ev-1", "host-1", "alice"), 0.8, now)
	require.NoError(t, err)

	second, err := m.RecordRuleMatch(context.Background(), rule, mkEvent("ev-2", "host-1", "alice"), 0.8, now.Add(time.Hour))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, second.EventCount)
}

func TestRecordRuleMatch_DedupKeyFieldsOverrideDefault(t *testing.T) {
	repo := newFakeRepo()
	m := New(repo, nil)
	rule := &rulemodel.Rule{ID: "rule-1", TimeWindowMinutes: 30, DedupKeyFields: []string{"user.name"}}
	now := time.Now()

	a, err := m.RecordRuleMatch(context.Background(), rule, mkEvent("ev-1", "host-1", "alice"), 0.5, now)
	require.NoError(t, err)
	b, err := m.RecordRuleMatch(context.Background(), rule, mkEvent("ev-2", "host-2", "alice"), 0.5, now)
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID, "same dedup field value must merge even with a different hostname")
}

func TestRecordRuleMatch_DispatchesActionsAndSurvivesFailure(t *testing.T) {
	repo := newFakeRepo()
	exec := &recordingExecutor{err: errors.New("webhook unreachable")}
	m := New(repo, exec)
	rule := &rulemodel.Rule{
		ID:                "rule-1",
		TimeWindowMinutes: 30,
		Actions:           []rulemodel.Action{{Type: "webhook"}, {Type: "ticket"}},
	}

	inc, err := m.RecordRuleMatch(context.Background(), rule, mkEvent("ev-1", "host-1", "alice"), 0.5, time.Now())
	require.NoError(t, err, "action failures must not roll back the incident write")
	assert.NotNil(t, inc)
	assert.Len(t, exec.calls, 2)
}

func TestRecordPatternMatch_CreatesAndMergesBatch(t *testing.T) {
	repo := newFakeRepo()
	m := New(repo, nil)
	pattern := &rulemodel.Pattern{ID: "pat-1", PatternType: "lateral_movement", Severity: rulemodel.SeverityCritical, RelevanceScore: 0.9, TimeWindow: time.Hour}
	now := time.Now()

	inc, err := m.RecordPatternMatch(context.Background(), pattern, []string{"ev-1", "ev-2"}, []string{"host-1"}, now)
	require.NoError(t, err)
	assert.Equal(t, 2, inc.EventCount)
	assert.Equal(t, pattern.ID, inc.PatternID)
}

func TestDedupKey_FallsBackToAffectedAssetsWhenNoFieldsDeclared(t *testing.T) {
	rule := &rulemodel.Rule{ID: "rule-1"}
	e := mkEvent("ev-1", "host-1", "alice")
	key := dedupKey(rule, e)
	assert.Contains(t, key, "rule-1")
	assert.Contains(t, key, "host-1")
}
