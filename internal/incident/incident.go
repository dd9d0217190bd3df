// Package incident implements the Incident Manager: finds-or-creates the
// open incident for a rule/pattern match's dedup key, merges in the new
// event, and fires configured actions. Access to a given dedup key is
// serialized with a per-key mutex so concurrent matches for the same key
// cannot race to create duplicate incidents.
package incident

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/sentinel/internal/eventmodel"
	"github.com/codeready-toolchain/sentinel/internal/rulemodel"
	"github.com/google/uuid"
)

// Repository is the durable incident store. Satisfied by *store.IncidentRepository.
type Repository interface {
	FindOpenByDedupKey(ctx context.Context, ruleID, dedupKey string) (*rulemodel.Incident, error)
	Upsert(ctx context.Context, inc *rulemodel.Incident) error
}

// ActionExecutor runs a rule's post-match actions (webhook, ticket, email).
// Execution is best-effort: a failure is logged and does not roll back the
// incident write.
type ActionExecutor interface {
	Execute(ctx context.Context, action rulemodel.Action, inc *rulemodel.Incident) error
}

// Manager coordinates dedup, merge, and action dispatch.
type Manager struct {
	repo     Repository
	executor ActionExecutor

	keyMu sync.Map // dedupKey -> *sync.Mutex
}

// New builds a Manager. executor may be nil if no rules declare actions.
func New(repo Repository, executor ActionExecutor) *Manager {
	return &Manager{repo: repo, executor: executor}
}

func (m *Manager) lockFor(key string) *sync.Mutex {
	mu, _ := m.keyMu.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// dedupKey derives the incident dedup key for a rule match: the rule's
// declared DedupKeyFields joined with the resolved field values, falling
// back to the event's affected-assets signature when the rule declares
// none (see DESIGN.md for the open-question decision behind the fallback).
func dedupKey(rule *rulemodel.Rule, e eventmodel.Event) string {
	if len(rule.DedupKeyFields) == 0 {
		return fmt.Sprintf("%s|%v", rule.ID, e.AffectedAssets())
	}
	key := rule.ID
	for _, field := range rule.DedupKeyFields {
		v, _ := e.FieldValue(field)
		key += fmt.Sprintf("|%v", v)
	}
	return key
}

// RecordRuleMatch finds-or-creates the open incident for a rule match and
// merges e into it, within the rule's time window: last_seen >= now - window.
func (m *Manager) RecordRuleMatch(ctx context.Context, rule *rulemodel.Rule, e eventmodel.Event, confidence float64, now time.Time) (*rulemodel.Incident, error) {
	key := dedupKey(rule, e)
	mu := m.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	inc, err := m.repo.FindOpenByDedupKey(ctx, rule.ID, key)
	if err != nil {
		return nil, fmt.Errorf("find open incident for rule %s: %w", rule.ID, err)
	}

	if inc != nil && inc.IsOpenAt(now) {
		inc.LastSeen = now
		inc.EventCount++
		inc.AffectedAssets = mergeAssets(inc.AffectedAssets, e.AffectedAssets())
		inc.EventLinks = append(inc.EventLinks, rulemodel.EventLink{EventID: e.ID, LinkedAt: now, Confidence: confidence})
	} else {
		inc = &rulemodel.Incident{
			ID:             uuid.NewString(),
			RuleID:         rule.ID,
			DedupKey:       key,
			Severity:       rule.Severity,
			Title:          fmt.Sprintf("%s correlation match", rule.Type),
			Description:    fmt.Sprintf("rule %s matched event %s", rule.ID, e.ID),
			FirstSeen:      now,
			LastSeen:       now,
			EventCount:     1,
			AffectedAssets: e.AffectedAssets(),
			Status:         rulemodel.IncidentOpen,
			EventLinks:     []rulemodel.EventLink{{EventID: e.ID, LinkedAt: now, Confidence: confidence}},
			TimeWindow:     rule.TimeWindow(),
		}
	}

	if err := m.repo.Upsert(ctx, inc); err != nil {
		return nil, fmt.Errorf("upsert incident %s: %w", inc.ID, err)
	}

	m.dispatchActions(ctx, rule.Actions, inc)
	return inc, nil
}

// RecordPatternMatch is the pattern-triggered analogue of RecordRuleMatch,
// keyed on pattern ID rather than rule ID.
func (m *Manager) RecordPatternMatch(ctx context.Context, p *rulemodel.Pattern, eventIDs []string, assets []string, now time.Time) (*rulemodel.Incident, error) {
	key := fmt.Sprintf("pattern:%s|%v", p.ID, assets)
	mu := m.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	inc, err := m.repo.FindOpenByDedupKey(ctx, p.ID, key)
	if err != nil {
		return nil, fmt.Errorf("find open incident for pattern %s: %w", p.ID, err)
	}
	if inc != nil && inc.IsOpenAt(now) {
		inc.LastSeen = now
		inc.EventCount += len(eventIDs)
		inc.AffectedAssets = mergeAssets(inc.AffectedAssets, assets)
		for _, id := range eventIDs {
			inc.EventLinks = append(inc.EventLinks, rulemodel.EventLink{EventID: id, LinkedAt: now, Confidence: p.RelevanceScore})
		}
	} else {
		links := make([]rulemodel.EventLink, len(eventIDs))
		for i, id := range eventIDs {
			links[i] = rulemodel.EventLink{EventID: id, LinkedAt: now, Confidence: p.RelevanceScore}
		}
		inc = &rulemodel.Incident{
			ID:             uuid.NewString(),
			PatternID:      p.ID,
			DedupKey:       key,
			Severity:       p.Severity,
			Title:          fmt.Sprintf("pattern %s detected", p.PatternType),
			Description:    fmt.Sprintf("pattern %s matched %d events", p.ID, len(eventIDs)),
			FirstSeen:      now,
			LastSeen:       now,
			EventCount:     len(eventIDs),
			AffectedAssets: assets,
			Status:         rulemodel.IncidentOpen,
			EventLinks:     links,
			TimeWindow:     p.TimeWindow,
		}
	}

	if err := m.repo.Upsert(ctx, inc); err != nil {
		return nil, fmt.Errorf("upsert incident %s: %w", inc.ID, err)
	}
	return inc, nil
}

func mergeAssets(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string{}, existing...)
	for _, a := range existing {
		seen[a] = true
	}
	for _, a := range added {
		if !seen[a] {
			out = append(out, a)
			seen[a] = true
		}
	}
	return out
}

// dispatchActions runs every configured action, logging and continuing
// past individual failures: action failures never roll back the incident
// write.
func (m *Manager) dispatchActions(ctx context.Context, actions []rulemodel.Action, inc *rulemodel.Incident) {
	if m.executor == nil {
		return
	}
	for _, action := range actions {
		if err := m.executor.Execute(ctx, action, inc); err != nil {
			slog.Error("incident action failed", "incident_id", inc.ID, "action", action.Type, "error", err)
		}
	}
}
