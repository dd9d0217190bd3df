// Package pattern implements the Pattern Matcher: walks a Pattern's
// ordered Steps, looking for a chain of buffered events that each satisfy
// the next step's conditions within MaxDelayFromPrev of the previous
// step's match, the whole chain falling inside the pattern's TimeWindow.
package pattern

import (
	"time"

	"github.com/codeready-toolchain/sentinel/internal/buffer"
	"github.com/codeready-toolchain/sentinel/internal/eventmodel"
	"github.com/codeready-toolchain/sentinel/internal/ruleeval"
	"github.com/codeready-toolchain/sentinel/internal/rulemodel"
)

// Match describes a successful pattern completion.
type Match struct {
	PatternID string
	EventIDs  []string
	MatchedAt time.Time
}

// Matcher evaluates patterns over a shared Event Buffer.
type Matcher struct {
	buf  *buffer.Buffer
	eval *ruleeval.Evaluator
}

// New builds a Matcher sharing the Correlation Engine's buffer and a
// condition evaluator (no rule-cache coupling: patterns are evaluated
// per-step, not per-rule).
func New(buf *buffer.Buffer, eval *ruleeval.Evaluator) *Matcher {
	return &Matcher{buf: buf, eval: eval}
}

// TryComplete checks whether triggerEvent completes pattern's final step,
// walking backward through the buffer to find a compatible chain for the
// earlier steps. Returns ok=false if no chain completes within the time
// window. Patterns with zero buffered history for their scoped buffer keys
// are expected to be skipped cheaply by the caller before this is invoked.
func (m *Matcher) TryComplete(p *rulemodel.Pattern, triggerEvent eventmodel.Event) (Match, bool) {
	steps := p.Steps
	if len(steps) == 0 {
		return Match{}, false
	}
	if !m.eval.EvaluateConditions(steps[len(steps)-1].Conditions, triggerEvent) {
		return Match{}, false
	}
	if len(steps) == 1 {
		return Match{PatternID: p.ID, EventIDs: []string{triggerEvent.ID}, MatchedAt: triggerEvent.Timestamp}, true
	}

	windowStart := triggerEvent.Timestamp.Add(-p.TimeWindow)
	candidates := m.candidateEvents(p, windowStart, triggerEvent.Timestamp)

	chain := m.matchBackward(steps, len(steps)-1, triggerEvent, candidates)
	if chain == nil {
		return Match{}, false
	}
	ids := make([]string, len(chain))
	for i, e := range chain {
		ids[i] = e.ID
	}
	return Match{PatternID: p.ID, EventIDs: ids, MatchedAt: triggerEvent.Timestamp}, true
}

// candidateEvents gathers every buffered event in [from,to] across the
// pattern's scoped buffer keys (or every tracked key, if unscoped).
func (m *Matcher) candidateEvents(p *rulemodel.Pattern, from, to time.Time) []eventmodel.Event {
	keys := p.BufferKeys
	if len(keys) == 0 {
		keys = m.buf.Keys()
	}
	var out []eventmodel.Event
	for _, key := range keys {
		source, eventID := splitBufferKey(key)
		for _, e := range m.buf.Window(source, eventID, to, to.Sub(from)) {
			out = append(out, e)
		}
	}
	return out
}

func splitBufferKey(key string) (source, eventID string) {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

// matchBackward recursively finds an event from candidates satisfying
// steps[idx] that occurred no earlier than the earliest admissible time and
// no later than prevEvent.Timestamp - (0, if idx is the last step) or
// within MaxDelayFromPrev of the event matched for steps[idx+1].
func (m *Matcher) matchBackward(steps []rulemodel.PatternStep, idx int, next eventmodel.Event, candidates []eventmodel.Event) []eventmodel.Event {
	if idx == 0 {
		for _, cand := range candidates {
			if cand.ID == next.ID || !cand.Timestamp.Before(next.Timestamp) {
				continue
			}
			if !withinDelay(cand.Timestamp, next.Timestamp, steps[idx+1].MaxDelayFromPrev) {
				continue
			}
			if m.eval.EvaluateConditions(steps[idx].Conditions, cand) {
				return []eventmodel.Event{cand, next}
			}
		}
		return nil
	}

	for _, cand := range candidates {
		if cand.ID == next.ID || !cand.Timestamp.Before(next.Timestamp) {
			continue
		}
		delay := steps[idx+1].MaxDelayFromPrev
		if delay > 0 && next.Timestamp.Sub(cand.Timestamp) > delay {
			continue
		}
		if !m.eval.EvaluateConditions(steps[idx].Conditions, cand) {
			continue
		}
		if prefix := m.matchBackward(steps, idx-1, cand, candidates); prefix != nil {
			return append(prefix, next)
		}
	}
	return nil
}

func withinDelay(t1, t2 time.Time, maxDelay time.Duration) bool {
	if maxDelay <= 0 {
		return true
	}
	d := t2.Sub(t1)
	if d < 0 {
		d = -d
	}
	return d <= maxDelay
}
