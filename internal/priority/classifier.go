// Package priority implements the static event-id-set priority classifier.
package priority

import "github.com/codeready-toolchain/sentinel/internal/eventmodel"

// Level is the classification outcome.
type Level string

const (
	LevelCritical Level = "critical"
	LevelHigh     Level = "high"
	LevelNormal   Level = "normal"
	LevelLow      Level = "low"
)

// Classifier maps event_id -> Level using three static sets, checked in
// order: critical, then high, then normal; anything else is low.
type Classifier struct {
	critical map[string]bool
	high     map[string]bool
	normal   map[string]bool
}

// New builds a Classifier from explicit event-id sets. A nil set is treated
// as empty.
func New(critical, high, normal []string) *Classifier {
	c := &Classifier{
		critical: toSet(critical),
		high:     toSet(high),
		normal:   toSet(normal),
	}
	return c
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// Classify returns the priority level for an event.
func (c *Classifier) Classify(e eventmodel.Event) Level {
	switch {
	case c.critical[e.EventID]:
		return LevelCritical
	case c.high[e.EventID]:
		return LevelHigh
	case c.normal[e.EventID]:
		return LevelNormal
	default:
		return LevelLow
	}
}

// Reload atomically replaces all three sets, from the same rule-store
// snapshot source the correlation engine's other thresholds reload from.
func (c *Classifier) Reload(critical, high, normal []string) {
	c.critical = toSet(critical)
	c.high = toSet(high)
	c.normal = toSet(normal)
}
