// Package rulemodel defines the Rule, Condition, Pattern, and Incident types
// shared by the Rule Store, Rule Evaluator, Pattern Matcher, and Incident
// Manager.
package rulemodel

import "time"

// Operator enumerates the condition comparison operators.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNeq        Operator = "neq"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startswith"
	OpEndsWith   Operator = "endswith"
	OpRegex      Operator = "regex"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
	OpIsNull     Operator = "is_null"
	OpIsNotNull  Operator = "is_not_null"
)

// Combinator enumerates how child conditions combine in a condition tree.
type Combinator string

const (
	CombAnd Combinator = "and"
	CombOr  Combinator = "or"
	CombNot Combinator = "not"
)

// Condition is a leaf comparison or an interior combinator node. Exactly one
// of (Field/Operator/Value) or (Combinator/Children) is populated.
type Condition struct {
	// Leaf fields.
	Field         string   `json:"field,omitempty"`
	Operator      Operator `json:"operator,omitempty"`
	Value         any      `json:"value,omitempty"`
	CaseSensitive bool     `json:"case_sensitive,omitempty"`
	IsRequired    bool     `json:"is_required"`

	// Interior node fields.
	Combinator Combinator   `json:"combinator,omitempty"`
	Children   []*Condition `json:"children,omitempty"`
}

// IsLeaf reports whether this node is a field comparison rather than a combinator.
func (c *Condition) IsLeaf() bool { return c.Combinator == "" }

// AggregationOp enumerates the aggregation functions a rule may request
// over its buffer window.
type AggregationOp string

const (
	AggCount AggregationOp = "count"
	AggSum   AggregationOp = "sum"
	AggAvg   AggregationOp = "avg"
	AggMin   AggregationOp = "min"
	AggMax   AggregationOp = "max"
)

// Aggregation describes the threshold check run over the buffer window
// once a rule's non-aggregation conditions pass.
type Aggregation struct {
	Field     string        `json:"field"`
	Op        AggregationOp `json:"op"`
	Threshold float64       `json:"threshold"`
	// Comparator derived from the rule's top-level operator, e.g. "gt" for
	// "count > N". Defaults to OpGt when unset.
	Comparator Operator `json:"comparator,omitempty"`
}

// Severity enumerates rule/incident severities.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Priority enumerates rule evaluation priority, distinct from event priority.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Action describes a post-incident side effect (webhook, ticket, email).
// Execution is delegated to an external ActionExecutor.
type Action struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Rule is a versioned correlation rule, reloaded as a whole snapshot.
type Rule struct {
	ID                string       `json:"id"`
	Type              string       `json:"type"`
	Severity          Severity     `json:"severity"`
	Priority          Priority     `json:"priority"`
	TimeWindowMinutes int          `json:"time_window_minutes"`
	Conditions        *Condition   `json:"conditions"`
	Aggregation       *Aggregation `json:"aggregation,omitempty"`
	Actions           []Action     `json:"actions,omitempty"`
	Enabled           bool         `json:"enabled"`
	DedupKeyFields    []string     `json:"dedup_key_fields,omitempty"`
	ConfidenceFormula string       `json:"confidence_formula,omitempty"`
}

// IsCritical reports whether the rule belongs to the "critical rules" set:
// severity critical, priority high, or type authentication/malware —
// always evaluated, even on batched events.
func (r Rule) IsCritical() bool {
	if r.Severity == SeverityCritical || r.Priority == PriorityHigh {
		return true
	}
	switch r.Type {
	case "authentication", "malware":
		return true
	}
	return false
}

// TimeWindow returns the rule's time window as a time.Duration.
func (r Rule) TimeWindow() time.Duration {
	return time.Duration(r.TimeWindowMinutes) * time.Minute
}

// PatternStep is one step of a multi-event pattern.
type PatternStep struct {
	Conditions   *Condition    `json:"conditions"`
	MaxDelayFromPrev time.Duration `json:"max_delay_from_prev,omitempty"`
}

// Pattern describes a sequence/co-occurrence evaluated over the Event Buffer.
type Pattern struct {
	ID              string        `json:"id"`
	PatternType     string        `json:"pattern_type"`
	Severity        Severity      `json:"severity"`
	RelevanceScore  float64       `json:"relevance_score"`
	Steps           []PatternStep `json:"steps"`
	TimeWindow      time.Duration `json:"time_window"`
	BufferKeys      []string      `json:"buffer_keys,omitempty"` // (source,event_id) pairs this pattern scopes to
}

// IncidentStatus enumerates the Incident state machine.
type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "open"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentClosed        IncidentStatus = "closed"
)

// EventLink associates a matched event with the confidence/relevance it
// contributed and the timestamp it was linked at.
type EventLink struct {
	EventID    string    `json:"event_id"`
	LinkedAt   time.Time `json:"linked_at"`
	Confidence float64   `json:"confidence"`
}

// Incident is a deduplicated, aggregating record of one or more rule/pattern
// matches.
type Incident struct {
	ID              string         `json:"id"`
	RuleID          string         `json:"rule_id,omitempty"`
	PatternID       string         `json:"pattern_id,omitempty"`
	DedupKey        string         `json:"dedup_key"`
	Severity        Severity       `json:"severity"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	FirstSeen       time.Time      `json:"first_seen"`
	LastSeen        time.Time      `json:"last_seen"`
	EventCount      int            `json:"event_count"`
	AffectedAssets  []string       `json:"affected_assets"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Status          IncidentStatus `json:"status"`
	EventLinks      []EventLink    `json:"event_links,omitempty"`
	TimeWindow      time.Duration  `json:"-"`
}

// IsOpenAt reports whether the incident is still eligible to absorb a match
// at time t: last_seen >= t - window.
func (i *Incident) IsOpenAt(t time.Time) bool {
	if i.Status != IncidentOpen {
		return false
	}
	return !i.LastSeen.Before(t.Add(-i.TimeWindow))
}
