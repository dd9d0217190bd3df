// Package ruleeval implements the Rule Evaluator: walks a rule's condition
// tree against a single event, then, if the non-aggregation conditions
// pass, scans the Event Buffer's matching window to evaluate the rule's
// aggregation threshold. Conditions are a typed tree rather than a
// string-expression AST — see DESIGN.md for why antonmedv/expr was not
// adopted here.
package ruleeval

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/codeready-toolchain/sentinel/internal/buffer"
	"github.com/codeready-toolchain/sentinel/internal/eventmodel"
	"github.com/codeready-toolchain/sentinel/internal/rulecache"
	"github.com/codeready-toolchain/sentinel/internal/rulemodel"
)

// Result is the outcome of evaluating one rule against one event.
type Result struct {
	Matched    bool
	Confidence float64
	Warnings   []string
}

// Evaluator evaluates condition trees and aggregations, memoizing per-event
// outcomes in a rulecache.Cache.
type Evaluator struct {
	buf   *buffer.Buffer
	cache *rulecache.Cache

	reMu sync.Mutex
	reCache map[string]*regexp.Regexp
	reBad   map[string]bool
}

// New builds an Evaluator over a shared event buffer and rule cache.
func New(buf *buffer.Buffer, cache *rulecache.Cache) *Evaluator {
	return &Evaluator{
		buf:     buf,
		cache:   cache,
		reCache: make(map[string]*regexp.Regexp),
		reBad:   make(map[string]bool),
	}
}

// Evaluate runs rule against e at time now, consulting and then updating
// the Rule Cache.
func (ev *Evaluator) Evaluate(rule *rulemodel.Rule, e eventmodel.Event, now time.Time) Result {
	if cached, ok := ev.cache.Get(rule.ID, string(e.Source), e.EventID, now); ok {
		return Result{Matched: cached.Matched, Confidence: cached.Confidence}
	}

	matched, leafTotal, leafMatched, warnings := ev.evalNode(rule.Conditions, e)

	if matched && rule.Aggregation != nil {
		aggOK, aggRatio := ev.evalAggregation(rule, e, now)
		matched = matched && aggOK
		if matched {
			leafTotal++
			if aggOK {
				leafMatched += aggRatio
			}
		}
	}

	confidence := confidenceFor(rule, matched, leafMatched, leafTotal)

	ev.cache.Put(rule.ID, string(e.Source), e.EventID, rulecache.Entry{
		Matched:    matched,
		Confidence: confidence,
		At:         now,
	})

	return Result{Matched: matched, Confidence: confidence, Warnings: warnings}
}

// EvaluateConditions runs a bare condition tree against an event, with no
// rule-level caching or aggregation. Used by the Pattern Matcher, which
// evaluates per-step conditions rather than whole rules.
func (ev *Evaluator) EvaluateConditions(cond *rulemodel.Condition, e eventmodel.Event) bool {
	matched, _, _, _ := ev.evalNode(cond, e)
	return matched
}

// confidenceFor derives a 0..1 confidence score from the fraction of
// condition-tree leaves that matched, weighted by the rule's declared
// severity. confidence_formula is advisory metadata on the rule; absent an
// explicit formula this ratio-by-severity blend is the engine's default
// (see DESIGN.md for the open-question decision behind this).
func confidenceFor(rule *rulemodel.Rule, matched bool, leafMatched float64, leafTotal int) float64 {
	if !matched || leafTotal == 0 {
		return 0
	}
	ratio := leafMatched / float64(leafTotal)
	weight := severityWeight(rule.Severity)
	confidence := ratio*0.6 + weight*0.4
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

func severityWeight(s rulemodel.Severity) float64 {
	switch s {
	case rulemodel.SeverityCritical:
		return 1.0
	case rulemodel.SeverityHigh:
		return 0.85
	case rulemodel.SeverityMedium:
		return 0.65
	case rulemodel.SeverityLow:
		return 0.45
	default:
		return 0.3
	}
}

// evalNode evaluates a condition (sub)tree, returning whether it matched and
// a (matchedLeaves, totalLeaves) count for confidence scoring.
func (ev *Evaluator) evalNode(c *rulemodel.Condition, e eventmodel.Event) (matched bool, total int, matchedCount float64, warnings []string) {
	if c == nil {
		return true, 0, 0, nil
	}
	if c.IsLeaf() {
		ok, warn := ev.evalLeaf(c, e)
		if warn != "" {
			warnings = append(warnings, warn)
		}
		if ok {
			return true, 1, 1, warnings
		}
		return false, 1, 0, warnings
	}

	switch c.Combinator {
	case rulemodel.CombNot:
		if len(c.Children) != 1 {
			return false, 0, 0, []string{"not combinator requires exactly one child"}
		}
		childMatched, t, m, w := ev.evalNode(c.Children[0], e)
		warnings = append(warnings, w...)
		return !childMatched, t, float64(t) - m, warnings

	case rulemodel.CombOr:
		anyMatched := false
		for _, child := range c.Children {
			cm, t, m, w := ev.evalNode(child, e)
			warnings = append(warnings, w...)
			total += t
			matchedCount += m
			if cm {
				anyMatched = true
			}
		}
		return anyMatched, total, matchedCount, warnings

	default: // CombAnd, and the zero-value fallback
		allMatched := true
		hasOptional := false
		anyOptionalMatched := false
		for _, child := range c.Children {
			cm, t, m, w := ev.evalNode(child, e)
			warnings = append(warnings, w...)
			total += t
			matchedCount += m
			required := child.IsLeaf() && child.IsRequired || !child.IsLeaf()
			if required {
				if !cm {
					allMatched = false
				}
			} else {
				hasOptional = true
				if cm {
					anyOptionalMatched = true
				}
			}
		}
		// An AND node made up entirely of optional leaves must not match
		// unless at least one of them actually fired.
		if hasOptional && !anyOptionalMatched {
			allMatched = false
		}
		return allMatched, total, matchedCount, warnings
	}
}

func (ev *Evaluator) evalLeaf(c *rulemodel.Condition, e eventmodel.Event) (bool, string) {
	value, present := e.FieldValue(c.Field)

	switch c.Operator {
	case rulemodel.OpIsNull:
		return !present || value == nil, ""
	case rulemodel.OpIsNotNull:
		return present && value != nil, ""
	}

	if !present {
		return false, ""
	}

	switch c.Operator {
	case rulemodel.OpEq:
		return compareEq(value, c.Value, c.CaseSensitive), ""
	case rulemodel.OpNeq:
		return !compareEq(value, c.Value, c.CaseSensitive), ""
	case rulemodel.OpLt, rulemodel.OpLte, rulemodel.OpGt, rulemodel.OpGte:
		return compareOrdered(value, c.Value, c.Operator), ""
	case rulemodel.OpContains:
		return stringOp(value, c.Value, c.CaseSensitive, stringsContains), ""
	case rulemodel.OpStartsWith:
		return stringOp(value, c.Value, c.CaseSensitive, stringsHasPrefix), ""
	case rulemodel.OpEndsWith:
		return stringOp(value, c.Value, c.CaseSensitive, stringsHasSuffix), ""
	case rulemodel.OpRegex:
		re, err := ev.compileRegex(toString(c.Value))
		if err != nil {
			return false, fmt.Sprintf("field %s: bad regex %q: %v", c.Field, c.Value, err)
		}
		return re.MatchString(toString(value)), ""
	case rulemodel.OpIn:
		return inSet(value, c.Value, c.CaseSensitive), ""
	case rulemodel.OpNotIn:
		return !inSet(value, c.Value, c.CaseSensitive), ""
	default:
		return false, fmt.Sprintf("field %s: unknown operator %q", c.Field, c.Operator)
	}
}

func (ev *Evaluator) compileRegex(pattern string) (*regexp.Regexp, error) {
	ev.reMu.Lock()
	defer ev.reMu.Unlock()
	if ev.reBad[pattern] {
		return nil, fmt.Errorf("previously failed to compile")
	}
	if re, ok := ev.reCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		ev.reBad[pattern] = true
		return nil, err
	}
	ev.reCache[pattern] = re
	return re, nil
}

// evalAggregation scans the buffer window for the rule's event kind and
// evaluates the threshold comparator.
func (ev *Evaluator) evalAggregation(rule *rulemodel.Rule, e eventmodel.Event, now time.Time) (bool, float64) {
	window := rule.TimeWindow()
	events := ev.buf.Window(string(e.Source), e.EventID, now, window)

	var value float64
	switch rule.Aggregation.Op {
	case rulemodel.AggCount:
		value = float64(len(events))
	case rulemodel.AggSum, rulemodel.AggAvg, rulemodel.AggMin, rulemodel.AggMax:
		var sum, count float64
		var min, max float64
		first := true
		for _, be := range events {
			v, ok := be.FieldValue(rule.Aggregation.Field)
			if !ok {
				continue
			}
			f, ok := toFloat(v)
			if !ok {
				continue
			}
			sum += f
			count++
			if first || f < min {
				min = f
			}
			if first || f > max {
				max = f
			}
			first = false
		}
		switch rule.Aggregation.Op {
		case rulemodel.AggSum:
			value = sum
		case rulemodel.AggAvg:
			if count > 0 {
				value = sum / count
			}
		case rulemodel.AggMin:
			value = min
		case rulemodel.AggMax:
			value = max
		}
	}

	comparator := rule.Aggregation.Comparator
	if comparator == "" {
		comparator = rulemodel.OpGt
	}
	threshold := rule.Aggregation.Threshold
	ok := compareFloat(value, threshold, comparator)
	ratio := 0.0
	if threshold != 0 {
		ratio = value / threshold
		if ratio > 1 {
			ratio = 1
		}
		if ratio < 0 {
			ratio = 0
		}
	} else if ok {
		ratio = 1
	}
	return ok, ratio
}

func compareFloat(value, threshold float64, op rulemodel.Operator) bool {
	switch op {
	case rulemodel.OpGt:
		return value > threshold
	case rulemodel.OpGte:
		return value >= threshold
	case rulemodel.OpLt:
		return value < threshold
	case rulemodel.OpLte:
		return value <= threshold
	case rulemodel.OpEq:
		return value == threshold
	default:
		return value > threshold
	}
}
