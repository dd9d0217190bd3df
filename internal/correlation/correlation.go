// Package correlation implements the Correlation Engine orchestrator:
// wires the Event Buffer, Rule Store, Rule Cache, Priority Classifier,
// Rule Evaluator, Pattern Matcher, and Incident Manager into a single
// Process call with bounded concurrency, a burst-rate admission gate, and
// adaptive throttling. The worker-pool shape uses a bounded semaphore, a
// stop channel guarded by sync.Once, and a WaitGroup drain on Stop.
package correlation

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/sentinel/internal/apperrors"
	"github.com/codeready-toolchain/sentinel/internal/buffer"
	"github.com/codeready-toolchain/sentinel/internal/config"
	"github.com/codeready-toolchain/sentinel/internal/eventmodel"
	"github.com/codeready-toolchain/sentinel/internal/incident"
	"github.com/codeready-toolchain/sentinel/internal/pattern"
	"github.com/codeready-toolchain/sentinel/internal/priority"
	"github.com/codeready-toolchain/sentinel/internal/rulemodel"
	"github.com/codeready-toolchain/sentinel/internal/rulestore"
	"github.com/codeready-toolchain/sentinel/internal/ruleeval"
	"golang.org/x/time/rate"
)

// MetricsRecorder is the best-effort rule_performance_metrics sink.
// Satisfied by *store.MetricsRepository.
type MetricsRecorder interface {
	RecordEvaluation(ctx context.Context, ruleID string, matched bool, latency time.Duration, at time.Time) error
}

// Engine processes one event at a time, end to end, through the
// correlation pipeline.
type Engine struct {
	cfg        config.CorrelationConfig
	buf        *buffer.Buffer
	rules      *rulestore.Store
	classifier *priority.Classifier
	evaluator  *ruleeval.Evaluator
	matcher    *pattern.Matcher
	incidents  *incident.Manager
	metrics    MetricsRecorder
	patterns   []*rulemodel.Pattern

	sem     chan struct{}
	limiter *rate.Limiter

	throttled atomic.Bool
	recentNs  atomic.Int64 // exponential moving average of processing latency, nanoseconds

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds an Engine. patterns is a static pattern set supplied by the
// deployment; pattern authoring has no dedicated store table (see
// DESIGN.md).
func New(cfg config.CorrelationConfig, buf *buffer.Buffer, rules *rulestore.Store, classifier *priority.Classifier,
	evaluator *ruleeval.Evaluator, matcher *pattern.Matcher, incidents *incident.Manager, metrics MetricsRecorder,
	patterns []*rulemodel.Pattern) *Engine {

	e := &Engine{
		cfg:        cfg,
		buf:        buf,
		rules:      rules,
		classifier: classifier,
		evaluator:  evaluator,
		matcher:    matcher,
		incidents:  incidents,
		metrics:    metrics,
		patterns:   patterns,
		sem:        make(chan struct{}, cfg.Concurrency),
		limiter:    rate.NewLimiter(rate.Limit(cfg.BurstCapPerSecond), cfg.BurstCapPerSecond),
		stopCh:     make(chan struct{}),
	}
	rules.OnReload(func([]*rulemodel.Rule) {
		e.throttled.Store(false)
		e.recentNs.Store(0)
	})
	return e
}

// Stop waits for in-flight Process calls to finish. Safe to call once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

// Process runs one event through classification, rule evaluation, pattern
// matching, and incident management. Returns apperrors.Capacity if the
// burst-rate gate rejects the event.
func (e *Engine) Process(ctx context.Context, ev eventmodel.Event) error {
	if !e.limiter.Allow() {
		return apperrors.Capacity(time.Second, "correlation engine burst rate exceeded")
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	e.wg.Add(1)
	defer func() {
		<-e.sem
		e.wg.Done()
	}()

	start := time.Now()
	e.buf.Insert(ev)

	level := e.classifier.Classify(ev)
	rules := e.rulesFor(level)

	if e.cfg.ParallelRuleEvaluation {
		e.evaluateParallel(ctx, rules, ev, start)
	} else {
		for _, rule := range rules {
			e.evaluateOne(ctx, rule, ev, start)
		}
	}

	e.runPatterns(ctx, ev)

	e.recordLatency(time.Since(start))
	return nil
}

// rulesFor applies the fast-path skip: critical rules always run; normal
// rules run unless the engine is throttled and the event's priority is
// below priority_rule_threshold.
func (e *Engine) rulesFor(level priority.Level) []*rulemodel.Rule {
	all := e.rules.All()
	if !e.cfg.FastPathEnabled {
		return all
	}
	if level == priority.LevelCritical || level == priority.LevelHigh {
		return all
	}
	if e.cfg.AdaptiveThrottling && e.throttled.Load() {
		return e.rules.Critical()
	}
	return all
}

func (e *Engine) evaluateParallel(ctx context.Context, rules []*rulemodel.Rule, ev eventmodel.Event, now time.Time) {
	var wg sync.WaitGroup
	wg.Add(len(rules))
	for _, rule := range rules {
		rule := rule
		go func() {
			defer wg.Done()
			e.evaluateOne(ctx, rule, ev, now)
		}()
	}
	wg.Wait()
}

func (e *Engine) evaluateOne(ctx context.Context, rule *rulemodel.Rule, ev eventmodel.Event, now time.Time) {
	evalStart := time.Now()
	result := e.evaluator.Evaluate(rule, ev, now)
	latency := time.Since(evalStart)

	for _, w := range result.Warnings {
		slog.Warn("rule evaluation warning", "rule_id", rule.ID, "event_id", ev.ID, "warning", w)
	}

	if e.metrics != nil {
		go func() {
			if err := e.metrics.RecordEvaluation(context.Background(), rule.ID, result.Matched, latency, now); err != nil {
				slog.Error("rule_performance_metrics record failed", "rule_id", rule.ID, "error", err)
			}
		}()
	}

	if !result.Matched {
		return
	}
	if _, err := e.incidents.RecordRuleMatch(ctx, rule, ev, result.Confidence, now); err != nil {
		slog.Error("incident record failed", "rule_id", rule.ID, "event_id", ev.ID, "error", err)
	}
}

func (e *Engine) runPatterns(ctx context.Context, ev eventmodel.Event) {
	for _, p := range e.patterns {
		match, ok := e.matcher.TryComplete(p, ev)
		if !ok {
			continue
		}
		assets := ev.AffectedAssets()
		if _, err := e.incidents.RecordPatternMatch(ctx, p, match.EventIDs, assets, match.MatchedAt); err != nil {
			slog.Error("pattern incident record failed", "pattern_id", p.ID, "error", err)
		}
	}
}

// recordLatency updates the throttling decision: an exponential moving
// average of processing latency crossing max_processing_time_ms engages
// the fast-path-only mode; dropping back under it disengages, both
// without any persisted state (process-local, reset on every rule
// reload — see DESIGN.md for the open-question decision behind this).
func (e *Engine) recordLatency(d time.Duration) {
	if !e.cfg.AdaptiveThrottling {
		return
	}
	const alpha = 0.2
	prev := e.recentNs.Load()
	next := int64(alpha*float64(d.Nanoseconds()) + (1-alpha)*float64(prev))
	e.recentNs.Store(next)

	thresholdNs := int64(e.cfg.MaxProcessingTimeMs) * int64(time.Millisecond)
	e.throttled.Store(next > thresholdNs)
}

// Throttled reports whether the engine is currently in fast-path-only mode.
func (e *Engine) Throttled() bool { return e.throttled.Load() }
