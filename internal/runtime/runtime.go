// Package runtime wires every engine into a single, explicitly-constructed
// object graph: one constructor call per component, no package-level
// globals or singletons.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/sentinel/internal/buffer"
	"github.com/codeready-toolchain/sentinel/internal/complexity"
	"github.com/codeready-toolchain/sentinel/internal/config"
	"github.com/codeready-toolchain/sentinel/internal/correlation"
	"github.com/codeready-toolchain/sentinel/internal/dualwrite"
	"github.com/codeready-toolchain/sentinel/internal/eventmodel"
	"github.com/codeready-toolchain/sentinel/internal/events"
	"github.com/codeready-toolchain/sentinel/internal/incident"
	"github.com/codeready-toolchain/sentinel/internal/lql"
	"github.com/codeready-toolchain/sentinel/internal/pattern"
	"github.com/codeready-toolchain/sentinel/internal/planner"
	"github.com/codeready-toolchain/sentinel/internal/priority"
	"github.com/codeready-toolchain/sentinel/internal/queryexec"
	"github.com/codeready-toolchain/sentinel/internal/resource"
	"github.com/codeready-toolchain/sentinel/internal/resultcache"
	"github.com/codeready-toolchain/sentinel/internal/rulecache"
	"github.com/codeready-toolchain/sentinel/internal/ruleeval"
	"github.com/codeready-toolchain/sentinel/internal/rulemodel"
	"github.com/codeready-toolchain/sentinel/internal/rulestore"
	"github.com/codeready-toolchain/sentinel/internal/scorer"
	"github.com/codeready-toolchain/sentinel/internal/searchindex"
	"github.com/codeready-toolchain/sentinel/internal/store"
)

// Runtime holds every constructed engine and the shared infrastructure they
// sit on. Built once at process startup by New, torn down by Close.
type Runtime struct {
	Config *config.Config

	Store       *store.Store
	SearchIndex *searchindex.Indexer
	DualWrite   *dualwrite.Engine

	Buffer      *buffer.Buffer
	RuleStore   *rulestore.Store
	RuleCache   *rulecache.Cache
	Classifier  *priority.Classifier
	Evaluator   *ruleeval.Evaluator
	Matcher     *pattern.Matcher
	Incidents   *incident.Manager
	Correlation *correlation.Engine
	Scorer      scorer.Scorer

	Complexity  *complexity.Analyzer
	RateLimiter *complexity.RateLimiter
	Resources   *resource.Manager
	ResultCache *resultcache.Cache
	Executor    *queryexec.Executor

	Events *events.Manager
}

// Options carries the pieces New cannot derive from Config alone: the
// static priority-classifier event-id sets and the static pattern set,
// both supplied by the embedding deployment rather than loaded from a
// rule-authoring table.
type Options struct {
	CriticalEventIDs  []string
	HighEventIDs      []string
	NormalEventIDs    []string
	Patterns          []*rulemodel.Pattern
	ActionExecutor    incident.ActionExecutor
	Scorer            scorer.Scorer
	EventWriteTimeout time.Duration
}

// New builds a fully wired Runtime: opens the relational store and applies
// migrations, connects the search indexer, loads the initial rule
// snapshot, and constructs every engine on top.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	st, err := store.Open(ctx, store.DefaultConfig(cfg.Stores.RelationalDSN))
	if err != nil {
		return nil, fmt.Errorf("open relational store: %w", err)
	}

	idx, err := searchindex.New(cfg.Stores.SearchURL, searchindex.DefaultConfig())
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open search indexer: %w", err)
	}

	dw := dualwrite.New(st.Logs, idx)

	buf := buffer.New(cfg.Correlation.MemoryBufferSizeLimit, cfg.Correlation.BufferRetention)

	rs := rulestore.New(st.Rules)
	if err := rs.Reload(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load initial rule set: %w", err)
	}

	rc := rulecache.New(time.Duration(cfg.Correlation.CacheExpirationMs) * time.Millisecond)
	rs.OnReload(func([]*rulemodel.Rule) { rc.Invalidate() })

	classifier := priority.New(opts.CriticalEventIDs, opts.HighEventIDs, opts.NormalEventIDs)
	evaluator := ruleeval.New(buf, rc)
	matcher := pattern.New(buf, evaluator)
	incidents := incident.New(st.Incidents, opts.ActionExecutor)

	corr := correlation.New(cfg.Correlation, buf, rs, classifier, evaluator, matcher, incidents, st.Metrics, opts.Patterns)

	sc := opts.Scorer
	if sc == nil {
		sc = scorer.Noop{}
	}

	writeTimeout := opts.EventWriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	return &Runtime{
		Config:      cfg,
		Store:       st,
		SearchIndex: idx,
		DualWrite:   dw,
		Buffer:      buf,
		RuleStore:   rs,
		RuleCache:   rc,
		Classifier:  classifier,
		Evaluator:   evaluator,
		Matcher:     matcher,
		Incidents:   incidents,
		Correlation: corr,
		Scorer:      sc,
		Complexity:  complexity.New(cfg.Query),
		RateLimiter: complexity.NewRateLimiter(cfg.Query),
		Resources:   resource.New(cfg.Resources),
		ResultCache: resultcache.New(cfg.Query.ResultCacheTTL, cfg.Query.ResultCacheMaxRows),
		Executor:    queryexec.New(st.DB()),
		Events:      events.New(writeTimeout),
	}, nil
}

// Close stops the correlation engine's in-flight work and releases the
// relational connection pool.
func (r *Runtime) Close() error {
	r.Correlation.Stop()
	return r.Store.Close()
}

// IngestEvent runs one normalized event through the dual-write engine and
// the correlation pipeline. Dual-write and correlation failures are
// independent: a correlation error does not undo the write, and ingestion
// failures never block correlation or vice versa.
func (r *Runtime) IngestEvent(ctx context.Context, e eventmodel.Event) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	writeErr := r.DualWrite.WriteLog(ctx, e)
	corrErr := r.Correlation.Process(ctx, e)
	if writeErr != nil {
		return writeErr
	}
	return corrErr
}

// QueryResult is the outcome of RunQuery.
type QueryResult struct {
	Rows      []resultcache.Row
	RowCount  int
	FromCache bool
	Score     complexity.Score
}

// RunQuery compiles src through the full Query Engine pipeline: parse,
// plan, optimize, complexity-score, rate-limit, cache lookup, admission,
// execute, cache store.
func (r *Runtime) RunQuery(ctx context.Context, userID, src string, rangeStart, rangeEnd time.Time, now time.Time) (QueryResult, error) {
	query, err := lql.Parse(src)
	if err != nil {
		return QueryResult{}, err
	}

	plan, err := planner.Build(query)
	if err != nil {
		return QueryResult{}, err
	}
	plan = planner.Optimize(plan)

	score, err := r.Complexity.Analyze(plan)
	if err != nil {
		return QueryResult{}, err
	}

	if err := r.RateLimiter.Allow(userID, score.IsComplex, now); err != nil {
		return QueryResult{}, err
	}

	emitted, err := planner.Emit(plan)
	if err != nil {
		return QueryResult{}, err
	}

	cacheKey := resultcache.Key(emitted.SQL, emitted.Args, rangeStart, rangeEnd)
	if rows, ok := r.ResultCache.Get(cacheKey, now); ok {
		return QueryResult{Rows: rows, RowCount: len(rows), FromCache: true, Score: score}, nil
	}

	estCost := planner.Estimate(plan)
	leaseID := fmt.Sprintf("%s-%d", userID, now.UnixNano())
	lease, err := r.Resources.Acquire(ctx, leaseID, estCost.EstimatedRows*256)
	if err != nil {
		return QueryResult{}, err
	}
	defer lease.Release()

	result, err := r.Executor.Execute(ctx, lease, emitted, estCost, nil)
	if err != nil {
		return QueryResult{}, err
	}

	if !result.Streamed {
		r.ResultCache.Put(cacheKey, result.Rows, now)
	}

	return QueryResult{Rows: result.Rows, RowCount: result.RowCount, Score: score}, nil
}
