// Package dualwrite implements the Ingestion & Dual-Write Engine: every
// normalized event is written to the relational store and the search
// index in parallel, with independent per-backend success/failure
// accounting so one backend's outage never blocks the other's ingestion.
package dualwrite

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/codeready-toolchain/sentinel/internal/apperrors"
	"github.com/codeready-toolchain/sentinel/internal/eventmodel"
)

// RelationalWriter is the relational leg of the dual write. Satisfied by
// *store.LogRepository.
type RelationalWriter interface {
	Insert(ctx context.Context, e eventmodel.Event) error
	InsertBatch(ctx context.Context, events []eventmodel.Event) error
}

// SearchWriter is the search-index leg of the dual write. Satisfied by
// *searchindex.Indexer.
type SearchWriter interface {
	Index(ctx context.Context, e eventmodel.Event) error
	IndexBatch(ctx context.Context, events []eventmodel.Event) error
}

// Counters tracks independent success/failure totals for each backend.
type Counters struct {
	RelationalOK   atomic.Int64
	RelationalFail atomic.Int64
	SearchOK       atomic.Int64
	SearchFail     atomic.Int64
}

// Snapshot is a point-in-time read of Counters.
type Snapshot struct {
	RelationalOK, RelationalFail int64
	SearchOK, SearchFail         int64
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		RelationalOK:   c.RelationalOK.Load(),
		RelationalFail: c.RelationalFail.Load(),
		SearchOK:       c.SearchOK.Load(),
		SearchFail:     c.SearchFail.Load(),
	}
}

// Degraded reports whether either backend's failure rate indicates the
// pipeline should report itself unhealthy: more failures than successes
// over the lifetime of the process is the simplest faithful signal absent
// a sliding window.
func (s Snapshot) Degraded() bool {
	return (s.RelationalFail > 0 && s.RelationalFail >= s.RelationalOK) ||
		(s.SearchFail > 0 && s.SearchFail >= s.SearchOK)
}

// Engine performs the parallel dual write and exposes cumulative counters.
type Engine struct {
	relational RelationalWriter
	search     SearchWriter
	counters   Counters
}

// New builds a dual-write Engine.
func New(relational RelationalWriter, search SearchWriter) *Engine {
	return &Engine{relational: relational, search: search}
}

// Counters exposes the live counters for health reporting.
func (e *Engine) Counters() *Counters { return &e.counters }

// WriteLog writes a single event to both backends concurrently. A failure
// in one backend does not suppress the write to the other; the returned
// error, if any, is a backend-transient apperrors.Error naming which
// backend(s) failed.
func (e *Engine) WriteLog(ctx context.Context, ev eventmodel.Event) error {
	var relErr, searchErr error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		relErr = e.relational.Insert(ctx, ev)
		if relErr != nil {
			e.counters.RelationalFail.Add(1)
			slog.Error("relational write failed", "event_id", ev.ID, "error", relErr)
		} else {
			e.counters.RelationalOK.Add(1)
		}
	}()
	go func() {
		defer wg.Done()
		searchErr = e.search.Index(ctx, ev)
		if searchErr != nil {
			e.counters.SearchFail.Add(1)
			slog.Error("search index write failed", "event_id", ev.ID, "error", searchErr)
		} else {
			e.counters.SearchOK.Add(1)
		}
	}()
	wg.Wait()

	if relErr != nil && searchErr != nil {
		return apperrors.Transient(relErr, "dual write failed for both backends on event %s", ev.ID)
	}
	if relErr != nil {
		return apperrors.Transient(relErr, "relational write failed for event %s", ev.ID)
	}
	if searchErr != nil {
		return apperrors.Transient(searchErr, "search index write failed for event %s", ev.ID)
	}
	return nil
}

// WriteBatch writes a batch of events to both backends concurrently. Each
// backend applies its own batch transaction semantics independently: a
// relational batch failure does not affect the search batch and vice versa.
func (e *Engine) WriteBatch(ctx context.Context, events []eventmodel.Event) error {
	if len(events) == 0 {
		return nil
	}
	var relErr, searchErr error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		relErr = e.relational.InsertBatch(ctx, events)
		if relErr != nil {
			e.counters.RelationalFail.Add(int64(len(events)))
			slog.Error("relational batch write failed", "batch_size", len(events), "error", relErr)
		} else {
			e.counters.RelationalOK.Add(int64(len(events)))
		}
	}()
	go func() {
		defer wg.Done()
		searchErr = e.search.IndexBatch(ctx, events)
		if searchErr != nil {
			e.counters.SearchFail.Add(int64(len(events)))
			slog.Error("search batch index failed", "batch_size", len(events), "error", searchErr)
		} else {
			e.counters.SearchOK.Add(int64(len(events)))
		}
	}()
	wg.Wait()

	if relErr != nil && searchErr != nil {
		return apperrors.Transient(relErr, "dual batch write failed for both backends (%d events)", len(events))
	}
	if relErr != nil {
		return apperrors.Transient(relErr, "relational batch write failed (%d events)", len(events))
	}
	if searchErr != nil {
		return apperrors.Transient(searchErr, "search batch index failed (%d events)", len(events))
	}
	return nil
}
