// Package queryexec implements the Execution Engine: runs an Emitted
// statement against the relational store, materializes rows in either a
// streaming or buffering mode depending on the estimated row count, and
// honors cooperative cancellation through a resource.Lease's context.
package queryexec

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/codeready-toolchain/sentinel/internal/apperrors"
	"github.com/codeready-toolchain/sentinel/internal/planner"
	"github.com/codeready-toolchain/sentinel/internal/resource"
	"github.com/codeready-toolchain/sentinel/internal/resultcache"
)

// streamingThreshold is the estimated-row-count above which Execute streams
// batches to the Progress callback instead of buffering the full result.
const streamingThreshold = 10_000

// defaultBatchSize bounds how many rows are materialized per batch while streaming.
const defaultBatchSize = 500

// Progress is invoked once per materialized batch. Returning an error
// aborts execution (propagated to the caller as-is).
type Progress func(batch []resultcache.Row, rowsSoFar int) error

// DB is the subset of *sql.DB the executor needs, satisfied by
// *store.Store.DB().
type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Executor runs emitted plans against the relational store.
type Executor struct {
	db DB
}

// New builds an Executor bound to db.
func New(db DB) *Executor {
	return &Executor{db: db}
}

// Result is the outcome of a completed execution.
type Result struct {
	Rows     []resultcache.Row // nil when executed in streaming mode
	RowCount int
	Streamed bool
}

// Execute runs emitted under lease's cancellation context, estimating the
// row count from estCost to decide between buffering the full result
// (small results, returned in Result.Rows) and streaming batches through
// onBatch (large results). onBatch may be nil, in which case streamed results are simply discarded
// after being counted (callers that only need the count, e.g. an explain
// path, can rely on this).
func (x *Executor) Execute(ctx context.Context, lease *resource.Lease, emitted planner.Emitted, estCost planner.Cost, onBatch Progress) (Result, error) {
	runCtx := ctx
	if lease != nil {
		runCtx = lease.Context()
	}

	rows, err := x.db.QueryContext(runCtx, emitted.SQL, emitted.Args...)
	if err != nil {
		if runCtx.Err() != nil {
			return Result{}, apperrors.Transient(err, "query canceled")
		}
		return Result{}, apperrors.Internal("", err, "execute query")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, apperrors.Internal("", err, "read result columns")
	}

	streaming := estCost.EstimatedRows > streamingThreshold
	var all []resultcache.Row
	var batch []resultcache.Row
	total := 0

	for rows.Next() {
		if err := runCtx.Err(); err != nil {
			return Result{}, apperrors.Transient(err, "query canceled mid-scan")
		}

		row, err := scanRow(rows, cols)
		if err != nil {
			return Result{}, apperrors.Internal("", err, "scan result row")
		}
		total++

		if streaming {
			batch = append(batch, row)
			if len(batch) >= defaultBatchSize {
				if onBatch != nil {
					if err := onBatch(batch, total); err != nil {
						return Result{}, err
					}
				}
				batch = nil
			}
		} else {
			all = append(all, row)
		}
	}
	if err := rows.Err(); err != nil {
		return Result{}, apperrors.Internal("", err, "iterate result rows")
	}

	if streaming && len(batch) > 0 && onBatch != nil {
		if err := onBatch(batch, total); err != nil {
			return Result{}, err
		}
	}

	return Result{Rows: all, RowCount: total, Streamed: streaming}, nil
}

func scanRow(rows *sql.Rows, cols []string) (resultcache.Row, error) {
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	row := make(resultcache.Row, len(cols))
	for i, c := range cols {
		row[c] = vals[i]
	}
	return row, nil
}
