package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MetricsRepository records per-rule evaluation counters into
// rule_performance_metrics via an upsert keyed on (rule_id,
// evaluation_date); the best-effort async recorder the Correlation Engine
// feeds after every rule evaluation.
type MetricsRepository struct {
	db *sql.DB
}

// RecordEvaluation upserts today's row for ruleID, incrementing evaluation
// and match counters and accumulating latency. Failures here are logged
// and swallowed by the caller: metrics recording must never block or fail
// correlation.
func (m *MetricsRepository) RecordEvaluation(ctx context.Context, ruleID string, matched bool, latency time.Duration, at time.Time) error {
	matchInc := 0
	if matched {
		matchInc = 1
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO rule_performance_metrics (rule_id, evaluation_date, evaluations, matches, total_latency_ns)
		VALUES ($1, $2, 1, $3, $4)
		ON CONFLICT (rule_id, evaluation_date) DO UPDATE SET
			evaluations = rule_performance_metrics.evaluations + 1,
			matches = rule_performance_metrics.matches + EXCLUDED.matches,
			total_latency_ns = rule_performance_metrics.total_latency_ns + EXCLUDED.total_latency_ns`,
		ruleID, at.UTC().Format("2006-01-02"), matchInc, latency.Nanoseconds())
	if err != nil {
		return fmt.Errorf("record rule_performance_metrics for %s: %w", ruleID, err)
	}
	return nil
}
