package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/codeready-toolchain/sentinel/internal/rulemodel"
)

// IncidentRepository persists incident records.
type IncidentRepository struct {
	db *sql.DB
}

// FindOpenByDedupKey returns the open incident matching (ruleID, dedupKey),
// if one exists. Backs the Incident Manager's find-open-incident step;
// callers serialize access per dedup key before calling this.
func (r *IncidentRepository) FindOpenByDedupKey(ctx context.Context, ruleID, dedupKey string) (*rulemodel.Incident, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, rule_id, pattern_id, dedup_key, severity, title, description,
		       first_seen, last_seen, event_count, affected_assets, metadata, status, event_links
		FROM incidents WHERE rule_id = $1 AND dedup_key = $2 AND status <> 'closed'`, ruleID, dedupKey)
	inc, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return inc, err
}

// Upsert inserts a new incident or replaces an existing one by ID.
func (r *IncidentRepository) Upsert(ctx context.Context, inc *rulemodel.Incident) error {
	metadata, err := json.Marshal(inc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal incident metadata: %w", err)
	}
	links, err := json.Marshal(inc.EventLinks)
	if err != nil {
		return fmt.Errorf("marshal incident event_links: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO incidents (id, rule_id, pattern_id, dedup_key, severity, title, description,
			first_seen, last_seen, event_count, affected_assets, metadata, status, event_links)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			last_seen = EXCLUDED.last_seen, event_count = EXCLUDED.event_count,
			affected_assets = EXCLUDED.affected_assets, metadata = EXCLUDED.metadata,
			status = EXCLUDED.status, event_links = EXCLUDED.event_links`,
		inc.ID, nullableString(inc.RuleID), nullableString(inc.PatternID), inc.DedupKey,
		string(inc.Severity), inc.Title, inc.Description, inc.FirstSeen, inc.LastSeen,
		inc.EventCount, pqStringArray(inc.AffectedAssets), metadata, string(inc.Status), links)
	if err != nil {
		return fmt.Errorf("upsert incident %s: %w", inc.ID, err)
	}
	return nil
}

func scanIncident(row *sql.Row) (*rulemodel.Incident, error) {
	var inc rulemodel.Incident
	var ruleID, patternID sql.NullString
	var severity, status string
	var metadata, links []byte
	err := row.Scan(&inc.ID, &ruleID, &patternID, &inc.DedupKey, &severity, &inc.Title, &inc.Description,
		&inc.FirstSeen, &inc.LastSeen, &inc.EventCount, &inc.AffectedAssets, &metadata, &status, &links)
	if err != nil {
		return nil, err
	}
	inc.RuleID = ruleID.String
	inc.PatternID = patternID.String
	inc.Severity = rulemodel.Severity(severity)
	inc.Status = rulemodel.IncidentStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &inc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal incident metadata: %w", err)
		}
	}
	if len(links) > 0 {
		if err := json.Unmarshal(links, &inc.EventLinks); err != nil {
			return nil, fmt.Errorf("unmarshal incident event_links: %w", err)
		}
	}
	return &inc, nil
}
