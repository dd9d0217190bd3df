package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/codeready-toolchain/sentinel/internal/rulemodel"
)

// RuleRepository loads and persists correlation rules and their condition
// trees across the correlation_rules and rule_conditions tables.
type RuleRepository struct {
	db *sql.DB
}

type conditionRow struct {
	id            int64
	parentID      sql.NullInt64
	field         sql.NullString
	operator      sql.NullString
	value         []byte
	caseSensitive bool
	isRequired    bool
	combinator    sql.NullString
	sortOrder     int
}

// LoadAll reads every rule row and its condition tree, returning a full
// snapshot for the Rule Store's atomic reload.
func (r *RuleRepository) LoadAll(ctx context.Context) ([]*rulemodel.Rule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, severity, priority, time_window_minutes, aggregation, actions,
		       enabled, dedup_key_fields, confidence_formula
		FROM correlation_rules`)
	if err != nil {
		return nil, fmt.Errorf("query correlation_rules: %w", err)
	}
	defer rows.Close()

	var rules []*rulemodel.Rule
	for rows.Next() {
		var rule rulemodel.Rule
		var aggJSON, actionsJSON []byte
		var severity, priority string
		if err := rows.Scan(&rule.ID, &rule.Type, &severity, &priority, &rule.TimeWindowMinutes,
			&aggJSON, &actionsJSON, &rule.Enabled, &rule.DedupKeyFields, &rule.ConfidenceFormula); err != nil {
			return nil, fmt.Errorf("scan correlation_rules row: %w", err)
		}
		rule.Severity = rulemodel.Severity(severity)
		rule.Priority = rulemodel.Priority(priority)
		if len(aggJSON) > 0 {
			var agg rulemodel.Aggregation
			if err := json.Unmarshal(aggJSON, &agg); err != nil {
				return nil, fmt.Errorf("unmarshal aggregation for rule %s: %w", rule.ID, err)
			}
			rule.Aggregation = &agg
		}
		if len(actionsJSON) > 0 {
			if err := json.Unmarshal(actionsJSON, &rule.Actions); err != nil {
				return nil, fmt.Errorf("unmarshal actions for rule %s: %w", rule.ID, err)
			}
		}
		rules = append(rules, &rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, rule := range rules {
		tree, err := r.loadConditionTree(ctx, rule.ID)
		if err != nil {
			return nil, err
		}
		rule.Conditions = tree
	}
	return rules, nil
}

func (r *RuleRepository) loadConditionTree(ctx context.Context, ruleID string) (*rulemodel.Condition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, parent_id, field, operator, value, case_sensitive, is_required, combinator, sort_order
		FROM rule_conditions WHERE rule_id = $1 ORDER BY sort_order`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("query rule_conditions for rule %s: %w", ruleID, err)
	}
	defer rows.Close()

	byID := map[int64]*rulemodel.Condition{}
	rowByID := map[int64]conditionRow{}
	var roots []int64
	for rows.Next() {
		var cr conditionRow
		if err := rows.Scan(&cr.id, &cr.parentID, &cr.field, &cr.operator, &cr.value,
			&cr.caseSensitive, &cr.isRequired, &cr.combinator, &cr.sortOrder); err != nil {
			return nil, fmt.Errorf("scan rule_conditions row: %w", err)
		}
		cond := &rulemodel.Condition{
			CaseSensitive: cr.caseSensitive,
			IsRequired:    cr.isRequired,
		}
		if cr.field.Valid {
			cond.Field = cr.field.String
		}
		if cr.operator.Valid {
			cond.Operator = rulemodel.Operator(cr.operator.String)
		}
		if cr.combinator.Valid {
			cond.Combinator = rulemodel.Combinator(cr.combinator.String)
		}
		if len(cr.value) > 0 {
			var v any
			if err := json.Unmarshal(cr.value, &v); err != nil {
				return nil, fmt.Errorf("unmarshal condition value for rule %s: %w", ruleID, err)
			}
			cond.Value = v
		}
		byID[cr.id] = cond
		rowByID[cr.id] = cr
		if !cr.parentID.Valid {
			roots = append(roots, cr.id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for id, cr := range rowByID {
		if cr.parentID.Valid {
			parent := byID[cr.parentID.Int64]
			if parent != nil {
				parent.Children = append(parent.Children, byID[id])
			}
		}
	}

	if len(roots) == 0 {
		return nil, nil
	}
	return byID[roots[0]], nil
}

// Upsert inserts or replaces a rule and its condition tree in a single
// transaction (used by rule-authoring tooling outside this module's scope;
// kept here so the Rule Store's reload path has a symmetric write path to
// test against).
func (r *RuleRepository) Upsert(ctx context.Context, rule *rulemodel.Rule) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rule upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	aggJSON, err := json.Marshal(rule.Aggregation)
	if err != nil {
		return fmt.Errorf("marshal aggregation: %w", err)
	}
	actionsJSON, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO correlation_rules (id, type, severity, priority, time_window_minutes, aggregation, actions, enabled, dedup_key_fields, confidence_formula, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now())
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type, severity = EXCLUDED.severity, priority = EXCLUDED.priority,
			time_window_minutes = EXCLUDED.time_window_minutes, aggregation = EXCLUDED.aggregation,
			actions = EXCLUDED.actions, enabled = EXCLUDED.enabled,
			dedup_key_fields = EXCLUDED.dedup_key_fields, confidence_formula = EXCLUDED.confidence_formula,
			updated_at = now()`,
		rule.ID, rule.Type, string(rule.Severity), string(rule.Priority), rule.TimeWindowMinutes,
		aggJSON, actionsJSON, rule.Enabled, pqStringArray(rule.DedupKeyFields), rule.ConfidenceFormula)
	if err != nil {
		return fmt.Errorf("upsert correlation_rules row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_conditions WHERE rule_id = $1`, rule.ID); err != nil {
		return fmt.Errorf("clear rule_conditions: %w", err)
	}
	if rule.Conditions != nil {
		if err := insertConditionTree(ctx, tx, rule.ID, nil, rule.Conditions, 0); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertConditionTree(ctx context.Context, tx *sql.Tx, ruleID string, parentID *int64, cond *rulemodel.Condition, order int) error {
	valueJSON, err := json.Marshal(cond.Value)
	if err != nil {
		return fmt.Errorf("marshal condition value: %w", err)
	}
	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO rule_conditions (rule_id, parent_id, field, operator, value, case_sensitive, is_required, combinator, sort_order)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		ruleID, parentID, nullableString(cond.Field), nullableString(string(cond.Operator)),
		valueJSON, cond.CaseSensitive, cond.IsRequired, nullableString(string(cond.Combinator)), order,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert rule_conditions row: %w", err)
	}
	for i, child := range cond.Children {
		if err := insertConditionTree(ctx, tx, ruleID, &id, child, i); err != nil {
			return err
		}
	}
	return nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
