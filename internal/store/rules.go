package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

const ruleColumns = `id, tenant_id, name, description, trigger_kind, trigger_entity_type, trigger_config,
	condition, actions, priority, is_enabled, is_test_mode, version, created_at, updated_at`

// CreateRule inserts a new automation rule.
func (s *Store) CreateRule(ctx context.Context, rule *ir.AutomationRule) error {
	args, err := ruleArgs(rule)
	if err != nil {
		return fmt.Errorf("create rule %s: %w", rule.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automation_rules
		(id, tenant_id, name, description, trigger_kind, trigger_entity_type, trigger_config,
		 condition, actions, priority, is_enabled, is_test_mode, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		return fmt.Errorf("create rule %s: %w", rule.ID, err)
	}
	return nil
}

// UpdateRule overwrites a rule. The caller bumps Version; the store does not
// interpret it.
func (s *Store) UpdateRule(ctx context.Context, rule *ir.AutomationRule) error {
	args, err := ruleArgs(rule)
	if err != nil {
		return fmt.Errorf("update rule %s: %w", rule.ID, err)
	}
	// created_at is immutable; id moves to the WHERE clause.
	setArgs := make([]any, 0, len(args)-1)
	setArgs = append(setArgs, args[1:13]...)
	setArgs = append(setArgs, args[14], args[0])
	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules
		SET tenant_id = ?, name = ?, description = ?, trigger_kind = ?, trigger_entity_type = ?,
		    trigger_config = ?, condition = ?, actions = ?, priority = ?, is_enabled = ?,
		    is_test_mode = ?, version = ?, updated_at = ?
		WHERE id = ?
	`, setArgs...)
	if err != nil {
		return fmt.Errorf("update rule %s: %w", rule.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update rule %s: %w", rule.ID, ErrNotFound)
	}
	return nil
}

func ruleArgs(rule *ir.AutomationRule) ([]any, error) {
	config, err := marshalObject(rule.Trigger.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal trigger config: %w", err)
	}
	condition, err := marshalCondition(rule.Condition)
	if err != nil {
		return nil, fmt.Errorf("marshal condition: %w", err)
	}
	actions, err := marshalList(rule.Actions)
	if err != nil {
		return nil, fmt.Errorf("marshal actions: %w", err)
	}
	return []any{
		rule.ID, rule.TenantID, rule.Name, rule.Description,
		string(rule.Trigger.Kind), rule.Trigger.EntityType, config,
		condition, actions, rule.Priority, boolInt(rule.IsEnabled), boolInt(rule.IsTestMode),
		rule.Version, formatTime(rule.CreatedAt), formatTime(rule.UpdatedAt),
	}, nil
}

// DeleteRule removes a rule, its schedule cursor and its webhook configs.
// Past executions keep their rule snapshot.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM automation_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete rule %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetRule retrieves a rule by ID. Returns ErrNotFound if it does not exist.
func (s *Store) GetRule(ctx context.Context, id string) (*ir.AutomationRule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return rule, err
}

// RuleFilter narrows ListRules. Zero fields match everything.
type RuleFilter struct {
	TenantID    string
	Kind        ir.TriggerKind
	EntityType  string
	EnabledOnly bool
}

// ListRules returns rules matching the filter in evaluation order:
// priority ascending, ties broken by id ascending.
func (s *Store) ListRules(ctx context.Context, f RuleFilter) ([]ir.AutomationRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM automation_rules
		WHERE (? = '' OR tenant_id = ?)
		  AND (? = '' OR trigger_kind = ?)
		  AND (? = '' OR trigger_entity_type = ?)
		  AND (? = 0 OR is_enabled = 1)
		ORDER BY priority ASC, id COLLATE BINARY ASC
	`,
		f.TenantID, f.TenantID, string(f.Kind), string(f.Kind), f.EntityType, f.EntityType,
		boolInt(f.EnabledOnly),
	)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	rules := []ir.AutomationRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

func scanRule(row rowScanner) (*ir.AutomationRule, error) {
	var rule ir.AutomationRule
	var kind, config, actions, createdAt, updatedAt string
	var condition sql.NullString
	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description, &kind, &rule.Trigger.EntityType,
		&config, &condition, &actions, &rule.Priority, &rule.IsEnabled, &rule.IsTestMode,
		&rule.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan rule: %w", err)
	}
	rule.Trigger.Kind = ir.TriggerKind(kind)
	if config != "{}" {
		if err := unmarshalJSON(config, &rule.Trigger.Config); err != nil {
			return nil, err
		}
	}
	rule.Condition = unmarshalCondition(condition)
	if err := unmarshalJSON(actions, &rule.Actions); err != nil {
		return nil, err
	}
	if rule.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rule.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &rule, nil
}

// ScheduleCursor returns the last evaluation time of a scheduled rule.
// ok is false when the rule has never been evaluated.
func (s *Store) ScheduleCursor(ctx context.Context, ruleID string) (t time.Time, ok bool, err error) {
	var raw string
	err = s.db.QueryRowContext(ctx, `SELECT last_run_at FROM rule_schedule_cursors WHERE rule_id = ?`, ruleID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("schedule cursor %s: %w", ruleID, err)
	}
	t, err = parseTime(raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// SetScheduleCursor records the last evaluation time of a scheduled rule.
func (s *Store) SetScheduleCursor(ctx context.Context, ruleID string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_schedule_cursors (rule_id, last_run_at) VALUES (?, ?)
		ON CONFLICT(rule_id) DO UPDATE SET last_run_at = excluded.last_run_at
	`, ruleID, formatTime(t))
	if err != nil {
		return fmt.Errorf("set schedule cursor %s: %w", ruleID, err)
	}
	return nil
}
