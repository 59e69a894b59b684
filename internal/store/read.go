package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

const instanceColumns = `id, workflow_id, tenant_id, entity_type, record_id, current_state_id, status,
	version, started_at, updated_at, state_entered_at, completed_at`

// GetInstance retrieves a single instance by ID.
// Returns ErrNotFound if it does not exist.
func (s *Store) GetInstance(ctx context.Context, id string) (*ir.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM workflow_instances WHERE id = ?`, id)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	return inst, err
}

// InstanceFilter narrows ListInstances. Zero fields match everything.
type InstanceFilter struct {
	TenantID   string
	WorkflowID string
	EntityType string
	RecordID   string
	Status     ir.InstanceStatus
}

// ListInstances returns instances matching the filter ordered by start
// time, then id.
func (s *Store) ListInstances(ctx context.Context, f InstanceFilter) ([]ir.WorkflowInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+instanceColumns+` FROM workflow_instances
		WHERE (? = '' OR tenant_id = ?)
		  AND (? = '' OR workflow_id = ?)
		  AND (? = '' OR entity_type = ?)
		  AND (? = '' OR record_id = ?)
		  AND (? = '' OR status = ?)
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`,
		f.TenantID, f.TenantID, f.WorkflowID, f.WorkflowID, f.EntityType, f.EntityType,
		f.RecordID, f.RecordID, string(f.Status), string(f.Status),
	)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	instances := []ir.WorkflowInstance{}
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instances: %w", err)
	}
	return instances, nil
}

// SLACandidate is an active instance whose current state carries an SLA.
type SLACandidate struct {
	Instance   ir.WorkflowInstance
	SLASeconds int64
}

// ActiveInstancesWithSLA returns active instances sitting in a state with a
// positive SLA. Deciding which are overdue is left to the caller so the
// check stays a pure function of "now".
func (s *Store) ActiveInstancesWithSLA(ctx context.Context) ([]SLACandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.workflow_id, i.tenant_id, i.entity_type, i.record_id, i.current_state_id,
		       i.status, i.version, i.started_at, i.updated_at, i.state_entered_at, i.completed_at,
		       st.sla_seconds
		FROM workflow_instances i
		JOIN workflow_states st ON st.workflow_id = i.workflow_id AND st.id = i.current_state_id
		WHERE i.status = 'active' AND st.sla_seconds > 0
		ORDER BY i.state_entered_at ASC, i.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sla candidates: %w", err)
	}
	defer rows.Close()

	var out []SLACandidate
	for rows.Next() {
		var c SLACandidate
		inst, err := scanInstanceWith(rows, &c.SLASeconds)
		if err != nil {
			return nil, err
		}
		c.Instance = *inst
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sla candidates: %w", err)
	}
	return out, nil
}

// History returns the history entries of an instance ordered by seq ASC,
// id ASC. Returns an empty slice (not nil) if there are none.
func (s *Store) History(ctx context.Context, instanceID string) ([]ir.WorkflowHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instance_id, seq, event, from_state_id, to_state_id, transition_id, actor, timestamp, failures
		FROM workflow_history
		WHERE instance_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := []ir.WorkflowHistoryEntry{}
	for rows.Next() {
		var e ir.WorkflowHistoryEntry
		var event, ts, failures string
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.Seq, &event, &e.FromStateID, &e.ToStateID,
			&e.TransitionID, &e.Actor, &ts, &failures); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Event = ir.HistoryEvent(event)
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(failures, &e.Failures); err != nil {
			return nil, err
		}
		if len(e.Failures) == 0 {
			e.Failures = nil
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// ExecutionFilter narrows ListExecutions. Zero fields match everything.
type ExecutionFilter struct {
	TenantID string
	RuleID   string
	Status   ir.ExecutionStatus
	Limit    int // 0 = no limit
}

const executionColumns = `id, rule_id, rule_version, rule_hash, rule_snapshot, tenant_id, seq, triggered_at,
	trigger_kind, trigger_context, condition_result, actions_executed, status, is_test, error_detail, flow_token`

// ListExecutions returns executions matching the filter ordered by seq ASC,
// id ASC. With a Limit, the most recent Limit executions are returned, still
// in ascending order.
func (s *Store) ListExecutions(ctx context.Context, f ExecutionFilter) ([]ir.AutomationExecution, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT * FROM (
			SELECT `+executionColumns+` FROM automation_executions
			WHERE (? = '' OR tenant_id = ?)
			  AND (? = '' OR rule_id = ?)
			  AND (? = '' OR status = ?)
			ORDER BY seq DESC, id COLLATE BINARY DESC
			LIMIT ?
		)
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, f.TenantID, f.TenantID, f.RuleID, f.RuleID, string(f.Status), string(f.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	execs := []ir.AutomationExecution{}
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return execs, nil
}

// GetExecution retrieves a single execution by ID.
func (s *Store) GetExecution(ctx context.Context, id string) (*ir.AutomationExecution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM automation_executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	return exec, err
}

// MaxSeq returns the highest seq across the whole ledger, 0 when empty.
// Used to resume the logical clock after a restart.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(
			COALESCE((SELECT MAX(seq) FROM workflow_history), 0),
			COALESCE((SELECT MAX(seq) FROM automation_executions), 0)
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq, nil
}

func scanInstance(row rowScanner) (*ir.WorkflowInstance, error) {
	return scanInstanceWith(row)
}

// scanInstanceWith scans the instance columns followed by extra columns.
func scanInstanceWith(row rowScanner, extra ...any) (*ir.WorkflowInstance, error) {
	var inst ir.WorkflowInstance
	var status, startedAt, updatedAt, enteredAt string
	var completedAt sql.NullString
	dest := []any{
		&inst.ID, &inst.WorkflowID, &inst.TenantID, &inst.EntityType, &inst.RecordID,
		&inst.CurrentStateID, &status, &inst.Version, &startedAt, &updatedAt, &enteredAt, &completedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan instance: %w", err)
	}
	inst.Status = ir.InstanceStatus(status)
	var err error
	if inst.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if inst.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if inst.StateEnteredAt, err = parseTime(enteredAt); err != nil {
		return nil, err
	}
	if inst.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	return &inst, nil
}

func scanExecution(row rowScanner) (*ir.AutomationExecution, error) {
	var exec ir.AutomationExecution
	var snapshot, triggeredAt, kind, triggerCtx, results, status string
	err := row.Scan(
		&exec.ID, &exec.RuleID, &exec.RuleVersion, &exec.RuleHash, &snapshot, &exec.TenantID, &exec.Seq,
		&triggeredAt, &kind, &triggerCtx, &exec.ConditionResult, &results, &status, &exec.IsTest,
		&exec.ErrorDetail, &exec.FlowToken,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	exec.TriggerKind = ir.TriggerKind(kind)
	exec.Status = ir.ExecutionStatus(status)
	if exec.TriggeredAt, err = parseTime(triggeredAt); err != nil {
		return nil, err
	}
	if snapshot != "" && snapshot != "{}" {
		exec.RuleSnapshot = &ir.AutomationRule{}
		if err := unmarshalJSON(snapshot, exec.RuleSnapshot); err != nil {
			return nil, err
		}
	}
	if triggerCtx != "{}" {
		if err := unmarshalJSON(triggerCtx, &exec.TriggerContext); err != nil {
			return nil, err
		}
	}
	if err := unmarshalJSON(results, &exec.ActionsExecuted); err != nil {
		return nil, err
	}
	return &exec, nil
}
