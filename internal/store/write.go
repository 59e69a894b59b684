package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// CreateInstance inserts a new instance and its "started" history entry in
// one transaction.
func (s *Store) CreateInstance(ctx context.Context, inst *ir.WorkflowInstance, entry ir.WorkflowHistoryEntry) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workflow_instances
			(id, workflow_id, tenant_id, entity_type, record_id, current_state_id, status, version,
			 started_at, updated_at, state_entered_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			inst.ID, inst.WorkflowID, inst.TenantID, inst.EntityType, inst.RecordID,
			inst.CurrentStateID, string(inst.Status), inst.Version,
			formatTime(inst.StartedAt), formatTime(inst.UpdatedAt), formatTime(inst.StateEnteredAt),
			formatNullTime(inst.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("insert instance: %w", err)
		}
		return insertHistory(ctx, tx, entry)
	})
	if err != nil {
		return fmt.Errorf("create instance %s: %w", inst.ID, err)
	}
	return nil
}

// AdvanceInstance persists the new state of an instance if and only if the
// stored version still equals expectedVersion, and appends entry in the
// same transaction. inst carries the post-transition values, including the
// incremented version.
//
// Returns ErrVersionConflict if another writer got there first; nothing is
// written in that case.
func (s *Store) AdvanceInstance(ctx context.Context, inst *ir.WorkflowInstance, expectedVersion int64, entry ir.WorkflowHistoryEntry) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE workflow_instances
			SET current_state_id = ?, status = ?, version = ?, updated_at = ?,
			    state_entered_at = ?, completed_at = ?
			WHERE id = ? AND version = ?
		`,
			inst.CurrentStateID, string(inst.Status), inst.Version, formatTime(inst.UpdatedAt),
			formatTime(inst.StateEnteredAt), formatNullTime(inst.CompletedAt),
			inst.ID, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("update instance: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return ErrVersionConflict
		}
		return insertHistory(ctx, tx, entry)
	})
	if err != nil {
		return fmt.Errorf("advance instance %s: %w", inst.ID, err)
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, entry ir.WorkflowHistoryEntry) error {
	failures, err := marshalList(entry.Failures)
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_history
		(id, instance_id, seq, event, from_state_id, to_state_id, transition_id, actor, timestamp, failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.InstanceID, entry.Seq, string(entry.Event), entry.FromStateID,
		entry.ToStateID, entry.TransitionID, entry.Actor, formatTime(entry.Timestamp), failures,
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// AppendExecution inserts an automation execution. The rule snapshot,
// trigger context and action results are stored as canonical JSON.
//
// Executions are append-only: a duplicate id is an error, not an upsert.
func (s *Store) AppendExecution(ctx context.Context, exec *ir.AutomationExecution) error {
	snapshot := "{}"
	if exec.RuleSnapshot != nil {
		var err error
		if snapshot, err = marshalJSON(exec.RuleSnapshot); err != nil {
			return fmt.Errorf("append execution: marshal snapshot: %w", err)
		}
	}
	triggerCtx, err := marshalObject(exec.TriggerContext)
	if err != nil {
		return fmt.Errorf("append execution: marshal trigger context: %w", err)
	}
	results, err := marshalList(exec.ActionsExecuted)
	if err != nil {
		return fmt.Errorf("append execution: marshal results: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automation_executions
		(id, rule_id, rule_version, rule_hash, rule_snapshot, tenant_id, seq, triggered_at,
		 trigger_kind, trigger_context, condition_result, actions_executed, status, is_test,
		 error_detail, flow_token)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		exec.ID, exec.RuleID, exec.RuleVersion, exec.RuleHash, snapshot, exec.TenantID, exec.Seq,
		formatTime(exec.TriggeredAt), string(exec.TriggerKind), triggerCtx,
		boolInt(exec.ConditionResult), results, string(exec.Status), boolInt(exec.IsTest),
		exec.ErrorDetail, exec.FlowToken,
	)
	if err != nil {
		return fmt.Errorf("append execution %s: %w", exec.ID, err)
	}
	return nil
}
