package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbmahfudi/app-buildify-sub002/internal/action"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
	"github.com/tbmahfudi/app-buildify-sub002/internal/store"
)

// firing is one trigger occurrence offered to one rule.
type firing struct {
	kind       ir.TriggerKind
	tenantID   string
	entityType string
	recordID   string
	record     ir.Record
	actor      ir.Actor
	context    map[string]any
	flowToken  string
	preview    bool // force test mode
}

func (f firing) triggerContext() map[string]any {
	out := make(map[string]any, len(f.context)+2)
	maps.Copy(out, f.context)
	if f.entityType != "" {
		out["entity_type"] = f.entityType
	}
	if f.recordID != "" {
		out["record_id"] = f.recordID
	}
	return out
}

// HandleEvent runs every enabled rule of the event's tenant whose trigger
// matches it, in ascending priority with ties broken by rule id. Rules run
// sequentially and each persists one execution. The returned error joins
// persistence failures; action failures are recorded, not returned.
func (e *Engine) HandleEvent(ctx context.Context, ev ir.Event) ([]ir.AutomationExecution, error) {
	if !ev.Kind.IsPush() {
		return nil, fmt.Errorf("event kind %q is not delivered by push", ev.Kind)
	}
	rules, err := e.store.ListRules(ctx, store.RuleFilter{
		TenantID:    ev.TenantID,
		Kind:        ev.Kind,
		EnabledOnly: true,
	})
	if err != nil {
		return nil, err
	}

	token := ev.FlowToken
	if token == "" {
		token = e.ids.Generate()
	}
	release := e.cascade.enter(token)
	defer release()

	ctxMap := maps.Clone(ev.Context)
	if ctxMap == nil {
		ctxMap = map[string]any{}
	}
	if ev.Kind == ir.TriggerRecordUpdated {
		ctxMap["changed_fields"] = ev.ChangedFields()
	}
	if ev.Actor != "" {
		ctxMap["actor"] = ev.Actor
	}
	f := firing{
		kind:       ev.Kind,
		tenantID:   ev.TenantID,
		entityType: ev.EntityType,
		recordID:   ev.RecordID,
		record:     ev.Record,
		actor:      ir.SystemActor(ev.TenantID),
		context:    ctxMap,
		flowToken:  token,
	}

	execs := []ir.AutomationExecution{}
	var errs []error
	for i := range rules {
		if !matches(&rules[i], ev) {
			continue
		}
		exec, err := e.run(ctx, &rules[i], f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		execs = append(execs, exec)
	}
	return execs, errors.Join(errs...)
}

// Notify receives post-commit events from the record store and the
// workflow engine.
func (e *Engine) Notify(ctx context.Context, ev ir.Event) error {
	_, err := e.HandleEvent(ctx, ev)
	return err
}

// matches applies the entity type and kind-specific trigger config.
func matches(rule *ir.AutomationRule, ev ir.Event) bool {
	t := rule.Trigger
	if t.EntityType != "" && t.EntityType != ev.EntityType {
		return false
	}
	switch t.Kind {
	case ir.TriggerRecordUpdated:
		fields := t.ConfigStrings("fields")
		if len(fields) > 0 && !slices.ContainsFunc(ev.ChangedFields(), func(f string) bool {
			return slices.Contains(fields, f)
		}) {
			return false
		}
	case ir.TriggerWorkflowTransition:
		if want := t.ConfigString("workflow_id"); want != "" &&
			want != ev.Context["workflow_id"] && want != ev.Context["workflow_key"] {
			return false
		}
		if want := t.ConfigString("to_state"); want != "" && want != ev.Context["to_state"] {
			return false
		}
	}
	return true
}

// FireManual runs an enabled rule now against record, regardless of its
// trigger kind.
func (e *Engine) FireManual(ctx context.Context, ruleID string, record ir.Record, actor ir.Actor) (ir.AutomationExecution, error) {
	rule, err := e.tenantRule(ctx, ruleID, actor.TenantID)
	if err != nil {
		return ir.AutomationExecution{}, err
	}
	if !rule.IsEnabled {
		return ir.AutomationExecution{}, fmt.Errorf("fire %s: %w", ruleID, ErrRuleDisabled)
	}
	return e.direct(ctx, rule, firing{
		kind:    ir.TriggerManual,
		record:  record,
		actor:   actor,
		context: map[string]any{"actor": actor.UserID},
	})
}

// TestRule previews an enabled rule against a sample record. Actions are
// validated and reported as would_execute; nothing runs. The execution is
// recorded with is_test set.
func (e *Engine) TestRule(ctx context.Context, ruleID string, record ir.Record, actor ir.Actor) (ir.AutomationExecution, error) {
	rule, err := e.tenantRule(ctx, ruleID, actor.TenantID)
	if err != nil {
		return ir.AutomationExecution{}, err
	}
	if !rule.IsEnabled {
		return ir.AutomationExecution{}, fmt.Errorf("test %s: %w", ruleID, ErrRuleDisabled)
	}
	return e.direct(ctx, rule, firing{
		kind:    ir.TriggerManual,
		record:  record,
		actor:   actor,
		context: map[string]any{"actor": actor.UserID, "test": true},
		preview: true,
	})
}

// FireWebhook runs an enabled webhook rule with payload as its record.
// Callers outside the process go through ReceiveWebhook, which checks the
// signature first.
func (e *Engine) FireWebhook(ctx context.Context, ruleID string, payload map[string]any) (ir.AutomationExecution, error) {
	rule, err := e.GetRule(ctx, ruleID)
	if err != nil {
		return ir.AutomationExecution{}, err
	}
	if rule.Trigger.Kind != ir.TriggerWebhook {
		return ir.AutomationExecution{}, fmt.Errorf("rule %s has trigger %s, not webhook", ruleID, rule.Trigger.Kind)
	}
	if !rule.IsEnabled {
		return ir.AutomationExecution{}, fmt.Errorf("fire %s: %w", ruleID, ErrRuleDisabled)
	}
	return e.direct(ctx, rule, firing{
		kind:   ir.TriggerWebhook,
		record: payload,
		actor:  ir.SystemActor(rule.TenantID),
	})
}

// direct fills in what a direct firing shares and starts a new flow.
func (e *Engine) direct(ctx context.Context, rule *ir.AutomationRule, f firing) (ir.AutomationExecution, error) {
	f.tenantID = rule.TenantID
	f.entityType = rule.Trigger.EntityType
	f.recordID = recordID(f.record)
	f.flowToken = e.ids.Generate()
	release := e.cascade.enter(f.flowToken)
	defer release()
	return e.run(ctx, rule, f)
}

func (e *Engine) tenantRule(ctx context.Context, ruleID, tenantID string) (*ir.AutomationRule, error) {
	rule, err := e.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule.TenantID != tenantID {
		return nil, &RuleNotFoundError{ID: ruleID}
	}
	return rule, nil
}

// run evaluates one rule for one firing and persists the execution.
func (e *Engine) run(ctx context.Context, rule *ir.AutomationRule, f firing) (_ ir.AutomationExecution, err error) {
	began := time.Now()
	ctx, span := tracer.Start(ctx, "automation.rule", trace.WithAttributes(
		attribute.String("rule.id", rule.ID),
		attribute.String("trigger.kind", string(f.kind)),
		attribute.String("record.id", f.recordID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	hash, err := ir.RuleHash(rule)
	if err != nil {
		return ir.AutomationExecution{}, fmt.Errorf("hash rule %s: %w", rule.ID, err)
	}
	snapshot := *rule
	exec := ir.AutomationExecution{
		ID:              e.ids.Generate(),
		RuleID:          rule.ID,
		RuleVersion:     rule.Version,
		RuleHash:        hash,
		RuleSnapshot:    &snapshot,
		TenantID:        f.tenantID,
		TriggeredAt:     e.timestamp(),
		TriggerKind:     f.kind,
		TriggerContext:  f.triggerContext(),
		IsTest:          rule.IsTestMode || f.preview,
		FlowToken:       f.flowToken,
		ActionsExecuted: []ir.ActionResult{},
	}

	compiled, cerr := e.conditions.Get(rule.Condition)
	switch {
	case cerr != nil:
		exec.Status = ir.ExecutionFailure
		exec.ErrorDetail = "condition: " + cerr.Error()
	case !compiled.Evaluate(f.record):
		exec.Status = ir.ExecutionSkipped
	default:
		exec.ConditionResult = true
		firingKey := ir.FiringKey(rule.ID, f.entityType, f.recordID)
		if stop := e.cascade.admit(f.flowToken, rule.ID, firingKey); stop != nil {
			var ce *CascadeError
			errors.As(stop, &ce)
			exec.Status = ir.ExecutionSkipped
			exec.ErrorDetail = stop.Error()
			e.metrics.CascadeStopped(ce.reason())
			slog.Warn("automation cascade stopped",
				"rule_id", rule.ID,
				"record_id", f.recordID,
				"flow_token", f.flowToken,
				"code", ce.Code,
			)
			break
		}
		exec.ActionsExecuted = e.runActions(ctx, rule, f, exec.IsTest)
		exec.Status = ir.OverallStatus(exec.ActionsExecuted)
	}

	if err := e.recorder.RecordExecution(ctx, &exec); err != nil {
		return ir.AutomationExecution{}, fmt.Errorf("record execution of %s: %w", rule.ID, err)
	}

	e.metrics.ObserveExecution(string(f.kind), string(exec.Status), time.Since(began))
	span.SetAttributes(attribute.String("execution.status", string(exec.Status)))
	slog.Debug("rule evaluated",
		"rule_id", rule.ID,
		"execution_id", exec.ID,
		"status", exec.Status,
		"is_test", exec.IsTest,
		"flow_token", f.flowToken,
	)
	return exec, nil
}

// runActions runs a rule's actions in order under the rule timeout. A
// failed action does not stop the ones after it.
func (e *Engine) runActions(ctx context.Context, rule *ir.AutomationRule, f firing, preview bool) []ir.ActionResult {
	ctx, cancel := context.WithTimeout(ctx, e.ruleTimeout)
	defer cancel()

	ec := &action.ExecContext{
		TenantID:   f.tenantID,
		Actor:      f.actor,
		RuleID:     rule.ID,
		EntityType: f.entityType,
		RecordID:   f.recordID,
		Record:     f.record,
		FlowToken:  f.flowToken,
	}
	results := make([]ir.ActionResult, 0, len(rule.Actions))
	for _, spec := range rule.Actions {
		began := time.Now()
		var res ir.ActionResult
		if preview {
			res = e.actions.Preview(ec, spec)
		} else {
			res = e.actions.Dispatch(ctx, ec, spec)
		}
		e.metrics.ObserveAction(spec.Type, string(res.Status), time.Since(began))
		results = append(results, res)
	}
	return results
}

// recordID reads a record's "id" field.
func recordID(r ir.Record) string {
	switch v := r["id"].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
