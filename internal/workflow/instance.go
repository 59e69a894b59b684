package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbmahfudi/app-buildify-sub002/internal/action"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
	"github.com/tbmahfudi/app-buildify-sub002/internal/store"
)

// TransitionRequest asks for one transition of one instance.
type TransitionRequest struct {
	InstanceID      string
	TransitionID    string
	Actor           ir.Actor
	Record          ir.Record // Snapshot for guards and actions; fetched when nil
	ExpectedVersion int64
	FlowToken       string
}

// OverdueInstance is an active instance that has outlived its state's SLA.
type OverdueInstance struct {
	Instance ir.WorkflowInstance
	StateID  string
	Deadline time.Time
	Overdue  time.Duration
}

// StartInstance binds a new instance of a published workflow to a record.
// workflowID may name a definition id or a key; a key resolves to its
// latest published version. The initial state's on-entry actions run
// before the instance is persisted at version 0.
func (e *Engine) StartInstance(ctx context.Context, workflowID, recordID string, actor ir.Actor) (_ *ir.WorkflowInstance, err error) {
	ctx, span := tracer.Start(ctx, "workflow.start", trace.WithAttributes(
		attribute.String("workflow.id", workflowID),
		attribute.String("record.id", recordID),
	))
	defer endSpan(span, &err)

	def, err := e.resolveStartable(ctx, workflowID, actor.TenantID)
	if err != nil {
		return nil, err
	}
	initial, ok := def.State(def.InitialStateID)
	if !ok {
		return nil, fmt.Errorf("workflow %s has no initial state", def.ID)
	}

	now := e.timestamp()
	inst := &ir.WorkflowInstance{
		ID:             e.ids.Generate(),
		WorkflowID:     def.ID,
		TenantID:       def.TenantID,
		EntityType:     def.EntityType,
		RecordID:       recordID,
		CurrentStateID: initial.ID,
		Status:         ir.InstanceActive,
		StartedAt:      now,
		UpdatedAt:      now,
		StateEnteredAt: now,
	}
	if initial.IsTerminal {
		inst.Status = ir.InstanceCompleted
		inst.CompletedAt = &now
	}

	record, err := e.snapshot(ctx, inst, nil)
	if err != nil {
		return nil, err
	}
	ec := &action.ExecContext{
		TenantID:   inst.TenantID,
		Actor:      actor,
		EntityType: inst.EntityType,
		RecordID:   recordID,
		Record:     record,
		FlowToken:  e.ids.Generate(),
	}
	failures := e.runActions(ctx, ec, "on_entry", initial.OnEntry)

	entry := ir.WorkflowHistoryEntry{
		ID:         e.ids.Generate(),
		InstanceID: inst.ID,
		Event:      ir.HistoryStarted,
		ToStateID:  initial.ID,
		Actor:      actor.UserID,
		Timestamp:  now,
		Failures:   failures,
	}
	if _, err := e.recorder.RecordStart(ctx, inst, entry); err != nil {
		return nil, err
	}

	e.metrics.InstanceStarted(def.Key)
	slog.Info("workflow instance started",
		"instance_id", inst.ID,
		"workflow_id", def.ID,
		"record_id", recordID,
		"state", initial.ID,
	)
	return inst, nil
}

func (e *Engine) resolveStartable(ctx context.Context, workflowID, tenantID string) (*ir.WorkflowDefinition, error) {
	def, err := e.definition(ctx, workflowID)
	if IsNotFound(err) {
		def, err = e.store.LatestPublished(ctx, tenantID, workflowID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, &WorkflowNotFoundError{ID: workflowID}
		}
		if err == nil {
			e.cache(def)
		}
	}
	if err != nil {
		return nil, err
	}
	if def.TenantID != tenantID {
		return nil, &WorkflowNotFoundError{ID: workflowID}
	}
	if def.Status != ir.DefinitionPublished {
		return nil, fmt.Errorf("start %s: %w", workflowID, ErrWorkflowNotPublished)
	}
	return def, nil
}

// ExecuteTransition performs one transition.
//
// The instance must be open and belong to the actor's tenant. A caller
// whose expected version is stale gets a ConcurrencyError before anything
// else is judged, since the stored state is no longer the one it saw.
// Otherwise checks run in order: the transition leaves the current state,
// the actor holds its requirement, and the guard holds for the record
// snapshot.
// On-exit then on-entry actions run next; their failures are noted on the
// history entry and never roll the transition back. The new state and its
// history entry commit together, and the workflow_transition event carrying
// the same snapshot is pushed to the event sink after the commit.
//
// Any error leaves the instance and its history unchanged.
func (e *Engine) ExecuteTransition(ctx context.Context, req TransitionRequest) (_ *ir.WorkflowInstance, err error) {
	began := time.Now()
	ctx, span := tracer.Start(ctx, "workflow.transition", trace.WithAttributes(
		attribute.String("instance.id", req.InstanceID),
		attribute.String("transition.id", req.TransitionID),
	))
	defer endSpan(span, &err)

	locked, release, err := e.locks.acquire(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	inst, def, t, record, err := e.transition(locked, req)
	release()

	workflowKey := ""
	if def != nil {
		workflowKey = def.Key
	}
	e.metrics.ObserveTransition(workflowKey, outcome(err), time.Since(began))
	if err != nil {
		return nil, err
	}

	e.notifyTransition(ctx, req, inst, def, t, record)
	return inst, nil
}

// transition runs under the instance lock. def is returned whenever it was
// resolved, for metrics labels.
func (e *Engine) transition(ctx context.Context, req TransitionRequest) (*ir.WorkflowInstance, *ir.WorkflowDefinition, ir.WorkflowTransition, ir.Record, error) {
	var none ir.WorkflowTransition

	inst, err := e.tenantInstance(ctx, req.InstanceID, req.Actor)
	if err != nil {
		return nil, nil, none, nil, err
	}
	def, err := e.definition(ctx, inst.WorkflowID)
	if err != nil {
		return nil, nil, none, nil, err
	}
	if inst.IsClosed() {
		return nil, def, none, nil, &InvalidTransitionError{
			InstanceID:   inst.ID,
			TransitionID: req.TransitionID,
			CurrentState: inst.CurrentStateID,
			Reason:       "instance is " + string(inst.Status),
			err:          ErrInstanceClosed,
		}
	}

	if inst.Version != req.ExpectedVersion {
		return nil, def, none, nil, &ConcurrencyError{
			InstanceID:      inst.ID,
			ExpectedVersion: req.ExpectedVersion,
			ActualVersion:   inst.Version,
		}
	}

	t, ok := def.Transition(req.TransitionID)
	if !ok {
		return nil, def, none, nil, &InvalidTransitionError{
			InstanceID:   inst.ID,
			TransitionID: req.TransitionID,
			CurrentState: inst.CurrentStateID,
			Reason:       "no such transition in workflow " + def.ID,
		}
	}
	if t.FromStateID != inst.CurrentStateID {
		return nil, def, none, nil, &InvalidTransitionError{
			InstanceID:   inst.ID,
			TransitionID: req.TransitionID,
			CurrentState: inst.CurrentStateID,
			Reason:       "transition leaves " + t.FromStateID,
		}
	}

	if !e.allowed(ctx, req.Actor, t.Requirement()) {
		return nil, def, none, nil, &PermissionDenied{
			Actor:       req.Actor.UserID,
			Operation:   "execute transition " + t.ID,
			Requirement: t.Requirement(),
		}
	}

	record, err := e.snapshot(ctx, inst, req.Record)
	if err != nil {
		return nil, def, none, nil, err
	}
	if !e.guardHolds(t, record) {
		return nil, def, none, nil, &GuardConditionFailed{InstanceID: inst.ID, TransitionID: t.ID}
	}

	from, _ := def.State(t.FromStateID)
	to, ok := def.State(t.ToStateID)
	if !ok {
		return nil, def, none, nil, fmt.Errorf("workflow %s: transition %s targets unknown state %q", def.ID, t.ID, t.ToStateID)
	}

	ec := &action.ExecContext{
		TenantID:   inst.TenantID,
		Actor:      req.Actor,
		EntityType: inst.EntityType,
		RecordID:   inst.RecordID,
		Record:     record,
		FlowToken:  req.FlowToken,
	}
	failures := e.runActions(ctx, ec, "on_exit", from.OnExit)
	failures = append(failures, e.runActions(ctx, ec, "on_entry", to.OnEntry)...)

	now := e.timestamp()
	next := *inst
	next.CurrentStateID = to.ID
	next.Version = inst.Version + 1
	next.UpdatedAt = now
	next.StateEnteredAt = now
	if to.IsTerminal {
		next.Status = ir.InstanceCompleted
		next.CompletedAt = &now
	}

	entry := ir.WorkflowHistoryEntry{
		ID:           e.ids.Generate(),
		InstanceID:   inst.ID,
		Event:        ir.HistoryTransitioned,
		FromStateID:  from.ID,
		ToStateID:    to.ID,
		TransitionID: t.ID,
		Actor:        req.Actor.UserID,
		Timestamp:    now,
		Failures:     failures,
	}
	if _, err := e.recorder.RecordTransition(ctx, &next, inst.Version, entry); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, def, none, nil, e.conflict(ctx, inst.ID, inst.Version)
		}
		return nil, def, none, nil, err
	}
	return &next, def, t, record, nil
}

// conflict builds a ConcurrencyError carrying the version that won.
func (e *Engine) conflict(ctx context.Context, instanceID string, expected int64) error {
	ce := &ConcurrencyError{InstanceID: instanceID, ExpectedVersion: expected, ActualVersion: -1}
	if cur, err := e.store.GetInstance(ctx, instanceID); err == nil {
		ce.ActualVersion = cur.Version
	}
	return ce
}

func (e *Engine) notifyTransition(ctx context.Context, req TransitionRequest, inst *ir.WorkflowInstance, def *ir.WorkflowDefinition, t ir.WorkflowTransition, record ir.Record) {
	if e.sink == nil {
		return
	}
	token := req.FlowToken
	if token == "" {
		token = e.ids.Generate()
	}
	ev := ir.Event{
		Kind:       ir.TriggerWorkflowTransition,
		TenantID:   inst.TenantID,
		EntityType: inst.EntityType,
		RecordID:   inst.RecordID,
		Record:     record,
		Actor:      req.Actor.UserID,
		Context: map[string]any{
			"workflow_id":   def.ID,
			"workflow_key":  def.Key,
			"instance_id":   inst.ID,
			"transition":    t.Name,
			"transition_id": t.ID,
			"from_state":    t.FromStateID,
			"to_state":      t.ToStateID,
			"status":        string(inst.Status),
		},
		FlowToken:  token,
		OccurredAt: inst.UpdatedAt,
	}
	if err := e.sink.Notify(ctx, ev); err != nil {
		slog.Warn("transition event not delivered",
			"instance_id", inst.ID,
			"transition_id", t.ID,
			"error", err,
		)
	}
}

// CancelInstance closes an active instance without moving it. The
// definition's cancel permission, when set, is required.
func (e *Engine) CancelInstance(ctx context.Context, instanceID string, actor ir.Actor) (*ir.WorkflowInstance, error) {
	locked, release, err := e.locks.acquire(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	defer release()

	inst, err := e.tenantInstance(locked, instanceID, actor)
	if err != nil {
		return nil, err
	}
	if inst.IsClosed() {
		return nil, fmt.Errorf("cancel %s: %w", instanceID, ErrInstanceClosed)
	}
	def, err := e.definition(locked, inst.WorkflowID)
	if err != nil {
		return nil, err
	}
	req := ir.Requirement{Permission: def.CancelPermission}
	if !e.allowed(locked, actor, req) {
		return nil, &PermissionDenied{Actor: actor.UserID, Operation: "cancel instance " + instanceID, Requirement: req}
	}

	now := e.timestamp()
	next := *inst
	next.Status = ir.InstanceCancelled
	next.Version = inst.Version + 1
	next.UpdatedAt = now
	next.CompletedAt = &now

	entry := ir.WorkflowHistoryEntry{
		ID:          e.ids.Generate(),
		InstanceID:  inst.ID,
		Event:       ir.HistoryCancelled,
		FromStateID: inst.CurrentStateID,
		ToStateID:   inst.CurrentStateID,
		Actor:       actor.UserID,
		Timestamp:   now,
	}
	if _, err := e.recorder.RecordTransition(locked, &next, inst.Version, entry); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, e.conflict(locked, inst.ID, inst.Version)
		}
		return nil, err
	}
	slog.Info("workflow instance cancelled", "instance_id", inst.ID, "actor", actor.UserID)
	return &next, nil
}

// ListAvailableTransitions returns the transitions the actor could execute
// now from the instance's current state, in definition order. A closed
// instance has none.
func (e *Engine) ListAvailableTransitions(ctx context.Context, instanceID string, actor ir.Actor, record ir.Record) ([]ir.WorkflowTransition, error) {
	inst, err := e.tenantInstance(ctx, instanceID, actor)
	if err != nil {
		return nil, err
	}
	out := []ir.WorkflowTransition{}
	if inst.IsClosed() {
		return out, nil
	}
	def, err := e.definition(ctx, inst.WorkflowID)
	if err != nil {
		return nil, err
	}
	snap, err := e.snapshot(ctx, inst, record)
	if err != nil {
		return nil, err
	}
	for _, t := range def.Outgoing(inst.CurrentStateID) {
		if e.allowed(ctx, actor, t.Requirement()) && e.guardHolds(t, snap) {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetInstance loads an instance.
func (e *Engine) GetInstance(ctx context.Context, id string) (*ir.WorkflowInstance, error) {
	inst, err := e.store.GetInstance(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &InstanceNotFoundError{ID: id}
	}
	return inst, err
}

// tenantInstance loads an instance on behalf of actor. Another tenant's
// instance reads as not found.
func (e *Engine) tenantInstance(ctx context.Context, id string, actor ir.Actor) (*ir.WorkflowInstance, error) {
	inst, err := e.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.TenantID != actor.TenantID {
		return nil, &InstanceNotFoundError{ID: id}
	}
	return inst, nil
}

// ListInstances lists instances matching f.
func (e *Engine) ListInstances(ctx context.Context, f store.InstanceFilter) ([]ir.WorkflowInstance, error) {
	return e.store.ListInstances(ctx, f)
}

// History returns an instance's history in seq order.
func (e *Engine) History(ctx context.Context, instanceID string) ([]ir.WorkflowHistoryEntry, error) {
	if _, err := e.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	return e.store.History(ctx, instanceID)
}

// GetOverdueInstances returns active instances whose time in their current
// state exceeds its SLA at now, earliest deadline first.
func (e *Engine) GetOverdueInstances(ctx context.Context, now time.Time) ([]OverdueInstance, error) {
	candidates, err := e.store.ActiveInstancesWithSLA(ctx)
	if err != nil {
		return nil, err
	}
	out := []OverdueInstance{}
	for _, c := range candidates {
		deadline := c.Instance.StateEnteredAt.Add(time.Duration(c.SLASeconds) * time.Second)
		if now.After(deadline) {
			out = append(out, OverdueInstance{
				Instance: c.Instance,
				StateID:  c.Instance.CurrentStateID,
				Deadline: deadline,
				Overdue:  now.Sub(deadline),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Deadline.Equal(out[j].Deadline) {
			return out[i].Deadline.Before(out[j].Deadline)
		}
		return out[i].Instance.ID < out[j].Instance.ID
	})
	e.metrics.SetOverdue(len(out))
	return out, nil
}

// TransitionRecord moves the active instance bound to a record. It lets
// automation actions drive workflows by record rather than instance id.
func (e *Engine) TransitionRecord(ctx context.Context, req action.RecordTransitionRequest) (action.TransitionOutcome, error) {
	inst, err := e.instanceFor(ctx, req)
	if err != nil {
		return action.TransitionOutcome{}, err
	}
	def, err := e.definition(ctx, inst.WorkflowID)
	if err != nil {
		return action.TransitionOutcome{}, err
	}
	t, ok := def.Transition(req.Transition)
	if !ok {
		t, ok = def.TransitionByName(inst.CurrentStateID, req.Transition)
	}
	if !ok {
		return action.TransitionOutcome{}, &InvalidTransitionError{
			InstanceID:   inst.ID,
			TransitionID: req.Transition,
			CurrentState: inst.CurrentStateID,
			Reason:       "no transition with that id or name from the current state",
		}
	}

	next, err := e.ExecuteTransition(ctx, TransitionRequest{
		InstanceID:      inst.ID,
		TransitionID:    t.ID,
		Actor:           req.Actor,
		Record:          req.Record,
		ExpectedVersion: inst.Version,
		FlowToken:       req.FlowToken,
	})
	if err != nil {
		return action.TransitionOutcome{}, err
	}
	return action.TransitionOutcome{
		InstanceID:  next.ID,
		FromStateID: t.FromStateID,
		ToStateID:   next.CurrentStateID,
		Version:     next.Version,
	}, nil
}

func (e *Engine) instanceFor(ctx context.Context, req action.RecordTransitionRequest) (*ir.WorkflowInstance, error) {
	if req.InstanceID != "" {
		inst, err := e.GetInstance(ctx, req.InstanceID)
		if err != nil {
			return nil, err
		}
		if inst.TenantID != req.TenantID {
			return nil, &InstanceNotFoundError{ID: req.InstanceID}
		}
		return inst, nil
	}
	matches, err := e.store.ListInstances(ctx, store.InstanceFilter{
		TenantID:   req.TenantID,
		WorkflowID: req.WorkflowID,
		EntityType: req.EntityType,
		RecordID:   req.RecordID,
		Status:     ir.InstanceActive,
	})
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no active workflow instance for %s/%s", req.EntityType, req.RecordID)
	case 1:
		return &matches[0], nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	slices.Sort(ids)
	return nil, fmt.Errorf("record %s/%s has %d active instances %v; set workflow_id or instance_id",
		req.EntityType, req.RecordID, len(matches), ids)
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
