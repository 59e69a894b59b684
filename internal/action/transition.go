package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// TypeTriggerTransition is the trigger-workflow-transition action type.
const TypeTriggerTransition = "trigger-workflow-transition"

// transitionAttempts bounds retries after a lost compare-and-swap.
const transitionAttempts = 3

// RecordTransitionRequest asks the instance engine to move the active
// instance bound to a record.
type RecordTransitionRequest struct {
	TenantID   string
	EntityType string
	RecordID   string
	InstanceID string // Optional; wins over the record lookup
	WorkflowID string // Optional filter when a record has several instances
	Transition string // Transition id, or name from the current state
	Actor      ir.Actor
	Record     ir.Record
	FlowToken  string
}

// TransitionOutcome describes a completed transition.
type TransitionOutcome struct {
	InstanceID  string
	FromStateID string
	ToStateID   string
	Version     int64
}

// Transitioner is the slice of the workflow engine this action needs.
//
// Errors that may succeed on a fresh attempt implement
// interface{ Retryable() bool }.
type Transitioner interface {
	TransitionRecord(ctx context.Context, req RecordTransitionRequest) (TransitionOutcome, error)
}

// TransitionHandler drives a workflow transition from an automation.
type TransitionHandler struct {
	workflows Transitioner
}

// NewTransitionHandler creates the trigger-workflow-transition handler.
func NewTransitionHandler(t Transitioner) *TransitionHandler {
	return &TransitionHandler{workflows: t}
}

func (h *TransitionHandler) Type() string { return TypeTriggerTransition }

func (h *TransitionHandler) Template() Template {
	return Template{
		Type:        TypeTriggerTransition,
		Name:        "Trigger workflow transition",
		Description: "Execute a transition on the record's active workflow instance.",
		Schema: `{
			"type": "object",
			"required": ["transition"],
			"properties": {
				"transition":  {"type": "string", "minLength": 1},
				"workflow_id": {"type": "string"},
				"instance_id": {"type": "string"}
			},
			"additionalProperties": false
		}`,
		Example: map[string]any{"transition": "approve"},
	}
}

func (h *TransitionHandler) Validate(map[string]any) error { return nil }

func (h *TransitionHandler) Execute(ctx context.Context, ec *ExecContext, params map[string]any) ir.ActionResult {
	if h.workflows == nil {
		return Failed(TypeTriggerTransition, 1, fmt.Errorf("no workflow engine configured"))
	}
	req := RecordTransitionRequest{
		TenantID:   ec.TenantID,
		EntityType: ec.EntityType,
		RecordID:   ec.RecordID,
		InstanceID: stringParam(params, "instance_id"),
		WorkflowID: stringParam(params, "workflow_id"),
		Transition: stringParam(params, "transition"),
		Actor:      ec.Actor,
		Record:     ec.Record,
		FlowToken:  ec.FlowToken,
	}

	var (
		out      TransitionOutcome
		err      error
		attempts int
	)
	for attempts = 1; attempts <= transitionAttempts; attempts++ {
		out, err = h.workflows.TransitionRecord(ctx, req)
		if err == nil || !isRetryable(err) || ctx.Err() != nil {
			break
		}
	}
	if attempts > transitionAttempts {
		attempts = transitionAttempts
	}
	if err != nil {
		return Failed(TypeTriggerTransition, attempts, err)
	}
	return ir.ActionResult{
		Type:     TypeTriggerTransition,
		Status:   ir.ActionSuccess,
		Attempts: attempts,
		Output: map[string]any{
			"instance_id": out.InstanceID,
			"from_state":  out.FromStateID,
			"to_state":    out.ToStateID,
			"version":     out.Version,
		},
	}
}

func isRetryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}
