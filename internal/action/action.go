// Package action dispatches the side-effecting steps of workflows and
// automation rules.
//
// Every action type is a Handler registered by name in a Registry. Dispatch
// is a lookup: adding an action type never touches the engines. Handlers
// report their outcome as an ir.ActionResult; a failed action is data to be
// recorded, not an error to be returned.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

var tracer = otel.Tracer("github.com/tbmahfudi/app-buildify-sub002/internal/action")

// ExecContext carries what an action may read about the firing that runs it.
type ExecContext struct {
	TenantID   string
	Actor      ir.Actor
	RuleID     string // Empty for workflow on-entry/on-exit actions
	EntityType string
	RecordID   string
	Record     ir.Record
	FlowToken  string
}

// Handler implements one action type.
//
// Handlers are stateless with respect to a single call: params arrive per
// invocation, already resolved against the ExecContext.
type Handler interface {
	// Type returns the action type identifier, e.g. "send-notification".
	Type() string

	// Template describes the action for rule builders.
	Template() Template

	// Validate checks parameters beyond what the JSON schema expresses.
	Validate(params map[string]any) error

	// Execute performs the side effect. It must honour ctx cancellation.
	Execute(ctx context.Context, ec *ExecContext, params map[string]any) ir.ActionResult
}

// Template describes an action type: its parameter schema and an example.
type Template struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      string         `json:"schema"` // JSON Schema for params
	Example     map[string]any `json:"example,omitempty"`
}

// ActionExecutionError describes why an action failed. It is recorded in
// the execution's action result, never returned to the caller of an engine.
type ActionExecutionError struct {
	Type     string
	Attempts int
	Err      error
}

func (e *ActionExecutionError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("action %s failed after %d attempts: %v", e.Type, e.Attempts, e.Err)
	}
	return fmt.Sprintf("action %s failed: %v", e.Type, e.Err)
}

func (e *ActionExecutionError) Unwrap() error {
	return e.Err
}

// IsActionExecutionError reports whether err is an ActionExecutionError.
func IsActionExecutionError(err error) bool {
	var ae *ActionExecutionError
	return errors.As(err, &ae)
}

// Failed builds a failure result from an error.
func Failed(actionType string, attempts int, err error) ir.ActionResult {
	return ir.ActionResult{
		Type:     actionType,
		Status:   ir.ActionFailure,
		Detail:   (&ActionExecutionError{Type: actionType, Attempts: attempts, Err: err}).Error(),
		Attempts: attempts,
	}
}

// Registry maps action types to handlers.
//
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	schemas  *schemaValidator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		schemas:  newSchemaValidator(),
	}
}

// Register adds a handler, replacing any handler of the same type.
// Panics if the handler's schema does not compile.
func (r *Registry) Register(h Handler) {
	if err := r.schemas.compile(h.Type(), h.Template().Schema); err != nil {
		panic(fmt.Sprintf("action %s: invalid schema: %v", h.Type(), err))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Type()] = h
}

// Get returns the handler for a type.
func (r *Registry) Get(actionType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[actionType]
	return h, ok
}

// Types returns the registered types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Templates returns every handler's template, sorted by type.
func (r *Registry) Templates() []Template {
	types := r.Types()
	out := make([]Template, 0, len(types))
	for _, t := range types {
		h, _ := r.Get(t)
		out = append(out, h.Template())
	}
	return out
}

// Validate checks that spec names a registered type and that its params
// satisfy the handler's schema and its own checks. Placeholders are
// validated as written, before resolution.
func (r *Registry) Validate(spec ir.ActionSpec) error {
	h, ok := r.Get(spec.Type)
	if !ok {
		return fmt.Errorf("unknown action type %q", spec.Type)
	}
	if err := r.schemas.validate(spec.Type, spec.Params); err != nil {
		return err
	}
	if err := checkPlaceholders(spec.Params); err != nil {
		return fmt.Errorf("action %s: %w", spec.Type, err)
	}
	if err := h.Validate(spec.Params); err != nil {
		return fmt.Errorf("action %s: %w", spec.Type, err)
	}
	return nil
}

// ValidateAll validates specs in order and returns the first error,
// annotated with the action index.
func (r *Registry) ValidateAll(specs []ir.ActionSpec) error {
	for i, spec := range specs {
		if err := r.Validate(spec); err != nil {
			return fmt.Errorf("actions[%d]: %w", i, err)
		}
	}
	return nil
}

// Dispatch resolves spec's parameters against ec and runs its handler.
// Unknown types and invalid parameters produce failure results.
func (r *Registry) Dispatch(ctx context.Context, ec *ExecContext, spec ir.ActionSpec) ir.ActionResult {
	ctx, span := tracer.Start(ctx, "action.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("action.type", spec.Type),
		attribute.String("rule.id", ec.RuleID),
	)

	result := r.dispatch(ctx, ec, spec)
	if result.Type == "" {
		result.Type = spec.Type
	}
	if result.Attempts == 0 && result.Status == ir.ActionSuccess {
		result.Attempts = 1
	}
	if result.Status == ir.ActionFailure {
		span.SetStatus(codes.Error, result.Detail)
		slog.Warn("action failed",
			"type", spec.Type,
			"rule_id", ec.RuleID,
			"record_id", ec.RecordID,
			"detail", result.Detail,
		)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return result
}

func (r *Registry) dispatch(ctx context.Context, ec *ExecContext, spec ir.ActionSpec) ir.ActionResult {
	h, ok := r.Get(spec.Type)
	if !ok {
		return Failed(spec.Type, 1, fmt.Errorf("unknown action type %q", spec.Type))
	}
	params := ResolveParams(spec.Params, ec)
	if err := r.schemas.validate(spec.Type, params); err != nil {
		return Failed(spec.Type, 1, err)
	}
	if err := h.Validate(params); err != nil {
		return Failed(spec.Type, 1, err)
	}
	if err := ctx.Err(); err != nil {
		return Failed(spec.Type, 0, err)
	}
	return h.Execute(ctx, ec, params)
}

// Preview validates spec and reports what Dispatch would do without doing
// it. Used by test-mode rules.
func (r *Registry) Preview(ec *ExecContext, spec ir.ActionSpec) ir.ActionResult {
	if err := r.Validate(spec); err != nil {
		return Failed(spec.Type, 0, err)
	}
	return ir.ActionResult{
		Type:   spec.Type,
		Status: ir.ActionWouldExecute,
		Detail: "test mode: not executed",
		Output: map[string]any{"params": ResolveParams(spec.Params, ec)},
	}
}
