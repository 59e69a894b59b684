package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

var (
	// ErrWorkflowNotPublished is returned when starting an instance of a
	// draft or archived definition.
	ErrWorkflowNotPublished = errors.New("workflow is not published")

	// ErrInstanceClosed is returned for any operation on a completed or
	// cancelled instance.
	ErrInstanceClosed = errors.New("workflow instance is closed")

	// ErrDefinitionImmutable is returned when editing a published or
	// archived definition. Edits go through NewVersion.
	ErrDefinitionImmutable = errors.New("workflow definition is not a draft")
)

// WorkflowNotFoundError is returned when a definition does not exist in the
// caller's tenant.
type WorkflowNotFoundError struct {
	ID string
}

func (e *WorkflowNotFoundError) Error() string {
	return fmt.Sprintf("workflow %q not found", e.ID)
}

// InstanceNotFoundError is returned when an instance does not exist.
type InstanceNotFoundError struct {
	ID string
}

func (e *InstanceNotFoundError) Error() string {
	return fmt.Sprintf("workflow instance %q not found", e.ID)
}

// InvalidTransitionError is returned when the transition does not exist in
// the instance's workflow or does not leave its current state.
type InvalidTransitionError struct {
	InstanceID   string
	TransitionID string
	CurrentState string
	Reason       string
	err          error
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %q for instance %s in state %q: %s",
		e.TransitionID, e.InstanceID, e.CurrentState, e.Reason)
}

// Unwrap exposes ErrInstanceClosed for transitions on closed instances.
func (e *InvalidTransitionError) Unwrap() error {
	return e.err
}

// PermissionDenied is returned when the actor lacks the permission or roles
// an operation requires.
type PermissionDenied struct {
	Actor       string
	Operation   string
	Requirement ir.Requirement
}

func (e *PermissionDenied) Error() string {
	var need []string
	if e.Requirement.Permission != "" {
		need = append(need, "permission "+e.Requirement.Permission)
	}
	if len(e.Requirement.Roles) > 0 {
		need = append(need, "one of roles "+strings.Join(e.Requirement.Roles, ", "))
	}
	return fmt.Sprintf("permission denied: %s may not %s (requires %s)",
		e.Actor, e.Operation, strings.Join(need, " and "))
}

// GuardConditionFailed is returned when a transition's guard does not hold
// for the record snapshot.
type GuardConditionFailed struct {
	InstanceID   string
	TransitionID string
}

func (e *GuardConditionFailed) Error() string {
	return fmt.Sprintf("guard condition of transition %q failed for instance %s", e.TransitionID, e.InstanceID)
}

// ConcurrencyError is returned when the caller's expected version is stale,
// another writer won the compare-and-swap, or a transition re-enters an
// instance that is already mid-transition in the same call chain.
type ConcurrencyError struct {
	InstanceID      string
	ExpectedVersion int64
	ActualVersion   int64
	Reentrant       bool
}

func (e *ConcurrencyError) Error() string {
	if e.Reentrant {
		return fmt.Sprintf("instance %s is already transitioning in this call chain", e.InstanceID)
	}
	return fmt.Sprintf("instance %s version conflict: expected %d, found %d",
		e.InstanceID, e.ExpectedVersion, e.ActualVersion)
}

// Retryable reports whether reloading and retrying may succeed.
// A re-entrant call never will.
func (e *ConcurrencyError) Retryable() bool {
	return !e.Reentrant
}

// IsConcurrencyError reports whether err is a ConcurrencyError.
func IsConcurrencyError(err error) bool {
	var ce *ConcurrencyError
	return errors.As(err, &ce)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ie *InvalidTransitionError
	return errors.As(err, &ie)
}

// IsPermissionDenied reports whether err is a PermissionDenied.
func IsPermissionDenied(err error) bool {
	var pd *PermissionDenied
	return errors.As(err, &pd)
}

// IsGuardFailed reports whether err is a GuardConditionFailed.
func IsGuardFailed(err error) bool {
	var gf *GuardConditionFailed
	return errors.As(err, &gf)
}

// IsNotFound reports whether err names a missing workflow or instance.
func IsNotFound(err error) bool {
	var wf *WorkflowNotFoundError
	var in *InstanceNotFoundError
	return errors.As(err, &wf) || errors.As(err, &in)
}

// outcome labels an error for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsInvalidTransition(err):
		return "invalid"
	case IsPermissionDenied(err):
		return "denied"
	case IsGuardFailed(err):
		return "guard"
	case IsConcurrencyError(err):
		return "conflict"
	default:
		return "error"
	}
}
