package harness

import (
	"errors"

	"github.com/tbmahfudi/app-buildify-sub002/internal/automation"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
	"github.com/tbmahfudi/app-buildify-sub002/internal/records"
	"github.com/tbmahfudi/app-buildify-sub002/internal/workflow"
)

// Error kinds a step expectation can name.
const (
	KindPermissionDenied  = "permission_denied"
	KindGuardFailed       = "guard_failed"
	KindInstanceClosed    = "instance_closed"
	KindInvalidTransition = "invalid_transition"
	KindConcurrency       = "concurrency"
	KindNotFound          = "not_found"
	KindNotPublished      = "not_published"
	KindRuleDisabled      = "rule_disabled"
	KindValidation        = "validation"
	KindError             = "error"
)

// ErrorKind classifies an engine error. Closed instances are reported as
// instance_closed even though they are also invalid transitions.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case workflow.IsPermissionDenied(err):
		return KindPermissionDenied
	case workflow.IsGuardFailed(err):
		return KindGuardFailed
	case errors.Is(err, workflow.ErrInstanceClosed):
		return KindInstanceClosed
	case workflow.IsInvalidTransition(err):
		return KindInvalidTransition
	case workflow.IsConcurrencyError(err):
		return KindConcurrency
	case workflow.IsNotFound(err), automation.IsNotFound(err), errors.Is(err, records.ErrNotFound):
		return KindNotFound
	case errors.Is(err, workflow.ErrWorkflowNotPublished):
		return KindNotPublished
	case errors.Is(err, automation.ErrRuleDisabled):
		return KindRuleDisabled
	case ir.IsValidationError(err):
		return KindValidation
	default:
		return KindError
	}
}
