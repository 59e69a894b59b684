package automation

import (
	"errors"
	"fmt"
)

var (
	// ErrRuleDisabled is returned when firing a disabled rule directly.
	ErrRuleDisabled = errors.New("automation rule is disabled")

	// ErrWebhookInactive is returned for deliveries to an inactive webhook.
	ErrWebhookInactive = errors.New("webhook is inactive")

	// ErrInvalidSignature is returned when a webhook delivery's signature
	// does not match its body.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// RuleNotFoundError is returned when a rule does not exist in the caller's
// tenant.
type RuleNotFoundError struct {
	ID string
}

func (e *RuleNotFoundError) Error() string {
	return fmt.Sprintf("automation rule %q not found", e.ID)
}

// WebhookNotFoundError is returned when a webhook config does not exist.
type WebhookNotFoundError struct {
	ID string
}

func (e *WebhookNotFoundError) Error() string {
	return fmt.Sprintf("webhook %q not found", e.ID)
}

// IsNotFound reports whether err names a missing rule or webhook.
func IsNotFound(err error) bool {
	var rn *RuleNotFoundError
	var wn *WebhookNotFoundError
	return errors.As(err, &rn) || errors.As(err, &wn)
}

// CascadeErrorCode categorizes why a cascade was cut short.
type CascadeErrorCode string

const (
	// ErrCodeCycleDetected: the same rule would fire twice for the same
	// record within one flow.
	ErrCodeCycleDetected CascadeErrorCode = "CYCLE_DETECTED"

	// ErrCodeQuotaExceeded: the flow fired more rules than allowed.
	ErrCodeQuotaExceeded CascadeErrorCode = "QUOTA_EXCEEDED"
)

// CascadeError is recorded on an execution that the cascade guards stopped.
// It is never returned to callers; the stopped execution is persisted as
// skipped with the error as its detail.
type CascadeError struct {
	Code      CascadeErrorCode
	FlowToken string
	RuleID    string
	Steps     int // quota only
	Limit     int // quota only
}

func (e *CascadeError) Error() string {
	switch e.Code {
	case ErrCodeQuotaExceeded:
		return fmt.Sprintf("%s: flow fired %d rules, limit %d (flow=%s, rule=%s)",
			e.Code, e.Steps, e.Limit, e.FlowToken, e.RuleID)
	default:
		return fmt.Sprintf("%s: rule already fired for this record in flow (flow=%s, rule=%s)",
			e.Code, e.FlowToken, e.RuleID)
	}
}

// reason labels the error for metrics.
func (e *CascadeError) reason() string {
	if e.Code == ErrCodeQuotaExceeded {
		return "quota"
	}
	return "cycle"
}

// IsCycleError reports whether err is a cycle stop.
func IsCycleError(err error) bool {
	var ce *CascadeError
	return errors.As(err, &ce) && ce.Code == ErrCodeCycleDetected
}

// IsQuotaError reports whether err is a quota stop.
func IsQuotaError(err error) bool {
	var ce *CascadeError
	return errors.As(err, &ce) && ce.Code == ErrCodeQuotaExceeded
}
