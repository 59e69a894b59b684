package ir

import "time"

// TriggerKind is the event class that can fire a rule.
type TriggerKind string

const (
	TriggerRecordCreated      TriggerKind = "record_created"
	TriggerRecordUpdated      TriggerKind = "record_updated"
	TriggerRecordDeleted      TriggerKind = "record_deleted"
	TriggerScheduled          TriggerKind = "scheduled"
	TriggerManual             TriggerKind = "manual"
	TriggerWebhook            TriggerKind = "webhook"
	TriggerWorkflowTransition TriggerKind = "workflow_transition"
)

// Valid reports whether k is a known trigger kind.
func (k TriggerKind) Valid() bool {
	switch k {
	case TriggerRecordCreated, TriggerRecordUpdated, TriggerRecordDeleted,
		TriggerScheduled, TriggerManual, TriggerWebhook, TriggerWorkflowTransition:
		return true
	}
	return false
}

// IsPush reports whether events of this kind arrive via HandleEvent.
func (k TriggerKind) IsPush() bool {
	switch k {
	case TriggerRecordCreated, TriggerRecordUpdated, TriggerRecordDeleted, TriggerWorkflowTransition:
		return true
	}
	return false
}

// Trigger describes when a rule fires.
//
// Config keys by kind:
//   - record_updated: "fields" (list of field names, fire only when one changed)
//   - scheduled: "schedule" (standard five-field cron expression)
//   - workflow_transition: "workflow_id", "to_state" (optional filters)
type Trigger struct {
	Kind       TriggerKind    `json:"kind"`
	EntityType string         `json:"entity_type,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
}

// ConfigString returns a string config value or "".
func (t Trigger) ConfigString(key string) string {
	s, _ := t.Config[key].(string)
	return s
}

// ConfigStrings returns a list-of-strings config value.
func (t Trigger) ConfigStrings(key string) []string {
	switch v := t.Config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// AutomationRule is a trigger-condition-actions definition.
type AutomationRule struct {
	ID          string       `json:"id"`
	TenantID    string       `json:"tenant_id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Trigger     Trigger      `json:"trigger"`
	Condition   Condition    `json:"condition,omitempty"`
	Actions     []ActionSpec `json:"actions"`
	Priority    int          `json:"priority"` // Lower runs first
	IsEnabled   bool         `json:"is_enabled"`
	IsTestMode  bool         `json:"is_test_mode"`
	Version     int          `json:"version"` // Incremented on every update
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// ExecutionStatus is the overall outcome of one rule firing.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionPartial ExecutionStatus = "partial"
	ExecutionFailure ExecutionStatus = "failure"
	ExecutionSkipped ExecutionStatus = "skipped"
)

// ActionStatus is the outcome of one action.
type ActionStatus string

const (
	ActionSuccess      ActionStatus = "success"
	ActionFailure      ActionStatus = "failure"
	ActionWouldExecute ActionStatus = "would_execute"
)

// ActionResult is the outcome of one dispatched action.
type ActionResult struct {
	Type     string         `json:"type"`
	Status   ActionStatus   `json:"status"`
	Detail   string         `json:"detail,omitempty"`
	Attempts int            `json:"attempts,omitempty"`
	Output   map[string]any `json:"output,omitempty"`
}

// Succeeded reports whether the action counts as a success for status
// aggregation. Previews count as successes.
func (r ActionResult) Succeeded() bool {
	return r.Status == ActionSuccess || r.Status == ActionWouldExecute
}

// OverallStatus aggregates action results: all succeeded is success, none
// succeeded is failure, anything else is partial. No actions is success.
func OverallStatus(results []ActionResult) ExecutionStatus {
	if len(results) == 0 {
		return ExecutionSuccess
	}
	ok := 0
	for _, r := range results {
		if r.Succeeded() {
			ok++
		}
	}
	switch ok {
	case len(results):
		return ExecutionSuccess
	case 0:
		return ExecutionFailure
	default:
		return ExecutionPartial
	}
}

// AutomationExecution is the append-only audit entry for one rule firing.
type AutomationExecution struct {
	ID              string          `json:"id"`
	RuleID          string          `json:"rule_id"`
	RuleVersion     int             `json:"rule_version"`
	RuleHash        string          `json:"rule_hash"`
	RuleSnapshot    *AutomationRule `json:"rule_snapshot,omitempty"`
	TenantID        string          `json:"tenant_id"`
	Seq             int64           `json:"seq"`
	TriggeredAt     time.Time       `json:"triggered_at"`
	TriggerKind     TriggerKind     `json:"trigger_kind"`
	TriggerContext  map[string]any  `json:"trigger_context,omitempty"`
	ConditionResult bool            `json:"condition_result"`
	ActionsExecuted []ActionResult  `json:"actions_executed"`
	Status          ExecutionStatus `json:"status"`
	IsTest          bool            `json:"is_test"`
	ErrorDetail     string          `json:"error_detail,omitempty"`
	FlowToken       string          `json:"flow_token,omitempty"`
}

// WebhookConfig binds an inbound webhook to a rule.
type WebhookConfig struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	RuleID    string    `json:"rule_id"`
	Name      string    `json:"name"`
	Secret    string    `json:"-"` // HMAC-SHA256 key; never serialized
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
