package ir

import (
	"bytes"
	"encoding/json"
	"time"
)

// DefinitionStatus is the lifecycle status of a workflow definition.
type DefinitionStatus string

const (
	DefinitionDraft     DefinitionStatus = "draft"
	DefinitionPublished DefinitionStatus = "published"
	DefinitionArchived  DefinitionStatus = "archived"
)

// InstanceStatus is the lifecycle status of a workflow instance.
type InstanceStatus string

const (
	InstanceActive    InstanceStatus = "active"
	InstanceCompleted InstanceStatus = "completed"
	InstanceCancelled InstanceStatus = "cancelled"
)

// HistoryEvent distinguishes the kinds of history entries.
type HistoryEvent string

const (
	HistoryStarted      HistoryEvent = "started"
	HistoryTransitioned HistoryEvent = "transitioned"
	HistoryCancelled    HistoryEvent = "cancelled"
)

// Condition is a stored boolean expression tree (see package expr).
// An empty condition always holds.
type Condition json.RawMessage

// IsZero reports whether the condition is absent.
func (c Condition) IsZero() bool {
	trimmed := bytes.TrimSpace(c)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// MarshalJSON implements json.Marshaler.
func (c Condition) MarshalJSON() ([]byte, error) {
	if c.IsZero() {
		return []byte("null"), nil
	}
	return json.RawMessage(c).MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Condition) UnmarshalJSON(data []byte) error {
	*c = append((*c)[:0], data...)
	return nil
}

// ActionSpec is a single side-effecting step: an action type plus its
// parameters, resolved against the action registry at execution time.
type ActionSpec struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// WorkflowDefinition is a named state machine governing one entity type.
//
// A definition is immutable once published; changes go through a new draft
// version sharing the same Key.
type WorkflowDefinition struct {
	ID               string               `json:"id"`  // Unique per version
	Key              string               `json:"key"` // Stable across versions
	TenantID         string               `json:"tenant_id"`
	EntityType       string               `json:"entity_type"`
	Name             string               `json:"name"`
	Description      string               `json:"description,omitempty"`
	Version          int                  `json:"version"`
	Status           DefinitionStatus     `json:"status"`
	InitialStateID   string               `json:"initial_state_id"`
	CancelPermission string               `json:"cancel_permission,omitempty"`
	States           []WorkflowState      `json:"states"`
	Transitions      []WorkflowTransition `json:"transitions"` // Definition order
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
	PublishedAt      *time.Time           `json:"published_at,omitempty"`
}

// State returns the state with the given id.
func (d *WorkflowDefinition) State(id string) (WorkflowState, bool) {
	for _, s := range d.States {
		if s.ID == id {
			return s, true
		}
	}
	return WorkflowState{}, false
}

// Transition returns the transition with the given id.
func (d *WorkflowDefinition) Transition(id string) (WorkflowTransition, bool) {
	for _, t := range d.Transitions {
		if t.ID == id {
			return t, true
		}
	}
	return WorkflowTransition{}, false
}

// TransitionByName returns the first transition with the given name leaving
// fromStateID. Names are only unique per source state.
func (d *WorkflowDefinition) TransitionByName(fromStateID, name string) (WorkflowTransition, bool) {
	for _, t := range d.Transitions {
		if t.FromStateID == fromStateID && t.Name == name {
			return t, true
		}
	}
	return WorkflowTransition{}, false
}

// Outgoing returns the transitions leaving a state in definition order.
func (d *WorkflowDefinition) Outgoing(stateID string) []WorkflowTransition {
	var out []WorkflowTransition
	for _, t := range d.Transitions {
		if t.FromStateID == stateID {
			out = append(out, t)
		}
	}
	return out
}

// WorkflowState is a node in a workflow.
type WorkflowState struct {
	ID         string       `json:"id"`
	WorkflowID string       `json:"workflow_id"`
	Name       string       `json:"name"`
	IsInitial  bool         `json:"is_initial"`
	IsTerminal bool         `json:"is_terminal"`
	OnEntry    []ActionSpec `json:"on_entry,omitempty"`
	OnExit     []ActionSpec `json:"on_exit,omitempty"`
	SLASeconds int64        `json:"sla_seconds,omitempty"` // 0 = no SLA
}

// SLA returns the maximum expected dwell time in the state.
func (s WorkflowState) SLA() time.Duration {
	return time.Duration(s.SLASeconds) * time.Second
}

// WorkflowTransition is a directed, optionally guarded edge between states.
type WorkflowTransition struct {
	ID                 string    `json:"id"`
	WorkflowID         string    `json:"workflow_id"`
	FromStateID        string    `json:"from_state_id"`
	ToStateID          string    `json:"to_state_id"`
	Name               string    `json:"name"`
	Guard              Condition `json:"guard,omitempty"`
	RequiredPermission string    `json:"required_permission,omitempty"`
	RequiredRoles      []string  `json:"required_roles,omitempty"`
}

// Requirement returns the authorization requirement of the transition.
func (t WorkflowTransition) Requirement() Requirement {
	return Requirement{Permission: t.RequiredPermission, Roles: t.RequiredRoles}
}

// WorkflowInstance is a live execution of a workflow bound to one record.
type WorkflowInstance struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflow_id"`
	TenantID       string         `json:"tenant_id"`
	EntityType     string         `json:"entity_type"`
	RecordID       string         `json:"record_id"`
	CurrentStateID string         `json:"current_state_id"`
	Status         InstanceStatus `json:"status"`
	Version        int64          `json:"version"` // Compare-and-swap counter
	StartedAt      time.Time      `json:"started_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	StateEnteredAt time.Time      `json:"state_entered_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// IsClosed reports whether no further operations are permitted.
func (i *WorkflowInstance) IsClosed() bool {
	return i.Status != InstanceActive
}

// ActionNote is a note on a history entry describing an on-entry/on-exit
// action that failed. The transition itself is never rolled back.
type ActionNote struct {
	Phase  string `json:"phase"` // "on_exit" or "on_entry"
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// WorkflowHistoryEntry is an append-only record of an instance event.
type WorkflowHistoryEntry struct {
	ID           string       `json:"id"`
	InstanceID   string       `json:"instance_id"`
	Seq          int64        `json:"seq"` // Logical clock
	Event        HistoryEvent `json:"event"`
	FromStateID  string       `json:"from_state_id,omitempty"`
	ToStateID    string       `json:"to_state_id"`
	TransitionID string       `json:"transition_id,omitempty"` // Empty for start/cancel
	Actor        string       `json:"actor"`
	Timestamp    time.Time    `json:"timestamp"`
	Failures     []ActionNote `json:"failures,omitempty"`
}
