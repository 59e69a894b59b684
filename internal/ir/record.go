package ir

import (
	"context"
	"errors"
	"slices"
	"time"
)

// Record is a JSON-shaped snapshot of an entity record.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Actor identifies who requested an operation.
//
// Roles and Permissions are claims carried with the request. Whether they are
// sufficient is decided by a PermissionResolver, never by the engines.
type Actor struct {
	TenantID    string   `json:"tenant_id"`
	UserID      string   `json:"user_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// SystemActor is the actor recorded for automation-driven operations.
func SystemActor(tenantID string) Actor {
	return Actor{TenantID: tenantID, UserID: "system:automation"}
}

// HasRole reports whether the actor carries the role claim.
func (a Actor) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

// Requirement is what an actor must hold to perform an operation.
// A permission and roles may both be set; roles are satisfied by any one.
type Requirement struct {
	Permission string   `json:"permission,omitempty"`
	Roles      []string `json:"roles,omitempty"`
}

// IsZero reports whether nothing is required.
func (r Requirement) IsZero() bool {
	return r.Permission == "" && len(r.Roles) == 0
}

// PermissionResolver decides whether an actor satisfies a requirement.
// Implementations must be synchronous and side-effect free.
type PermissionResolver interface {
	HasPermission(ctx context.Context, actor Actor, req Requirement) bool
}

// MutationOp is the kind of change applied to a record.
type MutationOp string

const (
	MutationCreate MutationOp = "create"
	MutationUpdate MutationOp = "update"
	MutationDelete MutationOp = "delete"
)

// Mutation is a change request sent to the record store.
type Mutation struct {
	Op         MutationOp `json:"op"`
	TenantID   string     `json:"tenant_id"`
	EntityType string     `json:"entity_type"`
	RecordID   string     `json:"record_id,omitempty"` // Empty on create lets the store assign one
	Fields     Record     `json:"fields,omitempty"`
	Actor      string     `json:"actor"`
	FlowToken  string     `json:"flow_token,omitempty"` // Propagated to the post-commit event
}

// ErrRecordNotFound is returned, possibly wrapped, by a RecordStore for a
// record it does not hold.
var ErrRecordNotFound = errors.New("record not found")

// RecordStore is the external record storage collaborator.
//
// After a successful commit the store pushes an Event to the automation
// engine synchronously; the engines never poll.
type RecordStore interface {
	GetRecord(ctx context.Context, entityType, id string) (Record, error)
	ApplyMutation(ctx context.Context, m Mutation) (Record, error)
}

// Event is a trigger event delivered to the automation engine.
type Event struct {
	Kind       TriggerKind    `json:"kind"`
	TenantID   string         `json:"tenant_id"`
	EntityType string         `json:"entity_type"`
	RecordID   string         `json:"record_id,omitempty"`
	Record     Record         `json:"record,omitempty"`   // Post-change snapshot; pre-delete snapshot for deletes
	Previous   Record         `json:"previous,omitempty"` // Pre-change snapshot for updates
	Actor      string         `json:"actor,omitempty"`
	Context    map[string]any `json:"context,omitempty"` // Kind-specific details (workflow_transition)
	FlowToken  string         `json:"flow_token,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// ChangedFields returns the top-level fields whose value differs between
// Previous and Record, sorted.
func (e Event) ChangedFields() []string {
	seen := make(map[string]bool)
	var out []string
	check := func(k string) {
		if seen[k] {
			return
		}
		seen[k] = true
		before, hadBefore := e.Previous[k]
		after, hasAfter := e.Record[k]
		if hadBefore != hasAfter || !ValuesEqual(before, after) {
			out = append(out, k)
		}
	}
	for k := range e.Record {
		check(k)
	}
	for k := range e.Previous {
		check(k)
	}
	slices.Sort(out)
	return out
}

// ValuesEqual compares two JSON-shaped values by canonical form.
// Values that cannot be canonicalized are never equal.
func ValuesEqual(a, b any) bool {
	ca, err := MarshalCanonical(a)
	if err != nil {
		return false
	}
	cb, err := MarshalCanonical(b)
	if err != nil {
		return false
	}
	return string(ca) == string(cb)
}
