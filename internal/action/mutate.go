package action

import (
	"context"
	"fmt"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// TypeMutateRecord is the mutate-record action type.
const TypeMutateRecord = "mutate-record"

// MutateHandler creates, updates or deletes a record through the record
// store. The store pushes the resulting event back to the rule engine, so
// the flow token is carried on the mutation.
type MutateHandler struct {
	records ir.RecordStore
}

// NewMutateHandler creates the mutate-record handler.
func NewMutateHandler(records ir.RecordStore) *MutateHandler {
	return &MutateHandler{records: records}
}

func (h *MutateHandler) Type() string { return TypeMutateRecord }

func (h *MutateHandler) Template() Template {
	return Template{
		Type:        TypeMutateRecord,
		Name:        "Mutate record",
		Description: "Create, update or delete a record. Defaults to the triggering record.",
		Schema: `{
			"type": "object",
			"required": ["operation"],
			"properties": {
				"operation":   {"type": "string", "enum": ["create", "update", "delete"]},
				"entity_type": {"type": "string"},
				"record_id":   {"type": "string"},
				"fields":      {"type": "object"}
			},
			"additionalProperties": false
		}`,
		Example: map[string]any{
			"operation": "update",
			"fields":    map[string]any{"status": "flagged", "flagged_by": "${rule.id}"},
		},
	}
}

func (h *MutateHandler) Validate(params map[string]any) error {
	op := ir.MutationOp(stringParam(params, "operation"))
	_, hasFields := params["fields"]
	switch op {
	case ir.MutationCreate:
		if stringParam(params, "entity_type") == "" {
			return fmt.Errorf("create requires entity_type")
		}
		if !hasFields {
			return fmt.Errorf("create requires fields")
		}
	case ir.MutationUpdate:
		if !hasFields {
			return fmt.Errorf("update requires fields")
		}
	}
	return nil
}

func (h *MutateHandler) Execute(ctx context.Context, ec *ExecContext, params map[string]any) ir.ActionResult {
	m := ir.Mutation{
		Op:         ir.MutationOp(stringParam(params, "operation")),
		TenantID:   ec.TenantID,
		EntityType: stringParam(params, "entity_type"),
		RecordID:   stringParam(params, "record_id"),
		Actor:      ec.Actor.UserID,
		FlowToken:  ec.FlowToken,
	}
	if fields, ok := params["fields"].(map[string]any); ok {
		m.Fields = ir.Record(fields)
	}
	if m.EntityType == "" {
		m.EntityType = ec.EntityType
	}
	if m.RecordID == "" && m.Op != ir.MutationCreate {
		if m.EntityType != ec.EntityType {
			return Failed(TypeMutateRecord, 1, fmt.Errorf("%s of %s requires record_id", m.Op, m.EntityType))
		}
		m.RecordID = ec.RecordID
	}
	if m.RecordID == "" && m.Op != ir.MutationCreate {
		return Failed(TypeMutateRecord, 1, fmt.Errorf("no record to %s", m.Op))
	}
	if h.records == nil {
		return Failed(TypeMutateRecord, 1, fmt.Errorf("no record store configured"))
	}

	rec, err := h.records.ApplyMutation(ctx, m)
	if err != nil {
		return Failed(TypeMutateRecord, 1, err)
	}
	recordID := m.RecordID
	if id, ok := rec["id"].(string); ok && id != "" {
		recordID = id
	}
	return ir.ActionResult{
		Type:     TypeMutateRecord,
		Status:   ir.ActionSuccess,
		Attempts: 1,
		Output: map[string]any{
			"operation":   string(m.Op),
			"entity_type": m.EntityType,
			"record_id":   recordID,
		},
	}
}
