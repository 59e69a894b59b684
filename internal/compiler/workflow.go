package compiler

import (
	"fmt"
	"time"

	"cuelang.org/go/cue"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// CompileWorkflow parses a CUE value into a draft WorkflowDefinition.
// The struct label becomes the definition key; the store assigns the id.
//
// The CUE value should be the workflow struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`workflow: invoice: { ... }`)
//	def, err := CompileWorkflow(v.LookupPath(cue.ParsePath("workflow.invoice")))
//
// Shape:
//
//	workflow: invoice: {
//		name:        "Invoice"
//		entity_type: "invoice"
//		cancel_permission: "invoices:cancel"
//		states: {
//			draft: {initial: true}
//			sent:  {sla: "72h", on_entry: [{type: "send-notification", params: {...}}]}
//			paid:  {terminal: true}
//		}
//		transitions: [
//			{name: "send", from: "draft", to: "sent", permission: "invoices:send"},
//		]
//	}
func CompileWorkflow(v cue.Value) (*ir.WorkflowDefinition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &ir.WorkflowDefinition{
		Key:     labelOf(v),
		Version: 1,
		Status:  ir.DefinitionDraft,
	}

	var err error
	if def.Name, err = optionalString(v, "name", "name"); err != nil {
		return nil, err
	}
	if def.Name == "" {
		def.Name = def.Key
	}
	if def.Description, err = optionalString(v, "description", "description"); err != nil {
		return nil, err
	}
	if def.TenantID, err = optionalString(v, "tenant", "tenant"); err != nil {
		return nil, err
	}
	if def.EntityType, err = optionalString(v, "entity_type", "entity_type"); err != nil {
		return nil, err
	}
	if def.CancelPermission, err = optionalString(v, "cancel_permission", "cancel_permission"); err != nil {
		return nil, err
	}

	def.States, err = parseStates(v)
	if err != nil {
		return nil, err
	}
	for _, s := range def.States {
		if s.IsInitial {
			def.InitialStateID = s.ID
			break
		}
	}

	def.Transitions, err = parseTransitions(v)
	if err != nil {
		return nil, err
	}

	return def, nil
}

// parseStates extracts states in declaration order.
func parseStates(v cue.Value) ([]ir.WorkflowState, error) {
	statesVal := v.LookupPath(cue.ParsePath("states"))
	if !statesVal.Exists() {
		return nil, &CompileError{
			Field:   "states",
			Message: "states are required",
			Pos:     v.Pos(),
		}
	}

	iter, err := statesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var states []ir.WorkflowState
	for iter.Next() {
		id := iter.Label()
		sv := iter.Value()
		field := "states." + id

		state := ir.WorkflowState{ID: id}
		if state.Name, err = optionalString(sv, "name", field+".name"); err != nil {
			return nil, err
		}
		if state.Name == "" {
			state.Name = id
		}
		if state.IsInitial, err = optionalBool(sv, "initial", field+".initial", false); err != nil {
			return nil, err
		}
		if state.IsTerminal, err = optionalBool(sv, "terminal", field+".terminal", false); err != nil {
			return nil, err
		}
		if state.OnEntry, err = parseActionSpecs(sv, "on_entry", field+".on_entry"); err != nil {
			return nil, err
		}
		if state.OnExit, err = parseActionSpecs(sv, "on_exit", field+".on_exit"); err != nil {
			return nil, err
		}

		sla, err := optionalString(sv, "sla", field+".sla")
		if err != nil {
			return nil, err
		}
		if sla != "" {
			d, err := time.ParseDuration(sla)
			if err != nil || d < 0 {
				return nil, &CompileError{
					Field:   field + ".sla",
					Message: fmt.Sprintf("invalid duration %q", sla),
					Pos:     sv.LookupPath(cue.ParsePath("sla")).Pos(),
				}
			}
			state.SLASeconds = int64(d / time.Second)
		}

		states = append(states, state)
	}
	return states, nil
}

// parseTransitions extracts transitions in list order. A transition without
// an id takes its name as id.
func parseTransitions(v cue.Value) ([]ir.WorkflowTransition, error) {
	listVal := v.LookupPath(cue.ParsePath("transitions"))
	if !listVal.Exists() {
		return nil, nil
	}
	iter, err := listVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var transitions []ir.WorkflowTransition
	for i := 0; iter.Next(); i++ {
		tv := iter.Value()
		field := fmt.Sprintf("transitions[%d]", i)

		var t ir.WorkflowTransition
		if t.Name, err = optionalString(tv, "name", field+".name"); err != nil {
			return nil, err
		}
		if t.ID, err = optionalString(tv, "id", field+".id"); err != nil {
			return nil, err
		}
		if t.ID == "" {
			t.ID = t.Name
		}
		if t.FromStateID, err = optionalString(tv, "from", field+".from"); err != nil {
			return nil, err
		}
		if t.ToStateID, err = optionalString(tv, "to", field+".to"); err != nil {
			return nil, err
		}
		if t.RequiredPermission, err = optionalString(tv, "permission", field+".permission"); err != nil {
			return nil, err
		}
		if t.RequiredRoles, err = optionalStrings(tv, "roles", field+".roles"); err != nil {
			return nil, err
		}
		guard, err := optionalJSON(tv, "guard", field+".guard")
		if err != nil {
			return nil, err
		}
		t.Guard = ir.Condition(guard)

		transitions = append(transitions, t)
	}
	return transitions, nil
}

// parseActionSpecs extracts an ordered list of {type, params} entries.
func parseActionSpecs(v cue.Value, path, field string) ([]ir.ActionSpec, error) {
	listVal := v.LookupPath(cue.ParsePath(path))
	if !listVal.Exists() {
		return nil, nil
	}
	iter, err := listVal.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "must be a list of actions", Pos: listVal.Pos()}
	}

	var specs []ir.ActionSpec
	for i := 0; iter.Next(); i++ {
		av := iter.Value()
		at := fmt.Sprintf("%s[%d]", field, i)

		typ, err := optionalString(av, "type", at+".type")
		if err != nil {
			return nil, err
		}
		if typ == "" {
			return nil, &CompileError{Field: at + ".type", Message: "action type is required", Pos: av.Pos()}
		}
		params, err := optionalMap(av, "params", at+".params")
		if err != nil {
			return nil, err
		}
		specs = append(specs, ir.ActionSpec{Type: typ, Params: params})
	}
	return specs, nil
}
