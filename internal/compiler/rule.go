package compiler

import (
	"cuelang.org/go/cue"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// CompileRule parses a CUE value into an AutomationRule. The struct label
// becomes the rule id.
//
//	rule: "notify-large-invoice": {
//		name:      "Notify finance"
//		trigger:   {kind: "record_created", entity_type: "invoice"}
//		condition: {field: "amount", op: "gt", value: 1000}
//		actions: [{type: "send-notification", params: {to: "finance", message: "..."}}]
//		priority:  1
//	}
//
// enabled defaults to true and test_mode to false.
func CompileRule(v cue.Value) (*ir.AutomationRule, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rule := &ir.AutomationRule{
		ID:      labelOf(v),
		Version: 1,
	}

	var err error
	if rule.Name, err = optionalString(v, "name", "name"); err != nil {
		return nil, err
	}
	if rule.Name == "" {
		rule.Name = rule.ID
	}
	if rule.Description, err = optionalString(v, "description", "description"); err != nil {
		return nil, err
	}
	if rule.TenantID, err = optionalString(v, "tenant", "tenant"); err != nil {
		return nil, err
	}

	triggerVal := v.LookupPath(cue.ParsePath("trigger"))
	if !triggerVal.Exists() {
		return nil, &CompileError{
			Field:   "trigger",
			Message: "trigger is required",
			Pos:     v.Pos(),
		}
	}
	kind, err := optionalString(triggerVal, "kind", "trigger.kind")
	if err != nil {
		return nil, err
	}
	rule.Trigger.Kind = ir.TriggerKind(kind)
	if rule.Trigger.EntityType, err = optionalString(triggerVal, "entity_type", "trigger.entity_type"); err != nil {
		return nil, err
	}
	if rule.Trigger.Config, err = optionalMap(triggerVal, "config", "trigger.config"); err != nil {
		return nil, err
	}

	condition, err := optionalJSON(v, "condition", "condition")
	if err != nil {
		return nil, err
	}
	rule.Condition = ir.Condition(condition)

	if rule.Actions, err = parseActionSpecs(v, "actions", "actions"); err != nil {
		return nil, err
	}
	if rule.Priority, err = optionalInt(v, "priority", "priority"); err != nil {
		return nil, err
	}
	if rule.IsEnabled, err = optionalBool(v, "enabled", "enabled", true); err != nil {
		return nil, err
	}
	if rule.IsTestMode, err = optionalBool(v, "test_mode", "test_mode", false); err != nil {
		return nil, err
	}

	return rule, nil
}
