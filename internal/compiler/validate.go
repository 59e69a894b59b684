package compiler

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/tbmahfudi/app-buildify-sub002/internal/expr"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// WorkflowDefinition errors (E101-E109)
	ErrDefinitionNameEmpty   = "E101" // name is required
	ErrDefinitionEntityEmpty = "E102" // entity_type is required
	ErrDuplicateState        = "E103" // empty or duplicate state id
	ErrDuplicateTransition   = "E104" // empty or duplicate transition id
	ErrInvalidGuard          = "E105" // guard does not compile
	ErrInvalidSLA            = "E106" // negative SLA
	ErrTransitionNameEmpty   = "E107" // transition name is required
	ErrActionTypeEmpty       = "E108" // action spec without a type
	ErrInvalidActionParams   = "E109" // action rejected by the action registry

	// AutomationRule errors (E110-E119)
	ErrRuleNameEmpty      = "E110" // name is required
	ErrInvalidTriggerKind = "E111" // unknown trigger kind
	ErrTriggerEntityEmpty = "E112" // record triggers need an entity type
	ErrInvalidSchedule    = "E113" // scheduled trigger without a valid cron expression
	ErrInvalidCondition   = "E114" // condition does not compile
	ErrInvalidTriggerConf = "E115" // trigger config has the wrong shape
	ErrWebhookTrigger     = "E116" // webhook bound to a rule without a webhook trigger
)

// ValidateDefinition checks field-level rules of a workflow definition.
// Structural (graph) rules are checked by ValidateGraph.
// Returns all errors found (does not fail-fast).
func ValidateDefinition(def *ir.WorkflowDefinition) ir.ValidationErrors {
	var errs ir.ValidationErrors

	if strings.TrimSpace(def.Name) == "" {
		errs = append(errs, ir.ValidationError{
			Field:   "name",
			Message: "name is required and must be non-empty",
			Code:    ErrDefinitionNameEmpty,
		})
	}
	if strings.TrimSpace(def.EntityType) == "" {
		errs = append(errs, ir.ValidationError{
			Field:   "entity_type",
			Message: "entity_type is required",
			Code:    ErrDefinitionEntityEmpty,
		})
	}

	stateIDs := make(map[string]bool)
	for i, s := range def.States {
		field := fmt.Sprintf("states[%d]", i)
		if strings.TrimSpace(s.ID) == "" {
			errs = append(errs, ir.ValidationError{Field: field + ".id", Message: "state id is required", Code: ErrDuplicateState})
		} else if stateIDs[s.ID] {
			errs = append(errs, ir.ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate state id: %q", s.ID),
				Code:    ErrDuplicateState,
			})
		}
		stateIDs[s.ID] = true

		if s.SLASeconds < 0 {
			errs = append(errs, ir.ValidationError{Field: field + ".sla", Message: "SLA must not be negative", Code: ErrInvalidSLA})
		}
		errs = append(errs, validateActionSpecs(s.OnEntry, field+".on_entry")...)
		errs = append(errs, validateActionSpecs(s.OnExit, field+".on_exit")...)
	}

	transitionIDs := make(map[string]bool)
	for i, t := range def.Transitions {
		field := fmt.Sprintf("transitions[%d]", i)
		if strings.TrimSpace(t.ID) == "" {
			errs = append(errs, ir.ValidationError{Field: field + ".id", Message: "transition id is required", Code: ErrDuplicateTransition})
		} else if transitionIDs[t.ID] {
			errs = append(errs, ir.ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate transition id: %q", t.ID),
				Code:    ErrDuplicateTransition,
			})
		}
		transitionIDs[t.ID] = true

		if strings.TrimSpace(t.Name) == "" {
			errs = append(errs, ir.ValidationError{Field: field + ".name", Message: "transition name is required", Code: ErrTransitionNameEmpty})
		}
		if err := expr.Validate(t.Guard); err != nil {
			errs = append(errs, ir.ValidationError{
				Field:   field + ".guard",
				Message: err.Error(),
				Code:    ErrInvalidGuard,
			})
		}
	}

	return errs
}

// ValidateRule checks an automation rule.
// Returns all errors found (does not fail-fast).
func ValidateRule(rule *ir.AutomationRule) ir.ValidationErrors {
	var errs ir.ValidationErrors

	if strings.TrimSpace(rule.Name) == "" {
		errs = append(errs, ir.ValidationError{
			Field:   "name",
			Message: "name is required and must be non-empty",
			Code:    ErrRuleNameEmpty,
		})
	}

	kind := rule.Trigger.Kind
	if !kind.Valid() {
		errs = append(errs, ir.ValidationError{
			Field:   "trigger.kind",
			Message: fmt.Sprintf("invalid trigger kind %q", kind),
			Code:    ErrInvalidTriggerKind,
		})
	}

	switch kind {
	case ir.TriggerRecordCreated, ir.TriggerRecordUpdated, ir.TriggerRecordDeleted:
		if strings.TrimSpace(rule.Trigger.EntityType) == "" {
			errs = append(errs, ir.ValidationError{
				Field:   "trigger.entity_type",
				Message: fmt.Sprintf("%s trigger requires an entity type", kind),
				Code:    ErrTriggerEntityEmpty,
			})
		}
	case ir.TriggerScheduled:
		schedule := rule.Trigger.ConfigString("schedule")
		if _, err := cron.ParseStandard(schedule); schedule == "" || err != nil {
			msg := "scheduled trigger requires config.schedule"
			if err != nil && schedule != "" {
				msg = fmt.Sprintf("invalid schedule %q: %v", schedule, err)
			}
			errs = append(errs, ir.ValidationError{
				Field:   "trigger.config.schedule",
				Message: msg,
				Code:    ErrInvalidSchedule,
			})
		}
	}

	if raw, ok := rule.Trigger.Config["fields"]; ok {
		if _, isList := raw.([]any); !isList {
			if _, isStrings := raw.([]string); !isStrings {
				errs = append(errs, ir.ValidationError{
					Field:   "trigger.config.fields",
					Message: "fields must be a list of field names",
					Code:    ErrInvalidTriggerConf,
				})
			}
		}
	}

	if err := expr.Validate(rule.Condition); err != nil {
		errs = append(errs, ir.ValidationError{
			Field:   "condition",
			Message: err.Error(),
			Code:    ErrInvalidCondition,
		})
	}

	errs = append(errs, validateActionSpecs(rule.Actions, "actions")...)
	return errs
}

func validateActionSpecs(specs []ir.ActionSpec, field string) ir.ValidationErrors {
	var errs ir.ValidationErrors
	for i, spec := range specs {
		if strings.TrimSpace(spec.Type) == "" {
			errs = append(errs, ir.ValidationError{
				Field:   fmt.Sprintf("%s[%d].type", field, i),
				Message: "action type is required",
				Code:    ErrActionTypeEmpty,
			})
		}
	}
	return errs
}
