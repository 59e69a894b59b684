package compiler

import (
	"fmt"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// ActionValidator checks an action spec against the registered handlers.
// *action.Registry implements it.
type ActionValidator interface {
	Validate(spec ir.ActionSpec) error
}

// ValidateDefinitionActions checks every on-entry and on-exit action of a
// definition. Specs without a type are left to ValidateDefinition.
func ValidateDefinitionActions(def *ir.WorkflowDefinition, v ActionValidator) ir.ValidationErrors {
	var errs ir.ValidationErrors
	for i, s := range def.States {
		errs = append(errs, validateActions(v, s.OnEntry, fmt.Sprintf("states[%d].on_entry", i))...)
		errs = append(errs, validateActions(v, s.OnExit, fmt.Sprintf("states[%d].on_exit", i))...)
	}
	return errs
}

// ValidateRuleActions checks the actions of a rule.
func ValidateRuleActions(rule *ir.AutomationRule, v ActionValidator) ir.ValidationErrors {
	return validateActions(v, rule.Actions, "actions")
}

func validateActions(v ActionValidator, specs []ir.ActionSpec, field string) ir.ValidationErrors {
	var errs ir.ValidationErrors
	for i, spec := range specs {
		if spec.Type == "" {
			continue
		}
		if err := v.Validate(spec); err != nil {
			errs = append(errs, ir.ValidationError{
				Field:   fmt.Sprintf("%s[%d]", field, i),
				Message: err.Error(),
				Code:    ErrInvalidActionParams,
			})
		}
	}
	return errs
}
