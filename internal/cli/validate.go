package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tbmahfudi/app-buildify-sub002/internal/action"
	"github.com/tbmahfudi/app-buildify-sub002/internal/compiler"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// ValidationResult is the payload of the validate command.
type ValidationResult struct {
	Valid     bool                    `json:"valid"`
	Workflows int                     `json:"workflows"`
	Rules     int                     `json:"rules"`
	Errors    []ValidationIssue       `json:"errors,omitempty"`
	Warnings  []compiler.CycleWarning `json:"warnings,omitempty"`
}

// ValidationIssue is one problem found in the specs.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <specs-dir>",
		Short: "Validate CUE workflow and rule specs",
		Long: `Compile every CUE file in a directory and check workflows and rules:
structure, state graph, guard and condition expressions, action
parameters and rule cascade cycles. Cycles are reported as warnings.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, opts, args[0])
		},
	}
	return cmd
}

func runValidate(cmd *cobra.Command, opts *ValidateOptions, dir string) error {
	out := opts.formatter(cmd)
	out.VerboseLog("Validating specs in %s", dir)

	res, errs := compiler.LoadDir(dir, compiler.LoadModeCollectAll)
	if res == nil {
		msg := "failed to load specs"
		if len(errs) > 0 {
			msg = errs[0].Error()
		}
		if werr := out.Error("E_LOAD", msg, nil); werr != nil {
			return werr
		}
		return &ExitError{Code: ExitCommandError, Message: msg, Reported: true}
	}

	result := ValidationResult{
		Workflows: len(res.Workflows),
		Rules:     len(res.Rules),
		Warnings:  compiler.AnalyzeRuleCycles(res.Rules),
	}
	for _, err := range errs {
		result.Errors = append(result.Errors, issueFor(err))
	}

	actions := action.NewBuiltinRegistry(action.Deps{})
	for i := range res.Workflows {
		def := &res.Workflows[i]
		for _, ve := range compiler.ValidateDefinitionActions(def, actions) {
			result.Errors = append(result.Errors, ValidationIssue{
				Code:    ve.Code,
				Message: fmt.Sprintf("workflow %s: %s: %s", def.Key, ve.Field, ve.Message),
			})
		}
	}
	for i := range res.Rules {
		rule := &res.Rules[i]
		for _, ve := range compiler.ValidateRuleActions(rule, actions) {
			result.Errors = append(result.Errors, ValidationIssue{
				Code:    ve.Code,
				Message: fmt.Sprintf("rule %s: %s: %s", rule.ID, ve.Field, ve.Message),
			})
		}
	}
	result.Valid = len(result.Errors) == 0

	if result.Valid {
		if err := out.Emit(result, func(w io.Writer) { printValid(w, result) }); err != nil {
			return err
		}
		return nil
	}

	if opts.Format == "json" {
		if err := out.Error("E_VALIDATION", "validation failed", result); err != nil {
			return err
		}
	} else {
		printInvalid(out.Writer, result)
	}
	return &ExitError{Code: ExitFailure, Message: "validation failed", Reported: true}
}

func issueFor(err error) ValidationIssue {
	var le *compiler.LoadError
	if errors.As(err, &le) {
		issue := ValidationIssue{Code: le.Code, Message: le.Message}
		if le.Pos.IsValid() {
			issue.File = le.Pos.Filename()
			issue.Line = le.Pos.Line()
		}
		return issue
	}
	var ves ir.ValidationErrors
	if errors.As(err, &ves) && len(ves) > 0 {
		return ValidationIssue{Code: ves[0].Code, Message: err.Error(), Line: ves[0].Line}
	}
	return ValidationIssue{Code: "E_VALIDATION", Message: err.Error()}
}

func printValid(w io.Writer, r ValidationResult) {
	fmt.Fprintf(w, "✓ All specs valid (%d workflows, %d rules)\n", r.Workflows, r.Rules)
	printWarnings(w, r.Warnings)
}

func printInvalid(w io.Writer, r ValidationResult) {
	fmt.Fprintln(w, "✗ Validation failed")
	for _, issue := range r.Errors {
		switch {
		case issue.File != "":
			fmt.Fprintf(w, "  %s:%d: [%s] %s\n", issue.File, issue.Line, issue.Code, issue.Message)
		default:
			fmt.Fprintf(w, "  [%s] %s\n", issue.Code, issue.Message)
		}
	}
	printWarnings(w, r.Warnings)
}

func printWarnings(w io.Writer, warnings []compiler.CycleWarning) {
	for _, cw := range warnings {
		fmt.Fprintf(w, "  warning: %s\n", cw.Message)
	}
}
