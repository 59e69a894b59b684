package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Load error codes (E001-E009)
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
)

// LoadResult contains the workflows and rules found in a directory.
type LoadResult struct {
	Workflows []ir.WorkflowDefinition
	Rules     []ir.AutomationRule
	FileCount int
}

// LoadError represents an error that occurred during loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadDir loads, compiles and validates every workflow and rule in the CUE
// package at dir. Workflows are checked with ValidateDefinition and
// ValidateGraph, rules with ValidateRule.
func LoadDir(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("specs directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing specs directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result, errs := Extract(value, mode)
	if result != nil {
		result.FileCount = len(cueFiles)
	}
	return result, errs
}

// Extract compiles the top-level workflow and rule structs of a built value.
func Extract(value cue.Value, mode LoadMode) (*LoadResult, []error) {
	result := &LoadResult{}
	var errs []error

	stop := func(err error) bool {
		errs = append(errs, err)
		return mode == LoadModeFailFast
	}

	if wfVal := value.LookupPath(cue.ParsePath("workflow")); wfVal.Exists() {
		iter, err := wfVal.Fields()
		if err != nil {
			if stop(&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating workflows: %v", err)}) {
				return result, errs
			}
		} else {
			for iter.Next() {
				def, err := CompileWorkflow(iter.Value())
				if err == nil {
					err = checkDefinition(def)
				}
				if err != nil {
					if stop(convertError(err, "workflow."+iter.Label())) {
						return result, errs
					}
					continue
				}
				result.Workflows = append(result.Workflows, *def)
			}
		}
	}

	if ruleVal := value.LookupPath(cue.ParsePath("rule")); ruleVal.Exists() {
		iter, err := ruleVal.Fields()
		if err != nil {
			if stop(&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating rules: %v", err)}) {
				return result, errs
			}
		} else {
			for iter.Next() {
				rule, err := CompileRule(iter.Value())
				if err == nil {
					err = ValidateRule(rule).Err()
				}
				if err != nil {
					if stop(convertError(err, "rule."+iter.Label())) {
						return result, errs
					}
					continue
				}
				result.Rules = append(result.Rules, *rule)
			}
		}
	}

	if len(result.Workflows) == 0 && len(result.Rules) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no workflows or rules found in specs"})
	}
	return result, errs
}

func checkDefinition(def *ir.WorkflowDefinition) error {
	if errs := ValidateDefinition(def); len(errs) > 0 {
		return errs
	}
	return ValidateGraph(def)
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertError converts a compile or validation error to a LoadError.
func convertError(err error, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeGeneric,
			Message: fmt.Sprintf("%s: %s: %s", context, compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	if verrs, ok := ir.AsValidationErrors(err); ok && len(verrs) > 0 {
		return &LoadError{
			Code:    verrs[0].Code,
			Message: fmt.Sprintf("%s: %v", context, err),
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}
