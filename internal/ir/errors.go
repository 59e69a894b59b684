package ir

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError is a malformed definition, rule or expression, rejected
// before anything is persisted.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors collects every violation found in one pass.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (es ValidationErrors) Error() string {
	switch len(es) {
	case 0:
		return "validation failed"
	case 1:
		return es[0].Error()
	}
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(es), strings.Join(msgs, "; "))
}

// Err returns nil for an empty list.
func (es ValidationErrors) Err() error {
	if len(es) == 0 {
		return nil
	}
	return es
}

// Codes returns the error codes in order.
func (es ValidationErrors) Codes() []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Code
	}
	return out
}

// AsValidationErrors extracts validation errors from err, whether it wraps a
// single ValidationError or a ValidationErrors list.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var list ValidationErrors
	if errors.As(err, &list) {
		return list, true
	}
	var single ValidationError
	if errors.As(err, &single) {
		return ValidationErrors{single}, true
	}
	var ptr *ValidationError
	if errors.As(err, &ptr) && ptr != nil {
		return ValidationErrors{*ptr}, true
	}
	return nil, false
}

// IsValidationError reports whether err carries a validation failure.
func IsValidationError(err error) bool {
	_, ok := AsValidationErrors(err)
	return ok
}
