package action

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// schemaValidator holds each handler's compiled parameter schema.
type schemaValidator struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

func newSchemaValidator() *schemaValidator {
	return &schemaValidator{schemas: make(map[string]*gojsonschema.Schema)}
}

func (v *schemaValidator) compile(actionType, schemaJSON string) error {
	if schemaJSON == "" {
		v.mu.Lock()
		delete(v.schemas, actionType)
		v.mu.Unlock()
		return nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.schemas[actionType] = schema
	v.mu.Unlock()
	return nil
}

// validate checks params against the type's schema. Types without a schema
// accept anything.
func (v *schemaValidator) validate(actionType string, params map[string]any) error {
	v.mu.RLock()
	schema, ok := v.schemas[actionType]
	v.mu.RUnlock()
	if !ok {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return fmt.Errorf("action %s: validate params: %w", actionType, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, len(result.Errors()))
	for i, desc := range result.Errors() {
		msgs[i] = desc.String()
	}
	return fmt.Errorf("action %s: invalid params: %s", actionType, strings.Join(msgs, "; "))
}
