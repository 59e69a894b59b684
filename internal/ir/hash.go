package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes.
// Version suffix enables future algorithm migration.
const (
	DomainDefinition = "buildify/definition/v1"
	DomainRule       = "buildify/rule/v1"
	DomainCondition  = "buildify/condition/v1"
	DomainFiring     = "buildify/firing/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DefinitionHash hashes the behavioural content of a workflow definition:
// entity type, initial state, states and transitions. Timestamps, status and
// ids of the definition itself are excluded so two versions with the same
// graph hash equal.
func DefinitionHash(def *WorkflowDefinition) (string, error) {
	states := make([]any, len(def.States))
	for i, s := range def.States {
		states[i] = map[string]any{
			"id":          s.ID,
			"name":        s.Name,
			"is_initial":  s.IsInitial,
			"is_terminal": s.IsTerminal,
			"on_entry":    s.OnEntry,
			"on_exit":     s.OnExit,
			"sla_seconds": s.SLASeconds,
		}
	}
	transitions := make([]any, len(def.Transitions))
	for i, t := range def.Transitions {
		transitions[i] = map[string]any{
			"id":                  t.ID,
			"from":                t.FromStateID,
			"to":                  t.ToStateID,
			"name":                t.Name,
			"guard":               t.Guard,
			"required_permission": t.RequiredPermission,
			"required_roles":      t.RequiredRoles,
		}
	}
	canonical, err := MarshalCanonical(map[string]any{
		"entity_type":       def.EntityType,
		"initial_state_id":  def.InitialStateID,
		"cancel_permission": def.CancelPermission,
		"states":            states,
		"transitions":       transitions,
	})
	if err != nil {
		return "", fmt.Errorf("DefinitionHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDefinition, canonical), nil
}

// RuleHash hashes a rule as it existed at trigger time. Executions store it
// next to the snapshot so a later edit is detectable.
func RuleHash(rule *AutomationRule) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"id":           rule.ID,
		"version":      rule.Version,
		"trigger":      rule.Trigger,
		"condition":    rule.Condition,
		"actions":      rule.Actions,
		"priority":     rule.Priority,
		"is_test_mode": rule.IsTestMode,
	})
	if err != nil {
		return "", fmt.Errorf("RuleHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRule, canonical), nil
}

// ConditionHash is the cache key for a compiled condition. Formatting
// differences (whitespace, key order) hash equal.
func ConditionHash(raw []byte) (string, error) {
	canonical, err := MarshalCanonical(Condition(raw))
	if err != nil {
		return "", fmt.Errorf("ConditionHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainCondition, canonical), nil
}

// FiringKey identifies one (rule, record) firing within a flow for cycle
// detection.
func FiringKey(ruleID, entityType, recordID string) string {
	canonical, err := MarshalCanonical(map[string]any{
		"rule_id":     ruleID,
		"entity_type": entityType,
		"record_id":   recordID,
	})
	if err != nil {
		// Strings always canonicalize.
		panic(err)
	}
	return hashWithDomain(DomainFiring, canonical)
}
