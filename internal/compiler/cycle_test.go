package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

func updateRule(id, entity string, actions ...ir.ActionSpec) ir.AutomationRule {
	return ir.AutomationRule{
		ID:      id,
		Trigger: ir.Trigger{Kind: ir.TriggerRecordUpdated, EntityType: entity},
		Actions: actions,
	}
}

func mutate(op, entity string) ir.ActionSpec {
	params := map[string]any{"operation": op}
	if entity != "" {
		params["entity_type"] = entity
	}
	return ir.ActionSpec{Type: "mutate-record", Params: params}
}

// TestAnalyzeRuleCycles_Empty tests that empty input produces no warnings.
func TestAnalyzeRuleCycles_Empty(t *testing.T) {
	assert.Empty(t, AnalyzeRuleCycles(nil))
}

// TestAnalyzeRuleCycles_DAG tests that rules feeding other entities without
// feedback produce no warnings.
func TestAnalyzeRuleCycles_DAG(t *testing.T) {
	rules := []ir.AutomationRule{
		updateRule("invoice-to-ledger", "invoice", mutate("create", "ledger")),
		{ID: "ledger-notify", Trigger: ir.Trigger{Kind: ir.TriggerRecordCreated, EntityType: "ledger"},
			Actions: []ir.ActionSpec{{Type: "send-notification"}}},
	}
	assert.Empty(t, AnalyzeRuleCycles(rules))
}

// TestAnalyzeRuleCycles_SelfLoop tests a rule that updates the entity it
// listens to.
func TestAnalyzeRuleCycles_SelfLoop(t *testing.T) {
	rules := []ir.AutomationRule{updateRule("touch", "invoice", mutate("update", ""))}

	warnings := AnalyzeRuleCycles(rules)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"touch", "touch"}, warnings[0].Path)
	assert.Contains(t, warnings[0].Message, "Self-triggering")
	assert.Equal(t, "warning", warnings[0].Level)
}

// TestAnalyzeRuleCycles_TwoNodeCycle tests detection of A → B → A.
func TestAnalyzeRuleCycles_TwoNodeCycle(t *testing.T) {
	rules := []ir.AutomationRule{
		updateRule("a", "invoice", mutate("update", "payment")),
		updateRule("b", "payment", mutate("update", "invoice")),
	}

	warnings := AnalyzeRuleCycles(rules)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"a", "b", "a"}, warnings[0].Path)
	assert.Contains(t, warnings[0].Message, "Potential cascade cycle")
}

// TestAnalyzeRuleCycles_WorkflowTransition tests that a rule driving a
// workflow transition feeds rules listening for transitions on that entity.
func TestAnalyzeRuleCycles_WorkflowTransition(t *testing.T) {
	rules := []ir.AutomationRule{
		updateRule("approve", "invoice", ir.ActionSpec{Type: "trigger-workflow-transition", Params: map[string]any{"transition": "send"}}),
		{ID: "on-sent", Trigger: ir.Trigger{Kind: ir.TriggerWorkflowTransition, EntityType: "invoice"},
			Actions: []ir.ActionSpec{mutate("update", "")}},
	}

	warnings := AnalyzeRuleCycles(rules)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"approve", "on-sent", "approve"}, warnings[0].Path)
}

// TestAnalyzeRuleCycles_DeleteAndCreateKinds tests that mutation ops map to
// the matching trigger kinds.
func TestAnalyzeRuleCycles_DeleteAndCreateKinds(t *testing.T) {
	rules := []ir.AutomationRule{
		{ID: "on-delete", Trigger: ir.Trigger{Kind: ir.TriggerRecordDeleted, EntityType: "x"},
			Actions: []ir.ActionSpec{mutate("create", "x")}},
		{ID: "on-create", Trigger: ir.Trigger{Kind: ir.TriggerRecordCreated, EntityType: "x"},
			Actions: []ir.ActionSpec{mutate("delete", "x")}},
		{ID: "scheduled", Trigger: ir.Trigger{Kind: ir.TriggerScheduled},
			Actions: []ir.ActionSpec{mutate("delete", "x")}},
	}

	warnings := AnalyzeRuleCycles(rules)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"on-create", "on-delete", "on-create"}, warnings[0].Path)
}

// TestAnalyzeRuleCycles_Deterministic tests stable output across runs.
func TestAnalyzeRuleCycles_Deterministic(t *testing.T) {
	rules := []ir.AutomationRule{
		updateRule("z", "invoice", mutate("update", "")),
		updateRule("m", "order", mutate("update", "")),
		updateRule("a", "ticket", mutate("update", "")),
	}
	first := AnalyzeRuleCycles(rules)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, AnalyzeRuleCycles(rules))
	}
	require.Len(t, first, 3)
	assert.Equal(t, "a", first[0].Path[0])
}
