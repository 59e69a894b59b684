package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

var testTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testDefinition returns a draft invoice workflow:
// draft → sent → paid, draft → cancelled.
func testDefinition(id string) *ir.WorkflowDefinition {
	return &ir.WorkflowDefinition{
		ID:               id,
		Key:              "invoice",
		TenantID:         "acme",
		EntityType:       "invoice",
		Name:             "Invoice",
		Version:          1,
		Status:           ir.DefinitionDraft,
		InitialStateID:   "draft",
		CancelPermission: "invoices:cancel",
		States: []ir.WorkflowState{
			{ID: "draft", Name: "Draft", IsInitial: true},
			{ID: "sent", Name: "Sent", SLASeconds: 3600, OnEntry: []ir.ActionSpec{
				{Type: "send-notification", Params: map[string]any{"to": "finance"}},
			}},
			{ID: "paid", Name: "Paid", IsTerminal: true},
			{ID: "cancelled", Name: "Cancelled", IsTerminal: true},
		},
		Transitions: []ir.WorkflowTransition{
			{ID: "send", Name: "send", FromStateID: "draft", ToStateID: "sent",
				Guard: ir.Condition(`{"field":"amount","op":"gt","value":0}`), RequiredPermission: "invoices:send"},
			{ID: "pay", Name: "pay", FromStateID: "sent", ToStateID: "paid", RequiredRoles: []string{"accountant"}},
			{ID: "void", Name: "void", FromStateID: "draft", ToStateID: "cancelled"},
		},
		CreatedAt: testTime,
		UpdatedAt: testTime,
	}
}

// testInstance returns an active instance at "draft" and its start entry.
func testInstance(id, workflowID string) (*ir.WorkflowInstance, ir.WorkflowHistoryEntry) {
	inst := &ir.WorkflowInstance{
		ID:             id,
		WorkflowID:     workflowID,
		TenantID:       "acme",
		EntityType:     "invoice",
		RecordID:       "inv-" + id,
		CurrentStateID: "draft",
		Status:         ir.InstanceActive,
		StartedAt:      testTime,
		UpdatedAt:      testTime,
		StateEnteredAt: testTime,
	}
	entry := ir.WorkflowHistoryEntry{
		ID:         id + "-h1",
		InstanceID: id,
		Seq:        1,
		Event:      ir.HistoryStarted,
		ToStateID:  "draft",
		Actor:      "user-1",
		Timestamp:  testTime,
	}
	return inst, entry
}

func testRule(id string, priority int) *ir.AutomationRule {
	return &ir.AutomationRule{
		ID:        id,
		TenantID:  "acme",
		Name:      "Rule " + id,
		Trigger:   ir.Trigger{Kind: ir.TriggerRecordCreated, EntityType: "invoice"},
		Condition: ir.Condition(`{"field":"amount","op":"gt","value":1000}`),
		Actions: []ir.ActionSpec{
			{Type: "send-notification", Params: map[string]any{"to": "finance"}},
		},
		Priority:  priority,
		IsEnabled: true,
		Version:   1,
		CreatedAt: testTime,
		UpdatedAt: testTime,
	}
}

func testExecution(id, ruleID string, seq int64) *ir.AutomationExecution {
	return &ir.AutomationExecution{
		ID:              id,
		RuleID:          ruleID,
		RuleVersion:     1,
		RuleHash:        "hash-" + ruleID,
		RuleSnapshot:    testRule(ruleID, 1),
		TenantID:        "acme",
		Seq:             seq,
		TriggeredAt:     testTime,
		TriggerKind:     ir.TriggerRecordCreated,
		TriggerContext:  map[string]any{"record_id": "inv-1"},
		ConditionResult: true,
		ActionsExecuted: []ir.ActionResult{{Type: "send-notification", Status: ir.ActionSuccess, Attempts: 1}},
		Status:          ir.ExecutionSuccess,
	}
}
