package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbmahfudi/app-buildify-sub002/internal/action"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

func TestRuleFire_TestModePreviewsActions(t *testing.T) {
	db := loadedDB(t)

	var x ir.AutomationExecution
	_, err := executeJSON(t, &x, "rule", "fire", "notify-large-invoice", "--test",
		"--record", `{"id":"inv-9","number":"INV-9","amount":2500}`,
		"--tenant", "acme", "--user", "ops-1", "--db", db)
	require.NoError(t, err)

	assert.True(t, x.IsTest)
	assert.True(t, x.ConditionResult)
	assert.Equal(t, ir.TriggerManual, x.TriggerKind)
	require.Len(t, x.ActionsExecuted, 1)
	assert.Equal(t, ir.ActionWouldExecute, x.ActionsExecuted[0].Status)
}

func TestRuleFire_ConditionNotMet(t *testing.T) {
	db := loadedDB(t)

	var x ir.AutomationExecution
	_, err := executeJSON(t, &x, "rule", "fire", "notify-large-invoice",
		"--record", `{"id":"inv-9","amount":10}`,
		"--tenant", "acme", "--user", "ops-1", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, ir.ExecutionSkipped, x.Status)
	assert.Empty(t, x.ActionsExecuted)
}

func TestRuleFire_BadRecord(t *testing.T) {
	db := loadedDB(t)
	_, err := execute(t, "rule", "fire", "notify-large-invoice", "--record", "{not json",
		"--tenant", "acme", "--user", "ops-1", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRuleToggle(t *testing.T) {
	db := loadedDB(t)

	var rule ir.AutomationRule
	_, err := executeJSON(t, &rule, "rule", "toggle", "notify-large-invoice", "--db", db)
	require.NoError(t, err)
	assert.False(t, rule.IsEnabled)

	resp, err := executeJSON(t, nil, "rule", "fire", "notify-large-invoice",
		"--record", `{"id":"inv-9","amount":2500}`,
		"--tenant", "acme", "--user", "ops-1", "--db", db)
	require.Error(t, err)
	assert.Equal(t, "E_RULE_DISABLED", resp.Error.Code)

	_, err = executeJSON(t, &rule, "rule", "toggle", "notify-large-invoice", "--enable", "--db", db)
	require.NoError(t, err)
	assert.True(t, rule.IsEnabled)

	_, err = executeJSON(t, &rule, "rule", "toggle", "notify-large-invoice", "--enable", "--db", db)
	require.NoError(t, err)
	assert.True(t, rule.IsEnabled, "--enable is not a flip")

	_, err = execute(t, "rule", "toggle", "notify-large-invoice", "--enable", "--disable", "--db", db)
	require.Error(t, err)

	resp, err = executeJSON(t, nil, "rule", "toggle", "no-such-rule", "--db", db)
	require.Error(t, err)
	assert.Equal(t, "E_NOT_FOUND", resp.Error.Code)
}

func TestRuleExecutions(t *testing.T) {
	db := loadedDB(t)
	startInvoice(t, db) // creating inv-1 fires notify-large-invoice

	var execs []ir.AutomationExecution
	_, err := executeJSON(t, &execs, "rule", "executions", "--rule", "notify-large-invoice", "--db", db)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, ir.TriggerRecordCreated, execs[0].TriggerKind)
	assert.Equal(t, ir.ExecutionSuccess, execs[0].Status)

	execs = nil
	_, err = executeJSON(t, &execs, "rule", "executions", "--status", "failure", "--db", db)
	require.NoError(t, err)
	assert.Empty(t, execs)

	buf, err := execute(t, "rule", "executions", "--rule", "auto-send-approved", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No executions")
}

func TestRuleRunDue(t *testing.T) {
	db := loadedDB(t)
	at := time.Now().UTC().Add(72 * time.Hour).Format(time.RFC3339)

	var execs []ir.AutomationExecution
	_, err := executeJSON(t, &execs, "rule", "run-due", "--at", at, "--db", db)
	require.NoError(t, err)
	require.Len(t, execs, 1, "missed runs coalesce into one firing")
	assert.Equal(t, "nightly-overdue-sweep", execs[0].RuleID)
	assert.Equal(t, ir.TriggerScheduled, execs[0].TriggerKind)

	execs = nil
	_, err = executeJSON(t, &execs, "rule", "run-due", "--at", at, "--db", db)
	require.NoError(t, err)
	assert.Empty(t, execs, "nothing is due twice at the same time")

	_, err = execute(t, "rule", "run-due", "--at", "tomorrow", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRuleTemplates(t *testing.T) {
	var templates []action.Template
	_, err := executeJSON(t, &templates, "rule", "templates", "--db", ":memory:")
	require.NoError(t, err)

	var types []string
	for _, tpl := range templates {
		types = append(types, tpl.Type)
		assert.NotEmpty(t, tpl.Schema, tpl.Type)
	}
	assert.ElementsMatch(t, []string{
		action.TypeSendNotification, action.TypeCallEndpoint, action.TypeMutateRecord, action.TypeTriggerTransition,
	}, types)
}

func TestRuleList(t *testing.T) {
	db := loadedDB(t)

	var rules []ir.AutomationRule
	_, err := executeJSON(t, &rules, "rule", "list", "--tenant", "acme", "--db", db)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "nightly-overdue-sweep", rules[0].ID, "priority 0 first")
	assert.Equal(t, "notify-large-invoice", rules[1].ID)
	assert.Equal(t, "auto-send-approved", rules[2].ID)
}
