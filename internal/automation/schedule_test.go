package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbmahfudi/app-buildify-sub002/internal/action"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

func scheduledRule(id, schedule string) *ir.AutomationRule {
	return &ir.AutomationRule{
		ID:        id,
		TenantID:  "acme",
		Name:      "Digest " + id,
		Trigger:   ir.Trigger{Kind: ir.TriggerScheduled, Config: map[string]any{"schedule": schedule}},
		Actions:   []ir.ActionSpec{notify(id + " digest")},
		IsEnabled: true,
	}
}

func TestRunDueCoalescesMissedRuns(t *testing.T) {
	f := newFixture(t)
	f.createRule(t, scheduledRule("quarter", "*/15 * * * *"))

	execs, err := f.engine.RunDue(t.Context(), t0.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, execs, "first occurrence is 08:15")

	execs, err = f.engine.RunDue(t.Context(), t0.Add(50*time.Minute))
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, ir.TriggerScheduled, execs[0].TriggerKind)
	assert.Equal(t, "2025-06-02T08:15:00Z", execs[0].TriggerContext["scheduled_for"])
	assert.Equal(t, 3, execs[0].TriggerContext["occurrences"])

	execs, err = f.engine.RunDue(t.Context(), t0.Add(50*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, execs, "the cursor moved to now")

	execs, err = f.engine.RunDue(t.Context(), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, 1, execs[0].TriggerContext["occurrences"])
	assert.Equal(t, []string{"quarter digest", "quarter digest"}, f.outbox.messages())
}

func TestRunDueSkipsDisabledRules(t *testing.T) {
	f := newFixture(t)
	f.createRule(t, scheduledRule("on", "0 * * * *"))
	off := scheduledRule("off", "0 * * * *")
	off.IsEnabled = false
	f.createRule(t, off)

	execs, err := f.engine.RunDue(t.Context(), t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, "on", execs[0].RuleID)
}

func TestRunDueRunsManyRules(t *testing.T) {
	f := newFixture(t, WithScheduledConcurrency(2))
	ids := []string{"r1", "r2", "r3", "r4", "r5"}
	for _, id := range ids {
		f.createRule(t, scheduledRule(id, "@hourly"))
	}

	execs, err := f.engine.RunDue(t.Context(), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, execs, len(ids))
	for i, exec := range execs {
		assert.Equal(t, ids[i], exec.RuleID, "equal priorities fire by rule id")
		assert.Equal(t, ir.ExecutionSuccess, exec.Status)
	}
	assert.Len(t, f.outbox.messages(), len(ids))
}

func TestRunDueIsDeterministicInNow(t *testing.T) {
	f := newFixture(t)
	f.createRule(t, scheduledRule("daily", "30 7 * * *"))

	// Wall clock is irrelevant; only the now argument counts.
	f.now = t0.Add(72 * time.Hour)
	execs, err := f.engine.RunDue(t.Context(), t0.Add(23*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, execs)

	execs, err = f.engine.RunDue(t.Context(), t0.Add(23*time.Hour + 31*time.Minute))
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, "2025-06-03T07:30:00Z", execs[0].TriggerContext["scheduled_for"])
}

func TestRunDueAppliesRulesInPriorityOrder(t *testing.T) {
	f := newFixture(t, WithScheduledConcurrency(4))
	f.createInvoice(t, "inv-1", 10)

	stamp := func(id string, priority int) *ir.AutomationRule {
		rule := scheduledRule(id, "@hourly")
		rule.Priority = priority
		rule.Actions = []ir.ActionSpec{{Type: action.TypeMutateRecord, Params: map[string]any{
			"operation":   "update",
			"entity_type": "invoice",
			"record_id":   "inv-1",
			"fields":      map[string]any{"stamped_by": id},
		}}}
		return rule
	}
	f.createRule(t, stamp("a-last", 5))
	f.createRule(t, stamp("m-middle", 3))
	f.createRule(t, stamp("z-first", 1))

	execs, err := f.engine.RunDue(t.Context(), t0.Add(time.Hour))
	require.NoError(t, err)
	var order []string
	for _, x := range execs {
		order = append(order, x.RuleID)
		assert.Equal(t, ir.ExecutionSuccess, x.Status, x.RuleID)
	}
	assert.Equal(t, []string{"z-first", "m-middle", "a-last"}, order)

	rec, err := f.records.GetRecord(t.Context(), "invoice", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "a-last", rec["stamped_by"], "the lowest priority rule writes last")
}
