package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbmahfudi/app-buildify-sub002/internal/compiler"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
	"github.com/tbmahfudi/app-buildify-sub002/internal/store"
)

func TestCreateRuleValidates(t *testing.T) {
	f := newFixture(t)
	rule := &ir.AutomationRule{
		TenantID:  "acme",
		Trigger:   ir.Trigger{Kind: ir.TriggerRecordCreated},
		Condition: ir.Condition(`{"field":"amount","op":"between","value":1}`),
		Actions:   []ir.ActionSpec{{Type: "send-fax"}},
	}
	_, err := f.engine.CreateRule(t.Context(), rule)
	errs, ok := ir.AsValidationErrors(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, []string{
		compiler.ErrRuleNameEmpty,
		compiler.ErrTriggerEntityEmpty,
		compiler.ErrInvalidCondition,
		compiler.ErrInvalidActionParams,
	}, errs.Codes())

	rules, err := f.engine.ListRules(t.Context(), store.RuleFilter{TenantID: "acme"})
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestRuleLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	created := f.createRule(t, largeInvoiceRule("", 1))
	assert.Equal(t, "id-1", created.ID)
	assert.Equal(t, 1, created.Version)
	assert.Equal(t, t0, created.CreatedAt)

	r, err := f.engine.SetTestMode(ctx, created.ID, true)
	require.NoError(t, err)
	assert.True(t, r.IsTestMode)
	assert.Equal(t, 2, r.Version)

	r, err = f.engine.SetEnabled(ctx, created.ID, false)
	require.NoError(t, err)
	assert.False(t, r.IsEnabled)
	assert.Equal(t, 3, r.Version)

	upd := largeInvoiceRule(created.ID, 5)
	upd.TenantID = "globex"
	r, err = f.engine.UpdateRule(ctx, upd)
	require.NoError(t, err)
	assert.Equal(t, "acme", r.TenantID, "tenant is fixed at creation")
	assert.Equal(t, 4, r.Version)
	assert.Equal(t, 5, r.Priority)

	enabled, err := f.engine.ListRules(ctx, store.RuleFilter{TenantID: "acme", EnabledOnly: true})
	require.NoError(t, err)
	assert.Len(t, enabled, 1, "update replaces the enabled flag too")

	require.NoError(t, f.engine.DeleteRule(ctx, created.ID))
	_, err = f.engine.GetRule(ctx, created.ID)
	var nf *RuleNotFoundError
	assert.ErrorAs(t, err, &nf)
	assert.True(t, IsNotFound(f.engine.DeleteRule(ctx, created.ID)))

	_, err = f.engine.UpdateRule(ctx, upd)
	assert.True(t, IsNotFound(err))
}

func TestTemplatesListBuiltins(t *testing.T) {
	f := newFixture(t)
	var types []string
	for _, tpl := range f.engine.Templates() {
		types = append(types, tpl.Type)
		assert.NotEmpty(t, tpl.Schema, tpl.Type)
	}
	assert.ElementsMatch(t, []string{
		"send-notification", "call-external-endpoint", "mutate-record", "trigger-workflow-transition",
	}, types)
}
