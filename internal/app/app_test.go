package app

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbmahfudi/app-buildify-sub002/internal/action"
	"github.com/tbmahfudi/app-buildify-sub002/internal/compiler"
	"github.com/tbmahfudi/app-buildify-sub002/internal/config"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
	"github.com/tbmahfudi/app-buildify-sub002/internal/store"
	"github.com/tbmahfudi/app-buildify-sub002/internal/workflow"
)

var t0 = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

type outbox struct {
	mu   sync.Mutex
	sent []action.Notification
}

func (o *outbox) Notify(_ context.Context, n action.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, n)
	return nil
}

func (o *outbox) recipients() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, n := range o.sent {
		out = append(out, n.To)
	}
	return out
}

func openApp(t *testing.T) (*App, *outbox) {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "app.db")
	cfg.Metrics.Enabled = true

	box := &outbox{}
	a, err := Open(t.Context(), cfg,
		WithNotifier(box),
		WithIDGenerator(ir.NewSequenceGenerator("id")),
		WithNow(func() time.Time { return t0 }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, box
}

func loadInvoice(t *testing.T, a *App) *ImportSummary {
	t.Helper()
	res, errs := compiler.LoadDir(filepath.Join("..", "compiler", "testdata", "invoice"), compiler.LoadModeCollectAll)
	require.Empty(t, errs)
	sum, err := a.Import(t.Context(), res, ImportOptions{Tenant: "acme", Publish: true})
	require.NoError(t, err)
	return sum
}

func TestImport(t *testing.T) {
	a, _ := openApp(t)
	sum := loadInvoice(t, a)
	assert.Equal(t, []string{"invoice-v1"}, sum.Workflows)
	assert.Equal(t, []string{"invoice-v1"}, sum.Published)
	assert.Len(t, sum.Rules, 3)

	def, err := a.Workflows.GetDefinition(t.Context(), "invoice-v1")
	require.NoError(t, err)
	assert.Equal(t, ir.DefinitionPublished, def.Status)
	assert.NotNil(t, def.PublishedAt)

	// Rules are replaced on reload; workflows are not.
	res, errs := compiler.LoadDir(filepath.Join("..", "compiler", "testdata", "invoice"), compiler.LoadModeCollectAll)
	require.Empty(t, errs)
	res.Workflows = nil
	_, err = a.Import(t.Context(), res, ImportOptions{Tenant: "acme"})
	require.NoError(t, err)
	rule, err := a.Automation.GetRule(t.Context(), "notify-large-invoice")
	require.NoError(t, err)
	assert.Equal(t, 2, rule.Version)
}

// A record update fires a rule that moves the record's workflow instance,
// whose on-entry action notifies the customer.
func TestRecordUpdateDrivesWorkflow(t *testing.T) {
	a, box := openApp(t)
	loadInvoice(t, a)
	ctx := t.Context()

	_, err := a.Records.ApplyMutation(ctx, ir.Mutation{
		Op: ir.MutationCreate, TenantID: "acme", EntityType: "invoice", RecordID: "inv-1", Actor: "clerk-1",
		Fields: ir.Record{"number": "INV-001", "amount": 5000, "customer_email": "buyer@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"finance"}, box.recipients(), "large invoice rule")

	clerk := ir.Actor{TenantID: "acme", UserID: "clerk-1"}
	inst, err := a.Workflows.StartInstance(ctx, "invoice", "inv-1", clerk)
	require.NoError(t, err)

	_, err = a.Records.ApplyMutation(ctx, ir.Mutation{
		Op: ir.MutationUpdate, TenantID: "acme", EntityType: "invoice", RecordID: "inv-1",
		Fields: ir.Record{"approved": true}, Actor: "clerk-1",
	})
	require.NoError(t, err)

	got, err := a.Workflows.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "sent", got.CurrentStateID)
	assert.Equal(t, []string{"finance", "buyer@example.com"}, box.recipients())

	history, err := a.Workflows.History(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ir.SystemActor("acme").UserID, history[1].Actor)

	execs, err := a.Automation.ListExecutions(ctx, store.ExecutionFilter{TenantID: "acme", RuleID: "auto-send-approved"})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, ir.ExecutionSuccess, execs[0].Status)
	assert.Equal(t, "sent", execs[0].ActionsExecuted[0].Output["to_state"])
}

func TestSLAAndSchedule(t *testing.T) {
	a, _ := openApp(t)
	loadInvoice(t, a)
	ctx := t.Context()

	accountant := ir.Actor{TenantID: "acme", UserID: "acct-1", Roles: []string{"accountant"}, Permissions: []string{"invoices:*"}}
	inst, err := a.Workflows.StartInstance(ctx, "invoice", "inv-9", accountant)
	require.NoError(t, err)
	_, err = a.Workflows.ExecuteTransition(ctx, workflow.TransitionRequest{
		InstanceID: inst.ID, TransitionID: "send", Actor: accountant,
		Record: ir.Record{"id": "inv-9", "amount": 10, "number": "INV-9", "customer_email": "c@example.com"},
	})
	require.NoError(t, err)

	overdue, err := a.Workflows.GetOverdueInstances(ctx, t0.Add(73*time.Hour))
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, inst.ID, overdue[0].Instance.ID)

	execs, err := a.Automation.RunDue(ctx, t0.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, "nightly-overdue-sweep", execs[0].RuleID)

	var text strings.Builder
	require.NoError(t, a.Metrics.WriteText(&text))
	assert.Contains(t, text.String(), "buildify_workflow_overdue_instances 1")
}
