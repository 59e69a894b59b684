package automation

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tbmahfudi/app-buildify-sub002/internal/action"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
	"github.com/tbmahfudi/app-buildify-sub002/internal/metrics"
	"github.com/tbmahfudi/app-buildify-sub002/internal/recorder"
	"github.com/tbmahfudi/app-buildify-sub002/internal/records"
	"github.com/tbmahfudi/app-buildify-sub002/internal/store"
)

var t0 = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

var ops = ir.Actor{TenantID: "acme", UserID: "ops-1", Roles: []string{"ops"}}

// outbox collects notifications.
type outbox struct {
	mu   sync.Mutex
	sent []action.Notification
}

func (o *outbox) Notify(_ context.Context, n action.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n.To == "nobody" {
		return errNobody
	}
	o.sent = append(o.sent, n)
	return nil
}

func (o *outbox) messages() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.sent))
	for i, n := range o.sent {
		out[i] = n.Message
	}
	return out
}

type notifyError string

func (e notifyError) Error() string { return string(e) }

const errNobody = notifyError("no such recipient")

// blockingCaller never answers until the context ends.
type blockingCaller struct{}

func (blockingCaller) Call(ctx context.Context, _ action.EndpointRequest) (action.EndpointResponse, error) {
	<-ctx.Done()
	return action.EndpointResponse{}, ctx.Err()
}

type fixture struct {
	engine  *Engine
	store   *store.Store
	records *records.Store
	outbox  *outbox
	metrics *metrics.Metrics
	now     time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "automation.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	rec, err := recorder.New(t.Context(), s)
	require.NoError(t, err)

	f := &fixture{store: s, outbox: &outbox{}, metrics: metrics.New(), now: t0}
	f.records = records.New(s.DB(),
		records.WithIDGenerator(ir.NewSequenceGenerator("rec")),
		records.WithNow(func() time.Time { return f.now }),
	)
	actions := action.NewBuiltinRegistry(action.Deps{
		Notifier: f.outbox,
		Caller:   blockingCaller{},
		Records:  f.records,
	})
	opts = append([]Option{
		WithIDGenerator(ir.NewSequenceGenerator("id")),
		WithNow(func() time.Time { return f.now }),
		WithMetrics(f.metrics),
	}, opts...)
	f.engine = New(s, rec, actions, opts...)
	f.records.SetSink(f.engine)
	return f
}

func notify(message string) ir.ActionSpec {
	return ir.ActionSpec{Type: action.TypeSendNotification, Params: map[string]any{"to": "finance", "message": message}}
}

// largeInvoiceRule notifies finance about invoices over 1000.
func largeInvoiceRule(id string, priority int) *ir.AutomationRule {
	return &ir.AutomationRule{
		ID:        id,
		TenantID:  "acme",
		Name:      "Large invoice " + id,
		Trigger:   ir.Trigger{Kind: ir.TriggerRecordCreated, EntityType: "invoice"},
		Condition: ir.Condition(`{"field":"amount","op":"gt","value":1000}`),
		Actions:   []ir.ActionSpec{notify(id + ": ${record.number}")},
		Priority:  priority,
		IsEnabled: true,
	}
}

func (f *fixture) createRule(t *testing.T, rule *ir.AutomationRule) *ir.AutomationRule {
	t.Helper()
	created, err := f.engine.CreateRule(t.Context(), rule)
	require.NoError(t, err)
	return created
}

func (f *fixture) createInvoice(t *testing.T, id string, amount float64) {
	t.Helper()
	_, err := f.records.ApplyMutation(t.Context(), ir.Mutation{
		Op: ir.MutationCreate, TenantID: "acme", EntityType: "invoice", RecordID: id,
		Fields: ir.Record{"number": "INV-" + id, "amount": amount}, Actor: "clerk-1",
	})
	require.NoError(t, err)
}

func (f *fixture) executions(t *testing.T, ruleID string) []ir.AutomationExecution {
	t.Helper()
	execs, err := f.engine.ListExecutions(t.Context(), store.ExecutionFilter{TenantID: "acme", RuleID: ruleID})
	require.NoError(t, err)
	return execs
}
