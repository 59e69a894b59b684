package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tbmahfudi/app-buildify-sub002/internal/action"
	"github.com/tbmahfudi/app-buildify-sub002/internal/authz"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
	"github.com/tbmahfudi/app-buildify-sub002/internal/metrics"
	"github.com/tbmahfudi/app-buildify-sub002/internal/recorder"
	"github.com/tbmahfudi/app-buildify-sub002/internal/store"
)

var t0 = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

var (
	clerk = ir.Actor{TenantID: "acme", UserID: "clerk-1", Roles: []string{"clerk"}}
	sales = ir.Actor{TenantID: "acme", UserID: "sales-1", Roles: []string{"sales"},
		Permissions: []string{"invoices:send"}}
	accountant = ir.Actor{TenantID: "acme", UserID: "acct-1", Roles: []string{"accountant"},
		Permissions: []string{"invoices:*"}}
)

// fakeClock is a settable wall clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// outbox collects notifications and can be told to fail.
type outbox struct {
	mu   sync.Mutex
	sent []action.Notification
	err  error
}

func (o *outbox) Notify(_ context.Context, n action.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, n)
	return nil
}

func (o *outbox) messages() []action.Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]action.Notification(nil), o.sent...)
}

// eventLog is an EventSink that keeps what it is given.
type eventLog struct {
	mu     sync.Mutex
	events []ir.Event
}

func (l *eventLog) Notify(_ context.Context, ev ir.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

// recordMap is an in-memory ir.RecordStore keyed by "type/id".
type recordMap map[string]ir.Record

func (m recordMap) GetRecord(_ context.Context, entityType, id string) (ir.Record, error) {
	rec, ok := m[entityType+"/"+id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", entityType, id, ir.ErrRecordNotFound)
	}
	return rec.Clone(), nil
}

func (m recordMap) ApplyMutation(context.Context, ir.Mutation) (ir.Record, error) {
	return nil, errors.New("read only")
}

type fixture struct {
	engine  *Engine
	store   *store.Store
	actions *action.Registry
	outbox  *outbox
	events  *eventLog
	clock   *fakeClock
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "workflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	rec, err := recorder.New(t.Context(), s)
	require.NoError(t, err)

	f := &fixture{
		store:   s,
		outbox:  &outbox{},
		events:  &eventLog{},
		clock:   &fakeClock{now: t0},
		metrics: metrics.New(),
	}
	f.actions = action.NewBuiltinRegistry(action.Deps{Notifier: f.outbox})
	base := []Option{
		WithIDGenerator(ir.NewSequenceGenerator("id")),
		WithNow(f.clock.Now),
		WithEventSink(f.events),
		WithMetrics(f.metrics),
	}
	f.engine = New(s, rec, f.actions, authz.NewClaims(), append(base, opts...)...)
	f.actions.RegisterTransitioner(f.engine)
	return f
}

// invoiceDraft is draft -> sent -> paid, with draft -> void.
func invoiceDraft() *ir.WorkflowDefinition {
	return &ir.WorkflowDefinition{
		ID:               "invoice-v1",
		Key:              "invoice",
		TenantID:         "acme",
		EntityType:       "invoice",
		Name:             "Invoice lifecycle",
		CancelPermission: "invoices:cancel",
		States: []ir.WorkflowState{
			{ID: "draft", Name: "Draft", IsInitial: true},
			{ID: "sent", Name: "Sent", SLASeconds: 3600, OnEntry: []ir.ActionSpec{{
				Type: action.TypeSendNotification,
				Params: map[string]any{
					"to":      "${record.customer_email}",
					"message": "Invoice ${record.number} is ready",
				},
			}}},
			{ID: "paid", Name: "Paid", IsTerminal: true},
			{ID: "void", Name: "Void", IsTerminal: true},
		},
		Transitions: []ir.WorkflowTransition{
			{ID: "send", Name: "send", FromStateID: "draft", ToStateID: "sent",
				RequiredPermission: "invoices:send",
				Guard:              ir.Condition(`{"field":"amount","op":"gt","value":0}`)},
			{ID: "pay", Name: "pay", FromStateID: "sent", ToStateID: "paid",
				RequiredRoles: []string{"accountant", "admin"}},
			{ID: "void", Name: "void", FromStateID: "draft", ToStateID: "void"},
		},
	}
}

func invoiceRecord(amount float64) ir.Record {
	return ir.Record{"id": "inv-1", "number": "INV-001", "amount": amount, "customer_email": "buyer@example.com"}
}

// publish creates and publishes def.
func (f *fixture) publish(t *testing.T, def *ir.WorkflowDefinition) *ir.WorkflowDefinition {
	t.Helper()
	created, err := f.engine.CreateDefinition(t.Context(), def)
	require.NoError(t, err)
	published, err := f.engine.Publish(t.Context(), created.ID)
	require.NoError(t, err)
	return published
}

func (f *fixture) start(t *testing.T) *ir.WorkflowInstance {
	t.Helper()
	inst, err := f.engine.StartInstance(t.Context(), "invoice-v1", "inv-1", clerk)
	require.NoError(t, err)
	return inst
}

func (f *fixture) history(t *testing.T, instanceID string) []ir.WorkflowHistoryEntry {
	t.Helper()
	h, err := f.engine.History(t.Context(), instanceID)
	require.NoError(t, err)
	return h
}
