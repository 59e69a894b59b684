package harness

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/tbmahfudi/app-buildify-sub002/internal/action"
	"github.com/tbmahfudi/app-buildify-sub002/internal/app"
	"github.com/tbmahfudi/app-buildify-sub002/internal/compiler"
	"github.com/tbmahfudi/app-buildify-sub002/internal/config"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
	"github.com/tbmahfudi/app-buildify-sub002/internal/store"
	"github.com/tbmahfudi/app-buildify-sub002/internal/testutil"
	"github.com/tbmahfudi/app-buildify-sub002/internal/workflow"
)

// Harness holds one scenario run.
type Harness struct {
	scenario *Scenario
	app      *app.App
	clock    *testutil.Clock
	outbox   *testutil.Outbox
	logger   *slog.Logger

	aliases   map[string]string // alias -> instance id
	names     map[string]string // instance id -> alias
	seenSeq   int64
	delivered int
}

// offlineCaller answers every outbound call with 200 and an empty object.
// Scenarios never leave the process.
type offlineCaller struct{}

func (offlineCaller) Call(context.Context, action.EndpointRequest) (action.EndpointResponse, error) {
	return action.EndpointResponse{StatusCode: 200, Body: []byte("{}")}, nil
}

// Run executes a scenario against a fresh in-memory database.
//
// Execution flow:
//  1. Open an App with a fixed clock, sequential ids and an in-memory outbox
//  2. Load the CUE specs, publishing every workflow
//  3. Seed records
//  4. Run each step, check its expectation and append its trace
//  5. Evaluate assertions
//
// The returned error reports a broken scenario or infrastructure failure;
// unmet expectations and assertions are recorded on the Result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	start, err := scenario.StartTime()
	if err != nil {
		return nil, err
	}
	clock := testutil.NewClock(start)
	outbox := &testutil.Outbox{Reject: scenario.Reject}

	cfg := config.Default()
	cfg.Database.Path = ":memory:"
	cfg.Actions.Endpoint.MaxAttempts = 1
	cfg.Metrics.Enabled = false

	a, err := app.Open(ctx, cfg,
		app.WithNow(clock.Now),
		app.WithIDGenerator(ir.NewSequenceGenerator("id")),
		app.WithNotifier(outbox),
		app.WithEndpointCaller(offlineCaller{}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open engines: %w", err)
	}
	defer a.Close()

	h := &Harness{
		scenario: scenario,
		app:      a,
		clock:    clock,
		outbox:   outbox,
		logger:   slog.Default().With("scenario", scenario.Name),
		aliases:  map[string]string{},
		names:    map[string]string{},
	}

	if err := h.load(ctx); err != nil {
		return nil, err
	}

	result := NewResult()
	for i := range scenario.Steps {
		if err := h.runStep(ctx, i, &scenario.Steps[i], result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	for _, msg := range h.evaluate(ctx, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// load imports the specs and seeds the records.
func (h *Harness) load(ctx context.Context) error {
	for _, dir := range h.scenario.Specs {
		res, errs := compiler.LoadDir(dir, compiler.LoadModeCollectAll)
		if len(errs) > 0 {
			return fmt.Errorf("failed to load specs %s: %w", dir, errs[0])
		}
		if _, err := h.app.Import(ctx, res, app.ImportOptions{Tenant: h.scenario.Tenant, Publish: true}); err != nil {
			return fmt.Errorf("failed to import specs %s: %w", dir, err)
		}
	}
	for _, r := range h.scenario.Records {
		if err := h.app.Records.Seed(ctx, h.scenario.Tenant, r.EntityType, ir.Record(r.Data)); err != nil {
			return fmt.Errorf("failed to seed record: %w", err)
		}
	}
	// Loading writes no ledger entries, but start the cursor from the store
	// so a non-empty database would not leak into the trace.
	seq, err := h.app.Store.MaxSeq(ctx)
	if err != nil {
		return err
	}
	h.seenSeq = seq
	return nil
}

// outcome is what a step produced, before it is checked and traced.
type outcome struct {
	ev       TraceEvent
	instance *ir.WorkflowInstance
	exec     *ir.AutomationExecution
	err      error
}

func (h *Harness) runStep(ctx context.Context, i int, step *Step, result *Result) error {
	out := h.perform(ctx, step)
	out.ev.Type = TraceStep
	out.ev.Step = i + 1
	out.ev.Op = step.Op()
	if out.instance != nil {
		out.ev.State = out.instance.CurrentStateID
		out.ev.Status = string(out.instance.Status)
	}
	if out.exec != nil {
		out.ev.Status = string(out.exec.Status)
	}
	if out.err != nil {
		out.ev.Error = ErrorKind(out.err)
	}

	h.check(i, step, out, result)
	result.add(out.ev)

	ledger, err := h.ledgerSince(ctx)
	if err != nil {
		return err
	}
	result.Trace = append(result.Trace, ledger...)
	result.Trace = append(result.Trace, h.newNotifications()...)

	h.logger.Debug("scenario step completed",
		"step", i+1,
		"op", out.ev.Op,
		"error", out.ev.Error,
	)
	return nil
}

func (h *Harness) perform(ctx context.Context, step *Step) outcome {
	switch {
	case step.Start != nil:
		s := step.Start
		inst, err := h.app.Workflows.StartInstance(ctx, s.Workflow, s.Record, h.actor(s.Actor))
		ev := TraceEvent{Instance: s.As, Record: s.Record}
		if err == nil {
			name := s.As
			if name == "" {
				name = inst.ID
			}
			h.aliases[name] = inst.ID
			h.names[inst.ID] = name
			ev.Instance = name
		}
		return outcome{ev: ev, instance: inst, err: err}

	case step.Transition != nil:
		s := step.Transition
		ev := TraceEvent{Instance: s.Instance, Transition: s.Transition}
		id := h.instanceID(s.Instance)
		expected := int64(-1)
		if s.ExpectedVersion != nil {
			expected = *s.ExpectedVersion
		} else if cur, err := h.app.Workflows.GetInstance(ctx, id); err == nil {
			expected = cur.Version
		}
		inst, err := h.app.Workflows.ExecuteTransition(ctx, workflow.TransitionRequest{
			InstanceID:      id,
			TransitionID:    s.Transition,
			Actor:           h.actor(s.Actor),
			ExpectedVersion: expected,
		})
		return outcome{ev: ev, instance: inst, err: err}

	case step.Cancel != nil:
		s := step.Cancel
		inst, err := h.app.Workflows.CancelInstance(ctx, h.instanceID(s.Instance), h.actor(s.Actor))
		return outcome{ev: TraceEvent{Instance: s.Instance}, instance: inst, err: err}

	case step.Event != nil:
		s := step.Event
		rec, err := h.app.Records.ApplyMutation(ctx, ir.Mutation{
			Op:         s.Op,
			TenantID:   h.scenario.Tenant,
			EntityType: s.EntityType,
			RecordID:   s.ID,
			Fields:     ir.Record(s.Fields),
			Actor:      h.actor(s.Actor).UserID,
		})
		ev := TraceEvent{Record: s.ID}
		if ev.Record == "" && rec != nil {
			ev.Record = fmt.Sprint(rec["id"])
		}
		return outcome{ev: ev, err: err}

	case step.Fire != nil:
		s := step.Fire
		var (
			exec ir.AutomationExecution
			err  error
		)
		if s.Test {
			exec, err = h.app.Automation.TestRule(ctx, s.Rule, ir.Record(s.Record), h.actor(s.Actor))
		} else {
			exec, err = h.app.Automation.FireManual(ctx, s.Rule, ir.Record(s.Record), h.actor(s.Actor))
		}
		out := outcome{ev: TraceEvent{Rule: s.Rule}, err: err}
		if err == nil {
			out.exec = &exec
		}
		return out

	case step.RunDue != nil:
		at, _ := time.Parse(time.RFC3339, step.RunDue.At)
		h.clock.Set(at)
		execs, err := h.app.Automation.RunDue(ctx, at)
		return outcome{ev: TraceEvent{Fired: len(execs)}, err: err}
	}
	return outcome{err: fmt.Errorf("step has no operation")}
}

// check compares a step's outcome with its expectation.
func (h *Harness) check(i int, step *Step, out outcome, result *Result) {
	label := fmt.Sprintf("step %d (%s)", i+1, step.Op())
	want := step.Expect
	if want == nil {
		want = &Expect{}
	}

	if want.Error != "" {
		if out.err == nil {
			result.AddError(fmt.Sprintf("%s: expected error %s, got success", label, want.Error))
		} else if kind := ErrorKind(out.err); kind != want.Error {
			result.AddError(fmt.Sprintf("%s: expected error %s, got %s: %v", label, want.Error, kind, out.err))
		}
		return
	}
	if out.err != nil {
		result.AddError(fmt.Sprintf("%s: unexpected error: %v", label, out.err))
		return
	}
	if want.State != "" && out.ev.State != want.State {
		result.AddError(fmt.Sprintf("%s: expected state %q, got %q", label, want.State, out.ev.State))
	}
	if want.Status != "" && out.ev.Status != want.Status {
		result.AddError(fmt.Sprintf("%s: expected status %q, got %q", label, want.Status, out.ev.Status))
	}
}

func (h *Harness) actor(name string) ir.Actor {
	a := ir.Actor{TenantID: h.scenario.Tenant, UserID: name}
	if spec, ok := h.scenario.Actors[name]; ok {
		if spec.UserID != "" {
			a.UserID = spec.UserID
		}
		a.Roles = spec.Roles
		a.Permissions = spec.Permissions
	}
	return a
}

func (h *Harness) instanceID(name string) string {
	if id, ok := h.aliases[name]; ok {
		return id
	}
	return name
}

func (h *Harness) instanceName(id string) string {
	if name, ok := h.names[id]; ok {
		return name
	}
	return id
}

// ledgerSince returns the history entries and executions appended since the
// previous call, in seq order.
func (h *Harness) ledgerSince(ctx context.Context) ([]TraceEvent, error) {
	type entry struct {
		seq int64
		ev  TraceEvent
	}
	var entries []entry

	instances, err := h.app.Store.ListInstances(ctx, store.InstanceFilter{TenantID: h.scenario.Tenant})
	if err != nil {
		return nil, err
	}
	for _, inst := range instances {
		history, err := h.app.Store.History(ctx, inst.ID)
		if err != nil {
			return nil, err
		}
		for _, e := range history {
			if e.Seq <= h.seenSeq {
				continue
			}
			entries = append(entries, entry{e.Seq, TraceEvent{
				Type:       TraceHistory,
				Instance:   h.instanceName(e.InstanceID),
				Event:      string(e.Event),
				From:       e.FromStateID,
				To:         e.ToStateID,
				Transition: e.TransitionID,
				Actor:      e.Actor,
				Failures:   len(e.Failures),
			}})
		}
	}

	execs, err := h.app.Store.ListExecutions(ctx, store.ExecutionFilter{TenantID: h.scenario.Tenant})
	if err != nil {
		return nil, err
	}
	for _, x := range execs {
		if x.Seq <= h.seenSeq {
			continue
		}
		actions := make([]string, len(x.ActionsExecuted))
		for i, r := range x.ActionsExecuted {
			actions[i] = string(r.Status)
		}
		entries = append(entries, entry{x.Seq, TraceEvent{
			Type:    TraceExecution,
			Rule:    x.RuleID,
			Trigger: string(x.TriggerKind),
			Status:  string(x.Status),
			Actions: actions,
			Detail:  x.ErrorDetail,
			Test:    x.IsTest,
		}})
	}

	slices.SortFunc(entries, func(a, b entry) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]TraceEvent, len(entries))
	for i, e := range entries {
		out[i] = e.ev
		h.seenSeq = max(h.seenSeq, e.seq)
	}
	return out, nil
}

func (h *Harness) newNotifications() []TraceEvent {
	sent := h.outbox.Sent()
	out := make([]TraceEvent, 0, len(sent)-h.delivered)
	for _, n := range sent[h.delivered:] {
		out = append(out, TraceEvent{
			Type:    TraceNotification,
			To:      n.To,
			Subject: n.Subject,
			Message: n.Message,
			Rule:    n.RuleID,
		})
	}
	h.delivered = len(sent)
	return out
}
