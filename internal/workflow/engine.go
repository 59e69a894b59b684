// Package workflow implements the workflow instance engine: definition
// lifecycle, instance start, guarded transitions, cancellation and the SLA
// sweep.
//
// Transitions on one instance are serialized twice: an in-process
// semaphore per instance and a compare-and-swap on the stored version, so
// two callers presenting the same expected version see exactly one
// success. Published definitions are immutable and cached read-only.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/tbmahfudi/app-buildify-sub002/internal/action"
	"github.com/tbmahfudi/app-buildify-sub002/internal/expr"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
	"github.com/tbmahfudi/app-buildify-sub002/internal/metrics"
	"github.com/tbmahfudi/app-buildify-sub002/internal/recorder"
	"github.com/tbmahfudi/app-buildify-sub002/internal/store"
)

var tracer = otel.Tracer("github.com/tbmahfudi/app-buildify-sub002/internal/workflow")

// EventSink receives workflow_transition events after a transition
// commits. The automation engine implements it.
type EventSink interface {
	Notify(ctx context.Context, ev ir.Event) error
}

// Engine is the workflow instance engine.
type Engine struct {
	store    *store.Store
	recorder *recorder.Recorder
	actions  *action.Registry
	authz    ir.PermissionResolver

	records ir.RecordStore
	sink    EventSink
	metrics *metrics.Metrics
	ids     ir.IDGenerator
	now     func() time.Time
	guards  *expr.Cache
	locks   *instanceLocks

	mu   sync.RWMutex
	defs map[string]*ir.WorkflowDefinition // published or archived, by id
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecordStore lets the engine fetch record snapshots for guards and
// actions when a caller does not supply one.
func WithRecordStore(rs ir.RecordStore) Option {
	return func(e *Engine) {
		e.records = rs
	}
}

// WithEventSink sets where completed transitions are pushed.
func WithEventSink(s EventSink) Option {
	return func(e *Engine) {
		e.sink = s
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithIDGenerator replaces the UUIDv7 generator.
func WithIDGenerator(g ir.IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithNow replaces the wall clock.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithGuardCache shares a compiled-expression cache.
func WithGuardCache(c *expr.Cache) Option {
	return func(e *Engine) {
		e.guards = c
	}
}

// New creates a workflow engine.
func New(s *store.Store, rec *recorder.Recorder, actions *action.Registry, authz ir.PermissionResolver, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		recorder: rec,
		actions:  actions,
		authz:    authz,
		ids:      ir.UUIDv7Generator{},
		now:      time.Now,
		locks:    newInstanceLocks(),
		defs:     make(map[string]*ir.WorkflowDefinition),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.guards == nil {
		e.guards = expr.NewCache()
	}
	return e
}

func (e *Engine) timestamp() time.Time {
	return e.now().UTC()
}

// allowed reports whether actor satisfies req. An empty requirement is
// always satisfied; any other requirement needs a resolver.
func (e *Engine) allowed(ctx context.Context, actor ir.Actor, req ir.Requirement) bool {
	if req.IsZero() {
		return true
	}
	if e.authz == nil {
		return false
	}
	return e.authz.HasPermission(ctx, actor, req)
}

// guardHolds evaluates a transition guard. A guard that fails to compile
// never holds.
func (e *Engine) guardHolds(t ir.WorkflowTransition, record ir.Record) bool {
	if t.Guard.IsZero() {
		return true
	}
	compiled, err := e.guards.Get(t.Guard)
	if err != nil {
		slog.Error("guard does not compile",
			"workflow_id", t.WorkflowID,
			"transition_id", t.ID,
			"error", err,
		)
		return false
	}
	return compiled.Evaluate(record)
}

// snapshot returns the record guards and actions see. A record the store
// does not hold reads as empty.
func (e *Engine) snapshot(ctx context.Context, inst *ir.WorkflowInstance, supplied ir.Record) (ir.Record, error) {
	if supplied != nil {
		return supplied, nil
	}
	if e.records == nil {
		return ir.Record{}, nil
	}
	rec, err := e.records.GetRecord(ctx, inst.EntityType, inst.RecordID)
	if errors.Is(err, ir.ErrRecordNotFound) {
		return ir.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load record %s/%s: %w", inst.EntityType, inst.RecordID, err)
	}
	return rec, nil
}

// runActions dispatches specs in order. Failures become history notes;
// nothing is rolled back.
func (e *Engine) runActions(ctx context.Context, ec *action.ExecContext, phase string, specs []ir.ActionSpec) []ir.ActionNote {
	var failures []ir.ActionNote
	for _, spec := range specs {
		began := time.Now()
		res := e.actions.Dispatch(ctx, ec, spec)
		e.metrics.ObserveAction(spec.Type, string(res.Status), time.Since(began))
		if res.Status == ir.ActionFailure {
			failures = append(failures, ir.ActionNote{Phase: phase, Type: spec.Type, Detail: res.Detail})
		}
	}
	return failures
}

// definition returns a published or archived definition from the cache,
// loading it on a miss. Drafts are never cached.
func (e *Engine) definition(ctx context.Context, id string) (*ir.WorkflowDefinition, error) {
	e.mu.RLock()
	def, ok := e.defs[id]
	e.mu.RUnlock()
	if ok {
		return def, nil
	}

	def, err := e.store.GetDefinition(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &WorkflowNotFoundError{ID: id}
	}
	if err != nil {
		return nil, err
	}
	if def.Status != ir.DefinitionDraft {
		e.cache(def)
	}
	return def, nil
}

func (e *Engine) cache(def *ir.WorkflowDefinition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defs[def.ID] = def
}

func (e *Engine) evict(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.defs, id)
}
