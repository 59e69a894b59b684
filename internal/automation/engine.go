// Package automation implements the rule engine: trigger matching,
// condition evaluation, sequential action execution and the execution
// ledger.
//
// Rules fire from four paths that share one pipeline: pushed events
// (HandleEvent/Notify), the schedule (RunDue), direct manual firing and
// signed webhooks. Every firing persists exactly one execution, including
// firings whose condition is false.
package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/tbmahfudi/app-buildify-sub002/internal/action"
	"github.com/tbmahfudi/app-buildify-sub002/internal/compiler"
	"github.com/tbmahfudi/app-buildify-sub002/internal/expr"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
	"github.com/tbmahfudi/app-buildify-sub002/internal/metrics"
	"github.com/tbmahfudi/app-buildify-sub002/internal/recorder"
	"github.com/tbmahfudi/app-buildify-sub002/internal/store"
)

var tracer = otel.Tracer("github.com/tbmahfudi/app-buildify-sub002/internal/automation")

const (
	// DefaultRuleTimeout bounds one rule's action chain.
	DefaultRuleTimeout = 30 * time.Second

	// DefaultScheduledConcurrency bounds concurrent schedule cursor reads.
	DefaultScheduledConcurrency = 4
)

// Engine is the automation rule engine.
type Engine struct {
	store    *store.Store
	recorder *recorder.Recorder
	actions  *action.Registry

	metrics     *metrics.Metrics
	ids         ir.IDGenerator
	now         func() time.Time
	conditions  *expr.Cache
	cascade     *cascadeGuard
	ruleTimeout time.Duration
	concurrency int
}

// Option configures an Engine.
type Option func(*Engine)

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

// WithNow replaces the wall clock used for execution timestamps.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithConditionCache shares a compiled-expression cache.
func WithConditionCache(c *expr.Cache) Option {
	return func(e *Engine) {
		e.conditions = c
	}
}

// WithRuleTimeout bounds each rule's action chain.
func WithRuleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.ruleTimeout = d
	}
}

// WithMaxSteps bounds the rule firings of one flow.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		e.cascade = newCascadeGuard(n)
	}
}

// WithScheduledConcurrency bounds how many schedule cursors RunDue reads
// at once. Due rules always fire sequentially.
func WithScheduledConcurrency(n int) Option {
	return func(e *Engine) {
		e.concurrency = n
	}
}

// New creates a rule engine.
func New(s *store.Store, rec *recorder.Recorder, actions *action.Registry, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		recorder:    rec,
		actions:     actions,
		ids:         ir.UUIDv7Generator{},
		now:         time.Now,
		ruleTimeout: DefaultRuleTimeout,
		concurrency: DefaultScheduledConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.conditions == nil {
		e.conditions = expr.NewCache()
	}
	if e.cascade == nil {
		e.cascade = newCascadeGuard(DefaultMaxSteps)
	}
	if e.concurrency <= 0 {
		e.concurrency = 1
	}
	return e
}

func (e *Engine) timestamp() time.Time {
	return e.now().UTC()
}

// validate runs field-level and action-registry checks on a rule.
func (e *Engine) validate(rule *ir.AutomationRule) error {
	errs := compiler.ValidateRule(rule)
	if e.actions != nil {
		errs = append(errs, compiler.ValidateRuleActions(rule, e.actions)...)
	}
	return errs.Err()
}

// CreateRule validates and stores a new rule at version 1. A missing id is
// generated.
func (e *Engine) CreateRule(ctx context.Context, rule *ir.AutomationRule) (*ir.AutomationRule, error) {
	r := *rule
	if r.ID == "" {
		r.ID = e.ids.Generate()
	}
	if err := e.validate(&r); err != nil {
		return nil, err
	}
	now := e.timestamp()
	r.Version = 1
	r.CreatedAt, r.UpdatedAt = now, now
	if err := e.store.CreateRule(ctx, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateRule validates and replaces a rule, bumping its version. Executions
// already recorded keep the snapshot of the version that produced them.
func (e *Engine) UpdateRule(ctx context.Context, rule *ir.AutomationRule) (*ir.AutomationRule, error) {
	cur, err := e.GetRule(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	r := *rule
	r.TenantID = cur.TenantID
	if err := e.validate(&r); err != nil {
		return nil, err
	}
	r.Version = cur.Version + 1
	r.CreatedAt = cur.CreatedAt
	r.UpdatedAt = e.timestamp()
	if err := e.store.UpdateRule(ctx, &r); err != nil {
		return nil, e.mapRuleErr(rule.ID, err)
	}
	return &r, nil
}

// SetEnabled toggles whether a rule reacts to triggers.
func (e *Engine) SetEnabled(ctx context.Context, id string, enabled bool) (*ir.AutomationRule, error) {
	return e.patch(ctx, id, func(r *ir.AutomationRule) { r.IsEnabled = enabled })
}

// SetTestMode toggles test mode. A rule in test mode previews its actions
// instead of running them.
func (e *Engine) SetTestMode(ctx context.Context, id string, testMode bool) (*ir.AutomationRule, error) {
	return e.patch(ctx, id, func(r *ir.AutomationRule) { r.IsTestMode = testMode })
}

func (e *Engine) patch(ctx context.Context, id string, fn func(*ir.AutomationRule)) (*ir.AutomationRule, error) {
	r, err := e.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	fn(r)
	r.Version++
	r.UpdatedAt = e.timestamp()
	if err := e.store.UpdateRule(ctx, r); err != nil {
		return nil, e.mapRuleErr(id, err)
	}
	return r, nil
}

// DeleteRule removes a rule. Its executions stay in the ledger.
func (e *Engine) DeleteRule(ctx context.Context, id string) error {
	return e.mapRuleErr(id, e.store.DeleteRule(ctx, id))
}

// GetRule loads a rule.
func (e *Engine) GetRule(ctx context.Context, id string) (*ir.AutomationRule, error) {
	r, err := e.store.GetRule(ctx, id)
	if err != nil {
		return nil, e.mapRuleErr(id, err)
	}
	return r, nil
}

// ListRules lists rules in evaluation order.
func (e *Engine) ListRules(ctx context.Context, f store.RuleFilter) ([]ir.AutomationRule, error) {
	return e.store.ListRules(ctx, f)
}

// ListExecutions lists recorded executions in ledger order.
func (e *Engine) ListExecutions(ctx context.Context, f store.ExecutionFilter) ([]ir.AutomationExecution, error) {
	return e.store.ListExecutions(ctx, f)
}

// Templates lists the registered action types for rule builders.
func (e *Engine) Templates() []action.Template {
	return e.actions.Templates()
}

func (e *Engine) mapRuleErr(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return &RuleNotFoundError{ID: id}
	}
	if err != nil {
		return fmt.Errorf("rule %s: %w", id, err)
	}
	return nil
}
