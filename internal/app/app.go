// Package app wires the store, the engines and their adapters from a
// Config. The CLI and the scenario harness both run on an App.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tbmahfudi/app-buildify-sub002/internal/action"
	"github.com/tbmahfudi/app-buildify-sub002/internal/authz"
	"github.com/tbmahfudi/app-buildify-sub002/internal/automation"
	"github.com/tbmahfudi/app-buildify-sub002/internal/config"
	"github.com/tbmahfudi/app-buildify-sub002/internal/expr"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
	"github.com/tbmahfudi/app-buildify-sub002/internal/metrics"
	"github.com/tbmahfudi/app-buildify-sub002/internal/notify"
	"github.com/tbmahfudi/app-buildify-sub002/internal/recorder"
	"github.com/tbmahfudi/app-buildify-sub002/internal/records"
	"github.com/tbmahfudi/app-buildify-sub002/internal/store"
	"github.com/tbmahfudi/app-buildify-sub002/internal/workflow"
)

// App is a fully wired engine pair over one database.
type App struct {
	Store      *store.Store
	Recorder   *recorder.Recorder
	Records    *records.Store
	Actions    *action.Registry
	Workflows  *workflow.Engine
	Automation *automation.Engine
	Metrics    *metrics.Metrics // nil when metrics are disabled

	redis *redis.Client
}

type settings struct {
	now      func() time.Time
	ids      ir.IDGenerator
	notifier action.Notifier
	caller   action.EndpointCaller
	authz    ir.PermissionResolver
}

// Option overrides a collaborator chosen from the Config.
type Option func(*settings)

// WithNow replaces the wall clock of both engines and the record store.
func WithNow(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

// WithIDGenerator replaces the id generator everywhere.
func WithIDGenerator(g ir.IDGenerator) Option {
	return func(s *settings) {
		s.ids = g
	}
}

// WithNotifier replaces the configured notifier.
func WithNotifier(n action.Notifier) Option {
	return func(s *settings) {
		s.notifier = n
	}
}

// WithEndpointCaller replaces the HTTP caller of call-external-endpoint.
func WithEndpointCaller(c action.EndpointCaller) Option {
	return func(s *settings) {
		s.caller = c
	}
}

// WithPermissionResolver replaces the claims resolver.
func WithPermissionResolver(r ir.PermissionResolver) Option {
	return func(s *settings) {
		s.authz = r
	}
}

// Open opens the database and wires everything. The caller must Close the
// App.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	set := settings{now: time.Now, ids: ir.UUIDv7Generator{}, authz: authz.NewClaims()}
	for _, opt := range opts {
		opt(&set)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a := &App{Store: st}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
	}

	var recOpts []recorder.Option
	if addr := cfg.Notify.Redis.Addr; addr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: addr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable, notifications will fail until it is back", "addr", addr, "error", err)
		}
		if set.notifier == nil {
			set.notifier = notify.NewRedisNotifier(a.redis, notify.WithStream(cfg.Notify.Redis.Stream))
		}
		if audit := cfg.Notify.Redis.AuditStream; audit != "" {
			recOpts = append(recOpts, recorder.WithMirror(notify.NewRedisMirror(a.redis, notify.WithStream(audit))))
		}
	}
	if set.notifier == nil {
		set.notifier = notify.LogNotifier{}
	}
	if set.caller == nil {
		set.caller = action.NewHTTPCaller(cfg.Actions.Endpoint.Timeout)
	}

	a.Recorder, err = recorder.New(ctx, st, recOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Records = records.New(st.DB(), records.WithIDGenerator(set.ids), records.WithNow(set.now))
	a.Actions = action.NewBuiltinRegistry(action.Deps{
		Notifier: set.notifier,
		Caller:   set.caller,
		Retry: action.RetryPolicy{
			MaxAttempts:    cfg.Actions.Endpoint.MaxAttempts,
			InitialBackoff: cfg.Actions.Endpoint.InitialBackoff,
			MaxBackoff:     cfg.Actions.Endpoint.MaxBackoff,
		},
		Records: a.Records,
	})

	exprs := expr.NewCache()
	a.Automation = automation.New(st, a.Recorder, a.Actions,
		automation.WithMetrics(a.Metrics),
		automation.WithIDGenerator(set.ids),
		automation.WithNow(set.now),
		automation.WithConditionCache(exprs),
		automation.WithRuleTimeout(cfg.Automation.RuleTimeout),
		automation.WithMaxSteps(cfg.Automation.MaxSteps),
		automation.WithScheduledConcurrency(cfg.Automation.ScheduledConcurrency),
	)
	a.Workflows = workflow.New(st, a.Recorder, a.Actions, set.authz,
		workflow.WithRecordStore(a.Records),
		workflow.WithEventSink(a.Automation),
		workflow.WithMetrics(a.Metrics),
		workflow.WithIDGenerator(set.ids),
		workflow.WithNow(set.now),
		workflow.WithGuardCache(exprs),
	)
	a.Actions.RegisterTransitioner(a.Workflows)
	a.Records.SetSink(a.Automation)
	return a, nil
}

// Close releases the database and the Redis client.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.Store.Close())
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
