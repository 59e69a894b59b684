package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
	"github.com/tbmahfudi/app-buildify-sub002/internal/store"
)

// maxCatchUp caps how many missed occurrences are counted for one rule.
const maxCatchUp = 1000

type dueRule struct {
	rule   ir.AutomationRule
	at     time.Time // first occurrence not yet run
	missed int       // occurrences due at now, including at
}

// RunDue fires every enabled scheduled rule with an occurrence in
// (cursor, now]. The cursor of a rule that has never run is its creation
// time. Missed occurrences coalesce into one firing. The result depends
// only on now and the stored cursors; the caller owns the clock.
//
// Cursors are read concurrently up to the configured limit. Due rules then
// fire one at a time in priority order, ties by rule id, so their effects
// apply deterministically.
func (e *Engine) RunDue(ctx context.Context, now time.Time) ([]ir.AutomationExecution, error) {
	now = now.UTC()
	rules, err := e.store.ListRules(ctx, store.RuleFilter{Kind: ir.TriggerScheduled, EnabledOnly: true})
	if err != nil {
		return nil, err
	}

	scans := make([]dueRule, len(rules))
	isDue := make([]bool, len(rules))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, rule := range rules {
		g.Go(func() error {
			d, ok, err := e.dueAt(gctx, rule, now)
			scans[i], isDue[i] = d, ok
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := []ir.AutomationExecution{}
	var errs []error
	for i, d := range scans {
		if !isDue[i] {
			continue
		}
		exec, err := e.direct(ctx, &d.rule, firing{
			kind:  ir.TriggerScheduled,
			actor: ir.SystemActor(d.rule.TenantID),
			context: map[string]any{
				"scheduled_for": d.at.Format(time.RFC3339),
				"occurrences":   d.missed,
			},
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := e.store.SetScheduleCursor(ctx, d.rule.ID, now); err != nil {
			errs = append(errs, err)
		}
		out = append(out, exec)
	}
	if err := errors.Join(errs...); err != nil {
		slog.Error("scheduled rules failed", "error", err)
		return out, err
	}
	return out, nil
}

func (e *Engine) dueAt(ctx context.Context, rule ir.AutomationRule, now time.Time) (dueRule, bool, error) {
	spec := rule.Trigger.ConfigString("schedule")
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		slog.Warn("scheduled rule has an invalid schedule", "rule_id", rule.ID, "schedule", spec, "error", err)
		return dueRule{}, false, nil
	}
	cursor, ok, err := e.store.ScheduleCursor(ctx, rule.ID)
	if err != nil {
		return dueRule{}, false, fmt.Errorf("rule %s: %w", rule.ID, err)
	}
	if !ok {
		cursor = rule.CreatedAt
	}

	first := sched.Next(cursor.UTC())
	if first.IsZero() || first.After(now) {
		return dueRule{}, false, nil
	}
	missed := 1
	for next := sched.Next(first); !next.After(now) && missed < maxCatchUp; next = sched.Next(next) {
		missed++
	}
	return dueRule{rule: rule, at: first, missed: missed}, true, nil
}
