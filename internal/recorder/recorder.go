// Package recorder is the append-only writer for workflow history and
// automation executions.
//
// The recorder exposes no update or delete operations. Every write is
// stamped with a logical seq, committed to the store and then offered to
// an optional Mirror. The store is authoritative: mirror failures are
// logged and never fail the write.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
	"github.com/tbmahfudi/app-buildify-sub002/internal/store"
)

// ErrVersionConflict is returned by RecordTransition when the instance
// version moved underneath the caller.
var ErrVersionConflict = store.ErrVersionConflict

// Mirror receives a copy of every committed ledger entry, e.g. for an
// external audit stream.
type Mirror interface {
	MirrorHistory(ctx context.Context, entry ir.WorkflowHistoryEntry) error
	MirrorExecution(ctx context.Context, exec ir.AutomationExecution) error
}

// Recorder writes the ledger.
type Recorder struct {
	store  *store.Store
	clock  *Clock
	mirror Mirror
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithMirror attaches an audit mirror.
func WithMirror(m Mirror) Option {
	return func(r *Recorder) {
		r.mirror = m
	}
}

// WithClock replaces the clock. Tests use this to pin seqs.
func WithClock(c *Clock) Option {
	return func(r *Recorder) {
		r.clock = c
	}
}

// New creates a Recorder whose clock resumes after the highest seq already
// in the ledger.
func New(ctx context.Context, s *store.Store, opts ...Option) (*Recorder, error) {
	r := &Recorder{store: s}
	for _, opt := range opts {
		opt(r)
	}
	if r.clock == nil {
		maxSeq, err := s.MaxSeq(ctx)
		if err != nil {
			return nil, fmt.Errorf("resume clock: %w", err)
		}
		r.clock = NewClockAt(maxSeq)
	}
	return r, nil
}

// Clock returns the recorder's logical clock.
func (r *Recorder) Clock() *Clock {
	return r.clock
}

// RecordStart persists a new instance together with its "started" entry.
func (r *Recorder) RecordStart(ctx context.Context, inst *ir.WorkflowInstance, entry ir.WorkflowHistoryEntry) (ir.WorkflowHistoryEntry, error) {
	entry.Seq = r.clock.Next()
	if err := r.store.CreateInstance(ctx, inst, entry); err != nil {
		return entry, err
	}
	r.mirrorHistory(ctx, entry)
	return entry, nil
}

// RecordTransition persists an instance's new state if its stored version
// still equals expectedVersion, appending entry atomically. Returns an
// error wrapping ErrVersionConflict when the compare-and-swap fails.
func (r *Recorder) RecordTransition(ctx context.Context, inst *ir.WorkflowInstance, expectedVersion int64, entry ir.WorkflowHistoryEntry) (ir.WorkflowHistoryEntry, error) {
	entry.Seq = r.clock.Next()
	if err := r.store.AdvanceInstance(ctx, inst, expectedVersion, entry); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			slog.Debug("transition lost compare-and-swap",
				"instance_id", inst.ID,
				"expected_version", expectedVersion,
			)
		}
		return entry, err
	}
	r.mirrorHistory(ctx, entry)
	return entry, nil
}

// RecordExecution appends an automation execution.
func (r *Recorder) RecordExecution(ctx context.Context, exec *ir.AutomationExecution) error {
	exec.Seq = r.clock.Next()
	if err := r.store.AppendExecution(ctx, exec); err != nil {
		return err
	}
	if r.mirror != nil {
		if err := r.mirror.MirrorExecution(ctx, *exec); err != nil {
			slog.Warn("execution mirror failed",
				"execution_id", exec.ID,
				"rule_id", exec.RuleID,
				"error", err,
			)
		}
	}
	return nil
}

func (r *Recorder) mirrorHistory(ctx context.Context, entry ir.WorkflowHistoryEntry) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.MirrorHistory(ctx, entry); err != nil {
		slog.Warn("history mirror failed",
			"entry_id", entry.ID,
			"instance_id", entry.InstanceID,
			"error", err,
		)
	}
}

// LogMirror mirrors ledger entries to the structured log.
type LogMirror struct {
	Logger *slog.Logger
}

func (m LogMirror) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// MirrorHistory implements Mirror.
func (m LogMirror) MirrorHistory(ctx context.Context, e ir.WorkflowHistoryEntry) error {
	m.logger().InfoContext(ctx, "workflow history",
		"seq", e.Seq,
		"instance_id", e.InstanceID,
		"event", e.Event,
		"from", e.FromStateID,
		"to", e.ToStateID,
		"transition_id", e.TransitionID,
		"actor", e.Actor,
		"failures", len(e.Failures),
	)
	return nil
}

// MirrorExecution implements Mirror.
func (m LogMirror) MirrorExecution(ctx context.Context, e ir.AutomationExecution) error {
	m.logger().InfoContext(ctx, "automation execution",
		"seq", e.Seq,
		"rule_id", e.RuleID,
		"status", e.Status,
		"is_test", e.IsTest,
		"actions", len(e.ActionsExecuted),
	)
	return nil
}
