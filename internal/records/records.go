// Package records is a reference record store over the engine's SQLite
// database. Records are JSON documents keyed by entity type and id.
//
// Every committed mutation is pushed to the configured sink before
// ApplyMutation returns, so automation reacts synchronously and nested
// mutations inherit the caller's flow token.
package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// ErrNotFound is returned for a missing record.
var ErrNotFound = ir.ErrRecordNotFound

// Sink receives post-commit record events.
type Sink interface {
	Notify(ctx context.Context, ev ir.Event) error
}

// Store implements ir.RecordStore.
type Store struct {
	db   *sql.DB
	sink Sink
	ids  ir.IDGenerator
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets how ids of created records are assigned.
func WithIDGenerator(g ir.IDGenerator) Option {
	return func(s *Store) {
		s.ids = g
	}
}

// WithNow replaces the wall clock.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a record store on db, which must carry the records table.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, ids: ir.UUIDv7Generator{}, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetSink sets where committed mutations are pushed. The automation engine
// depends on the action registry, which depends on this store, so the sink
// is bound after construction.
func (s *Store) SetSink(sink Sink) {
	s.sink = sink
}

// GetRecord implements ir.RecordStore.
func (s *Store) GetRecord(ctx context.Context, entityType, id string) (ir.Record, error) {
	rec, _, err := s.load(ctx, s.db, entityType, id)
	return rec, err
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) load(ctx context.Context, q querier, entityType, id string) (ir.Record, string, error) {
	var data, tenant string
	err := q.QueryRowContext(ctx, `SELECT data, tenant_id FROM records WHERE entity_type = ? AND id = ?`,
		entityType, id).Scan(&data, &tenant)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("%s/%s: %w", entityType, id, ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("load %s/%s: %w", entityType, id, err)
	}
	rec := ir.Record{}
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, "", fmt.Errorf("decode %s/%s: %w", entityType, id, err)
	}
	return rec, tenant, nil
}

// Seed writes a record without raising an event. Fixtures use it.
func (s *Store) Seed(ctx context.Context, tenantID, entityType string, rec ir.Record) error {
	id, _ := rec["id"].(string)
	if id == "" {
		return fmt.Errorf("seed %s: record has no string id", entityType)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", entityType, id, err)
	}
	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (entity_type, id, tenant_id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, entityType, id, tenantID, string(data), now, now)
	if err != nil {
		return fmt.Errorf("seed %s/%s: %w", entityType, id, err)
	}
	return nil
}

// ApplyMutation implements ir.RecordStore. Updates merge fields into the
// stored record. The event is pushed after commit; a sink failure is logged
// and does not undo the mutation.
func (s *Store) ApplyMutation(ctx context.Context, m ir.Mutation) (ir.Record, error) {
	var (
		ev  ir.Event
		out ir.Record
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		switch m.Op {
		case ir.MutationCreate:
			out, err = s.create(ctx, tx, m)
			ev = ir.Event{Kind: ir.TriggerRecordCreated, Record: out}
		case ir.MutationUpdate:
			var prev ir.Record
			out, prev, err = s.update(ctx, tx, m)
			ev = ir.Event{Kind: ir.TriggerRecordUpdated, Record: out, Previous: prev}
		case ir.MutationDelete:
			out, err = s.delete(ctx, tx, m)
			ev = ir.Event{Kind: ir.TriggerRecordDeleted, Record: out}
		default:
			err = fmt.Errorf("unknown mutation %q", m.Op)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.sink != nil {
		ev.TenantID = m.TenantID
		ev.EntityType = m.EntityType
		ev.RecordID, _ = out["id"].(string)
		ev.Actor = m.Actor
		ev.FlowToken = m.FlowToken
		ev.OccurredAt = s.now().UTC()
		if err := s.sink.Notify(ctx, ev); err != nil {
			slog.Warn("record event not delivered",
				"entity_type", m.EntityType,
				"record_id", ev.RecordID,
				"kind", ev.Kind,
				"error", err,
			)
		}
	}
	return out, nil
}

func (s *Store) create(ctx context.Context, tx *sql.Tx, m ir.Mutation) (ir.Record, error) {
	rec := maps.Clone(m.Fields)
	if rec == nil {
		rec = ir.Record{}
	}
	id := m.RecordID
	if id == "" {
		id, _ = rec["id"].(string)
	}
	if id == "" {
		id = s.ids.Generate()
	}
	rec["id"] = id

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s/%s: %w", m.EntityType, id, err)
	}
	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (entity_type, id, tenant_id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.EntityType, id, m.TenantID, string(data), now, now)
	if err != nil {
		return nil, fmt.Errorf("create %s/%s: %w", m.EntityType, id, err)
	}
	return roundTrip(rec)
}

func (s *Store) update(ctx context.Context, tx *sql.Tx, m ir.Mutation) (ir.Record, ir.Record, error) {
	prev, tenant, err := s.load(ctx, tx, m.EntityType, m.RecordID)
	if err != nil {
		return nil, nil, err
	}
	if tenant != m.TenantID {
		return nil, nil, fmt.Errorf("%s/%s: %w", m.EntityType, m.RecordID, ErrNotFound)
	}
	next := prev.Clone()
	maps.Copy(next, m.Fields)
	next["id"] = m.RecordID

	data, err := json.Marshal(next)
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s/%s: %w", m.EntityType, m.RecordID, err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE records SET data = ?, updated_at = ? WHERE entity_type = ? AND id = ?
	`, string(data), s.now().UTC().Format(time.RFC3339Nano), m.EntityType, m.RecordID)
	if err != nil {
		return nil, nil, fmt.Errorf("update %s/%s: %w", m.EntityType, m.RecordID, err)
	}
	out, err := roundTrip(next)
	return out, prev, err
}

func (s *Store) delete(ctx context.Context, tx *sql.Tx, m ir.Mutation) (ir.Record, error) {
	prev, tenant, err := s.load(ctx, tx, m.EntityType, m.RecordID)
	if err != nil {
		return nil, err
	}
	if tenant != m.TenantID {
		return nil, fmt.Errorf("%s/%s: %w", m.EntityType, m.RecordID, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE entity_type = ? AND id = ?`,
		m.EntityType, m.RecordID); err != nil {
		return nil, fmt.Errorf("delete %s/%s: %w", m.EntityType, m.RecordID, err)
	}
	return prev, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// roundTrip returns rec as it reads back from storage, so events carry the
// same JSON shapes (float64 numbers) as GetRecord.
func roundTrip(rec ir.Record) (ir.Record, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	out := ir.Record{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
