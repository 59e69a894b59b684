package records

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
	"github.com/tbmahfudi/app-buildify-sub002/internal/store"
)

var t0 = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

type sinkFunc func(ctx context.Context, ev ir.Event) error

func (f sinkFunc) Notify(ctx context.Context, ev ir.Event) error { return f(ctx, ev) }

func newStore(t *testing.T) (*Store, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s.DB(),
		WithIDGenerator(ir.NewSequenceGenerator("rec")),
		WithNow(func() time.Time { return t0 }),
	), s
}

func TestCreateAssignsID(t *testing.T) {
	rs, _ := newStore(t)
	var got []ir.Event
	rs.SetSink(sinkFunc(func(_ context.Context, ev ir.Event) error {
		got = append(got, ev)
		return nil
	}))

	rec, err := rs.ApplyMutation(t.Context(), ir.Mutation{
		Op: ir.MutationCreate, TenantID: "acme", EntityType: "invoice",
		Fields: ir.Record{"amount": 10}, Actor: "u-1", FlowToken: "flow-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "rec-1", rec["id"])
	assert.Equal(t, 10.0, rec["amount"])

	require.Len(t, got, 1)
	assert.Equal(t, ir.TriggerRecordCreated, got[0].Kind)
	assert.Equal(t, "rec-1", got[0].RecordID)
	assert.Equal(t, "flow-1", got[0].FlowToken)
	assert.Equal(t, "u-1", got[0].Actor)
	assert.Equal(t, t0, got[0].OccurredAt)

	loaded, err := rs.GetRecord(t.Context(), "invoice", "rec-1")
	require.NoError(t, err)
	assert.Equal(t, rec, loaded)
}

func TestUpdateMergesAndReportsPrevious(t *testing.T) {
	rs, _ := newStore(t)
	require.NoError(t, rs.Seed(t.Context(), "acme", "invoice", ir.Record{"id": "inv-1", "status": "draft", "amount": 5}))

	var ev ir.Event
	rs.SetSink(sinkFunc(func(_ context.Context, e ir.Event) error {
		ev = e
		return nil
	}))
	rec, err := rs.ApplyMutation(t.Context(), ir.Mutation{
		Op: ir.MutationUpdate, TenantID: "acme", EntityType: "invoice", RecordID: "inv-1",
		Fields: ir.Record{"status": "sent"},
	})
	require.NoError(t, err)
	assert.Equal(t, ir.Record{"id": "inv-1", "status": "sent", "amount": 5.0}, rec)
	assert.Equal(t, ir.TriggerRecordUpdated, ev.Kind)
	assert.Equal(t, "draft", ev.Previous["status"])
	assert.Equal(t, []string{"status"}, ev.ChangedFields())
}

func TestDeleteCarriesSnapshot(t *testing.T) {
	rs, _ := newStore(t)
	require.NoError(t, rs.Seed(t.Context(), "acme", "invoice", ir.Record{"id": "inv-1", "amount": 5}))

	var ev ir.Event
	rs.SetSink(sinkFunc(func(_ context.Context, e ir.Event) error {
		ev = e
		return nil
	}))
	_, err := rs.ApplyMutation(t.Context(), ir.Mutation{
		Op: ir.MutationDelete, TenantID: "acme", EntityType: "invoice", RecordID: "inv-1",
	})
	require.NoError(t, err)
	assert.Equal(t, ir.TriggerRecordDeleted, ev.Kind)
	assert.Equal(t, 5.0, ev.Record["amount"])

	_, err = rs.GetRecord(t.Context(), "invoice", "inv-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOtherTenantCannotMutate(t *testing.T) {
	rs, _ := newStore(t)
	require.NoError(t, rs.Seed(t.Context(), "acme", "invoice", ir.Record{"id": "inv-1"}))

	_, err := rs.ApplyMutation(t.Context(), ir.Mutation{
		Op: ir.MutationUpdate, TenantID: "globex", EntityType: "invoice", RecordID: "inv-1",
		Fields: ir.Record{"x": 1},
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSinkRunsAfterCommit(t *testing.T) {
	rs, _ := newStore(t)
	// A nested mutation from inside the sink needs the single connection
	// free, and must see the outer write.
	rs.SetSink(sinkFunc(func(ctx context.Context, ev ir.Event) error {
		if ev.Kind != ir.TriggerRecordCreated || ev.EntityType != "invoice" {
			return nil
		}
		if _, err := rs.GetRecord(ctx, "invoice", ev.RecordID); err != nil {
			return err
		}
		_, err := rs.ApplyMutation(ctx, ir.Mutation{
			Op: ir.MutationCreate, TenantID: ev.TenantID, EntityType: "audit",
			Fields: ir.Record{"invoice": ev.RecordID}, FlowToken: ev.FlowToken,
		})
		return err
	}))

	_, err := rs.ApplyMutation(t.Context(), ir.Mutation{
		Op: ir.MutationCreate, TenantID: "acme", EntityType: "invoice", RecordID: "inv-9",
	})
	require.NoError(t, err)

	audit, err := rs.GetRecord(t.Context(), "audit", "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "inv-9", audit["invoice"])
}

func TestSinkFailureKeepsMutation(t *testing.T) {
	rs, _ := newStore(t)
	rs.SetSink(sinkFunc(func(context.Context, ir.Event) error { return errors.New("down") }))

	_, err := rs.ApplyMutation(t.Context(), ir.Mutation{
		Op: ir.MutationCreate, TenantID: "acme", EntityType: "invoice", RecordID: "inv-1",
	})
	require.NoError(t, err)
	_, err = rs.GetRecord(t.Context(), "invoice", "inv-1")
	require.NoError(t, err)
}

func TestUnknownOp(t *testing.T) {
	rs, _ := newStore(t)
	_, err := rs.ApplyMutation(t.Context(), ir.Mutation{Op: "upsert", EntityType: "invoice"})
	assert.ErrorContains(t, err, `unknown mutation "upsert"`)
}
