package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

func TestListExecutions_OrderAndLimit(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	// Inserted out of order on purpose.
	for _, seq := range []int64{3, 1, 2, 5, 4} {
		exec := testExecution(fmt.Sprintf("exec-%d", seq), "rule-1", seq)
		if seq == 4 {
			exec.RuleID = "rule-2"
			exec.Status = ir.ExecutionSkipped
		}
		require.NoError(t, s.AppendExecution(ctx, exec))
	}

	all, err := s.ListExecutions(ctx, ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, exec := range all {
		assert.Equal(t, int64(i+1), exec.Seq)
	}

	recent, err := s.ListExecutions(ctx, ExecutionFilter{RuleID: "rule-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "exec-3", recent[0].ID)
	assert.Equal(t, "exec-5", recent[1].ID)

	skipped, err := s.ListExecutions(ctx, ExecutionFilter{Status: ir.ExecutionSkipped})
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, "rule-2", skipped[0].RuleID)

	none, err := s.ListExecutions(ctx, ExecutionFilter{TenantID: "globex"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestMaxSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	seq, err := s.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)

	require.NoError(t, s.AppendExecution(ctx, testExecution("exec-1", "rule-1", 4)))
	inst := seedInstance(t, s) // history seq 1
	next, entry := advanced(inst, "sent", testTime)
	entry.Seq = 9
	require.NoError(t, s.AdvanceInstance(ctx, next, 0, entry))

	seq, err = s.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), seq)
}

func TestActiveInstancesWithSLA(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	inst := seedInstance(t, s)

	candidates, err := s.ActiveInstancesWithSLA(ctx)
	require.NoError(t, err)
	assert.Empty(t, candidates, "draft has no SLA")

	next, entry := advanced(inst, "sent", testTime.Add(time.Minute))
	require.NoError(t, s.AdvanceInstance(ctx, next, 0, entry))

	candidates, err = s.ActiveInstancesWithSLA(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "inst-1", candidates[0].Instance.ID)
	assert.Equal(t, int64(3600), candidates[0].SLASeconds)
	assert.True(t, candidates[0].Instance.StateEnteredAt.Equal(testTime.Add(time.Minute)))
}

func TestListInstances_Filter(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	def := testDefinition("wf-1")
	require.NoError(t, s.CreateDefinition(ctx, def))
	for _, id := range []string{"b", "a", "c"} {
		inst, entry := testInstance(id, def.ID)
		if id == "c" {
			inst.Status = ir.InstanceCancelled
		}
		require.NoError(t, s.CreateInstance(ctx, inst, entry))
	}

	active, err := s.ListInstances(ctx, InstanceFilter{TenantID: "acme", Status: ir.InstanceActive})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, "b", active[1].ID)

	byRecord, err := s.ListInstances(ctx, InstanceFilter{EntityType: "invoice", RecordID: "inv-c"})
	require.NoError(t, err)
	require.Len(t, byRecord, 1)
	assert.Equal(t, ir.InstanceCancelled, byRecord[0].Status)
}

func TestHistory_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)
	history, err := s.History(t.Context(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}
