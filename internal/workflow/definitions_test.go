package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbmahfudi/app-buildify-sub002/internal/compiler"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

func TestCreateDefinitionDefaults(t *testing.T) {
	f := newFixture(t)
	def := invoiceDraft()
	def.ID = ""
	def.Key = ""

	created, err := f.engine.CreateDefinition(t.Context(), def)
	require.NoError(t, err)
	assert.Equal(t, "id-1", created.ID)
	assert.Equal(t, "id-1", created.Key)
	assert.Equal(t, 1, created.Version)
	assert.Equal(t, ir.DefinitionDraft, created.Status)
	assert.Equal(t, "draft", created.InitialStateID)
	for _, s := range created.States {
		assert.Equal(t, "id-1", s.WorkflowID)
	}
	assert.Empty(t, def.States[0].WorkflowID, "input is not mutated")
}

func TestCreateDefinitionRejectsInvalidFields(t *testing.T) {
	f := newFixture(t)
	def := invoiceDraft()
	def.Name = ""
	def.Transitions[0].Guard = ir.Condition(`{"field":"amount","op":"between","value":1}`)

	_, err := f.engine.CreateDefinition(t.Context(), def)
	errs, ok := ir.AsValidationErrors(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, []string{compiler.ErrDefinitionNameEmpty, compiler.ErrInvalidGuard}, errs.Codes())

	list, err := f.engine.ListDefinitions(t.Context(), "acme")
	require.NoError(t, err)
	assert.Empty(t, list, "nothing persisted")
}

func TestPublishValidatesGraph(t *testing.T) {
	f := newFixture(t)
	def := invoiceDraft()
	def.States = append(def.States, ir.WorkflowState{ID: "limbo", Name: "Limbo"})

	_, err := f.engine.CreateDefinition(t.Context(), def)
	require.NoError(t, err, "graph rules wait for publish")

	_, err = f.engine.Publish(t.Context(), def.ID)
	errs, ok := ir.AsValidationErrors(err)
	require.True(t, ok, "got %v", err)
	assert.Contains(t, errs.Codes(), compiler.ErrDeadEndState)
	assert.Contains(t, errs.Codes(), compiler.ErrUnreachableState)

	still, err := f.engine.GetDefinition(t.Context(), def.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.DefinitionDraft, still.Status)
}

func TestPublishValidatesActions(t *testing.T) {
	f := newFixture(t)
	def := invoiceDraft()
	def.States[1].OnEntry = append(def.States[1].OnEntry,
		ir.ActionSpec{Type: "send-fax", Params: map[string]any{"to": "x"}},
		ir.ActionSpec{Type: "send-notification", Params: map[string]any{"to": "finance"}},
	)
	_, err := f.engine.CreateDefinition(t.Context(), def)
	require.NoError(t, err)

	_, err = f.engine.Publish(t.Context(), def.ID)
	errs, ok := ir.AsValidationErrors(err)
	require.True(t, ok, "got %v", err)
	require.Len(t, errs, 2)
	assert.Equal(t, compiler.ErrInvalidActionParams, errs[0].Code)
	assert.Equal(t, "states[1].on_entry[1]", errs[0].Field)
	assert.Equal(t, "states[1].on_entry[2]", errs[1].Field)
}

func TestDraftEditing(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	_, err := f.engine.CreateDefinition(ctx, invoiceDraft())
	require.NoError(t, err)

	d, err := f.engine.AddState(ctx, "invoice-v1", ir.WorkflowState{ID: "disputed", Name: "Disputed"})
	require.NoError(t, err)
	assert.Len(t, d.States, 5)

	d, err = f.engine.AddTransition(ctx, "invoice-v1", ir.WorkflowTransition{
		Name: "dispute", FromStateID: "sent", ToStateID: "disputed",
	})
	require.NoError(t, err)
	disputeID := d.Transitions[len(d.Transitions)-1].ID
	assert.NotEmpty(t, disputeID)

	_, err = f.engine.AddTransition(ctx, "invoice-v1", ir.WorkflowTransition{
		ID: "resolve", Name: "resolve", FromStateID: "disputed", ToStateID: "paid",
	})
	require.NoError(t, err)

	d, err = f.engine.UpdateState(ctx, "invoice-v1", ir.WorkflowState{ID: "disputed", Name: "In dispute", SLASeconds: 600})
	require.NoError(t, err)
	st, _ := d.State("disputed")
	assert.Equal(t, "In dispute", st.Name)

	d, err = f.engine.RemoveState(ctx, "invoice-v1", "disputed")
	require.NoError(t, err)
	_, found := d.Transition(disputeID)
	assert.False(t, found, "transitions touching a removed state go with it")
	_, found = d.Transition("resolve")
	assert.False(t, found)

	_, err = f.engine.RemoveTransition(ctx, "invoice-v1", "nope")
	assert.ErrorContains(t, err, `no transition "nope"`)

	_, err = f.engine.Publish(ctx, "invoice-v1")
	require.NoError(t, err)

	_, err = f.engine.AddState(ctx, "invoice-v1", ir.WorkflowState{ID: "late", Name: "Late"})
	assert.ErrorIs(t, err, ErrDefinitionImmutable)
	_, err = f.engine.Publish(ctx, "invoice-v1")
	assert.ErrorIs(t, err, ErrDefinitionImmutable)
	assert.ErrorIs(t, f.engine.DeleteDraft(ctx, "invoice-v1"), ErrDefinitionImmutable)
}

func TestNewVersionAndArchive(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.publish(t, invoiceDraft())
	running := f.start(t)

	v2, err := f.engine.NewVersion(ctx, "invoice-v1")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, "invoice", v2.Key)
	assert.Equal(t, ir.DefinitionDraft, v2.Status)
	assert.NotEqual(t, "invoice-v1", v2.ID)

	_, err = f.engine.NewVersion(ctx, v2.ID)
	assert.ErrorIs(t, err, ErrWorkflowNotPublished, "drafts are not a version source")

	// The key still resolves to v1 until v2 is published.
	inst, err := f.engine.StartInstance(ctx, "invoice", "inv-2", clerk)
	require.NoError(t, err)
	assert.Equal(t, "invoice-v1", inst.WorkflowID)

	_, err = f.engine.Publish(ctx, v2.ID)
	require.NoError(t, err)
	require.NoError(t, f.engine.Archive(ctx, "invoice-v1"))

	inst, err = f.engine.StartInstance(ctx, "invoice", "inv-3", clerk)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, inst.WorkflowID)

	_, err = f.engine.StartInstance(ctx, "invoice-v1", "inv-4", clerk)
	assert.ErrorIs(t, err, ErrWorkflowNotPublished)

	// Instances of an archived definition keep running.
	_, err = f.engine.ExecuteTransition(ctx, TransitionRequest{
		InstanceID: running.ID, TransitionID: "send", Actor: sales, Record: invoiceRecord(1),
	})
	require.NoError(t, err)
}

func TestDeleteDraft(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	_, err := f.engine.CreateDefinition(ctx, invoiceDraft())
	require.NoError(t, err)

	require.NoError(t, f.engine.DeleteDraft(ctx, "invoice-v1"))
	_, err = f.engine.GetDefinition(ctx, "invoice-v1")
	assert.True(t, IsNotFound(err))
}
