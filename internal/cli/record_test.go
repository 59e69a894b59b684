package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

func TestRecordCommands_UpdateDrivesAutomation(t *testing.T) {
	db := loadedDB(t)
	inst := startInvoice(t, db)

	var rec ir.Record
	_, err := executeJSON(t, &rec, "record", "update", "invoice", "inv-1", "--data", `{"approved":true}`,
		"--tenant", "acme", "--user", "clerk-1", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, true, rec["approved"])
	assert.Equal(t, "INV-1", rec["number"], "updates merge fields")

	// auto-send-approved moved the instance as the automation actor.
	var history []ir.WorkflowHistoryEntry
	_, err = executeJSON(t, &history, "instance", "history", inst.ID, "--db", db)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "sent", history[1].ToStateID)
	assert.Equal(t, "system:automation", history[1].Actor)

	rec = nil
	_, err = executeJSON(t, &rec, "record", "get", "invoice", "inv-1", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "inv-1", rec["id"])
}

func TestRecordCommands_CreateAssignsID(t *testing.T) {
	db := loadedDB(t)

	var rec ir.Record
	_, err := executeJSON(t, &rec, "record", "create", "invoice", "--data", `{"amount":5}`,
		"--tenant", "acme", "--user", "clerk-1", "--db", db)
	require.NoError(t, err)
	assert.NotEmpty(t, rec["id"])
}

func TestRecordCommands_DeleteAndMissing(t *testing.T) {
	db := loadedDB(t)
	startInvoice(t, db)

	buf, err := execute(t, "record", "delete", "invoice", "inv-1",
		"--tenant", "acme", "--user", "clerk-1", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ delete invoice/inv-1")

	resp, err := executeJSON(t, nil, "record", "get", "invoice", "inv-1", "--db", db)
	require.Error(t, err)
	assert.Equal(t, "E_NOT_FOUND", resp.Error.Code)
}
