package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

func TestLoadDirInvoiceFixture(t *testing.T) {
	result, errs := LoadDir(filepath.Join("testdata", "invoice"), LoadModeCollectAll)
	require.Empty(t, errs)
	require.NotNil(t, result)

	assert.Equal(t, 1, result.FileCount)
	require.Len(t, result.Workflows, 1)
	wf := result.Workflows[0]
	assert.Equal(t, "invoice", wf.Key)
	assert.Equal(t, "acme", wf.TenantID)
	assert.Equal(t, "draft", wf.InitialStateID)
	assert.Equal(t, int64(72*3600), wf.States[1].SLASeconds)

	send, ok := wf.TransitionByName("draft", "send")
	require.True(t, ok)
	assert.Equal(t, ir.Requirement{Permission: "invoices:send"}, send.Requirement())

	require.Len(t, result.Rules, 3)
	byID := make(map[string]ir.AutomationRule)
	for _, r := range result.Rules {
		byID[r.ID] = r
	}
	assert.Equal(t, ir.TriggerScheduled, byID["nightly-overdue-sweep"].Trigger.Kind)
	assert.Equal(t, "0 2 * * *", byID["nightly-overdue-sweep"].Trigger.ConfigString("schedule"))
	assert.Equal(t, 2, byID["auto-send-approved"].Priority)
}

func TestLoadDirRejectsInvalidGraph(t *testing.T) {
	dir := t.TempDir()
	spec := `package test

workflow: broken: {
	entity_type: "x"
	states: {
		a: {initial: true}
		b: {}
	}
	transitions: [{name: "go", from: "a", to: "b"}]
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.cue"), []byte(spec), 0644))

	result, errs := LoadDir(dir, LoadModeCollectAll)
	require.Len(t, errs, 1)
	assert.Empty(t, result.Workflows)

	var loadErr *LoadError
	require.ErrorAs(t, errs[0], &loadErr)
	assert.Equal(t, ErrDeadEndState, loadErr.Code)
	assert.Contains(t, loadErr.Message, "workflow.broken")
}

func TestLoadDirCollectsAllErrors(t *testing.T) {
	dir := t.TempDir()
	spec := `package test

rule: one: {name: "one", trigger: {kind: "nope"}}
rule: two: {name: "two", trigger: {kind: "record_created"}}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.cue"), []byte(spec), 0644))

	_, errs := LoadDir(dir, LoadModeCollectAll)
	assert.Len(t, errs, 2)

	_, errs = LoadDir(dir, LoadModeFailFast)
	assert.Len(t, errs, 1)
}

func TestLoadDirErrors(t *testing.T) {
	_, errs := LoadDir(filepath.Join(t.TempDir(), "missing"), LoadModeFailFast)
	require.Len(t, errs, 1)
	var loadErr *LoadError
	require.ErrorAs(t, errs[0], &loadErr)
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)

	_, errs = LoadDir(t.TempDir(), LoadModeFailFast)
	require.Len(t, errs, 1)
	require.ErrorAs(t, errs[0], &loadErr)
	assert.Equal(t, ErrCodeNoFiles, loadErr.Code)
}

func TestLoadErrorFormat(t *testing.T) {
	err := &LoadError{Code: "E201", Message: "exactly one initial state required"}
	assert.Equal(t, "E201: exactly one initial state required", err.Error())
}
