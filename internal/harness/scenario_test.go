package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "specs"), 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalScenario = `
name: minimal
description: "One start"
tenant: acme
specs: [specs]
steps:
  - start: { workflow: invoice, record: inv-1, actor: clerk }
`

func TestLoadScenario_ResolvesSpecsAgainstFile(t *testing.T) {
	path := writeScenario(t, minimalScenario)

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", sc.Name)
	assert.Equal(t, []string{filepath.Join(filepath.Dir(path), "specs")}, sc.Specs)
	require.Len(t, sc.Steps, 1)
	assert.Equal(t, "start", sc.Steps[0].Op())

	start, err := sc.StartTime()
	require.NoError(t, err)
	assert.Equal(t, DefaultStart, start)
}

func TestLoadScenario_Fields(t *testing.T) {
	sc, err := LoadScenario(filepath.Join("testdata", "invoice_approval.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "acme", sc.Tenant)
	assert.Equal(t, ActorSpec{UserID: "acct-1", Roles: []string{"accountant"}}, sc.Actors["accountant"])
	require.Len(t, sc.Steps, 6)
	ev := sc.Steps[0].Event
	require.NotNil(t, ev)
	assert.Equal(t, ir.MutationCreate, ev.Op)
	assert.Equal(t, 5000, ev.Fields["amount"])
	assert.Equal(t, "permission_denied", sc.Steps[2].Expect.Error)
	assert.Equal(t, "run_due", sc.Steps[5].Op())
	require.Len(t, sc.Assertions, 5)
	assert.Equal(t, 3, *sc.Assertions[0].History)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, minimalScenario+"assertion: []\n")

	_, err := LoadScenario(path)
	assert.ErrorContains(t, err, "failed to parse YAML")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "no name",
			body: "description: d\ntenant: acme\nspecs: [specs]\nsteps: [{cancel: {instance: i}}]\n",
			want: "name is required",
		},
		{
			name: "no tenant",
			body: "name: n\ndescription: d\nspecs: [specs]\nsteps: [{cancel: {instance: i}}]\n",
			want: "tenant is required",
		},
		{
			name: "missing specs dir",
			body: "name: n\ndescription: d\ntenant: acme\nspecs: [elsewhere]\nsteps: [{cancel: {instance: i}}]\n",
			want: "spec directory not found",
		},
		{
			name: "two operations",
			body: "name: n\ndescription: d\ntenant: acme\nspecs: [specs]\nsteps: [{cancel: {instance: i}, run_due: {at: \"2025-06-02T00:00:00Z\"}}]\n",
			want: "steps[0]: exactly one operation is required, found 2",
		},
		{
			name: "no operation",
			body: "name: n\ndescription: d\ntenant: acme\nspecs: [specs]\nsteps: [{expect: {state: x}}]\n",
			want: "found 0",
		},
		{
			name: "bad event op",
			body: "name: n\ndescription: d\ntenant: acme\nspecs: [specs]\nsteps: [{event: {op: upsert, entity_type: invoice, id: x}}]\n",
			want: `op must be create, update or delete, got "upsert"`,
		},
		{
			name: "update without id",
			body: "name: n\ndescription: d\ntenant: acme\nspecs: [specs]\nsteps: [{event: {op: update, entity_type: invoice}}]\n",
			want: "id is required for update",
		},
		{
			name: "bad run_due time",
			body: "name: n\ndescription: d\ntenant: acme\nspecs: [specs]\nsteps: [{run_due: {at: tomorrow}}]\n",
			want: "steps[0].run_due: at:",
		},
		{
			name: "seed without id",
			body: "name: n\ndescription: d\ntenant: acme\nspecs: [specs]\nrecords: [{entity_type: invoice, data: {amount: 1}}]\nsteps: [{cancel: {instance: i}}]\n",
			want: "records[0]: data.id is required",
		},
		{
			name: "unknown assertion",
			body: "name: n\ndescription: d\ntenant: acme\nspecs: [specs]\nsteps: [{cancel: {instance: i}}]\nassertions: [{type: trace_contains}]\n",
			want: `unknown assertion type "trace_contains"`,
		},
		{
			name: "empty instance assertion",
			body: "name: n\ndescription: d\ntenant: acme\nspecs: [specs]\nsteps: [{cancel: {instance: i}}]\nassertions: [{type: instance, instance: i}]\n",
			want: "instance needs state, status or history",
		},
		{
			name: "notifications without count",
			body: "name: n\ndescription: d\ntenant: acme\nspecs: [specs]\nsteps: [{cancel: {instance: i}}]\nassertions: [{type: notifications}]\n",
			want: "count must be non-negative",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.body))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
