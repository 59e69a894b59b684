package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const invoiceSpecs = "../compiler/testdata/invoice"

// rawResponse decodes a CLIResponse keeping the payload for a second pass.
type rawResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

// execute runs the root command with args and returns what it wrote to
// stdout.
func execute(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return buf, err
}

// executeJSON runs args with --format json and decodes the response. data
// receives the payload when non-nil.
func executeJSON(t *testing.T, data any, args ...string) (rawResponse, error) {
	t.Helper()
	buf, err := execute(t, append(args, "--format", "json")...)
	var resp rawResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp), "output: %s", buf.String())
	if data != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp, err
}

// loadedDB returns a database with the invoice specs loaded and published.
func loadedDB(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "buildify.db")
	_, err := execute(t, "load", invoiceSpecs, "--publish", "--db", db)
	require.NoError(t, err)
	return db
}
