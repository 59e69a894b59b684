package ir

// Version constants for the ledger schema and engine.
const (
	// SchemaVersion is the ledger document schema version.
	SchemaVersion = "1"

	// EngineVersion is the workflow/automation engine version.
	EngineVersion = "0.3.0"
)
