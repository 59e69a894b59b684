// Package store provides SQLite-backed durable storage for workflow
// definitions, instances, automation rules and the append-only ledger.
//
// The ledger consists of:
//   - Workflow history: one entry per start, transition or cancel
//   - Automation executions: one entry per rule evaluation, including skips
//
// # Critical Patterns
//
// Append-only ledger
//   - UPDATE and DELETE on ledger tables abort via triggers
//   - No store method mutates or removes a ledger row
//
// Optimistic concurrency
//   - AdvanceInstance is a compare-and-swap on workflow_instances.version
//   - The CAS and its history entry commit in one transaction
//
// Deterministic query results
//   - Ledger queries order by seq ASC, id ASC COLLATE BINARY
//   - Rule listings order by priority ASC, id ASC COLLATE BINARY
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// JSON columns are written with ir.MarshalCanonical so stored documents are
// byte-stable.
package store
