// Package ir provides the canonical domain types shared by the workflow and
// automation engines.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal. This keeps ir the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Record snapshots are plain JSON-shaped maps (Record)
//   - Conditions and action parameters are stored as data, never as code
//   - All JSON tags use snake_case
//   - Ledger ordering uses the logical seq, wall-clock timestamps are informational
package ir
