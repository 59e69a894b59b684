// Package harness runs YAML scenarios against the real workflow and
// automation engines.
//
// Each scenario gets a fresh in-memory database, a fixed clock, sequential
// ids and an in-memory notification outbox, so the same scenario always
// produces the same trace.
//
// # Scenario Format
//
//	name: invoice_approval
//	description: "Approving an invoice sends it"
//	tenant: acme
//	start: "2025-06-02T08:00:00Z"
//	specs:
//	  - specs/invoice            # CUE directory, relative to this file
//	actors:
//	  clerk: { user_id: clerk-1, roles: [clerk] }
//	records:
//	  - entity_type: invoice
//	    data: { id: inv-1, amount: 5000 }
//	steps:
//	  - start: { workflow: invoice, record: inv-1, actor: clerk, as: inv }
//	    expect: { state: draft }
//	  - transition: { instance: inv, transition: send, actor: clerk }
//	    expect: { error: permission_denied }
//	  - event: { op: update, entity_type: invoice, id: inv-1, fields: { approved: true } }
//	  - fire: { rule: notify-large-invoice, actor: clerk, test: true }
//	  - run_due: { at: "2025-06-03T02:30:00Z" }
//	assertions:
//	  - { type: instance, instance: inv, state: sent, status: active, history: 2 }
//	  - { type: executions, rule: auto-send-approved, statuses: [success] }
//	  - { type: notifications, count: 2 }
//
// Step expectations name an error kind (see ErrorKind) or the state and
// status the step leaves behind. A step without an expectation must succeed.
//
// # Trace
//
// For each step the trace holds the step's outcome, then the history
// entries and executions it appended in ledger order, then the
// notifications it delivered. Snapshot renders the trace as canonical JSON
// lines for golden comparison.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/invoice_approval.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
package harness
