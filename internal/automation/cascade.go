package automation

import (
	"sync"
)

// DefaultMaxSteps bounds the rule firings one flow may cause.
const DefaultMaxSteps = 100

// cascadeGuard stops runaway automation. A flow is one external event and
// everything it causes synchronously: mutations that raise further record
// events and transitions that raise workflow_transition events all carry
// the originating flow token.
//
// Two checks run before a rule's actions:
//   - cycle: the same rule already fired for the same record in this flow
//   - quota: the flow already fired maxSteps rules
//
// State lives only while a flow is being handled; the outermost caller's
// release drops it.
type cascadeGuard struct {
	mu       sync.Mutex
	maxSteps int
	flows    map[string]*flowState
}

type flowState struct {
	refs  int
	steps int
	fired map[string]bool // firing keys
}

func newCascadeGuard(maxSteps int) *cascadeGuard {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &cascadeGuard{maxSteps: maxSteps, flows: make(map[string]*flowState)}
}

// enter registers a caller handling flowToken and returns its release.
func (g *cascadeGuard) enter(flowToken string) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	fs := g.flows[flowToken]
	if fs == nil {
		fs = &flowState{fired: make(map[string]bool)}
		g.flows[flowToken] = fs
	}
	fs.refs++

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		fs.refs--
		if fs.refs == 0 {
			delete(g.flows, flowToken)
		}
	}
}

// admit records a firing or returns the CascadeError that stops it.
// The flow must have been entered.
func (g *cascadeGuard) admit(flowToken, ruleID, firingKey string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	fs := g.flows[flowToken]
	if fs == nil {
		return nil
	}
	if fs.fired[firingKey] {
		return &CascadeError{Code: ErrCodeCycleDetected, FlowToken: flowToken, RuleID: ruleID}
	}
	if fs.steps >= g.maxSteps {
		return &CascadeError{
			Code:      ErrCodeQuotaExceeded,
			FlowToken: flowToken,
			RuleID:    ruleID,
			Steps:     fs.steps + 1,
			Limit:     g.maxSteps,
		}
	}
	fs.steps++
	fs.fired[firingKey] = true
	return nil
}

// active returns the number of flows being handled.
func (g *cascadeGuard) active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.flows)
}
