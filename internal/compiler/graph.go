package compiler

import (
	"fmt"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// Graph error codes (E200-E209)
const (
	ErrInitialStateCount    = "E201" // exactly one initial state required
	ErrDeadEndState         = "E202" // non-terminal state without outgoing transitions
	ErrUnreachableState     = "E203" // state not reachable from the initial state
	ErrUnreachableTerminal  = "E204" // non-initial terminal state not reachable
	ErrForeignEndpoint      = "E205" // transition endpoint outside the workflow
	ErrTerminalHasOutgoing  = "E206" // terminal state with outgoing transitions
	ErrInitialStateMismatch = "E207" // initial_state_id does not name the initial state
)

// ValidateGraph checks the structural soundness of a workflow definition.
// It runs at publish time; any violation blocks publish. All violations
// are returned as ir.ValidationErrors in a stable order.
func ValidateGraph(def *ir.WorkflowDefinition) error {
	var errs ir.ValidationErrors

	states := make(map[string]ir.WorkflowState, len(def.States))
	var initials []string
	for _, s := range def.States {
		states[s.ID] = s
		if s.IsInitial {
			initials = append(initials, s.ID)
		}
	}

	// E201 / E207
	var initial string
	switch len(initials) {
	case 1:
		initial = initials[0]
		if def.InitialStateID != "" && def.InitialStateID != initial {
			errs = append(errs, ir.ValidationError{
				Field:   "initial_state_id",
				Message: fmt.Sprintf("initial_state_id %q does not match initial state %q", def.InitialStateID, initial),
				Code:    ErrInitialStateMismatch,
			})
		}
	default:
		errs = append(errs, ir.ValidationError{
			Field:   "states",
			Message: fmt.Sprintf("exactly one initial state required, found %d", len(initials)),
			Code:    ErrInitialStateCount,
		})
	}

	// E205 / E206; adjacency over valid edges only.
	adjacency := make(map[string][]string)
	outgoing := make(map[string]int)
	for i, t := range def.Transitions {
		field := fmt.Sprintf("transitions[%d]", i)
		_, fromOK := states[t.FromStateID]
		_, toOK := states[t.ToStateID]
		if !fromOK {
			errs = append(errs, ir.ValidationError{
				Field:   field + ".from",
				Message: fmt.Sprintf("transition %q starts at unknown state %q", t.ID, t.FromStateID),
				Code:    ErrForeignEndpoint,
			})
		}
		if !toOK {
			errs = append(errs, ir.ValidationError{
				Field:   field + ".to",
				Message: fmt.Sprintf("transition %q ends at unknown state %q", t.ID, t.ToStateID),
				Code:    ErrForeignEndpoint,
			})
		}
		if !fromOK || !toOK {
			continue
		}
		if states[t.FromStateID].IsTerminal {
			errs = append(errs, ir.ValidationError{
				Field:   field + ".from",
				Message: fmt.Sprintf("terminal state %q has outgoing transition %q", t.FromStateID, t.ID),
				Code:    ErrTerminalHasOutgoing,
			})
		}
		adjacency[t.FromStateID] = append(adjacency[t.FromStateID], t.ToStateID)
		outgoing[t.FromStateID]++
	}

	// E202
	for _, s := range def.States {
		if !s.IsTerminal && outgoing[s.ID] == 0 {
			errs = append(errs, ir.ValidationError{
				Field:   "states." + s.ID,
				Message: fmt.Sprintf("state %q is not terminal and has no outgoing transition", s.ID),
				Code:    ErrDeadEndState,
			})
		}
	}

	// E203 / E204: reachability needs a unique starting point.
	if initial != "" {
		reached := reachable(initial, adjacency)
		for _, s := range def.States {
			if reached[s.ID] {
				continue
			}
			code, msg := ErrUnreachableState, "state %q is not reachable from the initial state"
			if s.IsTerminal {
				code, msg = ErrUnreachableTerminal, "terminal state %q is not reachable from the initial state"
			}
			errs = append(errs, ir.ValidationError{
				Field:   "states." + s.ID,
				Message: fmt.Sprintf(msg, s.ID),
				Code:    code,
			})
		}
	}

	return errs.Err()
}

// reachable returns every state reachable from start, start included.
func reachable(start string, adjacency map[string][]string) map[string]bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}
