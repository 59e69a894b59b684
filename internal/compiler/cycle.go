package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// CycleWarning represents a potential cascade loop between automation rules.
//
// Cycles are warnings, not errors, because they may be intentional (a rule
// that updates a record until a condition stops holding). At run time the
// cascade guards stop runaway loops.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["rule-a", "rule-b", "rule-a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning"
}

// AnalyzeRuleCycles performs static cycle analysis on automation rules.
//
// The algorithm:
//  1. Build a rule → rule graph: an edge r1 → r2 exists when one of r1's
//     actions can produce an event that r2's trigger listens for
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a potential cycle
//
// Rules with no cycles return an empty warning list.
func AnalyzeRuleCycles(rules []ir.AutomationRule) []CycleWarning {
	if len(rules) == 0 {
		return []CycleWarning{}
	}

	graph := buildRuleGraph(rules)
	sccs := tarjanSCC(graph)

	warnings := []CycleWarning{}
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	slices.SortFunc(warnings, func(a, b CycleWarning) int {
		return strings.Compare(a.Path[0], b.Path[0])
	})
	return warnings
}

// dependencyGraph maps rule_id → rule_ids that could be triggered.
type dependencyGraph map[string][]string

// eventKey names a class of trigger events: kind plus entity type.
type eventKey struct {
	kind       ir.TriggerKind
	entityType string
}

// producedEvents lists the events an action may cause. entityType is the
// entity the rule itself reacts to, used when params leave it out.
func producedEvents(spec ir.ActionSpec, entityType string) []eventKey {
	target, _ := spec.Params["entity_type"].(string)
	if target == "" {
		target = entityType
	}
	switch spec.Type {
	case "mutate-record":
		switch op, _ := spec.Params["operation"].(string); ir.MutationOp(op) {
		case ir.MutationCreate:
			return []eventKey{{ir.TriggerRecordCreated, target}}
		case ir.MutationDelete:
			return []eventKey{{ir.TriggerRecordDeleted, target}}
		default:
			return []eventKey{{ir.TriggerRecordUpdated, target}}
		}
	case "trigger-workflow-transition":
		return []eventKey{{ir.TriggerWorkflowTransition, target}}
	}
	return nil
}

// buildRuleGraph constructs the rule dependency graph.
func buildRuleGraph(rules []ir.AutomationRule) dependencyGraph {
	graph := make(dependencyGraph)

	listeners := make(map[eventKey][]string)
	for _, r := range rules {
		if !r.Trigger.Kind.IsPush() {
			continue
		}
		k := eventKey{r.Trigger.Kind, r.Trigger.EntityType}
		listeners[k] = append(listeners[k], r.ID)
	}

	for _, r := range rules {
		if graph[r.ID] == nil {
			graph[r.ID] = []string{}
		}
		for _, spec := range r.Actions {
			for _, ev := range producedEvents(spec, r.Trigger.EntityType) {
				for _, target := range listeners[ev] {
					if !slices.Contains(graph[r.ID], target) {
						graph[r.ID] = append(graph[r.ID], target)
					}
				}
			}
		}
	}
	return graph
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so results are deterministic.
func tarjanSCC(graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning. The path starts at
// the lowest rule id.
func cycleSCCToWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		id := scc[0]
		return CycleWarning{
			Path:    []string{id, id},
			Message: fmt.Sprintf("Self-triggering rule detected: %s → %s", id, id),
			Level:   "warning",
		}
	}

	sorted := slices.Clone(scc)
	slices.Sort(sorted)
	path := reconstructCyclePath(sorted, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Potential cascade cycle detected: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath follows edges within the SCC from its first member
// until it returns there.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
