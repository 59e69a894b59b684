package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// DefaultStart is the clock reading of a scenario that sets no start.
var DefaultStart = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

// Scenario is one YAML-defined run of the workflow and automation engines.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs lists directories of CUE workflow and rule documents. Relative
	// paths resolve against the scenario file. Workflows are published as
	// they load.
	Specs []string `yaml:"specs"`

	// Tenant is the tenant of every actor and record in the scenario.
	Tenant string `yaml:"tenant"`

	// Start is the initial clock reading (RFC 3339). Defaults to DefaultStart.
	Start string `yaml:"start,omitempty"`

	// Actors names the actors steps refer to. A step naming an unknown
	// actor acts as a bare user id with no claims.
	Actors map[string]ActorSpec `yaml:"actors,omitempty"`

	// Records are stored before the first step without raising events.
	Records []SeedRecord `yaml:"records,omitempty"`

	// Reject lists notification recipients whose delivery fails.
	Reject []string `yaml:"reject,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// ActorSpec carries an actor's claims.
type ActorSpec struct {
	UserID      string   `yaml:"user_id"`
	Roles       []string `yaml:"roles,omitempty"`
	Permissions []string `yaml:"permissions,omitempty"`
}

// SeedRecord is a record present before the scenario starts.
type SeedRecord struct {
	EntityType string         `yaml:"entity_type"`
	Data       map[string]any `yaml:"data"`
}

// Step is one operation. Exactly one of the operation fields is set.
type Step struct {
	Start      *StartStep      `yaml:"start,omitempty"`
	Transition *TransitionStep `yaml:"transition,omitempty"`
	Cancel     *CancelStep     `yaml:"cancel,omitempty"`
	Event      *EventStep      `yaml:"event,omitempty"`
	Fire       *FireStep       `yaml:"fire,omitempty"`
	RunDue     *RunDueStep     `yaml:"run_due,omitempty"`

	// Expect checks the step's outcome. Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// StartStep starts a workflow instance on a record.
type StartStep struct {
	Workflow string `yaml:"workflow"` // definition id or key
	Record   string `yaml:"record"`
	Actor    string `yaml:"actor"`
	As       string `yaml:"as,omitempty"` // alias later steps use
}

// TransitionStep executes a transition. ExpectedVersion defaults to the
// instance's current version.
type TransitionStep struct {
	Instance        string `yaml:"instance"`
	Transition      string `yaml:"transition"`
	Actor           string `yaml:"actor"`
	ExpectedVersion *int64 `yaml:"expected_version,omitempty"`
}

// CancelStep cancels an instance.
type CancelStep struct {
	Instance string `yaml:"instance"`
	Actor    string `yaml:"actor"`
}

// EventStep mutates a record through the record store, which pushes the
// resulting event to the rule engine.
type EventStep struct {
	Op         ir.MutationOp  `yaml:"op"`
	EntityType string         `yaml:"entity_type"`
	ID         string         `yaml:"id"`
	Fields     map[string]any `yaml:"fields,omitempty"`
	Actor      string         `yaml:"actor,omitempty"`
}

// FireStep fires a rule directly. With Test set the rule is previewed.
type FireStep struct {
	Rule   string         `yaml:"rule"`
	Record map[string]any `yaml:"record,omitempty"`
	Actor  string         `yaml:"actor"`
	Test   bool           `yaml:"test,omitempty"`
}

// RunDueStep moves the clock to At and runs due scheduled rules.
type RunDueStep struct {
	At string `yaml:"at"`
}

// Expect is a step's expected outcome.
type Expect struct {
	Error  string `yaml:"error,omitempty"`  // error kind, see ErrorKind
	State  string `yaml:"state,omitempty"`  // instance state after the step
	Status string `yaml:"status,omitempty"` // instance or execution status
}

// Assertion validates the final state of the run.
type Assertion struct {
	// Type selects the check:
	// - "instance": an instance's state, status and history length
	// - "executions": the statuses of one rule's executions, in ledger order
	// - "notifications": how many notifications were delivered
	Type string `yaml:"type"`

	Instance string `yaml:"instance,omitempty"`
	State    string `yaml:"state,omitempty"`
	Status   string `yaml:"status,omitempty"`
	History  *int   `yaml:"history,omitempty"`

	Rule     string   `yaml:"rule,omitempty"`
	Statuses []string `yaml:"statuses,omitempty"`

	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertInstance      = "instance"
	AssertExecutions    = "executions"
	AssertNotifications = "notifications"
)

// Op names the operation a step performs.
func (s *Step) Op() string {
	switch {
	case s.Start != nil:
		return "start"
	case s.Transition != nil:
		return "transition"
	case s.Cancel != nil:
		return "cancel"
	case s.Event != nil:
		return "event"
	case s.Fire != nil:
		return "fire"
	case s.RunDue != nil:
		return "run_due"
	}
	return ""
}

func (s *Step) opCount() int {
	n := 0
	for _, set := range []bool{s.Start != nil, s.Transition != nil, s.Cancel != nil,
		s.Event != nil, s.Fire != nil, s.RunDue != nil} {
		if set {
			n++
		}
	}
	return n
}

// StartTime parses Start.
func (s *Scenario) StartTime() (time.Time, error) {
	if s.Start == "" {
		return DefaultStart, nil
	}
	t, err := time.Parse(time.RFC3339, s.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("start: %w", err)
	}
	return t.UTC(), nil
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected. Relative spec paths resolve against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, spec := range scenario.Specs {
		if !filepath.IsAbs(spec) {
			scenario.Specs[i] = filepath.Join(base, spec)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if s.Tenant == "" {
		return errors.New("tenant is required")
	}
	if len(s.Specs) == 0 {
		return errors.New("specs list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return errors.New("steps list is required and must be non-empty")
	}
	if _, err := s.StartTime(); err != nil {
		return err
	}

	for _, spec := range s.Specs {
		if _, err := os.Stat(spec); os.IsNotExist(err) {
			return fmt.Errorf("spec directory not found: %s", spec)
		}
	}

	for i, r := range s.Records {
		if r.EntityType == "" {
			return fmt.Errorf("records[%d]: entity_type is required", i)
		}
		if id, _ := r.Data["id"].(string); id == "" {
			return fmt.Errorf("records[%d]: data.id is required", i)
		}
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, s *Step) error {
	if n := s.opCount(); n != 1 {
		return fmt.Errorf("steps[%d]: exactly one operation is required, found %d", i, n)
	}
	switch {
	case s.Start != nil:
		if s.Start.Workflow == "" || s.Start.Record == "" {
			return fmt.Errorf("steps[%d].start: workflow and record are required", i)
		}
	case s.Transition != nil:
		if s.Transition.Instance == "" || s.Transition.Transition == "" {
			return fmt.Errorf("steps[%d].transition: instance and transition are required", i)
		}
	case s.Cancel != nil:
		if s.Cancel.Instance == "" {
			return fmt.Errorf("steps[%d].cancel: instance is required", i)
		}
	case s.Event != nil:
		switch s.Event.Op {
		case ir.MutationCreate, ir.MutationUpdate, ir.MutationDelete:
		default:
			return fmt.Errorf("steps[%d].event: op must be create, update or delete, got %q", i, s.Event.Op)
		}
		if s.Event.EntityType == "" {
			return fmt.Errorf("steps[%d].event: entity_type is required", i)
		}
		if s.Event.Op != ir.MutationCreate && s.Event.ID == "" {
			return fmt.Errorf("steps[%d].event: id is required for %s", i, s.Event.Op)
		}
	case s.Fire != nil:
		if s.Fire.Rule == "" {
			return fmt.Errorf("steps[%d].fire: rule is required", i)
		}
	case s.RunDue != nil:
		if _, err := time.Parse(time.RFC3339, s.RunDue.At); err != nil {
			return fmt.Errorf("steps[%d].run_due: at: %w", i, err)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertInstance:
		if a.Instance == "" {
			return fmt.Errorf("assertions[%d]: instance is required for instance", index)
		}
		if a.State == "" && a.Status == "" && a.History == nil {
			return fmt.Errorf("assertions[%d]: instance needs state, status or history", index)
		}
	case AssertExecutions:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for executions", index)
		}
	case AssertNotifications:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for notifications", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
