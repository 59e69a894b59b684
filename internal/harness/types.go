package harness

// Trace event types.
const (
	TraceStep         = "step"
	TraceHistory      = "history"
	TraceExecution    = "execution"
	TraceNotification = "notification"
)

// TraceEvent is one line of a scenario trace. Fields irrelevant to the
// event's type are left empty. Instances are named by their scenario alias
// and ids are omitted, so traces are stable across runs.
type TraceEvent struct {
	Type string `json:"type"`

	// step
	Step  int    `json:"step,omitempty"`
	Op    string `json:"op,omitempty"`
	Error string `json:"error,omitempty"`
	Fired int    `json:"fired,omitempty"`

	// step, history
	Instance string `json:"instance,omitempty"`
	Record   string `json:"record,omitempty"`
	State    string `json:"state,omitempty"`

	// step, execution
	Rule   string `json:"rule,omitempty"`
	Status string `json:"status,omitempty"`

	// history
	Event      string `json:"event,omitempty"`
	From       string `json:"from,omitempty"`
	Transition string `json:"transition,omitempty"`
	Actor      string `json:"actor,omitempty"`
	Failures   int    `json:"failures,omitempty"`

	// execution
	Trigger string   `json:"trigger,omitempty"`
	Actions []string `json:"actions,omitempty"`
	Detail  string   `json:"detail,omitempty"`
	Test    bool     `json:"test,omitempty"`

	// history (target state), notification (recipient)
	To string `json:"to,omitempty"`

	// notification
	Subject string `json:"subject,omitempty"`
	Message string `json:"message,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step met its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace lists, per step, the step's outcome followed by the ledger
	// entries it appended in seq order and the notifications it delivered.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
