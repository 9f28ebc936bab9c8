package harness

// Step outcomes recorded in the trace.
const (
	OutcomeApplied  = "applied"
	OutcomeQueued   = "queued"
	OutcomeRejected = "rejected"
	OutcomeInvalid  = "invalid"
	OutcomeOK       = "ok"
)

// TraceEvent is one executed flow step.
type TraceEvent struct {
	Step    int            `json:"step"`
	Device  string         `json:"device,omitempty"`
	Op      string         `json:"op"`
	Args    map[string]any `json:"args,omitempty"`
	Outcome string         `json:"outcome"`
	Code    string         `json:"code,omitempty"`
	Result  map[string]any `json:"result,omitempty"`
}

// label is "device.op", or just op for authority-wide steps.
func (e TraceEvent) label() string {
	if e.Device == "" {
		return e.Op
	}
	return e.Device + "." + e.Op
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace holds one event per flow step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists failed expectations. Empty if Pass is true.
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

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step to the trace.
func (r *Result) AddTrace(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}
