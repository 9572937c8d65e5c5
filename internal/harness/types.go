package harness

// TraceEvent records one executed flow step.
type TraceEvent struct {
	Seq int64 `json:"seq"`
	// Action is the step label, "<op>:<class>" or "call:<function>".
	Action string `json:"action"`
	// ID is the resolved objectId of update and get steps.
	ID     string `json:"id,omitempty"`
	Status int    `json:"status,omitempty"`
	// Error is the code name of a failed step.
	Error    string `json:"error,omitempty"`
	Response any    `json:"response,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains the flow steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
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

// addTrace appends a step to the trace.
func (r *Result) addTrace(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
