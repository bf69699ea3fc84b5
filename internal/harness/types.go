package harness

import "github.com/roach88/livekv/internal/ir"

// Trace entry types.
const (
	TraceSeed       = "seed"
	TraceSubscribe  = "subscribe"
	TraceWrite      = "write"
	TraceWriteError = "write_error"
	TraceEmit       = "emit"
	TraceError      = "error"
	TraceNone       = "none"
)

// TraceEvent is one observable step of a scenario run.
type TraceEvent struct {
	Step  int      `json:"step"`
	Type  string   `json:"type"`
	View  string   `json:"view,omitempty"`
	Value ir.Value `json:"value,omitempty"`
	Code  string   `json:"code,omitempty"`
}

// Object renders the entry for canonical encoding.
func (e TraceEvent) Object() ir.Object {
	obj := ir.Object{
		"step": ir.Int(e.Step),
		"type": ir.String(e.Type),
	}
	if e.View != "" {
		obj["view"] = ir.String(e.View)
	}
	if e.Value != nil {
		obj["value"] = e.Value
	}
	if e.Code != "" {
		obj["code"] = ir.String(e.Code)
	}
	return obj
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect step and assertion matched.
	Pass bool `json:"pass"`

	// Trace holds the observable steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
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

// AddTrace appends a trace entry.
func (r *Result) AddTrace(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}

// TraceObject renders the scenario trace as a canonical object.
func (r *Result) TraceObject(name string) ir.Object {
	trace := make(ir.Array, len(r.Trace))
	for i, e := range r.Trace {
		trace[i] = e.Object()
	}
	return ir.Object{
		"scenario_name": ir.String(name),
		"trace":         trace,
	}
}
