package harness

import (
	"github.com/roach88/eventsync/internal/dispatch"
	"github.com/roach88/eventsync/internal/state"
)

// TraceEvent is one line of a scenario trace.
type TraceEvent struct {
	Step    int      `json:"step"`
	Action  string   `json:"action"`
	EventID string   `json:"event,omitempty"`
	Type    string   `json:"type,omitempty"`
	Stream  string   `json:"stream,omitempty"`
	Seq     *int64   `json:"seq,omitempty"`
	Outcome string   `json:"outcome,omitempty"`
	Detail  string   `json:"detail,omitempty"`
	ID      string   `json:"id,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent   `json:"trace"`
	Errors []string       `json:"errors,omitempty"`
	Stats  dispatch.Stats `json:"stats"`

	// Snapshot is the store contents after the last step.
	Snapshot state.Snapshot `json:"snapshot"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a trace event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
