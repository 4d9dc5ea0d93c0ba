package harness

import (
	"strings"

	"github.com/roach88/fixsession/internal/session"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one line per observable event, in order.
	Trace []string `json:"trace"`

	Errors []string `json:"errors,omitempty"`

	// Final is the counter snapshot after the last step.
	Final session.Sequences `json:"final"`

	State    string             `json:"state"`
	Buffered int                `json:"buffered"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
}

func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []string{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(line string) {
	r.Trace = append(r.Trace, line)
}

// Golden renders the trace as stored in golden files: one line per event
// with a trailing newline.
func (r *Result) Golden() []byte {
	return []byte(strings.Join(r.Trace, "\n") + "\n")
}
