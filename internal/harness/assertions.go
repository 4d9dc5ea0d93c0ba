package harness

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// AssertionError is returned when an assertion fails. It carries the trace
// for context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []string
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, line := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s\n", i+1, line)
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func assertTraceContains(trace []string, a Assertion) error {
	for _, line := range trace {
		if line == a.Line {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: a.Line,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder requires each line to appear after the previous one.
// Intervening lines are allowed.
func assertTraceOrder(trace []string, a Assertion) error {
	pos := 0
	for _, want := range a.Lines {
		found := false
		for pos < len(trace) {
			line := trace[pos]
			pos++
			if line == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("lines in order: %q", a.Lines),
				Actual:   fmt.Sprintf("%q missing or out of order", want),
				Trace:    trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []string, a Assertion) error {
	count := 0
	for _, line := range trace {
		if line == a.Line {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %q", a.Count, a.Line),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState compares expected values with the final state. Numbers
// are compared by value whatever their YAML type.
func assertFinalState(result *Result, a Assertion) error {
	actual := finalState(result)

	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mismatches []string
	for _, k := range keys {
		got, ok := actual[k]
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("%s: no such value", k))
			continue
		}
		if !sameValue(a.Expect[k], got) {
			mismatches = append(mismatches, fmt.Sprintf("%s: expected %v, got %v", k, a.Expect[k], got))
		}
	}
	if len(mismatches) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("%v", a.Expect),
		Actual:   strings.Join(mismatches, "; "),
		Trace:    result.Trace,
	}
}

func finalState(result *Result) map[string]any {
	state := map[string]any{
		"expected_in":       result.Final.ExpectedIn,
		"next_out":          result.Final.NextOut,
		"last_processed_in": result.Final.LastProcessedIn,
		"state":             result.State,
		"buffered":          result.Buffered,
	}
	for name, v := range result.Metrics {
		state[name] = v
	}
	return state
}

func sameValue(want, got any) bool {
	w, wok := number(want)
	g, gok := number(got)
	if wok && gok {
		return w == g
	}
	return fmt.Sprint(want) == fmt.Sprint(got)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
