package harness

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fixsession/internal/fix"
)

// Scenario is a scripted exchange with a simulated counterparty.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Settings overrides config.Default(), using the settings file keys.
	// Comp ids default to US (us) and THEM (the counterparty).
	Settings map[string]any `yaml:"settings,omitempty"`

	// Start seeds the counters after the logs are opened.
	Start *StartState `yaml:"start,omitempty"`

	Flow []FlowStep `yaml:"flow"`

	Assertions []Assertion `yaml:"assertions"`

	// SessionID fixes the instance ID. Defaults to "test-session".
	SessionID string `yaml:"session_id,omitempty"`
}

type StartState struct {
	ExpectedIn uint64 `yaml:"expected_in,omitempty"`
	NextOut    uint64 `yaml:"next_out,omitempty"`
}

// FlowStep is one message in or out. Exactly one of In and Send is set.
type FlowStep struct {
	// In is a message kind sent by the counterparty.
	In string `yaml:"in,omitempty"`

	// Send is a message kind sent by us through the session.
	Send string `yaml:"send,omitempty"`

	// Seq is the MsgSeqNum of an inbound message. Outbound messages are
	// numbered by the session.
	Seq uint64 `yaml:"seq,omitempty"`

	// PossDup marks an inbound message as a retransmission: PossDupFlag is
	// set and OrigSendingTime carries the original SendingTime.
	PossDup bool `yaml:"possdup,omitempty"`

	// Fields adds body fields, emitted in tag order.
	Fields map[int]string `yaml:"fields,omitempty"`

	// AdvanceMs moves the clock forward before the step runs.
	AdvanceMs int64 `yaml:"advance_ms,omitempty"`

	// Expect is "ok" or the FaultCode the step raises. Empty skips the check.
	Expect string `yaml:"expect,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Line is the trace line for trace_contains and trace_count.
	Line string `yaml:"line,omitempty"`

	// Lines is the expected order for trace_order.
	Lines []string `yaml:"lines,omitempty"`

	// Count is the expected number of occurrences for trace_count.
	Count int `yaml:"count,omitempty"`

	// Expect holds final_state values. Keys: expected_in, next_out,
	// last_processed_in, state, buffered, or a metric name.
	Expect map[string]any `yaml:"expect,omitempty"`
}

const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// messageKinds maps scenario message kinds to MsgType.
var messageKinds = map[string]string{
	"heartbeat":      fix.MsgTypeHeartbeat,
	"test_request":   fix.MsgTypeTestRequest,
	"resend_request": fix.MsgTypeResendRequest,
	"reject":         fix.MsgTypeReject,
	"sequence_reset": fix.MsgTypeSequenceReset,
	"logout":         fix.MsgTypeLogout,
	"logon":          fix.MsgTypeLogon,
	"execution":      "8",
	"order":          "D",
}

// MessageKinds lists the accepted message kinds in sorted order.
func MessageKinds() []string {
	kinds := make([]string, 0, len(messageKinds))
	for k := range messageKinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// LoadScenario reads, parses and validates a scenario file. Unknown keys
// are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step FlowStep) error {
	switch {
	case step.In == "" && step.Send == "":
		return fmt.Errorf("flow[%d]: one of in or send is required", i)
	case step.In != "" && step.Send != "":
		return fmt.Errorf("flow[%d]: in and send are exclusive", i)
	}

	kind := step.In
	if kind == "" {
		kind = step.Send
	}
	if _, ok := messageKinds[kind]; !ok {
		return fmt.Errorf("flow[%d]: unknown message kind %q", i, kind)
	}

	if step.In != "" && step.Seq == 0 {
		return fmt.Errorf("flow[%d]: seq is required for inbound messages", i)
	}
	if step.Send != "" && (step.Seq != 0 || step.PossDup) {
		return fmt.Errorf("flow[%d]: seq and possdup apply to inbound messages only", i)
	}
	if step.AdvanceMs < 0 {
		return fmt.Errorf("flow[%d]: advance_ms must be non-negative", i)
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if a.Line == "" {
			return fmt.Errorf("assertions[%d]: line is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Lines) == 0 {
			return fmt.Errorf("assertions[%d]: lines list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Line == "" {
			return fmt.Errorf("assertions[%d]: line is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
