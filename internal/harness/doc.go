// Package harness runs scripted FIX session scenarios against the real
// handler chain and message logs.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: gap_recovery
//	description: "An early order is held while the gap is requested"
//	settings:                 # overrides over config.Default()
//	  storage: { type: sliced-indexed }
//	start: { expected_in: 5 }
//	flow:
//	  - in: logon             # message from the counterparty
//	    seq: 5
//	  - in: order
//	    seq: 7
//	    expect: ok            # ok, or the FaultCode raised
//	  - send: order           # message from our side
//	assertions:
//	  - type: trace_contains
//	    line: "out 1 2 7=6 16=6"
//	  - type: final_state
//	    expect: { expected_in: 6, buffered: 1 }
//
// # Trace
//
// Every step appends human-readable lines to the trace: the inbound message
// and its outcome, messages delivered to the application, messages sent,
// and disconnects. A final line records the counters. Traces are compared
// against golden files in testdata/golden.
//
// # Assertion Types
//
//   - trace_contains: a line appears in the trace
//   - trace_order: lines appear in the given order, not necessarily adjacent
//   - trace_count: a line appears exactly N times
//   - final_state: session counters, state and metric values after the flow
//
// # Deterministic Testing
//
// Scenarios run with a manual clock fixed at 2024-03-01 12:00:00 UTC, a fixed
// session ID and fresh logs in a temporary directory, so traces are
// identical across runs.
package harness
