package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	content := `
name: test_scenario
description: "Test scenario for validation"
settings:
  sequencing:
    possdup_smart_delivery: true
start:
  expected_in: 5
flow:
  - in: logon
    seq: 5
  - in: order
    seq: 6
    possdup: true
    fields:
      11: "ORD-1"
  - send: heartbeat
    advance_ms: 250
assertions:
  - type: trace_contains
    line: "in 5 A: ok"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, uint64(5), scenario.Start.ExpectedIn)
	require.Len(t, scenario.Flow, 3)
	assert.True(t, scenario.Flow[1].PossDup)
	assert.Equal(t, "ORD-1", scenario.Flow[1].Fields[11])
	assert.Equal(t, int64(250), scenario.Flow[2].AdvanceMs)
	assert.Equal(t, map[string]any{"possdup_smart_delivery": true}, scenario.Settings["sequencing"])
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_UnknownField(t *testing.T) {
	content := `
name: x
description: y
invoke: Cart.addItem
flow:
  - in: logon
    seq: 1
assertions:
  - type: trace_contains
    line: "in 1 A: ok"
`
	_, err := ParseScenario([]byte(content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	const assertions = `
assertions:
  - type: trace_contains
    line: "in 1 A: ok"
`
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing name",
			content: "description: d\nflow:\n  - in: logon\n    seq: 1\n" + assertions,
			want:    "name is required",
		},
		{
			name:    "empty flow",
			content: "name: n\ndescription: d\n" + assertions,
			want:    "flow list is required",
		},
		{
			name:    "no assertions",
			content: "name: n\ndescription: d\nflow:\n  - in: logon\n    seq: 1\n",
			want:    "assertions list is required",
		},
		{
			name:    "in and send",
			content: "name: n\ndescription: d\nflow:\n  - in: logon\n    send: logon\n    seq: 1\n" + assertions,
			want:    "flow[0]: in and send are exclusive",
		},
		{
			name:    "unknown kind",
			content: "name: n\ndescription: d\nflow:\n  - in: quote\n    seq: 1\n" + assertions,
			want:    `flow[0]: unknown message kind "quote"`,
		},
		{
			name:    "inbound without seq",
			content: "name: n\ndescription: d\nflow:\n  - in: logon\n" + assertions,
			want:    "flow[0]: seq is required for inbound messages",
		},
		{
			name:    "outbound with seq",
			content: "name: n\ndescription: d\nflow:\n  - send: order\n    seq: 3\n" + assertions,
			want:    "flow[0]: seq and possdup apply to inbound messages only",
		},
		{
			name: "final state without expect",
			content: "name: n\ndescription: d\nflow:\n  - in: logon\n    seq: 1\n" +
				"assertions:\n  - type: final_state\n",
			want: "assertions[0]: expect is required for final_state",
		},
		{
			name: "unknown assertion",
			content: "name: n\ndescription: d\nflow:\n  - in: logon\n    seq: 1\n" +
				"assertions:\n  - type: eventually\n",
			want: `assertions[0]: unknown assertion type "eventually"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMessageKinds(t *testing.T) {
	assert.Equal(t, []string{
		"execution", "heartbeat", "logon", "logout", "order",
		"reject", "resend_request", "sequence_reset", "test_request",
	}, MessageKinds())
}
