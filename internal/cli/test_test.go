package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `
name: logon_heartbeat
description: a logon followed by a heartbeat
flow:
  - in: logon
    seq: 1
  - in: heartbeat
    seq: 2
assertions:
  - type: final_state
    expect:
      expected_in: 3
`

const failingScenario = `
name: wrong_expectation
description: asserts a state the session never reaches
flow:
  - in: logon
    seq: 1
assertions:
  - type: final_state
    expect:
      state: disconnected
`

func writeScenario(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := execute(t, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}

func TestTestCommandUpdateThenCompare(t *testing.T) {
	root := t.TempDir()
	scenarios := filepath.Join(root, "scenarios")
	writeScenario(t, scenarios, "logon_heartbeat.yaml", passingScenario)

	out, err := execute(t, "test", scenarios, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ logon_heartbeat")

	golden, err := os.ReadFile(filepath.Join(root, "golden", "logon_heartbeat.golden"))
	require.NoError(t, err)
	assert.Equal(t, "in 1 A: ok\nin 2 0: ok\nfinal expected_in=3 next_out=1 state=established buffered=0\n", string(golden))

	out, err = execute(t, "test", scenarios)
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	root := t.TempDir()
	scenarios := filepath.Join(root, "scenarios")
	writeScenario(t, scenarios, "logon_heartbeat.yaml", passingScenario)
	writeScenario(t, filepath.Join(root, "golden"), "logon_heartbeat.golden", "in 1 A: ok\n")

	out, err := execute(t, "test", scenarios)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommandFailuresAndFilter(t *testing.T) {
	scenarios := t.TempDir()
	writeScenario(t, scenarios, "logon_heartbeat.yaml", passingScenario)
	writeScenario(t, scenarios, "wrong_expectation.yaml", failingScenario)

	out, err := execute(t, "test", scenarios, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Data TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Failed)

	out, err = execute(t, "test", scenarios, "--filter", "logon_*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}
