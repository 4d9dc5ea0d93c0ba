package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_PrintsEffectiveSettings(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeSettings(t, dir, "mmap")

	out, err := execute(t, "config", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "sender_comp_id: US")
	assert.Contains(t, out, "type: mmap")
	assert.Contains(t, out, "allowed_similar_resend_requests: 3")
	assert.Contains(t, out, "# inbound log: "+filepath.Join(dir, "FIX.4.4-US-THEM.in.log"))
}

func TestConfig_JSON(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeSettings(t, dir, "sqlite")

	out, err := execute(t, "config", "--config", cfgPath, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   SettingsResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "sqlite", resp.Data.Settings.Storage.Type)
	assert.Equal(t, filepath.Join(dir, "FIX.4.4-US-THEM.out.db"), resp.Data.Outbound)
}

func TestConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "session.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("sender_comp_id: US\ntarget_comp_id: THEM\nstorage:\n  type: tape\n"), 0644))

	out, err := execute(t, "config", "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E_SETTINGS]: storage.type")
}

func TestConfig_Missing(t *testing.T) {
	_, err := execute(t, "config")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "config", "--config", filepath.Join(t.TempDir(), "none.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "settings file not found")
}
