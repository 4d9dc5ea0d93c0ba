package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fixsession/internal/store"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestInspect_Indexed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.log")
	writeLog(t, path, store.KindIndexed, 3)

	out, err := execute(t, "inspect", "--file", path)
	require.NoError(t, err)
	newGoldie(t).Assert(t, "inspect_indexed", []byte(out))
}

func TestInspect_Flat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.log")
	writeLog(t, path, store.KindFlat, 3)

	out, err := execute(t, "inspect", "--file", path, "--type", "flat")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "inspect_flat", []byte(out))
}

func TestInspect_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.log")
	writeLog(t, path, store.KindIndexed, 2)

	out, err := execute(t, "inspect", "--file", path, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   InspectResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, path, resp.Data.Path)
	assert.Equal(t, uint64(3), resp.Data.NextSeq)
	require.Len(t, resp.Data.Entries, 2)
	require.NotNil(t, resp.Data.Entries[1].Position)
	assert.Equal(t, uint64(112), *resp.Data.Entries[1].Position)
}

func TestInspect_ThousandsSeparator(t *testing.T) {
	r := InspectResult{Type: store.KindFlat, NextSeq: 1235, Entries: make([]InspectEntry, 1234)}
	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	assert.Contains(t, buf.String(), "\n1,234 entries\n")
}

func TestInspect_MissingLog(t *testing.T) {
	_, err := execute(t, "inspect", "--file", filepath.Join(t.TempDir(), "none.log"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "log not found")
}
