package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fixsession/internal/config"
	"github.com/roach88/fixsession/internal/session"
	"github.com/roach88/fixsession/internal/store"
)

func TestNextSeq_Config(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeSettings(t, dir, "sliced")

	settings, err := config.Load(cfgPath)
	require.NoError(t, err)
	in, _ := session.LogPaths(settings)
	writeLog(t, in, store.KindSliced, 4)

	out, err := execute(t, "next-seq", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "expected_in=5 next_out=1\n", out)
}

func TestNextSeq_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.log")
	writeLog(t, path, store.KindIndexed, 2)

	out, err := execute(t, "next-seq", "--file", path)
	require.NoError(t, err)
	assert.Equal(t, "next_seq=3\n", out)

	out, err = execute(t, "next-seq", "--file", filepath.Join(t.TempDir(), "fresh.log"))
	require.NoError(t, err)
	assert.Equal(t, "next_seq=1\n", out)
}

func TestInvalidDirection(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeSettings(t, dir, "flat")

	_, err := execute(t, "inspect", "--config", cfgPath, "--direction", "sideways")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid direction "sideways"`)
}
