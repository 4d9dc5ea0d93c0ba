package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/fixsession/internal/fix"
	"github.com/roach88/fixsession/internal/store"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// writeLog stores heartbeats 1..n from A to B in a new log and closes it.
func writeLog(t *testing.T, path string, kind store.Kind, n int) {
	t.Helper()

	now := func() time.Time { return epoch }
	f := &fix.Factory{BeginString: "FIX.4.4", SenderCompID: "A", TargetCompID: "B", Now: now}

	log, err := store.New(kind, path, store.Options{Timestamps: true, Now: now})
	require.NoError(t, err)
	_, err = log.Initialize()
	require.NoError(t, err)
	for seq := 1; seq <= n; seq++ {
		msg, err := f.Heartbeat(uint64(seq), "")
		require.NoError(t, err)
		_, err = log.Append(msg, epoch)
		require.NoError(t, err)
	}
	require.NoError(t, log.Close())
}

// writeSettings writes a settings file whose logs live in dir.
func writeSettings(t *testing.T, dir, storageType string) string {
	t.Helper()

	path := filepath.Join(dir, "session.yaml")
	content := "sender_comp_id: US\n" +
		"target_comp_id: THEM\n" +
		"storage:\n" +
		"  type: " + storageType + "\n" +
		"  dir: " + dir + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
