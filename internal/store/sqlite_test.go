package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteLog_Pragmas(t *testing.T) {
	l := NewSQLiteLog(filepath.Join(t.TempDir(), "session.db"), testOptions())
	t.Cleanup(func() { l.Close() })
	_, err := l.Initialize()
	require.NoError(t, err)

	var mode string
	require.NoError(t, l.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var version int
	require.NoError(t, l.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

// A replayed sequence number replaces the stored row.
func TestSQLiteLog_ReplaceSameSeq(t *testing.T) {
	l := NewSQLiteLog(filepath.Join(t.TempDir(), "session.db"), testOptions())
	t.Cleanup(func() { l.Close() })
	_, err := l.Initialize()
	require.NoError(t, err)

	appendRange(t, l, 1, 2)
	again := testFactory().Build(2, "D")
	_, err = l.Append(again, testTime)
	require.NoError(t, err)

	_, msgs := retrieve(t, l, 2, 2)
	require.Len(t, msgs, 1)
	assert.Equal(t, again, msgs[0])
}
