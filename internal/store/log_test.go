package store

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Every variant stores and replays exact ranges.
func TestMessageLog_RoundTrip(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			l := newTestLog(t, kind, t.TempDir(), testOptions())

			next, err := l.Initialize()
			require.NoError(t, err)
			assert.Equal(t, uint64(1), next)

			msgs := appendRange(t, l, 1, 20)

			seqs, got := retrieve(t, l, 1, 20)
			assert.Equal(t, seqRange(1, 20), seqs)
			assert.Equal(t, msgs, got)

			seqs, got = retrieve(t, l, 5, 8)
			assert.Equal(t, seqRange(5, 8), seqs)
			assert.Equal(t, msgs[4:8], got)
		})
	}
}

// Retrieval stops at the first missing number without error.
func TestMessageLog_RetrieveStopsAtGap(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			l := newTestLog(t, kind, t.TempDir(), testOptions())
			_, err := l.Initialize()
			require.NoError(t, err)

			appendRange(t, l, 1, 3)
			appendRange(t, l, 5, 6)

			seqs, _ := retrieve(t, l, 1, 10)
			assert.Equal(t, []uint64{1, 2, 3}, seqs)

			seqs, _ = retrieve(t, l, 18, 30)
			assert.Empty(t, seqs)
		})
	}
}

// Reopening returns the same next sequence number every time.
func TestMessageLog_RecoveryIdempotent(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			dir := t.TempDir()
			l := newTestLog(t, kind, dir, testOptions())
			_, err := l.Initialize()
			require.NoError(t, err)
			appendRange(t, l, 1, 10)
			require.NoError(t, l.Close())

			for i := 0; i < 3; i++ {
				next, err := l.Initialize()
				require.NoError(t, err)
				assert.Equal(t, uint64(11), next, "reopen %d", i)
				require.NoError(t, l.Close())
			}

			next, err := l.Initialize()
			require.NoError(t, err)
			require.Equal(t, uint64(11), next)
			appendRange(t, l, 11, 12)
			seqs, _ := retrieve(t, l, 1, 12)
			assert.Equal(t, seqRange(1, 12), seqs)
		})
	}
}

// A Logon with MsgSeqNum 1 starts a new session in the log.
func TestMessageLog_LogonSeqOneStartsNewSession(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			l := newTestLog(t, kind, t.TempDir(), testOptions())
			_, err := l.Initialize()
			require.NoError(t, err)

			appendRange(t, l, 1, 5)
			_, err = l.Append(logon(1), time.Time{})
			require.NoError(t, err)
			require.NoError(t, l.Close())

			next, err := l.Initialize()
			require.NoError(t, err)
			assert.Equal(t, uint64(2), next)

			seqs, msgs := retrieve(t, l, 1, 5)
			assert.Equal(t, []uint64{1}, seqs)
			assert.Equal(t, logon(1), msgs[0])
		})
	}
}

func TestMessageLog_InvalidRange(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			l := newTestLog(t, kind, t.TempDir(), testOptions())
			_, err := l.Initialize()
			require.NoError(t, err)

			err = l.RetrieveRange(0, 5, func(uint64, []byte) {}, true)
			assert.ErrorIs(t, err, ErrInvalidRange)
		})
	}
}

// Closed storage is reported distinctly from I/O failures.
func TestMessageLog_Closed(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			l := newTestLog(t, kind, t.TempDir(), testOptions())
			_, err := l.Initialize()
			require.NoError(t, err)
			appendRange(t, l, 1, 2)
			require.NoError(t, l.Close())
			require.NoError(t, l.Close())

			err = l.RetrieveRange(1, 2, func(uint64, []byte) {}, true)
			assert.ErrorIs(t, err, ErrStorageClosed)

			_, err = l.Append(heartbeat(3), time.Time{})
			assert.ErrorIs(t, err, ErrStorageClosed)
		})
	}
}

func TestMessageLog_AppendWithoutSeqNum(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			l := newTestLog(t, kind, t.TempDir(), testOptions())
			_, err := l.Initialize()
			require.NoError(t, err)

			_, err = l.Append([]byte("8=FIX.4.4\x019=5\x0135=0\x0110=000\x01"), time.Time{})
			assert.ErrorIs(t, err, ErrNoSeqNum)
		})
	}
}

// Backup moves the files aside and leaves an empty log numbered from 1.
func TestMessageLog_Backup(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			dir := t.TempDir()
			backupDir := filepath.Join(t.TempDir(), "backup")
			opts := testOptions()
			opts.BackupDir = backupDir

			l := newTestLog(t, kind, dir, opts)
			_, err := l.Initialize()
			require.NoError(t, err)
			appendRange(t, l, 1, 5)

			require.NoError(t, l.BackupOrDelete(CleanupBackup))

			seqs, _ := retrieve(t, l, 1, 5)
			assert.Empty(t, seqs, "log must be empty after backup")

			entries, err := os.ReadDir(backupDir)
			require.NoError(t, err)
			assert.NotEmpty(t, entries)

			require.NoError(t, l.Close())
			next, err := l.Initialize()
			require.NoError(t, err)
			assert.Equal(t, uint64(1), next)
		})
	}
}

// Delete removes the files; a closed log stays closed.
func TestMessageLog_Delete(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			dir := t.TempDir()
			l := newTestLog(t, kind, dir, testOptions())
			_, err := l.Initialize()
			require.NoError(t, err)
			appendRange(t, l, 1, 5)
			require.NoError(t, l.Close())

			require.NoError(t, l.BackupOrDelete(CleanupDelete))

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries)

			err = l.RetrieveRange(1, 5, func(uint64, []byte) {}, true)
			assert.ErrorIs(t, err, ErrStorageClosed)
		})
	}
}

// Non-blocking retrieval still delivers in order.
func TestMessageLog_NonBlockingDelivery(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			l := newTestLog(t, kind, t.TempDir(), testOptions())
			_, err := l.Initialize()
			require.NoError(t, err)
			appendRange(t, l, 1, 50)

			var (
				mu   sync.Mutex
				seqs []uint64
			)
			err = l.RetrieveRange(1, 50, func(seq uint64, _ []byte) {
				mu.Lock()
				defer mu.Unlock()
				seqs = append(seqs, seq)
			}, false)
			require.NoError(t, err)

			require.Eventually(t, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(seqs) == 50
			}, time.Second, 5*time.Millisecond)

			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, seqRange(1, 50), seqs)
		})
	}
}

// Timestamp prefixes are written but never returned by retrieval.
func TestMessageLog_TimestampPrefix(t *testing.T) {
	for _, kind := range []Kind{KindFlat, KindIndexed, KindSliced, KindSlicedIndexed, KindMmap} {
		t.Run(string(kind), func(t *testing.T) {
			opts := testOptions()
			opts.Timestamps = true
			dir := t.TempDir()
			l := newTestLog(t, kind, dir, opts)
			_, err := l.Initialize()
			require.NoError(t, err)

			m := heartbeat(1)
			n, err := l.Append(m, time.Time{})
			require.NoError(t, err)
			assert.Equal(t, len("20240301-12:00:00.000 ")+len(m)+1, n)

			_, msgs := retrieve(t, l, 1, 1)
			require.Len(t, msgs, 1)
			assert.Equal(t, m, msgs[0])

			require.NoError(t, l.Close())
			next, err := l.Initialize()
			require.NoError(t, err)
			assert.Equal(t, uint64(2), next)
		})
	}
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New("tape", filepath.Join(t.TempDir(), "x"), testOptions())
	assert.Error(t, err)
}

func TestTimestampLocator(t *testing.T) {
	locate := timestampLocator("/backups", func() time.Time { return testTime })
	assert.Equal(t, "/backups/session.log.20240301-120000.000000000", locate("/data/session.log"))

	beside := timestampLocator("", func() time.Time { return testTime })
	assert.Equal(t, "/data/session.log.idx.20240301-120000.000000000", beside("/data/session.log.idx"))
}
