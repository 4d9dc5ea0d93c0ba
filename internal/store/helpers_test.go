package store

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/fixsession/internal/fix"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testFactory() *fix.Factory {
	return &fix.Factory{
		BeginString:  "FIX.4.4",
		SenderCompID: "SENDER",
		TargetCompID: "TARGET",
		Precision:    fix.PrecisionMillis,
		Now:          func() time.Time { return testTime },
	}
}

func heartbeat(seq uint64) []byte {
	return testFactory().Build(seq, fix.MsgTypeHeartbeat)
}

func logon(seq uint64) []byte {
	return testFactory().Build(seq, fix.MsgTypeLogon)
}

func testOptions() Options {
	return Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return testTime },
	}
}

// newTestLog builds kind under a temp dir, skipping variants the platform
// cannot provide. The log is closed on cleanup.
func newTestLog(t *testing.T, kind Kind, dir string, opts Options) MessageLog {
	t.Helper()
	l, err := New(kind, filepath.Join(dir, "session.log"), opts)
	if errors.Is(err, ErrUnsupported) {
		t.Skipf("%s not supported on this platform", kind)
	}
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func appendRange(t *testing.T, l MessageLog, from, to uint64) [][]byte {
	t.Helper()
	var msgs [][]byte
	for seq := from; seq <= to; seq++ {
		m := heartbeat(seq)
		_, err := l.Append(m, time.Time{})
		require.NoError(t, err)
		msgs = append(msgs, m)
	}
	return msgs
}

func retrieve(t *testing.T, l MessageLog, from, to uint64) ([]uint64, [][]byte) {
	t.Helper()
	var (
		seqs []uint64
		msgs [][]byte
	)
	err := l.RetrieveRange(from, to, func(seq uint64, msg []byte) {
		seqs = append(seqs, seq)
		msgs = append(msgs, msg)
	}, true)
	require.NoError(t, err)
	return seqs, msgs
}

func seqRange(from, to uint64) []uint64 {
	var out []uint64
	for s := from; s <= to; s++ {
		out = append(out, s)
	}
	return out
}
