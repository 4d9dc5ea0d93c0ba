package session_test

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fixsession/internal/config"
	"github.com/roach88/fixsession/internal/fix"
	"github.com/roach88/fixsession/internal/session"
	"github.com/roach88/fixsession/internal/testutil"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	settings  config.Settings
	session   *session.Session
	transport *testutil.RecordingTransport
	observer  *testutil.RecordingObserver
	clock     *testutil.ManualClock
}

func newFixture(t *testing.T, mutate func(*config.Settings)) *fixture {
	t.Helper()

	s := config.Default()
	s.SenderCompID = "US"
	s.TargetCompID = "THEM"
	s.Storage.Dir = t.TempDir()
	if mutate != nil {
		mutate(&s)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	logs, err := session.OpenLogs(s, logger)
	require.NoError(t, err)

	f := &fixture{
		settings:  s,
		transport: &testutil.RecordingTransport{},
		observer:  &testutil.RecordingObserver{},
		clock:     testutil.NewManualClock(epoch),
	}
	factory := &fix.Factory{
		BeginString:  s.BeginString,
		SenderCompID: s.SenderCompID,
		TargetCompID: s.TargetCompID,
		Precision:    fix.PrecisionMillis,
		Now:          f.clock.Now,
	}
	f.session = session.New(s, logs, f.transport, factory,
		session.WithLogger(logger),
		session.WithClock(f.clock.Now),
		session.WithObserver(f.observer),
		session.WithIDGenerator(session.NewFixedGenerator("sess-1", "sess-2")),
	)
	require.NoError(t, f.session.Open())
	t.Cleanup(func() { _ = f.session.Close() })
	return f
}

func TestLogPaths(t *testing.T) {
	s := config.Default()
	s.SenderCompID = "US"
	s.TargetCompID = "THEM"
	s.Storage.Dir = "/data"

	in, out := session.LogPaths(s)
	assert.Equal(t, filepath.Join("/data", "FIX.4.4-US-THEM.in.log"), in)
	assert.Equal(t, filepath.Join("/data", "FIX.4.4-US-THEM.out.log"), out)

	s.Storage.Type = "sqlite"
	in, _ = session.LogPaths(s)
	assert.Equal(t, filepath.Join("/data", "FIX.4.4-US-THEM.in.db"), in)
}

func TestSession_OpenAssignsID(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, "sess-1", f.session.ID())
	assert.Equal(t, session.StateAwaitingLogon, f.session.State())
	assert.Equal(t, uint64(1), f.session.Sequences().ExpectedIn())
	assert.Equal(t, uint64(1), f.session.Sequences().NextOut())
}

func TestSession_SendLogsAndAdvances(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.session.Send(func(seq uint64) ([]byte, error) {
		return f.session.Factory().Heartbeat(seq, "")
	}))
	require.NoError(t, f.session.Logout("bye"))

	assert.Equal(t, uint64(3), f.session.Sequences().NextOut())
	assert.Equal(t, []string{fix.MsgTypeHeartbeat, fix.MsgTypeLogout}, f.transport.SentTypes())
	assert.Equal(t, session.StateAwaitingLogoff, f.session.State())

	var logged []uint64
	require.NoError(t, f.session.Logs().Outbound.RetrieveRange(1, 10, func(seq uint64, _ []byte) {
		logged = append(logged, seq)
	}, true))
	assert.Equal(t, []uint64{1, 2}, logged)
}

func TestSession_ReopenResumesCounters(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.session.Send(func(seq uint64) ([]byte, error) {
			return f.session.Factory().Heartbeat(seq, "")
		}))
	}
	require.NoError(t, f.session.Close())

	require.NoError(t, f.session.Open())
	assert.Equal(t, "sess-2", f.session.ID())
	assert.Equal(t, uint64(4), f.session.Sequences().NextOut())
}

func TestSession_BuildErrorDoesNotAdvance(t *testing.T) {
	f := newFixture(t, nil)
	err := f.session.Send(func(uint64) ([]byte, error) { return nil, errors.New("boom") })
	require.Error(t, err)
	assert.Equal(t, uint64(1), f.session.Sequences().NextOut())
	assert.Empty(t, f.transport.Sent())
}

func TestSession_RequestResendLoop(t *testing.T) {
	f := newFixture(t, func(s *config.Settings) {
		s.Sequencing.AllowedSimilarResendRequests = 2
	})

	require.NoError(t, f.session.RequestResend(5, 6))
	require.NoError(t, f.session.RequestResend(5, 7))
	err := f.session.RequestResend(5, 8)

	require.Error(t, err)
	assert.True(t, session.IsResendLoop(err))
	assert.True(t, session.IsFatal(err))
	assert.Len(t, f.transport.Sent(), 2, "nothing sent once the bound is hit")
	assert.Equal(t, []testutil.ResendRange{{Begin: 5, End: 6}, {Begin: 5, End: 7}}, f.observer.Resends())
}

func TestSession_Reject(t *testing.T) {
	f := newFixture(t, nil)
	m, err := fix.Parse([]byte("8=FIX.4.4\x019=5\x0135=D\x0134=12\x0110=000\x01"))
	require.NoError(t, err)

	require.NoError(t, f.session.Reject(m, fix.TagSendingTime, fix.RejectSendingTimeAccuracy, "SendingTime accuracy problem"))

	sent := f.transport.SentMessages()
	require.Len(t, sent, 1)
	ref, _ := sent[0].Get(fix.TagRefSeqNum)
	tag, _ := sent[0].Get(fix.TagRefTagID)
	reason, _ := sent[0].Get(fix.TagSessionRejectReason)
	assert.Equal(t, "12", ref)
	assert.Equal(t, "52", tag)
	assert.Equal(t, "10", reason)

	last, ok := f.session.Attributes().Uint(session.AttrLastRejectedSeqNum)
	assert.True(t, ok)
	assert.Equal(t, uint64(12), last)
}

func TestSession_ForcedDisconnect(t *testing.T) {
	f := newFixture(t, nil)
	f.session.ForcedDisconnect(session.ReasonSeqNumTooLow, "MsgSeqNum too low")

	assert.Equal(t, session.StateDisconnected, f.session.State())
	assert.Equal(t, []testutil.Disconnect{{
		Reason:      session.ReasonSeqNumTooLow,
		Description: "MsgSeqNum too low",
		Forced:      true,
	}}, f.transport.Disconnects())
}
