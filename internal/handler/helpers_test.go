package handler

import (
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/fixsession/internal/config"
	"github.com/roach88/fixsession/internal/fix"
	"github.com/roach88/fixsession/internal/session"
	"github.com/roach88/fixsession/internal/testutil"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t         *testing.T
	settings  config.Settings
	s         *session.Session
	chain     *Chain
	transport *testutil.RecordingTransport
	app       *testutil.RecordingApplication
	observer  *testutil.RecordingObserver
	clock     *testutil.ManualClock
	us        *fix.Factory
	them      *fix.Factory
}

func newFixture(t *testing.T, mutate func(*config.Settings)) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.SenderCompID = "US"
	cfg.TargetCompID = "THEM"
	cfg.Storage.Dir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}

	f := &fixture{
		t:         t,
		settings:  cfg,
		transport: &testutil.RecordingTransport{},
		app:       &testutil.RecordingApplication{},
		observer:  &testutil.RecordingObserver{},
		clock:     testutil.NewManualClock(epoch),
	}
	f.us = &fix.Factory{BeginString: cfg.BeginString, SenderCompID: "US", TargetCompID: "THEM", Precision: fix.PrecisionMillis, Now: f.clock.Now}
	f.them = &fix.Factory{BeginString: cfg.BeginString, SenderCompID: "THEM", TargetCompID: "US", Precision: fix.PrecisionMillis, Now: f.clock.Now}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	logs, err := session.OpenLogs(cfg, logger)
	require.NoError(t, err)

	f.s = session.New(cfg, logs, f.transport, f.us,
		session.WithLogger(logger),
		session.WithClock(f.clock.Now),
		session.WithObserver(f.observer),
		session.WithApplication(f.app),
		session.WithIDGenerator(session.NewFixedGenerator("test-session")),
	)
	require.NoError(t, f.s.Open())
	t.Cleanup(func() { _ = f.s.Close() })

	f.chain, err = NewChain(f.s)
	require.NoError(t, err)
	return f
}

func (f *fixture) logon(seq uint64, extra ...fix.Field) []byte {
	body := append([]fix.Field{{Tag: 98, Value: "0"}, {Tag: 108, Value: "30"}}, extra...)
	return f.them.Build(seq, fix.MsgTypeLogon, body...)
}

func (f *fixture) order(seq uint64) []byte {
	return f.them.Build(seq, "D", fix.Field{Tag: 11, Value: "ord-" + strconv.FormatUint(seq, 10)})
}

func (f *fixture) possDup(raw []byte) []byte {
	out, err := f.them.Resend(raw)
	require.NoError(f.t, err)
	return out
}

func (f *fixture) process(raw []byte) error {
	f.t.Helper()
	return f.chain.Process(raw)
}

// establish logs on with seq 1 and delivers orders up to last.
func (f *fixture) establish(last uint64) {
	f.t.Helper()
	require.NoError(f.t, f.process(f.logon(1)))
	for seq := uint64(2); seq <= last; seq++ {
		require.NoError(f.t, f.process(f.order(seq)))
	}
	f.transport.Reset()
}

func (f *fixture) expected() uint64 {
	return f.s.Sequences().ExpectedIn()
}

// inbound returns the sequence numbers held in the inbound log.
func (f *fixture) inbound(to uint64) []uint64 {
	f.t.Helper()
	var seqs []uint64
	require.NoError(f.t, f.s.Logs().Inbound.RetrieveRange(1, to, func(seq uint64, _ []byte) {
		seqs = append(seqs, seq)
	}, true))
	return seqs
}

func field(t *testing.T, m *fix.Message, tag int) string {
	t.Helper()
	v, ok := m.Get(tag)
	require.True(t, ok, "tag %d missing from %s", tag, m)
	return v
}
