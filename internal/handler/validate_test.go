package handler

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fixsession/internal/config"
	"github.com/roach88/fixsession/internal/fix"
	"github.com/roach88/fixsession/internal/session"
)

// withChecksum appends a correct CheckSum to head.
func withChecksum(head string) []byte {
	return []byte(fmt.Sprintf("%s10=%03d\x01", head, fix.Checksum([]byte(head))))
}

func TestFraming(t *testing.T) {
	const body = "35=A\x0149=THEM\x0156=US\x0134=1\x0152=20240301-12:00:00.000\x01"

	tests := []struct {
		name string
		raw  func(f *fixture) []byte
		code session.FaultCode
	}{
		{
			name: "bad checksum",
			raw: func(f *fixture) []byte {
				raw := f.logon(1)
				head := raw[:len(raw)-trailerLen]
				return []byte(fmt.Sprintf("%s10=%03d\x01", head, (fix.Checksum(head)+1)%256))
			},
			code: session.ErrCodeGarbledMessage,
		},
		{
			name: "bad body length",
			raw: func(*fixture) []byte {
				return withChecksum(fmt.Sprintf("8=FIX.4.4\x019=%d\x01%s", len(body)+1, body))
			},
			code: session.ErrCodeGarbledMessage,
		},
		{
			name: "header out of order",
			raw: func(*fixture) []byte {
				return fix.Encode("FIX.4.4", []fix.Field{{Tag: 49, Value: "THEM"}, {Tag: 35, Value: "A"}, {Tag: 34, Value: "1"}})
			},
			code: session.ErrCodeGarbledMessage,
		},
		{
			name: "no trailer",
			raw: func(*fixture) []byte {
				return []byte(fmt.Sprintf("8=FIX.4.4\x019=%d\x01%s", len(body), body))
			},
			code: session.ErrCodeGarbledMessage,
		},
		{
			name: "missing MsgSeqNum",
			raw: func(*fixture) []byte {
				return fix.Encode("FIX.4.4", []fix.Field{{Tag: 35, Value: "A"}, {Tag: 49, Value: "THEM"}, {Tag: 56, Value: "US"}})
			},
			code: session.ErrCodeMissingSeqNum,
		},
		{
			name: "zero MsgSeqNum",
			raw: func(*fixture) []byte {
				return fix.Encode("FIX.4.4", []fix.Field{{Tag: 35, Value: "A"}, {Tag: 34, Value: "0"}})
			},
			code: session.ErrCodeMissingSeqNum,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			err := f.process(tt.raw(f))

			require.Error(t, err)
			assert.Equal(t, tt.code, mustFault(t, err).Code)
			d := f.transport.Disconnects()
			require.Len(t, d, 1)
			assert.Equal(t, session.ReasonGarbledMessage, d[0].Reason)
			assert.True(t, d[0].Forced)
		})
	}
}

func TestFraming_AcceptsWellFormed(t *testing.T) {
	f := newFixture(t, nil)
	const body = "35=A\x0149=THEM\x0156=US\x0134=1\x0152=20240301-12:00:00.000\x01"
	require.NoError(t, f.process(withChecksum(fmt.Sprintf("8=FIX.4.4\x019=%d\x01%s", len(body), body))))
	assert.Equal(t, uint64(2), f.expected())
}

func TestVersion_Mismatch(t *testing.T) {
	f := newFixture(t, nil)
	f.them.BeginString = "FIX.4.2"

	err := f.process(f.logon(1))

	assert.Equal(t, session.ErrCodeProtocolVersionMismatch, mustFault(t, err).Code)
	assert.Equal(t, session.ReasonInvalidProtocolVersion, f.transport.Disconnects()[0].Reason)
}

func TestLogonGate_FirstMessageMustBeLogon(t *testing.T) {
	f := newFixture(t, nil)

	err := f.process(f.order(1))

	assert.Equal(t, session.ErrCodeLogonExpected, mustFault(t, err).Code)
	assert.Equal(t, session.ReasonFirstMessageNotLogon, f.transport.Disconnects()[0].Reason)
	assert.Empty(t, f.app.Messages())
}

func TestCompID_Mismatch(t *testing.T) {
	tests := []struct {
		name   string
		sender string
		target string
		tag    string
	}{
		{name: "sender", sender: "OTHER", target: "US", tag: "49"},
		{name: "target", sender: "THEM", target: "OTHER", tag: "56"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.them.SenderCompID = tt.sender
			f.them.TargetCompID = tt.target

			err := f.process(f.logon(1))

			assert.Equal(t, session.ErrCodeCompIDMismatch, mustFault(t, err).Code)
			sent := f.transport.SentMessages()
			require.Len(t, sent, 1)
			assert.Equal(t, fix.MsgTypeReject, sent[0].MsgType())
			assert.Equal(t, tt.tag, field(t, sent[0], fix.TagRefTagID))
			assert.Equal(t, "9", field(t, sent[0], fix.TagSessionRejectReason))
			assert.Equal(t, session.ReasonInvalidCompID, f.transport.Disconnects()[0].Reason)
		})
	}
}

func TestCompID_CheckDisabled(t *testing.T) {
	f := newFixture(t, func(s *config.Settings) {
		s.Validation.CheckCompIDs = false
	})
	f.them.SenderCompID = "OTHER"
	require.NoError(t, f.process(f.logon(1)))
}

func TestSendingTime_Accuracy(t *testing.T) {
	enable := func(s *config.Settings) {
		s.Validation.CheckSendingTimeAccuracy = true
		s.Validation.ReasonableDelayMs = 2000
		s.Validation.AccuracyMs = 500
	}

	t.Run("within tolerance", func(t *testing.T) {
		f := newFixture(t, enable)
		raw := f.logon(1)
		f.clock.Advance(2500 * time.Millisecond)
		require.NoError(t, f.process(raw))
	})

	t.Run("too old", func(t *testing.T) {
		f := newFixture(t, enable)
		raw := f.logon(1)
		f.clock.Advance(2501 * time.Millisecond)

		err := f.process(raw)

		assert.Equal(t, session.ErrCodeInvalidSendingTime, mustFault(t, err).Code)
		sent := f.transport.SentMessages()
		require.Len(t, sent, 1)
		assert.Equal(t, "52", field(t, sent[0], fix.TagRefTagID))
		assert.Equal(t, "10", field(t, sent[0], fix.TagSessionRejectReason))
		assert.Equal(t, session.ReasonInvalidSendingTime, f.transport.Disconnects()[0].Reason)
	})

	t.Run("from the future", func(t *testing.T) {
		f := newFixture(t, enable)
		f.clock.Advance(time.Minute)
		raw := f.logon(1)
		f.clock.Set(epoch)

		err := f.process(raw)
		assert.True(t, session.IsFatal(err))
	})
}

func TestPossDup_OrigSendingTime(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		f := newFixture(t, nil)
		f.establish(2)

		require.NoError(t, f.process(f.them.Build(3, "D", fix.Field{Tag: fix.TagPossDupFlag, Value: "Y"})))

		sent := f.transport.SentMessages()
		require.Len(t, sent, 1)
		assert.Equal(t, "122", field(t, sent[0], fix.TagRefTagID))
		assert.Equal(t, "1", field(t, sent[0], fix.TagSessionRejectReason))
		assert.Equal(t, uint64(3), f.expected(), "counter unchanged")
		assert.Empty(t, f.transport.Disconnects())
	})

	t.Run("later than SendingTime", func(t *testing.T) {
		f := newFixture(t, nil)
		f.establish(2)

		later := fix.FormatUTC(epoch.Add(time.Second), fix.PrecisionMillis)
		raw := f.them.Build(3, "D",
			fix.Field{Tag: fix.TagPossDupFlag, Value: "Y"},
			fix.Field{Tag: fix.TagOrigSendingTime, Value: later},
		)
		require.NoError(t, f.process(raw))

		sent := f.transport.SentMessages()
		require.Len(t, sent, 1)
		assert.Equal(t, "122", field(t, sent[0], fix.TagRefTagID))
		assert.Equal(t, "10", field(t, sent[0], fix.TagSessionRejectReason))
		assert.Equal(t, uint64(3), f.expected())
		assert.Empty(t, f.app.SeqNums()[1:])
	})
}
