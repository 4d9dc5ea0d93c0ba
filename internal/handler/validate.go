package handler

import (
	"strconv"
	"time"

	"github.com/roach88/fixsession/internal/fix"
	"github.com/roach88/fixsession/internal/session"
)

type unbound struct{}

func (unbound) Bind(*session.Session) error { return nil }

// trailerLen is the length of "10=NNN<SOH>".
const trailerLen = 7

// Framing checks the standard header and trailer: 8, 9 and 35 lead in that
// order, 10 ends the message, BodyLength and CheckSum match the bytes, and
// MsgSeqNum is a positive integer. Every failure is fatal.
type Framing struct{ unbound }

func (*Framing) Name() string { return "framing" }

func (*Framing) Handle(_ *session.Session, m *fix.Message) (Verdict, error) {
	garbled := func(format string, args ...any) (Verdict, error) {
		return Stop, session.Fatalf(session.ErrCodeGarbledMessage, session.ReasonGarbledMessage, m, format, args...)
	}

	f := m.Fields
	if len(f) < 4 || f[0].Tag != fix.TagBeginString || f[1].Tag != fix.TagBodyLength || f[2].Tag != fix.TagMsgType {
		return garbled("header must begin with 8, 9, 35")
	}
	if f[len(f)-1].Tag != fix.TagCheckSum || !fix.HasTrailer(m.Raw) {
		return garbled("message must end with CheckSum")
	}

	bodyStart := fieldLen(f[0]) + fieldLen(f[1])
	trailer := len(m.Raw) - trailerLen
	declared, err := strconv.Atoi(f[1].Value)
	if err != nil || declared != trailer-bodyStart {
		return garbled("BodyLength %q does not match %d", f[1].Value, trailer-bodyStart)
	}

	sum, _ := strconv.Atoi(f[len(f)-1].Value)
	if want := fix.Checksum(m.Raw[:trailer]); sum != want {
		return garbled("CheckSum %03d does not match %03d", sum, want)
	}

	n, err := m.Uint(fix.TagMsgSeqNum)
	if err != nil || n == 0 {
		return Stop, session.Fatalf(session.ErrCodeMissingSeqNum, session.ReasonGarbledMessage, m, "MsgSeqNum missing or invalid")
	}
	return Forward, nil
}

func fieldLen(f fix.Field) int {
	return len(strconv.Itoa(f.Tag)) + 1 + len(f.Value) + 1
}

// Version requires the BeginString the session was configured with.
type Version struct{ unbound }

func (*Version) Name() string { return "version" }

func (*Version) Handle(s *session.Session, m *fix.Message) (Verdict, error) {
	want := s.Settings().BeginString
	if got, _ := m.Get(fix.TagBeginString); got != want {
		return Stop, session.Fatalf(session.ErrCodeProtocolVersionMismatch, session.ReasonInvalidProtocolVersion, m,
			"BeginString %q, expected %q", got, want)
	}
	return Forward, nil
}

// LogonGate refuses everything but a Logon until one has been accepted.
type LogonGate struct{ unbound }

func (*LogonGate) Name() string { return "logon-gate" }

func (*LogonGate) Handle(s *session.Session, m *fix.Message) (Verdict, error) {
	if s.Attributes().Bool(session.AttrLogonReceived) || m.MsgType() == fix.MsgTypeLogon {
		return Forward, nil
	}
	return Stop, session.Fatalf(session.ErrCodeLogonExpected, session.ReasonFirstMessageNotLogon, m,
		"first message is %q, not a Logon", m.MsgType())
}

// CompID checks that the counterparty addresses us by our ids. A mismatch is
// rejected and then ends the session.
type CompID struct{ unbound }

func (*CompID) Name() string { return "comp-id" }

func (*CompID) Handle(s *session.Session, m *fix.Message) (Verdict, error) {
	cfg := s.Settings()
	if !cfg.Validation.CheckCompIDs {
		return Forward, nil
	}

	tag := 0
	if v, _ := m.Get(fix.TagSenderCompID); v != cfg.TargetCompID {
		tag = fix.TagSenderCompID
	} else if v, _ := m.Get(fix.TagTargetCompID); v != cfg.SenderCompID {
		tag = fix.TagTargetCompID
	}
	if tag == 0 {
		return Forward, nil
	}

	if err := s.Reject(m, tag, fix.RejectCompIDProblem, "CompID problem"); err != nil {
		return Stop, err
	}
	return Stop, session.Fatalf(session.ErrCodeCompIDMismatch, session.ReasonInvalidCompID, m, "CompID problem in tag %d", tag)
}

// SendingTime rejects and disconnects when SendingTime strays further from
// our clock than the configured tolerance.
type SendingTime struct{ unbound }

func (*SendingTime) Name() string { return "sending-time" }

func (*SendingTime) Handle(s *session.Session, m *fix.Message) (Verdict, error) {
	cfg := s.Settings().Validation
	if !cfg.CheckSendingTimeAccuracy {
		return Forward, nil
	}

	tolerance := cfg.Tolerance()
	sent, ok := sendingTime(m, fix.TagSendingTime)
	if ok {
		skew := s.Now().Sub(sent)
		if skew < 0 {
			skew = -skew
		}
		if skew <= tolerance {
			return Forward, nil
		}
	}

	if err := s.Reject(m, fix.TagSendingTime, fix.RejectSendingTimeAccuracy, "SendingTime accuracy problem"); err != nil {
		return Stop, err
	}
	return Stop, session.Fatalf(session.ErrCodeInvalidSendingTime, session.ReasonInvalidSendingTime, m,
		"SendingTime outside %s of local clock", tolerance)
}

func sendingTime(m *fix.Message, tag int) (time.Time, bool) {
	v, ok := m.Get(tag)
	if !ok {
		return time.Time{}, false
	}
	t, err := fix.ParseUTC(v)
	return t, err == nil
}

// PossDup validates OrigSendingTime on possible duplicates: it must be
// present and not later than SendingTime. Failures are rejected and the
// message is dropped without moving the inbound counter.
type PossDup struct{ unbound }

func (*PossDup) Name() string { return "possdup" }

func (*PossDup) Handle(s *session.Session, m *fix.Message) (Verdict, error) {
	if !m.PossDup() {
		return Forward, nil
	}

	orig, ok := sendingTime(m, fix.TagOrigSendingTime)
	if !ok {
		if err := s.Reject(m, fix.TagOrigSendingTime, fix.RejectRequiredTagMissing, "Required tag missing"); err != nil {
			return Stop, err
		}
		return Stop, session.Rejectedf(session.ErrCodeInvalidOrigSendingTime, m, "OrigSendingTime missing")
	}

	if sent, ok := sendingTime(m, fix.TagSendingTime); ok && orig.After(sent) {
		if err := s.Reject(m, fix.TagOrigSendingTime, fix.RejectSendingTimeAccuracy, "SendingTime accuracy problem"); err != nil {
			return Stop, err
		}
		return Stop, session.Rejectedf(session.ErrCodeInvalidOrigSendingTime, m, "OrigSendingTime later than SendingTime")
	}
	return Forward, nil
}
