package handler

import (
	"github.com/roach88/fixsession/internal/fix"
	"github.com/roach88/fixsession/internal/session"
)

// Sequence arbitrates MsgSeqNum against the expected inbound number. It is
// the only stage that consumes a number; the sequence-reset stage may move
// the counter forward afterwards.
//
// Outcomes, in evaluation order:
//   - a Logon with ResetSeqNumFlag resets both directions and is accepted.
//   - n == expected: accepted.
//   - process-anyway messages are forwarded whatever their number.
//   - n > expected: a gap. A resend is requested and the message is buffered
//     until the gap closes. While a range is outstanding only a number inside
//     it is requested, on its own. A Logon is forwarded so the handshake
//     completes.
//   - n < expected: duplicates flagged PossDup and below the last processed
//     number are delivered or skipped; anything else ends the session.
type Sequence struct{ unbound }

func (*Sequence) Name() string { return "sequence" }

func (*Sequence) Handle(s *session.Session, m *fix.Message) (Verdict, error) {
	seq := s.Sequences()
	attrs := s.Attributes()
	n := m.SeqNum()
	expected := seq.ExpectedIn()
	logon := m.MsgType() == fix.MsgTypeLogon

	if logon && n < expected && missedReset(s, expected-n) {
		s.Logger().Warn("counterparty reset sequence numbers without notice",
			"expected", expected,
			"received", n,
		)
		seq.SetExpectedIn(n)
		expected = n
	}

	if logon && m.Flag(fix.TagResetSeqNumFlag) {
		s.ResetSequences()
		accept(s, n)
		return Forward, nil
	}

	if n == expected {
		accept(s, n)
		return Forward, nil
	}

	if processAnyway(s, m, n, expected) {
		switch {
		case m.MsgType() == fix.MsgTypeSequenceReset && !m.Flag(fix.TagGapFillFlag):
			// the sequence-reset stage moves the counter
		case m.PossDup() && n < expected:
			attrs.SetBool(session.AttrPossDupAccepted, true)
		default:
			accept(s, n)
		}
		return Forward, nil
	}

	if n > expected {
		return gap(s, m, n, expected)
	}
	return tooLow(s, m, n, expected)
}

func missedReset(s *session.Session, distance uint64) bool {
	threshold := s.Settings().Sequencing.ResetThreshold
	return threshold > 0 && distance >= threshold
}

// accept consumes n and closes the resend range if n reaches its end.
func accept(s *session.Session, n uint64) {
	s.Sequences().Accept(n)
	satisfy(s, n)
}

func satisfy(s *session.Session, n uint64) {
	if rng, ok := s.Resend().Satisfy(n); ok {
		s.Attributes().SetUint(session.AttrResendRangeEnd, rng.End)
		s.Logger().Info("resend range satisfied", "begin", rng.Begin, "end", rng.End)
	}
}

func processAnyway(s *session.Session, m *fix.Message, n, expected uint64) bool {
	cfg := s.Settings().Sequencing
	switch m.MsgType() {
	case fix.MsgTypeLogout:
		return s.Attributes().Bool(session.AttrAwaitingLogoff)
	case fix.MsgTypeSequenceReset:
		if !m.Flag(fix.TagGapFillFlag) {
			return true
		}
	case fix.MsgTypeLogon:
		if cfg.IgnoreSeqNumTooLowAtLogon && n < expected {
			return true
		}
	}
	return m.PossDup() && n < expected && s.Resend().Active()
}

func gap(s *session.Session, m *fix.Message, n, expected uint64) (Verdict, error) {
	s.Logger().Warn("sequence gap detected", "expected", expected, "received", n, "msg_type", m.MsgType())
	s.Observer().GapDetected(expected, n)

	switch {
	case s.Resend().ShouldRequest():
		if err := s.RequestResend(expected, n-1); err != nil {
			return Stop, err
		}
	case s.Resend().ShouldRequestOne(n):
		if err := s.RequestResendOne(n); err != nil {
			return Stop, err
		}
	}

	if m.MsgType() == fix.MsgTypeLogon {
		return Forward, nil
	}
	s.Resend().Buffer(n, m.Raw)
	s.Attributes().SetUint(session.AttrIgnoredSeqNum, n)
	return Stop, nil
}

// tooLow tolerates a duplicate only below the last processed number. Numbers
// skipped by a gap fill were never processed and stay fatal.
func tooLow(s *session.Session, m *fix.Message, n, expected uint64) (Verdict, error) {
	if m.PossDup() && n < s.Sequences().LastProcessedIn() {
		if s.Settings().Sequencing.PossDupSmartDelivery {
			s.Attributes().SetBool(session.AttrPossDupAccepted, true)
			return Forward, nil
		}
		s.Logger().Debug("duplicate skipped", "seq", n, "expected", expected)
		s.Attributes().SetUint(session.AttrIgnoredSeqNum, n)
		return Stop, nil
	}

	if m.MsgType() == fix.MsgTypeLogon {
		s.Transport().ClearOutboundQueue()
	}
	return Stop, session.Fatalf(session.ErrCodeSeqNumTooLow, session.ReasonSeqNumTooLow, m,
		"MsgSeqNum too low, expecting %d but received %d", expected, n)
}
