package handler

import (
	"fmt"

	"github.com/roach88/fixsession/internal/fix"
	"github.com/roach88/fixsession/internal/session"
)

// ResendRequest answers a ResendRequest from the outbound log. Application
// messages are retransmitted with PossDupFlag; admin messages and numbers
// missing from the log are collapsed into SequenceReset-GapFill messages.
// EndSeqNo 0, or anything past our last sent number, means "up to the last
// sent".
type ResendRequest struct{ unbound }

func (*ResendRequest) Name() string { return "resend-request" }

func (*ResendRequest) Handle(s *session.Session, m *fix.Message) (Verdict, error) {
	if m.MsgType() != fix.MsgTypeResendRequest {
		return Forward, nil
	}

	begin, err := m.Uint(fix.TagBeginSeqNo)
	if err != nil || begin == 0 {
		return Stop, rejectMissing(s, m, fix.TagBeginSeqNo)
	}
	end, err := m.Uint(fix.TagEndSeqNo)
	if err != nil {
		return Stop, rejectMissing(s, m, fix.TagEndSeqNo)
	}

	last := s.Sequences().NextOut() - 1
	if end == 0 || end > last {
		end = last
	}
	if begin > end {
		s.Logger().Warn("resend request beyond last sent", "begin", begin, "last", last)
		return Forward, nil
	}

	stored := make(map[uint64][]byte, end-begin+1)
	err = s.Logs().Outbound.RetrieveRange(begin, end, func(seq uint64, msg []byte) {
		stored[seq] = append([]byte(nil), msg...)
	}, true)
	if err != nil {
		return Stop, session.StorageFault(fmt.Errorf("retrieve %d-%d: %w", begin, end, err))
	}

	s.Logger().Info("resending", "begin", begin, "end", end, "stored", len(stored))
	if err := replay(s, begin, end, stored); err != nil {
		return Stop, err
	}
	return Forward, nil
}

func replay(s *session.Session, begin, end uint64, stored map[uint64][]byte) error {
	var gapStart uint64
	flush := func(next uint64) error {
		if gapStart == 0 {
			return nil
		}
		fill, err := s.Factory().SequenceReset(gapStart, next, true)
		if err != nil {
			return err
		}
		gapStart = 0
		return s.SendRaw(fill)
	}

	for seq := begin; seq <= end; seq++ {
		raw, ok := stored[seq]
		if ok {
			if msgType, err := fix.RawMsgType(raw); err == nil && !fix.IsAdmin(msgType) {
				if err := flush(seq); err != nil {
					return err
				}
				resent, err := s.Factory().Resend(raw)
				if err != nil {
					return err
				}
				if err := s.SendRaw(resent); err != nil {
					return err
				}
				continue
			}
		}
		if gapStart == 0 {
			gapStart = seq
		}
	}
	return flush(end + 1)
}

func rejectMissing(s *session.Session, m *fix.Message, tag int) error {
	if err := s.Reject(m, tag, fix.RejectRequiredTagMissing, "Required tag missing"); err != nil {
		return err
	}
	return session.Rejectedf(session.ErrCodeGarbledMessage, m, "tag %d missing or invalid", tag)
}

// TestRequest answers with a Heartbeat echoing TestReqID.
type TestRequest struct{ unbound }

func (*TestRequest) Name() string { return "test-request" }

func (*TestRequest) Handle(s *session.Session, m *fix.Message) (Verdict, error) {
	if m.MsgType() != fix.MsgTypeTestRequest {
		return Forward, nil
	}
	id, _ := m.Get(fix.TagTestReqID)
	s.Attributes().SetString(session.AttrTestRequestID, id)
	err := s.Send(func(seq uint64) ([]byte, error) {
		return s.Factory().Heartbeat(seq, id)
	})
	if err != nil {
		return Stop, err
	}
	return Forward, nil
}

// SequenceReset moves the inbound counter to NewSeqNo. Moving it backwards
// is rejected.
type SequenceReset struct{ unbound }

func (*SequenceReset) Name() string { return "sequence-reset" }

func (*SequenceReset) Handle(s *session.Session, m *fix.Message) (Verdict, error) {
	if m.MsgType() != fix.MsgTypeSequenceReset {
		return Forward, nil
	}
	if s.Attributes().Bool(session.AttrPossDupAccepted) {
		return Forward, nil
	}

	newSeq, err := m.Uint(fix.TagNewSeqNo)
	if err != nil || newSeq == 0 {
		return Stop, rejectMissing(s, m, fix.TagNewSeqNo)
	}

	expected := s.Sequences().ExpectedIn()
	switch {
	case newSeq > expected:
		s.Sequences().SetExpectedIn(newSeq)
		satisfy(s, newSeq-1)
		s.Logger().Info("sequence reset", "from", expected, "to", newSeq, "gap_fill", m.Flag(fix.TagGapFillFlag))
	case newSeq < expected:
		text := fmt.Sprintf("NewSeqNo %d lower than expected %d", newSeq, expected)
		if err := s.Reject(m, fix.TagNewSeqNo, fix.RejectValueIncorrect, text); err != nil {
			return Stop, err
		}
		return Stop, session.Rejectedf(session.ErrCodeInvalidNewSeqNo, m, "%s", text)
	}
	return Forward, nil
}

// Logon marks the session established.
type Logon struct{ unbound }

func (*Logon) Name() string { return "logon" }

func (*Logon) Handle(s *session.Session, m *fix.Message) (Verdict, error) {
	if m.MsgType() != fix.MsgTypeLogon {
		return Forward, nil
	}
	s.Attributes().SetBool(session.AttrLogonReceived, true)
	s.Logger().Info("logon received", "seq", m.SeqNum(), "expected_in", s.Sequences().ExpectedIn())
	return Forward, nil
}

// Logout ends the session. An unsolicited Logout is answered first.
type Logout struct{ unbound }

func (*Logout) Name() string { return "logout" }

func (*Logout) Handle(s *session.Session, m *fix.Message) (Verdict, error) {
	if m.MsgType() != fix.MsgTypeLogout {
		return Forward, nil
	}
	if s.Attributes().Bool(session.AttrAwaitingLogoff) {
		s.Disconnect(session.ReasonLogout, "logout acknowledged")
		return Forward, nil
	}
	if err := s.Logout(""); err != nil {
		return Stop, err
	}
	s.Disconnect(session.ReasonLogout, "logout requested by counterparty")
	return Forward, nil
}
