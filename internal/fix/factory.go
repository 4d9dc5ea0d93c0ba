package fix

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// RejectReason is a SessionRejectReason (373) code.
type RejectReason int

const (
	RejectRequiredTagMissing  RejectReason = 1
	RejectValueIncorrect      RejectReason = 5
	RejectCompIDProblem       RejectReason = 9
	RejectSendingTimeAccuracy RejectReason = 10
)

// Encode frames fields into a complete message: BeginString and BodyLength are
// prepended and CheckSum appended. fields must start with MsgType.
func Encode(beginString string, fields []Field) []byte {
	var body bytes.Buffer
	for _, f := range fields {
		body.WriteString(strconv.Itoa(f.Tag))
		body.WriteByte('=')
		body.WriteString(f.Value)
		body.WriteByte(SOH)
	}

	var out bytes.Buffer
	out.Grow(body.Len() + 32)
	fmt.Fprintf(&out, "8=%s\x019=%d\x01", beginString, body.Len())
	out.Write(body.Bytes())
	fmt.Fprintf(&out, "10=%03d\x01", Checksum(out.Bytes()))
	return out.Bytes()
}

// Factory builds the session-level messages sent by one side of a session.
// A zero Now uses time.Now.
type Factory struct {
	BeginString  string
	SenderCompID string
	TargetCompID string
	Precision    Precision
	Now          func() time.Time
}

func (f *Factory) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

// Build encodes a message with the standard header followed by body.
func (f *Factory) Build(seq uint64, msgType string, body ...Field) []byte {
	fields := make([]Field, 0, len(body)+5)
	fields = append(fields,
		Field{Tag: TagMsgType, Value: msgType},
		Field{Tag: TagSenderCompID, Value: f.SenderCompID},
		Field{Tag: TagTargetCompID, Value: f.TargetCompID},
		Field{Tag: TagMsgSeqNum, Value: strconv.FormatUint(seq, 10)},
		Field{Tag: TagSendingTime, Value: FormatUTC(f.now(), f.Precision)},
	)
	fields = append(fields, body...)
	return Encode(f.BeginString, fields)
}

// Heartbeat builds a Heartbeat, echoing testReqID when answering a TestRequest.
func (f *Factory) Heartbeat(seq uint64, testReqID string) ([]byte, error) {
	if testReqID == "" {
		return f.Build(seq, MsgTypeHeartbeat), nil
	}
	return f.Build(seq, MsgTypeHeartbeat, Field{Tag: TagTestReqID, Value: testReqID}), nil
}

// ResendRequest asks the counterparty to retransmit [begin, end].
func (f *Factory) ResendRequest(seq, begin, end uint64) ([]byte, error) {
	return f.Build(seq, MsgTypeResendRequest,
		Field{Tag: TagBeginSeqNo, Value: strconv.FormatUint(begin, 10)},
		Field{Tag: TagEndSeqNo, Value: strconv.FormatUint(end, 10)},
	), nil
}

// Reject builds a session-level Reject referencing the offending message and tag.
// refTag 0 omits RefTagID.
func (f *Factory) Reject(seq, refSeq uint64, refTag int, refMsgType string, reason RejectReason, text string) ([]byte, error) {
	body := []Field{{Tag: TagRefSeqNum, Value: strconv.FormatUint(refSeq, 10)}}
	if refTag > 0 {
		body = append(body, Field{Tag: TagRefTagID, Value: strconv.Itoa(refTag)})
	}
	if refMsgType != "" {
		body = append(body, Field{Tag: TagRefMsgType, Value: refMsgType})
	}
	body = append(body, Field{Tag: TagSessionRejectReason, Value: strconv.Itoa(int(reason))})
	if text != "" {
		body = append(body, Field{Tag: TagText, Value: text})
	}
	return f.Build(seq, MsgTypeReject, body...), nil
}

// SequenceReset builds a SequenceReset. Gap fills are sent in place of
// retransmitted admin messages and so carry PossDupFlag and OrigSendingTime.
func (f *Factory) SequenceReset(seq, newSeq uint64, gapFill bool) ([]byte, error) {
	if !gapFill {
		return f.Build(seq, MsgTypeSequenceReset,
			Field{Tag: TagNewSeqNo, Value: strconv.FormatUint(newSeq, 10)},
		), nil
	}
	stamp := FormatUTC(f.now(), f.Precision)
	return f.Build(seq, MsgTypeSequenceReset,
		Field{Tag: TagPossDupFlag, Value: "Y"},
		Field{Tag: TagOrigSendingTime, Value: stamp},
		Field{Tag: TagGapFillFlag, Value: "Y"},
		Field{Tag: TagNewSeqNo, Value: strconv.FormatUint(newSeq, 10)},
	), nil
}

// Logout builds a Logout with optional text.
func (f *Factory) Logout(seq uint64, text string) ([]byte, error) {
	if text == "" {
		return f.Build(seq, MsgTypeLogout), nil
	}
	return f.Build(seq, MsgTypeLogout, Field{Tag: TagText, Value: text}), nil
}

// Resend rewrites a previously sent message for retransmission: the sequence
// number is kept, PossDupFlag is set, OrigSendingTime carries the original
// SendingTime and SendingTime is refreshed.
func (f *Factory) Resend(orig []byte) ([]byte, error) {
	m, err := Parse(orig)
	if err != nil {
		return nil, fmt.Errorf("resend: %w", err)
	}

	beginString, _ := m.Get(TagBeginString)
	origSent, _ := m.Get(TagSendingTime)

	fields := make([]Field, 0, len(m.Fields)+2)
	for _, fld := range m.Fields {
		switch fld.Tag {
		case TagBeginString, TagBodyLength, TagCheckSum, TagPossDupFlag, TagOrigSendingTime:
			continue
		case TagSendingTime:
			fields = append(fields,
				Field{Tag: TagSendingTime, Value: FormatUTC(f.now(), f.Precision)},
				Field{Tag: TagPossDupFlag, Value: "Y"},
				Field{Tag: TagOrigSendingTime, Value: origSent},
			)
		default:
			fields = append(fields, fld)
		}
	}
	return Encode(beginString, fields), nil
}
