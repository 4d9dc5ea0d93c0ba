// Package fix provides the minimal FIX tag=value access the session layer needs:
// locating header fields in raw buffers, splitting a message into ordered fields,
// and building the handful of administrative messages a session sends.
//
// It is deliberately not a dictionary-aware codec. Field grammar, repeating groups
// and conditional-field rules belong to the application layer.
package fix

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// SOH is the FIX field delimiter.
const SOH byte = 0x01

// Tags referenced by the session layer.
const (
	TagBeginSeqNo          = 7
	TagBeginString         = 8
	TagBodyLength          = 9
	TagCheckSum            = 10
	TagEndSeqNo            = 16
	TagMsgSeqNum           = 34
	TagMsgType             = 35
	TagNewSeqNo            = 36
	TagPossDupFlag         = 43
	TagRefSeqNum           = 45
	TagSenderCompID        = 49
	TagSendingTime         = 52
	TagTargetCompID        = 56
	TagText                = 58
	TagTestReqID           = 112
	TagOrigSendingTime     = 122
	TagGapFillFlag         = 123
	TagResetSeqNumFlag     = 141
	TagRefTagID            = 371
	TagRefMsgType          = 372
	TagSessionRejectReason = 373
)

// Session-level message types.
const (
	MsgTypeHeartbeat     = "0"
	MsgTypeTestRequest   = "1"
	MsgTypeResendRequest = "2"
	MsgTypeReject        = "3"
	MsgTypeSequenceReset = "4"
	MsgTypeLogout        = "5"
	MsgTypeLogon         = "A"
)

// IsAdmin reports whether msgType is a session-level message.
// Admin messages are never retransmitted; a resend replaces them with a gap fill.
func IsAdmin(msgType string) bool {
	switch msgType {
	case MsgTypeHeartbeat, MsgTypeTestRequest, MsgTypeResendRequest, MsgTypeReject,
		MsgTypeSequenceReset, MsgTypeLogout, MsgTypeLogon:
		return true
	}
	return false
}

// ErrGarbled is returned by Parse when the buffer is not a tag=value sequence.
var ErrGarbled = errors.New("garbled message")

// Field is a single tag=value pair in wire order.
type Field struct {
	Tag   int
	Value string
}

// Message is a parsed message. Raw keeps the exact bytes received so the log
// stores what was on the wire, not a re-encoding.
type Message struct {
	Raw    []byte
	Fields []Field
}

// Parse splits raw into fields. It checks only that every field has a numeric
// tag and that the buffer is SOH-terminated; header order, body length and
// checksum are validated by the frame-sanity stage.
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrGarbled)
	}
	if raw[len(raw)-1] != SOH {
		return nil, fmt.Errorf("%w: missing trailing delimiter", ErrGarbled)
	}

	fields := make([]Field, 0, 16)
	rest := raw
	for len(rest) > 0 {
		end := bytes.IndexByte(rest, SOH)
		pair := rest[:end]
		rest = rest[end+1:]

		eq := bytes.IndexByte(pair, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("%w: field %q has no tag", ErrGarbled, pair)
		}
		tag, err := strconv.Atoi(string(pair[:eq]))
		if err != nil || tag <= 0 {
			return nil, fmt.Errorf("%w: invalid tag %q", ErrGarbled, pair[:eq])
		}
		fields = append(fields, Field{Tag: tag, Value: string(pair[eq+1:])})
	}

	return &Message{Raw: raw, Fields: fields}, nil
}

// Get returns the first value for tag.
func (m *Message) Get(tag int) (string, bool) {
	for _, f := range m.Fields {
		if f.Tag == tag {
			return f.Value, true
		}
	}
	return "", false
}

// Has reports whether tag is present.
func (m *Message) Has(tag int) bool {
	_, ok := m.Get(tag)
	return ok
}

// Uint returns tag parsed as an unsigned integer.
func (m *Message) Uint(tag int) (uint64, error) {
	v, ok := m.Get(tag)
	if !ok {
		return 0, fmt.Errorf("tag %d not present", tag)
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("tag %d: %w", tag, err)
	}
	return n, nil
}

// Flag returns true when tag carries the FIX boolean "Y".
func (m *Message) Flag(tag int) bool {
	v, ok := m.Get(tag)
	return ok && v == "Y"
}

// SeqNum returns MsgSeqNum, or 0 if it is missing or malformed.
func (m *Message) SeqNum() uint64 {
	n, err := m.Uint(TagMsgSeqNum)
	if err != nil {
		return 0
	}
	return n
}

// MsgType returns tag 35.
func (m *Message) MsgType() string {
	v, _ := m.Get(TagMsgType)
	return v
}

// PossDup reports whether the message is flagged as a possible duplicate.
func (m *Message) PossDup() bool {
	return m.Flag(TagPossDupFlag)
}

// String returns the printable form used in diagnostics.
func (m *Message) String() string {
	return Printable(m.Raw)
}

// Printable replaces SOH delimiters with '|'.
func Printable(raw []byte) string {
	out := make([]byte, len(raw))
	for i, b := range raw {
		if b == SOH {
			out[i] = '|'
			continue
		}
		out[i] = b
	}
	return string(out)
}
