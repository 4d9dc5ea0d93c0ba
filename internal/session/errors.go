package session

import (
	"errors"
	"fmt"

	"github.com/roach88/fixsession/internal/fix"
)

// DisconnectReason is the structured cause passed to the transport when a
// session is torn down.
type DisconnectReason int

const (
	ReasonUnknown DisconnectReason = iota
	ReasonGarbledMessage
	ReasonInvalidProtocolVersion
	ReasonFirstMessageNotLogon
	ReasonInvalidCompID
	ReasonInvalidSendingTime
	ReasonSeqNumTooLow
	ReasonResendLoop
	ReasonThrottling
	ReasonLogout
	ReasonStorageFailure
)

var reasonNames = [...]string{
	ReasonUnknown:                "unknown",
	ReasonGarbledMessage:         "garbled message",
	ReasonInvalidProtocolVersion: "invalid protocol version",
	ReasonFirstMessageNotLogon:   "first message not logon",
	ReasonInvalidCompID:          "invalid comp id",
	ReasonInvalidSendingTime:     "invalid sending time",
	ReasonSeqNumTooLow:           "sequence too low",
	ReasonResendLoop:             "possible resend-request loop",
	ReasonThrottling:             "throttling",
	ReasonLogout:                 "logout",
	ReasonStorageFailure:         "storage failure",
}

func (r DisconnectReason) String() string {
	if r >= 0 && int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return reasonNames[ReasonUnknown]
}

// FaultCode categorizes a Fault.
type FaultCode string

const (
	ErrCodeGarbledMessage          FaultCode = "GARBLED_MESSAGE"
	ErrCodeMissingSeqNum           FaultCode = "MISSING_SEQ_NUM"
	ErrCodeProtocolVersionMismatch FaultCode = "PROTOCOL_VERSION_MISMATCH"
	ErrCodeLogonExpected           FaultCode = "LOGON_EXPECTED"
	ErrCodeCompIDMismatch          FaultCode = "COMP_ID_MISMATCH"
	ErrCodeInvalidOrigSendingTime  FaultCode = "INVALID_ORIG_SENDING_TIME"
	ErrCodeInvalidSendingTime      FaultCode = "INVALID_SENDING_TIME"
	ErrCodeSeqNumTooLow            FaultCode = "SEQ_NUM_TOO_LOW"
	ErrCodeResendLoop              FaultCode = "RESEND_LOOP"
	ErrCodeThrottled               FaultCode = "THROTTLED"
	ErrCodeStorageFailure          FaultCode = "STORAGE_FAILURE"
	ErrCodeInvalidNewSeqNo         FaultCode = "INVALID_NEW_SEQ_NO"
)

// Fault is raised by a handler stage. A fatal fault tears the session down
// with Reason; a non-fatal one has already been answered (usually with a
// Reject) and the session continues.
type Fault struct {
	Code    FaultCode
	Message string
	Reason  DisconnectReason
	Fatal   bool

	// SeqNum and Offending identify the message that caused the fault.
	// Offending is printable, with SOH shown as '|'.
	SeqNum    uint64
	Offending string

	Err error
}

func (f *Fault) Error() string {
	if f.SeqNum > 0 {
		return fmt.Sprintf("%s: %s (seq=%d)", f.Code, f.Message, f.SeqNum)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Fault) Unwrap() error { return f.Err }

// Fatalf builds a fatal fault for m.
func Fatalf(code FaultCode, reason DisconnectReason, m *fix.Message, format string, args ...any) *Fault {
	f := &Fault{Code: code, Reason: reason, Fatal: true, Message: fmt.Sprintf(format, args...)}
	f.attach(m)
	return f
}

// Rejectedf builds a non-fatal fault for a message that was answered with a
// Reject.
func Rejectedf(code FaultCode, m *fix.Message, format string, args ...any) *Fault {
	f := &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
	f.attach(m)
	return f
}

// StorageFault wraps a log or transport error as a fatal fault.
func StorageFault(err error) *Fault {
	return &Fault{
		Code:    ErrCodeStorageFailure,
		Reason:  ReasonStorageFailure,
		Fatal:   true,
		Message: err.Error(),
		Err:     err,
	}
}

// Attach fills the offending-message fields if they are empty.
func (f *Fault) Attach(m *fix.Message) *Fault {
	f.attach(m)
	return f
}

func (f *Fault) attach(m *fix.Message) {
	if m == nil || f.Offending != "" {
		return
	}
	f.SeqNum = m.SeqNum()
	f.Offending = m.String()
}

// AsFault returns the Fault in err's chain, if any.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

func hasCode(err error, code FaultCode) bool {
	f, ok := AsFault(err)
	return ok && f.Code == code
}

// IsFatal returns true if err carries a fatal Fault.
func IsFatal(err error) bool {
	f, ok := AsFault(err)
	return ok && f.Fatal
}

func IsSeqNumTooLow(err error) bool { return hasCode(err, ErrCodeSeqNumTooLow) }

func IsResendLoop(err error) bool { return hasCode(err, ErrCodeResendLoop) }

func IsThrottled(err error) bool { return hasCode(err, ErrCodeThrottled) }
