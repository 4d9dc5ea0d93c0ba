package store

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageClosed is returned when a log is used after Close, including
	// a retrieval that was interrupted by Close.
	ErrStorageClosed = errors.New("storage closed")

	// ErrInvalidRange is returned for retrieval bounds below 1.
	ErrInvalidRange = errors.New("invalid sequence range")

	// ErrNoSeqNum is returned when an appended message has no readable MsgSeqNum.
	ErrNoSeqNum = errors.New("message has no sequence number")

	// ErrUnsupported is returned for variants the platform cannot provide and
	// for operations a variant does not offer.
	ErrUnsupported = errors.New("storage type not supported on this platform")
)

// SequenceRangeError reports a sequence number the memory-mapped index cannot
// address.
type SequenceRangeError struct {
	SeqNum uint64
	Max    uint64
}

func (e *SequenceRangeError) Error() string {
	return fmt.Sprintf("sequence number %d exceeds mmap index limit %d", e.SeqNum, e.Max)
}

// IsSequenceRangeError reports whether err is or wraps a SequenceRangeError.
func IsSequenceRangeError(err error) bool {
	var re *SequenceRangeError
	return errors.As(err, &re)
}
