package session

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fixsession/internal/fix"
)

func TestFault_Helpers(t *testing.T) {
	m, err := fix.Parse([]byte("8=FIX.4.4\x019=5\x0135=0\x0134=3\x0110=000\x01"))
	require.NoError(t, err)

	f := Fatalf(ErrCodeSeqNumTooLow, ReasonSeqNumTooLow, m, "MsgSeqNum too low, expecting %d but received %d", 5, 3)
	wrapped := fmt.Errorf("process: %w", f)

	assert.True(t, IsFatal(wrapped))
	assert.True(t, IsSeqNumTooLow(wrapped))
	assert.False(t, IsResendLoop(wrapped))
	assert.Equal(t, uint64(3), f.SeqNum)
	assert.Equal(t, "8=FIX.4.4|9=5|35=0|34=3|10=000|", f.Offending)
	assert.Equal(t, "SEQ_NUM_TOO_LOW: MsgSeqNum too low, expecting 5 but received 3 (seq=3)", f.Error())

	r := Rejectedf(ErrCodeInvalidOrigSendingTime, m, "OrigSendingTime missing")
	assert.False(t, IsFatal(r))

	cause := errors.New("disk full")
	sf := StorageFault(cause)
	assert.ErrorIs(t, sf, cause)
	assert.True(t, IsFatal(sf))
	assert.Equal(t, ReasonStorageFailure, sf.Reason)

	_, ok := AsFault(cause)
	assert.False(t, ok)
}
