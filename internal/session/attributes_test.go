package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttributes_TypedAccess(t *testing.T) {
	a := NewAttributes()

	a.SetUint(AttrIgnoredSeqNum, 7)
	n, ok := a.Uint(AttrIgnoredSeqNum)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), n)

	_, ok = a.String(AttrIgnoredSeqNum)
	assert.False(t, ok, "wrong accessor reads as absent")

	assert.False(t, a.Bool(AttrLogonReceived))
	a.SetBool(AttrLogonReceived, true)
	assert.True(t, a.Bool(AttrLogonReceived))

	a.SetString(AttrTestRequestID, "TR1")
	s, ok := a.String(AttrTestRequestID)
	assert.True(t, ok)
	assert.Equal(t, "TR1", s)

	a.Delete(AttrTestRequestID)
	_, ok = a.String(AttrTestRequestID)
	assert.False(t, ok)
}

func TestAttributes_ClearTransient(t *testing.T) {
	a := NewAttributes()
	a.SetUint(AttrIgnoredSeqNum, 3)
	a.SetUint(AttrResendRangeEnd, 6)
	a.SetBool(AttrPossDupAccepted, true)
	a.SetBool(AttrLogonReceived, true)

	a.ClearTransient()

	assert.Equal(t, map[string]any{"logon_received": true}, a.Snapshot())
}

func TestDisconnectReason_String(t *testing.T) {
	assert.Equal(t, "sequence too low", ReasonSeqNumTooLow.String())
	assert.Equal(t, "possible resend-request loop", ReasonResendLoop.String())
	assert.Equal(t, "throttling", ReasonThrottling.String())
	assert.Equal(t, "unknown", DisconnectReason(99).String())
}
