package session

import "github.com/roach88/fixsession/internal/fix"

// Transport carries outbound bytes and owns the connection. Disconnect lets
// queued output drain first; ForcedDisconnect does not.
type Transport interface {
	Send(raw []byte) error
	Disconnect(reason DisconnectReason, description string)
	ForcedDisconnect(reason DisconnectReason, description string)
	ClearOutboundQueue()
}

// MessageFactory builds the session-level messages a session sends.
// *fix.Factory satisfies it.
type MessageFactory interface {
	Heartbeat(seq uint64, testReqID string) ([]byte, error)
	ResendRequest(seq, begin, end uint64) ([]byte, error)
	Reject(seq, refSeq uint64, refTag int, refMsgType string, reason fix.RejectReason, text string) ([]byte, error)
	SequenceReset(seq, newSeq uint64, gapFill bool) ([]byte, error)
	Logout(seq uint64, text string) ([]byte, error)
	Resend(orig []byte) ([]byte, error)
}

// Application receives in-order business messages.
type Application interface {
	OnMessage(m *fix.Message)
}

// Observer is notified of recovery events. Implementations must not block.
type Observer interface {
	GapDetected(expected, received uint64)
	ResendRequested(begin, end uint64)
	Fault(f *Fault)
}

type nopApplication struct{}

func (nopApplication) OnMessage(*fix.Message) {}

type nopObserver struct{}

func (nopObserver) GapDetected(uint64, uint64)     {}
func (nopObserver) ResendRequested(uint64, uint64) {}
func (nopObserver) Fault(*Fault)                   {}

// Observers fans events out to each observer in order.
type Observers []Observer

func (o Observers) GapDetected(expected, received uint64) {
	for _, obs := range o {
		obs.GapDetected(expected, received)
	}
}

func (o Observers) ResendRequested(begin, end uint64) {
	for _, obs := range o {
		obs.ResendRequested(begin, end)
	}
}

func (o Observers) Fault(f *Fault) {
	for _, obs := range o {
		obs.Fault(f)
	}
}
