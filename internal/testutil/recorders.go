package testutil

import (
	"sync"

	"github.com/roach88/fixsession/internal/fix"
	"github.com/roach88/fixsession/internal/session"
)

// Disconnect is one recorded call to Disconnect or ForcedDisconnect.
type Disconnect struct {
	Reason      session.DisconnectReason
	Description string
	Forced      bool
}

// RecordingTransport implements session.Transport by remembering every call.
// SendErr, when set, is returned from Send and the message is not recorded.
type RecordingTransport struct {
	mu          sync.Mutex
	sent        [][]byte
	disconnects []Disconnect
	cleared     int

	SendErr error
}

func (t *RecordingTransport) Send(raw []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return t.SendErr
	}
	t.sent = append(t.sent, append([]byte(nil), raw...))
	return nil
}

func (t *RecordingTransport) Disconnect(reason session.DisconnectReason, description string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects = append(t.disconnects, Disconnect{Reason: reason, Description: description})
}

func (t *RecordingTransport) ForcedDisconnect(reason session.DisconnectReason, description string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects = append(t.disconnects, Disconnect{Reason: reason, Description: description, Forced: true})
}

func (t *RecordingTransport) ClearOutboundQueue() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleared++
}

// Sent returns every transmitted message in order.
func (t *RecordingTransport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.sent...)
}

// SentMessages parses every transmitted message. Unparseable entries are
// skipped.
func (t *RecordingTransport) SentMessages() []*fix.Message {
	var out []*fix.Message
	for _, raw := range t.Sent() {
		m, err := fix.Parse(raw)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

// SentTypes returns the MsgType of every transmitted message.
func (t *RecordingTransport) SentTypes() []string {
	var out []string
	for _, m := range t.SentMessages() {
		out = append(out, m.MsgType())
	}
	return out
}

func (t *RecordingTransport) Disconnects() []Disconnect {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Disconnect(nil), t.disconnects...)
}

// Cleared counts ClearOutboundQueue calls.
func (t *RecordingTransport) Cleared() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cleared
}

// Reset forgets everything recorded so far.
func (t *RecordingTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
	t.disconnects = nil
	t.cleared = 0
}

// RecordingApplication implements session.Application.
type RecordingApplication struct {
	mu       sync.Mutex
	messages []*fix.Message
}

func (a *RecordingApplication) OnMessage(m *fix.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, m)
}

func (a *RecordingApplication) Messages() []*fix.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*fix.Message(nil), a.messages...)
}

// SeqNums returns the MsgSeqNum of every delivered message in order.
func (a *RecordingApplication) SeqNums() []uint64 {
	var out []uint64
	for _, m := range a.Messages() {
		out = append(out, m.SeqNum())
	}
	return out
}

// Gap is one recorded GapDetected call.
type Gap struct {
	Expected uint64
	Received uint64
}

// ResendRange is one recorded ResendRequested call.
type ResendRange struct {
	Begin uint64
	End   uint64
}

// RecordingObserver implements session.Observer.
type RecordingObserver struct {
	mu      sync.Mutex
	gaps    []Gap
	resends []ResendRange
	faults  []*session.Fault
}

func (o *RecordingObserver) GapDetected(expected, received uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gaps = append(o.gaps, Gap{Expected: expected, Received: received})
}

func (o *RecordingObserver) ResendRequested(begin, end uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resends = append(o.resends, ResendRange{Begin: begin, End: end})
}

func (o *RecordingObserver) Fault(f *session.Fault) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.faults = append(o.faults, f)
}

func (o *RecordingObserver) Gaps() []Gap {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Gap(nil), o.gaps...)
}

func (o *RecordingObserver) Resends() []ResendRange {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ResendRange(nil), o.resends...)
}

func (o *RecordingObserver) Faults() []*session.Fault {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*session.Fault(nil), o.faults...)
}
