package session

import "sync"

// AttributeKey names a piece of per-session state shared between handler
// stages. The set is closed.
type AttributeKey int

const (
	// AttrIgnoredSeqNum holds the number of a message that was not consumed,
	// so the expected inbound number did not move.
	AttrIgnoredSeqNum AttributeKey = iota + 1
	// AttrResendRangeEnd holds the end of a resend range the current message
	// just satisfied.
	AttrResendRangeEnd
	// AttrPossDupAccepted marks a duplicate delivered without being logged.
	AttrPossDupAccepted
	AttrLogonReceived
	AttrAwaitingLogoff
	AttrLastRejectedSeqNum
	AttrTestRequestID
)

var attributeNames = map[AttributeKey]string{
	AttrIgnoredSeqNum:      "ignored_seq_num",
	AttrResendRangeEnd:     "resend_range_end",
	AttrPossDupAccepted:    "possdup_accepted",
	AttrLogonReceived:      "logon_received",
	AttrAwaitingLogoff:     "awaiting_logoff",
	AttrLastRejectedSeqNum: "last_rejected_seq_num",
	AttrTestRequestID:      "test_request_id",
}

func (k AttributeKey) String() string {
	if name, ok := attributeNames[k]; ok {
		return name
	}
	return "unknown"
}

// transient keys describe the message being processed and are cleared
// before the next one.
var transient = []AttributeKey{AttrIgnoredSeqNum, AttrResendRangeEnd, AttrPossDupAccepted}

// Attributes is a typed key/value bag. Each key carries one kind of value;
// reading a key through the wrong accessor reports it as absent.
type Attributes struct {
	mu     sync.Mutex
	values map[AttributeKey]any
}

func NewAttributes() *Attributes {
	return &Attributes{values: make(map[AttributeKey]any)}
}

func (a *Attributes) set(k AttributeKey, v any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[k] = v
}

func (a *Attributes) get(k AttributeKey) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.values[k]
	return v, ok
}

func (a *Attributes) SetUint(k AttributeKey, v uint64) { a.set(k, v) }

func (a *Attributes) SetBool(k AttributeKey, v bool) { a.set(k, v) }

func (a *Attributes) SetString(k AttributeKey, v string) { a.set(k, v) }

func (a *Attributes) Uint(k AttributeKey) (uint64, bool) {
	v, ok := a.get(k)
	if !ok {
		return 0, false
	}
	n, ok := v.(uint64)
	return n, ok
}

// Bool returns false for absent keys.
func (a *Attributes) Bool(k AttributeKey) bool {
	v, _ := a.get(k)
	b, _ := v.(bool)
	return b
}

func (a *Attributes) String(k AttributeKey) (string, bool) {
	v, ok := a.get(k)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (a *Attributes) Delete(k AttributeKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.values, k)
}

// ClearTransient drops the per-message keys.
func (a *Attributes) ClearTransient() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, k := range transient {
		delete(a.values, k)
	}
}

// Snapshot copies every set attribute keyed by name.
func (a *Attributes) Snapshot() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]any, len(a.values))
	for k, v := range a.values {
		out[k.String()] = v
	}
	return out
}
