package session

import (
	"errors"
	"sort"
	"sync"
)

// ErrResendLoop is returned by ResendCoordinator.Request when the same
// starting sequence number has been requested too many times.
var ErrResendLoop = errors.New("possible resend-request loop")

// ResendRange is the outstanding inbound gap we asked the counterparty to fill.
type ResendRange struct {
	Begin        uint64 `json:"begin"`
	End          uint64 `json:"end"`
	Active       bool   `json:"active"`
	RequestsSent uint32 `json:"requests_sent"`
}

// Covers reports whether n lies inside an active range.
func (r ResendRange) Covers(n uint64) bool {
	return r.Active && n >= r.Begin && n <= r.End
}

// ResendCoordinator tracks the active resend range, counts similar requests,
// and holds messages that arrived ahead of the gap.
//
// Requests are similar when they start at the same sequence number: the
// counterparty has not delivered anything that moved the gap forward.
type ResendCoordinator struct {
	mu            sync.Mutex
	allowed       int
	allowMultiple bool
	rng           ResendRange
	buffered      map[uint64][]byte
}

// NewResendCoordinator bounds similar requests to allowed (0 or less is
// unbounded). allowMultiple permits a new request while one is outstanding.
func NewResendCoordinator(allowed int, allowMultiple bool) *ResendCoordinator {
	return &ResendCoordinator{
		allowed:       allowed,
		allowMultiple: allowMultiple,
		buffered:      make(map[uint64][]byte),
	}
}

func (c *ResendCoordinator) Range() ResendRange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng
}

func (c *ResendCoordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.Active
}

// ShouldRequest reports whether a gap warrants a new range request: nothing
// is outstanding or multiple requests are allowed.
func (c *ResendCoordinator) ShouldRequest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.rng.Active || c.allowMultiple
}

// ShouldRequestOne reports whether n lies inside the outstanding range and
// has not been seen yet, so it is worth asking for on its own.
func (c *ResendCoordinator) ShouldRequestOne(n uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, held := c.buffered[n]
	return c.rng.Covers(n) && !held
}

// Request records a request for [begin, end]. It fails with ErrResendLoop,
// leaving the range unchanged, when the request would exceed the bound on
// similar requests.
func (c *ResendCoordinator) Request(begin, end uint64) (ResendRange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sent := uint32(1)
	if c.rng.Active && c.rng.Begin == begin {
		sent = c.rng.RequestsSent + 1
	}
	if c.allowed > 0 && int(sent) > c.allowed {
		return c.rng, ErrResendLoop
	}

	c.rng = ResendRange{Begin: begin, End: end, Active: true, RequestsSent: sent}
	return c.rng, nil
}

// Satisfy clears the active range once n reaches its end. It returns the
// cleared range and true when that happened.
func (c *ResendCoordinator) Satisfy(n uint64) (ResendRange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.rng.Active || n < c.rng.End {
		return ResendRange{}, false
	}
	done := c.rng
	c.rng = ResendRange{}
	return done, true
}

// Buffer holds raw until the expected sequence number reaches seq.
func (c *ResendCoordinator) Buffer(seq uint64, raw []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffered[seq] = raw
}

// TakeBuffered removes and returns the message held for expected. Messages
// held for lower numbers are stale and dropped.
func (c *ResendCoordinator) TakeBuffered(expected uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for seq := range c.buffered {
		if seq < expected {
			delete(c.buffered, seq)
		}
	}
	raw, ok := c.buffered[expected]
	if ok {
		delete(c.buffered, expected)
	}
	return raw, ok
}

// Buffered lists held sequence numbers in ascending order.
func (c *ResendCoordinator) Buffered() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	seqs := make([]uint64, 0, len(c.buffered))
	for seq := range c.buffered {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

// Reset forgets the active range and every buffered message.
func (c *ResendCoordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rng = ResendRange{}
	clear(c.buffered)
}
