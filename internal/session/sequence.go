package session

import "sync"

// SequenceState holds the inbound and outbound counters of one session.
// Both counters start at 1 and never drop below it.
type SequenceState struct {
	mu              sync.Mutex
	expectedIn      uint64
	nextOut         uint64
	lastProcessedIn uint64
}

func NewSequenceState() *SequenceState {
	return &SequenceState{expectedIn: 1, nextOut: 1}
}

// Sequences is a point-in-time copy of SequenceState.
type Sequences struct {
	ExpectedIn      uint64 `json:"expected_in"`
	NextOut         uint64 `json:"next_out"`
	LastProcessedIn uint64 `json:"last_processed_in"`
}

func (s *SequenceState) Snapshot() Sequences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Sequences{ExpectedIn: s.expectedIn, NextOut: s.nextOut, LastProcessedIn: s.lastProcessedIn}
}

func (s *SequenceState) ExpectedIn() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expectedIn
}

func (s *SequenceState) LastProcessedIn() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastProcessedIn
}

// Accept records n as processed and expects n+1 next.
func (s *SequenceState) Accept(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastProcessedIn = n
	s.expectedIn = n + 1
}

func (s *SequenceState) SetExpectedIn(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expectedIn = max(n, 1)
}

func (s *SequenceState) NextOut() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextOut
}

// AdvanceOut returns the current outbound number and moves past it.
func (s *SequenceState) AdvanceOut() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.nextOut
	s.nextOut++
	return n
}

func (s *SequenceState) SetNextOut(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOut = max(n, 1)
}

// Reset returns both directions to 1.
func (s *SequenceState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expectedIn = 1
	s.nextOut = 1
	s.lastProcessedIn = 0
}
