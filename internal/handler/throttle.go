package handler

import (
	"github.com/roach88/fixsession/internal/fix"
	"github.com/roach88/fixsession/internal/session"
)

// Throttle limits how many messages of each type may arrive per window.
// Windows are fixed and anchored at the Unix epoch, so a window starts at
// now - now%period. Only types with a positive threshold are counted.
// Exceeding a threshold ends the session.
type Throttle struct {
	enabled    bool
	periodMs   int64
	thresholds map[string]int
	counters   map[string]*throttleCounter
}

type throttleCounter struct {
	windowStart int64
	count       int
}

func (*Throttle) Name() string { return "throttle" }

func (t *Throttle) Bind(s *session.Session) error {
	cfg := s.Settings().Throttle
	t.enabled = cfg.Enabled
	t.periodMs = cfg.PeriodMs
	t.thresholds = make(map[string]int, len(cfg.Thresholds))
	for msgType, n := range cfg.Thresholds {
		t.thresholds[msgType] = n
	}
	t.counters = make(map[string]*throttleCounter)
	return nil
}

func (t *Throttle) Handle(s *session.Session, m *fix.Message) (Verdict, error) {
	if !t.enabled || t.periodMs <= 0 {
		return Forward, nil
	}
	msgType := m.MsgType()
	threshold := t.thresholds[msgType]
	if threshold <= 0 {
		return Forward, nil
	}

	now := s.Now().UnixMilli()
	start := now - now%t.periodMs

	c, ok := t.counters[msgType]
	if !ok {
		c = &throttleCounter{windowStart: start}
		t.counters[msgType] = c
	}
	if c.windowStart != start {
		c.windowStart = start
		c.count = 0
	}
	c.count++

	if c.count > threshold {
		return Stop, session.Fatalf(session.ErrCodeThrottled, session.ReasonThrottling, m,
			"%s: %d/%d", msgType, c.count, threshold)
	}
	return Forward, nil
}
