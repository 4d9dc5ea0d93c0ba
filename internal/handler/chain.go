package handler

import (
	"errors"
	"fmt"

	"github.com/roach88/fixsession/internal/fix"
	"github.com/roach88/fixsession/internal/session"
)

// ErrDisconnected is returned by Process once the session has been torn down.
var ErrDisconnected = errors.New("session disconnected")

// Verdict tells the chain whether to continue with the next stage.
type Verdict int

const (
	Forward Verdict = iota
	Stop
)

func (v Verdict) String() string {
	if v == Stop {
		return "stop"
	}
	return "forward"
}

// Stage is one step of the inbound chain.
//
// Bind is called once when the chain is built and may prepare per-session
// state from the settings. Handle returns Stop to end processing quietly, or
// an error to raise a fault.
type Stage interface {
	Name() string
	Bind(s *session.Session) error
	Handle(s *session.Session, m *fix.Message) (Verdict, error)
}

// DefaultStages returns fresh instances of every stage in chain order.
func DefaultStages() []Stage {
	return []Stage{
		&Framing{},
		&Version{},
		&LogonGate{},
		&CompID{},
		&SendingTime{},
		&PossDup{},
		&Sequence{},
		&Throttle{},
		&ResendRequest{},
		&TestRequest{},
		&SequenceReset{},
		&Logon{},
		&Logout{},
	}
}

// Chain drives inbound messages through its stages.
type Chain struct {
	s      *session.Session
	stages []Stage // fixed at construction
}

// NewChain binds stages to s. With no stages, DefaultStages is used. The
// slice is copied so the caller cannot reorder a live chain.
func NewChain(s *session.Session, stages ...Stage) (*Chain, error) {
	if len(stages) == 0 {
		stages = DefaultStages()
	}
	owned := make([]Stage, len(stages))
	copy(owned, stages)

	for _, st := range owned {
		if err := st.Bind(s); err != nil {
			return nil, fmt.Errorf("bind %s: %w", st.Name(), err)
		}
	}
	return &Chain{s: s, stages: owned}, nil
}

// Stages lists the stage names in order.
func (c *Chain) Stages() []string {
	names := make([]string, len(c.stages))
	for i, st := range c.stages {
		names[i] = st.Name()
	}
	return names
}

// Process handles one raw inbound message, then any buffered messages the
// new expected sequence number has caught up with.
func (c *Chain) Process(raw []byte) error {
	if c.s.Disconnected() {
		return ErrDisconnected
	}
	if err := c.processOne(raw); err != nil {
		return err
	}

	for !c.s.Disconnected() {
		next, ok := c.s.Resend().TakeBuffered(c.s.Sequences().ExpectedIn())
		if !ok {
			return nil
		}
		c.s.Logger().Debug("replaying buffered message", "seq", c.s.Sequences().ExpectedIn())
		if err := c.processOne(next); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chain) processOne(raw []byte) error {
	c.s.Attributes().ClearTransient()

	m, err := fix.Parse(raw)
	if err != nil {
		return c.fail("parse", &session.Fault{
			Code:      session.ErrCodeGarbledMessage,
			Reason:    session.ReasonGarbledMessage,
			Fatal:     true,
			Message:   err.Error(),
			Offending: fix.Printable(raw),
			Err:       err,
		}, nil)
	}

	for _, st := range c.stages {
		v, err := st.Handle(c.s, m)
		if err != nil {
			return c.fail(st.Name(), err, m)
		}
		if v == Stop {
			c.s.Logger().Debug("message stopped", "stage", st.Name(), "seq", m.SeqNum(), "msg_type", m.MsgType())
			return nil
		}
	}
	return c.deliver(m)
}

// deliver logs m if the sequence stage consumed it and hands application
// messages to the application. Accepted duplicates are delivered but not
// logged again.
func (c *Chain) deliver(m *fix.Message) error {
	attrs := c.s.Attributes()
	if !attrs.Bool(session.AttrPossDupAccepted) && m.SeqNum() == c.s.Sequences().LastProcessedIn() {
		if _, err := c.s.Logs().Inbound.Append(m.Raw, c.s.Now()); err != nil {
			return c.fail("deliver", session.StorageFault(fmt.Errorf("log inbound %d: %w", m.SeqNum(), err)), m)
		}
	}
	if !fix.IsAdmin(m.MsgType()) {
		c.s.Application().OnMessage(m)
	}
	return nil
}

// fail reports err to the observer. Fatal faults force a disconnect and are
// returned; errors that are not faults are treated as fatal storage faults.
func (c *Chain) fail(stage string, err error, m *fix.Message) error {
	f, ok := session.AsFault(err)
	if !ok {
		f = session.StorageFault(err)
	}
	f.Attach(m)
	c.s.Observer().Fault(f)

	if !f.Fatal {
		c.s.Logger().Warn("message rejected",
			"stage", stage,
			"code", string(f.Code),
			"seq", f.SeqNum,
			"error", f.Message,
		)
		return nil
	}

	c.s.Logger().Error("fatal fault",
		"stage", stage,
		"code", string(f.Code),
		"seq", f.SeqNum,
		"error", f.Message,
		"message", f.Offending,
	)
	c.s.ForcedDisconnect(f.Reason, f.Message)
	return f
}
