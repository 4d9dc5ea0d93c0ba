package session

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/fixsession/internal/config"
	"github.com/roach88/fixsession/internal/fix"
	"github.com/roach88/fixsession/internal/store"
)

// Logs are the two message logs of one session.
type Logs struct {
	Inbound  store.MessageLog
	Outbound store.MessageLog
}

// Close closes both logs.
func (l Logs) Close() error {
	var errs []error
	if l.Inbound != nil {
		errs = append(errs, l.Inbound.Close())
	}
	if l.Outbound != nil {
		errs = append(errs, l.Outbound.Close())
	}
	return errors.Join(errs...)
}

// LogPaths returns the inbound and outbound log paths for s.
func LogPaths(s config.Settings) (inbound, outbound string) {
	base := filepath.Join(s.Storage.Dir, fmt.Sprintf("%s-%s-%s", s.BeginString, s.SenderCompID, s.TargetCompID))
	ext := ".log"
	if store.Kind(s.Storage.Type) == store.KindSQLite {
		ext = ".db"
	}
	return base + ".in" + ext, base + ".out" + ext
}

// StoreOptions maps storage settings to log options.
func StoreOptions(s config.StorageSettings, logger *slog.Logger) store.Options {
	return store.Options{
		Timestamps:      s.Timestamps.Enabled,
		Precision:       fix.Precision(s.Timestamps.Precision),
		StorageGrowSize: s.StorageGrowSize,
		MmapGrowSize:    s.MmapGrowSize,
		IndexGrowSize:   s.IndexGrowSize,
		MaxSliceSize:    s.MaxSliceSize,
		BackupDir:       s.BackupDir,
		Logger:          logger,
	}
}

// OpenLogs constructs both logs described by s. They are initialized by
// Session.Open.
func OpenLogs(s config.Settings, logger *slog.Logger) (Logs, error) {
	kind := store.Kind(s.Storage.Type)
	opts := StoreOptions(s.Storage, logger)
	inPath, outPath := LogPaths(s)

	in, err := store.New(kind, inPath, opts)
	if err != nil {
		return Logs{}, fmt.Errorf("inbound log: %w", err)
	}
	out, err := store.New(kind, outPath, opts)
	if err != nil {
		return Logs{}, fmt.Errorf("outbound log: %w", err)
	}
	return Logs{Inbound: in, Outbound: out}, nil
}

// State is the lifecycle position of a session, derived from its attributes.
type State int

const (
	StateAwaitingLogon State = iota
	StateEstablished
	StateAwaitingLogoff
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateAwaitingLogon:
		return "awaiting_logon"
	case StateEstablished:
		return "established"
	case StateAwaitingLogoff:
		return "awaiting_logoff"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session is the state one FIX session shares across handler stages: its
// counters, resend bookkeeping, attributes, logs and collaborators.
//
// Outbound sends are serialized so that sequence numbers are assigned, logged
// and transmitted in the same order.
type Session struct {
	settings  config.Settings
	logs      Logs
	transport Transport
	factory   MessageFactory
	app       Application
	observer  Observer
	base      *slog.Logger
	logger    *slog.Logger
	now       func() time.Time
	ids       IDGenerator

	seq    *SequenceState
	resend *ResendCoordinator
	attrs  *Attributes

	sendMu sync.Mutex

	mu           sync.Mutex
	id           string
	disconnected bool
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithClock replaces time.Now for SendingTime checks, throttling and log
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

func WithObserver(o Observer) Option {
	return func(s *Session) { s.observer = o }
}

func WithApplication(a Application) Option {
	return func(s *Session) { s.app = a }
}

func WithIDGenerator(g IDGenerator) Option {
	return func(s *Session) { s.ids = g }
}

// New creates a session. It performs no I/O until Open.
func New(settings config.Settings, logs Logs, transport Transport, factory MessageFactory, opts ...Option) *Session {
	s := &Session{
		settings:  settings,
		logs:      logs,
		transport: transport,
		factory:   factory,
		app:       nopApplication{},
		observer:  nopObserver{},
		logger:    slog.Default(),
		now:       time.Now,
		ids:       UUIDv7Generator{},
		seq:       NewSequenceState(),
		resend: NewResendCoordinator(
			settings.Sequencing.AllowedSimilarResendRequests,
			settings.Sequencing.AllowMultipleResendRequests,
		),
		attrs:        NewAttributes(),
		disconnected: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.base = s.logger
	return s
}

// Open initializes both logs and seeds the counters from them.
func (s *Session) Open() error {
	nextIn, err := s.logs.Inbound.Initialize()
	if err != nil {
		return fmt.Errorf("initialize inbound log: %w", err)
	}
	nextOut, err := s.logs.Outbound.Initialize()
	if err != nil {
		return fmt.Errorf("initialize outbound log: %w", err)
	}
	s.seq.SetExpectedIn(nextIn)
	s.seq.SetNextOut(nextOut)

	s.mu.Lock()
	s.id = s.ids.Generate()
	s.disconnected = false
	id := s.id
	s.mu.Unlock()

	s.logger = s.base.With("session", id)
	s.logger.Info("session opened",
		"begin_string", s.settings.BeginString,
		"sender", s.settings.SenderCompID,
		"target", s.settings.TargetCompID,
		"expected_in", nextIn,
		"next_out", nextOut,
	)
	return nil
}

// Close closes both logs.
func (s *Session) Close() error {
	return s.logs.Close()
}

// ID is the instance ID assigned by the last Open.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) Settings() config.Settings  { return s.settings }
func (s *Session) Logs() Logs                 { return s.logs }
func (s *Session) Sequences() *SequenceState  { return s.seq }
func (s *Session) Resend() *ResendCoordinator { return s.resend }
func (s *Session) Attributes() *Attributes    { return s.attrs }
func (s *Session) Transport() Transport       { return s.transport }
func (s *Session) Factory() MessageFactory    { return s.factory }
func (s *Session) Application() Application   { return s.app }
func (s *Session) Observer() Observer         { return s.observer }
func (s *Session) Logger() *slog.Logger       { return s.logger }
func (s *Session) Now() time.Time             { return s.now() }

// Send assigns the next outbound sequence number, builds the message with
// it, logs it and hands it to the transport. The counter advances only once
// the message is logged.
func (s *Session) Send(build func(seq uint64) ([]byte, error)) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	seq := s.seq.NextOut()
	raw, err := build(seq)
	if err != nil {
		return fmt.Errorf("build outbound %d: %w", seq, err)
	}
	if _, err := s.logs.Outbound.Append(raw, s.now()); err != nil {
		return StorageFault(fmt.Errorf("log outbound %d: %w", seq, err))
	}
	s.seq.AdvanceOut()
	if err := s.transport.Send(raw); err != nil {
		return fmt.Errorf("send %d: %w", seq, err)
	}
	return nil
}

// SendRaw transmits an already numbered message, such as a retransmission,
// without logging it or touching the counters.
func (s *Session) SendRaw(raw []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.transport.Send(raw)
}

// Reject answers m with a session-level Reject citing refTag.
func (s *Session) Reject(m *fix.Message, refTag int, reason fix.RejectReason, text string) error {
	refSeq := m.SeqNum()
	err := s.Send(func(seq uint64) ([]byte, error) {
		return s.factory.Reject(seq, refSeq, refTag, m.MsgType(), reason, text)
	})
	if err != nil {
		return err
	}
	s.attrs.SetUint(AttrLastRejectedSeqNum, refSeq)
	s.logger.Warn("message rejected",
		"seq", refSeq,
		"msg_type", m.MsgType(),
		"ref_tag", refTag,
		"reason", int(reason),
		"text", text,
	)
	return nil
}

// RequestResend asks the counterparty for [begin, end]. Exceeding the bound
// on similar requests yields a fatal RESEND_LOOP fault and sends nothing.
func (s *Session) RequestResend(begin, end uint64) error {
	rng, err := s.resend.Request(begin, end)
	if errors.Is(err, ErrResendLoop) {
		return &Fault{
			Code:    ErrCodeResendLoop,
			Reason:  ReasonResendLoop,
			Fatal:   true,
			Message: fmt.Sprintf("%d resend requests starting at %d", rng.RequestsSent, begin),
			Err:     err,
		}
	}
	if err != nil {
		return err
	}

	err = s.Send(func(seq uint64) ([]byte, error) {
		return s.factory.ResendRequest(seq, begin, end)
	})
	if err != nil {
		return err
	}
	s.logger.Info("resend requested", "begin", begin, "end", end, "attempt", rng.RequestsSent)
	s.observer.ResendRequested(begin, end)
	return nil
}

// RequestResendOne asks for n alone. The outstanding range and its request
// count are left as they are.
func (s *Session) RequestResendOne(n uint64) error {
	err := s.Send(func(seq uint64) ([]byte, error) {
		return s.factory.ResendRequest(seq, n, n)
	})
	if err != nil {
		return err
	}
	s.logger.Info("resend requested", "begin", n, "end", n, "range", s.resend.Range().Begin)
	s.observer.ResendRequested(n, n)
	return nil
}

// Logout sends a Logout and waits for the counterparty's reply.
func (s *Session) Logout(text string) error {
	err := s.Send(func(seq uint64) ([]byte, error) {
		return s.factory.Logout(seq, text)
	})
	if err != nil {
		return err
	}
	s.attrs.SetBool(AttrAwaitingLogoff, true)
	return nil
}

// Disconnect closes the connection once queued output has drained.
func (s *Session) Disconnect(reason DisconnectReason, description string) {
	s.markDisconnected()
	s.logger.Info("disconnecting", "reason", reason.String(), "description", description)
	s.transport.Disconnect(reason, description)
}

// ForcedDisconnect closes the connection immediately.
func (s *Session) ForcedDisconnect(reason DisconnectReason, description string) {
	s.markDisconnected()
	s.logger.Error("forced disconnect", "reason", reason.String(), "description", description)
	s.transport.ForcedDisconnect(reason, description)
}

func (s *Session) markDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = true
}

// Disconnected reports whether the session is closed to further input.
func (s *Session) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

// State derives the lifecycle position from the attributes.
func (s *Session) State() State {
	switch {
	case s.Disconnected():
		return StateDisconnected
	case s.attrs.Bool(AttrAwaitingLogoff):
		return StateAwaitingLogoff
	case s.attrs.Bool(AttrLogonReceived):
		return StateEstablished
	default:
		return StateAwaitingLogon
	}
}

// ResetSequences returns both counters to 1 and forgets resend state.
func (s *Session) ResetSequences() {
	s.seq.Reset()
	s.resend.Reset()
	s.logger.Warn("sequence numbers reset")
}
