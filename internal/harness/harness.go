package harness

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fixsession/internal/config"
	"github.com/roach88/fixsession/internal/fix"
	"github.com/roach88/fixsession/internal/handler"
	"github.com/roach88/fixsession/internal/metrics"
	"github.com/roach88/fixsession/internal/session"
	"github.com/roach88/fixsession/internal/testutil"
)

// Epoch is the clock reading every scenario starts at.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// tracedTags are the fields shown for outbound messages, in this order.
var tracedTags = []int{
	fix.TagBeginSeqNo, fix.TagEndSeqNo, fix.TagNewSeqNo, fix.TagGapFillFlag,
	fix.TagPossDupFlag, fix.TagRefSeqNum, fix.TagRefTagID, fix.TagSessionRejectReason,
	fix.TagTestReqID,
}

// Harness drives one scenario. It plays the counterparty against a real
// session, chain and pair of logs.
type Harness struct {
	session   *session.Session
	chain     *handler.Chain
	transport *testutil.RecordingTransport
	app       *testutil.RecordingApplication
	observer  *testutil.RecordingObserver
	registry  *metrics.Registry
	clock     *testutil.ManualClock
	us        *fix.Factory
	them      *fix.Factory
	logger    *slog.Logger

	// cursors into the recorders, advanced after every step
	sent, delivered, disconnects, faults, cleared int
}

// Run executes a scenario in a fresh temporary directory.
//
// Execution flow:
//  1. Build settings from defaults plus the scenario overrides
//  2. Open the logs and session, seed the counters
//  3. Run each flow step, tracing what it caused
//  4. Evaluate assertions against the trace and final state
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "fixsession-scenario-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	h, err := newHarness(scenario, dir)
	if err != nil {
		return nil, err
	}
	defer h.session.Close()

	result := NewResult()
	for i, step := range scenario.Flow {
		if err := h.runStep(i, step, result); err != nil {
			return nil, fmt.Errorf("flow step %d: %w", i, err)
		}
	}

	h.finish(result)
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario, dir string) (*Harness, error) {
	cfg, err := scenarioSettings(scenario.Settings)
	if err != nil {
		return nil, err
	}
	cfg.Storage.Dir = dir

	clock := testutil.NewManualClock(Epoch)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := metrics.NewRegistry(nil)

	logs, err := session.OpenLogs(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create logs: %w", err)
	}

	id := scenario.SessionID
	if id == "" {
		id = "test-session"
	}

	h := &Harness{
		transport: &testutil.RecordingTransport{},
		app:       &testutil.RecordingApplication{},
		observer:  &testutil.RecordingObserver{},
		registry:  registry,
		clock:     clock,
		logger:    logger,
		them: &fix.Factory{
			BeginString:  cfg.BeginString,
			SenderCompID: cfg.TargetCompID,
			TargetCompID: cfg.SenderCompID,
			Precision:    fix.Precision(cfg.Storage.Timestamps.Precision),
			Now:          clock.Now,
		},
	}
	h.us = &fix.Factory{
		BeginString:  cfg.BeginString,
		SenderCompID: cfg.SenderCompID,
		TargetCompID: cfg.TargetCompID,
		Precision:    fix.Precision(cfg.Storage.Timestamps.Precision),
		Now:          clock.Now,
	}

	h.session = session.New(cfg, registry.InstrumentLogs(logs), h.transport, h.us,
		session.WithLogger(logger),
		session.WithClock(clock.Now),
		session.WithApplication(h.app),
		session.WithObserver(session.Observers{h.observer, registry}),
		session.WithIDGenerator(session.NewFixedGenerator(id)),
	)
	if err := h.session.Open(); err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	if start := scenario.Start; start != nil {
		if start.ExpectedIn > 0 {
			h.session.Sequences().SetExpectedIn(start.ExpectedIn)
		}
		if start.NextOut > 0 {
			h.session.Sequences().SetNextOut(start.NextOut)
		}
	}

	h.chain, err = handler.NewChain(h.session)
	if err != nil {
		_ = h.session.Close()
		return nil, err
	}
	return h, nil
}

// scenarioSettings applies overrides to the defaults through the settings
// file decoder, so scenarios are validated like real configuration.
func scenarioSettings(overrides map[string]any) (config.Settings, error) {
	doc := map[string]any{
		"sender_comp_id": "US",
		"target_comp_id": "THEM",
	}
	for k, v := range overrides {
		doc[k] = v
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return config.Settings{}, fmt.Errorf("failed to encode settings: %w", err)
	}
	cfg, err := config.Decode(strings.NewReader(string(data)))
	if err != nil {
		return config.Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return cfg, nil
}

func (h *Harness) runStep(i int, step FlowStep, result *Result) error {
	if step.AdvanceMs > 0 {
		h.clock.Advance(time.Duration(step.AdvanceMs) * time.Millisecond)
	}

	var (
		outcome string
		err     error
	)
	if step.In != "" {
		outcome, err = h.inbound(step, result)
	} else {
		outcome, err = h.outbound(step, result)
	}
	if err != nil {
		return err
	}

	h.collect(result)

	if step.Expect != "" && step.Expect != outcome {
		result.AddError(fmt.Sprintf("flow[%d]: expected %s, got %s", i, step.Expect, outcome))
	}
	return nil
}

func (h *Harness) inbound(step FlowStep, result *Result) (string, error) {
	msgType := messageKinds[step.In]
	raw := h.them.Build(step.Seq, msgType, h.body(step)...)
	label := fmt.Sprintf("in %d %s", step.Seq, msgType)
	if step.PossDup {
		resent, err := h.them.Resend(raw)
		if err != nil {
			return "", err
		}
		raw = resent
		label += " possdup"
	}

	err := h.chain.Process(raw)
	outcome := h.outcome(err)
	result.addTrace(label + ": " + outcome)
	return outcome, nil
}

func (h *Harness) outbound(step FlowStep, result *Result) (string, error) {
	msgType := messageKinds[step.Send]
	body := h.body(step)
	err := h.session.Send(func(seq uint64) ([]byte, error) {
		return h.us.Build(seq, msgType, body...), nil
	})
	outcome := h.outcome(err)
	result.addTrace(fmt.Sprintf("send %s: %s", msgType, outcome))
	return outcome, nil
}

// body returns the step's fields in tag order, plus the Logon defaults.
func (h *Harness) body(step FlowStep) []fix.Field {
	fields := make(map[int]string, len(step.Fields)+2)
	if step.In == "logon" || step.Send == "logon" {
		fields[98] = "0"
		fields[108] = "30"
	}
	for tag, v := range step.Fields {
		fields[tag] = v
	}

	tags := make([]int, 0, len(fields))
	for tag := range fields {
		tags = append(tags, tag)
	}
	sort.Ints(tags)

	out := make([]fix.Field, 0, len(tags))
	for _, tag := range tags {
		out = append(out, fix.Field{Tag: tag, Value: fields[tag]})
	}
	return out
}

// outcome names the result of a step: "ok", the code of a returned fault,
// or the code of a non-fatal fault reported during the step.
func (h *Harness) outcome(err error) string {
	if err != nil {
		if f, ok := session.AsFault(err); ok {
			return string(f.Code)
		}
		if errors.Is(err, handler.ErrDisconnected) {
			return "disconnected"
		}
		return "error " + err.Error()
	}
	if faults := h.observer.Faults(); len(faults) > h.faults {
		return string(faults[len(faults)-1].Code)
	}
	return "ok"
}

// collect traces everything the recorders saw since the previous step.
func (h *Harness) collect(result *Result) {
	delivered := h.app.Messages()
	for _, m := range delivered[h.delivered:] {
		result.addTrace(fmt.Sprintf("deliver %d %s", m.SeqNum(), m.MsgType()))
	}
	h.delivered = len(delivered)

	sent := h.transport.SentMessages()
	for _, m := range sent[h.sent:] {
		result.addTrace(outLine(m))
	}
	h.sent = len(sent)

	if cleared := h.transport.Cleared(); cleared > h.cleared {
		result.addTrace("clear outbound queue")
		h.cleared = cleared
	}

	disconnects := h.transport.Disconnects()
	for _, d := range disconnects[h.disconnects:] {
		kind := "disconnect"
		if d.Forced {
			kind = "forced disconnect"
		}
		result.addTrace(fmt.Sprintf("%s: %s: %s", kind, d.Reason, d.Description))
	}
	h.disconnects = len(disconnects)

	h.faults = len(h.observer.Faults())
}

func outLine(m *fix.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "out %d %s", m.SeqNum(), m.MsgType())
	for _, tag := range tracedTags {
		if v, ok := m.Get(tag); ok {
			b.WriteString(" " + strconv.Itoa(tag) + "=" + v)
		}
	}
	return b.String()
}

func (h *Harness) finish(result *Result) {
	result.Final = h.session.Sequences().Snapshot()
	result.State = h.session.State().String()
	result.Buffered = len(h.session.Resend().Buffered())

	snapshot, err := h.registry.Snapshot()
	if err != nil {
		result.AddError(fmt.Sprintf("metrics: %v", err))
	}
	result.Metrics = snapshot

	result.addTrace(fmt.Sprintf("final expected_in=%d next_out=%d state=%s buffered=%d",
		result.Final.ExpectedIn, result.Final.NextOut, result.State, result.Buffered))
}
