// Package metrics exposes session and message-log activity as Prometheus
// counters.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/roach88/fixsession/internal/session"
	"github.com/roach88/fixsession/internal/store"
)

const namespace = "fixsession"

// Directions label the two message logs.
const (
	Inbound  = "inbound"
	Outbound = "outbound"
)

// Registry holds the collectors for one process. It implements
// session.Observer.
type Registry struct {
	MessagesLogged   *prometheus.CounterVec
	BytesLogged      *prometheus.CounterVec
	AppendErrors     *prometheus.CounterVec
	GapsDetected     prometheus.Counter
	ResendRequests   prometheus.Counter
	Faults           *prometheus.CounterVec
	FatalFaults      prometheus.Counter
	MessagesReplayed prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewRegistry registers every collector with reg. A nil reg uses a fresh
// private registry.
func NewRegistry(reg *prometheus.Registry) *Registry {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Registry{
		MessagesLogged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_logged_total",
			Help:      "Total number of messages appended to a message log",
		}, []string{"direction"}),
		BytesLogged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_logged_total",
			Help:      "Total record bytes appended to a message log",
		}, []string{"direction"}),
		AppendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "append_errors_total",
			Help:      "Total number of failed message log appends",
		}, []string{"direction"}),
		GapsDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gaps_detected_total",
			Help:      "Total number of inbound sequence gaps",
		}),
		ResendRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resend_requests_total",
			Help:      "Total number of resend requests sent",
		}),
		Faults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Total number of handler faults by code",
		}, []string{"code"}),
		FatalFaults: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fatal_faults_total",
			Help:      "Total number of faults that ended a session",
		}),
		MessagesReplayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_replayed_total",
			Help:      "Total number of messages read back from a message log",
		}),
		gatherer: reg,
	}
}

// Snapshot returns every counter value keyed by metric name. Labelled series
// are keyed as name{label="value"}.
func (r *Registry) Snapshot() (map[string]float64, error) {
	families, err := r.gatherer.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() == nil {
				continue
			}
			out[seriesName(mf.GetName(), m.GetLabel())] = m.GetCounter().GetValue()
		}
	}
	return out, nil
}

func seriesName(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	pairs := make([]string, 0, len(labels))
	for _, l := range labels {
		pairs = append(pairs, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
	}
	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}

func (r *Registry) GapDetected(expected, received uint64) {
	r.GapsDetected.Inc()
}

func (r *Registry) ResendRequested(begin, end uint64) {
	r.ResendRequests.Inc()
}

func (r *Registry) Fault(f *session.Fault) {
	r.Faults.WithLabelValues(string(f.Code)).Inc()
	if f.Fatal {
		r.FatalFaults.Inc()
	}
}

// InstrumentLog wraps log so that appends and retrievals are counted under
// direction.
func (r *Registry) InstrumentLog(log store.MessageLog, direction string) store.MessageLog {
	return &instrumentedLog{
		MessageLog: log,
		messages:   r.MessagesLogged.WithLabelValues(direction),
		bytes:      r.BytesLogged.WithLabelValues(direction),
		errors:     r.AppendErrors.WithLabelValues(direction),
		replayed:   r.MessagesReplayed,
	}
}

// InstrumentLogs wraps both logs of a session.
func (r *Registry) InstrumentLogs(logs session.Logs) session.Logs {
	return session.Logs{
		Inbound:  r.InstrumentLog(logs.Inbound, Inbound),
		Outbound: r.InstrumentLog(logs.Outbound, Outbound),
	}
}

type instrumentedLog struct {
	store.MessageLog
	messages prometheus.Counter
	bytes    prometheus.Counter
	errors   prometheus.Counter
	replayed prometheus.Counter
}

func (l *instrumentedLog) Append(msg []byte, ts time.Time) (int, error) {
	n, err := l.MessageLog.Append(msg, ts)
	if err != nil {
		l.errors.Inc()
		return n, err
	}
	l.messages.Inc()
	l.bytes.Add(float64(n))
	return n, nil
}

func (l *instrumentedLog) RetrieveRange(from, to uint64, fn store.Listener, blocking bool) error {
	return l.MessageLog.RetrieveRange(from, to, func(seq uint64, msg []byte) {
		l.replayed.Inc()
		fn(seq, msg)
	}, blocking)
}
