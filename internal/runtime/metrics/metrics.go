// Package metrics holds the Prometheus collectors shared by streams, proxies
// and services. A nil *Metrics is valid and records nothing.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "relayflow"

// Completion outcomes recorded by RecordCompleted.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomePanic    = "panic"
	OutcomeRejected = "rejected"
)

// UnknownCommand is the command label of requests no factory serves. Command
// ids come from callers, so they are never used as label values unchecked.
const UnknownCommand = "unknown"

// Metrics groups every collector exported by a relayflow process.
type Metrics struct {
	mu sync.Mutex

	streamSent      *prometheus.CounterVec
	streamReceived  *prometheus.CounterVec
	decodeFailures  *prometheus.CounterVec
	droppedUnits    *prometheus.CounterVec
	proxyForwarded  *prometheus.CounterVec
	proxyFailures   *prometheus.CounterVec
	dispatched      *prometheus.CounterVec
	completed       *prometheus.CounterVec
	progress        *prometheus.CounterVec
	inFlight        *prometheus.GaugeVec
	durationSeconds *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// New creates the collectors. Call Register to expose them.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer:     registerer,
		streamSent:     newCounterVec("stream", "sent_total", "Wire units written to a channel", []string{"channel", "kind"}),
		streamReceived: newCounterVec("stream", "received_total", "Wire units read from a channel", []string{"channel", "kind"}),
		decodeFailures: newCounterVec("stream", "decode_failures_total", "Payload frames that failed to decode and were skipped", []string{"channel"}),
		droppedUnits:   newCounterVec("stream", "dropped_total", "Inbound wire units dropped before reaching a handler", []string{"channel", "reason"}),
		proxyForwarded: newCounterVec("proxy", "forwarded_total", "Wire units forwarded by a proxy", []string{"proxy", "route"}),
		proxyFailures:  newCounterVec("proxy", "forward_failures_total", "Wire units a proxy failed to forward", []string{"proxy", "route"}),
		dispatched:     newCounterVec("service", "dispatched_total", "Commands submitted to the worker pool", []string{"service", "command"}),
		completed:      newCounterVec("service", "completed_total", "Requests answered with a terminal reply", []string{"service", "command", "outcome"}),
		progress:       newCounterVec("service", "progress_total", "Progress updates relayed to callers", []string{"service"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "in_flight",
			Help:      "Entries in the in-flight correlation table",
		}, []string{"service"}),
		durationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "command_duration_seconds",
			Help:      "Time from dispatch to terminal reply",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "command"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.streamSent,
		m.streamReceived,
		m.decodeFailures,
		m.droppedUnits,
		m.proxyForwarded,
		m.proxyFailures,
		m.dispatched,
		m.completed,
		m.progress,
		m.inFlight,
		m.durationSeconds,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *Metrics) RecordSent(channel, kind string) {
	if m == nil {
		return
	}
	m.streamSent.WithLabelValues(channel, kind).Inc()
}

func (m *Metrics) RecordReceived(channel, kind string) {
	if m == nil {
		return
	}
	m.streamReceived.WithLabelValues(channel, kind).Inc()
}

func (m *Metrics) RecordDecodeFailure(channel string) {
	if m == nil {
		return
	}
	m.decodeFailures.WithLabelValues(channel).Inc()
}

// RecordDropped counts a wire unit that never reached a handler, e.g. because
// it had no separator or an unknown kind tag.
func (m *Metrics) RecordDropped(channel, reason string) {
	if m == nil {
		return
	}
	m.droppedUnits.WithLabelValues(channel, reason).Inc()
}

func (m *Metrics) RecordForward(proxy, route string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.proxyFailures.WithLabelValues(proxy, route).Inc()
		return
	}
	m.proxyForwarded.WithLabelValues(proxy, route).Inc()
}

func (m *Metrics) RecordDispatched(service, command string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(service, command).Inc()
}

// RecordCompleted records a terminal reply. A zero elapsed duration skips the
// histogram, which is what requests rejected before dispatch report.
func (m *Metrics) RecordCompleted(service, command, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(service, command, outcome).Inc()
	if elapsed > 0 {
		m.durationSeconds.WithLabelValues(service, command).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) RecordProgress(service string) {
	if m == nil {
		return
	}
	m.progress.WithLabelValues(service).Inc()
}

func (m *Metrics) SetInFlight(service string, n int) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(service).Set(float64(n))
}
