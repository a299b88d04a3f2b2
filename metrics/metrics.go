// Package metrics holds the prometheus collectors of the daemon. All methods
// are safe to call on a nil *Metrics, in which case they do nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "arim"

// Frame results.
const (
	ResultOK        = "ok"
	ResultCorrupt   = "corrupt"
	ResultDenied    = "denied"
	ResultDuplicate = "duplicate"
	ResultMalformed = "malformed"
	ResultTimeout   = "timeout"
)

// Metrics is the set of collectors, registered on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	queueOverflows *prometheus.CounterVec
	tncBytes       *prometheus.CounterVec
	frames         *prometheus.CounterVec
	arqSessions    *prometheus.CounterVec
	tncBuffer      *prometheus.GaugeVec
}

// New creates and registers all collectors, plus the process and Go runtime
// collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		queueOverflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_overflows_total",
			Help:      "Queue items overwritten before being read.",
		}, []string{"queue"}),

		tncBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tnc_bytes_total",
			Help:      "Data channel payload bytes per TNC.",
		}, []string{"tnc", "dir"}),

		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Received ARIM frames by type and result.",
		}, []string{"type", "result"}),

		arqSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "arq_sessions_total",
			Help:      "ARQ session milestones by result.",
		}, []string{"result"}),

		tncBuffer: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tnc_buffer_bytes",
			Help:      "Transmit buffer occupancy last reported by the TNC.",
		}, []string{"tnc"}),
	}

	m.Registry.MustRegister(
		m.queueOverflows, m.tncBytes, m.frames, m.arqSessions,
		m.tncBuffer,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)

	return m
}

// QueueOverflow returns the overflow counter of the named queue, for use with
// queue.WithOverflowCounter.
func (m *Metrics) QueueOverflow(queue string) prometheus.Counter {
	if m == nil {
		return nil
	}

	return m.queueOverflows.WithLabelValues(queue)
}

// BytesIn returns the received byte counter of a TNC.
func (m *Metrics) BytesIn(tnc string) prometheus.Counter {
	if m == nil {
		return nil
	}

	return m.tncBytes.WithLabelValues(tnc, "in")
}

// BytesOut returns the sent byte counter of a TNC.
func (m *Metrics) BytesOut(tnc string) prometheus.Counter {
	if m == nil {
		return nil
	}

	return m.tncBytes.WithLabelValues(tnc, "out")
}

// Frame counts one received ARIM frame.
func (m *Metrics) Frame(frameType, result string) {
	if m == nil {
		return
	}

	m.frames.WithLabelValues(frameType, result).Inc()
}

// Session counts one ARQ session milestone.
func (m *Metrics) Session(result string) {
	if m == nil {
		return
	}

	m.arqSessions.WithLabelValues(result).Inc()
}

// Buffer records the transmit buffer level of a TNC.
func (m *Metrics) Buffer(tnc string, n int) {
	if m == nil {
		return
	}

	m.tncBuffer.WithLabelValues(tnc).Set(float64(n))
}
