package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"power-agent/internal/domain"
)

const namespace = "power"

var modes = []domain.Mode{domain.ModeNormal, domain.ModeLowPower, domain.ModeCritical}

// Metrics owns its registry so several agents can run in one process.
type Metrics struct {
	reg *prometheus.Registry

	Battery    prometheus.Gauge
	Harvest    prometheus.Gauge
	QueueLen   prometheus.Gauge
	mode       *prometheus.GaugeVec
	Published  prometheus.Counter
	ReadErrors prometheus.Counter
	Controls   *prometheus.CounterVec
	SinkErrors *prometheus.CounterVec
}

func New(deviceID string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	labels := prometheus.Labels{"device": deviceID}

	return &Metrics{
		reg: reg,
		Battery: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "battery_percent",
			Help: "Battery state of charge.", ConstLabels: labels,
		}),
		Harvest: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "harvest_milliwatts",
			Help: "Harvested input power.", ConstLabels: labels,
		}),
		QueueLen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_length",
			Help: "Messages waiting for transmit budget.", ConstLabels: labels,
		}),
		mode: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "mode",
			Help: "Current operating mode (1 for the active mode).", ConstLabels: labels,
		}, []string{"mode"}),
		Published: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "telemetry_published_total",
			Help: "Telemetry messages published.", ConstLabels: labels,
		}),
		ReadErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "read_errors_total",
			Help: "Failed sensor reads.", ConstLabels: labels,
		}),
		Controls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "controls_total",
			Help: "Control messages by result.", ConstLabels: labels,
		}, []string{"result"}),
		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sink_errors_total",
			Help: "Failed sink writes.", ConstLabels: labels,
		}, []string{"sink"}),
	}
}

func (m *Metrics) SetMode(active domain.Mode) {
	for _, md := range modes {
		v := 0.0
		if md == active {
			v = 1
		}
		m.mode.WithLabelValues(string(md)).Set(v)
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
