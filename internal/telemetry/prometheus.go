package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "birdtown"
	subsystem = "netcode"
)

// Prometheus exports Metrics updates as labelled prometheus series: Add feeds
// a counter and Store feeds a gauge, both keyed by the metric name.
type Prometheus struct {
	counters *prometheus.CounterVec
	gauges   *prometheus.GaugeVec
}

// NewPrometheus builds the collectors and registers them with reg. A nil
// registerer leaves them unregistered.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Replication events by kind.",
		}, []string{"key"}),
		gauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state",
			Help:      "Most recent replication gauge readings.",
		}, []string{"key"}),
	}
	if reg != nil {
		if err := reg.Register(p.counters); err != nil {
			return nil, err
		}
		if err := reg.Register(p.gauges); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Add implements Metrics.
func (p *Prometheus) Add(key string, delta uint64) {
	if p == nil || key == "" {
		return
	}
	p.counters.WithLabelValues(key).Add(float64(delta))
}

// Store implements Metrics.
func (p *Prometheus) Store(key string, value uint64) {
	if p == nil || key == "" {
		return
	}
	p.gauges.WithLabelValues(key).Set(float64(value))
}
