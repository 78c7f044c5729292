package compose

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes compositor outcomes. A nil *Metrics disables recording, so
// tests and tools can construct a Compositor without a registry.
type Metrics struct {
	composites  *prometheus.CounterVec
	assetMisses prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		composites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faceframe_compose_total",
			Help: "Composite operations by mode and outcome.",
		}, []string{"mode", "outcome"}),
		assetMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faceframe_compose_template_asset_misses_total",
			Help: "Template asset loads reclassified as absent (fallback trigger).",
		}),
	}
	reg.MustRegister(m.composites, m.assetMisses)
	return m
}

func (m *Metrics) observeComposite(mode Mode, outcome string) {
	if m == nil {
		return
	}
	label := string(mode)
	if label == "" {
		label = "none"
	}
	m.composites.WithLabelValues(label, outcome).Inc()
}

func (m *Metrics) observeAssetMiss() {
	if m == nil {
		return
	}
	m.assetMisses.Inc()
}
