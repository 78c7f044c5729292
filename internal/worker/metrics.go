package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry         *prometheus.Registry
	jobsTotal        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	activeJobs       prometheus.Gauge
	stylizeTotal     *prometheus.CounterVec
	outputBytesTotal prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faceframe_worker_jobs_total",
			Help: "Total worker jobs by source kind and final status.",
		}, []string{"source_kind", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "faceframe_worker_job_duration_seconds",
			Help:    "Total processing duration for each worker job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source_kind", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "faceframe_worker_active_jobs",
			Help: "Current number of active composite jobs in the worker.",
		}),
		stylizeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faceframe_worker_stylize_total",
			Help: "Total stylize model calls by outcome.",
		}, []string{"outcome"}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faceframe_worker_output_bytes_total",
			Help: "Total bytes of composite PNG output published.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.stylizeTotal,
		m.outputBytesTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
