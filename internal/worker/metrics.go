package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry              *prometheus.Registry
	jobsTotal             *prometheus.CounterVec
	jobDuration           *prometheus.HistogramVec
	activeJobs            prometheus.Gauge
	outputsTotal          prometheus.Counter
	noForegroundTotal     prometheus.Counter
	foregroundPixelsTotal prometheus.Counter
	outputBytesTotal      prometheus.Counter
	computeTimeMSTotal    prometheus.Counter
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
			Name: "chromaknit_worker_jobs_total",
			Help: "Total recolor jobs by source type and final status.",
		}, []string{"source_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chromaknit_worker_job_duration_seconds",
			Help:    "Total processing duration for each recolor job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chromaknit_worker_active_jobs",
			Help: "Current number of recolor jobs in flight.",
		}),
		outputsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chromaknit_worker_outputs_total",
			Help: "Total result and preview artifacts emitted by the worker.",
		}),
		noForegroundTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chromaknit_worker_no_foreground_total",
			Help: "Total jobs whose segmentation mask contained no foreground.",
		}),
		foregroundPixelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chromaknit_usage_foreground_pixels_total",
			Help: "Total garment pixels recolored across successful jobs.",
		}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chromaknit_usage_output_bytes_total",
			Help: "Total artifact bytes emitted across successful jobs.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chromaknit_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful jobs.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.outputsTotal,
		m.noForegroundTotal,
		m.foregroundPixelsTotal,
		m.outputBytesTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
