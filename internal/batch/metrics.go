package batch

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type metrics struct {
	registry         *prometheus.Registry
	projectsTotal    *prometheus.CounterVec
	imagesTotal      *prometheus.CounterVec
	outputBytesTotal *prometheus.CounterVec
	buildDuration    prometheus.Histogram
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
	)

	m := &metrics{
		registry: registry,
		projectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelfolio_projects_total",
			Help: "Total projects processed by final status.",
		}, []string{"status"}),
		imagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelfolio_images_total",
			Help: "Total source images handled by policy and outcome.",
		}, []string{"policy", "status"}),
		outputBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelfolio_image_output_bytes_total",
			Help: "Total bytes of normalized images written per policy.",
		}, []string{"policy"}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelfolio_build_duration_seconds",
			Help:    "Wall time of a complete build run.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}

	registry.MustRegister(
		m.projectsTotal,
		m.imagesTotal,
		m.outputBytesTotal,
		m.buildDuration,
	)
	return m
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
