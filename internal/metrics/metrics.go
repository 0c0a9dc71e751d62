// Package metrics declares the registry's Prometheus collectors. The
// metric names are stable contracts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_requests_total",
		Help: "HTTP requests handled, by route and status code.",
	}, []string{"route", "code"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "registry_request_duration_seconds",
		Help:    "HTTP request duration in seconds, by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	UploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_upload_bytes_total",
		Help: "Bytes accepted into upload sessions.",
	})

	BlobBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_blob_bytes_total",
		Help: "Bytes committed to the blob store.",
	})

	ActiveUploads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "registry_active_uploads",
		Help: "Upload sessions currently in flight.",
	})
)
