// Package metrics exposes Prometheus counters for the media pipelines.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upload outcomes
const (
	OutcomeStored   = "stored"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
	OutcomeCanceled = "canceled"
)

// Metrics holds all Prometheus metrics for the media service.
type Metrics struct {
	Uploads        *prometheus.CounterVec // mediastore_uploads_total{outcome,stage}
	UploadBytes    prometheus.Counter     // mediastore_upload_bytes_total
	UploadDuration prometheus.Histogram   // mediastore_upload_duration_seconds
	UploadsActive  prometheus.Gauge       // mediastore_uploads_in_flight

	Downloads     prometheus.Counter     // mediastore_downloads_total
	DownloadBytes prometheus.Counter     // mediastore_download_bytes_total
	Deletes       *prometheus.CounterVec // mediastore_deletes_total{outcome}

	// Compensation steps that failed and left storage and metadata out of step
	ConsistencyFaults *prometheus.CounterVec // mediastore_consistency_faults_total{stage}

	GCRemoved *prometheus.CounterVec // mediastore_gc_removed_total{kind}
}

// New registers the media metrics on reg. Each registry can carry one set.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mediastore_uploads_total",
			Help: "Upload attempts by outcome and the last stage reached",
		}, []string{"outcome", "stage"}),

		UploadBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "mediastore_upload_bytes_total",
			Help: "Bytes of successfully stored uploads",
		}),

		UploadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediastore_upload_duration_seconds",
			Help:    "Upload pipeline duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),

		UploadsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "mediastore_uploads_in_flight",
			Help: "Uploads currently streaming",
		}),

		Downloads: f.NewCounter(prometheus.CounterOpts{
			Name: "mediastore_downloads_total",
			Help: "Files opened for retrieval",
		}),

		DownloadBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "mediastore_download_bytes_total",
			Help: "Bytes streamed to clients",
		}),

		Deletes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mediastore_deletes_total",
			Help: "Delete attempts by outcome",
		}, []string{"outcome"}),

		ConsistencyFaults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mediastore_consistency_faults_total",
			Help: "Failed compensation steps by pipeline stage",
		}, []string{"stage"}),

		GCRemoved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mediastore_gc_removed_total",
			Help: "Items removed by garbage collection by kind",
		}, []string{"kind"}),
	}
}

// NewRegistry returns a registry with the Go and process collectors attached.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
