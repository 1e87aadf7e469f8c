// Package metrics provides Prometheus metrics for thumbnail derivation and
// expiring links.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ThumbnailsTotal counts per-size derivations by outcome.
	ThumbnailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imagetiers",
			Name:      "thumbnails_total",
			Help:      "Total number of thumbnail derivations",
		},
		[]string{"status"},
	)

	// DerivationDuration measures a single size's derivation.
	DerivationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "imagetiers",
			Name:      "derivation_duration_seconds",
			Help:      "Duration of one thumbnail derivation in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// LinksIssuedTotal counts expiring links handed out.
	LinksIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "imagetiers",
			Name:      "links_issued_total",
			Help:      "Total number of expiring links issued",
		},
	)

	// LinkResolutionsTotal counts public lookups by outcome.
	LinkResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imagetiers",
			Name:      "link_resolutions_total",
			Help:      "Total number of public link lookups",
		},
		[]string{"outcome"},
	)

	// UploadsTotal counts accepted and rejected uploads.
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imagetiers",
			Name:      "uploads_total",
			Help:      "Total number of image uploads",
		},
		[]string{"status"},
	)
)

// RecordDerivation records one size's derivation outcome and duration.
func RecordDerivation(status string, seconds float64) {
	ThumbnailsTotal.WithLabelValues(status).Inc()
	DerivationDuration.Observe(seconds)
}

// RecordResolution records a public link lookup.
func RecordResolution(outcome string) {
	LinkResolutionsTotal.WithLabelValues(outcome).Inc()
}

// RecordUpload records an upload outcome.
func RecordUpload(status string) {
	UploadsTotal.WithLabelValues(status).Inc()
}
