// Package metrics holds the Prometheus instrumentation of the receiver:
// associations, DIMSE operations, stored instances and the monitor HTTP
// endpoints. All collectors register on the default registry.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dicomreceptor"

var (
	// Association metrics
	AssociationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "associations_total",
			Help:      "Total number of associations by result (accepted, rejected, aborted, released, failed)",
		},
		[]string{"result"},
	)

	AssociationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "associations_active",
			Help:      "Number of associations currently open",
		},
	)

	// DIMSE metrics
	DIMSERequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dimse_requests_total",
			Help:      "Total number of DIMSE requests by command and response status",
		},
		[]string{"command", "status"},
	)

	DIMSERequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dimse_request_duration_seconds",
			Help:      "Time spent handling a DIMSE request in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	// Storage metrics
	InstancesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_total",
			Help:      "Total number of received instances by storage outcome",
		},
		[]string{"outcome"},
	)

	InstanceBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_bytes_total",
			Help:      "Total dataset bytes of successfully stored instances",
		},
	)

	StoreDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_duration_seconds",
			Help:      "Time spent persisting one instance in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of monitor HTTP requests by route and status code",
		},
		[]string{"method", "path", "code"},
	)

	HTTPRequestSeconds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_seconds",
			Help:      "Total amount of monitor request time by route, in seconds",
		},
		[]string{"method", "path"},
	)
)

// RecordAssociation counts a finished or refused association.
func RecordAssociation(result string) {
	AssociationsTotal.WithLabelValues(result).Inc()
}

// TrackActiveAssociation moves the open association gauge.
func TrackActiveAssociation(inc bool) {
	if inc {
		AssociationsActive.Inc()
	} else {
		AssociationsActive.Dec()
	}
}

// RecordDIMSE records one handled DIMSE request.
func RecordDIMSE(command string, status uint16, duration time.Duration) {
	DIMSERequestsTotal.WithLabelValues(command, FormatStatus(status)).Inc()
	DIMSERequestDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordInstance records the outcome of persisting one instance. size is
// only counted for stored instances.
func RecordInstance(outcome string, stored bool, size int, duration time.Duration) {
	InstancesTotal.WithLabelValues(outcome).Inc()
	StoreDuration.Observe(duration.Seconds())
	if stored && size > 0 {
		InstanceBytesTotal.Add(float64(size))
	}
}

// RecordHTTPRequest records a monitor HTTP request.
func RecordHTTPRequest(method, path string, code int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, fmt.Sprintf("%d", code)).Inc()
	HTTPRequestSeconds.WithLabelValues(method, path).Add(duration.Seconds())
}

// FormatStatus renders a DIMSE status as a metric label, e.g. "0xC001".
func FormatStatus(status uint16) string {
	return fmt.Sprintf("0x%04X", status)
}
