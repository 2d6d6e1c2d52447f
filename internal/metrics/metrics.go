// Package metrics holds the prometheus collectors shared by every process mode.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ordersCreated counts created custom orders by upload mode
	ordersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printforge_custom_orders_created_total",
		Help: "Custom orders created by upload mode",
	}, []string{"mode"})

	// sliceAttempts counts slicing outcomes
	sliceAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printforge_slice_attempts_total",
		Help: "Slicing attempts by resulting slice status",
	}, []string{"status"})

	// sliceDuration tracks wall-clock time spent in the slicing engine
	sliceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "printforge_slice_duration_seconds",
		Help:    "Slicing engine run time in seconds",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
	})

	// uploads counts object storage writes by kind and outcome
	uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printforge_uploads_total",
		Help: "Object storage uploads by kind and result",
	}, []string{"kind", "result"})

	// inflightSlices is the number of jobs currently held by a worker pool
	inflightSlices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "printforge_slice_jobs_inflight",
		Help: "Slice jobs currently being processed",
	})
)

func OrderCreated(mode string) {
	ordersCreated.WithLabelValues(mode).Inc()
}

func SliceAttempt(status string, took time.Duration) {
	sliceAttempts.WithLabelValues(status).Inc()
	if took > 0 {
		sliceDuration.Observe(took.Seconds())
	}
}

func Upload(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	uploads.WithLabelValues(kind, result).Inc()
}

func SliceJobStarted() {
	inflightSlices.Inc()
}

func SliceJobFinished() {
	inflightSlices.Dec()
}
