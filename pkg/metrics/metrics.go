// Package metrics defines the Prometheus collectors for logfeeder runs.
// Runs are short-lived batch jobs, so collectors live in a dedicated
// registry that is pushed to a Pushgateway at the end of the run when one is
// configured.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry holds all logfeeder collectors.
var Registry = prometheus.NewRegistry()

var (
	// RecordsFetchedTotal is the total number of records fetched from sources.
	RecordsFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logfeeder",
			Name:      "records_fetched_total",
			Help:      "Total records fetched from vendor APIs.",
		},
		[]string{"feeder", "sub_api"},
	)

	// FetchErrorsTotal is the total number of failed fetch calls.
	FetchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logfeeder",
			Name:      "fetch_errors_total",
			Help:      "Failed source fetch calls.",
		},
		[]string{"feeder", "sub_api"},
	)

	// RecordsDeliveredTotal is the total number of records accepted by sinks.
	RecordsDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logfeeder",
			Name:      "records_delivered_total",
			Help:      "Records accepted by each sink.",
		},
		[]string{"sink"},
	)

	// DeliveryFailuresTotal is the total number of per-record sink failures.
	DeliveryFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logfeeder",
			Name:      "delivery_failures_total",
			Help:      "Per-record delivery failures by sink.",
		},
		[]string{"sink"},
	)

	// RunDurationSeconds is the wall-clock duration of one ingestion cycle.
	RunDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "logfeeder",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of one ingestion cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"feeder", "sub_api"},
	)

	// CheckpointTimestampSeconds is the checkpoint value saved by the run.
	CheckpointTimestampSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "logfeeder",
			Name:      "checkpoint_timestamp_seconds",
			Help:      "Unix timestamp of the last saved checkpoint.",
		},
		[]string{"feeder", "sub_api"},
	)

	// MessagesTruncatedTotal is the number of records truncated to fit
	// sink size limits.
	MessagesTruncatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logfeeder",
			Name:      "messages_truncated_total",
			Help:      "Records truncated to fit sink message size limits.",
		},
		[]string{"sink"},
	)
)

func init() {
	Registry.MustRegister(
		RecordsFetchedTotal,
		FetchErrorsTotal,
		RecordsDeliveredTotal,
		DeliveryFailuresTotal,
		RunDurationSeconds,
		CheckpointTimestampSeconds,
		MessagesTruncatedTotal,
	)
}

// Push sends the registry to a Pushgateway, grouped by feeder instance.
// Callers treat a push failure as advisory, not fatal.
func Push(url, job, instance string) error {
	pusher := push.New(url, job).Gatherer(Registry)
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}
	return pusher.Add()
}
