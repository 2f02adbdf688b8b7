package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	SyncCount        prometheus.Counter
	ExtractedEvents  prometheus.Counter
	NewStatuses      prometheus.Counter
	WebhookSuccesses prometheus.Counter
	WebhookFailures  prometheus.Counter
	WebhookSkips     prometheus.Counter
	PrunedRows       prometheus.Counter
	SyncDuration     prometheus.Histogram
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		SyncCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mail_status_tracker_sync_count",
			Help: "Total number of sync cycles started",
		}),
		ExtractedEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mail_status_tracker_extracted_events",
			Help: "Total number of delivery events extracted from log lines",
		}),
		NewStatuses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mail_status_tracker_new_statuses",
			Help: "Total number of newly inserted status rows",
		}),
		WebhookSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mail_status_tracker_webhook_successes",
			Help: "Total number of status rows delivered to the webhook",
		}),
		WebhookFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mail_status_tracker_webhook_failures",
			Help: "Total number of failed webhook delivery attempts",
		}),
		WebhookSkips: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mail_status_tracker_webhook_skips",
			Help: "Total number of status rows skipped because no webhook is configured",
		}),
		PrunedRows: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mail_status_tracker_pruned_rows",
			Help: "Total number of mail and status rows removed by retention pruning",
		}),
		SyncDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mail_status_tracker_sync_duration_seconds",
			Help:    "Time spent on one full sync cycle",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
