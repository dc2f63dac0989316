package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EventsProcessed        *prometheus.CounterVec
	CommentsProcessed      *prometheus.CounterVec
	WebhookRequestDuration prometheus.Histogram
	StoreOperationDuration *prometheus.HistogramVec
	ClassifyDuration       prometheus.Histogram
	AssignmentFailures     prometheus.Counter
	AlertsSent             *prometheus.CounterVec
	SignatureFailures      prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		EventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "inbound_events_processed_total",
			Help: "Total number of inbound message events by outcome",
		}, []string{"outcome"}),
		CommentsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "comment_events_processed_total",
			Help: "Total number of comment events by outcome",
		}, []string{"outcome"}),
		WebhookRequestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "webhook_request_duration_seconds",
			Help:    "Time taken to handle one webhook delivery",
			Buckets: prometheus.DefBuckets,
		}),
		StoreOperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Time taken for conversation store operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		ClassifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "classify_duration_seconds",
			Help:    "Time taken to classify one message",
			Buckets: prometheus.DefBuckets,
		}),
		AssignmentFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "assignment_failures_total",
			Help: "Total number of conversations left unassigned",
		}),
		AlertsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "operator_alerts_sent_total",
			Help: "Total number of operator alerts by kind",
		}, []string{"kind"}),
		SignatureFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signature_failures_total",
			Help: "Total number of webhook deliveries rejected for a bad signature",
		}),
	}
}
