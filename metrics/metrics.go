package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alumni_forms"

// Submission outcomes.
const (
	OutcomeAccepted   = "accepted"
	OutcomeDuplicate  = "duplicate"
	OutcomeInvalid    = "invalid"
	OutcomeNoData     = "no_data"
	OutcomeInProgress = "in_progress"
	OutcomeFailed     = "failed"
)

// Notification outcomes.
const (
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
	NotificationDropped = "dropped"
)

var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Count of form submissions received by the intake, by form kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Count of notification mails by delivery outcome.",
		},
		[]string{"outcome"},
	)
	persistDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_duration_seconds",
			Help:      "Time spent appending a submission row to the store.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

var registerMetrics sync.Once

// Register all metrics.
func Register(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(submissionsTotal)
		reg.MustRegister(notificationsTotal)
		reg.MustRegister(persistDuration)
	})
}

// Handler exposes the metrics gathered by g, or the default registry when g
// is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordSubmission counts one intake request.
func RecordSubmission(kind, outcome string) {
	submissionsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordNotification counts one notification delivery attempt.
func RecordNotification(outcome string) {
	notificationsTotal.WithLabelValues(outcome).Inc()
}

// ObservePersist records how long a row append took.
func ObservePersist(kind string, d time.Duration) {
	persistDuration.WithLabelValues(kind).Observe(d.Seconds())
}
