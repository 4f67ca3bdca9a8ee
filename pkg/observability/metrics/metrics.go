package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage outcomes.
const (
	OutcomePass  = "pass"
	OutcomeFail  = "fail"
	OutcomeError = "error"
)

var (
	ingestionStages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formiq_ingestion_stage_total",
		Help: "Submission pipeline stage results by stage and outcome.",
	}, []string{"stage", "outcome"})

	ingestionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "formiq_ingestion_duration_seconds",
		Help:    "Wall time of accepted submissions from decode to response.",
		Buckets: prometheus.DefBuckets,
	})

	rateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formiq_ratelimit_rejections_total",
		Help: "Rejected submissions by the bucket scope that ran out.",
	}, []string{"bucket"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formiq_cache_lookups_total",
		Help: "Versioned cache lookups by purpose and status.",
	}, []string{"purpose", "status"})

	notificationsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formiq_notifications_enqueued_total",
		Help: "Notification jobs handed to the queue by type and outcome.",
	}, []string{"type", "outcome"})

	notificationsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formiq_notifications_processed_total",
		Help: "Notification jobs finished by the worker by type and outcome (sent, dead_lettered).",
	}, []string{"type", "outcome"})

	notificationAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "formiq_notification_send_attempts_total",
		Help: "Mailer calls made by the worker, including retries.",
	})

	workerInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "formiq_notification_jobs_in_flight",
		Help: "Jobs currently being processed by the worker.",
	})
)

func ObserveStage(stage, outcome string) {
	ingestionStages.WithLabelValues(stage, outcome).Inc()
}

func ObserveIngestionDuration(d time.Duration) {
	ingestionDuration.Observe(d.Seconds())
}

func ObserveRateLimitRejection(bucket string) {
	rateLimitRejections.WithLabelValues(bucket).Inc()
}

func ObserveCacheLookup(purpose, status string) {
	cacheLookups.WithLabelValues(purpose, status).Inc()
}

func ObserveEnqueue(jobType string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	notificationsEnqueued.WithLabelValues(jobType, outcome).Inc()
}

func ObserveNotification(jobType, outcome string) {
	notificationsProcessed.WithLabelValues(jobType, outcome).Inc()
}

func ObserveSendAttempt() {
	notificationAttempts.Inc()
}

func JobStarted() {
	workerInFlight.Inc()
}

func JobFinished() {
	workerInFlight.Dec()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
