package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// API metrics
	APIEndpointRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_api_endpoint_requests_total",
		Help: "Total number of requests per API endpoint",
	}, []string{"endpoint"})
	APIEndpointDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "companion_api_endpoint_duration_seconds",
		Help:    "Latency of API endpoint handlers",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
	APIEndpointErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_api_endpoint_errors_total",
		Help: "Total number of API responses with status >= 400",
	}, []string{"endpoint", "status"})
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_api_rate_limited_total",
		Help: "Total number of requests rejected by the per-IP rate limiter",
	}, []string{"endpoint"})

	// Domain metrics
	SobrietyDatesWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_sobriety_dates_written_total",
		Help: "Total number of sobriety date writes",
	}, []string{"operation"})
	SupportFormsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_support_forms_submitted_total",
		Help: "Total number of accepted support form submissions",
	}, []string{"type"})
	SupportEnqueueFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_support_enqueue_failures_total",
		Help: "Total number of stored submissions whose notification could not be enqueued",
	}, []string{"type"})
	SupportDuplicateDeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "companion_support_duplicate_deliveries_total",
		Help: "Total number of notifications sent for a submission that was already marked sent",
	})

	// Mail queue metrics
	MailQueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_mail_queued_total",
		Help: "Total number of notification tasks accepted by the queue",
	}, []string{"host"})
	MailQueueDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_mail_queue_dropped_total",
		Help: "Total number of notification tasks rejected because the queue was full or stopped",
	}, []string{"host"})
	MailSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_mail_sent_total",
		Help: "Total number of notification tasks that completed successfully",
	}, []string{"host"})
	MailRetryScheduled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_mail_retry_scheduled_total",
		Help: "Total number of notification retries scheduled",
	}, []string{"host"})
	MailFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_mail_failed_total",
		Help: "Total number of notification tasks that failed permanently",
	}, []string{"host", "reason"})
	MailAttemptTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_mail_attempt_timeouts_total",
		Help: "Total number of notification attempts that exceeded the attempt timeout",
	}, []string{"host"})
	MailLateCompletions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_mail_late_completions_total",
		Help: "Total number of attempts that finished after their timeout had already fired",
	}, []string{"host", "outcome"})
	MailQueuePending = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "companion_mail_queue_pending",
		Help: "Number of notification tasks waiting for their next attempt",
	}, []string{"host"})

	// Mail sender metrics
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_mail_send_success_total",
		Help: "Total number of successful SMTP sends",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_mail_send_failure_total",
		Help: "Total number of failed SMTP sends",
	}, []string{"host"})

	// Archive and audit metrics
	ArchiveWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_archive_writes_total",
		Help: "Total number of rendered notifications written to the archive",
	}, []string{"driver", "result"})
	AuditEventsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_audit_events_written_total",
		Help: "Total number of audit events written per sink",
	}, []string{"sink", "result"})
	AuditEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "companion_audit_events_dropped_total",
		Help: "Total number of audit events dropped because the audit queue was full",
	})
)

func init() {
	prometheus.MustRegister(APIEndpointRequests)
	prometheus.MustRegister(APIEndpointDuration)
	prometheus.MustRegister(APIEndpointErrors)
	prometheus.MustRegister(RateLimited)
	prometheus.MustRegister(SobrietyDatesWritten)
	prometheus.MustRegister(SupportFormsSubmitted)
	prometheus.MustRegister(SupportEnqueueFailures)
	prometheus.MustRegister(SupportDuplicateDeliveries)
	prometheus.MustRegister(MailQueued)
	prometheus.MustRegister(MailQueueDropped)
	prometheus.MustRegister(MailSent)
	prometheus.MustRegister(MailRetryScheduled)
	prometheus.MustRegister(MailFailed)
	prometheus.MustRegister(MailAttemptTimeouts)
	prometheus.MustRegister(MailLateCompletions)
	prometheus.MustRegister(MailQueuePending)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(ArchiveWrites)
	prometheus.MustRegister(AuditEventsWritten)
	prometheus.MustRegister(AuditEventsDropped)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
