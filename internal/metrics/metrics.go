// Package metrics holds the Prometheus collectors of the compliance engine.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var HTTPRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "compliance_http_requests_total",
		Help: "Total number of HTTP requests received",
	},
	[]string{"method", "status"},
)

var HTTPRateLimitRejectionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "compliance_http_rate_limit_rejections_total",
		Help: "Total number of HTTP requests rejected due to rate limiting",
	},
)

var NotificationsAttemptedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "compliance_notifications_attempted_total",
		Help: "Total number of notifications attempted",
	},
	[]string{"channel", "status", "provider"},
)

var NotificationSendDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "compliance_notification_send_duration_seconds",
		Help:    "Time taken to send notifications via external providers",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"provider", "channel"},
)

var NotificationRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "compliance_notification_retries_total",
		Help: "Total number of in-dispatch channel send retries",
	},
	[]string{"channel"},
)

var RemindersGeneratedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "compliance_reminders_generated_total",
		Help: "Total number of reminders created from checklist schedules",
	},
)

var RemindersDispatchedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "compliance_reminders_dispatched_total",
		Help: "Total number of reminder dispatches by resulting status",
	},
	[]string{"status"},
)

var RemindersRetriedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "compliance_reminders_retried_total",
		Help: "Total number of failed reminders moved back to scheduled",
	},
)

var EscalationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "compliance_escalations_total",
		Help: "Total number of escalations and the outcome of their notice",
	},
	[]string{"notified"},
)

var TickDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "compliance_tick_duration_seconds",
		Help:    "Duration of a full engine tick",
		Buckets: prometheus.DefBuckets,
	},
)

var TickErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "compliance_tick_errors_total",
		Help: "Errors raised during a tick, by stage",
	},
	[]string{"stage"},
)

var EventPublishFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "compliance_event_publish_failures_total",
		Help: "Total number of reminder events that failed to publish",
	},
	[]string{"publisher"},
)

var AuditExportsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "compliance_audit_exports_total",
		Help: "Total number of audit exports by status",
	},
	[]string{"status"},
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestsTotal,
		HTTPRateLimitRejectionsTotal,
		NotificationsAttemptedTotal,
		NotificationSendDuration,
		NotificationRetriesTotal,
		RemindersGeneratedTotal,
		RemindersDispatchedTotal,
		RemindersRetriedTotal,
		EscalationsTotal,
		TickDuration,
		TickErrorsTotal,
		EventPublishFailuresTotal,
		AuditExportsTotal,
	}
}

// Register adds every collector to reg. Collectors already registered are
// skipped so tests and main can both call it.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
