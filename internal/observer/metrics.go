package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// Labels for standard event metrics
	eventProcessingLabels = []string{"event_type", "source", "consumer_type"}
	// Labels for tracking specific processing actions
	eventActionLabels = []string{"event_type", "source", "consumer_type", "action", "error_type"}

	// Standard Event Counters
	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_service_events_received_total",
			Help: "Total number of inbound events received, labeled by consumer type.",
		},
		eventProcessingLabels,
	)
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_service_events_processed_total",
			Help: "Total number of inbound events processed successfully.",
		},
		eventProcessingLabels,
	)
	EventsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_service_events_failed_total",
			Help: "Total number of inbound events that failed processing.",
		},
		eventProcessingLabels,
	)

	EventProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conversation_service_event_processing_duration_seconds",
			Help:    "Time taken to fully process an inbound event.",
			Buckets: prometheus.DefBuckets,
		},
		eventProcessingLabels,
	)
	EventRoutingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conversation_service_event_routing_duration_seconds",
			Help:    "Time taken to route an inbound event to its handler.",
			Buckets: prometheus.DefBuckets,
		},
		eventProcessingLabels,
	)
	EventProcessingActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_service_event_processing_actions_total",
			Help: "Count of specific processing outcomes (insert, update, skip, error).",
		},
		eventActionLabels,
	)
)

// --- DLQ Worker Metrics ---
var (
	dlqFetchRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dlq_fetch_requests_total",
		Help: "Total number of fetch requests issued by the DLQ worker.",
	})
	dlqFetchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dlq_fetch_errors_total",
		Help: "Total number of failed DLQ fetch requests.",
	})
	dlqQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dlq_queue_length",
		Help: "Current number of DLQ tasks waiting in the local queue.",
	})
	dlqWorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dlq_workers_active",
		Help: "Number of currently active DLQ workers.",
	})
	dlqTasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_tasks_submitted_total",
			Help: "Total number of DLQ tasks submitted for processing.",
		},
		[]string{"source"},
	)
	dlqProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dlq_processing_duration_seconds",
			Help:    "Time taken to process a single DLQ task.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
	dlqTaskRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_task_retries_total",
			Help: "Total number of DLQ task retry attempts.",
		},
		[]string{"source"},
	)
	dlqAcksSuccessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_acks_success_total",
			Help: "Total number of successfully acknowledged DLQ messages.",
		},
		[]string{"source"},
	)
	dlqAcksFailureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_acks_failure_total",
			Help: "Total number of failed DLQ acknowledgements.",
		},
		[]string{"source"},
	)
	dlqTasksDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_tasks_dropped_total",
			Help: "Total number of DLQ tasks dropped due to a full queue.",
		},
		[]string{"source"},
	)
)

// --- Database Metrics ---
var (
	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conversation_service_db_operation_duration_seconds",
			Help:    "Duration of database operations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "entity", "status"},
	)
)

// --- Automation Worker Pool Metrics ---
var (
	automationTasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_tasks_submitted_total",
			Help: "Total number of automation action tasks submitted to the pool.",
		},
		[]string{"trigger_type"},
	)
	automationTasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_tasks_processed_total",
			Help: "Total number of automation action tasks processed, by status.",
		},
		[]string{"trigger_type", "status"},
	)
	automationProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "automation_processing_duration_seconds",
			Help:    "Time taken to execute one automation action.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"trigger_type"},
	)
	automationQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "automation_queue_length",
		Help: "Current number of automation tasks waiting in the pool queue.",
	})
)

// --- Outbound Delivery Metrics ---
var (
	channelSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_sends_total",
			Help: "Total chat-channel send attempts, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	webhookAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partner_webhook_attempts_total",
			Help: "Total partner status webhook attempts, by outcome.",
		},
		[]string{"outcome"},
	)
	webhookDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "partner_webhook_duration_seconds",
			Help:    "Duration of one partner webhook attempt.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// --- Timeline & Cache Metrics ---
var (
	timelineMergeDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "timeline_merge_duration_seconds",
			Help:    "Time taken to fetch and merge one timeline page.",
			Buckets: prometheus.DefBuckets,
		},
	)
	queryCacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "query_cache_requests_total",
			Help: "Query cache lookups, by result (hit, miss, error).",
		},
		[]string{"result"},
	)
)

// InitMetrics initializes the Prometheus metrics if enabled.
// Call this function during application startup.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// --- Event Metric Helpers ---

// IncEventsReceived increments the events received counter.
func IncEventsReceived(eventType, source, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsReceivedTotal.WithLabelValues(eventType, sanitizeLabel(source), consumerType).Inc()
}

// IncEventsProcessed increments the events processed counter.
func IncEventsProcessed(eventType, source, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsProcessedTotal.WithLabelValues(eventType, sanitizeLabel(source), consumerType).Inc()
}

// IncEventsFailed increments the events failed counter.
func IncEventsFailed(eventType, source, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsFailedTotal.WithLabelValues(eventType, sanitizeLabel(source), consumerType).Inc()
}

// ObserveEventProcessingDuration records the total processing time of an event.
func ObserveEventProcessingDuration(eventType, source, consumerType string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	EventProcessingDurationSeconds.WithLabelValues(eventType, sanitizeLabel(source), consumerType).Observe(duration.Seconds())
}

// ObserveEventRoutingDuration records the routing time of an event.
func ObserveEventRoutingDuration(eventType, source, consumerType string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	EventRoutingDurationSeconds.WithLabelValues(eventType, sanitizeLabel(source), consumerType).Observe(duration.Seconds())
}

// IncEventProcessingAction increments the counter for a specific processing outcome.
func IncEventProcessingAction(eventType, source, consumerType, action, errorType string) {
	if !metricsEnabled {
		return
	}
	EventProcessingActionsTotal.WithLabelValues(eventType, sanitizeLabel(source), consumerType, action, SanitizeErrorType(errorType)).Inc()
}

// sanitizeLabel ensures a label value is valid or returns a default value.
func sanitizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

// --- DLQ Metric Helpers ---

// IncDlqFetchRequest increments the DLQ fetch request counter.
func IncDlqFetchRequest() {
	if metricsEnabled {
		dlqFetchRequestsTotal.Inc()
	}
}

// IncDlqFetchError increments the DLQ fetch error counter.
func IncDlqFetchError() {
	if metricsEnabled {
		dlqFetchErrorsTotal.Inc()
	}
}

// SetDlqQueueLength sets the current DLQ queue length gauge.
func SetDlqQueueLength(length int) {
	if metricsEnabled {
		dlqQueueLength.Set(float64(length))
	}
}

// SetDlqWorkersActive sets the active DLQ worker gauge.
func SetDlqWorkersActive(count int) {
	if metricsEnabled {
		dlqWorkersActive.Set(float64(count))
	}
}

// IncDlqTasksSubmitted increments the DLQ tasks submitted counter.
func IncDlqTasksSubmitted(source string) {
	if metricsEnabled {
		dlqTasksSubmittedTotal.WithLabelValues(sanitizeLabel(source)).Inc()
	}
}

// ObserveDlqProcessingDuration records the duration of one DLQ task.
func ObserveDlqProcessingDuration(source string, duration time.Duration) {
	if metricsEnabled {
		dlqProcessingDurationSeconds.WithLabelValues(sanitizeLabel(source)).Observe(duration.Seconds())
	}
}

// IncDlqTaskRetry increments the DLQ retry counter.
func IncDlqTaskRetry(source string) {
	if metricsEnabled {
		dlqTaskRetriesTotal.WithLabelValues(sanitizeLabel(source)).Inc()
	}
}

// IncDlqAckSuccess increments the successful DLQ ack counter.
func IncDlqAckSuccess(source string) {
	if metricsEnabled {
		dlqAcksSuccessTotal.WithLabelValues(sanitizeLabel(source)).Inc()
	}
}

// IncDlqAckFailure increments the failed DLQ ack counter.
func IncDlqAckFailure(source string) {
	if metricsEnabled {
		dlqAcksFailureTotal.WithLabelValues(sanitizeLabel(source)).Inc()
	}
}

// IncDlqTasksDropped increments the dropped DLQ task counter.
func IncDlqTasksDropped(source string) {
	if metricsEnabled {
		dlqTasksDroppedTotal.WithLabelValues(sanitizeLabel(source)).Inc()
	}
}

// --- Database Metric Helpers ---

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, status).Observe(duration.Seconds())
}

// --- Automation Metric Helpers ---

// IncAutomationTasksSubmitted increments the counter for submitted automation tasks.
func IncAutomationTasksSubmitted(triggerType string) {
	if metricsEnabled {
		automationTasksSubmittedTotal.WithLabelValues(sanitizeLabel(triggerType)).Inc()
	}
}

// IncAutomationTasksProcessed increments the counter for processed automation tasks.
func IncAutomationTasksProcessed(triggerType, status string) {
	if metricsEnabled {
		automationTasksProcessedTotal.WithLabelValues(sanitizeLabel(triggerType), status).Inc()
	}
}

// ObserveAutomationProcessingDuration records the duration of one automation action.
func ObserveAutomationProcessingDuration(triggerType string, duration time.Duration) {
	if metricsEnabled {
		automationProcessingDurationSeconds.WithLabelValues(sanitizeLabel(triggerType)).Observe(duration.Seconds())
	}
}

// SetAutomationQueueLength sets the automation pool queue gauge.
func SetAutomationQueueLength(length int) {
	if metricsEnabled {
		automationQueueLength.Set(float64(length))
	}
}

// --- Delivery Metric Helpers ---

// IncChannelSend counts one chat-channel send attempt outcome.
func IncChannelSend(kind, outcome string) {
	if metricsEnabled {
		channelSendsTotal.WithLabelValues(sanitizeLabel(kind), outcome).Inc()
	}
}

// IncWebhookAttempt counts one partner webhook attempt outcome.
func IncWebhookAttempt(outcome string) {
	if metricsEnabled {
		webhookAttemptsTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveWebhookDuration records the duration of one partner webhook attempt.
func ObserveWebhookDuration(duration time.Duration) {
	if metricsEnabled {
		webhookDurationSeconds.Observe(duration.Seconds())
	}
}

// --- Timeline & Cache Metric Helpers ---

// ObserveTimelineMergeDuration records the duration of one timeline page build.
func ObserveTimelineMergeDuration(duration time.Duration) {
	if metricsEnabled {
		timelineMergeDurationSeconds.Observe(duration.Seconds())
	}
}

// IncQueryCacheResult counts one query cache lookup result (hit, miss, error).
func IncQueryCacheResult(result string) {
	if metricsEnabled {
		queryCacheRequestsTotal.WithLabelValues(result).Inc()
	}
}

// SanitizeErrorType maps specific errors or provides a default category.
// Keep this simple to avoid high cardinality.
func SanitizeErrorType(errStr string) string {
	if errStr == "" || errStr == "none" {
		return "none"
	}

	switch {
	case strings.Contains(errStr, "database"), strings.Contains(errStr, "SQL"), strings.Contains(errStr, "duplicate key"), strings.Contains(errStr, "constraint"), strings.Contains(errStr, "connection"):
		return "database"
	case strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "invalid"), strings.Contains(errStr, "missing field"):
		return "validation"
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "no rows"):
		return "not_found"
	case strings.Contains(errStr, "nats"), strings.Contains(errStr, "jetstream"):
		return "nats"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "unmarshal"), strings.Contains(errStr, "json"):
		return "unmarshal"
	case strings.Contains(errStr, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}
