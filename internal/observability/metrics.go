package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Metric status labels.
	statusSuccess = "success"
	statusError   = "error"
)

// Metrics holds all Prometheus metrics for the VNF manager.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Op-occ metrics
	OpOccTransitionsTotal *prometheus.CounterVec
	OpOccDuration         *prometheus.HistogramVec
	OpOccsInFlight        prometheus.Gauge

	// Grant and coordination metrics
	GrantRequestsTotal        *prometheus.CounterVec
	CoordinationRequestsTotal *prometheus.CounterVec
	PollAttemptsTotal         *prometheus.CounterVec

	// Mgmt driver metrics
	HookExecutionsTotal   *prometheus.CounterVec
	HookExecutionDuration *prometheus.HistogramVec

	// Infra driver metrics
	InfraOperationsTotal   *prometheus.CounterVec
	InfraOperationDuration *prometheus.HistogramVec

	// Notification metrics
	NotificationsEnqueuedTotal   *prometheus.CounterVec
	NotificationDeliveryTotal    *prometheus.CounterVec
	NotificationDeliveryTime     *prometheus.HistogramVec
	NotificationAttempts         *prometheus.HistogramVec
	NotificationCircuitBreakers  *prometheus.GaugeVec
	NotificationWorkersActive    prometheus.Gauge
	NotificationQueuePublishes   *prometheus.CounterVec
	NotificationSubscriptionsHit *prometheus.HistogramVec
	NotificationWorkerHandled    *prometheus.CounterVec
	NotificationWorkerLatency    prometheus.Histogram
	NotificationDeadLetters      prometheus.Counter
}

// NewMetrics creates and registers all metrics on reg.
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "vnfm"
	}
	f := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),

		OpOccTransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lcm_op_occ_transitions_total",
				Help:      "Total number of op-occ state transitions",
			},
			[]string{"operation", "state"},
		),

		OpOccDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lcm_op_occ_duration_seconds",
				Help:      "Duration of op-occ pipeline runs until a terminal or suspended state",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
			},
			[]string{"operation", "state"},
		),

		OpOccsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "lcm_op_occs_in_flight",
				Help:      "Number of op-occ pipelines currently running",
			},
		),

		GrantRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "grant_requests_total",
				Help:      "Total number of grant requests by outcome",
			},
			[]string{"operation", "status"},
		),

		CoordinationRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coordination_requests_total",
				Help:      "Total number of coordination requests by result",
			},
			[]string{"result"},
		),

		PollAttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_attempts_total",
				Help:      "Total number of asynchronous poll attempts",
			},
			[]string{"kind", "http_status"},
		),

		HookExecutionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mgmt_driver_hook_executions_total",
				Help:      "Total number of mgmt driver hook executions",
			},
			[]string{"hook", "status"},
		),

		HookExecutionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "mgmt_driver_hook_duration_seconds",
				Help:      "Mgmt driver hook execution duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 3, 10),
			},
			[]string{"hook"},
		),

		InfraOperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "infra_operations_total",
				Help:      "Total number of infra driver operations",
			},
			[]string{"driver", "operation", "status"},
		),

		InfraOperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "infra_operation_duration_seconds",
				Help:      "Infra driver operation duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"driver", "operation"},
		),

		NotificationsEnqueuedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_enqueued_total",
				Help:      "Total number of notifications enqueued for delivery",
			},
			[]string{"notification_type"},
		),

		NotificationDeliveryTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_delivery_total",
				Help:      "Total number of notification deliveries",
			},
			[]string{"status", "http_status"},
		),

		NotificationDeliveryTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "notification_delivery_duration_seconds",
				Help:      "Notification delivery duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),

		NotificationAttempts: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "notification_attempts",
				Help:      "Delivery attempts per notification by final status",
				Buckets:   []float64{1, 2, 3, 4, 5, 10},
			},
			[]string{"status"},
		),

		NotificationCircuitBreakers: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "notification_circuit_breaker_state",
				Help:      "Circuit breaker state per callback (0=closed, 1=half-open, 2=open)",
			},
			[]string{"callback_uri"},
		),

		NotificationWorkersActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "notification_workers_active",
				Help:      "Number of active notification workers",
			},
		),

		NotificationQueuePublishes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_queue_publishes_total",
				Help:      "Total number of writes to the notification stream",
			},
			[]string{"status"},
		),

		NotificationSubscriptionsHit: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "notification_subscriptions_matched",
				Help:      "Number of subscriptions matched per notification",
				Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
			},
			[]string{"notification_type"},
		),

		NotificationWorkerHandled: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_worker_deliveries_total",
				Help:      "Total number of notifications handled by workers",
			},
			[]string{"status"},
		),

		NotificationWorkerLatency: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "notification_worker_delivery_seconds",
				Help:      "Time to deliver a notification including retries",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),

		NotificationDeadLetters: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_dlq_total",
				Help:      "Total number of notifications moved to the dead letter queue",
			},
		),
	}
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordOpOccTransition records an op-occ entering state.
func (m *Metrics) RecordOpOccTransition(operation, state string) {
	m.OpOccTransitionsTotal.WithLabelValues(operation, state).Inc()
}

// RecordOpOccRun records the end of one pipeline run.
func (m *Metrics) RecordOpOccRun(operation, state string, duration time.Duration) {
	m.OpOccDuration.WithLabelValues(operation, state).Observe(duration.Seconds())
}

// RecordGrant records a grant request outcome.
func (m *Metrics) RecordGrant(operation string, err error) {
	status := statusSuccess
	if err != nil {
		status = statusError
	}
	m.GrantRequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordCoordination records a coordination result ("error" on failure).
func (m *Metrics) RecordCoordination(result string) {
	m.CoordinationRequestsTotal.WithLabelValues(result).Inc()
}

// RecordPollAttempt records one HTTP attempt of an asynchronous exchange.
func (m *Metrics) RecordPollAttempt(kind string, httpStatus int) {
	m.PollAttemptsTotal.WithLabelValues(kind, strconv.Itoa(httpStatus)).Inc()
}

// RecordHook records a mgmt driver hook execution.
func (m *Metrics) RecordHook(hook string, duration time.Duration, err error) {
	status := statusSuccess
	if err != nil {
		status = statusError
	}
	m.HookExecutionsTotal.WithLabelValues(hook, status).Inc()
	m.HookExecutionDuration.WithLabelValues(hook).Observe(duration.Seconds())
}

// RecordInfraOperation records infra driver operation metrics.
func (m *Metrics) RecordInfraOperation(driver, operation string, duration time.Duration, err error) {
	status := statusSuccess
	if err != nil {
		status = statusError
	}
	m.InfraOperationsTotal.WithLabelValues(driver, operation, status).Inc()
	m.InfraOperationDuration.WithLabelValues(driver, operation).Observe(duration.Seconds())
}

// RecordNotificationEnqueued records a notification handed to the queue.
func (m *Metrics) RecordNotificationEnqueued(notificationType string) {
	m.NotificationsEnqueuedTotal.WithLabelValues(notificationType).Inc()
}

// RecordNotificationDelivery records notification delivery metrics.
func (m *Metrics) RecordNotificationDelivery(duration time.Duration, httpStatusCode int, err error) {
	status := statusSuccess
	if err != nil || httpStatusCode >= 400 {
		status = statusError
	}
	m.NotificationDeliveryTime.WithLabelValues(status).Observe(duration.Seconds())
	m.NotificationDeliveryTotal.WithLabelValues(status, strconv.Itoa(httpStatusCode)).Inc()
}

// RecordNotificationAttempts records how many attempts a delivery took
// before it was delivered or given up.
func (m *Metrics) RecordNotificationAttempts(delivered bool, attempts int) {
	status := statusSuccess
	if !delivered {
		status = statusError
	}
	m.NotificationAttempts.WithLabelValues(status).Observe(float64(attempts))
}

// RecordCircuitBreakerState records the state of the breaker of one
// callback: 0 closed, 1 half-open, 2 open.
func (m *Metrics) RecordCircuitBreakerState(callbackURI string, state float64) {
	m.NotificationCircuitBreakers.WithLabelValues(callbackURI).Set(state)
}

// SetNotificationWorkers records the number of running notification workers.
func (m *Metrics) SetNotificationWorkers(count int) {
	m.NotificationWorkersActive.Set(float64(count))
}

// RecordQueuePublish records one write to the notification stream.
func (m *Metrics) RecordQueuePublish(err error) {
	status := statusSuccess
	if err != nil {
		status = statusError
	}
	m.NotificationQueuePublishes.WithLabelValues(status).Inc()
}

// RecordSubscriptionsMatched records how many subscriptions a
// notification matched.
func (m *Metrics) RecordSubscriptionsMatched(notificationType string, count int) {
	m.NotificationSubscriptionsHit.WithLabelValues(notificationType).Observe(float64(count))
}

// RecordWorkerDelivery records a notification a worker finished with.
// Latency is only observed for delivered notifications.
func (m *Metrics) RecordWorkerDelivery(duration time.Duration, err error) {
	if err != nil {
		m.NotificationWorkerHandled.WithLabelValues("failed").Inc()
		return
	}
	m.NotificationWorkerHandled.WithLabelValues(statusSuccess).Inc()
	m.NotificationWorkerLatency.Observe(duration.Seconds())
}

// RecordDeadLetter records a notification parked on the dead letter stream.
func (m *Metrics) RecordDeadLetter() {
	m.NotificationDeadLetters.Inc()
}
