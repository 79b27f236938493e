package observability_test

import (
	"errors"
	"testing"
	"time"

	"github.com/piwi3910/vnfm/internal/observability"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsPrivateRegistry(t *testing.T) {
	// Two sets on separate registries must not collide.
	m1 := observability.NewMetrics("vnfm", prometheus.NewRegistry())
	m2 := observability.NewMetrics("vnfm", prometheus.NewRegistry())
	assert.NotSame(t, m1, m2)
}

func TestRecordOpOccTransition(t *testing.T) {
	m := observability.NewMetrics("vnfm", prometheus.NewRegistry())

	m.RecordOpOccTransition("INSTANTIATE", "PROCESSING")
	m.RecordOpOccTransition("INSTANTIATE", "PROCESSING")
	m.RecordOpOccTransition("INSTANTIATE", "COMPLETED")

	assert.InDelta(t, 2, testutil.ToFloat64(m.OpOccTransitionsTotal.WithLabelValues("INSTANTIATE", "PROCESSING")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.OpOccTransitionsTotal.WithLabelValues("INSTANTIATE", "COMPLETED")), 0)
}

func TestRecordGrantAndHook(t *testing.T) {
	m := observability.NewMetrics("vnfm", prometheus.NewRegistry())

	m.RecordGrant("SCALE", nil)
	m.RecordGrant("SCALE", errors.New("403"))
	m.RecordHook("scale_start", time.Second, nil)

	assert.InDelta(t, 1, testutil.ToFloat64(m.GrantRequestsTotal.WithLabelValues("SCALE", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.GrantRequestsTotal.WithLabelValues("SCALE", "error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.HookExecutionsTotal.WithLabelValues("scale_start", "success")), 0)
}

// The notification pipeline metrics live on the injected registry only.
func TestNotificationPipelineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics("test", reg)

	m.RecordNotificationAttempts(true, 1)
	m.RecordNotificationAttempts(false, 3)
	m.RecordCircuitBreakerState("https://cb.example.com", 2)
	m.SetNotificationWorkers(4)
	m.RecordQueuePublish(nil)
	m.RecordQueuePublish(errors.New("stream down"))
	m.RecordSubscriptionsMatched("VnfLcmOperationOccurrenceNotification", 2)

	assert.Equal(t, 2, testutil.CollectAndCount(m.NotificationAttempts))
	assert.InDelta(t, 2, testutil.ToFloat64(m.NotificationCircuitBreakers.WithLabelValues("https://cb.example.com")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.NotificationWorkersActive), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.NotificationQueuePublishes.WithLabelValues("success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.NotificationQueuePublishes.WithLabelValues("error")), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, name := range []string{
		"test_notification_attempts",
		"test_notification_circuit_breaker_state",
		"test_notification_workers_active",
		"test_notification_queue_publishes_total",
		"test_notification_subscriptions_matched",
	} {
		assert.True(t, names[name], "%s not registered", name)
	}

	defaults, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, f := range defaults {
		assert.NotContains(t, f.GetName(), "notification", "metric %s registered globally", f.GetName())
	}
}

func TestRecordNotificationDelivery(t *testing.T) {
	m := observability.NewMetrics("", prometheus.NewRegistry())

	m.RecordNotificationDelivery(10*time.Millisecond, 204, nil)
	m.RecordNotificationDelivery(10*time.Millisecond, 500, nil)

	assert.InDelta(t, 1, testutil.ToFloat64(m.NotificationDeliveryTotal.WithLabelValues("success", "204")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.NotificationDeliveryTotal.WithLabelValues("error", "500")), 0)
}
