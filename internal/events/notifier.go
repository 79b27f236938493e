package events

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/httpauth"
	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/observability"
)

const (
	defaultHTTPTimeout    = 10 * time.Second
	defaultMaxRetries     = 3
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 60 * time.Second
	backoffMultiplier     = 2

	// APIVersion is sent in the Version header of every notification.
	APIVersion = "2.0.0"

	// TestCallbackTimeout bounds the callback check made when a
	// subscription is created.
	TestCallbackTimeout = 20 * time.Second
)

var (
	// ErrUnexpectedStatus is returned when a callback answers with a
	// non-2xx status.
	ErrUnexpectedStatus = errors.New("unexpected callback status")

	// ErrCallbackCheckFailed is returned when the callback does not answer
	// the subscription check with 204.
	ErrCallbackCheckFailed = errors.New("callback check failed")
)

// NotifierConfig holds configuration for the webhook notifier.
type NotifierConfig struct {
	// HTTPTimeout is the timeout for HTTP requests.
	HTTPTimeout time.Duration

	// MaxRetries is the maximum number of delivery attempts.
	MaxRetries int

	// InitialBackoff is the wait after the first failed attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration
}

// DefaultNotifierConfig returns a NotifierConfig with sensible defaults.
func DefaultNotifierConfig() *NotifierConfig {
	return &NotifierConfig{
		HTTPTimeout:    defaultHTTPTimeout,
		MaxRetries:     defaultMaxRetries,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
	}
}

// WebhookNotifier implements the Notifier interface using HTTP POST.
// Each subscription gets an HTTP client authenticated as its
// authentication attribute describes; each callback URI gets its own
// circuit breaker.
type WebhookNotifier struct {
	config          *NotifierConfig
	logger          *zap.Logger
	metrics         *observability.Metrics
	deliveryTracker DeliveryTracker

	mu              sync.Mutex
	clients         map[string]*http.Client
	circuitBreakers map[string]*gobreaker.CircuitBreaker
}

// NewWebhookNotifier creates a new WebhookNotifier instance. The tracker and
// metrics may be nil.
func NewWebhookNotifier(config *NotifierConfig, deliveryTracker DeliveryTracker, logger *zap.Logger, metrics *observability.Metrics) (*WebhookNotifier, error) {
	if config == nil {
		config = DefaultNotifierConfig()
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if config.MaxRetries < 1 {
		return nil, fmt.Errorf("max retries must be at least 1, got %d", config.MaxRetries)
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaultInitialBackoff
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = config.InitialBackoff
	}

	return &WebhookNotifier{
		config:          config,
		logger:          logger.With(zap.String("component", "webhook-notifier")),
		metrics:         metrics,
		deliveryTracker: deliveryTracker,
		clients:         make(map[string]*http.Client),
		circuitBreakers: make(map[string]*gobreaker.CircuitBreaker),
	}, nil
}

// Notify makes a single delivery attempt.
func (n *WebhookNotifier) Notify(ctx context.Context, event *Event, sub *models.LccnSubscription) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	if sub == nil {
		return errors.New("subscription cannot be nil")
	}

	_, err := n.send(ctx, sub, event.Payload)
	return err
}

// NotifyWithRetry delivers the event with exponential backoff between
// attempts. The final error is returned once MaxRetries attempts failed.
func (n *WebhookNotifier) NotifyWithRetry(ctx context.Context, event *Event, sub *models.LccnSubscription) (*NotificationDelivery, error) {
	if event == nil {
		return nil, errors.New("event cannot be nil")
	}
	if sub == nil {
		return nil, errors.New("subscription cannot be nil")
	}

	delivery := &NotificationDelivery{
		ID:               uuid.New().String(),
		EventID:          event.ID,
		NotificationType: event.NotificationType,
		SubscriptionID:   sub.ID,
		VnfInstanceID:    event.VnfInstanceID,
		VnfLcmOpOccID:    event.VnfLcmOpOccID,
		CallbackURI:      sub.CallbackURI,
		Status:           DeliveryStatusPending,
		MaxAttempts:      n.config.MaxRetries,
		CreatedAt:        time.Now().UTC(),
	}

	cb := n.getCircuitBreaker(sub.CallbackURI)

	backoff := n.config.InitialBackoff
	for attempt := 1; attempt <= n.config.MaxRetries; attempt++ {
		err := n.attemptDelivery(ctx, delivery, sub, cb, event.Payload, attempt)
		if err == nil {
			return n.handleDeliverySuccess(ctx, delivery, attempt), nil
		}

		if attempt >= n.config.MaxRetries {
			return n.handleFinalFailure(ctx, delivery, attempt, err)
		}

		if retryErr := n.prepareRetry(ctx, delivery, attempt, err, backoff); retryErr != nil {
			return delivery, retryErr
		}

		backoff *= backoffMultiplier
		if backoff > n.config.MaxBackoff {
			backoff = n.config.MaxBackoff
		}
	}

	return delivery, errors.New("unexpected end of retry loop")
}

func (n *WebhookNotifier) attemptDelivery(
	ctx context.Context,
	delivery *NotificationDelivery,
	sub *models.LccnSubscription,
	cb *gobreaker.CircuitBreaker,
	payload []byte,
	attempt int,
) error {
	delivery.Attempts = attempt
	delivery.LastAttemptAt = time.Now().UTC()
	delivery.Status = DeliveryStatusDelivering
	n.track(ctx, delivery)

	start := time.Now()
	status, err := n.executeWithCircuitBreaker(ctx, cb, sub, payload)
	elapsed := time.Since(start)

	delivery.ResponseTime = elapsed.Milliseconds()
	delivery.HTTPStatusCode = status
	if n.metrics != nil {
		n.metrics.RecordNotificationDelivery(elapsed, status, err)
	}
	return err
}

func (n *WebhookNotifier) handleDeliverySuccess(ctx context.Context, delivery *NotificationDelivery, attempt int) *NotificationDelivery {
	delivery.Status = DeliveryStatusDelivered
	delivery.LastError = ""
	delivery.CompletedAt = time.Now().UTC()
	if n.metrics != nil {
		n.metrics.RecordNotificationAttempts(true, attempt)
	}

	n.logger.Info("notification delivered",
		zap.String("delivery_id", delivery.ID),
		zap.String("subscription_id", delivery.SubscriptionID),
		zap.String("callback", delivery.CallbackURI),
		zap.Int("attempts", attempt),
		zap.Int64("response_time_ms", delivery.ResponseTime),
	)

	n.track(ctx, delivery)
	return delivery
}

func (n *WebhookNotifier) handleFinalFailure(ctx context.Context, delivery *NotificationDelivery, attempt int, err error) (*NotificationDelivery, error) {
	delivery.LastError = err.Error()
	delivery.Status = DeliveryStatusFailed
	delivery.CompletedAt = time.Now().UTC()
	if n.metrics != nil {
		n.metrics.RecordNotificationAttempts(false, attempt)
	}

	n.logger.Error("notification delivery failed after all retries",
		zap.String("delivery_id", delivery.ID),
		zap.String("subscription_id", delivery.SubscriptionID),
		zap.String("callback", delivery.CallbackURI),
		zap.Int("attempts", attempt),
		zap.Error(err),
	)

	n.track(ctx, delivery)
	return delivery, fmt.Errorf("delivery failed after %d attempts: %w", attempt, err)
}

func (n *WebhookNotifier) prepareRetry(ctx context.Context, delivery *NotificationDelivery, attempt int, err error, backoff time.Duration) error {
	delivery.LastError = err.Error()
	delivery.Status = DeliveryStatusRetrying
	delivery.NextAttemptAt = time.Now().Add(backoff)

	n.logger.Warn("notification delivery failed",
		zap.String("delivery_id", delivery.ID),
		zap.String("subscription_id", delivery.SubscriptionID),
		zap.String("callback", delivery.CallbackURI),
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", n.config.MaxRetries),
		zap.Duration("backoff", backoff),
		zap.Error(err),
	)
	n.track(ctx, delivery)

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		delivery.Status = DeliveryStatusFailed
		delivery.CompletedAt = time.Now().UTC()
		return fmt.Errorf("notification delivery canceled: %w", ctx.Err())
	case <-timer.C:
	}
	return nil
}

func (n *WebhookNotifier) track(ctx context.Context, delivery *NotificationDelivery) {
	if n.deliveryTracker == nil {
		return
	}
	if err := n.deliveryTracker.Track(ctx, delivery); err != nil {
		n.logger.Warn("failed to track delivery", zap.Error(err), zap.String("delivery_id", delivery.ID))
	}
}

// send POSTs payload to the subscription's callback and returns the HTTP
// status.
func (n *WebhookNotifier) send(ctx context.Context, sub *models.LccnSubscription, payload []byte) (int, error) {
	client, err := n.clientFor(ctx, sub)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.CallbackURI, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Version", APIVersion)
	req.Header.Set("User-Agent", "vnfm/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			n.logger.Warn("failed to close response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("%w: %d, body: %s", ErrUnexpectedStatus, resp.StatusCode, string(body))
	}
	return resp.StatusCode, nil
}

// TestCallback checks that a callback is reachable before a subscription is
// stored: GET callbackUri must answer 204.
func (n *WebhookNotifier) TestCallback(ctx context.Context, sub *models.LccnSubscription) error {
	client, err := httpauth.NewClient(ctx, sub.Authentication, TestCallbackTimeout)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sub.CallbackURI, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCallbackCheckFailed, err)
	}
	req.Header.Set("Version", APIVersion)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCallbackCheckFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: status %d", ErrCallbackCheckFailed, resp.StatusCode)
	}
	return nil
}

func (n *WebhookNotifier) clientFor(ctx context.Context, sub *models.LccnSubscription) (*http.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if c, ok := n.clients[sub.ID]; ok {
		return c, nil
	}
	c, err := httpauth.NewClient(ctx, sub.Authentication, n.config.HTTPTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to build client for subscription %s: %w", sub.ID, err)
	}
	n.clients[sub.ID] = c
	return c, nil
}

// Forget drops the cached client of a deleted subscription.
func (n *WebhookNotifier) Forget(subscriptionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.clients, subscriptionID)
}

func (n *WebhookNotifier) executeWithCircuitBreaker(ctx context.Context, cb *gobreaker.CircuitBreaker, sub *models.LccnSubscription, payload []byte) (int, error) {
	out, err := cb.Execute(func() (interface{}, error) {
		return n.send(ctx, sub, payload)
	})
	status, _ := out.(int)
	if err != nil {
		return status, fmt.Errorf("circuit breaker execution failed: %w", err)
	}
	return status, nil
}

// getCircuitBreaker gets or creates a circuit breaker for a callback URI.
func (n *WebhookNotifier) getCircuitBreaker(callbackURI string) *gobreaker.CircuitBreaker {
	n.mu.Lock()
	defer n.mu.Unlock()

	if cb, ok := n.circuitBreakers[callbackURI]; ok {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        callbackURI,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			n.logger.Info("circuit breaker state changed",
				zap.String("callback", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			var state float64
			switch to {
			case gobreaker.StateClosed:
				state = 0
			case gobreaker.StateHalfOpen:
				state = 1
			case gobreaker.StateOpen:
				state = 2
			}
			if n.metrics != nil {
				n.metrics.RecordCircuitBreakerState(name, state)
			}
		},
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	n.circuitBreakers[callbackURI] = cb
	return cb
}

// Close releases idle connections of every cached client.
func (n *WebhookNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.clients {
		c.CloseIdleConnections()
	}
	return nil
}
