// Package workers provides background workers for lifecycle change
// notification delivery. Failed deliveries are parked on a dead letter
// stream.
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/events"
	"github.com/piwi3910/vnfm/internal/observability"
	"github.com/piwi3910/vnfm/internal/storage"
)

const (
	// DLQStreamKey is the Redis Stream key for the dead letter queue.
	DLQStreamKey = "vnfm:notifications:dlq"

	// ConsumerGroup is the default consumer group name for notification workers.
	ConsumerGroup = "notification-workers"

	// DefaultWorkerCount is the default number of worker goroutines.
	DefaultWorkerCount = 4

	dlqMaxLen = 10000
)

// NotificationWorker reads queued notifications and delivers them to the
// subscriber callbacks.
type NotificationWorker struct {
	queue         events.Queue
	notifier      events.Notifier
	subscriptions storage.SubscriptionStore
	redisClient   redis.UniversalClient
	logger        *zap.Logger
	metrics       *observability.Metrics

	workerCount   int
	consumerGroup string

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds configuration for creating a NotificationWorker.
type Config struct {
	Queue         events.Queue
	Notifier      events.Notifier
	Subscriptions storage.SubscriptionStore

	// RedisClient receives dead letters. Optional; without it failed
	// deliveries are only logged.
	RedisClient redis.UniversalClient

	Logger *zap.Logger

	// Metrics records the number of running workers. Optional.
	Metrics *observability.Metrics

	// WorkerCount is the number of worker goroutines (default: 4).
	WorkerCount int

	// ConsumerGroup defaults to ConsumerGroup.
	ConsumerGroup string
}

// NewNotificationWorker creates a new NotificationWorker.
func NewNotificationWorker(cfg *Config) (*NotificationWorker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("notifier cannot be nil")
	}
	if cfg.Subscriptions == nil {
		return nil, fmt.Errorf("subscription store cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	workerCount := cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	group := cfg.ConsumerGroup
	if group == "" {
		group = ConsumerGroup
	}

	return &NotificationWorker{
		queue:         cfg.Queue,
		notifier:      cfg.Notifier,
		subscriptions: cfg.Subscriptions,
		redisClient:   cfg.RedisClient,
		logger:        cfg.Logger.With(zap.String("component", "notification-worker")),
		metrics:       cfg.Metrics,
		workerCount:   workerCount,
		consumerGroup: group,
	}, nil
}

// Start subscribes every worker goroutine to the queue and blocks until
// ctx is cancelled or Stop is called.
func (w *NotificationWorker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.logger.Info("starting notification worker", zap.Int("worker_count", w.workerCount))

	for i := 0; i < w.workerCount; i++ {
		consumer := fmt.Sprintf("worker-%d", i)
		ch, err := w.queue.Subscribe(ctx, w.consumerGroup, consumer)
		if err != nil {
			cancel()
			w.wg.Wait()
			return fmt.Errorf("failed to subscribe %s: %w", consumer, err)
		}
		w.wg.Add(1)
		go w.processEvents(ctx, consumer, ch)
	}

	w.setActive(w.workerCount)
	w.logger.Info("notification worker started")

	<-ctx.Done()
	return w.Stop()
}

// Stop cancels the workers and waits for in-flight deliveries to return.
// Interrupted deliveries stay pending on the queue and are replayed on the
// next start.
func (w *NotificationWorker) Stop() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()

	w.wg.Wait()
	w.setActive(0)
	w.logger.Info("notification worker stopped")
	return nil
}

func (w *NotificationWorker) setActive(n int) {
	if w.metrics != nil {
		w.metrics.SetNotificationWorkers(n)
	}
}

func (w *NotificationWorker) recordDelivery(d time.Duration, err error) {
	if w.metrics != nil {
		w.metrics.RecordWorkerDelivery(d, err)
	}
}

func (w *NotificationWorker) processEvents(ctx context.Context, consumer string, ch <-chan *events.Event) {
	defer w.wg.Done()

	for event := range ch {
		if err := w.HandleEvent(ctx, event); err != nil {
			w.logger.Error("failed to handle event",
				zap.String("consumer", consumer),
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}
	w.logger.Debug("worker stopping", zap.String("consumer", consumer))
}

// HandleEvent delivers one event and acknowledges it. Events whose
// subscription no longer exists are dropped.
func (w *NotificationWorker) HandleEvent(ctx context.Context, event *events.Event) error {
	sub, err := w.subscriptions.GetSubscription(ctx, event.SubscriptionID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to load subscription %s: %w", event.SubscriptionID, err)
		}
		w.logger.Info("dropping notification for deleted subscription",
			zap.String("event_id", event.ID),
			zap.String("subscription_id", event.SubscriptionID))
		return w.acknowledge(ctx, event)
	}

	start := time.Now()
	_, err = w.notifier.NotifyWithRetry(ctx, event, sub)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		w.recordDelivery(time.Since(start), err)
		if dlqErr := w.MoveToDLQ(ctx, event, err); dlqErr != nil {
			w.logger.Error("failed to move to DLQ", zap.Error(dlqErr))
		}
	} else {
		w.recordDelivery(time.Since(start), nil)
	}

	return w.acknowledge(ctx, event)
}

func (w *NotificationWorker) acknowledge(ctx context.Context, event *events.Event) error {
	if event.StreamID == "" {
		return nil
	}
	return w.queue.Acknowledge(ctx, w.consumerGroup, event.StreamID)
}

// MoveToDLQ parks an undeliverable event on the dead letter stream.
func (w *NotificationWorker) MoveToDLQ(ctx context.Context, event *events.Event, cause error) error {
	if w.redisClient == nil {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: DLQStreamKey,
		MaxLen: dlqMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event":           string(data),
			"original_id":     event.StreamID,
			"failed_at":       time.Now().UTC().Format(time.RFC3339),
			"subscription_id": event.SubscriptionID,
			"error":           cause.Error(),
		},
	}
	if _, err := w.redisClient.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to DLQ: %w", err)
	}

	w.logger.Info("event moved to DLQ",
		zap.String("subscription_id", event.SubscriptionID),
		zap.String("event_id", event.ID))
	if w.metrics != nil {
		w.metrics.RecordDeadLetter()
	}
	return nil
}
