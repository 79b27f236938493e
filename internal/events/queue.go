package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/observability"
)

const (
	// StreamKey is the Redis stream notifications are queued on.
	StreamKey = "vnfm:notifications:stream"

	// Default batch size for reading from stream.
	defaultBatchSize = 10

	// Block time for reading from stream.
	blockTime = 5 * time.Second

	// Approximate cap on the stream length.
	maxStreamLen = 100000
)

// RedisQueue implements the Queue interface using Redis Streams.
type RedisQueue struct {
	client  redis.UniversalClient
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewRedisQueue creates a new RedisQueue instance. metrics may be nil.
func NewRedisQueue(client redis.UniversalClient, logger *zap.Logger, metrics *observability.Metrics) *RedisQueue {
	if client == nil {
		panic("Redis client cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}

	return &RedisQueue{
		client:  client,
		logger:  logger.With(zap.String("component", "notification-queue")),
		metrics: metrics,
	}
}

// Publish adds an event to the Redis stream.
func (q *RedisQueue) Publish(ctx context.Context, event *Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	if event.ID == "" {
		return errors.New("event ID cannot be empty")
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	streamID, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{
			"event": string(eventJSON),
		},
	}).Result()
	if q.metrics != nil {
		q.metrics.RecordQueuePublish(err)
	}
	if err != nil {
		return fmt.Errorf("failed to add event to stream: %w", err)
	}

	q.logger.Debug("event published to stream",
		zap.String("event_id", event.ID),
		zap.String("stream_id", streamID),
		zap.String("notification_type", string(event.NotificationType)),
		zap.String("subscription_id", event.SubscriptionID),
	)

	return nil
}

// Subscribe reads the stream through a consumer group, creating the group
// if needed. Messages already delivered to this consumer but never
// acknowledged (e.g. before a crash) are re-read first.
func (q *RedisQueue) Subscribe(ctx context.Context, consumerGroup, consumerName string) (<-chan *Event, error) {
	if consumerGroup == "" {
		return nil, errors.New("consumer group cannot be empty")
	}
	if consumerName == "" {
		return nil, errors.New("consumer name cannot be empty")
	}

	err := q.client.XGroupCreateMkStream(ctx, StreamKey, consumerGroup, "0").Err()
	if err != nil && !isConsumerGroupExistsError(err) {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	eventCh := make(chan *Event, defaultBatchSize)
	go q.readFromStream(ctx, consumerGroup, consumerName, eventCh)

	return eventCh, nil
}

func (q *RedisQueue) readFromStream(ctx context.Context, consumerGroup, consumerName string, eventCh chan<- *Event) {
	defer close(eventCh)

	q.logger.Info("starting stream consumer",
		zap.String("consumer_group", consumerGroup),
		zap.String("consumer_name", consumerName),
	)

	// Page through this consumer's pending entries first, then read new
	// ones with ">".
	cursor := "0"
	for {
		if ctx.Err() != nil {
			q.logger.Info("stopping stream consumer",
				zap.String("consumer_group", consumerGroup),
				zap.String("consumer_name", consumerName),
			)
			return
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: consumerName,
			Streams:  []string{StreamKey, cursor},
			Count:    defaultBatchSize,
			Block:    blockTime,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				cursor = ">"
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return
			}
			q.logger.Error("failed to read from stream",
				zap.Error(err),
				zap.String("consumer_group", consumerGroup),
			)
			time.Sleep(time.Second)
			continue
		}

		n := 0
		for _, stream := range streams {
			for _, message := range stream.Messages {
				n++
				if cursor != ">" {
					cursor = message.ID
				}
				event, err := q.parseEvent(message)
				if err != nil {
					q.logger.Error("failed to parse event",
						zap.Error(err),
						zap.String("stream_id", message.ID),
					)
					_ = q.Acknowledge(ctx, consumerGroup, message.ID)
					continue
				}

				select {
				case eventCh <- event:
				case <-ctx.Done():
					return
				}
			}
		}
		if cursor != ">" && n == 0 {
			cursor = ">"
		}
	}
}

func (q *RedisQueue) parseEvent(message redis.XMessage) (*Event, error) {
	eventData, ok := message.Values["event"].(string)
	if !ok {
		return nil, errors.New("invalid event data format")
	}

	var event Event
	if err := json.Unmarshal([]byte(eventData), &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	event.StreamID = message.ID

	return &event, nil
}

// Acknowledge marks an event as processed.
func (q *RedisQueue) Acknowledge(ctx context.Context, consumerGroup, streamID string) error {
	if consumerGroup == "" {
		return errors.New("consumer group cannot be empty")
	}
	if streamID == "" {
		return errors.New("stream ID cannot be empty")
	}

	if err := q.client.XAck(ctx, StreamKey, consumerGroup, streamID).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge message: %w", err)
	}
	return nil
}

// Close is a no-op; the Redis client is shared with the store and locker.
func (q *RedisQueue) Close() error {
	return nil
}

func isConsumerGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
