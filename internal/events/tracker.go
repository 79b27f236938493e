package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Delivery records live under vnfm:delivery:{id}. Two sorted sets index
// them, one per op-occ and one per subscription, both scored by creation
// time. Deliveries that gave up are kept in a third set scored by
// completion time.
const (
	deliveryKeyPrefix        = "vnfm:delivery:"
	deliveryOpOccPrefix      = "vnfm:deliveries:opocc:"
	deliverySubscriberPrefix = "vnfm:deliveries:subscription:"
	deliveryFailedKey        = "vnfm:deliveries:failed"
	deliveryTTL              = 7 * 24 * time.Hour

	// subscriberHistory bounds the per-subscription index.
	subscriberHistory = 100
)

// ErrDeliveryNotFound is returned when a delivery record does not exist.
var ErrDeliveryNotFound = errors.New("delivery not found")

// RedisDeliveryTracker keeps delivery records in Redis for a week.
type RedisDeliveryTracker struct {
	client redis.UniversalClient
}

// NewRedisDeliveryTracker creates a tracker on client.
func NewRedisDeliveryTracker(client redis.UniversalClient) *RedisDeliveryTracker {
	if client == nil {
		panic("Redis client cannot be nil")
	}
	return &RedisDeliveryTracker{client: client}
}

// Track stores the current state of a delivery. It is called on every
// attempt, so the record always reflects the latest attempt.
func (t *RedisDeliveryTracker) Track(ctx context.Context, delivery *NotificationDelivery) error {
	if delivery == nil {
		return errors.New("delivery cannot be nil")
	}
	if delivery.ID == "" {
		return errors.New("delivery ID cannot be empty")
	}

	data, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}

	created := float64(delivery.CreatedAt.UnixNano())
	pipe := t.client.TxPipeline()
	pipe.Set(ctx, deliveryKeyPrefix+delivery.ID, data, deliveryTTL)

	if delivery.VnfLcmOpOccID != "" {
		key := deliveryOpOccPrefix + delivery.VnfLcmOpOccID
		pipe.ZAdd(ctx, key, redis.Z{Score: created, Member: delivery.ID})
		pipe.Expire(ctx, key, deliveryTTL)
	}

	if delivery.SubscriptionID != "" {
		key := deliverySubscriberPrefix + delivery.SubscriptionID
		pipe.ZAdd(ctx, key, redis.Z{Score: created, Member: delivery.ID})
		pipe.ZRemRangeByRank(ctx, key, 0, -subscriberHistory-1)
		pipe.Expire(ctx, key, deliveryTTL)
	}

	if delivery.Status == DeliveryStatusFailed {
		pipe.ZAdd(ctx, deliveryFailedKey, redis.Z{
			Score:  float64(delivery.CompletedAt.Unix()),
			Member: delivery.ID,
		})
	} else {
		pipe.ZRem(ctx, deliveryFailedKey, delivery.ID)
	}
	// Failed entries older than the record TTL point at expired records.
	pipe.ZRemRangeByScore(ctx, deliveryFailedKey, "-inf",
		strconv.FormatInt(time.Now().Add(-deliveryTTL).Unix(), 10))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to track delivery: %w", err)
	}
	return nil
}

// Get returns a delivery record.
func (t *RedisDeliveryTracker) Get(ctx context.Context, deliveryID string) (*NotificationDelivery, error) {
	if deliveryID == "" {
		return nil, errors.New("delivery ID cannot be empty")
	}

	data, err := t.client.Get(ctx, deliveryKeyPrefix+deliveryID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}

	var delivery NotificationDelivery
	if err := json.Unmarshal(data, &delivery); err != nil {
		return nil, fmt.Errorf("failed to unmarshal delivery: %w", err)
	}
	return &delivery, nil
}

// ListByOpOcc returns the deliveries of notifications about an op-occ in
// the order they were created.
func (t *RedisDeliveryTracker) ListByOpOcc(ctx context.Context, opOccID string) ([]*NotificationDelivery, error) {
	if opOccID == "" {
		return nil, errors.New("op-occ ID cannot be empty")
	}
	ids, err := t.client.ZRange(ctx, deliveryOpOccPrefix+opOccID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries of op-occ %s: %w", opOccID, err)
	}
	return t.load(ctx, ids)
}

// ListBySubscription returns up to the last 100 deliveries to a
// subscriber, newest first.
func (t *RedisDeliveryTracker) ListBySubscription(ctx context.Context, subscriptionID string) ([]*NotificationDelivery, error) {
	if subscriptionID == "" {
		return nil, errors.New("subscription ID cannot be empty")
	}
	ids, err := t.client.ZRevRange(ctx, deliverySubscriberPrefix+subscriptionID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries of subscription %s: %w", subscriptionID, err)
	}
	return t.load(ctx, ids)
}

// ListFailed returns deliveries that gave up at or after since, oldest
// first.
func (t *RedisDeliveryTracker) ListFailed(ctx context.Context, since time.Time) ([]*NotificationDelivery, error) {
	ids, err := t.client.ZRangeByScore(ctx, deliveryFailedKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list failed deliveries: %w", err)
	}
	return t.load(ctx, ids)
}

// load fetches records in one round trip, skipping ones that expired
// after the index was read.
func (t *RedisDeliveryTracker) load(ctx context.Context, ids []string) ([]*NotificationDelivery, error) {
	deliveries := make([]*NotificationDelivery, 0, len(ids))
	if len(ids) == 0 {
		return deliveries, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = deliveryKeyPrefix + id
	}
	values, err := t.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load deliveries: %w", err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var delivery NotificationDelivery
		if err := json.Unmarshal([]byte(raw), &delivery); err != nil {
			return nil, fmt.Errorf("failed to unmarshal delivery %s: %w", ids[i], err)
		}
		deliveries = append(deliveries, &delivery)
	}
	return deliveries, nil
}
