package events

import (
	"context"
	"time"

	"github.com/piwi3910/vnfm/internal/models"
)

// Queue carries rendered notifications from the dispatcher to the
// delivery workers.
type Queue interface {
	// Publish adds an event to the queue.
	Publish(ctx context.Context, event *Event) error

	// Subscribe returns a channel of events read through a consumer group.
	// The channel is closed when ctx is cancelled.
	Subscribe(ctx context.Context, consumerGroup, consumerName string) (<-chan *Event, error)

	// Acknowledge removes an event from the consumer group's pending list.
	Acknowledge(ctx context.Context, consumerGroup, streamID string) error

	// Close releases queue resources.
	Close() error
}

// Filter selects the subscriptions a notification must be sent to.
type Filter interface {
	MatchSubscriptions(ctx context.Context, subject *Subject) ([]*models.LccnSubscription, error)
}

// Notifier delivers notifications to subscriber callbacks.
type Notifier interface {
	// Notify makes a single delivery attempt.
	Notify(ctx context.Context, event *Event, sub *models.LccnSubscription) error

	// NotifyWithRetry retries with exponential backoff and returns the
	// delivery record.
	NotifyWithRetry(ctx context.Context, event *Event, sub *models.LccnSubscription) (*NotificationDelivery, error)

	// Close releases notifier resources.
	Close() error
}

// DeliveryTracker stores delivery attempts for troubleshooting.
type DeliveryTracker interface {
	Track(ctx context.Context, delivery *NotificationDelivery) error
	Get(ctx context.Context, deliveryID string) (*NotificationDelivery, error)

	// ListByOpOcc returns the deliveries of notifications about an op-occ.
	ListByOpOcc(ctx context.Context, opOccID string) ([]*NotificationDelivery, error)

	// ListBySubscription returns the most recent deliveries to a
	// subscriber, newest first.
	ListBySubscription(ctx context.Context, subscriptionID string) ([]*NotificationDelivery, error)

	// ListFailed returns deliveries that gave up at or after since.
	ListFailed(ctx context.Context, since time.Time) ([]*NotificationDelivery, error)
}
