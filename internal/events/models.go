// Package events delivers lifecycle change notifications. The dispatcher
// renders one notification per matching subscription and queues it on a
// Redis stream; workers consume the stream and POST each notification to
// the subscriber's callback with retry and a per-callback circuit breaker.
package events

import (
	"encoding/json"
	"time"

	"github.com/piwi3910/vnfm/internal/models"
)

// Event is one rendered notification addressed to one subscription.
type Event struct {
	// ID is the notification id.
	ID string `json:"id"`

	// NotificationType is the kind of notification carried in Payload.
	NotificationType models.NotificationType `json:"notificationType"`

	// SubscriptionID is the subscription the notification is for.
	SubscriptionID string `json:"subscriptionId"`

	// VnfInstanceID is the VNF instance the notification is about.
	VnfInstanceID string `json:"vnfInstanceId"`

	// VnfLcmOpOccID is set for op-occ notifications.
	VnfLcmOpOccID string `json:"vnfLcmOpOccId,omitempty"`

	// Payload is the notification body as sent to the callback.
	Payload json.RawMessage `json:"payload"`

	// Timestamp is when the notification was rendered.
	Timestamp time.Time `json:"timestamp"`

	// StreamID is the Redis stream entry id, set by the consumer.
	StreamID string `json:"-"`
}

// DeliveryStatus represents the status of a notification delivery attempt.
type DeliveryStatus string

const (
	// DeliveryStatusPending indicates the notification is queued for delivery.
	DeliveryStatusPending DeliveryStatus = "pending"

	// DeliveryStatusDelivering indicates delivery is in progress.
	DeliveryStatusDelivering DeliveryStatus = "delivering"

	// DeliveryStatusDelivered indicates successful delivery.
	DeliveryStatusDelivered DeliveryStatus = "delivered"

	// DeliveryStatusFailed indicates delivery failed after all retries.
	DeliveryStatusFailed DeliveryStatus = "failed"

	// DeliveryStatusRetrying indicates delivery is being retried.
	DeliveryStatusRetrying DeliveryStatus = "retrying"
)

// String returns the string representation of the DeliveryStatus.
func (d DeliveryStatus) String() string {
	return string(d)
}

// NotificationDelivery tracks the delivery of one notification.
type NotificationDelivery struct {
	ID               string                  `json:"id"`
	EventID          string                  `json:"eventId"`
	NotificationType models.NotificationType `json:"notificationType"`
	SubscriptionID   string                  `json:"subscriptionId"`
	VnfInstanceID    string                  `json:"vnfInstanceId"`
	VnfLcmOpOccID    string                  `json:"vnfLcmOpOccId,omitempty"`
	CallbackURI      string                  `json:"callbackUri"`
	Status           DeliveryStatus          `json:"status"`
	Attempts         int                     `json:"attempts"`
	MaxAttempts      int                     `json:"maxAttempts"`
	LastAttemptAt    time.Time               `json:"lastAttemptAt,omitempty"`
	NextAttemptAt    time.Time               `json:"nextAttemptAt,omitempty"`
	LastError        string                  `json:"lastError,omitempty"`
	HTTPStatusCode   int                     `json:"httpStatusCode,omitempty"`

	// ResponseTime is the response time of the last attempt in milliseconds.
	ResponseTime int64 `json:"responseTime,omitempty"`

	CreatedAt   time.Time `json:"createdAt"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
}
