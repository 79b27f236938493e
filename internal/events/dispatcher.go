package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/observability"
)

// Dispatcher renders lifecycle change notifications and queues one per
// matching subscription. Rendering happens at the time of the state change
// so that queued notifications carry the op-occ as it was then.
type Dispatcher struct {
	filter   Filter
	queue    Queue
	endpoint string
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. endpoint is the externally visible
// base URL used in notification links. metrics may be nil.
func NewDispatcher(filter Filter, queue Queue, endpoint string, logger *zap.Logger, metrics *observability.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		filter:   filter,
		queue:    queue,
		endpoint: endpoint,
		logger:   logger.With(zap.String("component", "dispatcher")),
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NotifyOpOcc queues a VnfLcmOperationOccurrenceNotification for the
// current state of opOcc.
func (d *Dispatcher) NotifyOpOcc(ctx context.Context, opOcc *models.VnfLcmOpOcc, inst *models.VnfInstance) error {
	subject := &Subject{
		NotificationType: models.NotificationOpOcc,
		Instance:         inst,
		Operation:        opOcc.Operation,
		OperationState:   opOcc.OperationState,
	}
	return d.dispatch(ctx, subject, opOcc.ID, func(sub *models.LccnSubscription, id string) interface{} {
		return d.opOccNotification(sub, id, opOcc)
	})
}

// NotifyInstanceCreated queues a VnfIdentifierCreationNotification.
func (d *Dispatcher) NotifyInstanceCreated(ctx context.Context, inst *models.VnfInstance) error {
	return d.notifyIdentifier(ctx, models.NotificationIdentifierCreation, inst)
}

// NotifyInstanceDeleted queues a VnfIdentifierDeletionNotification.
func (d *Dispatcher) NotifyInstanceDeleted(ctx context.Context, inst *models.VnfInstance) error {
	return d.notifyIdentifier(ctx, models.NotificationIdentifierDeletion, inst)
}

func (d *Dispatcher) notifyIdentifier(ctx context.Context, t models.NotificationType, inst *models.VnfInstance) error {
	subject := &Subject{NotificationType: t, Instance: inst}
	return d.dispatch(ctx, subject, "", func(sub *models.LccnSubscription, id string) interface{} {
		return &models.VnfIdentifierNotification{
			ID:               id,
			NotificationType: t,
			SubscriptionID:   sub.ID,
			TimeStamp:        d.now(),
			VnfInstanceID:    inst.ID,
			Links:            d.links(sub, inst.ID, ""),
		}
	})
}

func (d *Dispatcher) dispatch(ctx context.Context, subject *Subject, opOccID string, render func(*models.LccnSubscription, string) interface{}) error {
	subs, err := d.filter.MatchSubscriptions(ctx, subject)
	if err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.RecordSubscriptionsMatched(string(subject.NotificationType), len(subs))
	}

	var errs []error
	for _, sub := range subs {
		id := uuid.New().String()
		payload, err := json.Marshal(render(sub, id))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to render notification for subscription %s: %w", sub.ID, err))
			continue
		}

		event := &Event{
			ID:               id,
			NotificationType: subject.NotificationType,
			SubscriptionID:   sub.ID,
			VnfInstanceID:    subject.Instance.ID,
			VnfLcmOpOccID:    opOccID,
			Payload:          payload,
			Timestamp:        d.now(),
		}
		if err := d.queue.Publish(ctx, event); err != nil {
			errs = append(errs, err)
			continue
		}
		if d.metrics != nil {
			d.metrics.RecordNotificationEnqueued(string(subject.NotificationType))
		}
	}

	if len(errs) > 0 {
		d.logger.Warn("some notifications were not queued",
			zap.String("notification_type", string(subject.NotificationType)),
			zap.String("vnf_instance_id", subject.Instance.ID),
			zap.Int("failed", len(errs)),
		)
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) opOccNotification(sub *models.LccnSubscription, id string, opOcc *models.VnfLcmOpOcc) *models.VnfLcmOperationOccurrenceNotification {
	status := models.NotificationResult
	if opOcc.OperationState == models.StateProcessing || opOcc.OperationState == models.StateRollingBack {
		status = models.NotificationStart
	}

	verbosity := sub.Verbosity
	if verbosity == "" {
		verbosity = models.VerbosityFull
	}

	n := &models.VnfLcmOperationOccurrenceNotification{
		ID:                    id,
		NotificationType:      models.NotificationOpOcc,
		SubscriptionID:        sub.ID,
		TimeStamp:             d.now(),
		NotificationStatus:    status,
		OperationState:        opOcc.OperationState,
		VnfInstanceID:         opOcc.VnfInstanceID,
		Operation:             opOcc.Operation,
		IsAutomaticInvocation: opOcc.IsAutomaticInvocation,
		Verbosity:             verbosity,
		VnfLcmOpOccID:         opOcc.ID,
		Error:                 opOcc.Error,
		Links:                 d.links(sub, opOcc.VnfInstanceID, opOcc.ID),
	}

	if verbosity == models.VerbosityFull {
		if opOcc.ResourceChanges != nil {
			n.AffectedVnfcs = opOcc.ResourceChanges.AffectedVnfcs
			n.AffectedVirtualLinks = opOcc.ResourceChanges.AffectedVirtualLinks
			n.AffectedVirtualStorages = opOcc.ResourceChanges.AffectedVirtualStorages
		}
		n.ChangedInfo = opOcc.ChangedInfo
		n.ChangedExtConnectivity = opOcc.ChangedExtConnectivity
	}
	return n
}

func (d *Dispatcher) links(sub *models.LccnSubscription, instanceID, opOccID string) models.LccnLinks {
	links := models.LccnLinks{
		VnfInstance:  models.Link{Href: models.InstanceHref(d.endpoint, instanceID)},
		Subscription: models.Link{Href: models.SubscriptionHref(d.endpoint, sub.ID)},
	}
	if opOccID != "" {
		links.VnfLcmOpOcc = &models.Link{Href: models.OpOccHref(d.endpoint, opOccID)}
	}
	return links
}
