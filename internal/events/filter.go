package events

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/storage"
)

// Subject is what a notification is about.
type Subject struct {
	NotificationType models.NotificationType
	Instance         *models.VnfInstance

	// Operation and OperationState are set for op-occ notifications only.
	Operation      models.Operation
	OperationState models.OperationState
}

// SubscriptionFilter implements the Filter interface on top of the
// subscription store.
type SubscriptionFilter struct {
	store  storage.SubscriptionStore
	logger *zap.Logger
}

// NewSubscriptionFilter creates a new SubscriptionFilter instance.
func NewSubscriptionFilter(store storage.SubscriptionStore, logger *zap.Logger) *SubscriptionFilter {
	if store == nil {
		panic("storage cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}

	return &SubscriptionFilter{
		store:  store,
		logger: logger,
	}
}

// MatchSubscriptions returns every subscription whose filter accepts the
// subject.
func (f *SubscriptionFilter) MatchSubscriptions(ctx context.Context, subject *Subject) ([]*models.LccnSubscription, error) {
	all, err := f.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	matched := make([]*models.LccnSubscription, 0, len(all))
	for _, sub := range all {
		if Matches(sub.Filter, subject) {
			matched = append(matched, sub)
		}
	}

	f.logger.Debug("matched subscriptions",
		zap.String("notification_type", string(subject.NotificationType)),
		zap.Int("total_subscriptions", len(all)),
		zap.Int("matched_subscriptions", len(matched)),
	)

	return matched, nil
}

// Matches reports whether filter accepts subject. A nil filter accepts
// everything; all present criteria must match. Operation types and states
// only constrain op-occ notifications.
func Matches(filter *models.LifecycleChangeNotificationsFilter, subject *Subject) bool {
	if filter == nil {
		return true
	}

	if filter.VnfInstanceSubscriptionFilter != nil && !matchInstance(filter.VnfInstanceSubscriptionFilter, subject.Instance) {
		return false
	}

	if len(filter.NotificationTypes) > 0 && !slices.Contains(filter.NotificationTypes, subject.NotificationType) {
		return false
	}

	if subject.NotificationType != models.NotificationOpOcc {
		return true
	}

	if len(filter.OperationTypes) > 0 && !slices.Contains(filter.OperationTypes, subject.Operation) {
		return false
	}
	if len(filter.OperationStates) > 0 && !slices.Contains(filter.OperationStates, subject.OperationState) {
		return false
	}
	return true
}

func matchInstance(f *models.VnfInstanceSubscriptionFilter, inst *models.VnfInstance) bool {
	if inst == nil {
		return false
	}
	if len(f.VnfdIDs) > 0 && !slices.Contains(f.VnfdIDs, inst.VnfdID) {
		return false
	}
	if len(f.VnfProductsFromProviders) > 0 {
		if !slices.ContainsFunc(f.VnfProductsFromProviders, func(p models.VnfProductsFromProviders) bool {
			return matchProvider(p, inst)
		}) {
			return false
		}
	}
	if len(f.VnfInstanceIDs) > 0 && !slices.Contains(f.VnfInstanceIDs, inst.ID) {
		return false
	}
	if len(f.VnfInstanceNames) > 0 && !slices.Contains(f.VnfInstanceNames, inst.VnfInstanceName) {
		return false
	}
	return true
}

func matchProvider(p models.VnfProductsFromProviders, inst *models.VnfInstance) bool {
	if p.VnfProvider != inst.VnfProvider {
		return false
	}
	if len(p.VnfProducts) == 0 {
		return true
	}
	for _, product := range p.VnfProducts {
		if product.VnfProductName != inst.VnfProductName {
			continue
		}
		if len(product.Versions) == 0 {
			return true
		}
		for _, v := range product.Versions {
			if v.VnfSoftwareVersion != inst.VnfSoftwareVersion {
				continue
			}
			if len(v.VnfdVersions) == 0 || slices.Contains(v.VnfdVersions, inst.VnfdVersion) {
				return true
			}
		}
	}
	return false
}
