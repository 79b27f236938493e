package storage

import (
	"context"
	"errors"

	"github.com/piwi3910/vnfm/internal/models"
)

// Common sentinel errors for storage operations.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate record.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidID is returned when a record ID is empty.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidCallback is returned when a callback URL is invalid.
	ErrInvalidCallback = errors.New("invalid callback URL")

	// ErrOperationInProgress is returned when an op-occ is created for an
	// instance that already has a non-terminal op-occ.
	ErrOperationInProgress = errors.New("another operation is in progress")

	// ErrStateConflict is returned when a conditional update finds the
	// record in a state that does not allow it.
	ErrStateConflict = errors.New("state conflict")

	// ErrStorageUnavailable is returned when the storage backend is unavailable.
	ErrStorageUnavailable = errors.New("storage backend unavailable")
)

// InstanceStore persists VNF instances.
type InstanceStore interface {
	// CreateInstance stores a new instance.
	// Returns ErrAlreadyExists if an instance with the same ID exists.
	CreateInstance(ctx context.Context, inst *models.VnfInstance) error

	// GetInstance returns ErrNotFound if the instance does not exist.
	GetInstance(ctx context.Context, id string) (*models.VnfInstance, error)

	// UpdateInstance replaces an existing instance.
	UpdateInstance(ctx context.Context, inst *models.VnfInstance) error

	// DeleteInstance removes the instance and its op-occ index.
	DeleteInstance(ctx context.Context, id string) error

	// ListInstances returns all instances.
	ListInstances(ctx context.Context) ([]*models.VnfInstance, error)
}

// OpOccStore persists op-occs and their work records.
//
// CreateOpOcc and UpdateOpOcc maintain a per-instance "active" marker so
// that at most one non-terminal op-occ exists per instance. The marker is
// durable and survives process restarts.
type OpOccStore interface {
	// CreateOpOcc stores a new op-occ.
	// Returns ErrOperationInProgress if the instance already has a
	// non-terminal op-occ.
	CreateOpOcc(ctx context.Context, opOcc *models.VnfLcmOpOcc) error

	// GetOpOcc returns ErrNotFound if the op-occ does not exist.
	GetOpOcc(ctx context.Context, id string) (*models.VnfLcmOpOcc, error)

	// UpdateOpOcc replaces an existing op-occ. Reaching a terminal state
	// clears the instance's active marker. A cancel request stored while
	// the op-occ runs survives writes that keep it running; opOcc is
	// updated to carry it.
	UpdateOpOcc(ctx context.Context, opOcc *models.VnfLcmOpOcc) error

	// RequestCancel sets the cancel flag and mode in one atomic step.
	// Returns ErrStateConflict unless the op-occ is PROCESSING or
	// ROLLING_BACK.
	RequestCancel(ctx context.Context, id, mode string) (*models.VnfLcmOpOcc, error)

	// ListOpOccs returns all op-occs ordered by start time.
	ListOpOccs(ctx context.Context) ([]*models.VnfLcmOpOcc, error)

	// ActiveOpOcc returns the non-terminal op-occ of an instance or ErrNotFound.
	ActiveOpOcc(ctx context.Context, instanceID string) (*models.VnfLcmOpOcc, error)

	// GetWork returns ErrNotFound if no work record exists.
	GetWork(ctx context.Context, opOccID string) (*OpOccWork, error)

	// PutWork creates or replaces a work record.
	PutWork(ctx context.Context, work *OpOccWork) error

	// DeleteWork removes a work record. Missing records are ignored.
	DeleteWork(ctx context.Context, opOccID string) error
}

// GrantStore persists grant audit records keyed by op-occ ID.
type GrantStore interface {
	// PutGrant creates or replaces the grant record of an op-occ.
	PutGrant(ctx context.Context, rec *GrantRecord) error

	// GetGrant returns ErrNotFound if no grant record exists.
	GetGrant(ctx context.Context, opOccID string) (*GrantRecord, error)

	// DeleteGrant removes the grant record. Missing records are ignored.
	DeleteGrant(ctx context.Context, opOccID string) error
}

// SubscriptionStore persists lifecycle change notification subscriptions.
type SubscriptionStore interface {
	// CreateSubscription stores a new subscription.
	// Returns ErrInvalidCallback if the callback URL is invalid.
	CreateSubscription(ctx context.Context, sub *models.LccnSubscription) error

	// GetSubscription returns ErrNotFound if the subscription does not exist.
	GetSubscription(ctx context.Context, id string) (*models.LccnSubscription, error)

	// DeleteSubscription returns ErrNotFound if the subscription does not exist.
	DeleteSubscription(ctx context.Context, id string) error

	// ListSubscriptions returns all subscriptions.
	ListSubscriptions(ctx context.Context) ([]*models.LccnSubscription, error)
}

// Store aggregates all record stores.
// Implementations must be safe for concurrent use.
type Store interface {
	InstanceStore
	OpOccStore
	GrantStore
	SubscriptionStore

	// Close closes the storage connection and releases resources.
	Close() error

	// Ping checks if the storage backend is available.
	// Returns ErrStorageUnavailable if the backend cannot be reached.
	Ping(ctx context.Context) error
}
