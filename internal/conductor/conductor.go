// Package conductor runs VNF lifecycle management operations. It owns the
// op-occ state machine: an accepted request becomes an op-occ in
// PROCESSING whose pipeline (grant, start hook, infra change, end hook,
// commit) runs in its own goroutine under the per-instance lock. Failed
// op-occs wait in FAILED_TEMP for retry, rollback or fail.
package conductor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/coordination"
	"github.com/piwi3910/vnfm/internal/grant"
	"github.com/piwi3910/vnfm/internal/infra"
	"github.com/piwi3910/vnfm/internal/lock"
	"github.com/piwi3910/vnfm/internal/mgmtdriver"
	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/observability"
	"github.com/piwi3910/vnfm/internal/storage"
	"github.com/piwi3910/vnfm/internal/vnfpkg"
)

var (
	// ErrInvalidRequest is returned when request parameters fail validation.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInstanceInstantiated is returned for operations that need a
	// NOT_INSTANTIATED instance.
	ErrInstanceInstantiated = errors.New("vnf instance is instantiated")

	// ErrInstanceNotInstantiated is returned for operations that need an
	// INSTANTIATED instance.
	ErrInstanceNotInstantiated = errors.New("vnf instance is not instantiated")

	// ErrOtherOperationInProgress is returned when the instance is locked
	// or already has a non-terminal op-occ.
	ErrOtherOperationInProgress = errors.New("other LCM operation is in progress")

	// ErrNotFailedTemp is returned when retry, rollback or fail targets an
	// op-occ that is not FAILED_TEMP.
	ErrNotFailedTemp = errors.New("op-occ is not FAILED_TEMP")

	// ErrNotProcessing is returned when cancel targets an op-occ that is
	// not running.
	ErrNotProcessing = errors.New("op-occ is not PROCESSING or ROLLING_BACK")

	// ErrRollbackNotSupported is returned for operations without an inverse.
	ErrRollbackNotSupported = errors.New("rollback is not supported")

	// ErrCancelled is recorded as the op-occ error when a pending cancel
	// stopped the pipeline.
	ErrCancelled = errors.New("operation cancelled")
)

const (
	// DefaultLockRefresh is the lock refresh interval while a pipeline runs.
	DefaultLockRefresh = 10 * time.Second

	// DefaultCoordinationAction is used when vdu_params do not name one.
	DefaultCoordinationAction = "vnfc_update"
)

// Publisher sends lifecycle change notifications.
type Publisher interface {
	NotifyOpOcc(ctx context.Context, opOcc *models.VnfLcmOpOcc, inst *models.VnfInstance) error
	NotifyInstanceCreated(ctx context.Context, inst *models.VnfInstance) error
	NotifyInstanceDeleted(ctx context.Context, inst *models.VnfInstance) error
}

// Config holds the collaborators of a Conductor.
type Config struct {
	// Store persists instances, op-occs, work records and grants.
	Store storage.Store

	// Locker serialises operations per instance.
	Locker lock.Locker

	// Grants obtains grants from the NFVO or the local grant authority.
	Grants grant.Requester

	// Coordinator is consulted between VNFCs of a rolling CHANGE_VNFPKG.
	// Optional when no request configures coordination.
	Coordinator coordination.Coordinator

	// CoordinationEndpoint is used when vdu_params do not name an endpoint.
	CoordinationEndpoint string

	// Hooks runs the mgmt-driver hooks of VNF packages.
	Hooks mgmtdriver.Invoker

	// Catalog resolves VNF packages by vnfdId.
	Catalog vnfpkg.Catalog

	// Infra applies resource changes on the VIM.
	Infra *infra.Manager

	// Publisher sends notifications. Optional.
	Publisher Publisher

	// Endpoint is the externally visible VNFM URI used in _links.
	Endpoint string

	// Logger is the logger to use.
	Logger *zap.Logger

	// Metrics records op-occ metrics. Optional.
	Metrics *observability.Metrics

	// LockRefresh is the lock keep-alive interval.
	LockRefresh time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Conductor accepts LCM requests and drives op-occs through their states.
type Conductor struct {
	store       storage.Store
	locker      lock.Locker
	grants      grant.Requester
	coordinator coordination.Coordinator
	coordURL    string
	hooks       mgmtdriver.Invoker
	catalog     vnfpkg.Catalog
	infra       *infra.Manager
	publisher   Publisher
	endpoint    string
	logger      *zap.Logger
	metrics     *observability.Metrics
	lockRefresh time.Duration
	now         func() time.Time
	ops         map[models.Operation]opHandler

	// ctx bounds every pipeline; cancelled on Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Conductor.
func New(cfg *Config) (*Conductor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Locker == nil {
		return nil, fmt.Errorf("locker cannot be nil")
	}
	if cfg.Grants == nil {
		return nil, fmt.Errorf("grant requester cannot be nil")
	}
	if cfg.Hooks == nil {
		return nil, fmt.Errorf("hook invoker cannot be nil")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog cannot be nil")
	}
	if cfg.Infra == nil {
		return nil, fmt.Errorf("infra manager cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	refresh := cfg.LockRefresh
	if refresh <= 0 {
		refresh = DefaultLockRefresh
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conductor{
		store:       cfg.Store,
		locker:      cfg.Locker,
		grants:      cfg.Grants,
		coordinator: cfg.Coordinator,
		coordURL:    cfg.CoordinationEndpoint,
		hooks:       cfg.Hooks,
		catalog:     cfg.Catalog,
		infra:       cfg.Infra,
		publisher:   cfg.Publisher,
		endpoint:    cfg.Endpoint,
		logger:      cfg.Logger.With(zap.String("component", "conductor")),
		metrics:     cfg.Metrics,
		lockRefresh: refresh,
		now:         now,
		ctx:         ctx,
		cancel:      cancel,
	}
	c.ops = c.handlers()
	return c, nil
}

// Wait blocks until every running pipeline has returned.
func (c *Conductor) Wait() {
	c.wg.Wait()
}

// Shutdown cancels running pipelines and waits for them. Op-occs cut
// short this way are moved to FAILED_TEMP by Recover on the next start.
func (c *Conductor) Shutdown(ctx context.Context) error {
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recover moves op-occs left in PROCESSING or ROLLING_BACK by a dead
// process to FAILED_TEMP. It must run before requests are accepted.
func (c *Conductor) Recover(ctx context.Context) (int, error) {
	opOccs, err := c.store.ListOpOccs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list op-occs: %w", err)
	}

	recovered := 0
	for _, opOcc := range opOccs {
		if opOcc.OperationState != models.StateProcessing && opOcc.OperationState != models.StateRollingBack {
			continue
		}
		opOcc.Error = &models.ProblemDetails{
			Status: 500,
			Title:  "Internal Server Error",
			Detail: "process restarted",
		}
		if work, err := c.store.GetWork(ctx, opOcc.ID); err == nil && len(work.UserScriptErrHandlingData) > 0 {
			opOcc.Error.UserScriptErrHandlingData = work.UserScriptErrHandlingData
		}
		if err := c.transition(ctx, opOcc, models.StateFailedTemp); err != nil {
			return recovered, err
		}
		recovered++
		c.logger.Warn("recovered interrupted op-occ",
			zap.String("vnf_lcm_op_occ_id", opOcc.ID),
			zap.String("vnf_instance_id", opOcc.VnfInstanceID),
			zap.String("operation", string(opOcc.Operation)),
		)
		c.notify(ctx, opOcc)
	}
	return recovered, nil
}

// acquire takes the instance lock, mapping contention to
// ErrOtherOperationInProgress.
func (c *Conductor) acquire(ctx context.Context, instanceID string) (*lock.Token, error) {
	token, err := c.locker.Acquire(ctx, instanceID)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, fmt.Errorf("vnf instance %s: %w", instanceID, ErrOtherOperationInProgress)
		}
		return nil, fmt.Errorf("failed to lock vnf instance %s: %w", instanceID, err)
	}
	return token, nil
}

func (c *Conductor) release(token *lock.Token) {
	// The request context may be gone by now.
	if err := c.locker.Release(context.Background(), token); err != nil {
		c.logger.Warn("failed to release instance lock",
			zap.String("vnf_instance_id", token.InstanceID),
			zap.Error(err),
		)
	}
}

// checkIdle fails when the instance already has a non-terminal op-occ.
func (c *Conductor) checkIdle(ctx context.Context, instanceID string) error {
	active, err := c.store.ActiveOpOcc(ctx, instanceID)
	if err == nil {
		return fmt.Errorf("vnf instance %s has op-occ %s in %s: %w",
			instanceID, active.ID, active.OperationState, ErrOtherOperationInProgress)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to check active op-occ: %w", err)
	}
	return nil
}

func (c *Conductor) newOpOcc(instanceID string, op models.Operation, params map[string]interface{}, automatic bool) *models.VnfLcmOpOcc {
	now := c.now().UTC()
	return &models.VnfLcmOpOcc{
		ID:                    uuid.New().String(),
		OperationState:        models.StateProcessing,
		StateEnteredTime:      now,
		StartTime:             now,
		VnfInstanceID:         instanceID,
		Operation:             op,
		IsAutomaticInvocation: automatic,
		OperationParams:       params,
	}
}

// transition moves opOcc to state and persists it.
func (c *Conductor) transition(ctx context.Context, opOcc *models.VnfLcmOpOcc, state models.OperationState) error {
	opOcc.OperationState = state
	opOcc.StateEnteredTime = c.now().UTC()
	if err := c.store.UpdateOpOcc(ctx, opOcc); err != nil {
		return fmt.Errorf("failed to update op-occ %s: %w", opOcc.ID, err)
	}
	c.recordTransition(opOcc)
	return nil
}

func (c *Conductor) recordTransition(opOcc *models.VnfLcmOpOcc) {
	if c.metrics != nil {
		c.metrics.RecordOpOccTransition(string(opOcc.Operation), string(opOcc.OperationState))
	}
}

// notify publishes the op-occ with the instance it refers to. Failures
// are logged; notification delivery never fails an operation.
func (c *Conductor) notify(ctx context.Context, opOcc *models.VnfLcmOpOcc) {
	if c.publisher == nil {
		return
	}
	inst, err := c.store.GetInstance(ctx, opOcc.VnfInstanceID)
	if err != nil {
		c.logger.Warn("failed to load instance for notification",
			zap.String("vnf_lcm_op_occ_id", opOcc.ID),
			zap.Error(err),
		)
		return
	}
	if err := c.publisher.NotifyOpOcc(ctx, opOcc, inst); err != nil {
		c.logger.Warn("failed to publish op-occ notification",
			zap.String("vnf_lcm_op_occ_id", opOcc.ID),
			zap.String("operation_state", string(opOcc.OperationState)),
			zap.Error(err),
		)
	}
}

// GetOpOcc returns an op-occ.
func (c *Conductor) GetOpOcc(ctx context.Context, id string) (*models.VnfLcmOpOcc, error) {
	return c.store.GetOpOcc(ctx, id)
}

// ListOpOccs returns all op-occs ordered by start time.
func (c *Conductor) ListOpOccs(ctx context.Context) ([]*models.VnfLcmOpOcc, error) {
	return c.store.ListOpOccs(ctx)
}
