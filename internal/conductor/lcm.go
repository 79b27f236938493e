package conductor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/lock"
	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/observability"
	"github.com/piwi3910/vnfm/internal/storage"
)

// Instantiate starts an INSTANTIATE op-occ.
func (c *Conductor) Instantiate(ctx context.Context, instanceID string, req *models.InstantiateVnfRequest) (*models.VnfLcmOpOcc, error) {
	return c.start(ctx, instanceID, models.OpInstantiate, req, false, func(inst *models.VnfInstance) error {
		return c.validateInstantiate(ctx, inst, req)
	})
}

// Scale starts a SCALE op-occ.
func (c *Conductor) Scale(ctx context.Context, instanceID string, req *models.ScaleVnfRequest) (*models.VnfLcmOpOcc, error) {
	return c.start(ctx, instanceID, models.OpScale, req, false, func(inst *models.VnfInstance) error {
		return validateScale(inst, req)
	})
}

// Heal starts a HEAL op-occ requested by an operator.
func (c *Conductor) Heal(ctx context.Context, instanceID string, req *models.HealVnfRequest) (*models.VnfLcmOpOcc, error) {
	return c.heal(ctx, instanceID, req, false)
}

// AutoHeal starts a HEAL op-occ for the given VNFCs on behalf of the
// auto-heal trigger. vnfcIDs are vnfcInfo ids.
func (c *Conductor) AutoHeal(ctx context.Context, instanceID string, vnfcIDs []string) (*models.VnfLcmOpOcc, error) {
	req := &models.HealVnfRequest{
		VnfcInstanceID: vnfcIDs,
		Cause:          "auto-heal",
	}
	return c.heal(ctx, instanceID, req, true)
}

func (c *Conductor) heal(ctx context.Context, instanceID string, req *models.HealVnfRequest, automatic bool) (*models.VnfLcmOpOcc, error) {
	return c.start(ctx, instanceID, models.OpHeal, req, automatic, func(inst *models.VnfInstance) error {
		return validateHeal(inst, req)
	})
}

// Terminate starts a TERMINATE op-occ.
func (c *Conductor) Terminate(ctx context.Context, instanceID string, req *models.TerminateVnfRequest) (*models.VnfLcmOpOcc, error) {
	return c.start(ctx, instanceID, models.OpTerminate, req, false, func(inst *models.VnfInstance) error {
		return validateTerminate(inst, req)
	})
}

// ChangeExtConn starts a CHANGE_EXT_CONN op-occ.
func (c *Conductor) ChangeExtConn(ctx context.Context, instanceID string, req *models.ChangeExtVnfConnectivityRequest) (*models.VnfLcmOpOcc, error) {
	return c.start(ctx, instanceID, models.OpChangeExtConn, req, false, func(inst *models.VnfInstance) error {
		return validateChangeExtConn(inst, req)
	})
}

// ChangeVnfPkg starts a CHANGE_VNFPKG op-occ.
func (c *Conductor) ChangeVnfPkg(ctx context.Context, instanceID string, req *models.ChangeCurrentVnfPkgRequest) (*models.VnfLcmOpOcc, error) {
	return c.start(ctx, instanceID, models.OpChangeVnfPkg, req, false, func(inst *models.VnfInstance) error {
		return c.validateChangeVnfPkg(ctx, inst, req)
	})
}

// ModifyInfo starts a MODIFY_INFO op-occ.
func (c *Conductor) ModifyInfo(ctx context.Context, instanceID string, req *models.VnfInfoModificationRequest) (*models.VnfLcmOpOcc, error) {
	return c.start(ctx, instanceID, models.OpModifyInfo, req, false, func(inst *models.VnfInstance) error {
		return c.validateModifyInfo(ctx, inst, req)
	})
}

// start accepts an LCM request: it takes the instance lock, validates the
// request against the instance, records the op-occ in PROCESSING and
// hands the lock to the pipeline goroutine.
func (c *Conductor) start(ctx context.Context, instanceID string, op models.Operation, req interface{}, automatic bool, validate func(*models.VnfInstance) error) (*models.VnfLcmOpOcc, error) {
	token, err := c.acquire(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	launched := false
	defer func() {
		if !launched {
			c.release(token)
		}
	}()

	inst, err := c.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if err := c.checkIdle(ctx, instanceID); err != nil {
		return nil, err
	}
	if err := validate(inst); err != nil {
		return nil, err
	}

	params, err := models.ToParams(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	opOcc := c.newOpOcc(instanceID, op, params, automatic)

	work := &storage.OpOccWork{
		OpOccID:         opOcc.ID,
		PreOpInstance:   inst,
		WorkingInstance: inst.DeepCopy(),
		UpdatedAt:       c.now().UTC(),
	}
	if err := c.store.PutWork(ctx, work); err != nil {
		return nil, fmt.Errorf("failed to store work record: %w", err)
	}
	if err := c.store.CreateOpOcc(ctx, opOcc); err != nil {
		if derr := c.store.DeleteWork(ctx, opOcc.ID); derr != nil {
			c.logger.Warn("failed to delete orphaned work record", zap.String("vnf_lcm_op_occ_id", opOcc.ID), zap.Error(derr))
		}
		if errors.Is(err, storage.ErrOperationInProgress) {
			return nil, fmt.Errorf("vnf instance %s: %w", instanceID, ErrOtherOperationInProgress)
		}
		return nil, fmt.Errorf("failed to create op-occ: %w", err)
	}
	c.recordTransition(opOcc)

	c.logger.Info("op-occ accepted",
		append(observability.OpOccFields(opOcc.ID, instanceID, string(op)),
			zap.Bool("automatic", automatic),
		)...,
	)
	c.launch(opOcc.ID, token, c.forward)
	launched = true
	return opOcc, nil
}

// Retry re-runs a FAILED_TEMP op-occ from its first incomplete step.
func (c *Conductor) Retry(ctx context.Context, opOccID string) (*models.VnfLcmOpOcc, error) {
	opOcc, token, err := c.lockFailedTemp(ctx, opOccID)
	if err != nil {
		return nil, err
	}

	work, err := c.store.GetWork(ctx, opOccID)
	if err != nil {
		c.release(token)
		return nil, fmt.Errorf("failed to load work record: %w", err)
	}
	work.RollbackStep = 0
	if err := c.saveWork(ctx, work); err != nil {
		c.release(token)
		return nil, err
	}

	if err := c.transition(ctx, opOcc, models.StateProcessing); err != nil {
		c.release(token)
		return nil, err
	}
	c.logger.Info("op-occ retry accepted",
		observability.OpOccFields(opOcc.ID, opOcc.VnfInstanceID, string(opOcc.Operation))...,
	)
	c.launch(opOcc.ID, token, c.forward)
	return opOcc, nil
}

// Rollback undoes a FAILED_TEMP op-occ and restores the instance as it
// was before the operation.
func (c *Conductor) Rollback(ctx context.Context, opOccID string) (*models.VnfLcmOpOcc, error) {
	opOcc, token, err := c.lockFailedTemp(ctx, opOccID)
	if err != nil {
		return nil, err
	}
	if !c.rollbackable(opOcc) {
		c.release(token)
		return nil, fmt.Errorf("%s: %w", opOcc.Operation, ErrRollbackNotSupported)
	}

	if err := c.transition(ctx, opOcc, models.StateRollingBack); err != nil {
		c.release(token)
		return nil, err
	}
	c.logger.Info("op-occ rollback accepted",
		observability.OpOccFields(opOcc.ID, opOcc.VnfInstanceID, string(opOcc.Operation))...,
	)
	c.launch(opOcc.ID, token, c.backward)
	return opOcc, nil
}

// Fail marks a FAILED_TEMP op-occ as FAILED. No VIM or hook action is
// taken.
func (c *Conductor) Fail(ctx context.Context, opOccID string) (*models.VnfLcmOpOcc, error) {
	opOcc, token, err := c.lockFailedTemp(ctx, opOccID)
	if err != nil {
		return nil, err
	}
	defer c.release(token)

	if err := c.transition(ctx, opOcc, models.StateFailed); err != nil {
		return nil, err
	}
	if err := c.store.DeleteGrant(ctx, opOccID); err != nil {
		c.logger.Warn("failed to delete grant record", zap.String("vnf_lcm_op_occ_id", opOccID), zap.Error(err))
	}
	if err := c.store.DeleteWork(ctx, opOccID); err != nil {
		c.logger.Warn("failed to delete work record", zap.String("vnf_lcm_op_occ_id", opOccID), zap.Error(err))
	}

	c.logger.Info("op-occ failed",
		observability.OpOccFields(opOcc.ID, opOcc.VnfInstanceID, string(opOcc.Operation))...,
	)
	c.notify(ctx, opOcc)
	return opOcc, nil
}

// Cancel records a cancel request. The running step finishes; the
// pipeline stops before the next one and the op-occ goes to FAILED_TEMP.
func (c *Conductor) Cancel(ctx context.Context, opOccID, mode string) (*models.VnfLcmOpOcc, error) {
	opOcc, err := c.store.RequestCancel(ctx, opOccID, mode)
	if errors.Is(err, storage.ErrStateConflict) {
		return nil, fmt.Errorf("%w: %w", ErrNotProcessing, err)
	}
	if err != nil {
		return nil, err
	}
	c.logger.Info("op-occ cancel requested",
		append(observability.OpOccFields(opOcc.ID, opOcc.VnfInstanceID, string(opOcc.Operation)),
			zap.String("cancel_mode", mode))...,
	)
	return opOcc, nil
}

// lockFailedTemp takes the instance lock of a FAILED_TEMP op-occ.
func (c *Conductor) lockFailedTemp(ctx context.Context, opOccID string) (*models.VnfLcmOpOcc, *lock.Token, error) {
	opOcc, err := c.store.GetOpOcc(ctx, opOccID)
	if err != nil {
		return nil, nil, err
	}
	token, err := c.acquire(ctx, opOcc.VnfInstanceID)
	if err != nil {
		return nil, nil, err
	}

	// Re-read under the lock; the state may have moved meanwhile.
	opOcc, err = c.store.GetOpOcc(ctx, opOccID)
	if err != nil {
		c.release(token)
		return nil, nil, err
	}
	if opOcc.OperationState != models.StateFailedTemp {
		c.release(token)
		return nil, nil, fmt.Errorf("op-occ %s is %s: %w", opOccID, opOcc.OperationState, ErrNotFailedTemp)
	}
	return opOcc, token, nil
}

func (c *Conductor) rollbackable(opOcc *models.VnfLcmOpOcc) bool {
	h, ok := c.ops[opOcc.Operation]
	if !ok || h.rollback == nil {
		return false
	}
	return !(opOcc.Operation == models.OpScale && opOcc.ScaleType() == models.ScaleIn)
}
