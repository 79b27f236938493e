package conductor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/asyncpoll"
	"github.com/piwi3910/vnfm/internal/coordination"
	"github.com/piwi3910/vnfm/internal/infra"
	"github.com/piwi3910/vnfm/internal/lock"
	"github.com/piwi3910/vnfm/internal/mgmtdriver"
	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/observability"
	"github.com/piwi3910/vnfm/internal/storage"
	"github.com/piwi3910/vnfm/internal/vnfpkg"
)

// Forward pipeline steps, persisted as OpOccWork.CompletedStep.
const (
	stepGrant = iota + 1
	stepStartHook
	stepProcess
	stepEndHook
)

// Rollback steps, persisted as OpOccWork.RollbackStep.
const (
	rollbackStepStartHook = iota + 1
	rollbackStepInfra
	rollbackStepEndHook
)

// run is the in-memory state of one pipeline execution.
type run struct {
	opOcc *models.VnfLcmOpOcc
	work  *storage.OpOccWork
	hooks mgmtdriver.HookSet

	// pkg is the package of the instance before the operation; dst is
	// the target package of CHANGE_VNFPKG.
	pkg *vnfpkg.Package
	dst *vnfpkg.Package

	grantReq *models.GrantRequest
	grant    *models.Grant
}

type step struct {
	id   int
	name string
	fn   func(ctx context.Context, r *run) error
}

func (r *run) pre() *models.VnfInstance {
	return r.work.PreOpInstance
}

// inst is the working copy that is committed on COMPLETED.
func (r *run) inst() *models.VnfInstance {
	return r.work.WorkingInstance
}

func (r *run) decode(out interface{}) error {
	return models.DecodeParams(r.opOcc.OperationParams, out)
}

// flavourID is the deployment flavour whose hooks run.
func (r *run) flavourID() string {
	if r.opOcc.Operation == models.OpInstantiate {
		id, _ := r.opOcc.OperationParams["flavourId"].(string)
		return id
	}
	if info := r.pre().InstantiatedVnfInfo; info != nil {
		return info.FlavourID
	}
	return ""
}

func (r *run) hookPackage() *vnfpkg.Package {
	if r.dst != nil {
		return r.dst
	}
	return r.pkg
}

func (r *run) logger(base *zap.Logger) *zap.Logger {
	return base.With(observability.OpOccFields(r.opOcc.ID, r.opOcc.VnfInstanceID, string(r.opOcc.Operation))...)
}

// launch runs body in its own goroutine. The instance lock is kept alive
// while body runs and released when it returns.
func (c *Conductor) launch(opOccID string, token *lock.Token, body func(ctx context.Context, opOcc *models.VnfLcmOpOcc)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.release(token)

		ctx := c.ctx
		stop := lock.KeepAlive(ctx, c.locker, token, c.lockRefresh, c.logger)
		defer stop()

		opOcc, err := c.store.GetOpOcc(ctx, opOccID)
		if err != nil {
			c.logger.Error("failed to load op-occ",
				zap.String("vnf_lcm_op_occ_id", opOccID),
				zap.Error(err),
			)
			return
		}

		if c.metrics != nil {
			c.metrics.OpOccsInFlight.Inc()
			defer c.metrics.OpOccsInFlight.Dec()
		}

		start := time.Now()
		c.notify(ctx, opOcc)
		body(ctx, opOcc)

		duration := time.Since(start)
		if c.metrics != nil {
			c.metrics.RecordOpOccRun(string(opOcc.Operation), string(opOcc.OperationState), duration)
		}
		c.logger.Info("op-occ run finished",
			append(observability.OpOccFields(opOcc.ID, opOcc.VnfInstanceID, string(opOcc.Operation)),
				zap.String("operation_state", string(opOcc.OperationState)),
				zap.Duration("duration", duration),
			)...,
		)
	}()
}

// loadRun rebuilds the pipeline state from the store. The returned run
// is usable for suspend even when err is set.
func (c *Conductor) loadRun(ctx context.Context, opOcc *models.VnfLcmOpOcc) (*run, error) {
	r := &run{opOcc: opOcc}

	work, err := c.store.GetWork(ctx, opOcc.ID)
	if err != nil {
		return r, fmt.Errorf("failed to load work record: %w", err)
	}
	if work.WorkingInstance == nil {
		work.WorkingInstance = work.PreOpInstance.DeepCopy()
	}
	r.work = work

	if r.hooks, err = mgmtdriver.HooksFor(opOcc.Operation); err != nil {
		return r, err
	}
	if r.pkg, err = c.catalog.Package(ctx, work.PreOpInstance.VnfdID); err != nil {
		return r, err
	}
	if opOcc.Operation == models.OpChangeVnfPkg {
		dstID, _ := opOcc.OperationParams["vnfdId"].(string)
		if r.dst, err = c.catalog.Package(ctx, dstID); err != nil {
			return r, err
		}
	}

	rec, err := c.store.GetGrant(ctx, opOcc.ID)
	switch {
	case err == nil:
		r.grantReq, r.grant = rec.Request, rec.Grant
	case !errors.Is(err, storage.ErrNotFound):
		return r, fmt.Errorf("failed to load grant record: %w", err)
	}
	return r, nil
}

// forward runs the pipeline from the first step the work record does not
// mark as completed.
func (c *Conductor) forward(ctx context.Context, opOcc *models.VnfLcmOpOcc) {
	r, err := c.loadRun(ctx, opOcc)
	if err != nil {
		c.suspend(ctx, r, err)
		return
	}

	h := c.ops[opOcc.Operation]
	steps := []step{
		{stepGrant, "grant", c.grantStep},
		{stepStartHook, r.hooks.Start, func(ctx context.Context, r *run) error { return c.runHook(ctx, r, r.hooks.Start) }},
		{stepProcess, "process", h.process},
		{stepEndHook, r.hooks.End, func(ctx context.Context, r *run) error { return c.runHook(ctx, r, r.hooks.End) }},
	}
	if err := c.runSteps(ctx, r, steps, &r.work.CompletedStep); err != nil {
		c.suspend(ctx, r, err)
		return
	}
	c.commit(ctx, r)
}

// backward rolls the operation back and restores the pre-operation
// instance.
func (c *Conductor) backward(ctx context.Context, opOcc *models.VnfLcmOpOcc) {
	r, err := c.loadRun(ctx, opOcc)
	if err != nil {
		c.suspend(ctx, r, err)
		return
	}

	h := c.ops[opOcc.Operation]
	steps := []step{
		{rollbackStepStartHook, r.hooks.RollbackStart, func(ctx context.Context, r *run) error { return c.runHook(ctx, r, r.hooks.RollbackStart) }},
		{rollbackStepInfra, "rollback", func(ctx context.Context, r *run) error {
			// Nothing reached the VIM before the start hook completed.
			if r.work.CompletedStep < stepStartHook {
				return nil
			}
			return h.rollback(ctx, r)
		}},
		{rollbackStepEndHook, r.hooks.RollbackEnd, func(ctx context.Context, r *run) error { return c.runHook(ctx, r, r.hooks.RollbackEnd) }},
	}
	if err := c.runSteps(ctx, r, steps, &r.work.RollbackStep); err != nil {
		c.suspend(ctx, r, err)
		return
	}

	if err := c.store.UpdateInstance(ctx, r.pre()); err != nil {
		c.suspend(ctx, r, fmt.Errorf("failed to restore vnf instance: %w", err))
		return
	}
	r.opOcc.IsCancelPending = false
	if err := c.transition(ctx, r.opOcc, models.StateRolledBack); err != nil {
		r.logger(c.logger).Error("failed to mark op-occ rolled back", zap.Error(err))
		return
	}
	c.dropWork(ctx, r)
	r.logger(c.logger).Info("op-occ rolled back")
	c.notify(ctx, r.opOcc)
}

// runSteps executes the steps past *progress, persisting progress after
// each one. A pending cancel stops the run before the next step.
func (c *Conductor) runSteps(ctx context.Context, r *run, steps []step, progress *int) error {
	logger := r.logger(c.logger)
	for _, s := range steps {
		if *progress >= s.id {
			continue
		}
		if err := c.checkCancel(ctx, r); err != nil {
			return err
		}

		logger.Debug("running step", zap.String("step", s.name))
		if err := s.fn(ctx, r); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		*progress = s.id
		if err := c.saveWork(ctx, r.work); err != nil {
			return err
		}
	}
	return nil
}

// grantStep folds request data into the working instance and obtains the
// grant. A grant obtained by an earlier attempt is reused.
func (c *Conductor) grantStep(ctx context.Context, r *run) error {
	h := c.ops[r.opOcc.Operation]
	if h.prepare != nil {
		if err := h.prepare(ctx, r); err != nil {
			return err
		}
	}
	if h.grant == nil {
		return nil
	}
	if r.grant != nil {
		return c.applyGrant(ctx, r)
	}

	req := &models.GrantRequest{
		VnfInstanceID:         r.opOcc.VnfInstanceID,
		VnfLcmOpOccID:         r.opOcc.ID,
		VnfdID:                r.pre().VnfdID,
		FlavourID:             r.flavourID(),
		Operation:             r.opOcc.Operation,
		IsAutomaticInvocation: r.opOcc.IsAutomaticInvocation,
		Links: models.GrantRequestLinks{
			VnfLcmOpOcc: models.Link{Href: models.OpOccHref(c.endpoint, r.opOcc.ID)},
			VnfInstance: models.Link{Href: models.InstanceHref(c.endpoint, r.opOcc.VnfInstanceID)},
		},
	}
	if params, ok := r.opOcc.OperationParams["additionalParams"].(map[string]interface{}); ok {
		req.AdditionalParams = params
	}
	if err := h.grant(ctx, r, req); err != nil {
		return err
	}

	rec := &storage.GrantRecord{
		OpOccID:   r.opOcc.ID,
		Request:   req,
		CreatedAt: c.now().UTC(),
	}
	if err := c.store.PutGrant(ctx, rec); err != nil {
		return fmt.Errorf("failed to store grant request: %w", err)
	}

	g, err := c.grants.RequestGrant(ctx, req)
	if err != nil {
		return err
	}
	rec.Grant = g
	if err := c.store.PutGrant(ctx, rec); err != nil {
		return fmt.Errorf("failed to store grant: %w", err)
	}
	r.grantReq, r.grant = req, g

	r.logger(c.logger).Info("grant obtained", zap.String("grant_id", g.ID))
	return c.applyGrant(ctx, r)
}

func (c *Conductor) applyGrant(ctx context.Context, r *run) error {
	r.opOcc.GrantID = r.grant.ID
	if err := c.store.UpdateOpOcc(ctx, r.opOcc); err != nil {
		return fmt.Errorf("failed to record grant id: %w", err)
	}
	if len(r.grant.VimConnectionInfo) > 0 {
		inst := r.inst()
		if inst.VimConnectionInfo == nil {
			inst.VimConnectionInfo = make(map[string]models.VimConnectionInfo, len(r.grant.VimConnectionInfo))
		}
		for id, vim := range r.grant.VimConnectionInfo {
			inst.VimConnectionInfo[id] = vim
		}
	}
	return nil
}

// runHook runs one mgmt-driver hook. Error data reported by a failing
// hook is kept in the work record and handed to the next attempt.
func (c *Conductor) runHook(ctx context.Context, r *run, hook string) error {
	flavourID := r.flavourID()
	if flavourID == "" {
		return nil
	}

	in := &mgmtdriver.Input{
		Request:                   r.opOcc.OperationParams,
		VnfInstance:               r.inst(),
		GrantRequest:              r.grantReq,
		GrantResponse:             r.grant,
		TmpCsarDir:                r.pkg.Dir,
		UserScriptErrHandlingData: r.work.UserScriptErrHandlingData,
	}
	if r.dst != nil {
		in.NewCsarDir = r.dst.Dir
	}

	out, err := c.hooks.Run(ctx, r.hookPackage(), flavourID, hook, in)
	if err != nil {
		var execErr *mgmtdriver.ExecutionError
		if errors.As(err, &execErr) && len(execErr.UserScriptErrHandlingData) > 0 {
			r.work.UserScriptErrHandlingData = mgmtdriver.MergeErrData(r.work.UserScriptErrHandlingData, execErr.UserScriptErrHandlingData)
			if serr := c.saveWork(ctx, r.work); serr != nil {
				r.logger(c.logger).Warn("failed to save user script error data", zap.Error(serr))
			}
		}
		return err
	}
	if out != nil {
		return mgmtdriver.MergeFragment(r.inst(), out.VnfInstance)
	}
	return nil
}

// commit persists the working instance and completes the op-occ.
func (c *Conductor) commit(ctx context.Context, r *run) {
	opOcc := r.opOcc
	inst := r.inst()

	opOcc.ResourceChanges = resourceChanges(r.pre(), inst)
	switch opOcc.Operation {
	case models.OpModifyInfo, models.OpChangeVnfPkg:
		changed, err := changedInfo(r.pre(), inst)
		if err != nil {
			c.suspend(ctx, r, err)
			return
		}
		opOcc.ChangedInfo = changed
	}
	switch opOcc.Operation {
	case models.OpInstantiate, models.OpChangeExtConn, models.OpChangeVnfPkg:
		if info := inst.InstantiatedVnfInfo; info != nil {
			opOcc.ChangedExtConnectivity = info.ExtVirtualLinkInfo
		}
	}

	if err := c.store.UpdateInstance(ctx, inst); err != nil {
		c.suspend(ctx, r, fmt.Errorf("failed to commit vnf instance: %w", err))
		return
	}
	opOcc.Error = nil
	opOcc.IsCancelPending = false
	if err := c.transition(ctx, opOcc, models.StateCompleted); err != nil {
		r.logger(c.logger).Error("failed to complete op-occ", zap.Error(err))
		return
	}
	if err := c.store.DeleteWork(ctx, opOcc.ID); err != nil {
		r.logger(c.logger).Warn("failed to delete work record", zap.Error(err))
	}
	r.logger(c.logger).Info("op-occ completed")
	c.notify(ctx, opOcc)
}

// suspend moves the op-occ to FAILED_TEMP with cause as its error.
func (c *Conductor) suspend(ctx context.Context, r *run, cause error) {
	// Shutdown cancels ctx; the failure must still be recorded.
	ctx = context.WithoutCancel(ctx)

	opOcc := r.opOcc
	p := problem(cause)
	if r.work != nil && len(r.work.UserScriptErrHandlingData) > 0 {
		p.UserScriptErrHandlingData = r.work.UserScriptErrHandlingData
	}
	opOcc.Error = p
	opOcc.IsCancelPending = false

	logger := r.logger(c.logger)
	if err := c.transition(ctx, opOcc, models.StateFailedTemp); err != nil {
		logger.Error("failed to suspend op-occ", zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	logger.Warn("op-occ failed temporarily", zap.Error(cause))
	c.notify(ctx, opOcc)
}

func (c *Conductor) checkCancel(ctx context.Context, r *run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cur, err := c.store.GetOpOcc(ctx, r.opOcc.ID)
	if err != nil {
		return fmt.Errorf("failed to reload op-occ: %w", err)
	}
	if cur.IsCancelPending {
		r.opOcc.IsCancelPending = true
		r.opOcc.CancelMode = cur.CancelMode
		return ErrCancelled
	}
	return nil
}

func (c *Conductor) saveWork(ctx context.Context, work *storage.OpOccWork) error {
	work.UpdatedAt = c.now().UTC()
	if err := c.store.PutWork(ctx, work); err != nil {
		return fmt.Errorf("failed to save work record: %w", err)
	}
	return nil
}

func (c *Conductor) dropWork(ctx context.Context, r *run) {
	if err := c.store.DeleteWork(ctx, r.opOcc.ID); err != nil {
		r.logger(c.logger).Warn("failed to delete work record", zap.Error(err))
	}
}

// converge applies the stack of inst, recreating the heal resources, and
// records the resulting VIM resources in inst.
func (c *Conductor) converge(ctx context.Context, inst *models.VnfInstance, b *stackBuilder, heal []string) error {
	info := inst.InstantiatedVnfInfo
	spec, err := b.build(info)
	if err != nil {
		return err
	}

	vim, vimID := selectVim(inst)
	var res map[string]infra.Resource
	if len(heal) > 0 {
		res, err = c.infra.Heal(ctx, vim, spec, heal)
	} else {
		res, err = c.infra.Apply(ctx, vim, spec)
	}
	if err != nil {
		return err
	}
	return fillResources(info, res, vimID)
}

// problem converts a pipeline error to the op-occ error.
func problem(err error) *models.ProblemDetails {
	p := &models.ProblemDetails{
		Status: http.StatusInternalServerError,
		Title:  http.StatusText(http.StatusInternalServerError),
		Detail: err.Error(),
	}

	var execErr *mgmtdriver.ExecutionError
	var statusErr *asyncpoll.StatusError
	switch {
	case errors.As(err, &execErr):
		p.Status = http.StatusUnprocessableEntity
		p.Title = "Mgmt driver execution failed"
		p.Detail = execErr.Error()
	case errors.Is(err, infra.ErrStackFailed):
		p.Status = http.StatusUnprocessableEntity
		p.Title = "Stack operation failed"
	case errors.Is(err, coordination.ErrAborted):
		p.Status = http.StatusUnprocessableEntity
		p.Title = "Coordination aborted"
	case errors.As(err, &statusErr):
		p.Status = statusErr.StatusCode
		p.Title = http.StatusText(statusErr.StatusCode)
	case errors.Is(err, ErrCancelled):
		p.Status = http.StatusConflict
		p.Title = "Operation cancelled"
	}
	return p
}
