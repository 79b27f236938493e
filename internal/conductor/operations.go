package conductor

import (
	"context"
	"fmt"
	"sort"

	"github.com/piwi3910/vnfm/internal/coordination"
	"github.com/piwi3910/vnfm/internal/infra"
	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/vnfpkg"
)

// opHandler holds the operation-specific parts of the pipeline.
type opHandler struct {
	// prepare folds request data needed before the grant into the
	// working instance. Optional.
	prepare func(ctx context.Context, r *run) error

	// grant fills the resource part of the grant request. Nil means the
	// operation is not granted.
	grant func(ctx context.Context, r *run, req *models.GrantRequest) error

	// process realises the change on the VIM and in the working instance.
	process func(ctx context.Context, r *run) error

	// rollback undoes process on the VIM. Nil means no inverse exists.
	rollback func(ctx context.Context, r *run) error
}

func (c *Conductor) handlers() map[models.Operation]opHandler {
	return map[models.Operation]opHandler{
		models.OpInstantiate: {
			prepare:  c.prepareInstantiate,
			grant:    c.grantInstantiate,
			process:  c.processInstantiate,
			rollback: c.rollbackInstantiate,
		},
		models.OpScale: {
			grant:    c.grantScale,
			process:  c.processScale,
			rollback: c.rollbackToPre,
		},
		models.OpHeal: {
			grant:   c.grantHeal,
			process: c.processHeal,
		},
		models.OpTerminate: {
			grant:   c.grantTerminate,
			process: c.processTerminate,
		},
		models.OpChangeExtConn: {
			prepare:  prepareVimConnections,
			grant:    c.grantChangeExtConn,
			process:  c.processChangeExtConn,
			rollback: c.rollbackToPre,
		},
		models.OpChangeVnfPkg: {
			prepare:  prepareVimConnections,
			grant:    c.grantChangeVnfPkg,
			process:  c.processChangeVnfPkg,
			rollback: c.rollbackChangeVnfPkg,
		},
		models.OpModifyInfo: {
			process:  c.processModifyInfo,
			rollback: func(context.Context, *run) error { return nil },
		},
	}
}

// INSTANTIATE

func (c *Conductor) prepareInstantiate(_ context.Context, r *run) error {
	var req models.InstantiateVnfRequest
	if err := r.decode(&req); err != nil {
		return err
	}
	inst := r.inst()
	inst.VimConnectionInfo = overlayVims(inst.VimConnectionInfo, req.VimConnectionInfo)
	if req.Extensions != nil {
		inst.Extensions = req.Extensions
	}
	if req.VnfConfigurableProperties != nil {
		inst.VnfConfigurableProperties = req.VnfConfigurableProperties
	}
	return nil
}

// planInstantiate lays out the instance at the requested level. The
// layout depends only on the request and the op-occ, so every attempt
// plans the same VNFCs.
func (c *Conductor) planInstantiate(r *run) (*models.InstantiatedVnfInfo, *models.InstantiateVnfRequest, error) {
	var req models.InstantiateVnfRequest
	if err := r.decode(&req); err != nil {
		return nil, nil, err
	}
	flavour, err := r.pkg.VNFD.Flavour(req.FlavourID)
	if err != nil {
		return nil, nil, err
	}
	level, err := flavour.Level(req.InstantiationLevelID)
	if err != nil {
		return nil, nil, err
	}

	vnfdID := r.pre().VnfdID
	info := &models.InstantiatedVnfInfo{
		FlavourID: req.FlavourID,
		VnfState:  models.VnfStarted,
	}
	for _, aid := range flavour.AspectIDs() {
		info.ScaleStatus = append(info.ScaleStatus, models.ScaleInfo{
			AspectID:   aid,
			VnfdID:     vnfdID,
			ScaleLevel: level.ScaleLevels[aid],
		})
		info.MaxScaleLevels = append(info.MaxScaleLevels, models.ScaleInfo{
			AspectID:   aid,
			VnfdID:     vnfdID,
			ScaleLevel: flavour.ScalingAspects[aid].MaxScaleLevel,
		})
	}
	for _, vl := range flavour.VirtualLinks {
		info.VnfVirtualLinkResourceInfo = append(info.VnfVirtualLinkResourceInfo, models.VnfVirtualLinkResourceInfo{
			ID:                   vl,
			VnfVirtualLinkDescID: vl,
		})
	}
	for _, vduID := range flavour.VduIDs() {
		vdu := flavour.Vdus[vduID]
		count, ok := level.VduCounts[vduID]
		if !ok {
			count = vdu.MinCount
		}
		for n := 0; n < count; n++ {
			addVnfc(info, r.opOcc, vdu, n)
		}
	}
	bindExtLinks(info, req.ExtVirtualLinks)
	return info, &req, nil
}

func (c *Conductor) grantInstantiate(_ context.Context, r *run, req *models.GrantRequest) error {
	info, ireq, err := c.planInstantiate(r)
	if err != nil {
		return err
	}
	req.InstantiationLevelID = ireq.InstantiationLevelID
	req.AddResources = resourceDefs(info, info.VnfcResourceInfo, true)
	return nil
}

func (c *Conductor) processInstantiate(ctx context.Context, r *run) error {
	info, _, err := c.planInstantiate(r)
	if err != nil {
		return err
	}
	inst := r.inst()
	b, err := newStackBuilder(inst.ID, r.pkg, info.FlavourID, r.grant)
	if err != nil {
		return err
	}

	inst.InstantiatedVnfInfo = info
	if err := c.converge(ctx, inst, b, nil); err != nil {
		return err
	}
	inst.InstantiationState = models.Instantiated
	return nil
}

func (c *Conductor) rollbackInstantiate(ctx context.Context, r *run) error {
	inst := r.inst()
	vim, _ := selectVim(inst)
	return c.infra.Delete(ctx, vim, infra.StackName(inst.ID))
}

// SCALE

// planScale returns the scaled layout with the VNFCs added or removed.
func (c *Conductor) planScale(r *run) (*models.InstantiatedVnfInfo, []models.VnfcResourceInfo, error) {
	var req models.ScaleVnfRequest
	if err := r.decode(&req); err != nil {
		return nil, nil, err
	}
	info := r.inst().DeepCopy().InstantiatedVnfInfo
	if info == nil {
		return nil, nil, ErrInstanceNotInstantiated
	}
	flavour, err := r.pkg.VNFD.Flavour(info.FlavourID)
	if err != nil {
		return nil, nil, err
	}
	aspect, err := flavour.Aspect(req.AspectID)
	if err != nil {
		return nil, nil, err
	}

	steps := req.Steps()
	vduIDs := make([]string, 0, len(aspect.Deltas))
	for vduID := range aspect.Deltas {
		vduIDs = append(vduIDs, vduID)
	}
	sort.Strings(vduIDs)

	var affected []models.VnfcResourceInfo
	for _, vduID := range vduIDs {
		count := aspect.Deltas[vduID] * steps
		if req.Type == models.ScaleOut {
			for n := 0; n < count; n++ {
				affected = append(affected, addVnfc(info, r.opOcc, flavour.Vdus[vduID], n))
			}
			continue
		}
		affected = append(affected, newestVnfcs(info, vduID, count)...)
	}

	level, _ := info.ScaleLevel(req.AspectID)
	if req.Type == models.ScaleOut {
		info.SetScaleLevel(req.AspectID, level+steps)
	} else {
		removed := make(map[string]bool, len(affected))
		for _, v := range affected {
			removed[v.ID] = true
		}
		removeVnfcs(info, removed)
		info.SetScaleLevel(req.AspectID, level-steps)
	}
	return info, affected, nil
}

func (c *Conductor) grantScale(_ context.Context, r *run, req *models.GrantRequest) error {
	info, affected, err := c.planScale(r)
	if err != nil {
		return err
	}
	if r.opOcc.ScaleType() == models.ScaleOut {
		req.AddResources = resourceDefs(info, affected, false)
	} else {
		req.RemoveResources = resourceDefs(r.inst().InstantiatedVnfInfo, affected, false)
	}
	return nil
}

func (c *Conductor) processScale(ctx context.Context, r *run) error {
	info, _, err := c.planScale(r)
	if err != nil {
		return err
	}
	inst := r.inst()
	b, err := newStackBuilder(inst.ID, r.pkg, info.FlavourID, r.grant)
	if err != nil {
		return err
	}
	inst.InstantiatedVnfInfo = info
	return c.converge(ctx, inst, b, nil)
}

// rollbackToPre converges the stack back to the pre-operation layout.
func (c *Conductor) rollbackToPre(ctx context.Context, r *run) error {
	return c.restorePre(ctx, r, nil)
}

// restorePre converges the VIM back to the pre-operation instance,
// recreating heal. The instance restored afterwards carries the resource
// IDs the VIM reported.
func (c *Conductor) restorePre(ctx context.Context, r *run, heal []string) error {
	pre := r.pre().DeepCopy()
	if pre.InstantiatedVnfInfo == nil {
		return nil
	}
	b, err := newStackBuilder(pre.ID, r.pkg, pre.InstantiatedVnfInfo.FlavourID, nil)
	if err != nil {
		return err
	}
	if err := c.converge(ctx, pre, b, heal); err != nil {
		return err
	}
	r.work.PreOpInstance = pre
	return nil
}

// HEAL

// planHeal returns the VNFCs to heal and the stack resources to recreate.
func (c *Conductor) planHeal(r *run) ([]models.VnfcResourceInfo, []string, error) {
	var req models.HealVnfRequest
	if err := r.decode(&req); err != nil {
		return nil, nil, err
	}
	info := r.inst().InstantiatedVnfInfo
	if info == nil {
		return nil, nil, ErrInstanceNotInstantiated
	}

	var targets []models.VnfcResourceInfo
	if len(req.VnfcInstanceID) == 0 {
		targets = append(targets, info.VnfcResourceInfo...)
	} else {
		for _, id := range req.VnfcInstanceID {
			v := info.FindVnfc(vnfcResourceID(info, id))
			if v == nil {
				return nil, nil, fmt.Errorf("%w: vnfc %s not found", ErrInvalidRequest, id)
			}
			targets = append(targets, *v)
		}
	}

	var names []string
	for _, v := range targets {
		names = append(names, v.ID)
		if req.All() {
			names = append(names, v.StorageResourceIDs...)
		}
	}
	if req.All() && len(req.VnfcInstanceID) == 0 {
		for _, vl := range info.VnfVirtualLinkResourceInfo {
			names = append(names, vl.ID)
		}
	}
	return targets, names, nil
}

func (c *Conductor) grantHeal(_ context.Context, r *run, req *models.GrantRequest) error {
	targets, _, err := c.planHeal(r)
	if err != nil {
		return err
	}
	for _, v := range targets {
		h := v.ComputeResource
		req.UpdateResources = append(req.UpdateResources, models.ResourceDefinition{
			ID:                 v.ID,
			Type:               models.ResourceCompute,
			VduID:              v.VduID,
			ResourceTemplateID: v.VduID,
			Resource:           &h,
		})
	}
	return nil
}

func (c *Conductor) processHeal(ctx context.Context, r *run) error {
	_, names, err := c.planHeal(r)
	if err != nil {
		return err
	}
	inst := r.inst()
	b, err := newStackBuilder(inst.ID, r.pkg, inst.InstantiatedVnfInfo.FlavourID, r.grant)
	if err != nil {
		return err
	}
	return c.converge(ctx, inst, b, names)
}

// vnfcResourceID maps a vnfcInfo id to its vnfcResourceInfo id. Ids
// that already name a vnfcResourceInfo are returned as is.
func vnfcResourceID(info *models.InstantiatedVnfInfo, id string) string {
	for _, v := range info.VnfcInfo {
		if v.ID == id {
			return v.VnfcResourceInfoID
		}
	}
	return id
}

// TERMINATE

func (c *Conductor) grantTerminate(_ context.Context, r *run, req *models.GrantRequest) error {
	info := r.inst().InstantiatedVnfInfo
	if info == nil {
		return nil
	}
	req.RemoveResources = resourceDefs(info, info.VnfcResourceInfo, true)
	return nil
}

func (c *Conductor) processTerminate(ctx context.Context, r *run) error {
	inst := r.inst()
	vim, _ := selectVim(inst)
	if err := c.infra.Delete(ctx, vim, infra.StackName(inst.ID)); err != nil {
		return err
	}

	flavourID := ""
	if inst.InstantiatedVnfInfo != nil {
		flavourID = inst.InstantiatedVnfInfo.FlavourID
	}
	inst.InstantiationState = models.NotInstantiated
	inst.InstantiatedVnfInfo = &models.InstantiatedVnfInfo{
		FlavourID: flavourID,
		VnfState:  models.VnfStopped,
	}
	inst.VimConnectionInfo = nil
	return nil
}

// CHANGE_EXT_CONN

func prepareVimConnections(_ context.Context, r *run) error {
	var req struct {
		VimConnectionInfo map[string]models.VimConnectionInfo `json:"vimConnectionInfo"`
	}
	if err := r.decode(&req); err != nil {
		return err
	}
	inst := r.inst()
	inst.VimConnectionInfo = overlayVims(inst.VimConnectionInfo, req.VimConnectionInfo)
	return nil
}

func (c *Conductor) grantChangeExtConn(_ context.Context, r *run, req *models.GrantRequest) error {
	var creq models.ChangeExtVnfConnectivityRequest
	if err := r.decode(&creq); err != nil {
		return err
	}
	info := r.inst().InstantiatedVnfInfo
	if info == nil {
		return ErrInstanceNotInstantiated
	}

	cpds := make(map[string]bool)
	for _, l := range creq.ExtVirtualLinks {
		for _, cp := range l.ExtCps {
			cpds[cp.CpdID] = true
		}
	}
	for _, v := range info.VnfcResourceInfo {
		for _, cp := range v.VnfcCpInfo {
			if cpds[cp.CpdID] {
				req.UpdateResources = append(req.UpdateResources, models.ResourceDefinition{
					ID:                 cp.ID,
					Type:               models.ResourceLinkPort,
					VduID:              v.VduID,
					ResourceTemplateID: cp.CpdID,
				})
			}
		}
	}
	return nil
}

func (c *Conductor) processChangeExtConn(ctx context.Context, r *run) error {
	var req models.ChangeExtVnfConnectivityRequest
	if err := r.decode(&req); err != nil {
		return err
	}
	inst := r.inst()
	if inst.InstantiatedVnfInfo == nil {
		return ErrInstanceNotInstantiated
	}
	bindExtLinks(inst.InstantiatedVnfInfo, req.ExtVirtualLinks)

	b, err := newStackBuilder(inst.ID, r.pkg, inst.InstantiatedVnfInfo.FlavourID, r.grant)
	if err != nil {
		return err
	}
	return c.converge(ctx, inst, b, nil)
}

// CHANGE_VNFPKG

// Progress keys of CHANGE_VNFPKG. A VNFC is updated once the VIM replaced
// it and coordinated once the coordinator let the update go on.
const (
	progressUpdatedVnfcs     = "updatedVnfcs"
	progressCoordinatedVnfcs = "coordinatedVnfcs"
)

func (c *Conductor) grantChangeVnfPkg(_ context.Context, r *run, req *models.GrantRequest) error {
	params, err := r.vnfpkgParams()
	if err != nil {
		return err
	}
	req.DstVnfdID = r.dst.VNFD.VnfdID
	info := r.inst().InstantiatedVnfInfo
	for _, vp := range params.targets(info) {
		for _, v := range info.VnfcsOf(vp.VduID) {
			h := v.ComputeResource
			req.UpdateResources = append(req.UpdateResources, models.ResourceDefinition{
				ID:                 v.ID,
				Type:               models.ResourceCompute,
				VduID:              v.VduID,
				ResourceTemplateID: v.VduID,
				Resource:           &h,
			})
		}
	}
	return nil
}

// processChangeVnfPkg replaces the VNFCs of the selected VDUs one at a
// time with the VDUs of the target package. Each replaced VNFC is
// recorded in the work record so a retry continues with the next one.
func (c *Conductor) processChangeVnfPkg(ctx context.Context, r *run) error {
	var req models.ChangeCurrentVnfPkgRequest
	if err := r.decode(&req); err != nil {
		return err
	}
	params, err := r.vnfpkgParams()
	if err != nil {
		return err
	}

	inst := r.inst()
	info := inst.InstantiatedVnfInfo
	if info == nil {
		return ErrInstanceNotInstantiated
	}
	b, err := newStackBuilder(inst.ID, r.pkg, info.FlavourID, r.grant)
	if err != nil {
		return err
	}
	if b.nextFlavour, err = r.dst.VNFD.Flavour(info.FlavourID); err != nil {
		return err
	}
	b.next = r.dst
	b.nextVnfcs = make(map[string]bool)

	updated := r.progressList(progressUpdatedVnfcs)
	for _, id := range updated {
		b.nextVnfcs[id] = true
	}
	coordinated := r.progressList(progressCoordinatedVnfcs)
	done := make(map[string]bool, len(coordinated))
	for _, id := range coordinated {
		done[id] = true
	}

	for _, vp := range params.targets(info) {
		for _, v := range info.VnfcsOf(vp.VduID) {
			if !b.nextVnfcs[v.ID] {
				vnfc := info.FindVnfc(v.ID)
				delete(vnfc.Metadata, metaImage)
				delete(vnfc.Metadata, metaFlavour)
				b.nextVnfcs[v.ID] = true

				if err := c.converge(ctx, inst, b, []string{v.ID}); err != nil {
					return fmt.Errorf("failed to update vnfc %s: %w", v.ID, err)
				}
				updated = append(updated, v.ID)
				if err := c.saveProgress(ctx, r, progressUpdatedVnfcs, updated); err != nil {
					return err
				}
			}

			// A retry asks again about a VNFC whose coordination failed.
			if done[v.ID] {
				continue
			}
			if err := c.coordinate(ctx, r, vp, v.ID); err != nil {
				return fmt.Errorf("vnfc %s: %w", v.ID, err)
			}
			done[v.ID] = true
			coordinated = append(coordinated, v.ID)
			if err := c.saveProgress(ctx, r, progressCoordinatedVnfcs, coordinated); err != nil {
				return err
			}
		}
	}

	if len(req.ExtVirtualLinks) > 0 {
		bindExtLinks(info, req.ExtVirtualLinks)
		if err := c.converge(ctx, inst, b, nil); err != nil {
			return err
		}
	}

	setProduct(inst, r.dst.VNFD)
	for i := range info.ScaleStatus {
		info.ScaleStatus[i].VnfdID = r.dst.VNFD.VnfdID
	}
	for i := range info.MaxScaleLevels {
		info.MaxScaleLevels[i].VnfdID = r.dst.VNFD.VnfdID
	}
	if inst.Extensions, err = mergePatch(inst.Extensions, req.Extensions); err != nil {
		return err
	}
	if inst.VnfConfigurableProperties, err = mergePatch(inst.VnfConfigurableProperties, req.VnfConfigurableProperties); err != nil {
		return err
	}
	return nil
}

// rollbackChangeVnfPkg recreates the already replaced VNFCs from the
// original package.
func (c *Conductor) rollbackChangeVnfPkg(ctx context.Context, r *run) error {
	updated := r.progressList(progressUpdatedVnfcs)
	if len(updated) == 0 {
		return nil
	}
	return c.restorePre(ctx, r, updated)
}

// coordinate asks the coordinator whether the update may continue after
// vnfcID was replaced.
func (c *Conductor) coordinate(ctx context.Context, r *run, vp vduParam, vnfcID string) error {
	endpoint, action := c.coordURL, DefaultCoordinationAction
	if vp.Coordination != nil {
		if vp.Coordination.Endpoint != "" {
			endpoint = vp.Coordination.Endpoint
		}
		if vp.Coordination.ActionName != "" {
			action = vp.Coordination.ActionName
		}
	}
	if endpoint == "" {
		return nil
	}
	if c.coordinator == nil {
		return fmt.Errorf("coordination with %s requested but no coordinator is configured", endpoint)
	}

	req := &models.CoordinationRequest{
		VnfInstanceID:          r.opOcc.VnfInstanceID,
		VnfLcmOpOccID:          r.opOcc.ID,
		LcmOperationType:       r.opOcc.Operation,
		CoordinationActionName: action,
		InputParams: map[string]interface{}{
			"vduId":          vp.VduID,
			"vnfcInstanceId": vnfcID,
		},
		Links: models.CoordinationLinks{
			VnfLcmOpOcc: models.Link{Href: models.OpOccHref(c.endpoint, r.opOcc.ID)},
			VnfInstance: models.Link{Href: models.InstanceHref(c.endpoint, r.opOcc.VnfInstanceID)},
		},
	}
	result, err := c.coordinator.CreateCoordination(ctx, endpoint, req)
	if err != nil {
		return err
	}
	return coordination.Continue(result)
}

func (r *run) vnfpkgParams() (*vnfpkgParams, error) {
	params, _ := r.opOcc.OperationParams["additionalParams"].(map[string]interface{})
	return parseVnfpkgParams(params)
}

// progressList reads a list kept in the work record progress. Lists
// loaded back from Redis decode as []interface{}.
func (r *run) progressList(key string) []string {
	switch list := r.work.Progress[key].(type) {
	case []string:
		return append([]string(nil), list...)
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, v := range list {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (c *Conductor) saveProgress(ctx context.Context, r *run, key string, list []string) error {
	if r.work.Progress == nil {
		r.work.Progress = make(map[string]interface{})
	}
	r.work.Progress[key] = list
	return c.saveWork(ctx, r.work)
}

// MODIFY_INFO

func (c *Conductor) processModifyInfo(ctx context.Context, r *run) error {
	var req models.VnfInfoModificationRequest
	if err := r.decode(&req); err != nil {
		return err
	}
	inst := r.inst()

	if req.VnfInstanceName != nil {
		inst.VnfInstanceName = *req.VnfInstanceName
	}
	if req.VnfInstanceDescription != nil {
		inst.VnfInstanceDescription = *req.VnfInstanceDescription
	}
	if req.VnfdID != "" && req.VnfdID != inst.VnfdID {
		pkg, err := c.catalog.Package(ctx, req.VnfdID)
		if err != nil {
			return err
		}
		setProduct(inst, pkg.VNFD)
	}

	var err error
	if inst.Metadata, err = mergePatch(inst.Metadata, req.Metadata); err != nil {
		return err
	}
	if inst.Extensions, err = mergePatch(inst.Extensions, req.Extensions); err != nil {
		return err
	}
	if inst.VnfConfigurableProperties, err = mergePatch(inst.VnfConfigurableProperties, req.VnfConfigurableProperties); err != nil {
		return err
	}
	if inst.VimConnectionInfo, err = mergeVimConnections(inst.VimConnectionInfo, req.VimConnectionInfo); err != nil {
		return err
	}
	return nil
}

// resourceDefs lists the grant resource definitions of vnfcs, and of the
// internal virtual links when withLinks is set.
func resourceDefs(info *models.InstantiatedVnfInfo, vnfcs []models.VnfcResourceInfo, withLinks bool) []models.ResourceDefinition {
	var defs []models.ResourceDefinition
	for _, v := range vnfcs {
		defs = append(defs, models.ResourceDefinition{
			ID:                 v.ID,
			Type:               models.ResourceCompute,
			VduID:              v.VduID,
			ResourceTemplateID: v.VduID,
			Resource:           handleOrNil(v.ComputeResource),
		})
		for _, sid := range v.StorageResourceIDs {
			def := models.ResourceDefinition{
				ID:                 sid,
				Type:               models.ResourceStorage,
				VduID:              v.VduID,
				ResourceTemplateID: storageDesc(info, sid),
			}
			for _, s := range info.VirtualStorageResourceInfo {
				if s.ID == sid {
					def.Resource = handleOrNil(s.StorageResource)
				}
			}
			defs = append(defs, def)
		}
		for _, cp := range v.VnfcCpInfo {
			defs = append(defs, models.ResourceDefinition{
				ID:                 cp.ID,
				Type:               models.ResourceLinkPort,
				VduID:              v.VduID,
				ResourceTemplateID: cp.CpdID,
			})
		}
	}
	if withLinks {
		for _, vl := range info.VnfVirtualLinkResourceInfo {
			defs = append(defs, models.ResourceDefinition{
				ID:                 vl.ID,
				Type:               models.ResourceVL,
				ResourceTemplateID: vl.VnfVirtualLinkDescID,
				Resource:           handleOrNil(vl.NetworkResource),
			})
		}
	}
	return defs
}

func handleOrNil(h models.ResourceHandle) *models.ResourceHandle {
	if h.ResourceID == "" {
		return nil
	}
	return &h
}

func overlayVims(target, overlay map[string]models.VimConnectionInfo) map[string]models.VimConnectionInfo {
	if len(overlay) == 0 {
		return target
	}
	if target == nil {
		target = make(map[string]models.VimConnectionInfo, len(overlay))
	}
	for id, vim := range overlay {
		target[id] = vim
	}
	return target
}

// setProduct copies the product attributes of a VNFD to the instance.
func setProduct(inst *models.VnfInstance, vnfd *vnfpkg.VNFD) {
	inst.VnfdID = vnfd.VnfdID
	inst.VnfProvider = vnfd.Provider
	inst.VnfProductName = vnfd.ProductName
	inst.VnfSoftwareVersion = vnfd.SoftwareVersion
	inst.VnfdVersion = vnfd.VnfdVersion
}
