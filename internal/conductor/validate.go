package conductor

import (
	"context"
	"fmt"

	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/vnfpkg"
)

const upgradeTypeRollingUpdate = "RollingUpdate"

// allowedVnfcParamKeys are the keys accepted in old_vnfc_param and
// new_vnfc_param of a CHANGE_VNFPKG request.
var allowedVnfcParamKeys = map[string]bool{
	"cp_name":  true,
	"username": true,
	"password": true,
}

// vnfpkgParams is the additionalParams of a CHANGE_VNFPKG request.
type vnfpkgParams struct {
	UpgradeType string     `json:"upgrade_type"`
	VduParams   []vduParam `json:"vdu_params"`
}

type vduParam struct {
	VduID        string                 `json:"vdu_id"`
	OldVnfcParam map[string]interface{} `json:"old_vnfc_param,omitempty"`
	NewVnfcParam map[string]interface{} `json:"new_vnfc_param,omitempty"`
	Coordination *coordinationParam     `json:"coordination,omitempty"`
}

type coordinationParam struct {
	Endpoint   string `json:"endpoint"`
	ActionName string `json:"actionName"`
}

// targets returns the VDUs to update in order. Without vdu_params every
// VDU of the instance is updated.
func (p *vnfpkgParams) targets(info *models.InstantiatedVnfInfo) []vduParam {
	if len(p.VduParams) > 0 {
		return p.VduParams
	}
	var out []vduParam
	seen := make(map[string]bool)
	for _, v := range info.VnfcResourceInfo {
		if !seen[v.VduID] {
			seen[v.VduID] = true
			out = append(out, vduParam{VduID: v.VduID})
		}
	}
	return out
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func requireInstantiated(inst *models.VnfInstance) error {
	if inst.InstantiationState != models.Instantiated || inst.InstantiatedVnfInfo == nil {
		return fmt.Errorf("vnf instance %s: %w", inst.ID, ErrInstanceNotInstantiated)
	}
	return nil
}

func (c *Conductor) validateInstantiate(ctx context.Context, inst *models.VnfInstance, req *models.InstantiateVnfRequest) error {
	if inst.InstantiationState != models.NotInstantiated {
		return fmt.Errorf("vnf instance %s: %w", inst.ID, ErrInstanceInstantiated)
	}
	if req.FlavourID == "" {
		return invalid("flavourId is required")
	}
	pkg, err := c.catalog.Package(ctx, inst.VnfdID)
	if err != nil {
		return err
	}
	flavour, err := pkg.VNFD.Flavour(req.FlavourID)
	if err != nil {
		return err
	}
	if _, err := flavour.Level(req.InstantiationLevelID); err != nil {
		return err
	}
	return validateExtLinks(req.ExtVirtualLinks)
}

func validateScale(inst *models.VnfInstance, req *models.ScaleVnfRequest) error {
	if err := requireInstantiated(inst); err != nil {
		return err
	}
	if req.Type != models.ScaleOut && req.Type != models.ScaleIn {
		return invalid("type must be SCALE_OUT or SCALE_IN, got %q", req.Type)
	}
	info := inst.InstantiatedVnfInfo
	level, ok := info.ScaleLevel(req.AspectID)
	if !ok {
		return fmt.Errorf("%w: %s", vnfpkg.ErrAspectNotFound, req.AspectID)
	}
	maxLevel, ok := info.MaxScaleLevel(req.AspectID)
	if !ok {
		return fmt.Errorf("%w: %s", vnfpkg.ErrAspectNotFound, req.AspectID)
	}

	steps := req.Steps()
	if steps <= 0 {
		return invalid("numberOfSteps must be positive, got %d", steps)
	}
	next := level + steps
	if req.Type == models.ScaleIn {
		next = level - steps
	}
	if next < 0 || next > maxLevel {
		return invalid("numberOfSteps %d moves aspect %s from level %d outside [0, %d]", steps, req.AspectID, level, maxLevel)
	}
	return nil
}

func validateHeal(inst *models.VnfInstance, req *models.HealVnfRequest) error {
	if err := requireInstantiated(inst); err != nil {
		return err
	}
	info := inst.InstantiatedVnfInfo
	for _, id := range req.VnfcInstanceID {
		if info.FindVnfc(vnfcResourceID(info, id)) == nil {
			return invalid("vnfcInstanceId %s does not exist", id)
		}
	}
	if v, ok := req.AdditionalParams["all"]; ok {
		if _, isBool := v.(bool); !isBool {
			return invalid("additionalParams.all must be a boolean")
		}
	}
	return nil
}

func validateTerminate(inst *models.VnfInstance, req *models.TerminateVnfRequest) error {
	if err := requireInstantiated(inst); err != nil {
		return err
	}
	switch req.TerminationType {
	case models.TerminationForceful, models.TerminationGraceful:
		return nil
	default:
		return invalid("terminationType must be FORCEFUL or GRACEFUL, got %q", req.TerminationType)
	}
}

func validateChangeExtConn(inst *models.VnfInstance, req *models.ChangeExtVnfConnectivityRequest) error {
	if err := requireInstantiated(inst); err != nil {
		return err
	}
	if len(req.ExtVirtualLinks) == 0 {
		return invalid("extVirtualLinks is required")
	}
	return validateExtLinks(req.ExtVirtualLinks)
}

func validateExtLinks(links []models.ExtVirtualLinkData) error {
	for i, l := range links {
		if l.ID == "" {
			return invalid("extVirtualLinks[%d].id is required", i)
		}
		if l.ResourceID == "" {
			return invalid("extVirtualLinks[%d].resourceId is required", i)
		}
		for j, cp := range l.ExtCps {
			if cp.CpdID == "" {
				return invalid("extVirtualLinks[%d].extCps[%d].cpdId is required", i, j)
			}
		}
	}
	return nil
}

func (c *Conductor) validateChangeVnfPkg(ctx context.Context, inst *models.VnfInstance, req *models.ChangeCurrentVnfPkgRequest) error {
	if err := requireInstantiated(inst); err != nil {
		return err
	}
	if req.VnfdID == "" {
		return invalid("vnfdId is required")
	}
	params, err := parseVnfpkgParams(req.AdditionalParams)
	if err != nil {
		return err
	}
	if err := validateExtLinks(req.ExtVirtualLinks); err != nil {
		return err
	}

	dst, err := c.catalog.Package(ctx, req.VnfdID)
	if err != nil {
		return err
	}
	flavour, err := dst.VNFD.Flavour(inst.InstantiatedVnfInfo.FlavourID)
	if err != nil {
		return err
	}
	for _, v := range inst.InstantiatedVnfInfo.VnfcResourceInfo {
		if _, ok := flavour.Vdus[v.VduID]; !ok {
			return invalid("vdu %s is not defined by vnfd %s", v.VduID, req.VnfdID)
		}
	}
	for _, vp := range params.VduParams {
		if _, ok := flavour.Vdus[vp.VduID]; !ok {
			return invalid("vdu_params references unknown vdu %s", vp.VduID)
		}
	}
	return nil
}

// parseVnfpkgParams decodes and checks the additionalParams of a
// CHANGE_VNFPKG request.
func parseVnfpkgParams(params map[string]interface{}) (*vnfpkgParams, error) {
	if len(params) == 0 {
		return nil, invalid("additionalParams is required")
	}
	var p vnfpkgParams
	if err := models.DecodeParams(params, &p); err != nil {
		return nil, invalid("%v", err)
	}
	if p.UpgradeType != upgradeTypeRollingUpdate {
		return nil, invalid("upgrade_type %q is not supported", p.UpgradeType)
	}
	for i, vp := range p.VduParams {
		if vp.VduID == "" {
			return nil, invalid("vdu_params[%d].vdu_id is required", i)
		}
		for _, m := range []map[string]interface{}{vp.OldVnfcParam, vp.NewVnfcParam} {
			for k := range m {
				if !allowedVnfcParamKeys[k] {
					return nil, invalid("vdu_params[%d] has unsupported vnfc param %s", i, k)
				}
			}
		}
	}
	return &p, nil
}

func (c *Conductor) validateModifyInfo(ctx context.Context, inst *models.VnfInstance, req *models.VnfInfoModificationRequest) error {
	if len(req.VimConnectionInfo) > 0 && inst.InstantiationState != models.Instantiated {
		return invalid("vimConnectionInfo cannot be modified on a NOT_INSTANTIATED instance")
	}
	if req.VnfdID != "" && req.VnfdID != inst.VnfdID {
		if _, err := c.catalog.Package(ctx, req.VnfdID); err != nil {
			return err
		}
	}
	return nil
}
