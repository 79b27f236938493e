package models

// ResourceType is the type of a resource in a grant request.
type ResourceType string

const (
	ResourceCompute  ResourceType = "COMPUTE"
	ResourceVL       ResourceType = "VL"
	ResourceStorage  ResourceType = "STORAGE"
	ResourceLinkPort ResourceType = "LINKPORT"
)

// GrantRequest asks the NFVO to authorise a set of resource changes.
type GrantRequest struct {
	// VnfInstanceID identifies the VNF instance the grant is for.
	VnfInstanceID string `json:"vnfInstanceId"`

	// VnfLcmOpOccID identifies the op-occ the grant is for.
	VnfLcmOpOccID string `json:"vnfLcmOpOccId"`

	// VnfdID is the VNFD of the VNF instance.
	VnfdID string `json:"vnfdId"`

	// DstVnfdID is the target VNFD of a CHANGE_VNFPKG operation.
	DstVnfdID string `json:"dstVnfdId,omitempty"`

	// FlavourID is the deployment flavour.
	FlavourID string `json:"flavourId,omitempty"`

	// Operation is the LCM operation requiring the grant.
	Operation Operation `json:"operation"`

	// IsAutomaticInvocation mirrors the op-occ attribute.
	IsAutomaticInvocation bool `json:"isAutomaticInvocation"`

	// InstantiationLevelID is the instantiation level for INSTANTIATE.
	InstantiationLevelID string `json:"instantiationLevelId,omitempty"`

	// AddResources lists resources to be added.
	AddResources []ResourceDefinition `json:"addResources,omitempty"`

	// TempResources lists resources used only during the operation.
	TempResources []ResourceDefinition `json:"tempResources,omitempty"`

	// RemoveResources lists resources to be removed.
	RemoveResources []ResourceDefinition `json:"removeResources,omitempty"`

	// UpdateResources lists resources to be modified.
	UpdateResources []ResourceDefinition `json:"updateResources,omitempty"`

	// PlacementConstraints lists affinity rules for the resources.
	PlacementConstraints []PlacementConstraint `json:"placementConstraints,omitempty"`

	// AdditionalParams carries operation additional parameters.
	AdditionalParams map[string]interface{} `json:"additionalParams,omitempty"`

	Links GrantRequestLinks `json:"_links"`
}

// GrantRequestLinks contains the links of a grant request.
type GrantRequestLinks struct {
	VnfLcmOpOcc Link `json:"vnfLcmOpOcc"`
	VnfInstance Link `json:"vnfInstance"`
}

// ResourceDefinition describes one resource in a grant request.
type ResourceDefinition struct {
	ID                 string          `json:"id"`
	Type               ResourceType    `json:"type"`
	VduID              string          `json:"vduId,omitempty"`
	ResourceTemplateID string          `json:"resourceTemplateId"`
	Resource           *ResourceHandle `json:"resource,omitempty"`
}

// PlacementConstraint is an affinity or anti-affinity rule.
type PlacementConstraint struct {
	AffinityOrAntiAffinity string   `json:"affinityOrAntiAffinity"`
	Scope                  string   `json:"scope"`
	ResourceIDs            []string `json:"resource"`
}

// Grant is the NFVO's decision on a grant request.
type Grant struct {
	// ID is the identifier of the grant.
	ID string `json:"id"`

	// VnfInstanceID identifies the VNF instance.
	VnfInstanceID string `json:"vnfInstanceId"`

	// VnfLcmOpOccID identifies the op-occ.
	VnfLcmOpOccID string `json:"vnfLcmOpOccId"`

	// VimConnectionInfo supplies VIM access information to use.
	VimConnectionInfo map[string]VimConnectionInfo `json:"vimConnectionInfo,omitempty"`

	// Zones lists the resource zones the NFVO assigned.
	Zones []ZoneInfo `json:"zones,omitempty"`

	// AddResources authorises resources to add.
	AddResources []GrantInfo `json:"addResources,omitempty"`

	// TempResources authorises temporary resources.
	TempResources []GrantInfo `json:"tempResources,omitempty"`

	// RemoveResources authorises resources to remove.
	RemoveResources []GrantInfo `json:"removeResources,omitempty"`

	// UpdateResources authorises resources to modify.
	UpdateResources []GrantInfo `json:"updateResources,omitempty"`

	// VimAssets maps VNFD images and flavours to VIM assets.
	VimAssets *VimAssets `json:"vimAssets,omitempty"`

	// AdditionalParams carries NFVO-specific parameters.
	AdditionalParams map[string]interface{} `json:"additionalParams,omitempty"`
}

// ZoneInfo is a resource zone.
type ZoneInfo struct {
	ID              string `json:"id"`
	ZoneID          string `json:"zoneId"`
	VimConnectionID string `json:"vimConnectionId,omitempty"`
}

// GrantInfo authorises one resource definition.
type GrantInfo struct {
	ResourceDefinitionID string `json:"resourceDefinitionId"`
	VimConnectionID      string `json:"vimConnectionId,omitempty"`
	ResourceProviderID   string `json:"resourceProviderId,omitempty"`
	ZoneID               string `json:"zoneId,omitempty"`
}

// VimAssets maps descriptor assets to VIM assets.
type VimAssets struct {
	ComputeResourceFlavours []VimComputeResourceFlavour `json:"computeResourceFlavours,omitempty"`
	SoftwareImages          []VimSoftwareImage          `json:"softwareImages,omitempty"`
}

// VimComputeResourceFlavour maps a VDU compute descriptor to a VIM flavour.
type VimComputeResourceFlavour struct {
	VimConnectionID          string `json:"vimConnectionId,omitempty"`
	VnfdVirtualComputeDescID string `json:"vnfdVirtualComputeDescId"`
	VimFlavourID             string `json:"vimFlavourId"`
}

// VimSoftwareImage maps a VDU software image to a VIM image.
type VimSoftwareImage struct {
	VimConnectionID     string `json:"vimConnectionId,omitempty"`
	VnfdSoftwareImageID string `json:"vnfdSoftwareImageId"`
	VimSoftwareImageID  string `json:"vimSoftwareImageId"`
}

// FlavourFor returns the VIM flavour granted for a VDU, if any.
func (g *Grant) FlavourFor(vduID string) string {
	if g == nil || g.VimAssets == nil {
		return ""
	}
	for _, f := range g.VimAssets.ComputeResourceFlavours {
		if f.VnfdVirtualComputeDescID == vduID {
			return f.VimFlavourID
		}
	}
	return ""
}

// ImageFor returns the VIM image granted for a VDU, if any.
func (g *Grant) ImageFor(vduID string) string {
	if g == nil || g.VimAssets == nil {
		return ""
	}
	for _, img := range g.VimAssets.SoftwareImages {
		if img.VnfdSoftwareImageID == vduID {
			return img.VimSoftwareImageID
		}
	}
	return ""
}

// ZoneFor returns the zone granted for a resource definition, if any.
func (g *Grant) ZoneFor(resourceDefinitionID string) string {
	if g == nil {
		return ""
	}
	var zoneRef string
	for _, a := range g.AddResources {
		if a.ResourceDefinitionID == resourceDefinitionID {
			zoneRef = a.ZoneID
			break
		}
	}
	if zoneRef == "" {
		return ""
	}
	for _, z := range g.Zones {
		if z.ID == zoneRef {
			return z.ZoneID
		}
	}
	return ""
}

// CoordinationRequest asks an external coordinator whether an LCM step
// may proceed.
type CoordinationRequest struct {
	VnfInstanceID          string                 `json:"vnfInstanceId"`
	VnfLcmOpOccID          string                 `json:"vnfLcmOpOccId"`
	LcmOperationType       Operation              `json:"lcmOperationType"`
	CoordinationActionName string                 `json:"coordinationActionName"`
	InputParams            map[string]interface{} `json:"inputParams,omitempty"`
	Links                  CoordinationLinks      `json:"_links"`
}

// CoordinationLinks contains the links of a coordination request.
type CoordinationLinks struct {
	VnfLcmOpOcc Link `json:"vnfLcmOpOcc"`
	VnfInstance Link `json:"vnfInstance"`
}

// CoordinationResultType is the coordinator's decision.
type CoordinationResultType string

const (
	CoordinationContinue  CoordinationResultType = "CONTINUE"
	CoordinationAbort     CoordinationResultType = "ABORT"
	CoordinationCancelled CoordinationResultType = "CANCELLED"
)

// CoordinationResult is the result of a coordination.
type CoordinationResult struct {
	ID                     string                 `json:"id"`
	CoordinationResult     CoordinationResultType `json:"coordinationResult"`
	VnfInstanceID          string                 `json:"vnfInstanceId"`
	VnfLcmOpOccID          string                 `json:"vnfLcmOpOccId"`
	LcmOperationType       Operation              `json:"lcmOperationType"`
	CoordinationActionName string                 `json:"coordinationActionName"`
	OutputParams           map[string]interface{} `json:"outputParams,omitempty"`
	Warnings               string                 `json:"warnings,omitempty"`
}
