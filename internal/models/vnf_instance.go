package models

import (
	"encoding/json"
	"fmt"
)

// VnfInstance represents a VNF instance resource.
//
// Example:
//
//	inst := &VnfInstance{
//	    ID:                 "5c2d5bb4-2b26-4f6e-a2d4-9b6a2a4c0f11",
//	    VnfdID:             "b1bb0ce7-ebca-4fa7-95ed-4840d70a1177",
//	    InstantiationState: NotInstantiated,
//	}
type VnfInstance struct {
	// ID is the identifier of the VNF instance.
	ID string `json:"id"`

	// VnfInstanceName is the human-readable name of the VNF instance.
	VnfInstanceName string `json:"vnfInstanceName,omitempty"`

	// VnfInstanceDescription is a human-readable description of the VNF instance.
	VnfInstanceDescription string `json:"vnfInstanceDescription,omitempty"`

	// VnfdID is the identifier of the VNFD this instance is based on.
	VnfdID string `json:"vnfdId"`

	// VnfProvider is the provider of the VNF and the VNFD.
	VnfProvider string `json:"vnfProvider"`

	// VnfProductName is the name of the VNF product.
	VnfProductName string `json:"vnfProductName"`

	// VnfSoftwareVersion is the software version of the VNF.
	VnfSoftwareVersion string `json:"vnfSoftwareVersion"`

	// VnfdVersion is the version of the VNFD.
	VnfdVersion string `json:"vnfdVersion"`

	// VnfConfigurableProperties holds VNF-specific configurable properties
	// such as isAutohealEnabled.
	VnfConfigurableProperties map[string]interface{} `json:"vnfConfigurableProperties,omitempty"`

	// VimConnectionInfo maps a VIM connection id to its access information.
	// AccessInfo carries credentials that are encrypted at rest.
	VimConnectionInfo map[string]VimConnectionInfo `json:"vimConnectionInfo,omitempty"`

	// InstantiationState is NOT_INSTANTIATED or INSTANTIATED.
	InstantiationState InstantiationState `json:"instantiationState"`

	// InstantiatedVnfInfo is present only when the instance is instantiated.
	InstantiatedVnfInfo *InstantiatedVnfInfo `json:"instantiatedVnfInfo,omitempty"`

	// Metadata holds user-defined key/value pairs.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Extensions holds VNF-specific key/value pairs.
	Extensions map[string]interface{} `json:"extensions,omitempty"`

	// Links contains links to this resource and the operations on it.
	Links *VnfInstanceLinks `json:"_links,omitempty"`
}

// VimConnectionInfo describes how to reach a VIM.
type VimConnectionInfo struct {
	// VimID is the identifier of the VIM.
	VimID string `json:"vimId,omitempty"`

	// VimType is the type of the VIM, e.g. ETSINFV.OPENSTACK_KEYSTONE.V_3
	// or kubernetes.
	VimType string `json:"vimType"`

	// InterfaceInfo holds the endpoint information, e.g. the keystone URL.
	InterfaceInfo map[string]interface{} `json:"interfaceInfo,omitempty"`

	// AccessInfo holds credentials such as username, password, project
	// and bearer_token.
	AccessInfo map[string]interface{} `json:"accessInfo,omitempty"`

	// Extra holds additional VIM-specific attributes.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// VIM type identifiers.
const (
	VimTypeOpenStack  = "ETSINFV.OPENSTACK_KEYSTONE.V_3"
	VimTypeKubernetes = "kubernetes"
)

// InstantiatedVnfInfo holds information specific to an instantiated VNF instance.
type InstantiatedVnfInfo struct {
	// FlavourID is the deployment flavour applied to the instance.
	FlavourID string `json:"flavourId"`

	// VnfState is the operational state of the VNF.
	VnfState VnfOperationalState `json:"vnfState"`

	// ScaleStatus is the current scale level of each aspect.
	ScaleStatus []ScaleInfo `json:"scaleStatus,omitempty"`

	// MaxScaleLevels is the maximum scale level of each aspect.
	MaxScaleLevels []ScaleInfo `json:"maxScaleLevels,omitempty"`

	// ExtCpInfo describes the external connection points.
	ExtCpInfo []map[string]interface{} `json:"extCpInfo,omitempty"`

	// ExtVirtualLinkInfo describes the external virtual links.
	ExtVirtualLinkInfo []ExtVirtualLinkInfo `json:"extVirtualLinkInfo,omitempty"`

	// VnfcResourceInfo describes the compute resources of each VNFC.
	VnfcResourceInfo []VnfcResourceInfo `json:"vnfcResourceInfo,omitempty"`

	// VnfVirtualLinkResourceInfo describes the internal virtual links.
	VnfVirtualLinkResourceInfo []VnfVirtualLinkResourceInfo `json:"vnfVirtualLinkResourceInfo,omitempty"`

	// VirtualStorageResourceInfo describes the virtual storage resources.
	VirtualStorageResourceInfo []VirtualStorageResourceInfo `json:"virtualStorageResourceInfo,omitempty"`

	// VnfcInfo lists VNFC-level information referencing vnfcResourceInfo.
	VnfcInfo []VnfcInfo `json:"vnfcInfo,omitempty"`

	// Metadata holds driver-specific data such as the stack id.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ScaleInfo is the scale level of one aspect.
type ScaleInfo struct {
	AspectID   string `json:"aspectId"`
	VnfdID     string `json:"vnfdId,omitempty"`
	ScaleLevel int    `json:"scaleLevel"`
}

// ResourceHandle identifies a resource managed by a VIM.
type ResourceHandle struct {
	VimConnectionID      string `json:"vimConnectionId,omitempty"`
	ResourceProviderID   string `json:"resourceProviderId,omitempty"`
	ResourceID           string `json:"resourceId"`
	VimLevelResourceType string `json:"vimLevelResourceType,omitempty"`
}

// VnfcResourceInfo describes one VNFC and its compute resource.
type VnfcResourceInfo struct {
	// ID is the identifier of the VNFC, stable across heal.
	ID string `json:"id"`

	// VduID is the VDU this VNFC is an instance of.
	VduID string `json:"vduId"`

	// ComputeResource is the VIM-level compute resource backing the VNFC.
	ComputeResource ResourceHandle `json:"computeResource"`

	// StorageResourceIDs references entries of virtualStorageResourceInfo.
	StorageResourceIDs []string `json:"storageResourceIds,omitempty"`

	// VnfcCpInfo lists the connection points of the VNFC.
	VnfcCpInfo []VnfcCpInfo `json:"vnfcCpInfo,omitempty"`

	// Metadata holds creation_time, server_notification and similar data.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// VnfcCpInfo describes a VNFC connection point.
type VnfcCpInfo struct {
	ID       string `json:"id"`
	CpdID    string `json:"cpdId"`
	VnfExtCp string `json:"vnfExtCpId,omitempty"`
}

// VnfcInfo is VNFC-level information.
type VnfcInfo struct {
	ID                 string `json:"id"`
	VduID              string `json:"vduId"`
	VnfcResourceInfoID string `json:"vnfcResourceInfoId"`
	VnfcState          string `json:"vnfcState"`
}

// VnfVirtualLinkResourceInfo describes an internal virtual link.
type VnfVirtualLinkResourceInfo struct {
	ID                   string         `json:"id"`
	VnfVirtualLinkDescID string         `json:"vnfVirtualLinkDescId"`
	NetworkResource      ResourceHandle `json:"networkResource"`
}

// VirtualStorageResourceInfo describes a virtual storage resource.
type VirtualStorageResourceInfo struct {
	ID                   string         `json:"id"`
	VirtualStorageDescID string         `json:"virtualStorageDescId"`
	StorageResource      ResourceHandle `json:"storageResource"`
}

// ExtVirtualLinkInfo describes an external virtual link.
type ExtVirtualLinkInfo struct {
	ID             string                   `json:"id"`
	ResourceHandle ResourceHandle           `json:"resourceHandle"`
	ExtLinkPorts   []map[string]interface{} `json:"extLinkPorts,omitempty"`
}

// VnfInstanceLinks contains the links of a VNF instance.
type VnfInstanceLinks struct {
	Self          Link  `json:"self"`
	Indicators    *Link `json:"indicators,omitempty"`
	Instantiate   *Link `json:"instantiate,omitempty"`
	Terminate     *Link `json:"terminate,omitempty"`
	Scale         *Link `json:"scale,omitempty"`
	Heal          *Link `json:"heal,omitempty"`
	ChangeExtConn *Link `json:"changeExtConn,omitempty"`
}

// Link is a hyperlink to a resource.
type Link struct {
	Href string `json:"href"`
}

// DeepCopy returns an independent copy of the instance.
func (v *VnfInstance) DeepCopy() *VnfInstance {
	if v == nil {
		return nil
	}
	out := &VnfInstance{}
	if err := deepCopyJSON(v, out); err != nil {
		panic(fmt.Sprintf("vnf instance %s: deep copy: %v", v.ID, err))
	}
	return out
}

// FindVnfc returns the VNFC with the given id or nil.
func (i *InstantiatedVnfInfo) FindVnfc(id string) *VnfcResourceInfo {
	if i == nil {
		return nil
	}
	for idx := range i.VnfcResourceInfo {
		if i.VnfcResourceInfo[idx].ID == id {
			return &i.VnfcResourceInfo[idx]
		}
	}
	return nil
}

// ScaleLevel returns the current scale level of the aspect and whether it is known.
func (i *InstantiatedVnfInfo) ScaleLevel(aspectID string) (int, bool) {
	if i == nil {
		return 0, false
	}
	for _, s := range i.ScaleStatus {
		if s.AspectID == aspectID {
			return s.ScaleLevel, true
		}
	}
	return 0, false
}

// MaxScaleLevel returns the maximum scale level of the aspect and whether it is known.
func (i *InstantiatedVnfInfo) MaxScaleLevel(aspectID string) (int, bool) {
	if i == nil {
		return 0, false
	}
	for _, s := range i.MaxScaleLevels {
		if s.AspectID == aspectID {
			return s.ScaleLevel, true
		}
	}
	return 0, false
}

// SetScaleLevel updates the scale level of an existing aspect.
func (i *InstantiatedVnfInfo) SetScaleLevel(aspectID string, level int) {
	for idx := range i.ScaleStatus {
		if i.ScaleStatus[idx].AspectID == aspectID {
			i.ScaleStatus[idx].ScaleLevel = level
			return
		}
	}
	i.ScaleStatus = append(i.ScaleStatus, ScaleInfo{AspectID: aspectID, ScaleLevel: level})
}

// VnfcsOf returns the VNFCs of the given VDU in their stored order.
func (i *InstantiatedVnfInfo) VnfcsOf(vduID string) []VnfcResourceInfo {
	if i == nil {
		return nil
	}
	var out []VnfcResourceInfo
	for _, v := range i.VnfcResourceInfo {
		if v.VduID == vduID {
			out = append(out, v)
		}
	}
	return out
}

// AutohealEnabled reports vnfConfigurableProperties.isAutohealEnabled.
func (v *VnfInstance) AutohealEnabled() bool {
	enabled, _ := v.VnfConfigurableProperties["isAutohealEnabled"].(bool)
	return enabled
}

func deepCopyJSON(in, out interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
