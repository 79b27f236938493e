package models

import (
	"encoding/json"
	"fmt"
)

// CreateVnfRequest creates a VNF instance identifier.
type CreateVnfRequest struct {
	// VnfdID references the VNFD the instance is based on.
	VnfdID string `json:"vnfdId" binding:"required"`

	// VnfInstanceName is an optional human-readable name.
	VnfInstanceName string `json:"vnfInstanceName,omitempty"`

	// VnfInstanceDescription is an optional description.
	VnfInstanceDescription string `json:"vnfInstanceDescription,omitempty"`

	// Metadata holds initial user-defined metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// InstantiateVnfRequest instantiates a VNF instance.
type InstantiateVnfRequest struct {
	// FlavourID selects the deployment flavour.
	FlavourID string `json:"flavourId" binding:"required"`

	// InstantiationLevelID selects the instantiation level; the flavour's
	// default level is used when empty.
	InstantiationLevelID string `json:"instantiationLevelId,omitempty"`

	// ExtVirtualLinks describes the external virtual links to connect to.
	ExtVirtualLinks []ExtVirtualLinkData `json:"extVirtualLinks,omitempty"`

	// ExtManagedVirtualLinks describes externally managed internal links.
	ExtManagedVirtualLinks []map[string]interface{} `json:"extManagedVirtualLinks,omitempty"`

	// VimConnectionInfo supplies VIM access information.
	VimConnectionInfo map[string]VimConnectionInfo `json:"vimConnectionInfo,omitempty"`

	// LocalizationLanguage is passed through to the VNF.
	LocalizationLanguage string `json:"localizationLanguage,omitempty"`

	// AdditionalParams carries VNF-specific input parameters.
	AdditionalParams map[string]interface{} `json:"additionalParams,omitempty"`

	// Extensions sets the instance's extensions.
	Extensions map[string]interface{} `json:"extensions,omitempty"`

	// VnfConfigurableProperties sets the instance's configurable properties.
	VnfConfigurableProperties map[string]interface{} `json:"vnfConfigurableProperties,omitempty"`
}

// ScaleVnfRequest scales a VNF instance.
type ScaleVnfRequest struct {
	// Type is SCALE_OUT or SCALE_IN.
	Type ScaleType `json:"type" binding:"required"`

	// AspectID is the scaling aspect.
	AspectID string `json:"aspectId" binding:"required"`

	// NumberOfSteps defaults to 1.
	NumberOfSteps *int `json:"numberOfSteps,omitempty"`

	// AdditionalParams carries VNF-specific input parameters.
	AdditionalParams map[string]interface{} `json:"additionalParams,omitempty"`
}

// Steps returns NumberOfSteps or its default.
func (r *ScaleVnfRequest) Steps() int {
	if r.NumberOfSteps == nil {
		return 1
	}
	return *r.NumberOfSteps
}

// HealVnfRequest heals a VNF instance or some of its VNFCs.
type HealVnfRequest struct {
	// VnfcInstanceID lists the VNFCs to heal; empty means the whole VNF.
	VnfcInstanceID []string `json:"vnfcInstanceId,omitempty"`

	// Cause describes why healing is requested.
	Cause string `json:"cause,omitempty"`

	// AdditionalParams may carry "all" (bool) to also recreate storage
	// and, for a whole-VNF heal, virtual links.
	AdditionalParams map[string]interface{} `json:"additionalParams,omitempty"`
}

// All returns additionalParams.all.
func (r *HealVnfRequest) All() bool {
	all, _ := r.AdditionalParams["all"].(bool)
	return all
}

// TerminationType is FORCEFUL or GRACEFUL.
type TerminationType string

const (
	TerminationForceful TerminationType = "FORCEFUL"
	TerminationGraceful TerminationType = "GRACEFUL"
)

// TerminateVnfRequest terminates a VNF instance.
type TerminateVnfRequest struct {
	// TerminationType is FORCEFUL or GRACEFUL.
	TerminationType TerminationType `json:"terminationType" binding:"required"`

	// GracefulTerminationTimeout is in seconds.
	GracefulTerminationTimeout int `json:"gracefulTerminationTimeout,omitempty"`

	// AdditionalParams carries VNF-specific input parameters.
	AdditionalParams map[string]interface{} `json:"additionalParams,omitempty"`
}

// ChangeExtVnfConnectivityRequest changes the external connectivity.
type ChangeExtVnfConnectivityRequest struct {
	// ExtVirtualLinks describes the new external virtual links.
	ExtVirtualLinks []ExtVirtualLinkData `json:"extVirtualLinks" binding:"required"`

	// VimConnectionInfo supplies VIM access information.
	VimConnectionInfo map[string]VimConnectionInfo `json:"vimConnectionInfo,omitempty"`

	// AdditionalParams carries VNF-specific input parameters.
	AdditionalParams map[string]interface{} `json:"additionalParams,omitempty"`
}

// ChangeCurrentVnfPkgRequest changes the current VNF package.
type ChangeCurrentVnfPkgRequest struct {
	// VnfdID is the target VNFD.
	VnfdID string `json:"vnfdId" binding:"required"`

	// ExtVirtualLinks describes the external virtual links after the change.
	ExtVirtualLinks []ExtVirtualLinkData `json:"extVirtualLinks,omitempty"`

	// VimConnectionInfo supplies VIM access information.
	VimConnectionInfo map[string]VimConnectionInfo `json:"vimConnectionInfo,omitempty"`

	// AdditionalParams must carry upgrade_type and vdu_params.
	AdditionalParams map[string]interface{} `json:"additionalParams,omitempty"`

	// Extensions replaces the instance's extensions.
	Extensions map[string]interface{} `json:"extensions,omitempty"`

	// VnfConfigurableProperties replaces the instance's configurable properties.
	VnfConfigurableProperties map[string]interface{} `json:"vnfConfigurableProperties,omitempty"`
}

// VnfInfoModificationRequest modifies VNF instance information.
type VnfInfoModificationRequest struct {
	VnfInstanceName           *string                      `json:"vnfInstanceName,omitempty"`
	VnfInstanceDescription    *string                      `json:"vnfInstanceDescription,omitempty"`
	VnfdID                    string                       `json:"vnfdId,omitempty"`
	VnfConfigurableProperties map[string]interface{}       `json:"vnfConfigurableProperties,omitempty"`
	Metadata                  map[string]interface{}       `json:"metadata,omitempty"`
	Extensions                map[string]interface{}       `json:"extensions,omitempty"`
	VimConnectionInfo         map[string]VimConnectionInfo `json:"vimConnectionInfo,omitempty"`
}

// ExtVirtualLinkData describes an external virtual link to connect to.
type ExtVirtualLinkData struct {
	ID                 string                   `json:"id"`
	VimConnectionID    string                   `json:"vimConnectionId,omitempty"`
	ResourceProviderID string                   `json:"resourceProviderId,omitempty"`
	ResourceID         string                   `json:"resourceId"`
	ExtCps             []VnfExtCpData           `json:"extCps"`
	ExtLinkPorts       []map[string]interface{} `json:"extLinkPorts,omitempty"`
}

// VnfExtCpData describes an external connection point.
type VnfExtCpData struct {
	CpdID    string                            `json:"cpdId"`
	CpConfig map[string]map[string]interface{} `json:"cpConfig,omitempty"`
}

// ToParams converts a typed request into the generic operationParams form.
func ToParams(req interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	var params map[string]interface{}
	if err := json.Unmarshal(b, &params); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return params, nil
}

// DecodeParams converts operationParams back into a typed request.
func DecodeParams(params map[string]interface{}, out interface{}) error {
	if err := deepCopyJSON(params, out); err != nil {
		return fmt.Errorf("failed to decode operation params: %w", err)
	}
	return nil
}
