package models

import (
	"fmt"
	"time"
)

// VnfLcmOpOcc represents a VNF lifecycle management operation occurrence.
// It is the durable record of one LCM operation, from acceptance to a
// terminal state.
type VnfLcmOpOcc struct {
	// ID is the identifier of the operation occurrence.
	ID string `json:"id"`

	// OperationState is the current state of the operation.
	OperationState OperationState `json:"operationState"`

	// StateEnteredTime is when the current state was entered.
	StateEnteredTime time.Time `json:"stateEnteredTime"`

	// StartTime is when the operation was accepted.
	StartTime time.Time `json:"startTime"`

	// VnfInstanceID identifies the VNF instance the operation applies to.
	VnfInstanceID string `json:"vnfInstanceId"`

	// GrantID is set once a grant has been obtained.
	GrantID string `json:"grantId,omitempty"`

	// Operation is the kind of LCM operation.
	Operation Operation `json:"operation"`

	// IsAutomaticInvocation is true when the operation was triggered by
	// auto-heal or auto-scale rather than by an operator.
	IsAutomaticInvocation bool `json:"isAutomaticInvocation"`

	// OperationParams is the request body that started the operation.
	OperationParams map[string]interface{} `json:"operationParams,omitempty"`

	// IsCancelPending is recorded when a cancel was requested.
	IsCancelPending bool `json:"isCancelPending"`

	// CancelMode is the requested cancel mode, if any.
	CancelMode string `json:"cancelMode,omitempty"`

	// Error describes the last failure of the operation.
	Error *ProblemDetails `json:"error,omitempty"`

	// ResourceChanges lists the resources affected by the operation.
	ResourceChanges *ResourceChanges `json:"resourceChanges,omitempty"`

	// ChangedInfo holds the VNF instance attributes changed by MODIFY_INFO
	// or CHANGE_VNFPKG.
	ChangedInfo map[string]interface{} `json:"changedInfo,omitempty"`

	// ChangedExtConnectivity holds the external virtual link info after
	// CHANGE_EXT_CONN or INSTANTIATE.
	ChangedExtConnectivity []ExtVirtualLinkInfo `json:"changedExtConnectivity,omitempty"`

	// Links contains links to this resource and its tasks.
	Links *OpOccLinks `json:"_links,omitempty"`
}

// OpOccLinks contains the links of an op-occ.
type OpOccLinks struct {
	Self        Link  `json:"self"`
	VnfInstance Link  `json:"vnfInstance"`
	Grant       *Link `json:"grant,omitempty"`
	Retry       *Link `json:"retry,omitempty"`
	Rollback    *Link `json:"rollback,omitempty"`
	Fail        *Link `json:"fail,omitempty"`
}

// ResourceChanges lists the resources affected by an operation.
type ResourceChanges struct {
	AffectedVnfcs           []AffectedVnfc           `json:"affectedVnfcs,omitempty"`
	AffectedVirtualLinks    []AffectedVirtualLink    `json:"affectedVirtualLinks,omitempty"`
	AffectedVirtualStorages []AffectedVirtualStorage `json:"affectedVirtualStorages,omitempty"`
}

// IsEmpty reports whether no resource was affected.
func (r *ResourceChanges) IsEmpty() bool {
	return r == nil ||
		(len(r.AffectedVnfcs) == 0 && len(r.AffectedVirtualLinks) == 0 && len(r.AffectedVirtualStorages) == 0)
}

// AffectedVnfc is a VNFC affected by an operation.
type AffectedVnfc struct {
	ID                        string         `json:"id"`
	VduID                     string         `json:"vduId"`
	ChangeType                ChangeType     `json:"changeType"`
	ComputeResource           ResourceHandle `json:"computeResource"`
	AffectedVnfcCpIDs         []string       `json:"affectedVnfcCpIds,omitempty"`
	AddedStorageResourceIDs   []string       `json:"addedStorageResourceIds,omitempty"`
	RemovedStorageResourceIDs []string       `json:"removedStorageResourceIds,omitempty"`
}

// AffectedVirtualLink is a virtual link affected by an operation.
type AffectedVirtualLink struct {
	ID                   string         `json:"id"`
	VnfVirtualLinkDescID string         `json:"vnfVirtualLinkDescId"`
	ChangeType           ChangeType     `json:"changeType"`
	NetworkResource      ResourceHandle `json:"networkResource"`
}

// AffectedVirtualStorage is a storage resource affected by an operation.
type AffectedVirtualStorage struct {
	ID                   string         `json:"id"`
	VirtualStorageDescID string         `json:"virtualStorageDescId"`
	ChangeType           ChangeType     `json:"changeType"`
	StorageResource      ResourceHandle `json:"storageResource"`
}

// ProblemDetails is the SOL013 error body.
type ProblemDetails struct {
	Type     string `json:"type,omitempty"`
	Title    string `json:"title,omitempty"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`

	// UserScriptErrHandlingData is side-channel data attached by a failed
	// mgmt-driver hook, e.g. alarm ids issued by a server-notification
	// registration. It is handed back to the hook on retry.
	UserScriptErrHandlingData map[string]interface{} `json:"userScriptErrHandlingData,omitempty"`
}

// Error implements error.
func (p *ProblemDetails) Error() string {
	if p.Title != "" {
		return fmt.Sprintf("%s: %s", p.Title, p.Detail)
	}
	return p.Detail
}

// IsTerminal reports whether the op-occ reached a terminal state.
func (o *VnfLcmOpOcc) IsTerminal() bool {
	return o.OperationState.IsTerminal()
}

// ScaleType returns the scale direction of a SCALE op-occ.
func (o *VnfLcmOpOcc) ScaleType() ScaleType {
	if o.Operation != OpScale {
		return ""
	}
	t, _ := o.OperationParams["type"].(string)
	return ScaleType(t)
}
