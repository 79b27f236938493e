// Package models contains the VNF lifecycle management data models.
// These models follow the ETSI GS NFV-SOL 002/003 v2 resource shapes
// (VnfInstance, VnfLcmOpOcc, Grant, LccnSubscription) with the camelCase
// JSON attribute names used on the wire.
package models

// InstantiationState is the instantiation state of a VNF instance.
type InstantiationState string

const (
	// NotInstantiated means the VNF instance exists but has no resources.
	NotInstantiated InstantiationState = "NOT_INSTANTIATED"

	// Instantiated means the VNF instance has been instantiated.
	Instantiated InstantiationState = "INSTANTIATED"
)

// VnfOperationalState is the operational state of an instantiated VNF.
type VnfOperationalState string

const (
	// VnfStarted indicates the VNF is running.
	VnfStarted VnfOperationalState = "STARTED"

	// VnfStopped indicates the VNF is stopped.
	VnfStopped VnfOperationalState = "STOPPED"
)

// Operation is the kind of an LCM operation.
type Operation string

const (
	// OpInstantiate instantiates a VNF instance.
	OpInstantiate Operation = "INSTANTIATE"

	// OpScale scales a VNF instance in or out.
	OpScale Operation = "SCALE"

	// OpHeal heals one or more VNFCs or the whole VNF instance.
	OpHeal Operation = "HEAL"

	// OpTerminate terminates a VNF instance.
	OpTerminate Operation = "TERMINATE"

	// OpChangeExtConn changes the external connectivity of a VNF instance.
	OpChangeExtConn Operation = "CHANGE_EXT_CONN"

	// OpChangeVnfPkg changes the current VNF package of a VNF instance.
	OpChangeVnfPkg Operation = "CHANGE_VNFPKG"

	// OpModifyInfo modifies the information of a VNF instance.
	OpModifyInfo Operation = "MODIFY_INFO"
)

// AllOperations lists every LCM operation kind.
var AllOperations = []Operation{
	OpInstantiate,
	OpScale,
	OpHeal,
	OpTerminate,
	OpChangeExtConn,
	OpChangeVnfPkg,
	OpModifyInfo,
}

// IsValid checks if the Operation is a known operation kind.
func (o Operation) IsValid() bool {
	for _, op := range AllOperations {
		if o == op {
			return true
		}
	}
	return false
}

// String returns the string representation of the Operation.
func (o Operation) String() string {
	return string(o)
}

// OperationState is the state of an LCM operation occurrence.
type OperationState string

const (
	// StateProcessing indicates the operation is being executed.
	StateProcessing OperationState = "PROCESSING"

	// StateCompleted indicates the operation finished successfully.
	StateCompleted OperationState = "COMPLETED"

	// StateFailedTemp indicates the operation failed and awaits retry, rollback or fail.
	StateFailedTemp OperationState = "FAILED_TEMP"

	// StateFailed indicates the operation was declared failed by the operator.
	StateFailed OperationState = "FAILED"

	// StateRollingBack indicates a rollback is in progress.
	StateRollingBack OperationState = "ROLLING_BACK"

	// StateRolledBack indicates the operation was rolled back.
	StateRolledBack OperationState = "ROLLED_BACK"
)

// IsTerminal reports whether no further transition can leave this state.
func (s OperationState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateRolledBack:
		return true
	default:
		return false
	}
}

// IsRunning reports whether a pipeline is executing in this state, which is
// when a cancel request is accepted.
func (s OperationState) IsRunning() bool {
	return s == StateProcessing || s == StateRollingBack
}

// IsValid checks if the OperationState is a known state.
func (s OperationState) IsValid() bool {
	switch s {
	case StateProcessing, StateCompleted, StateFailedTemp,
		StateFailed, StateRollingBack, StateRolledBack:
		return true
	default:
		return false
	}
}

// String returns the string representation of the OperationState.
func (s OperationState) String() string {
	return string(s)
}

// ScaleType is the direction of a scale operation.
type ScaleType string

const (
	// ScaleOut adds VNFCs.
	ScaleOut ScaleType = "SCALE_OUT"

	// ScaleIn removes VNFCs.
	ScaleIn ScaleType = "SCALE_IN"
)

// ChangeType describes how a resource was affected by an operation.
type ChangeType string

const (
	ChangeAdded     ChangeType = "ADDED"
	ChangeRemoved   ChangeType = "REMOVED"
	ChangeModified  ChangeType = "MODIFIED"
	ChangeTemporary ChangeType = "TEMPORARY"
)

// NotificationType identifies a lifecycle change notification kind.
type NotificationType string

const (
	// NotificationOpOcc is sent on op-occ state changes.
	NotificationOpOcc NotificationType = "VnfLcmOperationOccurrenceNotification"

	// NotificationIdentifierCreation is sent when a VNF instance is created.
	NotificationIdentifierCreation NotificationType = "VnfIdentifierCreationNotification"

	// NotificationIdentifierDeletion is sent when a VNF instance is deleted.
	NotificationIdentifierDeletion NotificationType = "VnfIdentifierDeletionNotification"
)

// NotificationStatus tells whether an op-occ notification marks the start or the result.
type NotificationStatus string

const (
	NotificationStart  NotificationStatus = "START"
	NotificationResult NotificationStatus = "RESULT"
)

// Verbosity controls how much an op-occ notification carries.
type Verbosity string

const (
	// VerbosityFull includes resource changes and changed info.
	VerbosityFull Verbosity = "FULL"

	// VerbosityShort omits resource changes and changed info.
	VerbosityShort Verbosity = "SHORT"
)

// AuthType is an authentication scheme for notification or NFVO endpoints.
type AuthType string

const (
	AuthBasic                   AuthType = "BASIC"
	AuthOAuth2ClientCredentials AuthType = "OAUTH2_CLIENT_CREDENTIALS"
	AuthOAuth2ClientCert        AuthType = "OAUTH2_CLIENT_CERT"
	AuthTLSCert                 AuthType = "TLS_CERT"
)
