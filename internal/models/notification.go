package models

import "time"

// LccnLinks contains the links carried by a notification.
type LccnLinks struct {
	VnfInstance  Link  `json:"vnfInstance"`
	Subscription Link  `json:"subscription"`
	VnfLcmOpOcc  *Link `json:"vnfLcmOpOcc,omitempty"`
}

// VnfLcmOperationOccurrenceNotification is sent on op-occ state changes.
type VnfLcmOperationOccurrenceNotification struct {
	ID                      string                   `json:"id"`
	NotificationType        NotificationType         `json:"notificationType"`
	SubscriptionID          string                   `json:"subscriptionId"`
	TimeStamp               time.Time                `json:"timeStamp"`
	NotificationStatus      NotificationStatus       `json:"notificationStatus"`
	OperationState          OperationState           `json:"operationState"`
	VnfInstanceID           string                   `json:"vnfInstanceId"`
	Operation               Operation                `json:"operation"`
	IsAutomaticInvocation   bool                     `json:"isAutomaticInvocation"`
	Verbosity               Verbosity                `json:"verbosity,omitempty"`
	VnfLcmOpOccID           string                   `json:"vnfLcmOpOccId"`
	AffectedVnfcs           []AffectedVnfc           `json:"affectedVnfcs,omitempty"`
	AffectedVirtualLinks    []AffectedVirtualLink    `json:"affectedVirtualLinks,omitempty"`
	AffectedVirtualStorages []AffectedVirtualStorage `json:"affectedVirtualStorages,omitempty"`
	ChangedInfo             map[string]interface{}   `json:"changedInfo,omitempty"`
	ChangedExtConnectivity  []ExtVirtualLinkInfo     `json:"changedExtConnectivity,omitempty"`
	Error                   *ProblemDetails          `json:"error,omitempty"`
	Links                   LccnLinks                `json:"_links"`
}

// VnfIdentifierNotification is sent when a VNF instance identifier is
// created or deleted. NotificationType tells which.
type VnfIdentifierNotification struct {
	ID               string           `json:"id"`
	NotificationType NotificationType `json:"notificationType"`
	SubscriptionID   string           `json:"subscriptionId"`
	TimeStamp        time.Time        `json:"timeStamp"`
	VnfInstanceID    string           `json:"vnfInstanceId"`
	Links            LccnLinks        `json:"_links"`
}
