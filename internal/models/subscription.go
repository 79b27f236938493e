package models

import "time"

// LccnSubscriptionRequest is the body of a subscription creation request.
type LccnSubscriptionRequest struct {
	// Filter selects the notifications of interest. Absent means all.
	Filter *LifecycleChangeNotificationsFilter `json:"filter,omitempty"`

	// CallbackURI is where notifications are POSTed.
	CallbackURI string `json:"callbackUri" binding:"required"`

	// Authentication describes how to authenticate against the callback.
	Authentication *SubscriptionAuthentication `json:"authentication,omitempty"`

	// Verbosity is FULL (default) or SHORT.
	Verbosity Verbosity `json:"verbosity,omitempty"`
}

// LccnSubscription is a lifecycle change notification subscription.
type LccnSubscription struct {
	// ID is the identifier of the subscription.
	ID string `json:"id"`

	// Filter selects the notifications of interest.
	Filter *LifecycleChangeNotificationsFilter `json:"filter,omitempty"`

	// CallbackURI is where notifications are POSTed.
	CallbackURI string `json:"callbackUri"`

	// Authentication is kept server side and never returned to clients.
	Authentication *SubscriptionAuthentication `json:"authentication,omitempty"`

	// Verbosity is FULL or SHORT.
	Verbosity Verbosity `json:"verbosity"`

	// CreatedAt is when the subscription was created.
	CreatedAt time.Time `json:"createdAt,omitempty"`

	Links *SubscriptionLinks `json:"_links,omitempty"`
}

// SubscriptionLinks contains the links of a subscription.
type SubscriptionLinks struct {
	Self Link `json:"self"`
}

// LifecycleChangeNotificationsFilter selects notifications for a subscription.
// All present criteria must match.
type LifecycleChangeNotificationsFilter struct {
	VnfInstanceSubscriptionFilter *VnfInstanceSubscriptionFilter `json:"vnfInstanceSubscriptionFilter,omitempty"`
	NotificationTypes             []NotificationType             `json:"notificationTypes,omitempty"`
	OperationTypes                []Operation                    `json:"operationTypes,omitempty"`
	OperationStates               []OperationState               `json:"operationStates,omitempty"`
}

// VnfInstanceSubscriptionFilter selects VNF instances.
type VnfInstanceSubscriptionFilter struct {
	VnfdIDs                  []string                   `json:"vnfdIds,omitempty"`
	VnfProductsFromProviders []VnfProductsFromProviders `json:"vnfProductsFromProviders,omitempty"`
	VnfInstanceIDs           []string                   `json:"vnfInstanceIds,omitempty"`
	VnfInstanceNames         []string                   `json:"vnfInstanceNames,omitempty"`
}

// VnfProductsFromProviders selects instances by provider and product.
type VnfProductsFromProviders struct {
	VnfProvider string       `json:"vnfProvider"`
	VnfProducts []VnfProduct `json:"vnfProducts,omitempty"`
}

// VnfProduct selects instances by product name and versions.
type VnfProduct struct {
	VnfProductName string       `json:"vnfProductName"`
	Versions       []VnfVersion `json:"versions,omitempty"`
}

// VnfVersion selects instances by software version and VNFD versions.
type VnfVersion struct {
	VnfSoftwareVersion string   `json:"vnfSoftwareVersion"`
	VnfdVersions       []string `json:"vnfdVersions,omitempty"`
}

// SubscriptionAuthentication describes how to authenticate to a callback
// or an NFVO endpoint.
type SubscriptionAuthentication struct {
	AuthType                      []AuthType                     `json:"authType"`
	ParamsBasic                   *ParamsBasic                   `json:"paramsBasic,omitempty"`
	ParamsOauth2ClientCredentials *ParamsOauth2ClientCredentials `json:"paramsOauth2ClientCredentials,omitempty"`
}

// ParamsBasic holds HTTP basic credentials.
type ParamsBasic struct {
	UserName string `json:"userName" mapstructure:"userName"`
	Password string `json:"password" mapstructure:"password"`
}

// ParamsOauth2ClientCredentials holds OAuth2 client credentials grant parameters.
type ParamsOauth2ClientCredentials struct {
	ClientID       string `json:"clientId" mapstructure:"clientId"`
	ClientPassword string `json:"clientPassword" mapstructure:"clientPassword"`
	TokenEndpoint  string `json:"tokenEndpoint" mapstructure:"tokenEndpoint"`
}

// Redacted returns a copy of the subscription without authentication data.
func (s *LccnSubscription) Redacted() *LccnSubscription {
	out := *s
	out.Authentication = nil
	return &out
}
