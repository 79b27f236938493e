// Package httpauth builds authenticated HTTP clients from SOL013
// authentication descriptors. BASIC and OAUTH2_CLIENT_CREDENTIALS are
// supported; certificate based schemes are rejected.
package httpauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/piwi3910/vnfm/internal/models"
)

var (
	// ErrUnsupportedAuthType is returned for authentication types this
	// VNFM cannot use. Handlers map it to an invalid subscription error.
	ErrUnsupportedAuthType = errors.New("unsupported authentication type")

	// ErrInvalidParams is returned when the parameters for the selected
	// authentication type are missing.
	ErrInvalidParams = errors.New("invalid authentication parameters")
)

// Validate checks that auth selects a supported type with its parameters.
// A nil auth is valid and means no authentication.
func Validate(auth *models.SubscriptionAuthentication) error {
	if auth == nil {
		return nil
	}
	if len(auth.AuthType) == 0 {
		return fmt.Errorf("%w: authType is empty", ErrInvalidParams)
	}

	for _, t := range auth.AuthType {
		switch t {
		case models.AuthBasic:
			p := auth.ParamsBasic
			if p == nil || p.UserName == "" || p.Password == "" {
				return fmt.Errorf("%w: paramsBasic must be specified", ErrInvalidParams)
			}
		case models.AuthOAuth2ClientCredentials:
			p := auth.ParamsOauth2ClientCredentials
			if p == nil || p.ClientID == "" || p.ClientPassword == "" || p.TokenEndpoint == "" {
				return fmt.Errorf("%w: paramsOauth2ClientCredentials must be specified", ErrInvalidParams)
			}
			if u, err := url.Parse(p.TokenEndpoint); err != nil || u.Host == "" {
				return fmt.Errorf("%w: invalid tokenEndpoint", ErrInvalidParams)
			}
		case models.AuthOAuth2ClientCert, models.AuthTLSCert:
			return fmt.Errorf("%w: %s", ErrUnsupportedAuthType, t)
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedAuthType, t)
		}
	}
	return nil
}

// NewClient returns an HTTP client that authenticates every request as
// described by auth. When auth lists several types the first one wins.
func NewClient(ctx context.Context, auth *models.SubscriptionAuthentication, timeout time.Duration) (*http.Client, error) {
	if err := Validate(auth); err != nil {
		return nil, err
	}

	base := &http.Client{
		Transport: http.DefaultTransport.(*http.Transport).Clone(),
		Timeout:   timeout,
	}
	if auth == nil {
		return base, nil
	}

	switch auth.AuthType[0] {
	case models.AuthBasic:
		base.Transport = &basicTransport{
			username: auth.ParamsBasic.UserName,
			password: auth.ParamsBasic.Password,
			next:     base.Transport,
		}
		return base, nil

	default:
		p := auth.ParamsOauth2ClientCredentials
		config := clientcredentials.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientPassword,
			TokenURL:     p.TokenEndpoint,
			AuthStyle:    oauth2.AuthStyleInHeader,
		}

		// The token source fetches tokens with base; it outlives ctx.
		ctx = context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, base)

		c := config.Client(ctx)
		c.Timeout = timeout
		return c, nil
	}
}

// basicTransport adds HTTP basic credentials to each request.
type basicTransport struct {
	username string
	password string
	next     http.RoundTripper
}

func (t *basicTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.username, t.password)
	return t.next.RoundTrip(r)
}
