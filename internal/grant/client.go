// Package grant obtains resource grants from the NFVO before an LCM
// operation changes infrastructure resources. Client talks to an external
// grant authority over SOL003 Grant; LocalNFVO issues grants in-process.
package grant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/asyncpoll"
	"github.com/piwi3910/vnfm/internal/httpauth"
	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/observability"
)

// APIVersion is sent in the Version header of every grant request.
const APIVersion = "1.4.0"

const grantsPath = "/grant/v1/grants"

// ErrInvalidEndpoint is returned when the grant endpoint is not an absolute URL.
var ErrInvalidEndpoint = errors.New("invalid grant endpoint")

// Requester obtains a grant for a grant request.
type Requester interface {
	RequestGrant(ctx context.Context, req *models.GrantRequest) (*models.Grant, error)
}

// Config configures a Client.
type Config struct {
	// Endpoint is the base URL of the grant authority.
	Endpoint string

	// Auth authenticates requests. Nil sends them unauthenticated.
	Auth *models.SubscriptionAuthentication

	// Timeout bounds each HTTP request.
	Timeout time.Duration

	// DefaultRetryInterval replaces an absent or invalid Retry-After.
	DefaultRetryInterval time.Duration

	// MaxRetryWait bounds the total time spent waiting on 503 and 202.
	MaxRetryWait time.Duration
}

// Client requests grants from an external NFVO.
// It keeps no state between calls.
type Client struct {
	endpoint *url.URL
	cfg      Config
	http     *http.Client
	sched    *asyncpoll.Scheduler
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewClient creates a grant client. metrics may be nil.
func NewClient(ctx context.Context, cfg Config, sched *asyncpoll.Scheduler, logger *zap.Logger, metrics *observability.Metrics) (*Client, error) {
	endpoint, err := url.Parse(strings.TrimSuffix(cfg.Endpoint, "/"))
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, cfg.Endpoint)
	}
	if cfg.DefaultRetryInterval <= 0 {
		cfg.DefaultRetryInterval = asyncpoll.DefaultInterval
	}
	if cfg.MaxRetryWait <= 0 {
		cfg.MaxRetryWait = asyncpoll.DefaultMaxWait
	}

	client, err := httpauth.NewClient(ctx, cfg.Auth, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant http client: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		endpoint: endpoint,
		cfg:      cfg,
		http:     client,
		sched:    sched,
		logger:   logger.With(zap.String("component", "grant")),
		metrics:  metrics,
	}, nil
}

// RequestGrant posts the grant request and returns the NFVO's decision.
// A 202 answer is polled at its Location until the grant is ready.
func (c *Client) RequestGrant(ctx context.Context, req *models.GrantRequest) (*models.Grant, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal grant request: %w", err)
	}

	logger := c.logger.With(observability.OpOccFields(req.VnfLcmOpOccID, req.VnfInstanceID, string(req.Operation))...)
	logger.Debug("requesting grant")

	ex := &asyncpoll.Exchange{
		Kind:            "grant",
		Client:          c.http,
		MaxWait:         c.cfg.MaxRetryWait,
		DefaultInterval: c.cfg.DefaultRetryInterval,
		NewCreate: func(ctx context.Context) (*http.Request, error) {
			r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String()+grantsPath, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			r.Header.Set("Content-Type", "application/json")
			setHeaders(r)
			return r, nil
		},
		NewPoll: func(ctx context.Context, location string) (*http.Request, error) {
			loc, err := c.endpoint.Parse(location)
			if err != nil {
				return nil, fmt.Errorf("invalid grant location %q: %w", location, err)
			}
			r, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.String(), nil)
			if err != nil {
				return nil, err
			}
			setHeaders(r)
			return r, nil
		},
	}

	grant, err := c.exchange(ctx, ex)
	if c.metrics != nil {
		c.metrics.RecordGrant(string(req.Operation), err)
	}
	if err != nil {
		logger.Warn("grant request failed", zap.Error(err))
		return nil, err
	}

	logger.Info("grant obtained", zap.String("grant_id", grant.ID))
	return grant, nil
}

func (c *Client) exchange(ctx context.Context, ex *asyncpoll.Exchange) (*models.Grant, error) {
	resp, err := c.sched.Do(ctx, ex)
	if err != nil {
		return nil, fmt.Errorf("grant request failed: %w", err)
	}

	var grant models.Grant
	if err := json.Unmarshal(resp.Body, &grant); err != nil {
		return nil, fmt.Errorf("failed to decode grant: %w", err)
	}
	if grant.ID == "" {
		return nil, fmt.Errorf("failed to decode grant: missing id")
	}
	return &grant, nil
}

func setHeaders(r *http.Request) {
	r.Header.Set("Accept", "application/json")
	r.Header.Set("Version", APIVersion)
}
