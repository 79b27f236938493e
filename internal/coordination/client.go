// Package coordination asks an external coordinator whether an LCM step
// may proceed (SOL002 LCM coordination). Only CHANGE_VNFPKG consults it,
// between the per-VNFC steps of a rolling update.
package coordination

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/asyncpoll"
	"github.com/piwi3910/vnfm/internal/httpauth"
	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/observability"
)

// APIVersion is sent in the Version header of every coordination request.
const APIVersion = "1.0.0"

const coordinationsPath = "/lcmcoord/v1/coordinations"

// DefaultTimeout bounds one coordination when none is configured.
const DefaultTimeout = time.Hour

var (
	// ErrCancelNotSupported is returned by Cancel.
	ErrCancelNotSupported = errors.New("cancelling a coordination is not supported")

	// ErrInvalidEndpoint is returned when the coordinator endpoint is not
	// an absolute URL.
	ErrInvalidEndpoint = errors.New("invalid coordination endpoint")

	// ErrInvalidTimeout is returned when the timeout is shorter than the
	// retry interval.
	ErrInvalidTimeout = errors.New("coordination timeout is shorter than the retry interval")

	// ErrAborted is returned by Continue when the coordinator decides
	// against proceeding.
	ErrAborted = errors.New("coordination did not allow the operation to continue")
)

// Coordinator creates coordinations.
type Coordinator interface {
	CreateCoordination(ctx context.Context, endpoint string, req *models.CoordinationRequest) (*models.CoordinationResult, error)
}

// Config holds the settings of a Client.
type Config struct {
	// Auth authenticates requests. Nil sends them unauthenticated.
	Auth *models.SubscriptionAuthentication

	// Timeout is the wait budget of one coordination shared by its 503
	// retries and its polls.
	Timeout time.Duration

	// DefaultRetryInterval replaces an absent or invalid Retry-After.
	DefaultRetryInterval time.Duration

	// HTTPTimeout bounds each HTTP request.
	HTTPTimeout time.Duration
}

// Client is the coordination API client. The endpoint is given per call
// since operations may name their own coordinator; all calls share one
// authenticated HTTP client.
type Client struct {
	cfg     Config
	http    *http.Client
	sched   *asyncpoll.Scheduler
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewClient creates a coordination client.
func NewClient(ctx context.Context, cfg Config, sched *asyncpoll.Scheduler, logger *zap.Logger, metrics *observability.Metrics) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.DefaultRetryInterval <= 0 {
		cfg.DefaultRetryInterval = asyncpoll.DefaultInterval
	}
	if cfg.Timeout < cfg.DefaultRetryInterval {
		return nil, fmt.Errorf("%w: %s < %s", ErrInvalidTimeout, cfg.Timeout, cfg.DefaultRetryInterval)
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}

	client, err := httpauth.NewClient(ctx, cfg.Auth, cfg.HTTPTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create coordination http client: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		http:    client,
		sched:   sched,
		logger:  logger.With(zap.String("component", "coordination")),
		metrics: metrics,
	}, nil
}

// CreateCoordination runs one coordination to completion.
func (c *Client) CreateCoordination(ctx context.Context, endpoint string, req *models.CoordinationRequest) (*models.CoordinationResult, error) {
	base, err := url.Parse(strings.TrimSuffix(endpoint, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal coordination request: %w", err)
	}

	collection := base.String() + coordinationsPath
	ex := &asyncpoll.Exchange{
		Kind:            "coordination",
		Client:          c.http,
		MaxWait:         c.cfg.Timeout,
		DefaultInterval: c.cfg.DefaultRetryInterval,
		NewCreate: func(ctx context.Context) (*http.Request, error) {
			r, err := http.NewRequestWithContext(ctx, http.MethodPost, collection, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			r.Header.Set("Content-Type", "application/json")
			r.Header.Set("Accept", "application/json")
			r.Header.Set("Version", APIVersion)
			return r, nil
		},
		NewPoll: func(ctx context.Context, location string) (*http.Request, error) {
			r, err := http.NewRequestWithContext(ctx, http.MethodGet, collection+"/"+coordinationID(location), nil)
			if err != nil {
				return nil, err
			}
			r.Header.Set("Accept", "application/json")
			r.Header.Set("Version", APIVersion)
			return r, nil
		},
	}

	logger := c.logger.With(
		zap.String("vnf_lcm_op_occ_id", req.VnfLcmOpOccID),
		zap.String("action", req.CoordinationActionName),
	)

	resp, err := c.sched.Do(ctx, ex)
	if err != nil {
		c.record("error")
		logger.Warn("coordination failed", zap.Error(err))
		return nil, fmt.Errorf("coordination failed: %w", err)
	}

	var result models.CoordinationResult
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		c.record("error")
		return nil, fmt.Errorf("failed to decode coordination result: %w", err)
	}

	c.record(string(result.CoordinationResult))
	logger.Info("coordination completed",
		zap.String("coordination_id", result.ID),
		zap.String("result", string(result.CoordinationResult)),
		zap.Int("attempts", resp.Attempts),
	)
	return &result, nil
}

// Cancel is not supported.
func (c *Client) Cancel(context.Context, string) error {
	return ErrCancelNotSupported
}

// Continue reports whether a result allows the operation to proceed.
// ABORT and CANCELLED yield ErrAborted.
func Continue(result *models.CoordinationResult) error {
	if result != nil && result.CoordinationResult == models.CoordinationContinue {
		return nil
	}
	if result == nil {
		return fmt.Errorf("%w: no result", ErrAborted)
	}
	if result.Warnings != "" {
		return fmt.Errorf("%w: %s (%s)", ErrAborted, result.CoordinationResult, result.Warnings)
	}
	return fmt.Errorf("%w: %s", ErrAborted, result.CoordinationResult)
}

func (c *Client) record(result string) {
	if c.metrics != nil {
		c.metrics.RecordCoordination(result)
	}
}

// coordinationID is the last path segment of a Location value.
func coordinationID(location string) string {
	if u, err := url.Parse(location); err == nil {
		location = u.Path
	}
	return path.Base(strings.TrimSuffix(location, "/"))
}
