package asyncpoll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/models"
)

// DefaultInterval is the wait used when Retry-After is absent or invalid.
const DefaultInterval = 5 * time.Second

const maxBodySize = 4 << 20

// ErrNoLocation is returned when a 202 response carries no Location header.
var ErrNoLocation = errors.New("location header not included in response")

// StatusError is returned for an unexpected HTTP status.
type StatusError struct {
	StatusCode int
	Problem    *models.ProblemDetails
	Body       []byte
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Problem != nil && e.Problem.Detail != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Problem.Detail)
	}
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

func newStatusError(code int, body []byte) *StatusError {
	e := &StatusError{StatusCode: code, Body: body}
	var pd models.ProblemDetails
	if len(body) > 0 && json.Unmarshal(body, &pd) == nil && (pd.Detail != "" || pd.Title != "") {
		e.Problem = &pd
	}
	return e
}

// Exchange describes one asynchronous REST exchange: a creation request
// answered with 201 (synchronous result), 202 plus Location (poll until
// 200) or 503 (retry creation).
type Exchange struct {
	// Kind names the exchange in logs and metrics, e.g. "grant".
	Kind string

	// Client sends the requests.
	Client *http.Client

	// NewCreate builds the creation request. It is called again for every
	// retry after 503.
	NewCreate func(ctx context.Context) (*http.Request, error)

	// NewPoll builds the poll request for the Location of a 202.
	NewPoll func(ctx context.Context, location string) (*http.Request, error)

	// MaxWait bounds the total time spent waiting. Zero means DefaultMaxWait.
	MaxWait time.Duration

	// DefaultInterval replaces an absent or invalid Retry-After.
	// Zero means DefaultInterval.
	DefaultInterval time.Duration
}

// Response is the final response of an exchange.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// RetryAfter parses a Retry-After header holding delay-seconds. Absent,
// negative and non-integer values (including HTTP-dates) yield def.
func RetryAfter(h http.Header, def time.Duration) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// Do runs the exchange to completion.
func (s *Scheduler) Do(ctx context.Context, ex *Exchange) (*Response, error) {
	interval := ex.DefaultInterval
	if interval <= 0 {
		interval = DefaultInterval
	}
	client := ex.Client
	if client == nil {
		client = http.DefaultClient
	}

	var final *Response
	step := func(ctx context.Context, st *State) (time.Duration, bool, error) {
		var (
			req *http.Request
			err error
		)
		if st.Phase == PhaseCreate {
			req, err = ex.NewCreate(ctx)
		} else {
			req, err = ex.NewPoll(ctx, st.Location)
		}
		if err != nil {
			return 0, false, fmt.Errorf("failed to build %s request: %w", ex.Kind, err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return 0, false, fmt.Errorf("%s request failed: %w", ex.Kind, err)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		_ = resp.Body.Close()
		if err != nil {
			return 0, false, fmt.Errorf("failed to read %s response: %w", ex.Kind, err)
		}
		if s.metrics != nil {
			s.metrics.RecordPollAttempt(ex.Kind, resp.StatusCode)
		}

		switch {
		case st.Phase == PhaseCreate && resp.StatusCode == http.StatusCreated,
			st.Phase == PhasePoll && resp.StatusCode == http.StatusOK:
			final = &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body, Attempts: st.Attempt}
			return 0, true, nil

		case st.Phase == PhaseCreate && resp.StatusCode == http.StatusAccepted:
			loc := resp.Header.Get("Location")
			if loc == "" {
				return 0, false, fmt.Errorf("%s: %w", ex.Kind, ErrNoLocation)
			}
			st.Phase = PhasePoll
			st.Location = loc
			return RetryAfter(resp.Header, interval), false, nil

		case st.Phase == PhaseCreate && resp.StatusCode == http.StatusServiceUnavailable,
			st.Phase == PhasePoll && resp.StatusCode == http.StatusAccepted:
			s.logger.Debug("exchange not ready",
				zap.String("kind", ex.Kind),
				zap.Int("status", resp.StatusCode),
				zap.String("retry_after", resp.Header.Get("Retry-After")),
			)
			return RetryAfter(resp.Header, interval), false, nil

		default:
			return 0, false, newStatusError(resp.StatusCode, body)
		}
	}

	if _, err := s.Run(ctx, ex.Kind, ex.MaxWait, step); err != nil {
		return nil, err
	}
	return final, nil
}
