package asyncpoll

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/piwi3910/vnfm/internal/observability"
)

func newTestScheduler(t *testing.T) (*Scheduler, *FakeClock) {
	t.Helper()
	clock := NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewScheduler(clock, zaptest.NewLogger(t), nil)
	t.Cleanup(s.Stop)
	return s, clock
}

func exchangeFor(srv *httptest.Server) *Exchange {
	return &Exchange{
		Kind:   "test",
		Client: srv.Client(),
		NewCreate: func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/things", nil)
		},
		NewPoll: func(ctx context.Context, location string) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		},
	}
}

type doResult struct {
	resp *Response
	err  error
}

func goDo(s *Scheduler, ex *Exchange) <-chan doResult {
	ch := make(chan doResult, 1)
	go func() {
		resp, err := s.Do(context.Background(), ex)
		ch <- doResult{resp: resp, err: err}
	}()
	return ch
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "absent", value: "", want: DefaultInterval},
		{name: "seconds", value: "3", want: 3 * time.Second},
		{name: "zero", value: "0", want: 0},
		{name: "negative", value: "-1", want: DefaultInterval},
		{name: "garbage", value: "not-a-number", want: DefaultInterval},
		{name: "http date", value: "Wed, 21 Oct 2015 07:28:00 GMT", want: DefaultInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.value != "" {
				h.Set("Retry-After", tt.value)
			}
			assert.Equal(t, tt.want, RetryAfter(h, DefaultInterval))
		})
	}
}

func TestDo_Synchronous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"g1"}`))
	}))
	defer srv.Close()

	s, clock := newTestScheduler(t)
	resp, err := s.Do(context.Background(), exchangeFor(srv))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"id":"g1"}`, string(resp.Body))
	assert.Equal(t, 1, resp.Attempts)
	assert.Empty(t, clock.Waits())
}

func TestDo_AsyncObeysRetryAfter(t *testing.T) {
	var calls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method == http.MethodPost {
			w.Header().Set("Location", srv.URL+"/things/123")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusAccepted)
			return
		}
		assert.Equal(t, "/things/123", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"123"}`))
	}))
	defer srv.Close()

	s, clock := newTestScheduler(t)
	done := goDo(s, exchangeFor(srv))

	clock.BlockUntil(1)
	assert.Equal(t, int32(1), calls.Load())

	// Not yet due.
	clock.Advance(999 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	clock.Advance(time.Millisecond)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, http.StatusOK, res.resp.StatusCode)
	assert.Equal(t, 2, res.resp.Attempts)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []time.Duration{time.Second}, clock.Waits())
}

func TestDo_MalformedRetryAfterFallsBack(t *testing.T) {
	var calls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method == http.MethodPost {
			w.Header().Set("Location", srv.URL+"/things/123")
			w.Header().Set("Retry-After", "not-a-number")
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, clock := newTestScheduler(t)
	done := goDo(s, exchangeFor(srv))

	clock.BlockUntil(1)
	clock.Advance(DefaultInterval)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, []time.Duration{DefaultInterval}, clock.Waits())
}

func TestDo_ServiceUnavailableRetriesCreate(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if posts.Add(1) < 3 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s, clock := newTestScheduler(t)
	done := goDo(s, exchangeFor(srv))

	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(2 * time.Second)
	}
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, int32(3), posts.Load())
	assert.Equal(t, 3, res.resp.Attempts)
}

func TestDo_ServiceUnavailableBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "10")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, clock := newTestScheduler(t)
	ex := exchangeFor(srv)
	ex.MaxWait = 25 * time.Second
	done := goDo(s, ex)

	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(10 * time.Second)
	}
	res := <-done
	require.ErrorIs(t, res.err, ErrRetryTimeout)
}

func TestDo_MissingLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s, _ := newTestScheduler(t)
	_, err := s.Do(context.Background(), exchangeFor(srv))
	require.ErrorIs(t, err, ErrNoLocation)
}

func TestDo_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"status":403,"detail":"grant rejected"}`))
	}))
	defer srv.Close()

	s, _ := newTestScheduler(t)
	_, err := s.Do(context.Background(), exchangeFor(srv))

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	require.NotNil(t, statusErr.Problem)
	assert.Equal(t, "grant rejected", statusErr.Problem.Detail)
	assert.Contains(t, err.Error(), "grant rejected")
}

func TestDo_RecordsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	s := NewScheduler(RealClock{}, zaptest.NewLogger(t), metrics)
	defer s.Stop()

	_, err := s.Do(context.Background(), exchangeFor(srv))
	require.NoError(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.PollAttemptsTotal.WithLabelValues("test", "201")), 0)
}
