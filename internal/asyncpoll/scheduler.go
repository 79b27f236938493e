// Package asyncpoll drives polled work (asynchronous REST exchanges and
// infrastructure status checks) from an explicit per-task poll state. A
// single timer, re-armed for the earliest pending task, schedules every
// next attempt; no goroutine sleeps between polls.
package asyncpoll

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/observability"
)

// DefaultMaxWait bounds the total wait of a task when none is given.
const DefaultMaxWait = time.Hour

var (
	// ErrRetryTimeout is returned when the next wait would exceed the
	// task's wait budget.
	ErrRetryTimeout = errors.New("did not complete within the timeout period")

	// ErrStopped is returned for tasks pending when the scheduler stops.
	ErrStopped = errors.New("poll scheduler stopped")
)

// Phase is the phase of an asynchronous exchange.
type Phase int

const (
	// PhaseCreate repeats the creation request (e.g. after 503).
	PhaseCreate Phase = iota
	// PhasePoll polls the Location returned by a 202.
	PhasePoll
)

// State is the explicit progress of one polled task.
type State struct {
	Phase      Phase
	Location   string
	NextPollAt time.Time
	Attempt    int
	Waited     time.Duration
}

// Step performs one attempt. It returns done once the task finished or
// the wait before the next attempt.
type Step func(ctx context.Context, st *State) (wait time.Duration, done bool, err error)

type task struct {
	ctx     context.Context
	kind    string
	step    Step
	st      State
	maxWait time.Duration
	done    chan error
	index   int
}

// Scheduler runs polled tasks.
type Scheduler struct {
	clock   Clock
	logger  *zap.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	queue   taskHeap
	timer   Timer
	stopped bool
}

// NewScheduler creates a scheduler. metrics may be nil.
func NewScheduler(clock Clock, logger *zap.Logger, metrics *observability.Metrics) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		clock:   clock,
		logger:  logger.With(zap.String("component", "asyncpoll")),
		metrics: metrics,
	}
}

// Clock returns the scheduler's clock.
func (s *Scheduler) Clock() Clock {
	return s.clock
}

// Run executes step until it reports done or fails. The first attempt
// starts immediately. Waits accumulate in State.Waited; a wait that would
// push the total beyond maxWait fails the task with ErrRetryTimeout.
func (s *Scheduler) Run(ctx context.Context, kind string, maxWait time.Duration, step Step) (State, error) {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	t := &task{
		ctx:     ctx,
		kind:    kind,
		step:    step,
		maxWait: maxWait,
		done:    make(chan error, 1),
	}

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return State{}, ErrStopped
	}

	go s.attempt(t)

	select {
	case err := <-t.done:
		return t.st, err
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// Poll calls check every interval until it reports done or fails, for at
// most timeout.
func (s *Scheduler) Poll(ctx context.Context, kind string, interval, timeout time.Duration, check func(ctx context.Context) (bool, error)) error {
	_, err := s.Run(ctx, kind, timeout, func(ctx context.Context, _ *State) (time.Duration, bool, error) {
		done, err := check(ctx)
		if err != nil || done {
			return 0, done, err
		}
		return interval, false, nil
	})
	return err
}

// Stop fails every pending task with ErrStopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	for _, t := range s.queue {
		t.done <- ErrStopped
	}
	s.queue = nil
}

func (s *Scheduler) attempt(t *task) {
	if err := t.ctx.Err(); err != nil {
		t.done <- err
		return
	}

	t.st.Attempt++
	wait, done, err := t.step(t.ctx, &t.st)
	if err != nil || done {
		t.done <- err
		return
	}

	if wait < 0 {
		wait = 0
	}
	if t.st.Waited+wait > t.maxWait {
		t.done <- fmt.Errorf("%s %w (waited %s, limit %s)", t.kind, ErrRetryTimeout, t.st.Waited, t.maxWait)
		return
	}
	t.st.Waited += wait
	t.st.NextPollAt = s.clock.Now().Add(wait)

	s.logger.Debug("next poll scheduled",
		zap.String("kind", t.kind),
		zap.Int("attempt", t.st.Attempt),
		zap.Duration("wait", wait),
	)
	s.schedule(t)
}

func (s *Scheduler) schedule(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		t.done <- ErrStopped
		return
	}
	heap.Push(&s.queue, t)
	if t.index == 0 {
		s.armLocked()
	}
}

// armLocked points the timer at the earliest pending task.
func (s *Scheduler) armLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if len(s.queue) == 0 {
		return
	}
	d := s.queue[0].st.NextPollAt.Sub(s.clock.Now())
	s.timer = s.clock.AfterFunc(d, s.fire)
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	now := s.clock.Now()
	var due []*task
	for len(s.queue) > 0 && !s.queue[0].st.NextPollAt.After(now) {
		due = append(due, heap.Pop(&s.queue).(*task))
	}
	s.timer = nil
	if !s.stopped {
		s.armLocked()
	}
	s.mu.Unlock()

	for _, t := range due {
		go s.attempt(t)
	}
}

// taskHeap orders tasks by NextPollAt.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool { return h[i].st.NextPollAt.Before(h[j].st.NextPollAt) }

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
