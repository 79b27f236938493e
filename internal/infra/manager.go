package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/asyncpoll"
	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/observability"
)

const (
	// DefaultPollInterval is the status check interval.
	DefaultPollInterval = 5 * time.Second

	// DefaultTimeout bounds one infra operation.
	DefaultTimeout = time.Hour
)

// Manager runs stack operations to completion on the driver selected by
// the VIM type.
type Manager struct {
	registry *Registry
	sched    *asyncpoll.Scheduler
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewManager creates a manager. metrics may be nil.
func NewManager(registry *Registry, sched *asyncpoll.Scheduler, interval, timeout time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Manager {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		registry: registry,
		sched:    sched,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "infra")),
		metrics:  metrics,
	}
}

// Apply converges the stack to spec and returns its resources keyed by
// name.
func (m *Manager) Apply(ctx context.Context, vim *models.VimConnectionInfo, spec *StackSpec) (map[string]Resource, error) {
	d, err := m.driver(vim)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := m.apply(ctx, d, vim, spec)
	m.record(d, "apply", start, err)
	return res, err
}

// Heal recreates the named resources and converges the stack to spec.
func (m *Manager) Heal(ctx context.Context, vim *models.VimConnectionInfo, spec *StackSpec, resourceNames []string) (map[string]Resource, error) {
	d, err := m.driver(vim)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := m.heal(ctx, d, vim, spec, resourceNames)
	m.record(d, "heal", start, err)
	return res, err
}

// Delete removes the stack and waits until it is gone.
func (m *Manager) Delete(ctx context.Context, vim *models.VimConnectionInfo, stackName string) error {
	d, err := m.driver(vim)
	if err != nil {
		return err
	}

	start := time.Now()
	err = m.delete(ctx, d, vim, stackName)
	m.record(d, "delete", start, err)
	return err
}

// ResourceInfo returns one resource of a stack.
func (m *Manager) ResourceInfo(ctx context.Context, vim *models.VimConnectionInfo, stackName, resourceName string) (*Resource, error) {
	d, err := m.driver(vim)
	if err != nil {
		return nil, err
	}
	return d.ResourceInfo(ctx, vim, stackName, resourceName)
}

func (m *Manager) apply(ctx context.Context, d Driver, vim *models.VimConnectionInfo, spec *StackSpec) (map[string]Resource, error) {
	if err := d.Apply(ctx, vim, spec); err != nil {
		return nil, fmt.Errorf("failed to apply stack %s: %w", spec.Name, err)
	}
	if err := m.wait(ctx, d, vim, spec.Name); err != nil {
		return nil, err
	}
	return m.resources(ctx, d, vim, spec.Name)
}

func (m *Manager) heal(ctx context.Context, d Driver, vim *models.VimConnectionInfo, spec *StackSpec, names []string) (map[string]Resource, error) {
	if len(names) > 0 {
		if err := d.MarkUnhealthy(ctx, vim, spec.Name, names); err != nil {
			return nil, fmt.Errorf("failed to mark resources unhealthy: %w", err)
		}
	}
	return m.apply(ctx, d, vim, spec)
}

func (m *Manager) delete(ctx context.Context, d Driver, vim *models.VimConnectionInfo, stackName string) error {
	if err := d.Delete(ctx, vim, stackName); err != nil {
		return fmt.Errorf("failed to delete stack %s: %w", stackName, err)
	}

	return m.sched.Poll(ctx, "infra", m.interval, m.timeout, func(ctx context.Context) (bool, error) {
		st, err := d.Status(ctx, vim, stackName)
		if errors.Is(err, ErrStackNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if st.Status == "DELETE_COMPLETE" {
			return true, nil
		}
		m.logger.Debug("waiting for stack deletion",
			zap.String("stack", stackName),
			zap.String("status", st.Status),
		)
		_, err = st.Done()
		return false, err
	})
}

// wait polls the stack until it reaches a terminal status.
func (m *Manager) wait(ctx context.Context, d Driver, vim *models.VimConnectionInfo, stackName string) error {
	return m.sched.Poll(ctx, "infra", m.interval, m.timeout, func(ctx context.Context) (bool, error) {
		st, err := d.Status(ctx, vim, stackName)
		if err != nil {
			return false, err
		}
		done, err := st.Done()
		if !done {
			m.logger.Debug("waiting for stack",
				zap.String("stack", stackName),
				zap.String("status", st.Status),
			)
		}
		return done, err
	})
}

func (m *Manager) resources(ctx context.Context, d Driver, vim *models.VimConnectionInfo, stackName string) (map[string]Resource, error) {
	list, err := d.Resources(ctx, vim, stackName)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources of stack %s: %w", stackName, err)
	}
	out := make(map[string]Resource, len(list))
	for _, r := range list {
		out[r.Name] = r
	}
	return out, nil
}

func (m *Manager) driver(vim *models.VimConnectionInfo) (Driver, error) {
	vimType := ""
	if vim != nil {
		vimType = vim.VimType
	}
	return m.registry.Get(vimType)
}

func (m *Manager) record(d Driver, op string, start time.Time, err error) {
	if m.metrics != nil {
		m.metrics.RecordInfraOperation(d.Name(), op, time.Since(start), err)
	}
	if err != nil {
		m.logger.Warn("infra operation failed",
			zap.String("driver", d.Name()),
			zap.String("operation", op),
			zap.Error(err),
		)
	}
}
