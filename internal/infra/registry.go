package infra

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DriverMetadata describes a registered driver.
type DriverMetadata struct {
	// Name is the driver name.
	Name string

	// VimType is the VIM type the driver serves.
	VimType string

	// Default marks the driver used for instances without a VIM type.
	Default bool

	// RegisteredAt is when the driver was registered.
	RegisteredAt time.Time
}

// Registry holds the drivers keyed by VIM type.
type Registry struct {
	mu            sync.RWMutex
	drivers       map[string]Driver
	meta          map[string]*DriverMetadata
	defaultDriver string
	logger        *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		drivers: make(map[string]Driver),
		meta:    make(map[string]*DriverMetadata),
		logger:  logger,
	}
}

// Register adds a driver. Registering a second driver for the same VIM
// type is an error.
func (r *Registry) Register(d Driver, isDefault bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	vimType := d.VimType()
	if _, exists := r.drivers[vimType]; exists {
		return fmt.Errorf("driver for vim type %s already registered", vimType)
	}

	r.drivers[vimType] = d
	r.meta[vimType] = &DriverMetadata{
		Name:         d.Name(),
		VimType:      vimType,
		Default:      isDefault,
		RegisteredAt: time.Now(),
	}
	if isDefault {
		if prev, ok := r.meta[r.defaultDriver]; ok {
			prev.Default = false
		}
		r.defaultDriver = vimType
	}

	r.logger.Info("infra driver registered",
		zap.String("driver", d.Name()),
		zap.String("vim_type", vimType),
		zap.Bool("default", isDefault),
	)
	return nil
}

// Get returns the driver for a VIM type. An empty or unknown type falls
// back to the default driver; ErrNoDriver is returned when none applies.
func (r *Registry) Get(vimType string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.drivers[vimType]; ok {
		return d, nil
	}
	if d, ok := r.drivers[r.defaultDriver]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNoDriver, vimType)
}

// ListMetadata returns the metadata of all drivers sorted by VIM type.
func (r *Registry) ListMetadata() []DriverMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DriverMetadata, 0, len(r.meta))
	for _, m := range r.meta {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VimType < out[j].VimType })
	return out
}

// Health fails when no driver is registered. It backs the readiness check.
func (r *Registry) Health(_ context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.drivers) == 0 {
		return fmt.Errorf("%w: none registered", ErrNoDriver)
	}
	return nil
}
