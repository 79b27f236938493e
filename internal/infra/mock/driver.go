// Package mock provides an in-memory infra driver. It keeps stacks in
// memory, assigns random physical ids and can be told to fail, which
// makes it the driver of choice for tests and demos.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/piwi3910/vnfm/internal/infra"
	"github.com/piwi3910/vnfm/internal/models"
)

// VimType is the VIM type served by the driver.
const VimType = "mock"

type stack struct {
	status    infra.Status
	resources map[string]infra.Resource
	unhealthy map[string]bool
}

// Driver is an in-memory infra.Driver.
type Driver struct {
	mu         sync.Mutex
	stacks     map[string]*stack
	failApply  []string
	failDelete []string
	created    int
	applies    int
}

// NewDriver creates an empty driver.
func NewDriver() *Driver {
	return &Driver{stacks: make(map[string]*stack)}
}

// Name implements infra.Driver.
func (d *Driver) Name() string {
	return "mock"
}

// VimType implements infra.Driver.
func (d *Driver) VimType() string {
	return VimType
}

// FailNextApply makes the next Apply leave the stack in a failed status
// with reason. Calls queue up.
func (d *Driver) FailNextApply(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failApply = append(d.failApply, reason)
}

// FailNextDelete makes the next Delete leave the stack in DELETE_FAILED.
func (d *Driver) FailNextDelete(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failDelete = append(d.failDelete, reason)
}

// Created returns how many resources were created so far.
func (d *Driver) Created() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created
}

// Applies returns how many times Apply was called.
func (d *Driver) Applies() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applies
}

// Stacks returns the names of existing stacks.
func (d *Driver) Stacks() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.stacks))
	for n := range d.stacks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Apply implements infra.Driver. Resources already present keep their
// physical ids unless marked unhealthy.
func (d *Driver) Apply(_ context.Context, _ *models.VimConnectionInfo, spec *infra.StackSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applies++

	s, exists := d.stacks[spec.Name]
	op := "UPDATE"
	if !exists {
		op = "CREATE"
		s = &stack{resources: make(map[string]infra.Resource), unhealthy: make(map[string]bool)}
		d.stacks[spec.Name] = s
	}

	if len(d.failApply) > 0 {
		reason := d.failApply[0]
		d.failApply = d.failApply[1:]
		s.status = infra.Status{Status: op + "_FAILED", Reason: reason}
		return nil
	}

	desired := desiredResources(spec)
	for name, kind := range desired {
		r, ok := s.resources[name]
		if ok && !s.unhealthy[name] {
			continue
		}
		r = infra.Resource{
			Name:       name,
			Kind:       kind,
			PhysicalID: uuid.New().String(),
			Type:       string(kind),
			Status:     op + "_COMPLETE",
		}
		s.resources[name] = r
		d.created++
	}
	for name := range s.resources {
		if _, ok := desired[name]; !ok {
			delete(s.resources, name)
		}
	}
	s.unhealthy = make(map[string]bool)
	s.status = infra.Status{Status: op + "_COMPLETE"}
	return nil
}

// Delete implements infra.Driver.
func (d *Driver) Delete(_ context.Context, _ *models.VimConnectionInfo, stackName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.stacks[stackName]
	if !ok {
		return nil
	}
	if len(d.failDelete) > 0 {
		reason := d.failDelete[0]
		d.failDelete = d.failDelete[1:]
		s.status = infra.Status{Status: "DELETE_FAILED", Reason: reason}
		return nil
	}
	delete(d.stacks, stackName)
	return nil
}

// Status implements infra.Driver.
func (d *Driver) Status(_ context.Context, _ *models.VimConnectionInfo, stackName string) (*infra.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.stacks[stackName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", infra.ErrStackNotFound, stackName)
	}
	st := s.status
	return &st, nil
}

// Resources implements infra.Driver.
func (d *Driver) Resources(_ context.Context, _ *models.VimConnectionInfo, stackName string) ([]infra.Resource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.stacks[stackName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", infra.ErrStackNotFound, stackName)
	}
	out := make([]infra.Resource, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ResourceInfo implements infra.Driver.
func (d *Driver) ResourceInfo(_ context.Context, _ *models.VimConnectionInfo, stackName, resourceName string) (*infra.Resource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.stacks[stackName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", infra.ErrStackNotFound, stackName)
	}
	r, ok := s.resources[resourceName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", infra.ErrResourceNotFound, resourceName)
	}
	return &r, nil
}

// MarkUnhealthy implements infra.Driver.
func (d *Driver) MarkUnhealthy(_ context.Context, _ *models.VimConnectionInfo, stackName string, resourceNames []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.stacks[stackName]
	if !ok {
		return fmt.Errorf("%w: %s", infra.ErrStackNotFound, stackName)
	}
	for _, n := range resourceNames {
		if _, ok := s.resources[n]; !ok {
			return fmt.Errorf("%w: %s", infra.ErrResourceNotFound, n)
		}
		s.unhealthy[n] = true
	}
	return nil
}

func desiredResources(spec *infra.StackSpec) map[string]infra.ResourceKind {
	out := make(map[string]infra.ResourceKind)
	for _, vl := range spec.VirtualLinks {
		out[vl.ID] = infra.KindNetwork
	}
	for _, v := range spec.Vnfcs {
		out[v.ID] = infra.KindCompute
		for _, s := range v.Storages {
			out[s.ID] = infra.KindStorage
		}
		for _, p := range v.Ports {
			out[infra.PortName(v.ID, p.CpdID)] = infra.KindPort
		}
	}
	return out
}
