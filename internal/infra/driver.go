// Package infra realises VNF resource changes on a VIM. A Driver applies
// a declarative StackSpec for one VNF instance and reports the stack's
// status and resources; the Manager polls drivers to a terminal status.
package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/piwi3910/vnfm/internal/models"
)

var (
	// ErrStackNotFound is returned when the stack of an instance does not exist.
	ErrStackNotFound = errors.New("stack not found")

	// ErrResourceNotFound is returned when a stack has no resource of that name.
	ErrResourceNotFound = errors.New("stack resource not found")

	// ErrNoDriver is returned when no driver serves a VIM type.
	ErrNoDriver = errors.New("no infra driver for vim type")

	// ErrStackFailed is returned when a stack reaches a failed status.
	ErrStackFailed = errors.New("stack operation failed")
)

// ResourceKind classifies stack resources.
type ResourceKind string

const (
	KindCompute ResourceKind = "compute"
	KindStorage ResourceKind = "storage"
	KindNetwork ResourceKind = "network"
	KindPort    ResourceKind = "port"
)

// Driver manages the stacks of one VIM type. Implementations must be
// idempotent: applying the same spec twice converges to the same stack.
type Driver interface {
	// Name identifies the driver in logs and metrics.
	Name() string

	// VimType is the vimConnectionInfo.vimType served by the driver.
	VimType() string

	// Apply creates the stack or updates it to match spec. It returns
	// once the change was accepted; completion is observed with Status.
	Apply(ctx context.Context, vim *models.VimConnectionInfo, spec *StackSpec) error

	// Delete removes the stack. A missing stack is not an error.
	Delete(ctx context.Context, vim *models.VimConnectionInfo, stackName string) error

	// Status returns ErrStackNotFound when the stack does not exist.
	Status(ctx context.Context, vim *models.VimConnectionInfo, stackName string) (*Status, error)

	// Resources lists the resources of the stack.
	Resources(ctx context.Context, vim *models.VimConnectionInfo, stackName string) ([]Resource, error)

	// ResourceInfo returns ErrResourceNotFound for an unknown resource.
	ResourceInfo(ctx context.Context, vim *models.VimConnectionInfo, stackName, resourceName string) (*Resource, error)

	// MarkUnhealthy flags resources so the next Apply recreates them.
	MarkUnhealthy(ctx context.Context, vim *models.VimConnectionInfo, stackName string, resourceNames []string) error
}

// Status is the status of a stack, e.g. CREATE_IN_PROGRESS or
// UPDATE_FAILED.
type Status struct {
	Status string
	Reason string
}

// Done reports whether the status is terminal. A failed or unknown status
// is returned as an error wrapping ErrStackFailed.
func (s *Status) Done() (bool, error) {
	switch {
	case strings.HasSuffix(s.Status, "_COMPLETE"):
		return true, nil
	case strings.HasSuffix(s.Status, "_IN_PROGRESS"):
		return false, nil
	case strings.HasSuffix(s.Status, "_FAILED"):
		reason := s.Reason
		if reason == "" {
			reason = s.Status
		}
		return true, fmt.Errorf("%w: %s", ErrStackFailed, reason)
	default:
		return true, fmt.Errorf("%w: Unknown error", ErrStackFailed)
	}
}

// Resource is a VIM resource of a stack. Name is the VNFM side id, e.g.
// the VNFC id; PhysicalID is the VIM side id.
type Resource struct {
	Name       string
	Kind       ResourceKind
	PhysicalID string
	Type       string
	Status     string
}

// StackSpec is the desired state of the VIM resources of one instance.
type StackSpec struct {
	// Name is the stack name, see StackName.
	Name string

	InstanceID   string
	Vnfcs        []VnfcSpec
	VirtualLinks []VirtualLinkSpec
}

// VnfcSpec describes one VNFC. ID doubles as the resource name.
type VnfcSpec struct {
	ID       string
	VduID    string
	Image    string
	Flavour  string
	Zone     string
	Storages []StorageSpec
	Ports    []PortSpec

	// Manifest is a Kubernetes Pod manifest. Other drivers ignore it.
	Manifest []byte
}

// StorageSpec describes a volume attached to a VNFC.
type StorageSpec struct {
	ID     string
	DescID string
	SizeGB int
}

// PortSpec connects a VNFC to an internal virtual link of the stack or
// to an external network.
type PortSpec struct {
	CpdID string

	// VirtualLink is the id of an internal virtual link of the stack.
	VirtualLink string

	// ExtNetwork is the VIM id of an external network.
	ExtNetwork string
}

// PortName returns the resource name of a VNFC port.
func PortName(vnfcID, cpdID string) string {
	return vnfcID + "-" + cpdID
}

// VirtualLinkSpec describes an internal virtual link.
type VirtualLinkSpec struct {
	ID     string
	DescID string
}

// StackName returns the stack name of an instance.
func StackName(instanceID string) string {
	return "vnf-" + instanceID
}
