// Package vnfpkg reads onboarded VNF packages from a catalog directory.
// Each package lives in <catalogDir>/<vnfdId>/ and carries a
// Definitions/vnfd.yaml descriptor plus the files it references
// (mgmt-driver hook scripts, Kubernetes manifests).
package vnfpkg

import (
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

var (
	// ErrPackageNotFound is returned when no package exists for a vnfdId.
	ErrPackageNotFound = errors.New("vnf package not found")

	// ErrInvalidVNFD is returned when a descriptor fails validation.
	ErrInvalidVNFD = errors.New("invalid vnfd")

	// ErrFlavourNotFound is returned for an unknown deployment flavour.
	ErrFlavourNotFound = errors.New("deployment flavour not found")

	// ErrInstantiationLevelNotFound is returned for an unknown instantiation level.
	ErrInstantiationLevelNotFound = errors.New("instantiation level not found")

	// ErrAspectNotFound is returned for an unknown scaling aspect.
	ErrAspectNotFound = errors.New("scaling aspect not found")
)

// VNFD is a VNF descriptor.
type VNFD struct {
	VnfdID          string              `yaml:"vnfdId"`
	Provider        string              `yaml:"provider"`
	ProductName     string              `yaml:"productName"`
	SoftwareVersion string              `yaml:"softwareVersion"`
	VnfdVersion     string              `yaml:"vnfdVersion"`
	Flavours        map[string]*Flavour `yaml:"flavours"`
}

// Flavour is a deployment flavour.
type Flavour struct {
	ID                        string                     `yaml:"-"`
	Vdus                      map[string]*Vdu            `yaml:"vdus"`
	VirtualLinks              []string                   `yaml:"virtualLinks"`
	VirtualStorages           map[string]*VirtualStorage `yaml:"virtualStorages"`
	InstantiationLevels       map[string]*Level          `yaml:"instantiationLevels"`
	DefaultInstantiationLevel string                     `yaml:"defaultInstantiationLevel"`
	ScalingAspects            map[string]*ScalingAspect  `yaml:"scalingAspects"`

	// Interfaces maps a mgmt-driver hook name, e.g. instantiate_start,
	// to a script path relative to the package directory.
	Interfaces map[string]string `yaml:"interfaces"`
}

// Vdu is a virtualisation deployment unit.
type Vdu struct {
	ID       string         `yaml:"-"`
	Image    string         `yaml:"image"`
	Flavour  string         `yaml:"flavour"`
	MinCount int            `yaml:"minCount"`
	MaxCount int            `yaml:"maxCount"`
	Storages []string       `yaml:"storages"`
	Cps      map[string]*Cp `yaml:"cps"`

	// Manifest is a Kubernetes Pod manifest relative to the package
	// directory. Only the Kubernetes driver uses it.
	Manifest string `yaml:"manifest"`
}

// Cp is a VDU connection point. A CP without VirtualLink is external and
// bound by the extVirtualLinks of the request.
type Cp struct {
	VirtualLink string `yaml:"virtualLink"`
}

// VirtualStorage describes a block storage attached to VNFCs.
type VirtualStorage struct {
	SizeGB int `yaml:"sizeGb"`
}

// Level is an instantiation level.
type Level struct {
	// VduCounts is the number of VNFCs per VDU.
	VduCounts map[string]int `yaml:"vduCounts"`

	// ScaleLevels is the scale level per aspect at this level.
	ScaleLevels map[string]int `yaml:"scaleLevels"`
}

// ScalingAspect describes how one scaling step changes VNFC counts.
type ScalingAspect struct {
	MaxScaleLevel int            `yaml:"maxScaleLevel"`
	Deltas        map[string]int `yaml:"deltas"`
}

// Parse decodes and validates a descriptor.
func Parse(data []byte) (*VNFD, error) {
	var v VNFD
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVNFD, err)
	}
	if err := v.validate(); err != nil {
		return nil, err
	}
	return &v, nil
}

func (v *VNFD) validate() error {
	if v.VnfdID == "" {
		return fmt.Errorf("%w: vnfdId is required", ErrInvalidVNFD)
	}
	if len(v.Flavours) == 0 {
		return fmt.Errorf("%w: at least one flavour is required", ErrInvalidVNFD)
	}

	for fid, f := range v.Flavours {
		if f == nil {
			return fmt.Errorf("%w: flavour %s is empty", ErrInvalidVNFD, fid)
		}
		f.ID = fid
		for vid, vdu := range f.Vdus {
			if vdu == nil {
				return fmt.Errorf("%w: vdu %s is empty", ErrInvalidVNFD, vid)
			}
			vdu.ID = vid
			if vdu.MaxCount > 0 && vdu.MinCount > vdu.MaxCount {
				return fmt.Errorf("%w: vdu %s minCount exceeds maxCount", ErrInvalidVNFD, vid)
			}
			for _, s := range vdu.Storages {
				if _, ok := f.VirtualStorages[s]; !ok {
					return fmt.Errorf("%w: vdu %s references unknown storage %s", ErrInvalidVNFD, vid, s)
				}
			}
			for cpID, cp := range vdu.Cps {
				if cp != nil && cp.VirtualLink != "" && !contains(f.VirtualLinks, cp.VirtualLink) {
					return fmt.Errorf("%w: cp %s references unknown virtual link %s", ErrInvalidVNFD, cpID, cp.VirtualLink)
				}
			}
		}
		for lid, l := range f.InstantiationLevels {
			if l == nil {
				return fmt.Errorf("%w: instantiation level %s is empty", ErrInvalidVNFD, lid)
			}
			for vid := range l.VduCounts {
				if _, ok := f.Vdus[vid]; !ok {
					return fmt.Errorf("%w: instantiation level %s references unknown vdu %s", ErrInvalidVNFD, lid, vid)
				}
			}
		}
		if f.DefaultInstantiationLevel != "" {
			if _, ok := f.InstantiationLevels[f.DefaultInstantiationLevel]; !ok {
				return fmt.Errorf("%w: unknown default instantiation level %s", ErrInvalidVNFD, f.DefaultInstantiationLevel)
			}
		}
		for aid, a := range f.ScalingAspects {
			if a == nil || a.MaxScaleLevel < 0 {
				return fmt.Errorf("%w: invalid scaling aspect %s", ErrInvalidVNFD, aid)
			}
			for vid, d := range a.Deltas {
				if _, ok := f.Vdus[vid]; !ok || d <= 0 {
					return fmt.Errorf("%w: aspect %s has invalid delta for vdu %s", ErrInvalidVNFD, aid, vid)
				}
			}
		}
	}
	return nil
}

// Flavour returns the deployment flavour with the given id.
func (v *VNFD) Flavour(id string) (*Flavour, error) {
	f, ok := v.Flavours[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFlavourNotFound, id)
	}
	return f, nil
}

// Level returns an instantiation level. An empty id selects the default
// level; a flavour without levels yields one VNFC per VDU.
func (f *Flavour) Level(id string) (*Level, error) {
	if id == "" {
		id = f.DefaultInstantiationLevel
	}
	if id == "" {
		l := &Level{VduCounts: make(map[string]int, len(f.Vdus))}
		for vid, vdu := range f.Vdus {
			l.VduCounts[vid] = max(vdu.MinCount, 1)
		}
		return l, nil
	}
	l, ok := f.InstantiationLevels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstantiationLevelNotFound, id)
	}
	return l, nil
}

// Aspect returns a scaling aspect.
func (f *Flavour) Aspect(id string) (*ScalingAspect, error) {
	a, ok := f.ScalingAspects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAspectNotFound, id)
	}
	return a, nil
}

// AspectIDs returns the scaling aspect ids in sorted order.
func (f *Flavour) AspectIDs() []string {
	ids := make([]string, 0, len(f.ScalingAspects))
	for id := range f.ScalingAspects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// VduIDs returns the VDU ids in sorted order.
func (f *Flavour) VduIDs() []string {
	ids := make([]string, 0, len(f.Vdus))
	for id := range f.Vdus {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CpIDs returns the connection point ids of a VDU in sorted order.
func (v *Vdu) CpIDs() []string {
	ids := make([]string, 0, len(v.Cps))
	for id := range v.Cps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
