package vnfpkg

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DescriptorPath is the location of the descriptor inside a package.
const DescriptorPath = "Definitions/vnfd.yaml"

// ErrInvalidPath is returned for a package file path escaping the package.
var ErrInvalidPath = errors.New("path escapes the package directory")

// Package is an onboarded VNF package.
type Package struct {
	// Dir is the extracted package directory handed to hooks as tmp_csar_dir.
	Dir string

	VNFD *VNFD
}

// HookPath returns the absolute path of the hook script of a flavour.
// ok is false when the flavour defines no script for the hook.
func (p *Package) HookPath(flavourID, hook string) (path string, ok bool, err error) {
	f, err := p.VNFD.Flavour(flavourID)
	if err != nil {
		return "", false, err
	}
	rel, ok := f.Interfaces[hook]
	if !ok || rel == "" {
		return "", false, nil
	}
	path, err = p.resolve(rel)
	if err != nil {
		return "", false, err
	}
	return path, true, nil
}

// ReadFile reads a file of the package.
func (p *Package) ReadFile(rel string) ([]byte, error) {
	path, err := p.resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (p *Package) resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, rel)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, rel)
	}
	return filepath.Join(p.Dir, clean), nil
}

// Catalog looks up onboarded packages by vnfdId.
type Catalog interface {
	Package(ctx context.Context, vnfdID string) (*Package, error)
}

// DirCatalog serves packages from a directory, one sub directory per
// vnfdId. Parsed descriptors are cached.
type DirCatalog struct {
	root   string
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Package
}

// NewDirCatalog creates a catalog rooted at root.
func NewDirCatalog(root string, logger *zap.Logger) *DirCatalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirCatalog{
		root:   root,
		logger: logger.With(zap.String("component", "vnfpkg")),
		cache:  make(map[string]*Package),
	}
}

// Package returns the package of vnfdID.
func (c *DirCatalog) Package(_ context.Context, vnfdID string) (*Package, error) {
	if vnfdID == "" || strings.ContainsAny(vnfdID, `/\`) || vnfdID == "." || vnfdID == ".." {
		return nil, fmt.Errorf("%w: %q", ErrPackageNotFound, vnfdID)
	}

	c.mu.RLock()
	pkg, ok := c.cache[vnfdID]
	c.mu.RUnlock()
	if ok {
		return pkg, nil
	}

	dir := filepath.Join(c.root, vnfdID)
	data, err := os.ReadFile(filepath.Join(dir, DescriptorPath))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, vnfdID)
		}
		return nil, fmt.Errorf("failed to read vnfd of %s: %w", vnfdID, err)
	}

	vnfd, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("vnf package %s: %w", vnfdID, err)
	}
	if vnfd.VnfdID != vnfdID {
		return nil, fmt.Errorf("%w: package %s declares vnfdId %s", ErrInvalidVNFD, vnfdID, vnfd.VnfdID)
	}

	pkg = &Package{Dir: dir, VNFD: vnfd}

	c.mu.Lock()
	c.cache[vnfdID] = pkg
	c.mu.Unlock()

	c.logger.Info("vnf package loaded",
		zap.String("vnfd_id", vnfdID),
		zap.Int("flavours", len(vnfd.Flavours)),
	)
	return pkg, nil
}

// Invalidate drops the cached package of vnfdID.
func (c *DirCatalog) Invalidate(vnfdID string) {
	c.mu.Lock()
	delete(c.cache, vnfdID)
	c.mu.Unlock()
}

// StaticCatalog serves a fixed set of packages keyed by vnfdId.
type StaticCatalog map[string]*Package

// Package returns the package of vnfdID.
func (s StaticCatalog) Package(_ context.Context, vnfdID string) (*Package, error) {
	pkg, ok := s[vnfdID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, vnfdID)
	}
	return pkg, nil
}
