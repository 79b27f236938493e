// Package openstack is the Heat infra driver. Each VNF instance is one
// Heat stack rendered from its StackSpec; healing marks resources
// unhealthy and updates the stack so Heat recreates them.
package openstack

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/orchestration/v1/stackresources"
	"github.com/gophercloud/gophercloud/openstack/orchestration/v1/stacks"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/infra"
	"github.com/piwi3910/vnfm/internal/models"
)

// ErrInvalidVim is returned when the VIM connection lacks Keystone access
// information.
var ErrInvalidVim = errors.New("invalid openstack vim connection")

// stackTimeoutMinutes is the Heat side timeout of create and update.
const stackTimeoutMinutes = 60

// ClientFactory returns an orchestration client for a VIM.
type ClientFactory func(ctx context.Context, vim *models.VimConnectionInfo) (*gophercloud.ServiceClient, error)

// Config holds configuration for the Heat driver.
type Config struct {
	// Region is used when the VIM connection does not name one.
	Region string

	// Timeout is the timeout for OpenStack API calls.
	Timeout time.Duration

	// Logger is the logger to use.
	Logger *zap.Logger

	// NewClient overrides how clients are built. Tests point it at a
	// fake Heat endpoint.
	NewClient ClientFactory
}

// Driver implements infra.Driver on Heat.
type Driver struct {
	region    string
	timeout   time.Duration
	logger    *zap.Logger
	newClient ClientFactory

	mu      sync.Mutex
	clients map[string]*gophercloud.ServiceClient
}

// New creates a Heat driver.
func New(cfg *Config) *Driver {
	d := &Driver{
		region:  cfg.Region,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		clients: make(map[string]*gophercloud.ServiceClient),
	}
	if d.timeout <= 0 {
		d.timeout = 30 * time.Second
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	d.logger = d.logger.With(zap.String("driver", "openstack"))
	d.newClient = cfg.NewClient
	if d.newClient == nil {
		d.newClient = d.authenticate
	}
	return d
}

// Name implements infra.Driver.
func (d *Driver) Name() string {
	return "openstack"
}

// VimType implements infra.Driver.
func (d *Driver) VimType() string {
	return models.VimTypeOpenStack
}

// Apply creates the stack or updates it in place.
func (d *Driver) Apply(ctx context.Context, vim *models.VimConnectionInfo, spec *infra.StackSpec) error {
	client, err := d.client(ctx, vim)
	if err != nil {
		return err
	}
	tpl, err := buildTemplate(spec)
	if err != nil {
		return fmt.Errorf("failed to render template: %w", err)
	}

	existing, err := stacks.Find(client, spec.Name).Extract()
	if isNotFound(err) {
		created, err := stacks.Create(client, stacks.CreateOpts{
			Name:         spec.Name,
			TemplateOpts: &stacks.Template{TE: stacks.TE{Bin: tpl}},
			Timeout:      stackTimeoutMinutes,
		}).Extract()
		if err != nil {
			return fmt.Errorf("failed to create stack: %w", err)
		}
		d.logger.Info("stack created",
			zap.String("stack", spec.Name),
			zap.String("stack_id", created.ID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up stack: %w", err)
	}

	err = stacks.Update(client, existing.Name, existing.ID, stacks.UpdateOpts{
		TemplateOpts: &stacks.Template{TE: stacks.TE{Bin: tpl}},
		Timeout:      stackTimeoutMinutes,
	}).ExtractErr()
	if err != nil {
		return fmt.Errorf("failed to update stack: %w", err)
	}
	d.logger.Info("stack update started",
		zap.String("stack", spec.Name),
		zap.String("stack_id", existing.ID),
	)
	return nil
}

// Delete deletes the stack if it exists.
func (d *Driver) Delete(ctx context.Context, vim *models.VimConnectionInfo, stackName string) error {
	client, err := d.client(ctx, vim)
	if err != nil {
		return err
	}
	existing, err := stacks.Find(client, stackName).Extract()
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up stack: %w", err)
	}
	if err := stacks.Delete(client, existing.Name, existing.ID).ExtractErr(); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete stack: %w", err)
	}
	return nil
}

// Status returns the stack status and reason.
func (d *Driver) Status(ctx context.Context, vim *models.VimConnectionInfo, stackName string) (*infra.Status, error) {
	client, err := d.client(ctx, vim)
	if err != nil {
		return nil, err
	}
	existing, err := stacks.Find(client, stackName).Extract()
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", infra.ErrStackNotFound, stackName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stack: %w", err)
	}
	return &infra.Status{Status: existing.Status, Reason: existing.StatusReason}, nil
}

// Resources lists the servers, volumes, networks and ports of the stack.
func (d *Driver) Resources(ctx context.Context, vim *models.VimConnectionInfo, stackName string) ([]infra.Resource, error) {
	client, existing, err := d.lookup(ctx, vim, stackName)
	if err != nil {
		return nil, err
	}

	pages, err := stackresources.List(client, existing.Name, existing.ID, stackresources.ListOpts{NestedDepth: 2}).AllPages()
	if err != nil {
		return nil, fmt.Errorf("failed to list stack resources: %w", err)
	}
	list, err := stackresources.ExtractResources(pages)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stack resources: %w", err)
	}

	out := make([]infra.Resource, 0, len(list))
	for _, r := range list {
		if res, ok := toResource(r); ok {
			out = append(out, res)
		}
	}
	return out, nil
}

// ResourceInfo returns one stack resource.
func (d *Driver) ResourceInfo(ctx context.Context, vim *models.VimConnectionInfo, stackName, resourceName string) (*infra.Resource, error) {
	client, existing, err := d.lookup(ctx, vim, stackName)
	if err != nil {
		return nil, err
	}
	r, err := stackresources.Get(client, existing.Name, existing.ID, resourceName).Extract()
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", infra.ErrResourceNotFound, resourceName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stack resource: %w", err)
	}
	res, ok := toResource(*r)
	if !ok {
		return nil, fmt.Errorf("%w: %s has unsupported type %s", infra.ErrResourceNotFound, resourceName, r.Type)
	}
	return &res, nil
}

// MarkUnhealthy flags resources so the next stack update replaces them.
func (d *Driver) MarkUnhealthy(ctx context.Context, vim *models.VimConnectionInfo, stackName string, resourceNames []string) error {
	client, existing, err := d.lookup(ctx, vim, stackName)
	if err != nil {
		return err
	}
	for _, name := range resourceNames {
		err := stackresources.MarkUnhealthy(client, existing.Name, existing.ID, name, stackresources.MarkUnhealthyOpts{
			MarkUnhealthy:        true,
			ResourceStatusReason: "heal requested by vnfm",
		}).ExtractErr()
		if err != nil {
			return fmt.Errorf("failed to mark %s unhealthy: %w", name, err)
		}
	}
	return nil
}

func (d *Driver) lookup(ctx context.Context, vim *models.VimConnectionInfo, stackName string) (*gophercloud.ServiceClient, *stacks.RetrievedStack, error) {
	client, err := d.client(ctx, vim)
	if err != nil {
		return nil, nil, err
	}
	existing, err := stacks.Find(client, stackName).Extract()
	if isNotFound(err) {
		return nil, nil, fmt.Errorf("%w: %s", infra.ErrStackNotFound, stackName)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get stack: %w", err)
	}
	return client, existing, nil
}

func (d *Driver) client(ctx context.Context, vim *models.VimConnectionInfo) (*gophercloud.ServiceClient, error) {
	key := cacheKey(vim)

	d.mu.Lock()
	c, ok := d.clients[key]
	d.mu.Unlock()
	if ok {
		return c, nil
	}

	c, err := d.newClient(ctx, vim)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.clients[key] = c
	d.mu.Unlock()
	return c, nil
}

// authenticate builds an orchestration client from the Keystone access
// information of the VIM connection.
func (d *Driver) authenticate(ctx context.Context, vim *models.VimConnectionInfo) (*gophercloud.ServiceClient, error) {
	if vim == nil {
		return nil, fmt.Errorf("%w: no vim connection", ErrInvalidVim)
	}
	endpoint := stringAttr(vim.InterfaceInfo, "endpoint")
	username := stringAttr(vim.AccessInfo, "username")
	password := stringAttr(vim.AccessInfo, "password")
	if endpoint == "" || username == "" || password == "" {
		return nil, fmt.Errorf("%w: endpoint, username and password are required", ErrInvalidVim)
	}

	userDomain := stringAttr(vim.AccessInfo, "userDomain")
	if userDomain == "" {
		userDomain = "Default"
	}
	authOpts := gophercloud.AuthOptions{
		IdentityEndpoint: endpoint,
		Username:         username,
		Password:         password,
		DomainName:       userDomain,
		AllowReauth:      true,
		Scope: &gophercloud.AuthScope{
			ProjectName: stringAttr(vim.AccessInfo, "project"),
			DomainName:  stringAttr(vim.AccessInfo, "projectDomain"),
		},
	}
	if authOpts.Scope.DomainName == "" {
		authOpts.Scope.DomainName = userDomain
	}

	provider, err := openstack.NewClient(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenStack client: %w", err)
	}
	provider.HTTPClient.Timeout = d.timeout
	provider.Context = ctx
	if err := openstack.Authenticate(provider, authOpts); err != nil {
		return nil, fmt.Errorf("failed to authenticate with OpenStack: %w", err)
	}
	provider.Context = nil

	region := stringAttr(vim.AccessInfo, "region")
	if region == "" {
		region = d.region
	}
	client, err := openstack.NewOrchestrationV1(provider, gophercloud.EndpointOpts{Region: region})
	if err != nil {
		return nil, fmt.Errorf("failed to create Heat client: %w", err)
	}

	d.logger.Info("authenticated with OpenStack",
		zap.String("endpoint", endpoint),
		zap.String("region", region),
	)
	return client, nil
}

func toResource(r stackresources.Resource) (infra.Resource, bool) {
	kind, ok := kindOf(r.Type)
	if !ok {
		return infra.Resource{}, false
	}
	return infra.Resource{
		Name:       r.Name,
		Kind:       kind,
		PhysicalID: r.PhysicalID,
		Type:       r.Type,
		Status:     r.Status,
	}, true
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var notFound gophercloud.ErrDefault404
	return errors.As(err, &notFound)
}

func stringAttr(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func cacheKey(vim *models.VimConnectionInfo) string {
	if vim == nil {
		return ""
	}
	return stringAttr(vim.InterfaceInfo, "endpoint") + "|" +
		stringAttr(vim.AccessInfo, "username") + "|" +
		stringAttr(vim.AccessInfo, "project") + "|" +
		stringAttr(vim.AccessInfo, "region")
}
