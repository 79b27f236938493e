package conductor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/models"
)

// CreateInstance creates a NOT_INSTANTIATED VNF instance of an onboarded
// package.
func (c *Conductor) CreateInstance(ctx context.Context, req *models.CreateVnfRequest) (*models.VnfInstance, error) {
	if req.VnfdID == "" {
		return nil, invalid("vnfdId is required")
	}
	pkg, err := c.catalog.Package(ctx, req.VnfdID)
	if err != nil {
		return nil, err
	}

	inst := &models.VnfInstance{
		ID:                     uuid.New().String(),
		VnfInstanceName:        req.VnfInstanceName,
		VnfInstanceDescription: req.VnfInstanceDescription,
		InstantiationState:     models.NotInstantiated,
		Metadata:               req.Metadata,
	}
	setProduct(inst, pkg.VNFD)

	if err := c.store.CreateInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("failed to create vnf instance: %w", err)
	}
	c.logger.Info("vnf instance created",
		zap.String("vnf_instance_id", inst.ID),
		zap.String("vnfd_id", inst.VnfdID),
	)

	if c.publisher != nil {
		if err := c.publisher.NotifyInstanceCreated(ctx, inst); err != nil {
			c.logger.Warn("failed to publish creation notification",
				zap.String("vnf_instance_id", inst.ID),
				zap.Error(err),
			)
		}
	}
	return inst, nil
}

// GetInstance returns a VNF instance.
func (c *Conductor) GetInstance(ctx context.Context, id string) (*models.VnfInstance, error) {
	return c.store.GetInstance(ctx, id)
}

// ListInstances returns all VNF instances.
func (c *Conductor) ListInstances(ctx context.Context) ([]*models.VnfInstance, error) {
	return c.store.ListInstances(ctx)
}

// DeleteInstance deletes a NOT_INSTANTIATED instance without an op-occ
// in progress.
func (c *Conductor) DeleteInstance(ctx context.Context, id string) error {
	token, err := c.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer c.release(token)

	inst, err := c.store.GetInstance(ctx, id)
	if err != nil {
		return err
	}
	if inst.InstantiationState == models.Instantiated {
		return fmt.Errorf("vnf instance %s: %w", id, ErrInstanceInstantiated)
	}
	if err := c.checkIdle(ctx, id); err != nil {
		return err
	}
	if err := c.store.DeleteInstance(ctx, id); err != nil {
		return fmt.Errorf("failed to delete vnf instance: %w", err)
	}
	c.logger.Info("vnf instance deleted", zap.String("vnf_instance_id", id))

	if c.publisher != nil {
		if err := c.publisher.NotifyInstanceDeleted(ctx, inst); err != nil {
			c.logger.Warn("failed to publish deletion notification",
				zap.String("vnf_instance_id", id),
				zap.Error(err),
			)
		}
	}
	return nil
}
