package grant

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/observability"
)

// LocalNFVO grants every request in-process without contacting an NFVO.
// The grant carries no vimConnectionInfo, so the instance's own VIM
// connection is used.
type LocalNFVO struct {
	// Zones are assigned to added COMPUTE resources. The first zone is used.
	Zones []string

	// VimAssets is attached to every grant that adds resources.
	VimAssets *models.VimAssets

	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewLocalNFVO creates a local grant authority. metrics may be nil.
func NewLocalNFVO(zones []string, logger *zap.Logger, metrics *observability.Metrics) *LocalNFVO {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalNFVO{
		Zones:   zones,
		logger:  logger.With(zap.String("component", "local_nfvo")),
		metrics: metrics,
	}
}

// RequestGrant approves all requested resources.
func (n *LocalNFVO) RequestGrant(_ context.Context, req *models.GrantRequest) (*models.Grant, error) {
	g := &models.Grant{
		ID:            uuid.New().String(),
		VnfInstanceID: req.VnfInstanceID,
		VnfLcmOpOccID: req.VnfLcmOpOccID,
	}

	if len(req.AddResources) > 0 {
		var zoneRef string
		for _, z := range n.Zones {
			info := models.ZoneInfo{ID: uuid.New().String(), ZoneID: z}
			if zoneRef == "" {
				zoneRef = info.ID
			}
			g.Zones = append(g.Zones, info)
		}
		for _, res := range req.AddResources {
			info := models.GrantInfo{ResourceDefinitionID: res.ID}
			if res.Type == models.ResourceCompute {
				info.ZoneID = zoneRef
			}
			g.AddResources = append(g.AddResources, info)
		}
		g.VimAssets = n.VimAssets
	}

	g.TempResources = echo(req.TempResources)
	g.RemoveResources = echo(req.RemoveResources)
	g.UpdateResources = echo(req.UpdateResources)

	if n.metrics != nil {
		n.metrics.RecordGrant(string(req.Operation), nil)
	}
	n.logger.Debug("local grant issued",
		zap.String("grant_id", g.ID),
		zap.String("vnf_lcm_op_occ_id", req.VnfLcmOpOccID),
		zap.Int("add_resources", len(g.AddResources)),
		zap.Int("remove_resources", len(g.RemoveResources)),
	)
	return g, nil
}

func echo(defs []models.ResourceDefinition) []models.GrantInfo {
	if len(defs) == 0 {
		return nil
	}
	out := make([]models.GrantInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, models.GrantInfo{ResourceDefinitionID: d.ID})
	}
	return out
}
