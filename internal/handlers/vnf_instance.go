package handlers

import (
	"context"
	"net/http"
	"net/url"
	"sort"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/models"
)

// LifecycleManager is the lifecycle core behind the VNF LCM resources.
// It is implemented by *conductor.Conductor.
type LifecycleManager interface {
	CreateInstance(ctx context.Context, req *models.CreateVnfRequest) (*models.VnfInstance, error)
	GetInstance(ctx context.Context, id string) (*models.VnfInstance, error)
	ListInstances(ctx context.Context) ([]*models.VnfInstance, error)
	DeleteInstance(ctx context.Context, id string) error

	Instantiate(ctx context.Context, instanceID string, req *models.InstantiateVnfRequest) (*models.VnfLcmOpOcc, error)
	Scale(ctx context.Context, instanceID string, req *models.ScaleVnfRequest) (*models.VnfLcmOpOcc, error)
	Heal(ctx context.Context, instanceID string, req *models.HealVnfRequest) (*models.VnfLcmOpOcc, error)
	Terminate(ctx context.Context, instanceID string, req *models.TerminateVnfRequest) (*models.VnfLcmOpOcc, error)
	ChangeExtConn(ctx context.Context, instanceID string, req *models.ChangeExtVnfConnectivityRequest) (*models.VnfLcmOpOcc, error)
	ChangeVnfPkg(ctx context.Context, instanceID string, req *models.ChangeCurrentVnfPkgRequest) (*models.VnfLcmOpOcc, error)
	ModifyInfo(ctx context.Context, instanceID string, req *models.VnfInfoModificationRequest) (*models.VnfLcmOpOcc, error)

	GetOpOcc(ctx context.Context, id string) (*models.VnfLcmOpOcc, error)
	ListOpOccs(ctx context.Context) ([]*models.VnfLcmOpOcc, error)
	Retry(ctx context.Context, opOccID string) (*models.VnfLcmOpOcc, error)
	Rollback(ctx context.Context, opOccID string) (*models.VnfLcmOpOcc, error)
	Fail(ctx context.Context, opOccID string) (*models.VnfLcmOpOcc, error)
	Cancel(ctx context.Context, opOccID, mode string) (*models.VnfLcmOpOcc, error)
}

// VnfLcmHandler handles the VNF instance and op-occ resources.
type VnfLcmHandler struct {
	lcm      LifecycleManager
	endpoint string
	pageSize int
	logger   *zap.Logger
}

// NewVnfLcmHandler creates a new VnfLcmHandler. endpoint is the externally
// visible base URL used in _links and Location headers; pageSize bounds
// list responses (0 disables paging).
func NewVnfLcmHandler(lcm LifecycleManager, endpoint string, pageSize int, logger *zap.Logger) *VnfLcmHandler {
	if lcm == nil {
		panic("lifecycle manager cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &VnfLcmHandler{
		lcm:      lcm,
		endpoint: endpoint,
		pageSize: pageSize,
		logger:   logger,
	}
}

func (h *VnfLcmHandler) instanceView(inst *models.VnfInstance) *models.VnfInstance {
	out := inst.Redacted()
	out.Links = models.NewInstanceLinks(h.endpoint, out)
	return out
}

func (h *VnfLcmHandler) opOccView(opOcc *models.VnfLcmOpOcc) *models.VnfLcmOpOcc {
	out := opOcc.Redacted()
	out.Links = models.NewOpOccLinks(h.endpoint, out)
	return out
}

// requestURL rebuilds the externally visible URL of the request.
func (h *VnfLcmHandler) requestURL(c *gin.Context) *url.URL {
	u, err := url.Parse(h.endpoint)
	if err != nil {
		u = &url.URL{}
	}
	u.Path = c.Request.URL.Path
	u.RawQuery = c.Request.URL.RawQuery
	return u
}

// parseListQuery reads the filter and paging parameters of a list request.
func (h *VnfLcmHandler) parseListQuery(c *gin.Context) (models.AttributeFilter, *models.Pager, bool) {
	query := c.Request.URL.Query()
	filter, err := models.ParseAttributeFilter(query.Get("filter"))
	if err != nil {
		WriteProblem(c, http.StatusBadRequest, err.Error())
		return nil, nil, false
	}
	return filter, models.NewPager(query, h.pageSize), true
}

// CreateInstance handles POST /vnflcm/v2/vnf_instances.
//
// Response:
//   - 201 Created: VnfInstance, Location of the new instance
//   - 400 Bad Request: missing vnfdId
//   - 422 Unprocessable Entity: the VNF package is not onboarded
func (h *VnfLcmHandler) CreateInstance(c *gin.Context) {
	var req models.CreateVnfRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}

	inst, err := h.lcm.CreateInstance(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.logger, "Failed to create VNF instance", err)
		return
	}

	c.Header("Location", models.InstanceHref(h.endpoint, inst.ID))
	c.JSON(http.StatusCreated, h.instanceView(inst))
}

// ListInstances handles GET /vnflcm/v2/vnf_instances.
//
// Query Parameters:
//   - filter: attribute filter, e.g. (eq,instantiationState,INSTANTIATED)
//   - nextpage_opaque_marker: page marker from a previous Link header
func (h *VnfLcmHandler) ListInstances(c *gin.Context) {
	filter, pager, ok := h.parseListQuery(c)
	if !ok {
		return
	}

	insts, err := h.lcm.ListInstances(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "Failed to retrieve VNF instances", err)
		return
	}
	sort.Slice(insts, func(i, j int) bool { return insts[i].ID < insts[j].ID })

	items := make([]*models.VnfInstance, 0, len(insts))
	for _, inst := range insts {
		view := h.instanceView(inst)
		match, err := filter.Match(view)
		if err != nil {
			writeError(c, h.logger, "Failed to filter VNF instances", err)
			return
		}
		if match {
			items = append(items, view)
		}
	}

	start, end, next := pager.Page(len(items), func(i int) string { return items[i].ID })
	if next != "" {
		c.Header("Link", models.NextLink(h.requestURL(c), next))
	}
	c.JSON(http.StatusOK, items[start:end])
}

// GetInstance handles GET /vnflcm/v2/vnf_instances/{id}.
func (h *VnfLcmHandler) GetInstance(c *gin.Context) {
	inst, err := h.lcm.GetInstance(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "Failed to retrieve VNF instance", err)
		return
	}
	c.JSON(http.StatusOK, h.instanceView(inst))
}

// DeleteInstance handles DELETE /vnflcm/v2/vnf_instances/{id}.
//
// Response:
//   - 204 No Content
//   - 404 Not Found
//   - 409 Conflict: the instance is INSTANTIATED or has an op-occ in progress
func (h *VnfLcmHandler) DeleteInstance(c *gin.Context) {
	if err := h.lcm.DeleteInstance(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, h.logger, "Failed to delete VNF instance", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ModifyInstance handles PATCH /vnflcm/v2/vnf_instances/{id}. The body is
// a JSON merge patch of the modifiable attributes; it starts a MODIFY_INFO
// op-occ.
func (h *VnfLcmHandler) ModifyInstance(c *gin.Context) {
	var req models.VnfInfoModificationRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	h.accepted(c, func(ctx context.Context) (*models.VnfLcmOpOcc, error) {
		return h.lcm.ModifyInfo(ctx, c.Param("id"), &req)
	})
}

// accepted runs an operation start and answers 202 with the Location of
// the new op-occ.
func (h *VnfLcmHandler) accepted(c *gin.Context, start func(ctx context.Context) (*models.VnfLcmOpOcc, error)) {
	opOcc, err := start(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "Failed to start LCM operation", err)
		return
	}

	h.logger.Info("LCM operation accepted",
		zap.String("request_id", c.GetString("request_id")),
		zap.String("vnf_instance_id", opOcc.VnfInstanceID),
		zap.String("op_occ_id", opOcc.ID),
		zap.String("operation", opOcc.Operation.String()),
	)
	c.Header("Location", models.OpOccHref(h.endpoint, opOcc.ID))
	c.Status(http.StatusAccepted)
}
