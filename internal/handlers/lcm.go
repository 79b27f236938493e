package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/piwi3910/vnfm/internal/models"
)

// Each task handler below answers 202 Accepted with the Location of the
// new op-occ, 404 for an unknown instance and 409 when the instantiation
// state does not allow the task or another operation is in progress.

// Instantiate handles POST /vnflcm/v2/vnf_instances/{id}/instantiate.
func (h *VnfLcmHandler) Instantiate(c *gin.Context) {
	var req models.InstantiateVnfRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	h.accepted(c, func(ctx context.Context) (*models.VnfLcmOpOcc, error) {
		return h.lcm.Instantiate(ctx, c.Param("id"), &req)
	})
}

// Scale handles POST /vnflcm/v2/vnf_instances/{id}/scale.
func (h *VnfLcmHandler) Scale(c *gin.Context) {
	var req models.ScaleVnfRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	h.accepted(c, func(ctx context.Context) (*models.VnfLcmOpOcc, error) {
		return h.lcm.Scale(ctx, c.Param("id"), &req)
	})
}

// Heal handles POST /vnflcm/v2/vnf_instances/{id}/heal. An empty body
// heals the whole VNF.
func (h *VnfLcmHandler) Heal(c *gin.Context) {
	var req models.HealVnfRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, h.logger, &req) {
		return
	}
	h.accepted(c, func(ctx context.Context) (*models.VnfLcmOpOcc, error) {
		return h.lcm.Heal(ctx, c.Param("id"), &req)
	})
}

// Terminate handles POST /vnflcm/v2/vnf_instances/{id}/terminate.
func (h *VnfLcmHandler) Terminate(c *gin.Context) {
	var req models.TerminateVnfRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	switch req.TerminationType {
	case models.TerminationForceful, models.TerminationGraceful:
	default:
		WriteProblem(c, http.StatusBadRequest, "terminationType must be FORCEFUL or GRACEFUL")
		return
	}
	h.accepted(c, func(ctx context.Context) (*models.VnfLcmOpOcc, error) {
		return h.lcm.Terminate(ctx, c.Param("id"), &req)
	})
}

// ChangeExtConn handles POST /vnflcm/v2/vnf_instances/{id}/change_ext_conn.
func (h *VnfLcmHandler) ChangeExtConn(c *gin.Context) {
	var req models.ChangeExtVnfConnectivityRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	h.accepted(c, func(ctx context.Context) (*models.VnfLcmOpOcc, error) {
		return h.lcm.ChangeExtConn(ctx, c.Param("id"), &req)
	})
}

// ChangeVnfPkg handles POST /vnflcm/v2/vnf_instances/{id}/change_vnfpkg.
func (h *VnfLcmHandler) ChangeVnfPkg(c *gin.Context) {
	var req models.ChangeCurrentVnfPkgRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	h.accepted(c, func(ctx context.Context) (*models.VnfLcmOpOcc, error) {
		return h.lcm.ChangeVnfPkg(ctx, c.Param("id"), &req)
	})
}
