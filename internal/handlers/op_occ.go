package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/models"
)

// CancelRequest is the body of POST /vnf_lcm_op_occs/{id}/cancel.
type CancelRequest struct {
	// CancelMode is GRACEFUL or FORCEFUL. Both are handled the same way:
	// the op-occ stops at the next step boundary.
	CancelMode string `json:"cancelMode"`
}

// ListOpOccs handles GET /vnflcm/v2/vnf_lcm_op_occs.
//
// Query Parameters:
//   - filter: attribute filter, e.g. (eq,operationState,FAILED_TEMP)
//   - nextpage_opaque_marker: page marker from a previous Link header
func (h *VnfLcmHandler) ListOpOccs(c *gin.Context) {
	filter, pager, ok := h.parseListQuery(c)
	if !ok {
		return
	}

	opOccs, err := h.lcm.ListOpOccs(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "Failed to retrieve op-occs", err)
		return
	}

	items := make([]*models.VnfLcmOpOcc, 0, len(opOccs))
	for _, opOcc := range opOccs {
		view := h.opOccView(opOcc)
		match, err := filter.Match(view)
		if err != nil {
			writeError(c, h.logger, "Failed to filter op-occs", err)
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

// GetOpOcc handles GET /vnflcm/v2/vnf_lcm_op_occs/{id}.
func (h *VnfLcmHandler) GetOpOcc(c *gin.Context) {
	opOcc, err := h.lcm.GetOpOcc(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "Failed to retrieve op-occ", err)
		return
	}
	c.JSON(http.StatusOK, h.opOccView(opOcc))
}

// Retry handles POST /vnflcm/v2/vnf_lcm_op_occs/{id}/retry.
//
// Response:
//   - 202 Accepted
//   - 404 Not Found
//   - 409 Conflict: the op-occ is not FAILED_TEMP
func (h *VnfLcmHandler) Retry(c *gin.Context) {
	opOcc, err := h.lcm.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "Failed to retry op-occ", err)
		return
	}
	h.logger.Info("op-occ retry accepted", zap.String("op_occ_id", opOcc.ID))
	c.Status(http.StatusAccepted)
}

// Rollback handles POST /vnflcm/v2/vnf_lcm_op_occs/{id}/rollback.
//
// Response:
//   - 202 Accepted
//   - 404 Not Found
//   - 409 Conflict: the op-occ is not FAILED_TEMP
//   - 422 Unprocessable Entity: the operation has no inverse
func (h *VnfLcmHandler) Rollback(c *gin.Context) {
	opOcc, err := h.lcm.Rollback(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "Failed to roll back op-occ", err)
		return
	}
	h.logger.Info("op-occ rollback accepted", zap.String("op_occ_id", opOcc.ID))
	c.Status(http.StatusAccepted)
}

// Fail handles POST /vnflcm/v2/vnf_lcm_op_occs/{id}/fail. The op-occ is
// final afterwards and returned in the body.
func (h *VnfLcmHandler) Fail(c *gin.Context) {
	opOcc, err := h.lcm.Fail(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "Failed to fail op-occ", err)
		return
	}
	c.JSON(http.StatusOK, h.opOccView(opOcc))
}

// Cancel handles POST /vnflcm/v2/vnf_lcm_op_occs/{id}/cancel.
//
// Response:
//   - 202 Accepted: the cancel is pending
//   - 409 Conflict: the op-occ is not PROCESSING or ROLLING_BACK
func (h *VnfLcmHandler) Cancel(c *gin.Context) {
	var req CancelRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, h.logger, &req) {
		return
	}
	switch req.CancelMode {
	case "":
		req.CancelMode = "GRACEFUL"
	case "GRACEFUL", "FORCEFUL":
	default:
		WriteProblem(c, http.StatusBadRequest, "cancelMode must be GRACEFUL or FORCEFUL")
		return
	}

	if _, err := h.lcm.Cancel(c.Request.Context(), c.Param("id"), req.CancelMode); err != nil {
		writeError(c, h.logger, "Failed to cancel op-occ", err)
		return
	}
	c.Status(http.StatusAccepted)
}
