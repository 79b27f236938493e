package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/autoheal"
)

// ServerNotifier accepts server fault notifications. It is implemented by
// *autoheal.Notifier.
type ServerNotifier interface {
	Notify(ctx context.Context, instanceID, serverID string, note *autoheal.Notification) error
}

// ServerNotificationHandler handles the server notification resource
// used by a VIM monitor to trigger auto-heal.
type ServerNotificationHandler struct {
	notifier ServerNotifier
	logger   *zap.Logger
}

// NewServerNotificationHandler creates a new ServerNotificationHandler.
func NewServerNotificationHandler(notifier ServerNotifier, logger *zap.Logger) *ServerNotificationHandler {
	if notifier == nil {
		panic("server notifier cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &ServerNotificationHandler{notifier: notifier, logger: logger}
}

// Notify handles
// POST /server_notification/vnf_instances/{id}/servers/{server_id}/notify.
// It answers 204 once the notification is accepted, including when
// auto-heal is disabled on the instance.
func (h *ServerNotificationHandler) Notify(c *gin.Context) {
	var req autoheal.Request
	if !bindJSON(c, h.logger, &req) {
		return
	}

	err := h.notifier.Notify(c.Request.Context(), c.Param("id"), c.Param("server_id"), req.Notification)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, autoheal.ErrInstanceNotFound),
		errors.Is(err, autoheal.ErrNotMonitored),
		errors.Is(err, autoheal.ErrFaultIDMismatch),
		errors.Is(err, autoheal.ErrVnfcNotFound):
		h.logger.Info("server notification rejected",
			zap.String("vnf_instance_id", c.Param("id")),
			zap.String("server_id", c.Param("server_id")),
			zap.Error(err),
		)
		WriteProblem(c, http.StatusBadRequest, err.Error())
	default:
		writeError(c, h.logger, "Failed to handle server notification", err)
	}
}
