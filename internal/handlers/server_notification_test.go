package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/piwi3910/vnfm/internal/autoheal"
	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/storage"
)

const notifyPath = "/server_notification/vnf_instances/inst-1/servers/srv-1/notify"

func setupNotificationRouter(t *testing.T, healer *notificationHealer) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	notifier, err := autoheal.NewNotifier(healer, time.Hour, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(notifier.Stop)

	h := NewServerNotificationHandler(notifier, zaptest.NewLogger(t))
	r := gin.New()
	r.POST("/server_notification/vnf_instances/:id/servers/:server_id/notify", h.Notify)
	return r
}

// notificationHealer adapts fakeLCM to autoheal.Healer.
type notificationHealer struct {
	lcm *fakeLCM
	err error
}

func (h *notificationHealer) GetInstance(ctx context.Context, id string) (*models.VnfInstance, error) {
	if h.err != nil {
		return nil, h.err
	}
	return h.lcm.GetInstance(ctx, id)
}

func (h *notificationHealer) AutoHeal(ctx context.Context, id string, vnfcIDs []string) (*models.VnfLcmOpOcc, error) {
	return h.lcm.Heal(ctx, id, &models.HealVnfRequest{VnfcInstanceID: vnfcIDs})
}

func monitoredLCM(autohealEnabled bool) *fakeLCM {
	lcm := newFakeLCM()
	lcm.addInstance(&models.VnfInstance{
		ID:                        "inst-1",
		VnfdID:                    "vnfd-1",
		InstantiationState:        models.Instantiated,
		VnfConfigurableProperties: map[string]interface{}{"isAutohealEnabled": autohealEnabled},
		InstantiatedVnfInfo: &models.InstantiatedVnfInfo{
			FlavourID: "simple",
			Metadata:  map[string]interface{}{autoheal.FaultIDMetadataKey: []interface{}{"fault-1"}},
			VnfcResourceInfo: []models.VnfcResourceInfo{{
				ID:       "res-1",
				VduID:    "VDU1",
				Metadata: map[string]interface{}{"server_notification": map[string]interface{}{"alarmId": "alarm-1"}},
			}},
			VnfcInfo: []models.VnfcInfo{{ID: "VDU1-res-1", VduID: "VDU1", VnfcResourceInfoID: "res-1"}},
		},
	})
	return lcm
}

func TestNewServerNotificationHandler_Panics(t *testing.T) {
	assert.Panics(t, func() { NewServerNotificationHandler(nil, zaptest.NewLogger(t)) })
}

func TestServerNotification(t *testing.T) {
	note := func(alarm, fault string) map[string]interface{} {
		return map[string]interface{}{
			"notification": map[string]interface{}{
				"host_id":    "compute-1",
				"alarm_id":   alarm,
				"fault_id":   fault,
				"fault_type": "10",
			},
		}
	}

	tests := []struct {
		name       string
		autoheal   bool
		path       string
		body       interface{}
		wantStatus int
	}{
		{"accepted", true, notifyPath, note("alarm-1", "fault-1"), http.StatusNoContent},
		{"auto-heal disabled", false, notifyPath, note("alarm-1", "fault-1"), http.StatusNoContent},
		{"fault id mismatch", true, notifyPath, note("alarm-1", "fault-x"), http.StatusBadRequest},
		{"unknown alarm", true, notifyPath, note("alarm-x", "fault-1"), http.StatusBadRequest},
		{
			"unknown instance", true,
			"/server_notification/vnf_instances/missing/servers/srv-1/notify",
			note("alarm-1", "fault-1"), http.StatusBadRequest,
		},
		{"missing notification", true, notifyPath, map[string]interface{}{}, http.StatusBadRequest},
		{"missing alarm id", true, notifyPath, note("", "fault-1"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupNotificationRouter(t, &notificationHealer{lcm: monitoredLCM(tt.autoheal)})
			w := doRequest(r, http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus == http.StatusBadRequest {
				p := decodeProblem(t, w)
				assert.Equal(t, http.StatusBadRequest, p.Status)
			}
		})
	}
}

func TestServerNotification_StorageFailure(t *testing.T) {
	r := setupNotificationRouter(t, &notificationHealer{
		lcm: monitoredLCM(true),
		err: storage.ErrStorageUnavailable,
	})

	w := doRequest(r, http.MethodPost, notifyPath, map[string]interface{}{
		"notification": map[string]interface{}{"alarm_id": "alarm-1", "fault_id": "fault-1"},
	})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
