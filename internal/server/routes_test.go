package server_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/vnfm/internal/handlers"
	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/server"
)

func TestSetupRoutes(t *testing.T) {
	srv := newTestServer(t, testConfig(), &server.Dependencies{Notifier: &stubNotifier{}})

	registered := make(map[string]bool)
	for _, r := range srv.Router().Routes() {
		registered[r.Method+" "+r.Path] = true
	}

	want := []string{
		"GET /health",
		"GET /healthz",
		"GET /ready",
		"GET /readyz",
		"GET /metrics",
		"GET /",
		"GET /docs/openapi.yaml",
		"GET /docs/openapi.json",
		"GET /vnflcm/v2/api_versions",
		"POST /vnflcm/v2/vnf_instances",
		"GET /vnflcm/v2/vnf_instances",
		"GET /vnflcm/v2/vnf_instances/:id",
		"DELETE /vnflcm/v2/vnf_instances/:id",
		"PATCH /vnflcm/v2/vnf_instances/:id",
		"POST /vnflcm/v2/vnf_instances/:id/instantiate",
		"POST /vnflcm/v2/vnf_instances/:id/scale",
		"POST /vnflcm/v2/vnf_instances/:id/heal",
		"POST /vnflcm/v2/vnf_instances/:id/terminate",
		"POST /vnflcm/v2/vnf_instances/:id/change_ext_conn",
		"POST /vnflcm/v2/vnf_instances/:id/change_vnfpkg",
		"GET /vnflcm/v2/vnf_lcm_op_occs",
		"GET /vnflcm/v2/vnf_lcm_op_occs/:id",
		"POST /vnflcm/v2/vnf_lcm_op_occs/:id/retry",
		"POST /vnflcm/v2/vnf_lcm_op_occs/:id/rollback",
		"POST /vnflcm/v2/vnf_lcm_op_occs/:id/fail",
		"POST /vnflcm/v2/vnf_lcm_op_occs/:id/cancel",
		"POST /vnflcm/v2/subscriptions",
		"GET /vnflcm/v2/subscriptions",
		"GET /vnflcm/v2/subscriptions/:id",
		"DELETE /vnflcm/v2/subscriptions/:id",
		"POST /server_notification/vnf_instances/:id/servers/:server_id/notify",
	}
	for _, route := range want {
		assert.True(t, registered[route], "route %s not registered", route)
	}
}

func TestSetupRoutes_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.Metrics.Enabled = false
	srv := newTestServer(t, cfg, &server.Dependencies{})

	for _, r := range srv.Router().Routes() {
		assert.NotEqual(t, "/metrics", r.Path)
	}
}

func TestHandleRoot(t *testing.T) {
	srv := newTestServer(t, testConfig(), &server.Dependencies{})

	w := do(srv, http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "vnfm", body["name"])
	assert.Equal(t, handlers.APIVersion, body["api_version"])

	endpoints, ok := body["endpoints"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, models.APIRoot, endpoints["api_base"])
	assert.Equal(t, "/metrics", endpoints["metrics"])
}
