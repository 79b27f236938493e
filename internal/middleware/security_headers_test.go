package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		config   *SecurityHeadersConfig
		wantSet  bool
		wantHSTS string
	}{
		{
			name:    "defaults without TLS",
			config:  nil,
			wantSet: true,
		},
		{
			name: "TLS enables HSTS",
			config: &SecurityHeadersConfig{
				Enabled:               true,
				TLSEnabled:            true,
				HSTSMaxAge:            600,
				ContentSecurityPolicy: "default-src 'none'",
			},
			wantSet:  true,
			wantHSTS: "max-age=600",
		},
		{
			name:    "disabled",
			config:  &SecurityHeadersConfig{Enabled: false, TLSEnabled: true, HSTSMaxAge: 600},
			wantSet: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(SecurityHeaders(tt.config))
			router.GET("/vnflcm/v2/vnf_instances/:id", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/vnflcm/v2/vnf_instances/inst-1", nil))
			assert.Equal(t, http.StatusOK, w.Code)

			if !tt.wantSet {
				assert.Empty(t, w.Header().Get("X-Content-Type-Options"))
				assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
				return
			}
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
			assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
			assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
			assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
			assert.NotEmpty(t, w.Header().Get("Content-Security-Policy"))
			assert.Empty(t, w.Header().Get("Server"))
			assert.Equal(t, tt.wantHSTS, w.Header().Get("Strict-Transport-Security"))
		})
	}
}

func TestBuildHSTSValue(t *testing.T) {
	assert.Equal(t, "max-age=31536000; includeSubDomains", BuildHSTSValue(DefaultSecurityHeadersConfig()))
	assert.Equal(t, "max-age=60", BuildHSTSValue(&SecurityHeadersConfig{HSTSMaxAge: 60}))
}
