package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/piwi3910/vnfm/internal/handlers"
	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/observability"
)

// setupRoutes configures all HTTP routes of the VNF manager.
// It organizes routes into logical groups:
//   - Health and readiness endpoints
//   - Prometheus metrics endpoint
//   - VNF LCM API v2 endpoints
//   - the server notification endpoint
//   - API documentation
func (s *Server) setupRoutes() {
	// Health check endpoints (no Version header required)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/ready", s.handleReadiness)
	s.router.GET("/readyz", s.handleReadiness)

	if s.config.Observability.Metrics.Enabled {
		s.router.GET(s.config.Observability.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	// Base path: /vnflcm/v2
	v2 := s.router.Group(models.APIRoot, VersioningMiddleware(NewVersionConfig()))
	{
		v2.GET("/api_versions", handlers.GetAPIVersions)

		instances := v2.Group("/vnf_instances")
		{
			lcm := s.lcmHandler
			instances.POST("", lcm.CreateInstance)
			instances.GET("", lcm.ListInstances)
			instances.GET("/:id", lcm.GetInstance)
			instances.DELETE("/:id", lcm.DeleteInstance)
			instances.PATCH("/:id", lcm.ModifyInstance)
			instances.POST("/:id/instantiate", lcm.Instantiate)
			instances.POST("/:id/scale", lcm.Scale)
			instances.POST("/:id/heal", lcm.Heal)
			instances.POST("/:id/terminate", lcm.Terminate)
			instances.POST("/:id/change_ext_conn", lcm.ChangeExtConn)
			instances.POST("/:id/change_vnfpkg", lcm.ChangeVnfPkg)
		}

		opOccs := v2.Group("/vnf_lcm_op_occs")
		{
			lcm := s.lcmHandler
			opOccs.GET("", lcm.ListOpOccs)
			opOccs.GET("/:id", lcm.GetOpOcc)
			opOccs.POST("/:id/retry", lcm.Retry)
			opOccs.POST("/:id/rollback", lcm.Rollback)
			opOccs.POST("/:id/fail", lcm.Fail)
			opOccs.POST("/:id/cancel", lcm.Cancel)
		}

		subscriptions := v2.Group("/subscriptions")
		{
			sub := s.subscriptionHandler
			subscriptions.POST("", sub.CreateSubscription)
			subscriptions.GET("", sub.ListSubscriptions)
			subscriptions.GET("/:id", sub.GetSubscription)
			subscriptions.DELETE("/:id", sub.DeleteSubscription)
		}
	}

	s.setupDocsRoutes()

	if s.notificationHandler != nil {
		s.router.POST("/server_notification/vnf_instances/:id/servers/:server_id/notify",
			s.notificationHandler.Notify)
	}

	s.router.NoRoute(func(c *gin.Context) {
		handlers.WriteProblem(c, http.StatusNotFound, "No resource at "+c.Request.URL.Path)
	})
	s.router.GET("/", s.handleRoot)
}

// handleHealth returns the health status of the server.
// This endpoint is used by load balancers and monitoring systems.
func (s *Server) handleHealth(c *gin.Context) {
	health := s.healthCheck.CheckHealth(c.Request.Context())

	statusCode := http.StatusOK
	if health.Status == observability.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// handleReadiness returns the readiness status of the server.
// This endpoint checks if the server is ready to accept traffic.
func (s *Server) handleReadiness(c *gin.Context) {
	readiness := s.healthCheck.CheckReadiness(c.Request.Context())

	statusCode := http.StatusOK
	if !readiness.Ready {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, readiness)
}

// handleRoot returns basic API information.
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "vnfm",
		"description": "ETSI NFV VNF lifecycle manager",
		"api_version": handlers.APIVersion,
		"endpoints": gin.H{
			"health":   "/health",
			"ready":    "/ready",
			"metrics":  s.config.Observability.Metrics.Path,
			"api_base": models.APIRoot,
		},
	})
}
