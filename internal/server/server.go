// Package server provides the HTTP server of the VNF manager.
// It includes Gin-based routing, middleware setup, and graceful shutdown handling.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/config"
	"github.com/piwi3910/vnfm/internal/handlers"
	"github.com/piwi3910/vnfm/internal/middleware"
	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/observability"
	"github.com/piwi3910/vnfm/internal/storage"
)

// RequestIDHeader carries the request id set by the server.
const RequestIDHeader = "X-Request-ID"

// Server represents the HTTP server of the VNF manager.
//
// The server provides:
//   - VNF LCM API endpoints (/vnflcm/v2/*)
//   - the server notification endpoint used for auto-heal
//   - Health check endpoints (/health, /ready)
//   - Prometheus metrics endpoint (/metrics)
//
// Example:
//
//	srv := server.New(cfg, logger, &server.Dependencies{
//	    LCM:           conductor,
//	    Subscriptions: store,
//	    Verifier:      webhookNotifier,
//	})
//	go srv.Start()
//	defer srv.Shutdown()
type Server struct {
	config           *config.Config
	logger           *zap.Logger
	router           *gin.Engine
	httpServer       *http.Server
	metrics          *observability.Metrics
	healthCheck      *observability.HealthChecker
	openAPIValidator *middleware.OpenAPIValidator
	rateLimiter      *middleware.RateLimiter
	openAPIYAML      []byte
	openAPIJSON      []byte

	lcmHandler          *handlers.VnfLcmHandler
	subscriptionHandler *handlers.SubscriptionHandler
	notificationHandler *handlers.ServerNotificationHandler

	mu           sync.Mutex
	shutdownOnce sync.Once
}

// Dependencies are the components served by the HTTP API.
type Dependencies struct {
	// LCM is the lifecycle core. Required.
	LCM handlers.LifecycleManager

	// Subscriptions stores LCCN subscriptions. Required.
	Subscriptions storage.SubscriptionStore

	// Verifier tests callbacks of new subscriptions. Optional.
	Verifier handlers.CallbackVerifier

	// Notifier receives server notifications. Nil leaves the server
	// notification endpoint unrouted.
	Notifier handlers.ServerNotifier

	// RedisClient holds the rate limit buckets. Required when rate
	// limiting is enabled.
	RedisClient redis.UniversalClient

	// Metrics records HTTP metrics. Optional.
	Metrics *observability.Metrics

	// HealthChecker serves /health and /ready. Defaults to a checker
	// without checks.
	HealthChecker *observability.HealthChecker
}

// New creates a new Server with the given configuration, logger and
// dependencies. It initializes the Gin router, sets up middleware, and
// configures routes.
//
// The function will panic if essential dependencies are missing.
func New(cfg *config.Config, logger *zap.Logger, deps *Dependencies) *Server {
	if cfg == nil {
		panic("config cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	if deps == nil || deps.LCM == nil {
		panic("lifecycle manager cannot be nil")
	}
	if deps.Subscriptions == nil {
		panic("subscription store cannot be nil")
	}

	gin.SetMode(cfg.Server.GinMode)

	healthCheck := deps.HealthChecker
	if healthCheck == nil {
		healthCheck = observability.NewHealthChecker("")
	}

	srv := &Server{
		config:      cfg,
		logger:      logger,
		router:      gin.New(),
		metrics:     deps.Metrics,
		healthCheck: healthCheck,
		lcmHandler: handlers.NewVnfLcmHandler(deps.LCM, cfg.LCM.Endpoint, cfg.LCM.PageSize,
			logger.With(zap.String("component", "vnflcm"))),
		subscriptionHandler: handlers.NewSubscriptionHandler(deps.Subscriptions, verifier(cfg, deps),
			cfg.LCM.Endpoint, logger.With(zap.String("component", "subscriptions"))),
	}
	if deps.Notifier != nil {
		srv.notificationHandler = handlers.NewServerNotificationHandler(deps.Notifier,
			logger.With(zap.String("component", "server_notification")))
	}

	validator, err := initOpenAPIValidator(cfg, logger)
	if err != nil {
		logger.Warn("failed to initialize OpenAPI validator, validation disabled",
			zap.Error(err),
		)
	}
	srv.openAPIValidator = validator

	if srv.openAPIYAML, srv.openAPIJSON, err = loadOpenAPIDocs(); err != nil {
		logger.Warn("failed to load OpenAPI documents, docs disabled", zap.Error(err))
	}

	if cfg.Security.RateLimit.Enabled {
		limiter, err := initRateLimiter(cfg, deps.RedisClient, logger)
		if err != nil {
			logger.Warn("failed to initialize rate limiter, rate limiting disabled",
				zap.Error(err),
			)
		}
		srv.rateLimiter = limiter
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv
}

// verifier returns the callback verifier. With callback testing switched
// off it still forgets deleted subscriptions.
func verifier(cfg *config.Config, deps *Dependencies) handlers.CallbackVerifier {
	if deps.Verifier == nil {
		return nil
	}
	if !cfg.LCM.TestCallbackURI {
		return skipCallbackTest{deps.Verifier}
	}
	return deps.Verifier
}

type skipCallbackTest struct {
	handlers.CallbackVerifier
}

func (skipCallbackTest) TestCallback(context.Context, *models.LccnSubscription) error {
	return nil
}

// initOpenAPIValidator initializes the OpenAPI validator with the embedded
// VNF LCM spec or the file named in the configuration.
func initOpenAPIValidator(cfg *config.Config, logger *zap.Logger) (*middleware.OpenAPIValidator, error) {
	validationCfg := middleware.DefaultValidationConfig()
	validationCfg.Logger = logger
	validationCfg.ValidateRequest = cfg.Validation.Enabled
	validationCfg.ValidateResponse = cfg.Validation.ValidateResponse
	validationCfg.MaxBodySize = cfg.Validation.MaxBodySize
	if cfg.Observability.Metrics.Path != "" {
		validationCfg.ExcludePaths = append(validationCfg.ExcludePaths, cfg.Observability.Metrics.Path)
	}

	validator, err := middleware.NewOpenAPIValidator(validationCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAPI validator: %w", err)
	}

	if cfg.Validation.SpecPath != "" {
		if err := validator.LoadSpecFromFile(cfg.Validation.SpecPath); err != nil {
			return nil, fmt.Errorf("failed to load OpenAPI spec from file: %w", err)
		}
		return validator, nil
	}

	if err := validator.LoadEmbeddedSpec(); err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI spec: %w", err)
	}
	return validator, nil
}

// initRateLimiter builds the Redis-backed rate limiter from the security
// configuration.
func initRateLimiter(cfg *config.Config, client redis.UniversalClient, logger *zap.Logger) (*middleware.RateLimiter, error) {
	rl := cfg.Security.RateLimit
	limitCfg := &middleware.RateLimitConfig{
		Enabled: true,
		PerClient: middleware.ClientLimitConfig{
			RequestsPerSecond: rl.RequestsPerSecond,
			BurstSize:         rl.Burst,
		},
		Global: middleware.GlobalLimitConfig{
			RequestsPerSecond: rl.GlobalRequestsPerSecond,
			Burst:             rl.GlobalBurst,
		},
		RedisClient: client,
	}
	for _, e := range rl.Endpoints {
		limitCfg.PerEndpoint = append(limitCfg.PerEndpoint, middleware.EndpointLimitConfig{
			Path:              e.Path,
			Method:            strings.ToUpper(e.Method),
			RequestsPerSecond: e.RequestsPerSecond,
			BurstSize:         e.Burst,
		})
	}
	return middleware.NewRateLimiter(limitCfg, logger)
}

// setupMiddleware configures middleware for the Gin router.
// Middleware is executed in the order they are added.
func (s *Server) setupMiddleware() {
	// Recovery middleware - must be first to catch panics
	s.router.Use(s.recoveryMiddleware())

	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())

	if s.metrics != nil {
		s.router.Use(s.metricsMiddleware())
	}

	if s.config.Security.Headers {
		s.router.Use(middleware.SecurityHeaders(&middleware.SecurityHeadersConfig{
			Enabled:               true,
			TLSEnabled:            s.config.TLS.Enabled,
			HSTSMaxAge:            s.config.Security.HSTSMaxAge,
			HSTSIncludeSubDomains: true,
			ContentSecurityPolicy: middleware.DefaultSecurityHeadersConfig().ContentSecurityPolicy,
		}))
	}

	if s.config.Security.EnableCORS {
		s.router.Use(s.corsMiddleware())
	}

	if s.rateLimiter != nil {
		s.router.Use(s.rateLimiter.Middleware())
		s.logger.Info("rate limiting enabled")
	}

	if s.openAPIValidator != nil && s.config.Validation.Enabled {
		s.router.Use(s.openAPIValidator.Middleware())
		s.logger.Info("OpenAPI request validation enabled")
	}
}

// Start listens and serves until Shutdown is called.
//
// Returns an error if the server fails to start.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	httpServer := &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		IdleTimeout:    s.config.Server.IdleTimeout,
		MaxHeaderBytes: s.config.Server.MaxHeaderBytes,
	}
	if s.config.TLS.Enabled {
		httpServer.TLSConfig = &tls.Config{MinVersion: tlsVersion(s.config.TLS.MinVersion)}
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		zap.String("address", addr),
		zap.String("mode", s.config.Server.GinMode),
		zap.Bool("tls_enabled", s.config.TLS.Enabled),
	)

	var err error
	if s.config.TLS.Enabled {
		err = httpServer.ListenAndServeTLS(s.config.TLS.CertFile, s.config.TLS.KeyFile)
	} else {
		err = httpServer.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func tlsVersion(v string) uint16 {
	if v == "1.2" {
		return tls.VersionTLS12
	}
	return tls.VersionTLS13
}

// Shutdown gracefully shuts down the HTTP server.
// It waits for active requests to complete or until the shutdown timeout expires.
// This method is safe to call multiple times - only the first call will execute.
//
// Returns an error if the shutdown fails.
func (s *Server) Shutdown() error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		httpServer := s.httpServer
		s.mu.Unlock()
		if httpServer == nil {
			return
		}

		s.logger.Info("initiating graceful shutdown",
			zap.Duration("timeout", s.config.Server.ShutdownTimeout),
		)

		ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("error during shutdown", zap.Error(err))
			shutdownErr = fmt.Errorf("server shutdown failed: %w", err)
			return
		}

		s.logger.Info("server shutdown complete")
	})

	return shutdownErr
}

// Router returns the underlying Gin router.
// This is useful for testing and adding custom routes.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// recoveryMiddleware recovers from panics and logs the error.
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("client_ip", c.ClientIP()),
				)

				handlers.WriteProblem(c, http.StatusInternalServerError, "Internal server error")
			}
		}()
		c.Next()
	}
}

// requestIDMiddleware propagates or assigns a request id.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// loggingMiddleware logs HTTP requests and responses.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		s.logger.Info("HTTP request",
			zap.String("request_id", c.GetString("request_id")),
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
			zap.Int("body_size", c.Writer.Size()),
			zap.String("user_agent", c.Request.UserAgent()),
		)

		for _, e := range c.Errors {
			s.logger.Error("request error", zap.Error(e.Err))
		}
	}
}

// metricsMiddleware collects Prometheus metrics for HTTP requests.
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		s.metrics.HTTPRequestsInFlight.Inc()
		defer s.metrics.HTTPRequestsInFlight.Dec()

		c.Next()

		s.metrics.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// corsMiddleware adds CORS headers to responses.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		if len(s.config.Security.AllowedOrigins) == 0 {
			allowed = true
		} else {
			for _, allowedOrigin := range s.config.Security.AllowedOrigins {
				if allowedOrigin == "*" || allowedOrigin == origin {
					allowed = true
					break
				}
			}
		}

		if allowed && origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers",
				strings.Join(s.config.Security.AllowedHeaders, ", "))
			c.Writer.Header().Set("Access-Control-Allow-Methods",
				strings.Join(s.config.Security.AllowedMethods, ", "))
			c.Writer.Header().Set("Access-Control-Expose-Headers", "Location, Link, Version")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
