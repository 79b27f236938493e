// Package middleware provides HTTP middleware for the VNF manager API:
// OpenAPI request validation, rate limiting and security headers.
// Rejections are problem details documents.
package middleware

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// OpenAPISpecs embeds the OpenAPI specification files.
//
//go:embed specs/*.yaml
var OpenAPISpecs embed.FS

// VnfLcmSpecFile is the embedded description of /vnflcm/v2.
const VnfLcmSpecFile = "specs/vnflcm.yaml"

// DefaultMaxBodySize bounds request bodies read for validation.
const DefaultMaxBodySize int64 = 1 << 20

// ValidationConfig holds configuration for the OpenAPI validation middleware.
type ValidationConfig struct {
	// SpecPath is the path to the OpenAPI specification file.
	// If empty, the embedded spec will be used.
	SpecPath string

	// ValidateRequest enables request validation against the OpenAPI spec.
	ValidateRequest bool

	// ValidateResponse enables response validation against the OpenAPI spec.
	// Failures are logged only.
	ValidateResponse bool

	// MaxBodySize is the largest request body accepted, in bytes.
	// Zero means DefaultMaxBodySize.
	MaxBodySize int64

	// ExcludePaths is a list of path prefixes to exclude from validation.
	ExcludePaths []string

	// Logger is the logger for validation errors.
	Logger *zap.Logger
}

// DefaultValidationConfig returns the default validation configuration.
func DefaultValidationConfig() *ValidationConfig {
	return &ValidationConfig{
		ValidateRequest:  true,
		ValidateResponse: false,
		MaxBodySize:      DefaultMaxBodySize,
		ExcludePaths: []string{
			"/health",
			"/healthz",
			"/ready",
			"/readyz",
			"/metrics",
		},
	}
}

// OpenAPIValidator provides OpenAPI-based request/response validation.
type OpenAPIValidator struct {
	config *ValidationConfig
	router routers.Router
	spec   *openapi3.T
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewOpenAPIValidator creates a new OpenAPI validator with the given configuration.
func NewOpenAPIValidator(cfg *ValidationConfig) (*OpenAPIValidator, error) {
	if cfg == nil {
		cfg = DefaultValidationConfig()
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OpenAPIValidator{
		config: cfg,
		logger: logger,
	}, nil
}

// LoadSpec loads the OpenAPI specification from the given content.
func (v *OpenAPIValidator) LoadSpec(specContent []byte) error {
	spec, err := openapi3.NewLoader().LoadFromData(specContent)
	if err != nil {
		return fmt.Errorf("failed to parse OpenAPI spec: %w", err)
	}
	if err := v.install(spec); err != nil {
		return err
	}

	v.logger.Info("OpenAPI spec loaded successfully",
		zap.String("title", spec.Info.Title),
		zap.String("version", spec.Info.Version),
	)
	return nil
}

// LoadEmbeddedSpec loads the embedded /vnflcm/v2 description.
func (v *OpenAPIValidator) LoadEmbeddedSpec() error {
	data, err := OpenAPISpecs.ReadFile(VnfLcmSpecFile)
	if err != nil {
		return fmt.Errorf("failed to read embedded spec: %w", err)
	}
	return v.LoadSpec(data)
}

// LoadSpecFromFile loads the OpenAPI specification from a file path.
func (v *OpenAPIValidator) LoadSpecFromFile(path string) error {
	spec, err := openapi3.NewLoader().LoadFromFile(path)
	if err != nil {
		return fmt.Errorf("failed to load OpenAPI spec from file: %w", err)
	}
	if err := v.install(spec); err != nil {
		return err
	}

	v.logger.Info("OpenAPI spec loaded from file",
		zap.String("path", path),
		zap.String("title", spec.Info.Title),
		zap.String("version", spec.Info.Version),
	)
	return nil
}

func (v *OpenAPIValidator) install(spec *openapi3.T) error {
	if err := spec.Validate(context.Background()); err != nil {
		return fmt.Errorf("invalid OpenAPI spec: %w", err)
	}

	router, err := gorillamux.NewRouter(spec)
	if err != nil {
		return fmt.Errorf("failed to create OpenAPI router: %w", err)
	}

	v.mu.Lock()
	v.spec = spec
	v.router = router
	v.mu.Unlock()
	return nil
}

// Spec returns the loaded OpenAPI specification.
func (v *OpenAPIValidator) Spec() *openapi3.T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.spec
}

// isExcludedPath checks if the given path should be excluded from validation.
func (v *OpenAPIValidator) isExcludedPath(path string) bool {
	for _, excluded := range v.config.ExcludePaths {
		if strings.HasPrefix(path, excluded) {
			return true
		}
	}
	return false
}

// Middleware returns a Gin middleware function for OpenAPI validation.
func (v *OpenAPIValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		v.mu.RLock()
		router := v.router
		v.mu.RUnlock()

		if router == nil {
			v.logger.Warn("OpenAPI spec not loaded, skipping validation")
			c.Next()
			return
		}

		if v.isExcludedPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		if v.config.ValidateRequest {
			if err := v.validateRequest(c, router); err != nil {
				return
			}
		}

		if v.config.ValidateResponse {
			v.validateResponseWithCapture(c, router)
			return
		}

		c.Next()
	}
}

// validateRequest checks the request against its operation in the loaded
// document. Requests for paths the document does not describe pass through.
// A non-nil error means the request was aborted.
func (v *OpenAPIValidator) validateRequest(c *gin.Context, router routers.Router) error {
	route, pathParams, err := router.FindRoute(c.Request)
	if err != nil {
		v.logger.Debug("no OpenAPI operation for request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)
		return nil
	}

	body, err := v.bufferBody(c)
	if err != nil {
		return err
	}
	if body != nil {
		// The filter consumes the body; hand the handler a fresh reader.
		defer func() { c.Request.Body = io.NopCloser(bytes.NewReader(body)) }()
	}

	err = openapi3filter.ValidateRequest(c.Request.Context(), &openapi3filter.RequestValidationInput{
		Request:    c.Request,
		PathParams: pathParams,
		Route:      route,
		Options: &openapi3filter.Options{
			MultiError:         true,
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
	})
	if err != nil {
		detail := problemDetail(err)
		v.logger.Info("rejected invalid request",
			zap.String("method", c.Request.Method),
			zap.String("route", route.Path),
			zap.String("detail", detail),
		)
		abortWithProblem(c, http.StatusBadRequest, detail)
		return err
	}
	return nil
}

// bufferBody reads the request body into memory, enforcing MaxBodySize.
// It returns nil for requests without a body.
func (v *OpenAPIValidator) bufferBody(c *gin.Context) ([]byte, error) {
	limit := v.config.MaxBodySize
	if c.Request.ContentLength > limit {
		abortWithProblem(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds %d bytes", limit))
		return nil, errBodyTooLarge
	}
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
	if err != nil {
		v.logger.Error("failed to read request body", zap.Error(err))
		abortWithProblem(c, http.StatusInternalServerError, "Failed to read request body")
		return nil, err
	}
	if int64(len(body)) > limit {
		abortWithProblem(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds %d bytes", limit))
		return nil, errBodyTooLarge
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

var errBodyTooLarge = errors.New("request body too large")

// responseRecorder captures the response for validation.
type responseRecorder struct {
	gin.ResponseWriter
	body       *bytes.Buffer
	statusCode int
}

// Write captures the response body.
func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// WriteHeader captures the status code.
func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// validateResponseWithCapture runs the chain and validates the response
// it produced. The response is sent regardless.
func (v *OpenAPIValidator) validateResponseWithCapture(c *gin.Context, router routers.Router) {
	recorder := &responseRecorder{
		ResponseWriter: c.Writer,
		body:           &bytes.Buffer{},
		statusCode:     http.StatusOK,
	}
	c.Writer = recorder

	c.Next()

	route, pathParams, err := router.FindRoute(c.Request)
	if err != nil {
		return
	}

	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
		},
		Status: recorder.statusCode,
		Header: c.Writer.Header(),
		Body:   io.NopCloser(bytes.NewReader(recorder.body.Bytes())),
		Options: &openapi3filter.Options{
			MultiError: true,
		},
	}

	if err := openapi3filter.ValidateResponse(c.Request.Context(), input); err != nil {
		v.logger.Warn("response validation failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", recorder.statusCode),
			zap.Error(err),
		)
	}
}

// problemDetail turns a validation failure into the detail of a problem
// document, naming the offending parameter or body field.
func problemDetail(err error) string {
	if multi, ok := err.(openapi3.MultiError); ok {
		details := make([]string, 0, len(multi))
		for _, e := range multi {
			details = append(details, problemDetail(e))
		}
		return strings.Join(details, "; ")
	}

	var reqErr *openapi3filter.RequestError
	if !errors.As(err, &reqErr) {
		return err.Error()
	}
	switch {
	case reqErr.Parameter != nil:
		return fmt.Sprintf("invalid %s parameter %q: %s",
			reqErr.Parameter.In, reqErr.Parameter.Name, schemaReason(reqErr.Err))
	case reqErr.RequestBody != nil:
		return "invalid request body: " + schemaReason(reqErr.Err)
	default:
		return reqErr.Error()
	}
}

func schemaReason(err error) string {
	if err == nil {
		return "value rejected"
	}
	if multi, ok := err.(openapi3.MultiError); ok {
		reasons := make([]string, 0, len(multi))
		for _, e := range multi {
			reasons = append(reasons, schemaReason(e))
		}
		return strings.Join(reasons, ", ")
	}

	var schemaErr *openapi3.SchemaError
	if !errors.As(err, &schemaErr) {
		return err.Error()
	}
	if field := strings.Join(schemaErr.JSONPointer(), "."); field != "" {
		return field + ": " + schemaErr.Reason
	}
	return schemaErr.Reason
}
