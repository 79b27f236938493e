package server

import (
	"fmt"
	"io/fs"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"sigs.k8s.io/yaml"

	"github.com/piwi3910/vnfm/internal/handlers"
	"github.com/piwi3910/vnfm/internal/middleware"
)

// Swagger UI is loaded from a pinned swagger-ui-dist release with SRI
// hashes (sha384).
const (
	swaggerUIDist      = "https://unpkg.com/swagger-ui-dist@5.11.0/"
	swaggerUICSSSRI    = "sha384-+yyzNgM3K92sROwsXxYCxaiLWxWJ0G+v/9A+qIZ2rgefKgkdcmJI+L601cqPD/Ut"
	swaggerUIBundleSRI = "sha384-qn5tagrAjZi8cSmvZ+k3zk4+eDEEUcP9myuR2J6V+/H6rne++v6ChO7EeHAEzqxQ"

	swaggerUICSP = "default-src 'self'; " +
		"script-src 'self' 'unsafe-inline' https://unpkg.com; " +
		"style-src 'self' 'unsafe-inline' https://unpkg.com; " +
		"img-src 'self' data:; " +
		"connect-src 'self'"
)

// swaggerPage renders BaseLayout only, so the standalone preset is not
// needed. Every LCM call made from the page carries the Version header.
var swaggerPage = strings.NewReplacer(
	"{{dist}}", swaggerUIDist,
	"{{cssSRI}}", swaggerUICSSSRI,
	"{{bundleSRI}}", swaggerUIBundleSRI,
	"{{version}}", handlers.APIVersion,
).Replace(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>VNF LCM API Documentation</title>
  <link rel="stylesheet" href="{{dist}}swagger-ui.css" integrity="{{cssSRI}}" crossorigin="anonymous">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="{{dist}}swagger-ui-bundle.js" integrity="{{bundleSRI}}" crossorigin="anonymous"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: "/docs/openapi.yaml",
      dom_id: "#swagger-ui",
      validatorUrl: null,
      displayRequestDuration: true,
      supportedSubmitMethods: ["get", "post", "patch", "delete"],
      requestInterceptor: function(req) {
        req.headers["Version"] = "{{version}}";
        return req;
      }
    });
  </script>
</body>
</html>`)

// setupDocsRoutes serves the VNF LCM OpenAPI document as YAML and JSON,
// and a Swagger UI page over it at /docs/.
func (s *Server) setupDocsRoutes() {
	docs := s.router.Group("/docs")
	docs.GET("/openapi.yaml", serveDocument(s.openAPIYAML, "application/x-yaml"))
	docs.GET("/openapi.json", serveDocument(s.openAPIJSON, "application/json"))
	docs.GET("", s.handleSwaggerUIRedirect)
	docs.GET("/", s.handleSwaggerUI)
}

// loadOpenAPIDocs reads the embedded VNF LCM OpenAPI document and its
// JSON rendering.
func loadOpenAPIDocs() (yamlDoc, jsonDoc []byte, err error) {
	yamlDoc, err = fs.ReadFile(middleware.OpenAPISpecs, middleware.VnfLcmSpecFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read embedded OpenAPI spec: %w", err)
	}
	jsonDoc, err = yaml.YAMLToJSON(yamlDoc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert OpenAPI spec to JSON: %w", err)
	}
	return yamlDoc, jsonDoc, nil
}

func serveDocument(doc []byte, contentType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(doc) == 0 {
			handlers.WriteProblem(c, http.StatusNotFound, "OpenAPI document not loaded")
			return
		}
		c.Header("Cache-Control", "public, max-age=3600")
		c.Data(http.StatusOK, contentType, doc)
	}
}

func (s *Server) handleSwaggerUIRedirect(c *gin.Context) {
	c.Redirect(http.StatusMovedPermanently, "/docs/")
}

func (s *Server) handleSwaggerUI(c *gin.Context) {
	c.Header("Content-Security-Policy", swaggerUICSP)
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(swaggerPage))
}
