package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/piwi3910/vnfm/internal/handlers"
)

// VersionHeader carries the requested API version on every /vnflcm
// request and the served version on every response.
const VersionHeader = "Version"

// APIVersion represents a served major version of the API.
type APIVersion struct {
	// Version is the full version string (e.g., "2.0.0").
	Version string
	// Status indicates the version status (stable, deprecated).
	Status string
	// SunsetDate is when the version will be removed (for deprecated versions).
	SunsetDate *time.Time
}

// VersionStatus constants for API version lifecycle.
const (
	VersionStatusStable     = "stable"
	VersionStatusDeprecated = "deprecated"
)

// VersionConfig holds the served versions, keyed by major version.
type VersionConfig struct {
	Versions map[int]*APIVersion

	// ExemptPaths are route templates reachable without a Version header.
	ExemptPaths []string
}

// NewVersionConfig creates a version configuration serving the current
// VNF LCM interface.
func NewVersionConfig() *VersionConfig {
	return &VersionConfig{
		Versions: map[int]*APIVersion{
			2: {Version: handlers.APIVersion, Status: VersionStatusStable},
		},
		ExemptPaths: []string{"/vnflcm/v2/api_versions"},
	}
}

// VersioningMiddleware enforces the Version request header. A missing or
// malformed header is rejected with 400; a version whose major does not
// match the one in the path, or that is not served, with 406.
func VersioningMiddleware(config *VersionConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		pathMajor := extractVersionNumber(extractVersionFromPath(c.Request.URL.Path))
		served, ok := config.Versions[pathMajor]
		if !ok {
			handlers.WriteProblem(c, http.StatusNotFound, "API version not found")
			return
		}
		c.Header(VersionHeader, served.Version)

		if served.Status == VersionStatusDeprecated {
			c.Header("Deprecation", "true")
			if served.SunsetDate != nil {
				c.Header("Sunset", served.SunsetDate.Format(http.TimeFormat))
			}
		}

		if config.isExempt(c.FullPath()) {
			c.Next()
			return
		}

		requested := c.GetHeader(VersionHeader)
		if requested == "" {
			handlers.WriteProblem(c, http.StatusBadRequest, "Version header is required")
			return
		}
		major, ok := parseMajor(requested)
		if !ok {
			handlers.WriteProblem(c, http.StatusBadRequest, "Malformed Version header: "+requested)
			return
		}
		if major != pathMajor {
			handlers.WriteProblem(c, http.StatusNotAcceptable, "Version "+requested+" is not supported")
			return
		}

		c.Set("api_version", served.Version)
		c.Next()
	}
}

func (v *VersionConfig) isExempt(path string) bool {
	for _, p := range v.ExemptPaths {
		if p == path {
			return true
		}
	}
	return false
}

// parseMajor returns the major part of a version such as "2.0.0".
func parseMajor(version string) (int, bool) {
	major, _, _ := strings.Cut(version, ".")
	if major == "" || !isNumeric(major) {
		return 0, false
	}
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0, false
	}
	return n, true
}

// extractVersionFromPath extracts the API version from the URL path.
func extractVersionFromPath(path string) string {
	parts := strings.Split(path, "/")
	for _, part := range parts {
		if strings.HasPrefix(part, "v") && len(part) >= 2 {
			// Check if it's a valid version format (v1, v2, v3, etc.)
			versionNum := part[1:]
			if isNumeric(versionNum) {
				return part
			}
		}
	}
	return ""
}

// isNumeric checks if a string contains only numeric characters.
func isNumeric(s string) bool {
	// Prevent potential DoS from extremely long strings
	if len(s) > 10 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// extractVersionNumber extracts the numeric version from a version string.
func extractVersionNumber(version string) int {
	version = strings.TrimPrefix(version, "v")
	num := 0
	for _, c := range version {
		if c >= '0' && c <= '9' {
			num = num*10 + int(c-'0')
		}
	}
	return num
}
