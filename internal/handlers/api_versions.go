package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/piwi3910/vnfm/internal/models"
)

// APIVersion is the version of the VNF LCM interface served under
// /vnflcm/v2. Clients send it in the Version header.
const APIVersion = "2.0.0"

// APIVersionInfo describes one supported version.
type APIVersionInfo struct {
	Version      string `json:"version"`
	IsDeprecated bool   `json:"isDeprecated"`
}

// APIVersions is the body of GET /vnflcm/v2/api_versions.
type APIVersions struct {
	URIPrefix   string           `json:"uriPrefix"`
	APIVersions []APIVersionInfo `json:"apiVersions"`
}

// GetAPIVersions handles GET /vnflcm/v2/api_versions.
func GetAPIVersions(c *gin.Context) {
	c.JSON(http.StatusOK, APIVersions{
		URIPrefix:   models.APIRoot,
		APIVersions: []APIVersionInfo{{Version: APIVersion}},
	})
}
