package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/piwi3910/vnfm/internal/models"
)

// abortWithProblem stops the chain with a problem details response.
func abortWithProblem(c *gin.Context, status int, detail string) {
	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(status, &models.ProblemDetails{
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	})
}
