// Package handlers implements the resources of the VNF lifecycle
// management interface (/vnflcm/v2): VNF instances and their tasks,
// op-occs and their tasks, and subscriptions.
//
// Every error response is a problem details document served as
// application/problem+json.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/conductor"
	"github.com/piwi3910/vnfm/internal/httpauth"
	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/storage"
	"github.com/piwi3910/vnfm/internal/vnfpkg"
)

// ProblemContentType is the media type of error responses.
const ProblemContentType = "application/problem+json"

// StatusFor maps an error returned by the lifecycle core or the stores to
// an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, conductor.ErrInstanceInstantiated),
		errors.Is(err, conductor.ErrInstanceNotInstantiated),
		errors.Is(err, conductor.ErrOtherOperationInProgress),
		errors.Is(err, conductor.ErrNotFailedTemp),
		errors.Is(err, conductor.ErrNotProcessing),
		errors.Is(err, storage.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, conductor.ErrRollbackNotSupported),
		errors.Is(err, vnfpkg.ErrPackageNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, conductor.ErrInvalidRequest),
		errors.Is(err, vnfpkg.ErrAspectNotFound),
		errors.Is(err, vnfpkg.ErrFlavourNotFound),
		errors.Is(err, vnfpkg.ErrInstantiationLevelNotFound),
		errors.Is(err, models.ErrInvalidFilter),
		errors.Is(err, storage.ErrInvalidCallback),
		errors.Is(err, storage.ErrInvalidID),
		errors.Is(err, httpauth.ErrInvalidParams),
		errors.Is(err, httpauth.ErrUnsupportedAuthType):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// WriteProblem aborts the request with a problem details body.
func WriteProblem(c *gin.Context, status int, detail string) {
	c.Header("Content-Type", ProblemContentType)
	c.AbortWithStatusJSON(status, &models.ProblemDetails{
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	})
}

// writeError maps err to a problem response. Server errors are logged and
// their detail is not exposed.
func writeError(c *gin.Context, logger *zap.Logger, msg string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg,
			zap.String("request_id", c.GetString("request_id")),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		WriteProblem(c, status, msg)
		return
	}

	logger.Info(msg,
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	)
	WriteProblem(c, status, err.Error())
}

// bindJSON decodes the request body and answers 400 on failure.
func bindJSON(c *gin.Context, logger *zap.Logger, out interface{}) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		logger.Warn("invalid request body",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		WriteProblem(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}
