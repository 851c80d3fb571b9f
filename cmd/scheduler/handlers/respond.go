// Package handlers holds the scheduler's HTTP handlers: deployment
// lifecycle, manual triggering and the inbound event endpoints.
package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/weavr-ai/weavr/common/errs"
)

// respondError maps an application error onto the HTTP status that fits
// its code and writes the structured error body
func respondError(c echo.Context, err error) error {
	var appErr *errs.AppError
	if !errors.As(err, &appErr) {
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"error_code":    "internal",
			"error_message": err.Error(),
		})
	}
	return c.JSON(statusFor(appErr.Code), appErr)
}

func statusFor(code string) int {
	switch code {
	case errs.CodeWorkflowNotFound, errs.CodeExecutionNotFound:
		return http.StatusNotFound
	case errs.CodeInvalidWorkflow, errs.CodeCycle:
		return http.StatusBadRequest
	case errs.CodeSignatureInvalid:
		return http.StatusUnauthorized
	case errs.CodeDeploymentFailed, errs.CodeInvariantViolation:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
