// Package response holds the shared JSON response helpers for HTTP
// handlers, including the mapping from typed domain errors to status codes.
package response

import (
	"errors"
	"net/http"

	"convopilot_backend/platform/apperr"

	"github.com/gin-gonic/gin"
)

type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

func JSON(c *gin.Context, status int, payload interface{}) {
	c.JSON(status, payload)
}

func Error(c *gin.Context, status int, message string, details interface{}) {
	c.JSON(status, ErrorResponse{Error: message, Details: details})
}

func OK(c *gin.Context, payload interface{}) {
	c.JSON(http.StatusOK, payload)
}

// HandleError maps a domain error onto the response and reports whether
// an error was written. Non-domain errors become opaque 500s.
func HandleError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		Error(c, appErr.HTTPStatus(), appErr.Message, appErr.Details)
		return true
	}

	Error(c, http.StatusInternalServerError, "internal server error", nil)
	return true
}
