// Package response centralizes the HTTP response envelope. Success bodies
// are {"success":true,"data":...}; failures are {"success":false,"error":{...}}.
package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	infraerrors "github.com/Wei-Shaw/notifyhub/internal/pkg/errors"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

// Accepted is used for enqueue-style operations that complete asynchronously.
func Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, Envelope{Success: true, Data: data})
}

func BadRequest(c *gin.Context, code, message string, details any) {
	c.JSON(http.StatusBadRequest, Envelope{
		Success: false,
		Error:   &ErrorBody{Code: code, Message: message, Details: details},
	})
}

// TooManyRequests renders a 429 with the retry hint clients key off.
func TooManyRequests(c *gin.Context, message string, retryAfterSeconds int) {
	c.JSON(http.StatusTooManyRequests, Envelope{
		Success: false,
		Error: &ErrorBody{
			Code:    "RATE_LIMITED",
			Message: message,
			Details: gin.H{"retryAfter": retryAfterSeconds},
		},
	})
}

func InternalError(c *gin.Context, message string) {
	if gin.Mode() == gin.ReleaseMode {
		message = "internal server error"
	}
	c.JSON(http.StatusInternalServerError, Envelope{
		Success: false,
		Error:   &ErrorBody{Code: "INTERNAL_ERROR", Message: message},
	})
}

func ServiceUnavailable(c *gin.Context, data any) {
	c.JSON(http.StatusServiceUnavailable, data)
}

// Error renders an ApplicationError with its own status and code, collapsing
// anything else to a generic 500. 5xx message detail is hidden in release
// mode so infra errors never leak upstream specifics.
func Error(c *gin.Context, err error) {
	appErr := new(infraerrors.ApplicationError)
	if !errors.As(err, &appErr) || appErr == nil {
		InternalError(c, err.Error())
		return
	}
	message := appErr.Message
	if appErr.Status >= http.StatusInternalServerError && gin.Mode() == gin.ReleaseMode {
		message = "internal server error"
	}
	body := &ErrorBody{Code: appErr.Code, Message: message}
	if len(appErr.Metadata) > 0 {
		body.Details = appErr.Metadata
	}
	c.JSON(appErr.Status, Envelope{Success: false, Error: body})
}
