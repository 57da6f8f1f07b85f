package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error is an error rendered to HTTP clients as {"code","message"}.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns a copy of e carrying err as its cause. Sentinels are never mutated.
func (e *Error) Wrap(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Err: err}
}

func New(code int, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

var (
	ErrInvalidInput       = New(http.StatusBadRequest, "Invalid input", nil)
	ErrInternalServer     = New(http.StatusInternalServerError, "Internal server error", nil)
	ErrServiceUnavailable = New(http.StatusServiceUnavailable, "Service unavailable", nil)
)

// Tracking errors returned by the internal endpoints.
var (
	ErrLogNotFound      = New(http.StatusNotFound, "Abandonment log not found", nil)
	ErrTrackingStore    = New(http.StatusInternalServerError, "Tracking store error", nil)
	ErrActivityDisabled = New(http.StatusServiceUnavailable, "Activity store not configured", nil)
	ErrCatalogReload    = New(http.StatusServiceUnavailable, "Catalog reload failed", nil)
)

// ErrorMiddleware renders the last error attached to the gin context
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		var appErr *Error
		if !errors.As(err, &appErr) {
			appErr = ErrInternalServer.Wrap(err)
		}

		c.JSON(appErr.Code, appErr)
		c.Abort()
	}
}
