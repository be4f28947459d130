package apierr

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Error is a failure that already knows its HTTP status and public code.
type Error struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, "VALIDATION_ERROR", message)
}

func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, "UNAUTHORIZED", message)
}

func Forbidden(message string) *Error {
	return New(http.StatusForbidden, "FORBIDDEN", message)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, "NOT_FOUND", message)
}

func Conflict(code, message string) *Error {
	return New(http.StatusConflict, code, message)
}

func TooLarge(message string) *Error {
	return New(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", message)
}

func Unsupported(message string) *Error {
	return New(http.StatusUnsupportedMediaType, "UNSUPPORTED_TYPE", message)
}

func Blocked(message string) *Error {
	return New(http.StatusUnprocessableEntity, "CONTENT_BLOCKED", message)
}

func Locked(code, message string) *Error {
	return New(http.StatusLocked, code, message)
}

func TooMany(message string) *Error {
	return New(http.StatusTooManyRequests, "RATE_LIMITED", message)
}

func Unavailable(message string, err error) *Error {
	return &Error{Status: http.StatusServiceUnavailable, Code: "PROVIDER_UNAVAILABLE", Message: message, Err: err}
}

// Internal is a 500 whose cause is logged but never shown to the client.
func Internal(code, message string, err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: code, Message: message, Err: err}
}

// InternalMessage replaces the text of unexpected errors in responses.
const InternalMessage = "Error interno del servidor"

// Public returns what a client may see for err. Details of anything that is
// not an *Error stay server side.
func Public(err error, fallbackCode string) (status int, code, message string) {
	var e *Error
	if errors.As(err, &e) {
		return e.Status, e.Code, e.Message
	}
	return http.StatusInternalServerError, fallbackCode, InternalMessage
}

func body(code, message string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message}}
}

// Abort writes the error envelope and stops the handler chain. Errors that
// are not *Error become a generic 500 carrying fallbackCode.
func Abort(c *gin.Context, fallbackCode string, err error) {
	status, code, message := Public(err, fallbackCode)
	if status >= http.StatusInternalServerError {
		log.Printf("[%s] %s %s: %v", strings.ToLower(code), c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, body(code, message))
}

// Handle adapts an error-returning handler. Once a response has started
// (streams), failures are only logged.
func Handle(code string, fn func(c *gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := fn(c)
		if err == nil {
			return
		}
		if c.Writer.Written() {
			log.Printf("[%s] error after response started: %v", strings.ToLower(code), err)
			return
		}
		Abort(c, code, err)
	}
}

// OK wraps data in the success envelope.
func OK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"data": data})
}
