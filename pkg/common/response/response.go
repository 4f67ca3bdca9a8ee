package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/formiq/platform/pkg/common/logger"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Envelope is the single response shape of the whole API. Errors is left nil
// on success and is never nil on the error path.
type Envelope struct {
	Status    string      `json:"status"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Errors    []string    `json:"errors,omitzero"`
	Code      int         `json:"code"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError carries everything needed to render an error envelope.
type APIError struct {
	Code    int
	Message string
	Errors  []string
	Data    interface{}
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(code int, message string, errs ...string) *APIError {
	return &APIError{Code: code, Message: message, Errors: errs}
}

func BadRequest(message string, errs ...string) *APIError {
	return NewAPIError(http.StatusBadRequest, message, errs...)
}

func Forbidden(message string) *APIError {
	return NewAPIError(http.StatusForbidden, message)
}

func NotFound(message string) *APIError {
	return NewAPIError(http.StatusNotFound, message)
}

func Conflict(message string) *APIError {
	return NewAPIError(http.StatusConflict, message)
}

func Unauthorized(message string) *APIError {
	return NewAPIError(http.StatusUnauthorized, message)
}

func TooManyRequests(data interface{}) *APIError {
	return &APIError{
		Code:    http.StatusTooManyRequests,
		Message: "Rate limit exceeded",
		Errors:  []string{"Too many requests, please try again later."},
		Data:    data,
	}
}

func Internal(message string) *APIError {
	return NewAPIError(http.StatusInternalServerError, message)
}

func Success(w http.ResponseWriter, code int, message string, data interface{}) {
	write(w, code, Envelope{
		Status:    statusSuccess,
		Message:   message,
		Data:      data,
		Code:      code,
		Timestamp: time.Now().UTC(),
	})
}

// Error renders err. Anything that is not an *APIError becomes an opaque 500
// so internal detail never reaches the caller.
func Error(w http.ResponseWriter, err error) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		logger.Log.WithError(err).Error("unhandled error reached response writer")
		apiErr = Internal("Internal server error")
	}
	errs := apiErr.Errors
	if errs == nil {
		errs = []string{}
	}

	write(w, apiErr.Code, Envelope{
		Status:    statusError,
		Message:   apiErr.Message,
		Data:      apiErr.Data,
		Errors:    errs,
		Code:      apiErr.Code,
		Timestamp: time.Now().UTC(),
	})
}

func write(w http.ResponseWriter, code int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		logger.Log.WithError(err).Warn("failed to encode response envelope")
	}
}
