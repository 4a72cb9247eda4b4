package applications

import (
	"errors"
	"net/http"
)

// Domain errors for application operations.
var (
	ErrNotFound      = errors.New("application not found")
	ErrDuplicate     = errors.New("application already exists")
	ErrInvalidStatus = errors.New("invalid application status")
	ErrClosed        = errors.New("application is closed")
)

// MapHTTPStatus maps application domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrDuplicate) || errors.Is(err, ErrClosed) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrInvalidStatus) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
