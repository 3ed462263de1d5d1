// Package common holds the error taxonomy shared by the store, the
// coordinators and the HTTP layer.
package common

import (
	"errors"
	"net/http"
)

var (
	// ErrNotFound means an entity id could not be resolved.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized means no valid viewer identity was supplied.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden means the viewer is known but lacks permission.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation means the input is malformed.
	ErrValidation = errors.New("validation failed")
	// ErrConflict means the change would break a data-model invariant.
	ErrConflict = errors.New("conflict")
	// ErrTransportUnavailable means the notification bus cannot be reached.
	ErrTransportUnavailable = errors.New("transport unavailable")
)

// HTTPStatus maps an error from the taxonomy to an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrTransportUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the short machine-readable code for an error.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTransportUnavailable):
		return "transport_unavailable"
	default:
		return "internal"
	}
}
