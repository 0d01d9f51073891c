// Package apperr holds the error kinds shared by the purchase and licensing flow.
// Services wrap these sentinels with fmt.Errorf("%w: ...") and callers match them with errors.Is.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrUnauthenticated  = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrMalformedEvent   = errors.New("malformed event")
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	ErrUpstream         = errors.New("upstream failure")
	ErrAlreadyGenerated = errors.New("legal document already generated")
)

// HTTPStatus maps an error to the status code returned by the buyer-facing API.
// The webhook endpoint has its own mapping since it only talks to the payment provider.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidOperation),
		errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrMalformedEvent):
		return http.StatusBadRequest
	case errors.Is(err, ErrAlreadyGenerated):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the failure is transient, i.e. repeating the same call may succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	for _, permanent := range []error{
		ErrUnauthenticated, ErrForbidden, ErrNotFound, ErrConflict,
		ErrInvalidOperation, ErrMalformedEvent, ErrInvalidSignature, ErrAlreadyGenerated,
	} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	return true
}
