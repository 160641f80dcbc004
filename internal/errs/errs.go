// Package errs holds the sentinel errors shared by the store, service and
// HTTP layers, plus their mapping onto HTTP status codes.
package errs

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	// ErrInvalidInput marks missing or malformed request fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidFormat marks a login identifier whose shape is not recognised.
	ErrInvalidFormat = errors.New("invalid username format")

	// ErrInvalidCredentials is returned for every failed login, whatever stage failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNotFound indicates the requested entity does not exist or has expired.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the caller's role may not perform the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates a uniqueness violation (portal mobile already registered).
	ErrConflict = errors.New("already exists")

	// ErrStoreUnavailable wraps failures of the document store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrStorageUnavailable wraps failures of the object storage.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// HTTPStatus maps an error chain to the HTTP status the API reports for it.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidFormat):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message that may be shown to an API caller.
// Store and storage failures are reduced to a generic message; the detail
// belongs in the server log only.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return ErrInvalidCredentials.Error()
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrStorageUnavailable):
		return "internal server error"
	case HTTPStatus(err) == http.StatusInternalServerError:
		return "internal server error"
	default:
		return err.Error()
	}
}

// HTTPError converts a service error into an echo.HTTPError carrying the
// public message. The original error is kept as the internal cause for logging.
func HTTPError(err error) *echo.HTTPError {
	he := echo.NewHTTPError(HTTPStatus(err), PublicMessage(err))
	return he.SetInternal(err)
}
