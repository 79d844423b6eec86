package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// ConnectivityError means no response reached us at all: DNS, dial, timeout.
// Callers branch on it to enter the offline path instead of surfacing an
// error to the user.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("no connectivity: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// APIError means the server responded but rejected the call. It is always
// surfaced to the caller, never swallowed.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server rejected request (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server rejected request (%d)", e.Status)
}

// IsConnectivity reports whether err is a connectivity failure.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is a server-side 404. The reconciler treats
// a not-found delete target as already applied.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

// AsAPIError extracts an APIError if err carries one.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	ok := errors.As(err, &ae)
	return ae, ok
}
