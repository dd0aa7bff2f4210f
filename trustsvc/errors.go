package trustsvc

import (
	"errors"
	"fmt"
)

// ErrNoSession is returned when an operation needs tokens that were never
// issued for the account and scope.
var ErrNoSession = errors.New("no trust service session")

// NetworkError is a transient failure: the service could not be reached or
// answered with a server side error. Retrying the same call is safe.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

// Error returns the failed operation.
func (e *NetworkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("trust service %s: status %d", e.Op, e.Status)
	}

	return fmt.Sprintf("trust service %s: %v", e.Op, e.Err)
}

// Unwrap returns the transport error, if any.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// AuthProtocolError is returned when the service refuses to authenticate
// the account. During recovery this means the attempt was cancelled or
// superseded elsewhere.
type AuthProtocolError struct {
	Op     string
	Status int
	Code   string
}

// Error returns the rejected operation.
func (e *AuthProtocolError) Error() string {
	return fmt.Sprintf("trust service %s rejected authentication: "+
		"status %d (%s)", e.Op, e.Status, e.Code)
}

// APIError is any other request the service rejected.
type APIError struct {
	Op      string
	Status  int
	Code    string
	Message string
}

// Error returns the service's description of the rejection.
func (e *APIError) Error() string {
	return fmt.Sprintf("trust service %s: status %d %s: %s", e.Op,
		e.Status, e.Code, e.Message)
}

// IsTransient reports whether err is a NetworkError.
func IsTransient(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}
