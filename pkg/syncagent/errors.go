package syncagent

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("config server unreachable")
	// ErrNoConfiguration is returned by Start when the server cannot be
	// reached and no usable offline snapshot exists.
	ErrNoConfiguration = errors.New("no configuration available")

	ErrAuthentication = errors.New("server rejected client secret")
	ErrUnknownClient  = errors.New("server has no registration for client")
	ErrInvalidRequest = errors.New("server rejected request")
)

// TransportError describes a failed exchange with the server: a network
// error, a timeout or an unexpected status.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// terminal errors are answers from the server; retrying them cannot help.
func terminal(err error) bool {
	return errors.Is(err, ErrAuthentication) || errors.Is(err, ErrUnknownClient) || errors.Is(err, ErrInvalidRequest)
}
