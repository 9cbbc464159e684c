package mailrpc

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when no reply arrives within the request timeout.
	ErrTimeout = errors.New("request timed out")

	// ErrClosed is returned for requests outstanding when the controller closes.
	ErrClosed = errors.New("rpc controller closed")

	// ErrMalformedReply marks reply bodies that cannot be correlated.
	ErrMalformedReply = errors.New("malformed reply")
)

// SendError indicates the transport failed to send a request.
type SendError struct {
	RequestID string
	Command   string
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sending request %s (%s): %v", e.RequestID, e.Command, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
