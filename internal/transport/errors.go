package transport

import (
	"errors"
	"fmt"
)

// ErrClosed marks operations attempted against a connection that was shut
// down on purpose.
var ErrClosed = errors.New("connection closed")

// TransportError is a connect or emit failure on the stream or HTTP layer.
// The caller sees it; the core never retries on its own behind it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// RequestError is a REST call that reached the server and came back
// non-2xx. The store is left untouched when one of these surfaces.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed: status %d", e.Status)
}
