// Package server defines the error values and shared helpers used by the
// reactor, its connections, and the WebSocket gateway.
package server

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gorilla/websocket"
)

// MaxQueuedFrames is how many outgoing frames a connection holds before new
// ones are dropped.
const MaxQueuedFrames = 100

// ErrClientLeft is returned by a connection whose client sent an explicit leave.
var ErrClientLeft = errors.New("client left")

// errNotStarted is returned by Run when Start has not bound a listener.
var errNotStarted = errors.New("reactor not started")

// BindError reports that the relay could not listen on its address.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("cannot listen on %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, ErrClientLeft) {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "io: read/write on closed pipe") ||
		strings.Contains(errStr, "connection reset by peer") ||
		strings.Contains(errStr, "broken pipe")
}
