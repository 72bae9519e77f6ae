package transport

import (
	"context"
	"errors"

	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrClosed       = errors.New("transport: closed")
)

// Transport carries text frames for one client. Each successful Connect
// establishes a fresh physical socket; a closed socket is never reused.
type Transport interface {
	Connect(ctx context.Context) error
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
}

// IsNormalClosure reports whether err is the peer closing with code 1000.
// Every other read failure, including 1001 from a restarting backend, counts
// as abnormal.
func IsNormalClosure(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure)
}

// CloseCode extracts the close code from err, or -1 when err did not come
// from a close frame.
func CloseCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return -1
}
