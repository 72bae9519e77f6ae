package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/kleeedolinux/notebookws/debug"

	"github.com/gorilla/websocket"
)

// ServerTransport is the backend side of one client socket.
type ServerTransport interface {
	Read() ([]byte, error)

	Write([]byte) error

	// CloseWithCode sends a close frame carrying code before closing.
	CloseWithCode(code int, reason string) error

	Close() error

	ID() string
}

var _ ServerTransport = (*WebSocketServerTransport)(nil)

type WebSocketServerTransport struct {
	id           string
	conn         *websocket.Conn
	sendCh       chan []byte
	closeCh      chan struct{}
	writeWg      sync.WaitGroup
	writeTimeout time.Duration
	mu           sync.Mutex
	closed       bool
}

type WebSocketServerConfig struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	BufferSize   int
}

func DefaultWebSocketServerConfig() WebSocketServerConfig {
	return WebSocketServerConfig{
		WriteTimeout: 10 * time.Second,
		BufferSize:   100,
	}
}

func NewWebSocketServerTransport(id string, conn *websocket.Conn, config WebSocketServerConfig) *WebSocketServerTransport {
	t := &WebSocketServerTransport{
		id:           id,
		conn:         conn,
		sendCh:       make(chan []byte, config.BufferSize),
		closeCh:      make(chan struct{}),
		writeTimeout: config.WriteTimeout,
	}

	if config.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(config.ReadTimeout))
	}

	t.writeWg.Add(1)
	go t.writePump()

	return t
}

func (t *WebSocketServerTransport) writePump() {
	defer t.writeWg.Done()

	for {
		select {
		case <-t.closeCh:
			return
		case message := <-t.sendCh:
			if t.writeTimeout > 0 {
				t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			}

			if err := t.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				debug.Printf("WebSocketServerTransport %s: Write error: %v", t.id, err)
				go t.Close()
				return
			}
		}
	}
}

func (t *WebSocketServerTransport) Read() ([]byte, error) {
	_, message, err := t.conn.ReadMessage()
	if err != nil {
		debug.Printf("WebSocketServerTransport %s: Error reading message: %v", t.id, err)
		t.Close()
		return nil, err
	}

	debug.Printf("WebSocketServerTransport %s: Received message: %s", t.id, string(message))
	return message, nil
}

func (t *WebSocketServerTransport) Write(data []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()

	if closed {
		debug.Printf("WebSocketServerTransport %s: Attempted to write to closed transport", t.id)
		return ErrClosed
	}

	select {
	case t.sendCh <- data:
		return nil
	default:
		debug.Printf("WebSocketServerTransport %s: Send buffer full, closing connection", t.id)
		t.Close()
		return ErrClosed
	}
}

// CloseWithCode sends a close frame with the given code before tearing the
// socket down. Tests use it to simulate abnormal backend shutdowns.
func (t *WebSocketServerTransport) CloseWithCode(code int, reason string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}

	t.closed = true
	close(t.closeCh)
	t.mu.Unlock()

	t.writeWg.Wait()

	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)

	return t.conn.Close()
}

func (t *WebSocketServerTransport) Close() error {
	return t.CloseWithCode(websocket.CloseNormalClosure, "")
}

func (t *WebSocketServerTransport) ID() string {
	return t.id
}

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}
