package mockserver

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kleeedolinux/notebookws/debug"
	"github.com/kleeedolinux/notebookws/socket"
	"github.com/kleeedolinux/notebookws/socket/transport"
)

// Frame is one client frame as the backend saw it.
type Frame struct {
	ConnID    string
	Op        socket.Op
	Principal string
	Ticket    string
	Roles     any
	Fields    map[string]any
	Raw       []byte
}

func (f Frame) Field(key string) string {
	s, _ := f.Fields[key].(string)
	return s
}

func (f Frame) Int(key string) (int, bool) {
	n, ok := f.Fields[key].(float64)
	return int(n), ok
}

func parseFrame(connID string, raw []byte) (Frame, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", socket.ErrInvalidMessage, err)
	}

	f := Frame{ConnID: connID, Fields: fields, Raw: raw, Roles: fields["roles"]}
	op, _ := fields["op"].(string)
	f.Op = socket.Op(op)
	f.Principal, _ = fields["principal"].(string)
	f.Ticket, _ = fields["ticket"].(string)

	delete(fields, "op")
	delete(fields, "principal")
	delete(fields, "ticket")
	delete(fields, "roles")
	return f, nil
}

// Conn is the backend end of one client socket.
type Conn struct {
	id        string
	transport transport.ServerTransport

	mu     sync.Mutex
	closed bool
}

func newConn(id string, t transport.ServerTransport) *Conn {
	debug.Printf("mockserver: new connection %s", id)
	return &Conn{id: id, transport: t}
}

func (c *Conn) ID() string {
	return c.id
}

// Push writes an inbound-shaped {op, data} frame to the client.
func (c *Conn) Push(op socket.Op, data any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return socket.ErrClientClosed
	}

	raw, err := json.Marshal(map[string]any{"op": op, "data": data})
	if err != nil {
		return err
	}

	debug.Printf("mockserver: %s << %s", c.id, raw)
	return c.transport.Write(raw)
}

// PushRaw writes bytes unmodified, for malformed-frame tests.
func (c *Conn) PushRaw(raw []byte) error {
	return c.transport.Write(raw)
}

func (c *Conn) CloseWithCode(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.transport.CloseWithCode(code, reason)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.transport.Close()
}
