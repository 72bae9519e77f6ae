package mockserver

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/kleeedolinux/notebookws/socket"
	"github.com/kleeedolinux/notebookws/socket/transport"
)

// HandlerFunc answers one client frame.
type HandlerFunc func(c *Conn, f Frame)

// Server emulates the notebook backend's WebSocket endpoint closely enough
// to drive a socket.Client end to end.
type Server struct {
	mu       sync.RWMutex
	conns    map[string]*Conn
	handlers map[socket.Op][]HandlerFunc
	frames   []Frame
	notes    *Notebooks
	rooms    *RoomManager

	authorize  func(principal, ticket string) bool
	bufferSize int
	connected  chan *Conn
}

type ServerOption func(*Server)

// WithTicketCheck rejects frames whose credentials fail check. Rejected
// frames are still recorded but reach no handler.
func WithTicketCheck(check func(principal, ticket string) bool) ServerOption {
	return func(s *Server) {
		s.authorize = check
	}
}

func WithBufferSize(size int) ServerOption {
	return func(s *Server) {
		s.bufferSize = size
	}
}

func New(opts ...ServerOption) *Server {
	s := &Server{
		conns:      make(map[string]*Conn),
		handlers:   make(map[socket.Op][]HandlerFunc),
		notes:      NewNotebooks(),
		rooms:      NewRoomManager(),
		bufferSize: 256,
		connected:  make(chan *Conn, 16),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerNotebookHandlers()
	return s
}

func (s *Server) Notebooks() *Notebooks {
	return s.notes
}

// HandleFunc adds a handler for op after the built-in ones.
func (s *Server) HandleFunc(op socket.Op, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[op] = append(s.handlers[op], handler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := transport.Upgrader
	upgrader.ReadBufferSize = 1024
	upgrader.WriteBufferSize = 1024

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("mockserver: WebSocket upgrade failed: %v", err)
		return
	}

	cfg := transport.DefaultWebSocketServerConfig()
	cfg.BufferSize = s.bufferSize

	id := uuid.NewString()
	c := newConn(id, transport.NewWebSocketServerTransport(id, ws, cfg))

	s.mu.Lock()
	s.conns[id] = c
	s.mu.Unlock()

	select {
	case s.connected <- c:
	default:
	}

	go s.readLoop(c)
}

// Connected yields connections as they are accepted.
func (s *Server) Connected() <-chan *Conn {
	return s.connected
}

func (s *Server) readLoop(c *Conn) {
	defer s.drop(c)

	for {
		raw, err := c.transport.Read()
		if err != nil {
			return
		}

		f, err := parseFrame(c.ID(), raw)
		if err != nil {
			log.Printf("mockserver: %s sent invalid frame: %v", c.ID(), err)
			continue
		}

		s.mu.Lock()
		s.frames = append(s.frames, f)
		handlers := append([]HandlerFunc(nil), s.handlers[f.Op]...)
		authorize := s.authorize
		s.mu.Unlock()

		if authorize != nil && !authorize(f.Principal, f.Ticket) {
			c.Push("ERROR_INFO", map[string]any{"info": "invalid ticket"})
			continue
		}

		for _, h := range handlers {
			h(c, f)
		}
	}
}

func (s *Server) drop(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c.ID())
	s.mu.Unlock()

	s.rooms.LeaveAll(c.ID())
	c.Close()
}

// Frames returns every frame received so far, in arrival order.
func (s *Server) Frames() []Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]Frame(nil), s.frames...)
}

// FramesFor filters Frames by op.
func (s *Server) FramesFor(op socket.Op) []Frame {
	var out []Frame
	for _, f := range s.Frames() {
		if f.Op == op {
			out = append(out, f)
		}
	}
	return out
}

func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.conns)
}

func (s *Server) Conns() []*Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

// Broadcast pushes to every open connection.
func (s *Server) Broadcast(op socket.Op, data any) {
	for _, c := range s.Conns() {
		if err := c.Push(op, data); err != nil {
			log.Printf("mockserver: broadcast to %s failed: %v", c.ID(), err)
		}
	}
}

// BroadcastToNote pushes to connections that fetched the note.
func (s *Server) BroadcastToNote(noteID string, op socket.Op, data any) {
	s.rooms.Broadcast(noteID, op, data)
}

func (s *Server) Shutdown(ctx context.Context) error {
	for _, c := range s.Conns() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := c.Close(); err != nil {
			log.Printf("mockserver: error closing %s: %v", c.ID(), err)
		}
	}
	return nil
}
