package socket

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kleeedolinux/notebookws/debug"
	"github.com/kleeedolinux/notebookws/socket/transport"
)

// State is the lifecycle position of a Client.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Stats is a snapshot of a Client's counters.
type Stats struct {
	FramesSent        int
	FramesReceived    int
	FramesDropped     int
	PingsSent         int
	KeepaliveStarts   int
	KeepaliveStops    int
	ReconnectAttempts int
	Pending           int
}

type pendingSend struct {
	msg      Message
	callback func()
}

// Client owns one notebook-backend session. It dials on construction,
// queues sends until the socket is open, keeps the socket alive with PING
// frames and routes server pushes to a Sink.
type Client struct {
	mu     sync.Mutex
	id     string
	sink   Sink
	ticket *Ticket
	scope  string
	conn   transport.Transport

	state          State
	pending        []pendingSend
	gen            uint64
	stopKeepalive  context.CancelFunc
	forceReconnect bool
	wake           chan struct{}
	stats          Stats

	keepaliveInterval time.Duration
	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration
	reconnectAttempts int
	openNote          func(path string)
	onError           func(error)

	ctx        context.Context
	cancelFunc context.CancelFunc
	done       chan struct{}
}

type ClientOption func(*Client)

// WithScope narrows the client to one notebook: status broadcasts are
// suppressed and inbound data is stamped with notebookId.
func WithScope(notebookID string) ClientOption {
	return func(c *Client) {
		c.scope = notebookID
	}
}

func WithKeepaliveInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.keepaliveInterval = d
	}
}

func WithReconnectDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.reconnectDelay = d
	}
}

func WithMaxReconnectDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxReconnectDelay = d
	}
}

// WithReconnectAttempts caps consecutive reconnection attempts. Zero
// disables reconnection, a negative value retries forever.
func WithReconnectAttempts(attempts int) ClientOption {
	return func(c *Client) {
		c.reconnectAttempts = attempts
	}
}

// WithNoteOpener receives the path of a note announced by NEW_NOTE.
func WithNoteOpener(open func(path string)) ClientOption {
	return func(c *Client) {
		c.openNote = open
	}
}

func WithErrorHandler(fn func(error)) ClientOption {
	return func(c *Client) {
		c.onError = fn
	}
}

// NewClient starts connecting t in the background and returns immediately.
// A nil ticket sends empty credentials.
func NewClient(sink Sink, ticket *Ticket, t transport.Transport, opts ...ClientOption) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	if sink == nil {
		sink = SinkFunc(func(string, any) {})
	}

	c := &Client{
		id:                generateID(),
		sink:              sink,
		ticket:            ticket.clone(),
		conn:              t,
		state:             StateIdle,
		keepaliveInterval: 15 * time.Second,
		reconnectDelay:    1 * time.Second,
		maxReconnectDelay: 30 * time.Second,
		reconnectAttempts: 5,
		ctx:               ctx,
		cancelFunc:        cancel,
		wake:              make(chan struct{}, 1),
		done:              make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.establishConnection()
	go c.run()

	return c
}

// Dial is NewClient over a gorilla WebSocket transport for url.
func Dial(sink Sink, ticket *Ticket, url string, opts ...ClientOption) *Client {
	return NewClient(sink, ticket, transport.NewWebSocketTransport(url), opts...)
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Scope() string {
	return c.scope
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Pending = len(c.pending)
	return s
}

// Done is closed once the client reaches StateClosed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// SetTicket replaces the credentials stamped on subsequent frames.
func (c *Client) SetTicket(t *Ticket) {
	c.mu.Lock()
	c.ticket = t.clone()
	c.mu.Unlock()

	debug.Printf("Client %s: ticket rotated", c.id)
}

// Send transmits msg once the socket is open. Messages sent earlier are
// delivered first. callback runs after a successful write and never on
// failure; write failures go to the error handler, not the caller.
func (c *Client) Send(msg Message, callback func()) error {
	if msg.Op == "" {
		return ErrMissingOp
	}

	c.mu.Lock()
	switch c.state {
	case StateClosing, StateClosed:
		c.mu.Unlock()
		return ErrClientClosed
	case StateOpen:
		err := c.writeLocked(msg)
		c.mu.Unlock()
		if err != nil {
			c.reportError(err)
			return nil
		}
		if callback != nil {
			callback()
		}
		return nil
	default:
		c.pending = append(c.pending, pendingSend{msg: msg, callback: callback})
		n := len(c.pending)
		c.mu.Unlock()

		debug.Printf("Client %s: queued %s until open (%d pending)", c.id, msg.Op, n)
		return nil
	}
}

// Reconnect drops the live socket and dials again without backoff. While
// waiting out a backoff delay it cuts the wait short. A dial already in
// flight is left alone.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosing, StateClosed:
		return ErrClientClosed
	case StateOpen:
		// The owner cannot leave StateOpen without c.mu, so the socket
		// closed here is the one the flag refers to.
		c.forceReconnect = true
		log.Printf("Client %s: reconnect requested", c.id)
		return c.conn.Close()
	case StateReconnecting:
		select {
		case c.wake <- struct{}{}:
			log.Printf("Client %s: reconnect requested, skipping backoff", c.id)
		default:
		}
	}
	return nil
}

// Close stops the client. Pending sends are discarded without callbacks.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}

	c.state = StateClosing
	dropped := len(c.pending)
	c.pending = nil
	c.mu.Unlock()

	if dropped > 0 {
		debug.Printf("Client %s: discarded %d pending messages on close", c.id, dropped)
	}

	c.cancelFunc()
	return c.conn.Close()
}

func (c *Client) establishConnection() bool {
	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return false
	}
	c.state = StateConnecting
	select {
	case <-c.wake:
	default:
	}
	c.mu.Unlock()

	c.publish(StatusTrying)
	return true
}

// run is the owner loop: dial, read until the socket drops, back off, retry.
func (c *Client) run() {
	defer close(c.done)
	defer c.finish()

	delay := c.reconnectDelay
	attempts := 0

	for {
		err := c.conn.Connect(c.ctx)
		if err == nil && c.ctx.Err() != nil {
			c.conn.Close()
			err = c.ctx.Err()
		}

		forced := false
		if err != nil {
			c.publish(StatusDisconnected)
			if c.ctx.Err() != nil {
				return
			}
			c.reportError(fmt.Errorf("connect: %w", err))
		} else {
			gen, ok := c.opened()
			if !ok {
				c.conn.Close()
				return
			}

			attempts = 0
			delay = c.reconnectDelay

			err = c.readLoop()
			forced = c.closed(gen)
			log.Printf("Client %s: connection closed: %v", c.id, err)
			c.publish(StatusDisconnected)

			if c.ctx.Err() != nil {
				return
			}
			if !forced {
				if transport.IsNormalClosure(err) {
					return
				}
				c.reportError(fmt.Errorf("connection lost: %w", err))
			}
		}

		if !forced {
			if c.reconnectAttempts == 0 || (c.reconnectAttempts > 0 && attempts >= c.reconnectAttempts) {
				log.Printf("Client %s: giving up after %d reconnect attempts", c.id, attempts)
				return
			}
			attempts++

			c.mu.Lock()
			if c.state == StateClosing {
				c.mu.Unlock()
				return
			}
			c.state = StateReconnecting
			c.stats.ReconnectAttempts++
			c.mu.Unlock()

			debug.Printf("Client %s: reconnect attempt %d in %v", c.id, attempts, delay)

			select {
			case <-c.ctx.Done():
				return
			case <-c.wake:
			case <-time.After(delay):
			}
			delay = nextDelay(delay, c.maxReconnectDelay)
		}

		if !c.establishConnection() {
			return
		}
	}
}

// opened moves to StateOpen, flushes the pending queue in call order and
// arms the keepalive for this socket generation.
func (c *Client) opened() (uint64, bool) {
	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return 0, false
	}

	c.state = StateOpen
	c.gen++
	gen := c.gen

	queued := c.pending
	c.pending = nil

	var callbacks []func()
	var errs []error
	for _, p := range queued {
		if err := c.writeLocked(p.msg); err != nil {
			errs = append(errs, err)
			continue
		}
		if p.callback != nil {
			callbacks = append(callbacks, p.callback)
		}
	}

	ctx, cancel := context.WithCancel(c.ctx)
	c.stopKeepalive = cancel
	c.stats.KeepaliveStarts++
	go c.keepalive(ctx, gen)
	c.mu.Unlock()

	log.Printf("Client %s: connected (flushed %d pending)", c.id, len(queued))
	c.publish(StatusConnected)

	for _, err := range errs {
		c.reportError(err)
	}
	for _, cb := range callbacks {
		cb()
	}

	return gen, true
}

// closed tears down per-socket state after the reader exits and reports
// whether the close was requested through Reconnect.
func (c *Client) closed(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen == gen {
		c.stopKeepaliveLocked()
	}

	forced := c.forceReconnect
	c.forceReconnect = false

	if c.state == StateOpen {
		c.state = StateReconnecting
	}
	return forced
}

func (c *Client) finish() {
	c.mu.Lock()
	c.stopKeepaliveLocked()
	c.state = StateClosed
	c.pending = nil
	c.mu.Unlock()

	c.cancelFunc()
	debug.Printf("Client %s: closed", c.id)
}

func (c *Client) stopKeepaliveLocked() {
	if c.stopKeepalive == nil {
		return
	}
	c.stopKeepalive()
	c.stopKeepalive = nil
	c.stats.KeepaliveStops++
}

func (c *Client) keepalive(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(c.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.state != StateOpen || c.gen != gen {
				c.mu.Unlock()
				return
			}
			err := c.writeLocked(Message{Op: OpPing})
			if err == nil {
				c.stats.PingsSent++
			}
			c.mu.Unlock()

			if err != nil {
				c.reportError(fmt.Errorf("keepalive: %w", err))
			}
		}
	}
}

func (c *Client) readLoop() error {
	for {
		data, err := c.conn.Receive()
		if err != nil {
			return err
		}
		c.handleFrame(data)
	}
}

// writeLocked stamps and transmits one frame. c.mu must be held.
func (c *Client) writeLocked(msg Message) error {
	data, err := encodeFrame(msg, c.ticket)
	if err != nil {
		c.stats.FramesDropped++
		return err
	}

	if c.ticket != nil {
		debug.Printf("Send >> %s, %s, %v: %s", msg.Op, c.ticket.Principal, c.ticket.Roles, data)
	} else {
		debug.Printf("Send >> %s (anonymous): %s", msg.Op, data)
	}

	if err := c.conn.Send(data); err != nil {
		c.stats.FramesDropped++
		return fmt.Errorf("send %s: %w", msg.Op, err)
	}

	c.stats.FramesSent++
	return nil
}

func (c *Client) publish(s Status) {
	if c.scope != "" {
		return
	}
	c.sink.Dispatch(ActionUpdateWebSocketStatus, s)
}

func (c *Client) reportError(err error) {
	log.Printf("Client %s: WebSocket error: %v", c.id, err)
	if c.onError != nil {
		c.onError(err)
	}
}
