package socket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kleeedolinux/notebookws/socket/transport"
)

var errFakeClosed = errors.New("fake: closed locally")

type recvResult struct {
	data []byte
	err  error
}

// fakeTransport is an in-memory Transport. Connect blocks on gate when set,
// pops connectErrs first, and every successful Connect gets a fresh inbox.
type fakeTransport struct {
	mu          sync.Mutex
	gate        chan struct{}
	connectErrs []error
	connects    int
	open        bool
	inbox       chan recvResult
	inboxClosed bool
	sent        [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		f.mu.Unlock()
		return err
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	f.open = true
	f.inbox = make(chan recvResult, 64)
	f.inboxClosed = false
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open {
		return transport.ErrNotConnected
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Receive() ([]byte, error) {
	f.mu.Lock()
	inbox := f.inbox
	f.mu.Unlock()

	if inbox == nil {
		return nil, transport.ErrNotConnected
	}

	r, ok := <-inbox
	if !ok {
		return nil, errFakeClosed
	}
	return r.data, r.err
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.open = false
	if f.inbox != nil && !f.inboxClosed {
		close(f.inbox)
		f.inboxClosed = true
	}
	return nil
}

func (f *fakeTransport) push(t *testing.T, raw string) {
	t.Helper()

	f.mu.Lock()
	inbox := f.inbox
	f.mu.Unlock()

	require.NotNil(t, inbox, "push before connect")
	inbox <- recvResult{data: []byte(raw)}
}

// drop simulates the peer going away with err.
func (f *fakeTransport) drop(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.open {
		f.open = false
		f.inbox <- recvResult{err: err}
	}
}

func (f *fakeTransport) release() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) frames(t *testing.T) []map[string]any {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]map[string]any, 0, len(f.sent))
	for _, raw := range f.sent {
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out
}

func (f *fakeTransport) framesFor(t *testing.T, op Op) []map[string]any {
	var out []map[string]any
	for _, m := range f.frames(t) {
		if m["op"] == string(op) {
			out = append(out, m)
		}
	}
	return out
}

type sinkCall struct {
	action  string
	payload any
}

type recordingSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (r *recordingSink) Dispatch(action string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sinkCall{action: action, payload: payload})
}

func (r *recordingSink) all() []sinkCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sinkCall(nil), r.calls...)
}

func (r *recordingSink) statuses() []Status {
	var out []Status
	for _, c := range r.all() {
		if c.action == ActionUpdateWebSocketStatus {
			out = append(out, c.payload.(Status))
		}
	}
	return out
}

func (r *recordingSink) dataCalls() []sinkCall {
	var out []sinkCall
	for _, c := range r.all() {
		if c.action != ActionUpdateWebSocketStatus {
			out = append(out, c)
		}
	}
	return out
}

func waitState(t *testing.T, c *Client, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, 2*time.Second, 5*time.Millisecond,
		"client never reached %s (at %s)", want, c.State())
}

func waitDone(t *testing.T, c *Client) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("client did not finish, state %s", c.State())
	}
}
