package socket

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func quietOptions(extra ...ClientOption) []ClientOption {
	return append([]ClientOption{
		WithKeepaliveInterval(time.Hour),
		WithReconnectAttempts(0),
	}, extra...)
}

func TestSendStampsTicket(t *testing.T) {
	tests := []struct {
		name   string
		ticket *Ticket
		want   map[string]any
	}{
		{
			name:   "with ticket",
			ticket: &Ticket{Principal: "alice", Ticket: "t1", Roles: []string{"user"}},
			want: map[string]any{
				"op": "RUN", "principal": "alice", "ticket": "t1", "roles": []any{"user"},
			},
		},
		{
			name:   "without ticket",
			ticket: nil,
			want: map[string]any{
				"op": "RUN", "principal": "", "ticket": "", "roles": "",
			},
		},
		{
			name:   "ticket without roles",
			ticket: &Ticket{Principal: "bob", Ticket: "t2"},
			want: map[string]any{
				"op": "RUN", "principal": "bob", "ticket": "t2", "roles": []any{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTransport()
			sink := &recordingSink{}
			c := NewClient(sink, tt.ticket, ft, quietOptions()...)
			defer c.Close()

			waitState(t, c, StateOpen)

			called := false
			require.NoError(t, c.Send(NewMessage("RUN", nil), func() { called = true }))
			require.True(t, called, "callback must run before Send returns on an open socket")

			frames := ft.frames(t)
			require.Len(t, frames, 1)
			require.Equal(t, tt.want, frames[0])
		})
	}
}

func TestAuthFieldsOverrideCallerFields(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient(nil, &Ticket{Principal: "alice", Ticket: "t1"}, ft, quietOptions()...)
	defer c.Close()
	waitState(t, c, StateOpen)

	require.NoError(t, c.Send(NewMessage(OpGetNote, map[string]any{
		"id":        "n1",
		"principal": "mallory",
	}), nil))

	frames := ft.frames(t)
	require.Len(t, frames, 1)
	require.Equal(t, "alice", frames[0]["principal"])
	require.Equal(t, "n1", frames[0]["id"])
}

func TestScenarioAUnscopedSendAndConnectedBroadcast(t *testing.T) {
	ft := newFakeTransport()
	sink := &recordingSink{}
	c := NewClient(sink, &Ticket{Principal: "alice", Ticket: "t1", Roles: []string{"user"}}, ft, quietOptions()...)
	defer c.Close()

	waitState(t, c, StateOpen)
	require.NoError(t, c.Send(NewMessage("RUN", nil), nil))

	require.Equal(t, []map[string]any{{
		"op": "RUN", "principal": "alice", "ticket": "t1", "roles": []any{"user"},
	}}, ft.frames(t))

	connected := 0
	for _, s := range sink.statuses() {
		if s == StatusConnected {
			connected++
		}
	}
	require.Equal(t, 1, connected)
}

func TestSendQueuesUntilOpenInCallOrder(t *testing.T) {
	ft := newFakeTransport()
	ft.gate = make(chan struct{})

	c := NewClient(nil, nil, ft, quietOptions()...)
	defer c.Close()

	var mu sync.Mutex
	var fired []string
	for _, id := range []string{"a", "b", "c"} {
		id := id
		require.NoError(t, c.Send(NewMessage(OpGetNote, map[string]any{"id": id}), func() {
			mu.Lock()
			fired = append(fired, id)
			mu.Unlock()
		}))
	}

	time.Sleep(30 * time.Millisecond)
	require.Empty(t, ft.frames(t), "nothing may be written before the socket opens")
	require.Equal(t, 3, c.Stats().Pending)

	ft.release()
	waitState(t, c, StateOpen)

	frames := ft.frames(t)
	require.Len(t, frames, 3, "each queued send is written exactly once")
	for i, id := range []string{"a", "b", "c"} {
		require.Equal(t, id, frames[i]["id"])
	}

	mu.Lock()
	require.Equal(t, []string{"a", "b", "c"}, fired)
	mu.Unlock()
	require.Zero(t, c.Stats().Pending)
}

func TestSendRejectsMissingOp(t *testing.T) {
	c := NewClient(nil, nil, newFakeTransport(), quietOptions()...)
	defer c.Close()

	require.ErrorIs(t, c.Send(Message{}, nil), ErrMissingOp)
}

func TestKeepaliveStartsOnOpenAndStopsOnClose(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient(nil, nil, ft, WithKeepaliveInterval(10*time.Millisecond), WithReconnectAttempts(0))
	defer c.Close()

	waitState(t, c, StateOpen)
	require.Eventually(t, func() bool { return len(ft.framesFor(t, OpPing)) >= 2 }, 2*time.Second, 5*time.Millisecond)

	ping := ft.framesFor(t, OpPing)[0]
	require.Equal(t, map[string]any{"op": "PING", "principal": "", "ticket": "", "roles": ""}, ping)

	ft.drop(errors.New("peer reset"))
	waitDone(t, c)

	after := len(ft.framesFor(t, OpPing))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, after, len(ft.framesFor(t, OpPing)), "no PING after close")

	stats := c.Stats()
	require.Equal(t, 1, stats.KeepaliveStarts)
	require.Equal(t, 1, stats.KeepaliveStops)
	require.Equal(t, StateClosed, c.State())
}

func TestKeepaliveIsPerClientInstance(t *testing.T) {
	for i := 0; i < 5; i++ {
		ft := newFakeTransport()
		c := NewClient(nil, nil, ft, WithKeepaliveInterval(5*time.Millisecond), WithReconnectAttempts(0))
		waitState(t, c, StateOpen)
		require.NoError(t, c.Close())
		waitDone(t, c)

		stats := c.Stats()
		require.Equal(t, 1, stats.KeepaliveStarts)
		require.Equal(t, 1, stats.KeepaliveStops)
	}
}

func TestUnscopedStatusOrder(t *testing.T) {
	ft := newFakeTransport()
	sink := &recordingSink{}
	c := NewClient(sink, nil, ft, quietOptions()...)

	waitState(t, c, StateOpen)
	ft.drop(errors.New("gone"))
	waitDone(t, c)

	require.Equal(t, []Status{StatusTrying, StatusConnected, StatusDisconnected}, sink.statuses())
}

func TestScopedClientNeverBroadcastsStatus(t *testing.T) {
	ft := newFakeTransport()
	sink := &recordingSink{}
	c := NewClient(sink, nil, ft, quietOptions(WithScope("nb-42"))...)

	waitState(t, c, StateOpen)
	ft.push(t, `{"op":"PARAGRAPH_ADDED","data":{"id":"p1"}}`)
	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 5*time.Millisecond)

	ft.drop(errors.New("gone"))
	waitDone(t, c)

	require.Empty(t, sink.statuses())
	require.Equal(t, []sinkCall{{
		action:  ActionSetParagraph,
		payload: map[string]any{"id": "p1", "notebookId": "nb-42"},
	}}, sink.all())
}

func TestReconnectAfterAbnormalClose(t *testing.T) {
	ft := newFakeTransport()
	sink := &recordingSink{}
	c := NewClient(sink, nil, ft,
		WithKeepaliveInterval(time.Hour),
		WithReconnectDelay(time.Millisecond),
		WithReconnectAttempts(3),
	)
	defer c.Close()

	waitState(t, c, StateOpen)
	ft.drop(errors.New("connection reset"))

	require.Eventually(t, func() bool {
		return ft.connectCount() == 2 && c.State() == StateOpen
	}, 2*time.Second, 5*time.Millisecond)

	stats := c.Stats()
	require.Equal(t, 2, stats.KeepaliveStarts)
	require.Equal(t, 1, stats.KeepaliveStops)
	require.Equal(t, 1, stats.ReconnectAttempts)
	require.Equal(t, []Status{
		StatusTrying, StatusConnected, StatusDisconnected, StatusTrying, StatusConnected,
	}, sink.statuses())
}

func TestQueuedSendsSurviveReconnect(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient(nil, nil, ft,
		WithKeepaliveInterval(time.Hour),
		WithReconnectDelay(50*time.Millisecond),
		WithReconnectAttempts(1),
	)
	defer c.Close()

	waitState(t, c, StateOpen)
	ft.drop(errors.New("reset"))
	waitState(t, c, StateReconnecting)

	require.NoError(t, c.Send(NewMessage(OpListNotes, nil), nil))
	waitState(t, c, StateOpen)

	require.Len(t, ft.framesFor(t, OpListNotes), 1)
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	ft := newFakeTransport()
	ft.connectErrs = []error{errors.New("refused"), errors.New("refused"), errors.New("refused")}

	var mu sync.Mutex
	var seen []error
	sink := &recordingSink{}
	c := NewClient(sink, nil, ft,
		WithReconnectDelay(time.Millisecond),
		WithMaxReconnectDelay(2*time.Millisecond),
		WithReconnectAttempts(2),
		WithErrorHandler(func(err error) {
			mu.Lock()
			seen = append(seen, err)
			mu.Unlock()
		}),
	)

	waitDone(t, c)
	require.Equal(t, 3, ft.connectCount())
	require.Equal(t, StateClosed, c.State())
	require.ErrorIs(t, c.Send(NewMessage(OpPing, nil), nil), ErrClientClosed)

	mu.Lock()
	require.Len(t, seen, 3)
	mu.Unlock()

	require.Equal(t, []Status{
		StatusTrying, StatusDisconnected,
		StatusTrying, StatusDisconnected,
		StatusTrying, StatusDisconnected,
	}, sink.statuses())
}

func TestForcedReconnect(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient(nil, nil, ft, WithKeepaliveInterval(time.Hour), WithReconnectAttempts(0))
	defer c.Close()

	waitState(t, c, StateOpen)
	require.NoError(t, c.Reconnect())

	require.Eventually(t, func() bool {
		return ft.connectCount() == 2 && c.State() == StateOpen
	}, 2*time.Second, 5*time.Millisecond)
	require.Zero(t, c.Stats().ReconnectAttempts)
}

func TestCloseDiscardsPendingSends(t *testing.T) {
	ft := newFakeTransport()
	ft.gate = make(chan struct{})
	sink := &recordingSink{}
	c := NewClient(sink, nil, ft, quietOptions()...)

	fired := false
	require.NoError(t, c.Send(NewMessage(OpListNotes, nil), func() { fired = true }))
	require.NoError(t, c.Close())
	waitDone(t, c)

	require.False(t, fired)
	require.Empty(t, ft.frames(t))
	require.ErrorIs(t, c.Send(NewMessage(OpListNotes, nil), nil), ErrClientClosed)
	require.NoError(t, c.Close(), "Close is idempotent")
	require.Equal(t, []Status{StatusTrying, StatusDisconnected}, sink.statuses())
}

func TestSetTicketAppliesToLaterFrames(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient(nil, &Ticket{Principal: "alice", Ticket: "old"}, ft, quietOptions()...)
	defer c.Close()
	waitState(t, c, StateOpen)

	require.NoError(t, c.Send(NewMessage(OpListNotes, nil), nil))
	c.SetTicket(&Ticket{Principal: "alice", Ticket: "new", Roles: []string{"admin"}})
	require.NoError(t, c.Send(NewMessage(OpListNotes, nil), nil))

	frames := ft.frames(t)
	require.Len(t, frames, 2)
	require.Equal(t, "old", frames[0]["ticket"])
	require.Equal(t, "new", frames[1]["ticket"])
	require.Equal(t, []any{"admin"}, frames[1]["roles"])
}

func TestSendAfterWriteFailureReportsWithoutCallback(t *testing.T) {
	ft := newFakeTransport()
	var mu sync.Mutex
	var seen []error
	c := NewClient(nil, nil, ft, quietOptions(WithErrorHandler(func(err error) {
		mu.Lock()
		seen = append(seen, err)
		mu.Unlock()
	}))...)
	defer c.Close()
	waitState(t, c, StateOpen)

	ft.mu.Lock()
	ft.open = false
	ft.mu.Unlock()

	fired := false
	require.NoError(t, c.Send(NewMessage(OpListNotes, nil), func() { fired = true }))
	require.False(t, fired)

	mu.Lock()
	require.Len(t, seen, 1)
	mu.Unlock()
	require.Equal(t, 1, c.Stats().FramesDropped)
}

func TestReconnectSkipsBackoff(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient(nil, nil, ft,
		WithKeepaliveInterval(time.Hour),
		WithReconnectDelay(5*time.Second),
		WithReconnectAttempts(3),
	)
	defer c.Close()

	waitState(t, c, StateOpen)
	ft.drop(errors.New("reset"))
	waitState(t, c, StateReconnecting)

	require.NoError(t, c.Reconnect())
	require.Eventually(t, func() bool {
		return ft.connectCount() == 2 && c.State() == StateOpen
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, c.Stats().ReconnectAttempts)
}

func TestReconnectLeavesDialInFlightAlone(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient(nil, nil, ft,
		WithKeepaliveInterval(time.Hour),
		WithReconnectDelay(time.Millisecond),
		WithReconnectAttempts(3),
	)
	defer c.Close()

	waitState(t, c, StateOpen)

	ft.mu.Lock()
	ft.gate = make(chan struct{})
	ft.mu.Unlock()

	ft.drop(errors.New("reset"))
	require.Eventually(t, func() bool { return ft.connectCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	waitState(t, c, StateConnecting)

	require.NoError(t, c.Reconnect())
	ft.release()
	waitState(t, c, StateOpen)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 2, ft.connectCount())
	require.Equal(t, StateOpen, c.State())
	require.Equal(t, 1, c.Stats().ReconnectAttempts)
}
