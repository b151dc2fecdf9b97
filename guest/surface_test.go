package guest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-rpc/protocol"
	"portal-rpc/transport"
)

type inboundCall struct {
	msg  *protocol.Message
	from transport.Peer
}

// fakeHost is a bus port answering by hand.
type fakeHost struct {
	t     *testing.T
	port  *transport.Port
	scope string
	calls chan inboundCall
}

func newFakeHost(t *testing.T, bus *transport.Bus, scope string) *fakeHost {
	h := &fakeHost{t: t, port: bus.Attach("host"), scope: scope, calls: make(chan inboundCall, 64)}
	h.port.Subscribe(func(msg *protocol.Message, from transport.Peer, _ string) {
		if msg.Kind == protocol.KindCall {
			h.calls <- inboundCall{msg: msg, from: from}
		}
	})
	t.Cleanup(func() { h.port.Close() })
	return h
}

// nextCall waits for the next CALL of method, skipping others.
func (h *fakeHost) nextCall(method string) inboundCall {
	h.t.Helper()
	for {
		select {
		case in := <-h.calls:
			if in.msg.Method == method {
				return in
			}
		case <-time.After(time.Second):
			h.t.Fatalf("no %q call received", method)
			return inboundCall{}
		}
	}
}

func (h *fakeHost) reply(in inboundCall, result any) {
	require.NoError(h.t, h.port.Send(protocol.NewResult(in.msg, h.scope, result), in.from))
}

func (h *fakeHost) fail(in inboundCall, code string) {
	require.NoError(h.t, h.port.Send(protocol.NewFailure(in.msg, h.scope, code), in.from))
}

func (h *fakeHost) emit(to transport.Peer, event string, args ...any) {
	require.NoError(h.t, h.port.Send(protocol.NewEvent(h.scope, event, args), to))
}

func newTestSurface(t *testing.T, bus *transport.Bus, h *fakeHost, opts ...Option) (*Surface, *transport.Port) {
	port := bus.Attach("guest")
	s := New(port, h.port, opts...)
	t.Cleanup(func() {
		s.Close()
		port.Close()
	})
	return s, port
}

func TestNewRequestsMethodList(t *testing.T) {
	bus := transport.NewBus()
	h := newFakeHost(t, bus, "")
	s, _ := newTestSurface(t, bus, h)

	in := h.nextCall(protocol.EnumerateMethods)
	assert.Empty(t, in.msg.Args)

	_, known := s.Capabilities()
	assert.False(t, known)
	_, ok := s.Method("anything")
	assert.True(t, ok, "every name is callable before the method list arrives")

	h.reply(in, []string{"add"})
	require.Eventually(t, func() bool {
		_, known := s.Capabilities()
		return known
	}, time.Second, 5*time.Millisecond)

	_, ok = s.Method("anything")
	assert.False(t, ok)
	_, ok = s.Method("add")
	assert.True(t, ok)
	_, ok = s.Method(protocol.EnumerateMethods)
	assert.True(t, ok)
}

func TestCapabilityEventReplacesFilter(t *testing.T) {
	bus := transport.NewBus()
	h := newFakeHost(t, bus, "")
	s, port := newTestSurface(t, bus, h)
	h.reply(h.nextCall(protocol.EnumerateMethods), []any{"a"})

	h.emit(port, protocol.EnumerateMethods, []any{"b", "c"})
	require.Eventually(t, func() bool {
		names, _ := s.Capabilities()
		return assert.ObjectsAreEqual([]string{"b", "c"}, names)
	}, time.Second, 5*time.Millisecond)

	// Invalid payloads leave the filter alone
	h.emit(port, protocol.EnumerateMethods, []any{})
	h.emit(port, protocol.EnumerateMethods, []any{"x", 1})
	h.emit(port, protocol.EnumerateMethods, "not-a-list")
	time.Sleep(30 * time.Millisecond)
	names, _ := s.Capabilities()
	assert.Equal(t, []string{"b", "c"}, names)
}

func TestMethodStubsAreCached(t *testing.T) {
	bus := transport.NewBus()
	s, _ := newTestSurface(t, bus, newFakeHost(t, bus, ""))

	m1, _ := s.Method("add")
	m2, _ := s.Method("add")
	assert.Same(t, m1, m2)
	assert.Equal(t, "add", m1.Name())
}

func TestCallSettlesWithResultOrCode(t *testing.T) {
	bus := transport.NewBus()
	h := newFakeHost(t, bus, "s")
	s, _ := newTestSurface(t, bus, h, WithScope("s"))
	m, _ := s.Method("add")

	call := m.Go(2, 3)
	in := h.nextCall("add")
	assert.Equal(t, call.ID(), in.msg.CorrelationID)
	assert.Equal(t, "s", in.msg.Scope)
	assert.Equal(t, []any{2, 3}, in.msg.Args)
	h.reply(in, 5)

	result, err := call.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, result)

	call = m.Go()
	h.fail(h.nextCall("add"), protocol.CodeNoMethod)
	_, err = call.Wait(context.Background())
	assert.ErrorIs(t, err, protocol.ErrNoMethod)
}

func TestCallTimesOutAndIgnoresLateResponse(t *testing.T) {
	bus := transport.NewBus()
	h := newFakeHost(t, bus, "")
	s, _ := newTestSurface(t, bus, h, WithCallTimeout(30*time.Millisecond))
	m, _ := s.Method("slow")

	call := m.Go()
	in := h.nextCall("slow")
	_, err := call.Wait(context.Background())
	assert.ErrorIs(t, err, protocol.ErrTimeout)

	h.reply(in, "late")
	time.Sleep(20 * time.Millisecond)
	_, err = call.Result()
	assert.ErrorIs(t, err, protocol.ErrTimeout)
}

func TestWaitContextDoesNotCancelCall(t *testing.T) {
	bus := transport.NewBus()
	h := newFakeHost(t, bus, "")
	s, _ := newTestSurface(t, bus, h)
	m, _ := s.Method("add")

	call := m.Go(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := call.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	h.reply(h.nextCall("add"), 2)
	result, err := call.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result)
}

func TestResponsesFromOtherPeersAreDropped(t *testing.T) {
	bus := transport.NewBus()
	h := newFakeHost(t, bus, "")
	s, _ := newTestSurface(t, bus, h)
	intruder := bus.Attach("intruder")
	defer intruder.Close()
	m, _ := s.Method("add")

	call := m.Go(1, 2)
	in := h.nextCall("add")
	require.NoError(t, intruder.Send(protocol.NewResult(in.msg, "", 666), in.from))

	select {
	case <-call.Done():
		t.Fatal("spoofed response settled the call")
	case <-time.After(30 * time.Millisecond):
	}

	h.reply(in, 3)
	result, err := call.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result)
}

func TestForeignScopeIsDropped(t *testing.T) {
	bus := transport.NewBus()
	h := newFakeHost(t, bus, "B")
	s, port := newTestSurface(t, bus, h, WithScope("A"), WithCallTimeout(50*time.Millisecond))
	m, _ := s.Method("add")

	got := make(chan []any, 1)
	s.Event("tick").On(func(args []any) { got <- args }, 0)
	h.emit(port, "tick", 1)

	call := m.Go()
	h.reply(h.nextCall("add"), 1)
	_, err := call.Wait(context.Background())
	assert.ErrorIs(t, err, protocol.ErrTimeout)
	assert.Empty(t, got)
}

func TestCloseFailsPendingCalls(t *testing.T) {
	bus := transport.NewBus()
	h := newFakeHost(t, bus, "")
	s, _ := newTestSurface(t, bus, h)
	m, _ := s.Method("add")

	call := m.Go()
	h.nextCall("add")
	require.NoError(t, s.Close())

	_, err := call.Wait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	_, err = m.Call(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, s.Close())
}

func TestSendFailureSettlesCall(t *testing.T) {
	bus := transport.NewBus()
	h := newFakeHost(t, bus, "")
	port := bus.Attach("guest")
	s := New(port, h.port)
	defer s.Close()
	port.Close()

	m, _ := s.Method("add")
	_, err := m.Call(context.Background())
	assert.True(t, errors.Is(err, transport.ErrClosed))
}

func TestCapabilityEventAfterEnumerationResponseWins(t *testing.T) {
	for i := 0; i < 50; i++ {
		bus := transport.NewBus()
		h := newFakeHost(t, bus, "")
		s, port := newTestSurface(t, bus, h)

		h.reply(h.nextCall(protocol.EnumerateMethods), []any{"old"})
		h.emit(port, protocol.EnumerateMethods, []any{"new"})

		require.Eventually(t, func() bool {
			names, _ := s.Capabilities()
			return assert.ObjectsAreEqual([]string{"new"}, names)
		}, time.Second, time.Millisecond)
		time.Sleep(5 * time.Millisecond)
		names, _ := s.Capabilities()
		require.Equal(t, []string{"new"}, names, "iteration %d", i)
	}
}

func TestNewRejectsNilHostPeer(t *testing.T) {
	port := transport.NewBus().Attach("guest")
	defer port.Close()
	assert.PanicsWithValue(t, "guest: New called with a nil host peer", func() {
		New(port, nil)
	})
}
