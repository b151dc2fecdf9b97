// Package guest implements the calling side of a host/guest pair: a Surface
// exposes the host's methods as callable stubs and its events as listener lists.
//
// Calls are multiplexed over the transport by correlation id:
//
//	goroutine-1 ──CALL(id=a)──┐
//	goroutine-2 ──CALL(id=b)──┼──→ transport ──→ host
//	                          │
//	receive: ←── RESPONSE(id=b) → pending[b] → goroutine-2 wakes up
//
// Every pending call settles exactly once: by its response, by its timeout or by
// Close, whichever happens first. Later arrivals for the same id are dropped.
package guest

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"portal-rpc/metrics"
	"portal-rpc/protocol"
	"portal-rpc/transport"
)

var ErrClosed = errors.New("guest: surface closed")

type Surface struct {
	transport transport.Transport
	host      transport.Peer
	scope     string
	timeout   time.Duration
	logger    zerolog.Logger

	pending sync.Map // correlation id → *Call

	mu           sync.Mutex
	capabilities map[string]struct{} // nil until the first valid method list
	methods      map[string]*Method
	events       map[string]*Event
	closed       bool

	unsubscribe func()
}

// New binds a surface to the host reachable as hostPeer and starts discovery:
// it asks the host for its methods and follows its capability broadcasts. Until
// either answers, every method name is callable. hostPeer must not be nil: its
// origin is what inbound messages are checked against.
func New(tr transport.Transport, hostPeer transport.Peer, opts ...Option) *Surface {
	if hostPeer == nil {
		panic("guest: New called with a nil host peer")
	}
	s := &Surface{
		transport: tr,
		host:      hostPeer,
		timeout:   DefaultCallTimeout,
		logger:    log.Logger,
		methods:   make(map[string]*Method),
		events:    make(map[string]*Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("role", "guest").Str("scope", s.scope).Logger()

	s.Event(protocol.EnumerateMethods).On(func(args []any) {
		if len(args) > 0 {
			s.applyCapabilities(args[0])
		}
	}, 0)
	s.unsubscribe = tr.Subscribe(s.receive)

	// The result is applied where the response is received, so a capability
	// event delivered after it always wins.
	m, _ := s.Method(protocol.EnumerateMethods)
	m.goWith(func(result any, err error) {
		if err != nil {
			s.logger.Debug().Err(err).Msg("initial method enumeration failed")
			return
		}
		s.applyCapabilities(result)
	}, nil)
	return s
}

func (s *Surface) Scope() string {
	return s.scope
}

// Host returns the peer this surface talks to.
func (s *Surface) Host() transport.Peer {
	return s.host
}

// Method returns the stub for name. Once the host's method list is known, names
// outside it are reported missing; the reserved enumeration method never is.
// Stubs are cached, so repeated lookups return the same *Method.
func (s *Surface) Method(name string) (*Method, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capabilities != nil && name != protocol.EnumerateMethods {
		if _, ok := s.capabilities[name]; !ok {
			return nil, false
		}
	}
	m, ok := s.methods[name]
	if !ok {
		m = &Method{surface: s, name: name}
		s.methods[name] = m
	}
	return m, true
}

// Event returns the listener registry for name, creating it on first use.
func (s *Surface) Event(name string) *Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[name]
	if !ok {
		ev = &Event{name: name, logger: s.logger}
		s.events[name] = ev
	}
	return ev
}

// Capabilities returns the host's method names, sorted. ok is false until a
// method list has been received.
func (s *Surface) Capabilities() (names []string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capabilities == nil {
		return nil, false
	}
	names = make([]string, 0, len(s.capabilities))
	for name := range s.capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, true
}

// applyCapabilities replaces the method filter. Payloads that are not a
// non-empty list of names leave the previous filter in place.
func (s *Surface) applyCapabilities(v any) {
	names, ok := protocol.MethodList(v)
	if !ok {
		s.logger.Debug().Interface("payload", v).Msg("ignoring invalid method list")
		return
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	s.mu.Lock()
	s.capabilities = set
	s.mu.Unlock()
}

// Close fails every outstanding call with ErrClosed, removes all listeners and
// detaches from the transport. The transport itself stays open.
func (s *Surface) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	events := make([]*Event, 0, len(s.events))
	for _, ev := range s.events {
		events = append(events, ev)
	}
	s.mu.Unlock()

	s.unsubscribe()
	s.pending.Range(func(key, _ any) bool {
		if v, ok := s.pending.LoadAndDelete(key); ok {
			s.settle(v.(*Call), nil, ErrClosed)
		}
		return true
	})
	for _, ev := range events {
		ev.clear()
	}
	return nil
}

func (s *Surface) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// start registers call, arms its timeout and sends the CALL. The pending entry
// exists before the message leaves, so a fast response always finds it.
func (s *Surface) start(call *Call, args []any) {
	if s.isClosed() {
		s.settle(call, nil, ErrClosed)
		return
	}

	s.pending.Store(call.id, call)
	call.arm(s.timeout, func() { s.expire(call.id) })
	if s.isClosed() {
		// Close ran between the check above and Store
		if v, ok := s.pending.LoadAndDelete(call.id); ok {
			s.settle(v.(*Call), nil, ErrClosed)
		}
		return
	}

	msg := &protocol.Message{
		Kind:          protocol.KindCall,
		Scope:         s.scope,
		CorrelationID: call.id,
		Method:        call.method,
		Args:          args,
	}
	if err := s.transport.Send(msg, s.host); err != nil {
		if v, ok := s.pending.LoadAndDelete(call.id); ok {
			s.settle(v.(*Call), nil, fmt.Errorf("guest: send %s: %w", call.method, err))
		}
	}
}

func (s *Surface) expire(id string) {
	if v, ok := s.pending.LoadAndDelete(id); ok {
		s.settle(v.(*Call), nil, protocol.ErrTimeout)
	}
}

func (s *Surface) settle(call *Call, result any, err error) {
	if call.settle(result, err) {
		metrics.RecordGuestCall(s.scope, outcomeOf(err))
	}
}

// receive is the transport subscription. Messages from another scope, from
// anyone but the host, or that are malformed are dropped without a trace on
// the wire.
func (s *Surface) receive(msg *protocol.Message, _ transport.Peer, origin string) {
	if !protocol.MatchScope(s.scope, msg.Scope) {
		return
	}
	if origin != s.host.Origin() {
		metrics.RecordDrop("guest", metrics.DropSpoofed)
		return
	}
	if !protocol.Validate(msg) {
		metrics.RecordDrop("guest", metrics.DropMalformed)
		return
	}

	switch msg.Kind {
	case protocol.KindResponse:
		v, ok := s.pending.LoadAndDelete(msg.CorrelationID)
		if !ok {
			metrics.RecordDrop("guest", metrics.DropUnmatched)
			return
		}
		if msg.Failed() {
			s.settle(v.(*Call), nil, protocol.ErrorFromCode(msg.ErrorCode))
		} else {
			s.settle(v.(*Call), msg.Result, nil)
		}
	case protocol.KindEvent:
		s.mu.Lock()
		ev := s.events[msg.Event]
		s.mu.Unlock()
		if ev != nil {
			ev.dispatch(msg.Args)
		}
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, protocol.ErrNoMethod):
		return metrics.OutcomeNoMethod
	case errors.Is(err, protocol.ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, ErrClosed):
		return metrics.OutcomeClosed
	default:
		return metrics.OutcomeFailed
	}
}
