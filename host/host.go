// Package host implements the host endpoint: a registry of named methods that
// guests call, and a broadcaster for events and capability updates.
//
// Inbound processing:
//
//	transport → receive (upsert peer, scope check, validate)
//	  → for each CALL: go handleCall (one goroutine per call)
//	    → middleware chain → handler → RESPONSE to the calling peer only
//
// Every peer that has ever sent the host a message (in any scope) is remembered by
// its origin and receives every event and capability broadcast afterwards.
package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"portal-rpc/metrics"
	"portal-rpc/middleware"
	"portal-rpc/protocol"
	"portal-rpc/registry"
	"portal-rpc/transport"
)

var (
	ErrReservedName = errors.New("host: name is reserved by the protocol")
	ErrEmptyName    = errors.New("host: name is empty")
)

// Handler runs one call. It executes on its own goroutine, so blocking is fine;
// ctx is cancelled when the host shuts down.
type Handler func(ctx context.Context, args []any) (any, error)

// Emitter broadcasts one event to every known peer.
type Emitter func(args ...any)

type Host struct {
	transport transport.Transport
	scope     string
	debounce  time.Duration
	logger    zerolog.Logger

	registry registry.Registry // nil: no directory publishing
	instance registry.Instance
	ttl      int64

	mu          sync.Mutex
	methods     map[string]Handler
	peers       map[string]transport.Peer // origin → peer handle
	middlewares []middleware.Middleware
	timer       *time.Timer // Debounced capability broadcast
	timerGen    uint64      // Only the timer armed last may broadcast
	closed      bool

	ctx         context.Context // Parent of every handler context
	cancel      context.CancelFunc
	wg          sync.WaitGroup // In-flight calls, for Shutdown
	unsubscribe func()
}

// New creates a host on tr and starts receiving immediately.
func New(tr transport.Transport, opts ...Option) *Host {
	h := &Host{
		transport: tr,
		debounce:  DefaultDebounce,
		logger:    log.Logger,
		methods:   make(map[string]Handler),
		peers:     make(map[string]transport.Peer),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With().Str("role", "host").Str("scope", h.scope).Logger()
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.unsubscribe = tr.Subscribe(h.receive)
	return h
}

func (h *Host) Scope() string {
	return h.scope
}

// Use appends a middleware. It applies to calls dispatched after it returns.
func (h *Host) Use(mw middleware.Middleware) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.middlewares = append(h.middlewares, mw)
}

// RegisterMethod installs or replaces the handler for name and restarts the
// capability broadcast delay.
func (h *Host) RegisterMethod(name string, handler Handler) error {
	if name == "" {
		return ErrEmptyName
	}
	if name == protocol.EnumerateMethods {
		return ErrReservedName
	}
	if handler == nil {
		return fmt.Errorf("host: nil handler for %q", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.methods[name] = handler
	h.scheduleBroadcastLocked()
	return nil
}

// RegisterEvent returns an emitter bound to name.
func (h *Host) RegisterEvent(name string) Emitter {
	return func(args ...any) {
		h.EmitEvent(name, args...)
	}
}

// EmitEvent broadcasts an EVENT to every known peer. The reserved capability
// event name cannot be emitted by application code.
func (h *Host) EmitEvent(name string, args ...any) {
	if name == "" || name == protocol.EnumerateMethods {
		h.logger.Warn().Str("event", name).Msg("refusing to emit reserved or empty event name")
		return
	}
	if args == nil {
		args = []any{}
	}
	reached := h.broadcast(protocol.NewEvent(h.scope, name, args))
	metrics.RecordBroadcast(h.scope, "event", reached)
}

// Methods returns the registered method names, sorted.
func (h *Host) Methods() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.methodNamesLocked()
}

// Peers returns how many peers the host currently broadcasts to.
func (h *Host) Peers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *Host) methodNamesLocked() []string {
	names := make([]string, 0, len(h.methods))
	for name := range h.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// receive is the transport subscription. The sender is recorded before the
// scope check: any message makes its sender eligible for broadcasts. Messages
// without a transport-assigned origin cannot be attributed and are dropped.
func (h *Host) receive(msg *protocol.Message, from transport.Peer, origin string) {
	if from == nil || origin == "" {
		metrics.RecordDrop("host", metrics.DropSpoofed)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.peers[origin] = from
	if !protocol.MatchScope(h.scope, msg.Scope) {
		h.mu.Unlock()
		return
	}
	if !protocol.Validate(msg) {
		h.mu.Unlock()
		metrics.RecordDrop("host", metrics.DropMalformed)
		return
	}
	if msg.Kind != protocol.KindCall {
		h.mu.Unlock()
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()

	go h.handleCall(msg, from, origin)
}

// handleCall produces exactly one RESPONSE for msg and sends it to the caller.
func (h *Host) handleCall(msg *protocol.Message, from transport.Peer, origin string) {
	defer h.wg.Done()

	start := time.Now()
	reply, outcome := h.dispatch(msg, origin)
	metrics.RecordHostCall(h.scope, msg.Method, outcome, time.Since(start))

	if err := h.transport.Send(reply, from); err != nil {
		h.logger.Debug().Err(err).Str("method", msg.Method).Str("origin", origin).Msg("response not sent")
	}
}

func (h *Host) dispatch(msg *protocol.Message, origin string) (*protocol.Message, string) {
	if msg.Method == protocol.EnumerateMethods {
		return protocol.NewResult(msg, h.scope, h.Methods()), metrics.OutcomeOK
	}

	h.mu.Lock()
	handler, ok := h.methods[msg.Method]
	chain := middleware.Chain(h.middlewares...)
	h.mu.Unlock()

	if !ok {
		return protocol.NewFailure(msg, h.scope, protocol.CodeNoMethod), metrics.OutcomeNoMethod
	}

	inv := &middleware.Invocation{
		Scope:  h.scope,
		Method: msg.Method,
		Args:   msg.Args,
		Origin: origin,
	}
	result, err := h.invoke(chain(func(ctx context.Context, inv *middleware.Invocation) (any, error) {
		return handler(ctx, inv.Args)
	}), inv)
	if err != nil {
		// The cause stays here; the guest only learns the code
		h.logger.Error().Err(err).Str("method", msg.Method).Str("origin", origin).Msg("handler failed")
		return protocol.NewFailure(msg, h.scope, protocol.CodeCallMethodFailed), metrics.OutcomeFailed
	}
	return protocol.NewResult(msg, h.scope, result), metrics.OutcomeOK
}

// invoke runs fn, turning a panic into an error so one bad handler cannot take
// the dispatcher down.
func (h *Host) invoke(fn middleware.HandlerFunc, inv *middleware.Invocation) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return fn(h.ctx, inv)
}

// broadcast sends msg to every known peer and returns how many sends succeeded.
// Peers the transport can no longer route to are forgotten.
func (h *Host) broadcast(msg *protocol.Message) int {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0
	}
	peers := make(map[string]transport.Peer, len(h.peers))
	for origin, p := range h.peers {
		peers[origin] = p
	}
	h.mu.Unlock()

	reached := 0
	for origin, p := range peers {
		err := h.transport.Send(msg, p)
		switch {
		case err == nil:
			reached++
		case errors.Is(err, transport.ErrNoRoute):
			h.forgetPeer(origin, p)
		default:
			h.logger.Debug().Err(err).Str("origin", origin).Msg("broadcast send failed")
		}
	}
	return reached
}

func (h *Host) forgetPeer(origin string, p transport.Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.peers[origin] == p {
		delete(h.peers, origin)
	}
}

// scheduleBroadcastLocked restarts the debounce window.
func (h *Host) scheduleBroadcastLocked() {
	if h.closed {
		return
	}
	h.timerGen++
	gen := h.timerGen
	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = time.AfterFunc(h.debounce, func() {
		h.flushCapabilities(gen)
	})
}

// flushCapabilities broadcasts the method list if no registration happened since
// the timer for gen was armed.
func (h *Host) flushCapabilities(gen uint64) {
	h.mu.Lock()
	if h.closed || gen != h.timerGen {
		h.mu.Unlock()
		return
	}
	h.timer = nil
	names := h.methodNamesLocked()
	h.mu.Unlock()

	reached := h.broadcast(protocol.NewEvent(h.scope, protocol.EnumerateMethods, []any{names}))
	metrics.RecordBroadcast(h.scope, "capabilities", reached)
	h.logger.Debug().Strs("methods", names).Int("peers", reached).Msg("capabilities broadcast")

	if h.registry != nil {
		ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
		defer cancel()
		if err := h.Publish(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("registry publish failed")
		}
	}
}

// Publish writes this host's instance, with its current method list, to the
// configured registry. It is a no-op without WithRegistry.
func (h *Host) Publish(ctx context.Context) error {
	if h.registry == nil {
		return nil
	}
	instance := h.instance
	instance.Methods = h.Methods()
	return h.registry.Register(ctx, h.scope, instance, h.ttl)
}

// Shutdown stops broadcasting and receiving, removes the host from the registry
// and waits up to timeout for in-flight calls. Handler contexts are cancelled
// once the wait ends.
func (h *Host) Shutdown(timeout time.Duration) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.mu.Unlock()

	h.unsubscribe()
	defer h.cancel()

	if h.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := h.registry.Deregister(ctx, h.scope, h.instance.Addr)
		cancel()
		if err != nil {
			h.logger.Warn().Err(err).Msg("registry deregister failed")
		}
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing calls to finish")
	}
}
