// Package client connects guests to hosts found through a registry. For each
// scope it discovers the published instances, lets a balancer choose one, dials
// it over the stream transport and keeps the resulting guest surface for reuse
// until its connection drops.
package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"portal-rpc/codec"
	"portal-rpc/guest"
	"portal-rpc/loadbalance"
	"portal-rpc/protocol"
	"portal-rpc/registry"
	"portal-rpc/transport"
)

type Client struct {
	registry  registry.Registry // find host instances from registry
	balancer  loadbalance.Balancer
	codec     codec.Codec
	key       string // Balancer affinity key
	guestOpts []guest.Option
	logger    zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session // scope → live session
}

// Session is a guest surface bound to one discovered host.
type Session struct {
	*guest.Surface
	Instance registry.Instance
	conn     *transport.Client
}

type Option func(*Client)

// WithKey sets the key consistent-hash balancers use to keep this client on the
// same host.
func WithKey(key string) Option {
	return func(c *Client) { c.key = key }
}

// WithGuestOptions applies opts to every surface the client creates. The scope
// option is always overridden by the scope being connected to.
func WithGuestOptions(opts ...guest.Option) Option {
	return func(c *Client) { c.guestOpts = append(c.guestOpts, opts...) }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func NewClient(reg registry.Registry, bal loadbalance.Balancer, c codec.Codec, opts ...Option) *Client {
	if c == nil {
		c = &codec.JSONCodec{}
	}
	client := &Client{
		registry: reg,
		balancer: bal,
		codec:    c,
		logger:   log.Logger,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Connect returns the live session for scope, dialing a freshly picked host if
// there is none. Discovery and dialing run without holding the client lock, so
// a slow scope never delays calls on the others.
func (c *Client) Connect(ctx context.Context, scope string) (*Session, error) {
	if sess := c.cached(scope); sess != nil {
		return sess, nil
	}

	// Get host instances from registry
	instances, err := c.registry.Discover(ctx, scope)
	if err != nil {
		return nil, err
	}

	// Select an instance using load balancer
	instance, err := c.balancer.Pick(c.key, instances)
	if err != nil {
		return nil, fmt.Errorf("client: scope %q: %w", scope, err)
	}

	conn, err := transport.Dial(ctx, "tcp", instance.Addr, c.codec)
	if err != nil {
		return nil, err
	}

	opts := append(append([]guest.Option{}, c.guestOpts...), guest.WithScope(scope))
	sess := &Session{
		Surface:  guest.New(conn, conn.Remote(), opts...),
		Instance: instance,
		conn:     conn,
	}

	c.mu.Lock()
	if existing, ok := c.sessions[scope]; ok && existing.alive() {
		// Another caller connected first; keep theirs
		c.mu.Unlock()
		sess.Close()
		return existing, nil
	}
	c.sessions[scope] = sess
	c.mu.Unlock()

	c.logger.Debug().Str("scope", scope).Str("addr", instance.Addr).Str("balancer", c.balancer.Name()).Msg("connected")
	return sess, nil
}

// cached returns the live session for scope, discarding a dead one.
func (c *Client) cached(scope string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[scope]
	if !ok {
		return nil
	}
	if sess.alive() {
		return sess
	}
	sess.Close()
	delete(c.sessions, scope)
	return nil
}

// Call connects to scope if needed and invokes method there.
func (c *Client) Call(ctx context.Context, scope, method string, args ...any) (any, error) {
	sess, err := c.Connect(ctx, scope)
	if err != nil {
		return nil, err
	}
	m, ok := sess.Method(method)
	if !ok {
		return nil, fmt.Errorf("client: %s not offered in scope %q: %w", method, scope, protocol.ErrNoMethod)
	}
	return m.Call(ctx, args...)
}

// Close ends every session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for scope, sess := range c.sessions {
		sess.Close()
		delete(c.sessions, scope)
	}
	return nil
}

func (s *Session) alive() bool {
	select {
	case <-s.conn.Done():
		return false
	default:
		return true
	}
}

// Close shuts the surface and its connection.
func (s *Session) Close() error {
	s.Surface.Close()
	return s.conn.Close()
}
