package transport

// Client is the guest side of the TCP stream transport: one connection to the
// host's Server, a background read loop that hands every inbound frame to the
// subscribers, and a heartbeat loop that keeps idle connections alive.

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"portal-rpc/codec"
	"portal-rpc/protocol"
)

const DefaultHeartbeat = 30 * time.Second

type Client struct {
	remote *streamPeer
	subs   subscribers
	closed atomic.Bool
	done   chan struct{} // Closed when the read loop exits
}

// Dial connects to a Server and starts the client loops.
func Dial(ctx context.Context, network, address string, c codec.Codec) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", address, err)
	}
	return NewClient(conn, c, DefaultHeartbeat), nil
}

// NewClient wraps an established connection. heartbeat <= 0 disables keepalives.
func NewClient(conn net.Conn, c codec.Codec, heartbeat time.Duration) *Client {
	client := &Client{
		remote: newStreamPeer(conn, c),
		done:   make(chan struct{}),
	}
	go client.recvLoop()
	if heartbeat > 0 {
		go client.heartbeatLoop(heartbeat)
	}
	return client
}

// Remote is the peer at the other end of the connection: the host.
func (c *Client) Remote() Peer {
	return c.remote
}

func (c *Client) Subscribe(fn Receiver) func() {
	return c.subs.add(fn)
}

func (c *Client) Send(msg *protocol.Message, to Peer) error {
	if to != Peer(c.remote) {
		return ErrNoRoute
	}
	if c.closed.Load() {
		return ErrClosed
	}
	return c.remote.write(msg)
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.remote.conn.Close()
}

func (c *Client) recvLoop() {
	defer close(c.done)
	c.remote.readLoop(func(msg *protocol.Message) {
		c.subs.deliver(msg, c.remote, c.remote.origin)
	})
	c.closed.Store(true)
}

func (c *Client) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.remote.heartbeat(); err != nil {
				return
			}
		}
	}
}
