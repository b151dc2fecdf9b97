// Package transport implements the one-way message-passing primitive the host and
// guest endpoints are built on, plus the concrete transports shipped with portal-rpc.
//
// A Transport can do exactly two things: send a message toward a Peer, and hand
// every inbound message to its subscribers together with the sender's Peer handle
// and its origin. The origin is assigned by the transport itself (bus port name,
// TCP remote address, broker-authenticated endpoint name) and is what endpoints
// compare to reject spoofed traffic.
//
//	host ──Send(msg, peer)──→ Transport ──Receiver(msg, from, origin)──→ guest
//
// Several host/guest pairs may share one Transport: every subscriber sees every
// inbound message and filters by scope on its own.
package transport

import (
	"errors"
	"sync"

	"portal-rpc/protocol"
)

var (
	ErrClosed  = errors.New("transport: closed")
	ErrNoRoute = errors.New("transport: peer not reachable through this transport")
)

// Peer is an addressable endpoint on a Transport.
type Peer interface {
	// Origin is the transport-assigned, unforgeable identity of the peer.
	Origin() string
}

// Receiver handles one inbound message. msg must be treated as read-only: it is
// shared between all subscribers of the transport.
type Receiver func(msg *protocol.Message, from Peer, origin string)

// Transport is best-effort: Send may succeed and the message still be lost, and
// messages to distinct peers are not ordered relative to each other.
type Transport interface {
	Send(msg *protocol.Message, to Peer) error
	// Subscribe registers fn for every inbound message and returns an idempotent
	// unsubscribe function.
	Subscribe(fn Receiver) (unsubscribe func())
}

// subscribers fans inbound messages out to every subscribed endpoint, in
// subscription order.
type subscribers struct {
	mu      sync.RWMutex
	nextID  uint64
	entries []subscriber
}

type subscriber struct {
	id uint64
	fn Receiver
}

func (s *subscribers) add(fn Receiver) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.entries = append(s.entries, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *subscribers) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.id == id {
			// Copy so a concurrent deliver keeps iterating its own snapshot
			entries := make([]subscriber, 0, len(s.entries)-1)
			entries = append(entries, s.entries[:i]...)
			s.entries = append(entries, s.entries[i+1:]...)
			return
		}
	}
}

func (s *subscribers) deliver(msg *protocol.Message, from Peer, origin string) {
	s.mu.RLock()
	entries := s.entries
	s.mu.RUnlock()
	for _, e := range entries {
		e.fn(msg, from, origin)
	}
}
