package transport

import (
	"fmt"
	"sync"

	"portal-rpc/codec"
	"portal-rpc/protocol"
)

// Bus is an in-process transport: ports attached to the same bus can message each
// other. Delivery is asynchronous and ordered per destination port, and origins
// are minted by the bus so a port cannot claim another port's identity.
type Bus struct {
	mu      sync.Mutex
	seq     int
	severed map[string]bool // origins whose traffic is silently lost
	clone   codec.Codec     // nil: hand messages over as-is
}

type BusOption func(*Bus)

// WithClone makes the bus copy every message through c, the way a real process
// boundary would. Receivers then see decoded values (float64 numbers for JSON).
func WithClone(c codec.Codec) BusOption {
	return func(b *Bus) { b.clone = c }
}

func NewBus(opts ...BusOption) *Bus {
	b := &Bus{severed: make(map[string]bool)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach creates a new port on the bus and starts its delivery goroutine.
func (b *Bus) Attach(name string) *Port {
	b.mu.Lock()
	b.seq++
	origin := fmt.Sprintf("bus://%s/%d", name, b.seq)
	b.mu.Unlock()

	p := &Port{bus: b, origin: origin}
	p.cond = sync.NewCond(&p.mu)
	go p.deliverLoop()
	return p
}

// Sever drops all traffic to and from p until Restore is called.
func (b *Bus) Sever(p Peer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.severed[p.Origin()] = true
}

func (b *Bus) Restore(p Peer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.severed, p.Origin())
}

func (b *Bus) isSevered(origins ...string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range origins {
		if b.severed[o] {
			return true
		}
	}
	return false
}

// Port is one endpoint on a Bus. It is both a Transport (for the endpoints living
// behind it) and a Peer (for endpoints addressing it).
type Port struct {
	bus    *Bus
	origin string
	subs   subscribers

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []envelope
	closed bool
}

type envelope struct {
	msg    *protocol.Message
	from   *Port
	origin string
}

func (p *Port) Origin() string {
	return p.origin
}

func (p *Port) Subscribe(fn Receiver) func() {
	return p.subs.add(fn)
}

// Send enqueues msg on the destination port. A severed link loses the message
// without reporting an error.
func (p *Port) Send(msg *protocol.Message, to Peer) error {
	dst, ok := to.(*Port)
	if !ok || dst.bus != p.bus {
		return ErrNoRoute
	}
	if p.isClosed() {
		return ErrClosed
	}
	if p.bus.isSevered(p.origin, dst.origin) {
		return nil
	}

	if p.bus.clone != nil {
		copied, err := cloneMessage(p.bus.clone, msg)
		if err != nil {
			return fmt.Errorf("transport: clone message: %w", err)
		}
		msg = copied
	}

	dst.enqueue(envelope{msg: msg, from: p, origin: p.origin})
	return nil
}

// Close stops delivery. Queued messages are discarded.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.queue = nil
	p.cond.Broadcast()
	return nil
}

func (p *Port) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Port) enqueue(env envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.queue = append(p.queue, env)
	p.cond.Signal()
}

// deliverLoop hands queued messages to subscribers one at a time, so the
// endpoints behind a port observe a single logical thread of inbound traffic.
func (p *Port) deliverLoop() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		env := p.queue[0]
		p.queue[0] = envelope{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.subs.deliver(env.msg, env.from, env.origin)
	}
}

func cloneMessage(c codec.Codec, msg *protocol.Message) (*protocol.Message, error) {
	data, err := c.Encode(msg)
	if err != nil {
		return nil, err
	}
	var out protocol.Message
	if err := c.Decode(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
