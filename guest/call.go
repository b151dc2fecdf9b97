package guest

import (
	"context"
	"sync"
	"time"

	"portal-rpc/protocol"
)

// Method is a callable stub for one host method.
type Method struct {
	surface *Surface
	name    string
}

func (m *Method) Name() string {
	return m.name
}

// Go starts a call and returns immediately. Failures, including a closed
// surface, are reported through the returned Call.
func (m *Method) Go(args ...any) *Call {
	return m.goWith(nil, args)
}

// goWith starts a call whose onSettle hook runs on the goroutine that settles
// it, before Done is closed. For responses that is the transport's delivery
// goroutine, so the hook observes responses and events in arrival order.
func (m *Method) goWith(onSettle func(result any, err error), args []any) *Call {
	if args == nil {
		args = []any{}
	}
	call := &Call{
		id:       protocol.NewCorrelationID(),
		method:   m.name,
		done:     make(chan struct{}),
		onSettle: onSettle,
	}
	m.surface.start(call, args)
	return call
}

// Call runs the method and waits for its outcome. Cancelling ctx stops the wait
// only: the call stays pending until its response or timeout.
func (m *Method) Call(ctx context.Context, args ...any) (any, error) {
	return m.Go(args...).Wait(ctx)
}

// Call is one outstanding invocation.
type Call struct {
	id     string
	method string
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	timer *time.Timer

	onSettle func(result any, err error)

	result any
	err    error
}

// ID returns the correlation id carried by the CALL.
func (c *Call) ID() string {
	return c.id
}

func (c *Call) Method() string {
	return c.method
}

// Done is closed once the call has settled.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome of a settled call. Before Done is closed it
// returns nil, nil.
func (c *Call) Result() (any, error) {
	select {
	case <-c.done:
		return c.result, c.err
	default:
		return nil, nil
	}
}

// Wait blocks until the call settles or ctx is done.
func (c *Call) Wait(ctx context.Context) (any, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// arm starts the timeout timer unless the call already settled.
func (c *Call) arm(d time.Duration, expire func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	c.timer = time.AfterFunc(d, expire)
}

// settle records the outcome. Only the first settlement counts.
func (c *Call) settle(result any, err error) bool {
	settled := false
	c.once.Do(func() {
		c.mu.Lock()
		if c.timer != nil {
			c.timer.Stop()
		}
		c.mu.Unlock()
		c.result, c.err = result, err
		if c.onSettle != nil {
			c.onSettle(result, err)
		}
		close(c.done)
		settled = true
	})
	return settled
}
