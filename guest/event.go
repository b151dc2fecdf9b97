package guest

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Listener receives the arguments of one event occurrence.
type Listener func(args []any)

// Event is the ordered listener list for one event name.
type Event struct {
	name   string
	logger zerolog.Logger

	mu        sync.Mutex
	listeners []*subscription
}

type subscription struct {
	fn    Listener
	timer *time.Timer
}

func (e *Event) Name() string {
	return e.name
}

// On adds fn after the existing listeners. With a positive ttl the listener is
// removed once ttl elapses, whether or not the event fired. The returned
// function removes it earlier; calling it more than once is harmless.
func (e *Event) On(fn Listener, ttl time.Duration) (remove func()) {
	sub := &subscription{fn: fn}
	var once sync.Once
	remove = func() {
		once.Do(func() { e.remove(sub) })
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, sub)
	if ttl > 0 {
		sub.timer = time.AfterFunc(ttl, remove)
	}
	return remove
}

// Listeners returns how many listeners are attached.
func (e *Event) Listeners() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// remove builds a new slice so a dispatch in progress keeps its snapshot.
func (e *Event) remove(sub *subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sub.timer != nil {
		sub.timer.Stop()
	}
	for i, s := range e.listeners {
		if s == sub {
			kept := make([]*subscription, 0, len(e.listeners)-1)
			kept = append(kept, e.listeners[:i]...)
			e.listeners = append(kept, e.listeners[i+1:]...)
			return
		}
	}
}

func (e *Event) clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.listeners {
		if s.timer != nil {
			s.timer.Stop()
		}
	}
	e.listeners = nil
}

// dispatch invokes the listeners attached when it starts, in registration order.
func (e *Event) dispatch(args []any) {
	e.mu.Lock()
	snapshot := e.listeners
	e.mu.Unlock()

	for _, s := range snapshot {
		e.invoke(s.fn, args)
	}
}

func (e *Event) invoke(fn Listener, args []any) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("event", e.name).Interface("panic", r).Msg("listener panicked")
		}
	}()
	fn(args)
}
