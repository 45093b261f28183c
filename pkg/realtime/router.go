package realtime

import (
	"log"
	"sync"
)

// Wildcard subscribes a handler to every decoded event regardless of type.
const Wildcard = "*"

// Logger is the minimal logging surface components accept. The stdlib
// *log.Logger satisfies it.
type Logger interface {
	Printf(string, ...interface{})
}

// Handler receives a decoded inbound event.
type Handler func(Event)

type subscription struct {
	eventType string
	handler   Handler
}

// Router demultiplexes inbound frames by their type discriminator into
// registered handler lists. Handlers for a frame run synchronously and in
// registration order before the next frame is dispatched.
type Router struct {
	mu     sync.Mutex
	subs   map[string][]*subscription
	logger Logger
}

// NewRouter creates an event router.
func NewRouter() *Router {
	return &Router{
		subs:   make(map[string][]*subscription),
		logger: log.New(log.Writer(), "[realtime] ", log.LstdFlags),
	}
}

// SetLogger replaces the router's logger.
func (r *Router) SetLogger(l Logger) {
	if l != nil {
		r.logger = l
	}
}

// On registers a handler for the given event type, or for Wildcard to
// receive every event. The returned function removes exactly that handler.
func (r *Router) On(eventType string, h Handler) func() {
	sub := &subscription{eventType: eventType, handler: h}

	r.mu.Lock()
	r.subs[eventType] = append(r.subs[eventType], sub)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		subs := r.subs[eventType]
		for i, s := range subs {
			if s == sub {
				r.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Dispatch decodes a raw frame and fans it out: exact-type handlers first,
// then wildcard handlers, each in registration order. A frame that fails to
// decode is logged and dropped; a frame with no subscribers is not an error.
func (r *Router) Dispatch(raw []byte) {
	ev, err := Decode(raw)
	if err != nil {
		r.logger.Printf("dropping malformed frame: %v", err)
		return
	}

	r.mu.Lock()
	exact := append([]*subscription(nil), r.subs[ev.EventType()]...)
	wild := append([]*subscription(nil), r.subs[Wildcard]...)
	r.mu.Unlock()

	for _, s := range exact {
		s.handler(ev)
	}
	for _, s := range wild {
		s.handler(ev)
	}
}
