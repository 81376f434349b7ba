package collaboration

import (
	"log"
	"sync"
)

// Sender is the outbound half of a connection as seen by the router.
type Sender interface {
	ConnID() string
	// Enqueue queues a frame without blocking and reports whether it was accepted.
	Enqueue(frame []byte) bool
	// Fail tears the connection down as a transport failure.
	Fail()
	// Close tears the connection down with a close frame.
	Close(code int, reason string)
}

// Router delivers frames to connections by id. Connections attach on open and
// detach on close; frames for detached ids are dropped.
type Router struct {
	mu      sync.RWMutex
	senders map[string]Sender
}

func NewRouter() *Router {
	return &Router{senders: make(map[string]Sender)}
}

func (r *Router) Attach(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[s.ConnID()] = s
}

// Detach removes s if it is still the sender attached under its id.
func (r *Router) Detach(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.senders[s.ConnID()]; ok && cur == s {
		delete(r.senders, s.ConnID())
	}
}

func (r *Router) lookup(connID string) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[connID]
	return s, ok
}

// Send queues frame for one connection.
func (r *Router) Send(connID string, frame []byte) bool {
	s, ok := r.lookup(connID)
	if !ok {
		return false
	}
	if !s.Enqueue(frame) {
		log.Printf("⚠️  Connection %s send buffer full, closing connection", connID)
		// Fail takes registry locks; never run it on the delivering goroutine.
		go s.Fail()
		return false
	}
	return true
}

// Deliver queues frame for every member. Slow or vanished members never block
// the others.
func (r *Router) Deliver(members []Member, frame []byte) int {
	delivered := 0
	for _, m := range members {
		if r.Send(m.ConnID, frame) {
			delivered++
		}
	}
	return delivered
}

// Close closes one connection with a close frame.
func (r *Router) Close(connID string, code int, reason string) {
	if s, ok := r.lookup(connID); ok {
		s.Close(code, reason)
	}
}

// Len returns the number of attached connections.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.senders)
}
