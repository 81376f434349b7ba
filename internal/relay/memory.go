package relay

import (
	"context"
	"sync"
)

// Memory is an in-process relay. Managers sharing one Memory behave like nodes
// sharing a Redis channel.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[int]Handler
	nextID int
	closed bool
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[int]Handler)}
}

func (m *Memory) Publish(ctx context.Context, msg Message) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, 0, len(m.subs[msg.SessionID]))
	for _, h := range m.subs[msg.SessionID] {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, sessionID string, handler Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	if m.subs[sessionID] == nil {
		m.subs[sessionID] = make(map[int]Handler)
	}
	id := m.nextID
	m.nextID++
	m.subs[sessionID][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs[sessionID], id)
			if len(m.subs[sessionID]) == 0 {
				delete(m.subs, sessionID)
			}
		})
	}, nil
}

// Subscribers returns the number of live subscriptions for sessionID.
func (m *Memory) Subscribers(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[sessionID])
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string]map[int]Handler)
	return nil
}
