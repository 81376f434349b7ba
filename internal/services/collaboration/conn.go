package collaboration

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
)

/*
LEARNING: CONNECTION LIFECYCLE

	CONNECTING ──join ok──▶ OPEN ──read error / Fail / Close──▶ CLOSED
	     └─────────────join failed──────────────────────────────────┘

Each connection runs two loops. ReadPump runs on the handler goroutine and is
the only reader. WritePump runs on its own goroutine and is the only writer,
so frames never interleave on the socket.

The send channel is never closed. stop() closes done instead, which tells
WritePump to flush what is queued, write the close frame if one was given, and
close the socket. That in turn unblocks ReadPump. stop() runs at most once, so
every later close is a no-op.
*/

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // must be less than pongWait
	maxMessageSize = 1 << 20
)

// ConnState is the lifecycle state of a connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one participant's duplex channel into a session.
type Conn struct {
	id            string
	sessionID     string
	noteID        string
	participantID string
	username      string

	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	written chan struct{} // closed when WritePump has exited
	manager *SessionManager

	mu         sync.Mutex
	state      ConnState
	closeFrame []byte
}

func newConn(ws *websocket.Conn, m *SessionManager, sessionID, noteID, participantID, username string, buffer int) *Conn {
	return &Conn{
		id:            ksuid.New().String(),
		sessionID:     sessionID,
		noteID:        noteID,
		participantID: participantID,
		username:      username,
		ws:            ws,
		send:          make(chan []byte, buffer),
		done:          make(chan struct{}),
		written:       make(chan struct{}),
		manager:       m,
		state:         StateConnecting,
	}
}

func (c *Conn) ConnID() string        { return c.id }
func (c *Conn) SessionID() string     { return c.sessionID }
func (c *Conn) ParticipantID() string { return c.participantID }

func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// open moves CONNECTING to OPEN. It fails when the connection was closed first.
func (c *Conn) open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return false
	}
	c.state = StateOpen
	return true
}

// Enqueue queues frame for WritePump. It reports false only when the buffer is
// full; frames for a closed connection are dropped.
func (c *Conn) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}

	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

// Fail closes the connection as a transport failure.
func (c *Conn) Fail() {
	c.stop(nil)
}

// Close closes the connection with a close frame.
func (c *Conn) Close(code int, reason string) {
	c.stop(websocket.FormatCloseMessage(code, reason))
}

// stop transitions to CLOSED and removes the participant from its session.
// Only the first call has any effect.
func (c *Conn) stop(frame []byte) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	wasOpen := c.state == StateOpen
	c.state = StateClosed
	c.closeFrame = frame
	close(c.done)
	c.mu.Unlock()

	c.manager.release(c, wasOpen)
}

// ReadPump reads frames until the socket fails or the connection is stopped.
func (c *Conn) ReadPump(ctx context.Context) {
	defer c.stop(nil)

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on %s (session %s, user %s): %v", c.id, c.sessionID, c.participantID, err)
			}
			return
		}
		c.manager.dispatch(ctx, c, message)
	}
}

// WritePump writes queued frames, one text frame per message, and pings.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		close(c.written)
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				c.Fail()
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Fail()
				return
			}

		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush writes what was queued before stop and then the close frame.
func (c *Conn) flush() {
	for n := len(c.send); n > 0; n-- {
		if err := c.write(websocket.TextMessage, <-c.send); err != nil {
			return
		}
	}

	c.mu.Lock()
	frame := c.closeFrame
	c.mu.Unlock()
	if frame != nil {
		c.ws.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeWait))
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, data)
}
