package client

import (
	"sync"
	"time"
)

/*
DEBOUNCED UPDATE COALESCER

One outbound update per quiet period instead of one per keystroke:

	Changed("H") Changed("He") ... Changed("Hello")  ──1000ms idle──▶ send("Hello")

  - every Changed resets the single timer; there is never more than one pending
  - a firing timer sends only if the content differs from what was last sent
  - FlushNow (paste, block insert) cancels the timer and sends at once
  - Reset records a remote snapshot as already sent and drops the pending edit,
    since the remote snapshot has replaced it in the view

Each armed timer carries a generation number. Cancelling bumps the generation,
so a timer that already fired but lost the race for the lock does nothing.
*/

// DefaultQuietPeriod is the debounce interval of the reference client.
const DefaultQuietPeriod = 1000 * time.Millisecond

// Timer is the part of *time.Timer the coalescer uses.
type Timer interface {
	Stop() bool
}

// AfterFunc arms a timer that calls f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Coalescer batches local edits into debounced sends.
type Coalescer struct {
	quiet     time.Duration
	send      func(content string) error
	afterFunc AfterFunc

	sendMu sync.Mutex // serializes sends so flushes never reorder

	mu         sync.Mutex
	timer      Timer
	generation uint64
	pending    string
	hasPending bool
	lastSent   string
	stopped    bool
}

// CoalescerOption configures a Coalescer.
type CoalescerOption func(*Coalescer)

// WithAfterFunc replaces the timer source, for tests.
func WithAfterFunc(f AfterFunc) CoalescerOption {
	return func(c *Coalescer) { c.afterFunc = f }
}

// NewCoalescer creates a coalescer that calls send for each flush. A zero
// quiet period means DefaultQuietPeriod.
func NewCoalescer(quiet time.Duration, send func(content string) error, opts ...CoalescerOption) *Coalescer {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	c := &Coalescer{
		quiet:     quiet,
		send:      send,
		afterFunc: realAfterFunc,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Changed records a local edit and restarts the quiet period.
func (c *Coalescer) Changed(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	c.cancelLocked()
	c.pending = content
	c.hasPending = true

	gen := c.generation
	c.timer = c.afterFunc(c.quiet, func() { c.fire(gen) })
}

// FlushNow sends content immediately, replacing any pending edit.
func (c *Coalescer) FlushNow(content string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.cancelLocked()
	c.hasPending = false
	c.pending = ""
	if content == c.lastSent {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.deliver(content)
}

// Reset marks content as the last sent state and drops any pending edit.
func (c *Coalescer) Reset(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.hasPending = false
	c.pending = ""
	c.lastSent = content
}

// Stop cancels the pending timer. Later calls are no-ops.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.hasPending = false
	c.stopped = true
}

// Pending reports whether an edit is waiting for the quiet period to end.
func (c *Coalescer) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasPending
}

// LastSent returns the content of the last successful send.
func (c *Coalescer) LastSent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSent
}

func (c *Coalescer) cancelLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.generation++
}

func (c *Coalescer) fire(gen uint64) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	if c.stopped || gen != c.generation || !c.hasPending {
		c.mu.Unlock()
		return
	}
	content := c.pending
	c.timer = nil
	c.hasPending = false
	c.pending = ""
	if content == c.lastSent {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.deliver(content)
}

// deliver sends content; sendMu must be held. A failed send leaves lastSent
// unchanged so the next flush retries the content.
func (c *Coalescer) deliver(content string) error {
	if err := c.send(content); err != nil {
		return err
	}
	c.mu.Lock()
	c.lastSent = content
	c.mu.Unlock()
	return nil
}
