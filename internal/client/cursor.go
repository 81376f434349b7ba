package client

import (
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf16"
)

const (
	// DefaultMarkerTTL is how long a remote cursor marker stays without a refresh.
	DefaultMarkerTTL = 3 * time.Second
	// DefaultCursorInterval is how often the local caret is reported.
	DefaultCursorInterval = 5000 * time.Millisecond

	anonymousName = "Anonymous"
)

// Marker is a remote participant's cursor as drawn locally.
type Marker struct {
	SessionID string
	UserID    string
	Label     string
	Color     string
	Offset    int
	ExpiresAt time.Time
}

type markerKey struct {
	sessionID string
	userID    string
}

// MarkerBoard holds at most one marker per (session, participant). A new sample
// replaces the previous marker; markers expire after the TTL.
type MarkerBoard struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	markers map[markerKey]Marker
	colors  map[string]string
}

func NewMarkerBoard(ttl time.Duration) *MarkerBoard {
	if ttl <= 0 {
		ttl = DefaultMarkerTTL
	}
	return &MarkerBoard{
		ttl:     ttl,
		now:     time.Now,
		markers: make(map[markerKey]Marker),
		colors:  make(map[string]string),
	}
}

// Show draws userID's marker at offset, clamped to docLen, replacing any earlier one.
func (b *MarkerBoard) Show(sessionID, userID, username string, offset, docLen int) Marker {
	if offset > docLen {
		offset = docLen
	}
	if offset < 0 {
		offset = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	color, ok := b.colors[userID]
	if !ok {
		color = Color(userID)
		b.colors[userID] = color
	}

	m := Marker{
		SessionID: sessionID,
		UserID:    userID,
		Label:     label(username),
		Color:     color,
		Offset:    offset,
		ExpiresAt: b.now().Add(b.ttl),
	}
	b.markers[markerKey{sessionID, userID}] = m
	return m
}

// Remove drops userID's marker.
func (b *MarkerBoard) Remove(sessionID, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.markers, markerKey{sessionID, userID})
}

// Live returns the unexpired markers of a session ordered by user id.
func (b *MarkerBoard) Live(sessionID string) []Marker {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	live := make([]Marker, 0, len(b.markers))
	for k, m := range b.markers {
		if !now.Before(m.ExpiresAt) {
			delete(b.markers, k)
			continue
		}
		if k.sessionID == sessionID {
			live = append(live, m)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].UserID < live[j].UserID })
	return live
}

// Clear drops every marker of a session.
func (b *MarkerBoard) Clear(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.markers {
		if k.sessionID == sessionID {
			delete(b.markers, k)
		}
	}
}

// label is the two-character avatar text of a marker.
func label(username string) string {
	if username == "" {
		username = anonymousName
	}
	r := []rune(username)
	if len(r) > 2 {
		r = r[:2]
	}
	return string(r)
}

// Color returns the participant colour shared by the marker and the roster,
// hsl(h, 65%, 60%) with h derived from a 32-bit string hash of userID.
func Color(userID string) string {
	var hash int64
	for _, unit := range utf16.Encode([]rune(userID)) {
		hash = int64(unit) + (int64(int32(hash)<<5) - hash)
	}
	hue := hash % 360
	if hue < 0 {
		hue = -hue
	}
	return fmt.Sprintf("hsl(%d, 65%%, 60%%)", hue)
}

// CursorSampler reports the local caret on a fixed interval, skipping ticks
// where the selection is not collapsed.
type CursorSampler struct {
	interval time.Duration
	caret    func() (int, bool)
	report   func(offset int) error

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewCursorSampler(interval time.Duration, caret func() (int, bool), report func(offset int) error) *CursorSampler {
	if interval <= 0 {
		interval = DefaultCursorInterval
	}
	return &CursorSampler{interval: interval, caret: caret, report: report}
}

// Sample reports the caret once. It returns false when nothing was sent.
func (s *CursorSampler) Sample() bool {
	offset, ok := s.caret()
	if !ok {
		return false
	}
	return s.report(offset) == nil
}

// Start begins sampling. Starting a running sampler restarts it.
func (s *CursorSampler) Start() {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.Sample()
			}
		}
	}()
}

// Stop ends sampling and waits for the loop to exit.
func (s *CursorSampler) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}
