package canvas

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// fakeStore records image writes and deletes in order.
type fakeStore struct {
	mu      sync.Mutex
	puts    []CanvasImage
	deletes []ImageID
	failPut bool
}

func (s *fakeStore) PutImage(_ context.Context, image CanvasImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut {
		return errors.New("store unavailable")
	}
	s.puts = append(s.puts, image)
	return nil
}

func (s *fakeStore) DeleteImage(_ context.Context, id ImageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, id)
	return nil
}

func (s *fakeStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.puts)
}

func (s *fakeStore) lastPut() (CanvasImage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.puts) == 0 {
		return CanvasImage{}, false
	}
	return s.puts[len(s.puts)-1], true
}

// fakeBroadcaster records sent events.
type fakeBroadcaster struct {
	mu     sync.Mutex
	events []BroadcastEvent
}

func (b *fakeBroadcaster) Send(event BroadcastEvent) {
	b.mu.Lock()
	b.events = append(b.events, event)
	b.mu.Unlock()
}

func (b *fakeBroadcaster) sent() []BroadcastEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BroadcastEvent, len(b.events))
	copy(out, b.events)
	return out
}

// manualClock advances only when told to.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1700000000, 0)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// sequentialIDs issues id-1, id-2, ...
type sequentialIDs struct {
	mu   sync.Mutex
	next int
}

func (p *sequentialIDs) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("id-%d", p.next), nil
}

func testImage(id string) CanvasImage {
	return CanvasImage{
		ID:               ImageID(id),
		URL:              "https://blobs.example/" + id,
		X:                10,
		Y:                10,
		Scale:            1,
		NaturalWidth:     100,
		NaturalHeight:    100,
		CreatedAtSeconds: 1700000000,
	}
}
