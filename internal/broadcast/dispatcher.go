// Package broadcast implements the ephemeral fan-out channel: events are
// delivered to currently connected peers with no persistence and no
// delivery guarantee. A peer that connects mid-session receives only events
// sent from that moment on.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const subscriberBufferSize = 64

// Event is one fire-and-forget message inside a room.
type Event struct {
	RoomID   string          `json:"room_id"`
	SenderID string          `json:"sender_id"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SentAt   time.Time       `json:"sent_at"`
}

// Dispatcher fans events out to every subscriber in the event's room except
// the sender. Delivery is non-blocking: a subscriber with a full buffer
// misses the event.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
}

type subscriber struct {
	id       int64
	senderID string
	stream   chan Event
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
	}
}

// Subscribe registers a connection in a room. senderID identifies the local
// client so its own events are excluded from the returned stream. The
// subscription ends with the context or by calling the cleanup function.
func (d *Dispatcher) Subscribe(ctx context.Context, roomID, senderID string) (<-chan Event, func()) {
	if roomID == "" {
		closed := make(chan Event)
		close(closed)
		return closed, func() {}
	}

	entry := &subscriber{
		id:       d.nextSequence(),
		senderID: senderID,
		stream:   make(chan Event, subscriberBufferSize),
	}

	d.mu.Lock()
	if _, ok := d.subscribers[roomID]; !ok {
		d.subscribers[roomID] = make(map[int64]*subscriber)
	}
	d.subscribers[roomID][entry.id] = entry
	d.mu.Unlock()

	cleanup := func() {
		d.mu.Lock()
		room := d.subscribers[roomID]
		if room != nil {
			delete(room, entry.id)
			if len(room) == 0 {
				delete(d.subscribers, roomID)
			}
		}
		d.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		cleanup()
	}()

	return entry.stream, cleanup
}

// Publish fans the event out to the room, excluding the sender.
func (d *Dispatcher) Publish(event Event) {
	if event.RoomID == "" || event.Kind == "" {
		return
	}
	d.mu.RLock()
	room := d.subscribers[event.RoomID]
	copies := make([]*subscriber, 0, len(room))
	for _, entry := range room {
		copies = append(copies, entry)
	}
	d.mu.RUnlock()

	for _, entry := range copies {
		if entry.senderID != "" && entry.senderID == event.SenderID {
			continue
		}
		select {
		case entry.stream <- event:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}
