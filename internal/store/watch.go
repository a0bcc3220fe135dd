package store

import (
	"context"
	"sync"
)

const watchBufferSize = 32

// changeDispatcher fans document change events out to room watchers.
// Delivery is non-blocking: a watcher that falls behind its buffer misses
// events, which is acceptable because every payload carries full document
// state and the next event supersedes the missed ones.
type changeDispatcher struct {
	mu       sync.RWMutex
	watchers map[RoomID]map[int64]*roomWatcher
	nextID   int64
}

type roomWatcher struct {
	id     int64
	stream chan ChangeEvent
}

func newChangeDispatcher() *changeDispatcher {
	return &changeDispatcher{
		watchers: make(map[RoomID]map[int64]*roomWatcher),
	}
}

// Subscribe returns a stream of change events for a room plus a cleanup
// function. The subscription also ends when the context does.
func (d *changeDispatcher) Subscribe(ctx context.Context, roomID RoomID) (<-chan ChangeEvent, func()) {
	if roomID == "" {
		closed := make(chan ChangeEvent)
		close(closed)
		return closed, func() {}
	}

	watcher := &roomWatcher{
		id:     d.nextSequence(),
		stream: make(chan ChangeEvent, watchBufferSize),
	}

	d.mu.Lock()
	if _, ok := d.watchers[roomID]; !ok {
		d.watchers[roomID] = make(map[int64]*roomWatcher)
	}
	d.watchers[roomID][watcher.id] = watcher
	d.mu.Unlock()

	cleanup := func() {
		d.mu.Lock()
		watchers := d.watchers[roomID]
		if watchers != nil {
			delete(watchers, watcher.id)
			if len(watchers) == 0 {
				delete(d.watchers, roomID)
			}
		}
		d.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		cleanup()
	}()

	return watcher.stream, cleanup
}

// Publish delivers an event to every watcher of its room, dropping it for
// watchers with a full buffer.
func (d *changeDispatcher) Publish(event ChangeEvent) {
	if event.RoomID == "" {
		return
	}
	d.mu.RLock()
	watchers := d.watchers[event.RoomID]
	copies := make([]*roomWatcher, 0, len(watchers))
	for _, watcher := range watchers {
		copies = append(copies, watcher)
	}
	d.mu.RUnlock()

	for _, watcher := range copies {
		select {
		case watcher.stream <- event:
		default:
		}
	}
}

func (d *changeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}
