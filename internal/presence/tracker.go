// Package presence tracks per-connection ephemeral state such as pointer
// position and active tool. Presence is never persisted: a client that
// disconnects vanishes, and a late joiner observes only updates published
// after it subscribed.
package presence

import (
	"context"
	"sync"
	"time"
)

const observerBufferSize = 32

// State is the ephemeral snapshot one connection shares with its room.
// Pointer coordinates are viewport pixels.
type State struct {
	ClientID    string    `json:"client_id"`
	DisplayName string    `json:"display_name,omitempty"`
	PointerX    float64   `json:"pointer_x"`
	PointerY    float64   `json:"pointer_y"`
	Tool        string    `json:"tool,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Update carries the fields a client wants to change. Nil fields keep
// their current value.
type Update struct {
	DisplayName *string
	PointerX    *float64
	PointerY    *float64
	Tool        *string
}

// Departure announces that a connection left its room.
type Departure struct {
	RoomID   string
	ClientID string
}

// Notice is what observers receive: either a state update or a departure.
type Notice struct {
	RoomID string
	State  *State
	Left   *Departure
}

// Tracker maintains presence per room and fans notices out to observers.
type Tracker struct {
	clock     func() time.Time
	mu        sync.RWMutex
	rooms     map[string]map[string]State
	observers map[string]map[int64]*observer
	nextID    int64
}

type observer struct {
	id       int64
	clientID string
	stream   chan Notice
}

// NewTracker constructs a tracker. A nil clock falls back to time.Now.
func NewTracker(clock func() time.Time) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{
		clock:     clock,
		rooms:     make(map[string]map[string]State),
		observers: make(map[string]map[int64]*observer),
	}
}

// UpdateSelf merges the update into the client's current state and notifies
// every other observer in the room. It returns the merged state.
func (t *Tracker) UpdateSelf(roomID, clientID string, update Update) State {
	if roomID == "" || clientID == "" {
		return State{}
	}

	t.mu.Lock()
	room := t.rooms[roomID]
	if room == nil {
		room = make(map[string]State)
		t.rooms[roomID] = room
	}
	current, ok := room[clientID]
	if !ok {
		current = State{ClientID: clientID}
	}
	if update.DisplayName != nil {
		current.DisplayName = *update.DisplayName
	}
	if update.PointerX != nil {
		current.PointerX = *update.PointerX
	}
	if update.PointerY != nil {
		current.PointerY = *update.PointerY
	}
	if update.Tool != nil {
		current.Tool = *update.Tool
	}
	current.UpdatedAt = t.clock()
	room[clientID] = current
	t.mu.Unlock()

	snapshot := current
	t.notify(roomID, clientID, Notice{RoomID: roomID, State: &snapshot})
	return current
}

// Leave evicts the client from the room and announces the departure.
func (t *Tracker) Leave(roomID, clientID string) {
	if roomID == "" || clientID == "" {
		return
	}

	t.mu.Lock()
	room := t.rooms[roomID]
	_, present := room[clientID]
	if present {
		delete(room, clientID)
		if len(room) == 0 {
			delete(t.rooms, roomID)
		}
	}
	t.mu.Unlock()

	if present {
		t.notify(roomID, clientID, Notice{RoomID: roomID, Left: &Departure{RoomID: roomID, ClientID: clientID}})
	}
}

// SubscribeOthers streams notices about every other connection in the room.
// The returned channel never replays state published before the call.
func (t *Tracker) SubscribeOthers(ctx context.Context, roomID, clientID string) (<-chan Notice, func()) {
	if roomID == "" {
		closed := make(chan Notice)
		close(closed)
		return closed, func() {}
	}

	entry := &observer{
		id:       t.nextSequence(),
		clientID: clientID,
		stream:   make(chan Notice, observerBufferSize),
	}

	t.mu.Lock()
	if _, ok := t.observers[roomID]; !ok {
		t.observers[roomID] = make(map[int64]*observer)
	}
	t.observers[roomID][entry.id] = entry
	t.mu.Unlock()

	cleanup := func() {
		t.mu.Lock()
		room := t.observers[roomID]
		if room != nil {
			delete(room, entry.id)
			if len(room) == 0 {
				delete(t.observers, roomID)
			}
		}
		t.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		cleanup()
	}()

	return entry.stream, cleanup
}

// Others returns the current state of every other connection in the room.
func (t *Tracker) Others(roomID, clientID string) []State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	room := t.rooms[roomID]
	others := make([]State, 0, len(room))
	for id, state := range room {
		if id == clientID {
			continue
		}
		others = append(others, state)
	}
	return others
}

func (t *Tracker) notify(roomID, originID string, notice Notice) {
	t.mu.RLock()
	room := t.observers[roomID]
	copies := make([]*observer, 0, len(room))
	for _, entry := range room {
		copies = append(copies, entry)
	}
	t.mu.RUnlock()

	for _, entry := range copies {
		if entry.clientID != "" && entry.clientID == originID {
			continue
		}
		select {
		case entry.stream <- notice:
		default:
		}
	}
}

func (t *Tracker) nextSequence() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	return t.nextID
}
