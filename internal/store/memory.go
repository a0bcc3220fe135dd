package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the in-process document store used by the client engine
// and by tests. It applies the same last-writer-wins resolution as the
// SQLite-backed service.
type MemoryStore struct {
	clock func() time.Time

	mu         sync.RWMutex
	rooms      map[RoomID]map[DocumentKey]Document
	dispatcher *changeDispatcher
}

// NewMemoryStore constructs an empty in-memory store. clock may be nil,
// defaulting to time.Now.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		clock:      clock,
		rooms:      make(map[RoomID]map[DocumentKey]Document),
		dispatcher: newChangeDispatcher(),
	}
}

// Get returns the live document for a key, if any. Deleted documents read
// as absent.
func (s *MemoryStore) Get(ctx context.Context, roomID RoomID, key DocumentKey) (Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	document, ok := s.rooms[roomID][key]
	if !ok || document.IsDeleted {
		return Document{}, false, nil
	}
	return document, true, nil
}

// List returns the live documents in a room whose keys start with prefix,
// ordered by creation time then key, matching the SQLite-backed service.
func (s *MemoryStore) List(ctx context.Context, roomID RoomID, prefix string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	documents := make([]Document, 0)
	for key, document := range s.rooms[roomID] {
		if document.IsDeleted {
			continue
		}
		if prefix != "" && !strings.HasPrefix(key.String(), prefix) {
			continue
		}
		documents = append(documents, document)
	}
	sort.Slice(documents, func(i, j int) bool {
		if documents[i].CreatedAtSeconds != documents[j].CreatedAtSeconds {
			return documents[i].CreatedAtSeconds < documents[j].CreatedAtSeconds
		}
		return documents[i].Key < documents[j].Key
	})
	return documents, nil
}

// Apply resolves and stores one write, then notifies the room's watchers if
// the write was accepted.
func (s *MemoryStore) Apply(ctx context.Context, request WriteRequest) (WriteOutcome, error) {
	if err := request.Validate(); err != nil {
		return WriteOutcome{}, err
	}

	s.mu.Lock()
	room, ok := s.rooms[request.RoomID]
	if !ok {
		room = make(map[DocumentKey]Document)
		s.rooms[request.RoomID] = room
	}
	var existing *Document
	if current, found := room[request.Key]; found {
		copied := current
		existing = &copied
	}
	outcome := resolveWrite(existing, request, s.clock())
	if outcome.Accepted {
		room[request.Key] = outcome.Stored
	}
	s.mu.Unlock()

	if outcome.Accepted {
		s.dispatcher.Publish(ChangeEvent{RoomID: request.RoomID, Document: outcome.Stored})
	}
	return outcome, nil
}

// Watch subscribes to change events for a room.
func (s *MemoryStore) Watch(ctx context.Context, roomID RoomID) (<-chan ChangeEvent, func()) {
	return s.dispatcher.Subscribe(ctx, roomID)
}
