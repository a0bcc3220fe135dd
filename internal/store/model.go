package store

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidRoomID indicates that a room identifier is empty or exceeds storage bounds.
	ErrInvalidRoomID = errors.New("store: invalid room id")
	// ErrInvalidDocumentKey indicates that a document key is empty or exceeds storage bounds.
	ErrInvalidDocumentKey = errors.New("store: invalid document key")
	// ErrInvalidClientID indicates that a writer identifier is empty.
	ErrInvalidClientID = errors.New("store: invalid client id")
)

// RoomID represents a validated room identifier.
type RoomID string

// NewRoomID validates raw input and returns a RoomID.
func NewRoomID(rawInput string) (RoomID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRoomID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRoomID, maxIdentifierLength)
	}
	return RoomID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RoomID) String() string {
	return string(id)
}

// DocumentKey represents a validated document key within a room.
type DocumentKey string

// NewDocumentKey validates raw input and returns a DocumentKey.
func NewDocumentKey(rawInput string) (DocumentKey, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDocumentKey)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDocumentKey, maxIdentifierLength)
	}
	return DocumentKey(trimmed), nil
}

// String returns the underlying string key.
func (k DocumentKey) String() string {
	return string(k)
}

// Document is a stored record with its conflict-resolution metadata.
type Document struct {
	Key               DocumentKey
	PayloadJSON       string
	Version           int64
	CreatedAtSeconds  int64
	UpdatedAtSeconds  int64
	LastWriter        string
	LastWriterEditSeq int64
	IsDeleted         bool
}

// WriteRequest describes one client write: an upsert or delete of a single
// document. Writers always send the full current candidate, never a delta.
type WriteRequest struct {
	RoomID            RoomID
	Key               DocumentKey
	PayloadJSON       string
	ClientID          string
	ClientEditSeq     int64
	ClientTimeSeconds int64
	Delete            bool
}

// Validate checks the request's identifiers.
func (r WriteRequest) Validate() error {
	if r.RoomID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRoomID)
	}
	if r.Key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDocumentKey)
	}
	if strings.TrimSpace(r.ClientID) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidClientID)
	}
	return nil
}

// WriteOutcome reports whether a write was accepted and the document as
// stored afterwards (the previous value when the write lost).
type WriteOutcome struct {
	Accepted bool
	Stored   Document
}

// ChangeEvent notifies watchers of a document change in a room.
// Subscribers are notified asynchronously; read-your-writes through the
// watch channel is not guaranteed to be immediate.
type ChangeEvent struct {
	RoomID   RoomID
	Document Document
}
