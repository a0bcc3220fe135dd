package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hexgridlabs/tabula/internal/canvas"
)

// Document key layout inside a room.
const (
	// ImageKeyPrefix namespaces persisted canvas images.
	ImageKeyPrefix = "canvas-image/"
	// MusicStateKey holds the room's shared music record.
	MusicStateKey = "music-state"
)

// Store is the shared document store contract: replicated key-value records
// with last-writer-wins semantics per key and asynchronous change
// notification.
type Store interface {
	Get(ctx context.Context, roomID RoomID, key DocumentKey) (Document, bool, error)
	List(ctx context.Context, roomID RoomID, prefix string) ([]Document, error)
	Apply(ctx context.Context, request WriteRequest) (WriteOutcome, error)
	Watch(ctx context.Context, roomID RoomID) (<-chan ChangeEvent, func())
}

// RoomDocuments binds one client to one room of a Store. It implements
// canvas.ImageStore and carries the same pattern for the music record.
// Each write stamps a monotonically increasing edit sequence so the
// store's conflict resolution favors this client's latest write.
type RoomDocuments struct {
	store    Store
	roomID   RoomID
	clientID string
	clock    func() time.Time
	editSeq  atomic.Int64
}

// NewRoomDocuments constructs a room binding. clock may be nil, defaulting
// to time.Now.
func NewRoomDocuments(backing Store, roomID RoomID, clientID string, clock func() time.Time) (*RoomDocuments, error) {
	if backing == nil {
		return nil, fmt.Errorf("store: backing store is required")
	}
	if roomID == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidRoomID)
	}
	if strings.TrimSpace(clientID) == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidClientID)
	}
	if clock == nil {
		clock = time.Now
	}
	return &RoomDocuments{
		store:    backing,
		roomID:   roomID,
		clientID: clientID,
		clock:    clock,
	}, nil
}

// ImageKey returns the document key for a canvas image.
func ImageKey(id canvas.ImageID) DocumentKey {
	return DocumentKey(ImageKeyPrefix + id.String())
}

// PutImage writes the full image record under its key.
func (d *RoomDocuments) PutImage(ctx context.Context, image canvas.CanvasImage) error {
	payload, err := json.Marshal(image)
	if err != nil {
		return err
	}
	_, err = d.store.Apply(ctx, d.request(ImageKey(image.ID), string(payload), false))
	return err
}

// DeleteImage removes the image record.
func (d *RoomDocuments) DeleteImage(ctx context.Context, id canvas.ImageID) error {
	_, err := d.store.Apply(ctx, d.request(ImageKey(id), "", true))
	return err
}

// Images lists the room's persisted images, oldest first.
func (d *RoomDocuments) Images(ctx context.Context) ([]canvas.CanvasImage, error) {
	documents, err := d.store.List(ctx, d.roomID, ImageKeyPrefix)
	if err != nil {
		return nil, err
	}
	images := make([]canvas.CanvasImage, 0, len(documents))
	for _, document := range documents {
		image, decodeErr := DecodeImage(document)
		if decodeErr != nil {
			return nil, decodeErr
		}
		images = append(images, image)
	}
	return images, nil
}

// PutMusicState writes the shared music record through the same
// store/throttle machinery image transforms use.
func (d *RoomDocuments) PutMusicState(ctx context.Context, state canvas.MusicState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = d.store.Apply(ctx, d.request(MusicStateKey, string(payload), false))
	return err
}

// MusicState reads the room's shared music record.
func (d *RoomDocuments) MusicState(ctx context.Context) (canvas.MusicState, bool, error) {
	document, ok, err := d.store.Get(ctx, d.roomID, MusicStateKey)
	if err != nil || !ok {
		return canvas.MusicState{}, false, err
	}
	var state canvas.MusicState
	if err := json.Unmarshal([]byte(document.PayloadJSON), &state); err != nil {
		return canvas.MusicState{}, false, err
	}
	return state, true, nil
}

// Watch subscribes to the room's change events.
func (d *RoomDocuments) Watch(ctx context.Context) (<-chan ChangeEvent, func()) {
	return d.store.Watch(ctx, d.roomID)
}

// ImageApplier is the canvas-side sink for accepted image writes. A
// *canvas.Surface satisfies it.
type ImageApplier interface {
	ApplyRemoteImage(image canvas.CanvasImage)
	ApplyRemoteImageDelete(id canvas.ImageID)
}

// SyncImages pumps the room's change stream into an applier until ctx is
// cancelled or the stream closes. Tombstones dispatch as deletes, live
// image documents as upserts. Writes from this client are replayed too:
// the engine relies on the echo to refresh its persisted view once a
// gesture's overlay is cleared. Non-image keys and undecodable payloads
// are skipped. logger may be nil.
func (d *RoomDocuments) SyncImages(ctx context.Context, target ImageApplier, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	changes, cancel := d.store.Watch(ctx, d.roomID)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			id, isImage := IsImageKey(change.Document.Key)
			if !isImage {
				continue
			}
			if change.Document.IsDeleted {
				target.ApplyRemoteImageDelete(id)
				continue
			}
			image, err := DecodeImage(change.Document)
			if err != nil {
				logger.Warn("skipping undecodable image document",
					zap.String("doc_key", change.Document.Key.String()),
					zap.Error(err))
				continue
			}
			target.ApplyRemoteImage(image)
		}
	}
}

// DecodeImage unmarshals a canvas image document.
func DecodeImage(document Document) (canvas.CanvasImage, error) {
	var image canvas.CanvasImage
	if err := json.Unmarshal([]byte(document.PayloadJSON), &image); err != nil {
		return canvas.CanvasImage{}, fmt.Errorf("store: decoding image document %q: %w", document.Key.String(), err)
	}
	return image, nil
}

// IsImageKey reports whether a document key holds a canvas image, returning
// the image id when it does.
func IsImageKey(key DocumentKey) (canvas.ImageID, bool) {
	raw, ok := strings.CutPrefix(key.String(), ImageKeyPrefix)
	if !ok || raw == "" {
		return "", false
	}
	return canvas.ImageID(raw), true
}

func (d *RoomDocuments) request(key DocumentKey, payload string, isDelete bool) WriteRequest {
	return WriteRequest{
		RoomID:            d.roomID,
		Key:               key,
		PayloadJSON:       payload,
		ClientID:          d.clientID,
		ClientEditSeq:     d.editSeq.Add(1),
		ClientTimeSeconds: d.clock().Unix(),
		Delete:            isDelete,
	}
}
