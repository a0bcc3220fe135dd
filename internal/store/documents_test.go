package store

import (
	"context"
	"testing"
	"time"

	"github.com/hexgridlabs/tabula/internal/canvas"
	"github.com/hexgridlabs/tabula/internal/geometry"
)

func newTestRoomDocuments(t *testing.T) (*RoomDocuments, *MemoryStore) {
	t.Helper()
	memory := NewMemoryStore(fixedClock)
	documents, err := NewRoomDocuments(memory, "room-1", "client-a", fixedClock)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return documents, memory
}

func TestRoomDocumentsImageRoundTrip(t *testing.T) {
	documents, _ := newTestRoomDocuments(t)
	ctx := context.Background()

	image := canvas.CanvasImage{
		ID:               "img-1",
		URL:              "https://blobs.example/img-1",
		X:                10,
		Y:                20,
		Scale:            1.5,
		NaturalWidth:     100,
		NaturalHeight:    80,
		CreatedAtSeconds: 1700000000,
	}
	if err := documents.PutImage(ctx, image); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	images, err := documents.Images(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("expected one image, got %d", len(images))
	}
	if images[0] != image {
		t.Fatalf("expected round-trip equality, got %+v", images[0])
	}
}

func TestRoomDocumentsDeleteImage(t *testing.T) {
	documents, _ := newTestRoomDocuments(t)
	ctx := context.Background()

	if err := documents.PutImage(ctx, canvas.CanvasImage{ID: "img-1", Scale: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := documents.DeleteImage(ctx, "img-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	images, _ := documents.Images(ctx)
	if len(images) != 0 {
		t.Fatalf("expected no images after delete, got %d", len(images))
	}
}

func TestRoomDocumentsEditSequenceIncreases(t *testing.T) {
	documents, memory := newTestRoomDocuments(t)
	ctx := context.Background()

	documents.PutImage(ctx, canvas.CanvasImage{ID: "img-1", Scale: 1})
	documents.PutImage(ctx, canvas.CanvasImage{ID: "img-1", Scale: 1, X: 50})

	document, ok, _ := memory.Get(ctx, "room-1", ImageKey("img-1"))
	if !ok {
		t.Fatal("expected document present")
	}
	if document.LastWriterEditSeq != 2 {
		t.Fatalf("expected second write to carry edit seq 2, got %d", document.LastWriterEditSeq)
	}
	if document.Version != 2 {
		t.Fatalf("expected version 2, got %d", document.Version)
	}
}

func TestRoomDocumentsMusicStateRoundTrip(t *testing.T) {
	documents, _ := newTestRoomDocuments(t)
	ctx := context.Background()

	state := canvas.MusicState{ID: "track-9", Playing: true, Volume: 0.6}
	if err := documents.PutMusicState(ctx, state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, ok, err := documents.MusicState(ctx)
	if err != nil || !ok {
		t.Fatalf("expected music state present, ok=%v err=%v", ok, err)
	}
	if loaded != state {
		t.Fatalf("expected round-trip equality, got %+v", loaded)
	}
}

type silentBroadcaster struct{}

func (silentBroadcaster) Send(canvas.BroadcastEvent) {}

type silentUploader struct{}

func (silentUploader) Upload(ctx context.Context, filename, contentType string, content []byte) (canvas.UploadResult, error) {
	return canvas.UploadResult{URL: "https://blobs.example/" + filename}, nil
}

type staticIDs struct{}

func (staticIDs) NewID() (string, error) { return "img-static", nil }

// newSyncedSurface builds one client of a shared room: a Surface persisting
// through its own RoomDocuments binding, with SyncImages pumping the room's
// change stream back into it.
func newSyncedSurface(t *testing.T, ctx context.Context, memory *MemoryStore, clientID string) (*canvas.Surface, *RoomDocuments) {
	t.Helper()
	documents, err := NewRoomDocuments(memory, "room-1", clientID, fixedClock)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	surface, err := canvas.NewSurface(canvas.SurfaceConfig{
		Store:       documents,
		Broadcaster: silentBroadcaster{},
		Uploader:    silentUploader{},
		IDProvider:  staticIDs{},
		Viewport:    geometry.Rect{Width: 800, Height: 600},
		Clock:       fixedClock,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	go documents.SyncImages(ctx, surface, nil)
	return surface, documents
}

func waitForSurface(t *testing.T, message string, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(message)
}

func TestSyncImagesConvergesPeerSurfaces(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	memory := NewMemoryStore(fixedClock)
	alpha, alphaDocuments := newSyncedSurface(t, ctx, memory, "client-a")
	beta, _ := newSyncedSurface(t, ctx, memory, "client-b")

	seed := canvas.CanvasImage{
		ID:               "img-1",
		URL:              "https://blobs.example/img-1",
		X:                100,
		Y:                100,
		Scale:            1,
		NaturalWidth:     200,
		NaturalHeight:    150,
		CreatedAtSeconds: 1700000000,
	}
	if err := alphaDocuments.PutImage(ctx, seed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForSurface(t, "expected both surfaces to receive the seeded image", func() bool {
		return len(alpha.Images()) == 1 && len(beta.Images()) == 1
	})

	alpha.PointerDown(ctx, canvas.PointerEvent{X: 150, Y: 150})
	alpha.PointerMove(ctx, canvas.PointerEvent{X: 450, Y: 350})
	alpha.PointerUp(ctx, canvas.PointerEvent{X: 450, Y: 350})

	waitForSurface(t, "expected peer surface to converge on the dragged position", func() bool {
		images := beta.Images()
		return len(images) == 1 && images[0].X == 400 && images[0].Y == 300
	})
}

func TestSyncImagesPropagatesDeletes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	memory := NewMemoryStore(fixedClock)
	alpha, alphaDocuments := newSyncedSurface(t, ctx, memory, "client-a")
	beta, _ := newSyncedSurface(t, ctx, memory, "client-b")

	if err := alphaDocuments.PutImage(ctx, canvas.CanvasImage{ID: "img-1", Scale: 1, NaturalWidth: 40, NaturalHeight: 40}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForSurface(t, "expected both surfaces to receive the seeded image", func() bool {
		return len(alpha.Images()) == 1 && len(beta.Images()) == 1
	})

	if err := alpha.DeleteImage(ctx, "img-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForSurface(t, "expected peer surface to drop the deleted image", func() bool {
		return len(beta.Images()) == 0
	})
}

func TestSyncImagesSkipsNonImageAndCorruptDocuments(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	memory := NewMemoryStore(fixedClock)
	surface, _ := newSyncedSurface(t, ctx, memory, "client-a")

	writer, err := NewRoomDocuments(memory, "room-1", "client-b", fixedClock)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := memory.Apply(ctx, WriteRequest{
		RoomID: "room-1", Key: ImageKey("bad"), PayloadJSON: "{",
		ClientID: "client-b", ClientEditSeq: 1, ClientTimeSeconds: 1700000001,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := writer.PutMusicState(ctx, canvas.MusicState{ID: "track-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := writer.PutImage(ctx, canvas.CanvasImage{ID: "img-good", Scale: 1, NaturalWidth: 40, NaturalHeight: 40}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForSurface(t, "expected the loop to survive corrupt and non-image documents", func() bool {
		images := surface.Images()
		return len(images) == 1 && images[0].ID == "img-good"
	})
}

func TestIsImageKey(t *testing.T) {
	id, ok := IsImageKey("canvas-image/img-7")
	if !ok || id != "img-7" {
		t.Fatalf("expected image key recognized, got %q ok=%v", id, ok)
	}
	if _, ok := IsImageKey(MusicStateKey); ok {
		t.Fatal("expected non-image key rejected")
	}
	if _, ok := IsImageKey("canvas-image/"); ok {
		t.Fatal("expected empty id rejected")
	}
}
