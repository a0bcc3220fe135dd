package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hexgridlabs/tabula/internal/broadcast"
	"github.com/hexgridlabs/tabula/internal/canvas"
	"github.com/hexgridlabs/tabula/internal/geometry"
	"github.com/hexgridlabs/tabula/internal/presence"
	"github.com/hexgridlabs/tabula/internal/server"
	"github.com/hexgridlabs/tabula/internal/store"
	"github.com/hexgridlabs/tabula/internal/upload"
)

const (
	roomName        = "table-7"
	jsonContentType = "application/json"
)

func newIntegrationServer(testContext *testing.T) (*httptest.Server, *store.Service) {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:integration_%d?mode=memory&cache=shared", time.Now().UnixNano())), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to unwrap sqlite: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	testContext.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&store.DocumentRecord{}, &store.DocumentChange{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	documents, err := store.NewService(store.ServiceConfig{
		Database: db,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build document service: %v", err)
	}

	uploads, err := upload.NewDiskStorage(upload.DiskStorageConfig{
		Directory:  testContext.TempDir(),
		BaseURL:    "/blobs",
		IDProvider: canvas.NewUUIDProvider(),
	})
	if err != nil {
		testContext.Fatalf("failed to build upload storage: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:     documents,
		Broadcast: broadcast.NewDispatcher(),
		Presence:  presence.NewTracker(nil),
		Uploads:   uploads,
		Logger:    zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	apiServer := httptest.NewServer(handler)
	testContext.Cleanup(apiServer.Close)
	return apiServer, documents
}

func dialRoomSocket(testContext *testing.T, apiServer *httptest.Server, clientID string) *websocket.Conn {
	testContext.Helper()
	socketURL := "ws" + strings.TrimPrefix(apiServer.URL, "http") + "/rooms/" + roomName + "/socket?client=" + clientID
	conn, _, err := websocket.DefaultDialer.Dial(socketURL, nil)
	if err != nil {
		testContext.Fatalf("failed to dial socket: %v", err)
	}
	testContext.Cleanup(func() { conn.Close() })
	return conn
}

func TestCanvasEngineRoundTripsThroughServer(testContext *testing.T) {
	apiServer, documents := newIntegrationServer(testContext)

	observer := dialRoomSocket(testContext, apiServer, "observer")
	time.Sleep(50 * time.Millisecond)

	// The writing client drives a full drag through the engine, persisting
	// through RoomDocuments against the same document service the server
	// exposes over HTTP.
	roomID, err := store.NewRoomID(roomName)
	if err != nil {
		testContext.Fatalf("failed to validate room id: %v", err)
	}
	writer, err := store.NewRoomDocuments(documents, roomID, "alpha", nil)
	if err != nil {
		testContext.Fatalf("failed to bind room documents: %v", err)
	}

	surface, err := canvas.NewSurface(canvas.SurfaceConfig{
		Store:       writer,
		Broadcaster: noopBroadcaster{},
		Uploader:    noopUploader{},
		IDProvider:  canvas.NewUUIDProvider(),
		Viewport:    geometry.Rect{Width: 800, Height: 600},
	})
	if err != nil {
		testContext.Fatalf("failed to build surface: %v", err)
	}

	dropped := canvas.CanvasImage{
		ID:               canvas.ImageID("img-1"),
		URL:              "/blobs/img-1.png",
		X:                100,
		Y:                100,
		Scale:            1,
		NaturalWidth:     200,
		NaturalHeight:    150,
		CreatedAtSeconds: 1,
	}
	surface.ApplyRemoteImage(dropped)

	ctx := context.Background()
	surface.SetTool(canvas.ToolPlaceImage)
	surface.PointerDown(ctx, canvas.PointerEvent{X: 150, Y: 150})
	surface.PointerMove(ctx, canvas.PointerEvent{X: 450, Y: 350})
	surface.PointerUp(ctx, canvas.PointerEvent{X: 450, Y: 350})

	// The observer's socket should see the persisted transform.
	observer.SetReadDeadline(time.Now().Add(2 * time.Second))
	var message server.SocketMessage
	for {
		if err := observer.ReadJSON(&message); err != nil {
			testContext.Fatalf("failed to read document event: %v", err)
		}
		if message.Type == server.SocketEventDocument {
			break
		}
	}

	var payload struct {
		Key     string `json:"key"`
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(message.Payload, &payload); err != nil {
		testContext.Fatalf("failed to decode document payload: %v", err)
	}
	if payload.Key != "canvas-image/img-1" {
		testContext.Fatalf("unexpected document key %q", payload.Key)
	}
	var stored canvas.CanvasImage
	if err := json.Unmarshal([]byte(payload.Payload), &stored); err != nil {
		testContext.Fatalf("failed to decode stored image: %v", err)
	}
	if stored.X != 400 || stored.Y != 300 {
		testContext.Fatalf("expected dragged image at (400, 300), got (%v, %v)", stored.X, stored.Y)
	}

	// The REST read model agrees with the socket event.
	response, err := http.Get(apiServer.URL + "/rooms/" + roomName + "/documents/canvas-image/img-1")
	if err != nil {
		testContext.Fatalf("failed to read document: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("expected 200, got %d", response.StatusCode)
	}
}

func TestConcurrentWritersConvergeOnOneState(testContext *testing.T) {
	apiServer, documents := newIntegrationServer(testContext)

	syncBody := func(clientID string, editSeq, clientTime int64, payload string) string {
		operations := fmt.Sprintf(
			`[{"key":"canvas-image/img-9","operation":"upsert","client_edit_seq":%d,"client_time_s":%d,"payload":%q}]`,
			editSeq, clientTime, payload)
		return fmt.Sprintf(`{"client_id":%q,"operations":%s}`, clientID, operations)
	}

	post := func(body string) *http.Response {
		response, err := http.Post(apiServer.URL+"/rooms/"+roomName+"/sync", jsonContentType, bytes.NewReader([]byte(body)))
		if err != nil {
			testContext.Fatalf("failed to post sync: %v", err)
		}
		return response
	}

	first := post(syncBody("alpha", 4, 100, `{"x":400}`))
	first.Body.Close()
	second := post(syncBody("beta", 2, 200, `{"x":50}`))
	defer second.Body.Close()

	var response struct {
		Results []struct {
			Accepted bool `json:"accepted"`
			Stored   struct {
				Payload    string `json:"payload"`
				LastWriter string `json:"last_writer"`
			} `json:"stored"`
		} `json:"results"`
	}
	if err := json.NewDecoder(second.Body).Decode(&response); err != nil {
		testContext.Fatalf("failed to decode sync response: %v", err)
	}
	if len(response.Results) != 1 {
		testContext.Fatalf("expected one result, got %d", len(response.Results))
	}
	if response.Results[0].Accepted {
		testContext.Fatalf("expected lower edit sequence to lose")
	}
	if response.Results[0].Stored.LastWriter != "alpha" {
		testContext.Fatalf("expected alpha to remain last writer, got %q", response.Results[0].Stored.LastWriter)
	}

	roomID, _ := store.NewRoomID(roomName)
	key, _ := store.NewDocumentKey("canvas-image/img-9")
	document, found, err := documents.Get(context.Background(), roomID, key)
	if err != nil || !found {
		testContext.Fatalf("expected stored document, found=%v err=%v", found, err)
	}
	if document.PayloadJSON != `{"x":400}` {
		testContext.Fatalf("unexpected stored payload %q", document.PayloadJSON)
	}
}

func TestUploadedBlobFeedsCanvasPlacement(testContext *testing.T) {
	apiServer, _ := newIntegrationServer(testContext)

	frame := image.NewRGBA(image.Rect(0, 0, 120, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 120; x++ {
			frame.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	encoded := &bytes.Buffer{}
	if err := png.Encode(encoded, frame); err != nil {
		testContext.Fatalf("failed to encode png: %v", err)
	}

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="token.png"`)
	header.Set("Content-Type", "image/png")
	part, err := form.CreatePart(header)
	if err != nil {
		testContext.Fatalf("failed to create form part: %v", err)
	}
	if _, err := part.Write(encoded.Bytes()); err != nil {
		testContext.Fatalf("failed to write form part: %v", err)
	}
	form.Close()

	response, err := http.Post(apiServer.URL+"/rooms/"+roomName+"/uploads", form.FormDataContentType(), body)
	if err != nil {
		testContext.Fatalf("failed to post upload: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusCreated {
		testContext.Fatalf("expected 201, got %d", response.StatusCode)
	}

	var stored upload.StoredImage
	if err := json.NewDecoder(response.Body).Decode(&stored); err != nil {
		testContext.Fatalf("failed to decode upload response: %v", err)
	}
	if stored.Width != 120 || stored.Height != 80 {
		testContext.Fatalf("expected 120x80, got %dx%d", stored.Width, stored.Height)
	}

	blobResponse, err := http.Get(apiServer.URL + stored.URL)
	if err != nil {
		testContext.Fatalf("failed to fetch blob: %v", err)
	}
	defer blobResponse.Body.Close()
	if blobResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("expected 200 for blob, got %d", blobResponse.StatusCode)
	}
}

type noopBroadcaster struct{}

func (noopBroadcaster) Send(canvas.BroadcastEvent) {}

type noopUploader struct{}

func (noopUploader) Upload(context.Context, string, string, []byte) (canvas.UploadResult, error) {
	return canvas.UploadResult{}, nil
}
