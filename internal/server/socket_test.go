package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func dialSocket(t *testing.T, server *httptest.Server, room, client string) *websocket.Conn {
	t.Helper()
	socketURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/rooms/" + room + "/socket?client=" + client
	conn, _, err := websocket.DefaultDialer.Dial(socketURL, nil)
	if err != nil {
		t.Fatalf("dial socket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readSocketMessage(t *testing.T, conn *websocket.Conn) SocketMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var message SocketMessage
	if err := conn.ReadJSON(&message); err != nil {
		t.Fatalf("read socket message: %v", err)
	}
	return message
}

func TestSocketRelaysStrokesToPeers(t *testing.T) {
	handler, _ := newTestHandler(t)
	server := httptest.NewServer(handler)
	defer server.Close()

	sender := dialSocket(t, server, "room-1", "alpha")
	receiver := dialSocket(t, server, "room-1", "beta")
	time.Sleep(50 * time.Millisecond)

	stroke := `{"type":"stroke","payload":{"x1":1,"y1":2,"x2":3,"y2":4,"color":"#1066ff","width":3,"mode":"draw"}}`
	if err := sender.WriteMessage(websocket.TextMessage, []byte(stroke)); err != nil {
		t.Fatalf("send stroke: %v", err)
	}

	message := readSocketMessage(t, receiver)
	if message.Type != SocketEventStroke {
		t.Fatalf("expected stroke event, got %q", message.Type)
	}
	if message.SenderID != "alpha" {
		t.Fatalf("expected sender alpha, got %q", message.SenderID)
	}

	var segment struct {
		X2 float64 `json:"x2"`
	}
	if err := json.Unmarshal(message.Payload, &segment); err != nil {
		t.Fatalf("decode stroke payload: %v", err)
	}
	if segment.X2 != 3 {
		t.Fatalf("expected x2 3, got %v", segment.X2)
	}
}

func TestSocketDoesNotEchoToSender(t *testing.T) {
	handler, _ := newTestHandler(t)
	server := httptest.NewServer(handler)
	defer server.Close()

	sender := dialSocket(t, server, "room-1", "alpha")
	time.Sleep(50 * time.Millisecond)

	if err := sender.WriteMessage(websocket.TextMessage, []byte(`{"type":"clear"}`)); err != nil {
		t.Fatalf("send clear: %v", err)
	}

	sender.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var message SocketMessage
	if err := sender.ReadJSON(&message); err == nil {
		t.Fatalf("expected no echo, got %q", message.Type)
	}
}

func TestSocketPushesDocumentChanges(t *testing.T) {
	handler, _ := newTestHandler(t)
	server := httptest.NewServer(handler)
	defer server.Close()

	receiver := dialSocket(t, server, "room-1", "beta")
	time.Sleep(50 * time.Millisecond)

	body := `{"client_id":"alpha","operations":[{"key":"canvas-image/img-1","operation":"upsert","client_edit_seq":1,"client_time_s":100,"payload":"{\"id\":\"img-1\"}"}]}`
	response, err := http.Post(server.URL+"/rooms/room-1/sync", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post sync: %v", err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 sync, got %d", response.StatusCode)
	}

	message := readSocketMessage(t, receiver)
	if message.Type != SocketEventDocument {
		t.Fatalf("expected document event, got %q", message.Type)
	}
	var document documentPayload
	if err := json.Unmarshal(message.Payload, &document); err != nil {
		t.Fatalf("decode document payload: %v", err)
	}
	if document.Key != "canvas-image/img-1" {
		t.Fatalf("unexpected key %q", document.Key)
	}
	if document.LastWriter != "alpha" {
		t.Fatalf("unexpected writer %q", document.LastWriter)
	}
}

func TestSocketSharesPresenceAndDeparture(t *testing.T) {
	handler, _ := newTestHandler(t)
	server := httptest.NewServer(handler)
	defer server.Close()

	mover := dialSocket(t, server, "room-1", "alpha")
	observer := dialSocket(t, server, "room-1", "beta")
	time.Sleep(50 * time.Millisecond)

	update := `{"type":"presence","payload":{"display_name":"Alpha","pointer_x":12,"pointer_y":34,"tool":"draw"}}`
	if err := mover.WriteMessage(websocket.TextMessage, []byte(update)); err != nil {
		t.Fatalf("send presence: %v", err)
	}

	message := readSocketMessage(t, observer)
	if message.Type != SocketEventPresence {
		t.Fatalf("expected presence event, got %q", message.Type)
	}
	var state struct {
		ClientID string  `json:"client_id"`
		PointerX float64 `json:"pointer_x"`
	}
	if err := json.Unmarshal(message.Payload, &state); err != nil {
		t.Fatalf("decode presence payload: %v", err)
	}
	if state.ClientID != "alpha" || state.PointerX != 12 {
		t.Fatalf("unexpected presence state %+v", state)
	}

	mover.Close()

	departure := readSocketMessage(t, observer)
	if departure.Type != SocketEventPresenceLeft {
		t.Fatalf("expected departure event, got %q", departure.Type)
	}
	if departure.SenderID != "alpha" {
		t.Fatalf("expected alpha departure, got %q", departure.SenderID)
	}
}

func TestSocketRequiresClientID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := newTestHandler(t)
	server := httptest.NewServer(handler)
	defer server.Close()

	socketURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/rooms/room-1/socket"
	_, response, err := websocket.DefaultDialer.Dial(socketURL, nil)
	if err == nil {
		t.Fatalf("expected dial failure without client id")
	}
	if response == nil || response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 handshake response, got %+v", response)
	}
}
