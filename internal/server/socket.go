package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hexgridlabs/tabula/internal/broadcast"
	"github.com/hexgridlabs/tabula/internal/presence"
	"github.com/hexgridlabs/tabula/internal/store"
)

// Socket message kinds. Stroke and clear events pass through the broadcast
// channel untouched; presence updates feed the tracker; document events
// originate from the persistent store's watch stream.
const (
	SocketEventStroke       = "stroke"
	SocketEventClear        = "clear"
	SocketEventPresence     = "presence"
	SocketEventPresenceLeft = "presence-left"
	SocketEventDocument     = "document"
)

const (
	socketWriteTimeout = 10 * time.Second
	socketPingInterval = 30 * time.Second
)

var socketUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// SocketMessage is the envelope both directions of the room socket use.
type SocketMessage struct {
	Type     string          `json:"type"`
	SenderID string          `json:"sender_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type presenceUpdatePayload struct {
	DisplayName *string  `json:"display_name,omitempty"`
	PointerX    *float64 `json:"pointer_x,omitempty"`
	PointerY    *float64 `json:"pointer_y,omitempty"`
	Tool        *string  `json:"tool,omitempty"`
}

func (h *httpHandler) handleSocket(c *gin.Context) {
	roomID, err := store.NewRoomID(c.Param("room"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room"})
		return
	}
	clientID := strings.TrimSpace(c.Query("client"))
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errMissingClientID.Error()})
		return
	}

	conn, err := socketUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("socket upgrade failed", zap.String("room_id", roomID.String()), zap.Error(err))
		return
	}

	session := &socketSession{
		handler:  h,
		conn:     conn,
		roomID:   roomID,
		clientID: clientID,
	}
	session.run(c.Request.Context())
}

type socketSession struct {
	handler  *httpHandler
	conn     *websocket.Conn
	roomID   store.RoomID
	clientID string
}

func (s *socketSession) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer s.conn.Close()

	events, cancelEvents := s.handler.broadcast.Subscribe(ctx, s.roomID.String(), s.clientID)
	defer cancelEvents()
	notices, cancelNotices := s.handler.presence.SubscribeOthers(ctx, s.roomID.String(), s.clientID)
	defer cancelNotices()
	changes, cancelChanges := s.handler.documents.Watch(ctx, s.roomID)
	defer cancelChanges()
	defer s.handler.presence.Leave(s.roomID.String(), s.clientID)

	go s.readPump(cancel)
	s.writePump(ctx, events, notices, changes)
}

// readPump consumes inbound messages until the connection drops. It never
// writes to the connection.
func (s *socketSession) readPump(cancel context.CancelFunc) {
	defer cancel()
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var message SocketMessage
		if err := json.Unmarshal(raw, &message); err != nil {
			s.handler.logger.Debug("ignoring malformed socket message",
				zap.String("room_id", s.roomID.String()),
				zap.String("client_id", s.clientID),
				zap.Error(err),
			)
			continue
		}
		s.dispatch(message)
	}
}

func (s *socketSession) dispatch(message SocketMessage) {
	switch message.Type {
	case SocketEventStroke, SocketEventClear:
		s.handler.broadcast.Publish(broadcast.Event{
			RoomID:   s.roomID.String(),
			SenderID: s.clientID,
			Kind:     message.Type,
			Payload:  message.Payload,
			SentAt:   time.Now(),
		})
	case SocketEventPresence:
		var update presenceUpdatePayload
		if err := json.Unmarshal(message.Payload, &update); err != nil {
			return
		}
		s.handler.presence.UpdateSelf(s.roomID.String(), s.clientID, presence.Update{
			DisplayName: update.DisplayName,
			PointerX:    update.PointerX,
			PointerY:    update.PointerY,
			Tool:        update.Tool,
		})
	default:
	}
}

// writePump owns all writes to the connection.
func (s *socketSession) writePump(ctx context.Context, events <-chan broadcast.Event, notices <-chan presence.Notice, changes <-chan store.ChangeEvent) {
	pings := time.NewTicker(socketPingInterval)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if !s.write(SocketMessage{Type: event.Kind, SenderID: event.SenderID, Payload: event.Payload}) {
				return
			}
		case notice, ok := <-notices:
			if !ok {
				return
			}
			if !s.writeNotice(notice) {
				return
			}
		case change, ok := <-changes:
			if !ok {
				return
			}
			payload, err := json.Marshal(encodeDocument(change.Document))
			if err != nil {
				continue
			}
			if !s.write(SocketMessage{Type: SocketEventDocument, SenderID: change.Document.LastWriter, Payload: payload}) {
				return
			}
		case <-pings.C:
			s.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *socketSession) writeNotice(notice presence.Notice) bool {
	if notice.State != nil {
		payload, err := json.Marshal(notice.State)
		if err != nil {
			return true
		}
		return s.write(SocketMessage{Type: SocketEventPresence, SenderID: notice.State.ClientID, Payload: payload})
	}
	if notice.Left != nil {
		payload, err := json.Marshal(notice.Left)
		if err != nil {
			return true
		}
		return s.write(SocketMessage{Type: SocketEventPresenceLeft, SenderID: notice.Left.ClientID, Payload: payload})
	}
	return true
}

func (s *socketSession) write(message SocketMessage) bool {
	s.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	if err := s.conn.WriteJSON(message); err != nil {
		s.handler.logger.Debug("socket write failed",
			zap.String("room_id", s.roomID.String()),
			zap.String("client_id", s.clientID),
			zap.Error(err),
		)
		return false
	}
	return true
}
