package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hexgridlabs/tabula/internal/broadcast"
	"github.com/hexgridlabs/tabula/internal/presence"
	"github.com/hexgridlabs/tabula/internal/store"
	"github.com/hexgridlabs/tabula/internal/upload"
)

var (
	errMissingStore      = errors.New("document store dependency required")
	errMissingBroadcast  = errors.New("broadcast dispatcher dependency required")
	errMissingPresence   = errors.New("presence tracker dependency required")
	errMissingUploads    = errors.New("upload storage dependency required")
	errMissingClientID   = errors.New("client query parameter required")
	errMissingUploadFile = errors.New("multipart file field required")
)

// Dependencies carries everything the HTTP surface needs.
type Dependencies struct {
	Store     store.Store
	Broadcast *broadcast.Dispatcher
	Presence  *presence.Tracker
	Uploads   *upload.DiskStorage
	Logger    *zap.Logger
}

// NewHTTPHandler assembles the router: room document sync and reads, image
// uploads, static blob serving, and the realtime socket.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Broadcast == nil {
		return nil, errMissingBroadcast
	}
	if deps.Presence == nil {
		return nil, errMissingPresence
	}
	if deps.Uploads == nil {
		return nil, errMissingUploads
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		documents: deps.Store,
		broadcast: deps.Broadcast,
		presence:  deps.Presence,
		uploads:   deps.Uploads,
		logger:    logger,
	}

	router.GET("/rooms/:room/documents", handler.handleListDocuments)
	router.GET("/rooms/:room/documents/*key", handler.handleGetDocument)
	router.POST("/rooms/:room/sync", handler.handleSync)
	router.POST("/rooms/:room/uploads", handler.handleUpload)
	router.GET("/rooms/:room/socket", handler.handleSocket)
	router.Static("/blobs", deps.Uploads.Directory())

	return router, nil
}

type httpHandler struct {
	documents store.Store
	broadcast *broadcast.Dispatcher
	presence  *presence.Tracker
	uploads   *upload.DiskStorage
	logger    *zap.Logger
}

type documentPayload struct {
	Key               string `json:"key"`
	Payload           string `json:"payload,omitempty"`
	Version           int64  `json:"version"`
	CreatedAtSeconds  int64  `json:"created_at_s"`
	UpdatedAtSeconds  int64  `json:"updated_at_s"`
	LastWriter        string `json:"last_writer"`
	LastWriterEditSeq int64  `json:"last_writer_edit_seq"`
	IsDeleted         bool   `json:"is_deleted"`
}

func encodeDocument(document store.Document) documentPayload {
	return documentPayload{
		Key:               document.Key.String(),
		Payload:           document.PayloadJSON,
		Version:           document.Version,
		CreatedAtSeconds:  document.CreatedAtSeconds,
		UpdatedAtSeconds:  document.UpdatedAtSeconds,
		LastWriter:        document.LastWriter,
		LastWriterEditSeq: document.LastWriterEditSeq,
		IsDeleted:         document.IsDeleted,
	}
}

func (h *httpHandler) handleListDocuments(c *gin.Context) {
	roomID, err := store.NewRoomID(c.Param("room"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room"})
		return
	}

	documents, err := h.documents.List(c.Request.Context(), roomID, c.Query("prefix"))
	if err != nil {
		h.logger.Error("failed to list room documents", zap.String("room_id", roomID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	response := make([]documentPayload, 0, len(documents))
	for _, document := range documents {
		response = append(response, encodeDocument(document))
	}
	c.JSON(http.StatusOK, gin.H{"documents": response})
}

func (h *httpHandler) handleGetDocument(c *gin.Context) {
	roomID, err := store.NewRoomID(c.Param("room"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room"})
		return
	}
	key, err := store.NewDocumentKey(strings.TrimPrefix(c.Param("key"), "/"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_key"})
		return
	}

	document, found, err := h.documents.Get(c.Request.Context(), roomID, key)
	if err != nil {
		h.logger.Error("failed to read room document",
			zap.String("room_id", roomID.String()),
			zap.String("doc_key", key.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read_failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, encodeDocument(document))
}

type syncRequestPayload struct {
	ClientID   string                 `json:"client_id"`
	Operations []syncOperationPayload `json:"operations"`
}

type syncOperationPayload struct {
	Key               string `json:"key"`
	Operation         string `json:"operation"`
	ClientEditSeq     int64  `json:"client_edit_seq"`
	ClientTimeSeconds int64  `json:"client_time_s"`
	Payload           string `json:"payload,omitempty"`
}

type syncResponsePayload struct {
	Results []syncResultPayload `json:"results"`
}

type syncResultPayload struct {
	Key      string          `json:"key"`
	Accepted bool            `json:"accepted"`
	Stored   documentPayload `json:"stored"`
}

func (h *httpHandler) handleSync(c *gin.Context) {
	roomID, err := store.NewRoomID(c.Param("room"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room"})
		return
	}

	var request syncRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Operations) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if strings.TrimSpace(request.ClientID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_client"})
		return
	}

	response := syncResponsePayload{Results: make([]syncResultPayload, 0, len(request.Operations))}
	for _, operation := range request.Operations {
		isDelete, parseErr := parseOperation(operation.Operation)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_operation"})
			return
		}
		key, keyErr := store.NewDocumentKey(operation.Key)
		if keyErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_key"})
			return
		}

		outcome, applyErr := h.documents.Apply(c.Request.Context(), store.WriteRequest{
			RoomID:            roomID,
			Key:               key,
			PayloadJSON:       operation.Payload,
			ClientID:          request.ClientID,
			ClientEditSeq:     operation.ClientEditSeq,
			ClientTimeSeconds: operation.ClientTimeSeconds,
			Delete:            isDelete,
		})
		if applyErr != nil {
			h.logger.Error("failed to apply document write",
				zap.String("room_id", roomID.String()),
				zap.String("doc_key", key.String()),
				zap.Error(applyErr),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
			return
		}
		response.Results = append(response.Results, syncResultPayload{
			Key:      key.String(),
			Accepted: outcome.Accepted,
			Stored:   encodeDocument(outcome.Stored),
		})
	}

	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errMissingUploadFile.Error()})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_file"})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_file"})
		return
	}

	stored, err := h.uploads.Store(fileHeader.Header.Get("Content-Type"), content)
	switch {
	case errors.Is(err, upload.ErrUnsupportedType):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported_type"})
		return
	case errors.Is(err, upload.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too_large"})
		return
	case errors.Is(err, upload.ErrUndecodable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "undecodable"})
		return
	case err != nil:
		h.logger.Error("failed to store upload", zap.String("filename", fileHeader.Filename), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
		return
	}

	c.JSON(http.StatusCreated, stored)
}

func parseOperation(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "upsert":
		return false, nil
	case "delete":
		return true, nil
	default:
		return false, errors.New("unknown operation")
	}
}
