package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError wraps a store failure with a dotted operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "store.service.new"
	opApplyWrite = "store.apply_write"
	opGet        = "store.get"
	opList       = "store.list"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// DocumentRecord is the GORM binding for a stored document.
type DocumentRecord struct {
	RoomID            string `gorm:"column:room_id;primaryKey;size:190;not null;index:idx_documents_room_updated,priority:1"`
	DocKey            string `gorm:"column:doc_key;primaryKey;size:190;not null"`
	PayloadJSON       string `gorm:"column:payload_json;type:text;not null"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds  int64  `gorm:"column:updated_at_s;not null;index:idx_documents_room_updated,priority:2"`
	Version           int64  `gorm:"column:version;not null;default:1"`
	LastWriter        string `gorm:"column:last_writer;size:190;not null;default:''"`
	LastWriterEditSeq int64  `gorm:"column:last_writer_edit_seq;not null;default:0"`
	IsDeleted         bool   `gorm:"column:is_deleted;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (DocumentRecord) TableName() string {
	return "room_documents"
}

// DocumentChange captures an append-only audit trail for document writes.
type DocumentChange struct {
	ChangeID          int64  `gorm:"column:change_id;primaryKey;autoIncrement"`
	RoomID            string `gorm:"column:room_id;not null;index:idx_doc_changes_room_time,priority:1"`
	DocKey            string `gorm:"column:doc_key;not null"`
	AppliedAtSeconds  int64  `gorm:"column:applied_at_s;not null;index:idx_doc_changes_room_time,priority:2"`
	ClientID          string `gorm:"column:client_id;size:190;not null"`
	ClientTimeSeconds int64  `gorm:"column:client_time_s;not null"`
	ClientEditSeq     int64  `gorm:"column:client_edit_seq;not null;default:0"`
	IsDelete          bool   `gorm:"column:is_delete;not null;default:false"`
	PayloadJSON       string `gorm:"column:payload_json;type:text;not null"`
	NewVersion        int64  `gorm:"column:new_version;not null"`
}

// TableName provides the explicit table binding for GORM.
func (DocumentChange) TableName() string {
	return "room_document_changes"
}

// ServiceConfig carries the dependencies of a Service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service is the SQLite-backed shared document store: the system of record
// for persisted canvas content, replicated to clients through Watch.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	logger     *zap.Logger
	dispatcher *changeDispatcher
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		logger:     logger,
		dispatcher: newChangeDispatcher(),
	}, nil
}

// Apply resolves and stores one write inside a transaction, records the
// audit row, and notifies the room's watchers when the write is accepted.
func (s *Service) Apply(ctx context.Context, request WriteRequest) (WriteOutcome, error) {
	if err := request.Validate(); err != nil {
		return WriteOutcome{}, newServiceError(opApplyWrite, "invalid_request", err)
	}

	var outcome WriteOutcome
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record DocumentRecord
		var existing *Document
		err := tx.Where("room_id = ? AND doc_key = ?", request.RoomID.String(), request.Key.String()).
			Take(&record).Error
		switch {
		case err == nil:
			document := recordToDocument(record)
			existing = &document
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}

		appliedAt := s.clock()
		outcome = resolveWrite(existing, request, appliedAt)
		if !outcome.Accepted {
			return nil
		}

		stored := documentToRecord(request.RoomID, outcome.Stored)
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "doc_key"}},
			UpdateAll: true,
		}).Create(&stored).Error; err != nil {
			return err
		}

		audit := DocumentChange{
			RoomID:            request.RoomID.String(),
			DocKey:            request.Key.String(),
			AppliedAtSeconds:  appliedAt.Unix(),
			ClientID:          request.ClientID,
			ClientTimeSeconds: request.ClientTimeSeconds,
			ClientEditSeq:     request.ClientEditSeq,
			IsDelete:          request.Delete,
			PayloadJSON:       outcome.Stored.PayloadJSON,
			NewVersion:        outcome.Stored.Version,
		}
		return tx.Create(&audit).Error
	})
	if txErr != nil {
		s.logger.Error("document write failed",
			zap.String("room_id", request.RoomID.String()),
			zap.String("doc_key", request.Key.String()),
			zap.Error(txErr))
		return WriteOutcome{}, newServiceError(opApplyWrite, "transaction_failed", txErr)
	}

	if outcome.Accepted {
		s.dispatcher.Publish(ChangeEvent{RoomID: request.RoomID, Document: outcome.Stored})
	}
	return outcome, nil
}

// Get returns the live document for a key. Deleted documents read as absent.
func (s *Service) Get(ctx context.Context, roomID RoomID, key DocumentKey) (Document, bool, error) {
	var record DocumentRecord
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND doc_key = ?", roomID.String(), key.String()).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, newServiceError(opGet, "query_failed", err)
	}
	if record.IsDeleted {
		return Document{}, false, nil
	}
	return recordToDocument(record), true, nil
}

// List returns the live documents in a room whose keys start with prefix,
// oldest first.
func (s *Service) List(ctx context.Context, roomID RoomID, prefix string) ([]Document, error) {
	query := s.db.WithContext(ctx).
		Where("room_id = ? AND is_deleted = ?", roomID.String(), false).
		Order("created_at_s ASC, doc_key ASC")
	if prefix != "" {
		query = query.Where("doc_key LIKE ?", prefix+"%")
	}

	var records []DocumentRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, newServiceError(opList, "query_failed", err)
	}

	documents := make([]Document, 0, len(records))
	for _, record := range records {
		documents = append(documents, recordToDocument(record))
	}
	return documents, nil
}

// Watch subscribes to change events for a room.
func (s *Service) Watch(ctx context.Context, roomID RoomID) (<-chan ChangeEvent, func()) {
	return s.dispatcher.Subscribe(ctx, roomID)
}

func recordToDocument(record DocumentRecord) Document {
	return Document{
		Key:               DocumentKey(record.DocKey),
		PayloadJSON:       record.PayloadJSON,
		Version:           record.Version,
		CreatedAtSeconds:  record.CreatedAtSeconds,
		UpdatedAtSeconds:  record.UpdatedAtSeconds,
		LastWriter:        record.LastWriter,
		LastWriterEditSeq: record.LastWriterEditSeq,
		IsDeleted:         record.IsDeleted,
	}
}

func documentToRecord(roomID RoomID, document Document) DocumentRecord {
	return DocumentRecord{
		RoomID:            roomID.String(),
		DocKey:            document.Key.String(),
		PayloadJSON:       document.PayloadJSON,
		CreatedAtSeconds:  document.CreatedAtSeconds,
		UpdatedAtSeconds:  document.UpdatedAtSeconds,
		Version:           document.Version,
		LastWriter:        document.LastWriter,
		LastWriterEditSeq: document.LastWriterEditSeq,
		IsDeleted:         document.IsDeleted,
	}
}
