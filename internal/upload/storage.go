// Package upload stores image blobs on disk and serves the metadata the
// canvas needs to place them: a permanent URL and pixel dimensions.
package upload

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// DefaultMaxBytes bounds accepted blob size.
const DefaultMaxBytes = 10 << 20

var (
	// ErrUnsupportedType indicates a content type outside the allow-list.
	ErrUnsupportedType = errors.New("upload: unsupported content type")
	// ErrTooLarge indicates a blob above the size limit.
	ErrTooLarge = errors.New("upload: blob too large")
	// ErrUndecodable indicates bytes that no registered image codec accepts.
	ErrUndecodable = errors.New("upload: undecodable image data")

	errMissingDirectory  = errors.New("directory is required")
	errMissingBaseURL    = errors.New("base url is required")
	errMissingIDProvider = errors.New("id provider is required")
)

var extensionsByType = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// StoredImage describes a persisted blob.
type StoredImage struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// IDProvider issues names for stored blobs.
type IDProvider interface {
	NewID() (string, error)
}

// DiskStorageConfig carries the dependencies of a DiskStorage.
type DiskStorageConfig struct {
	Directory  string
	BaseURL    string
	IDProvider IDProvider
	MaxBytes   int
	Logger     *zap.Logger
}

// DiskStorage writes blobs under a directory and addresses them beneath a
// base URL. Blob names come from the id provider so uploads never collide.
type DiskStorage struct {
	directory  string
	baseURL    string
	idProvider IDProvider
	maxBytes   int
	logger     *zap.Logger
}

// NewDiskStorage validates the configuration and creates the directory.
func NewDiskStorage(cfg DiskStorageConfig) (*DiskStorage, error) {
	if cfg.Directory == "" {
		return nil, errMissingDirectory
	}
	if cfg.BaseURL == "" {
		return nil, errMissingBaseURL
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiskStorage{
		directory:  cfg.Directory,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		idProvider: cfg.IDProvider,
		maxBytes:   maxBytes,
		logger:     logger,
	}, nil
}

// Store validates, decodes, and persists one blob.
func (s *DiskStorage) Store(contentType string, content []byte) (StoredImage, error) {
	extension, ok := extensionsByType[contentType]
	if !ok {
		return StoredImage{}, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	if len(content) > s.maxBytes {
		return StoredImage{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(content))
	}

	config, _, err := image.DecodeConfig(bytes.NewReader(content))
	if err != nil {
		return StoredImage{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	rawID, err := s.idProvider.NewID()
	if err != nil {
		return StoredImage{}, fmt.Errorf("allocate blob id: %w", err)
	}
	name := rawID + extension

	path := filepath.Join(s.directory, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return StoredImage{}, fmt.Errorf("write blob: %w", err)
	}

	s.logger.Debug("blob stored",
		zap.String("name", name),
		zap.Int("bytes", len(content)),
		zap.Int("width", config.Width),
		zap.Int("height", config.Height),
	)

	return StoredImage{
		URL:    s.baseURL + "/" + name,
		Width:  config.Width,
		Height: config.Height,
	}, nil
}

// Directory exposes the blob directory for static file serving.
func (s *DiskStorage) Directory() string {
	return s.directory
}
