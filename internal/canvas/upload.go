package canvas

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"go.uber.org/zap"

	"github.com/hexgridlabs/tabula/internal/geometry"
)

// DefaultMaxUploadBytes bounds accepted file size.
const DefaultMaxUploadBytes = 10 << 20

// Fallback placeholder edge when the dropped bytes cannot be decoded
// locally; the upload response supplies the real dimensions.
const placeholderEdge = 200.0

var (
	// ErrUnsupportedFileType indicates a dropped file outside the MIME allow-list.
	ErrUnsupportedFileType = errors.New("canvas: unsupported file type")
	// ErrFileTooLarge indicates a dropped file above the size limit.
	ErrFileTooLarge = errors.New("canvas: file too large")

	errMissingUploader   = errors.New("uploader is required")
	errMissingIDProvider = errors.New("id provider is required")
)

var defaultAllowedTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}

// UploadResult is the upload endpoint's response: a permanent URL plus the
// stored image's pixel dimensions.
type UploadResult struct {
	URL    string
	Width  int
	Height int
}

// Uploader turns a local blob into a permanently addressable image.
type Uploader interface {
	Upload(ctx context.Context, filename, contentType string, content []byte) (UploadResult, error)
}

// IDProvider issues identifiers for new images.
type IDProvider interface {
	NewID() (string, error)
}

// FileDrop describes a file dropped onto the canvas at a pointer position.
type FileDrop struct {
	Filename    string
	ContentType string
	Content     []byte
	X           float64
	Y           float64
}

// UploadPipelineConfig carries the dependencies of an UploadPipeline.
type UploadPipelineConfig struct {
	Uploader     Uploader
	Store        ImageStore
	IDProvider   IDProvider
	Viewport     func() geometry.Rect
	Schedule     func()
	Clock        func() time.Time
	MaxBytes     int
	AllowedTypes []string
	// OnError surfaces a user-facing failure; may be nil.
	OnError func(err error)
	Logger  *zap.Logger
}

// UploadPipeline turns a dropped file into an immediately visible local
// placeholder, performs the asynchronous upload, and atomically replaces
// the placeholder with a persisted record, or removes it on failure. Each
// drop is independent: its own id, its own lifecycle.
type UploadPipeline struct {
	uploader   Uploader
	store      ImageStore
	idProvider IDProvider
	viewport   func() geometry.Rect
	schedule   func()
	clock      func() time.Time
	maxBytes   int
	allowed    map[string]struct{}
	onError    func(err error)
	logger     *zap.Logger

	mu      sync.Mutex
	pending map[ImageID]PendingImage
	done    sync.WaitGroup
}

// NewUploadPipeline validates the configuration and returns a pipeline.
func NewUploadPipeline(cfg UploadPipelineConfig) (*UploadPipeline, error) {
	if cfg.Uploader == nil {
		return nil, errMissingUploader
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	if cfg.Viewport == nil {
		return nil, errMissingViewport
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	allowedTypes := cfg.AllowedTypes
	if len(allowedTypes) == 0 {
		allowedTypes = defaultAllowedTypes
	}
	allowed := make(map[string]struct{}, len(allowedTypes))
	for _, contentType := range allowedTypes {
		allowed[contentType] = struct{}{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &UploadPipeline{
		uploader:   cfg.Uploader,
		store:      cfg.Store,
		idProvider: cfg.IDProvider,
		viewport:   cfg.Viewport,
		schedule:   cfg.Schedule,
		clock:      clock,
		maxBytes:   maxBytes,
		allowed:    allowed,
		onError:    cfg.OnError,
		logger:     logger,
		pending:    make(map[ImageID]PendingImage),
	}, nil
}

// Drop validates the file and, if accepted, inserts a clamped placeholder
// centered on the drop point and starts the upload. Validation failures
// reject before any side effect.
func (p *UploadPipeline) Drop(ctx context.Context, drop FileDrop) (ImageID, error) {
	if _, ok := p.allowed[drop.ContentType]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFileType, drop.ContentType)
	}
	if len(drop.Content) > p.maxBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrFileTooLarge, len(drop.Content))
	}

	rawID, err := p.idProvider.NewID()
	if err != nil {
		return "", err
	}
	imageID, err := NewImageID(rawID)
	if err != nil {
		return "", err
	}

	naturalWidth, naturalHeight := probeDimensions(drop.Content)
	box := geometry.Clamp(geometry.Box{
		X:      drop.X - naturalWidth/2,
		Y:      drop.Y - naturalHeight/2,
		Width:  naturalWidth,
		Height: naturalHeight,
	}, p.viewport())

	placeholder := PendingImage{
		CanvasImage: CanvasImage{
			ID:               imageID,
			X:                box.X,
			Y:                box.Y,
			Scale:            1,
			NaturalWidth:     naturalWidth,
			NaturalHeight:    naturalHeight,
			CreatedAtSeconds: p.clock().Unix(),
		},
		PreviewURL: "blob:" + imageID.String(),
	}

	p.mu.Lock()
	p.pending[imageID] = placeholder
	p.mu.Unlock()
	p.requestRender()

	p.done.Add(1)
	go p.upload(ctx, placeholder, drop)

	return imageID, nil
}

// Pending returns a snapshot of the placeholders awaiting upload.
func (p *UploadPipeline) Pending() []PendingImage {
	p.mu.Lock()
	defer p.mu.Unlock()
	images := make([]PendingImage, 0, len(p.pending))
	for _, pendingImage := range p.pending {
		images = append(images, pendingImage)
	}
	return images
}

// Wait blocks until all in-flight uploads have completed. Test hook.
func (p *UploadPipeline) Wait() {
	p.done.Wait()
}

func (p *UploadPipeline) upload(ctx context.Context, placeholder PendingImage, drop FileDrop) {
	defer p.done.Done()

	result, err := p.uploader.Upload(ctx, drop.Filename, drop.ContentType, drop.Content)
	if err != nil {
		p.removePending(placeholder.ID)
		p.logger.Warn("upload failed",
			zap.String("image_id", placeholder.ID.String()),
			zap.String("filename", drop.Filename),
			zap.Error(err))
		if p.onError != nil {
			p.onError(err)
		}
		p.requestRender()
		return
	}

	final := placeholder.CanvasImage
	final.URL = result.URL
	final.NaturalWidth = float64(result.Width)
	final.NaturalHeight = float64(result.Height)
	final = final.WithBox(geometry.Clamp(geometry.Box{
		X:      final.X,
		Y:      final.Y,
		Width:  final.NaturalWidth,
		Height: final.NaturalHeight,
	}, p.viewport()))

	if err := p.store.PutImage(ctx, final); err != nil {
		p.removePending(placeholder.ID)
		p.logger.Warn("persisting uploaded image failed",
			zap.String("image_id", placeholder.ID.String()),
			zap.Error(err))
		if p.onError != nil {
			p.onError(err)
		}
		p.requestRender()
		return
	}

	p.removePending(placeholder.ID)
	p.requestRender()
}

func (p *UploadPipeline) removePending(id ImageID) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *UploadPipeline) requestRender() {
	if p.schedule != nil {
		p.schedule()
	}
}

// probeDimensions decodes the image header for placeholder sizing. The
// upload response is authoritative; this only makes the placeholder match
// the real image in the common case.
func probeDimensions(content []byte) (float64, float64) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(content))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return placeholderEdge, placeholderEdge
	}
	return float64(cfg.Width), float64(cfg.Height)
}
