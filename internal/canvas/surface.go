package canvas

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hexgridlabs/tabula/internal/geometry"
)

// Pixel size of the square resize handle anchored at an image's far corner.
const resizeHandleSize = 16.0

// Keyboard nudge step in canvas units.
const nudgeStep = 5.0

// Key names understood by KeyDown.
const (
	KeyArrowUp    = "ArrowUp"
	KeyArrowDown  = "ArrowDown"
	KeyArrowLeft  = "ArrowLeft"
	KeyArrowRight = "ArrowRight"
)

// SurfaceConfig carries the dependencies of a Surface.
type SurfaceConfig struct {
	Store       ImageStore
	Broadcaster Broadcaster
	Uploader    Uploader
	IDProvider  IDProvider
	Viewport    geometry.Rect
	// Render receives the effective image list each frame; may be nil.
	Render func(images []CanvasImage)
	// OnUploadError surfaces upload failures to the user; may be nil.
	OnUploadError func(err error)
	Clock          func() time.Time
	CommitInterval time.Duration
	Logger         *zap.Logger
}

// Surface is the composition root of the collaborative canvas: it owns the
// tool mode and brush settings, wires pointer/keyboard/drop input to the
// gesture controller, stroke replicator and upload pipeline, and renders
// overlay-aware effective state through the frame scheduler.
type Surface struct {
	logger *zap.Logger

	scheduler  *FrameScheduler
	overlay    *OverlayStore
	throttle   *CommitThrottle
	gestures   *GestureController
	strokes    *StrokeReplicator
	painter    *Painter
	uploads    *UploadPipeline
	store      ImageStore
	render     func(images []CanvasImage)

	mu       sync.Mutex
	viewport geometry.Rect
	mode     ToolMode
	color    string
	brush    float64
	selected ImageID
	images   map[ImageID]CanvasImage
}

// NewSurface composes the canvas engine. The zero viewport is rejected.
func NewSurface(cfg SurfaceConfig) (*Surface, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Broadcaster == nil {
		return nil, errMissingBroadcaster
	}
	if cfg.Uploader == nil {
		return nil, errMissingUploader
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	if cfg.Viewport.Width <= 0 || cfg.Viewport.Height <= 0 {
		return nil, errMissingViewport
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	commitInterval := cfg.CommitInterval
	if commitInterval <= 0 {
		commitInterval = DefaultImageCommitInterval
	}

	surface := &Surface{
		logger:   logger,
		store:    cfg.Store,
		render:   cfg.Render,
		viewport: cfg.Viewport,
		mode:     ToolPlaceImage,
		color:    "#000000",
		brush:    3,
		images:   make(map[ImageID]CanvasImage),
	}

	surface.scheduler = NewFrameScheduler(surface.renderFrame)
	surface.overlay = NewOverlayStore(surface.scheduler.Schedule)
	surface.throttle = NewCommitThrottle(commitInterval, cfg.Clock)
	surface.painter = NewPainter(int(cfg.Viewport.Width), int(cfg.Viewport.Height))

	gestures, err := NewGestureController(GestureControllerConfig{
		Overlay:  surface.overlay,
		Throttle: surface.throttle,
		Store:    cfg.Store,
		Viewport: surface.Viewport,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	surface.gestures = gestures

	strokes, err := NewStrokeReplicator(StrokeReplicatorConfig{
		Painter:     surface.painter,
		Broadcaster: cfg.Broadcaster,
		Schedule:    surface.scheduler.Schedule,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	surface.strokes = strokes

	uploads, err := NewUploadPipeline(UploadPipelineConfig{
		Uploader:   cfg.Uploader,
		Store:      cfg.Store,
		IDProvider: cfg.IDProvider,
		Viewport:   surface.Viewport,
		Schedule:   surface.scheduler.Schedule,
		Clock:      cfg.Clock,
		OnError:    cfg.OnUploadError,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	surface.uploads = uploads

	return surface, nil
}

// Scheduler exposes the frame scheduler so callers can drive ticks.
func (s *Surface) Scheduler() *FrameScheduler {
	return s.scheduler
}

// Strokes exposes the stroke replicator.
func (s *Surface) Strokes() *StrokeReplicator {
	return s.strokes
}

// Uploads exposes the upload pipeline.
func (s *Surface) Uploads() *UploadPipeline {
	return s.uploads
}

// Viewport returns the current viewport rectangle.
func (s *Surface) Viewport() geometry.Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

// SetTool switches the active tool mode. Switching away from draw/erase
// ends any in-progress stroke.
func (s *Surface) SetTool(mode ToolMode) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	s.strokes.End()
}

// Tool returns the active tool mode.
func (s *Surface) Tool() ToolMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetBrush sets the stroke color (hex) and width.
func (s *Surface) SetBrush(color string, width float64) {
	s.mu.Lock()
	s.color = color
	s.brush = width
	s.mu.Unlock()
}

// Selected returns the currently selected image id, if any.
func (s *Surface) Selected() (ImageID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.selected != ""
}

// PointerDown routes a press to the active tool: a gesture start over an
// image in place mode, or the start of a stroke in draw/erase mode.
func (s *Surface) PointerDown(ctx context.Context, event PointerEvent) {
	switch s.Tool() {
	case ToolDraw, ToolErase:
		s.strokes.Begin(event)
	default:
		image, onHandle, ok := s.hitTest(event)
		if !ok {
			s.setSelected("")
			return
		}
		s.mu.Lock()
		_, persisted := s.images[image.ID]
		s.mu.Unlock()
		if !persisted {
			// Pending placeholders render but their controls are disabled.
			return
		}
		s.setSelected(image.ID)
		s.gestures.PointerDown(image, event, onHandle)
	}
}

// PointerMove routes movement to the active gesture or stroke.
func (s *Surface) PointerMove(ctx context.Context, event PointerEvent) {
	switch s.Tool() {
	case ToolDraw:
		color, width := s.brushSettings()
		s.strokes.Extend(event, color, width, StrokeDraw)
	case ToolErase:
		color, width := s.brushSettings()
		s.strokes.Extend(event, color, width, StrokeErase)
	default:
		s.gestures.PointerMove(ctx, event)
	}
}

// PointerUp ends the active gesture or stroke.
func (s *Surface) PointerUp(ctx context.Context, event PointerEvent) {
	s.strokes.End()
	s.gestures.PointerUp(ctx, event)
}

// PointerLeave is handled identically to PointerUp.
func (s *Surface) PointerLeave(ctx context.Context, event PointerEvent) {
	s.strokes.End()
	s.gestures.PointerLeave(ctx, event)
}

// KeyDown nudges the selected image by one step per arrow key press.
func (s *Surface) KeyDown(ctx context.Context, key string) {
	selectedID, ok := s.Selected()
	if !ok {
		return
	}
	s.mu.Lock()
	image, exists := s.images[selectedID]
	s.mu.Unlock()
	if !exists {
		return
	}

	var deltaX, deltaY float64
	switch key {
	case KeyArrowUp:
		deltaY = -nudgeStep
	case KeyArrowDown:
		deltaY = nudgeStep
	case KeyArrowLeft:
		deltaX = -nudgeStep
	case KeyArrowRight:
		deltaX = nudgeStep
	default:
		return
	}
	s.gestures.Nudge(ctx, s.overlay.Effective(image), deltaX, deltaY)
}

// DropFile feeds a dropped file into the upload pipeline.
func (s *Surface) DropFile(ctx context.Context, drop FileDrop) (ImageID, error) {
	return s.uploads.Drop(ctx, drop)
}

// ApplyRemoteImage records a persisted image received from the document
// store subscription. Local overlays keep visual precedence until the
// gesture ends.
func (s *Surface) ApplyRemoteImage(image CanvasImage) {
	s.mu.Lock()
	s.images[image.ID] = image
	s.mu.Unlock()
	s.scheduler.Schedule()
}

// ApplyRemoteImageDelete removes a persisted image deleted elsewhere.
func (s *Surface) ApplyRemoteImageDelete(id ImageID) {
	s.mu.Lock()
	delete(s.images, id)
	if s.selected == id {
		s.selected = ""
	}
	s.mu.Unlock()
	s.overlay.Delete(id)
	s.scheduler.Schedule()
}

// HandleBroadcast applies an event received over the ephemeral channel.
func (s *Surface) HandleBroadcast(event BroadcastEvent) {
	switch event.Kind {
	case EventKindStroke:
		if event.Segment != nil {
			s.strokes.ApplyRemote(*event.Segment)
		}
	case EventKindClear:
		s.strokes.ApplyRemoteClear()
	}
}

// DeleteImage removes a persisted image for every participant. There is no
// ownership restriction.
func (s *Surface) DeleteImage(ctx context.Context, id ImageID) error {
	if err := s.store.DeleteImage(ctx, id); err != nil {
		return err
	}
	s.ApplyRemoteImageDelete(id)
	return nil
}

// ClearCanvas removes every persisted image, clears the stroke layer, and
// broadcasts the clear so connected peers follow in lockstep.
func (s *Surface) ClearCanvas(ctx context.Context) {
	s.mu.Lock()
	ids := make([]ImageID, 0, len(s.images))
	for id := range s.images {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.store.DeleteImage(ctx, id); err != nil {
			s.logger.Warn("clearing image failed", zap.String("image_id", id.String()), zap.Error(err))
			continue
		}
		s.ApplyRemoteImageDelete(id)
	}
	s.strokes.Clear()
}

// HandleViewportResize re-clamps every known image into the new viewport,
// committing any that moved, and rebuilds the stroke bitmap by replay.
// Out-of-bounds geometry is self-healing, never an error.
func (s *Surface) HandleViewportResize(ctx context.Context, viewport geometry.Rect) {
	s.mu.Lock()
	s.viewport = viewport
	known := make([]CanvasImage, 0, len(s.images))
	for _, image := range s.images {
		known = append(known, image)
	}
	s.mu.Unlock()

	for _, image := range known {
		effective := s.overlay.Effective(image)
		corrected := effective.WithBox(geometry.Clamp(effective.Box(), viewport))
		if corrected == effective {
			continue
		}
		if err := s.store.PutImage(ctx, corrected); err != nil {
			s.logger.Warn("resize correction commit failed",
				zap.String("image_id", image.ID.String()),
				zap.Error(err))
			continue
		}
		s.ApplyRemoteImage(corrected)
	}

	s.strokes.Resize(int(viewport.Width), int(viewport.Height))
	s.scheduler.Schedule()
}

// Images returns the effective render list: persisted images with local
// overlays applied, plus pending placeholders, ordered by creation time.
func (s *Surface) Images() []CanvasImage {
	s.mu.Lock()
	images := make([]CanvasImage, 0, len(s.images))
	for _, image := range s.images {
		images = append(images, s.overlay.Effective(image))
	}
	s.mu.Unlock()

	for _, pendingImage := range s.uploads.Pending() {
		images = append(images, pendingImage.CanvasImage)
	}

	sort.Slice(images, func(i, j int) bool {
		if images[i].CreatedAtSeconds != images[j].CreatedAtSeconds {
			return images[i].CreatedAtSeconds < images[j].CreatedAtSeconds
		}
		return images[i].ID < images[j].ID
	})
	return images
}

func (s *Surface) renderFrame() {
	if s.render != nil {
		s.render(s.Images())
	}
}

func (s *Surface) brushSettings() (string, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.color, s.brush
}

func (s *Surface) setSelected(id ImageID) {
	s.mu.Lock()
	s.selected = id
	s.mu.Unlock()
}

// hitTest finds the topmost image under the pointer and whether the hit is
// on its resize handle. Later creations are treated as higher in the stack.
func (s *Surface) hitTest(event PointerEvent) (CanvasImage, bool, bool) {
	stacked := s.Images()
	for i := len(stacked) - 1; i >= 0; i-- {
		candidate := stacked[i]
		box := candidate.Box()
		if event.X < box.X || event.X > box.X+box.Width ||
			event.Y < box.Y || event.Y > box.Y+box.Height {
			continue
		}
		onHandle := event.X >= box.X+box.Width-resizeHandleSize &&
			event.Y >= box.Y+box.Height-resizeHandleSize
		return candidate, onHandle, true
	}
	return CanvasImage{}, false, false
}
