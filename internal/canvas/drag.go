package canvas

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hexgridlabs/tabula/internal/geometry"
)

// GestureKind identifies which transform a gesture manipulates.
type GestureKind int

const (
	// GestureNone means no gesture is active.
	GestureNone GestureKind = iota
	// GestureMove repositions an image.
	GestureMove
	// GestureResize rescales an image from its far corner handle.
	GestureResize
)

var (
	errMissingOverlay  = errors.New("overlay store is required")
	errMissingThrottle = errors.New("commit throttle is required")
	errMissingStore    = errors.New("image store is required")
	errMissingViewport = errors.New("viewport accessor is required")
)

// GestureControllerConfig carries the dependencies of a GestureController.
type GestureControllerConfig struct {
	Overlay  *OverlayStore
	Throttle *CommitThrottle
	Store    ImageStore
	Viewport func() geometry.Rect
	Logger   *zap.Logger
}

// GestureController is the per-pointer drag/resize state machine:
// idle -> dragging(move|resize) -> idle. During a gesture every pointer-move
// clamps the candidate transform, writes it into the overlay store for
// immediate local feedback, and attempts a throttled commit to the shared
// store so other participants see near-real-time progress. Gesture end
// flushes the final transform unconditionally and clears the overlay.
type GestureController struct {
	overlay  *OverlayStore
	throttle *CommitThrottle
	store    ImageStore
	viewport func() geometry.Rect
	logger   *zap.Logger

	kind    GestureKind
	base    CanvasImage
	anchorX float64
	anchorY float64
}

// NewGestureController validates the configuration and returns a controller
// in the idle state.
func NewGestureController(cfg GestureControllerConfig) (*GestureController, error) {
	if cfg.Overlay == nil {
		return nil, errMissingOverlay
	}
	if cfg.Throttle == nil {
		return nil, errMissingThrottle
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Viewport == nil {
		return nil, errMissingViewport
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GestureController{
		overlay:  cfg.Overlay,
		throttle: cfg.Throttle,
		store:    cfg.Store,
		viewport: cfg.Viewport,
		logger:   logger,
		kind:     GestureNone,
	}, nil
}

// Active reports whether a gesture is in progress.
func (c *GestureController) Active() bool {
	return c.kind != GestureNone
}

// ActiveImage returns the id of the image under gesture, if any.
func (c *GestureController) ActiveImage() (ImageID, bool) {
	if c.kind == GestureNone {
		return "", false
	}
	return c.base.ID, true
}

// PointerDown starts a gesture over an image. The anchor offset (pointer
// minus image origin for a move, minus the far corner for a resize) keeps
// the image from snapping to the pointer. A pointer-down while another
// gesture is active is ignored.
func (c *GestureController) PointerDown(image CanvasImage, event PointerEvent, onResizeHandle bool) bool {
	if c.kind != GestureNone {
		return false
	}

	box := image.Box()
	c.base = image
	if onResizeHandle {
		c.kind = GestureResize
		c.anchorX = event.X - (box.X + box.Width)
		c.anchorY = event.Y - (box.Y + box.Height)
	} else {
		c.kind = GestureMove
		c.anchorX = event.X - box.X
		c.anchorY = event.Y - box.Y
	}
	return true
}

// PointerMove advances an active gesture: clamp the candidate implied by the
// pointer, overlay it locally, and commit it to the shared store at most
// once per throttle interval.
func (c *GestureController) PointerMove(ctx context.Context, event PointerEvent) {
	if c.kind == GestureNone {
		return
	}

	candidate := c.candidate(event)
	c.setOverlay(candidate)

	c.throttle.Attempt(candidate.ID.String(), func() error {
		if err := c.store.PutImage(ctx, candidate); err != nil {
			c.logger.Warn("throttled image commit failed",
				zap.String("image_id", candidate.ID.String()),
				zap.Error(err))
			return err
		}
		return nil
	})
}

// PointerUp ends an active gesture: the final clamped transform is committed
// unconditionally, even if the last throttle tick already sent it, so all
// participants converge. The overlay entry is then removed.
func (c *GestureController) PointerUp(ctx context.Context, event PointerEvent) {
	if c.kind == GestureNone {
		return
	}

	final := c.candidate(event)
	if err := c.store.PutImage(ctx, final); err != nil {
		// Best effort: local and persisted views diverge until the next
		// successful commit.
		c.logger.Warn("final image commit failed",
			zap.String("image_id", final.ID.String()),
			zap.Error(err))
	}

	c.overlay.Delete(final.ID)
	c.throttle.Reset(final.ID.String())
	c.kind = GestureNone
}

// PointerLeave is treated identically to PointerUp: commit-and-end, not
// rollback.
func (c *GestureController) PointerLeave(ctx context.Context, event PointerEvent) {
	c.PointerUp(ctx, event)
}

// Nudge applies a single-step keyboard move to an image: clamp then commit
// directly, bypassing the throttle since this is not a continuous stream.
func (c *GestureController) Nudge(ctx context.Context, image CanvasImage, deltaX, deltaY float64) {
	box := image.Box()
	box.X += deltaX
	box.Y += deltaY
	nudged := image.WithBox(geometry.Clamp(box, c.viewport()))
	if err := c.store.PutImage(ctx, nudged); err != nil {
		c.logger.Warn("nudge commit failed",
			zap.String("image_id", nudged.ID.String()),
			zap.Error(err))
	}
}

func (c *GestureController) candidate(event PointerEvent) CanvasImage {
	viewportRect := c.viewport()
	baseBox := c.base.Box()

	switch c.kind {
	case GestureResize:
		farX := event.X - c.anchorX
		farY := event.Y - c.anchorY
		scale := scaleToward(c.base, farX-baseBox.X, farY-baseBox.Y)
		box := geometry.Box{
			X:      baseBox.X,
			Y:      baseBox.Y,
			Width:  c.base.NaturalWidth * scale,
			Height: c.base.NaturalHeight * scale,
		}
		clamped := geometry.Clamp(box, viewportRect)
		// Span clamping can break the aspect ratio; settle on the ratio-
		// preserving scale and clamp once more for position.
		scale = ratioScale(c.base, clamped)
		box = geometry.Box{
			X:      clamped.X,
			Y:      clamped.Y,
			Width:  c.base.NaturalWidth * scale,
			Height: c.base.NaturalHeight * scale,
		}
		return c.base.WithBox(geometry.Clamp(box, viewportRect))
	default:
		box := baseBox
		box.X = event.X - c.anchorX
		box.Y = event.Y - c.anchorY
		return c.base.WithBox(geometry.Clamp(box, viewportRect))
	}
}

func (c *GestureController) setOverlay(candidate CanvasImage) {
	x := candidate.X
	y := candidate.Y
	scale := candidate.Scale
	c.overlay.Set(candidate.ID, Transform{X: &x, Y: &y, Scale: &scale})
}

// scaleToward derives the scale implied by dragging the far corner to the
// given extents, following the dominant axis.
func scaleToward(image CanvasImage, width, height float64) float64 {
	scaleX := 0.0
	scaleY := 0.0
	if image.NaturalWidth > 0 {
		scaleX = width / image.NaturalWidth
	}
	if image.NaturalHeight > 0 {
		scaleY = height / image.NaturalHeight
	}
	scale := scaleX
	if scaleY > scale {
		scale = scaleY
	}
	if scale <= 0 {
		scale = geometry.MinimumSize / maxDimension(image)
	}
	return scale
}

// ratioScale returns the largest aspect-preserving scale that fits inside
// the clamped box.
func ratioScale(image CanvasImage, box geometry.Box) float64 {
	scale := 1.0
	if image.NaturalWidth > 0 {
		scale = box.Width / image.NaturalWidth
	}
	if image.NaturalHeight > 0 {
		scaleY := box.Height / image.NaturalHeight
		if scaleY < scale {
			scale = scaleY
		}
	}
	return scale
}

func maxDimension(image CanvasImage) float64 {
	if image.NaturalWidth > image.NaturalHeight {
		if image.NaturalWidth > 0 {
			return image.NaturalWidth
		}
		return 1
	}
	if image.NaturalHeight > 0 {
		return image.NaturalHeight
	}
	return 1
}
