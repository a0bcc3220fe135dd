package canvas

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hexgridlabs/tabula/internal/geometry"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidImageID indicates that an image identifier is empty or exceeds storage bounds.
	ErrInvalidImageID = errors.New("canvas: invalid image id")
	// ErrInvalidImageURL indicates that an image URL is empty.
	ErrInvalidImageURL = errors.New("canvas: invalid image url")
)

// ImageID represents a validated canvas image identifier.
type ImageID string

// NewImageID validates raw input and returns an ImageID.
func NewImageID(rawInput string) (ImageID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidImageID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidImageID, maxIdentifierLength)
	}
	return ImageID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ImageID) String() string {
	return string(id)
}

// ToolMode selects how pointer input on the surface is interpreted.
type ToolMode string

const (
	// ToolPlaceImage routes pointer input to image move/resize gestures.
	ToolPlaceImage ToolMode = "place-image"
	// ToolDraw routes pointer input to freehand stroke painting.
	ToolDraw ToolMode = "draw"
	// ToolErase routes pointer input to destructive stroke erasing.
	ToolErase ToolMode = "erase"
)

// CanvasImage models a persisted, replicated image placed on the shared canvas.
// Identity is client-generated at creation; any participant may mutate or
// delete the record.
type CanvasImage struct {
	ID               ImageID `json:"id"`
	URL              string  `json:"url"`
	X                float64 `json:"x"`
	Y                float64 `json:"y"`
	Scale            float64 `json:"scale"`
	Rotation         float64 `json:"rotation"`
	NaturalWidth     float64 `json:"natural_width"`
	NaturalHeight    float64 `json:"natural_height"`
	CreatedAtSeconds int64   `json:"created_at_s"`
}

// Box returns the rendered bounding box of the image.
func (img CanvasImage) Box() geometry.Box {
	return geometry.Box{
		X:      img.X,
		Y:      img.Y,
		Width:  img.NaturalWidth * img.Scale,
		Height: img.NaturalHeight * img.Scale,
	}
}

// WithBox returns a copy of the image repositioned and rescaled to the given
// box. Aspect ratio follows the width; callers are expected to pass boxes
// derived from Box() and clamped, which keeps the ratio intact.
func (img CanvasImage) WithBox(box geometry.Box) CanvasImage {
	updated := img
	updated.X = box.X
	updated.Y = box.Y
	if img.NaturalWidth > 0 {
		updated.Scale = box.Width / img.NaturalWidth
	}
	return updated
}

// PendingImage is a local-only stand-in for an image whose upload has not
// completed. It is never replicated and never collides with a persisted id.
type PendingImage struct {
	CanvasImage
	PreviewURL string `json:"preview_url"`
}

// StrokeMode distinguishes painting from destructive erasing.
type StrokeMode string

const (
	// StrokeDraw paints pixels with the segment color.
	StrokeDraw StrokeMode = "draw"
	// StrokeErase removes pixels along the segment.
	StrokeErase StrokeMode = "erase"
)

// StrokeSegment is one line segment of a freehand stroke. Segments are
// ephemeral: broadcast to connected peers and kept in an in-memory replay
// log, never written to the shared document store.
type StrokeSegment struct {
	X1    float64    `json:"x1"`
	Y1    float64    `json:"y1"`
	X2    float64    `json:"x2"`
	Y2    float64    `json:"y2"`
	Color string     `json:"color"`
	Width float64    `json:"width"`
	Mode  StrokeMode `json:"mode"`
}

// PointerEvent carries a pointer position in canvas coordinates.
type PointerEvent struct {
	X float64
	Y float64
}

// MusicState mirrors the shared music record. It is not owned by the canvas
// engine; it rides the same document store and throttle machinery as image
// transforms.
type MusicState struct {
	ID      string  `json:"id"`
	Playing bool    `json:"playing"`
	Volume  float64 `json:"volume"`
}

// Event kinds carried over the ephemeral broadcast channel.
const (
	EventKindStroke = "stroke"
	EventKindClear  = "clear"
)

// BroadcastEvent is the fire-and-forget message fanned out to currently
// connected peers. It has no delivery guarantee and no persistence.
type BroadcastEvent struct {
	Kind    string         `json:"kind"`
	Segment *StrokeSegment `json:"segment,omitempty"`
}

// Broadcaster sends events to all currently connected peers except the
// local client.
type Broadcaster interface {
	Send(event BroadcastEvent)
}

// ImageStore is the slice of the shared document store the canvas engine
// writes through. Implementations are expected to be best-effort: a failed
// write is logged and superseded by the next commit.
type ImageStore interface {
	PutImage(ctx context.Context, image CanvasImage) error
	DeleteImage(ctx context.Context, id ImageID) error
}
