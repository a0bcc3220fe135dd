package canvas

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/vector"
)

// Painter owns the local stroke bitmap. Draw segments composite source-over;
// erase segments are destructive, removing pixels rather than painting over
// them, so both operations are order-sensitive in exactly the same way on
// every client.
type Painter struct {
	mu     sync.Mutex
	bitmap *image.RGBA
}

// NewPainter allocates a transparent bitmap of the given pixel dimensions.
func NewPainter(width, height int) *Painter {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return &Painter{bitmap: image.NewRGBA(image.Rect(0, 0, width, height))}
}

// Paint rasterizes one segment onto the bitmap as a stroked line with round
// caps.
func (p *Painter) Paint(segment StrokeSegment) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bounds := p.bitmap.Bounds()
	mask := image.NewAlpha(bounds)
	rasterizer := vector.NewRasterizer(bounds.Dx(), bounds.Dy())
	appendStadium(rasterizer, segment)
	rasterizer.Draw(mask, bounds, image.Opaque, image.Point{})

	switch segment.Mode {
	case StrokeErase:
		eraseMasked(p.bitmap, mask)
	default:
		src := image.NewUniform(parseHexColor(segment.Color))
		draw.DrawMask(p.bitmap, bounds, src, image.Point{}, mask, image.Point{}, draw.Over)
	}
}

// eraseMasked applies dst-out compositing: each pixel keeps 1-coverage of
// its value, removing pixels along the stroke instead of painting over them.
func eraseMasked(dst *image.RGBA, mask *image.Alpha) {
	bounds := dst.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			coverage := uint32(mask.AlphaAt(x, y).A)
			if coverage == 0 {
				continue
			}
			keep := 255 - coverage
			offset := dst.PixOffset(x, y)
			// Premultiplied alpha, so every channel scales uniformly.
			for channel := 0; channel < 4; channel++ {
				dst.Pix[offset+channel] = uint8(uint32(dst.Pix[offset+channel]) * keep / 255)
			}
		}
	}
}

// Resize discards the bitmap and allocates a blank one at the new pixel
// dimensions. The caller replays the segment log to repopulate it.
func (p *Painter) Resize(width, height int) {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	p.mu.Lock()
	p.bitmap = image.NewRGBA(image.Rect(0, 0, width, height))
	p.mu.Unlock()
}

// Clear resets every pixel to transparent without changing dimensions.
func (p *Painter) Clear() {
	p.mu.Lock()
	bounds := p.bitmap.Bounds()
	p.bitmap = image.NewRGBA(bounds)
	p.mu.Unlock()
}

// Snapshot returns a copy of the current bitmap.
func (p *Painter) Snapshot() *image.RGBA {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := image.NewRGBA(p.bitmap.Bounds())
	copy(clone.Pix, p.bitmap.Pix)
	return clone
}

// appendStadium adds the outline of a line segment stroked with round caps:
// a rectangle between the two offset edges joined by two semicircles.
func appendStadium(rasterizer *vector.Rasterizer, segment StrokeSegment) {
	halfWidth := segment.Width / 2
	if halfWidth <= 0 {
		halfWidth = 0.5
	}

	dx := segment.X2 - segment.X1
	dy := segment.Y2 - segment.Y1
	length := math.Hypot(dx, dy)
	var ux, uy float64
	if length == 0 {
		// Degenerate segment: paint a dot.
		ux, uy = 1, 0
	} else {
		ux, uy = dx/length, dy/length
	}
	// Unit normal.
	nx, ny := -uy, ux

	startX, startY := segment.X1, segment.Y1
	endX, endY := segment.X2, segment.Y2

	rasterizer.MoveTo(float32(startX+nx*halfWidth), float32(startY+ny*halfWidth))
	rasterizer.LineTo(float32(endX+nx*halfWidth), float32(endY+ny*halfWidth))
	appendSemicircle(rasterizer, endX, endY, halfWidth, nx, ny, ux, uy)
	rasterizer.LineTo(float32(startX-nx*halfWidth), float32(startY-ny*halfWidth))
	appendSemicircle(rasterizer, startX, startY, halfWidth, -nx, -ny, -ux, -uy)
	rasterizer.ClosePath()
}

// circleKappa is the cubic Bezier control distance for a quarter circle.
const circleKappa = 0.5522847498

// appendSemicircle approximates a semicircle around (cx, cy) of radius r,
// sweeping from direction (fromX, fromY) through (viaX, viaY) to the
// opposite of from, as two quarter-circle cubics.
func appendSemicircle(rasterizer *vector.Rasterizer, cx, cy, r, fromX, fromY, viaX, viaY float64) {
	appendQuarter(rasterizer, cx, cy, r, fromX, fromY, viaX, viaY)
	appendQuarter(rasterizer, cx, cy, r, viaX, viaY, -fromX, -fromY)
}

func appendQuarter(rasterizer *vector.Rasterizer, cx, cy, r, ux, uy, vx, vy float64) {
	rasterizer.CubeTo(
		float32(cx+r*(ux+circleKappa*vx)), float32(cy+r*(uy+circleKappa*vy)),
		float32(cx+r*(vx+circleKappa*ux)), float32(cy+r*(vy+circleKappa*uy)),
		float32(cx+r*vx), float32(cy+r*vy),
	)
}

// parseHexColor parses #rgb and #rrggbb colors, defaulting to opaque black.
func parseHexColor(value string) color.Color {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "#")
	switch len(trimmed) {
	case 3:
		expanded := make([]byte, 6)
		for i := 0; i < 3; i++ {
			expanded[2*i] = trimmed[i]
			expanded[2*i+1] = trimmed[i]
		}
		trimmed = string(expanded)
	case 6:
	default:
		return color.NRGBA{A: 0xff}
	}

	parsed, err := strconv.ParseUint(trimmed, 16, 32)
	if err != nil {
		return color.NRGBA{A: 0xff}
	}
	return color.NRGBA{
		R: uint8(parsed >> 16),
		G: uint8(parsed >> 8),
		B: uint8(parsed),
		A: 0xff,
	}
}
