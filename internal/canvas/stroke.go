package canvas

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	errMissingPainter     = errors.New("painter is required")
	errMissingBroadcaster = errors.New("broadcaster is required")
)

// StrokeReplicatorConfig carries the dependencies of a StrokeReplicator.
type StrokeReplicatorConfig struct {
	Painter     *Painter
	Broadcaster Broadcaster
	Schedule    func()
	Logger      *zap.Logger
}

// StrokeReplicator turns pointer drags in draw/erase mode into line
// segments. Local segments are painted immediately and fanned out over the
// ephemeral broadcast channel; remote segments are painted identically on
// receipt. Every segment, local or remote, is appended to an in-memory
// replay log in receipt order so the bitmap can be rebuilt after a resize.
// Segments are never persisted: a participant joining mid-session starts
// from a blank stroke layer.
type StrokeReplicator struct {
	painter     *Painter
	broadcaster Broadcaster
	schedule    func()
	logger      *zap.Logger

	mu        sync.Mutex
	replayLog []StrokeSegment
	drawing   bool
	lastX     float64
	lastY     float64
}

// NewStrokeReplicator validates the configuration and returns a replicator.
func NewStrokeReplicator(cfg StrokeReplicatorConfig) (*StrokeReplicator, error) {
	if cfg.Painter == nil {
		return nil, errMissingPainter
	}
	if cfg.Broadcaster == nil {
		return nil, errMissingBroadcaster
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StrokeReplicator{
		painter:     cfg.Painter,
		broadcaster: cfg.Broadcaster,
		schedule:    cfg.Schedule,
		logger:      logger,
	}, nil
}

// Begin starts a local stroke at the pointer position.
func (r *StrokeReplicator) Begin(event PointerEvent) {
	r.mu.Lock()
	r.drawing = true
	r.lastX = event.X
	r.lastY = event.Y
	r.mu.Unlock()
}

// Extend advances a local stroke: the segment from the previous to the
// current pointer position is painted, logged, and broadcast.
func (r *StrokeReplicator) Extend(event PointerEvent, color string, width float64, mode StrokeMode) {
	r.mu.Lock()
	if !r.drawing {
		r.mu.Unlock()
		return
	}
	segment := StrokeSegment{
		X1:    r.lastX,
		Y1:    r.lastY,
		X2:    event.X,
		Y2:    event.Y,
		Color: color,
		Width: width,
		Mode:  mode,
	}
	r.lastX = event.X
	r.lastY = event.Y
	r.replayLog = append(r.replayLog, segment)
	r.mu.Unlock()

	r.painter.Paint(segment)
	r.broadcaster.Send(BroadcastEvent{Kind: EventKindStroke, Segment: &segment})
	r.requestRender()
}

// End finishes a local stroke.
func (r *StrokeReplicator) End() {
	r.mu.Lock()
	r.drawing = false
	r.mu.Unlock()
}

// ApplyRemote paints a segment received from a peer and appends it to the
// replay log in receipt order. Receipt order may differ from generation
// order under network jitter; replay reproduces receipt order, which is the
// documented behavior.
func (r *StrokeReplicator) ApplyRemote(segment StrokeSegment) {
	r.mu.Lock()
	r.replayLog = append(r.replayLog, segment)
	r.mu.Unlock()

	r.painter.Paint(segment)
	r.requestRender()
}

// Resize rebuilds the bitmap at new pixel dimensions by replaying every
// segment seen so far, in receipt order. Two clients connected since the
// start of a session converge to pixel-identical bitmaps because both hold
// the same ordered log and apply identical compositing rules.
func (r *StrokeReplicator) Resize(width, height int) {
	r.mu.Lock()
	replay := make([]StrokeSegment, len(r.replayLog))
	copy(replay, r.replayLog)
	r.mu.Unlock()

	r.painter.Resize(width, height)
	for _, segment := range replay {
		r.painter.Paint(segment)
	}
	r.requestRender()
}

// Clear empties the replay log and the bitmap, and broadcasts a clear event
// so currently connected peers clear in lockstep. Persisted image deletion
// is the surface's responsibility.
func (r *StrokeReplicator) Clear() {
	r.clearLocal()
	r.broadcaster.Send(BroadcastEvent{Kind: EventKindClear})
}

// ApplyRemoteClear clears the local log and bitmap in response to a peer's
// clear event, without re-broadcasting.
func (r *StrokeReplicator) ApplyRemoteClear() {
	r.clearLocal()
}

// SegmentCount reports the replay log length.
func (r *StrokeReplicator) SegmentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.replayLog)
}

func (r *StrokeReplicator) clearLocal() {
	r.mu.Lock()
	r.replayLog = nil
	r.drawing = false
	r.mu.Unlock()

	r.painter.Clear()
	r.requestRender()
}

func (r *StrokeReplicator) requestRender() {
	r.mu.Lock()
	schedule := r.schedule
	r.mu.Unlock()
	if schedule != nil {
		schedule()
	}
}
