package canvas

import (
	"context"
	"sync"
	"time"
)

// DefaultFrameInterval approximates a 60Hz display refresh.
const DefaultFrameInterval = 16 * time.Millisecond

// FrameScheduler coalesces any number of Schedule calls within one frame
// into a single invocation of the render function. Rendering is a full
// redraw, so only one invocation per frame is ever needed and the visible
// state is never more than one frame stale.
type FrameScheduler struct {
	render func()

	mu      sync.Mutex
	pending bool
}

// NewFrameScheduler constructs a scheduler bound to a render function.
func NewFrameScheduler(render func()) *FrameScheduler {
	return &FrameScheduler{render: render}
}

// Schedule marks a render as needed. Repeated calls within one frame are
// coalesced.
func (s *FrameScheduler) Schedule() {
	s.mu.Lock()
	s.pending = true
	s.mu.Unlock()
}

// Tick runs at most one coalesced render. The pending flag is cleared
// before the render runs, so a Schedule issued from inside the render
// carries over to the next frame.
func (s *FrameScheduler) Tick() bool {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return false
	}
	s.pending = false
	s.mu.Unlock()

	if s.render != nil {
		s.render()
	}
	return true
}

// Run drives ticks from a wall-clock ticker until the context ends. Tests
// call Tick directly instead.
func (s *FrameScheduler) Run(ctx context.Context, frameInterval time.Duration) {
	if frameInterval <= 0 {
		frameInterval = DefaultFrameInterval
	}
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}
