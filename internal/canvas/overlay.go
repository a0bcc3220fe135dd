package canvas

import "sync"

// Transform is a partial override of an image's placement. Nil fields leave
// the persisted value untouched.
type Transform struct {
	X        *float64
	Y        *float64
	Scale    *float64
	Rotation *float64
}

// ApplyTo merges the override over the persisted image.
func (t Transform) ApplyTo(image CanvasImage) CanvasImage {
	merged := image
	if t.X != nil {
		merged.X = *t.X
	}
	if t.Y != nil {
		merged.Y = *t.Y
	}
	if t.Scale != nil {
		merged.Scale = *t.Scale
	}
	if t.Rotation != nil {
		merged.Rotation = *t.Rotation
	}
	return merged
}

// OverlayStore holds the in-flight transform overrides for images currently
// being dragged or resized by this client. An override takes visual
// precedence over the last persisted value until the gesture completes.
// Only the gesture owner writes an entry for a given image; other clients
// never see this intermediate state.
type OverlayStore struct {
	mu       sync.RWMutex
	entries  map[ImageID]Transform
	schedule func()
}

// NewOverlayStore constructs an OverlayStore. schedule is invoked after
// every Set so rendering is batched by the frame scheduler rather than
// performed inline; it may be nil.
func NewOverlayStore(schedule func()) *OverlayStore {
	return &OverlayStore{
		entries:  make(map[ImageID]Transform),
		schedule: schedule,
	}
}

// Set records the override for an image and schedules a redraw.
func (s *OverlayStore) Set(id ImageID, transform Transform) {
	s.mu.Lock()
	s.entries[id] = transform
	s.mu.Unlock()
	if s.schedule != nil {
		s.schedule()
	}
}

// Get returns the override for an image, if any.
func (s *OverlayStore) Get(id ImageID) (Transform, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	transform, ok := s.entries[id]
	return transform, ok
}

// Delete removes the override for an image.
func (s *OverlayStore) Delete(id ImageID) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// Effective returns the image as it should be rendered: the persisted value
// with any local override merged on top. O(1), never blocks on I/O.
func (s *OverlayStore) Effective(image CanvasImage) CanvasImage {
	s.mu.RLock()
	transform, ok := s.entries[image.ID]
	s.mu.RUnlock()
	if !ok {
		return image
	}
	return transform.ApplyTo(image)
}

// Len reports the number of active overrides.
func (s *OverlayStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
