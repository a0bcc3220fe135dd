package canvas

import (
	"sync"
	"time"
)

// DefaultImageCommitInterval bounds how often an in-progress image transform
// is written to the shared document store. Short enough that remote views
// track a drag in near real time, long enough not to saturate the store.
const DefaultImageCommitInterval = 100 * time.Millisecond

// CommitThrottle is a time-gated dispatcher: at most one successful commit
// per key per interval. Dropped attempts are silent; callers always pass the
// current candidate rather than a delta, so the next accepted attempt
// carries the latest state. The final state of a gesture is flushed outside
// the throttle, so dropped intermediates never cause permanent staleness.
type CommitThrottle struct {
	interval time.Duration
	clock    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewCommitThrottle constructs a throttle. A zero interval admits every
// attempt (used for cheap, ephemeral traffic such as stroke segments).
// clock may be nil, defaulting to time.Now.
func NewCommitThrottle(interval time.Duration, clock func() time.Time) *CommitThrottle {
	if clock == nil {
		clock = time.Now
	}
	return &CommitThrottle{
		interval: interval,
		clock:    clock,
		last:     make(map[string]time.Time),
	}
}

// Attempt runs commit iff at least the configured interval has elapsed since
// the last successful commit for key. Returns whether commit ran and
// succeeded. A commit that returns an error does not advance the gate, so
// the next attempt retries immediately.
func (t *CommitThrottle) Attempt(key string, commit func() error) bool {
	now := t.clock()

	t.mu.Lock()
	if lastAt, ok := t.last[key]; ok && t.interval > 0 && now.Sub(lastAt) < t.interval {
		t.mu.Unlock()
		return false
	}
	t.mu.Unlock()

	if err := commit(); err != nil {
		return false
	}

	t.mu.Lock()
	t.last[key] = now
	t.mu.Unlock()
	return true
}

// Reset clears the gate for key so the next attempt is admitted regardless
// of elapsed time. Called when a gesture ends.
func (t *CommitThrottle) Reset(key string) {
	t.mu.Lock()
	delete(t.last, key)
	t.mu.Unlock()
}
