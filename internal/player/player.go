// Package player schedules decoded agent audio for gapless playback.
//
// Chunks arrive faster than real time, so the [Scheduler] keeps a
// monotonically advancing cursor: each chunk starts at the later of the
// cursor and the output clock's current position, and the cursor then
// advances by the chunk's duration. This guarantees back-to-back playback
// with no gap and no overlap, in arrival order.
//
// The scheduler never touches audio hardware directly; output goes through
// the narrow [Sink] interface so tests can inject a recording sink and a
// deterministic clock.
package player

import (
	"sync"
	"time"

	"github.com/sightlinehq/sightline/pkg/codec"
)

// Clock reports the current position of the output clock, measured from the
// moment the output device was opened.
type Clock interface {
	Now() time.Duration
}

// Handle identifies one scheduled chunk so it can be stopped early on
// interruption.
type Handle interface {
	// Stop cancels playback of the chunk. Stopping an already-finished chunk
	// is a no-op.
	Stop()
}

// Sink is the playback output consumed by the Scheduler.
//
// Implementations must invoke done exactly once when the chunk finishes
// playing naturally (not when stopped early), and must not block inside Play.
type Sink interface {
	Play(buf *codec.Buffer, at time.Duration, done func()) Handle
}

// Scheduler tracks the playback cursor and the set of currently scheduled
// chunks. All exported methods are safe for concurrent use.
type Scheduler struct {
	sink  Sink
	clock Clock

	mu     sync.Mutex
	cursor time.Duration
	nextID uint64
	active map[uint64]Handle
}

// New creates a Scheduler delivering chunks to sink, timed against clock.
func New(sink Sink, clock Clock) *Scheduler {
	return &Scheduler{
		sink:   sink,
		clock:  clock,
		active: make(map[uint64]Handle),
	}
}

// Schedule queues buf for playback immediately after the previously scheduled
// chunk (or right now, whichever is later) and returns the start offset it
// was scheduled at.
func (s *Scheduler) Schedule(buf *codec.Buffer) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.cursor
	if now := s.clock.Now(); now > at {
		at = now
	}

	s.nextID++
	id := s.nextID
	handle := s.sink.Play(buf, at, func() { s.remove(id) })
	s.active[id] = handle

	s.cursor = at + buf.Duration()
	return at
}

// Interrupt stops every scheduled chunk, clears the active set, and resets
// the cursor. Already-scheduled future audio is discarded, not allowed to
// finish. This is the barge-in cancellation path.
//
// The cursor resets to zero rather than to the clock's current position:
// Schedule clamps against the clock, so the next chunk still starts
// immediately.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, h := range s.active {
		h.Stop()
		delete(s.active, id)
	}
	s.cursor = 0
}

// ActiveCount reports the number of chunks currently scheduled or playing.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Cursor returns the offset at which the next chunk would be scheduled,
// before clamping against the output clock.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Lead reports how much scheduled audio is queued ahead of the output clock.
// Zero means the next chunk would start immediately.
func (s *Scheduler) Lead() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead := s.cursor - s.clock.Now()
	if lead < 0 {
		return 0
	}
	return lead
}

func (s *Scheduler) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

// WallClock is a [Clock] measuring elapsed real time since construction.
type WallClock struct {
	start time.Time
}

// NewWallClock creates a WallClock starting at zero now.
func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

// Now reports elapsed time since the clock was created.
func (c *WallClock) Now() time.Duration {
	return time.Since(c.start)
}
