package timectrl

import (
	"context"
	"math"
	"sync"
	"time"
)

// StepClock is an interface for reading the current simulation step. This
// allows render loops and drivers to depend on a clock abstraction rather
// than a concrete controller type, enabling testability.
type StepClock interface {
	// Now returns the current step.
	Now() uint32
}

// StepController drives a step counter at a fixed wall-clock interval and
// notifies registered listeners on every tick. It implements StepClock.
type StepController struct {
	mu       sync.RWMutex
	Interval time.Duration

	// step is the latest step the controller reached.
	step uint32

	listeners []func(uint32)
}

// NewStepController constructs a controller positioned at start.
func NewStepController(start uint32, interval time.Duration) *StepController {
	return &StepController{
		Interval: interval,
		step:     start,
	}
}

// Now returns the current step. Implements StepClock.
func (sc *StepController) Now() uint32 {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.step
}

// SetStep moves the controller to step, for example after a snapshot
// install rewinds a room.
func (sc *StepController) SetStep(step uint32) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.step = step
}

// AddListener registers a callback invoked with the new step on every tick.
func (sc *StepController) AddListener(fn func(uint32)) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.listeners = append(sc.listeners, fn)
}

// Start ticks the controller in a separate goroutine until ctx is done or,
// when ticks is non-zero, ticks steps have elapsed. It returns a channel
// that is closed when the controller finishes.
func (sc *StepController) Start(ctx context.Context, ticks uint32) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		ticker := time.NewTicker(sc.Interval)
		defer ticker.Stop()

		for n := uint32(0); ticks == 0 || n < ticks; n++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			sc.mu.Lock()
			if sc.step == math.MaxUint32 {
				sc.mu.Unlock()
				return
			}
			sc.step++
			step := sc.step
			listeners := append([]func(uint32){}, sc.listeners...)
			sc.mu.Unlock()

			for _, fn := range listeners {
				fn(step)
			}
		}
	}()
	return done
}

// DefaultRenderDelay is how many steps a Follower trails its origin.
const DefaultRenderDelay uint32 = 4

// Follower is a fractional render cursor that trails an origin step by a
// fixed delay. It jumps forward when it falls behind the delayed target,
// crawls at half speed when it has overtaken the origin and otherwise
// moves one step per frame.
type Follower struct {
	delay  uint32
	cursor float64
}

// NewFollower returns a follower at step zero.
func NewFollower(delay uint32) *Follower {
	return &Follower{delay: delay}
}

// Delay returns the configured lag behind the origin.
func (f *Follower) Delay() uint32 { return f.delay }

// Advance moves the cursor one frame towards origin and returns the step
// to render.
func (f *Follower) Advance(origin uint32) uint32 {
	var target float64
	if origin > f.delay {
		target = float64(origin - f.delay)
	}
	switch {
	case f.cursor < target:
		f.cursor = target
	case f.cursor > float64(origin):
		f.cursor += 0.5
	default:
		f.cursor++
	}
	return f.Step()
}

// Step returns the whole step the cursor is on.
func (f *Follower) Step() uint32 {
	if f.cursor >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(math.Floor(f.cursor))
}

// Reset puts the cursor back at step.
func (f *Follower) Reset(step uint32) {
	f.cursor = float64(step)
}
