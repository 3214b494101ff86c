// Package clock turns wall-clock frame time into whole fixed simulation steps.
package clock

import (
	"errors"
	"time"
)

const DefaultMaxStepsPerFrame = 8

// TimeSource abstracts the wall clock so tests can drive frames by hand.
type TimeSource interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Scheduler accumulates real elapsed time and hands it out in fixed steps.
// The simulation must call AdvanceTick exactly once per step returned by BeginFrame.
type Scheduler struct {
	hz       uint32
	step     time.Duration
	acc      time.Duration
	last     time.Time
	tick     uint64
	maxSteps int
	src      TimeSource
}

// New builds a scheduler at hz steps per second. src may be nil for the wall clock.
func New(hz uint32, src TimeSource) (*Scheduler, error) {
	if hz == 0 {
		return nil, errors.New("clock: sim frequency must be > 0")
	}
	if src == nil {
		src = wallClock{}
	}
	return &Scheduler{
		hz:       hz,
		step:     time.Second / time.Duration(hz),
		last:     src.Now(),
		maxSteps: DefaultMaxStepsPerFrame,
		src:      src,
	}, nil
}

func (s *Scheduler) Hz() uint32 { return s.hz }

// Step is the fixed step duration.
func (s *Scheduler) Step() time.Duration { return s.step }

func (s *Scheduler) Tick() uint64 { return s.tick }

func (s *Scheduler) MaxStepsPerFrame() int { return s.maxSteps }

// SetMaxStepsPerFrame sets the catch-up cap; values below 1 are raised to 1.
func (s *Scheduler) SetMaxStepsPerFrame(n int) {
	if n < 1 {
		n = 1
	}
	s.maxSteps = n
}

// BeginFrame returns how many fixed steps to run this frame, never more than the cap.
func (s *Scheduler) BeginFrame() int {
	now := s.src.Now()
	dt := now.Sub(s.last)
	s.last = now
	if dt < 0 {
		dt = 0
	}

	// Clamp so a long stall cannot queue an unbounded backlog.
	if limit := s.step * time.Duration(s.maxSteps); dt > limit {
		dt = limit
	}
	s.acc += dt

	steps := 0
	for s.acc >= s.step && steps < s.maxSteps {
		s.acc -= s.step
		steps++
	}
	return steps
}

func (s *Scheduler) AdvanceTick() { s.tick++ }

// Alpha is the fraction of a step left in the accumulator, in [0,1).
// Presentation only; simulation logic must not read it.
func (s *Scheduler) Alpha() float64 {
	a := float64(s.acc) / float64(s.step)
	if a < 0 {
		return 0
	}
	if a >= 1 {
		return 1 - 1e-9
	}
	return a
}

// ManualClock is a TimeSource advanced explicitly.
type ManualClock struct {
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock { return &ManualClock{now: start} }

func (m *ManualClock) Now() time.Time { return m.now }

func (m *ManualClock) Advance(d time.Duration) { m.now = m.now.Add(d) }
