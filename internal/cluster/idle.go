package cluster

import (
	"runtime"
	"time"
)

// IdleStrategy decides how to back off when a poll produced no work.
type IdleStrategy interface {
	// Idle backs off when workCount is zero and resets otherwise.
	Idle(workCount int)
	// Reset returns the strategy to its most aggressive state.
	Reset()
}

const (
	backoffStateNotIdle = iota
	backoffStateSpinning
	backoffStateYielding
	backoffStateParking
)

// BackoffIdleStrategy spins, then yields, then parks with the park period
// doubling up to a maximum. Transport progress is kept by the caller
// driving the embedded client runtime on every idle tick.
type BackoffIdleStrategy struct {
	maxSpins  int
	maxYields int
	minPark   time.Duration
	maxPark   time.Duration

	state  int
	spins  int
	yields int
	park   time.Duration
}

// NewBackoffIdleStrategy creates a backoff strategy with the given spin
// and yield counts and park period bounds.
func NewBackoffIdleStrategy(maxSpins, maxYields int, minPark, maxPark time.Duration) *BackoffIdleStrategy {
	return &BackoffIdleStrategy{
		maxSpins:  maxSpins,
		maxYields: maxYields,
		minPark:   minPark,
		maxPark:   maxPark,
	}
}

// NewDefaultIdleStrategy creates the backoff strategy used during
// recovery and by the agent runner.
func NewDefaultIdleStrategy() *BackoffIdleStrategy {
	return NewBackoffIdleStrategy(100, 100, 100*time.Microsecond, time.Millisecond)
}

// Idle backs off when workCount is zero and resets otherwise.
func (s *BackoffIdleStrategy) Idle(workCount int) {
	if workCount > 0 {
		s.Reset()
		return
	}

	switch s.state {
	case backoffStateNotIdle:
		s.state = backoffStateSpinning
		s.spins = 0
		fallthrough
	case backoffStateSpinning:
		if s.spins < s.maxSpins {
			s.spins++
			return
		}
		s.state = backoffStateYielding
		s.yields = 0
		fallthrough
	case backoffStateYielding:
		if s.yields < s.maxYields {
			s.yields++
			runtime.Gosched()
			return
		}
		s.state = backoffStateParking
		s.park = s.minPark
		fallthrough
	default:
		time.Sleep(s.park)
		s.park *= 2
		if s.park > s.maxPark {
			s.park = s.maxPark
		}
	}
}

// Reset returns the strategy to its most aggressive state.
func (s *BackoffIdleStrategy) Reset() {
	s.state = backoffStateNotIdle
	s.spins = 0
	s.yields = 0
	s.park = s.minPark
}
