// Package poller implements the polling fallback used when a streaming
// connection cannot be established. The schedule adapts to inactivity so
// an idle shop does not poll at full rate forever.
package poller

import (
	"sync"
	"time"
)

// Default adaptive schedule parameters.
const (
	DefaultBase      = 30 * time.Second
	DefaultStep      = 60 * time.Second
	DefaultThreshold = 5
	DefaultCeiling   = 10 * time.Minute
)

// Schedule computes the next poll interval. Every threshold consecutive
// idle polls grow the interval by one step, up to ceiling; the idle
// counter restarts after each growth. Any activity resets to base.
type Schedule struct {
	mu        sync.Mutex
	base      time.Duration
	step      time.Duration
	threshold int
	ceiling   time.Duration

	interval  time.Duration
	idlePolls int
}

// NewSchedule builds a schedule; non-positive parameters fall back to the
// defaults.
func NewSchedule(base, step time.Duration, threshold int, ceiling time.Duration) *Schedule {
	if base <= 0 {
		base = DefaultBase
	}
	if step <= 0 {
		step = DefaultStep
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Schedule{base: base, step: step, threshold: threshold, ceiling: ceiling, interval: base}
}

// Interval returns the wait before the next poll.
func (s *Schedule) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Idle records a poll that found nothing and returns the next interval.
func (s *Schedule) Idle() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.idlePolls++
	if s.idlePolls >= s.threshold {
		s.idlePolls = 0
		s.interval += s.step
		if s.interval > s.ceiling {
			s.interval = s.ceiling
		}
	}
	return s.interval
}

// Activity resets the schedule to the base interval. Called when a poll
// finds a new order or the user interacts with the page.
func (s *Schedule) Activity() {
	s.mu.Lock()
	s.interval = s.base
	s.idlePolls = 0
	s.mu.Unlock()
}

// IdlePolls reports how many empty polls have occurred since the last
// growth or reset.
func (s *Schedule) IdlePolls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idlePolls
}
