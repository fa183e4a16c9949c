package poller

import (
	"testing"
	"time"
)

func defaultSchedule() *Schedule {
	return NewSchedule(30*time.Second, 60*time.Second, 5, 10*time.Minute)
}

func TestSchedule_BaseIntervalWhileActive(t *testing.T) {
	s := defaultSchedule()

	if got := s.Interval(); got != 30*time.Second {
		t.Errorf("fresh schedule interval = %v, want 30s", got)
	}

	// Four idle polls stay under the threshold.
	for i := 0; i < 4; i++ {
		if got := s.Idle(); got != 30*time.Second {
			t.Fatalf("idle poll %d interval = %v, want 30s", i+1, got)
		}
	}
}

func TestSchedule_GrowsPastThreshold(t *testing.T) {
	s := defaultSchedule()

	var got time.Duration
	for i := 0; i < 5; i++ {
		got = s.Idle()
	}
	if got != 90*time.Second {
		t.Errorf("fifth idle poll interval = %v, want 90s", got)
	}

	// The idle counter restarts after a growth, so the next step needs
	// another full run of idle polls.
	for i := 0; i < 4; i++ {
		if got = s.Idle(); got != 90*time.Second {
			t.Fatalf("idle poll %d after growth = %v, want 90s", i+6, got)
		}
	}
	if got = s.Idle(); got != 150*time.Second {
		t.Errorf("tenth idle poll interval = %v, want 150s", got)
	}
}

func TestSchedule_CapsAtCeiling(t *testing.T) {
	s := defaultSchedule()

	var got time.Duration
	for i := 0; i < 50; i++ {
		got = s.Idle()
	}
	if got != 10*time.Minute {
		t.Errorf("interval after long idle = %v, want the 10m ceiling", got)
	}
}

func TestSchedule_ActivityResets(t *testing.T) {
	s := defaultSchedule()

	for i := 0; i < 10; i++ {
		s.Idle()
	}
	s.Activity()

	if got := s.Interval(); got != 30*time.Second {
		t.Errorf("interval after activity = %v, want 30s", got)
	}
	if got := s.IdlePolls(); got != 0 {
		t.Errorf("idle polls after activity = %d, want 0", got)
	}
}

func TestSchedule_DefaultsForZeroValues(t *testing.T) {
	s := NewSchedule(0, 0, 0, 0)

	if got := s.Interval(); got != DefaultBase {
		t.Errorf("zero-config base = %v, want %v", got, DefaultBase)
	}
	for i := 0; i < DefaultThreshold; i++ {
		s.Idle()
	}
	if got := s.Interval(); got != DefaultBase+DefaultStep {
		t.Errorf("first growth step = %v, want %v", got, DefaultBase+DefaultStep)
	}
}
