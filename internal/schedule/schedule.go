// Package schedule aligns refresh cycles to wall-clock boundaries.
package schedule

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	// DefaultCadence is the refresh period.
	DefaultCadence = time.Hour
)

// NextBoundary returns the next aligned refresh time after now. Boundaries
// fall on the hour at multiples of cadence, counted from midnight in now's
// location. Cadence is rounded down to whole hours, minimum one hour.
//
// A boundary hour that has already started, even by a second, yields the
// following boundary.
func NextBoundary(now time.Time, cadence time.Duration) time.Time {
	hours := int(cadence / time.Hour)
	if hours < 1 {
		hours = 1
	}
	step := time.Duration(hours) * time.Hour

	h := now.Hour()
	candidateHour := ((h + hours - 1) / hours) * hours
	candidate := time.Date(now.Year(), now.Month(), now.Day(), candidateHour, 0, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.Add(step)
	}
	return candidate
}

// NextDelay returns the delay from now until NextBoundary.
func NextDelay(now time.Time, cadence time.Duration) time.Duration {
	return NextBoundary(now, cadence).Sub(now)
}

// Config holds configuration for the Scheduler.
type Config struct {
	// Cadence is the refresh period in whole hours. Default: 1h.
	Cadence time.Duration

	// Location is the wall-clock zone boundaries are aligned in. Default: UTC.
	Location *time.Location

	// Clock defaults to the real clock.
	Clock clockwork.Clock

	Logger zerolog.Logger
}

// Scheduler fires a callback at the next aligned boundary and then every
// cadence. It owns at most one pending timer.
type Scheduler struct {
	clock    clockwork.Clock
	cadence  time.Duration
	location *time.Location
	logger   zerolog.Logger

	mu         sync.Mutex
	timer      clockwork.Timer
	generation uint64
	nextFire   time.Time
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	cadence := cfg.Cadence
	if cadence < time.Hour {
		cadence = DefaultCadence
	}
	cadence = cadence.Truncate(time.Hour)

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Scheduler{
		clock:    clock,
		cadence:  cadence,
		location: loc,
		logger:   cfg.Logger,
	}
}

// Cadence returns the effective refresh period.
func (s *Scheduler) Cadence() time.Duration {
	return s.cadence
}

// Start schedules fn at the next aligned boundary and every cadence after
// it. Any previous schedule is cancelled first. fn runs on its own goroutine.
func (s *Scheduler) Start(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.generation++
	gen := s.generation

	now := s.clock.Now().In(s.location)
	next := NextBoundary(now, s.cadence)
	delay := next.Sub(now)

	s.logger.Info().
		Time("next_refresh", next).
		Dur("delay", delay).
		Dur("cadence", s.cadence).
		Msg("refresh scheduled")

	s.armLocked(gen, delay, next, fn)
}

// armLocked installs the single pending timer. When it fires it re-arms
// itself at the fixed cadence before running fn.
func (s *Scheduler) armLocked(gen uint64, delay time.Duration, at time.Time, fn func()) {
	s.nextFire = at
	s.timer = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		if gen != s.generation {
			s.mu.Unlock()
			return
		}
		s.armLocked(gen, s.cadence, s.clock.Now().Add(s.cadence), fn)
		s.mu.Unlock()

		fn()
	})
}

// Cancel stops the pending timer. Callbacks already running are not interrupted.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.generation++
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.nextFire = time.Time{}
}

// NextFire returns when the pending timer fires; ok is false when nothing is
// scheduled.
func (s *Scheduler) NextFire() (at time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return time.Time{}, false
	}
	return s.nextFire, true
}
