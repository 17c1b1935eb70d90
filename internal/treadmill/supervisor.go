package treadmill

import (
	"log"
	"slices"
	"time"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

var legalTransitions = map[model.ConnectionState][]model.ConnectionState{
	model.Disconnected: {model.Scanning, model.Connecting},
	model.Scanning:     {model.Disconnected, model.Connecting},
	model.Connecting:   {model.Connecting, model.Connected, model.Disconnected},
	model.Connected:    {model.Connecting, model.Ready, model.Disconnected},
	model.Ready:        {model.Connecting, model.Disconnected},
}

// supervisor owns the connection state of one controller. It lives on the
// run loop: every method must be called from there.
type supervisor struct {
	logger   *log.Logger
	state    model.ConnectionState
	onChange func(model.ConnectionState)

	// generation identifies the current connection attempt. Completions
	// carrying an older generation are stale and dropped.
	generation uint64
	retried    bool
	watchdog   *time.Timer
}

func newSupervisor(logger *log.Logger, onChange func(model.ConnectionState)) *supervisor {
	if logger == nil {
		panic("supervisor: logger cannot be nil")
	}
	return &supervisor{
		logger:   logger,
		state:    model.Disconnected,
		onChange: onChange,
	}
}

func canTransition(from, to model.ConnectionState) bool {
	return slices.Contains(legalTransitions[from], to)
}

// transition moves to the requested state. Moving to the current state is a
// silent no-op, except Connecting which restarts an attempt.
func (s *supervisor) transition(to model.ConnectionState) bool {
	from := s.state
	if from == to && to != model.Connecting {
		return true
	}
	if !canTransition(from, to) {
		s.logger.Printf("Supervisor: Refusing illegal transition %s -> %s", from, to)
		return false
	}
	s.state = to
	s.logger.Printf("Supervisor: %s -> %s", from, to)
	if s.onChange != nil {
		s.onChange(to)
	}
	return true
}

// beginAttempt starts a new generation. A retry keeps the retried flag set
// so the next watchdog expiry gives up.
func (s *supervisor) beginAttempt(retry bool) uint64 {
	s.cancelWatchdog()
	s.generation++
	s.retried = retry
	return s.generation
}

// invalidate makes every outstanding completion stale
func (s *supervisor) invalidate() {
	s.cancelWatchdog()
	s.generation++
	s.retried = false
}

func (s *supervisor) current(generation uint64) bool {
	return generation == s.generation
}

// armWatchdog calls fire with the attempt generation after timeout
func (s *supervisor) armWatchdog(timeout time.Duration, fire func(generation uint64)) {
	s.cancelWatchdog()
	generation := s.generation
	s.watchdog = time.AfterFunc(timeout, func() { fire(generation) })
}

func (s *supervisor) cancelWatchdog() {
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
}

// attemptPending is true while a watchdog expiry should act
func (s *supervisor) attemptPending() bool {
	return s.state == model.Connecting || s.state == model.Connected
}
