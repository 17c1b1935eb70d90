package treadmill

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

var allStates = []model.ConnectionState{
	model.Disconnected, model.Scanning, model.Connecting, model.Connected, model.Ready,
}

func TestCanTransition(t *testing.T) {
	legal := map[[2]model.ConnectionState]bool{
		{model.Disconnected, model.Scanning}:   true,
		{model.Disconnected, model.Connecting}: true,
		{model.Scanning, model.Disconnected}:   true,
		{model.Scanning, model.Connecting}:     true,
		{model.Connecting, model.Connecting}:   true,
		{model.Connecting, model.Connected}:    true,
		{model.Connecting, model.Disconnected}: true,
		{model.Connected, model.Connecting}:    true,
		{model.Connected, model.Ready}:         true,
		{model.Connected, model.Disconnected}:  true,
		{model.Ready, model.Connecting}:        true,
		{model.Ready, model.Disconnected}:      true,
	}
	for _, from := range allStates {
		for _, to := range allStates {
			assert.Equal(t, legal[[2]model.ConnectionState{from, to}], canTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestSupervisor_ReadyOnlyThroughConnected(t *testing.T) {
	var changes []model.ConnectionState
	s := newSupervisor(testLogger(), func(state model.ConnectionState) { changes = append(changes, state) })

	assert.False(t, s.transition(model.Ready))
	assert.True(t, s.transition(model.Connecting))
	assert.False(t, s.transition(model.Ready))
	assert.True(t, s.transition(model.Connected))
	assert.True(t, s.transition(model.Ready))
	assert.Equal(t, []model.ConnectionState{model.Connecting, model.Connected, model.Ready}, changes)
}

func TestSupervisor_SameStateIsNoOpExceptConnecting(t *testing.T) {
	var changes []model.ConnectionState
	s := newSupervisor(testLogger(), func(state model.ConnectionState) { changes = append(changes, state) })

	assert.True(t, s.transition(model.Disconnected))
	assert.Empty(t, changes)

	s.transition(model.Connecting)
	s.transition(model.Connecting)
	assert.Equal(t, []model.ConnectionState{model.Connecting, model.Connecting}, changes)
}

func TestSupervisor_GenerationsAndWatchdog(t *testing.T) {
	s := newSupervisor(testLogger(), nil)
	fired := make(chan uint64, 2)

	first := s.beginAttempt(false)
	s.armWatchdog(time.Hour, func(g uint64) { fired <- g })
	second := s.beginAttempt(true)
	assert.False(t, s.current(first))
	assert.True(t, s.current(second))
	assert.True(t, s.retried)

	s.armWatchdog(10*time.Millisecond, func(g uint64) { fired <- g })
	select {
	case g := <-fired:
		assert.Equal(t, second, g)
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}

	s.invalidate()
	assert.False(t, s.current(second))
	assert.False(t, s.retried)
}

func TestSupervisor_CancelledWatchdogDoesNotFire(t *testing.T) {
	s := newSupervisor(testLogger(), nil)
	fired := make(chan uint64, 1)
	s.beginAttempt(false)
	s.armWatchdog(20*time.Millisecond, func(g uint64) { fired <- g })
	s.cancelWatchdog()

	select {
	case <-fired:
		t.Fatal("cancelled watchdog fired")
	case <-time.After(60 * time.Millisecond):
	}
}
