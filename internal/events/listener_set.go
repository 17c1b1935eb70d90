// Package events provides typed fan-out from one owner to many listeners.
// Every observable output of the treadmill controller is one of these.
package events

import "sync"

// listenerSet is the registry shared by ChannelEvent and CallbackEvent.
// L is the listener type, T the event value.
type listenerSet[L any, T any] struct {
	mu                    sync.RWMutex
	listeners             map[uint64]L
	nextID                uint64
	sendLastEventOnListen bool
	lastEvent             T
	hasNotified           bool
}

func newListenerSet[L any, T any](sendLastEventOnListen bool) listenerSet[L, T] {
	return listenerSet[L, T]{
		listeners:             make(map[uint64]L),
		sendLastEventOnListen: sendLastEventOnListen,
	}
}

// add registers l and returns its id plus the value to replay, if any
func (s *listenerSet[L, T]) add(l L) (uint64, T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	replay := s.sendLastEventOnListen && s.hasNotified
	return id, s.lastEvent, replay
}

func (s *listenerSet[L, T]) remover(id uint64) func() {
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// record stores value as the last event and returns a snapshot of listeners
// so callers can deliver outside the lock
func (s *listenerSet[L, T]) record(value T) []L {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendLastEventOnListen {
		s.lastEvent = value
		s.hasNotified = true
	}
	out := make([]L, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

// Last returns the most recent value when the event remembers it
func (s *listenerSet[L, T]) Last() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastEvent, s.hasNotified
}

// Reset forgets the remembered value so new listeners start empty
func (s *listenerSet[L, T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	s.lastEvent = zero
	s.hasNotified = false
}

// ListenerCount returns the current number of registered listeners
func (s *listenerSet[L, T]) ListenerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}
