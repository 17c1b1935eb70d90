package events

// ChannelEvent delivers values to registered channels.
// Sends never block: a listener whose buffer is full misses that value.
type ChannelEvent[T any] struct {
	listenerSet[chan<- T, T]
}

// NewChannelEvent creates a ChannelEvent. With sendLastEventOnListen the most
// recent value is replayed to every new listener once Notify has been called.
func NewChannelEvent[T any](sendLastEventOnListen bool) *ChannelEvent[T] {
	return &ChannelEvent[T]{listenerSet: newListenerSet[chan<- T, T](sendLastEventOnListen)}
}

// Listen registers ch and returns a deregistration function
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}
	id, last, replay := e.add(ch)
	if replay {
		select {
		case ch <- last:
		default:
		}
	}
	return e.remover(id)
}

// Notify sends value to every registered channel
func (e *ChannelEvent[T]) Notify(value T) {
	for _, ch := range e.record(value) {
		select {
		case ch <- value:
		default:
			// Channel is full, skip this channel
		}
	}
}
