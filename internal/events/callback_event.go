package events

// CallbackEvent calls registered functions synchronously on Notify.
// Callbacks run outside the registry lock, so they may unregister themselves.
type CallbackEvent[T any] struct {
	listenerSet[func(T), T]
}

func NewCallbackEvent[T any](sendLastEventOnListen bool) *CallbackEvent[T] {
	return &CallbackEvent[T]{listenerSet: newListenerSet[func(T), T](sendLastEventOnListen)}
}

// Listen registers callback and returns a deregistration function.
// A remembered value is delivered before Listen returns.
func (e *CallbackEvent[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("callback cannot be nil")
	}
	id, last, replay := e.add(callback)
	if replay {
		callback(last)
	}
	return e.remover(id)
}

func (e *CallbackEvent[T]) Notify(value T) {
	for _, callback := range e.record(value) {
		callback(value)
	}
}
