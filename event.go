package strata

// emitter is an observer list for a single event type. The zero value is
// ready to use and costs nothing until a handler is added.
type emitter[T any] struct {
	handlers []func(T)
	// gen invalidates the off functions handed out before a clear.
	gen int
}

// on registers fn and returns a function that removes it again.
func (e *emitter[T]) on(fn func(T)) (off func()) {
	e.handlers = append(e.handlers, fn)
	id, gen := len(e.handlers)-1, e.gen
	removed := false
	return func() {
		if removed || gen != e.gen || id >= len(e.handlers) {
			return
		}
		removed = true
		e.handlers[id] = nil
	}
}

// emit calls every registered handler in registration order.
func (e *emitter[T]) emit(v T) {
	for _, fn := range e.handlers {
		if fn != nil {
			fn(v)
		}
	}
}

// has reports whether at least one handler is registered.
func (e *emitter[T]) has() bool {
	for _, fn := range e.handlers {
		if fn != nil {
			return true
		}
	}
	return false
}

// clear removes all handlers.
func (e *emitter[T]) clear() {
	e.handlers = nil
	e.gen++
}
