package device

import (
	"sort"
	"sync"
)

// HandlerID identifies one connected signal handler. Ids start at 1.
type HandlerID uint64

type handler[T any] struct {
	fn   func(T)
	once bool
}

// Signal is a handler registry for device notifications.
type Signal[T any] struct {
	mu       sync.Mutex
	nextID   HandlerID
	handlers map[HandlerID]handler[T]
}

// NewSignal creates a signal with no handlers.
func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{handlers: make(map[HandlerID]handler[T])}
}

// Connect registers fn for every later emission.
func (s *Signal[T]) Connect(fn func(T)) HandlerID {
	return s.connect(fn, false)
}

// ConnectOnce registers fn for the next emission only. The handler is removed
// before it is called, so concurrent emissions never invoke it twice.
func (s *Signal[T]) ConnectOnce(fn func(T)) HandlerID {
	return s.connect(fn, true)
}

func (s *Signal[T]) connect(fn func(T), once bool) HandlerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[HandlerID]handler[T])
	}
	s.nextID++
	id := s.nextID
	s.handlers[id] = handler[T]{fn: fn, once: once}
	return id
}

// Disconnect removes a handler. It reports false for unknown ids.
func (s *Signal[T]) Disconnect(id HandlerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[id]; !ok {
		return false
	}
	delete(s.handlers, id)
	return true
}

// Len returns the number of connected handlers.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// Emit calls the handlers connected at emit time in connect order and
// returns how many ran. A handler removed by an earlier handler in the same
// emission is skipped.
func (s *Signal[T]) Emit(v T) int {
	s.mu.Lock()
	ids := make([]HandlerID, 0, len(s.handlers))
	for id := range s.handlers {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	invoked := 0
	for _, id := range ids {
		s.mu.Lock()
		h, ok := s.handlers[id]
		if ok && h.once {
			delete(s.handlers, id)
		}
		s.mu.Unlock()
		if !ok {
			continue
		}
		h.fn(v)
		invoked++
	}
	return invoked
}

// Once connects a handler that resolves the returned channel with the next
// emission. cancel disconnects it if it has not fired yet.
func Once[T any](s *Signal[T]) (<-chan T, func()) {
	ch := make(chan T, 1)
	id := s.ConnectOnce(func(v T) {
		ch <- v
	})
	return ch, func() {
		s.Disconnect(id)
	}
}
