package web3

import "sync"

// Listeners is a small event-handler registry usable by Emitter
// implementations. The zero value is ready to use.
type Listeners struct {
	mu       sync.Mutex
	handlers map[Event]map[int]Handler
	nextID   int
}

// On registers handler for event and returns a func removing it.
func (l *Listeners) On(event Event, handler Handler) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handlers == nil {
		l.handlers = make(map[Event]map[int]Handler)
	}
	if l.handlers[event] == nil {
		l.handlers[event] = make(map[int]Handler)
	}
	id := l.nextID
	l.nextID++
	l.handlers[event][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.handlers[event], id)
			l.mu.Unlock()
		})
	}
}

// Emit calls every handler registered for event. Handlers run outside the
// lock so they may register or cancel other handlers.
func (l *Listeners) Emit(event Event, payload []string) {
	l.mu.Lock()
	handlers := make([]Handler, 0, len(l.handlers[event]))
	for _, h := range l.handlers[event] {
		handlers = append(handlers, h)
	}
	l.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
}

// Count reports how many handlers are registered for event.
func (l *Listeners) Count(event Event) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handlers[event])
}
