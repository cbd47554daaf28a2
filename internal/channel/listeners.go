package channel

import (
	"slices"
	"sync"
)

// Listeners is a reusable Bus implementation: adapters embed it and call
// Emit from their single receive loop.
type Listeners struct {
	mu     sync.RWMutex
	nextID uint64
	fns    map[uint64]func(Event)
}

// Subscribe implements Bus.
func (l *Listeners) Subscribe(fn func(Event)) func() {
	l.mu.Lock()
	if l.fns == nil {
		l.fns = make(map[uint64]func(Event))
	}
	l.nextID++
	id := l.nextID
	l.fns[id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

// Len returns the number of active subscribers.
func (l *Listeners) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fns)
}

// Emit delivers ev to every subscriber in subscription order.
func (l *Listeners) Emit(ev Event) {
	l.mu.RLock()
	ids := make([]uint64, 0, len(l.fns))
	for id := range l.fns {
		ids = append(ids, id)
	}
	l.mu.RUnlock()

	slices.Sort(ids)
	for _, id := range ids {
		// Re-check: an earlier listener may have unsubscribed this one.
		l.mu.RLock()
		fn, ok := l.fns[id]
		l.mu.RUnlock()
		if ok {
			fn(ev)
		}
	}
}
