package channel

import (
	"sync"

	"github.com/samber/lo"
)

type listener[T any] struct {
	id uint64
	fn T
}

// listeners is an append-only registry whose entries can be removed by the func Add returns.
type listeners[T any] struct {
	mu      sync.Mutex
	next    uint64
	entries []listener[T]
}

func (l *listeners[T]) Add(fn T) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	id := l.next
	l.entries = append(l.entries, listener[T]{id: id, fn: fn})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.entries = lo.Reject(l.entries, func(e listener[T], _ int) bool {
			return e.id == id
		})
	}
}

func (l *listeners[T]) Snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return lo.Map(l.entries, func(e listener[T], _ int) T {
		return e.fn
	})
}

func (l *listeners[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
