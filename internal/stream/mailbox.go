package stream

import (
	"context"
	"sync"
)

// Mailbox is a single-slot variable. Writers overwrite; Read blocks until a
// value has been written since the previous Read.
type Mailbox[T any] struct {
	mu    sync.Mutex
	value T
	has   bool
	fresh bool
	wake  chan struct{}
}

func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{wake: make(chan struct{})}
}

func (m *Mailbox[T]) Write(v T) {
	m.mu.Lock()
	m.value = v
	m.has = true
	m.fresh = true
	close(m.wake)
	m.wake = make(chan struct{})
	m.mu.Unlock()
}

// Read consumes the pending write, blocking until there is one.
func (m *Mailbox[T]) Read(ctx context.Context) (T, error) {
	return m.wait(ctx, true)
}

// Await blocks until any value has been written and returns the latest one
// without consuming it.
func (m *Mailbox[T]) Await(ctx context.Context) (T, error) {
	return m.wait(ctx, false)
}

func (m *Mailbox[T]) Latest() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, m.has
}

func (m *Mailbox[T]) wait(ctx context.Context, consume bool) (T, error) {
	for {
		m.mu.Lock()
		if (consume && m.fresh) || (!consume && m.has) {
			v := m.value
			if consume {
				m.fresh = false
			}
			m.mu.Unlock()
			return v, nil
		}
		wake := m.wake
		m.mu.Unlock()
		select {
		case <-wake:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}
