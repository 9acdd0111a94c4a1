package store

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Wait once the broadcaster is closed
var ErrClosed = errors.New("broadcaster closed")

// Broadcaster hands the latest value to any number of listeners. Listeners
// that fall behind skip intermediate values and see only the newest one.
type Broadcaster[T any] struct {
	mu         *sync.Mutex
	cond       *sync.Cond
	generation uint64
	value      T
	closed     bool
}

// Listener tracks the last generation one subscriber has seen
type Listener[T any] struct {
	broadcaster    *Broadcaster[T]
	lastGeneration uint64
}

func NewBroadcaster[T any]() *Broadcaster[T] {
	mu := &sync.Mutex{}

	return &Broadcaster[T]{
		mu:   mu,
		cond: sync.NewCond(mu),
	}
}

func (b *Broadcaster[T]) Broadcast(value T) {
	b.mu.Lock()
	b.generation++
	b.value = value
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Listener returns a subscriber that has seen nothing yet
func (b *Broadcaster[T]) Listener() *Listener[T] {
	return &Listener[T]{
		broadcaster: b,
	}
}

// Wait blocks until a value newer than the last one returned is available,
// the broadcaster closes, or ctx is done
func (l *Listener[T]) Wait(ctx context.Context) (T, error) {
	var zero T
	b := l.broadcaster

	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.generation <= l.lastGeneration && !b.closed {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		b.cond.Wait()
	}

	if b.generation > l.lastGeneration {
		l.lastGeneration = b.generation
		return b.value, nil
	}
	return zero, ErrClosed
}
