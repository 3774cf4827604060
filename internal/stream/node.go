// Package stream moves values between independently scheduled pipeline
// stages. A Node multicasts every value it produces to the queues of the
// stages attached to it; each stage runs as a Runner under the supervisor.
package stream

import (
	"context"
	"fmt"
	"sync"
)

// Runner is a unit of work that blocks until done or ctx is cancelled.
type Runner func(ctx context.Context) error

type options struct {
	lazy     bool
	capacity int
}

type Option func(*options)

// Lazy registers the stage's queue only when its runner starts; values
// produced before then are not seen. This is the default.
func Lazy() Option { return func(o *options) { o.lazy = true } }

// Eager registers the stage's queue at construction so nothing produced
// before the runner starts is lost.
func Eager() Option { return func(o *options) { o.lazy = false } }

// Capacity bounds the stage's input queue; n <= 0 is unbounded.
func Capacity(n int) Option { return func(o *options) { o.capacity = n } }

func buildOptions(opts []Option) options {
	o := options{lazy: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type Node[T any] struct {
	name string

	mu       sync.Mutex
	sinks    []*Queue[T]
	finished bool
}

func newNode[T any](name string) *Node[T] {
	return &Node[T]{name: name}
}

func (n *Node[T]) Name() string { return n.name }

func (n *Node[T]) Finished() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.finished
}

// Subscribe attaches a new queue. On a finished node the queue comes back
// already closed.
func (n *Node[T]) Subscribe(capacity int) *Queue[T] {
	q := NewQueue[T](capacity)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.finished {
		q.Close()
		return q
	}
	n.sinks = append(n.sinks, q)
	return q
}

func (n *Node[T]) emit(ctx context.Context, v T) error {
	n.mu.Lock()
	sinks := append([]*Queue[T](nil), n.sinks...)
	n.mu.Unlock()
	for _, q := range sinks {
		if err := q.Put(ctx, v); err != nil {
			return fmt.Errorf("%s: %w", n.name, err)
		}
	}
	return nil
}

func (n *Node[T]) finish() {
	n.mu.Lock()
	sinks := n.sinks
	n.sinks = nil
	n.finished = true
	n.mu.Unlock()
	for _, q := range sinks {
		q.Close()
	}
}

// Source builds a root node. next returns ok=false at end of stream.
func Source[T any](name string, next func(ctx context.Context) (T, bool, error)) (*Node[T], Runner) {
	node := newNode[T](name)
	run := func(ctx context.Context) error {
		defer node.finish()
		for {
			v, ok, err := next(ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			if !ok {
				return nil
			}
			if err := node.emit(ctx, v); err != nil {
				return err
			}
		}
	}
	return node, run
}

func FromSlice[T any](name string, items []T) (*Node[T], Runner) {
	i := 0
	return Source(name, func(ctx context.Context) (T, bool, error) {
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, false, err
		}
		if i >= len(items) {
			return zero, false, nil
		}
		v := items[i]
		i++
		return v, true, nil
	})
}

// FromChan ends when ch is closed.
func FromChan[T any](name string, ch <-chan T) (*Node[T], Runner) {
	return Source(name, func(ctx context.Context) (T, bool, error) {
		select {
		case v, ok := <-ch:
			return v, ok, nil
		case <-ctx.Done():
			var zero T
			return zero, false, ctx.Err()
		}
	})
}

// attach wires a child stage onto parent. step is called once per parent
// value and may emit any number of child values.
func attach[T, U any](parent *Node[T], name string, opts []Option, step func(ctx context.Context, v T, emit func(U) error) error) (*Node[U], Runner) {
	o := buildOptions(opts)
	child := newNode[U](name)
	var q *Queue[T]
	if !o.lazy {
		q = parent.Subscribe(o.capacity)
	}
	run := func(ctx context.Context) error {
		defer child.finish()
		in := q
		if in == nil {
			in = parent.Subscribe(o.capacity)
		}
		emit := func(u U) error { return child.emit(ctx, u) }
		for {
			v, ok, err := in.Get(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := step(ctx, v, emit); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return child, run
}

func Map[T, U any](parent *Node[T], name string, fn func(context.Context, T) (U, error), opts ...Option) (*Node[U], Runner) {
	return attach(parent, name, opts, func(ctx context.Context, v T, emit func(U) error) error {
		u, err := fn(ctx, v)
		if err != nil {
			return err
		}
		return emit(u)
	})
}

func Filter[T any](parent *Node[T], name string, keep func(T) bool, opts ...Option) (*Node[T], Runner) {
	return attach(parent, name, opts, func(_ context.Context, v T, emit func(T) error) error {
		if !keep(v) {
			return nil
		}
		return emit(v)
	})
}

// Fold emits the running accumulator after every parent value.
func Fold[T, A any](parent *Node[T], name string, init A, fn func(A, T) (A, error), opts ...Option) (*Node[A], Runner) {
	acc := init
	return attach(parent, name, opts, func(_ context.Context, v T, emit func(A) error) error {
		next, err := fn(acc, v)
		if err != nil {
			return err
		}
		acc = next
		return emit(acc)
	})
}

// Each consumes parent values with fn and produces nothing downstream.
func Each[T any](parent *Node[T], name string, fn func(context.Context, T) error, opts ...Option) Runner {
	_, run := attach(parent, name, opts, func(ctx context.Context, v T, _ func(struct{}) error) error {
		return fn(ctx, v)
	})
	return run
}
