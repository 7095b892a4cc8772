// Package queue runs a single background goroutine that drains a buffered
// channel into a handler. The engine uses it for audit events and outbound
// mail so neither blocks a request.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls buffering.
type Config struct {
	BufferSize int
	// DropIfFull makes Submit return immediately when the buffer is full,
	// counting the item as dropped, instead of waiting for room.
	DropIfFull bool
}

// Worker forwards submitted items to handle, one at a time, in order.
type Worker[T any] struct {
	cfg       Config
	handle    func(context.Context, T)
	ch        chan T
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closeOnce sync.Once

	// mu orders sends against Close: a send holds the read lock, so once
	// Close owns the write lock no accepted item can land after the drain.
	mu     sync.RWMutex
	closed bool
}

func New[T any](cfg Config, handle func(context.Context, T)) *Worker[T] {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}

	w := &Worker[T]{
		cfg:    cfg,
		handle: handle,
		ch:     make(chan T, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	w.wg.Add(1)
	go w.run()

	return w
}

func (w *Worker[T]) run() {
	defer w.wg.Done()

	for {
		select {
		case item := <-w.ch:
			w.handle(context.Background(), item)
		case <-w.done:
			for {
				select {
				case item := <-w.ch:
					w.handle(context.Background(), item)
				default:
					return
				}
			}
		}
	}
}

// Submit queues item. It reports false when the item was not queued because
// the worker is closed, the buffer was full under DropIfFull, or ctx ended.
func (w *Worker[T]) Submit(ctx context.Context, item T) bool {
	if w == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}

	if w.cfg.DropIfFull {
		select {
		case w.ch <- item:
			return true
		default:
			w.dropped.Add(1)
			return false
		}
	}

	// run keeps draining until Close takes the write lock, so this send
	// cannot wait forever.
	select {
	case w.ch <- item:
		return true
	case <-ctx.Done():
		w.dropped.Add(1)
		return false
	}
}

// Close stops accepting items, drains what is buffered and waits for the
// handler to return.
func (w *Worker[T]) Close() {
	if w == nil {
		return
	}
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.done)
		w.mu.Unlock()
		w.wg.Wait()
	})
}

func (w *Worker[T]) Dropped() uint64 {
	if w == nil {
		return 0
	}
	return w.dropped.Load()
}
