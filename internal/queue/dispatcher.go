package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"
)

// Processor handles one item. Errors and panics are logged and the drain
// continues with the next item.
type Processor[T any] func(ctx context.Context, item T) error

type entry[T any] struct {
	id         string
	item       T
	enqueuedAt time.Time
}

// Dispatcher decouples producers from slow processing. Producers enqueue
// without blocking; a single drain goroutine processes items in FIFO order.
type Dispatcher[T any] struct {
	ctx     context.Context
	process Processor[T]
	log     *slog.Logger

	mu       sync.Mutex
	items    []entry[T]
	draining bool
	idle     chan struct{}

	spawn func(func())
}

func New[T any](ctx context.Context, process func(ctx context.Context, item T) error, logger *slog.Logger) *Dispatcher[T] {
	if logger == nil {
		logger = slog.Default()
	}
	idle := make(chan struct{})
	close(idle)
	return &Dispatcher[T]{
		ctx:     ctx,
		process: process,
		log:     logger,
		idle:    idle,
		spawn:   func(f func()) { go f() },
	}
}

// Enqueue appends item and returns its id. It never blocks on processing;
// if no drain pass is running one is started on a new goroutine.
func (d *Dispatcher[T]) Enqueue(item T) string {
	id := xid.New().String()

	d.mu.Lock()
	d.items = append(d.items, entry[T]{id: id, item: item, enqueuedAt: time.Now()})
	start := !d.draining
	if start {
		d.draining = true
		d.idle = make(chan struct{})
	}
	d.mu.Unlock()

	if start {
		d.spawn(d.drain)
	}
	return id
}

// Size is the number of items waiting, excluding the one being processed.
func (d *Dispatcher[T]) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// Processing reports whether a drain pass is active.
func (d *Dispatcher[T]) Processing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draining
}

// Clear drops every waiting item and returns how many were dropped. The
// item currently being processed is unaffected.
func (d *Dispatcher[T]) Clear() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.items)
	d.items = nil
	return n
}

// Wait blocks until the queue is empty and no drain pass is running.
func (d *Dispatcher[T]) Wait(ctx context.Context) error {
	for {
		d.mu.Lock()
		idle := d.idle
		d.mu.Unlock()

		select {
		case <-idle:
			d.mu.Lock()
			done := !d.draining && len(d.items) == 0
			d.mu.Unlock()
			if done {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Dispatcher[T]) drain() {
	for {
		d.mu.Lock()
		if len(d.items) == 0 {
			d.draining = false
			close(d.idle)
			d.mu.Unlock()
			return
		}
		e := d.items[0]
		d.items[0] = entry[T]{}
		d.items = d.items[1:]
		d.mu.Unlock()

		d.run(e)
	}
}

func (d *Dispatcher[T]) run(e entry[T]) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("queue item panicked", "id", e.id, "panic", fmt.Sprint(r))
		}
	}()

	start := time.Now()
	if err := d.process(d.ctx, e.item); err != nil {
		d.log.Error("queue item failed", "id", e.id, "error", err)
		return
	}
	d.log.Debug("queue item processed", "id", e.id, "waited", start.Sub(e.enqueuedAt), "took", time.Since(start))
}
