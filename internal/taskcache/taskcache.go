// Package taskcache deduplicates expensive keyed operations.
//
// Concurrent callers asking for the same key share one in-flight Task. A task that
// completes successfully stays cached for a fixed time-to-live measured from its
// completion; a task that fails is evicted as soon as it completes so the next caller
// starts over.
package taskcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrProducerPanic is returned by tasks whose producer panicked.
var ErrProducerPanic = errors.New("task producer panicked")

// Producer computes the value for a key. It runs in its own goroutine with a
// context that is not cancelled when the triggering caller goes away.
type Producer[V any] func(ctx context.Context) (V, error)

// Task is a handle to one execution of a Producer.
type Task[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// Done is closed once the task has completed.
func (t *Task[V]) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task completes or ctx is done. Cancelling ctx only stops
// this caller from waiting; the task keeps running for the other callers.
func (t *Task[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Cache maps keys to tasks. The zero value is not usable; use New.
type Cache[K comparable, V any] struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[K]*Task[V]
	timers  map[K]*time.Timer
}

// New creates a cache whose successful entries expire ttl after completion.
// A ttl of zero or less keeps successful entries for the life of the cache.
func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	slog.Debug("taskcache New", "ttl", ttl)
	return &Cache[K, V]{
		ttl:     ttl,
		entries: make(map[K]*Task[V]),
		timers:  make(map[K]*time.Timer),
	}
}

// Invoke returns the live task for key, starting producer when there is none.
// A cached task that completed with an error is never returned.
func (c *Cache[K, V]) Invoke(ctx context.Context, key K, producer Producer[V]) *Task[V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if task, ok := c.entries[key]; ok {
		select {
		case <-task.done:
			if task.err == nil {
				slog.Debug("taskcache Invoke: serving completed task", "key", key)
				return task
			}
			// failed tasks are evicted on completion; this covers the window
			// between completion and the eviction acquiring the lock
			c.evictLocked(key, task)
		default:
			slog.Debug("taskcache Invoke: sharing in-flight task", "key", key)
			return task
		}
	}

	task := &Task[V]{done: make(chan struct{})}
	c.entries[key] = task
	slog.Debug("taskcache Invoke: starting new task", "key", key)

	go c.run(context.WithoutCancel(ctx), key, task, producer)
	return task
}

func (c *Cache[K, V]) run(ctx context.Context, key K, task *Task[V], producer Producer[V]) {
	task.value, task.err = safeProduce(ctx, producer)
	close(task.done)

	c.mu.Lock()
	defer c.mu.Unlock()

	if task.err != nil {
		slog.Debug("taskcache task failed, evicting", "key", key, "error", task.err)
		c.evictLocked(key, task)
		return
	}
	if c.ttl <= 0 || c.entries[key] != task {
		return
	}
	c.timers[key] = time.AfterFunc(c.ttl, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		slog.Debug("taskcache entry expired", "key", key)
		c.evictLocked(key, task)
	})
}

// safeProduce runs producer and reports a panic as an error instead of crashing
// every goroutine waiting on the task.
func safeProduce[V any](ctx context.Context, producer Producer[V]) (value V, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("taskcache producer panicked", "panic", r)
			err = fmt.Errorf("%w: %v", ErrProducerPanic, r)
		}
	}()
	return producer(ctx)
}

// evictLocked removes key only if it still maps to task, so a stale timer can
// never drop a newer task. Callers hold c.mu.
func (c *Cache[K, V]) evictLocked(key K, task *Task[V]) {
	if c.entries[key] != task {
		return
	}
	delete(c.entries, key)
	if timer, ok := c.timers[key]; ok {
		timer.Stop()
		delete(c.timers, key)
	}
}

// Len returns the number of cached tasks, running or completed.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stop cancels every pending expiry timer and forgets all entries.
// Running producers are left to finish on their own.
func (c *Cache[K, V]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, timer := range c.timers {
		timer.Stop()
		delete(c.timers, key)
	}
	c.entries = make(map[K]*Task[V])
	slog.Debug("taskcache stopped")
}
