// Package curator durably persists every message the bus delivers and
// derives the queryable views downstream export tooling reads.
package curator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/virelang/coordination/internal/bus"
)

// Store is the durable log the curator appends to. The curator is the sole
// writer; reads scan in append order.
type Store interface {
	AppendMessage(ctx context.Context, msg *bus.Message) error
	MessagesByTopic(ctx context.Context, topic string, limit int) ([]*bus.Message, error)
	RecentMessages(ctx context.Context, limit int) ([]*bus.Message, error)
}

// Curator subscribes to every bus topic and appends each delivered message
// to the store. Appends run on a single background writer so Publish never
// blocks on storage; Flush is the durability barrier.
type Curator struct {
	store  Store
	logger *zap.Logger

	jobs chan job
	done chan struct{}

	mu       sync.Mutex
	writeErr error
	closed   bool
}

type job struct {
	msg   *bus.Message
	flush chan error
}

// New creates a curator writing to the given store and starts its writer.
func New(store Store, logger *zap.Logger) *Curator {
	c := &Curator{
		store:  store,
		logger: logger,
		jobs:   make(chan job, 256),
		done:   make(chan struct{}),
	}
	go c.writer()
	return c
}

// SubscribeAll wires the curator to every topic on the bus, system topic
// included, and registers Flush as the bus drain barrier.
func (c *Curator) SubscribeAll(b *bus.Bus) {
	b.SubscribeAll(c.Handle)
	b.OnDrain(c.Flush)
}

// Handle enqueues one delivered message for persistence. It keeps a clone
// so publishers that reuse payload maps cannot corrupt the record.
func (c *Curator) Handle(ctx context.Context, msg *bus.Message) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Error("message received after curator close",
			zap.String("topic", msg.Topic), zap.String("id", msg.ID))
		return
	}
	c.mu.Unlock()

	c.jobs <- job{msg: msg.Clone()}
}

// Flush blocks until every message enqueued before the call is durably
// appended, then reports the first storage error seen by the writer.
// Storage failures are terminal: once an append fails, Flush keeps
// returning that error.
func (c *Curator) Flush(ctx context.Context) error {
	ch := make(chan error, 1)
	select {
	case c.jobs <- job{flush: ch}:
	case <-c.done:
		return c.firstError()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes, stops the writer, and reports any storage error. The
// curator accepts no messages afterwards.
func (c *Curator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.firstErrorLocked()
	}
	c.closed = true
	c.mu.Unlock()

	err := c.Flush(ctx)
	close(c.jobs)
	<-c.done
	return err
}

func (c *Curator) writer() {
	defer close(c.done)
	for j := range c.jobs {
		if j.flush != nil {
			j.flush <- c.firstError()
			continue
		}
		if err := c.store.AppendMessage(context.Background(), j.msg); err != nil {
			c.recordError(fmt.Errorf("append %s message %s: %w", j.msg.Topic, j.msg.ID, err))
		}
	}
}

func (c *Curator) recordError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr == nil {
		c.writeErr = err
	}
	c.logger.Error("durable append failed", zap.Error(err))
}

func (c *Curator) firstError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstErrorLocked()
}

func (c *Curator) firstErrorLocked() error {
	return c.writeErr
}
