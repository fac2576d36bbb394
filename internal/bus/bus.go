// Package bus implements the in-process agent bus: synchronous pub/sub
// dispatch with a schema gate in front of delivery and an audit trail on
// the reserved system topic.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/virelang/coordination/internal/schema"
)

// Handler receives messages delivered on a subscribed topic.
type Handler func(ctx context.Context, msg *Message)

// DrainHook flushes deferred side effects of a subscriber (the curator's
// background writer, for example). Registered hooks run on every Drain call.
type DrainHook func(ctx context.Context) error

// Bus routes messages between agents. Delivery is synchronous: Publish
// returns once every subscriber handler for the topic has run, in
// subscription order. Per-topic ordering follows publish order; ordering
// across topics is not defined.
type Bus struct {
	gate   schema.Gate
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[string][]Handler
	all    []Handler
	drains []DrainHook
}

// New creates a bus guarded by the given schema gate.
func New(gate schema.Gate, logger *zap.Logger) *Bus {
	return &Bus{
		gate:   gate,
		logger: logger,
		subs:   make(map[string][]Handler),
	}
}

// Subscribe registers a handler for a single topic.
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], h)
}

// SubscribeAll registers a wildcard handler that receives every delivered
// message, audit records included. The curator wires itself in this way.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// OnDrain registers a hook invoked by Drain, in registration order.
func (b *Bus) OnDrain(hook DrainHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drains = append(b.drains, hook)
}

// Publish validates the message against its topic schema and fans it out.
// Outcome depends on the gate: a blocked message is replaced by a single
// system audit record; a warned message is delivered as published with an
// additional audit record; a clean message is delivered with no audit.
func (b *Bus) Publish(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("publish: nil message")
	}
	if msg.Topic == "" {
		return fmt.Errorf("publish: message has no topic")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	outcome, verr := b.gate.Check(msg.Topic, msg.SchemaID, msg.Payload)
	switch outcome {
	case schema.OutcomeBlocked:
		b.logger.Warn("message blocked by schema gate",
			zap.String("topic", msg.Topic),
			zap.String("agent", msg.Agent),
			zap.Error(verr))
		b.dispatch(ctx, b.auditMessage(msg, "blocked", verr))
		return nil
	case schema.OutcomeWarned:
		b.logger.Warn("message delivered despite schema violation",
			zap.String("topic", msg.Topic),
			zap.String("agent", msg.Agent),
			zap.Error(verr))
		b.dispatch(ctx, b.auditMessage(msg, "warned", verr))
	}

	b.dispatch(ctx, msg)
	return nil
}

// Drain runs every registered drain hook and returns the first error.
// Callers that need delivered messages to be durable call Drain instead of
// sleeping; once it returns, all deferred persistence has completed.
func (b *Bus) Drain(ctx context.Context) error {
	b.mu.RLock()
	hooks := make([]DrainHook, len(b.drains))
	copy(hooks, b.drains)
	b.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			return fmt.Errorf("drain: %w", err)
		}
	}
	return nil
}

// dispatch delivers to topic subscribers in subscription order, then to
// wildcard subscribers.
func (b *Bus) dispatch(ctx context.Context, msg *Message) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[msg.Topic])+len(b.all))
	handlers = append(handlers, b.subs[msg.Topic]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, msg)
	}
}

// auditMessage builds the system-topic record describing a gate decision.
func (b *Bus) auditMessage(original *Message, action string, verr error) *Message {
	payload := map[string]any{
		"event":          "schema_violation",
		"action":         action,
		"original_topic": original.Topic,
		"original_agent": original.Agent,
		"original_id":    original.ID,
	}
	if verr != nil {
		payload["error"] = verr.Error()
	}
	return &Message{
		ID:        uuid.New().String(),
		Topic:     TopicSystem,
		Agent:     "bus",
		Step:      original.Step,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}
