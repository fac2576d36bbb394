package agents

import (
	"context"

	"go.uber.org/zap"

	"github.com/virelang/coordination/internal/bus"
)

// Perception is the adapter through which simulation engine telemetry
// enters the bus. The engine itself lives outside this repository; its
// selections arrive here as method calls and leave as winner events.
type Perception struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewPerception creates the perception adapter.
func NewPerception(b *bus.Bus, logger *zap.Logger) *Perception {
	return &Perception{bus: b, logger: logger}
}

// ObserveWinner publishes one winner event for a best-scoring symbol.
func (p *Perception) ObserveWinner(ctx context.Context, step int64, symbol string, score float64) error {
	msg := &bus.Message{
		Topic: bus.TopicWinner,
		Agent: "perception",
		Step:  step,
		Payload: map[string]any{
			"winner_symbol": symbol,
			"winner_score":  score,
		},
	}
	return p.bus.Publish(ctx, msg)
}

// ObserveBindings publishes one binding_map event. Categories map label
// names to weights, e.g. color -> {red: 0.72, blue: 0.62}.
func (p *Perception) ObserveBindings(ctx context.Context, step int64, categories map[string]map[string]float64) error {
	payload := make(map[string]any, len(categories))
	for name, weights := range categories {
		m := make(map[string]any, len(weights))
		for label, w := range weights {
			m[label] = w
		}
		payload[name] = m
	}
	msg := &bus.Message{
		Topic:   bus.TopicBindingMap,
		Agent:   "perception",
		Step:    step,
		Payload: payload,
	}
	return p.bus.Publish(ctx, msg)
}

// ObserveAffect publishes one affect sample for the current step.
func (p *Perception) ObserveAffect(ctx context.Context, step int64, valence, arousal float64) error {
	msg := &bus.Message{
		Topic: bus.TopicAffect,
		Agent: "perception",
		Step:  step,
		Payload: map[string]any{
			"valence": valence,
			"arousal": arousal,
		},
	}
	return p.bus.Publish(ctx, msg)
}
