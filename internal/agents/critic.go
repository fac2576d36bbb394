// Package agents holds the peripheral bus agents: the critic, the
// perception and language adapters, and the emergent bridge. They are
// producers and consumers at the edge of the coordination core; only their
// topic contracts are load-bearing.
package agents

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/virelang/coordination/internal/bus"
)

// CategoryMetrics is the critic's judgment of one binding category.
type CategoryMetrics struct {
	TopLabel   string  `json:"top_label"`
	Confidence float64 `json:"confidence"`
	Ambiguity  float64 `json:"ambiguity"`
}

// Critic derives confidence and ambiguity metrics from binding maps and
// publishes them on the binding_metrics topic.
type Critic struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewCritic creates the critic and subscribes it to binding_map.
func NewCritic(b *bus.Bus, logger *zap.Logger) *Critic {
	c := &Critic{bus: b, logger: logger}
	b.Subscribe(bus.TopicBindingMap, c.handleBindingMap)
	return c
}

// handleBindingMap scores every category of the incoming map. Confidence
// is the top weight; ambiguity is high when the runner-up is close.
func (c *Critic) handleBindingMap(ctx context.Context, msg *bus.Message) {
	categories := make(map[string]any)
	for name, raw := range msg.Payload {
		weights, ok := raw.(map[string]any)
		if !ok {
			c.logger.Warn("binding category is not a weight map, skipping",
				zap.String("category", name))
			continue
		}
		m := scoreCategory(weights)
		if m == nil {
			continue
		}
		categories[name] = map[string]any{
			"top_label":  m.TopLabel,
			"confidence": m.Confidence,
			"ambiguity":  m.Ambiguity,
		}
	}
	if len(categories) == 0 {
		return
	}

	out := &bus.Message{
		Topic:   bus.TopicBindingMetrics,
		Agent:   "critic",
		Step:    msg.Step,
		Payload: map[string]any{"categories": categories},
	}
	if err := c.bus.Publish(ctx, out); err != nil {
		c.logger.Error("publish binding metrics failed", zap.Error(err))
	}
}

// scoreCategory ranks labels by weight. With a single label ambiguity is
// zero; with a close runner-up it approaches one.
func scoreCategory(weights map[string]any) *CategoryMetrics {
	type lw struct {
		label  string
		weight float64
	}
	ranked := make([]lw, 0, len(weights))
	for label, raw := range weights {
		w, ok := bus.Number(raw)
		if !ok {
			continue
		}
		ranked = append(ranked, lw{label: label, weight: w})
	}
	if len(ranked) == 0 {
		return nil
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].weight != ranked[j].weight {
			return ranked[i].weight > ranked[j].weight
		}
		return ranked[i].label < ranked[j].label
	})

	top := ranked[0]
	margin := top.weight
	if len(ranked) > 1 {
		margin = top.weight - ranked[1].weight
	}
	ambiguity := 1 - margin
	if ambiguity < 0 {
		ambiguity = 0
	}
	if ambiguity > 1 {
		ambiguity = 1
	}
	return &CategoryMetrics{TopLabel: top.label, Confidence: top.weight, Ambiguity: ambiguity}
}
