package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/virelang/coordination/internal/bus"
	"github.com/virelang/coordination/internal/policy"
)

// Bridge promotes well-grounded symbol bindings into the shared narrative.
// It consumes the critic's binding_metrics and applies the threshold
// decision rule to each category's ambiguity.
type Bridge struct {
	bus       *bus.Bus
	threshold float64
	logger    *zap.Logger
}

// NewBridge creates the bridge and subscribes it to binding_metrics. The
// threshold is the ambiguity level above which promotion is denied.
func NewBridge(b *bus.Bus, threshold float64, logger *zap.Logger) *Bridge {
	br := &Bridge{bus: b, threshold: threshold, logger: logger}
	b.Subscribe(bus.TopicBindingMetrics, br.handleMetrics)
	return br
}

func (br *Bridge) handleMetrics(ctx context.Context, msg *bus.Message) {
	categories, ok := msg.Payload["categories"].(map[string]any)
	if !ok {
		br.logger.Warn("binding metrics without categories map, skipping",
			zap.String("id", msg.ID))
		return
	}

	for name, raw := range categories {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		label, _ := bus.String(m["top_label"])
		ambiguity, ok := bus.Number(m["ambiguity"])
		if !ok {
			continue
		}

		switch policy.Decide(ambiguity, br.threshold) {
		case policy.Allow:
			br.publishPromotion(ctx, msg.Step, name, label, ambiguity)
		case policy.Review:
			br.logger.Info("binding held for review",
				zap.String("category", name),
				zap.String("label", label),
				zap.Float64("ambiguity", ambiguity))
		case policy.Deny:
			br.logger.Debug("binding promotion denied",
				zap.String("category", name),
				zap.Float64("ambiguity", ambiguity))
		}
	}
}

func (br *Bridge) publishPromotion(ctx context.Context, step int64, category, label string, ambiguity float64) {
	out := &bus.Message{
		Topic: bus.TopicNarrative,
		Agent: "bridge",
		Step:  step,
		Payload: map[string]any{
			"event": "binding_promoted",
			"text":  fmt.Sprintf("binding %s=%s entered the shared lexicon (ambiguity %.2f)", category, label, ambiguity),
		},
	}
	if err := br.bus.Publish(ctx, out); err != nil {
		br.logger.Error("publish promotion failed", zap.String("category", category), zap.Error(err))
	}
}
