package curator

import (
	"context"
	"fmt"

	"github.com/virelang/coordination/internal/bus"
)

// PlanRow is one entry of the plans view. The raw log holds one plan-topic
// message per creation or status transition; the view surfaces either the
// full transition history or the latest row per plan id.
type PlanRow struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Event       string `json:"event"`
	Summary     string `json:"summary,omitempty"`
	CreatedStep int64  `json:"created_step"`
}

// RewardRow is one entry of the reward view. Verify-origin rewards are the
// rows without a symbol.
type RewardRow struct {
	PlanID       string  `json:"plan_id"`
	RewardScalar float64 `json:"reward_scalar"`
	Confidence   float64 `json:"confidence"`
	Step         int64   `json:"step"`
	Symbol       string  `json:"symbol,omitempty"`
	VerifyOrigin bool    `json:"verify_origin"`
}

// NarrativeRow is one entry of the narrative view.
type NarrativeRow struct {
	Step  int64  `json:"step"`
	Agent string `json:"agent"`
	Text  string `json:"text"`
}

// LanguageRow is one entry of the language-stage view.
type LanguageRow struct {
	Step           int64  `json:"step"`
	Agent          string `json:"agent"`
	Stage          string `json:"stage"`
	VocabularySize int    `json:"vocabulary_size"`
}

// PlanTransitions returns one row per plan-topic record in append order:
// the creation row plus one row per status transition.
func (c *Curator) PlanTransitions(ctx context.Context) ([]PlanRow, error) {
	msgs, err := c.topicMessages(ctx, bus.TopicPlan)
	if err != nil {
		return nil, err
	}
	rows := make([]PlanRow, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, planRow(m))
	}
	return rows, nil
}

// Plans returns one logical row per plan id, in creation order, reflecting
// the latest known status.
func (c *Curator) Plans(ctx context.Context) ([]PlanRow, error) {
	msgs, err := c.topicMessages(ctx, bus.TopicPlan)
	if err != nil {
		return nil, err
	}

	var order []string
	latest := make(map[string]PlanRow)
	created := make(map[string]int64)
	for _, m := range msgs {
		row := planRow(m)
		if _, seen := latest[row.ID]; !seen {
			order = append(order, row.ID)
			created[row.ID] = row.CreatedStep
		}
		// Creation step and summary come from the first record; later
		// transition records only move the status.
		if row.Summary == "" {
			row.Summary = latest[row.ID].Summary
		}
		row.CreatedStep = created[row.ID]
		latest[row.ID] = row
	}

	rows := make([]PlanRow, 0, len(order))
	for _, id := range order {
		rows = append(rows, latest[id])
	}
	return rows, nil
}

// Rewards returns the reward view. With verifyOnly set, rows carrying a
// symbol (reinforcement rewards tied to individual symbols) are excluded.
func (c *Curator) Rewards(ctx context.Context, verifyOnly bool) ([]RewardRow, error) {
	msgs, err := c.topicMessages(ctx, bus.TopicReward)
	if err != nil {
		return nil, err
	}
	rows := make([]RewardRow, 0, len(msgs))
	for _, m := range msgs {
		row := RewardRow{Step: m.Step}
		row.PlanID, _ = bus.String(m.Payload["plan_id"])
		row.RewardScalar, _ = bus.Number(m.Payload["reward_scalar"])
		row.Confidence, _ = bus.Number(m.Payload["confidence"])
		_, hasSymbol := m.Payload["symbol"]
		if hasSymbol {
			row.Symbol, _ = bus.String(m.Payload["symbol"])
		}
		row.VerifyOrigin = !hasSymbol
		if verifyOnly && hasSymbol {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Narrative returns narrative entries in append order.
func (c *Curator) Narrative(ctx context.Context) ([]NarrativeRow, error) {
	msgs, err := c.topicMessages(ctx, bus.TopicNarrative)
	if err != nil {
		return nil, err
	}
	rows := make([]NarrativeRow, 0, len(msgs))
	for _, m := range msgs {
		text, _ := bus.String(m.Payload["text"])
		rows = append(rows, NarrativeRow{Step: m.Step, Agent: m.Agent, Text: text})
	}
	return rows, nil
}

// LanguageStages returns language-stage entries in append order.
func (c *Curator) LanguageStages(ctx context.Context) ([]LanguageRow, error) {
	msgs, err := c.topicMessages(ctx, bus.TopicLanguageStage)
	if err != nil {
		return nil, err
	}
	rows := make([]LanguageRow, 0, len(msgs))
	for _, m := range msgs {
		stage, _ := bus.String(m.Payload["stage"])
		vocab, _ := bus.Number(m.Payload["vocabulary_size"])
		rows = append(rows, LanguageRow{Step: m.Step, Agent: m.Agent, Stage: stage, VocabularySize: int(vocab)})
	}
	return rows, nil
}

// Recent returns the most recent raw log records, newest last.
func (c *Curator) Recent(ctx context.Context, limit int) ([]*bus.Message, error) {
	if err := c.Flush(ctx); err != nil {
		return nil, err
	}
	msgs, err := c.store.RecentMessages(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	return msgs, nil
}

// topicMessages flushes pending appends so views read their own writes,
// then scans the raw log for one topic.
func (c *Curator) topicMessages(ctx context.Context, topic string) ([]*bus.Message, error) {
	if err := c.Flush(ctx); err != nil {
		return nil, err
	}
	msgs, err := c.store.MessagesByTopic(ctx, topic, 0)
	if err != nil {
		return nil, fmt.Errorf("scan %s messages: %w", topic, err)
	}
	return msgs, nil
}

func planRow(m *bus.Message) PlanRow {
	row := PlanRow{CreatedStep: m.Step}
	row.ID, _ = bus.String(m.Payload["plan_id"])
	row.Status, _ = bus.String(m.Payload["status"])
	row.Event, _ = bus.String(m.Payload["event"])
	row.Summary, _ = bus.String(m.Payload["summary"])
	return row
}
