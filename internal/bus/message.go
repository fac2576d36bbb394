package bus

import "time"

// Core topics routed by the bus. Subscribers reference these rather than
// bare strings; the schema registry keys its declarations by the same names.
const (
	TopicWinner         = "winner"
	TopicVerify         = "verify"
	TopicPlan           = "plan"
	TopicReward         = "reward"
	TopicBindingMap     = "binding_map"
	TopicBindingMetrics = "binding_metrics"
	TopicNarrative      = "narrative"
	TopicLanguageStage  = "language_stage"
	TopicAffect         = "affect"

	// TopicSystem is reserved for audit records emitted by the bus itself
	// (validation blocks and warnings, unresolvable references).
	TopicSystem = "system"
)

// Message is the unit of communication between agents.
type Message struct {
	ID        string         `json:"id"`
	Topic     string         `json:"topic"`
	Agent     string         `json:"agent,omitempty"`
	Step      int64          `json:"step"`
	SchemaID  string         `json:"schema_id,omitempty"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Clone returns a copy of the message with a shallow copy of the payload,
// so subscribers that stash messages are insulated from later key mutation.
func (m *Message) Clone() *Message {
	c := *m
	if m.Payload != nil {
		c.Payload = make(map[string]any, len(m.Payload))
		for k, v := range m.Payload {
			c.Payload[k] = v
		}
	}
	return &c
}

// Number coerces a payload value to float64. JSON decoding yields float64,
// but in-process publishers frequently hand over native ints.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// String coerces a payload value to string.
func String(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}
