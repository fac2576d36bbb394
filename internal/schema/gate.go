package schema

import "fmt"

// Outcome is the gate's delivery decision for a single message.
type Outcome int

const (
	// OutcomeDelivered routes the message to its topic subscribers.
	OutcomeDelivered Outcome = iota
	// OutcomeBlocked suppresses delivery; only an audit record is emitted.
	OutcomeBlocked
	// OutcomeWarned delivers the message and emits an audit record.
	OutcomeWarned
)

// Gate decides what the bus does with a message. Implementations wrap the
// same validator; they differ only in how a violation maps to an outcome.
type Gate interface {
	Check(topic, schemaID string, payload map[string]any) (Outcome, error)
}

// StrictGate blocks messages that fail validation.
type StrictGate struct {
	registry *Registry
}

// PermissiveGate delivers messages that fail validation, flagging them.
type PermissiveGate struct {
	registry *Registry
}

// NewStrictGate wraps the registry in blocking enforcement.
func NewStrictGate(r *Registry) *StrictGate { return &StrictGate{registry: r} }

// NewPermissiveGate wraps the registry in warn-only enforcement.
func NewPermissiveGate(r *Registry) *PermissiveGate { return &PermissiveGate{registry: r} }

func (g *StrictGate) Check(topic, schemaID string, payload map[string]any) (Outcome, error) {
	if err := g.registry.Validate(topic, schemaID, payload); err != nil {
		return OutcomeBlocked, err
	}
	return OutcomeDelivered, nil
}

func (g *PermissiveGate) Check(topic, schemaID string, payload map[string]any) (Outcome, error) {
	if err := g.registry.Validate(topic, schemaID, payload); err != nil {
		return OutcomeWarned, err
	}
	return OutcomeDelivered, nil
}

// Validator modes accepted by NewGate.
const (
	ModeStrict = "strict"
	ModeOff    = "off"
)

// NewGate builds the gate for a configured validator mode.
func NewGate(mode string, r *Registry) (Gate, error) {
	switch mode {
	case ModeStrict:
		return NewStrictGate(r), nil
	case ModeOff:
		return NewPermissiveGate(r), nil
	}
	return nil, fmt.Errorf("unknown validator mode %q (want %q or %q)", mode, ModeStrict, ModeOff)
}
