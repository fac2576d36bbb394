// Package schema declares per-topic payload schemas and validates messages
// against them before the bus delivers anything. Validation is a pure
// function of the declaration and the payload.
package schema

import (
	"fmt"
	"strings"
)

// Kind is the expected shape of a payload field.
type Kind int

const (
	KindAny Kind = iota
	KindNumber
	KindString
	KindMap
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	}
	return "any"
}

// Field declares a single payload key.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
	// Min/Max bound numeric fields when set.
	Min *float64
	Max *float64
}

// Schema declares the payload contract for one topic.
type Schema struct {
	Topic  string
	Fields []Field
	// Dynamic, when set, constrains every payload key not covered by
	// Fields. Used by topics whose keys are data (binding maps).
	Dynamic *Field
}

// FieldError describes one failing field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError enumerates every failing field of a payload.
type ValidationError struct {
	Topic    string       `json:"topic"`
	SchemaID string       `json:"schema_id,omitempty"`
	Fields   []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Reason
	}
	return fmt.Sprintf("schema %s: %s", e.Topic, strings.Join(parts, "; "))
}

// Registry holds the schema declarations for all known topics.
type Registry struct {
	schemas map[string]*Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register adds or replaces the schema for a topic.
func (r *Registry) Register(s *Schema) {
	r.schemas[s.Topic] = s
}

// Validate checks a payload against the schema registered for the topic.
// Topics without a registered schema pass: the gate only enforces declared
// contracts. The schemaID is carried into the error for audit records but
// does not select an alternative declaration.
func (r *Registry) Validate(topic, schemaID string, payload map[string]any) error {
	s, ok := r.schemas[topic]
	if !ok {
		return nil
	}

	var fails []FieldError
	covered := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		covered[f.Name] = true
		v, present := payload[f.Name]
		if !present {
			if f.Required {
				fails = append(fails, FieldError{Field: f.Name, Reason: "missing required field"})
			}
			continue
		}
		if fe := checkValue(f, v); fe != nil {
			fails = append(fails, *fe)
		}
	}
	if s.Dynamic != nil {
		for name, v := range payload {
			if covered[name] {
				continue
			}
			f := *s.Dynamic
			f.Name = name
			if fe := checkValue(f, v); fe != nil {
				fails = append(fails, *fe)
			}
		}
	}

	if len(fails) == 0 {
		return nil
	}
	return &ValidationError{Topic: topic, SchemaID: schemaID, Fields: fails}
}

func checkValue(f Field, v any) *FieldError {
	switch f.Kind {
	case KindNumber:
		n, ok := asNumber(v)
		if !ok {
			return &FieldError{Field: f.Name, Reason: fmt.Sprintf("expected number, got %T", v)}
		}
		if f.Min != nil && n < *f.Min {
			return &FieldError{Field: f.Name, Reason: fmt.Sprintf("value %v below minimum %v", n, *f.Min)}
		}
		if f.Max != nil && n > *f.Max {
			return &FieldError{Field: f.Name, Reason: fmt.Sprintf("value %v above maximum %v", n, *f.Max)}
		}
	case KindString:
		if _, ok := v.(string); !ok {
			return &FieldError{Field: f.Name, Reason: fmt.Sprintf("expected string, got %T", v)}
		}
	case KindMap:
		if _, ok := v.(map[string]any); !ok {
			return &FieldError{Field: f.Name, Reason: fmt.Sprintf("expected map, got %T", v)}
		}
	case KindList:
		if _, ok := v.([]any); !ok {
			if _, ok := v.([]map[string]any); !ok {
				return &FieldError{Field: f.Name, Reason: fmt.Sprintf("expected list, got %T", v)}
			}
		}
	}
	return nil
}

func asNumber(v any) (float64, bool) {
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

func ptr(f float64) *float64 { return &f }

// CoreRegistry returns the registry covering every topic the coordination
// core publishes or consumes.
func CoreRegistry() *Registry {
	r := NewRegistry()

	r.Register(&Schema{
		Topic: "winner",
		Fields: []Field{
			{Name: "winner_symbol", Kind: KindString, Required: true},
			{Name: "winner_score", Kind: KindNumber, Required: true, Min: ptr(0)},
		},
	})
	r.Register(&Schema{
		Topic: "verify",
		Fields: []Field{
			{Name: "status", Kind: KindString, Required: true},
			{Name: "plan_id", Kind: KindString},
			{Name: "reason", Kind: KindString},
			{Name: "adjustment", Kind: KindMap},
		},
	})
	r.Register(&Schema{
		Topic: "plan",
		Fields: []Field{
			{Name: "plan_id", Kind: KindString, Required: true},
			{Name: "status", Kind: KindString, Required: true},
			{Name: "event", Kind: KindString, Required: true},
			{Name: "summary", Kind: KindString},
			{Name: "symbols", Kind: KindList},
		},
	})
	r.Register(&Schema{
		Topic: "reward",
		Fields: []Field{
			{Name: "plan_id", Kind: KindString, Required: true},
			{Name: "reward_scalar", Kind: KindNumber, Required: true},
			{Name: "confidence", Kind: KindNumber, Required: true, Min: ptr(0), Max: ptr(1)},
			{Name: "symbol", Kind: KindString},
		},
	})
	// Binding maps carry data-bearing keys: every value must be a
	// label-to-weight map.
	r.Register(&Schema{
		Topic:   "binding_map",
		Dynamic: &Field{Kind: KindMap},
	})
	r.Register(&Schema{
		Topic: "binding_metrics",
		Fields: []Field{
			{Name: "categories", Kind: KindMap, Required: true},
		},
	})
	r.Register(&Schema{
		Topic: "narrative",
		Fields: []Field{
			{Name: "text", Kind: KindString, Required: true},
			{Name: "event", Kind: KindString},
		},
	})
	r.Register(&Schema{
		Topic: "language_stage",
		Fields: []Field{
			{Name: "stage", Kind: KindString, Required: true},
			{Name: "vocabulary_size", Kind: KindNumber, Min: ptr(0)},
		},
	})
	r.Register(&Schema{
		Topic: "affect",
		Fields: []Field{
			{Name: "valence", Kind: KindNumber, Required: true, Min: ptr(-1), Max: ptr(1)},
			{Name: "arousal", Kind: KindNumber, Required: true, Min: ptr(0), Max: ptr(1)},
		},
	})
	r.Register(&Schema{
		Topic: "system",
		Fields: []Field{
			{Name: "event", Kind: KindString, Required: true},
		},
	})

	return r
}
