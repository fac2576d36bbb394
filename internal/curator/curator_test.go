package curator

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/virelang/coordination/internal/bus"
	"github.com/virelang/coordination/internal/schema"
)

func newWiredBus(t *testing.T, gate schema.Gate, store Store) (*bus.Bus, *Curator) {
	t.Helper()
	b := bus.New(gate, zap.NewNop())
	cur := New(store, zap.NewNop())
	cur.SubscribeAll(b)
	t.Cleanup(func() { cur.Close(context.Background()) })
	return b, cur
}

func TestEveryPublishYieldsOneRecord(t *testing.T) {
	mem := NewMemStore()
	b, cur := newWiredBus(t, schema.NewStrictGate(schema.CoreRegistry()), mem)
	ctx := context.Background()

	// A valid publish: one row for the message itself.
	err := b.Publish(ctx, &bus.Message{
		Topic:   bus.TopicWinner,
		Agent:   "perception",
		Payload: map[string]any{"winner_symbol": "kib", "winner_score": 0.9},
	})
	if err != nil {
		t.Fatal(err)
	}
	// A blocked publish: one row for the audit record standing in for it.
	err = b.Publish(ctx, &bus.Message{Topic: bus.TopicReward, Payload: map[string]any{}})
	if err != nil {
		t.Fatal(err)
	}

	if err := cur.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if got := mem.Len(); got != 2 {
		t.Fatalf("store holds %d rows after 2 publishes, want 2", got)
	}

	audits, err := mem.MessagesByTopic(ctx, bus.TopicSystem, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(audits) != 1 {
		t.Fatalf("got %d audit rows, want 1", len(audits))
	}
}

func TestPermissivePublishYieldsMessageAndAudit(t *testing.T) {
	mem := NewMemStore()
	b, cur := newWiredBus(t, schema.NewPermissiveGate(schema.CoreRegistry()), mem)
	ctx := context.Background()

	err := b.Publish(ctx, &bus.Message{Topic: bus.TopicReward, Payload: map[string]any{}})
	if err != nil {
		t.Fatal(err)
	}
	if err := cur.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	delivered, err := mem.MessagesByTopic(ctx, bus.TopicReward, 0)
	if err != nil {
		t.Fatal(err)
	}
	audits, err := mem.MessagesByTopic(ctx, bus.TopicSystem, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(delivered) != 1 || len(audits) != 1 {
		t.Fatalf("got %d delivered and %d audits, want 1 and 1", len(delivered), len(audits))
	}
}

func TestAppendRoundTrip(t *testing.T) {
	mem := NewMemStore()
	b, cur := newWiredBus(t, schema.NewStrictGate(schema.CoreRegistry()), mem)
	ctx := context.Background()

	payload := map[string]any{
		"winner_symbol": "glatt",
		"winner_score":  0.875,
	}
	msg := &bus.Message{Topic: bus.TopicWinner, Agent: "perception", Step: 12, Payload: payload}
	if err := b.Publish(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if err := cur.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	stored, err := mem.MessagesByTopic(ctx, bus.TopicWinner, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Fatalf("got %d rows, want 1", len(stored))
	}
	got := stored[0]
	if !reflect.DeepEqual(got.Payload, payload) {
		t.Errorf("payload round-trip mismatch: got %v, want %v", got.Payload, payload)
	}
	if got.Topic != msg.Topic || got.Agent != msg.Agent || got.Step != msg.Step || got.ID != msg.ID {
		t.Errorf("envelope mismatch: got %+v, want %+v", got, msg)
	}
}

func TestCuratorCloneInsulatesFromMutation(t *testing.T) {
	mem := NewMemStore()
	b, cur := newWiredBus(t, schema.NewStrictGate(schema.CoreRegistry()), mem)
	ctx := context.Background()

	payload := map[string]any{"winner_symbol": "kib", "winner_score": 0.5}
	if err := b.Publish(ctx, &bus.Message{Topic: bus.TopicWinner, Payload: payload}); err != nil {
		t.Fatal(err)
	}
	payload["winner_symbol"] = "mutated"

	if err := cur.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	stored, err := mem.MessagesByTopic(ctx, bus.TopicWinner, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := bus.String(stored[0].Payload["winner_symbol"]); got != "kib" {
		t.Errorf("stored symbol = %q, want the value at publish time", got)
	}
}

// failStore rejects every append.
type failStore struct {
	MemStore
	err error
}

func (s *failStore) AppendMessage(ctx context.Context, msg *bus.Message) error {
	return s.err
}

func TestStorageFailureSurfacesOnFlush(t *testing.T) {
	sentinel := errors.New("tablespace full")
	fs := &failStore{err: sentinel}
	b, cur := newWiredBus(t, schema.NewStrictGate(schema.CoreRegistry()), fs)
	ctx := context.Background()

	err := b.Publish(ctx, &bus.Message{
		Topic:   bus.TopicWinner,
		Payload: map[string]any{"winner_symbol": "kib", "winner_score": 0.5},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := cur.Flush(ctx); !errors.Is(err, sentinel) {
		t.Fatalf("flush error = %v, want wrapped %v", err, sentinel)
	}
	// The failure is terminal: later flushes keep reporting it.
	if err := cur.Flush(ctx); !errors.Is(err, sentinel) {
		t.Fatalf("second flush error = %v, want wrapped %v", err, sentinel)
	}
}

func TestDrainFlushesCurator(t *testing.T) {
	mem := NewMemStore()
	b, _ := newWiredBus(t, schema.NewStrictGate(schema.CoreRegistry()), mem)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		err := b.Publish(ctx, &bus.Message{
			Topic:   bus.TopicNarrative,
			Agent:   "bridge",
			Payload: map[string]any{"text": "entry"},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Drain(ctx); err != nil {
		t.Fatal(err)
	}
	if got := mem.Len(); got != 20 {
		t.Fatalf("store holds %d rows after drain, want 20", got)
	}
}

func TestViewsOverRawLog(t *testing.T) {
	mem := NewMemStore()
	b, cur := newWiredBus(t, schema.NewStrictGate(schema.CoreRegistry()), mem)
	ctx := context.Background()

	publish := func(topic string, step int64, agent string, payload map[string]any) {
		t.Helper()
		if err := b.Publish(ctx, &bus.Message{Topic: topic, Agent: agent, Step: step, Payload: payload}); err != nil {
			t.Fatal(err)
		}
	}

	publish(bus.TopicNarrative, 1, "bridge", map[string]any{"text": "binding color=red entered the shared lexicon"})
	publish(bus.TopicNarrative, 2, "bridge", map[string]any{"text": "binding shape=round entered the shared lexicon"})
	publish(bus.TopicLanguageStage, 3, "language", map[string]any{"stage": "lexical", "vocabulary_size": 12})

	narrative, err := cur.Narrative(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(narrative) != 2 {
		t.Fatalf("got %d narrative rows, want 2", len(narrative))
	}
	if narrative[0].Step != 1 || narrative[1].Step != 2 {
		t.Errorf("narrative rows out of order: %+v", narrative)
	}

	stages, err := cur.LanguageStages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 1 {
		t.Fatalf("got %d language rows, want 1", len(stages))
	}
	if stages[0].Stage != "lexical" || stages[0].VocabularySize != 12 {
		t.Errorf("language row = %+v, want lexical/12", stages[0])
	}
}

func TestPlansViewAggregatesLatestStatus(t *testing.T) {
	mem := NewMemStore()
	b, cur := newWiredBus(t, schema.NewStrictGate(schema.CoreRegistry()), mem)
	ctx := context.Background()

	plan := func(id, status, event, summary string, step int64) {
		t.Helper()
		err := b.Publish(ctx, &bus.Message{
			Topic: bus.TopicPlan,
			Agent: "planner",
			Step:  step,
			Payload: map[string]any{
				"plan_id": id,
				"status":  status,
				"event":   event,
				"summary": summary,
			},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	plan("p1", "pending", "created", "plan over 3 winners", 3)
	plan("p2", "pending", "created", "plan over 3 winners", 6)
	plan("p1", "confirmed", "status", "plan over 3 winners", 3)

	rows, err := cur.Plans(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d logical plans, want 2", len(rows))
	}
	if rows[0].ID != "p1" || rows[0].Status != "confirmed" {
		t.Errorf("p1 row = %+v, want confirmed", rows[0])
	}
	if rows[1].ID != "p2" || rows[1].Status != "pending" {
		t.Errorf("p2 row = %+v, want pending", rows[1])
	}

	transitions, err := cur.PlanTransitions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(transitions) != 3 {
		t.Fatalf("got %d transition rows, want 3", len(transitions))
	}
}

func TestRecentLimit(t *testing.T) {
	mem := NewMemStore()
	b, cur := newWiredBus(t, schema.NewStrictGate(schema.CoreRegistry()), mem)
	ctx := context.Background()

	for i := int64(1); i <= 10; i++ {
		err := b.Publish(ctx, &bus.Message{
			Topic:   bus.TopicNarrative,
			Step:    i,
			Payload: map[string]any{"text": "entry"},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	recent, err := cur.Recent(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 3 {
		t.Fatalf("got %d recent rows, want 3", len(recent))
	}
	if recent[0].Step != 8 || recent[2].Step != 10 {
		t.Errorf("recent window = steps %d..%d, want 8..10", recent[0].Step, recent[2].Step)
	}
}

func TestCloseRejectsLateMessages(t *testing.T) {
	mem := NewMemStore()
	cur := New(mem, zap.NewNop())
	ctx := context.Background()

	if err := cur.Close(ctx); err != nil {
		t.Fatal(err)
	}
	// Must not panic or deadlock.
	cur.Handle(ctx, &bus.Message{Topic: bus.TopicNarrative, Payload: map[string]any{"text": "late"}})
	if mem.Len() != 0 {
		t.Error("message appended after close")
	}
}
