// Package e2e exercises the full coordination pipeline against real
// backing services: winners flow through the bus into plans, verifies into
// rewards, and everything lands in PostgreSQL.
package e2e

import (
	"context"
	"fmt"
	"testing"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/virelang/coordination/internal/agents"
	"github.com/virelang/coordination/internal/bus"
	"github.com/virelang/coordination/internal/curator"
	"github.com/virelang/coordination/internal/planner"
	"github.com/virelang/coordination/internal/reward"
	"github.com/virelang/coordination/internal/schema"
	pgstore "github.com/virelang/coordination/internal/store"
)

type stack struct {
	bus        *bus.Bus
	curator    *curator.Curator
	store      *pgstore.Store
	perception *agents.Perception
}

func startStack(t *testing.T, period int) *stack {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping pipeline test in short mode")
	}
	ctx := context.Background()
	logger := zap.NewNop()

	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("coordination_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("pg connection string: %v", err)
	}

	store, err := pgstore.New(ctx, dsn, logger)
	if err != nil {
		t.Fatalf("connect store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	b := bus.New(schema.NewStrictGate(schema.CoreRegistry()), logger)
	cur := curator.New(store, logger)
	cur.SubscribeAll(b)
	t.Cleanup(func() { cur.Close(context.Background()) })

	if _, err := planner.New(b, reward.DefaultPolicy(), period, logger); err != nil {
		t.Fatalf("planner init: %v", err)
	}
	agents.NewCritic(b, logger)
	agents.NewBridge(b, 0.5, logger)
	agents.NewLanguage(b, logger)

	return &stack{
		bus:        b,
		curator:    cur,
		store:      store,
		perception: agents.NewPerception(b, logger),
	}
}

func TestPipelinePlanVerifyReward(t *testing.T) {
	s := startStack(t, 3)
	ctx := context.Background()

	step := int64(0)
	for i := 0; i < 6; i++ {
		step++
		if err := s.perception.ObserveWinner(ctx, step, fmt.Sprintf("sym%d", i), 0.8); err != nil {
			t.Fatalf("winner %d: %v", i, err)
		}
	}

	verify := func(status string) {
		t.Helper()
		step++
		err := s.bus.Publish(ctx, &bus.Message{
			Topic:   bus.TopicVerify,
			Agent:   "verifier",
			Step:    step,
			Payload: map[string]any{"status": status},
		})
		if err != nil {
			t.Fatalf("verify %s: %v", status, err)
		}
	}
	verify(reward.StatusConfirmed)
	verify(reward.StatusInvalidated)

	if err := s.bus.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	plans, err := s.curator.Plans(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(plans) != 2 {
		t.Fatalf("got %d plans after 6 winners at period 3, want 2", len(plans))
	}
	statuses := map[string]bool{}
	for _, p := range plans {
		statuses[p.Status] = true
	}
	if !statuses[reward.StatusConfirmed] || !statuses[reward.StatusInvalidated] {
		t.Errorf("plan statuses = %v, want confirmed and invalidated", statuses)
	}

	rewards, err := s.curator.Rewards(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(rewards) != 2 {
		t.Fatalf("got %d verify-origin rewards, want 2", len(rewards))
	}
	for _, r := range rewards {
		if r.PlanID == "" || r.Symbol != "" {
			t.Errorf("reward %+v violates verify-origin shape", r)
		}
	}

	counts, err := s.store.CountByTopic(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// 6 winners + 2 plan creations + 2 status transitions + 2 rewards
	// + 2 verifies, all durably recorded.
	if counts["winner"] != 6 || counts["plan"] != 4 || counts["reward"] != 2 || counts["verify"] != 2 {
		t.Errorf("raw log counts = %v", counts)
	}
}

func TestPipelineBindingsToNarrative(t *testing.T) {
	s := startStack(t, 3)
	ctx := context.Background()

	err := s.perception.ObserveBindings(ctx, 1, map[string]map[string]float64{
		"color": {"red": 0.9, "blue": 0.2},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.bus.Drain(ctx); err != nil {
		t.Fatal(err)
	}

	narrative, err := s.curator.Narrative(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(narrative) != 1 {
		t.Fatalf("got %d narrative rows, want the promoted binding", len(narrative))
	}
	if narrative[0].Agent != "bridge" {
		t.Errorf("narrative agent = %q, want bridge", narrative[0].Agent)
	}

	counts, err := s.store.CountByTopic(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["binding_map"] != 1 || counts["binding_metrics"] != 1 {
		t.Errorf("raw log counts = %v, want binding_map and binding_metrics recorded", counts)
	}
}

func TestPipelineStrictModeKeepsJunkOut(t *testing.T) {
	s := startStack(t, 3)
	ctx := context.Background()

	err := s.bus.Publish(ctx, &bus.Message{
		Topic:   bus.TopicReward,
		Agent:   "rogue",
		Payload: map[string]any{"reward_scalar": "lots"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.bus.Drain(ctx); err != nil {
		t.Fatal(err)
	}

	counts, err := s.store.CountByTopic(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["reward"] != 0 {
		t.Errorf("blocked reward reached the log: counts = %v", counts)
	}
	if counts["system"] != 1 {
		t.Errorf("got %d audit rows, want 1: counts = %v", counts["system"], counts)
	}
}
