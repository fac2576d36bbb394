// Package planner batches winner events into plans and resolves them
// against verification judgments, emitting one reward per verify.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/virelang/coordination/internal/bus"
	"github.com/virelang/coordination/internal/reward"
)

// StatusPending is the status of a plan between creation and verification.
// Terminal statuses come from the reward policy (confirmed, invalidated,
// adjusted).
const StatusPending = "pending"

// WinnerSample is one winner event retained in the current window.
type WinnerSample struct {
	Symbol string  `json:"symbol"`
	Score  float64 `json:"score"`
}

// Plan is a batched decision unit created once per period of winners.
type Plan struct {
	ID          string         `json:"id"`
	CreatedStep int64          `json:"created_step"`
	Symbols     []WinnerSample `json:"symbols"`
	Status      string         `json:"status"`
	Summary     string         `json:"summary"`
}

// Agent accumulates winners, emits a plan per period, and transitions plan
// status on verify events. It only ever publishes; the curator owns all
// durable state.
type Agent struct {
	bus    *bus.Bus
	policy *reward.Policy
	period int
	logger *zap.Logger

	mu     sync.Mutex
	window []WinnerSample
	plans  []*Plan
	byID   map[string]*Plan
}

// New creates a planner agent. The period must be positive.
func New(b *bus.Bus, policy *reward.Policy, period int, logger *zap.Logger) (*Agent, error) {
	if period <= 0 {
		return nil, fmt.Errorf("planner period must be positive, got %d", period)
	}
	if policy == nil {
		return nil, errors.New("planner requires a reward policy")
	}
	a := &Agent{
		bus:    b,
		policy: policy,
		period: period,
		logger: logger,
		byID:   make(map[string]*Plan),
	}
	b.Subscribe(bus.TopicWinner, a.handleWinner)
	b.Subscribe(bus.TopicVerify, a.handleVerify)
	return a, nil
}

// Plans returns a snapshot of all plans in creation order.
func (a *Agent) Plans() []*Plan {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Plan, len(a.plans))
	for i, p := range a.plans {
		cp := *p
		cp.Symbols = append([]WinnerSample(nil), p.Symbols...)
		out[i] = &cp
	}
	return out
}

// handleWinner folds one winner event into the window. Fields are checked
// defensively: with the gate off, malformed payloads still reach us.
func (a *Agent) handleWinner(ctx context.Context, msg *bus.Message) {
	symbol, ok := bus.String(msg.Payload["winner_symbol"])
	if !ok || symbol == "" {
		a.logger.Warn("winner event without symbol, skipping", zap.String("id", msg.ID))
		return
	}
	score, ok := bus.Number(msg.Payload["winner_score"])
	if !ok {
		a.logger.Warn("winner event without numeric score, skipping",
			zap.String("symbol", symbol), zap.String("id", msg.ID))
		return
	}

	a.mu.Lock()
	a.window = append(a.window, WinnerSample{Symbol: symbol, Score: score})
	full := len(a.window) >= a.period
	var plan *Plan
	if full {
		plan = a.cutPlanLocked(msg.Step)
	}
	a.mu.Unlock()

	if plan != nil {
		a.publishPlan(ctx, plan, "created")
	}
}

// cutPlanLocked turns the current window into a pending plan and resets
// the counter. Caller holds the mutex.
func (a *Agent) cutPlanLocked(step int64) *Plan {
	symbols := a.window
	a.window = nil

	parts := make([]string, len(symbols))
	for i, s := range symbols {
		parts[i] = fmt.Sprintf("%s(%.2f)", s.Symbol, s.Score)
	}
	plan := &Plan{
		ID:          uuid.New().String(),
		CreatedStep: step,
		Symbols:     symbols,
		Status:      StatusPending,
		Summary:     fmt.Sprintf("plan over %d winners: %s", len(symbols), strings.Join(parts, ", ")),
	}
	a.plans = append(a.plans, plan)
	a.byID[plan.ID] = plan
	return plan
}

// handleVerify resolves the target plan, records the status transition,
// and emits exactly one verify-origin reward through the policy.
func (a *Agent) handleVerify(ctx context.Context, msg *bus.Message) {
	status, ok := bus.String(msg.Payload["status"])
	if !ok || status == "" {
		a.logger.Warn("verify event without status, skipping", zap.String("id", msg.ID))
		return
	}

	verdict, err := a.policy.Lookup(status)
	if err != nil {
		// An unrecognized status is a configuration problem, not a
		// plan transition. Audit and drop; no reward is guessed.
		a.logger.Error("verify status outside reward policy",
			zap.String("status", status), zap.Error(err))
		a.audit(ctx, msg.Step, "unknown_verify_status", map[string]any{"status": status})
		return
	}

	explicitID, _ := bus.String(msg.Payload["plan_id"])

	a.mu.Lock()
	plan := a.resolveLocked(explicitID)
	if plan != nil {
		plan.Status = status
	}
	a.mu.Unlock()

	if plan == nil {
		a.logger.Warn("verify event with no resolvable plan",
			zap.String("status", status), zap.String("plan_id", explicitID))
		a.audit(ctx, msg.Step, "unresolved_verify", map[string]any{
			"status":  status,
			"plan_id": explicitID,
		})
		return
	}

	a.publishPlan(ctx, plan, "status")

	rewardMsg := &bus.Message{
		Topic: bus.TopicReward,
		Agent: "planner",
		Step:  msg.Step,
		Payload: map[string]any{
			// No symbol key: its absence marks the reward as
			// verify-origin for downstream filters.
			"plan_id":       plan.ID,
			"reward_scalar": verdict.RewardScalar,
			"confidence":    verdict.Confidence,
		},
	}
	if err := a.bus.Publish(ctx, rewardMsg); err != nil {
		a.logger.Error("publish reward failed", zap.String("plan", plan.ID), zap.Error(err))
	}
}

// resolveLocked finds the verify target: the explicit plan id when given,
// else the most recent pending plan, else the most recent plan. Repeated
// verifies against an already resolved plan append further transitions;
// the log keeps every judgment. Caller holds the mutex.
func (a *Agent) resolveLocked(explicitID string) *Plan {
	if explicitID != "" {
		return a.byID[explicitID]
	}
	for i := len(a.plans) - 1; i >= 0; i-- {
		if a.plans[i].Status == StatusPending {
			return a.plans[i]
		}
	}
	if len(a.plans) > 0 {
		return a.plans[len(a.plans)-1]
	}
	return nil
}

// publishPlan emits a plan-topic record for a creation or status
// transition. Records are append-only; a transition never rewrites the
// creation record.
func (a *Agent) publishPlan(ctx context.Context, plan *Plan, event string) {
	symbols := make([]any, len(plan.Symbols))
	for i, s := range plan.Symbols {
		symbols[i] = map[string]any{"symbol": s.Symbol, "score": s.Score}
	}
	msg := &bus.Message{
		Topic: bus.TopicPlan,
		Agent: "planner",
		Step:  plan.CreatedStep,
		Payload: map[string]any{
			"plan_id": plan.ID,
			"status":  plan.Status,
			"event":   event,
			"summary": plan.Summary,
			"symbols": symbols,
		},
	}
	if err := a.bus.Publish(ctx, msg); err != nil {
		a.logger.Error("publish plan failed", zap.String("plan", plan.ID), zap.Error(err))
	}
}

func (a *Agent) audit(ctx context.Context, step int64, event string, extra map[string]any) {
	payload := map[string]any{"event": event}
	for k, v := range extra {
		payload[k] = v
	}
	msg := &bus.Message{Topic: bus.TopicSystem, Agent: "planner", Step: step, Payload: payload}
	if err := a.bus.Publish(ctx, msg); err != nil {
		a.logger.Error("publish audit failed", zap.String("event", event), zap.Error(err))
	}
}
