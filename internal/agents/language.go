package agents

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/virelang/coordination/internal/bus"
)

// Language stage names, in order of emergence.
const (
	StageProto     = "proto"
	StageLexical   = "lexical"
	StageSyntactic = "syntactic"
)

// Language tracks vocabulary growth from winner events and reports stage
// transitions on the language_stage topic. Stage boundaries follow
// distinct-symbol counts; the numbers are reporting heuristics, not part
// of the coordination contract.
type Language struct {
	bus    *bus.Bus
	logger *zap.Logger

	mu    sync.Mutex
	seen  map[string]bool
	stage string
}

// NewLanguage creates the language agent and subscribes it to winner.
func NewLanguage(b *bus.Bus, logger *zap.Logger) *Language {
	l := &Language{
		bus:    b,
		logger: logger,
		seen:   make(map[string]bool),
		stage:  StageProto,
	}
	b.Subscribe(bus.TopicWinner, l.handleWinner)
	return l
}

// Stage returns the current language stage.
func (l *Language) Stage() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stage
}

func (l *Language) handleWinner(ctx context.Context, msg *bus.Message) {
	symbol, ok := bus.String(msg.Payload["winner_symbol"])
	if !ok || symbol == "" {
		return
	}

	l.mu.Lock()
	l.seen[symbol] = true
	vocab := len(l.seen)
	next := stageFor(vocab)
	changed := next != l.stage
	if changed {
		l.stage = next
	}
	l.mu.Unlock()

	if !changed {
		return
	}
	out := &bus.Message{
		Topic: bus.TopicLanguageStage,
		Agent: "language",
		Step:  msg.Step,
		Payload: map[string]any{
			"stage":           next,
			"vocabulary_size": vocab,
		},
	}
	if err := l.bus.Publish(ctx, out); err != nil {
		l.logger.Error("publish language stage failed", zap.Error(err))
	}
}

func stageFor(vocab int) string {
	switch {
	case vocab >= 50:
		return StageSyntactic
	case vocab >= 10:
		return StageLexical
	default:
		return StageProto
	}
}
