package flow

import (
	"context"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// TurnOutcome describes one finished ProcessTurn call.
type TurnOutcome struct {
	Flow     FlowTag
	Record   *models.InteractionRecord // nil when the turn failed
	Duration time.Duration
	Err      error
}

// TurnObserver receives per-turn and per-generation events.
type TurnObserver interface {
	ObserveTurn(outcome TurnOutcome)
	ObserveGeneration(capability string, elapsed time.Duration, err error)
}

type noopObserver struct{}

func (noopObserver) ObserveTurn(TurnOutcome) {}

func (noopObserver) ObserveGeneration(string, time.Duration, error) {}

// observedGenerator reports the latency of every capability call.
type observedGenerator struct {
	next     Generator
	observer TurnObserver
	now      func() time.Time
}

var _ Generator = (*observedGenerator)(nil)

func (g *observedGenerator) observe(capability string, start time.Time, err error) {
	g.observer.ObserveGeneration(capability, g.now().Sub(start), err)
}

func (g *observedGenerator) GenerateChildResponse(ctx context.Context, req ChildRequest) (string, error) {
	start := g.now()
	out, err := g.next.GenerateChildResponse(ctx, req)
	g.observe(CapabilityChild, start, err)
	return out, err
}

func (g *observedGenerator) ClassifyDecision(ctx context.Context, req DecisionRequest) (string, error) {
	start := g.now()
	out, err := g.next.ClassifyDecision(ctx, req)
	g.observe(CapabilityDecision, start, err)
	return out, err
}

func (g *observedGenerator) GenerateCoaching(ctx context.Context, req CoachingRequest) (string, error) {
	start := g.now()
	out, err := g.next.GenerateCoaching(ctx, req)
	g.observe(CapabilityCoaching, start, err)
	return out, err
}

func (g *observedGenerator) GenerateSummary(ctx context.Context, req SummaryRequest) (string, error) {
	start := g.now()
	out, err := g.next.GenerateSummary(ctx, req)
	g.observe(CapabilitySummary, start, err)
	return out, err
}
