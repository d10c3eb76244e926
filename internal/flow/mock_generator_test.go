package flow

import (
	"context"
	"fmt"
	"sync"
)

// scriptedGenerator implements Generator with canned replies and records every request.
type scriptedGenerator struct {
	mu sync.Mutex

	// decisions are returned by ClassifyDecision in order; the last one repeats.
	decisions []string
	summary   string
	errs      map[string]error

	calls        []string
	childReqs    []ChildRequest
	decisionReqs []DecisionRequest
	coachingReqs []CoachingRequest
	summaryReqs  []SummaryRequest
}

var _ Generator = (*scriptedGenerator)(nil)

func (g *scriptedGenerator) GenerateChildResponse(ctx context.Context, req ChildRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, CapabilityChild)
	g.childReqs = append(g.childReqs, req)
	if err := g.errs[CapabilityChild]; err != nil {
		return "", err
	}
	return fmt.Sprintf("child reply %d", req.TurnCount), nil
}

func (g *scriptedGenerator) ClassifyDecision(ctx context.Context, req DecisionRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, CapabilityDecision)
	g.decisionReqs = append(g.decisionReqs, req)
	if err := g.errs[CapabilityDecision]; err != nil {
		return "", err
	}
	if len(g.decisions) == 0 {
		return "DECISION: 0", nil
	}
	reply := g.decisions[0]
	if len(g.decisions) > 1 {
		g.decisions = g.decisions[1:]
	}
	return reply, nil
}

func (g *scriptedGenerator) GenerateCoaching(ctx context.Context, req CoachingRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, CapabilityCoaching)
	g.coachingReqs = append(g.coachingReqs, req)
	if err := g.errs[CapabilityCoaching]; err != nil {
		return "", err
	}
	return fmt.Sprintf("%s coaching", req.Kind), nil
}

func (g *scriptedGenerator) GenerateSummary(ctx context.Context, req SummaryRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, CapabilitySummary)
	g.summaryReqs = append(g.summaryReqs, req)
	if err := g.errs[CapabilitySummary]; err != nil {
		return "", err
	}
	if g.summary == "" {
		return "well done", nil
	}
	return g.summary, nil
}

func (g *scriptedGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
