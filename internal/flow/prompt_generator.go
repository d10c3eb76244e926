package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/BTreeMap/CoachPipe/internal/genai"
	"github.com/BTreeMap/CoachPipe/internal/scenario"
)

// PromptGenerator implements Generator by rendering the scenario's system
// prompts and sending them to the model gateway. The child client speaks for
// the child; the facilitator client classifies, coaches and summarizes.
type PromptGenerator struct {
	cfg         *scenario.Config
	child       genai.ClientInterface
	facilitator genai.ClientInterface
}

var _ Generator = (*PromptGenerator)(nil)

// NewPromptGenerator creates a PromptGenerator.
func NewPromptGenerator(cfg *scenario.Config, child, facilitator genai.ClientInterface) *PromptGenerator {
	return &PromptGenerator{cfg: cfg, child: child, facilitator: facilitator}
}

func (g *PromptGenerator) render(tmpl string, extra map[string]string) string {
	return scenario.Render(tmpl, scenario.MergeVariables(g.cfg.BaseVariables(), extra))
}

// GenerateChildResponse produces the simulated child's next utterance.
func (g *PromptGenerator) GenerateChildResponse(ctx context.Context, req ChildRequest) (string, error) {
	prompt := g.render(g.cfg.SystemPrompts.Child, map[string]string{
		"parent_response":     req.ParentMessage,
		"interaction_history": req.ParentChildHistory,
		"turn_count":          strconv.Itoa(req.TurnCount),
	})
	slog.Debug("PromptGenerator.GenerateChildResponse: calling model", "model", g.child.Model(), "turn", req.TurnCount)
	return g.child.GeneratePromptWithContext(ctx, prompt, "")
}

// ClassifyDecision asks the facilitator model for a DECISION/REASONING reply.
func (g *PromptGenerator) ClassifyDecision(ctx context.Context, req DecisionRequest) (string, error) {
	prompt := g.render(g.cfg.SystemPrompts.FacilitatorDecision, map[string]string{
		"parent_response":     req.ParentMessage,
		"child_response":      req.LastChildResponse,
		"interaction_history": req.History,
		"turn_count":          strconv.Itoa(req.TurnCount),
	})
	slog.Debug("PromptGenerator.ClassifyDecision: calling model", "model", g.facilitator.Model(), "turn", req.TurnCount)
	return g.facilitator.GeneratePromptWithContext(ctx, prompt, "")
}

// GenerateCoaching produces facilitator feedback for the given coaching kind.
func (g *PromptGenerator) GenerateCoaching(ctx context.Context, req CoachingRequest) (string, error) {
	var tmpl string
	switch req.Kind {
	case CoachingPositive:
		tmpl = g.cfg.SystemPrompts.FacilitatorPositiveReinforcement
	case CoachingNegative:
		tmpl = g.cfg.SystemPrompts.FacilitatorHelp
	case CoachingEnd:
		tmpl = g.cfg.SystemPrompts.FacilitatorEndCoaching
	default:
		return "", fmt.Errorf("unsupported coaching kind %q", req.Kind)
	}

	prompt := g.render(tmpl, map[string]string{
		"parent_response":     req.ParentMessage,
		"child_response":      req.LastChildResponse,
		"interaction_history": req.History,
		"previous_coaching":   req.PreviousCoaching,
		"reasoning":           req.Reasoning,
	})
	slog.Debug("PromptGenerator.GenerateCoaching: calling model", "model", g.facilitator.Model(), "kind", string(req.Kind))
	out, err := g.facilitator.GeneratePromptWithContext(ctx, prompt, "")
	if err != nil {
		return "", err
	}
	if req.FacilitatorOnly {
		out = out + " " + g.cfg.StaticMessages.RetryMessage
	}
	return out, nil
}

// GenerateSummary produces the closing summary from the full history and both survey answers.
func (g *PromptGenerator) GenerateSummary(ctx context.Context, req SummaryRequest) (string, error) {
	prompt := g.render(g.cfg.SystemPrompts.FacilitatorSummary, map[string]string{
		"interaction_history":      req.FullHistory,
		"parent_feedback_positive": req.PositiveFeedback,
		"parent_feedback_negative": req.NegativeFeedback,
	})
	slog.Debug("PromptGenerator.GenerateSummary: calling model", "model", g.facilitator.Model())
	return g.facilitator.GeneratePromptWithContext(ctx, prompt, "")
}

// NewModelGenerator creates the child and facilitator clients for cfg's models on
// the given provider and returns a PromptGenerator over them. opts carry the
// shared credentials and debug settings.
func NewModelGenerator(cfg *scenario.Config, provider string, opts ...genai.Option) (*PromptGenerator, error) {
	childOpts := append(append([]genai.Option{}, opts...),
		genai.WithModel(cfg.Models.Child),
		genai.WithTemperature(cfg.Models.ChildTemperature))
	child, err := genai.NewBackend(provider, childOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create child model client: %w", err)
	}

	facilitatorOpts := append(append([]genai.Option{}, opts...),
		genai.WithModel(cfg.Models.Facilitator),
		genai.WithTemperature(cfg.Models.FacilitatorTemperature))
	facilitator, err := genai.NewBackend(provider, facilitatorOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create facilitator model client: %w", err)
	}
	slog.Debug("NewModelGenerator: clients ready", "language", cfg.Language, "child", child.Model(), "facilitator", facilitator.Model())
	return NewPromptGenerator(cfg, child, facilitator), nil
}
