// Package flow implements the dialogue orchestration engine for CoachPipe.
//
// A parent turn is routed through the turn state machine: normal dialogue turns are
// classified and dispatched to a response behavior, while turns after the scenario
// ends walk the two-question feedback survey and produce a summary. Every turn is
// persisted as exactly one models.InteractionRecord.
package flow

import "context"

// CoachingKind selects the facilitator prompt used for a coaching message.
type CoachingKind string

const (
	// CoachingNone means no facilitator message this turn.
	CoachingNone CoachingKind = ""
	// CoachingPositive reinforces or helps while the child also answers.
	CoachingPositive CoachingKind = "positive"
	// CoachingNegative blocks the parent message and asks for a retry.
	CoachingNegative CoachingKind = "negative"
	// CoachingEnd closes the dialogue part of the scenario.
	CoachingEnd CoachingKind = "end"
)

// ChildRequest is the input of GenerateChildResponse.
type ChildRequest struct {
	ParentMessage      string
	ParentChildHistory string
	TurnCount          int
}

// DecisionRequest is the input of ClassifyDecision.
type DecisionRequest struct {
	ParentMessage     string
	LastChildResponse string
	History           string
	TurnCount         int
}

// CoachingRequest is the input of GenerateCoaching.
type CoachingRequest struct {
	Kind              CoachingKind
	ParentMessage     string
	LastChildResponse string
	History           string
	PreviousCoaching  string
	Reasoning         string
	FacilitatorOnly   bool
}

// SummaryRequest is the input of GenerateSummary.
type SummaryRequest struct {
	FullHistory      string
	PositiveFeedback string
	NegativeFeedback string
}

// Generator provides the model-backed capabilities a turn may call.
type Generator interface {
	GenerateChildResponse(ctx context.Context, req ChildRequest) (string, error)
	ClassifyDecision(ctx context.Context, req DecisionRequest) (string, error)
	GenerateCoaching(ctx context.Context, req CoachingRequest) (string, error)
	GenerateSummary(ctx context.Context, req SummaryRequest) (string, error)
}

// Capability names used in GenerationError and metrics.
const (
	CapabilityChild    = "child"
	CapabilityDecision = "decision"
	CapabilityCoaching = "coaching"
	CapabilitySummary  = "summary"
)
