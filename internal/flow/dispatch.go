package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// Behavior describes how a decision is answered.
type Behavior struct {
	NeedsChildResponse bool
	Coaching           CoachingKind
	Stage              models.Stage
	Blocked            bool
}

// BehaviorTable maps every decision code to its behavior.
var BehaviorTable = map[models.Decision]Behavior{
	models.DecisionChildOnlyNeutral: {
		NeedsChildResponse: true,
		Stage:              models.StageContinue,
	},
	models.DecisionChildOnlyPositive: {
		NeedsChildResponse: true,
		Stage:              models.StageContinue,
	},
	models.DecisionChildAndFacilitatorPositiveReinforcement: {
		NeedsChildResponse: true,
		Coaching:           CoachingPositive,
		Stage:              models.StageContinue,
	},
	models.DecisionChildAndFacilitatorHelp: {
		NeedsChildResponse: true,
		Coaching:           CoachingPositive,
		Stage:              models.StageContinue,
	},
	models.DecisionFacilitatorOnlyHelp: {
		Coaching: CoachingNegative,
		Stage:    models.StageContinue,
		Blocked:  true,
	},
	models.DecisionEndConversation: {
		Coaching: CoachingEnd,
		Stage:    models.StageFeedbackQuestion1,
	},
}

// Dispatcher runs the generation calls a decision requires.
type Dispatcher struct {
	gen Generator
}

// NewDispatcher creates a Dispatcher backed by gen.
func NewDispatcher(gen Generator) *Dispatcher {
	return &Dispatcher{gen: gen}
}

// Dispatch fills a record for a classified parent message. The caller sets
// identity fields. Child generation runs before coaching.
func (d *Dispatcher) Dispatch(ctx context.Context, parentMessage string, cls Classification, p Projections) (models.InteractionRecord, error) {
	behavior, ok := BehaviorTable[cls.Decision]
	if !ok {
		return models.InteractionRecord{}, &InvalidDecisionError{Reply: cls.RawReply, Reason: fmt.Sprintf("no behavior for decision %d", cls.Decision)}
	}
	slog.Debug("Dispatcher.Dispatch: dispatching", "decision", cls.Decision.String(), "child", behavior.NeedsChildResponse, "coaching", string(behavior.Coaching))

	rec := models.InteractionRecord{
		ParentMessage:     parentMessage,
		Decision:          cls.Decision.Ptr(),
		DecisionReasoning: cls.Reasoning,
		BlockedMessage:    behavior.Blocked,
		Stage:             behavior.Stage,
	}

	if behavior.NeedsChildResponse {
		child, err := d.gen.GenerateChildResponse(ctx, ChildRequest{
			ParentMessage:      parentMessage,
			ParentChildHistory: p.ParentChildHistory,
			TurnCount:          p.TurnCount,
		})
		if err != nil {
			slog.Error("Dispatcher.Dispatch: child generation failed", "error", err)
			return models.InteractionRecord{}, &GenerationError{Capability: CapabilityChild, Err: err}
		}
		rec.ChildMessage = child
	}

	if behavior.Coaching != CoachingNone {
		req := CoachingRequest{
			Kind:              behavior.Coaching,
			ParentMessage:     parentMessage,
			LastChildResponse: p.LatestChildResponse,
			History:           p.HistoryWithoutTrailingChild,
			Reasoning:         cls.Reasoning,
			FacilitatorOnly:   behavior.Coaching == CoachingNegative,
		}
		if behavior.Coaching == CoachingPositive || behavior.Coaching == CoachingEnd {
			req.PreviousCoaching = p.PreviousCoaching
		}
		coaching, err := d.gen.GenerateCoaching(ctx, req)
		if err != nil {
			slog.Error("Dispatcher.Dispatch: coaching generation failed", "error", err, "kind", string(behavior.Coaching))
			return models.InteractionRecord{}, &GenerationError{Capability: CapabilityCoaching, Err: err}
		}
		rec.CoachingFeedback = coaching
	}
	return rec, nil
}
