package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

func TestBehaviorTableCoversEveryDecision(t *testing.T) {
	for _, d := range models.AllDecisions() {
		if _, ok := BehaviorTable[d]; !ok {
			t.Errorf("no behavior for %s", d)
		}
	}
	if len(BehaviorTable) != len(models.AllDecisions()) {
		t.Errorf("behavior table has %d entries, want %d", len(BehaviorTable), len(models.AllDecisions()))
	}
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		decision  models.Decision
		wantCalls []string
		want      models.InteractionRecord
		kind      CoachingKind
	}{
		{
			decision:  models.DecisionChildOnlyNeutral,
			wantCalls: []string{CapabilityChild},
			want:      models.InteractionRecord{ChildMessage: "child reply 3", Stage: models.StageContinue},
		},
		{
			decision:  models.DecisionChildOnlyPositive,
			wantCalls: []string{CapabilityChild},
			want:      models.InteractionRecord{ChildMessage: "child reply 3", Stage: models.StageContinue},
		},
		{
			decision:  models.DecisionChildAndFacilitatorPositiveReinforcement,
			wantCalls: []string{CapabilityChild, CapabilityCoaching},
			want:      models.InteractionRecord{ChildMessage: "child reply 3", CoachingFeedback: "positive coaching", Stage: models.StageContinue},
			kind:      CoachingPositive,
		},
		{
			decision:  models.DecisionChildAndFacilitatorHelp,
			wantCalls: []string{CapabilityChild, CapabilityCoaching},
			want:      models.InteractionRecord{ChildMessage: "child reply 3", CoachingFeedback: "positive coaching", Stage: models.StageContinue},
			kind:      CoachingPositive,
		},
		{
			decision:  models.DecisionFacilitatorOnlyHelp,
			wantCalls: []string{CapabilityCoaching},
			want:      models.InteractionRecord{CoachingFeedback: "negative coaching", BlockedMessage: true, Stage: models.StageContinue},
			kind:      CoachingNegative,
		},
		{
			decision:  models.DecisionEndConversation,
			wantCalls: []string{CapabilityCoaching},
			want:      models.InteractionRecord{CoachingFeedback: "end coaching", Stage: models.StageFeedbackQuestion1},
			kind:      CoachingEnd,
		},
	}

	for _, tt := range tests {
		t.Run(tt.decision.String(), func(t *testing.T) {
			gen := &scriptedGenerator{}
			p := Project(projectorHistory(), "INIT")
			cls := Classification{Decision: tt.decision, Reasoning: "because"}

			got, err := NewDispatcher(gen).Dispatch(context.Background(), "parent says", cls, p)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			want := tt.want
			want.ParentMessage = "parent says"
			want.Decision = tt.decision.Ptr()
			want.DecisionReasoning = "because"
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("record mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantCalls, gen.calls); diff != "" {
				t.Errorf("call order mismatch (-want +got):\n%s", diff)
			}

			if len(gen.childReqs) == 1 {
				wantChild := ChildRequest{ParentMessage: "parent says", ParentChildHistory: p.ParentChildHistory, TurnCount: 3}
				if diff := cmp.Diff(wantChild, gen.childReqs[0]); diff != "" {
					t.Errorf("child request mismatch (-want +got):\n%s", diff)
				}
			}
			if tt.kind == CoachingNone {
				return
			}
			wantCoaching := CoachingRequest{
				Kind:              tt.kind,
				ParentMessage:     "parent says",
				LastChildResponse: "ok",
				History:           p.HistoryWithoutTrailingChild,
				Reasoning:         "because",
				FacilitatorOnly:   tt.kind == CoachingNegative,
			}
			if tt.kind != CoachingNegative {
				wantCoaching.PreviousCoaching = "good"
			}
			if diff := cmp.Diff(wantCoaching, gen.coachingReqs[0]); diff != "" {
				t.Errorf("coaching request mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDispatchChildFailureSkipsCoaching(t *testing.T) {
	gen := &scriptedGenerator{errs: map[string]error{CapabilityChild: errors.New("boom")}}
	cls := Classification{Decision: models.DecisionChildAndFacilitatorHelp}
	_, err := NewDispatcher(gen).Dispatch(context.Background(), "hi", cls, Project(nil, ""))

	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Capability != CapabilityChild {
		t.Fatalf("expected child GenerationError, got %v", err)
	}
	if len(gen.coachingReqs) != 0 {
		t.Errorf("coaching should not run after a child failure")
	}
}

func TestDispatchCoachingFailure(t *testing.T) {
	gen := &scriptedGenerator{errs: map[string]error{CapabilityCoaching: errors.New("boom")}}
	cls := Classification{Decision: models.DecisionFacilitatorOnlyHelp}
	_, err := NewDispatcher(gen).Dispatch(context.Background(), "hi", cls, Project(nil, ""))
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Capability != CapabilityCoaching {
		t.Fatalf("expected coaching GenerationError, got %v", err)
	}
}

func TestDispatchUnknownDecision(t *testing.T) {
	_, err := NewDispatcher(&scriptedGenerator{}).Dispatch(context.Background(), "hi", Classification{Decision: 9}, Project(nil, ""))
	if !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}
}
