package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecisionNames(t *testing.T) {
	tests := []struct {
		d    Decision
		want string
	}{
		{DecisionChildOnlyNeutral, "CHILD_ONLY_NEUTRAL"},
		{DecisionChildOnlyPositive, "CHILD_ONLY_POSITIVE"},
		{DecisionChildAndFacilitatorPositiveReinforcement, "CHILD_AND_FACILITATOR_POSITIVE_REINFORCEMENT"},
		{DecisionChildAndFacilitatorHelp, "CHILD_AND_FACILITATOR_HELP"},
		{DecisionFacilitatorOnlyHelp, "FACILITATOR_ONLY_HELP"},
		{DecisionEndConversation, "END_CONVERSATION"},
		{Decision(9), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.d.String(); got != tt.want {
			t.Errorf("Decision(%d).String() = %q, want %q", int(tt.d), got, tt.want)
		}
	}
	if len(AllDecisions()) != 6 {
		t.Errorf("expected 6 decisions, got %d", len(AllDecisions()))
	}
	if Decision(-1).IsValid() || Decision(6).IsValid() {
		t.Error("out of range decisions must be invalid")
	}
}

func TestInteractionRecordValidate(t *testing.T) {
	rec := InteractionRecord{ID: "r1", ConversationID: "c1", Stage: StageContinue}
	if err := rec.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec.ID = ""
	if err := rec.Validate(); !errors.Is(err, ErrEmptyRecordID) {
		t.Errorf("expected ErrEmptyRecordID, got %v", err)
	}

	rec = InteractionRecord{ID: "r1", Stage: StageContinue}
	if err := rec.Validate(); !errors.Is(err, ErrEmptyConversationID) {
		t.Errorf("expected ErrEmptyConversationID, got %v", err)
	}

	rec = InteractionRecord{ID: "r1", ConversationID: "c1", Stage: "bogus"}
	if err := rec.Validate(); err == nil {
		t.Error("expected error for unknown stage")
	}

	rec = InteractionRecord{ID: "r1", ConversationID: "c1", Decision: Decision(7).Ptr()}
	if err := rec.Validate(); err == nil {
		t.Error("expected error for unknown decision")
	}
}

func TestInteractionRecordJSONKeepsZeroDecision(t *testing.T) {
	rec := InteractionRecord{ID: "r1", ConversationID: "c1", Decision: DecisionChildOnlyNeutral.Ptr(), Stage: StageContinue}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"decision":0`) {
		t.Errorf("expected decision 0 to be serialized, got %s", data)
	}
	if !strings.Contains(string(data), `"chat_id":"c1"`) {
		t.Errorf("expected chat_id key, got %s", data)
	}
}

func TestTurnBundleLines(t *testing.T) {
	b := TurnBundle{CoachingFeedback: "c", Message: "m"}
	lines := b.Lines()
	if len(lines) != 2 || lines[0] != "c" || lines[1] != "m" {
		t.Errorf("unexpected lines: %v", lines)
	}
}

func TestChatRequestValidate(t *testing.T) {
	if err := (ChatRequest{Message: "hi"}).Validate(); !errors.Is(err, ErrEmptyConversationID) {
		t.Errorf("expected ErrEmptyConversationID, got %v", err)
	}
	if err := (ChatRequest{ChatID: "c"}).Validate(); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if err := (ChatRequest{ChatID: "c", Message: "hi"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestErrorEnvelope(t *testing.T) {
	e := Error("boom")
	if e.Status != StatusError || e.Message != "boom" {
		t.Errorf("unexpected error response: %+v", e)
	}
}
