package models

import (
	"fmt"
	"time"
)

// Decision is the classifier's routing code for a parent turn.
type Decision int

const (
	// DecisionChildOnlyNeutral: the child answers, no coaching.
	DecisionChildOnlyNeutral Decision = 0
	// DecisionChildOnlyPositive: the child answers positively, no coaching.
	DecisionChildOnlyPositive Decision = 1
	// DecisionChildAndFacilitatorPositiveReinforcement: the child answers and the facilitator reinforces.
	DecisionChildAndFacilitatorPositiveReinforcement Decision = 2
	// DecisionChildAndFacilitatorHelp: the child answers and the facilitator offers help.
	DecisionChildAndFacilitatorHelp Decision = 3
	// DecisionFacilitatorOnlyHelp: only the facilitator answers and the parent is asked to try again.
	DecisionFacilitatorOnlyHelp Decision = 4
	// DecisionEndConversation: the scenario is over and the feedback survey starts.
	DecisionEndConversation Decision = 5
)

var decisionNames = map[Decision]string{
	DecisionChildOnlyNeutral:                         "CHILD_ONLY_NEUTRAL",
	DecisionChildOnlyPositive:                        "CHILD_ONLY_POSITIVE",
	DecisionChildAndFacilitatorPositiveReinforcement: "CHILD_AND_FACILITATOR_POSITIVE_REINFORCEMENT",
	DecisionChildAndFacilitatorHelp:                  "CHILD_AND_FACILITATOR_HELP",
	DecisionFacilitatorOnlyHelp:                      "FACILITATOR_ONLY_HELP",
	DecisionEndConversation:                          "END_CONVERSATION",
}

// AllDecisions lists every decision code in ascending order.
func AllDecisions() []Decision {
	return []Decision{
		DecisionChildOnlyNeutral,
		DecisionChildOnlyPositive,
		DecisionChildAndFacilitatorPositiveReinforcement,
		DecisionChildAndFacilitatorHelp,
		DecisionFacilitatorOnlyHelp,
		DecisionEndConversation,
	}
}

// IsValid reports whether d is one of the six defined codes.
func (d Decision) IsValid() bool {
	_, ok := decisionNames[d]
	return ok
}

func (d Decision) String() string {
	if name, ok := decisionNames[d]; ok {
		return name
	}
	return "UNKNOWN"
}

// Ptr returns a pointer to a copy of d, for optional record fields.
func (d Decision) Ptr() *Decision {
	return &d
}

// Stage tracks a conversation's progress through the post-dialogue feedback survey.
type Stage string

const (
	// StageContinue is normal classifier-driven dialogue.
	StageContinue Stage = "continue"
	// StageFeedbackQuestion1 waits for the answer to the positive-experience question.
	StageFeedbackQuestion1 Stage = "feedbackQuestion1"
	// StageFeedbackQuestion2 waits for the answer to the improvement question.
	StageFeedbackQuestion2 Stage = "feedbackQuestion2"
	// StageFinish is terminal for the whole conversation.
	StageFinish Stage = "finish"
)

// IsValid reports whether s is a known stage.
func (s Stage) IsValid() bool {
	switch s {
	case StageContinue, StageFeedbackQuestion1, StageFeedbackQuestion2, StageFinish:
		return true
	}
	return false
}

// InteractionRecord is one stored conversation turn.
// Records are append-only; AppendOrReplace with the same ID replaces a
// redelivered turn without moving it.
type InteractionRecord struct {
	ID                string    `json:"id"`
	ConversationID    string    `json:"chat_id"`
	ParentMessage     string    `json:"parentMessage,omitempty"`
	ChildMessage      string    `json:"childMessage,omitempty"`
	Decision          *Decision `json:"decision,omitempty"`
	DecisionReasoning string    `json:"decisionReasoning,omitempty"`
	CoachingFeedback  string    `json:"coachingFeedback,omitempty"`
	BlockedMessage    bool      `json:"blockedMessage"`
	Stage             Stage     `json:"stage"`
	Summary           string    `json:"summary,omitempty"`
	PositiveFeedback  string    `json:"positiveFeedback,omitempty"`
	NegativeFeedback  string    `json:"negativeFeedback,omitempty"`
	Message           string    `json:"message,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Validate checks the fields a store needs to persist the record.
func (r InteractionRecord) Validate() error {
	if r.ID == "" {
		return ErrEmptyRecordID
	}
	if r.ConversationID == "" {
		return ErrEmptyConversationID
	}
	if r.Stage != "" && !r.Stage.IsValid() {
		return fmt.Errorf("invalid stage %q", r.Stage)
	}
	if r.Decision != nil && !r.Decision.IsValid() {
		return fmt.Errorf("invalid decision %d", *r.Decision)
	}
	return nil
}

// TurnBundle is the externally visible reply for one turn.
type TurnBundle struct {
	CoachingFeedback string `json:"coachingFeedback"`
	ChildMessage     string `json:"childMessage"`
	Summary          string `json:"summary"`
	Message          string `json:"message"`
	EndScenario      bool   `json:"endScenario"`
}

// Lines returns the non-empty text fields in display order.
func (b TurnBundle) Lines() []string {
	var lines []string
	for _, s := range []string{b.CoachingFeedback, b.ChildMessage, b.Summary, b.Message} {
		if s != "" {
			lines = append(lines, s)
		}
	}
	return lines
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message   string `json:"message"`
	ChatID    string `json:"chat_id"`
	Language  string `json:"lng,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// Validate checks required fields.
func (r ChatRequest) Validate() error {
	if r.ChatID == "" {
		return ErrEmptyConversationID
	}
	if r.Message == "" {
		return ErrEmptyMessage
	}
	return nil
}

// ChatResponse wraps a bundle in the shape chat gateways expect.
type ChatResponse struct {
	Response TurnBundle `json:"response"`
}
