package flow

import (
	"fmt"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// FlowTag names the sub-flow a turn runs.
type FlowTag string

const (
	FlowNormal     FlowTag = "normal"
	FlowFeedbackQ1 FlowTag = "feedbackQ1"
	FlowFeedbackQ2 FlowTag = "feedbackQ2"

	// FlowReplay marks a redelivered message answered from the stored record.
	FlowReplay FlowTag = "replay"
)

// DetermineFlow picks the sub-flow for the next turn from the last stored record.
func DetermineFlow(history []models.InteractionRecord) (FlowTag, error) {
	if len(history) == 0 {
		return FlowNormal, nil
	}
	last := history[len(history)-1]
	ended := last.Decision != nil && *last.Decision == models.DecisionEndConversation

	switch last.Stage {
	case models.StageContinue, "":
		if ended {
			return "", &InvalidDecisionError{Reason: "last record ended the conversation but stayed in stage continue"}
		}
		return FlowNormal, nil
	case models.StageFeedbackQuestion1:
		if last.Decision != nil && !ended {
			return "", &InvalidDecisionError{Reason: fmt.Sprintf("stage %s reached with decision %s", last.Stage, last.Decision.String())}
		}
		return FlowFeedbackQ1, nil
	case models.StageFeedbackQuestion2:
		return FlowFeedbackQ2, nil
	case models.StageFinish:
		return "", models.ErrConversationFinished
	default:
		return "", &InvalidDecisionError{Reason: fmt.Sprintf("unknown stage %q", last.Stage)}
	}
}
