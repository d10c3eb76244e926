package flow

import (
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/scenario"
)

// FormatBundle renders a stored record as the outward bundle.
// A blocked turn shows only the facilitator's coaching.
func FormatBundle(rec models.InteractionRecord, static scenario.StaticMessages) models.TurnBundle {
	var b models.TurnBundle
	if rec.CoachingFeedback != "" {
		b.CoachingFeedback = "🔵 " + static.Facilitator + ": " + rec.CoachingFeedback
	}
	if rec.BlockedMessage {
		return b
	}
	if rec.ChildMessage != "" {
		b.ChildMessage = "🟢 " + static.Child + ": " + rec.ChildMessage
	}
	if rec.Summary != "" {
		b.Summary = static.Summary + ": " + rec.Summary
		b.EndScenario = true
	}
	b.Message = rec.Message
	return b
}
