package flow

import (
	"strconv"
	"strings"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// Projection labels.
const (
	labelParent            = "parent"
	labelCoaching          = "coaching"
	labelChild             = "child"
	labelDecision          = "decision"
	labelDecisionReasoning = "decision_reasoning"
)

// Projections holds the derived views of a conversation's history.
type Projections struct {
	// FullHistory renders every present field of every record, with the
	// conversation initiator prepended.
	FullHistory string
	// HistoryWithoutTrailingChild is FullHistory without the initiator and
	// without the last record's child line.
	HistoryWithoutTrailingChild string
	// LatestChildResponse is the child line withheld from HistoryWithoutTrailingChild,
	// or the initiator when there is no history yet.
	LatestChildResponse string
	// ParentChildHistory renders only parent/child pairs, initiator prepended.
	ParentChildHistory string
	// PreviousCoaching joins every past coaching text with blank lines.
	PreviousCoaching string
	// TurnCount is the 1-based number of the turn being processed.
	TurnCount int
}

// Project builds all projections in one pass over records.
func Project(records []models.InteractionRecord, initiator string) Projections {
	var full, withoutChild, parentChild, coaching []string
	if initiator != "" {
		full = append(full, line(labelChild, initiator))
		parentChild = append(parentChild, line(labelChild, initiator))
	}

	p := Projections{TurnCount: len(records) + 1}
	last := len(records) - 1
	for i, rec := range records {
		if block := renderRecord(rec, true); block != "" {
			full = append(full, block)
		}
		if i == last {
			p.LatestChildResponse = rec.ChildMessage
			if block := renderRecord(rec, false); block != "" {
				withoutChild = append(withoutChild, block)
			}
		} else if block := renderRecord(rec, true); block != "" {
			withoutChild = append(withoutChild, block)
		}
		parentChild = append(parentChild, line(labelParent, rec.ParentMessage)+"\n"+line(labelChild, rec.ChildMessage))
		if rec.CoachingFeedback != "" {
			coaching = append(coaching, rec.CoachingFeedback)
		}
	}
	if len(records) == 0 {
		p.LatestChildResponse = initiator
	}

	p.FullHistory = strings.Join(full, "\n\n")
	p.HistoryWithoutTrailingChild = strings.Join(withoutChild, "\n\n")
	p.ParentChildHistory = strings.Join(parentChild, "\n\n")
	p.PreviousCoaching = strings.Join(coaching, "\n\n")
	return p
}

// renderRecord renders the present fields of rec as labeled lines.
func renderRecord(rec models.InteractionRecord, includeChild bool) string {
	var lines []string
	add := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			lines = append(lines, line(label, value))
		}
	}
	add(labelParent, rec.ParentMessage)
	add(labelCoaching, rec.CoachingFeedback)
	if includeChild {
		add(labelChild, rec.ChildMessage)
	}
	if rec.Decision != nil {
		lines = append(lines, line(labelDecision, strconv.Itoa(int(*rec.Decision))))
	}
	add(labelDecisionReasoning, rec.DecisionReasoning)
	return strings.Join(lines, "\n")
}

func line(label, value string) string {
	if value == "" {
		return label + ":"
	}
	return label + ": " + value
}
