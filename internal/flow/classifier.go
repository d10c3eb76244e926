package flow

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

const (
	decisionLabel  = "DECISION:"
	reasoningLabel = "REASONING:"
)

// Classification is a parsed classifier reply.
type Classification struct {
	Decision  models.Decision
	Reasoning string
	RawReply  string
}

// ParseDecision extracts the DECISION and REASONING lines from a classifier reply.
// The first line carrying each label wins; a missing REASONING line yields an
// empty reasoning.
func ParseDecision(reply string) (Classification, error) {
	var (
		decisionValue string
		haveDecision  bool
		reasoning     string
		haveReasoning bool
	)
	for _, raw := range strings.Split(reply, "\n") {
		l := strings.TrimSpace(raw)
		switch {
		case !haveDecision && strings.HasPrefix(l, decisionLabel):
			decisionValue = strings.TrimSpace(strings.TrimPrefix(l, decisionLabel))
			haveDecision = true
		case !haveReasoning && strings.HasPrefix(l, reasoningLabel):
			reasoning = strings.TrimSpace(strings.TrimPrefix(l, reasoningLabel))
			haveReasoning = true
		}
	}

	if !haveDecision {
		return Classification{}, &InvalidDecisionError{Reply: reply, Reason: "no DECISION line in classifier reply"}
	}
	n, err := strconv.Atoi(decisionValue)
	if err != nil {
		return Classification{}, &InvalidDecisionError{Reply: reply, Reason: "decision " + strconv.Quote(decisionValue) + " is not an integer"}
	}
	d := models.Decision(n)
	if !d.IsValid() {
		return Classification{}, &InvalidDecisionError{Reply: reply, Reason: "decision " + strconv.Itoa(n) + " is out of range"}
	}
	return Classification{Decision: d, Reasoning: reasoning, RawReply: reply}, nil
}

// Classifier asks the generator for a decision and parses the reply.
type Classifier struct {
	gen Generator
}

// NewClassifier creates a Classifier backed by gen.
func NewClassifier(gen Generator) *Classifier {
	return &Classifier{gen: gen}
}

// Classify routes one parent message using the trailing-child projection.
func (c *Classifier) Classify(ctx context.Context, parentMessage string, p Projections) (Classification, error) {
	reply, err := c.gen.ClassifyDecision(ctx, DecisionRequest{
		ParentMessage:     parentMessage,
		LastChildResponse: p.LatestChildResponse,
		History:           p.HistoryWithoutTrailingChild,
		TurnCount:         p.TurnCount,
	})
	if err != nil {
		slog.Error("Classifier.Classify: decision generation failed", "error", err)
		return Classification{}, &GenerationError{Capability: CapabilityDecision, Err: err}
	}
	cls, err := ParseDecision(reply)
	if err != nil {
		slog.Error("Classifier.Classify: unusable classifier reply", "error", err, "reply_len", len(reply))
		return Classification{}, err
	}
	slog.Debug("Classifier.Classify: decision parsed", "decision", cls.Decision.String(), "turn", p.TurnCount)
	return cls, nil
}
