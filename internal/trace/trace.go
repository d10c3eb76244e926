// Package trace exports a conversation's interaction history for expert review,
// either as a YAML trace or as a CSV sheet with scoring columns.
package trace

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// Entry is one dialogue turn in a trace.
type Entry struct {
	Parent            string `yaml:"parent"`
	Coaching          string `yaml:"coaching"`
	Child             string `yaml:"child"`
	Decision          *int   `yaml:"decision"`
	DecisionName      string `yaml:"decision_name"`
	DecisionReasoning string `yaml:"decision_reasoning"`
}

// Document is a full conversation trace. Field order is the YAML key order.
type Document struct {
	ConversationInitiator  string  `yaml:"conversation_initiator"`
	Trace                  []Entry `yaml:"trace"`
	ParentFeedbackPositive string  `yaml:"parent_feedback_positive"`
	ParentFeedbackNegative string  `yaml:"parent_feedback_negative"`
	Summary                string  `yaml:"summary"`
}

// Build assembles a Document from stored records. Classified turns become
// trace entries; feedback-survey turns only feed the reflections and summary.
func Build(initiator string, records []models.InteractionRecord) Document {
	doc := Document{ConversationInitiator: initiator, Trace: []Entry{}}
	for _, rec := range records {
		if rec.PositiveFeedback != "" {
			doc.ParentFeedbackPositive = rec.PositiveFeedback
		}
		if rec.NegativeFeedback != "" {
			doc.ParentFeedbackNegative = rec.NegativeFeedback
		}
		if rec.Summary != "" {
			doc.Summary = rec.Summary
		}
		if rec.Decision == nil {
			continue
		}
		d := int(*rec.Decision)
		doc.Trace = append(doc.Trace, Entry{
			Parent:            rec.ParentMessage,
			Coaching:          rec.CoachingFeedback,
			Child:             rec.ChildMessage,
			Decision:          &d,
			DecisionName:      rec.Decision.String(),
			DecisionReasoning: rec.DecisionReasoning,
		})
	}
	return doc
}

// WriteYAML encodes doc as YAML.
func WriteYAML(w io.Writer, doc Document) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode trace: %w", err)
	}
	return enc.Close()
}

// CSVHeader is the first row of an exported sheet.
var CSVHeader = []string{"Turn", "Interaction", "Text", "Expert Score 1 (1-5)", "Comment 1", "Expert Score 2 (1-5)", "Comment 2"}

func csvRow(turn, interaction, text string) []string {
	return []string{turn, interaction, text, "", "", "", ""}
}

// WriteCSV writes doc as a review sheet. The initiator is turn 0, and a turn
// number is reused after a blocked parent message so the retry shares it.
func WriteCSV(w io.Writer, doc Document) error {
	cw := csv.NewWriter(w)
	rows := [][]string{CSVHeader}

	if doc.ConversationInitiator != "" {
		rows = append(rows, csvRow("0", "Child", doc.ConversationInitiator))
	}

	turn := 1
	for _, e := range doc.Trace {
		n := strconv.Itoa(turn)
		blocked := e.Decision != nil && models.Decision(*e.Decision) == models.DecisionFacilitatorOnlyHelp

		rows = append(rows, csvRow(n, "Parent", e.Parent))
		decision := ""
		if e.Decision != nil {
			decision = fmt.Sprintf("%d - %s", *e.Decision, e.DecisionName)
		}
		rows = append(rows, csvRow(n, "Decision", decision))
		reasoning := e.DecisionReasoning
		if reasoning == "" {
			reasoning = "..."
		}
		rows = append(rows, csvRow(n, "Reasoning", reasoning))
		if e.Coaching != "" {
			rows = append(rows, csvRow(n, "Facilitator", e.Coaching))
		}
		child := e.Child
		if blocked {
			child = "[Message Blocked]"
		}
		rows = append(rows, csvRow(n, "Child", child))

		if !blocked {
			turn++
		}
	}

	if doc.ParentFeedbackPositive != "" {
		rows = append(rows, csvRow("", "", ""))
		rows = append(rows, csvRow("", "Parent Reflection (Positive)", doc.ParentFeedbackPositive))
	}
	if doc.ParentFeedbackNegative != "" {
		rows = append(rows, csvRow("", "Parent Reflection (Negative)", doc.ParentFeedbackNegative))
	}
	if doc.Summary != "" {
		if doc.ParentFeedbackPositive == "" {
			rows = append(rows, csvRow("", "", ""))
		}
		rows = append(rows, csvRow("", "Summary", doc.Summary))
	}

	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write trace csv: %w", err)
	}
	return nil
}

// SaveYAML writes doc to dir/trace_<timestamp>.yaml and returns the path.
func SaveYAML(dir string, doc Document, now time.Time) (string, error) {
	return save(dir, "trace_"+now.Format("20060102_150405")+".yaml", func(w io.Writer) error {
		return WriteYAML(w, doc)
	})
}

// SaveCSV writes doc to dir/full_unfiltered_trace_<timestamp>.csv and returns the path.
func SaveCSV(dir string, doc Document, now time.Time) (string, error) {
	return save(dir, "full_unfiltered_trace_"+now.Format("20060102_150405")+".csv", func(w io.Writer) error {
		return WriteCSV(w, doc)
	})
}

func save(dir, name string, write func(io.Writer) error) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		slog.Error("trace.save: write failed", "path", path, "error", err)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	slog.Debug("trace.save: wrote trace", "path", path)
	return path, nil
}
