package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// interactionColumns is the column list shared by the SQL backends, in scan order.
const interactionColumns = `id, chat_id, parent_message, child_message, decision, decision_reasoning,
	coaching_feedback, blocked_message, stage, summary, positive_feedback, negative_feedback, message, created_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// decisionArg converts an optional decision into a nullable column value.
func decisionArg(d *models.Decision) interface{} {
	if d == nil {
		return nil
	}
	return int64(*d)
}

// interactionArgs returns the insert arguments in interactionColumns order.
func interactionArgs(rec models.InteractionRecord) []interface{} {
	return []interface{}{
		rec.ID,
		rec.ConversationID,
		nilIfEmpty(rec.ParentMessage),
		nilIfEmpty(rec.ChildMessage),
		decisionArg(rec.Decision),
		nilIfEmpty(rec.DecisionReasoning),
		nilIfEmpty(rec.CoachingFeedback),
		rec.BlockedMessage,
		string(rec.Stage),
		nilIfEmpty(rec.Summary),
		nilIfEmpty(rec.PositiveFeedback),
		nilIfEmpty(rec.NegativeFeedback),
		nilIfEmpty(rec.Message),
		rec.CreatedAt,
	}
}

// scanInteraction scans one interaction row.
func scanInteraction(row rowScanner) (models.InteractionRecord, error) {
	var rec models.InteractionRecord
	var parent, child, reasoning, coaching, summary, positive, negative, message sql.NullString
	var decision sql.NullInt64
	var stage string
	err := row.Scan(
		&rec.ID, &rec.ConversationID, &parent, &child, &decision, &reasoning,
		&coaching, &rec.BlockedMessage, &stage, &summary, &positive, &negative, &message, &rec.CreatedAt,
	)
	if err != nil {
		return rec, fmt.Errorf("scan interaction failed: %w", err)
	}
	rec.ParentMessage = parent.String
	rec.ChildMessage = child.String
	rec.DecisionReasoning = reasoning.String
	rec.CoachingFeedback = coaching.String
	rec.Stage = models.Stage(stage)
	rec.Summary = summary.String
	rec.PositiveFeedback = positive.String
	rec.NegativeFeedback = negative.String
	rec.Message = message.String
	if decision.Valid {
		rec.Decision = models.Decision(decision.Int64).Ptr()
	}
	return rec, nil
}

// scanInteractions drains rows into a slice.
func scanInteractions(rows *sql.Rows) ([]models.InteractionRecord, error) {
	records := []models.InteractionRecord{}
	for rows.Next() {
		rec, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate interaction rows: %w", err)
	}
	return records, nil
}
