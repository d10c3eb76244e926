// Package models defines the core data structures for CoachPipe.
//
// It includes the stored interaction record, decision codes, conversation stages and
// the JSON bodies of the HTTP API.
package models

import "errors"

// Sentinel errors shared by the core and its callers.
var (
	ErrEmptyConversationID  = errors.New("chat_id is required")
	ErrEmptyMessage         = errors.New("message is required")
	ErrEmptyRecordID        = errors.New("record id is required")
	ErrNoHistory            = errors.New("no chat history found")
	ErrConversationFinished = errors.New("conversation already finished")
)

// StatusError marks an error envelope.
const StatusError = "error"

// APIResponse is the JSON envelope for API errors.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Error creates an error envelope with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: StatusError, Message: message}
}
