// Package testutil provides common test utilities and helpers for CoachPipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/scenario"
	"github.com/BTreeMap/CoachPipe/internal/store"
)

// Initiator is the conversation initiator used by ScenarioConfig.
const Initiator = "I don't want to go to bed!"

// ScenarioConfig returns a small, valid scenario whose prompts echo their
// variables, so tests can assert on rendered prompts.
func ScenarioConfig() *scenario.Config {
	return &scenario.Config{
		Language: "en",
		Models: scenario.Models{
			Child:                  "child-model",
			ChildTemperature:       0.8,
			Facilitator:            "facilitator-model",
			FacilitatorTemperature: 0.2,
		},
		Scenario: scenario.Scenario{
			Name:                  "Bedtime",
			Description:           "A child refuses to go to bed.",
			Objectives:            scenario.Objectives{"Stay calm", "Set a limit"},
			ConversationInitiator: Initiator,
		},
		SystemPrompts: scenario.SystemPrompts{
			Child:                            "CHILD turn={turn_count} parent={parent_response}\n{interaction_history}",
			FacilitatorDecision:              "DECIDE turn={turn_count} parent={parent_response} child={child_response}\n{interaction_history}\nneutral={child_only_neutral}",
			FacilitatorPositiveReinforcement: "POSITIVE parent={parent_response} reasoning={reasoning} previous={previous_coaching}",
			FacilitatorHelp:                  "HELP parent={parent_response} reasoning={reasoning}",
			FacilitatorEndCoaching:           "END parent={parent_response} previous={previous_coaching}",
			FacilitatorSummary:               "SUMMARY +{parent_feedback_positive} -{parent_feedback_negative}\n{interaction_history}",
		},
		Conditions: scenario.Conditions{
			EndConversation:                          "the child agreed",
			ChildOnlyNeutral:                         "a neutral reply",
			ChildOnlyPositive:                        "a warm reply",
			ChildAndFacilitatorPositiveReinforcement: "a skillful reply",
			ChildAndFacilitatorHelp:                  "a reply that needs help",
			FacilitatorOnlyHelp:                      "a harmful reply",
		},
		StaticMessages: scenario.StaticMessages{
			RetryMessage:     "Please try again.",
			Facilitator:      "Facilitator",
			Child:            "Child",
			Summary:          "Summary",
			Scenario:         "Scenario",
			PositiveQuestion: "What went well?",
			NegativeQuestion: "What was hard?",
		},
	}
}

// Record builds a stored record with the given stage and optional decision.
func Record(chatID, id string, stage models.Stage, decision *models.Decision) models.InteractionRecord {
	return models.InteractionRecord{
		ID:             id,
		ConversationID: chatID,
		ParentMessage:  "parent " + id,
		ChildMessage:   "child " + id,
		Decision:       decision,
		Stage:          stage,
		CreatedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// SeedHistory appends records to st and fails the test on error.
func SeedHistory(t *testing.T, st store.InteractionStore, records ...models.InteractionRecord) {
	t.Helper()
	for _, rec := range records {
		if err := st.AppendOrReplace(context.Background(), rec); err != nil {
			t.Fatalf("failed to seed record %s: %v", rec.ID, err)
		}
	}
}

// AssertRecordCount checks how many records a conversation holds.
func AssertRecordCount(t *testing.T, st store.InteractionStore, chatID string, expected int) {
	t.Helper()
	history, err := st.FetchHistory(context.Background(), chatID)
	if err != nil {
		t.Fatalf("failed to fetch history for %s: %v", chatID, err)
	}
	if len(history) != expected {
		t.Errorf("expected %d records for %s, got %d", expected, chatID, len(history))
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
