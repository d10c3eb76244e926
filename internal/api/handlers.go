package api

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/trace"
)

// apiKeyHeader carries the shared secret configured with WithAPIKey.
const apiKeyHeader = "x-api-key"

// requireAPIKey rejects requests whose x-api-key does not match. With no key
// configured every request passes.
func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey == "" {
			next(w, r)
			return
		}
		got := r.Header.Get(apiKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.APIKey)) != 1 {
			slog.Warn("Server.requireAPIKey: rejected request", "path", r.URL.Path, "key_present", got != "")
			writeJSONResponse(w, http.StatusForbidden, models.Error("Could not validate API key"))
			return
		}
		next(w, r)
	}
}

// chatHandler runs one turn: POST /chat.
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.chatHandler: validation failed", "error", err, "chat_id", req.ChatID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	slog.Debug("Server.chatHandler: processing turn", "chat_id", req.ChatID, "lng", req.Language, "message_id", req.MessageID)
	result, err := s.orchestrator(req.Language).ProcessTurn(r.Context(), req.ChatID, req.Message, req.MessageID)
	if err != nil {
		if errors.Is(err, models.ErrConversationFinished) {
			slog.Warn("Server.chatHandler: conversation already finished", "chat_id", req.ChatID)
			writeJSONResponse(w, http.StatusConflict, models.Error("Conversation has already finished"))
			return
		}
		slog.Error("Server.chatHandler: turn failed", "error", err, "chat_id", req.ChatID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.ChatResponse{Response: result.Bundle})
}

// latestChatMessageHandler returns the newest bundle after a delay: GET /latest-chat-msg.
func (s *Server) latestChatMessageHandler(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		slog.Warn("Server.latestChatMessageHandler: missing chat_id")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("chat_id is required"))
		return
	}

	if s.opts.LatestMessageDelay > 0 {
		timer := time.NewTimer(s.opts.LatestMessageDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-r.Context().Done():
			slog.Debug("Server.latestChatMessageHandler: client went away", "chat_id", chatID)
			return
		}
	}

	bundle, err := s.orchestrator(r.URL.Query().Get("lng")).LatestBundle(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, models.ErrNoHistory) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("No messages for this chat"))
			return
		}
		slog.Error("Server.latestChatMessageHandler: lookup failed", "error", err, "chat_id", chatID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load latest message"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.ChatResponse{Response: bundle})
}

// traceHandler exports a conversation: GET /conversations/{id}/trace.
func (s *Server) traceHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "yaml"
	}
	if format != "yaml" && format != "csv" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("format must be yaml or csv"))
		return
	}

	orch := s.orchestrator(r.URL.Query().Get("lng"))
	history, err := orch.History(r.Context(), id)
	if err != nil {
		slog.Error("Server.traceHandler: history lookup failed", "error", err, "chat_id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation"))
		return
	}
	if len(history) == 0 {
		writeJSONResponse(w, http.StatusNotFound, models.Error("No messages for this chat"))
		return
	}

	doc := trace.Build(orch.Scenario().Scenario.ConversationInitiator, history)
	var buf bytes.Buffer
	contentType := "application/yaml"
	if format == "csv" {
		contentType = "text/csv"
		err = trace.WriteCSV(&buf, doc)
	} else {
		err = trace.WriteYAML(&buf, doc)
	}
	if err != nil {
		slog.Error("Server.traceHandler: encoding failed", "error", err, "format", format)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to export trace"))
		return
	}
	writeBody(w, http.StatusOK, contentType, buf.Bytes())
}

// rootHandler reports the default child model: GET /.
func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"model": s.catalog.Default().Models.Child})
}

// scenarioHandler returns the scenario intro: GET /scenario.
func (s *Server) scenarioHandler(w http.ResponseWriter, r *http.Request) {
	cfg := s.catalog.Get(r.URL.Query().Get("lng"))
	writeJSONResponse(w, http.StatusOK, map[string]string{"response": cfg.Intro()})
}

// healthHandler is the liveness probe: GET /healthz.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
