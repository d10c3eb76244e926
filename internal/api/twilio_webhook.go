package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

const (
	twilioSignatureHeader = "X-Twilio-Signature"
	emptyTwiML            = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
)

// twilioWebhookHandler handles inbound WhatsApp messages: POST /webhooks/twilio.
// Replies are delivered through the REST API; the TwiML response stays empty.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: failed to parse form", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form body"))
		return
	}

	params := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		params[k] = r.PostForm.Get(k)
	}
	if !s.opts.Validator.Validate(s.opts.WebhookURL, params, r.Header.Get(twilioSignatureHeader)) {
		slog.Warn("Server.twilioWebhookHandler: signature validation failed", "from", params["From"])
		writeJSONResponse(w, http.StatusForbidden, models.Error("Invalid signature"))
		return
	}

	from, body, sid := params["From"], params["Body"], params["MessageSid"]
	if from == "" || body == "" {
		slog.Debug("Server.twilioWebhookHandler: ignoring message without sender or body", "message_sid", sid)
		writeBody(w, http.StatusOK, "text/xml", []byte(emptyTwiML))
		return
	}

	lng := s.opts.WebhookLanguage
	if lng == "" {
		lng = s.catalog.DefaultLanguage()
	}
	result, err := s.orchestrator(lng).ProcessTurn(r.Context(), from, body, sid)
	if err != nil {
		if errors.Is(err, models.ErrConversationFinished) {
			slog.Info("Server.twilioWebhookHandler: message after conversation finished", "from", from)
			writeBody(w, http.StatusOK, "text/xml", []byte(emptyTwiML))
			return
		}
		slog.Error("Server.twilioWebhookHandler: turn failed", "error", err, "from", from)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	for _, line := range result.Bundle.Lines() {
		if err := s.opts.Sender.SendMessage(r.Context(), from, line); err != nil {
			slog.Error("Server.twilioWebhookHandler: failed to send reply", "error", err, "to", from)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send reply"))
			return
		}
	}
	writeBody(w, http.StatusOK, "text/xml", []byte(emptyTwiML))
}
