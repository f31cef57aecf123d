package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/tshla/previsit-platform/internal/calls"
	"github.com/tshla/previsit-platform/internal/interview"
	"github.com/tshla/previsit-platform/pkg/logging"
)

type completionHandler interface {
	HandleConversationCompleted(ctx context.Context, externalCallID string, transcript []calls.TranscriptEntry, durationSecs int) error
	HandleEmergency(ctx context.Context, externalCallID, reason string) error
}

// InterviewWebhookHandler receives conversation-completed callbacks from the
// conversational-AI collaborator.
type InterviewWebhookHandler struct {
	verifier     signatureVerifier
	processed    processedTracker
	orchestrator completionHandler
	logger       *logging.Logger
}

func NewInterviewWebhookHandler(verifier signatureVerifier, processed processedTracker, orchestrator completionHandler, logger *logging.Logger) *InterviewWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &InterviewWebhookHandler{
		verifier:     verifier,
		processed:    processed,
		orchestrator: orchestrator,
		logger:       logger.Component("interview-webhooks"),
	}
}

// HandleCompleted processes POST /webhooks/interview/completed. An emergency
// detected mid-conversation is escalated before the completion handoff so
// the urgent path never waits on extraction.
func (h *InterviewWebhookHandler) HandleCompleted(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.verifier.VerifyWebhookSignature(r.Header.Get("X-Interview-Timestamp"), r.Header.Get("X-Interview-Signature"), body); err != nil {
		h.logger.Warn("invalid interview webhook signature", "error", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	evt, err := interview.ParseCompletion(body)
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if processed, err := h.processed.AlreadyProcessed(r.Context(), "interview", evt.ConversationID); err != nil {
		h.logger.Error("processed lookup failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	} else if processed {
		w.WriteHeader(http.StatusOK)
		return
	}

	if evt.DetectedEmergency {
		if err := h.orchestrator.HandleEmergency(r.Context(), evt.ExternalCallID, evt.EmergencyReason); err != nil {
			h.logger.Error("emergency escalation failed",
				"external_call_id", evt.ExternalCallID,
				"error", err,
			)
			// Retry the whole event; the escalation path must not be dropped.
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
	}
	if err := h.orchestrator.HandleConversationCompleted(r.Context(), evt.ExternalCallID, evt.CallTranscript(), evt.DurationSeconds); err != nil {
		h.logger.Error("completion handling failed",
			"external_call_id", evt.ExternalCallID,
			"error", err,
		)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if _, err := h.processed.MarkProcessed(r.Context(), "interview", evt.ConversationID); err != nil {
		h.logger.Error("mark processed failed", "error", err, "conversation_id", evt.ConversationID)
	}
	w.WriteHeader(http.StatusOK)
}
