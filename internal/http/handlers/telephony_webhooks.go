package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/tshla/previsit-platform/internal/calls"
	"github.com/tshla/previsit-platform/internal/telephony"
	"github.com/tshla/previsit-platform/pkg/logging"
)

type signatureVerifier interface {
	VerifyWebhookSignature(timestamp, signature string, payload []byte) error
}

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

type statusHandler interface {
	HandleStatus(ctx context.Context, ev calls.StatusEvent) error
}

// TelephonyWebhookHandler receives call-control status callbacks from the
// voice provider and feeds them to the call lifecycle engine.
type TelephonyWebhookHandler struct {
	verifier     signatureVerifier
	processed    processedTracker
	orchestrator statusHandler
	logger       *logging.Logger
}

func NewTelephonyWebhookHandler(verifier signatureVerifier, processed processedTracker, orchestrator statusHandler, logger *logging.Logger) *TelephonyWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &TelephonyWebhookHandler{
		verifier:     verifier,
		processed:    processed,
		orchestrator: orchestrator,
		logger:       logger.Component("telephony-webhooks"),
	}
}

// HandleStatus processes POST /webhooks/telephony/status.
func (h *TelephonyWebhookHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.verifier.VerifyWebhookSignature(r.Header.Get("Telnyx-Timestamp"), r.Header.Get("Telnyx-Signature"), body); err != nil {
		h.logger.Warn("invalid telephony webhook signature", "error", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	evt, err := telephony.ParseEvent(body)
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if evt.ID != "" {
		if processed, err := h.processed.AlreadyProcessed(r.Context(), "telephony", evt.ID); err != nil {
			h.logger.Error("processed lookup failed", "error", err)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		} else if processed {
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	ev, ok := evt.ToStatusEvent()
	if !ok {
		// Lifecycle noise (ringing, playback progress); acknowledge and move on.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.orchestrator.HandleStatus(r.Context(), ev); err != nil {
		h.logger.Error("status handling failed",
			"event_type", ev.EventType,
			"external_call_id", ev.ExternalCallID,
			"error", err,
		)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if evt.ID != "" {
		if _, err := h.processed.MarkProcessed(r.Context(), "telephony", evt.ID); err != nil {
			h.logger.Error("mark processed failed", "error", err, "event_id", evt.ID)
		}
	}
	w.WriteHeader(http.StatusOK)
}
