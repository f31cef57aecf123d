package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tshla/previsit-platform/internal/calls"
)

type fakeCompletionHandler struct {
	completed     []string
	transcripts   [][]calls.TranscriptEntry
	emergencies   []string
	emergencyErr  error
	completionErr error
}

func (f *fakeCompletionHandler) HandleConversationCompleted(_ context.Context, externalCallID string, transcript []calls.TranscriptEntry, durationSecs int) error {
	f.completed = append(f.completed, externalCallID)
	f.transcripts = append(f.transcripts, transcript)
	return f.completionErr
}

func (f *fakeCompletionHandler) HandleEmergency(_ context.Context, externalCallID, reason string) error {
	f.emergencies = append(f.emergencies, reason)
	return f.emergencyErr
}

const completionBody = `{
	"conversation_id": "conv-1",
	"call_control_id": "cc-1",
	"duration_seconds": 312,
	"transcript": [
		{"role":"agent","text":"How have you been feeling?","timestamp":"2026-03-10T10:31:00Z"},
		{"role":"patient","text":"Pretty good, thanks.","timestamp":"2026-03-10T10:31:09Z"}
	],
	"completed_at": "2026-03-10T10:36:00Z"
}`

func postInterviewCompleted(h *InterviewWebhookHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/interview/completed", strings.NewReader(body))
	req.Header.Set("X-Interview-Timestamp", "1770000000")
	req.Header.Set("X-Interview-Signature", "sig")
	w := httptest.NewRecorder()
	h.HandleCompleted(w, req)
	return w
}

func TestInterviewCompletedHandsOffTranscript(t *testing.T) {
	orch := &fakeCompletionHandler{}
	processed := newFakeProcessed()
	h := NewInterviewWebhookHandler(&fakeVerifier{}, processed, orch, nil)

	w := postInterviewCompleted(h, completionBody)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"cc-1"}, orch.completed)
	require.Len(t, orch.transcripts[0], 2)
	require.Equal(t, "patient", orch.transcripts[0][1].Role)
	require.Empty(t, orch.emergencies)
	require.True(t, processed.seen["interview:conv-1"])
}

func TestInterviewCompletedEscalatesEmergencyFirst(t *testing.T) {
	orch := &fakeCompletionHandler{}
	h := NewInterviewWebhookHandler(&fakeVerifier{}, newFakeProcessed(), orch, nil)

	body := strings.Replace(completionBody,
		`"duration_seconds": 312,`,
		`"duration_seconds": 88, "detected_emergency": true, "emergency_reason": "patient reported chest pain",`, 1)
	w := postInterviewCompleted(h, body)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"patient reported chest pain"}, orch.emergencies)
	require.Equal(t, []string{"cc-1"}, orch.completed)
}

func TestInterviewCompletedEmergencyFailureRetried(t *testing.T) {
	orch := &fakeCompletionHandler{emergencyErr: errors.New("alert outbox unavailable")}
	processed := newFakeProcessed()
	h := NewInterviewWebhookHandler(&fakeVerifier{}, processed, orch, nil)

	body := strings.Replace(completionBody,
		`"duration_seconds": 312,`,
		`"duration_seconds": 88, "detected_emergency": true,`, 1)
	w := postInterviewCompleted(h, body)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Empty(t, orch.completed)
	require.False(t, processed.seen["interview:conv-1"])
}

func TestInterviewCompletedRejectsBadSignature(t *testing.T) {
	orch := &fakeCompletionHandler{}
	h := NewInterviewWebhookHandler(&fakeVerifier{err: errors.New("bad signature")}, newFakeProcessed(), orch, nil)

	w := postInterviewCompleted(h, completionBody)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Empty(t, orch.completed)
}

func TestInterviewCompletedDuplicateAcked(t *testing.T) {
	orch := &fakeCompletionHandler{}
	processed := newFakeProcessed()
	processed.seen["interview:conv-1"] = true
	h := NewInterviewWebhookHandler(&fakeVerifier{}, processed, orch, nil)

	w := postInterviewCompleted(h, completionBody)

	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, orch.completed)
}

func TestInterviewCompletedRejectsMalformedPayload(t *testing.T) {
	h := NewInterviewWebhookHandler(&fakeVerifier{}, newFakeProcessed(), &fakeCompletionHandler{}, nil)

	require.Equal(t, http.StatusBadRequest, postInterviewCompleted(h, `{"conversation_id":""}`).Code)
}
