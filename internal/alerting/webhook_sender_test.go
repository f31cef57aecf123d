package alerting

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestWebhookSenderSignsPayload(t *testing.T) {
	const secret = "alert-secret"
	var (
		gotBody []byte
		gotTS   string
		gotSig  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotTS = r.Header.Get("X-Alert-Timestamp")
		gotSig = r.Header.Get("X-Alert-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender, err := NewWebhookSender(WebhookSenderConfig{URL: srv.URL, Secret: secret})
	require.NoError(t, err)

	alert := pendingAlert(0)
	alert.ExternalCallID = "call_abc"
	require.NoError(t, sender.SendAlert(context.Background(), alert))

	var payload alertPayload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	require.Equal(t, alert.ID.String(), payload.AlertID)
	require.Equal(t, "chest pain", payload.Reason)
	require.Equal(t, "call_abc", payload.ExternalCallID)

	require.NotEmpty(t, gotTS)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gotTS + "." + string(gotBody)))
	require.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)
}

func TestWebhookSenderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "on-call receiver down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sender, err := NewWebhookSender(WebhookSenderConfig{URL: srv.URL})
	require.NoError(t, err)

	alert := &Alert{ID: uuid.New(), Reason: "chest pain", RaisedAt: time.Now().UTC()}
	err = sender.SendAlert(context.Background(), alert)
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestWebhookSenderRequiresURL(t *testing.T) {
	_, err := NewWebhookSender(WebhookSenderConfig{})
	require.Error(t, err)
}
