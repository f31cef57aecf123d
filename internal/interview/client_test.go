package interview

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tshla/previsit-platform/internal/retry"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		APIKey:        "key-123",
		AgentID:       "agent-previsit",
		BaseURL:       baseURL,
		WebhookSecret: "hook-secret",
		Policy:        retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	require.NoError(t, err)
	return c
}

func TestStartConversation(t *testing.T) {
	var got startConversationBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations", r.URL.Path)
		require.Equal(t, "Bearer key-123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"data":{"conversation_id":"conv_42"}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	id, err := c.StartConversation(context.Background(), StartRequest{
		ExternalCallID:  "call_abc",
		AgentContext:    "pre-visit interview",
		PatientName:     "Maria Gonzalez",
		AppointmentDate: "2026-03-13",
		AppointmentTime: "2:00 PM",
		ProviderName:    "Dr. Shah",
	})
	require.NoError(t, err)
	require.Equal(t, "conv_42", id)
	require.Equal(t, "agent-previsit", got.AgentID)
	require.Equal(t, "call_abc", got.CallControlID)
	require.Equal(t, "Dr. Shah", got.ProviderName)
}

func TestStartConversationRetriesTransientFailure(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"data":{"conversation_id":"conv_42"}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	id, err := c.StartConversation(context.Background(), StartRequest{ExternalCallID: "call_abc"})
	require.NoError(t, err)
	require.Equal(t, "conv_42", id)
	require.Equal(t, 2, hits)
}

func TestStartConversationRequiresCallID(t *testing.T) {
	c := testClient(t, "http://localhost:0")
	_, err := c.StartConversation(context.Background(), StartRequest{})
	require.Error(t, err)
}

func TestVerifyWebhookSignature(t *testing.T) {
	c := testClient(t, "http://localhost:0")
	payload := []byte(`{"conversation_id":"conv_42"}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte("hook-secret"))
	mac.Write([]byte(ts + "." + string(payload)))
	sig := hex.EncodeToString(mac.Sum(nil))

	require.NoError(t, c.VerifyWebhookSignature(ts, sig, payload))
	require.Error(t, c.VerifyWebhookSignature(ts, sig, []byte(`{"tampered":true}`)))
	require.Error(t, c.VerifyWebhookSignature("", sig, payload))

	stale := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	require.Error(t, c.VerifyWebhookSignature(stale, sig, payload))
}
