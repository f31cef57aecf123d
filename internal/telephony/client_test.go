package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tshla/previsit-platform/internal/calls"
	"github.com/tshla/previsit-platform/internal/retry"
)

func testClient(t *testing.T, baseURL string) *VoiceClient {
	t.Helper()
	c, err := NewVoiceClient(VoiceClientConfig{
		APIKey:        "key",
		ConnectionID:  "conn-1",
		FromNumber:    "+15550001111",
		CallbackURL:   "https://example.com/webhooks/telephony/status",
		WebhookSecret: "hook-secret",
		BaseURL:       baseURL,
		Policy:        retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	require.NoError(t, err)
	return c
}

func TestPlaceCallSendsCorrelationState(t *testing.T) {
	var got placeCallRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/calls", r.URL.Path)
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"data":{"call_control_id":"call_abc","is_alive":true}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	id, err := c.PlaceCall(context.Background(), calls.DialRequest{
		To:            "+15551234567",
		AttemptID:     "a1",
		AttemptNumber: 2,
	})
	require.NoError(t, err)
	require.Equal(t, "call_abc", id)
	require.Equal(t, "+15551234567", got.To)
	require.Equal(t, "detect", got.AnsweringMachine)

	state, err := DecodeClientState(got.ClientState)
	require.NoError(t, err)
	require.Equal(t, "a1", state.AttemptID)
	require.Equal(t, 2, state.AttemptNumber)
}

func TestPlaceCallRetriesTransientFailure(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"data":{"call_control_id":"call_abc"}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	id, err := c.PlaceCall(context.Background(), calls.DialRequest{To: "+15551234567"})
	require.NoError(t, err)
	require.Equal(t, "call_abc", id)
	require.Equal(t, 2, hits)
}

func TestLeaveVoicemailSpeaksIntoCall(t *testing.T) {
	var path string
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		fmt.Fprint(w, `{"data":{}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	err := c.LeaveVoicemail(context.Background(), "call_abc", "please call us back")
	require.NoError(t, err)
	require.Equal(t, "/calls/call_abc/actions/speak", path)
	require.Equal(t, "please call us back", payload["payload"])
}

func TestVerifyWebhookSignature(t *testing.T) {
	c := testClient(t, "http://unused")
	body := []byte(`{"data":{"event_type":"call.answered"}}`)
	ts := fmt.Sprintf("%d", time.Now().Unix())

	mac := hmac.New(sha256.New, []byte("hook-secret"))
	mac.Write([]byte(ts + "." + string(body)))
	sig := hex.EncodeToString(mac.Sum(nil))

	require.NoError(t, c.VerifyWebhookSignature(ts, sig, body))
	require.Error(t, c.VerifyWebhookSignature(ts, sig, []byte("tampered")))
	require.Error(t, c.VerifyWebhookSignature("", sig, body))

	stale := fmt.Sprintf("%d", time.Now().Add(-time.Hour).Unix())
	mac = hmac.New(sha256.New, []byte("hook-secret"))
	mac.Write([]byte(stale + "." + string(body)))
	require.Error(t, c.VerifyWebhookSignature(stale, hex.EncodeToString(mac.Sum(nil)), body))
}
