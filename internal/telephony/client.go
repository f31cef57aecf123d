package telephony

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tshla/previsit-platform/internal/calls"
	"github.com/tshla/previsit-platform/internal/retry"
	"github.com/tshla/previsit-platform/pkg/logging"
)

var voiceTracer = otel.Tracer("previsit.internal.telephony.voice")

const (
	defaultBaseURL     = "https://api.telnyx.com/v2"
	defaultCallTimeout = 15 * time.Second
)

// VoiceClient places and controls outbound calls through the telephony
// provider's call-control API. It satisfies the orchestrator's Dialer
// contract.
type VoiceClient struct {
	apiKey        string
	connectionID  string
	fromNumber    string
	callbackURL   string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
	policy        retry.Policy
	maxSkew       time.Duration
	logger        *logging.Logger
}

// VoiceClientConfig configures the outbound voice client.
type VoiceClientConfig struct {
	// APIKey is the provider API key (Bearer token).
	APIKey string
	// ConnectionID is the call-control application the calls run under.
	ConnectionID string
	// FromNumber is the clinic's outbound number (E.164).
	FromNumber string
	// CallbackURL receives call status webhooks.
	CallbackURL string
	// WebhookSecret signs inbound webhooks.
	WebhookSecret string
	// BaseURL overrides the provider API base URL (for testing).
	BaseURL string
	// Policy bounds retries on transient dispatch failures.
	Policy     retry.Policy
	MaxSkew    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// NewVoiceClient creates a client for outbound pre-visit calls.
func NewVoiceClient(cfg VoiceClientConfig) (*VoiceClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("telephony: API key required")
	}
	if strings.TrimSpace(cfg.ConnectionID) == "" {
		return nil, errors.New("telephony: connection ID required")
	}
	if strings.TrimSpace(cfg.FromNumber) == "" {
		return nil, errors.New("telephony: from number required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultCallTimeout}
	}
	policy := cfg.Policy
	if policy.MaxAttempts == 0 {
		policy = retry.Default()
	}
	maxSkew := cfg.MaxSkew
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &VoiceClient{
		apiKey:        cfg.APIKey,
		connectionID:  cfg.ConnectionID,
		fromNumber:    cfg.FromNumber,
		callbackURL:   cfg.CallbackURL,
		webhookSecret: cfg.WebhookSecret,
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    httpClient,
		policy:        policy,
		maxSkew:       maxSkew,
		logger:        logger.Component("telephony"),
	}, nil
}

// ClientState is round-tripped through the provider so webhooks can be
// correlated back to the attempt without a lookup by phone number.
type ClientState struct {
	AttemptID     string `json:"attempt_id"`
	AppointmentID string `json:"appointment_id"`
	AttemptNumber int    `json:"attempt_number"`
}

// EncodeClientState packs correlation state the way the provider expects.
func EncodeClientState(s ClientState) string {
	data, _ := json.Marshal(s)
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeClientState unpacks correlation state from a webhook payload.
func DecodeClientState(encoded string) (ClientState, error) {
	var s ClientState
	if encoded == "" {
		return s, nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return s, fmt.Errorf("telephony: decode client state: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("telephony: unmarshal client state: %w", err)
	}
	return s, nil
}

type placeCallRequest struct {
	To                string `json:"to"`
	From              string `json:"from"`
	ConnectionID      string `json:"connection_id"`
	WebhookURL        string `json:"webhook_url,omitempty"`
	ClientState       string `json:"client_state,omitempty"`
	AnsweringMachine  string `json:"answering_machine_detection,omitempty"`
	TimeLimitSecs     int    `json:"time_limit_secs,omitempty"`
	TimeoutSecs       int    `json:"timeout_secs,omitempty"`
	MachineDetectMode string `json:"answering_machine_detection_mode,omitempty"`
}

type placeCallResponse struct {
	Data struct {
		CallControlID string `json:"call_control_id"`
		CallLegID     string `json:"call_leg_id"`
		IsAlive       bool   `json:"is_alive"`
	} `json:"data"`
}

// PlaceCall dials the patient with answering machine detection enabled and
// returns the provider's call control ID.
func (c *VoiceClient) PlaceCall(ctx context.Context, req calls.DialRequest) (string, error) {
	if req.To == "" {
		return "", errors.New("telephony: to number required")
	}

	ctx, span := voiceTracer.Start(ctx, "telephony.place_call")
	defer span.End()
	span.SetAttributes(
		attribute.String("previsit.attempt_id", req.AttemptID),
		attribute.Int("previsit.attempt_number", req.AttemptNumber),
	)

	body, err := json.Marshal(placeCallRequest{
		To:               req.To,
		From:             c.fromNumber,
		ConnectionID:     c.connectionID,
		WebhookURL:       c.callbackURL,
		AnsweringMachine: "detect",
		TimeoutSecs:      30,
		ClientState: EncodeClientState(ClientState{
			AttemptID:     req.AttemptID,
			AttemptNumber: req.AttemptNumber,
		}),
	})
	if err != nil {
		return "", fmt.Errorf("telephony: marshal call request: %w", err)
	}

	c.logger.Info("placing outbound call",
		"to", maskPhone(req.To),
		"attempt", req.AttemptNumber)

	var callControlID string
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		respBody, err := c.post(ctx, "/calls", body)
		if err != nil {
			return err
		}
		var resp placeCallResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return fmt.Errorf("telephony: decode call response: %w", err)
		}
		if resp.Data.CallControlID == "" {
			return errors.New("telephony: empty call control id")
		}
		callControlID = resp.Data.CallControlID
		return nil
	})
	if err != nil {
		return "", err
	}

	c.logger.Info("outbound call placed",
		"call_control_id", callControlID,
		"to", maskPhone(req.To))
	return callControlID, nil
}

// Hangup terminates an active call.
func (c *VoiceClient) Hangup(ctx context.Context, externalCallID string) error {
	ctx, span := voiceTracer.Start(ctx, "telephony.hangup")
	defer span.End()
	_, err := c.post(ctx, "/calls/"+externalCallID+"/actions/hangup", []byte("{}"))
	return err
}

// LeaveVoicemail speaks the message into the answering machine, then hangs up
// when playback ends (the provider sends a playback-ended webhook and
// terminates the leg).
func (c *VoiceClient) LeaveVoicemail(ctx context.Context, externalCallID, message string) error {
	ctx, span := voiceTracer.Start(ctx, "telephony.leave_voicemail")
	defer span.End()
	body, err := json.Marshal(struct {
		Payload string `json:"payload"`
		Voice   string `json:"voice"`
		Stop    string `json:"stop"`
	}{Payload: message, Voice: "female", Stop: "current"})
	if err != nil {
		return fmt.Errorf("telephony: marshal speak request: %w", err)
	}
	_, err = c.post(ctx, "/calls/"+externalCallID+"/actions/speak", body)
	return err
}

func (c *VoiceClient) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telephony: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("telephony: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("telephony: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("telephony: API returned %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// VerifyWebhookSignature checks the HMAC signature and timestamp skew of an
// inbound webhook.
func (c *VoiceClient) VerifyWebhookSignature(timestamp, signature string, payload []byte) error {
	if c.webhookSecret == "" {
		return errors.New("telephony: webhook secret not configured")
	}
	ts := strings.TrimSpace(timestamp)
	if ts == "" {
		return errors.New("telephony: missing signature timestamp")
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("telephony: invalid signature timestamp: %w", err)
	}
	sentAt := time.Unix(sec, 0)
	if diff := time.Since(sentAt); diff > c.maxSkew || diff < -c.maxSkew {
		return fmt.Errorf("telephony: signature timestamp skew %s exceeds limit", diff)
	}
	unsigned := ts + "." + string(payload)
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(unsigned))
	expected := hex.EncodeToString(mac.Sum(nil))
	actual := strings.ToLower(strings.TrimSpace(signature))
	if actual == "" {
		return errors.New("telephony: missing signature header")
	}
	if !hmac.Equal([]byte(expected), []byte(actual)) {
		return errors.New("telephony: signature mismatch")
	}
	return nil
}

// maskPhone returns the last 4 digits of a phone number for logging.
func maskPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if len(phone) <= 4 {
		return "****"
	}
	return "***" + phone[len(phone)-4:]
}
