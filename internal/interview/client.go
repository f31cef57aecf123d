// Package interview wraps the conversational-AI collaborator that conducts
// the live pre-visit interview on a bridged call.
package interview

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tshla/previsit-platform/internal/retry"
	"github.com/tshla/previsit-platform/pkg/logging"
)

// ClientConfig configures the interview agent client.
type ClientConfig struct {
	APIKey        string
	AgentID       string
	BaseURL       string
	WebhookSecret string
	MaxSkew       time.Duration
	Policy        retry.Policy
	HTTPClient    *http.Client
	Logger        *logging.Logger
}

// Client starts interview conversations and verifies completion webhooks.
type Client struct {
	apiKey        string
	agentID       string
	baseURL       string
	webhookSecret string
	maxSkew       time.Duration
	policy        retry.Policy
	httpClient    *http.Client
	logger        *logging.Logger
}

// NewClient creates a configured interview client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("interview: API key is required")
	}
	if strings.TrimSpace(cfg.AgentID) == "" {
		return nil, errors.New("interview: agent id is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("interview: base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
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
	return &Client{
		apiKey:        cfg.APIKey,
		agentID:       cfg.AgentID,
		baseURL:       baseURL,
		webhookSecret: cfg.WebhookSecret,
		maxSkew:       maxSkew,
		policy:        policy,
		httpClient:    httpClient,
		logger:        logger.Component("interview"),
	}, nil
}

// StartRequest carries the agent context for one conversation. The agent
// greets the patient by name and frames questions around the appointment.
type StartRequest struct {
	ExternalCallID  string
	AgentContext    string
	PatientName     string
	AppointmentDate string
	AppointmentTime string
	ProviderName    string
}

type startConversationBody struct {
	AgentID         string `json:"agent_id"`
	CallControlID   string `json:"call_control_id"`
	AgentContext    string `json:"agent_context"`
	PatientName     string `json:"patient_name"`
	AppointmentDate string `json:"appointment_date"`
	AppointmentTime string `json:"appointment_time"`
	ProviderName    string `json:"provider_name"`
}

type startConversationResponse struct {
	Data struct {
		ConversationID string `json:"conversation_id"`
	} `json:"data"`
}

// StartConversation bridges an answered call to the interview agent and
// returns the collaborator's conversation id.
func (c *Client) StartConversation(ctx context.Context, req StartRequest) (string, error) {
	if strings.TrimSpace(req.ExternalCallID) == "" {
		return "", errors.New("interview: external call id is required")
	}
	payload, err := json.Marshal(startConversationBody{
		AgentID:         c.agentID,
		CallControlID:   req.ExternalCallID,
		AgentContext:    req.AgentContext,
		PatientName:     req.PatientName,
		AppointmentDate: req.AppointmentDate,
		AppointmentTime: req.AppointmentTime,
		ProviderName:    req.ProviderName,
	})
	if err != nil {
		return "", fmt.Errorf("interview: marshal start request: %w", err)
	}

	var conversationID string
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		body, err := c.post(ctx, "/conversations", payload)
		if err != nil {
			return err
		}
		var resp startConversationResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if resp.Data.ConversationID == "" {
			return errors.New("response missing conversation id")
		}
		conversationID = resp.Data.ConversationID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("interview: start conversation: %w", err)
	}
	c.logger.Info("conversation started",
		"conversation_id", conversationID, "external_call_id", req.ExternalCallID)
	return conversationID, nil
}

// EndConversation asks the agent to wrap up, used on urgent interrupts.
func (c *Client) EndConversation(ctx context.Context, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("interview: conversation id is required")
	}
	_, err := c.post(ctx, "/conversations/"+conversationID+"/end", []byte("{}"))
	if err != nil {
		return fmt.Errorf("interview: end conversation: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("agent status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// VerifyWebhookSignature checks the HMAC signature and timestamp skew of an
// inbound completion webhook.
func (c *Client) VerifyWebhookSignature(timestamp, signature string, payload []byte) error {
	if c.webhookSecret == "" {
		return errors.New("interview: webhook secret not configured")
	}
	ts := strings.TrimSpace(timestamp)
	if ts == "" {
		return errors.New("interview: missing signature timestamp")
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("interview: invalid signature timestamp: %w", err)
	}
	sentAt := time.Unix(sec, 0)
	if diff := time.Since(sentAt); diff > c.maxSkew || diff < -c.maxSkew {
		return fmt.Errorf("interview: signature timestamp skew %s exceeds limit", diff)
	}
	unsigned := ts + "." + string(payload)
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(unsigned))
	expected := hex.EncodeToString(mac.Sum(nil))
	actual := strings.ToLower(strings.TrimSpace(signature))
	if actual == "" {
		return errors.New("interview: missing signature header")
	}
	if !hmac.Equal([]byte(expected), []byte(actual)) {
		return errors.New("interview: signature mismatch")
	}
	return nil
}
