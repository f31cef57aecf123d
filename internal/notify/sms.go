package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tshla/previsit-platform/internal/retry"
	"github.com/tshla/previsit-platform/pkg/logging"
)

const defaultSMSBaseURL = "https://api.telnyx.com/v2"

// SMSSender sends SMS messages to patients.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// TelnyxSMSConfig holds configuration for the Telnyx SMS sender.
type TelnyxSMSConfig struct {
	APIKey             string
	FromNumber         string
	MessagingProfileID string
	BaseURL            string
	Policy             retry.Policy
	HTTPClient         *http.Client
	Logger             *logging.Logger
}

// TelnyxSMSSender delivers SMS reminders through the Telnyx messaging API.
type TelnyxSMSSender struct {
	apiKey     string
	from       string
	profileID  string
	baseURL    string
	policy     retry.Policy
	httpClient *http.Client
	logger     *logging.Logger
}

// NewTelnyxSMSSender creates a configured sender.
func NewTelnyxSMSSender(cfg TelnyxSMSConfig) (*TelnyxSMSSender, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("notify: telnyx API key is required")
	}
	if strings.TrimSpace(cfg.FromNumber) == "" {
		return nil, fmt.Errorf("notify: telnyx from number is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultSMSBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	policy := cfg.Policy
	if policy.MaxAttempts == 0 {
		policy = retry.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &TelnyxSMSSender{
		apiKey:     cfg.APIKey,
		from:       cfg.FromNumber,
		profileID:  cfg.MessagingProfileID,
		baseURL:    baseURL,
		policy:     policy,
		httpClient: httpClient,
		logger:     logger.Component("telnyx-sms"),
	}, nil
}

type sendSMSRequest struct {
	From               string `json:"from"`
	To                 string `json:"to"`
	Text               string `json:"text"`
	MessagingProfileID string `json:"messaging_profile_id,omitempty"`
}

// SendSMS posts a message send request, retrying transient failures.
func (s *TelnyxSMSSender) SendSMS(ctx context.Context, to, body string) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("notify: sms recipient is required")
	}
	payload, err := json.Marshal(sendSMSRequest{
		From:               s.from,
		To:                 to,
		Text:               body,
		MessagingProfileID: s.profileID,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal sms request: %w", err)
	}
	err = s.policy.Do(ctx, func(ctx context.Context) error {
		return s.post(ctx, "/messages", payload)
	})
	if err != nil {
		s.logger.Error("sms send failed", "error", err, "to", maskPhone(to))
		return fmt.Errorf("notify: sms send: %w", err)
	}
	s.logger.Info("sms sent", "to", maskPhone(to))
	return nil
}

func (s *TelnyxSMSSender) post(ctx context.Context, path string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("telnyx status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// maskPhone keeps only the last 4 digits for logs.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}
